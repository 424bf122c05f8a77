package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/netraven-io/netraven-core/pkg/config"
	"github.com/netraven-io/netraven-core/pkg/queue/redisqueue"
	"github.com/netraven-io/netraven-core/pkg/scheduler"
	"github.com/netraven-io/netraven-core/pkg/store"
)

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <job-id>",
		Short: "Enqueue one job immediately, bypassing its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setLogLevel()

			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("%w: loading config: %v", errInfraError, err)
			}

			db, err := store.Open(cfg.StoreConfig())
			if err != nil {
				return fmt.Errorf("%w: opening database: %v", errInfraError, err)
			}
			defer db.Close()

			queueClient := redisqueue.New(cfg.RedisAddr(), cfg.Redis.DB)
			ctx := cmd.Context()
			if err := queueClient.Connect(ctx); err != nil {
				return fmt.Errorf("%w: connecting to queue: %v", errInfraError, err)
			}
			defer queueClient.Close()

			sched, err := scheduler.New(db, queueClient, cfg.PollingInterval())
			if err != nil {
				return fmt.Errorf("%w: building scheduler: %v", errInfraError, err)
			}
			return sched.TriggerNow(ctx, jobID)
		},
	}
}
