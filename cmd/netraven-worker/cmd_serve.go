package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/netraven-io/netraven-core/pkg/config"
	"github.com/netraven-io/netraven-core/pkg/configstore"
	"github.com/netraven-io/netraven-core/pkg/credential"
	"github.com/netraven-io/netraven-core/pkg/dispatcher"
	"github.com/netraven-io/netraven-core/pkg/driver"
	"github.com/netraven-io/netraven-core/pkg/executor"
	"github.com/netraven-io/netraven-core/pkg/jobtype"
	"github.com/netraven-io/netraven-core/pkg/jobtype/configbackup"
	"github.com/netraven-io/netraven-core/pkg/jobtype/reachability"
	"github.com/netraven-io/netraven-core/pkg/logpipeline"
	"github.com/netraven-io/netraven-core/pkg/queue/redisqueue"
	"github.com/netraven-io/netraven-core/pkg/runner"
	"github.com/netraven-io/netraven-core/pkg/scheduler"
	"github.com/netraven-io/netraven-core/pkg/store"
	"github.com/netraven-io/netraven-core/pkg/util"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and job workers until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			setLogLevel()
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%w: loading config: %v", errInfraError, err)
	}
	if !verbose {
		if err := util.SetLogLevel(cfg.Logging.Level); err != nil {
			util.WithField("level", cfg.Logging.Level).Warn("netraven-worker: invalid logging.level, leaving the default")
		}
	}
	if cfg.Logging.Format == "json" {
		util.SetJSONFormat()
	}

	db, err := store.Open(cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("%w: opening database: %v", errInfraError, err)
	}
	defer db.Close()

	box, err := cfg.CredentialBox()
	if err != nil {
		return err
	}
	resolver := credential.New(db, box)
	configStore := configstore.New(db, db)
	drv := driver.New(cfg.DriverConfig())

	registry := jobtype.NewRegistry()
	if err := registry.Register("reachability", reachability.New()); err != nil {
		return err
	}
	if err := registry.Register("config_backup", configbackup.New(drv, configStore)); err != nil {
		return err
	}
	if err := registry.Load(ctx); err != nil {
		util.WithField("error", err).Warn("netraven-worker: one or more job types failed their load probe")
	}

	pipeline, closePipeline, err := buildLogPipeline(cfg, db)
	if err != nil {
		return fmt.Errorf("%w: building log pipeline: %v", errInfraError, err)
	}
	defer closePipeline()

	exec := executor.New(registry, resolver, db, pipeline, cfg.Worker.Redaction.Patterns)
	disp := dispatcher.New(exec, pipeline, cfg.DispatcherConfig())
	run := runner.New(db, resolver, disp.Dispatch, pipeline)

	queueClient := redisqueue.New(cfg.RedisAddr(), cfg.Redis.DB)
	if err := queueClient.Connect(ctx); err != nil {
		return fmt.Errorf("%w: connecting to queue: %v", errInfraError, err)
	}
	defer queueClient.Close()

	if moved, err := queueClient.RecoverInFlight(ctx); err != nil {
		util.WithField("error", err).Warn("netraven-worker: recovering in-flight deliveries failed")
	} else if moved > 0 {
		util.WithField("count", moved).Info("netraven-worker: recovered in-flight deliveries from a prior run")
	}

	sched, err := scheduler.New(db, queueClient, cfg.PollingInterval())
	if err != nil {
		return fmt.Errorf("%w: building scheduler: %v", errInfraError, err)
	}

	schedErrCh := make(chan error, 1)
	go func() { schedErrCh <- sched.Run(ctx) }()

	poolDone := make(chan struct{})
	go func() {
		runWorkerPool(ctx, cfg.Worker.QueueWorkers, queueClient, run)
		close(poolDone)
	}()

	<-ctx.Done()
	util.Logger.Info("netraven-worker: shutting down")
	<-poolDone
	return <-schedErrCh
}

// buildLogPipeline assembles the configured sinks into a Pipeline and
// returns a close function tearing all of them down together.
func buildLogPipeline(cfg *config.Config, db *store.DB) (*logpipeline.Pipeline, func(), error) {
	var sinks []logpipeline.Sink

	if cfg.Logging.Stdout.IsEnabled() {
		sinks = append(sinks, logpipeline.NewStdoutSink())
	}
	if cfg.Logging.File.Path != "" {
		fileSink, err := logpipeline.NewFileSink(cfg.Logging.File.Path, cfg.FileRotationConfig())
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fileSink)
	}
	if cfg.Logging.DB.IsEnabled() {
		sinks = append(sinks, logpipeline.NewDBSink(db))
	}
	if cfg.Logging.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Logging.Redis.Host, cfg.Logging.Redis.Port),
			Password: cfg.Logging.Redis.Password,
			DB:       cfg.Logging.Redis.DB,
		})
		sinks = append(sinks, logpipeline.NewChannelSink(client, cfg.Logging.Redis.ChannelPrefix))
	}

	pipeline := logpipeline.New(sinks...)
	return pipeline, func() { _ = pipeline.Close() }, nil
}
