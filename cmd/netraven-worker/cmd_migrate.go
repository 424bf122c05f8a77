package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netraven-io/netraven-core/pkg/config"
	"github.com/netraven-io/netraven-core/pkg/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			setLogLevel()

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("%w: loading config: %v", errInfraError, err)
			}

			db, err := store.Open(cfg.StoreConfig())
			if err != nil {
				return fmt.Errorf("%w: opening database: %v", errInfraError, err)
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return fmt.Errorf("%w: applying migrations: %v", errInfraError, err)
			}
			return nil
		},
	}
}
