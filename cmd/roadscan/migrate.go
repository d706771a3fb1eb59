package main

import (
	"github.com/spf13/cobra"

	"roadscan/internal/adapters/postgres"
	"roadscan/internal/config"
)

func migrateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the detection store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeStore, err := openStore(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer closeStore()

			if e.cfg.StoreDriver == config.DriverPostgres {
				version, err := s.(*postgres.DB).MigrationVersion(ctx)
				if err != nil {
					return err
				}
				e.log.Info("schema up to date", "version", version)
				return nil
			}
			e.log.Info("schema up to date")
			return nil
		},
	}
}
