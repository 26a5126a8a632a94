package main

import (
	"github.com/spf13/cobra"

	"dossier/internal/platform/postgres"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			db, err := postgres.Open(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer db.Close()

			if down, _ := cmd.Flags().GetBool("down"); down {
				if err := postgres.MigrateDown(db); err != nil {
					return err
				}
				log.Info("migrations rolled back")
				return nil
			}
			version, err := postgres.Migrate(db)
			if err != nil {
				return err
			}
			log.Info("migrations applied", "version", version)
			return nil
		},
	}
	cmd.Flags().Bool("down", false, "Roll every migration back.")
	return cmd
}
