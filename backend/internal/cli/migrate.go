package cli

import (
	"github.com/spf13/cobra"

	"github.com/picrelay/picrelay/backend/internal/storage/pg"
	"github.com/picrelay/picrelay/shared/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			db, err := pg.Connect(cmd.Context(), cfg.Private.Pg, pg.DefaultConnectionConfig())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := pg.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			logger.Log.Info("migrations applied")
			return nil
		},
	}
}
