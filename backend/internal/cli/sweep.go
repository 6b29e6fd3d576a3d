package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picrelay/picrelay/backend/internal/setup"
	"github.com/picrelay/picrelay/backend/internal/storage/fs"
	"github.com/picrelay/picrelay/backend/internal/storage/pg"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove unreferenced files from the staging directory once",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	storage, err := pg.New(cmd.Context(), cfg.Private.Pg)
	if err != nil {
		return err
	}
	defer storage.Cleanup()

	staging, err := fs.New(cfg.Public.StagingDir)
	if err != nil {
		return err
	}

	stats, err := setup.NewSweeper(cfg, storage, staging).Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanned: %d\n", stats.FilesScanned)
	fmt.Fprintf(out, "Orphaned: %d\n", stats.OrphanedFiles)
	fmt.Fprintf(out, "Deleted: %d\n", stats.FilesDeleted)
	fmt.Fprintf(out, "Duration: %dms\n", stats.DurationMs)
	for _, e := range stats.Errors {
		fmt.Fprintf(out, "Error: %s\n", e)
	}
	return nil
}
