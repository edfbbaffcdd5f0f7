package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facepic/internal/config"
	"github.com/kozaktomas/facepic/internal/maintenance"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete the entire catalogue",
	Long: `Truncate every collection, wipe the thumbnail and upload directories
and delete the progress log. The files in the import directory are not
touched. This cannot be undone.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().Bool("force", false, "Skip confirmation prompt")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	force := mustGetBool(cmd, "force")

	cfg := config.Load()
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	images, err := store.CountImages(ctx)
	if err != nil {
		return err
	}
	persons, err := store.CountPersons(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Catalogue: %d image(s), %d person(s)\n", images, persons)

	if !force && !confirmAction("\nDelete the entire catalogue? This cannot be undone. [y/N]: ") {
		fmt.Println("Cancelled.")
		return nil
	}

	runner := maintenance.New(store, cfg, nil)
	if err := runner.Cleanup(ctx); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Println("Done! Catalogue deleted.")
	return nil
}
