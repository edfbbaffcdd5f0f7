package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facepic/internal/config"
	"github.com/kozaktomas/facepic/internal/maintenance"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Repair the catalogue",
	Long: `Run the catalogue repair passes: prune low-quality and orphaned
faces, merge persons that drifted apart during parallel ingestion and
optionally rebuild representative thumbnails with EXIF orientation
applied.`,
	RunE: runMaintenance,
}

func init() {
	rootCmd.AddCommand(maintenanceCmd)

	maintenanceCmd.Flags().Bool("skip-prune", false, "Skip the face pruning pass")
	maintenanceCmd.Flags().Bool("skip-merge", false, "Skip the duplicate person merge pass")
	maintenanceCmd.Flags().Bool("fix-orientation", false, "Rebuild representative thumbnails from the originals")
	maintenanceCmd.Flags().Float64("tolerance", 0, "Merge tolerance override (0 uses the configured value)")
}

func runMaintenance(cmd *cobra.Command, args []string) error {
	skipPrune := mustGetBool(cmd, "skip-prune")
	skipMerge := mustGetBool(cmd, "skip-merge")
	fixOrientation := mustGetBool(cmd, "fix-orientation")
	tolerance := mustGetFloat64(cmd, "tolerance")

	cfg := config.Load()
	if err := cfg.SetupDirectories(); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, err := openSink(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := maintenance.New(store, cfg, sink)

	if !skipPrune {
		fmt.Println("Pruning faces...")
		res, err := runner.Prune(ctx)
		if err != nil {
			return fmt.Errorf("pruning: %w", err)
		}
		fmt.Printf("Deleted %d face(s) and %d emptied person(s)\n", res.FacesDeleted, res.PersonsDeleted)
	}

	if !skipMerge {
		fmt.Println("Merging duplicate persons...")
		merged, err := runner.MergeDuplicates(ctx, tolerance)
		if err != nil {
			return fmt.Errorf("merging duplicates: %w", err)
		}
		fmt.Printf("Merged %d duplicate person(s)\n", merged)
	}

	if fixOrientation {
		fmt.Println("Rebuilding representative thumbnails...")
		fixed, err := runner.FixOrientation(ctx)
		if err != nil {
			return fmt.Errorf("fixing orientation: %w", err)
		}
		fmt.Printf("Rebuilt thumbnails for %d person(s)\n", fixed)
	}
	return nil
}
