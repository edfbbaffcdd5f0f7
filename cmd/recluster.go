package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facepic/internal/cluster"
	"github.com/kozaktomas/facepic/internal/config"
)

var reclusterCmd = &cobra.Command{
	Use:   "recluster",
	Short: "Rebuild all person clusters from scratch",
	Long: `Drop every person and reassign all faces in a single sequential
pass. Useful after changing the match tolerance. Person labels are
lost; representative thumbnails are carried over where possible.`,
	RunE: runRecluster,
}

func init() {
	rootCmd.AddCommand(reclusterCmd)

	reclusterCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func runRecluster(cmd *cobra.Command, args []string) error {
	skipConfirm := mustGetBool(cmd, "yes")

	cfg := config.Load()
	if err := cfg.SetupDirectories(); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	persons, err := store.CountPersons(context.Background())
	if err != nil {
		return err
	}
	if !skipConfirm && !confirmAction(fmt.Sprintf(
		"\nDrop all %d person(s) and recluster every face? Labels will be lost. [y/N]: ", persons)) {
		fmt.Println("Cancelled.")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Reclustering...")
	res, err := cluster.Recluster(ctx, store, cfg.Clustering, cfg.Paths.FaceThumbDir())
	if err != nil {
		return fmt.Errorf("reclustering: %w", err)
	}
	fmt.Printf("Assigned %d face(s) to %d person(s), skipped %d undecodable encoding(s)\n",
		res.Faces, res.Persons, res.Skipped)
	return nil
}
