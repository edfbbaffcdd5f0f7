package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facepic/internal/blob"
	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/cluster"
	"github.com/kozaktomas/facepic/internal/config"
	"github.com/kozaktomas/facepic/internal/detector"
	"github.com/kozaktomas/facepic/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest new photos from the import directory",
	Long: `Walk the import directory, detect faces in every new image, cluster
them into persons and write thumbnails. Files already recorded in the
progress log are skipped, so interrupted runs resume where they left
off.

With --upload-only no new files are processed; instead every image that
has not reached blob storage yet is uploaded.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Bool("disable-upload", false, "Do not upload originals and thumbnails to blob storage")
	ingestCmd.Flags().Bool("upload-only", false, "Only upload images that are not in blob storage yet")
}

func runIngest(cmd *cobra.Command, args []string) error {
	disableUpload := mustGetBool(cmd, "disable-upload")
	uploadOnly := mustGetBool(cmd, "upload-only")

	cfg := config.Load()
	if err := cfg.SetupDirectories(); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var sink blob.Sink
	if !disableUpload {
		if sink, err = openSink(cfg); err != nil {
			return err
		}
	}
	if uploadOnly && sink == nil {
		return errors.New("--upload-only needs blob storage credentials")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := cluster.NewEngine(ctx, store, cfg.Clustering, cfg.Paths.FaceThumbDir(), sink)
	if err != nil {
		return fmt.Errorf("loading clustering state: %w", err)
	}

	det := detector.NewClient(cfg.Detector.URL)
	worker := ingest.NewWorker(store, det, engine, sink, cfg)
	log := catalog.NewProgressLog(cfg.Paths.ProcessedLogFile)
	scheduler := ingest.NewScheduler(store, worker, log, cfg)

	var summary *ingest.Summary
	if uploadOnly {
		summary, err = scheduler.UploadPending(ctx)
	} else {
		summary, err = scheduler.Run(ctx)
	}
	printSummary(summary)
	if err != nil {
		return err
	}

	if !uploadOnly && summary.Succeeded > 0 {
		// The ivfflat index only helps once there is data to index.
		if err := store.CreateFaceVectorIndex(context.Background()); err != nil {
			fmt.Printf("Warning: failed to create face vector index: %v\n", err)
		}
	}
	return nil
}

func printSummary(summary *ingest.Summary) {
	if summary == nil {
		return
	}
	fmt.Printf("\nQueued: %d  Skipped: %d  Succeeded: %d  Failed: %d\n",
		summary.Queued, summary.Skipped, summary.Succeeded, summary.Failed)
	for _, msg := range summary.LastErrors {
		fmt.Printf("  error: %s\n", msg)
	}
}
