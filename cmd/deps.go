package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kozaktomas/facepic/internal/blob"
	"github.com/kozaktomas/facepic/internal/catalog/postgres"
	"github.com/kozaktomas/facepic/internal/config"
)

// openStore connects to PostgreSQL and runs the migrations.
func openStore(cfg *config.Config) (*postgres.Store, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Println("Connecting to PostgreSQL database...")
	store, err := postgres.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

// openSink builds the blob sink when credentials are configured.
// Returns nil without error otherwise; blob storage is optional.
func openSink(cfg *config.Config) (blob.Sink, error) {
	if !cfg.Blob.Configured() {
		return nil, nil
	}
	r2, err := blob.NewR2(&cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("connecting to blob storage: %w", err)
	}
	fmt.Println("Blob storage enabled (R2)")
	return r2, nil
}

func confirmAction(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
