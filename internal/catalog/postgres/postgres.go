// Package postgres implements the catalog.Store interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kozaktomas/facepic/internal/config"
)

// Store is the PostgreSQL-backed catalogue. Individual statements are
// atomic; multi-document consistency is not assumed by callers.
type Store struct {
	db *sql.DB
}

// New opens a connection pool and verifies it.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

// Migrate creates the four collections, their indices and the pgvector
// extension used for 512-d face similarity queries.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS images (
			id                TEXT PRIMARY KEY,
			filename          TEXT NOT NULL,
			original_filename TEXT NOT NULL,
			filepath          TEXT NOT NULL,
			thumbnail_path    TEXT NOT NULL DEFAULT '',
			width             INTEGER NOT NULL DEFAULT 0,
			height            INTEGER NOT NULL DEFAULT 0,
			file_size         BIGINT NOT NULL DEFAULT 0,
			mime_type         TEXT NOT NULL DEFAULT '',
			uploaded_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed         TEXT NOT NULL DEFAULT 'pending',
			is_uploaded       BOOLEAN NOT NULL DEFAULT FALSE,
			relative_path     TEXT NOT NULL DEFAULT '',
			processed_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			metadata          JSONB NOT NULL DEFAULT '{}',
			folder_id         TEXT NOT NULL DEFAULT '',
			faces             TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS images_processed_idx ON images(processed)`,
		`CREATE INDEX IF NOT EXISTS images_uploaded_at_idx ON images(uploaded_at)`,
		`CREATE INDEX IF NOT EXISTS images_relative_path_idx ON images(relative_path)`,
		`CREATE INDEX IF NOT EXISTS images_folder_id_idx ON images(folder_id)`,

		`CREATE TABLE IF NOT EXISTS faces (
			id             TEXT PRIMARY KEY,
			image_id       TEXT NOT NULL,
			person_id      TEXT NOT NULL DEFAULT '',
			bbox_top       INTEGER NOT NULL,
			bbox_right     INTEGER NOT NULL,
			bbox_bottom    INTEGER NOT NULL,
			bbox_left      INTEGER NOT NULL,
			encoding       BYTEA,
			embedding      vector(512),
			thumbnail_path TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			metadata       JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS faces_image_id_idx ON faces(image_id)`,
		`CREATE INDEX IF NOT EXISTS faces_person_id_idx ON faces(person_id)`,

		`CREATE TABLE IF NOT EXISTS persons (
			id                     TEXT PRIMARY KEY,
			name                   TEXT NOT NULL DEFAULT '',
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			representative_face_id TEXT NOT NULL DEFAULT '',
			best_face_score        DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS persons_name_idx ON persons(name)`,
		`CREATE INDEX IF NOT EXISTS persons_created_at_idx ON persons(created_at)`,

		`CREATE TABLE IF NOT EXISTS folders (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			parent_id  TEXT NOT NULL DEFAULT '',
			path       TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}

// CreateFaceVectorIndex creates the IVFFlat index for face similarity
// search. Called after the table has data for optimal list selection.
func (s *Store) CreateFaceVectorIndex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS faces_embedding_idx
		ON faces USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("creating face vector index: %w", err)
	}
	return nil
}

// TruncateAll empties every collection. Used by cleanup only.
func (s *Store) TruncateAll(ctx context.Context) error {
	for _, table := range []string{"faces", "images", "persons", "folders"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("truncating %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) countRows(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}
