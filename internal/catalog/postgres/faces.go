package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/embedding"
)

const faceColumns = `id, image_id, person_id, bbox_top, bbox_right, bbox_bottom,
	bbox_left, encoding, thumbnail_path, created_at, metadata`

func (s *Store) InsertFace(ctx context.Context, f *catalog.Face) error {
	meta, err := json.Marshal(f.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling face metadata: %w", err)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	// The pgvector column is a query accelerator for 512-d embeddings.
	// The raw encoding bytes stay authoritative for every dimension.
	var vec any
	if v, err := embedding.Decode(f.Encoding); err == nil && v.Dim() == embedding.DimInsightFace {
		vec = pgvector.NewVector(v.Values)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO faces (`+faceColumns+`, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		f.ID, f.ImageID, f.PersonID, f.BBox.Top, f.BBox.Right, f.BBox.Bottom,
		f.BBox.Left, f.Encoding, f.ThumbnailPath, f.CreatedAt, meta, vec,
	)
	if err != nil {
		return fmt.Errorf("inserting face: %w", err)
	}
	return nil
}

func (s *Store) GetFace(ctx context.Context, id string) (*catalog.Face, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE id = $1`, id)
	return scanFace(row)
}

// DeleteFace removes the face and detaches it from its owning image.
func (s *Store) DeleteFace(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var imageID string
	err = tx.QueryRowContext(ctx, `SELECT image_id FROM faces WHERE id = $1`, id).Scan(&imageID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("face: %w", catalog.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("looking up face: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM faces WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting face: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE images SET faces = array_remove(faces, $2) WHERE id = $1`, imageID, id); err != nil {
		return fmt.Errorf("detaching face from image: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing face delete: %w", err)
	}
	return nil
}

func (s *Store) SetFaceThumbnail(ctx context.Context, id, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE faces SET thumbnail_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("setting face thumbnail: %w", err)
	}
	return requireRow(res, "face")
}

func (s *Store) UpdateFacePerson(ctx context.Context, id, personID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE faces SET person_id = $2 WHERE id = $1`, id, personID)
	if err != nil {
		return fmt.Errorf("updating face person: %w", err)
	}
	return requireRow(res, "face")
}

func (s *Store) FacesByImage(ctx context.Context, imageID string) ([]catalog.Face, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE image_id = $1 ORDER BY created_at, id`, imageID)
	if err != nil {
		return nil, fmt.Errorf("listing image faces: %w", err)
	}
	return collectFaces(rows)
}

func (s *Store) FacesByPerson(ctx context.Context, personID string) ([]catalog.Face, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE person_id = $1 ORDER BY created_at, id`, personID)
	if err != nil {
		return nil, fmt.Errorf("listing person faces: %w", err)
	}
	return collectFaces(rows)
}

func (s *Store) CountFacesByPerson(ctx context.Context, personID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM faces WHERE person_id = $1`, personID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting person faces: %w", err)
	}
	return n, nil
}

func (s *Store) AllFaces(ctx context.Context) ([]catalog.Face, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+faceColumns+` FROM faces ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing faces: %w", err)
	}
	return collectFaces(rows)
}

func (s *Store) MoveFaces(ctx context.Context, fromPersonID, toPersonID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE faces SET person_id = $2 WHERE person_id = $1`, fromPersonID, toPersonID)
	if err != nil {
		return 0, fmt.Errorf("moving faces: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking moved rows: %w", err)
	}
	return int(n), nil
}

func (s *Store) SetFaceThumbnailsByPerson(ctx context.Context, personID, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE faces SET thumbnail_path = $2 WHERE person_id = $1`, personID, path)
	if err != nil {
		return fmt.Errorf("setting person face thumbnails: %w", err)
	}
	return nil
}

func (s *Store) ClearFacePersons(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE faces SET person_id = ''`); err != nil {
		return fmt.Errorf("clearing face persons: %w", err)
	}
	return nil
}

// FindSimilarFaces runs a cosine nearest-neighbour query over the
// pgvector column. Only 512-d faces participate.
func (s *Store) FindSimilarFaces(ctx context.Context, emb []float32, limit int) ([]catalog.Face, []float64, error) {
	if len(emb) != embedding.DimInsightFace {
		return nil, nil, fmt.Errorf("similarity query requires %d dimensions, got %d",
			embedding.DimInsightFace, len(emb))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+faceColumns+`, embedding <=> $1 AS distance
		FROM faces
		WHERE embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2
	`, pgvector.NewVector(emb), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("querying similar faces: %w", err)
	}
	defer rows.Close()

	var faces []catalog.Face
	var distances []float64
	for rows.Next() {
		var f catalog.Face
		var meta []byte
		var dist float64
		err := rows.Scan(
			&f.ID, &f.ImageID, &f.PersonID, &f.BBox.Top, &f.BBox.Right, &f.BBox.Bottom,
			&f.BBox.Left, &f.Encoding, &f.ThumbnailPath, &f.CreatedAt, &meta, &dist,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning similar face: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &f.Metadata); err != nil {
				return nil, nil, fmt.Errorf("unmarshaling face metadata: %w", err)
			}
		}
		faces = append(faces, f)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating similar faces: %w", err)
	}
	return faces, distances, nil
}

func (s *Store) CountFaces(ctx context.Context) (int, error) {
	return s.countRows(ctx, "faces")
}

func scanFace(row rowScanner) (*catalog.Face, error) {
	var f catalog.Face
	var meta []byte
	err := row.Scan(
		&f.ID, &f.ImageID, &f.PersonID, &f.BBox.Top, &f.BBox.Right, &f.BBox.Bottom,
		&f.BBox.Left, &f.Encoding, &f.ThumbnailPath, &f.CreatedAt, &meta,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning face: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &f.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling face metadata: %w", err)
		}
	}
	return &f, nil
}

func collectFaces(rows *sql.Rows) ([]catalog.Face, error) {
	defer rows.Close()
	var faces []catalog.Face
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, err
		}
		faces = append(faces, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating faces: %w", err)
	}
	return faces, nil
}
