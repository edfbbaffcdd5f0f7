package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kozaktomas/facepic/internal/catalog"
)

const imageColumns = `id, filename, original_filename, filepath, thumbnail_path,
	width, height, file_size, mime_type, uploaded_at, processed, is_uploaded,
	relative_path, processed_at, metadata, folder_id, faces`

func (s *Store) InsertImage(ctx context.Context, img *catalog.Image) error {
	meta, err := json.Marshal(img.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling image metadata: %w", err)
	}
	if img.UploadedAt.IsZero() {
		img.UploadedAt = time.Now().UTC()
	}
	if img.ProcessedAt.IsZero() {
		img.ProcessedAt = img.UploadedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO images (`+imageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		img.ID, img.Filename, img.OriginalFilename, img.FilePath, img.ThumbnailPath,
		img.Width, img.Height, img.FileSize, img.MimeType, img.UploadedAt,
		img.Processed, img.IsUploaded, img.RelativePath, img.ProcessedAt,
		meta, img.FolderID, pq.Array(img.Faces),
	)
	if err != nil {
		return fmt.Errorf("inserting image: %w", err)
	}
	return nil
}

func (s *Store) GetImage(ctx context.Context, id string) (*catalog.Image, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id)
	return scanImage(row)
}

func (s *Store) GetImageByRelPath(ctx context.Context, relPath string) (*catalog.Image, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE relative_path = $1 ORDER BY uploaded_at DESC LIMIT 1`,
		relPath)
	return scanImage(row)
}

func (s *Store) UpdateImageState(ctx context.Context, id, state string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE images SET processed = $2, processed_at = NOW() WHERE id = $1
	`, id, state)
	if err != nil {
		return fmt.Errorf("updating image state: %w", err)
	}
	return requireRow(res, "image")
}

func (s *Store) SetImageFaces(ctx context.Context, id string, faceIDs []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE images SET faces = $2 WHERE id = $1`, id, pq.Array(faceIDs))
	if err != nil {
		return fmt.Errorf("setting image faces: %w", err)
	}
	return requireRow(res, "image")
}

func (s *Store) RemoveImageFace(ctx context.Context, id, faceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE images SET faces = array_remove(faces, $2) WHERE id = $1`, id, faceID)
	if err != nil {
		return fmt.Errorf("removing image face: %w", err)
	}
	return nil
}

func (s *Store) MarkImageUploaded(ctx context.Context, id, filename, thumbnailPath string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE images SET is_uploaded = TRUE, filename = $2, thumbnail_path = $3 WHERE id = $1
	`, id, filename, thumbnailPath)
	if err != nil {
		return fmt.Errorf("marking image uploaded: %w", err)
	}
	return requireRow(res, "image")
}

// DeleteImage removes the image and all of its faces.
func (s *Store) DeleteImage(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM faces WHERE image_id = $1`, id); err != nil {
		return fmt.Errorf("deleting image faces: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	if err := requireRow(res, "image"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing image delete: %w", err)
	}
	return nil
}

func (s *Store) ListImages(ctx context.Context, limit, offset int) ([]catalog.Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+imageColumns+` FROM images
		ORDER BY uploaded_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	return collectImages(rows)
}

func (s *Store) ImagesByFolder(ctx context.Context, folderID string) ([]catalog.Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+imageColumns+` FROM images WHERE folder_id = $1 ORDER BY uploaded_at DESC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("listing folder images: %w", err)
	}
	return collectImages(rows)
}

func (s *Store) ImagesPendingUpload(ctx context.Context) ([]catalog.Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+imageColumns+` FROM images WHERE is_uploaded = FALSE ORDER BY uploaded_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing pending uploads: %w", err)
	}
	return collectImages(rows)
}

func (s *Store) CountImages(ctx context.Context) (int, error) {
	return s.countRows(ctx, "images")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*catalog.Image, error) {
	var img catalog.Image
	var meta []byte
	err := row.Scan(
		&img.ID, &img.Filename, &img.OriginalFilename, &img.FilePath, &img.ThumbnailPath,
		&img.Width, &img.Height, &img.FileSize, &img.MimeType, &img.UploadedAt,
		&img.Processed, &img.IsUploaded, &img.RelativePath, &img.ProcessedAt,
		&meta, &img.FolderID, pq.Array(&img.Faces),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning image: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &img.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling image metadata: %w", err)
		}
	}
	return &img, nil
}

func collectImages(rows *sql.Rows) ([]catalog.Image, error) {
	defer rows.Close()
	var images []catalog.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating images: %w", err)
	}
	return images, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, catalog.ErrNotFound)
	}
	return nil
}
