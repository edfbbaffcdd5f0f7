package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/kozaktomas/facepic/internal/catalog"
)

const folderColumns = `id, name, parent_id, path, created_at, updated_at`

// EnsureFolderPath upserts one folder document per component of relPath
// and returns the leaf folder id. The unique path index makes concurrent
// calls for overlapping prefixes converge on a single document.
func (s *Store) EnsureFolderPath(ctx context.Context, relPath string) (string, error) {
	relPath = path.Clean(strings.Trim(relPath, "/"))
	if relPath == "." || relPath == "" {
		return "", nil
	}

	parentID := ""
	current := ""
	for _, name := range strings.Split(relPath, "/") {
		if current == "" {
			current = "/" + name
		} else {
			current = current + "/" + name
		}

		id, err := s.ensureFolder(ctx, name, parentID, current)
		if err != nil {
			return "", err
		}
		parentID = id
	}
	return parentID, nil
}

func (s *Store) ensureFolder(ctx context.Context, name, parentID, folderPath string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM folders WHERE path = $1`, folderPath).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("looking up folder %s: %w", folderPath, err)
	}

	id = uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO folders (id, name, parent_id, path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (path) DO NOTHING
	`, id, name, parentID, folderPath)
	if err != nil {
		return "", fmt.Errorf("inserting folder %s: %w", folderPath, err)
	}

	// Another worker may have won the insert. Re-read the winner.
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM folders WHERE path = $1`, folderPath).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("re-reading folder %s: %w", folderPath, err)
	}
	return id, nil
}

func (s *Store) GetFolder(ctx context.Context, id string) (*catalog.Folder, error) {
	var f catalog.Folder
	err := s.db.QueryRowContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &f.ParentID, &f.Path, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning folder: %w", err)
	}
	return &f, nil
}

func (s *Store) ListFolders(ctx context.Context) ([]catalog.Folder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+folderColumns+` FROM folders ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	defer rows.Close()

	var folders []catalog.Folder
	for rows.Next() {
		var f catalog.Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.ParentID, &f.Path, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning folder: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating folders: %w", err)
	}
	return folders, nil
}

func (s *Store) CountFolders(ctx context.Context) (int, error) {
	return s.countRows(ctx, "folders")
}
