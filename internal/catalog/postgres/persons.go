package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/facepic/internal/catalog"
)

const personColumns = `id, name, created_at, updated_at, representative_face_id, best_face_score`

func (s *Store) InsertPerson(ctx context.Context, p *catalog.Person) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persons (`+personColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.CreatedAt, p.UpdatedAt, p.RepresentativeFaceID, p.BestFaceScore)
	if err != nil {
		return fmt.Errorf("inserting person: %w", err)
	}
	return nil
}

func (s *Store) GetPerson(ctx context.Context, id string) (*catalog.Person, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id = $1`, id)
	return scanPerson(row)
}

func (s *Store) DeletePerson(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM persons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting person: %w", err)
	}
	return requireRow(res, "person")
}

func (s *Store) DeleteAllPersons(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM persons`); err != nil {
		return fmt.Errorf("deleting persons: %w", err)
	}
	return nil
}

func (s *Store) UpdatePersonName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE persons SET name = $2, updated_at = NOW() WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("updating person name: %w", err)
	}
	return requireRow(res, "person")
}

func (s *Store) UpdatePersonRepresentative(ctx context.Context, id, faceID string, bestScore float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE persons
		SET representative_face_id = $2, best_face_score = $3, updated_at = NOW()
		WHERE id = $1
	`, id, faceID, bestScore)
	if err != nil {
		return fmt.Errorf("updating person representative: %w", err)
	}
	return requireRow(res, "person")
}

func (s *Store) ListPersons(ctx context.Context, limit, offset int) ([]catalog.Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+personColumns+` FROM persons
		ORDER BY created_at, id LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing persons: %w", err)
	}
	return collectPersons(rows)
}

func (s *Store) AllPersons(ctx context.Context) ([]catalog.Person, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personColumns+` FROM persons ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing persons: %w", err)
	}
	return collectPersons(rows)
}

func (s *Store) CountPersons(ctx context.Context) (int, error) {
	return s.countRows(ctx, "persons")
}

func scanPerson(row rowScanner) (*catalog.Person, error) {
	var p catalog.Person
	err := row.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt,
		&p.RepresentativeFaceID, &p.BestFaceScore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning person: %w", err)
	}
	return &p, nil
}

func collectPersons(rows *sql.Rows) ([]catalog.Person, error) {
	defer rows.Close()
	var persons []catalog.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating persons: %w", err)
	}
	return persons, nil
}
