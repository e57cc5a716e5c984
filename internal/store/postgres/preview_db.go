package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/kennelerr"
)

// AllocatePreviewDatabase claims the lowest free slot in [0, slots) across every
// live row, not just this project's — the in-memory-store pool is a single
// global set of database indexes shared by all projects and branches.
// Returns kennelerr.ErrConflict on any unique violation: the (project, branch)
// pair already holds a slot, or another allocation took the slot or name first.
func (s *Store) AllocatePreviewDatabase(ctx context.Context, project, branch, name string, slots int) (*domain.PreviewDatabase, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const findFree = `SELECT gs.slot FROM generate_series(0, $1::int - 1) AS gs(slot)
		WHERE NOT EXISTS (SELECT 1 FROM preview_databases pd WHERE pd.slot = gs.slot)
		ORDER BY gs.slot LIMIT 1`
	var slot int
	if err := tx.QueryRow(ctx, findFree, slots).Scan(&slot); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kennelerr.ErrResourceExhausted
		}
		return nil, err
	}

	const insert = `INSERT INTO preview_databases (name, project, branch, slot, created_at) VALUES ($1, $2, $3, $4, now())`
	if _, err := tx.Exec(ctx, insert, name, project, branch, slot); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, kennelerr.ErrConflict
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.PreviewDatabase{Name: name, Project: project, Branch: branch, Slot: slot}, nil
}

// GetPreviewDatabase returns the preview database slot assigned to (project, branch), if any.
func (s *Store) GetPreviewDatabase(ctx context.Context, project, branch string) (*domain.PreviewDatabase, error) {
	const query = `SELECT name, project, branch, slot, created_at FROM preview_databases WHERE project = $1 AND branch = $2`
	row := s.pool.QueryRow(ctx, query, project, branch)
	var pd domain.PreviewDatabase
	if err := row.Scan(&pd.Name, &pd.Project, &pd.Branch, &pd.Slot, &pd.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kennelerr.ErrNotFound
		}
		return nil, err
	}
	return &pd, nil
}

// ReleasePreviewDatabase frees the slot held by (project, branch).
func (s *Store) ReleasePreviewDatabase(ctx context.Context, project, branch string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM preview_databases WHERE project = $1 AND branch = $2`, project, branch)
	return err
}

// ListPreviewDatabases returns every allocated preview database slot.
func (s *Store) ListPreviewDatabases(ctx context.Context) ([]domain.PreviewDatabase, error) {
	const query = `SELECT name, project, branch, slot, created_at FROM preview_databases ORDER BY project, slot`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dbs := make([]domain.PreviewDatabase, 0)
	for rows.Next() {
		var pd domain.PreviewDatabase
		if err := rows.Scan(&pd.Name, &pd.Project, &pd.Branch, &pd.Slot, &pd.CreatedAt); err != nil {
			return nil, err
		}
		dbs = append(dbs, pd)
	}
	return dbs, rows.Err()
}
