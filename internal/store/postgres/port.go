package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/kennelerr"
)

// AllocatePort claims the lowest free port in [min, max] for a deployment.
//
// Candidate selection and insertion happen inside one transaction; a unique
// violation on port means a concurrent allocator won the same candidate, so
// the caller's retry loop tries again rather than looping here, keeping each
// attempt's lock window short.
func (s *Store) AllocatePort(ctx context.Context, min, max int, deploymentID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	const findFree = `SELECT gs.port FROM generate_series($1::int, $2::int) AS gs(port)
		WHERE NOT EXISTS (SELECT 1 FROM port_allocations pa WHERE pa.port = gs.port)
		ORDER BY gs.port LIMIT 1`
	var port int
	if err := tx.QueryRow(ctx, findFree, min, max).Scan(&port); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, kennelerr.ErrResourceExhausted
		}
		return 0, err
	}

	const insert = `INSERT INTO port_allocations (port, deployment_id, created_at) VALUES ($1, $2, now())`
	if _, err := tx.Exec(ctx, insert, port, deploymentID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, kennelerr.ErrConflict
		}
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return port, nil
}

// ReleasePort frees a previously allocated port.
func (s *Store) ReleasePort(ctx context.Context, port int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM port_allocations WHERE port = $1`, port)
	return err
}

// ListPorts returns every currently allocated port.
func (s *Store) ListPorts(ctx context.Context) ([]domain.PortAllocation, error) {
	const query = `SELECT port, deployment_id, created_at FROM port_allocations ORDER BY port`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ports := make([]domain.PortAllocation, 0)
	for rows.Next() {
		var p domain.PortAllocation
		if err := rows.Scan(&p.Port, &p.DeploymentID, &p.CreatedAt); err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}
