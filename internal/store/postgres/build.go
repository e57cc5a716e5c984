package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/kennelerr"
)

// CreateBuild inserts a queued build.
func (s *Store) CreateBuild(ctx context.Context, build *domain.Build) error {
	const query = `INSERT INTO builds (id, project, git_ref, commit_sha, status, trigger_kind, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query, build.ID, build.Project, build.GitRef, build.CommitSHA,
		build.Status, build.TriggerKind, build.TriggeredBy, build.CreatedAt)
	return err
}

// GetBuildByRef finds an existing build for the same (project, ref, commit), used for idempotent webhook retries.
func (s *Store) GetBuildByRef(ctx context.Context, project, gitRef, commitSHA string) (*domain.Build, error) {
	const query = `SELECT id, project, git_ref, commit_sha, status, trigger_kind, triggered_by, created_at, started_at, finished_at
		FROM builds WHERE project = $1 AND git_ref = $2 AND commit_sha = $3
		ORDER BY created_at DESC LIMIT 1`
	return scanBuild(s.pool.QueryRow(ctx, query, project, gitRef, commitSHA))
}

// GetBuild fetches a build by id.
func (s *Store) GetBuild(ctx context.Context, id string) (*domain.Build, error) {
	const query = `SELECT id, project, git_ref, commit_sha, status, trigger_kind, triggered_by, created_at, started_at, finished_at
		FROM builds WHERE id = $1`
	return scanBuild(s.pool.QueryRow(ctx, query, id))
}

func scanBuild(row pgx.Row) (*domain.Build, error) {
	var b domain.Build
	if err := row.Scan(&b.ID, &b.Project, &b.GitRef, &b.CommitSHA, &b.Status, &b.TriggerKind,
		&b.TriggeredBy, &b.CreatedAt, &b.StartedAt, &b.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kennelerr.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// UpdateBuildStatus transitions a build's status and timestamps.
func (s *Store) UpdateBuildStatus(ctx context.Context, id string, status domain.BuildStatus, startedAt, finishedAt *time.Time) error {
	const query = `UPDATE builds SET status = $2, started_at = COALESCE($3, started_at), finished_at = COALESCE($4, finished_at) WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, status, startedAt, finishedAt)
	return err
}

// ListBuildsByProject returns the most recent builds for a project.
func (s *Store) ListBuildsByProject(ctx context.Context, project string, limit int) ([]domain.Build, error) {
	const query = `SELECT id, project, git_ref, commit_sha, status, trigger_kind, triggered_by, created_at, started_at, finished_at
		FROM builds WHERE project = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, project, limit)
	if err != nil {
		return nil, err
	}
	return scanBuilds(rows)
}

// ListBuildsOlderThan returns finished builds created before cutoff, for log retention sweeps.
func (s *Store) ListBuildsOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Build, error) {
	const query = `SELECT id, project, git_ref, commit_sha, status, trigger_kind, triggered_by, created_at, started_at, finished_at
		FROM builds WHERE created_at < $1 AND status IN ('success', 'failed', 'cancelled')`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	return scanBuilds(rows)
}

// ListStuckBuilds returns builds left in a non-terminal state, used by startup reconciliation.
func (s *Store) ListStuckBuilds(ctx context.Context) ([]domain.Build, error) {
	const query = `SELECT id, project, git_ref, commit_sha, status, trigger_kind, triggered_by, created_at, started_at, finished_at
		FROM builds WHERE status IN ('queued', 'building')`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanBuilds(rows)
}

func scanBuilds(rows pgx.Rows) ([]domain.Build, error) {
	defer rows.Close()
	builds := make([]domain.Build, 0)
	for rows.Next() {
		var b domain.Build
		if err := rows.Scan(&b.ID, &b.Project, &b.GitRef, &b.CommitSHA, &b.Status, &b.TriggerKind,
			&b.TriggeredBy, &b.CreatedAt, &b.StartedAt, &b.FinishedAt); err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// DeleteBuild removes a build and cascades to its results.
func (s *Store) DeleteBuild(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM builds WHERE id = $1`, id)
	return err
}

// CreateBuildResult inserts a per-service build result row.
func (s *Store) CreateBuildResult(ctx context.Context, result *domain.BuildResult) error {
	const query = `INSERT INTO build_results (id, build_id, service_name, status, store_path, changed, log_path, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, query, result.ID, result.BuildID, result.ServiceName, result.Status,
		result.StorePath, result.Changed, result.LogPath, result.Error, result.StartedAt, result.FinishedAt)
	return err
}

// UpdateBuildResult persists the outcome of one service's build.
func (s *Store) UpdateBuildResult(ctx context.Context, result *domain.BuildResult) error {
	const query = `UPDATE build_results SET status = $2, store_path = $3, changed = $4, log_path = $5, error = $6, started_at = $7, finished_at = $8
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, result.ID, result.Status, result.StorePath, result.Changed,
		result.LogPath, result.Error, result.StartedAt, result.FinishedAt)
	return err
}

// ListBuildResults returns every per-service result for a build.
func (s *Store) ListBuildResults(ctx context.Context, buildID string) ([]domain.BuildResult, error) {
	const query = `SELECT id, build_id, service_name, status, store_path, changed, log_path, error, started_at, finished_at
		FROM build_results WHERE build_id = $1 ORDER BY service_name`
	rows, err := s.pool.Query(ctx, query, buildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.BuildResult, 0)
	for rows.Next() {
		var r domain.BuildResult
		if err := rows.Scan(&r.ID, &r.BuildID, &r.ServiceName, &r.Status, &r.StorePath, &r.Changed,
			&r.LogPath, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecentSuccessfulResults returns the last N successful builds of a service on a ref, newest first,
// used to detect an unchanged store path across consecutive commits.
func (s *Store) RecentSuccessfulResults(ctx context.Context, project, gitRef, service string, limit int) ([]domain.BuildResult, error) {
	const query = `SELECT br.id, br.build_id, br.service_name, br.status, br.store_path, br.changed, br.log_path, br.error, br.started_at, br.finished_at
		FROM build_results br
		INNER JOIN builds b ON b.id = br.build_id
		WHERE b.project = $1 AND b.git_ref = $2 AND br.service_name = $3 AND br.status = 'success'
		ORDER BY br.finished_at DESC LIMIT $4`
	rows, err := s.pool.Query(ctx, query, project, gitRef, service, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.BuildResult, 0)
	for rows.Next() {
		var r domain.BuildResult
		if err := rows.Scan(&r.ID, &r.BuildID, &r.ServiceName, &r.Status, &r.StorePath, &r.Changed,
			&r.LogPath, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
