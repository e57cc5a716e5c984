package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/kennelerr"
)

// UpsertPendingDeployment inserts a fresh pending deployment attempt for a
// (project, service, branch) target. Multiple non-active attempts may coexist
// with a currently active one during a blue-green cutover.
func (s *Store) UpsertPendingDeployment(ctx context.Context, d *domain.Deployment) (*domain.Deployment, error) {
	const query = `INSERT INTO deployments
			(id, project, service_name, branch, branch_slug, git_ref, commit_sha, status, dns_status, created_at, updated_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now(), now())
		RETURNING id, project, service_name, branch, branch_slug, git_ref, commit_sha, store_path, static_path, port,
			domain, health_url, status, dns_status, created_at, updated_at, last_activity, last_checked_at`
	return scanDeployment(s.pool.QueryRow(ctx, query, d.ID, d.Project, d.ServiceName, d.Branch, d.BranchSlug,
		d.GitRef, d.CommitSHA, d.Status, d.DNSStatus))
}

// GetActiveDeployment returns the deployment currently serving traffic for
// (project, service, branch), if any.
func (s *Store) GetActiveDeployment(ctx context.Context, project, service, branch string) (*domain.Deployment, error) {
	const query = `SELECT id, project, service_name, branch, branch_slug, git_ref, commit_sha, store_path, static_path, port,
			domain, health_url, status, dns_status, created_at, updated_at, last_activity, last_checked_at
		FROM deployments WHERE project = $1 AND service_name = $2 AND branch = $3 AND status = 'active'`
	return scanDeployment(s.pool.QueryRow(ctx, query, project, service, branch))
}

// ActivateDeployment cuts d over to serving traffic: within one transaction it demotes
// whatever deployment currently holds the active slot for d's target to tearing_down,
// then promotes d with its final store path, port, and routing fields. It returns the
// id of the deployment it demoted, if any, so the caller can schedule its blue-green retirement.
func (s *Store) ActivateDeployment(ctx context.Context, d *domain.Deployment) (previousID string, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	const findPrevious = `SELECT id FROM deployments
		WHERE project = $1 AND service_name = $2 AND branch = $3 AND status = 'active' AND id != $4
		FOR UPDATE`
	row := tx.QueryRow(ctx, findPrevious, d.Project, d.ServiceName, d.Branch, d.ID)
	if err := row.Scan(&previousID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	if previousID != "" {
		if _, err := tx.Exec(ctx, `UPDATE deployments SET status = 'tearing_down', updated_at = now() WHERE id = $1`, previousID); err != nil {
			return "", err
		}
	}

	const activate = `UPDATE deployments SET
			store_path = $2, static_path = $3, port = $4, domain = $5, health_url = $6,
			status = 'active', dns_status = $7, updated_at = now(), last_activity = now()
		WHERE id = $1`
	if _, err := tx.Exec(ctx, activate, d.ID, d.StorePath, d.StaticPath, d.Port, d.Domain, d.HealthURL, d.DNSStatus); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return previousID, nil
}

// GetDeployment fetches a deployment by id.
func (s *Store) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	const query = `SELECT id, project, service_name, branch, branch_slug, git_ref, commit_sha, store_path, static_path, port,
			domain, health_url, status, dns_status, created_at, updated_at, last_activity, last_checked_at
		FROM deployments WHERE id = $1`
	return scanDeployment(s.pool.QueryRow(ctx, query, id))
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.Project, &d.ServiceName, &d.Branch, &d.BranchSlug, &d.GitRef, &d.CommitSHA,
		&d.StorePath, &d.StaticPath, &d.Port, &d.Domain, &d.HealthURL, &d.Status, &d.DNSStatus,
		&d.CreatedAt, &d.UpdatedAt, &d.LastActivity, &d.LastCheckedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kennelerr.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// UpdateDeployment persists every mutable field of a deployment.
func (s *Store) UpdateDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `UPDATE deployments SET
			store_path = $2, static_path = $3, port = $4, domain = $5, health_url = $6,
			status = $7, dns_status = $8, updated_at = now(), last_activity = $9, last_checked_at = $10
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, d.ID, d.StorePath, d.StaticPath, d.Port, d.Domain, d.HealthURL,
		d.Status, d.DNSStatus, d.LastActivity, d.LastCheckedAt)
	return err
}

// ListActiveDeployments returns every deployment not yet torn down.
func (s *Store) ListActiveDeployments(ctx context.Context) ([]domain.Deployment, error) {
	const query = `SELECT id, project, service_name, branch, branch_slug, git_ref, commit_sha, store_path, static_path, port,
			domain, health_url, status, dns_status, created_at, updated_at, last_activity, last_checked_at
		FROM deployments WHERE status != 'torn_down'`
	return scanDeployments(s.pool.Query(ctx, query))
}

// ListDeploymentsByBranch returns every non-torn-down deployment for a branch across services,
// used to tear down a whole preview environment on branch deletion.
func (s *Store) ListDeploymentsByBranch(ctx context.Context, project, branch string) ([]domain.Deployment, error) {
	const query = `SELECT id, project, service_name, branch, branch_slug, git_ref, commit_sha, store_path, static_path, port,
			domain, health_url, status, dns_status, created_at, updated_at, last_activity, last_checked_at
		FROM deployments WHERE project = $1 AND branch = $2 AND status != 'torn_down'`
	return scanDeployments(s.pool.Query(ctx, query, project, branch))
}

// ListDeploymentsForTeardown returns deployments marked tearing_down whose teardown has not completed,
// used at startup reconciliation to resume interrupted teardowns.
func (s *Store) ListDeploymentsForTeardown(ctx context.Context) ([]domain.Deployment, error) {
	const query = `SELECT id, project, service_name, branch, branch_slug, git_ref, commit_sha, store_path, static_path, port,
			domain, health_url, status, dns_status, created_at, updated_at, last_activity, last_checked_at
		FROM deployments WHERE status = 'tearing_down'`
	return scanDeployments(s.pool.Query(ctx, query))
}

// ListStaleActiveDeployments returns non-default-branch deployments whose last activity predates cutoff.
func (s *Store) ListStaleActiveDeployments(ctx context.Context, cutoff time.Time, defaultBranch string) ([]domain.Deployment, error) {
	const query = `SELECT id, project, service_name, branch, branch_slug, git_ref, commit_sha, store_path, static_path, port,
			domain, health_url, status, dns_status, created_at, updated_at, last_activity, last_checked_at
		FROM deployments WHERE status = 'active' AND branch != $2 AND last_activity < $1`
	return scanDeployments(s.pool.Query(ctx, query, cutoff, defaultBranch))
}

func scanDeployments(rows pgx.Rows, err error) ([]domain.Deployment, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.Project, &d.ServiceName, &d.Branch, &d.BranchSlug, &d.GitRef, &d.CommitSHA,
			&d.StorePath, &d.StaticPath, &d.Port, &d.Domain, &d.HealthURL, &d.Status, &d.DNSStatus,
			&d.CreatedAt, &d.UpdatedAt, &d.LastActivity, &d.LastCheckedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// MarkTearingDown transitions a deployment into teardown.
func (s *Store) MarkTearingDown(ctx context.Context, id string) error {
	const query = `UPDATE deployments SET status = 'tearing_down', updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	return err
}

// DeleteDeployment removes a torn-down deployment row.
func (s *Store) DeleteDeployment(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM deployments WHERE id = $1`, id)
	return err
}

// ListTornDownOlderThan returns fully torn-down deployments retained past cutoff, for pruning history.
func (s *Store) ListTornDownOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Deployment, error) {
	const query = `SELECT id, project, service_name, branch, branch_slug, git_ref, commit_sha, store_path, static_path, port,
			domain, health_url, status, dns_status, created_at, updated_at, last_activity, last_checked_at
		FROM deployments WHERE status = 'torn_down' AND updated_at < $1`
	return scanDeployments(s.pool.Query(ctx, query, cutoff))
}
