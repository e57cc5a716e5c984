package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/kennelerr"
	"github.com/ScottyLabs/kennel/internal/secretbox"
)

// GetProject fetches a project by name.
func (s *Store) GetProject(ctx context.Context, name string) (*domain.Project, error) {
	const query = `SELECT name, clone_url, platform, webhook_secret, default_branch, expiry_window_seconds, created_at, updated_at
		FROM projects WHERE name = $1`
	row := s.pool.QueryRow(ctx, query, name)
	var p domain.Project
	var expirySeconds int64
	var sealedSecret string
	if err := row.Scan(&p.Name, &p.CloneURL, &p.Platform, &sealedSecret, &p.DefaultBranch, &expirySeconds, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kennelerr.ErrNotFound
		}
		return nil, err
	}
	p.ExpiryWindow = secondsToDuration(expirySeconds)
	secret, err := s.openSecret(sealedSecret)
	if err != nil {
		return nil, err
	}
	p.WebhookSecret = secret
	return &p, nil
}

// ListProjects returns every registered project.
func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	const query = `SELECT name, clone_url, platform, webhook_secret, default_branch, expiry_window_seconds, created_at, updated_at
		FROM projects ORDER BY name`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		var expirySeconds int64
		var sealedSecret string
		if err := rows.Scan(&p.Name, &p.CloneURL, &p.Platform, &sealedSecret, &p.DefaultBranch, &expirySeconds, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ExpiryWindow = secondsToDuration(expirySeconds)
		secret, err := s.openSecret(sealedSecret)
		if err != nil {
			return nil, err
		}
		p.WebhookSecret = secret
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpsertProject inserts or updates a project's manifest-derived metadata.
func (s *Store) UpsertProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (name, clone_url, platform, webhook_secret, default_branch, expiry_window_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (name) DO UPDATE SET
			clone_url = EXCLUDED.clone_url,
			platform = EXCLUDED.platform,
			webhook_secret = EXCLUDED.webhook_secret,
			default_branch = EXCLUDED.default_branch,
			expiry_window_seconds = EXCLUDED.expiry_window_seconds,
			updated_at = now()`
	sealedSecret, err := s.sealSecret(project.WebhookSecret)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query, project.Name, project.CloneURL, project.Platform, sealedSecret,
		project.DefaultBranch, int64(project.ExpiryWindow.Seconds()))
	return err
}

// sealSecret encrypts a webhook secret for storage. With no encryption key
// configured, the value is stored as-is (development only).
func (s *Store) sealSecret(plaintext string) (string, error) {
	if s.secretboxKey == "" {
		return plaintext, nil
	}
	return secretbox.Seal(s.secretboxKey, plaintext)
}

func (s *Store) openSecret(stored string) (string, error) {
	if s.secretboxKey == "" {
		return stored, nil
	}
	return secretbox.Open(s.secretboxKey, stored)
}

// DeleteProject removes a project and cascades to its services.
func (s *Store) DeleteProject(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE name = $1`, name)
	return err
}

// ListServices returns the declared services for a project.
func (s *Store) ListServices(ctx context.Context, project string) ([]domain.Service, error) {
	const query = `SELECT project, name, kind, flake_output, custom_domain, health_check,
			health_check_timeout_secs, preview_database, secrets, env, is_spa, created_at, updated_at
		FROM services WHERE project = $1 ORDER BY name`
	rows, err := s.pool.Query(ctx, query, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]domain.Service, 0)
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func scanService(rows pgx.Rows) (domain.Service, error) {
	var svc domain.Service
	var envJSON []byte
	if err := rows.Scan(&svc.Project, &svc.Name, &svc.Kind, &svc.FlakeOutput, &svc.CustomDomain,
		&svc.HealthCheck, &svc.HealthCheckTimeoutSecs, &svc.PreviewDatabase, &svc.Secrets, &envJSON,
		&svc.IsSPA, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
		return domain.Service{}, err
	}
	if len(envJSON) > 0 {
		if err := json.Unmarshal(envJSON, &svc.Env); err != nil {
			return domain.Service{}, err
		}
	}
	return svc, nil
}

// ReplaceServices atomically swaps a project's declared service set to match its manifest.
func (s *Store) ReplaceServices(ctx context.Context, project string, services []domain.Service) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM services WHERE project = $1`, project); err != nil {
		return err
	}
	const insert = `INSERT INTO services
			(project, name, kind, flake_output, custom_domain, health_check, health_check_timeout_secs,
			 preview_database, secrets, env, is_spa, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`
	for _, svc := range services {
		env := svc.Env
		if env == nil {
			env = map[string]string{}
		}
		envJSON, err := json.Marshal(env)
		if err != nil {
			return err
		}
		secrets := svc.Secrets
		if secrets == nil {
			secrets = []string{}
		}
		if _, err := tx.Exec(ctx, insert, project, svc.Name, svc.Kind, svc.FlakeOutput, svc.CustomDomain,
			svc.HealthCheck, svc.HealthCheckTimeoutSecs, svc.PreviewDatabase, secrets, envJSON, svc.IsSPA); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
