package postgres

import (
	"context"

	"github.com/ScottyLabs/kennel/internal/domain"
)

// CreateDNSRecord persists a DNS record created through a provider.
func (s *Store) CreateDNSRecord(ctx context.Context, record *domain.DNSRecord) error {
	const query = `INSERT INTO dns_records (id, name, deployment_id, project, provider_id, type, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`
	_, err := s.pool.Exec(ctx, query, record.ID, record.Name, record.DeploymentID, record.Project,
		record.ProviderID, record.Type, record.Address)
	return err
}

// ListDNSRecordsByDeployment returns the records owned by a deployment.
func (s *Store) ListDNSRecordsByDeployment(ctx context.Context, deploymentID string) ([]domain.DNSRecord, error) {
	const query = `SELECT id, name, deployment_id, project, provider_id, type, address, created_at
		FROM dns_records WHERE deployment_id = $1`
	rows, err := s.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.DNSRecord, 0)
	for rows.Next() {
		var r domain.DNSRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.DeploymentID, &r.Project, &r.ProviderID, &r.Type, &r.Address, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteDNSRecordsByDeployment removes every record owned by a deployment, called after provider-side deletion.
func (s *Store) DeleteDNSRecordsByDeployment(ctx context.Context, deploymentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dns_records WHERE deployment_id = $1`, deploymentID)
	return err
}
