// Package store defines the persistence interfaces backing Kennel's pipeline.
// Concrete implementations live in internal/store/postgres.
package store

import (
	"context"
	"time"

	"github.com/ScottyLabs/kennel/internal/domain"
)

// ProjectStore persists registered repositories and their declared services.
type ProjectStore interface {
	GetProject(ctx context.Context, name string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	UpsertProject(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, name string) error

	ListServices(ctx context.Context, project string) ([]domain.Service, error)
	ReplaceServices(ctx context.Context, project string, services []domain.Service) error
}

// BuildStore persists build jobs and their per-service results.
type BuildStore interface {
	CreateBuild(ctx context.Context, build *domain.Build) error
	GetBuildByRef(ctx context.Context, project, gitRef, commitSHA string) (*domain.Build, error)
	GetBuild(ctx context.Context, id string) (*domain.Build, error)
	UpdateBuildStatus(ctx context.Context, id string, status domain.BuildStatus, startedAt, finishedAt *time.Time) error
	ListBuildsByProject(ctx context.Context, project string, limit int) ([]domain.Build, error)
	ListBuildsOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Build, error)
	ListStuckBuilds(ctx context.Context) ([]domain.Build, error)
	DeleteBuild(ctx context.Context, id string) error

	CreateBuildResult(ctx context.Context, result *domain.BuildResult) error
	UpdateBuildResult(ctx context.Context, result *domain.BuildResult) error
	ListBuildResults(ctx context.Context, buildID string) ([]domain.BuildResult, error)
	RecentSuccessfulResults(ctx context.Context, project, gitRef, service string, limit int) ([]domain.BuildResult, error)
}

// DeploymentStore persists Deployment rows and their state-machine transitions.
type DeploymentStore interface {
	UpsertPendingDeployment(ctx context.Context, d *domain.Deployment) (*domain.Deployment, error)
	ActivateDeployment(ctx context.Context, d *domain.Deployment) (previousID string, err error)
	GetActiveDeployment(ctx context.Context, project, service, branch string) (*domain.Deployment, error)
	GetDeployment(ctx context.Context, id string) (*domain.Deployment, error)
	UpdateDeployment(ctx context.Context, d *domain.Deployment) error
	ListActiveDeployments(ctx context.Context) ([]domain.Deployment, error)
	ListDeploymentsByBranch(ctx context.Context, project, branch string) ([]domain.Deployment, error)
	ListDeploymentsForTeardown(ctx context.Context) ([]domain.Deployment, error)
	ListStaleActiveDeployments(ctx context.Context, cutoff time.Time, defaultBranch string) ([]domain.Deployment, error)
	MarkTearingDown(ctx context.Context, id string) error
	DeleteDeployment(ctx context.Context, id string) error
	ListTornDownOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Deployment, error)
}

// PortStore manages the [18000, 19999] port allocation range.
type PortStore interface {
	AllocatePort(ctx context.Context, min, max int, deploymentID string) (int, error)
	ReleasePort(ctx context.Context, port int) error
	ListPorts(ctx context.Context) ([]domain.PortAllocation, error)
}

// PreviewDatabaseStore manages the per-(project,branch) preview database slot pool.
type PreviewDatabaseStore interface {
	AllocatePreviewDatabase(ctx context.Context, project, branch, name string, slots int) (*domain.PreviewDatabase, error)
	GetPreviewDatabase(ctx context.Context, project, branch string) (*domain.PreviewDatabase, error)
	ReleasePreviewDatabase(ctx context.Context, project, branch string) error
	ListPreviewDatabases(ctx context.Context) ([]domain.PreviewDatabase, error)
}

// DNSStore persists live DNS record bookkeeping.
type DNSStore interface {
	CreateDNSRecord(ctx context.Context, record *domain.DNSRecord) error
	ListDNSRecordsByDeployment(ctx context.Context, deploymentID string) ([]domain.DNSRecord, error)
	DeleteDNSRecordsByDeployment(ctx context.Context, deploymentID string) error
}

// Store aggregates every persistence interface Kennel's components depend on.
type Store interface {
	ProjectStore
	BuildStore
	DeploymentStore
	PortStore
	PreviewDatabaseStore
	DNSStore

	Ping(ctx context.Context) error
}
