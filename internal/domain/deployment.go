package domain

import "time"

// DeploymentStatus is the lifecycle state of a Deployment.
type DeploymentStatus string

const (
	DeploymentPending     DeploymentStatus = "pending"
	DeploymentBuilding    DeploymentStatus = "building"
	DeploymentActive      DeploymentStatus = "active"
	DeploymentFailed      DeploymentStatus = "failed"
	DeploymentTearingDown DeploymentStatus = "tearing_down"
	DeploymentTornDown    DeploymentStatus = "torn_down"
)

// DNSStatus tracks the side-effect state of a Deployment's DNS records.
type DNSStatus string

const (
	DNSPending DNSStatus = "pending"
	DNSActive  DNSStatus = "active"
	DNSFailed  DNSStatus = "failed"
)

// Deployment is a live instance of (project, service, branch).
type Deployment struct {
	ID            string
	Project       string
	ServiceName   string
	Branch        string
	BranchSlug    string
	GitRef        string
	CommitSHA     string
	StorePath     string
	StaticPath    string
	Port          *int
	Domain        string
	HealthURL     string
	Status        DeploymentStatus
	DNSStatus     DNSStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastActivity  time.Time
	LastCheckedAt *time.Time
}

// Host returns the auto-generated subdomain this deployment should answer on.
func (d Deployment) Host(baseDomain string) string {
	return d.ServiceName + "-" + d.BranchSlug + "." + d.Project + "." + baseDomain
}

// IsLive reports whether the deployment currently owns resources (port, files, DNS).
func (d Deployment) IsLive() bool {
	switch d.Status {
	case DeploymentPending, DeploymentBuilding, DeploymentActive:
		return true
	default:
		return false
	}
}
