package domain

import "time"

// PortAllocation is a row in the reserved [18000, 19999] port range.
type PortAllocation struct {
	Port         int
	DeploymentID *string
	CreatedAt    time.Time
}

// PreviewDatabase is an ephemeral data store assigned to a non-default branch.
type PreviewDatabase struct {
	Name      string
	Project   string
	Branch    string
	Slot      int
	CreatedAt time.Time
}

// DNSRecordType is the record kind Kennel manages.
type DNSRecordType string

const (
	DNSRecordA    DNSRecordType = "A"
	DNSRecordAAAA DNSRecordType = "AAAA"
)

// DNSRecord is one live DNS entry owned either by a deployment or by a project's wildcard.
type DNSRecord struct {
	ID           string
	Name         string
	DeploymentID *string
	Project      string
	ProviderID   string
	Type         DNSRecordType
	Address      string
	CreatedAt    time.Time
}
