package domain

import "time"

// BuildStatus is the lifecycle state of a Build.
type BuildStatus string

const (
	BuildQueued    BuildStatus = "queued"
	BuildBuilding  BuildStatus = "building"
	BuildSuccess   BuildStatus = "success"
	BuildFailed    BuildStatus = "failed"
	BuildCancelled BuildStatus = "cancelled"
)

// TriggerKind distinguishes the webhook event shape that created a Build.
type TriggerKind string

const (
	TriggerPush        TriggerKind = "push"
	TriggerPullRequest TriggerKind = "pull_request"
)

// Build is a per-commit build job.
type Build struct {
	ID          string
	Project     string
	GitRef      string
	CommitSHA   string
	Status      BuildStatus
	TriggerKind TriggerKind
	TriggeredBy string
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// BuildResultStatus is the per-service outcome within a Build.
type BuildResultStatus string

const (
	ResultPending  BuildResultStatus = "pending"
	ResultBuilding BuildResultStatus = "building"
	ResultSuccess  BuildResultStatus = "success"
	ResultSkipped  BuildResultStatus = "skipped"
	ResultFailed   BuildResultStatus = "failed"
)

// BuildResult is the outcome of building one declared service or site within a Build.
type BuildResult struct {
	ID          string
	BuildID     string
	ServiceName string
	Status      BuildResultStatus
	StorePath   string
	Changed     bool
	LogPath     string
	Error       string
	StartedAt   *time.Time
	FinishedAt  *time.Time
}
