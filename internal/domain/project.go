// Package domain defines Kennel's persisted entities.
package domain

import "time"

// SourcePlatform identifies which Git forge a Project's webhooks originate from.
type SourcePlatform string

const (
	PlatformForgejo SourcePlatform = "forgejo"
	PlatformGitHub  SourcePlatform = "github"
)

// Project is a registered repository the pipeline builds and deploys.
type Project struct {
	Name           string
	CloneURL       string
	Platform       SourcePlatform
	WebhookSecret  string
	DefaultBranch  string
	ExpiryWindow   time.Duration
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ServiceKind distinguishes the three deployable shapes a manifest can declare.
type ServiceKind string

const (
	KindService ServiceKind = "service"
	KindStatic  ServiceKind = "static"
	KindImage   ServiceKind = "image"
)

// Service is a deployable unit declared in a project's kennel.toml.
type Service struct {
	Project                string
	Name                   string
	Kind                   ServiceKind
	FlakeOutput            string
	CustomDomain           string
	HealthCheck            string
	HealthCheckTimeoutSecs int
	PreviewDatabase        bool
	Secrets                []string
	Env                    map[string]string
	IsSPA                  bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}
