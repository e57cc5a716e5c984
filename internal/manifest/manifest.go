// Package manifest parses and validates a repository's kennel.toml.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Cachix describes an optional binary cache push target.
type Cachix struct {
	CacheName     string `toml:"cache_name"`
	AuthTokenFile string `toml:"auth_token_file"`
}

// Service is a declared long-running process.
type Service struct {
	FlakeOutput            string            `toml:"flake_output"`
	PreviewDatabase        bool              `toml:"preview_database"`
	HealthCheck            string            `toml:"health_check"`
	HealthCheckTimeoutSecs int               `toml:"health_check_timeout_secs"`
	CustomDomain           string            `toml:"custom_domain"`
	Secrets                []string          `toml:"secrets"`
	Env                    map[string]string `toml:"env"`
}

// StaticSite is a declared prebuilt asset tree served directly by the router.
type StaticSite struct {
	FlakeOutput  string `toml:"flake_output"`
	SPA          bool   `toml:"spa"`
	CustomDomain string `toml:"custom_domain"`
}

// Manifest is the parsed, defaulted contents of a project's kennel.toml.
type Manifest struct {
	Cachix      Cachix                `toml:"cachix"`
	Services    map[string]Service    `toml:"services"`
	StaticSites map[string]StaticSite `toml:"static_sites"`
}

// HealthCheckTimeout returns the service's configured health deadline, or the given default.
func (s Service) HealthCheckTimeout(fallback time.Duration) time.Duration {
	if s.HealthCheckTimeoutSecs <= 0 {
		return fallback
	}
	return time.Duration(s.HealthCheckTimeoutSecs) * time.Second
}

// Parse reads and validates the manifest file at path.
func Parse(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes decodes and validates TOML manifest content.
func ParseBytes(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	applyDefaults(&m)
	if err := validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndParse locates kennel.toml at the root of the given clone directory and parses it.
func FindAndParse(repoDir string) (*Manifest, error) {
	return Parse(filepath.Join(repoDir, "kennel.toml"))
}

func applyDefaults(m *Manifest) {
	for name, svc := range m.Services {
		if svc.FlakeOutput == "" {
			svc.FlakeOutput = name
		}
		if svc.HealthCheck == "" {
			svc.HealthCheck = "/health"
		}
		if svc.HealthCheckTimeoutSecs <= 0 {
			svc.HealthCheckTimeoutSecs = 30
		}
		m.Services[name] = svc
	}
	for name, site := range m.StaticSites {
		if site.FlakeOutput == "" {
			site.FlakeOutput = name
		}
		m.StaticSites[name] = site
	}
}

// validate enforces that a custom domain is claimed by at most one declared item,
// since duplicate hosts would otherwise be resolved arbitrarily by the router's last-writer-wins rule.
func validate(m *Manifest) error {
	seen := make(map[string]string)
	for name, svc := range m.Services {
		if svc.CustomDomain == "" {
			continue
		}
		if owner, ok := seen[svc.CustomDomain]; ok {
			return fmt.Errorf("custom domain %q claimed by both %q and %q", svc.CustomDomain, owner, name)
		}
		seen[svc.CustomDomain] = name
	}
	for name, site := range m.StaticSites {
		if site.CustomDomain == "" {
			continue
		}
		if owner, ok := seen[site.CustomDomain]; ok {
			return fmt.Errorf("custom domain %q claimed by both %q and %q", site.CustomDomain, owner, name)
		}
		seen[site.CustomDomain] = name
	}
	if len(m.Services) == 0 && len(m.StaticSites) == 0 {
		return fmt.Errorf("manifest declares no services or static sites")
	}
	return nil
}
