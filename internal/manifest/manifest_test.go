package manifest

import "testing"

func TestParseBytesAppliesDefaults(t *testing.T) {
	data := []byte(`
[services.web]

[static_sites.docs]
`)
	m, err := ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	web := m.Services["web"]
	if web.FlakeOutput != "web" {
		t.Errorf("FlakeOutput default = %q, want %q", web.FlakeOutput, "web")
	}
	if web.HealthCheck != "/health" {
		t.Errorf("HealthCheck default = %q, want /health", web.HealthCheck)
	}
	if web.HealthCheckTimeoutSecs != 30 {
		t.Errorf("HealthCheckTimeoutSecs default = %d, want 30", web.HealthCheckTimeoutSecs)
	}
	docs := m.StaticSites["docs"]
	if docs.FlakeOutput != "docs" {
		t.Errorf("static site FlakeOutput default = %q, want %q", docs.FlakeOutput, "docs")
	}
}

func TestParseBytesRejectsDuplicateCustomDomain(t *testing.T) {
	data := []byte(`
[services.web]
custom_domain = "app.example.com"

[services.api]
custom_domain = "app.example.com"
`)
	if _, err := ParseBytes(data); err == nil {
		t.Fatal("expected error for duplicate custom domain, got nil")
	}
}

func TestParseBytesRejectsEmptyManifest(t *testing.T) {
	if _, err := ParseBytes([]byte(``)); err == nil {
		t.Fatal("expected error for manifest with no declared items, got nil")
	}
}

func TestServiceHealthCheckTimeout(t *testing.T) {
	svc := Service{HealthCheckTimeoutSecs: 45}
	if got := svc.HealthCheckTimeout(30_000_000_000); got.Seconds() != 45 {
		t.Errorf("HealthCheckTimeout() = %v, want 45s", got)
	}
	zero := Service{}
	if got := zero.HealthCheckTimeout(10_000_000_000); got.Seconds() != 10 {
		t.Errorf("HealthCheckTimeout() fallback = %v, want 10s", got)
	}
}
