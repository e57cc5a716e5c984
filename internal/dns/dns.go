// Package dns manages the DNS records a deployment needs to be reachable:
// the router's host-based dispatch only ever sees traffic that a provider
// has already pointed at this host's public address.
package dns

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	cf "github.com/cloudflare/cloudflare-go"

	"github.com/ScottyLabs/kennel/internal/domain"
)

// Provider is the capability Kennel needs from a DNS host: create an A record
// pointed at the server's public address, and delete it once a deployment
// tears down.
type Provider interface {
	CreateRecord(ctx context.Context, name string) (providerID string, err error)
	DeleteRecord(ctx context.Context, providerID string) error
}

// NoopProvider is used when DNS management is disabled; every deployment
// is expected to be reachable through a wildcard record configured out of band.
type NoopProvider struct{}

func (NoopProvider) CreateRecord(ctx context.Context, name string) (string, error) { return "", nil }
func (NoopProvider) DeleteRecord(ctx context.Context, providerID string) error     { return nil }

// CloudflareProvider manages A records in a single Cloudflare zone.
type CloudflareProvider struct {
	api           *cf.API
	zoneID        string
	serverAddress string
	log           *slog.Logger
}

// NewCloudflareProvider constructs a CloudflareProvider from an API token.
func NewCloudflareProvider(apiToken, zoneID, serverAddress string, log *slog.Logger) (*CloudflareProvider, error) {
	api, err := cf.NewWithAPIToken(apiToken)
	if err != nil {
		return nil, fmt.Errorf("init cloudflare client: %w", err)
	}
	return &CloudflareProvider{api: api, zoneID: zoneID, serverAddress: serverAddress, log: log}, nil
}

// CreateRecord points name at the configured server address with a short TTL,
// since deployments are ephemeral and should propagate quickly.
func (p *CloudflareProvider) CreateRecord(ctx context.Context, name string) (string, error) {
	proxied := false
	record, err := p.api.CreateDNSRecord(ctx, cf.ZoneIdentifier(p.zoneID), cf.CreateDNSRecordParams{
		Type:    "A",
		Name:    name,
		Content: p.serverAddress,
		TTL:     120,
		Proxied: &proxied,
	})
	if err != nil {
		return "", fmt.Errorf("create dns record for %s: %w", name, err)
	}
	p.log.Info("dns record created", "name", name, "record_id", record.ID)
	return record.ID, nil
}

// DeleteRecord removes a previously created record, tolerating one that is already gone.
func (p *CloudflareProvider) DeleteRecord(ctx context.Context, providerID string) error {
	if providerID == "" {
		return nil
	}
	if err := p.api.DeleteDNSRecord(ctx, cf.ZoneIdentifier(p.zoneID), providerID); err != nil {
		if strings.Contains(err.Error(), "81044") { // record does not exist
			return nil
		}
		return fmt.Errorf("delete dns record %s: %w", providerID, err)
	}
	return nil
}

// RecordType maps a Kennel DNS record kind to the Cloudflare record type string.
func RecordType(t domain.DNSRecordType) string {
	return string(t)
}
