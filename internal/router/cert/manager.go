// Package cert provisions and serves Let's Encrypt certificates for router
// hosts on demand, using the HTTP-01 challenge over the router's own
// listener rather than a separate port.
package cert

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/acme"
)

// Manager issues and caches certificates on demand, one per requested hostname.
type Manager struct {
	client     *acme.Client
	accountKey *ecdsa.PrivateKey
	cacheDir   string
	email      string
	log        *slog.Logger

	mu       sync.Mutex
	certs    map[string]*tls.Certificate
	tokens   sync.Map // challenge token -> key authorization
	inflight sync.Map // hostname -> struct{}, dedupes concurrent issuance
}

// New constructs a Manager backed by directoryURL, persisting its account key
// and issued certificates under cacheDir.
func New(directoryURL, email, cacheDir string, log *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("create acme cache dir: %w", err)
	}
	key, err := loadOrCreateAccountKey(filepath.Join(cacheDir, "account.key"))
	if err != nil {
		return nil, fmt.Errorf("load account key: %w", err)
	}

	m := &Manager{
		client:     &acme.Client{Key: key, DirectoryURL: directoryURL},
		accountKey: key,
		cacheDir:   cacheDir,
		email:      email,
		log:        log,
		certs:      make(map[string]*tls.Certificate),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := m.client.Register(ctx, &acme.Account{Contact: []string{"mailto:" + email}}, acme.AcceptTOS); err != nil &&
		!errors.Is(err, acme.ErrAccountAlreadyExists) {
		return nil, fmt.Errorf("register acme account: %w", err)
	}

	m.loadCachedCertificates()
	return m, nil
}

// GetCertificate implements tls.Config.GetCertificate, issuing on first use for a hostname.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	host := hello.ServerName
	m.mu.Lock()
	cert, ok := m.certs[host]
	m.mu.Unlock()
	if ok && certValid(cert) {
		return cert, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	cert, err := m.issue(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("issue certificate for %s: %w", host, err)
	}
	return cert, nil
}

// ServeHTTPChallenge returns the key authorization for an HTTP-01 challenge
// token the router should serve at /.well-known/acme-challenge/<token>.
func (m *Manager) ServeHTTPChallenge(token string) (string, bool) {
	v, ok := m.tokens.Load(token)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (m *Manager) issue(ctx context.Context, host string) (*tls.Certificate, error) {
	if _, dup := m.inflight.LoadOrStore(host, struct{}{}); dup {
		return nil, fmt.Errorf("issuance already in progress for %s", host)
	}
	defer m.inflight.Delete(host)

	order, err := m.client.AuthorizeOrder(ctx, acme.DomainIDs(host))
	if err != nil {
		return nil, fmt.Errorf("authorize order: %w", err)
	}

	for _, authzURL := range order.AuthzURLs {
		authz, err := m.client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return nil, fmt.Errorf("get authorization: %w", err)
		}
		if authz.Status == acme.StatusValid {
			continue
		}
		if err := m.completeHTTP01(ctx, authz); err != nil {
			return nil, err
		}
	}

	csr, key, err := generateCSR(host)
	if err != nil {
		return nil, err
	}
	der, _, err := m.client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return nil, fmt.Errorf("finalize order: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: mustMarshalECKey(key)})
	var certPEM []byte
	for _, block := range der {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: block})...)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse issued certificate: %w", err)
	}

	if err := os.WriteFile(filepath.Join(m.cacheDir, host+".crt"), certPEM, 0o600); err != nil {
		m.log.Warn("failed to cache certificate", "host", host, "error", err)
	}
	if err := os.WriteFile(filepath.Join(m.cacheDir, host+".key"), keyPEM, 0o600); err != nil {
		m.log.Warn("failed to cache certificate key", "host", host, "error", err)
	}

	m.mu.Lock()
	m.certs[host] = &cert
	m.mu.Unlock()
	m.log.Info("certificate issued", "host", host)
	return &cert, nil
}

func (m *Manager) completeHTTP01(ctx context.Context, authz *acme.Authorization) error {
	var challenge *acme.Challenge
	for _, c := range authz.Challenges {
		if c.Type == "http-01" {
			challenge = c
			break
		}
	}
	if challenge == nil {
		return fmt.Errorf("no http-01 challenge offered for %s", authz.Identifier.Value)
	}

	keyAuth, err := m.client.HTTP01ChallengeResponse(challenge.Token)
	if err != nil {
		return fmt.Errorf("build challenge response: %w", err)
	}
	m.tokens.Store(challenge.Token, keyAuth)
	defer m.tokens.Delete(challenge.Token)

	if _, err := m.client.Accept(ctx, challenge); err != nil {
		return fmt.Errorf("accept challenge: %w", err)
	}
	if _, err := m.client.WaitAuthorization(ctx, authz.URI); err != nil {
		return fmt.Errorf("wait for authorization: %w", err)
	}
	return nil
}

func (m *Manager) loadCachedCertificates() {
	entries, err := os.ReadDir(m.cacheDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".crt" {
			continue
		}
		host := e.Name()[:len(e.Name())-len(".crt")]
		certPEM, err1 := os.ReadFile(filepath.Join(m.cacheDir, host+".crt"))
		keyPEM, err2 := os.ReadFile(filepath.Join(m.cacheDir, host+".key"))
		if err1 != nil || err2 != nil {
			continue
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil || !certValid(&cert) {
			continue
		}
		m.certs[host] = &cert
	}
}

func certValid(cert *tls.Certificate) bool {
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return false
		}
		cert.Leaf = leaf
	}
	return time.Now().Before(cert.Leaf.NotAfter.Add(-24 * time.Hour))
}

func loadOrCreateAccountKey(path string) (*ecdsa.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(data)
		if block != nil {
			return x509.ParseECPrivateKey(block.Bytes)
		}
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

func generateCSR(host string) ([]byte, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	template := &x509.CertificateRequest{DNSNames: []string{host}}
	csr, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, nil, err
	}
	return csr, key, nil
}

func mustMarshalECKey(key *ecdsa.PrivateKey) []byte {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		panic(err)
	}
	return der
}
