package router

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ScottyLabs/kennel/internal/bus"
	"github.com/ScottyLabs/kennel/internal/router/cert"
	"github.com/ScottyLabs/kennel/internal/store"
)

// Config configures the router's listeners and reload/quarantine cadence.
type Config struct {
	HTTPAddr          string
	HTTPSAddr         string
	TLSEnabled        bool
	FullReloadInterval time.Duration
	QuarantineInterval time.Duration
	QuarantineTimeout  time.Duration
}

// Service is the router component: an HTTP(S) server dispatching on Host header.
type Service struct {
	store  store.Store
	bus    *bus.Bus
	table  *Table
	proxy  *proxyCache
	quar   *quarantine
	cert   *cert.Manager
	cfg    Config
	log    *slog.Logger
}

// New constructs the router Service. certManager may be nil when TLS is disabled.
func New(st store.Store, eventBus *bus.Bus, certManager *cert.Manager, cfg Config, log *slog.Logger) *Service {
	table := NewTable()
	return &Service{
		store: st,
		bus:   eventBus,
		table: table,
		proxy: newProxyCache(),
		quar:  newQuarantine(table, cfg.QuarantineInterval, cfg.QuarantineTimeout),
		cert:  certManager,
		cfg:   cfg,
		log:   log,
	}
}

// Run performs an initial reload, starts the reload/quarantine loops, and
// serves HTTP (and HTTPS, if configured) until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := reload(ctx, s.store, s.table); err != nil {
		s.log.Error("initial routing table load failed", "error", err)
	}

	events, cancel := s.bus.Subscribe(bus.EventRoutingChanged)
	defer cancel()
	active, cancelActive := s.bus.Subscribe(bus.EventDeploymentActive)
	defer cancelActive()
	tornDown, cancelTornDown := s.bus.Subscribe(bus.EventDeploymentTornDown)
	defer cancelTornDown()

	go s.reloadLoop(ctx, events, active, tornDown)
	go s.quar.run(ctx)

	httpServer := &http.Server{Addr: s.cfg.HTTPAddr, Handler: s}
	errCh := make(chan error, 2)
	go func() { errCh <- httpServer.ListenAndServe() }()

	var httpsServer *http.Server
	if s.cfg.TLSEnabled && s.cert != nil {
		httpsServer = &http.Server{
			Addr:      s.cfg.HTTPSAddr,
			Handler:   s,
			TLSConfig: &tls.Config{GetCertificate: s.cert.GetCertificate, MinVersion: tls.VersionTLS12},
		}
		go func() { errCh <- httpsServer.ListenAndServeTLS("", "") }()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		if httpsServer != nil {
			_ = httpsServer.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Service) reloadLoop(ctx context.Context, topics ...<-chan bus.Event) {
	ticker := time.NewTicker(s.cfg.FullReloadInterval)
	defer ticker.Stop()

	merged := make(chan bus.Event, 32)
	for _, ch := range topics {
		go func(c <-chan bus.Event) {
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-c:
					if !ok {
						return
					}
					merged <- evt
				}
			}
		}(ch)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reload(ctx, s.store, s.table); err != nil {
				s.log.Error("periodic routing table reload failed", "error", err)
			}
		case <-merged:
			if err := reload(ctx, s.store, s.table); err != nil {
				s.log.Error("event-triggered routing table reload failed", "error", err)
			}
		}
	}
}

const acmeChallengePrefix = "/.well-known/acme-challenge/"

func (s *Service) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if s.cert != nil && strings.HasPrefix(req.URL.Path, acmeChallengePrefix) {
		token := strings.TrimPrefix(req.URL.Path, acmeChallengePrefix)
		if keyAuth, ok := s.cert.ServeHTTPChallenge(token); ok {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(keyAuth))
			return
		}
		http.NotFound(w, req)
		return
	}

	host := req.Host
	if host == "" {
		http.Error(w, "missing Host header", http.StatusBadRequest)
		return
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	route, ok := s.table.Lookup(host)
	if !ok {
		http.NotFound(w, req)
		return
	}

	switch route.Kind {
	case RouteStatic:
		serveStatic(w, req, route)
	case RouteService:
		if !route.Healthy {
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		forwardingHeaders(req)
		s.proxy.get(route.Port).ServeHTTP(w, req)
	default:
		http.NotFound(w, req)
	}
}
