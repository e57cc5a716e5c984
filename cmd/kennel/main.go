// Command kennel runs Ingress, the Builder, the Deployer, and the Router as
// one long-lived process sharing a database connection pool and an
// in-process event bus.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ScottyLabs/kennel/internal/bus"
	"github.com/ScottyLabs/kennel/internal/builder"
	"github.com/ScottyLabs/kennel/internal/config"
	"github.com/ScottyLabs/kennel/internal/deployer"
	"github.com/ScottyLabs/kennel/internal/dns"
	"github.com/ScottyLabs/kennel/internal/httpapi"
	"github.com/ScottyLabs/kennel/internal/ingress"
	"github.com/ScottyLabs/kennel/internal/logger"
	"github.com/ScottyLabs/kennel/internal/logstream"
	"github.com/ScottyLabs/kennel/internal/queue"
	"github.com/ScottyLabs/kennel/internal/reconcile"
	"github.com/ScottyLabs/kennel/internal/router"
	"github.com/ScottyLabs/kennel/internal/router/cert"
	"github.com/ScottyLabs/kennel/internal/store/migrate"
	"github.com/ScottyLabs/kennel/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := logger.New("kennel", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	st := postgres.New(pool, cfg.WebhookSecretEncryptionKey)
	dnsProvider := buildDNSProvider(cfg, log)

	var certManager *cert.Manager
	if cfg.TLSEnabled {
		directory := cfg.ACMEDirectory
		if directory == "" {
			directory = acmeDirectoryFor(cfg.ACMEStaging)
		}
		certManager, err = cert.New(directory, cfg.ACMEEmail, cfg.ACMECacheDir, log.With("component", "cert"))
		if err != nil {
			log.Error("failed to initialize certificate manager", "error", err)
			os.Exit(1)
		}
	}

	eventBus := bus.New()
	defer eventBus.Close()

	buildQ := queue.NewBounded[string](cfg.MaxQueuedBuilds)
	deployQ := queue.New[builder.DeploymentRequest]()
	teardownQ := queue.NewBounded[ingress.TeardownRequest](cfg.MaxQueuedTeardowns)
	queueStop := make(chan struct{})
	go buildQ.Loop(queueStop)
	go deployQ.Loop(queueStop)
	go teardownQ.Loop(queueStop)
	defer close(queueStop)

	ingressSvc := ingress.New(st, buildQ, teardownQ, eventBus, log.With("component", "ingress"))

	builderSvc, err := builder.New(st, buildQ, deployQ, eventBus, builder.Config{
		MaxConcurrent: cfg.MaxConcurrentBuilds,
		WorkDir:       cfg.WorkDir,
		LogDir:        cfg.LogDir,
	}, log.With("component", "builder"))
	if err != nil {
		log.Error("failed to configure builder", "error", err)
		os.Exit(1)
	}

	deployerSvc := deployer.New(st, deployQ, teardownQ, eventBus, dnsProvider, deployer.Config{
		BaseDomain:           cfg.BaseDomain,
		ServicesDir:          cfg.ServicesDir,
		SitesDir:             cfg.SitesDir,
		SecretsDir:           cfg.SecretsDir,
		UnitDir:              cfg.UnitDir,
		LogDir:               cfg.LogDir,
		SupervisorBin:        cfg.SupervisorBin,
		PortRangeStart:       cfg.PortRangeStart,
		PortRangeEnd:         cfg.PortRangeEnd,
		PreviewDBSlots:       cfg.PreviewDBSlots,
		ValkeyAddr:           cfg.ValkeyAddr,
		HealthGateDeadline:   cfg.HealthGateDeadline,
		BlueGreenDrainDelay:  cfg.BlueGreenDrainDelay,
		AutoExpiryInterval:   cfg.AutoExpiryCheckInterval,
		DefaultExpiryWindow:  cfg.DefaultExpiryWindow,
		LogRetentionInterval: cfg.LogRetentionInterval,
		RetentionPeriod:      cfg.RetentionPeriod,
	}, log.With("component", "deployer"))

	reconcile.Run(ctx, st, reconcile.Config{
		UnitDir:       cfg.UnitDir,
		SupervisorBin: cfg.SupervisorBin,
	}, deployerSvc, log.With("component", "reconcile"))

	routerSvc := router.New(st, eventBus, certManager, router.Config{
		HTTPAddr:           cfg.RouterAddr,
		HTTPSAddr:          cfg.RouterHTTPSAddr,
		TLSEnabled:         cfg.TLSEnabled,
		FullReloadInterval: cfg.RouterFullReloadInterval,
		QuarantineInterval: cfg.RouterQuarantineInterval,
		QuarantineTimeout:  cfg.RouterQuarantineTimeout,
	}, log.With("component", "router"))

	limiter := buildRateLimiter(cfg, log)
	defer limiter.Close()

	logHub := logstream.NewHub()
	go logstream.NewBridge(logHub, eventBus).Run(ctx)
	logHandler := logstream.NewHandler(logHub, log.With("component", "logstream"))

	apiRouter := httpapi.NewRouter(ingress.NewHandler(ingressSvc), logHandler, limiter, runner.Ping, log.With("component", "httpapi"))
	apiServer := &http.Server{Addr: cfg.APIAddr, Handler: apiRouter}

	go builderSvc.Run(ctx)
	go deployerSvc.Run(ctx)

	errCh := make(chan error, 2)
	go func() {
		log.Info("webhook api listening", "addr", cfg.APIAddr)
		errCh <- apiServer.ListenAndServe()
	}()
	go func() { errCh <- routerSvc.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("component exited with error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("webhook api did not shut down cleanly", "error", err)
	}

	log.Info("kennel stopped")
}

func buildDNSProvider(cfg config.Config, log *slog.Logger) dns.Provider {
	if !cfg.DNSEnabled {
		return dns.NoopProvider{}
	}
	provider, err := dns.NewCloudflareProvider(cfg.CloudflareAPIToken, cfg.CloudflareZoneID, cfg.ServerPublicAddress, log.With("component", "dns"))
	if err != nil {
		log.Error("failed to configure cloudflare dns provider, falling back to noop", "error", err)
		return dns.NoopProvider{}
	}
	return provider
}

func buildRateLimiter(cfg config.Config, log *slog.Logger) httpapi.RateLimiter {
	if cfg.RateLimitRedisAddr == "" {
		return httpapi.NewMemoryRateLimiter()
	}
	limiter, err := httpapi.NewRedisRateLimiter(cfg.RateLimitRedisAddr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log.With("component", "ratelimit"))
	if err != nil {
		log.Error("failed to configure redis rate limiter, falling back to in-process limiter", "error", err)
		return httpapi.NewMemoryRateLimiter()
	}
	return limiter
}

func acmeDirectoryFor(staging bool) string {
	if staging {
		return "https://acme-staging-v02.api.letsencrypt.org/directory"
	}
	return "https://acme-v02.api.letsencrypt.org/directory"
}
