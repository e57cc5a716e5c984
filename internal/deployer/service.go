// Package deployer turns a successful build into a running, health-gated
// deployment: it allocates ports and preview databases, writes secrets and
// systemd units, blue-green cuts traffic over, and tears targets back down.
package deployer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ScottyLabs/kennel/internal/builder"
	"github.com/ScottyLabs/kennel/internal/bus"
	"github.com/ScottyLabs/kennel/internal/dns"
	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/ingress"
	"github.com/ScottyLabs/kennel/internal/store"
)

// Config configures the deployer's directories, port range, and timing.
type Config struct {
	BaseDomain          string
	ServicesDir         string
	SitesDir            string
	SecretsDir          string
	UnitDir             string
	LogDir              string
	SupervisorBin       string
	PortRangeStart      int
	PortRangeEnd        int
	PreviewDBSlots      int
	ValkeyAddr          string
	HealthGateDeadline  time.Duration
	BlueGreenDrainDelay time.Duration
	AutoExpiryInterval  time.Duration
	DefaultExpiryWindow time.Duration
	LogRetentionInterval time.Duration
	RetentionPeriod     time.Duration
}

// Service is the deployer component.
type Service struct {
	store      store.Store
	deployQ    queueReader
	teardownQ  teardownReader
	bus        *bus.Bus
	dnsProvider dns.Provider
	sup        *supervisor
	locks      *keyMutex
	httpClient *http.Client
	cfg        Config
	log        *slog.Logger
}

// queueReader is the narrow interface Service needs from the builder's deploy queue.
type queueReader interface {
	Ready() <-chan builder.DeploymentRequest
}

// teardownReader is the narrow interface Service needs from ingress's teardown queue.
type teardownReader interface {
	Ready() <-chan ingress.TeardownRequest
}

// New constructs the deployer Service.
func New(st store.Store, deployQueue queueReader, teardownQueue teardownReader, eventBus *bus.Bus, dnsProvider dns.Provider, cfg Config, log *slog.Logger) *Service {
	return &Service{
		store:       st,
		deployQ:     deployQueue,
		teardownQ:   teardownQueue,
		bus:         eventBus,
		dnsProvider: dnsProvider,
		sup:         newSupervisor(cfg.SupervisorBin, cfg.UnitDir),
		locks:       newKeyMutex(),
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		cfg:         cfg,
		log:         log,
	}
}

// Run drains the deploy and teardown queues until ctx is cancelled, alongside
// the auto-expiry and log-retention sweepers.
func (s *Service) Run(ctx context.Context) {
	go s.autoExpirySweepLoop(ctx)
	go s.logRetentionSweepLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-s.deployQ.Ready():
			if !ok {
				return
			}
			go s.handleDeploy(ctx, req)
		case req, ok := <-s.teardownQ.Ready():
			if !ok {
				return
			}
			go s.handleTeardownBranch(ctx, req)
		}
	}
}

// ResumeTeardowns finishes any deployment a prior process crashed while tearing
// down. A deployment left in tearing_down still holds its port, unit, and
// preview database, so it is retried exactly like a fresh teardown request.
func (s *Service) ResumeTeardowns(ctx context.Context) {
	stuck, err := s.store.ListDeploymentsForTeardown(ctx)
	if err != nil {
		s.log.Error("failed to list interrupted teardowns", "error", err)
		return
	}
	for i := range stuck {
		d := stuck[i]
		key := fmt.Sprintf("%s/%s/%s", d.Project, d.Branch, d.ServiceName)
		unlock := s.locks.Lock(key)
		s.log.Info("resuming interrupted teardown", "deployment_id", d.ID, "project", d.Project, "branch", d.Branch)
		s.teardown(ctx, s.log, &d)
		unlock()
	}
}

func (s *Service) handleDeploy(ctx context.Context, req builder.DeploymentRequest) {
	log := s.log.With("build_id", req.BuildID, "project", req.Project)

	results, err := s.store.ListBuildResults(ctx, req.BuildID)
	if err != nil {
		log.Error("failed to list build results", "error", err)
		return
	}
	build, err := s.store.GetBuild(ctx, req.BuildID)
	if err != nil {
		log.Error("failed to load build", "error", err)
		return
	}
	services, err := s.store.ListServices(ctx, req.Project)
	if err != nil {
		log.Error("failed to list services", "error", err)
		return
	}

	branch := req.GitRef
	branchSlug := slugify(branch)

	for _, svc := range services {
		result := findResult(results, svc.Name)
		if result == nil || result.Status != domain.ResultSuccess {
			continue
		}
		key := fmt.Sprintf("%s/%s/%s", req.Project, branch, svc.Name)
		unlock := s.locks.Lock(key)
		func() {
			defer unlock()
			if svc.Kind == domain.KindStatic {
				s.deployStatic(ctx, log, svc, branch, branchSlug, build.CommitSHA, req.GitRef, result.StorePath)
			} else {
				s.deployService(ctx, log, svc, branch, branchSlug, build.CommitSHA, req.GitRef, result.StorePath)
			}
		}()
	}
}

func findResult(results []domain.BuildResult, name string) *domain.BuildResult {
	for i := range results {
		if results[i].ServiceName == name {
			return &results[i]
		}
	}
	return nil
}

func (s *Service) deployService(ctx context.Context, log *slog.Logger, svc domain.Service, branch, branchSlug, commitSHA, gitRef, storePath string) {
	pending := &domain.Deployment{
		ID:          uuid.NewString(),
		Project:     svc.Project,
		ServiceName: svc.Name,
		Branch:      branch,
		BranchSlug:  branchSlug,
		GitRef:      gitRef,
		CommitSHA:   commitSHA,
		StorePath:   storePath,
		Status:      domain.DeploymentPending,
		DNSStatus:   domain.DNSPending,
	}
	pending, err := s.store.UpsertPendingDeployment(ctx, pending)
	if err != nil {
		log.Error("failed to create pending deployment", "service", svc.Name, "error", err)
		return
	}
	log = log.With("deployment_id", pending.ID, "service", svc.Name, "branch", branch)

	port, err := allocatePort(ctx, s.store, s.cfg.PortRangeStart, s.cfg.PortRangeEnd, pending.ID)
	if err != nil {
		s.failDeployment(ctx, log, pending, "allocate port: "+err.Error())
		return
	}

	var databaseURL, valkeyEnvURL string
	if svc.PreviewDatabase {
		dbName := fmt.Sprintf("%s_%s", svc.Project, branchSlug)
		pd, err := allocatePreviewDatabase(ctx, s.store, svc.Project, branch, dbName, s.cfg.PreviewDBSlots)
		if err != nil {
			_ = s.store.ReleasePort(ctx, port)
			s.failDeployment(ctx, log, pending, "allocate preview database: "+err.Error())
			return
		}
		databaseURL = fmt.Sprintf("postgres:///%s", pd.Name)
		valkeyEnvURL = valkeyURL(s.cfg.ValkeyAddr, pd.Slot)
	}

	unit := unitName(svc.Project, branchSlug, svc.Name)
	if err := ensureSystemUser(ctx, unit); err != nil {
		s.releaseServiceResources(ctx, svc, branch, port)
		s.failDeployment(ctx, log, pending, "create system user: "+err.Error())
		return
	}

	entries := resolveSecrets(svc.Project, svc.Secrets)
	for k, v := range svc.Env {
		entries[k] = v
	}
	entries["PORT"] = portString(port)
	if databaseURL != "" {
		entries["DATABASE_URL"] = databaseURL
	}
	if valkeyEnvURL != "" {
		entries["VALKEY_URL"] = valkeyEnvURL
	}
	secretPath := fmt.Sprintf("%s/%s-%s-%s.env", s.cfg.SecretsDir, svc.Project, branchSlug, svc.Name)
	if err := writeSecretFile(secretPath, entries); err != nil {
		s.releaseServiceResources(ctx, svc, branch, port)
		s.failDeployment(ctx, log, pending, "write secrets: "+err.Error())
		return
	}
	_ = chownToUser(ctx, secretPath, unit)

	workDir := fmt.Sprintf("%s/%s/%s/%s", s.cfg.ServicesDir, svc.Project, branchSlug, svc.Name)
	if err := s.sup.writeUnit(ctx, unitSpec{
		Name:      unit,
		ExecStart: storePath + "/bin/" + svc.Name,
		EnvFile:   secretPath,
		User:      unit,
		WorkDir:   workDir,
	}); err != nil {
		s.releaseServiceResources(ctx, svc, branch, port)
		s.failDeployment(ctx, log, pending, "write unit: "+err.Error())
		return
	}
	if err := s.sup.enableAndStart(ctx, unit); err != nil {
		s.releaseServiceResources(ctx, svc, branch, port)
		s.failDeployment(ctx, log, pending, "start unit: "+err.Error())
		return
	}

	healthPath := svc.HealthCheck
	if healthPath == "" {
		healthPath = "/health"
	}
	healthURL := fmt.Sprintf("http://127.0.0.1:%d%s", port, healthPath)
	deadline := time.Duration(svc.HealthCheckTimeoutSecs) * time.Second
	if deadline <= 0 {
		deadline = s.cfg.HealthGateDeadline
	}
	if err := pollHealth(ctx, s.httpClient, healthURL, deadline); err != nil {
		_ = s.sup.stopAndDisable(ctx, unit)
		_ = s.sup.removeUnit(ctx, unit)
		s.releaseServiceResources(ctx, svc, branch, port)
		s.failDeployment(ctx, log, pending, err.Error())
		return
	}

	pending.StorePath = storePath
	pending.Port = &port
	pending.HealthURL = healthURL
	pending.Domain = svc.CustomDomain
	if pending.Domain == "" {
		pending.Domain = pending.Host(s.cfg.BaseDomain)
	}
	pending.DNSStatus = domain.DNSPending

	previousID, err := s.store.ActivateDeployment(ctx, pending)
	if err != nil {
		log.Error("failed to activate deployment", "error", err)
		return
	}
	log.Info("deployment active", "port", port, "domain", pending.Domain)

	s.reconcileDNS(ctx, log, pending)
	s.bus.Publish(bus.EventDeploymentActive, pending.ID)

	if previousID != "" {
		go s.retirePrevious(context.WithoutCancel(ctx), log, previousID)
	}
}

func (s *Service) deployStatic(ctx context.Context, log *slog.Logger, svc domain.Service, branch, branchSlug, commitSHA, gitRef, storePath string) {
	pending := &domain.Deployment{
		ID:          uuid.NewString(),
		Project:     svc.Project,
		ServiceName: svc.Name,
		Branch:      branch,
		BranchSlug:  branchSlug,
		GitRef:      gitRef,
		CommitSHA:   commitSHA,
		Status:      domain.DeploymentPending,
		DNSStatus:   domain.DNSPending,
	}
	pending, err := s.store.UpsertPendingDeployment(ctx, pending)
	if err != nil {
		log.Error("failed to create pending deployment", "service", svc.Name, "error", err)
		return
	}
	log = log.With("deployment_id", pending.ID, "service", svc.Name, "branch", branch)

	link, err := swapStaticSymlink(s.cfg.SitesDir, svc.Project, branchSlug, svc.Name, storePath)
	if err != nil {
		s.failDeployment(ctx, log, pending, "swap symlink: "+err.Error())
		return
	}

	pending.StaticPath = link
	pending.Domain = svc.CustomDomain
	if pending.Domain == "" {
		pending.Domain = pending.Host(s.cfg.BaseDomain)
	}

	previousID, err := s.store.ActivateDeployment(ctx, pending)
	if err != nil {
		log.Error("failed to activate static deployment", "error", err)
		return
	}
	log.Info("static deployment active", "domain", pending.Domain)

	s.reconcileDNS(ctx, log, pending)
	s.bus.Publish(bus.EventDeploymentActive, pending.ID)

	if previousID != "" {
		go s.retirePrevious(context.WithoutCancel(ctx), log, previousID)
	}
}

// retirePrevious waits out the blue-green drain delay, then tears the demoted
// deployment down so in-flight connections have time to finish against it.
func (s *Service) retirePrevious(ctx context.Context, log *slog.Logger, id string) {
	select {
	case <-time.After(s.cfg.BlueGreenDrainDelay):
	case <-ctx.Done():
		return
	}
	dep, err := s.store.GetDeployment(ctx, id)
	if err != nil {
		log.Warn("failed to load retired deployment", "id", id, "error", err)
		return
	}
	s.teardown(ctx, log, dep)
}

func (s *Service) releaseServiceResources(ctx context.Context, svc domain.Service, branch string, port int) {
	_ = s.store.ReleasePort(ctx, port)
	if svc.PreviewDatabase {
		if remaining, err := s.store.ListDeploymentsByBranch(ctx, svc.Project, branch); err == nil && len(remaining) <= 1 {
			s.releasePreviewDatabase(ctx, svc.Project, branch)
		}
	}
}

// releasePreviewDatabase flushes the in-memory-store slot before returning it
// to the pool so the next branch to claim it starts from an empty database.
func (s *Service) releasePreviewDatabase(ctx context.Context, project, branch string) {
	pd, err := s.store.GetPreviewDatabase(ctx, project, branch)
	if err != nil {
		s.log.Warn("preview database lookup failed before release", "project", project, "branch", branch, "error", err)
		return
	}
	if err := flushValkeySlot(ctx, s.cfg.ValkeyAddr, pd.Slot); err != nil {
		s.log.Warn("failed to flush valkey slot", "slot", pd.Slot, "error", err)
	}
	if err := s.store.ReleasePreviewDatabase(ctx, project, branch); err != nil {
		s.log.Warn("failed to release preview database", "project", project, "branch", branch, "error", err)
	}
}

func (s *Service) failDeployment(ctx context.Context, log *slog.Logger, d *domain.Deployment, reason string) {
	log.Error("deployment failed", "reason", reason)
	d.Status = domain.DeploymentFailed
	if err := s.store.UpdateDeployment(ctx, d); err != nil {
		log.Error("failed to record deployment failure", "error", err)
	}
}

func (s *Service) reconcileDNS(ctx context.Context, log *slog.Logger, d *domain.Deployment) {
	providerID, err := s.dnsProvider.CreateRecord(ctx, d.Domain)
	if err != nil {
		log.Warn("dns record creation failed", "domain", d.Domain, "error", err)
		d.DNSStatus = domain.DNSFailed
		_ = s.store.UpdateDeployment(ctx, d)
		return
	}
	d.DNSStatus = domain.DNSActive
	if err := s.store.UpdateDeployment(ctx, d); err != nil {
		log.Warn("failed to record dns status", "error", err)
	}
	record := &domain.DNSRecord{
		ID:           uuid.NewString(),
		Name:         d.Domain,
		DeploymentID: &d.ID,
		Project:      d.Project,
		ProviderID:   providerID,
		Type:         domain.DNSRecordA,
	}
	if err := s.store.CreateDNSRecord(ctx, record); err != nil {
		log.Warn("failed to persist dns record", "error", err)
	}
}

// handleTeardownBranch tears down every deployment on a branch, used on branch
// deletion or pull request close.
func (s *Service) handleTeardownBranch(ctx context.Context, req ingress.TeardownRequest) {
	log := s.log.With("project", req.Project, "branch", req.Branch)
	deployments, err := s.store.ListDeploymentsByBranch(ctx, req.Project, req.Branch)
	if err != nil {
		log.Error("failed to list deployments for branch teardown", "error", err)
		return
	}
	for i := range deployments {
		d := deployments[i]
		key := fmt.Sprintf("%s/%s/%s", d.Project, d.Branch, d.ServiceName)
		unlock := s.locks.Lock(key)
		s.teardown(ctx, log, &d)
		unlock()
	}
}

// teardown releases every resource a deployment holds and marks it torn_down.
// Grounded on the deploy flow's inverse: unit, secret, port, preview database,
// static symlink, and DNS records are each released defensively, tolerating
// partial prior teardowns so the sweeper can safely retry.
func (s *Service) teardown(ctx context.Context, log *slog.Logger, d *domain.Deployment) {
	log = log.With("deployment_id", d.ID, "service", d.ServiceName)
	if err := s.store.MarkTearingDown(ctx, d.ID); err != nil {
		log.Warn("failed to mark tearing down", "error", err)
	}

	if d.Port != nil {
		unit := unitName(d.Project, d.BranchSlug, d.ServiceName)
		if err := s.sup.stopAndDisable(ctx, unit); err != nil {
			log.Warn("failed to stop unit", "error", err)
		}
		if err := s.sup.removeUnit(ctx, unit); err != nil {
			log.Warn("failed to remove unit", "error", err)
		}
		secretPath := fmt.Sprintf("%s/%s-%s-%s.env", s.cfg.SecretsDir, d.Project, d.BranchSlug, d.ServiceName)
		_ = removeFile(secretPath)
		_ = s.store.ReleasePort(ctx, *d.Port)

		if remaining, err := s.store.ListDeploymentsByBranch(ctx, d.Project, d.Branch); err == nil {
			live := 0
			for _, r := range remaining {
				if r.ID != d.ID {
					live++
				}
			}
			if live == 0 {
				s.releasePreviewDatabase(ctx, d.Project, d.Branch)
			}
		}
	}

	if d.StaticPath != "" {
		if err := removeStaticSite(s.cfg.SitesDir, d.Project, d.BranchSlug, d.ServiceName); err != nil {
			log.Warn("failed to remove static site", "error", err)
		}
	}

	records, err := s.store.ListDNSRecordsByDeployment(ctx, d.ID)
	if err == nil {
		for _, r := range records {
			if err := s.dnsProvider.DeleteRecord(ctx, r.ProviderID); err != nil {
				log.Warn("failed to delete dns record", "provider_id", r.ProviderID, "error", err)
			}
		}
		_ = s.store.DeleteDNSRecordsByDeployment(ctx, d.ID)
	}

	d.Status = domain.DeploymentTornDown
	d.Port = nil
	if err := s.store.UpdateDeployment(ctx, d); err != nil {
		log.Error("failed to mark deployment torn down", "error", err)
		return
	}
	s.bus.Publish(bus.EventDeploymentTornDown, d.ID)
}

// autoExpirySweepLoop tears down stale non-default-branch deployments that have
// seen no build activity within their project's expiry window.
func (s *Service) autoExpirySweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AutoExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpiredDeployments(ctx)
		}
	}
}

func (s *Service) sweepExpiredDeployments(ctx context.Context) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		s.log.Error("auto-expiry: failed to list projects", "error", err)
		return
	}
	for _, p := range projects {
		window := p.ExpiryWindow
		if window <= 0 {
			window = s.cfg.DefaultExpiryWindow
		}
		cutoff := time.Now().UTC().Add(-window)
		stale, err := s.store.ListStaleActiveDeployments(ctx, cutoff, p.DefaultBranch)
		if err != nil {
			s.log.Error("auto-expiry: failed to list stale deployments", "project", p.Name, "error", err)
			continue
		}
		for i := range stale {
			d := stale[i]
			if d.Project != p.Name {
				continue
			}
			key := fmt.Sprintf("%s/%s/%s", d.Project, d.Branch, d.ServiceName)
			unlock := s.locks.Lock(key)
			s.log.Info("auto-expiry tearing down stale deployment", "deployment_id", d.ID, "project", d.Project, "branch", d.Branch)
			s.teardown(ctx, s.log, &d)
			unlock()
		}
	}
}

// logRetentionSweepLoop deletes build records (and their logs on disk) past the retention period.
func (s *Service) logRetentionSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.LogRetentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOldBuilds(ctx)
		}
	}
}

func (s *Service) sweepOldBuilds(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.RetentionPeriod)
	builds, err := s.store.ListBuildsOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("log retention: failed to list old builds", "error", err)
		return
	}
	for _, b := range builds {
		if s.cfg.LogDir != "" {
			logDir := filepath.Join(s.cfg.LogDir, b.ID)
			if err := os.RemoveAll(logDir); err != nil {
				s.log.Warn("log retention: failed to remove log directory", "build_id", b.ID, "path", logDir, "error", err)
				continue
			}
		}
		if err := s.store.DeleteBuild(ctx, b.ID); err != nil {
			s.log.Warn("log retention: failed to delete build", "build_id", b.ID, "error", err)
		}
	}

	tornDown, err := s.store.ListTornDownOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("log retention: failed to list old deployments", "error", err)
		return
	}
	for _, d := range tornDown {
		if err := s.store.DeleteDeployment(ctx, d.ID); err != nil {
			s.log.Warn("log retention: failed to delete deployment", "deployment_id", d.ID, "error", err)
		}
	}
}
