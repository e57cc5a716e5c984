// Package builder drains the build queue with a bounded pool of workers that
// clone a repository, parse its manifest, invoke the build tool per declared
// item, and publish deployment requests for a successful build.
package builder

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ScottyLabs/kennel/internal/bus"
	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/manifest"
	"github.com/ScottyLabs/kennel/internal/queue"
	"github.com/ScottyLabs/kennel/internal/store"
)

// DeploymentRequest is published to the deploy queue on a successful build.
type DeploymentRequest struct {
	BuildID string
	Project string
	GitRef  string
}

// Service is the builder component: a pool of workers draining the build queue.
type Service struct {
	store   store.Store
	buildQ  *queue.Queue[string]
	deployQ *queue.Queue[DeploymentRequest]
	bus     *bus.Bus
	pool    *pool
	ws      *workspaceManager
	logDir  string
	log     *slog.Logger
}

// Config configures the builder's directories and concurrency.
type Config struct {
	MaxConcurrent int
	WorkDir       string
	LogDir        string
}

// New constructs the builder Service.
func New(st store.Store, buildQueue *queue.Queue[string], deployQueue *queue.Queue[DeploymentRequest], eventBus *bus.Bus, cfg Config, log *slog.Logger) (*Service, error) {
	ws, err := newWorkspaceManager(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:   st,
		buildQ:  buildQueue,
		deployQ: deployQueue,
		bus:     eventBus,
		pool:    newPool(cfg.MaxConcurrent),
		ws:      ws,
		logDir:  cfg.LogDir,
		log:     log,
	}, nil
}

// Run drains the build queue until ctx is cancelled, dispatching each build to
// a worker goroutine bound by the pool's semaphore. It never blocks on a
// worker's progress, only on permit availability.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case buildID, ok := <-s.buildQ.Ready():
			if !ok {
				return
			}
			s.pool.acquire()
			go func(id string) {
				defer s.pool.release()
				s.build(ctx, id)
			}(buildID)
		}
	}
}

func (s *Service) build(ctx context.Context, buildID string) {
	log := s.log.With("build_id", buildID)

	b, err := s.store.GetBuild(ctx, buildID)
	if err != nil {
		log.Error("build lookup failed", "error", err)
		return
	}
	if b.Status == domain.BuildCancelled {
		return
	}

	now := time.Now().UTC()
	if err := s.store.UpdateBuildStatus(ctx, buildID, domain.BuildBuilding, &now, nil); err != nil {
		log.Error("failed to mark build building", "error", err)
		return
	}

	project, err := s.store.GetProject(ctx, b.Project)
	if err != nil {
		s.fail(ctx, log, b, "load project: "+err.Error())
		return
	}

	repoDir, err := s.ws.prepare(buildID)
	if err != nil {
		s.fail(ctx, log, b, "prepare workspace: "+err.Error())
		return
	}
	defer func() {
		if err := s.ws.cleanup(buildID); err != nil {
			log.Warn("workspace cleanup failed", "error", err)
		}
	}()

	if err := cloneAndCheckout(ctx, project.CloneURL, repoDir, b.CommitSHA); err != nil {
		s.fail(ctx, log, b, "clone: "+err.Error())
		return
	}

	if s.cancelled(ctx, log, buildID) {
		return
	}

	man, err := manifest.FindAndParse(repoDir)
	if err != nil {
		s.fail(ctx, log, b, "manifest: "+err.Error())
		return
	}

	if s.cancelled(ctx, log, buildID) {
		return
	}

	items := make([]buildDeclaration, 0, len(man.Services)+len(man.StaticSites))
	for name, svc := range man.Services {
		items = append(items, buildDeclaration{name: name, flakeOutput: svc.FlakeOutput, service: &svc})
	}
	for name, site := range man.StaticSites {
		items = append(items, buildDeclaration{name: name, flakeOutput: site.FlakeOutput, site: &site})
	}

	services, allSucceeded := s.buildDeclarations(ctx, b, items)

	if err := s.store.ReplaceServices(ctx, b.Project, services); err != nil {
		log.Warn("failed to persist service declarations", "error", err)
	}

	if man.Cachix.CacheName != "" {
		s.pushCache(ctx, log, b, man.Cachix)
	}

	finished := time.Now().UTC()
	status := domain.BuildFailed
	if allSucceeded {
		status = domain.BuildSuccess
	}
	if err := s.store.UpdateBuildStatus(ctx, buildID, status, nil, &finished); err != nil {
		log.Error("failed to finalize build status", "error", err)
	}
	s.bus.Publish(bus.EventBuildFinished, buildID)

	if status == domain.BuildSuccess {
		req := DeploymentRequest{BuildID: buildID, Project: b.Project, GitRef: b.GitRef}
		s.deployQ.Enqueue(req)
	}
}

// cancelled re-reads the build's status so a cancellation raised while a
// stage was running (clone, manifest parse) stops the pipeline before the
// next, more expensive stage starts.
func (s *Service) cancelled(ctx context.Context, log *slog.Logger, buildID string) bool {
	b, err := s.store.GetBuild(ctx, buildID)
	if err != nil {
		log.Error("build lookup failed", "error", err)
		return true
	}
	return b.Status == domain.BuildCancelled
}

// maxConcurrentItemBuilds bounds how many of a single build's declared
// services and static sites are built at once; nix build already parallelizes
// derivations internally, so this only limits how many top-level invocations run at a time.
const maxConcurrentItemBuilds = 4

// buildDeclaration is one manifest-declared service or static site awaiting a build.
type buildDeclaration struct {
	name        string
	flakeOutput string
	service     *manifest.Service
	site        *manifest.StaticSite
}

// buildDeclarations builds every declared item concurrently and returns the
// resulting service records in the order of items, plus whether all items succeeded.
func (s *Service) buildDeclarations(ctx context.Context, b *domain.Build, items []buildDeclaration) ([]domain.Service, bool) {
	services := make([]domain.Service, len(items))
	failed := make([]bool, len(items))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentItemBuilds)
	for i, item := range items {
		i, item := i, item
		group.Go(func() error {
			result := s.buildOne(groupCtx, b, item.name, item.flakeOutput)
			failed[i] = result.Status != domain.ResultSuccess
			services[i] = declarationToService(b.Project, item)
			return nil
		})
	}
	_ = group.Wait()

	allSucceeded := true
	for _, f := range failed {
		if f {
			allSucceeded = false
			break
		}
	}
	return services, allSucceeded
}

func declarationToService(project string, item buildDeclaration) domain.Service {
	if item.site != nil {
		return domain.Service{
			Project:      project,
			Name:         item.name,
			Kind:         domain.KindStatic,
			FlakeOutput:  item.site.FlakeOutput,
			CustomDomain: item.site.CustomDomain,
			IsSPA:        item.site.SPA,
		}
	}
	svc := item.service
	return domain.Service{
		Project:                project,
		Name:                   item.name,
		Kind:                   domain.KindService,
		FlakeOutput:            svc.FlakeOutput,
		CustomDomain:           svc.CustomDomain,
		HealthCheck:            svc.HealthCheck,
		HealthCheckTimeoutSecs: svc.HealthCheckTimeoutSecs,
		PreviewDatabase:        svc.PreviewDatabase,
		Secrets:                svc.Secrets,
		Env:                    svc.Env,
	}
}

func (s *Service) buildOne(ctx context.Context, b *domain.Build, itemName, flakeOutput string) *domain.BuildResult {
	log := s.log.With("build_id", b.ID, "item", itemName)

	result := &domain.BuildResult{
		ID:      uuid.NewString(),
		BuildID: b.ID,
		ServiceName: itemName,
		Status:  domain.ResultBuilding,
	}
	started := time.Now().UTC()
	result.StartedAt = &started
	if err := s.store.CreateBuildResult(ctx, result); err != nil {
		log.Error("failed to record build result start", "error", err)
	}

	repoDir := filepath.Join(s.workDirFor(b.ID), "repo")
	logPath := filepath.Join(s.logDir, b.ID, itemName+".log")

	tail := newLineBroadcaster(s.bus, b.ID, itemName)
	item := invokeBuildTool(ctx, repoDir, flakeOutput, logPath, tail)
	finished := time.Now().UTC()
	result.FinishedAt = &finished
	result.LogPath = item.LogPath

	if item.Err != nil {
		result.Status = domain.ResultFailed
		result.Error = item.Err.Error()
		log.Warn("item build failed", "error", item.Err)
		_ = s.store.UpdateBuildResult(ctx, result)
		return result
	}

	result.StorePath = item.StorePath
	result.Changed = s.detectChanged(ctx, b.Project, b.GitRef, itemName, item.StorePath)
	result.Status = domain.ResultSuccess
	if err := s.store.UpdateBuildResult(ctx, result); err != nil {
		log.Error("failed to record build result", "error", err)
	}
	return result
}

// detectChanged reports whether storePath differs from the last five successful
// results for the same (project, ref, item); a match still deploys, since env
// or secret values may have drifted independent of the store path.
func (s *Service) detectChanged(ctx context.Context, project, gitRef, item, storePath string) bool {
	recent, err := s.store.RecentSuccessfulResults(ctx, project, gitRef, item, 5)
	if err != nil {
		return true
	}
	for _, r := range recent {
		if r.StorePath == storePath {
			return false
		}
	}
	return true
}

func (s *Service) pushCache(ctx context.Context, log *slog.Logger, b *domain.Build, cachix manifest.Cachix) {
	results, err := s.store.ListBuildResults(ctx, b.ID)
	if err != nil {
		log.Warn("cache push: failed to list results", "error", err)
		return
	}
	for _, r := range results {
		if r.Status != domain.ResultSuccess {
			continue
		}
		if err := pushToCachix(ctx, cachix.CacheName, cachix.AuthTokenFile, r.StorePath); err != nil {
			log.Warn("cache push failed", "item", r.ServiceName, "error", err)
		}
	}
}

func (s *Service) fail(ctx context.Context, log *slog.Logger, b *domain.Build, reason string) {
	log.Error("build failed", "reason", reason)
	finished := time.Now().UTC()
	if err := s.store.UpdateBuildStatus(ctx, b.ID, domain.BuildFailed, nil, &finished); err != nil {
		log.Error("failed to record build failure", "error", err)
	}
	s.bus.Publish(bus.EventBuildFinished, b.ID)
}

func (s *Service) workDirFor(buildID string) string {
	return filepath.Join(s.ws.root, buildID)
}
