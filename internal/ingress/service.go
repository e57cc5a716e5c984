// Package ingress verifies and parses inbound webhooks, then enqueues builds.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ScottyLabs/kennel/internal/bus"
	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/kennelerr"
	"github.com/ScottyLabs/kennel/internal/queue"
	"github.com/ScottyLabs/kennel/internal/store"
)

// Service implements the webhook ingest contract.
type Service struct {
	store     store.Store
	buildQ    *queue.Queue[string]
	teardownQ *queue.Queue[TeardownRequest]
	bus       *bus.Bus
	log       *slog.Logger
}

// New constructs an ingress Service.
func New(st store.Store, buildQueue *queue.Queue[string], teardownQueue *queue.Queue[TeardownRequest], eventBus *bus.Bus, log *slog.Logger) *Service {
	return &Service{store: st, buildQ: buildQueue, teardownQ: teardownQueue, bus: eventBus, log: log}
}

// TeardownRequest asks the deployer to retire every deployment on a branch.
type TeardownRequest struct {
	Project string
	Branch  string
}

// Outcome distinguishes a webhook that produced a build from one that didn't,
// so the HTTP layer can return 202 Accepted (no build queued) versus 200 OK
// (build queued or replayed) as the spec's response taxonomy requires.
type Outcome int

const (
	// OutcomeEnqueued means a build was queued, or an identical build was
	// already queued for this ref/commit (idempotent replay).
	OutcomeEnqueued Outcome = iota
	// OutcomeNoBuild means the event was recognized but produced no build:
	// a branch deletion, a closed pull request, or an event kind we ignore.
	OutcomeNoBuild
)

// HandleWebhook resolves the project, verifies the signature, parses the event, and
// enqueues a build (or a teardown) as appropriate. Returns an error from kennelerr's
// taxonomy so the HTTP layer can map it to a status code.
func (s *Service) HandleWebhook(ctx context.Context, projectName string, eventHeader string, signatureHeader string, body []byte) (Outcome, error) {
	project, err := s.store.GetProject(ctx, projectName)
	if err != nil {
		if errors.Is(err, kennelerr.ErrNotFound) {
			return OutcomeNoBuild, fmt.Errorf("%w: project %q", kennelerr.ErrNotFound, projectName)
		}
		return OutcomeNoBuild, err
	}

	if err := verifySignature(body, project.WebhookSecret, signatureHeader); err != nil {
		s.log.Warn("webhook signature mismatch", "project", projectName)
		return OutcomeNoBuild, fmt.Errorf("%w: %s", kennelerr.ErrUnauthorized, err)
	}

	event, err := parseEvent(eventHeader, body)
	if err != nil {
		return OutcomeNoBuild, fmt.Errorf("%w: %s", kennelerr.ErrBadRequest, err)
	}

	switch event.Kind {
	case eventIgnored:
		return OutcomeNoBuild, nil
	case eventTeardownBranch:
		if !s.teardownQ.TryEnqueue(TeardownRequest{Project: projectName, Branch: event.GitRef}) {
			s.log.Warn("teardown queue full, dropping teardown request", "project", projectName, "ref", event.GitRef)
		}
		return OutcomeNoBuild, nil
	case eventBuild:
		return s.enqueueBuild(ctx, projectName, event)
	default:
		return OutcomeNoBuild, fmt.Errorf("%w: unrecognized event", kennelerr.ErrBadRequest)
	}
}

func (s *Service) enqueueBuild(ctx context.Context, project string, event parsedEvent) (Outcome, error) {
	existing, err := s.store.GetBuildByRef(ctx, project, event.GitRef, event.CommitSHA)
	if err == nil {
		s.log.Info("idempotent webhook replay", "project", project, "ref", event.GitRef, "commit", event.CommitSHA, "build", existing.ID)
		return OutcomeEnqueued, nil
	}
	if !errors.Is(err, kennelerr.ErrNotFound) {
		return OutcomeNoBuild, err
	}

	build := &domain.Build{
		ID:          uuid.NewString(),
		Project:     project,
		GitRef:      event.GitRef,
		CommitSHA:   event.CommitSHA,
		Status:      domain.BuildQueued,
		TriggerKind: triggerKind(event.GitRef),
		TriggeredBy: event.Pusher,
	}
	if err := s.store.CreateBuild(ctx, build); err != nil {
		return OutcomeNoBuild, err
	}

	select {
	case <-ctx.Done():
		return OutcomeNoBuild, ctx.Err()
	default:
	}

	if !s.buildQ.TryEnqueue(build.ID) {
		s.log.Warn("build queue full, rejecting webhook", "project", project, "ref", event.GitRef)
		now := time.Now().UTC()
		if err := s.store.UpdateBuildStatus(ctx, build.ID, domain.BuildFailed, nil, &now); err != nil {
			s.log.Warn("failed to mark rejected build failed", "build_id", build.ID, "error", err)
		}
		return OutcomeNoBuild, fmt.Errorf("%w: build queue is full", kennelerr.ErrServiceUnavailable)
	}

	s.bus.Publish(bus.EventBuildQueued, build.ID)
	return OutcomeEnqueued, nil
}

func triggerKind(gitRef string) domain.TriggerKind {
	if len(gitRef) > 3 && gitRef[:3] == "pr-" {
		return domain.TriggerPullRequest
	}
	return domain.TriggerPush
}
