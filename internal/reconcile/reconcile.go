// Package reconcile runs a one-shot startup pass that reconciles Kennel's
// persisted state against the host: it fails builds a crash left queued or
// building, finishes interrupted teardowns, releases resources whose owning deployment no longer claims them, and
// removes supervisor units left behind by a deployment that never finished
// tearing down.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/store"
)

// Config points reconciliation at the supervisor's unit directory and binary.
type Config struct {
	UnitDir       string
	SupervisorBin string
}

// TeardownResumer finishes deployments a crashed process left half torn down.
// internal/deployer.Service implements this by rerunning its normal teardown
// path against every deployment still marked tearing_down.
type TeardownResumer interface {
	ResumeTeardowns(ctx context.Context)
}

// Run performs a single reconciliation pass.
func Run(ctx context.Context, st store.Store, cfg Config, resumer TeardownResumer, log *slog.Logger) {
	reconcileStuckBuilds(ctx, st, log)
	reconcileTearingDown(ctx, resumer, log)
	reconcileStrandedPorts(ctx, st, log)
	reconcileOrphanedUnits(ctx, st, cfg, log)
}

// reconcileTearingDown resumes deployments interrupted mid-teardown by a crash,
// so their held port, unit, and preview database don't leak forever.
func reconcileTearingDown(ctx context.Context, resumer TeardownResumer, log *slog.Logger) {
	if resumer == nil {
		return
	}
	resumer.ResumeTeardowns(ctx)
}

// reconcileStuckBuilds marks builds a crashed process left "queued" or
// "building" as failed.
func reconcileStuckBuilds(ctx context.Context, st store.Store, log *slog.Logger) {
	stuck, err := st.ListStuckBuilds(ctx)
	if err != nil {
		log.Error("reconcile: failed to list stuck builds", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, b := range stuck {
		if err := st.UpdateBuildStatus(ctx, b.ID, domain.BuildFailed, nil, &now); err != nil {
			log.Warn("reconcile: failed to fail stuck build", "build_id", b.ID, "error", err)
			continue
		}
		log.Info("reconcile: marked stuck build failed", "build_id", b.ID, "project", b.Project)
	}
}

// reconcileStrandedPorts releases port allocations whose owning deployment
// has already torn down or no longer exists.
func reconcileStrandedPorts(ctx context.Context, st store.Store, log *slog.Logger) {
	ports, err := st.ListPorts(ctx)
	if err != nil {
		log.Error("reconcile: failed to list ports", "error", err)
		return
	}
	for _, p := range ports {
		if p.DeploymentID == nil {
			continue
		}
		dep, err := st.GetDeployment(ctx, *p.DeploymentID)
		stranded := err != nil || dep.Status == domain.DeploymentTornDown
		if !stranded {
			continue
		}
		if err := st.ReleasePort(ctx, p.Port); err != nil {
			log.Warn("reconcile: failed to release stranded port", "port", p.Port, "error", err)
			continue
		}
		log.Info("reconcile: released stranded port", "port", p.Port, "deployment_id", *p.DeploymentID)
	}
}

// reconcileOrphanedUnits removes kennel-managed unit files with no
// corresponding active deployment, left behind by a crash mid-teardown.
func reconcileOrphanedUnits(ctx context.Context, st store.Store, cfg Config, log *slog.Logger) {
	entries, err := os.ReadDir(cfg.UnitDir)
	if err != nil {
		log.Warn("reconcile: failed to list unit directory", "dir", cfg.UnitDir, "error", err)
		return
	}

	active, err := st.ListActiveDeployments(ctx)
	if err != nil {
		log.Error("reconcile: failed to list active deployments", "error", err)
		return
	}
	live := make(map[string]struct{}, len(active))
	for _, d := range active {
		if d.Port == nil {
			continue
		}
		live[unitNameFor(d)] = struct{}{}
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "kennel-") || !strings.HasSuffix(name, ".service") {
			continue
		}
		unit := strings.TrimSuffix(name, ".service")
		if _, ok := live[unit]; ok {
			continue
		}
		if cfg.SupervisorBin != "" {
			_ = exec.CommandContext(ctx, cfg.SupervisorBin, "disable", "--now", name).Run()
		}
		path := filepath.Join(cfg.UnitDir, name)
		if err := os.Remove(path); err != nil {
			log.Warn("reconcile: failed to remove orphaned unit", "unit", unit, "error", err)
			continue
		}
		log.Info("reconcile: removed orphaned unit", "unit", unit)
	}
}

func unitNameFor(d domain.Deployment) string {
	return fmt.Sprintf("kennel-%s-%s-%s", d.Project, d.BranchSlug, d.ServiceName)
}
