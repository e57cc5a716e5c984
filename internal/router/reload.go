package router

import (
	"context"

	"github.com/ScottyLabs/kennel/internal/domain"
	"github.com/ScottyLabs/kennel/internal/store"
)

// reload rebuilds the table from every active deployment. Health status of
// previously known hosts survives the reload: a host already quarantined
// stays quarantined until the checker sees it recover.
func reload(ctx context.Context, st store.Store, table *Table) error {
	deployments, err := st.ListActiveDeployments(ctx)
	if err != nil {
		return err
	}
	previous := table.Snapshot()

	spaByProject := make(map[string]map[string]bool)

	routes := make(map[string]Route, len(deployments))
	for _, d := range deployments {
		if d.Status != domain.DeploymentActive || d.Domain == "" {
			continue
		}
		r := Route{DeploymentID: d.ID, HealthURL: d.HealthURL, Healthy: true}
		if d.Port != nil {
			r.Kind = RouteService
			r.Port = *d.Port
		} else {
			r.Kind = RouteStatic
			r.StaticPath = d.StaticPath
			r.SPA = isSPA(ctx, st, spaByProject, d.Project, d.ServiceName)
		}
		if prev, ok := previous[d.Domain]; ok && prev.DeploymentID == d.ID {
			r.Healthy = prev.Healthy
		}
		routes[d.Domain] = r
	}

	table.Replace(routes)
	return nil
}

// isSPA looks up whether a project's static site is declared spa = true,
// caching each project's service list for the duration of one reload.
func isSPA(ctx context.Context, st store.Store, cache map[string]map[string]bool, project, service string) bool {
	byName, ok := cache[project]
	if !ok {
		byName = make(map[string]bool)
		if services, err := st.ListServices(ctx, project); err == nil {
			for _, svc := range services {
				byName[svc.Name] = svc.IsSPA
			}
		}
		cache[project] = byName
	}
	return byName[service]
}
