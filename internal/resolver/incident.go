package resolver

import (
	"context"
	"strings"

	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
)

// LookupIncidentPackage finds the newest in-flight maintenance incident
// carrying a fix for the candidate's package. Only maintenance projects
// both referenced by the link-target project and tagged as approved
// maintenance coordinators are considered. Among several incidents the
// one with the highest incident number wins. Returns nil when no
// incident applies.
func LookupIncidentPackage(ctx context.Context, acc graph.Accessor, cand Candidate) (*model.Package, error) {
	pkg, ok := cand.Ref.Local()
	if !ok {
		return nil, nil
	}
	linkTarget, err := acc.GetProject(ctx, cand.LinkTargetProject)
	if err != nil || linkTarget == nil {
		return nil, err
	}
	if len(linkTarget.MaintenanceProjects) == 0 {
		return nil, nil
	}

	approved, err := approvedMaintenanceProjects(ctx, acc)
	if err != nil {
		return nil, err
	}

	linking, err := acc.PackagesLinkingTo(ctx, model.PackageID{Project: linkTarget.Name, Name: pkg.Name})
	if err != nil {
		return nil, err
	}

	var best *model.Package
	bestNum := -1
	for _, mpName := range linkTarget.MaintenanceProjects {
		if !approved[mpName] {
			continue
		}
		for _, lp := range linking {
			if !strings.HasPrefix(lp.Project, mpName+":") {
				continue
			}
			owner, err := acc.GetProject(ctx, lp.Project)
			if err != nil {
				return nil, err
			}
			if owner == nil || !owner.IsMaintenanceIncident() || owner.Released {
				continue
			}
			if num := owner.IncidentNumber(); num > bestNum {
				best = lp
				bestNum = num
			}
		}
	}
	return best, nil
}

// approvedMaintenanceProjects collects the names of every project
// tagged as a maintenance coordinator.
func approvedMaintenanceProjects(ctx context.Context, acc graph.Accessor) (map[string]bool, error) {
	projects, err := acc.FindProjectsByAttribute(ctx, model.AttrMaintenanceProject)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(projects))
	for _, p := range projects {
		out[p.Name] = true
	}
	return out, nil
}
