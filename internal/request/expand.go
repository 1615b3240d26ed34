// Package request expands abstract change-request actions into concrete
// source to target actions. One template action fans out to zero or more
// fully qualified actions by walking the link graph, applying
// maintenance release routing and gating on build completion.
package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/papapumpkin/magnetar/internal/backend"
	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
	"github.com/papapumpkin/magnetar/internal/telemetry"
)

// Options adjust one expansion run.
type Options struct {
	// IgnoreBuildState skips the maintenance-release build gate.
	IgnoreBuildState bool
	// IgnoreDelegate skips target re-resolution for delegating projects.
	IgnoreDelegate bool
	// Telemetry receives structured events per expansion step. Nil
	// disables emission.
	Telemetry *telemetry.Emitter
}

// Expand resolves one template action into its concrete actions. Actions
// whose computed diff is empty are dropped silently; an empty result is
// not an error.
func Expand(ctx context.Context, acc graph.Accessor, be backend.Client, action model.RequestAction, opts Options) ([]model.RequestAction, error) {
	tele := opts.Telemetry

	if action.IsSubmit() && !opts.IgnoreDelegate && action.TargetProject != "" {
		var err error
		action, err = delegateTarget(ctx, acc, action)
		if err != nil {
			return nil, err
		}
	}

	// Empty submission protection: a submit against an existing target
	// with no change is dropped entirely.
	if (action.IsSubmit() || action.IsMaintenanceIncident()) && action.TargetPackage != "" {
		existing, err := acc.GetPackage(ctx, action.TargetProject, action.TargetPackage)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			changed, err := containsChange(ctx, be, action)
			if err != nil {
				return nil, err
			}
			if !changed {
				tele.Record(telemetry.KindActionDropped, action.TargetProject, action.TargetPackage, map[string]string{"reason": "no change"})
				return nil, nil
			}
			return []model.RequestAction{action}, nil
		}
	}

	// Fully specified already.
	if action.TargetPackage != "" &&
		(action.IsSubmit() || action.IsRelease() || action.IsMaintenanceRelease()) {
		return []model.RequestAction{action}, nil
	}

	if (action.IsRelease() || action.IsMaintenanceIncident()) &&
		action.TargetReleaseProject != "" && action.SourcePackage != "" {
		rp, err := graph.UpdateInstance(ctx, acc, action.TargetReleaseProject, model.AttrUpdateProject)
		if err != nil {
			return nil, err
		}
		if rp == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTargetProject, action.TargetReleaseProject)
		}
		action.TargetReleaseProject = rp.Name
		return []model.RequestAction{action}, nil
	}

	switch action.Type {
	case model.ActionSubmit, model.ActionRelease, model.ActionMaintenanceRelease, model.ActionMaintenanceIncident:
		sources, err := collectSources(ctx, acc, action)
		if err != nil {
			return nil, err
		}
		return expandPackages(ctx, acc, be, action, sources, opts)
	}
	return []model.RequestAction{action}, nil
}

// delegateTarget follows the target project's own link graph when it
// declares itself as delegating requests.
func delegateTarget(ctx context.Context, acc graph.Accessor, action model.RequestAction) (model.RequestAction, error) {
	tprj, err := acc.GetProject(ctx, action.TargetProject)
	if err != nil {
		return action, err
	}
	if tprj == nil || !tprj.DelegatesRequests {
		return action, nil
	}
	name := action.TargetPackage
	if name == "" {
		name = action.SourcePackage
	}
	tpkg, _, err := graph.FindPackage(ctx, acc, action.TargetProject, name, graph.FindOptions{
		FollowProjectLinks: true,
		FollowMultibuild:   true,
		CheckUpdateProject: true,
	})
	if err != nil {
		return action, err
	}
	if tpkg == nil {
		return action, nil
	}
	owner, err := graph.UpdateInstance(ctx, acc, tpkg.Project, model.AttrUpdateProject)
	if err != nil {
		return action, err
	}
	action.TargetProject = owner.Name
	return action, nil
}

// collectSources resolves the action's source spec to concrete local
// packages: one named package or every package of the source project.
func collectSources(ctx context.Context, acc graph.Accessor, action model.RequestAction) ([]*model.Package, error) {
	sprj, err := graph.RequireProject(ctx, acc, action.SourceProject)
	if err != nil {
		return nil, err
	}
	if sprj.Remote {
		return nil, fmt.Errorf("%w: %s", ErrRemoteSource, action.SourceProject)
	}
	if action.SourcePackage != "" {
		pkg, err := graph.RequirePackage(ctx, acc, action.SourceProject, action.SourcePackage)
		if err != nil {
			return nil, err
		}
		return []*model.Package{pkg}, nil
	}
	return acc.ProjectPackages(ctx, action.SourceProject)
}

// unwoundLink is the result of following a package's same-project link
// chain until it leaves the project or ends.
type unwoundLink struct {
	// linkPackage is the effective link package name after unwinding.
	linkPackage string
	// suffix accumulated while unwinding, e.g. ".openSUSE_15.6".
	suffix string
	// target is the project the chain leads into; nil when the package
	// carries no cross-project link.
	target *model.Project
	// crossLink reports whether the chain left the source project.
	crossLink bool
	// missingOK reports whether any link on the chain tolerates a
	// missing target.
	missingOK bool
}

// unwindLocalLinks follows same-project links so packages with multiple
// build descriptions collapse to their real source container. A seen
// set terminates cyclic link chains.
func unwindLocalLinks(ctx context.Context, acc graph.Accessor, be backend.Client, pkg *model.Package) (unwoundLink, error) {
	u := unwoundLink{linkPackage: pkg.Name}
	project := pkg.Project
	seen := map[string]bool{u.linkPackage: true}
	for {
		rec, err := be.LinkInfo(ctx, project, u.linkPackage)
		if errors.Is(err, backend.ErrNotFound) {
			return u, nil
		}
		if err != nil {
			return u, err
		}
		u.suffix = strings.TrimPrefix(u.linkPackage, rec.Package)
		u.linkPackage = rec.Package
		if seen[u.linkPackage] {
			return u, nil
		}
		seen[u.linkPackage] = true
		if rec.MissingOK {
			u.missingOK = true
		}
		if rec.Project != "" && rec.Project != pkg.Project {
			target, err := acc.GetProject(ctx, rec.Project)
			if err != nil {
				return u, err
			}
			u.target = target
			u.crossLink = true
			return u, nil
		}
	}
}

// expandPackages is the per-source fan-out: one template action becomes
// zero or more concrete actions, one per package that really changes.
func expandPackages(ctx context.Context, acc graph.Accessor, be backend.Client, action model.RequestAction, sources []*model.Package, opts Options) ([]model.RequestAction, error) {
	tele := opts.Telemetry

	// The maintenance ID is the last segment of the incident project.
	incidentSuffix := ""
	if action.IsMaintenanceRelease() {
		incidentSuffix = "." + lastSegment(action.SourceProject)
	}

	foundPatchinfo := false
	var newPackages []*model.Package
	var newTargets []string
	var out []model.RequestAction

	for _, pkg := range sources {
		u, err := unwindLocalLinks(ctx, acc, be, pkg)
		if err != nil {
			return nil, err
		}

		tpkgName, err := targetPackageName(ctx, be, action, pkg, u)
		if err != nil {
			return nil, err
		}

		tprj := u.target
		releaseProject := ""
		if action.IsMaintenanceIncident() {
			releaseProject, err = resolveReleaseProject(ctx, acc, action, tprj)
			if err != nil {
				return nil, err
			}
		}
		if action.TargetProject != "" {
			tprj, err = graph.RequireProject(ctx, acc, action.TargetProject)
			if err != nil {
				return nil, err
			}
		}
		if tprj == nil && !action.IsMaintenanceRelease() && !action.IsRelease() {
			return nil, fmt.Errorf("%w: no target for %s/%s", ErrUnknownTargetProject, pkg.Project, pkg.Name)
		}

		// Release requests without finished binaries are refused.
		if action.IsMaintenanceRelease() && pkg.IsPatchinfo() && !opts.IgnoreBuildState {
			if err := checkBuildState(ctx, acc, be, pkg, tele); err != nil {
				return nil, err
			}
			foundPatchinfo = true
		}

		if action.IsMaintenanceRelease() && tprj != nil {
			tprj, err = rerouteIncidentTarget(ctx, acc, pkg, tprj, tele)
			if err != nil {
				return nil, err
			}
		}

		if !u.missingOK {
			isNew, err := isNewPackage(ctx, acc, u, tprj)
			if err != nil {
				return nil, err
			}
			if isNew {
				if action.IsMaintenanceRelease() || action.IsRelease() {
					targets, err := releaseTargetProjects(ctx, acc, pkg.Project, "")
					if err != nil {
						return nil, err
					}
					newTargets = append(newTargets, targets...)
					newPackages = append(newPackages, pkg)
					continue
				}
				if !action.IsMaintenanceIncident() && !action.IsSubmit() {
					return nil, fmt.Errorf("%w: %s", ErrUnknownTargetPackage, tpkgName)
				}
			}
		}

		na := action
		na.SourcePackage = pkg.Name
		switch {
		case action.IsMaintenanceIncident():
			if tprj != nil {
				newTargets = append(newTargets, tprj.Name)
			}
			na.TargetReleaseProject = releaseProject
		case !pkg.IsChannel():
			if tprj == nil {
				return nil, fmt.Errorf("%w: no target for %s/%s", ErrUnknownTargetProject, pkg.Project, pkg.Name)
			}
			newTargets = append(newTargets, tprj.Name)
			na.TargetProject = tprj.Name
			na.TargetPackage = tpkgName + incidentSuffix
		}

		if action.IsMaintenanceRelease() || action.IsRelease() {
			if pkg.IsChannel() {
				if tprj == nil {
					return nil, fmt.Errorf("%w: no target for channel %s/%s", ErrUnknownTargetProject, pkg.Project, pkg.Name)
				}
				// Channel containers go through review as a submit so the
				// receiving side sees the container file changes.
				na = model.RequestAction{
					Type:          model.ActionSubmit,
					SourceProject: na.SourceProject,
					SourcePackage: na.SourcePackage,
					SourceRev:     na.SourceRev,
					TargetProject: tprj.Name,
					TargetPackage: tpkgName,
				}
			} else {
				match, err := hasMatchingTarget(ctx, acc, pkg.Project, tprj.Name)
				if err != nil {
					return nil, err
				}
				if !match {
					tele.Record(telemetry.KindActionDropped, pkg.Project, pkg.Name, map[string]string{"reason": "no release target"})
					continue
				}
			}
		}

		if na.IsSubmit() || na.IsMaintenanceIncident() {
			changed, err := containsChange(ctx, be, na)
			if err != nil {
				return nil, err
			}
			if !changed {
				tele.Record(telemetry.KindActionDropped, na.SourceProject, na.SourcePackage, map[string]string{"reason": "no change"})
				continue
			}
		}
		tele.Record(telemetry.KindActionExpanded, na.TargetProject, na.TargetPackage, string(na.Type))
		out = append(out, na)
	}

	if action.IsMaintenanceRelease() && !foundPatchinfo && !opts.IgnoreBuildState {
		return nil, ErrMissingPatchinfo
	}

	fanned, err := fanOutNewPackages(ctx, acc, action, newPackages, uniqueStrings(newTargets), incidentSuffix, tele)
	if err != nil {
		return nil, err
	}
	return append(out, fanned...), nil
}

// targetPackageName picks the concrete target name, in priority order:
// explicit name, stored release name, incident link info, own name with
// the unwound suffix stripped.
func targetPackageName(ctx context.Context, be backend.Client, action model.RequestAction, pkg *model.Package, u unwoundLink) (string, error) {
	switch {
	case action.TargetPackage != "":
		return action.TargetPackage, nil
	case pkg.ReleaseName != "" && action.IsMaintenanceRelease():
		return pkg.ReleaseName, nil
	case u.target != nil && u.target.IsMaintenanceIncident() && action.IsMaintenanceRelease():
		rec, err := be.LinkInfo(ctx, u.target.Name, u.linkPackage)
		if err != nil && !errors.Is(err, backend.ErrNotFound) {
			return "", err
		}
		if rec != nil {
			return rec.Package, nil
		}
	}
	// Strip the distro specific extension accumulated while unwinding.
	return strings.TrimSuffix(pkg.Name, u.suffix), nil
}

// resolveReleaseProject determines the release project of a maintenance
// incident action: the explicit one or the link-chain target, update
// instance applied.
func resolveReleaseProject(ctx context.Context, acc graph.Accessor, action model.RequestAction, tprj *model.Project) (string, error) {
	name := action.TargetReleaseProject
	if name == "" && tprj != nil {
		name = tprj.Name
	}
	if name == "" {
		return "", nil
	}
	rp, err := graph.UpdateInstance(ctx, acc, name, model.AttrUpdateProject)
	if err != nil {
		return "", err
	}
	if rp == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTargetProject, name)
	}
	return rp.Name, nil
}

// rerouteIncidentTarget redirects a release aimed at another incident to
// the single maintenance-triggered release target of the source, for
// live-patch style chains building against GM or a former incident.
func rerouteIncidentTarget(ctx context.Context, acc graph.Accessor, pkg *model.Package, tprj *model.Project, tele *telemetry.Emitter) (*model.Project, error) {
	updated, err := graph.UpdateInstance(ctx, acc, tprj.Name, model.AttrUpdateProject)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		tprj = updated
	}
	if !tprj.IsMaintenanceIncident() {
		return tprj, nil
	}

	repos, err := acc.ProjectRepositories(ctx, pkg.Project)
	if err != nil {
		return nil, err
	}
	var release *model.Project
	for _, repo := range repos {
		for _, rt := range repo.ReleaseTargets {
			if rt.Trigger != "maintenance" {
				continue
			}
			candidate, err := acc.GetProject(ctx, rt.TargetProject)
			if err != nil {
				return nil, err
			}
			if candidate == nil || !candidate.IsMaintenanceRelease() {
				continue
			}
			if release != nil && release.Name != candidate.Name {
				return nil, fmt.Errorf("%w: %s and %s", ErrMultipleReleaseTargets, release.Name, candidate.Name)
			}
			release = candidate
		}
	}
	if release == nil {
		return nil, fmt.Errorf("%w: incident %s", ErrInvalidReleaseTarget, tprj.Name)
	}
	tele.Record(telemetry.KindRerouted, release.Name, "", map[string]string{"from": tprj.Name})
	return release, nil
}

// isNewPackage reports whether the unwound link package has no existing
// container in the target.
func isNewPackage(ctx context.Context, acc graph.Accessor, u unwoundLink, tprj *model.Project) (bool, error) {
	if !u.crossLink || tprj == nil {
		return true, nil
	}
	exists, err := graph.PackageExists(ctx, acc, tprj.Name, u.linkPackage, graph.FindOptions{FollowProjectLinks: true})
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// releaseTargetProjects lists the projects reachable through the source
// project's release targets, optionally filtered by trigger.
func releaseTargetProjects(ctx context.Context, acc graph.Accessor, project, trigger string) ([]string, error) {
	repos, err := acc.ProjectRepositories(ctx, project)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, repo := range repos {
		for _, rt := range repo.ReleaseTargets {
			if trigger != "" && rt.Trigger != trigger {
				continue
			}
			out = append(out, rt.TargetProject)
		}
	}
	return out, nil
}

// hasMatchingTarget reports whether a maintenance-triggered release
// target edge leads from the source project into the target project.
func hasMatchingTarget(ctx context.Context, acc graph.Accessor, srcProject, targetProject string) (bool, error) {
	repos, err := acc.ProjectRepositories(ctx, srcProject)
	if err != nil {
		return false, err
	}
	for _, repo := range repos {
		for _, rt := range repo.ReleaseTargets {
			if rt.Trigger == "maintenance" && rt.TargetProject == targetProject {
				return true, nil
			}
		}
	}
	return false, nil
}

// fanOutNewPackages pairs packages without an existing target container
// with every target project touched by the batch.
func fanOutNewPackages(ctx context.Context, acc graph.Accessor, action model.RequestAction, newPackages []*model.Package, newTargets []string, incidentSuffix string, tele *telemetry.Emitter) ([]model.RequestAction, error) {
	var out []model.RequestAction
	for _, pkg := range newPackages {
		for _, target := range newTargets {
			if len(pkg.ReleaseTargets) > 0 && !containsString(pkg.ReleaseTargets, target) {
				continue
			}
			if action.IsMaintenanceRelease() {
				match, err := hasMatchingTarget(ctx, acc, pkg.Project, target)
				if err != nil {
					return nil, err
				}
				if !match {
					continue
				}
			}

			if action.IsRelease() {
				// Unfiltered release actions additionally fan out over
				// every manually triggered release target.
				repos, err := acc.ProjectRepositories(ctx, pkg.Project)
				if err != nil {
					return nil, err
				}
				for _, repo := range repos {
					for _, rt := range repo.ReleaseTargets {
						if rt.Trigger != "manual" {
							continue
						}
						na := action
						na.SourceProject = pkg.Project
						na.SourcePackage = pkg.Name
						na.TargetProject = target
						na.TargetPackage = pkg.Name
						na.TargetRepository = rt.TargetRepository
						tele.Record(telemetry.KindActionExpanded, na.TargetProject, na.TargetPackage, string(na.Type))
						out = append(out, na)
					}
				}
				continue
			}

			na := action
			na.SourcePackage = pkg.Name
			if !action.IsMaintenanceIncident() {
				na.TargetProject = target
				na.TargetPackage = pkg.Name + incidentSuffix
			}
			tele.Record(telemetry.KindActionExpanded, na.TargetProject, na.TargetPackage, string(na.Type))
			out = append(out, na)
		}
	}
	return out, nil
}

// containsChange reports whether the action's source really differs from
// its target. An unreadable diff counts as a change; the reason for the
// problem most likely lies in the change itself.
func containsChange(ctx context.Context, be backend.Client, action model.RequestAction) (bool, error) {
	diff, err := be.Diff(ctx, action.SourceProject, action.SourcePackage, action.SourceRev, action.TargetProject, action.TargetPackage)
	if err != nil {
		if errors.Is(err, backend.ErrUnavailable) {
			return false, err
		}
		return true, nil
	}
	return diff != "", nil
}

func lastSegment(name string) string {
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func containsString(in []string, s string) bool {
	for _, v := range in {
		if v == s {
			return true
		}
	}
	return false
}
