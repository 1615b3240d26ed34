package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/papapumpkin/magnetar/internal/backend"
	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
	"github.com/papapumpkin/magnetar/internal/telemetry"
)

// Redirect resolves update-project redirection, devel-project
// indirection and incident lookup for one candidate. The decision order
// is fixed: update project first, then copy-from-devel, then incident
// lookup, then devel takeover. Candidates whose link target is remote or
// unknown pass through unchanged.
func Redirect(ctx context.Context, acc graph.Accessor, be backend.Client, pol Policy, cand Candidate, tele *telemetry.Emitter) (Candidate, error) {
	prj, err := acc.GetProject(ctx, cand.LinkTargetProject)
	if err != nil {
		return cand, err
	}
	if prj == nil || prj.Remote {
		return cand, nil
	}

	if !pol.IgnoreDevel {
		cand, err = checkUpdateProject(ctx, acc, pol, cand, tele)
		if err != nil {
			return cand, err
		}
	}

	if pol.NewInstance {
		// A new instance stays in the requested project regardless of
		// where the sources were found.
		if _, err := graph.RequireProject(ctx, acc, pol.Project); err != nil {
			return cand, err
		}
		cand.LinkTargetProject = pol.Project
		cand.TargetPackage = extendTarget(cand.Ref.Name(), cand.LinkTargetProject, pol.ExtendNames)
	}
	if pol.ExtendNames {
		cand.ReleaseName = cand.Ref.Name()
	}

	if !pol.IgnoreDevel && cand.CopyFromDevel == nil {
		cand, err = resolveDevel(ctx, acc, pol, cand, tele)
		if err != nil {
			return cand, err
		}
	}

	if cand.Rev != "" {
		if err := expandRevToFingerprint(ctx, be, pol, &cand); err != nil {
			return cand, err
		}
	}
	return cand, nil
}

// checkUpdateProject redirects the candidate to the project's declared
// update instance when one exists.
func checkUpdateProject(ctx context.Context, acc graph.Accessor, pol Policy, cand Candidate, tele *telemetry.Emitter) (Candidate, error) {
	prjName := cand.LinkTargetProject
	pkgName := cand.Ref.Name()
	if pkg, ok := cand.Ref.Local(); ok {
		prjName = pkg.Project
	}

	update, err := graph.UpdateInstance(ctx, acc, prjName, pol.UpdateAttribute)
	if err != nil {
		return cand, err
	}
	if update == nil || update.Name == prjName {
		return cand, nil
	}

	linkTarget, err := acc.GetProject(ctx, cand.LinkTargetProject)
	if err != nil {
		return cand, err
	}
	pinned := linkTarget != nil &&
		linkTarget.FindAttribute(model.AttrBranchTarget.Namespace, model.AttrBranchTarget.Name) != nil

	direct, err := acc.GetPackage(ctx, update.Name, pkgName)
	if err != nil {
		return cand, err
	}
	switch {
	case direct != nil:
		// The update project carries its own instance, branch that one.
		cand.Ref = model.LocalRef(direct)
		if !pinned {
			cand.LinkTargetProject = direct.Project
		}
		reachable, _, err := graph.FindPackage(ctx, acc, cand.LinkTargetProject, direct.Name, graph.FindOptions{FollowProjectLinks: true})
		if err != nil {
			return cand, err
		}
		if reachable == nil || reachable.ID() != direct.ID() {
			// The pinned link target cannot see the update instance, so
			// its sources get copied instead of linked.
			id := direct.ID()
			cand.CopyFromDevel = &id
		}
		tele.Record(telemetry.KindRedirect, direct.Project, direct.Name, nil)
	default:
		if !pinned {
			cand.LinkTargetProject = update.Name
		}
		viaLink, _, err := graph.FindPackage(ctx, acc, update.Name, pkgName, graph.FindOptions{
			FollowProjectLinks: true,
			CheckUpdateProject: true,
			UpdateAttribute:    pol.UpdateAttribute,
		})
		if err != nil {
			return cand, err
		}
		switch {
		case viaLink != nil:
			// Sources are reachable through the update project's link
			// chain. Prefer an instance in its devel project when one
			// exists there.
			if update.DevelProject != "" {
				up, err := acc.GetPackage(ctx, update.DevelProject, pkgName)
				if err != nil {
					return cand, err
				}
				if up != nil {
					cand.Ref = model.LocalRef(up)
					if !pinned && !pol.CopyFromDevel {
						cand.LinkTargetProject = up.Project
					}
				}
			}
		default:
			// The update project cannot reach the package at all. Treat
			// it as a brand-new package there and copy from the original
			// devel location when one exists.
			cand.MissingOK = true
			if pkg, ok := cand.Ref.Local(); ok {
				devel, err := graph.DevelPackage(ctx, acc, pkg)
				if err != nil {
					return cand, err
				}
				if devel != nil {
					id := devel.ID()
					cand.CopyFromDevel = &id
				}
			}
			cand.Ref = model.PendingRef(pkgName)
		}
	}

	// Recompute the target name after redirection; an explicit caller
	// name still wins.
	name := cand.Ref.Name()
	if pol.TargetPackage != "" {
		name = pol.TargetPackage
	}
	cand.TargetPackage = extendTarget(name, cand.LinkTargetProject, pol.ExtendNames)
	return cand, nil
}

// resolveDevel applies devel-package indirection and incident lookup
// after update-project redirection settled the link target.
func resolveDevel(ctx context.Context, acc graph.Accessor, pol Policy, cand Candidate, tele *telemetry.Emitter) (Candidate, error) {
	var devel *model.Package
	if pkg, ok := cand.Ref.Local(); ok {
		var err error
		devel, err = graph.DevelPackage(ctx, acc, pkg)
		if err != nil {
			return cand, err
		}
	}

	if pol.CopyFromDevel && devel != nil {
		id := devel.ID()
		cand.CopyFromDevel = &id
		return cand, nil
	}

	incident, err := LookupIncidentPackage(ctx, acc, cand)
	if err != nil {
		return cand, err
	}
	if incident != nil {
		id := incident.ID()
		cand.CopyFromDevel = &id
		tele.Record(telemetry.KindRedirect, incident.Project, incident.Name, nil)
		return cand, nil
	}

	if !pol.CopyFromDevel && devel != nil {
		// No incident in flight, the devel instance is the place where
		// sources get edited. Branch it directly.
		cand.Ref = model.LocalRef(devel)
		if !pol.NewInstance {
			cand.LinkTargetProject = devel.Project
		}
		name := devel.Name
		if pol.TargetPackage != "" {
			cand.TargetPackage = pol.TargetPackage
		} else {
			cand.TargetPackage = extendTarget(name, cand.LinkTargetProject, pol.ExtendNames)
		}
		tele.Record(telemetry.KindRedirect, devel.Project, devel.Name, nil)
	}
	return cand, nil
}

// expandRevToFingerprint replaces a plain revision with the expanded
// source fingerprint so the branch link survives later commits.
func expandRevToFingerprint(ctx context.Context, be backend.Client, pol Policy, cand *Candidate) error {
	if be == nil {
		return nil
	}
	fl, err := be.Files(ctx, pol.Project, pol.Package, cand.Rev)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("%w: no such revision %s", ErrInvalidFilelist, cand.Rev)
		}
		return err
	}
	if fl.SrcMD5 == "" {
		return fmt.Errorf("%w: no fingerprint for revision %s", ErrInvalidFilelist, cand.Rev)
	}
	cand.Rev = fl.SrcMD5
	return nil
}
