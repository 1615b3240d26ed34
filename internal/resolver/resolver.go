// Package resolver turns a branch request spec into concrete package
// candidates and resolves update-project redirection, devel-project
// indirection and maintenance incident lookup for each of them. It is
// the shared resolution engine behind both the branch flow and request
// action expansion.
package resolver

import (
	"context"
	"fmt"

	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
)

// Candidate is one package instance selected for branching, before or
// after redirection.
type Candidate struct {
	// BaseProject is the project the candidate was originally found in.
	BaseProject string
	// LinkTargetProject is the project the branch link will point at.
	// For remote or unknown projects only the name is meaningful.
	LinkTargetProject string
	// Ref is the package being branched: an existing local package, a
	// remote name, or a pending (not yet existing) name.
	Ref model.PackageRef
	// Rev pins the source revision (a fingerprint after redirection).
	Rev string
	// TargetPackage is the computed name of the branch target.
	TargetPackage string
	// CopyFromDevel points at a devel or incident instance whose newer
	// sources get layered on top of the branch.
	CopyFromDevel *model.PackageID
	// ReleaseName remembers the original package identity for
	// maintenance incidents.
	ReleaseName string
	// MissingOK marks a branch whose source does not exist yet. Set
	// explicitly by the caller or implied when an update project cannot
	// reach the package.
	MissingOK bool
}

// ResolveSources turns the policy's source spec into the initial
// candidate list. It never returns an empty list without an error;
// a search with no hits fails with ErrNotFound. The returned policy
// carries adjustments the resolution implies (attribute searches enable
// maintenance-style naming, branch-target projects force copy-from-
// devel).
func ResolveSources(ctx context.Context, acc graph.Accessor, pol Policy) ([]Candidate, Policy, error) {
	var (
		cands []Candidate
		err   error
	)
	switch {
	case pol.Request != nil:
		cands, err = resolveFromRequest(ctx, acc, pol)
	case pol.Project != "" && pol.Package != "":
		cands, pol, err = resolveExplicit(ctx, acc, pol)
	default:
		cands, pol, err = resolveByAttribute(ctx, acc, pol)
	}
	if err != nil {
		return nil, pol, err
	}
	if len(cands) == 0 {
		return nil, pol, ErrNotFound
	}
	return cands, pol, nil
}

// resolveFromRequest re-uses the source of every action on an existing
// request.
func resolveFromRequest(ctx context.Context, acc graph.Accessor, pol Policy) ([]Candidate, error) {
	var cands []Candidate
	for _, action := range pol.Request.Actions {
		if action.SourcePackage == "" {
			continue
		}
		pkg, err := graph.RequirePackage(ctx, acc, action.SourceProject, action.SourcePackage)
		if err != nil {
			return nil, err
		}
		cands = append(cands, Candidate{
			BaseProject:       action.SourceProject,
			LinkTargetProject: action.SourceProject,
			Ref:               model.LocalRef(pkg),
			TargetPackage:     pkg.Name + "." + pkg.Project,
		})
	}
	return cands, nil
}

// resolveExplicit handles an explicit (project, package) spec.
func resolveExplicit(ctx context.Context, acc graph.Accessor, pol Policy) ([]Candidate, Policy, error) {
	prj, err := graph.RequireProject(ctx, acc, pol.Project)
	if err != nil {
		return nil, pol, err
	}

	findOpts := graph.FindOptions{
		FollowProjectLinks: true,
		FollowMultibuild:   true,
		AllowRemote:        true,
		UpdateAttribute:    pol.UpdateAttribute,
	}

	var pkg *model.Package
	if pol.MissingOK {
		// Symmetric existence check: a missing-ok branch must not find
		// the source anywhere reachable through project links.
		exists, err := graph.PackageExists(ctx, acc, pol.Project, pol.Package, findOpts)
		if err != nil {
			return nil, pol, err
		}
		if exists {
			return nil, pol, fmt.Errorf("%w: %s/%s", ErrNotMissing, pol.Project, pol.Package)
		}
	} else {
		findOpts.CheckUpdateProject = !pol.IgnoreDevel
		found, _, err := graph.FindPackage(ctx, acc, pol.Project, pol.Package, findOpts)
		if err != nil {
			return nil, pol, err
		}
		if prj.FindAttribute(model.AttrBranchTarget.Namespace, model.AttrBranchTarget.Name) != nil {
			// The project pins itself as branch target; sources come from
			// the devel location instead of redirecting the link.
			pol.CopyFromDevel = true
		} else if found != nil {
			owner, err := graph.RequireProject(ctx, acc, found.Project)
			if err != nil {
				return nil, pol, err
			}
			prj = owner
		}
		if found == nil && !prj.Remote {
			return nil, pol, fmt.Errorf("%w: %s/%s", graph.ErrPackageNotFound, pol.Project, pol.Package)
		}
		pkg = found
	}

	targetName := pol.TargetPackage
	if targetName == "" {
		targetName = pol.Package
	}
	targetName = extendTarget(targetName, prj.Name, pol.ExtendNames)

	cand := Candidate{
		BaseProject:       prj.Name,
		LinkTargetProject: prj.Name,
		Rev:               pol.Rev,
		TargetPackage:     targetName,
		MissingOK:         pol.MissingOK,
	}
	switch {
	case pkg != nil:
		cand.Ref = model.LocalRef(pkg)
	case prj.Remote:
		cand.Ref = model.RemoteRef(pol.Package)
	default:
		cand.Ref = model.PendingRef(pol.Package)
	}
	return []Candidate{cand}, pol, nil
}

// resolveByAttribute fans out over every package tagged with the
// attribute type. When a package name is requested, tagged projects
// additionally contribute that package through their link graphs.
func resolveByAttribute(ctx context.Context, acc graph.Accessor, pol Policy) ([]Candidate, Policy, error) {
	// Tag-search branches behave like mass maintenance branches.
	pol.ExtendNames = true
	pol.CopyFromDevel = true
	pol.AddRepositories = true

	direct, err := acc.FindPackagesByAttribute(ctx, pol.Attribute, pol.Package)
	if err != nil {
		return nil, pol, err
	}

	var cands []Candidate
	seen := map[model.PackageID]bool{}
	for _, pkg := range direct {
		if pol.Value != "" && !attributeHasValue(pkg, pol.Attribute, pol.Value) {
			continue
		}
		seen[pkg.ID()] = true
		cands = append(cands, Candidate{
			BaseProject:       pkg.Project,
			LinkTargetProject: pkg.Project,
			Ref:               model.LocalRef(pkg),
			TargetPackage:     pkg.Name + "." + pkg.Project,
		})
	}

	if pol.Value != "" {
		// Value-filtered searches only consider directly tagged packages.
		return cands, pol, nil
	}

	projects, err := acc.FindProjectsByAttribute(ctx, pol.Attribute)
	if err != nil {
		return nil, pol, err
	}
	for _, prj := range projects {
		pkg, _, err := graph.FindPackage(ctx, acc, prj.Name, pol.Package, graph.FindOptions{FollowProjectLinks: true})
		if err != nil {
			return nil, pol, err
		}
		if pkg == nil || seen[pkg.ID()] {
			continue
		}
		seen[pkg.ID()] = true
		linkTarget := prj.Name
		if prj.FindAttribute(model.AttrBranchTarget.Namespace, model.AttrBranchTarget.Name) == nil {
			linkTarget = pkg.Project
		}
		cands = append(cands, Candidate{
			BaseProject:       pkg.Project,
			LinkTargetProject: linkTarget,
			Ref:               model.LocalRef(pkg),
			TargetPackage:     pkg.Name + "." + pkg.Project,
		})
	}
	return cands, pol, nil
}

// attributeHasValue reports whether the package's attribute of the given
// type carries the value.
func attributeHasValue(pkg *model.Package, at model.AttributeName, value string) bool {
	attr := pkg.FindAttribute(at.Namespace, at.Name)
	if attr == nil {
		return false
	}
	for _, v := range attr.Values {
		if v == value {
			return true
		}
	}
	return false
}
