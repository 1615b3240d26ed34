package graph

import (
	"context"
	"fmt"

	"github.com/papapumpkin/magnetar/internal/model"
)

// FindOptions controls package lookup traversal.
type FindOptions struct {
	// FollowProjectLinks searches linked projects when the starting
	// project does not contain the package.
	FollowProjectLinks bool
	// FollowMultibuild resolves "name:flavor" addresses to the flavor's
	// container package.
	FollowMultibuild bool
	// CheckUpdateProject resolves the starting project's update instance
	// first and searches there.
	CheckUpdateProject bool
	// UpdateAttribute names the update-project attribute type. Zero means
	// OBS:UpdateProject.
	UpdateAttribute model.AttributeName
	// AllowRemote makes existence checks treat packages reachable only
	// through remote project links as present.
	AllowRemote bool
}

func (o FindOptions) updateAttribute() model.AttributeName {
	if o.UpdateAttribute.IsZero() {
		return model.AttrUpdateProject
	}
	return o.UpdateAttribute
}

// FindPackage resolves (project, name) honoring the traversal options.
// Returns (nil, nil) when no local package is reachable; the separate
// remote flag reports whether the walk hit a remote project link (the
// package may exist there, unverifiable locally).
func FindPackage(ctx context.Context, acc Accessor, project, name string, opts FindOptions) (pkg *model.Package, remote bool, err error) {
	if opts.FollowMultibuild {
		base, flavor := model.ParseFlavor(name)
		if flavor != "" {
			name = base
		}
	}

	start := project
	if opts.CheckUpdateProject {
		up, err := UpdateInstance(ctx, acc, project, opts.updateAttribute())
		if err != nil {
			return nil, false, err
		}
		if up != nil && up.Name != project {
			start = up.Name
		}
	}

	pkg, remote, err = findInProjectChain(ctx, acc, start, name, opts)
	if err != nil || pkg != nil {
		return pkg, remote, err
	}
	if start != project {
		// Fall back to the original project when the update instance
		// cannot reach the package.
		return findInProjectChain(ctx, acc, project, name, opts)
	}
	return nil, remote, nil
}

// findInProjectChain walks the project and, when requested, its link
// chain breadth-first. The seen set keeps cyclic link graphs finite.
func findInProjectChain(ctx context.Context, acc Accessor, project, name string, opts FindOptions) (*model.Package, bool, error) {
	seen := map[string]bool{}
	queue := []string{project}
	sawRemote := false
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true

		prj, err := acc.GetProject(ctx, cur)
		if err != nil {
			return nil, false, err
		}
		if prj == nil {
			continue
		}
		if prj.Remote {
			sawRemote = true
			continue
		}
		pkg, err := acc.GetPackage(ctx, cur, name)
		if err != nil {
			return nil, false, err
		}
		if pkg != nil {
			return pkg, sawRemote, nil
		}
		if opts.FollowProjectLinks {
			queue = append(queue, prj.Links...)
		}
	}
	return nil, sawRemote, nil
}

// PackageExists reports whether (project, name) resolves to a package
// under the given traversal options. With AllowRemote, reaching a remote
// project link counts as existing.
func PackageExists(ctx context.Context, acc Accessor, project, name string, opts FindOptions) (bool, error) {
	pkg, remote, err := FindPackage(ctx, acc, project, name, opts)
	if err != nil {
		return false, err
	}
	if pkg != nil {
		return true, nil
	}
	return opts.AllowRemote && remote, nil
}

// UpdateInstance follows the update-project attribute chain from the
// given project and returns the final instance. Returns the project
// itself when no redirection applies, or nil when the project is
// unknown. The walk is cycle-safe.
func UpdateInstance(ctx context.Context, acc Accessor, project string, at model.AttributeName) (*model.Project, error) {
	seen := map[string]bool{}
	cur, err := acc.GetProject(ctx, project)
	if err != nil || cur == nil {
		return cur, err
	}
	for {
		if seen[cur.Name] {
			return cur, nil
		}
		seen[cur.Name] = true
		attr := cur.FindAttribute(at.Namespace, at.Name)
		next := attr.FirstValue()
		if next == "" || next == cur.Name {
			return cur, nil
		}
		nextPrj, err := acc.GetProject(ctx, next)
		if err != nil {
			return nil, err
		}
		if nextPrj == nil {
			// Dangling update-project value; stop at the last real one.
			return cur, nil
		}
		cur = nextPrj
	}
}

// DevelPackage follows a package's devel references to their fixpoint.
// Returns nil when the package has no devel reference. A reference chain
// that revisits a package fails with ErrCyclicDevel.
func DevelPackage(ctx context.Context, acc Accessor, pkg *model.Package) (*model.Package, error) {
	if pkg.Devel == nil {
		return nil, nil
	}
	seen := map[model.PackageID]bool{pkg.ID(): true}
	cur := pkg
	for cur.Devel != nil {
		id := *cur.Devel
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrCyclicDevel, id)
		}
		seen[id] = true
		next, err := RequirePackage(ctx, acc, id.Project, id.Name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// LocalLinkingPackages returns the packages in pkg's own project whose
// link points at pkg, in deterministic name order.
func LocalLinkingPackages(ctx context.Context, acc Accessor, pkg *model.Package) ([]*model.Package, error) {
	all, err := acc.ProjectPackages(ctx, pkg.Project)
	if err != nil {
		return nil, err
	}
	var out []*model.Package
	for _, cand := range all {
		if cand.Name == pkg.Name {
			continue
		}
		target, ok := cand.LinkTarget()
		if !ok {
			continue
		}
		if target == pkg.ID() {
			out = append(out, cand)
		}
	}
	return out, nil
}
