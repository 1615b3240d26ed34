package branch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/papapumpkin/magnetar/internal/backend"
	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
	"github.com/papapumpkin/magnetar/internal/resolver"
	"github.com/papapumpkin/magnetar/internal/telemetry"
)

// Result reports what a materialized branch produced. A single package
// transfer carries full source and target detail; a multi-package
// transfer names only the target project to avoid an ambiguous single
// pair.
type Result struct {
	TargetProject string `json:"targetproject"`
	TargetPackage string `json:"targetpackage,omitempty"`
	SourceProject string `json:"sourceproject,omitempty"`
	SourcePackage string `json:"sourcepackage,omitempty"`
}

// Materialize creates or reuses the target project and executes every
// plan entry against the store and the source backend. Entries are
// processed in plan order; a failure leaves earlier entries intact.
func Materialize(ctx context.Context, store graph.Store, be backend.Client, plan *Plan, opts Options) (*Result, error) {
	pol := plan.Policy
	tele := opts.Telemetry

	tprj, addRepositories, err := ensureTargetProject(ctx, store, plan, opts)
	if err != nil {
		return nil, err
	}

	var result *Result
	for _, e := range plan.Entries {
		tpkg, err := ensureTargetPackage(ctx, store, tprj, e, pol.Force, pol.ExtendNames)
		if err != nil {
			return nil, err
		}

		if e.LocalLink {
			if err := copyLocalLink(ctx, store, be, pol, tprj, tpkg, e, tele); err != nil {
				return nil, err
			}
		} else {
			srcProject := e.LinkTargetProject
			srcPackage := e.Ref.Name()
			if err := branchEntry(ctx, be, pol, tprj, tpkg, e, tele); err != nil {
				return nil, err
			}
			if result == nil {
				result = &Result{
					TargetProject: tprj.Name,
					TargetPackage: tpkg.Name,
					SourceProject: srcProject,
					SourcePackage: srcPackage,
				}
			} else {
				result = &Result{TargetProject: tprj.Name}
			}
		}

		if addRepositories {
			if err := mirrorRepositories(ctx, store, pol, tprj, e); err != nil {
				return nil, err
			}
		}
		if tprj.IsMaintenanceIncident() {
			if err := propagateChannels(ctx, store, tprj, e); err != nil {
				return nil, err
			}
		}
	}

	if pol.UpdatePathElements {
		syncRepositoryPaths(tprj)
	}
	if err := store.SaveProject(ctx, tprj); err != nil {
		return nil, err
	}
	if result == nil {
		result = &Result{TargetProject: tprj.Name}
	}
	return result, nil
}

// ensureTargetProject reuses or creates the branch project. New projects
// always get repositories mirrored; the returned flag reports whether
// repository mirroring applies for this run.
func ensureTargetProject(ctx context.Context, store graph.Store, plan *Plan, opts Options) (*model.Project, bool, error) {
	pol := plan.Policy
	existing, err := store.GetProject(ctx, plan.TargetProject)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if pol.NoAccess {
			return nil, false, fmt.Errorf("%w: project %s exists and cannot be made unreadable", ErrNoPermission, plan.TargetProject)
		}
		return existing, pol.AddRepositories, nil
	}

	title := "Branch project for package " + pol.Package
	description := fmt.Sprintf("This project was created for package %s via attribute %s", pol.Package, pol.Attribute)
	if pol.Request != nil {
		title = fmt.Sprintf("Branch project based on request %d", pol.Request.Number)
		description = fmt.Sprintf("This project was created as a clone of request %d", pol.Request.Number)
	}
	tprj := &model.Project{
		Name:           plan.TargetProject,
		Kind:           model.KindStandard,
		Title:          title,
		Description:    description,
		Maintainers:    []string{opts.Principal},
		BuildDisabled:  pol.ExtendNames,
		AccessDisabled: pol.NoAccess,
	}
	if pol.AutoCleanupDays > 0 {
		expiry := time.Now().UTC().AddDate(0, 0, pol.AutoCleanupDays)
		tprj.SetAttribute(model.Attribute{
			Namespace: model.AttrAutoCleanup.Namespace,
			Name:      model.AttrAutoCleanup.Name,
			Values:    []string{expiry.Format(time.RFC3339)},
		})
	}
	if pol.Request != nil {
		tprj.SetAttribute(model.Attribute{
			Namespace: model.AttrRequestCloned.Namespace,
			Name:      model.AttrRequestCloned.Name,
			Values:    []string{strconv.FormatInt(pol.Request.Number, 10)},
		})
	}
	if err := store.CreateProject(ctx, tprj); err != nil {
		return nil, false, err
	}
	opts.Telemetry.Record(telemetry.KindProjectCreated, tprj.Name, "", nil)
	// New projects always get repositories.
	return tprj, true, nil
}

// ensureTargetPackage creates the target container or fails on an
// existing one unless force was requested.
func ensureTargetPackage(ctx context.Context, store graph.Store, tprj *model.Project, e Entry, force, extendNames bool) (*model.Package, error) {
	name := model.ContainerName(e.TargetPackage)
	existing, err := store.GetPackage(ctx, tprj.Name, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !force {
			return nil, fmt.Errorf("%w: %s/%s", ErrDoubleBranchPackage, tprj.Name, name)
		}
		return existing, nil
	}

	tpkg := &model.Package{Project: tprj.Name, Name: name}
	if src, ok := e.Ref.Local(); ok {
		tpkg.Title = src.Title
		tpkg.Description = src.Description
		tpkg.SyncTag = src.SyncTag
	}
	if tpkg.SyncTag != "" && extendNames {
		tpkg.SyncTag += "." + model.ContainerName(e.LinkTargetProject)
	}
	tpkg.ReleaseName = e.ReleaseName
	if err := store.SavePackage(ctx, tpkg); err != nil {
		return nil, err
	}
	return tpkg, nil
}

// copyLocalLink copies a sibling container and rewrites its link to
// point at the renamed primary target. The link becomes local, so the
// origin project qualifier is dropped.
func copyLocalLink(ctx context.Context, store graph.Store, be backend.Client, pol resolver.Policy, tprj *model.Project, tpkg *model.Package, e Entry, tele *telemetry.Emitter) error {
	if err := be.CopySource(ctx, tprj.Name, tpkg.Name, e.LinkTargetProject, e.Ref.Name(), backend.CopyOptions{}); err != nil {
		return err
	}

	linked := e.LinkTargetPackage
	if pol.TargetPackage != "" && pol.Package == e.LinkTargetPackage {
		// The caller renamed the base package; follow the rename.
		linked = pol.TargetPackage
	}
	if pol.ExtendNames {
		linked += "." + model.ContainerName(e.LinkTargetProject)
	}
	if err := be.WriteLink(ctx, tprj.Name, tpkg.Name, backend.LinkRecord{Package: linked}); err != nil {
		return err
	}
	tpkg.Link = &model.LinkInfo{Package: linked}
	if err := store.SavePackage(ctx, tpkg); err != nil {
		return err
	}
	tele.Record(telemetry.KindLinkRewritten, tprj.Name, tpkg.Name, map[string]string{"link": linked})
	return nil
}

// branchEntry performs the copy-on-write branch for a normal entry and
// layers newer devel or incident sources on top when hinted.
func branchEntry(ctx context.Context, be backend.Client, pol resolver.Policy, tprj *model.Project, tpkg *model.Package, e Entry, tele *telemetry.Emitter) error {
	opts := backend.BranchOptions{
		MissingOK: pol.MissingOK || e.MissingOK,
		NoService: pol.NoService,
		Rev:       e.Rev,
	}
	if src, ok := e.Ref.Local(); ok && tprj.IsMaintenanceIncident() && src.Project != e.LinkTargetProject {
		// New incident updates need the vrev extension.
		opts.ExtendVrev = true
	}
	if err := be.BranchSource(ctx, e.LinkTargetProject, e.Ref.Name(), tprj.Name, tpkg.Name, opts); err != nil {
		return err
	}
	tele.Record(telemetry.KindPackageBranched, tprj.Name, tpkg.Name, map[string]string{
		"source": e.LinkTargetProject + "/" + e.Ref.Name(),
	})

	cfd := e.CopyFromDevel
	if cfd == nil || cfd.Project == tprj.Name || e.Rev != "" {
		return nil
	}
	msg := fmt.Sprintf("fetch updates from devel package %s/%s", cfd.Project, cfd.Name)
	return be.CopySource(ctx, tprj.Name, tpkg.Name, cfd.Project, cfd.Name, backend.CopyOptions{
		KeepLink: true,
		Expand:   true,
		Comment:  msg,
	})
}

// mirrorRepositories creates repositories in the target project building
// against the link-target project's repositories.
func mirrorRepositories(ctx context.Context, store graph.Store, pol resolver.Policy, tprj *model.Project, e Entry) error {
	repos, err := store.ProjectRepositories(ctx, e.LinkTargetProject)
	if err != nil {
		return err
	}
	for _, repo := range repos {
		name := repo.Name
		if pol.ExtendNames {
			name = model.ContainerName(e.LinkTargetProject) + "_" + repo.Name
		}
		if hasRepository(tprj, name) {
			continue
		}
		tprj.Repositories = append(tprj.Repositories, model.Repository{
			Name:    name,
			Archs:   append([]string(nil), repo.Archs...),
			Paths:   []model.PathElement{{Project: e.LinkTargetProject, Repository: repo.Name}},
			Rebuild: string(pol.Rebuild),
			Block:   string(pol.Block),
		})
	}
	return nil
}

func hasRepository(prj *model.Project, name string) bool {
	for _, r := range prj.Repositories {
		if r.Name == name {
			return true
		}
	}
	return false
}

// propagateChannels copies channel containers referencing the branched
// package into the incident project so channel metadata releases with
// the update.
func propagateChannels(ctx context.Context, store graph.Store, tprj *model.Project, e Entry) error {
	src, ok := e.Ref.Local()
	if !ok {
		return nil
	}
	linking, err := store.PackagesLinkingTo(ctx, src.ID())
	if err != nil {
		return err
	}
	for _, ch := range linking {
		if !ch.IsChannel() {
			continue
		}
		existing, err := store.GetPackage(ctx, tprj.Name, ch.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		clone := &model.Package{
			Project: tprj.Name,
			Name:    ch.Name,
			Kind:    model.PackageKindChannel,
			Link:    &model.LinkInfo{Package: e.TargetPackage},
		}
		if err := store.SavePackage(ctx, clone); err != nil {
			return err
		}
	}
	return nil
}

// syncRepositoryPaths rewrites path elements so repositories created by
// the branch reference each other instead of reaching back to their
// origin projects.
func syncRepositoryPaths(tprj *model.Project) {
	for ri := range tprj.Repositories {
		for pi, pe := range tprj.Repositories[ri].Paths {
			if pe.Project == tprj.Name {
				continue
			}
			mirrored := model.ContainerName(pe.Project) + "_" + pe.Repository
			if hasRepository(tprj, mirrored) && mirrored != tprj.Repositories[ri].Name {
				tprj.Repositories[ri].Paths[pi] = model.PathElement{Project: tprj.Name, Repository: mirrored}
			}
		}
	}
}
