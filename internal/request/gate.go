package request

import (
	"context"
	"errors"
	"fmt"

	"github.com/papapumpkin/magnetar/internal/backend"
	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
	"github.com/papapumpkin/magnetar/internal/telemetry"
)

// checkBuildState gates a maintenance release on the patchinfo project
// being completely built and published. Every repository must be clean,
// every publish state final, version-release strings consistent, and the
// patchinfo itself neither broken nor stale.
func checkBuildState(ctx context.Context, acc graph.Accessor, be backend.Client, patchinfo *model.Package, tele *telemetry.Emitter) error {
	results, err := be.BuildResults(ctx, patchinfo.Project)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("%w: project %s has no building repositories", ErrBuildNotFinished, patchinfo.Project)
	}

	versrel := map[string]map[string]string{}
	for _, result := range results {
		if result.Dirty {
			return fmt.Errorf("%w: repository %s/%s/%s needs recalculation by the schedulers",
				ErrBuildNotFinished, patchinfo.Project, result.Repository, result.Arch)
		}
		if err := checkPublished(result, patchinfo.Project); err != nil {
			return err
		}

		// All version-release strings of one package must agree within a
		// repository.
		byPkg := versrel[result.Repository]
		if byPkg == nil {
			byPkg = map[string]string{}
			versrel[result.Repository] = byPkg
		}
		for _, status := range result.Statuses {
			if status.VersRel == "" {
				continue
			}
			if prev, ok := byPkg[status.Package]; ok && prev != status.VersRel {
				return fmt.Errorf("%w: %s in repository %s", ErrVersionReleaseDiffers, status.Package, result.Repository)
			}
			byPkg[status.Package] = status.VersRel
		}
	}

	if err := checkPatchinfo(ctx, acc, be, patchinfo, results); err != nil {
		return err
	}
	tele.Record(telemetry.KindGateChecked, patchinfo.Project, patchinfo.Name, nil)
	return nil
}

// checkPublished verifies a repository result reached a final publish
// state.
func checkPublished(result backend.BuildResult, project string) error {
	switch result.State {
	case "published", "unpublished":
		return nil
	case "finished", "publishing":
		return fmt.Errorf("%w: repository %s/%s/%s did not finish the publish yet",
			ErrBuildNotFinished, project, result.Repository, result.Arch)
	default:
		return fmt.Errorf("%w: repository %s/%s/%s did not finish the build yet",
			ErrBuildNotFinished, project, result.Repository, result.Arch)
	}
}

// checkPatchinfo verifies the patchinfo container built on every
// repository and that no source change was skipped. Excluded
// repositories are satisfied by definition.
func checkPatchinfo(ctx context.Context, acc graph.Accessor, be backend.Client, patchinfo *model.Package, results []backend.BuildResult) error {
	repos, err := acc.ProjectRepositories(ctx, patchinfo.Project)
	if err != nil {
		return err
	}
	for _, repo := range repos {
		if len(repo.Archs) == 0 {
			continue
		}
		firstArch := repo.Archs[0]

		if status := statusFor(results, repo.Name, firstArch, patchinfo.Name); status != nil {
			if status.Code == "excluded" {
				continue
			}
			if status.Code == "broken" {
				return fmt.Errorf("%w: patchinfo %s is broken", ErrBuildNotFinished, patchinfo.Name)
			}
		}
		if err := checkHistoryCurrent(ctx, be, patchinfo, repo.Name, firstArch); err != nil {
			return err
		}
	}
	return nil
}

// checkHistoryCurrent verifies the last built revision of the patchinfo
// matches its current expanded fingerprint, so no source change slipped
// past the build.
func checkHistoryCurrent(ctx context.Context, be backend.Client, patchinfo *model.Package, repo, arch string) error {
	fl, err := be.Files(ctx, patchinfo.Project, patchinfo.Name, "")
	if err != nil {
		return err
	}
	history, err := be.History(ctx, patchinfo.Project, repo, patchinfo.Name, arch)
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return err
	}
	if len(history) > 0 && history[len(history)-1].SrcMD5 == fl.SrcMD5 {
		return nil
	}
	return fmt.Errorf("%w: last patchinfo %s is not yet built for repository %s",
		ErrBuildNotFinished, patchinfo.Name, repo)
}

func statusFor(results []backend.BuildResult, repo, arch, pkg string) *backend.PackageStatus {
	for _, r := range results {
		if r.Repository == repo && r.Arch == arch {
			return r.StatusFor(pkg)
		}
	}
	return nil
}
