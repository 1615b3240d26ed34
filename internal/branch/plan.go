// Package branch computes and materializes branch plans: the complete
// set of copy-on-write package instances that a branch call creates in a
// target project. Resolution and redirection are delegated to
// internal/resolver; this package adds sibling fan-out, deduplication,
// target project naming, and the materialization against the backend.
package branch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/papapumpkin/magnetar/internal/backend"
	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
	"github.com/papapumpkin/magnetar/internal/resolver"
	"github.com/papapumpkin/magnetar/internal/telemetry"
)

// Entry is one package instance of a branch plan.
type Entry struct {
	resolver.Candidate
	// LocalLink marks a sibling entry whose container gets copied and
	// re-linked locally instead of branched.
	LocalLink bool
	// LinkTargetPackage names the primary package the sibling's link is
	// rewritten to point at.
	LinkTargetPackage string
}

// Plan is the complete, ordered set of branch entries for one target
// project.
type Plan struct {
	TargetProject string
	Entries       []Entry
	// Policy is the normalized policy the plan was built under, carried
	// along so materialization applies the same flags.
	Policy resolver.Policy
}

// Options carries the per-call inputs of a branch invocation.
type Options struct {
	Policy resolver.Policy
	// Principal is the acting user, recorded as maintainer on new branch
	// projects and used for the default target project name.
	Principal string
	// Namer derives the default target project name from the first
	// resolved link-target project. Nil uses the home-branches
	// convention.
	Namer func(principal, project string) string
	// Telemetry receives structured events for every resolution step.
	// Nil disables emission.
	Telemetry *telemetry.Emitter
}

func (o Options) namer() func(string, string) string {
	if o.Namer != nil {
		return o.Namer
	}
	return func(principal, project string) string {
		return "home:" + principal + ":branches:" + project
	}
}

// BuildPlan resolves the branch sources and assembles the deduplicated,
// ordered branch plan. The plan is deterministic for a given store state
// and policy.
func BuildPlan(ctx context.Context, acc graph.Accessor, be backend.Client, opts Options) (*Plan, error) {
	pol := opts.Policy.Normalize()
	tele := opts.Telemetry

	tele.Record(telemetry.KindResolveStart, pol.Project, pol.Package, nil)
	cands, pol, err := resolver.ResolveSources(ctx, acc, pol)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(cands))
	for _, cand := range cands {
		// Request-based branches reuse the action sources verbatim,
		// without update-project or devel redirection.
		if pol.Request == nil {
			cand, err = resolver.Redirect(ctx, acc, be, pol, cand, tele)
			if err != nil {
				return nil, err
			}
		}
		tele.Record(telemetry.KindCandidate, cand.LinkTargetProject, cand.Ref.Name(), nil)
		entries = append(entries, Entry{Candidate: cand})
	}

	if pol.Request == nil {
		entries, err = extendToLocalLinks(ctx, acc, be, pol, entries, tele)
		if err != nil {
			return nil, err
		}
	}

	entries = dedupeByTargetName(entries)

	target := pol.TargetProject
	if target == "" {
		target = opts.namer()(opts.Principal, entries[0].LinkTargetProject)
	}
	if !model.ValidProjectName(target) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProjectName, target)
	}

	tele.Record(telemetry.KindPlanReady, target, "", map[string]int{"entries": len(entries)})
	return &Plan{TargetProject: target, Entries: entries, Policy: pol}, nil
}

// extendToLocalLinks adds one plan entry per same-project link sibling,
// so sources with multiple build descriptions branch as a unit.
func extendToLocalLinks(ctx context.Context, acc graph.Accessor, be backend.Client, pol resolver.Policy, entries []Entry, tele *telemetry.Emitter) ([]Entry, error) {
	out := entries
	for _, e := range entries {
		pkg, ok := e.Ref.Local()
		if !ok {
			continue
		}

		// When the package is itself a same-project link, fan out from
		// its link target so all siblings of one source tree are found.
		anchor := pkg
		if pkg.IsLink() {
			rec, err := be.LinkInfo(ctx, pkg.Project, pkg.Name)
			if errors.Is(err, backend.ErrNotFound) {
				// No stored record yet, fall back to the modeled link.
				rec = &backend.LinkRecord{Project: pkg.Link.Project, Package: pkg.Link.Package}
				err = nil
			}
			if err != nil {
				return nil, err
			}
			if rec.Project == "" || rec.Project == pkg.Project {
				anchor, err = graph.RequirePackage(ctx, acc, pkg.Project, rec.Package)
				if err != nil {
					return nil, err
				}
			}
		}

		siblings, err := graph.LocalLinkingPackages(ctx, acc, anchor)
		if err != nil {
			return nil, err
		}
		for _, sib := range siblings {
			// Release projects iterate twice, via renamed .<id>
			// containers. Collapse a single inner level to the package
			// with the original name.
			inner, err := graph.LocalLinkingPackages(ctx, acc, sib)
			if err != nil {
				return nil, err
			}
			if len(inner) == 1 {
				sib = inner[0]
			}

			if containsPackage(out, sib.ID()) {
				continue
			}

			targetName := sib.Name
			releaseName := ""
			if pol.ExtendNames {
				targetName = sib.Name + "." + targetSuffix(e.TargetPackage)
				releaseName = sib.Name
			}
			tele.Record(telemetry.KindSibling, sib.Project, sib.Name, nil)
			out = append(out, Entry{
				Candidate: resolver.Candidate{
					BaseProject:       e.BaseProject,
					LinkTargetProject: e.LinkTargetProject,
					Ref:               model.LocalRef(sib),
					TargetPackage:     targetName,
					ReleaseName:       releaseName,
				},
				LocalLink:         true,
				LinkTargetPackage: pkg.Name,
			})
		}
	}
	return out, nil
}

// containsPackage reports whether the plan already carries the package,
// compared by (project, name) value.
func containsPackage(entries []Entry, id model.PackageID) bool {
	for _, e := range entries {
		if pkg, ok := e.Ref.Local(); ok && pkg.ID() == id {
			return true
		}
	}
	return false
}

// targetSuffix returns the part of a target name after its first dot.
func targetSuffix(name string) string {
	if idx := strings.Index(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// dedupeByTargetName drops earlier entries that share a final target
// package name with a later one. The same package may be branched
// multiple times under different link-target projects, but one target
// name can only hold one instance.
func dedupeByTargetName(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if seen[entries[i].TargetPackage] {
			continue
		}
		seen[entries[i].TargetPackage] = true
		out = append(out, entries[i])
	}
	// Restore original ordering.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
