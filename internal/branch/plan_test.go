package branch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/papapumpkin/magnetar/internal/backend"
	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
	"github.com/papapumpkin/magnetar/internal/resolver"
)

func buildPlan(t *testing.T, m *graph.Memory, be backend.Client, opts Options) *Plan {
	t.Helper()
	plan, err := BuildPlan(context.Background(), m, be, opts)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	return plan
}

func entryNames(p *Plan) []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.TargetPackage
	}
	return out
}

func TestBuildPlanDefaultTarget(t *testing.T) {
	t.Parallel()

	m := graph.NewMemory().
		AddProject(&model.Project{Name: "devel:tools"}).
		AddPackage(&model.Package{Project: "devel:tools", Name: "jq"})

	plan := buildPlan(t, m, backend.NewLocal(), Options{
		Policy:    resolver.Policy{Project: "devel:tools", Package: "jq"},
		Principal: "alice",
	})
	if plan.TargetProject != "home:alice:branches:devel:tools" {
		t.Errorf("target project = %q, want home:alice:branches:devel:tools", plan.TargetProject)
	}
	if len(plan.Entries) != 1 || plan.Entries[0].TargetPackage != "jq" {
		t.Errorf("entries = %v, want [jq]", entryNames(plan))
	}
}

func TestBuildPlanCustomNamer(t *testing.T) {
	t.Parallel()

	m := graph.NewMemory().
		AddProject(&model.Project{Name: "prj"}).
		AddPackage(&model.Package{Project: "prj", Name: "pkg"})

	plan := buildPlan(t, m, backend.NewLocal(), Options{
		Policy:    resolver.Policy{Project: "prj", Package: "pkg"},
		Principal: "bob",
		Namer: func(principal, project string) string {
			return "staging:" + principal + ":" + project
		},
	})
	if plan.TargetProject != "staging:bob:prj" {
		t.Errorf("target project = %q, want staging:bob:prj", plan.TargetProject)
	}
}

func TestBuildPlanInvalidTargetName(t *testing.T) {
	t.Parallel()

	m := graph.NewMemory().
		AddProject(&model.Project{Name: "prj"}).
		AddPackage(&model.Package{Project: "prj", Name: "pkg"})

	_, err := BuildPlan(context.Background(), m, backend.NewLocal(), Options{
		Policy: resolver.Policy{Project: "prj", Package: "pkg", TargetProject: "bad name"},
	})
	if !errors.Is(err, ErrInvalidProjectName) {
		t.Fatalf("error = %v, want ErrInvalidProjectName", err)
	}
}

func TestBuildPlanSiblingFanOut(t *testing.T) {
	t.Parallel()

	m := graph.NewMemory().
		AddProject(&model.Project{Name: "distro"}).
		AddPackage(&model.Package{Project: "distro", Name: "gcc"}).
		AddPackage(&model.Package{Project: "distro", Name: "gcc-32bit", Link: &model.LinkInfo{Package: "gcc"}}).
		AddPackage(&model.Package{Project: "distro", Name: "gcc-testsuite", Link: &model.LinkInfo{Package: "gcc"}})

	t.Run("siblings join the plan", func(t *testing.T) {
		t.Parallel()
		plan := buildPlan(t, m, backend.NewLocal(), Options{
			Policy:    resolver.Policy{Project: "distro", Package: "gcc"},
			Principal: "alice",
		})
		got := entryNames(plan)
		want := []string{"gcc", "gcc-32bit", "gcc-testsuite"}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("entries = %v, want %v", got, want)
		}
		if plan.Entries[0].LocalLink {
			t.Error("the primary entry must not be a local link")
		}
		for _, e := range plan.Entries[1:] {
			if !e.LocalLink || e.LinkTargetPackage != "gcc" {
				t.Errorf("sibling %s: LocalLink=%v LinkTargetPackage=%q", e.TargetPackage, e.LocalLink, e.LinkTargetPackage)
			}
		}
	})

	t.Run("extend names renames siblings with the primary suffix", func(t *testing.T) {
		t.Parallel()
		plan := buildPlan(t, m, backend.NewLocal(), Options{
			Policy:    resolver.Policy{Project: "distro", Package: "gcc", ExtendNames: true},
			Principal: "alice",
		})
		got := entryNames(plan)
		want := []string{"gcc.distro", "gcc-32bit.distro", "gcc-testsuite.distro"}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("entries = %v, want %v", got, want)
		}
		for _, e := range plan.Entries[1:] {
			if e.ReleaseName == "" {
				t.Errorf("sibling %s should carry a release name", e.TargetPackage)
			}
		}
	})

	t.Run("branching a sibling fans out from its link target", func(t *testing.T) {
		t.Parallel()
		plan := buildPlan(t, m, backend.NewLocal(), Options{
			Policy:    resolver.Policy{Project: "distro", Package: "gcc-32bit"},
			Principal: "alice",
		})
		got := entryNames(plan)
		// The fan-out anchors at gcc and adds the other sibling;
		// gcc-32bit itself is already planned.
		want := []string{"gcc-32bit", "gcc-testsuite"}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("entries = %v, want %v", got, want)
		}
	})
}

func TestBuildPlanSiblingCycleTerminates(t *testing.T) {
	t.Parallel()

	t.Run("two-node cycle", func(t *testing.T) {
		t.Parallel()
		// a links b, b links a. The fan-out must not loop.
		m := graph.NewMemory().
			AddProject(&model.Project{Name: "prj"}).
			AddPackage(&model.Package{Project: "prj", Name: "a", Link: &model.LinkInfo{Package: "b"}}).
			AddPackage(&model.Package{Project: "prj", Name: "b", Link: &model.LinkInfo{Package: "a"}})

		plan := buildPlan(t, m, backend.NewLocal(), Options{
			Policy:    resolver.Policy{Project: "prj", Package: "a"},
			Principal: "alice",
		})
		if len(plan.Entries) > 2 {
			t.Fatalf("entries = %v, cycle was not contained", entryNames(plan))
		}
	})

	t.Run("three-deep chain cycling back to the primary", func(t *testing.T) {
		t.Parallel()
		// a links b, b links c, c links a. Branching a anchors the
		// fan-out at b; its linking package a collapses through the
		// single inner level to c.
		m := graph.NewMemory().
			AddProject(&model.Project{Name: "prj"}).
			AddPackage(&model.Package{Project: "prj", Name: "a", Link: &model.LinkInfo{Package: "b"}}).
			AddPackage(&model.Package{Project: "prj", Name: "b", Link: &model.LinkInfo{Package: "c"}}).
			AddPackage(&model.Package{Project: "prj", Name: "c", Link: &model.LinkInfo{Package: "a"}})

		plan := buildPlan(t, m, backend.NewLocal(), Options{
			Policy:    resolver.Policy{Project: "prj", Package: "a"},
			Principal: "alice",
		})
		got := entryNames(plan)
		want := []string{"a", "c"}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("entries = %v, want %v", got, want)
		}
	})
}

func TestDedupeByTargetName(t *testing.T) {
	t.Parallel()

	entry := func(project, target string) Entry {
		return Entry{Candidate: resolver.Candidate{LinkTargetProject: project, TargetPackage: target}}
	}
	in := []Entry{
		entry("alpha", "pkg"),
		entry("other", "unique"),
		entry("beta", "pkg"),
	}
	out := dedupeByTargetName(in)
	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}
	// Ordering is preserved; on a name collision the later entry wins.
	if out[0].TargetPackage != "unique" {
		t.Errorf("out[0] = %q, want unique", out[0].TargetPackage)
	}
	if out[1].TargetPackage != "pkg" || out[1].LinkTargetProject != "beta" {
		t.Errorf("out[1] = %q from %q, want pkg from beta", out[1].TargetPackage, out[1].LinkTargetProject)
	}
}

func TestBuildPlanRequestMode(t *testing.T) {
	t.Parallel()

	m := graph.NewMemory().
		AddProject(&model.Project{Name: "devel:tools"}).
		AddPackage(&model.Package{Project: "devel:tools", Name: "jq"}).
		AddPackage(&model.Package{Project: "devel:tools", Name: "jq-doc", Link: &model.LinkInfo{Package: "jq"}})

	req := &model.Request{Number: 5, Actions: []model.RequestAction{
		{Type: model.ActionSubmit, SourceProject: "devel:tools", SourcePackage: "jq", TargetProject: "openSUSE:Factory"},
	}}
	plan := buildPlan(t, m, backend.NewLocal(), Options{
		Policy:    resolver.Policy{Request: req},
		Principal: "alice",
	})
	// Request mode takes the action sources verbatim: no sibling fan-out,
	// no redirection.
	if len(plan.Entries) != 1 {
		t.Fatalf("entries = %v, want only the action source", entryNames(plan))
	}
	if got := plan.Entries[0].TargetPackage; got != "jq.devel:tools" {
		t.Errorf("target package = %q, want jq.devel:tools", got)
	}
}

func TestDryRunReport(t *testing.T) {
	t.Parallel()

	m := graph.NewMemory().
		AddProject(&model.Project{Name: "prj"}).
		AddPackage(&model.Package{Project: "prj", Name: "pkg"})

	plan := buildPlan(t, m, backend.NewLocal(), Options{
		Policy:    resolver.Policy{Project: "prj", Package: "pkg"},
		Principal: "alice",
	})
	report, err := plan.DryRunReport()
	if err != nil {
		t.Fatalf("DryRunReport: %v", err)
	}
	if report.ContentType != "text/xml" {
		t.Errorf("content type = %q, want text/xml", report.ContentType)
	}
	for _, want := range []string{
		"<collection>",
		`<package project="prj" package="pkg">`,
		`<target project="home:alice:branches:prj" package="pkg">`,
	} {
		if !strings.Contains(report.Text, want) {
			t.Errorf("report missing %q:\n%s", want, report.Text)
		}
	}
}
