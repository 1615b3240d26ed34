package branch

import (
	"context"
	"errors"
	"testing"

	"github.com/papapumpkin/magnetar/internal/backend"
	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
	"github.com/papapumpkin/magnetar/internal/resolver"
)

// world builds a minimal graph and backend holding one branchable
// package with sources.
func world(t *testing.T) (*graph.Memory, *backend.Local) {
	t.Helper()
	m := graph.NewMemory().
		AddProject(&model.Project{Name: "devel:tools", Repositories: []model.Repository{
			{Name: "standard", Archs: []string{"x86_64"}},
		}}).
		AddPackage(&model.Package{Project: "devel:tools", Name: "jq", Title: "jq", SyncTag: "jq"})
	be := backend.NewLocal()
	be.SetFiles("devel:tools", "jq", "", backend.Filelist{SrcMD5: "aaaa", Entries: []string{"jq.spec"}})
	return m, be
}

func materializeOne(t *testing.T, m *graph.Memory, be *backend.Local, opts Options) *Result {
	t.Helper()
	ctx := context.Background()
	plan, err := BuildPlan(ctx, m, be, opts)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	result, err := Materialize(ctx, m, be, plan, opts)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	return result
}

func TestMaterializeCreatesProjectAndPackage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, be := world(t)

	result := materializeOne(t, m, be, Options{
		Policy:    resolver.Policy{Project: "devel:tools", Package: "jq"},
		Principal: "alice",
	})
	if result.TargetProject != "home:alice:branches:devel:tools" {
		t.Errorf("result project = %q", result.TargetProject)
	}
	if result.SourceProject != "devel:tools" || result.SourcePackage != "jq" {
		t.Errorf("result source = %s/%s, want devel:tools/jq", result.SourceProject, result.SourcePackage)
	}

	tprj, err := m.GetProject(ctx, result.TargetProject)
	if err != nil || tprj == nil {
		t.Fatalf("target project not created: %v", err)
	}
	if len(tprj.Maintainers) != 1 || tprj.Maintainers[0] != "alice" {
		t.Errorf("maintainers = %v, want [alice]", tprj.Maintainers)
	}
	if tprj.FindAttribute("OBS", "AutoCleanup") != nil {
		t.Error("auto-cleanup attribute set although the policy disables it")
	}

	tpkg, err := m.GetPackage(ctx, result.TargetProject, "jq")
	if err != nil || tpkg == nil {
		t.Fatalf("target package not created: %v", err)
	}
	if tpkg.Title != "jq" {
		t.Errorf("title = %q, want copied from the source", tpkg.Title)
	}

	// The backend branched the sources and recorded a link.
	ops := be.Ops()
	if len(ops) != 1 || ops[0].Kind != "branch" {
		t.Fatalf("ops = %+v, want one branch", ops)
	}
	rec, err := be.LinkInfo(ctx, result.TargetProject, "jq")
	if err != nil {
		t.Fatalf("LinkInfo: %v", err)
	}
	if rec.Project != "devel:tools" || rec.Package != "jq" {
		t.Errorf("link = %+v, want devel:tools/jq", rec)
	}
}

func TestMaterializeAutoCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, be := world(t)

	result := materializeOne(t, m, be, Options{
		Policy:    resolver.Policy{Project: "devel:tools", Package: "jq", AutoCleanupDays: 14},
		Principal: "alice",
	})
	tprj, _ := m.GetProject(ctx, result.TargetProject)
	attr := tprj.FindAttribute("OBS", "AutoCleanup")
	if attr == nil || attr.FirstValue() == "" {
		t.Fatal("auto-cleanup expiry not recorded")
	}
}

func TestMaterializeDoubleBranch(t *testing.T) {
	t.Parallel()
	m, be := world(t)

	opts := Options{
		Policy:    resolver.Policy{Project: "devel:tools", Package: "jq"},
		Principal: "alice",
	}
	materializeOne(t, m, be, opts)

	plan, err := BuildPlan(context.Background(), m, be, opts)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	_, err = Materialize(context.Background(), m, be, plan, opts)
	if !errors.Is(err, ErrDoubleBranchPackage) {
		t.Fatalf("error = %v, want ErrDoubleBranchPackage", err)
	}

	// force reuses the existing container.
	opts.Policy.Force = true
	materializeOne(t, m, be, opts)
}

func TestMaterializeNoAccessOnExistingProject(t *testing.T) {
	t.Parallel()
	m, be := world(t)
	m.AddProject(&model.Project{Name: "home:alice:branches:devel:tools"})

	opts := Options{
		Policy:    resolver.Policy{Project: "devel:tools", Package: "jq", NoAccess: true},
		Principal: "alice",
	}
	plan, err := BuildPlan(context.Background(), m, be, opts)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	_, err = Materialize(context.Background(), m, be, plan, opts)
	if !errors.Is(err, ErrNoPermission) {
		t.Fatalf("error = %v, want ErrNoPermission", err)
	}
}

func TestMaterializeAddRepositories(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, be := world(t)

	t.Run("plain names", func(t *testing.T) {
		result := materializeOne(t, m, be, Options{
			Policy:    resolver.Policy{Project: "devel:tools", Package: "jq", AddRepositories: true},
			Principal: "alice",
		})
		tprj, _ := m.GetProject(ctx, result.TargetProject)
		if len(tprj.Repositories) != 1 {
			t.Fatalf("repositories = %+v, want 1", tprj.Repositories)
		}
		repo := tprj.Repositories[0]
		if repo.Name != "standard" {
			t.Errorf("repository name = %q, want standard", repo.Name)
		}
		if len(repo.Paths) != 1 || repo.Paths[0].Project != "devel:tools" {
			t.Errorf("paths = %+v, want one path into devel:tools", repo.Paths)
		}
	})

	t.Run("extended names prefix the origin project", func(t *testing.T) {
		result := materializeOne(t, m, be, Options{
			Policy: resolver.Policy{
				Project: "devel:tools", Package: "jq",
				AddRepositories: true, ExtendNames: true,
				TargetProject: "home:bob:mbranch",
			},
			Principal: "bob",
		})
		tprj, _ := m.GetProject(ctx, result.TargetProject)
		// The origin project prefix is containerized, colons and all.
		if len(tprj.Repositories) != 1 || tprj.Repositories[0].Name != "devel_tools_standard" {
			t.Fatalf("repositories = %+v, want devel_tools_standard", tprj.Repositories)
		}
		if !tprj.BuildDisabled {
			t.Error("extend-names branches disable building by default")
		}
	})
}

func TestMaterializeLocalLinkSibling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, be := world(t)
	m.AddPackage(&model.Package{Project: "devel:tools", Name: "jq-doc", Link: &model.LinkInfo{Package: "jq"}})
	be.SetFiles("devel:tools", "jq-doc", "", backend.Filelist{SrcMD5: "bbbb"})

	result := materializeOne(t, m, be, Options{
		Policy:    resolver.Policy{Project: "devel:tools", Package: "jq"},
		Principal: "alice",
	})
	// Local-link copies do not dilute the primary transfer detail.
	if result.TargetPackage != "jq" || result.SourcePackage != "jq" {
		t.Errorf("result = %+v, want the primary transfer", result)
	}

	sib, err := m.GetPackage(ctx, result.TargetProject, "jq-doc")
	if err != nil || sib == nil {
		t.Fatalf("sibling container not created: %v", err)
	}
	if sib.Link == nil || sib.Link.Package != "jq" || sib.Link.Project != "" {
		t.Errorf("sibling link = %+v, want local link to jq", sib.Link)
	}

	// The sibling is copied and re-linked, not branched.
	var kinds []string
	for _, op := range be.Ops() {
		kinds = append(kinds, op.Kind)
	}
	want := []string{"branch", "copy", "link"}
	if len(kinds) != len(want) {
		t.Fatalf("ops = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("ops = %v, want %v", kinds, want)
		}
	}
}

func TestMaterializeCopyFromDevelLayering(t *testing.T) {
	t.Parallel()
	m := graph.NewMemory().
		AddProject(&model.Project{Name: "ga"}).
		AddProject(&model.Project{Name: "devel:tools"}).
		AddPackage(&model.Package{Project: "ga", Name: "pkg", Devel: &model.PackageID{Project: "devel:tools", Name: "pkg"}}).
		AddPackage(&model.Package{Project: "devel:tools", Name: "pkg"})
	be := backend.NewLocal()
	be.SetFiles("ga", "pkg", "", backend.Filelist{SrcMD5: "ga-sum"})
	be.SetFiles("devel:tools", "pkg", "", backend.Filelist{SrcMD5: "devel-sum"})

	materializeOne(t, m, be, Options{
		Policy:    resolver.Policy{Project: "ga", Package: "pkg", CopyFromDevel: true},
		Principal: "alice",
	})
	ops := be.Ops()
	if len(ops) != 2 || ops[0].Kind != "branch" || ops[1].Kind != "copy" {
		t.Fatalf("ops = %+v, want branch then devel copy", ops)
	}
	if ops[1].SourceProject != "devel:tools" {
		t.Errorf("devel copy source = %q, want devel:tools", ops[1].SourceProject)
	}
}

func TestMaterializeChannelPropagation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := graph.NewMemory().
		AddProject(&model.Project{Name: "distro"}).
		AddProject(&model.Project{Name: "Maintenance:7", Kind: model.KindMaintenanceIncident}).
		AddPackage(&model.Package{Project: "distro", Name: "pkg"}).
		AddPackage(&model.Package{Project: "channels", Name: "pkg-channel", Kind: model.PackageKindChannel,
			Link: &model.LinkInfo{Project: "distro", Package: "pkg"}})
	be := backend.NewLocal()
	be.SetFiles("distro", "pkg", "", backend.Filelist{SrcMD5: "cccc"})

	materializeOne(t, m, be, Options{
		Policy: resolver.Policy{
			Project: "distro", Package: "pkg",
			TargetProject: "Maintenance:7", IgnoreDevel: true, Force: true,
		},
		Principal: "maintbot",
	})
	ch, err := m.GetPackage(ctx, "Maintenance:7", "pkg-channel")
	if err != nil || ch == nil {
		t.Fatalf("channel container not propagated: %v", err)
	}
	if !ch.IsChannel() || ch.Link == nil || ch.Link.Package != "pkg" {
		t.Errorf("channel clone = %+v, want channel linking to pkg", ch)
	}
}

func TestSyncRepositoryPaths(t *testing.T) {
	t.Parallel()

	tprj := &model.Project{
		Name: "branch",
		Repositories: []model.Repository{
			{Name: "distro_standard", Paths: []model.PathElement{{Project: "distro", Repository: "standard"}}},
			{Name: "distro_ports", Paths: []model.PathElement{{Project: "distro", Repository: "standard"}}},
		},
	}
	syncRepositoryPaths(tprj)
	// The second repository's path now points at the local mirror.
	got := tprj.Repositories[1].Paths[0]
	if got.Project != "branch" || got.Repository != "distro_standard" {
		t.Errorf("path = %+v, want branch/distro_standard", got)
	}
	// A path whose mirror is the repository itself stays external.
	first := tprj.Repositories[0].Paths[0]
	if first.Project != "distro" {
		t.Errorf("first path = %+v, want untouched", first)
	}
}
