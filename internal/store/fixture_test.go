package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/papapumpkin/magnetar/internal/backend"
)

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

const worldTOML = `
[[projects]]
name = "devel:tools"

[[projects]]
name = "distro"

[[packages]]
project = "distro"
name = "jq"

[[packages]]
project = "devel:tools"
name = "jq"
[packages.link]
project = "distro"
package = "jq"

[[files]]
project = "devel:tools"
package = "jq"
srcmd5 = "aaaa"
entries = ["jq.spec", "jq.tar.gz"]

[[build_results]]
project = "devel:tools"
[[build_results.results]]
repository = "standard"
arch = "x86_64"
state = "published"

[[history]]
project = "devel:tools"
repository = "standard"
package = "jq"
arch = "x86_64"
revs = ["1", "2"]
srcmd5s = ["aaaa", "bbbb"]

[[diffs]]
source_project = "devel:tools"
source_package = "jq"
target_project = "distro"
target_package = "jq"
diff = "+fix"

[[requests]]
number = 42
[[requests.actions]]
type = "submit"
source_project = "devel:tools"
source_package = "jq"
target_project = "distro"
`

func TestLoadFixtureApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f, err := LoadFixture(writeFixture(t, worldTOML))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	s := testStore(t)
	be := backend.NewLocal()
	if err := f.Apply(ctx, s, be); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	t.Run("graph is stored", func(t *testing.T) {
		p, err := s.GetProject(ctx, "devel:tools")
		if err != nil || p == nil {
			t.Fatalf("GetProject = %v, %v", p, err)
		}
		pkg, err := s.GetPackage(ctx, "devel:tools", "jq")
		if err != nil || pkg == nil {
			t.Fatalf("GetPackage = %v, %v", pkg, err)
		}
		if pkg.Link == nil || pkg.Link.Project != "distro" {
			t.Errorf("link = %+v, want distro/jq", pkg.Link)
		}
	})

	t.Run("backend is seeded", func(t *testing.T) {
		fl, err := be.Files(ctx, "devel:tools", "jq", "")
		if err != nil {
			t.Fatalf("Files: %v", err)
		}
		if fl.SrcMD5 != "aaaa" || len(fl.Entries) != 2 {
			t.Errorf("filelist = %+v", fl)
		}
		results, err := be.BuildResults(ctx, "devel:tools")
		if err != nil || len(results) != 1 || results[0].State != "published" {
			t.Errorf("results = %+v, %v", results, err)
		}
		history, err := be.History(ctx, "devel:tools", "standard", "jq", "x86_64")
		if err != nil || len(history) != 2 || history[1].SrcMD5 != "bbbb" {
			t.Errorf("history = %+v, %v", history, err)
		}
		diff, err := be.Diff(ctx, "devel:tools", "jq", "", "distro", "jq")
		if err != nil || diff != "+fix" {
			t.Errorf("diff = %q, %v", diff, err)
		}
	})

	t.Run("modeled link is mirrored into the backend", func(t *testing.T) {
		rec, err := be.LinkInfo(ctx, "devel:tools", "jq")
		if err != nil {
			t.Fatalf("LinkInfo: %v", err)
		}
		if rec.Project != "distro" || rec.Package != "jq" {
			t.Errorf("link record = %+v", rec)
		}
	})

	t.Run("request lookup", func(t *testing.T) {
		req := f.Request(42)
		if req == nil || len(req.Actions) != 1 {
			t.Fatalf("Request(42) = %+v", req)
		}
		if req.Actions[0].TargetProject != "distro" {
			t.Errorf("action = %+v", req.Actions[0])
		}
		if f.Request(7) != nil {
			t.Error("Request(7) found a request that does not exist")
		}
	})
}

func TestFixtureHistoryLengthMismatch(t *testing.T) {
	t.Parallel()

	const bad = `
[[history]]
project = "p"
repository = "r"
package = "pkg"
arch = "x86_64"
revs = ["1", "2"]
srcmd5s = ["aaaa"]
`
	f, err := LoadFixture(writeFixture(t, bad))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if err := f.Apply(context.Background(), nil, backend.NewLocal()); err == nil {
		t.Fatal("Apply accepted mismatched history lengths")
	}
}
