package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/papapumpkin/magnetar/internal/backend"
	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
)

// Fixture is a TOML description of a complete engine world: the
// project/package graph plus the backend's source and build state. It
// is how test beds and local scenarios get loaded.
type Fixture struct {
	Projects []model.Project `toml:"projects"`
	Packages []model.Package `toml:"packages"`
	Requests []model.Request `toml:"requests"`

	Files        []fixtureFiles   `toml:"files"`
	Links        []fixtureLink    `toml:"links"`
	BuildResults []fixtureResults `toml:"build_results"`
	History      []fixtureHistory `toml:"history"`
	Diffs        []fixtureDiff    `toml:"diffs"`
}

type fixtureFiles struct {
	Project string   `toml:"project"`
	Package string   `toml:"package"`
	Rev     string   `toml:"rev"`
	SrcMD5  string   `toml:"srcmd5"`
	Entries []string `toml:"entries"`
}

type fixtureLink struct {
	Project   string `toml:"project"`
	Package   string `toml:"package"`
	ToProject string `toml:"to_project"`
	ToPackage string `toml:"to_package"`
	MissingOK bool   `toml:"missing_ok"`
}

type fixtureResults struct {
	Project string                `toml:"project"`
	Results []backend.BuildResult `toml:"results"`
}

type fixtureHistory struct {
	Project    string    `toml:"project"`
	Repository string    `toml:"repository"`
	Package    string    `toml:"package"`
	Arch       string    `toml:"arch"`
	Revs       []string  `toml:"revs"`
	SrcMD5s    []string  `toml:"srcmd5s"`
	Time       time.Time `toml:"time"`
}

type fixtureDiff struct {
	SourceProject string `toml:"source_project"`
	SourcePackage string `toml:"source_package"`
	TargetProject string `toml:"target_project"`
	TargetPackage string `toml:"target_package"`
	Diff          string `toml:"diff"`
}

// LoadFixture reads and decodes a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: read %s: %w", path, err)
	}
	var f Fixture
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("fixture: decode %s: %w", path, err)
	}
	return &f, nil
}

// Request returns the fixture request with the given number, or nil.
func (f *Fixture) Request(number int64) *model.Request {
	for i := range f.Requests {
		if f.Requests[i].Number == number {
			return &f.Requests[i]
		}
	}
	return nil
}

// Apply writes the fixture's graph into the store and seeds the local
// backend. Either destination may be nil to skip that half.
func (f *Fixture) Apply(ctx context.Context, dst graph.Store, be *backend.Local) error {
	if dst != nil {
		for i := range f.Projects {
			if err := dst.SaveProject(ctx, &f.Projects[i]); err != nil {
				return err
			}
		}
		for i := range f.Packages {
			if err := dst.SavePackage(ctx, &f.Packages[i]); err != nil {
				return err
			}
		}
	}
	if be == nil {
		return nil
	}

	for _, fl := range f.Files {
		be.SetFiles(fl.Project, fl.Package, fl.Rev, backend.Filelist{
			SrcMD5:  fl.SrcMD5,
			Entries: fl.Entries,
		})
	}
	for _, ln := range f.Links {
		be.SetLink(ln.Project, ln.Package, backend.LinkRecord{
			Project:   ln.ToProject,
			Package:   ln.ToPackage,
			MissingOK: ln.MissingOK,
		})
	}
	for _, br := range f.BuildResults {
		be.SetBuildResults(br.Project, br.Results)
	}
	for _, h := range f.History {
		if len(h.Revs) != len(h.SrcMD5s) {
			return fmt.Errorf("fixture: history of %s/%s: %d revs but %d srcmd5s",
				h.Project, h.Package, len(h.Revs), len(h.SrcMD5s))
		}
		entries := make([]backend.HistoryEntry, len(h.Revs))
		for i := range h.Revs {
			entries[i] = backend.HistoryEntry{Rev: h.Revs[i], SrcMD5: h.SrcMD5s[i], Time: h.Time}
		}
		be.SetHistory(h.Project, h.Repository, h.Package, h.Arch, entries)
	}
	for _, d := range f.Diffs {
		be.SetDiff(d.SourceProject, d.SourcePackage, d.TargetProject, d.TargetPackage, d.Diff)
	}

	// Mirror modeled links into the backend so link unwinding sees them
	// without every fixture spelling out both.
	for i := range f.Packages {
		pkg := &f.Packages[i]
		if pkg.Link == nil {
			continue
		}
		if _, err := be.LinkInfo(ctx, pkg.Project, pkg.Name); err == nil {
			continue
		}
		be.SetLink(pkg.Project, pkg.Name, backend.LinkRecord{
			Project:   pkg.Link.Project,
			Package:   pkg.Link.Package,
			MissingOK: pkg.Link.MissingOK,
		})
	}
	return nil
}
