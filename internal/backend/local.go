package backend

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
)

// Op records one mutating backend call, for reporting and tests.
type Op struct {
	// Kind is "branch", "copy" or "link".
	Kind          string
	SourceProject string
	SourcePackage string
	TargetProject string
	TargetPackage string
	Comment       string
}

// Local is an in-process Client holding all backend state in memory.
// It backs the CLI when no real source server is configured and serves
// as the test double for the engine.
type Local struct {
	mu      sync.Mutex
	links   map[string]LinkRecord
	files   map[string]*Filelist
	results map[string][]BuildResult
	history map[string][]HistoryEntry
	diffs   map[string]string
	ops     []Op
}

// NewLocal returns an empty Local backend.
func NewLocal() *Local {
	return &Local{
		links:   map[string]LinkRecord{},
		files:   map[string]*Filelist{},
		results: map[string][]BuildResult{},
		history: map[string][]HistoryEntry{},
		diffs:   map[string]string{},
	}
}

func pkgKey(project, pkg string) string { return project + "/" + pkg }

func revKey(project, pkg, rev string) string { return project + "/" + pkg + "@" + rev }

func diffKey(sp, spkg, tp, tpkg string) string { return sp + "/" + spkg + ">" + tp + "/" + tpkg }

// SetLink seeds a stored link record.
func (l *Local) SetLink(project, pkg string, link LinkRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links[pkgKey(project, pkg)] = link
}

// SetFiles seeds a filelist for one revision. An empty rev seeds the
// current head.
func (l *Local) SetFiles(project, pkg, rev string, fl Filelist) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files[revKey(project, pkg, rev)] = &fl
}

// SetBuildResults seeds the build state of a project.
func (l *Local) SetBuildResults(project string, results []BuildResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results[project] = results
}

// SetHistory seeds build-history entries for one repository/arch.
func (l *Local) SetHistory(project, repo, pkg, arch string, entries []HistoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history[revKey(project, pkg, repo+"/"+arch)] = entries
}

// SetDiff seeds the diff between a source and a target tree. Sources
// and targets without a seeded diff report a full change.
func (l *Local) SetDiff(srcProject, srcPackage, targetProject, targetPackage, diff string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.diffs[diffKey(srcProject, srcPackage, targetProject, targetPackage)] = diff
}

// Ops returns the mutating calls recorded so far, in order.
func (l *Local) Ops() []Op {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Op(nil), l.ops...)
}

// BranchSource records the branch and creates the target's head from
// the origin's, writing a link record back to the origin.
func (l *Local) BranchSource(ctx context.Context, srcProject, srcPackage, targetProject, targetPackage string, opts BranchOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.files[revKey(srcProject, srcPackage, "")]
	if !ok && !opts.MissingOK {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, srcProject, srcPackage)
	}
	head := &Filelist{SrcMD5: fingerprint(targetProject, targetPackage)}
	if src != nil {
		head.Entries = append([]string(nil), src.Entries...)
	}
	l.files[revKey(targetProject, targetPackage, "")] = head
	l.links[pkgKey(targetProject, targetPackage)] = LinkRecord{
		Project:   srcProject,
		Package:   srcPackage,
		MissingOK: opts.MissingOK,
	}
	l.ops = append(l.ops, Op{
		Kind:          "branch",
		SourceProject: srcProject,
		SourcePackage: srcPackage,
		TargetProject: targetProject,
		TargetPackage: targetPackage,
	})
	return nil
}

// CopySource records the copy and replaces the target's head with the
// origin's.
func (l *Local) CopySource(ctx context.Context, targetProject, targetPackage, srcProject, srcPackage string, opts CopyOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.files[revKey(srcProject, srcPackage, "")]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, srcProject, srcPackage)
	}
	head := &Filelist{
		SrcMD5:  src.SrcMD5,
		Entries: append([]string(nil), src.Entries...),
	}
	l.files[revKey(targetProject, targetPackage, "")] = head
	if !opts.KeepLink {
		delete(l.links, pkgKey(targetProject, targetPackage))
	}
	l.ops = append(l.ops, Op{
		Kind:          "copy",
		SourceProject: srcProject,
		SourcePackage: srcPackage,
		TargetProject: targetProject,
		TargetPackage: targetPackage,
		Comment:       opts.Comment,
	})
	return nil
}

// WriteLink replaces the target's stored link record.
func (l *Local) WriteLink(ctx context.Context, project, pkg string, link LinkRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links[pkgKey(project, pkg)] = link
	l.ops = append(l.ops, Op{
		Kind:          "link",
		SourceProject: link.Project,
		SourcePackage: link.Package,
		TargetProject: project,
		TargetPackage: pkg,
	})
	return nil
}

// LinkInfo reads the stored link record, or ErrNotFound.
func (l *Local) LinkInfo(ctx context.Context, project, pkg string) (*LinkRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.links[pkgKey(project, pkg)]
	if !ok {
		return nil, fmt.Errorf("%w: link of %s/%s", ErrNotFound, project, pkg)
	}
	out := rec
	return &out, nil
}

// Files lists one revision of a source tree, or ErrNotFound.
func (l *Local) Files(ctx context.Context, project, pkg, rev string) (*Filelist, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fl, ok := l.files[revKey(project, pkg, rev)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s@%s", ErrNotFound, project, pkg, rev)
	}
	out := *fl
	return &out, nil
}

// BuildResults reads the seeded build state of a project.
func (l *Local) BuildResults(ctx context.Context, project string) ([]BuildResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]BuildResult(nil), l.results[project]...), nil
}

// History lists the seeded build-history entries, oldest first.
func (l *Local) History(ctx context.Context, project, repo, pkg, arch string) ([]HistoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, ok := l.history[revKey(project, pkg, repo+"/"+arch)]
	if !ok {
		return nil, fmt.Errorf("%w: history of %s/%s on %s/%s", ErrNotFound, project, pkg, repo, arch)
	}
	return append([]HistoryEntry(nil), entries...), nil
}

// Diff returns the seeded diff between two trees. Identical fingerprints
// short-circuit to an empty diff; otherwise an unseeded pair reports a
// full change marker.
func (l *Local) Diff(ctx context.Context, srcProject, srcPackage, srcRev, targetProject, targetPackage string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.diffs[diffKey(srcProject, srcPackage, targetProject, targetPackage)]; ok {
		return d, nil
	}
	src, srcOK := l.files[revKey(srcProject, srcPackage, srcRev)]
	tgt, tgtOK := l.files[revKey(targetProject, targetPackage, "")]
	if srcOK && tgtOK && src.SrcMD5 == tgt.SrcMD5 {
		return "", nil
	}
	return fmt.Sprintf("changed: %s/%s -> %s/%s", srcProject, srcPackage, targetProject, targetPackage), nil
}

// fingerprint derives a deterministic srcmd5-style identifier.
func fingerprint(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
