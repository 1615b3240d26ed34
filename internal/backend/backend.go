// Package backend declares the source-control backend the engine
// instructs: branching and copying source trees, writing link records,
// expanding revisions to content fingerprints, and reading build state.
// The engine never retries transient failures; ErrUnavailable propagates
// so callers can decide on retry policy.
package backend

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by backend implementations.
var (
	// ErrNotFound indicates a missing source tree, revision or link.
	ErrNotFound = errors.New("backend: not found")
	// ErrUnavailable indicates a transient backend failure. The engine
	// propagates it untouched.
	ErrUnavailable = errors.New("backend: unavailable")
)

// BranchOptions control a branch-from operation.
type BranchOptions struct {
	// MissingOK creates the branch even when the origin does not exist.
	MissingOK bool
	// NoService suppresses source services on the new branch.
	NoService bool
	// Rev pins the branch to a content fingerprint.
	Rev string
	// ExtendVrev extends the version-release counter; set only when the
	// target project is a maintenance incident and the source crosses
	// project boundaries.
	ExtendVrev bool
}

// CopyOptions control a source copy.
type CopyOptions struct {
	// KeepLink preserves an existing link record in the target.
	KeepLink bool
	// Expand copies the expanded sources rather than the link.
	Expand bool
	// Comment is recorded in the target's history.
	Comment string
}

// LinkRecord is a package link as stored by the backend.
type LinkRecord struct {
	// Project is empty for links within the owning project.
	Project   string
	Package   string
	MissingOK bool
}

// Filelist describes one revision of a source tree.
type Filelist struct {
	// SrcMD5 is the content-derived fingerprint of the tree.
	SrcMD5  string
	Entries []string
}

// PackageStatus is one package's build status within a repository/arch
// result.
type PackageStatus struct {
	Package string
	// Code is the scheduler status, e.g. "succeeded", "failed",
	// "excluded", "broken".
	Code string
	// VersRel is the version-release string reported for the build.
	VersRel string
}

// BuildResult is the per-repository/arch build state of a project.
type BuildResult struct {
	Repository string
	Arch       string
	// State is the repository publish state, e.g. "published",
	// "unpublished", "publishing", "building".
	State string
	// Dirty reports that the schedulers still need to recalculate.
	Dirty    bool
	Statuses []PackageStatus
}

// StatusFor returns the status entry for a package, or nil.
func (r BuildResult) StatusFor(pkg string) *PackageStatus {
	for i := range r.Statuses {
		if r.Statuses[i].Package == pkg {
			return &r.Statuses[i]
		}
	}
	return nil
}

// HistoryEntry is one build-history record of a package.
type HistoryEntry struct {
	Rev    string
	SrcMD5 string
	Time   time.Time
}

// Client is the source-control backend consumed by the engine.
type Client interface {
	// BranchSource creates target as a copy-on-write branch of the
	// origin.
	BranchSource(ctx context.Context, srcProject, srcPackage, targetProject, targetPackage string, opts BranchOptions) error
	// CopySource copies sources from the origin into the target.
	CopySource(ctx context.Context, targetProject, targetPackage, srcProject, srcPackage string, opts CopyOptions) error
	// WriteLink replaces the target's link record.
	WriteLink(ctx context.Context, project, pkg string, link LinkRecord) error
	// LinkInfo reads the stored link record, or ErrNotFound.
	LinkInfo(ctx context.Context, project, pkg string) (*LinkRecord, error)
	// Files lists one revision of a source tree. An empty rev means the
	// current head; the returned SrcMD5 is the expanded fingerprint.
	Files(ctx context.Context, project, pkg, rev string) (*Filelist, error)
	// BuildResults reads the per-repository/arch build state of a
	// project.
	BuildResults(ctx context.Context, project string) ([]BuildResult, error)
	// History lists build-history entries for a package on one
	// repository/arch, oldest first.
	History(ctx context.Context, project, repo, pkg, arch string) ([]HistoryEntry, error)
	// Diff computes the source diff between two trees. An empty result
	// means the trees are identical. The source revision may be empty for
	// the current head; a missing target counts as a full diff.
	Diff(ctx context.Context, srcProject, srcPackage, srcRev, targetProject, targetPackage string) (string, error)
}
