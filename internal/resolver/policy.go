package resolver

import (
	"github.com/papapumpkin/magnetar/internal/model"
)

// Policy carries every flag that influences resolution. It is an
// immutable value threaded through the engine; steps that adjust policy
// (the maintenance preset, attribute-search defaults, branch-target
// markers) return an updated copy instead of mutating shared state.
type Policy struct {
	// Source spec: exactly one of Project+Package, Request, or an
	// attribute search (Package optionally naming the package to find
	// through tagged projects).
	Project string
	Package string
	Request *model.Request

	// Attribute names the attribute type for tag searches. Zero means
	// OBS:Maintained.
	Attribute model.AttributeName
	// Value restricts an attribute search to packages whose attribute
	// carries this value.
	Value string

	// UpdateAttribute names the update-project attribute type. Zero means
	// OBS:UpdateProject.
	UpdateAttribute model.AttributeName

	// TargetProject and TargetPackage override the computed names.
	TargetProject string
	TargetPackage string

	// Rev pins the source revision; expanded to a fingerprint during
	// redirection.
	Rev string

	// MissingOK branches a package that does not exist yet.
	MissingOK bool
	// NoService suppresses source services on branched packages.
	NoService bool
	// IgnoreDevel disables update-project, devel and incident resolution.
	IgnoreDevel bool
	// NewInstance creates a new package instance in the target and copies
	// sources from the devel location.
	NewInstance bool
	// Maintenance requests a maintenance branch; implies ExtendNames,
	// CopyFromDevel, AddRepositories and UpdatePathElements.
	Maintenance bool
	// ExtendNames appends the link-target project to package and
	// repository names.
	ExtendNames bool
	// CopyFromDevel layers devel/incident sources on top of the branch.
	CopyFromDevel bool
	// AddRepositories mirrors the link-target project's repositories into
	// the branch project.
	AddRepositories bool
	// UpdatePathElements rewrites repository path references to stay
	// internally consistent after renaming.
	UpdatePathElements bool
	// NoAccess hides the created branch project.
	NoAccess bool
	// Force overwrites an existing branch target package.
	Force bool
	// DryRun reports the plan without materializing it.
	DryRun bool

	Rebuild model.RebuildPolicy
	Block   model.BlockPolicy

	// AutoCleanupDays sets the expiry of the AutoCleanup attribute on new
	// branch projects; 0 disables it.
	AutoCleanupDays int
}

// Normalize applies the maintenance and new-instance presets and
// defaults the attribute types, returning the adjusted copy.
func (p Policy) Normalize() Policy {
	if p.Attribute.IsZero() {
		p.Attribute = model.AttrMaintained
	}
	if p.UpdateAttribute.IsZero() {
		p.UpdateAttribute = model.AttrUpdateProject
	}
	if p.NewInstance {
		p.CopyFromDevel = true
	}
	if p.Maintenance {
		p.ExtendNames = true
		p.CopyFromDevel = true
		p.AddRepositories = true
		p.UpdatePathElements = true
	}
	return p
}

// extendTarget applies the extend-names suffix for a link target
// project.
func extendTarget(name, linkTargetProject string, extend bool) string {
	if extend {
		return name + "." + linkTargetProject
	}
	return name
}
