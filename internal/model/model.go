// Package model defines the entities the resolution engine operates on:
// projects, packages, link records, attributes, request actions, and the
// policy enums that gate branching behavior. The types are plain values;
// persistence and traversal live in internal/graph and internal/store.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ProjectKind determines which routing rules apply to a project.
type ProjectKind string

const (
	KindStandard            ProjectKind = "standard"
	KindMaintenance         ProjectKind = "maintenance"
	KindMaintenanceIncident ProjectKind = "maintenance_incident"
	KindMaintenanceRelease  ProjectKind = "maintenance_release"
)

// Project is a colon-segmented namespace holding packages.
type Project struct {
	Name        string       `toml:"name"`
	Kind        ProjectKind  `toml:"kind"`
	Title       string       `toml:"title"`
	Description string       `toml:"description"`
	// Remote marks a project living on another instance. Remote projects
	// are opaque to the engine and only ever addressed by name.
	Remote    bool   `toml:"remote"`
	RemoteURL string `toml:"remote_url"`
	// Links lists projects whose packages are reachable through this one,
	// in search order.
	Links        []string     `toml:"links"`
	Repositories []Repository `toml:"repositories"`
	Attributes   []Attribute  `toml:"attributes"`
	// Maintainers holds principals with a maintainer relationship.
	Maintainers []string `toml:"maintainers"`
	// Released reports whether a maintenance incident has been released
	// into its GA projects. Meaningless for other kinds.
	Released bool `toml:"released"`
	// BuildDisabled and AccessDisabled mirror the project-level flags the
	// materializer may set on new branch projects.
	BuildDisabled  bool `toml:"build_disabled"`
	AccessDisabled bool `toml:"access_disabled"`
	// DelegatesRequests marks a project that re-resolves incoming submit
	// targets through its own link graph.
	DelegatesRequests bool `toml:"delegates_requests"`
	// DevelProject names the project where development for this project
	// happens, if any.
	DevelProject string `toml:"devel_project"`
	// MaintenanceProjects lists the maintenance projects responsible for
	// this one.
	MaintenanceProjects []string `toml:"maintenance_projects"`
}

// FindAttribute returns the attribute with the given namespace and name,
// or nil if the project does not carry it.
func (p *Project) FindAttribute(ns, name string) *Attribute {
	for i := range p.Attributes {
		if p.Attributes[i].Namespace == ns && p.Attributes[i].Name == name {
			return &p.Attributes[i]
		}
	}
	return nil
}

// SetAttribute replaces or appends an attribute value list.
func (p *Project) SetAttribute(a Attribute) {
	for i := range p.Attributes {
		if p.Attributes[i].Namespace == a.Namespace && p.Attributes[i].Name == a.Name {
			p.Attributes[i] = a
			return
		}
	}
	p.Attributes = append(p.Attributes, a)
}

// IsMaintenanceIncident reports whether the project represents one
// in-progress maintenance update.
func (p *Project) IsMaintenanceIncident() bool {
	return p.Kind == KindMaintenanceIncident
}

// IsMaintenanceRelease reports whether released updates may be published
// into this project.
func (p *Project) IsMaintenanceRelease() bool {
	return p.Kind == KindMaintenanceRelease
}

// IncidentNumber extracts the numeric incident suffix from the project
// name (the segment after the last colon). Returns -1 if the suffix is
// not numeric.
func (p *Project) IncidentNumber() int {
	idx := strings.LastIndex(p.Name, ":")
	suffix := p.Name
	if idx >= 0 {
		suffix = p.Name[idx+1:]
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return -1
	}
	return n
}

// Repository is a build repository within a project.
type Repository struct {
	Name           string          `toml:"name"`
	Archs          []string        `toml:"archs"`
	Paths          []PathElement   `toml:"paths"`
	ReleaseTargets []ReleaseTarget `toml:"release_targets"`
	Rebuild        string          `toml:"rebuild"`
	Block          string          `toml:"block"`
}

// PathElement references another repository this one builds against.
type PathElement struct {
	Project    string `toml:"project"`
	Repository string `toml:"repository"`
}

// ReleaseTarget is a repository-to-repository edge describing which
// published repository may receive release actions from this one.
type ReleaseTarget struct {
	TargetProject    string `toml:"target_project"`
	TargetRepository string `toml:"target_repository"`
	// Trigger gates when the edge fires, e.g. "maintenance" or "manual".
	Trigger string `toml:"trigger"`
}

// PackageID identifies a package by its owning project and name.
type PackageID struct {
	Project string
	Name    string
}

// String renders the ID as "project/package".
func (id PackageID) String() string {
	return id.Project + "/" + id.Name
}

// PackageKind marks packages with special content.
type PackageKind string

const (
	PackageKindNone      PackageKind = ""
	PackageKindPatchinfo PackageKind = "patchinfo"
	PackageKindChannel   PackageKind = "channel"
)

// Package is a named source container inside a project.
type Package struct {
	Project     string      `toml:"project"`
	Name        string      `toml:"name"`
	Title       string      `toml:"title"`
	Description string      `toml:"description"`
	Kind        PackageKind `toml:"kind"`
	// Link makes this package's sources "same as another package",
	// optionally with local patches.
	Link *LinkInfo `toml:"link"`
	// Devel points at the package instance considered the authoritative
	// development location.
	Devel *PackageID `toml:"devel"`
	// ReleaseName remembers the original package identity inside a
	// maintenance incident.
	ReleaseName string `toml:"release_name"`
	// Flavors lists multibuild sub-variants sharing this source tree,
	// addressed as "name:flavor".
	Flavors []string `toml:"flavors"`
	// SyncTag is a build-counter sync tag copied onto branch targets.
	SyncTag string `toml:"sync_tag"`
	// ReleaseTargets restricts which projects a patchinfo container may
	// be released into. Empty means unrestricted.
	ReleaseTargets []string    `toml:"release_targets"`
	Attributes     []Attribute `toml:"attributes"`
}

// ID returns the package's (project, name) identity.
func (p *Package) ID() PackageID {
	return PackageID{Project: p.Project, Name: p.Name}
}

// IsLink reports whether the package's sources are defined by a link.
func (p *Package) IsLink() bool {
	return p.Link != nil
}

// IsPatchinfo reports whether the package's sole content is
// maintenance-update metadata.
func (p *Package) IsPatchinfo() bool {
	return p.Kind == PackageKindPatchinfo
}

// IsChannel reports whether the package is a maintenance channel
// container.
func (p *Package) IsChannel() bool {
	return p.Kind == PackageKindChannel
}

// FindAttribute returns the package attribute with the given namespace
// and name, or nil.
func (p *Package) FindAttribute(ns, name string) *Attribute {
	for i := range p.Attributes {
		if p.Attributes[i].Namespace == ns && p.Attributes[i].Name == name {
			return &p.Attributes[i]
		}
	}
	return nil
}

// LinkTarget resolves the link's target ID, defaulting the project to
// the package's own project for local links.
func (p *Package) LinkTarget() (PackageID, bool) {
	if p.Link == nil {
		return PackageID{}, false
	}
	prj := p.Link.Project
	if prj == "" {
		prj = p.Project
	}
	return PackageID{Project: prj, Name: p.Link.Package}, true
}

// LinkInfo is a package link record. An empty Project means the link
// stays within the owning project.
type LinkInfo struct {
	Project string `toml:"project"`
	Package string `toml:"package"`
	// MissingOK tolerates a link target that does not exist yet.
	MissingOK bool `toml:"missing_ok"`
}

// Attribute is namespaced typed configuration attached to a project or
// package. Values are ordered.
type Attribute struct {
	Namespace string   `toml:"namespace"`
	Name      string   `toml:"name"`
	Values    []string `toml:"values"`
}

// FirstValue returns the first value or the empty string.
func (a *Attribute) FirstValue() string {
	if a == nil || len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

// ParseFlavor splits a multibuild "name:flavor" address. The flavor is
// empty for plain package names.
func ParseFlavor(name string) (base, flavor string) {
	if idx := strings.Index(name, ":"); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return name, ""
}

// ContainerName maps a target package name to a valid container name by
// replacing multibuild colons with underscores.
func ContainerName(name string) string {
	return strings.ReplaceAll(name, ":", "_")
}

// ValidProjectName reports whether a project name is acceptable: no
// empty segments, no leading colon, restricted character set.
func ValidProjectName(name string) bool {
	if name == "" || len(name) > 200 {
		return false
	}
	for _, seg := range strings.Split(name, ":") {
		if seg == "" {
			return false
		}
		for _, r := range seg {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			case r == '-' || r == '_' || r == '.' || r == '+':
			default:
				return false
			}
		}
	}
	return !strings.HasPrefix(name, ".")
}

// AttributeName is a parsed "NAMESPACE:NAME" attribute type reference.
type AttributeName struct {
	Namespace string
	Name      string
}

// String renders the attribute type back to "NAMESPACE:NAME" form.
func (a AttributeName) String() string {
	return a.Namespace + ":" + a.Name
}

// IsZero reports whether the attribute name is unset.
func (a AttributeName) IsZero() bool {
	return a.Namespace == "" && a.Name == ""
}

// ParseAttributeName parses a "NAMESPACE:NAME" string. Anything that is
// not exactly two non-empty colon-separated segments fails with
// ErrInvalidArgument.
func ParseAttributeName(s string) (AttributeName, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return AttributeName{}, fmt.Errorf("%w: attribute %q must be in NAMESPACE:NAME form", ErrInvalidArgument, s)
	}
	return AttributeName{Namespace: parts[0], Name: parts[1]}, nil
}

// Well-known attribute types consulted by the engine.
var (
	AttrUpdateProject         = AttributeName{"OBS", "UpdateProject"}
	AttrBranchTarget          = AttributeName{"OBS", "BranchTarget"}
	AttrMaintenanceProject    = AttributeName{"OBS", "MaintenanceProject"}
	AttrMaintained            = AttributeName{"OBS", "Maintained"}
	AttrApprovedRequestSource = AttributeName{"OBS", "ApprovedRequestSource"}
	AttrRejectRequests        = AttributeName{"OBS", "RejectRequests"}
	AttrRequestCloned         = AttributeName{"OBS", "RequestCloned"}
	AttrAutoCleanup           = AttributeName{"OBS", "AutoCleanup"}
)
