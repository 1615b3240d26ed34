package model

// RefKind distinguishes the three states a package reference can be in
// during resolution.
type RefKind int

const (
	// RefLocal wraps an existing package in the local store.
	RefLocal RefKind = iota
	// RefRemote names a package on a remote instance; only the name is
	// known and the engine never inspects its contents.
	RefRemote
	// RefPending names a package that does not exist yet and will be
	// created by materialization.
	RefPending
)

// PackageRef is a tagged reference to an existing local package, a
// remote package, or a not-yet-existing one. Consumers branch on the
// kind explicitly instead of probing types.
type PackageRef struct {
	kind RefKind
	pkg  *Package
	name string
}

// LocalRef wraps an existing package.
func LocalRef(p *Package) PackageRef {
	return PackageRef{kind: RefLocal, pkg: p, name: p.Name}
}

// RemoteRef names a package on a remote instance.
func RemoteRef(name string) PackageRef {
	return PackageRef{kind: RefRemote, name: name}
}

// PendingRef names a package that will be created.
func PendingRef(name string) PackageRef {
	return PackageRef{kind: RefPending, name: name}
}

// Kind returns the reference kind.
func (r PackageRef) Kind() RefKind { return r.kind }

// Name returns the package name regardless of kind.
func (r PackageRef) Name() string { return r.name }

// Local returns the wrapped package and true for RefLocal references.
func (r PackageRef) Local() (*Package, bool) {
	if r.kind == RefLocal {
		return r.pkg, true
	}
	return nil, false
}

// IsLocal reports whether the reference wraps an existing local package.
func (r PackageRef) IsLocal() bool { return r.kind == RefLocal }

// SameAs reports whether two references name the same underlying
// package. Local references compare by (project, name) value so the
// check stays correct across process boundaries; name-only references
// compare by name.
func (r PackageRef) SameAs(o PackageRef) bool {
	if r.kind == RefLocal && o.kind == RefLocal {
		return r.pkg.ID() == o.pkg.ID()
	}
	return r.kind == o.kind && r.name == o.name
}
