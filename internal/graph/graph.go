// Package graph defines the read-only link-graph accessor the engine
// resolves against, traversal helpers over it (project-link package
// lookup, update-project chains, devel chains, local link siblings), and
// an in-memory store used by tests and the fixture loader.
package graph

import (
	"context"

	"github.com/papapumpkin/magnetar/internal/model"
)

// Accessor is the read-only query surface of the project/package/
// attribute store. Lookups return (nil, nil) when the entity does not
// exist; errors are reserved for store failures.
type Accessor interface {
	// GetProject returns the project with the given name, or nil.
	GetProject(ctx context.Context, name string) (*model.Project, error)
	// GetPackage returns the package (project, name), or nil. No link
	// following happens here; see FindPackage.
	GetPackage(ctx context.Context, project, name string) (*model.Package, error)
	// ProjectPackages lists all packages of a project in deterministic
	// (name) order.
	ProjectPackages(ctx context.Context, project string) ([]*model.Package, error)
	// FindPackagesByAttribute returns every package carrying the given
	// attribute type. A non-empty name restricts the result to packages
	// of that name.
	FindPackagesByAttribute(ctx context.Context, at model.AttributeName, name string) ([]*model.Package, error)
	// FindProjectsByAttribute returns every project carrying the given
	// attribute type.
	FindProjectsByAttribute(ctx context.Context, at model.AttributeName) ([]*model.Project, error)
	// ProjectRepositories lists a project's repositories including their
	// release targets.
	ProjectRepositories(ctx context.Context, project string) ([]model.Repository, error)
	// PackagesLinkingTo returns every package whose link record points at
	// the given target, in deterministic order. This is the reverse-link
	// search used for maintenance incident lookup.
	PackagesLinkingTo(ctx context.Context, target model.PackageID) ([]*model.Package, error)
}

// Store extends Accessor with the mutations materialization needs.
// Writes are create-or-fail or full-record upserts so re-invocation
// after a partial failure stays safe.
type Store interface {
	Accessor
	// CreateProject stores a new project. Fails with ErrProjectExists if
	// the name is taken.
	CreateProject(ctx context.Context, p *model.Project) error
	// SaveProject upserts a project definition.
	SaveProject(ctx context.Context, p *model.Project) error
	// SavePackage upserts a package record.
	SavePackage(ctx context.Context, p *model.Package) error
}

// RequireProject fetches a project and fails with ErrProjectNotFound if
// it does not exist.
func RequireProject(ctx context.Context, acc Accessor, name string) (*model.Project, error) {
	p, err := acc.GetProject(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFoundProject(name)
	}
	return p, nil
}

// RequirePackage fetches a package directly (no link following) and
// fails with ErrPackageNotFound if it does not exist.
func RequirePackage(ctx context.Context, acc Accessor, project, name string) (*model.Package, error) {
	p, err := acc.GetPackage(ctx, project, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFoundPackage(project, name)
	}
	return p, nil
}
