package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for link-graph lookups and traversal.
var (
	// ErrProjectNotFound indicates an unknown project name.
	ErrProjectNotFound = errors.New("project not found")
	// ErrPackageNotFound indicates an unknown (project, package) pair.
	ErrPackageNotFound = errors.New("package not found")
	// ErrProjectExists indicates a create collided with an existing name.
	ErrProjectExists = errors.New("project already exists")
	// ErrCyclicDevel indicates a devel-package reference chain that never
	// reaches a fixpoint.
	ErrCyclicDevel = errors.New("cyclic devel package definition")
)

func notFoundProject(name string) error {
	return fmt.Errorf("%w: %s", ErrProjectNotFound, name)
}

func notFoundPackage(project, name string) error {
	return fmt.Errorf("%w: %s/%s", ErrPackageNotFound, project, name)
}
