package branch

import "errors"

// Sentinel errors for plan building and materialization.
var (
	// ErrDoubleBranchPackage indicates the branch target package already
	// exists and force was not requested.
	ErrDoubleBranchPackage = errors.New("branch target package already exists")
	// ErrNoPermission indicates the target project cannot be created or
	// modified as requested.
	ErrNoPermission = errors.New("no permission on target project")
	// ErrInvalidProjectName indicates the computed or requested target
	// project name is malformed.
	ErrInvalidProjectName = errors.New("invalid project name")
)
