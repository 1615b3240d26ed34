package request

import "errors"

// Sentinel errors for request action expansion.
var (
	// ErrBuildNotFinished indicates a repository has not finished
	// building or publishing.
	ErrBuildNotFinished = errors.New("build not finished")
	// ErrVersionReleaseDiffers indicates a package reports different
	// version-release strings within one repository.
	ErrVersionReleaseDiffers = errors.New("version release differs in same repository")
	// ErrMissingPatchinfo indicates a maintenance release batch carries
	// no patchinfo container.
	ErrMissingPatchinfo = errors.New("maintenance release request without patchinfo")
	// ErrInvalidReleaseTarget indicates no maintenance-triggered release
	// target leads out of an incident.
	ErrInvalidReleaseTarget = errors.New("no valid release target")
	// ErrMultipleReleaseTargets indicates an incident declares more than
	// one maintenance-triggered release target.
	ErrMultipleReleaseTargets = errors.New("multiple release targets")
	// ErrUnknownTargetProject indicates the action names no resolvable
	// target project.
	ErrUnknownTargetProject = errors.New("unknown target project")
	// ErrUnknownTargetPackage indicates the target package container does
	// not exist.
	ErrUnknownTargetPackage = errors.New("unknown target package")
	// ErrRemoteSource indicates the action points at a non-local source,
	// which expansion does not support.
	ErrRemoteSource = errors.New("remote source is not supported")
)
