package resolver

import "errors"

// Sentinel errors for source-set resolution and redirection.
var (
	// ErrNotFound indicates the request spec matched no packages.
	ErrNotFound = errors.New("no packages found by search criteria")
	// ErrNotMissing indicates a missing-ok resolution found the source to
	// already exist.
	ErrNotMissing = errors.New("branched source already exists")
	// ErrInvalidFilelist indicates a requested revision could not be
	// expanded to a content fingerprint.
	ErrInvalidFilelist = errors.New("no fingerprint found for revision")
)
