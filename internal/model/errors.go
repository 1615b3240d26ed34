package model

import "errors"

// Sentinel errors for value construction and validation.
var (
	// ErrInvalidArgument indicates a malformed policy enum or attribute
	// type string.
	ErrInvalidArgument = errors.New("invalid argument")
)
