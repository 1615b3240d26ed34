package model

import "fmt"

// RebuildPolicy controls how mirrored repositories trigger rebuilds.
type RebuildPolicy string

const (
	RebuildTransitive RebuildPolicy = "transitive"
	RebuildDirect     RebuildPolicy = "direct"
	RebuildLocal      RebuildPolicy = "local"
	RebuildCopy       RebuildPolicy = "copy"
)

// ParseRebuildPolicy validates a rebuild policy string. The empty string
// is accepted and means "backend default".
func ParseRebuildPolicy(s string) (RebuildPolicy, error) {
	switch RebuildPolicy(s) {
	case "", RebuildTransitive, RebuildDirect, RebuildLocal, RebuildCopy:
		return RebuildPolicy(s), nil
	}
	return "", fmt.Errorf("%w: rebuild policy %q", ErrInvalidArgument, s)
}

// BlockPolicy controls build blocking on mirrored repositories.
type BlockPolicy string

const (
	BlockAll   BlockPolicy = "all"
	BlockLocal BlockPolicy = "local"
	BlockNever BlockPolicy = "never"
)

// ParseBlockPolicy validates a block policy string. The empty string is
// accepted and means "backend default".
func ParseBlockPolicy(s string) (BlockPolicy, error) {
	switch BlockPolicy(s) {
	case "", BlockAll, BlockLocal, BlockNever:
		return BlockPolicy(s), nil
	}
	return "", fmt.Errorf("%w: block policy %q", ErrInvalidArgument, s)
}
