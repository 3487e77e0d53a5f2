// Package registry tracks which collection ids exist and whether they can be queried.
//
// A collection moves absent -> building -> ready. A failed build returns it from
// building to absent; a ready collection never leaves the registry.
package registry

import (
	"context"
	"errors"
)

type State int

const (
	StateAbsent State = iota
	StateBuilding
	StateReady
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return "absent"
	}
}

var (
	ErrExists       = errors.New("collection id already registered")
	ErrReady        = errors.New("collection is ready and cannot be removed")
	ErrEmptyID      = errors.New("collection id is empty")
	errUnknownState = errors.New("unknown registry state")
)

// Registry is safe for concurrent use by multiple request handlers.
type Registry interface {
	// Begin atomically moves id from absent to building.
	Begin(ctx context.Context, id string) error
	// MarkReady makes id queryable. It is idempotent.
	MarkReady(ctx context.Context, id string) error
	// Abort drops an id that is still building.
	Abort(ctx context.Context, id string) error
	State(ctx context.Context, id string) (State, error)
}
