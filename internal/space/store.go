package space

import "context"

// Batch is the ordered write set of one logical operation. The service
// validates everything first, then hands the whole set to the store; a store
// must apply it all-or-nothing.
type Batch struct {
	Spaces               map[string]SpaceDetails
	Authorizations       map[string]SpaceAuthorization
	AuthorizationDeletes []string
	Delegates            map[string][]string
}

// IsEmpty reports whether the batch carries no writes.
func (b Batch) IsEmpty() bool {
	return len(b.Spaces) == 0 && len(b.Authorizations) == 0 &&
		len(b.AuthorizationDeletes) == 0 && len(b.Delegates) == 0
}

// Store describes persistence for spaces, authorization grants and the
// per-space delegate registry. Reads are point lookups; all writes go through
// Apply. The surrounding service serializes operations, so implementations
// need not coordinate concurrent writers.
type Store interface {
	GetSpace(ctx context.Context, id string) (SpaceDetails, error)
	HasSpace(ctx context.Context, id string) (bool, error)

	GetAuthorization(ctx context.Context, id string) (SpaceAuthorization, error)
	HasAuthorization(ctx context.Context, id string) (bool, error)

	// GetDelegates returns the ordered delegate registry for a space; an
	// unknown space yields an empty list.
	GetDelegates(ctx context.Context, spaceID string) ([]string, error)

	Apply(ctx context.Context, batch Batch) error
}
