package space

import (
	"context"
	"time"
)

// SpaceDetails is the on-ledger record of one namespace. Records are archived,
// never deleted.
type SpaceDetails struct {
	// Code is the opaque content digest the space anchors, supplied by the
	// creator.
	Code string `json:"code"`
	// Creator is immutable after creation.
	Creator string `json:"creator"`
	// Parent is the space this one borrows capacity from. A top-level space
	// is its own parent (self-parent sentinel, not an empty value).
	Parent string `json:"parent"`
	// TxnCapacity is the maximum number of metered operations the space may
	// authorize. Zero means unlimited.
	TxnCapacity uint64 `json:"txn_capacity"`
	// TxnReserve is capacity already lent out to sub-spaces.
	TxnReserve uint64 `json:"txn_reserve"`
	// TxnCount is the number of metered operations consumed so far.
	TxnCount uint64 `json:"txn_count"`
	Approved bool   `json:"approved"`
	Archive  bool   `json:"archive"`
}

// IsSubSpace reports whether the record identified by id draws capacity from a
// parent rather than holding its own grant.
func (d SpaceDetails) IsSubSpace(id string) bool {
	return d.Parent != id
}

// SpaceAuthorization is a grant: proof that Delegate was given Permissions
// over SpaceID by Delegator. The grant's identifier is derived from the
// (space, delegate, delegator) triple, so re-granting the same triple is
// detectable.
type SpaceAuthorization struct {
	SpaceID     string      `json:"space_id"`
	Delegate    string      `json:"delegate"`
	Delegator   string      `json:"delegator"`
	Permissions Permissions `json:"permissions"`
}

// Timepoint locates an activity record in the service's history: a monotonic
// operation sequence number plus wall-clock time.
type Timepoint struct {
	Seq uint64    `json:"seq"`
	At  time.Time `json:"at"`
}

// Action identifies the kind of state transition an event or activity record
// describes.
type Action string

const (
	ActionCreate          Action = "space.create"
	ActionApprove         Action = "space.approve"
	ActionArchive         Action = "space.archive"
	ActionRestore         Action = "space.restore"
	ActionAuthorization   Action = "space.authorization"
	ActionDeauthorization Action = "space.deauthorization"
	ActionCapacityUpdate  Action = "space.capacity.update"
	ActionCapacityReset   Action = "space.capacity.reset"
	ActionApprovalRevoke  Action = "space.approval.revoke"
	ActionApprovalRestore Action = "space.approval.restore"
	ActionSubspaceCreate  Action = "space.subspace.create"
)

// Event is the domain event emitted after every successful mutation.
type Event struct {
	Action        Action    `json:"action"`
	Space         string    `json:"space"`
	Authorization string    `json:"authorization,omitempty"`
	Delegate      string    `json:"delegate,omitempty"`
	Authority     string    `json:"authority,omitempty"`
	Parent        string    `json:"parent,omitempty"`
	Seq           uint64    `json:"seq"`
	At            time.Time `json:"at"`
}

// EventSink receives domain events. Publishing must not block the caller.
type EventSink interface {
	Publish(Event)
}

// ActivityRecorder is the external audit timeline. Record failures are
// discarded by the service (best effort); implementations should log them.
type ActivityRecorder interface {
	Record(ctx context.Context, resourceID, resourceKind string, action Action, tp Timepoint) error
}
