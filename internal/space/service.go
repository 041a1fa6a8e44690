package space

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chainspace.org/internal/ids"
)

// DefaultMaxDelegates bounds the delegate registry of a space unless
// overridden with WithMaxDelegates.
const DefaultMaxDelegates = 64

// GovernancePredicate reports whether authority may exercise the privileged
// governance operations (approve, top-level capacity changes, approval
// toggles).
type GovernancePredicate func(ctx context.Context, authority string) bool

// Service is the chain-space engine. It owns the single-writer discipline:
// every mutating operation runs to completion under one mutex, stages its
// writes in a txn and commits them as one batch.
type Service struct {
	mu           sync.Mutex
	store        Store
	codec        ids.Codec
	recorder     ActivityRecorder
	events       EventSink
	governance   GovernancePredicate
	maxDelegates int
	now          func() time.Time
	seq          uint64
}

// Option configures Service.
type Option func(*Service) error

// WithCodec overrides the identifier codec.
func WithCodec(codec ids.Codec) Option {
	return func(s *Service) error {
		if codec == nil {
			return errors.New("space: codec is required")
		}
		s.codec = codec
		return nil
	}
}

// WithRecorder attaches the activity timeline sink.
func WithRecorder(r ActivityRecorder) Option {
	return func(s *Service) error {
		s.recorder = r
		return nil
	}
}

// WithEventSink attaches the domain event sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) error {
		s.events = sink
		return nil
	}
}

// WithGovernance sets the privileged-origin predicate. Without it every
// governance-gated operation is refused.
func WithGovernance(p GovernancePredicate) Option {
	return func(s *Service) error {
		if p != nil {
			s.governance = p
		}
		return nil
	}
}

// WithMaxDelegates overrides the delegate registry bound.
func WithMaxDelegates(n int) Option {
	return func(s *Service) error {
		if n < 1 {
			return errors.New("space: max delegates must be at least 1")
		}
		s.maxDelegates = n
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// New constructs the service around an injected store.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("space: store is required")
	}
	s := &Service{
		store:        store,
		codec:        ids.Base32Codec{},
		governance:   func(context.Context, string) bool { return false },
		maxDelegates: DefaultMaxDelegates,
		now:          time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateResult carries the identifiers minted by Create and SubspaceCreate.
type CreateResult struct {
	SpaceID         string `json:"space_id"`
	AuthorizationID string `json:"authorization_id"`
}

func (s *Service) derive(kind ids.Kind, parts ...string) (string, error) {
	raw := make([][]byte, len(parts))
	for i, p := range parts {
		raw[i] = []byte(p)
	}
	id, err := ids.Derive(s.codec, kind, raw...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentifierLength, err)
	}
	return id, nil
}

// finish stamps and fans out the event for a committed mutation. Recorder
// failures are discarded: the timeline is best effort and never vetoes a
// committed state change.
func (s *Service) finish(ctx context.Context, ev Event) {
	s.seq++
	ev.Seq = s.seq
	ev.At = s.now().UTC()
	if s.recorder != nil {
		_ = s.recorder.Record(ctx, ev.Space, "space", ev.Action, Timepoint{Seq: ev.Seq, At: ev.At})
	}
	if s.events != nil {
		s.events.Publish(ev)
	}
}

// Create anchors a new top-level space for creator. The identifier is derived
// from (code, creator), so creating the same pair twice fails with
// ErrSpaceAlreadyAnchored. The creator receives a self-grant with the full
// capability set and becomes the registry's first delegate. New spaces start
// unapproved with zero (unlimited) capacity; governance sets the real
// capacity at approval.
func (s *Service) Create(ctx context.Context, creator, code string) (CreateResult, error) {
	creator = strings.TrimSpace(creator)
	code = strings.TrimSpace(code)
	if creator == "" || code == "" {
		return CreateResult{}, fmt.Errorf("%w: creator and code are required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spaceID, err := s.derive(ids.KindSpace, code, creator)
	if err != nil {
		return CreateResult{}, err
	}
	authID, err := s.derive(ids.KindAuthorization, spaceID, creator, creator)
	if err != nil {
		return CreateResult{}, err
	}

	t := newTxn(ctx, s.store)
	anchored, err := t.hasSpace(spaceID)
	if err != nil {
		return CreateResult{}, err
	}
	if anchored {
		return CreateResult{}, ErrSpaceAlreadyAnchored
	}

	t.setDelegates(spaceID, []string{creator})
	t.putAuthorization(authID, SpaceAuthorization{
		SpaceID:     spaceID,
		Delegate:    creator,
		Delegator:   creator,
		Permissions: AllPermissions(),
	})
	t.putSpace(spaceID, SpaceDetails{
		Code:    code,
		Creator: creator,
		Parent:  spaceID,
	})
	if err := t.commit(); err != nil {
		return CreateResult{}, err
	}

	s.finish(ctx, Event{
		Action:        ActionCreate,
		Space:         spaceID,
		Authorization: authID,
		Delegate:      creator,
	})
	return CreateResult{SpaceID: spaceID, AuthorizationID: authID}, nil
}

// Approve sanctions a space for use and sets its transaction capacity.
// Governance only.
func (s *Service) Approve(ctx context.Context, authority, spaceID string, capacity uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.governance(ctx, authority) {
		return ErrUnauthorizedOperation
	}
	t := newTxn(ctx, s.store)
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	if d.Archive {
		return ErrArchivedSpace
	}
	if d.Approved {
		return ErrSpaceAlreadyApproved
	}
	d.Approved = true
	d.TxnCapacity = capacity
	t.putSpace(spaceID, d)
	if err := t.commit(); err != nil {
		return err
	}

	s.finish(ctx, Event{Action: ActionApprove, Space: spaceID, Authority: authority})
	return nil
}

// Archive freezes a space. Requires a metered ADMIN authorization scoped to
// this space.
func (s *Service) Archive(ctx context.Context, caller, spaceID, authID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTxn(ctx, s.store)
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	if d.Archive {
		return ErrArchivedSpace
	}
	if !d.Approved {
		return ErrSpaceNotApproved
	}
	adminSpace, err := t.authorizeAndMeter(authID, caller, PermissionAdmin, modeTransaction)
	if err != nil {
		return err
	}
	if adminSpace != spaceID {
		return ErrUnauthorizedOperation
	}
	d, err = t.space(spaceID) // picks up the metering increment
	if err != nil {
		return err
	}
	d.Archive = true
	t.putSpace(spaceID, d)
	if err := t.commit(); err != nil {
		return err
	}

	s.finish(ctx, Event{Action: ActionArchive, Space: spaceID, Authority: caller})
	return nil
}

// Restore unfreezes an archived space via the restore-mode authorization
// path.
func (s *Service) Restore(ctx context.Context, caller, spaceID, authID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTxn(ctx, s.store)
	resolved, err := t.authorizeAndMeter(authID, caller, PermissionAssert, modeRestore)
	if err != nil {
		return err
	}
	if resolved != spaceID {
		return ErrUnauthorizedOperation
	}
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	d.Archive = false
	t.putSpace(spaceID, d)
	if err := t.commit(); err != nil {
		return err
	}

	s.finish(ctx, Event{Action: ActionRestore, Space: spaceID, Authority: caller})
	return nil
}

// AddDelegate grants the ASSERT capability to delegate. The caller needs a
// DELEGATE or ADMIN grant on the space.
func (s *Service) AddDelegate(ctx context.Context, caller, spaceID, delegate, authID string) (string, error) {
	return s.delegateAddition(ctx, caller, spaceID, delegate, authID,
		PermissionAssert, PermissionDelegate.Union(PermissionAdmin))
}

// AddAdminDelegate grants the ADMIN capability to delegate. ADMIN gated.
func (s *Service) AddAdminDelegate(ctx context.Context, caller, spaceID, delegate, authID string) (string, error) {
	return s.delegateAddition(ctx, caller, spaceID, delegate, authID,
		PermissionAdmin, PermissionAdmin)
}

// AddDelegator grants the DELEGATE capability to delegate. ADMIN gated.
func (s *Service) AddDelegator(ctx context.Context, caller, spaceID, delegate, authID string) (string, error) {
	return s.delegateAddition(ctx, caller, spaceID, delegate, authID,
		PermissionDelegate, PermissionAdmin)
}

func (s *Service) delegateAddition(ctx context.Context, caller, spaceID, delegate, authID string, granted, required Permissions) (string, error) {
	delegate = strings.TrimSpace(delegate)
	if delegate == "" {
		return "", fmt.Errorf("%w: delegate is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTxn(ctx, s.store)
	resolved, err := t.authorizeAndMeter(authID, caller, required, modeTransaction)
	if err != nil {
		return "", err
	}
	if resolved != spaceID {
		return "", ErrUnauthorizedOperation
	}

	grantID, err := s.derive(ids.KindAuthorization, spaceID, delegate, caller)
	if err != nil {
		return "", err
	}
	exists, err := t.hasAuthorization(grantID)
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrDelegateAlreadyAdded
	}

	registry, err := t.delegateList(spaceID)
	if err != nil {
		return "", err
	}
	if len(registry) >= s.maxDelegates {
		return "", ErrSpaceDelegatesLimitExceeded
	}
	registry = append(registry, delegate)
	t.setDelegates(spaceID, registry)
	t.putAuthorization(grantID, SpaceAuthorization{
		SpaceID:     spaceID,
		Delegate:    delegate,
		Delegator:   caller,
		Permissions: granted,
	})
	if err := t.commit(); err != nil {
		return "", err
	}

	s.finish(ctx, Event{
		Action:        ActionAuthorization,
		Space:         spaceID,
		Authorization: grantID,
		Delegate:      delegate,
	})
	return grantID, nil
}

// RemoveDelegate revokes the grant behind removeAuthID and drops the delegate
// from the registry. The admin authorization is checked unmetered, and the
// removal returns one previously metered unit.
func (s *Service) RemoveDelegate(ctx context.Context, caller, spaceID, removeAuthID, authID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTxn(ctx, s.store)
	target, err := t.authorization(removeAuthID)
	if err != nil {
		return err
	}
	adminSpace, err := t.adminAuthorizationUnmetered(authID, caller)
	if err != nil {
		return err
	}
	if adminSpace != spaceID || target.SpaceID != spaceID {
		return ErrUnauthorizedOperation
	}

	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	if d.Archive {
		return ErrArchivedSpace
	}
	if !d.Approved {
		return ErrSpaceNotApproved
	}

	registry, err := t.delegateList(spaceID)
	if err != nil {
		return err
	}
	idx := -1
	for i, entry := range registry {
		if entry == target.Delegate {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrDelegateNotFound
	}
	registry = append(registry[:idx], registry[idx+1:]...)
	t.setDelegates(spaceID, registry)
	t.deleteAuthorization(removeAuthID)
	if err := t.decrementUsage(spaceID); err != nil {
		return err
	}
	if err := t.commit(); err != nil {
		return err
	}

	s.finish(ctx, Event{
		Action:        ActionDeauthorization,
		Space:         spaceID,
		Authorization: removeAuthID,
		Delegate:      target.Delegate,
	})
	return nil
}

// UpdateTransactionCapacity changes the capacity of a top-level space.
// Governance only.
func (s *Service) UpdateTransactionCapacity(ctx context.Context, authority, spaceID string, newCapacity uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.governance(ctx, authority) {
		return ErrUnauthorizedOperation
	}
	t := newTxn(ctx, s.store)
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	if d.Archive {
		return ErrArchivedSpace
	}
	if !d.Approved {
		return ErrSpaceNotApproved
	}
	if d.IsSubSpace(spaceID) {
		return ErrUnauthorizedOperation
	}
	if err := t.updateCapacity(spaceID, newCapacity); err != nil {
		return err
	}
	if err := t.commit(); err != nil {
		return err
	}

	s.finish(ctx, Event{Action: ActionCapacityUpdate, Space: spaceID, Authority: authority})
	return nil
}

// UpdateTransactionCapacitySub changes the capacity of a sub-space, adjusting
// the parent's reserve in the same commit. Only the sub-space creator may
// call it.
func (s *Service) UpdateTransactionCapacitySub(ctx context.Context, caller, spaceID string, newCapacity uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTxn(ctx, s.store)
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	if d.Archive {
		return ErrArchivedSpace
	}
	if !d.Approved {
		return ErrSpaceNotApproved
	}
	if !d.IsSubSpace(spaceID) || d.Creator != caller {
		return ErrUnauthorizedOperation
	}
	if err := t.updateCapacity(spaceID, newCapacity); err != nil {
		return err
	}
	if err := t.commit(); err != nil {
		return err
	}

	s.finish(ctx, Event{Action: ActionCapacityUpdate, Space: spaceID, Authority: caller, Parent: d.Parent})
	return nil
}

// ResetTransactionCount zeroes a space's usage counter. Top-level spaces are
// governance gated; for a sub-space only the parent's creator may reset.
func (s *Service) ResetTransactionCount(ctx context.Context, caller, spaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTxn(ctx, s.store)
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	if d.Archive {
		return ErrArchivedSpace
	}
	if !d.Approved {
		return ErrSpaceNotApproved
	}
	if d.IsSubSpace(spaceID) {
		parent, err := t.space(d.Parent)
		if err != nil {
			return err
		}
		if parent.Creator != caller {
			return ErrUnauthorizedOperation
		}
	} else if !s.governance(ctx, caller) {
		return ErrUnauthorizedOperation
	}
	d.TxnCount = 0
	t.putSpace(spaceID, d)
	if err := t.commit(); err != nil {
		return err
	}

	s.finish(ctx, Event{Action: ActionCapacityReset, Space: spaceID, Authority: caller})
	return nil
}

// ApprovalRevoke withdraws governance approval without archiving the space.
func (s *Service) ApprovalRevoke(ctx context.Context, authority, spaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.governance(ctx, authority) {
		return ErrUnauthorizedOperation
	}
	t := newTxn(ctx, s.store)
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	if d.Archive {
		return ErrArchivedSpace
	}
	if !d.Approved {
		return ErrSpaceNotApproved
	}
	d.Approved = false
	t.putSpace(spaceID, d)
	if err := t.commit(); err != nil {
		return err
	}

	s.finish(ctx, Event{Action: ActionApprovalRevoke, Space: spaceID, Authority: authority})
	return nil
}

// ApprovalRestore re-approves a space whose approval was revoked.
func (s *Service) ApprovalRestore(ctx context.Context, authority, spaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.governance(ctx, authority) {
		return ErrUnauthorizedOperation
	}
	t := newTxn(ctx, s.store)
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	if d.Archive {
		return ErrArchivedSpace
	}
	if d.Approved {
		return ErrSpaceAlreadyApproved
	}
	d.Approved = true
	t.putSpace(spaceID, d)
	if err := t.commit(); err != nil {
		return err
	}

	s.finish(ctx, Event{Action: ActionApprovalRestore, Space: spaceID, Authority: authority})
	return nil
}

// SubspaceCreate anchors a child space whose capacity is drawn from the
// parent's reserve. Only the parent's creator may call it; the child is born
// approved. Parent and child records commit together.
func (s *Service) SubspaceCreate(ctx context.Context, caller, code string, capacity uint64, parentID string) (CreateResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CreateResult{}, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTxn(ctx, s.store)
	parent, err := t.space(parentID)
	if err != nil {
		return CreateResult{}, err
	}
	if parent.Archive {
		return CreateResult{}, ErrArchivedSpace
	}
	if !parent.Approved {
		return CreateResult{}, ErrSpaceNotApproved
	}
	if parent.Creator != caller {
		return CreateResult{}, ErrUnauthorizedOperation
	}

	spaceID, err := s.derive(ids.KindSpace, code, caller, parentID)
	if err != nil {
		return CreateResult{}, err
	}
	anchored, err := t.hasSpace(spaceID)
	if err != nil {
		return CreateResult{}, err
	}
	if anchored {
		return CreateResult{}, ErrSpaceAlreadyAnchored
	}
	authID, err := s.derive(ids.KindAuthorization, spaceID, caller, caller)
	if err != nil {
		return CreateResult{}, err
	}

	if err := t.reserveFromParent(parentID, capacity); err != nil {
		return CreateResult{}, err
	}
	t.setDelegates(spaceID, []string{caller})
	t.putAuthorization(authID, SpaceAuthorization{
		SpaceID:     spaceID,
		Delegate:    caller,
		Delegator:   caller,
		Permissions: AllPermissions(),
	})
	t.putSpace(spaceID, SpaceDetails{
		Code:        code,
		Creator:     caller,
		Parent:      parentID,
		TxnCapacity: capacity,
		Approved:    true,
	})
	if err := t.commit(); err != nil {
		return CreateResult{}, err
	}

	s.finish(ctx, Event{
		Action:        ActionSubspaceCreate,
		Space:         spaceID,
		Authorization: authID,
		Delegate:      caller,
		Parent:        parentID,
	})
	return CreateResult{SpaceID: spaceID, AuthorizationID: authID}, nil
}

// GetSpace returns the current record for id.
func (s *Service) GetSpace(ctx context.Context, id string) (SpaceDetails, error) {
	return s.store.GetSpace(ctx, id)
}

// GetAuthorization returns the grant behind id.
func (s *Service) GetAuthorization(ctx context.Context, id string) (SpaceAuthorization, error) {
	return s.store.GetAuthorization(ctx, id)
}

// Delegates returns the ordered delegate registry of a space.
func (s *Service) Delegates(ctx context.Context, spaceID string) ([]string, error) {
	return s.store.GetDelegates(ctx, spaceID)
}

// IsADelegate reports registry membership, independent of which grant backs
// it.
func (s *Service) IsADelegate(ctx context.Context, spaceID, who string) (bool, error) {
	list, err := s.store.GetDelegates(ctx, spaceID)
	if err != nil {
		return false, err
	}
	for _, d := range list {
		if d == who {
			return true, nil
		}
	}
	return false, nil
}
