package space

import (
	"context"
	"errors"
	"testing"
)

const (
	creatorA  = "did:example:alice"
	creatorB  = "did:example:bob"
	creatorC  = "did:example:carol"
	authority = "did:example:council"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	base := []Option{
		WithGovernance(func(_ context.Context, who string) bool { return who == authority }),
	}
	svc, err := New(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, store
}

// assertRegistryConsistent checks the invariant that every registry entry is
// backed by at least one live grant for the same space.
func assertRegistryConsistent(t *testing.T, store *MemoryStore, spaceID string) {
	t.Helper()
	store.mu.RLock()
	defer store.mu.RUnlock()
	for _, delegate := range store.delegates[spaceID] {
		backed := false
		for _, grant := range store.auths {
			if grant.SpaceID == spaceID && grant.Delegate == delegate {
				backed = true
				break
			}
		}
		if !backed {
			t.Fatalf("registry entry %s has no backing grant", delegate)
		}
	}
}

func TestCreateIsIdempotentDetectable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res1, err := svc.Create(ctx, creatorA, "h1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res1.SpaceID == "" || res1.AuthorizationID == "" {
		t.Fatal("expected derived identifiers")
	}
	if _, err := svc.Create(ctx, creatorA, "h1"); !errors.Is(err, ErrSpaceAlreadyAnchored) {
		t.Fatalf("expected ErrSpaceAlreadyAnchored, got %v", err)
	}
	// A different creator with the same code is a different space.
	res2, err := svc.Create(ctx, creatorB, "h1")
	if err != nil {
		t.Fatalf("create by second creator: %v", err)
	}
	if res2.SpaceID == res1.SpaceID {
		t.Fatal("identifiers should differ across creators")
	}
}

func TestCreateSelfGrantAndRegistry(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, creatorA, "h1")
	if err != nil {
		t.Fatal(err)
	}
	d, err := svc.GetSpace(ctx, res.SpaceID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Approved || d.Archive || d.TxnCapacity != 0 || d.TxnCount != 0 || d.TxnReserve != 0 {
		t.Fatalf("unexpected fresh record: %+v", d)
	}
	if d.Parent != res.SpaceID {
		t.Fatalf("top-level space must be its own parent, got %s", d.Parent)
	}
	grant, err := svc.GetAuthorization(ctx, res.AuthorizationID)
	if err != nil {
		t.Fatal(err)
	}
	if grant.Delegate != creatorA || grant.Delegator != creatorA || !grant.Permissions.Contains(AllPermissions()) {
		t.Fatalf("unexpected self grant: %+v", grant)
	}
	delegates, _ := svc.Delegates(ctx, res.SpaceID)
	if len(delegates) != 1 || delegates[0] != creatorA {
		t.Fatalf("unexpected registry: %v", delegates)
	}
	assertRegistryConsistent(t, store, res.SpaceID)
}

func TestEndToEndMeteringScenario(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, creatorA, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Approve(ctx, authority, res.SpaceID, 3); err != nil {
		t.Fatalf("approve: %v", err)
	}
	d, _ := svc.GetSpace(ctx, res.SpaceID)
	if !d.Approved || d.TxnCapacity != 3 {
		t.Fatalf("approval not applied: %+v", d)
	}

	// Adding a delegate meters one unit on the authorization check.
	grantB, err := svc.AddDelegate(ctx, creatorA, res.SpaceID, creatorB, res.AuthorizationID)
	if err != nil {
		t.Fatalf("add delegate: %v", err)
	}
	d, _ = svc.GetSpace(ctx, res.SpaceID)
	if d.TxnCount != 1 {
		t.Fatalf("expected usage 1 after delegate addition, got %d", d.TxnCount)
	}
	delegates, _ := svc.Delegates(ctx, res.SpaceID)
	if len(delegates) != 2 || delegates[0] != creatorA || delegates[1] != creatorB {
		t.Fatalf("unexpected registry: %v", delegates)
	}
	assertRegistryConsistent(t, store, res.SpaceID)

	// Two assert-gated calls fit; the third must hit the limit and leave the
	// counter untouched.
	for i := 0; i < 2; i++ {
		if _, err := svc.EnsureAuthorization(ctx, grantB, creatorB); err != nil {
			t.Fatalf("assert call %d: %v", i+1, err)
		}
	}
	if _, err := svc.EnsureAuthorization(ctx, grantB, creatorB); !errors.Is(err, ErrCapacityLimitExceeded) {
		t.Fatalf("expected ErrCapacityLimitExceeded, got %v", err)
	}
	d, _ = svc.GetSpace(ctx, res.SpaceID)
	if d.TxnCount != 3 {
		t.Fatalf("usage must stay at 3, got %d", d.TxnCount)
	}
}

func TestDelegateUniquenessAndBound(t *testing.T) {
	svc, store := newTestService(t, WithMaxDelegates(3))
	ctx := context.Background()

	res, _ := svc.Create(ctx, creatorA, "h1")
	if err := svc.Approve(ctx, authority, res.SpaceID, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddDelegate(ctx, creatorA, res.SpaceID, creatorB, res.AuthorizationID); err != nil {
		t.Fatal(err)
	}
	// Same (space, delegate, delegator) triple again.
	if _, err := svc.AddDelegate(ctx, creatorA, res.SpaceID, creatorB, res.AuthorizationID); !errors.Is(err, ErrDelegateAlreadyAdded) {
		t.Fatalf("expected ErrDelegateAlreadyAdded, got %v", err)
	}
	if _, err := svc.AddDelegate(ctx, creatorA, res.SpaceID, creatorC, res.AuthorizationID); err != nil {
		t.Fatal(err)
	}
	// Registry is full now; further additions fail and leave it unchanged.
	before, _ := svc.Delegates(ctx, res.SpaceID)
	if _, err := svc.AddDelegate(ctx, creatorA, res.SpaceID, "did:example:dave", res.AuthorizationID); !errors.Is(err, ErrSpaceDelegatesLimitExceeded) {
		t.Fatalf("expected ErrSpaceDelegatesLimitExceeded, got %v", err)
	}
	after, _ := svc.Delegates(ctx, res.SpaceID)
	if len(after) != len(before) {
		t.Fatalf("registry changed on failed addition: %v -> %v", before, after)
	}
	assertRegistryConsistent(t, store, res.SpaceID)
}

func TestRemoveDelegate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Create(ctx, creatorA, "h1")
	_ = svc.Approve(ctx, authority, res.SpaceID, 10)
	grantB, err := svc.AddDelegate(ctx, creatorA, res.SpaceID, creatorB, res.AuthorizationID)
	if err != nil {
		t.Fatal(err)
	}
	used := func() uint64 {
		d, _ := svc.GetSpace(ctx, res.SpaceID)
		return d.TxnCount
	}
	before := used()

	if err := svc.RemoveDelegate(ctx, creatorA, res.SpaceID, grantB, res.AuthorizationID); err != nil {
		t.Fatalf("remove delegate: %v", err)
	}
	// Removal is unmetered and returns the unit the grant consumed.
	if got := used(); got != before-1 {
		t.Fatalf("expected usage %d after removal, got %d", before-1, got)
	}
	if _, err := svc.GetAuthorization(ctx, grantB); !errors.Is(err, ErrAuthorizationNotFound) {
		t.Fatalf("grant should be gone, got %v", err)
	}
	if ok, _ := svc.IsADelegate(ctx, res.SpaceID, creatorB); ok {
		t.Fatal("registry entry should be gone")
	}
	assertRegistryConsistent(t, store, res.SpaceID)

	if err := svc.RemoveDelegate(ctx, creatorA, res.SpaceID, grantB, res.AuthorizationID); !errors.Is(err, ErrAuthorizationNotFound) {
		t.Fatalf("expected ErrAuthorizationNotFound, got %v", err)
	}
}

func TestArchiveApproveMutualExclusion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Create(ctx, creatorA, "h1")

	// Archive before approval is refused.
	if err := svc.Archive(ctx, creatorA, res.SpaceID, res.AuthorizationID); !errors.Is(err, ErrSpaceNotApproved) {
		t.Fatalf("expected ErrSpaceNotApproved, got %v", err)
	}
	// Restore on a live space is refused.
	_ = svc.Approve(ctx, authority, res.SpaceID, 10)
	if err := svc.Restore(ctx, creatorA, res.SpaceID, res.AuthorizationID); !errors.Is(err, ErrSpaceNotArchived) {
		t.Fatalf("expected ErrSpaceNotArchived, got %v", err)
	}

	if err := svc.Archive(ctx, creatorA, res.SpaceID, res.AuthorizationID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := svc.Archive(ctx, creatorA, res.SpaceID, res.AuthorizationID); !errors.Is(err, ErrArchivedSpace) {
		t.Fatalf("expected ErrArchivedSpace, got %v", err)
	}
	// No new authorized operations on an archived space.
	if _, err := svc.EnsureAuthorization(ctx, res.AuthorizationID, creatorA); !errors.Is(err, ErrArchivedSpace) {
		t.Fatalf("expected ErrArchivedSpace, got %v", err)
	}

	if err := svc.Restore(ctx, creatorA, res.SpaceID, res.AuthorizationID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	d, _ := svc.GetSpace(ctx, res.SpaceID)
	if d.Archive {
		t.Fatal("space should be live again")
	}
}

func TestApprovalToggle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Create(ctx, creatorA, "h1")

	if err := svc.ApprovalRevoke(ctx, authority, res.SpaceID); !errors.Is(err, ErrSpaceNotApproved) {
		t.Fatalf("revoke on unapproved: got %v", err)
	}
	if err := svc.Approve(ctx, authority, res.SpaceID, 5); err != nil {
		t.Fatal(err)
	}
	if err := svc.Approve(ctx, authority, res.SpaceID, 5); !errors.Is(err, ErrSpaceAlreadyApproved) {
		t.Fatalf("double approve: got %v", err)
	}
	if err := svc.ApprovalRestore(ctx, authority, res.SpaceID); !errors.Is(err, ErrSpaceAlreadyApproved) {
		t.Fatalf("approval restore on approved: got %v", err)
	}
	if err := svc.ApprovalRevoke(ctx, authority, res.SpaceID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.EnsureAuthorization(ctx, res.AuthorizationID, creatorA); !errors.Is(err, ErrSpaceNotApproved) {
		t.Fatalf("revoked space must refuse authorized calls: got %v", err)
	}
	if err := svc.ApprovalRestore(ctx, authority, res.SpaceID); err != nil {
		t.Fatal(err)
	}

	// Governance gate itself.
	if err := svc.ApprovalRevoke(ctx, creatorA, res.SpaceID); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("non-authority revoke: got %v", err)
	}
}

func TestGovernanceGate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Create(ctx, creatorA, "h1")
	if err := svc.Approve(ctx, creatorA, res.SpaceID, 3); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("expected governance refusal, got %v", err)
	}
}

func TestCallerMismatchRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Create(ctx, creatorA, "h1")
	_ = svc.Approve(ctx, authority, res.SpaceID, 10)

	// B presents A's grant.
	if _, err := svc.EnsureAuthorization(ctx, res.AuthorizationID, creatorB); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("expected ErrUnauthorizedOperation, got %v", err)
	}
	d, _ := svc.GetSpace(ctx, res.SpaceID)
	if d.TxnCount != 0 {
		t.Fatalf("failed call must not meter, got %d", d.TxnCount)
	}
}

func TestAssertGrantCannotAdministrate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Create(ctx, creatorA, "h1")
	_ = svc.Approve(ctx, authority, res.SpaceID, 0)
	grantB, err := svc.AddDelegate(ctx, creatorA, res.SpaceID, creatorB, res.AuthorizationID)
	if err != nil {
		t.Fatal(err)
	}

	// B holds ASSERT only: cannot add delegates or archive.
	if _, err := svc.AddDelegate(ctx, creatorB, res.SpaceID, creatorC, grantB); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("expected ErrUnauthorizedOperation, got %v", err)
	}
	if err := svc.Archive(ctx, creatorB, res.SpaceID, grantB); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("expected ErrUnauthorizedOperation, got %v", err)
	}

	// A delegator grant can add assert delegates but not admins.
	grantC, err := svc.AddDelegator(ctx, creatorA, res.SpaceID, creatorC, res.AuthorizationID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddDelegate(ctx, creatorC, res.SpaceID, "did:example:dave", grantC); err != nil {
		t.Fatalf("delegator should be able to add assert delegates: %v", err)
	}
	if _, err := svc.AddAdminDelegate(ctx, creatorC, res.SpaceID, "did:example:erin", grantC); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("delegator must not mint admins, got %v", err)
	}
}

func TestFailedOperationLeavesNoPartialState(t *testing.T) {
	svc, store := newTestService(t, WithMaxDelegates(2))
	ctx := context.Background()

	res, _ := svc.Create(ctx, creatorA, "h1")
	_ = svc.Approve(ctx, authority, res.SpaceID, 10)
	if _, err := svc.AddDelegate(ctx, creatorA, res.SpaceID, creatorB, res.AuthorizationID); err != nil {
		t.Fatal(err)
	}
	d, _ := svc.GetSpace(ctx, res.SpaceID)
	usedBefore := d.TxnCount

	// Registry is full: the addition fails after the engine already staged a
	// metering increment. Nothing of that may be visible afterwards.
	if _, err := svc.AddDelegate(ctx, creatorA, res.SpaceID, creatorC, res.AuthorizationID); !errors.Is(err, ErrSpaceDelegatesLimitExceeded) {
		t.Fatalf("expected ErrSpaceDelegatesLimitExceeded, got %v", err)
	}
	d, _ = svc.GetSpace(ctx, res.SpaceID)
	if d.TxnCount != usedBefore {
		t.Fatalf("failed operation leaked a metered unit: %d -> %d", usedBefore, d.TxnCount)
	}
	if ok, _ := svc.IsADelegate(ctx, res.SpaceID, creatorC); ok {
		t.Fatal("failed operation leaked a registry entry")
	}
	assertRegistryConsistent(t, store, res.SpaceID)
}

func TestEventsAndActivityEmitted(t *testing.T) {
	var events []Event
	sink := eventSinkFunc(func(ev Event) { events = append(events, ev) })
	recorded := 0
	rec := recorderFunc(func(_ context.Context, _, _ string, _ Action, _ Timepoint) error {
		recorded++
		return errors.New("timeline down") // must never surface
	})
	svc, _ := newTestService(t, WithEventSink(sink), WithRecorder(rec))
	ctx := context.Background()

	res, err := svc.Create(ctx, creatorA, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Approve(ctx, authority, res.SpaceID, 5); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Action != ActionCreate || events[1].Action != ActionApprove {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Seq == 0 || events[1].Seq != events[0].Seq+1 {
		t.Fatalf("sequence not monotonic: %+v", events)
	}
	if recorded != 2 {
		t.Fatalf("expected 2 activity records, got %d", recorded)
	}
}

type eventSinkFunc func(Event)

func (f eventSinkFunc) Publish(ev Event) { f(ev) }

type recorderFunc func(context.Context, string, string, Action, Timepoint) error

func (f recorderFunc) Record(ctx context.Context, id, kind string, action Action, tp Timepoint) error {
	return f(ctx, id, kind, action, tp)
}
