package space

import (
	"context"
	"errors"
	"testing"
)

func setupParent(t *testing.T, svc *Service, capacity uint64) CreateResult {
	t.Helper()
	ctx := context.Background()
	res, err := svc.Create(ctx, creatorA, "parent-code")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Approve(ctx, authority, res.SpaceID, capacity); err != nil {
		t.Fatal(err)
	}
	return res
}

func TestSubspaceCreateDrawsFromReserve(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	parent := setupParent(t, svc, 10)

	child, err := svc.SubspaceCreate(ctx, creatorA, "child-code", 4, parent.SpaceID)
	if err != nil {
		t.Fatalf("subspace create: %v", err)
	}

	pd, _ := svc.GetSpace(ctx, parent.SpaceID)
	if pd.TxnReserve != 4 {
		t.Fatalf("parent reserve should be 4, got %d", pd.TxnReserve)
	}
	if pd.TxnCount != 1 {
		t.Fatalf("creation counts as one parent operation, got %d", pd.TxnCount)
	}

	cd, _ := svc.GetSpace(ctx, child.SpaceID)
	if cd.Parent != parent.SpaceID || cd.TxnCapacity != 4 || !cd.Approved || cd.Archive {
		t.Fatalf("unexpected child record: %+v", cd)
	}
	grant, err := svc.GetAuthorization(ctx, child.AuthorizationID)
	if err != nil {
		t.Fatal(err)
	}
	if grant.Delegate != creatorA || !grant.Permissions.Contains(AllPermissions()) {
		t.Fatalf("child self grant wrong: %+v", grant)
	}
}

func TestSubspaceCreateGuards(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	parent := setupParent(t, svc, 5)

	// Only the parent's creator may carve out sub-spaces.
	if _, err := svc.SubspaceCreate(ctx, creatorB, "c1", 1, parent.SpaceID); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("expected ErrUnauthorizedOperation, got %v", err)
	}
	// Asking for more than the parent's free capacity fails.
	if _, err := svc.SubspaceCreate(ctx, creatorA, "c2", 6, parent.SpaceID); !errors.Is(err, ErrCapacityLimitExceeded) {
		t.Fatalf("expected ErrCapacityLimitExceeded, got %v", err)
	}
	pd, _ := svc.GetSpace(ctx, parent.SpaceID)
	if pd.TxnCount != 0 || pd.TxnReserve != 0 {
		t.Fatalf("failed creation must not touch the parent: %+v", pd)
	}

	// Unknown parent.
	if _, err := svc.SubspaceCreate(ctx, creatorA, "c3", 1, "space:missing"); !errors.Is(err, ErrSpaceNotFound) {
		t.Fatalf("expected ErrSpaceNotFound, got %v", err)
	}
}

func TestCapacityConservation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	const parentCap = 12
	parent := setupParent(t, svc, parentCap)

	check := func() {
		t.Helper()
		pd, _ := svc.GetSpace(ctx, parent.SpaceID)
		if pd.TxnCapacity != 0 && pd.TxnCount+pd.TxnReserve > pd.TxnCapacity {
			t.Fatalf("conservation violated: count=%d reserve=%d capacity=%d",
				pd.TxnCount, pd.TxnReserve, pd.TxnCapacity)
		}
	}

	c1, err := svc.SubspaceCreate(ctx, creatorA, "c1", 3, parent.SpaceID)
	if err != nil {
		t.Fatal(err)
	}
	check()
	if _, err := svc.SubspaceCreate(ctx, creatorA, "c2", 4, parent.SpaceID); err != nil {
		t.Fatal(err)
	}
	check()

	// Growing a child re-derives the parent reserve in the same commit.
	if err := svc.UpdateTransactionCapacitySub(ctx, creatorA, c1.SpaceID, 5); err != nil {
		t.Fatalf("grow child: %v", err)
	}
	check()
	pd, _ := svc.GetSpace(ctx, parent.SpaceID)
	if pd.TxnReserve != 9 {
		t.Fatalf("reserve should be 9 after growth, got %d", pd.TxnReserve)
	}

	// Growing past the parent's headroom fails and changes neither record.
	cdBefore, _ := svc.GetSpace(ctx, c1.SpaceID)
	if err := svc.UpdateTransactionCapacitySub(ctx, creatorA, c1.SpaceID, 20); !errors.Is(err, ErrCapacityLessThanUsage) {
		t.Fatalf("expected ErrCapacityLessThanUsage, got %v", err)
	}
	cdAfter, _ := svc.GetSpace(ctx, c1.SpaceID)
	pdAfter, _ := svc.GetSpace(ctx, parent.SpaceID)
	if cdAfter != cdBefore || pdAfter != pd {
		t.Fatal("failed capacity transfer left partial state")
	}
	check()

	// Shrinking hands capacity back.
	if err := svc.UpdateTransactionCapacitySub(ctx, creatorA, c1.SpaceID, 3); err != nil {
		t.Fatal(err)
	}
	pd, _ = svc.GetSpace(ctx, parent.SpaceID)
	if pd.TxnReserve != 7 {
		t.Fatalf("reserve should be 7 after shrink, got %d", pd.TxnReserve)
	}
}

func TestUpdateCapacityTopLevel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	parent := setupParent(t, svc, 5)

	// Burn two units.
	if _, err := svc.EnsureAuthorization(ctx, parent.AuthorizationID, creatorA); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.EnsureAuthorization(ctx, parent.AuthorizationID, creatorA); err != nil {
		t.Fatal(err)
	}

	if err := svc.UpdateTransactionCapacity(ctx, authority, parent.SpaceID, 1); !errors.Is(err, ErrCapacityLessThanUsage) {
		t.Fatalf("expected ErrCapacityLessThanUsage, got %v", err)
	}
	if err := svc.UpdateTransactionCapacity(ctx, authority, parent.SpaceID, 2); err != nil {
		t.Fatalf("capacity equal to usage should pass: %v", err)
	}
	if err := svc.UpdateTransactionCapacity(ctx, creatorA, parent.SpaceID, 9); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("non-governance update: got %v", err)
	}

	// Sub-spaces cannot go through the top-level path.
	child, err := svc.SubspaceCreate(ctx, creatorA, "c1", 0, parent.SpaceID)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateTransactionCapacity(ctx, authority, child.SpaceID, 1); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("expected ErrUnauthorizedOperation, got %v", err)
	}
}

func TestResetTransactionCount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	parent := setupParent(t, svc, 10)

	if _, err := svc.EnsureAuthorization(ctx, parent.AuthorizationID, creatorA); err != nil {
		t.Fatal(err)
	}
	if err := svc.ResetTransactionCount(ctx, creatorA, parent.SpaceID); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("top-level reset is governance gated, got %v", err)
	}
	if err := svc.ResetTransactionCount(ctx, authority, parent.SpaceID); err != nil {
		t.Fatal(err)
	}
	d, _ := svc.GetSpace(ctx, parent.SpaceID)
	if d.TxnCount != 0 {
		t.Fatalf("usage should be zero, got %d", d.TxnCount)
	}

	// Sub-space resets are reserved for the parent's creator, not governance
	// and not the sub-space's own delegates.
	child, err := svc.SubspaceCreate(ctx, creatorA, "c1", 4, parent.SpaceID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.EnsureAuthorization(ctx, child.AuthorizationID, creatorA); err != nil {
		t.Fatal(err)
	}
	if err := svc.ResetTransactionCount(ctx, authority, child.SpaceID); !errors.Is(err, ErrUnauthorizedOperation) {
		t.Fatalf("governance must not reset sub-space usage, got %v", err)
	}
	if err := svc.ResetTransactionCount(ctx, creatorA, child.SpaceID); err != nil {
		t.Fatal(err)
	}
	cd, _ := svc.GetSpace(ctx, child.SpaceID)
	if cd.TxnCount != 0 {
		t.Fatalf("child usage should be zero, got %d", cd.TxnCount)
	}
}

func TestBatchAuthorization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	parent := setupParent(t, svc, 10)

	if _, err := svc.EnsureAuthorizationBatch(ctx, parent.AuthorizationID, creatorA, 7); err != nil {
		t.Fatal(err)
	}
	d, _ := svc.GetSpace(ctx, parent.SpaceID)
	if d.TxnCount != 7 {
		t.Fatalf("expected usage 7, got %d", d.TxnCount)
	}
	// 7 + 4 > 10.
	if _, err := svc.EnsureAuthorizationBatch(ctx, parent.AuthorizationID, creatorA, 4); !errors.Is(err, ErrCapacityLimitExceeded) {
		t.Fatalf("expected ErrCapacityLimitExceeded, got %v", err)
	}
	if _, err := svc.EnsureAuthorizationBatch(ctx, parent.AuthorizationID, creatorA, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.EnsureAuthorizationBatch(ctx, parent.AuthorizationID, creatorA, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero entries: got %v", err)
	}

	// Partial withdrawal hands units back.
	if err := svc.ReleaseUsage(ctx, parent.SpaceID, 3); err != nil {
		t.Fatal(err)
	}
	d, _ = svc.GetSpace(ctx, parent.SpaceID)
	if d.TxnCount != 7 {
		t.Fatalf("expected usage 7 after release, got %d", d.TxnCount)
	}
}

func TestBatchOverflowGuard(t *testing.T) {
	store := NewMemoryStore()
	svc, err := New(store, WithGovernance(func(_ context.Context, who string) bool { return who == authority }))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	res, _ := svc.Create(ctx, creatorA, "h1")
	_ = svc.Approve(ctx, authority, res.SpaceID, 0) // unlimited

	// Force the counter to the top of the range.
	d, _ := store.GetSpace(ctx, res.SpaceID)
	d.TxnCount = ^uint64(0) - 1
	if err := store.Apply(ctx, Batch{Spaces: map[string]SpaceDetails{res.SpaceID: d}}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.EnsureAuthorizationBatch(ctx, res.AuthorizationID, creatorA, 5); !errors.Is(err, ErrTypeCapacityOverflow) {
		t.Fatalf("expected ErrTypeCapacityOverflow, got %v", err)
	}
}
