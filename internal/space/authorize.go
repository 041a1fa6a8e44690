package space

import "context"

type authorizeMode int

const (
	modeTransaction authorizeMode = iota
	modeRestore
)

// authorizeAndMeter resolves the grant behind authID for caller and checks it
// carries at least one of the required capabilities. Checking is not free: a
// successful space validation stages one unit of usage before the permission
// bits are even inspected, so every authorized attempt is metered, not just
// completed mutations. Callers that abandon the txn pay nothing.
func (t *txn) authorizeAndMeter(authID, caller string, required Permissions, mode authorizeMode) (string, error) {
	grant, err := t.authorization(authID)
	if err != nil {
		return "", err
	}
	if grant.Delegate != caller {
		return "", ErrUnauthorizedOperation
	}
	switch mode {
	case modeRestore:
		_, err = t.validateForRestoreTransaction(grant.SpaceID)
	default:
		_, err = t.validateForTransaction(grant.SpaceID)
	}
	if err != nil {
		return "", err
	}
	if err := t.incrementUsage(grant.SpaceID); err != nil {
		return "", err
	}
	if !grant.Permissions.ContainsAny(required) {
		return "", ErrUnauthorizedOperation
	}
	return grant.SpaceID, nil
}

// adminAuthorizationUnmetered is the delegate-removal profile: it checks the
// ADMIN bit but deliberately skips both space validation and the usage
// increment. Removal is not metered.
func (t *txn) adminAuthorizationUnmetered(authID, caller string) (string, error) {
	grant, err := t.authorization(authID)
	if err != nil {
		return "", err
	}
	if grant.Delegate != caller {
		return "", ErrUnauthorizedOperation
	}
	if !grant.Permissions.Contains(PermissionAdmin) {
		return "", ErrUnauthorizedOperation
	}
	return grant.SpaceID, nil
}

// EnsureAuthorization is the assert-gated metered check used by sibling
// modules before anchoring an entry. On success one unit of the space's
// capacity has been consumed.
func (s *Service) EnsureAuthorization(ctx context.Context, authID, caller string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newTxn(ctx, s.store)
	spaceID, err := t.authorizeAndMeter(authID, caller, PermissionAssert, modeTransaction)
	if err != nil {
		return "", err
	}
	if err := t.commit(); err != nil {
		return "", err
	}
	return spaceID, nil
}

// EnsureAuthorizationAdmin is the admin-gated metered check.
func (s *Service) EnsureAuthorizationAdmin(ctx context.Context, authID, caller string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newTxn(ctx, s.store)
	spaceID, err := t.authorizeAndMeter(authID, caller, PermissionAdmin, modeTransaction)
	if err != nil {
		return "", err
	}
	if err := t.commit(); err != nil {
		return "", err
	}
	return spaceID, nil
}

// EnsureAuthorizationDelegator accepts either the DELEGATE or the ADMIN
// capability.
func (s *Service) EnsureAuthorizationDelegator(ctx context.Context, authID, caller string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newTxn(ctx, s.store)
	spaceID, err := t.authorizeAndMeter(authID, caller, PermissionDelegate.Union(PermissionAdmin), modeTransaction)
	if err != nil {
		return "", err
	}
	if err := t.commit(); err != nil {
		return "", err
	}
	return spaceID, nil
}

// EnsureAuthorizationBatch validates and meters entries operations at once.
func (s *Service) EnsureAuthorizationBatch(ctx context.Context, authID, caller string, entries uint16) (string, error) {
	if entries == 0 {
		return "", ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newTxn(ctx, s.store)
	grant, err := t.authorization(authID)
	if err != nil {
		return "", err
	}
	if grant.Delegate != caller {
		return "", ErrUnauthorizedOperation
	}
	if _, err := t.validateForBatch(grant.SpaceID, entries); err != nil {
		return "", err
	}
	if err := t.incrementUsageBy(grant.SpaceID, uint64(entries)); err != nil {
		return "", err
	}
	if !grant.Permissions.Contains(PermissionAssert) {
		return "", ErrUnauthorizedOperation
	}
	if err := t.commit(); err != nil {
		return "", err
	}
	return grant.SpaceID, nil
}

// ReleaseUsage returns previously metered units, used by sibling modules when
// a batch is partially withdrawn.
func (s *Service) ReleaseUsage(ctx context.Context, spaceID string, entries uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newTxn(ctx, s.store)
	if err := t.decrementUsageBy(spaceID, uint64(entries)); err != nil {
		return err
	}
	return t.commit()
}
