package space

import "context"

// txn stages the reads and writes of one logical operation. Reads observe
// staged writes; nothing reaches the store until commit hands the whole batch
// to Store.Apply. A failed precondition anywhere simply abandons the txn, so
// no partial mutation is ever visible (validate-then-write, not
// write-then-rollback).
type txn struct {
	ctx   context.Context
	store Store

	spaces      map[string]SpaceDetails
	auths       map[string]SpaceAuthorization
	authDeletes map[string]struct{}
	delegates   map[string][]string
}

func newTxn(ctx context.Context, store Store) *txn {
	return &txn{
		ctx:         ctx,
		store:       store,
		spaces:      make(map[string]SpaceDetails),
		auths:       make(map[string]SpaceAuthorization),
		authDeletes: make(map[string]struct{}),
		delegates:   make(map[string][]string),
	}
}

func (t *txn) space(id string) (SpaceDetails, error) {
	if d, ok := t.spaces[id]; ok {
		return d, nil
	}
	return t.store.GetSpace(t.ctx, id)
}

func (t *txn) hasSpace(id string) (bool, error) {
	if _, ok := t.spaces[id]; ok {
		return true, nil
	}
	return t.store.HasSpace(t.ctx, id)
}

func (t *txn) putSpace(id string, d SpaceDetails) {
	t.spaces[id] = d
}

func (t *txn) authorization(id string) (SpaceAuthorization, error) {
	if _, deleted := t.authDeletes[id]; deleted {
		return SpaceAuthorization{}, ErrAuthorizationNotFound
	}
	if a, ok := t.auths[id]; ok {
		return a, nil
	}
	return t.store.GetAuthorization(t.ctx, id)
}

func (t *txn) hasAuthorization(id string) (bool, error) {
	if _, deleted := t.authDeletes[id]; deleted {
		return false, nil
	}
	if _, ok := t.auths[id]; ok {
		return true, nil
	}
	return t.store.HasAuthorization(t.ctx, id)
}

func (t *txn) putAuthorization(id string, a SpaceAuthorization) {
	delete(t.authDeletes, id)
	t.auths[id] = a
}

func (t *txn) deleteAuthorization(id string) {
	delete(t.auths, id)
	t.authDeletes[id] = struct{}{}
}

func (t *txn) delegateList(spaceID string) ([]string, error) {
	if list, ok := t.delegates[spaceID]; ok {
		out := make([]string, len(list))
		copy(out, list)
		return out, nil
	}
	return t.store.GetDelegates(t.ctx, spaceID)
}

func (t *txn) setDelegates(spaceID string, list []string) {
	t.delegates[spaceID] = list
}

func (t *txn) commit() error {
	batch := Batch{
		Spaces:         t.spaces,
		Authorizations: t.auths,
		Delegates:      t.delegates,
	}
	for id := range t.authDeletes {
		batch.AuthorizationDeletes = append(batch.AuthorizationDeletes, id)
	}
	if batch.IsEmpty() {
		return nil
	}
	return t.store.Apply(t.ctx, batch)
}
