package space

import "math"

// Capacity accounting. A parent's TxnCapacity is a credit line: sub-spaces
// draw TxnReserve down from it at creation and on capacity updates, while
// every space burns its own TxnCount one metered operation at a time.

// validateForTransaction checks that the space can absorb one more metered
// operation. It does not mutate; the caller meters separately.
func (t *txn) validateForTransaction(spaceID string) (SpaceDetails, error) {
	d, err := t.space(spaceID)
	if err != nil {
		return SpaceDetails{}, err
	}
	if d.Archive {
		return SpaceDetails{}, ErrArchivedSpace
	}
	if !d.Approved {
		return SpaceDetails{}, ErrSpaceNotApproved
	}
	if d.TxnCapacity != 0 && d.TxnCount >= d.TxnCapacity {
		return SpaceDetails{}, ErrCapacityLimitExceeded
	}
	return d, nil
}

// validateForRestoreTransaction mirrors validateForTransaction for the
// restore path: the space must currently be archived.
func (t *txn) validateForRestoreTransaction(spaceID string) (SpaceDetails, error) {
	d, err := t.space(spaceID)
	if err != nil {
		return SpaceDetails{}, err
	}
	if !d.Archive {
		return SpaceDetails{}, ErrSpaceNotArchived
	}
	if !d.Approved {
		return SpaceDetails{}, ErrSpaceNotApproved
	}
	if d.TxnCapacity != 0 && d.TxnCount >= d.TxnCapacity {
		return SpaceDetails{}, ErrCapacityLimitExceeded
	}
	return d, nil
}

// validateForBatch checks that entries more metered operations fit.
func (t *txn) validateForBatch(spaceID string, entries uint16) (SpaceDetails, error) {
	d, err := t.space(spaceID)
	if err != nil {
		return SpaceDetails{}, err
	}
	if d.Archive {
		return SpaceDetails{}, ErrArchivedSpace
	}
	if !d.Approved {
		return SpaceDetails{}, ErrSpaceNotApproved
	}
	if d.TxnCount > math.MaxUint64-uint64(entries) {
		return SpaceDetails{}, ErrTypeCapacityOverflow
	}
	if d.TxnCapacity != 0 && d.TxnCount+uint64(entries) > d.TxnCapacity {
		return SpaceDetails{}, ErrCapacityLimitExceeded
	}
	return d, nil
}

func (t *txn) incrementUsage(spaceID string) error {
	return t.incrementUsageBy(spaceID, 1)
}

func (t *txn) decrementUsage(spaceID string) error {
	return t.decrementUsageBy(spaceID, 1)
}

func (t *txn) incrementUsageBy(spaceID string, n uint64) error {
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	if d.TxnCount > math.MaxUint64-n {
		d.TxnCount = math.MaxUint64
	} else {
		d.TxnCount += n
	}
	t.putSpace(spaceID, d)
	return nil
}

func (t *txn) decrementUsageBy(spaceID string, n uint64) error {
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}
	if d.TxnCount < n {
		d.TxnCount = 0
	} else {
		d.TxnCount -= n
	}
	t.putSpace(spaceID, d)
	return nil
}

// updateCapacity applies a capacity change to spaceID. For a top-level space
// the new capacity must cover current usage plus reservations. For a
// sub-space the parent's reserve is re-derived in the same txn, so both
// records commit together or not at all.
func (t *txn) updateCapacity(spaceID string, newCapacity uint64) error {
	d, err := t.space(spaceID)
	if err != nil {
		return err
	}

	if !d.IsSubSpace(spaceID) {
		if newCapacity != 0 && newCapacity < d.TxnCount+d.TxnReserve {
			return ErrCapacityLessThanUsage
		}
		d.TxnCapacity = newCapacity
		t.putSpace(spaceID, d)
		return nil
	}

	if newCapacity < d.TxnCount {
		return ErrCapacityLessThanUsage
	}
	parent, err := t.space(d.Parent)
	if err != nil {
		return err
	}
	// reserve_after = reserve - old_capacity + new_capacity
	if parent.TxnReserve+newCapacity < d.TxnCapacity {
		return ErrTypeCapacityOverflow
	}
	reserveAfter := parent.TxnReserve + newCapacity - d.TxnCapacity
	if parent.TxnCapacity != 0 && parent.TxnCapacity < parent.TxnCount+reserveAfter {
		return ErrCapacityLessThanUsage
	}
	parent.TxnReserve = reserveAfter
	d.TxnCapacity = newCapacity
	t.putSpace(d.Parent, parent)
	t.putSpace(spaceID, d)
	return nil
}

// reserveFromParent draws amount of capacity from the parent for a new
// sub-space. The creation itself counts as one metered operation on the
// parent.
func (t *txn) reserveFromParent(parentID string, amount uint64) error {
	parent, err := t.space(parentID)
	if err != nil {
		return err
	}
	if parent.TxnCapacity != 0 {
		committed := parent.TxnCount + parent.TxnReserve
		if committed > parent.TxnCapacity || amount > parent.TxnCapacity-committed {
			return ErrCapacityLimitExceeded
		}
	}
	parent.TxnCount++
	parent.TxnReserve += amount
	t.putSpace(parentID, parent)
	return nil
}
