package space

import "errors"

var (
	ErrInvalidInput                = errors.New("space: invalid input")
	ErrSpaceAlreadyAnchored        = errors.New("space: identifier already anchored")
	ErrSpaceNotFound               = errors.New("space: not found")
	ErrUnauthorizedOperation       = errors.New("space: unauthorized operation")
	ErrInvalidIdentifierLength     = errors.New("space: invalid identifier length")
	ErrArchivedSpace               = errors.New("space: archived")
	ErrSpaceNotArchived            = errors.New("space: not archived")
	ErrSpaceDelegatesLimitExceeded = errors.New("space: delegates limit exceeded")
	ErrDelegateAlreadyAdded        = errors.New("space: delegate already added")
	ErrAuthorizationNotFound       = errors.New("space: authorization not found")
	ErrDelegateNotFound            = errors.New("space: delegate not found")
	ErrSpaceAlreadyApproved        = errors.New("space: already approved")
	ErrSpaceNotApproved            = errors.New("space: not approved")
	ErrCapacityLimitExceeded       = errors.New("space: capacity limit exceeded")
	ErrCapacityLessThanUsage       = errors.New("space: capacity less than current usage")
	ErrTypeCapacityOverflow        = errors.New("space: capacity arithmetic overflow")
)
