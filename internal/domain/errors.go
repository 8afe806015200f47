package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the core wraps exactly one of them.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage error")
)

var (
	ErrInvalidContent   = fmt.Errorf("%w: message content is empty or too long", ErrValidation)
	ErrInvalidRoomName  = fmt.Errorf("%w: invalid room name", ErrValidation)
	ErrInvalidClip      = fmt.Errorf("%w: invalid audio clip", ErrValidation)
	ErrNotConnected     = fmt.Errorf("%w: connection is not registered", ErrValidation)
	ErrNotAMember       = fmt.Errorf("%w: connection is not a member of the room", ErrValidation)
	ErrIdentityMismatch = fmt.Errorf("%w: user does not own this connection", ErrValidation)

	ErrRoomNotFound = fmt.Errorf("%w: room", ErrNotFound)
	ErrClipNotFound = fmt.Errorf("%w: clip", ErrNotFound)
	ErrUserNotFound = fmt.Errorf("%w: user", ErrNotFound)

	ErrDuplicateRoomName = fmt.Errorf("%w: room name already taken", ErrConflict)
	ErrDuplicateUsername = fmt.Errorf("%w: username already taken", ErrConflict)
	ErrAlreadyVoted      = fmt.Errorf("%w: user already voted on this clip", ErrConflict)
	ErrAlreadyApproved   = fmt.Errorf("%w: clip is already approved", ErrConflict)
)

// StorageError marks err as a transient infrastructure failure of op.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
