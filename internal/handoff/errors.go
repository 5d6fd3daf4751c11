package handoff

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("handoff session not found")
	ErrNotParty      = errors.New("not a party to this handoff")
	ErrLocked        = errors.New("handoff session is locked")
	ErrExpired       = errors.New("handoff session is no longer active")
	ErrIncorrectCode = errors.New("incorrect code")
	ErrInvalidCode   = errors.New("code must be exactly 6 digits")
	ErrSameParty     = errors.New("owner and counterpart must be different users")
)

// IncorrectCodeError reports a wrong code together with the attempts the
// submitting role has left.
type IncorrectCodeError struct {
	Role      Role
	Attempts  int
	Remaining int
}

func (e *IncorrectCodeError) Error() string {
	return fmt.Sprintf("incorrect code: %d attempts remaining", e.Remaining)
}

func (e *IncorrectCodeError) Unwrap() error { return ErrIncorrectCode }
