package session

import (
	"errors"
	"fmt"
)

var (
	ErrNetworkUnavailable  = errors.New("network unavailable")
	ErrNoActiveSession     = errors.New("no active session")
	ErrOperationInProgress = errors.New("another account operation is in progress")
	ErrSuperseded          = errors.New("superseded by a later session change")
)

// EmailInUseError replaces the backend's "already registered" rejection during
// registration so callers can offer sign-in instead.
type EmailInUseError struct {
	Email string
}

func (e *EmailInUseError) Error() string {
	return fmt.Sprintf("email already in use: %s", e.Email)
}

type ProfileFetchError struct {
	Attempts int
	Last     error
}

func (e *ProfileFetchError) Error() string {
	return fmt.Sprintf("fetch profile failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ProfileFetchError) Unwrap() error {
	return e.Last
}

// StoreError is a profile store failure outside the retried read path.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("profile store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
