package rtc

import (
	"errors"
	"fmt"
)

// Sentinel errors for rtc package operations.
// These errors enable reliable error classification using errors.Is().

// Registry errors.
var (
	// ErrDuplicateSession indicates a session is already registered for
	// the peer's full JID. The existing session is kept.
	ErrDuplicateSession = errors.New("session already registered for peer")

	// ErrNoSuchSession indicates no session exists for the peer.
	ErrNoSuchSession = errors.New("no session for peer")
)

// Invitation errors.
var (
	// ErrInvitePending indicates an invitation to this peer is still
	// awaiting an answer.
	ErrInvitePending = errors.New("invitation already pending for peer")
)

// Manager state errors.
var (
	// ErrNotRunning indicates the manager has not been started.
	ErrNotRunning = errors.New("manager is not running")

	// ErrAlreadyRunning indicates the manager is already running.
	ErrAlreadyRunning = errors.New("manager is already running")
)

// MediaAcquisitionError reports that the local capture device was denied or
// unavailable. It is surfaced to the caller and never retried automatically.
type MediaAcquisitionError struct {
	Cause error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("local media acquisition failed: %v", e.Cause)
}

func (e *MediaAcquisitionError) Unwrap() error {
	return e.Cause
}
