package domain

import (
	"errors"
	"fmt"
)

// ErrProofInvalid indicates the decryption proof did not authenticate the
// plaintext bundle against its request id.
var ErrProofInvalid = errors.New("decryption proof rejected")

// ErrUninitializedHandle indicates a submitted ciphertext handle is not known
// to the engine.
var ErrUninitializedHandle = errors.New("ciphertext handle not initialized")

// UnauthorizedError is returned when the caller is not in the authorization
// set.
type UnauthorizedError struct {
	Principal Principal
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("principal %q not authorized", e.Principal)
}

// NotFoundError is returned for record ids that were never assigned.
type NotFoundError struct {
	ID RecordID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("record %d not found", e.ID)
}

// PatternNotFoundError is returned when a label has no counter yet, or a
// counter reveal callback carries a hash matching no known label.
type PatternNotFoundError struct {
	Label     Label
	LabelHash string
}

func (e PatternNotFoundError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("pattern %q has no counter", e.Label)
	}
	return fmt.Sprintf("no pattern matches label hash %s", e.LabelHash)
}

// AlreadyRevealedError is returned when a request or resolution targets a
// record whose analysis is already finalized.
type AlreadyRevealedError struct {
	ID RecordID
}

func (e AlreadyRevealedError) Error() string {
	return fmt.Sprintf("record %d already revealed", e.ID)
}

// AlreadyPendingError is returned when an analysis request targets a record
// with a live decryption request outstanding.
type AlreadyPendingError struct {
	ID RecordID
}

func (e AlreadyPendingError) Error() string {
	return fmt.Sprintf("record %d has a pending decryption request", e.ID)
}

// InvalidRequestError is returned when a callback presents an unknown or
// already-consumed request id. This is the at-most-once guard.
type InvalidRequestError struct {
	RequestID RequestID
}

func (e InvalidRequestError) Error() string {
	return fmt.Sprintf("request %q unknown or already consumed", e.RequestID)
}

// MalformedPayloadError is returned when a plaintext bundle does not decode
// to the expected shape.
type MalformedPayloadError struct {
	Want int
	Got  int
}

func (e MalformedPayloadError) Error() string {
	return fmt.Sprintf("plaintext bundle: want %d bytes, got %d", e.Want, e.Got)
}

// ArithmeticError is returned when classification hits an undefined
// arithmetic condition, such as a zero high-16 demographic word.
type ArithmeticError struct {
	Op string
}

func (e ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error computing %s", e.Op)
}
