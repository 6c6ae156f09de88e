package sms

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateIndex is returned when a part index is already held by
	// any message in the list.
	ErrDuplicateIndex = errors.New("duplicate part index")

	// ErrPartConflict is returned when a part does not fit the multipart
	// message with its reference: different max count, message already
	// full or sequence already taken.
	ErrPartConflict = errors.New("part conflict")

	// ErrInvalidPart is returned for parts with an impossible header.
	ErrInvalidPart = errors.New("invalid part")

	// ErrNotFound is returned when no message has the given ID.
	ErrNotFound = errors.New("message not found")
)

// PartError explains why a part was not taken.
type PartError struct {
	Index  uint32
	Reason string
	Err    error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("%s: part %d: %s", e.Err, e.Index, e.Reason)
}

func (e *PartError) Unwrap() error {
	return e.Err
}
