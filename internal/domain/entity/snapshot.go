package entity

import (
	"github.com/google/uuid"
)

// HandleID identifies one live subscription to the geo query provider.
type HandleID uuid.UUID

// NewHandleID allocates a fresh handle identifier.
func NewHandleID() HandleID {
	return HandleID(uuid.New())
}

// IsZero reports whether the id is unset.
func (h HandleID) IsZero() bool {
	return uuid.UUID(h) == uuid.Nil
}

func (h HandleID) String() string {
	return uuid.UUID(h).String()
}

// MarshalText renders the id in its canonical uuid form.
func (h HandleID) MarshalText() ([]byte, error) {
	return uuid.UUID(h).MarshalText()
}

// RawEntry is one (id, payload) pair as delivered by a provider.
// Payload is opaque to the provider and decoded by the reconciler.
type RawEntry struct {
	ID      string
	Payload []byte
}

// RawEntitySnapshot is one batch from a provider subscription.
// A batch always replaces the previous one; it is never a delta.
type RawEntitySnapshot struct {
	Entries []RawEntry
}

// Len returns the number of raw entries in the batch.
func (s RawEntitySnapshot) Len() int {
	return len(s.Entries)
}
