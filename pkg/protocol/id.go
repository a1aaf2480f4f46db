package protocol

import "github.com/google/uuid"

// ConnID identifies one live connection within an endpoint.
// Pending frame buffers and connection records are keyed by it.
type ConnID uuid.UUID

// NewConnID returns a fresh random connection identity.
func NewConnID() ConnID {
	return ConnID(uuid.New())
}

// String returns the canonical UUID form of the identity.
func (id ConnID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero identity.
func (id ConnID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}
