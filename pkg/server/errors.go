package server

import (
	"errors"
	"fmt"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

// Sentinel errors for server lifecycle and connection conditions.
var (
	// ErrServerClosed is returned by Start after Stop, and by Broadcast once
	// the event loop has exited.
	ErrServerClosed = errors.New("server: server closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("server: already started")

	// ErrNotInRoster is returned when a client authenticates with a name
	// that is not a player of the campaign.
	ErrNotInRoster = errors.New("server: player not in roster")

	// ErrNotAuthorized is returned when a client moves another player while
	// AuthorizeMoves is enabled.
	ErrNotAuthorized = errors.New("server: move not authorized")
)

// ConnError wraps an error with connection context for debugging.
type ConnError struct {
	ConnID protocol.ConnID
	Player string
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnError) Error() string {
	if e.ConnID.IsZero() {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	if e.Player == "" {
		return fmt.Sprintf("server: conn %s: %s: %v", e.ConnID, e.Op, e.Err)
	}
	return fmt.Sprintf("server: conn %s (%s): %s: %v", e.ConnID, e.Player, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnError) Unwrap() error {
	return e.Err
}

func newConnError(c *conn, op string, err error) *ConnError {
	e := &ConnError{Op: op, Err: err}
	if c != nil {
		e.ConnID = c.id
		e.Player = c.player
	}
	return e
}
