package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for client conditions.
var (
	// ErrRejected is returned when the server closes the connection without
	// sending a snapshot, which is how it refuses an unknown player.
	ErrRejected = errors.New("client: rejected by server")

	// ErrNotConnected is returned when sending without an established session.
	ErrNotConnected = errors.New("client: not connected")

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("client: client closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("client: already started")

	// ErrFileNotFound is returned when the server answers a FILE request with
	// the not-found sentinel.
	ErrFileNotFound = errors.New("client: file not found")

	// ErrUnexpectedBlob is returned when a file response arrives with no
	// request outstanding. The connection is dropped.
	ErrUnexpectedBlob = errors.New("client: unexpected file response")
)

// FileError wraps an error with the path of the requested file.
type FileError struct {
	Path string
	Err  error
}

// Error returns the error message with the path.
func (e *FileError) Error() string {
	return fmt.Sprintf("client: file %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *FileError) Unwrap() error {
	return e.Err
}
