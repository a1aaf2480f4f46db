package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// Frame constants.
const (
	// Delimiter terminates every framed message. It is never escaped.
	Delimiter byte = '|'

	// ChunkSize is the maximum number of bytes consumed by a single Receive.
	ChunkSize = 1024

	// MaxPendingBytes bounds the partial message kept per connection.
	MaxPendingBytes = 64 * 1024
)

// Frame errors.
var (
	// ErrPeerClosed is returned when a read yields zero bytes because the peer
	// shut down its side of the connection.
	ErrPeerClosed = errors.New("protocol: peer closed connection")

	// ErrFrameTooLarge is returned when a connection's pending buffer grows past
	// the decoder limit without a delimiter.
	ErrFrameTooLarge = errors.New("protocol: pending frame too large")

	// ErrDelimiterInPayload is returned when encoding a payload that contains
	// the frame delimiter.
	ErrDelimiterInPayload = errors.New("protocol: payload contains frame delimiter")
)

// FrameDecoder splits a byte stream into delimiter-terminated messages,
// keeping the unterminated remainder per connection.
//
// Each endpoint owns its own decoder. Buffers for different connections are
// independent, so a decoder may be shared by goroutines that each feed a
// distinct ConnID.
type FrameDecoder interface {
	// Decode appends chunk to the pending buffer of id and returns every
	// complete message, in arrival order. The trailing fragment, possibly
	// empty, becomes the new pending buffer.
	Decode(id ConnID, chunk []byte) ([]string, error)

	// Pending returns the number of buffered bytes for id.
	Pending(id ConnID) int

	// Forget discards the pending buffer for id.
	Forget(id ConnID)
}

type frameDecoder struct {
	mu      sync.Mutex
	buffers map[ConnID][]byte
	limit   int
}

// NewFrameDecoder returns a FrameDecoder limited to MaxPendingBytes per connection.
func NewFrameDecoder() FrameDecoder {
	return NewFrameDecoderWithLimit(MaxPendingBytes)
}

// NewFrameDecoderWithLimit returns a FrameDecoder with a custom pending limit.
// A limit <= 0 disables the check.
func NewFrameDecoderWithLimit(limit int) FrameDecoder {
	return &frameDecoder{
		buffers: make(map[ConnID][]byte),
		limit:   limit,
	}
}

func (d *frameDecoder) Decode(id ConnID, chunk []byte) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := append(d.buffers[id], chunk...)

	var messages []string
	for {
		i := bytes.IndexByte(buf, Delimiter)
		if i < 0 {
			break
		}
		messages = append(messages, string(buf[:i]))
		buf = buf[i+1:]
	}

	if d.limit > 0 && len(buf) > d.limit {
		delete(d.buffers, id)
		return messages, ErrFrameTooLarge
	}

	// Copy the remainder so the consumed prefix can be collected.
	rest := make([]byte, len(buf))
	copy(rest, buf)
	d.buffers[id] = rest

	return messages, nil
}

func (d *frameDecoder) Pending(id ConnID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers[id])
}

func (d *frameDecoder) Forget(id ConnID) {
	d.mu.Lock()
	delete(d.buffers, id)
	d.mu.Unlock()
}

// Receive performs one read of up to ChunkSize bytes from r and decodes it
// with dec under id.
//
// A read that yields no complete message returns (nil, nil). A zero-byte read
// at end of stream returns ErrPeerClosed, which callers treat as teardown
// rather than as a fault.
func Receive(r io.Reader, id ConnID, dec FrameDecoder) ([]string, error) {
	buf := make([]byte, ChunkSize)
	n, err := r.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, ErrPeerClosed
		}
		return nil, err
	}

	messages, decErr := dec.Decode(id, buf[:n])
	if decErr != nil {
		return messages, decErr
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return messages, err
	}
	return messages, nil
}

// EncodeFrame returns msg followed by the delimiter.
func EncodeFrame(msg string) ([]byte, error) {
	if strings.IndexByte(msg, Delimiter) >= 0 {
		return nil, ErrDelimiterInPayload
	}
	buf := make([]byte, len(msg)+1)
	copy(buf, msg)
	buf[len(msg)] = Delimiter
	return buf, nil
}

// WriteFrame encodes msg and writes it to w in a single call.
func WriteFrame(w io.Writer, msg string) error {
	data, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
