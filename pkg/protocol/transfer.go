package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Transfer constants.
const (
	// BlobHeaderSize is the size of the big-endian length prefix.
	BlobHeaderSize = 4

	// NotFoundSentinel is written in place of a length when an asset is missing.
	NotFoundSentinel uint32 = 0xFFFFFFFF

	// MaxBlobSize is the largest asset body. Keeping it below 1<<24 makes the
	// first header byte 0x00, which never starts a framed message.
	MaxBlobSize = 1<<24 - 1

	// MaxSnapshotSize is the default limit for a length-prefixed snapshot.
	MaxSnapshotSize = 64 << 20

	// LegacyChunkSize is the read size of the legacy snapshot transfer.
	LegacyChunkSize = 256
)

// Transfer errors.
var (
	// ErrBlobNotFound is returned by ReadBlob when the peer sent the not-found sentinel.
	ErrBlobNotFound = errors.New("protocol: blob not found")

	// ErrBlobTooLarge is returned when a blob exceeds the allowed size.
	ErrBlobTooLarge = errors.New("protocol: blob too large")

	// ErrUnknownSnapshotMode is returned for an unrecognized SnapshotMode.
	ErrUnknownSnapshotMode = errors.New("protocol: unknown snapshot mode")
)

// SnapshotMode selects how the campaign document is framed on the wire.
type SnapshotMode string

const (
	// SnapshotLengthPrefixed sends a 4-byte big-endian length before the document.
	SnapshotLengthPrefixed SnapshotMode = "length-prefixed"

	// SnapshotLegacy sends the raw document; the receiver stops at the first read
	// shorter than LegacyChunkSize. A document whose size is an exact multiple of
	// LegacyChunkSize leaves the receiver waiting for more data.
	SnapshotLegacy SnapshotMode = "legacy"
)

// Valid reports whether m is a known mode.
func (m SnapshotMode) Valid() bool {
	return m == SnapshotLengthPrefixed || m == SnapshotLegacy
}

// ParseSnapshotMode parses a mode name. The empty string selects
// SnapshotLengthPrefixed.
func ParseSnapshotMode(s string) (SnapshotMode, error) {
	if s == "" {
		return SnapshotLengthPrefixed, nil
	}
	m := SnapshotMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSnapshotMode, s)
	}
	return m, nil
}

// IsBlobHeaderByte reports whether b can begin a blob header.
func IsBlobHeaderByte(b byte) bool {
	return b == 0x00 || b == 0xFF
}

// EncodeBlobHeader returns the length prefix for a body of n bytes.
func EncodeBlobHeader(n uint32) [BlobHeaderSize]byte {
	var h [BlobHeaderSize]byte
	binary.BigEndian.PutUint32(h[:], n)
	return h
}

// WriteBlob writes the length prefix and data in a single Write.
func WriteBlob(w io.Writer, data []byte) error {
	if len(data) > MaxBlobSize {
		return ErrBlobTooLarge
	}
	return writePrefixed(w, data)
}

// WriteBlobNotFound writes the not-found sentinel with no body.
func WriteBlobNotFound(w io.Writer) error {
	h := EncodeBlobHeader(NotFoundSentinel)
	_, err := w.Write(h[:])
	return err
}

// ReadBlob reads a length-prefixed blob of at most max bytes.
//
// The sentinel yields ErrBlobNotFound. End of stream before any header byte
// yields ErrPeerClosed.
func ReadBlob(r io.Reader, max int) ([]byte, error) {
	var h [BlobHeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrPeerClosed
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(h[:])
	if n == NotFoundSentinel {
		return nil, ErrBlobNotFound
	}
	if max > 0 && int64(n) > int64(max) {
		return nil, ErrBlobTooLarge
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

// WriteSnapshot writes the campaign document in the given mode.
func WriteSnapshot(w io.Writer, mode SnapshotMode, data []byte) error {
	switch mode {
	case SnapshotLengthPrefixed:
		if len(data) > MaxSnapshotSize {
			return ErrBlobTooLarge
		}
		return writePrefixed(w, data)
	case SnapshotLegacy:
		_, err := w.Write(data)
		return err
	default:
		return ErrUnknownSnapshotMode
	}
}

// ReadSnapshot reads the campaign document in the given mode.
//
// A connection closed before any byte arrives returns ErrPeerClosed, which
// means the server rejected the credentials.
func ReadSnapshot(r io.Reader, mode SnapshotMode, max int) ([]byte, error) {
	switch mode {
	case SnapshotLengthPrefixed:
		if max <= 0 {
			max = MaxSnapshotSize
		}
		return ReadBlob(r, max)
	case SnapshotLegacy:
		return readLegacySnapshot(r, max)
	default:
		return nil, ErrUnknownSnapshotMode
	}
}

func readLegacySnapshot(r io.Reader, max int) ([]byte, error) {
	buf := make([]byte, LegacyChunkSize)
	var doc []byte
	for first := true; ; first = false {
		n, err := r.Read(buf)
		doc = append(doc, buf[:n]...)
		if max > 0 && len(doc) > max {
			return nil, ErrBlobTooLarge
		}
		if n == 0 && first {
			if err == nil || errors.Is(err, io.EOF) {
				return nil, ErrPeerClosed
			}
			return nil, err
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if n < LegacyChunkSize || err != nil {
			return doc, nil
		}
	}
}

func writePrefixed(w io.Writer, data []byte) error {
	buf := make([]byte, BlobHeaderSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[BlobHeaderSize:], data)
	_, err := w.Write(buf)
	return err
}
