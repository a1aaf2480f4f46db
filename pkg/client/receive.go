package client

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"unicode/utf8"

	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
	"github.com/dungeonfaster/dfsync/pkg/telemetry"
)

type blobResult struct {
	data []byte
	err  error
}

// fetchState tracks FILE requests awaiting a response. A request whose caller
// gave up is abandoned: its response is still read off the stream, then
// discarded.
type fetchState struct {
	mu          sync.Mutex
	outstanding int
	abandoned   int
}

func (f *fetchState) expect() {
	f.mu.Lock()
	f.outstanding++
	f.mu.Unlock()
}

func (f *fetchState) expecting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outstanding > 0
}

// receiveLoop reads the socket one unit at a time. At a frame boundary the
// next byte tells a file response (0x00 or 0xFF header byte) from a framed
// message (an ASCII command letter).
func (c *Client) receiveLoop(nc net.Conn) error {
	r := bufio.NewReaderSize(&meteredConn{Conn: nc, m: c.metrics}, protocol.ChunkSize)

	for {
		if c.decoder.Pending(c.id) == 0 {
			b, err := r.Peek(1)
			if err != nil {
				return peerErr(err)
			}
			if protocol.IsBlobHeaderByte(b[0]) {
				if err := c.receiveBlob(r); err != nil {
					return err
				}
				continue
			}
		}

		chunk, err := r.ReadSlice(protocol.Delimiter)
		if len(chunk) > 0 {
			msgs, derr := c.decoder.Decode(c.id, chunk)
			for _, msg := range msgs {
				c.handleMessage(msg)
			}
			if derr != nil {
				c.metrics.MessageDropped(telemetry.DropOversize)
				return derr
			}
		}
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			return peerErr(err)
		}
	}
}

func (c *Client) receiveBlob(r *bufio.Reader) error {
	if !c.fetch.expecting() {
		c.logger.Warn("file response with no request outstanding")
		return ErrUnexpectedBlob
	}

	data, err := protocol.ReadBlob(r, protocol.MaxBlobSize)
	res := blobResult{data: data}
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrBlobNotFound):
		res.err = ErrFileNotFound
	default:
		return peerErr(err)
	}

	c.fetch.mu.Lock()
	defer c.fetch.mu.Unlock()
	c.fetch.outstanding--
	if c.fetch.abandoned > 0 {
		c.fetch.abandoned--
		return nil
	}
	c.blobs <- res
	return nil
}

func (c *Client) handleMessage(raw string) {
	if !utf8.ValidString(raw) {
		c.metrics.MessageDropped(telemetry.DropMalformed)
		c.logger.Warn("dropping message", "reason", "invalid utf-8")
		return
	}

	msg, err := protocol.ParseMessage(raw)
	if errors.Is(err, protocol.ErrUnknownCommand) {
		c.metrics.MessageDropped(telemetry.DropUnknown)
		c.logger.Debug("ignoring unknown command", "message", raw)
		return
	}
	if err == nil && !msg.Command.IsUpdate() {
		err = protocol.ErrUnknownCommand
	}
	if err != nil {
		c.metrics.MessageDropped(telemetry.DropMalformed)
		c.logger.Warn("dropping message", "message", raw, "error", err)
		return
	}
	c.metrics.MessageReceived(msg.Command.String())

	// The local UI already shows our own moves.
	if msg.Player == c.config.Username {
		c.metrics.MessageDropped(telemetry.DropOwnPlayer)
		return
	}

	u, err := campaign.UpdateFromMessage(msg)
	if err == nil {
		err = c.State().Apply(u)
	}
	if err != nil {
		c.metrics.MessageDropped(telemetry.DropMalformed)
		c.logger.Warn("dropping message", "message", raw, "error", err)
		return
	}
	if !c.feed.Publish(u) {
		c.metrics.FeedDropped()
	}
}

func peerErr(err error) error {
	if errors.Is(err, io.EOF) {
		return protocol.ErrPeerClosed
	}
	return err
}

type meteredConn struct {
	net.Conn
	m *telemetry.Metrics
}

func (c *meteredConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.m.BytesReceived(n)
	return n, err
}
