package server

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
	"github.com/dungeonfaster/dfsync/pkg/telemetry"
)

// connState is the lifecycle state of a client connection. Transitions only
// move forward; Closed is terminal.
type connState uint8

const (
	stateConnecting connState = iota
	stateAuthenticating
	stateEstablished
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateEstablished:
		return "established"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// conn is the Connection Record of an authenticated client. The record table
// is only mutated by the event loop; writes may come from the loop or from
// file fetch goroutines and are serialized by writeMu so every response is a
// whole unit on the stream.
type conn struct {
	id          protocol.ConnID
	nc          net.Conn
	player      string
	remote      string
	connectedAt time.Time
	state       connState // owned by the event loop

	reader io.Reader

	writeMu      sync.Mutex
	writeTimeout time.Duration
	metrics      *telemetry.Metrics

	closeOnce sync.Once
}

func newConn(nc net.Conn, player string, writeTimeout time.Duration, m *telemetry.Metrics) *conn {
	return &conn{
		id:           protocol.NewConnID(),
		nc:           nc,
		player:       player,
		remote:       nc.RemoteAddr().String(),
		connectedAt:  time.Now(),
		state:        stateAuthenticating,
		reader:       &meteredReader{r: nc, m: m},
		writeTimeout: writeTimeout,
		metrics:      m,
	}
}

// send runs fn with exclusive write access to the socket and a write deadline.
func (c *conn) send(fn func(w io.Writer) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return fn(&meteredWriter{w: c.nc, m: c.metrics})
}

// sendFrame writes an already delimited frame.
func (c *conn) sendFrame(frame []byte) error {
	return c.send(func(w io.Writer) error {
		_, err := w.Write(frame)
		return err
	})
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.nc.Close()
	})
}

func (c *conn) info() ConnInfo {
	return ConnInfo{
		ID:          c.id.String(),
		Player:      c.player,
		Remote:      c.remote,
		ConnectedAt: c.connectedAt,
	}
}

// ConnInfo describes an established connection.
type ConnInfo struct {
	ID          string    `json:"id"`
	Player      string    `json:"player"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
}

type meteredReader struct {
	r io.Reader
	m *telemetry.Metrics
}

func (r *meteredReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.m.BytesReceived(n)
	return n, err
}

type meteredWriter struct {
	w io.Writer
	m *telemetry.Metrics
}

func (w *meteredWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.m.BytesSent(n)
	return n, err
}
