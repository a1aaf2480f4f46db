package server

import (
	"errors"
	"io"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
	"github.com/dungeonfaster/dfsync/pkg/telemetry"
)

// handshake authenticates a freshly accepted socket, sends the snapshot and
// hands the resulting record to the event loop. A rejected socket is closed
// without a single byte written.
func (s *Server) handshake(nc net.Conn) {
	defer s.wg.Done()
	defer s.untrackHandshake(nc)

	remote := nc.RemoteAddr().String()
	_, span := telemetry.StartSpan(s.ctx, s.tracer, "dfsync.server.handshake", trace.SpanKindServer,
		telemetry.AttrRemote.String(remote))

	c, err := s.authenticate(nc)
	if err != nil {
		nc.Close()
		telemetry.EndSpan(span, err)
		return
	}
	span.SetAttributes(
		telemetry.AttrConnID.String(c.id.String()),
		telemetry.AttrPlayer.String(c.player),
	)

	if err := s.sendSnapshot(c); err != nil {
		s.logger.Warn("snapshot send failed", "conn_id", c.id.String(), "player", c.player, "error", err)
		nc.Close()
		telemetry.EndSpan(span, err)
		return
	}
	telemetry.EndSpan(span, nil)

	if !s.post(event{kind: evEstablished, conn: c}) {
		nc.Close()
	}
}

// authenticate reads the credential message in a single read and checks the
// username against the roster. The password is read but not verified.
func (s *Server) authenticate(nc net.Conn) (*conn, error) {
	remote := nc.RemoteAddr().String()
	s.logger.Debug("connection state", "remote", remote, "state", stateAuthenticating.String())

	nc.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout))
	buf := make([]byte, protocol.MaxCredentialsSize)
	n, err := nc.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			err = protocol.ErrPeerClosed
		}
		s.logger.Debug("handshake read failed", "remote", remote, "error", err)
		return nil, &ConnError{Op: "authenticate", Err: err}
	}
	nc.SetReadDeadline(time.Time{})
	s.metrics.BytesReceived(n)

	creds, err := protocol.ParseCredentials(buf[:n])
	if err != nil {
		s.reject(remote, "", err)
		return nil, &ConnError{Op: "authenticate", Err: err}
	}
	if !s.source.Roster().Contains(creds.Username) {
		s.reject(remote, creds.Username, ErrNotInRoster)
		return nil, &ConnError{Op: "authenticate", Err: ErrNotInRoster}
	}

	return newConn(nc, creds.Username, s.config.WriteTimeout, s.metrics), nil
}

func (s *Server) reject(remote, username string, reason error) {
	s.stats.rejected.Add(1)
	s.metrics.AuthRejected()
	s.logger.Info("client rejected", "remote", remote, "player", username, "reason", reason)
}

func (s *Server) sendSnapshot(c *conn) error {
	data, err := s.source.Snapshot()
	if err != nil {
		return newConnError(c, "snapshot", err)
	}

	err = c.send(func(w io.Writer) error {
		// The handshake bound covers the snapshot write too.
		c.nc.SetWriteDeadline(time.Now().Add(s.config.HandshakeTimeout))
		return protocol.WriteSnapshot(w, s.config.SnapshotMode, data)
	})
	if err != nil {
		return newConnError(c, "snapshot", err)
	}

	s.metrics.Snapshot(len(data))
	s.logger.Debug("snapshot sent", "conn_id", c.id.String(), "player", c.player, "bytes", len(data))
	return nil
}
