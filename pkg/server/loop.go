package server

import (
	"errors"
	"io"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/dungeonfaster/dfsync/pkg/assets"
	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
	"github.com/dungeonfaster/dfsync/pkg/telemetry"
)

type eventKind uint8

const (
	evEstablished eventKind = iota + 1 // handshake finished, register the record
	evMessages                         // complete messages read from a client
	evHangup                           // client closed or read failed
	evBroadcast                        // server-side update
)

type event struct {
	kind eventKind
	conn *conn
	msgs []string
	err  error

	update campaign.Update
	raw    string
	result chan<- error
}

// eventLoop is the only goroutine that mutates the record table and applies
// client updates. The ticker lets it observe a stop request even when no
// client is talking.
func (s *Server) eventLoop() {
	defer close(s.done)
	defer s.closeAll()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-ticker.C:
			if !s.running.Load() {
				return
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) handleEvent(ev event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	switch ev.kind {
	case evEstablished:
		s.register(ev.conn)
	case evMessages:
		for _, msg := range ev.msgs {
			if _, ok := s.conns[ev.conn.id]; !ok {
				return
			}
			s.dispatch(ev.conn, msg)
		}
	case evHangup:
		s.drop(ev.conn, ev.err)
	case evBroadcast:
		ev.result <- s.broadcast(ev.update, ev.raw)
	}
}

func (s *Server) register(c *conn) {
	if !s.running.Load() {
		c.close()
		return
	}

	c.state = stateEstablished
	s.connsMu.Lock()
	s.conns[c.id] = c
	s.connsMu.Unlock()

	s.stats.active.Add(1)
	s.stats.total.Add(1)
	s.metrics.ConnectionOpened()
	s.logger.Info("client joined", "conn_id", c.id.String(), "player", c.player, "remote", c.remote)

	s.wg.Add(1)
	go s.readLoop(c)
}

// drop removes c from the record table. Peers are not notified.
func (s *Server) drop(c *conn, cause error) {
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	c.close()
	s.decoder.Forget(c.id)

	s.connsMu.Lock()
	_, ok := s.conns[c.id]
	delete(s.conns, c.id)
	s.connsMu.Unlock()
	if !ok {
		return
	}

	s.stats.active.Add(-1)
	s.metrics.ConnectionClosed()

	if cause == nil || errors.Is(cause, protocol.ErrPeerClosed) {
		s.logger.Info("client left", "conn_id", c.id.String(), "player", c.player)
	} else {
		s.logger.Warn("client dropped", "conn_id", c.id.String(), "player", c.player, "error", cause)
	}
}

func (s *Server) closeAll() {
	s.connsMu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.RUnlock()

	for _, c := range conns {
		s.drop(c, nil)
	}
}

// readLoop feeds socket reads through the shared decoder and posts complete
// messages to the event loop.
func (s *Server) readLoop(c *conn) {
	defer s.wg.Done()

	for {
		msgs, err := protocol.Receive(c.reader, c.id, s.decoder)
		if len(msgs) > 0 {
			if !s.post(event{kind: evMessages, conn: c, msgs: msgs}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				s.metrics.MessageDropped(telemetry.DropOversize)
			}
			s.post(event{kind: evHangup, conn: c, err: err})
			return
		}
	}
}

func (s *Server) dispatch(c *conn, raw string) {
	if !utf8.ValidString(raw) {
		s.dropMessage(c, raw, telemetry.DropMalformed, errors.New("invalid utf-8"))
		return
	}

	msg, err := protocol.ParseMessage(raw)
	if errors.Is(err, protocol.ErrUnknownCommand) {
		s.stats.dropped.Add(1)
		s.metrics.MessageDropped(telemetry.DropUnknown)
		s.logger.Debug("ignoring unknown command", "conn_id", c.id.String(), "message", raw)
		return
	}
	if err != nil {
		s.dropMessage(c, raw, telemetry.DropMalformed, err)
		return
	}

	s.stats.received.Add(1)
	s.metrics.MessageReceived(msg.Command.String())

	switch msg.Command {
	case protocol.CommandPosition, protocol.CommandIndex:
		s.applyUpdate(c, msg)
	case protocol.CommandFile:
		s.serveFile(c, msg.Path())
	}
}

func (s *Server) dropMessage(c *conn, raw, reason string, err error) {
	s.stats.dropped.Add(1)
	s.metrics.MessageDropped(reason)
	s.logger.Warn("dropping message",
		"conn_id", c.id.String(),
		"player", c.player,
		"reason", reason,
		"message", raw,
		"error", err)
}

func (s *Server) applyUpdate(c *conn, msg protocol.Message) {
	u, err := campaign.UpdateFromMessage(msg)
	if err != nil {
		s.dropMessage(c, msg.Raw, telemetry.DropMalformed, err)
		return
	}
	if s.config.AuthorizeMoves && u.Player != c.player {
		s.dropMessage(c, msg.Raw, telemetry.DropUnauthorized, ErrNotAuthorized)
		return
	}

	u.From = c.id
	if err := s.state.Apply(u); err != nil {
		reason := telemetry.DropMalformed
		if errors.Is(err, campaign.ErrUnknownPlayer) {
			reason = telemetry.DropUnknownPlayer
		}
		s.dropMessage(c, msg.Raw, reason, err)
		return
	}
	s.publish(u)
	s.relay(c.id, msg.Command.String(), msg.Raw)
}

func (s *Server) broadcast(u campaign.Update, raw string) error {
	if u.At.IsZero() {
		u.At = time.Now()
	}
	if err := s.state.Apply(u); err != nil {
		return err
	}
	s.publish(u)
	s.relay(protocol.ConnID{}, u.Kind.String(), raw)
	return nil
}

func (s *Server) publish(u campaign.Update) {
	if !s.feed.Publish(u) {
		s.metrics.FeedDropped()
	}
}

// relay writes the original message text to every client except the sender.
// A client whose write fails is disconnected; its reader reports the hang-up.
func (s *Server) relay(from protocol.ConnID, command, raw string) {
	frame, err := protocol.EncodeFrame(raw)
	if err != nil {
		return
	}

	n := 0
	for id, peer := range s.conns {
		if id == from {
			continue
		}
		if err := peer.sendFrame(frame); err != nil {
			s.logger.Warn("relay write failed", "conn_id", id.String(), "player", peer.player, "error", err)
			peer.close()
			continue
		}
		n++
	}
	s.stats.relayed.Add(int64(n))
	s.metrics.MessageRelayed(command, n)
}

// serveFile answers a FILE request off the event loop. The response is written
// under the connection's write lock, so it never interleaves with a relay.
func (s *Server) serveFile(c *conn, path string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, span := telemetry.StartSpan(s.ctx, s.tracer, "dfsync.server.file", trace.SpanKindServer,
			telemetry.AttrConnID.String(c.id.String()),
			telemetry.AttrPath.String(path))

		var data []byte
		err := assets.ErrNotFound
		if s.assets != nil {
			data, err = s.assets.Get(ctx, path)
		}

		found := err == nil
		switch {
		case found:
			s.stats.served.Add(1)
			s.metrics.FileFetch(telemetry.FetchHit)
			span.SetAttributes(telemetry.AttrBytes.Int(len(data)))
		case errors.Is(err, assets.ErrNotFound), errors.Is(err, assets.ErrOutsideRoot):
			s.stats.missed.Add(1)
			s.metrics.FileFetch(telemetry.FetchMiss)
			s.logger.Debug("file not found", "conn_id", c.id.String(), "path", path, "error", err)
		default:
			s.stats.missed.Add(1)
			s.metrics.FileFetch(telemetry.FetchError)
			s.logger.Warn("file fetch failed", "conn_id", c.id.String(), "path", path, "error", err)
		}

		werr := c.send(func(w io.Writer) error {
			if found {
				return protocol.WriteBlob(w, data)
			}
			return protocol.WriteBlobNotFound(w)
		})
		if werr != nil {
			s.logger.Warn("file response write failed", "conn_id", c.id.String(), "path", path, "error", werr)
			c.close()
		}

		if werr == nil && !found {
			werr = err
		}
		telemetry.EndSpan(span, werr)
	}()
}
