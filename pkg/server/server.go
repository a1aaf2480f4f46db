package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dungeonfaster/dfsync/pkg/assets"
	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
	"github.com/dungeonfaster/dfsync/pkg/telemetry"
)

// Server accepts party members, sends them the campaign snapshot and relays
// position updates between them.
type Server struct {
	config  *Config
	source  campaign.Source
	assets  assets.Store
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	state   *campaign.State
	feed    *campaign.Feed
	decoder protocol.FrameDecoder
	stats   counters

	// Lifecycle
	mu          sync.Mutex
	started     bool
	listener    net.Listener
	handshaking map[net.Conn]struct{}
	running     atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	stopCh      chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	wg          sync.WaitGroup

	events chan event

	// Connection Record table. Written only by the event loop; connsMu lets
	// Connections read it from other goroutines.
	connsMu sync.RWMutex
	conns   map[protocol.ConnID]*conn
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAssets sets the store that answers FILE requests. Without one every
// request is answered with the not-found sentinel.
func WithAssets(store assets.Store) Option {
	return func(s *Server) {
		s.assets = store
	}
}

// WithTracer sets the tracer used for handshake and file fetch spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// New creates a new Server with the given configuration. A nil config uses
// DefaultConfig; unset fields are filled with defaults.
func New(config *Config, source campaign.Source, opts ...Option) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.Clone()
		config.fillDefaults()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errors.New("server: nil campaign source")
	}

	s := &Server{
		config:      config,
		source:      source,
		logger:      slog.Default().With("component", "server"),
		decoder:     protocol.NewFrameDecoder(),
		handshaking: make(map[net.Conn]struct{}),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		events:      make(chan event),
		conns:       make(map[protocol.ConnID]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer()
	}

	s.state = campaign.NewState(source.Roster())
	s.feed = campaign.NewFeed(config.FeedSize)
	return s, nil
}

// Start binds the listener and spawns the accept and event loop goroutines.
// It does not block. Cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCh:
		return ErrServerClosed
	default:
	}
	if s.started {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return err
	}

	s.started = true
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.running.Store(true)

	s.logger.Info("server starting",
		"address", ln.Addr().String(),
		"snapshot_mode", string(s.config.SnapshotMode),
		"players", len(s.source.Roster()))

	s.wg.Add(1)
	go s.acceptLoop(ln)
	go s.eventLoop()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopCh:
		}
	}()
	return nil
}

// Run starts the server and blocks until it is stopped or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-s.done
	s.wg.Wait()
	return nil
}

// Stop closes the listener and every connection, stops the event loop and
// waits for all server goroutines. It is idempotent and safe to call from
// any goroutine.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)

		s.mu.Lock()
		started := s.started
		if s.listener != nil {
			s.listener.Close()
		}
		for nc := range s.handshaking {
			nc.Close()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		if started {
			<-s.done
		}
		s.wg.Wait()
		s.feed.Close()
		s.logger.Info("server stopped")
	})
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Done returns a channel closed when the event loop has exited.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections returns the established connections ordered by connect time.
func (s *Server) Connections() []ConnInfo {
	s.connsMu.RLock()
	out := make([]ConnInfo, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.info())
	}
	s.connsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// State returns the live position table.
func (s *Server) State() *campaign.State {
	return s.state
}

// Updates returns the feed of applied updates, closed after Stop.
func (s *Server) Updates() <-chan campaign.Update {
	return s.feed.C()
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Broadcast applies an update made on the server side, such as the DM moving
// a marker, and relays it to every client. Clients ignore relays naming their
// own player, so a connected player never sees the DM move their marker; the
// player's UI has to move it locally.
func (s *Server) Broadcast(ctx context.Context, u campaign.Update) error {
	msg, err := u.Message()
	if err != nil {
		return err
	}
	result := make(chan error, 1)
	ev := event{kind: evBroadcast, update: u, raw: msg, result: result}

	select {
	case s.events <- ev:
	case <-s.stopCh:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			select {
			case <-time.After(50 * time.Millisecond):
			case <-s.stopCh:
				return
			}
			continue
		}

		if !s.trackHandshake(nc) {
			nc.Close()
			return
		}
		s.wg.Add(1)
		go s.handshake(nc)
	}
}

func (s *Server) trackHandshake(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return false
	}
	s.handshaking[nc] = struct{}{}
	return true
}

func (s *Server) untrackHandshake(nc net.Conn) {
	s.mu.Lock()
	delete(s.handshaking, nc)
	s.mu.Unlock()
}

// post hands ev to the event loop. It reports false once the server stops.
func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stopCh:
		return false
	}
}
