package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/dungeonfaster/dfsync/pkg/assets"
	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
	"github.com/dungeonfaster/dfsync/pkg/telemetry"
)

// Client is a party member's connection to the DM server.
//
// Start connects in the background and returns at once; poll Established or
// block on WaitEstablished before sending. After the snapshot arrives a
// single reader goroutine applies relayed updates to State and publishes them
// on Updates.
type Client struct {
	config  *Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	id      protocol.ConnID

	mu       sync.Mutex
	status   Status
	err      error
	started  bool
	closing  bool
	conn     net.Conn
	document []byte
	doc      *campaign.Document
	state    *campaign.State
	cancel   context.CancelFunc

	feed    *campaign.Feed
	decoder protocol.FrameDecoder
	ready   chan struct{}
	done    chan struct{}

	writeMu sync.Mutex

	// File requests are serial: reqMu is held for the whole round trip.
	reqMu sync.Mutex
	fetch fetchState
	blobs chan blobResult
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for connect and fetch spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// New creates a Client. Unset config fields are filled with defaults.
func New(config *Config, opts ...Option) (*Client, error) {
	if config == nil {
		return nil, errors.New("client: nil config")
	}
	config = config.Clone()
	config.fillDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:  config,
		logger:  slog.Default().With("component", "client"),
		id:      protocol.NewConnID(),
		status:  StatusDisconnected,
		feed:    campaign.NewFeed(config.FeedSize),
		decoder: protocol.NewFrameDecoder(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		blobs:   make(chan blobResult, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = telemetry.Tracer()
	}
	c.logger = c.logger.With("player", config.Username)
	return c, nil
}

// Start dials the server on a background goroutine. It never blocks.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrClientClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.status = StatusConnecting

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// WaitEstablished blocks until the snapshot has been received, the session
// fails, or ctx is done.
func (c *Client) WaitEstablished(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		select {
		case <-c.ready:
			return nil
		default:
		}
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Established reports whether the snapshot has been received and the
// session has not ended.
func (c *Client) Established() bool {
	s := c.Status()
	return s == StatusEstablished || s == StatusRunning
}

// Running reports whether the receive loop is active.
func (c *Client) Running() bool {
	return c.Status() == StatusRunning
}

// Status returns the current lifecycle state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that ended the session, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done returns a channel closed when the session has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Document returns the raw campaign snapshot.
func (c *Client) Document() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.document
}

// Campaign returns the parsed snapshot, or nil when it is not a valid
// campaign document.
func (c *Client) Campaign() *campaign.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// State returns the local position table, or nil before the snapshot.
func (c *Client) State() *campaign.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Updates returns the feed of relayed updates, closed when the session ends.
func (c *Client) Updates() <-chan campaign.Update {
	return c.feed.C()
}

// Player returns the configured player name.
func (c *Client) Player() string {
	return c.config.Username
}

// Close stops the receive loop, closes the socket and waits for the session
// goroutine. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closing = true
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if !started {
		c.status = StatusStopped
		close(c.done)
		c.feed.Close()
	}
	c.mu.Unlock()

	<-c.done
	return nil
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return
	}
	c.status = s
}

// finish records the terminal state. A local Close always wins.
func (c *Client) finish(s Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		s = StatusStopped
		err = nil
	}
	if !c.status.Terminal() {
		c.status = s
		c.err = err
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.feed.Close()

	ctx, span := telemetry.StartSpan(ctx, c.tracer, "dfsync.client.connect", trace.SpanKindClient,
		telemetry.AttrPlayer.String(c.config.Username),
		telemetry.AttrRemote.String(c.config.Address),
		telemetry.AttrSnapshot.String(string(c.config.SnapshotMode)))

	nc, err := c.connect(ctx)
	if err != nil {
		status := StatusFailed
		switch {
		case errors.Is(err, ErrRejected):
			status = StatusRejected
			c.logger.Info("rejected by server", "address", c.config.Address)
		case errors.Is(err, ErrClientClosed):
		default:
			c.logger.Error("connect failed", "address", c.config.Address, "error", err)
		}
		c.finish(status, err)
		telemetry.EndSpan(span, err)
		return
	}
	telemetry.EndSpan(span, nil)
	defer nc.Close()

	c.setStatus(StatusEstablished)
	close(c.ready)
	c.logger.Info("joined campaign", "address", c.config.Address, "bytes", len(c.Document()))

	c.setStatus(StatusRunning)
	err = c.receiveLoop(nc)

	switch {
	case err == nil, errors.Is(err, protocol.ErrPeerClosed):
		c.logger.Info("server closed connection")
		c.finish(StatusDropped, nil)
	default:
		if c.isClosing() {
			c.finish(StatusStopped, nil)
		} else {
			c.logger.Warn("connection lost", "error", err)
			c.finish(StatusDropped, err)
		}
	}
}

func (c *Client) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// connect dials, authenticates and receives the snapshot.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	nc, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		nc.Close()
		return nil, ErrClientClosed
	}
	c.conn = nc
	c.mu.Unlock()

	if err := c.handshake(nc); err != nil {
		nc.Close()
		return nil, err
	}
	return nc, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.config.DialTimeout}

	var nc net.Conn
	attempt := 0
	op := func() error {
		attempt++
		var err error
		nc, err = d.DialContext(ctx, "tcp", c.config.Address)
		if err != nil {
			c.logger.Debug("dial failed", "address", c.config.Address, "attempt", attempt, "error", err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.RetryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.config.DialRetries)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && c.isClosing() {
			return nil, ErrClientClosed
		}
		return nil, fmt.Errorf("client: dial %s: %w", c.config.Address, err)
	}
	return nc, nil
}

func (c *Client) handshake(nc net.Conn) error {
	c.setStatus(StatusAuthenticating)

	creds, err := protocol.EncodeCredentials(protocol.Credentials{
		Username: c.config.Username,
		Password: c.config.Password,
	})
	if err != nil {
		return err
	}
	nc.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if _, err := nc.Write(creds); err != nil {
		return fmt.Errorf("client: send credentials: %w", err)
	}
	c.metrics.BytesSent(len(creds))

	nc.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	data, err := protocol.ReadSnapshot(nc, c.config.SnapshotMode, protocol.MaxSnapshotSize)
	if err != nil {
		if errors.Is(err, protocol.ErrPeerClosed) {
			return ErrRejected
		}
		if c.isClosing() {
			return ErrClientClosed
		}
		return fmt.Errorf("client: receive snapshot: %w", err)
	}
	nc.SetReadDeadline(time.Time{})
	c.metrics.BytesReceived(len(data))
	c.metrics.Snapshot(len(data))

	if err := c.saveDocument(data); err != nil {
		return err
	}
	return nil
}

// saveDocument keeps the snapshot, writes it to DocumentPath and builds the
// local State from its roster. A snapshot with no readable roster gets an
// open State, since the server already checked every relayed player.
func (c *Client) saveDocument(data []byte) error {
	if p := c.config.DocumentPath; p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("client: save document: %w", err)
		}
		if err := os.WriteFile(p, data, 0644); err != nil {
			return fmt.Errorf("client: save document: %w", err)
		}
	}

	doc, err := campaign.ParseDocument(data)
	var state *campaign.State
	switch {
	case err != nil:
		c.logger.Debug("snapshot is not a campaign document", "error", err)
		state = campaign.NewOpenState()
	case len(doc.Roster()) == 0:
		state = campaign.NewOpenState()
	default:
		state = campaign.NewState(doc.Roster())
	}

	c.mu.Lock()
	c.document = data
	c.doc = doc
	c.state = state
	c.mu.Unlock()
	return nil
}

// downloads returns the writer for fetched assets, or nil when disabled.
func (c *Client) downloads() (*assets.DirStore, error) {
	if c.config.DownloadDir == "" {
		return nil, nil
	}
	return assets.NewDirStore(c.config.DownloadDir, 0)
}

var _ io.Closer = (*Client)(nil)
