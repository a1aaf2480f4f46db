package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

// DefaultAddress is the server address used when none is configured.
const DefaultAddress = "127.0.0.1:9191"

// Config holds configuration for a sync client.
type Config struct {
	// Address is the server host:port.
	// Default: "127.0.0.1:9191".
	Address string

	// Username is the player name presented to the server. Required.
	Username string

	// Password is sent with the username. The server does not verify it.
	Password string

	// SnapshotMode must match the server.
	// Default: protocol.SnapshotLengthPrefixed.
	SnapshotMode protocol.SnapshotMode

	// DocumentPath is where the received campaign document is written.
	// Empty keeps the document in memory only.
	DocumentPath string

	// DownloadDir receives fetched assets. Empty disables writing them.
	DownloadDir string

	// Timeouts

	// DialTimeout bounds each connection attempt.
	// Default: 5 seconds.
	DialTimeout time.Duration

	// HandshakeTimeout bounds reading the snapshot after credentials are sent.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// Retries

	// DialRetries is the number of extra dial attempts, with exponential
	// backoff, before Start gives up. It only covers the initial connect.
	// Default: 0.
	DialRetries int

	// RetryInterval is the first backoff interval.
	// Default: 250 milliseconds.
	RetryInterval time.Duration

	// FeedSize is the buffer of the relayed-update feed.
	// Default: 256.
	FeedSize int
}

// DefaultConfig returns a Config with sensible defaults. Username must still
// be set.
func DefaultConfig() *Config {
	return &Config{
		Address:          DefaultAddress,
		SnapshotMode:     protocol.SnapshotLengthPrefixed,
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		RetryInterval:    250 * time.Millisecond,
		FeedSize:         256,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

func (c *Config) fillDefaults() {
	defaults := DefaultConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.SnapshotMode == "" {
		c.SnapshotMode = defaults.SnapshotMode
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaults.RetryInterval
	}
	if c.FeedSize <= 0 {
		c.FeedSize = defaults.FeedSize
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("client: invalid address %q: %w", c.Address, err)
	}
	if _, err := protocol.EncodeCredentials(protocol.Credentials{Username: c.Username, Password: c.Password}); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if !c.SnapshotMode.Valid() {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownSnapshotMode, c.SnapshotMode)
	}
	if c.DialRetries < 0 {
		return errors.New("client: negative dial retries")
	}
	return nil
}
