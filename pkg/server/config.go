package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

// DefaultPort is the TCP port the server listens on.
const DefaultPort = 9191

// Config holds configuration for the sync server.
type Config struct {
	// Address is the address to listen on.
	// Default: "0.0.0.0:9191".
	Address string

	// Timeouts

	// PollInterval bounds how long the event loop waits before checking
	// whether the server is still running.
	// Default: 500 milliseconds.
	PollInterval time.Duration

	// HandshakeTimeout is the maximum time to wait for the credential message
	// and to send the snapshot.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout is the maximum time to wait when writing to a client.
	// A client that does not drain its socket in time is disconnected.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// Protocol

	// SnapshotMode selects how the campaign document is framed on join.
	// Default: protocol.SnapshotLengthPrefixed.
	SnapshotMode protocol.SnapshotMode

	// AuthorizeMoves restricts each client to updating its own player.
	// Default: false, any client may move any player.
	AuthorizeMoves bool

	// FeedSize is the buffer of the applied-update feed.
	// Default: 256.
	FeedSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:          net.JoinHostPort("0.0.0.0", strconv.Itoa(DefaultPort)),
		PollInterval:     500 * time.Millisecond,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		SnapshotMode:     protocol.SnapshotLengthPrefixed,
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

// fillDefaults sets unset fields from DefaultConfig.
func (c *Config) fillDefaults() {
	defaults := DefaultConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.SnapshotMode == "" {
		c.SnapshotMode = defaults.SnapshotMode
	}
	if c.FeedSize <= 0 {
		c.FeedSize = defaults.FeedSize
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("server: invalid address %q: %w", c.Address, err)
	}
	if !c.SnapshotMode.Valid() {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownSnapshotMode, c.SnapshotMode)
	}
	return nil
}
