package campaign

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

// UpdateKind distinguishes position and index updates.
type UpdateKind uint8

const (
	UpdatePosition UpdateKind = iota + 1
	UpdateIndex
)

// String returns the wire command of the kind.
func (k UpdateKind) String() string {
	switch k {
	case UpdatePosition:
		return protocol.CommandPosition.String()
	case UpdateIndex:
		return protocol.CommandIndex.String()
	default:
		return fmt.Sprintf("UpdateKind(%d)", k)
	}
}

// Update is one applied position or index change.
type Update struct {
	Kind     UpdateKind      `json:"-"`
	Player   string          `json:"player"`
	Position protocol.Point  `json:"position"`
	Index    protocol.Cell   `json:"index"`
	From     protocol.ConnID `json:"-"`
	At       time.Time       `json:"at"`
}

// UpdateFromMessage converts a parsed POS or INDEX message.
func UpdateFromMessage(m protocol.Message) (Update, error) {
	u := Update{Player: m.Player, At: time.Now()}
	switch m.Command {
	case protocol.CommandPosition:
		p, err := m.Point()
		if err != nil {
			return Update{}, err
		}
		u.Kind, u.Position = UpdatePosition, p
	case protocol.CommandIndex:
		c, err := m.Cell()
		if err != nil {
			return Update{}, err
		}
		u.Kind, u.Index = UpdateIndex, c
	default:
		return Update{}, fmt.Errorf("%w: %s is not an update", protocol.ErrUnknownCommand, m.Command)
	}
	return u, nil
}

// Message encodes u as a framed message body.
func (u Update) Message() (string, error) {
	switch u.Kind {
	case UpdatePosition:
		return protocol.PositionMessage(u.Player, u.Position)
	case UpdateIndex:
		return protocol.IndexMessage(u.Player, u.Index)
	default:
		return "", fmt.Errorf("campaign: unknown update kind %d", u.Kind)
	}
}

// DefaultFeedSize is the buffer used when NewFeed is given a non-positive size.
const DefaultFeedSize = 256

// Feed hands applied updates from the network loop to a consumer. Publish
// never blocks: when the buffer is full the update is counted and dropped,
// and the consumer reads current values from State instead.
type Feed struct {
	ch      chan Update
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewFeed creates a feed buffering up to size updates.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{ch: make(chan Update, size)}
}

// Publish offers u to the consumer. It reports whether u was queued.
func (f *Feed) Publish(u Update) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- u:
		return true
	default:
		f.dropped.Add(1)
		return false
	}
}

// C returns the receive side of the feed. It is closed by Close.
func (f *Feed) C() <-chan Update {
	return f.ch
}

// Dropped returns the number of updates discarded on a full buffer.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// Close closes the feed. Later publishes are discarded.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}
