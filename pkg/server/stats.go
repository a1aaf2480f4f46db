package server

import (
	"sync/atomic"
	"time"
)

// Stats aggregates counters across the server.
type Stats struct {
	// Connections
	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	Rejected          int64 `json:"rejected"`

	// Messages
	MessagesReceived int64 `json:"messages_received"`
	MessagesRelayed  int64 `json:"messages_relayed"`
	MessagesDropped  int64 `json:"messages_dropped"`

	// Files
	FilesServed int64 `json:"files_served"`
	FilesMissed int64 `json:"files_missed"`

	// Feed
	FeedDropped uint64 `json:"feed_dropped"`

	// Timestamp
	CollectedAt time.Time `json:"collected_at"`
}

type counters struct {
	active   atomic.Int64
	total    atomic.Int64
	rejected atomic.Int64
	received atomic.Int64
	relayed  atomic.Int64
	dropped  atomic.Int64
	served   atomic.Int64
	missed   atomic.Int64
}

// Stats collects and returns server counters.
func (s *Server) Stats() *Stats {
	return &Stats{
		ActiveConnections: s.stats.active.Load(),
		TotalConnections:  s.stats.total.Load(),
		Rejected:          s.stats.rejected.Load(),
		MessagesReceived:  s.stats.received.Load(),
		MessagesRelayed:   s.stats.relayed.Load(),
		MessagesDropped:   s.stats.dropped.Load(),
		FilesServed:       s.stats.served.Load(),
		FilesMissed:       s.stats.missed.Load(),
		FeedDropped:       s.feed.Dropped(),
		CollectedAt:       time.Now(),
	}
}
