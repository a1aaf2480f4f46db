// Package checkpoint keeps the last known position of every player in a
// BoltDB file so a restarted server resumes with the table it had.
//
// Only the latest value per player is stored; message history is not.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

const (
	positionBucket = "positions"
	indexBucket    = "indices"
)

// ErrNotConfigured is returned by methods on a nil or closed Store.
var ErrNotConfigured = errors.New("checkpoint: store is not configured")

// Store is a BoltDB-backed position checkpoint.
type Store struct {
	db *bbolt.DB
}

type positionRecord struct {
	Point protocol.Point `json:"point"`
	At    time.Time      `json:"at"`
}

type indexRecord struct {
	Cell protocol.Cell `json:"cell"`
	At   time.Time     `json:"at"`
}

// Open opens or creates the checkpoint file at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("checkpoint: path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Record stores u as the latest value for its player.
func (s *Store) Record(ctx context.Context, u campaign.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}

	at := u.At
	if at.IsZero() {
		at = time.Now()
	}

	var bucket string
	var payload []byte
	var err error
	switch u.Kind {
	case campaign.UpdatePosition:
		bucket = positionBucket
		payload, err = json.Marshal(positionRecord{Point: u.Position, At: at.UTC()})
	case campaign.UpdateIndex:
		bucket = indexBucket
		payload, err = json.Marshal(indexRecord{Cell: u.Index, At: at.UTC()})
	default:
		return fmt.Errorf("checkpoint: unknown update kind %d", u.Kind)
	}
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("checkpoint: %s bucket is missing", bucket)
		}
		return b.Put([]byte(u.Player), payload)
	})
}

// Load returns everything stored.
func (s *Store) Load(ctx context.Context) (campaign.View, error) {
	view := campaign.View{
		Positions: make(map[string]protocol.Point),
		Indices:   make(map[string]protocol.Cell),
	}
	if err := ctx.Err(); err != nil {
		return view, err
	}
	if s == nil || s.db == nil {
		return view, ErrNotConfigured
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(positionBucket)).ForEach(func(k, v []byte) error {
			var rec positionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("checkpoint: position %q: %w", k, err)
			}
			view.Positions[string(k)] = rec.Point
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket([]byte(indexBucket)).ForEach(func(k, v []byte) error {
			var rec indexRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("checkpoint: index %q: %w", k, err)
			}
			view.Indices[string(k)] = rec.Cell
			return nil
		})
	})
	return view, err
}

// Restore applies the stored values to state and returns how many were
// applied. Players no longer in the roster are skipped.
func (s *Store) Restore(ctx context.Context, state *campaign.State) (int, error) {
	view, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for player, p := range view.Positions {
		if state.ApplyPosition(player, p) == nil {
			n++
		}
	}
	for player, c := range view.Indices {
		if state.ApplyIndex(player, c) == nil {
			n++
		}
	}
	return n, nil
}

// Forget removes every value stored for player.
func (s *Store) Forget(ctx context.Context, player string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{positionBucket, indexBucket} {
			if err := tx.Bucket([]byte(name)).Delete([]byte(player)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{positionBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("checkpoint: create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}
