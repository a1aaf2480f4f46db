package campaign

import (
	"fmt"
	"os"
	"sync"
)

// Source provides the campaign document served to joining clients.
type Source interface {
	// Roster returns the players allowed to join.
	Roster() Roster

	// Snapshot returns the raw document bytes sent after authentication.
	Snapshot() ([]byte, error)
}

// FileSource serves a campaign document from disk. The roster is fixed at load
// time; the snapshot is re-read on every call so a saved campaign is picked up
// by the next joining client.
type FileSource struct {
	path string

	mu  sync.RWMutex
	doc *Document
}

// OpenFile loads and validates the campaign at path.
func OpenFile(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the campaign file path.
func (s *FileSource) Path() string {
	return s.path
}

// Reload re-parses the file and replaces the roster.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("campaign: read %s: %w", s.path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return fmt.Errorf("campaign: %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// Document returns the last loaded document.
func (s *FileSource) Document() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

func (s *FileSource) Roster() Roster {
	return s.Document().Roster()
}

func (s *FileSource) Snapshot() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("campaign: read %s: %w", s.path, err)
	}
	return data, nil
}

type staticSource struct {
	data   []byte
	roster Roster
}

// NewStaticSource returns a Source serving fixed bytes with the given roster.
// The bytes need not be a parseable document.
func NewStaticSource(data []byte, roster Roster) Source {
	return &staticSource{data: data, roster: roster}
}

func (s *staticSource) Roster() Roster { return s.roster }

func (s *staticSource) Snapshot() ([]byte, error) {
	return s.data, nil
}
