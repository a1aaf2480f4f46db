package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ManifestFile is the manifest name used inside a download directory.
const ManifestFile = ".dfsync-manifest.json"

// Entry describes one fetched asset.
type Entry struct {
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Manifest records the assets fetched into a download directory, keyed by
// relative path. It is safe for concurrent use.
//
// The manifest file is JSON:
//
//	{
//	  "maps/phandalin.png": {"size": 52311, "sha256": "9f2c...", "fetched_at": "..."}
//	}
type Manifest struct {
	entries map[string]Entry
	mu      sync.RWMutex
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		entries: make(map[string]Entry),
	}
}

// LoadManifest reads a manifest file. A missing file yields an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewManifest(), nil
		}
		return nil, err
	}

	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return &Manifest{entries: entries}, nil
}

// Save writes the manifest to path.
func (m *Manifest) Save(path string) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.entries, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Record adds or replaces the entry for p from the fetched contents.
func (m *Manifest) Record(p string, data []byte) Entry {
	sum := sha256.Sum256(data)
	e := Entry{
		Size:      int64(len(data)),
		SHA256:    hex.EncodeToString(sum[:]),
		FetchedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[p] = e
	return e
}

// Get returns the entry for p.
func (m *Manifest) Get(p string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[p]
	return e, ok
}

// Has returns true if the manifest contains p.
func (m *Manifest) Has(p string) bool {
	_, ok := m.Get(p)
	return ok
}

// Matches reports whether data is the recorded content of p.
func (m *Manifest) Matches(p string, data []byte) bool {
	e, ok := m.Get(p)
	if !ok || e.Size != int64(len(data)) {
		return false
	}
	sum := sha256.Sum256(data)
	return e.SHA256 == hex.EncodeToString(sum[:])
}

// Len returns the number of entries in the manifest.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// Paths returns the recorded paths in sorted order.
func (m *Manifest) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.entries))
	for p := range m.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
