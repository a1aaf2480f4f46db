package campaign

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

// Document errors.
var (
	// ErrInvalidDocument is returned when the campaign document is not valid JSON.
	ErrInvalidDocument = errors.New("campaign: invalid document")

	// ErrDuplicatePlayer is returned when two party members share a name.
	ErrDuplicatePlayer = errors.New("campaign: duplicate player name")
)

// Document is the subset of the campaign file the sync core reads. The rest of
// the file is carried opaquely in the snapshot.
type Document struct {
	Name            string              `json:"name"`
	Position        Coord               `json:"position"`
	CurrentLocation string              `json:"current_location"`
	Party           []Player            `json:"party"`
	Locations       map[string]Location `json:"locations"`
}

// Player is one party member.
type Player struct {
	Name     string `json:"name"`
	Class    string `json:"class,omitempty"`
	Race     string `json:"race,omitempty"`
	Level    int    `json:"level,omitempty"`
	Position Coord  `json:"position"`
	Image    string `json:"image,omitempty"`
}

// Location is a named place with its own map.
type Location struct {
	Parent      string   `json:"parent,omitempty"`
	Map         MapRef   `json:"map"`
	Music       []string `json:"music,omitempty"`
	CombatMusic []string `json:"combat_music,omitempty"`
}

// MapRef points at the map image of a location.
type MapRef struct {
	MapFile  string  `json:"map_file"`
	Zoom     float64 `json:"zoom,omitempty"`
	Hidden   bool    `json:"hidden,omitempty"`
	GridType string  `json:"grid_type,omitempty"`
}

// Coord is a position stored either as a JSON array [x, y] or as a tuple
// literal string "(x, y)". Missing values decode as the origin.
type Coord protocol.Point

// UnmarshalJSON implements json.Unmarshaler.
func (c *Coord) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Coord{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		p, err := protocol.ParsePoint(s)
		if err != nil {
			return fmt.Errorf("campaign: position %q: %w", s, err)
		}
		*c = Coord(p)
		return nil
	}

	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("campaign: position: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("campaign: position has %d components", len(pair))
	}
	*c = Coord{X: pair[0], Y: pair[1]}
	return nil
}

// Point returns c as a protocol point.
func (c Coord) Point() protocol.Point {
	return protocol.Point(c)
}

// ParseDocument parses a campaign document and validates the party roster.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Roster().Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Roster returns the party roster in document order.
func (d *Document) Roster() Roster {
	return Roster(d.Party)
}

// Assets returns the sorted, de-duplicated relative paths of every file the
// document references: map images, music and player images.
func (d *Document) Assets() []string {
	seen := make(map[string]struct{})
	add := func(p string) {
		if p != "" {
			seen[p] = struct{}{}
		}
	}

	for _, loc := range d.Locations {
		add(loc.Map.MapFile)
		for _, m := range loc.Music {
			add(m)
		}
		for _, m := range loc.CombatMusic {
			add(m)
		}
	}
	for _, p := range d.Party {
		add(p.Image)
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
