package campaign

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

// ErrUnknownPlayer is returned when an update names a player outside the roster.
var ErrUnknownPlayer = errors.New("campaign: unknown player")

// State is the live position table shared between the network loop and any
// reader such as the UI or the dashboard. It is safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	roster    Roster
	open      bool
	positions map[string]protocol.Point
	indices   map[string]protocol.Cell
}

// View is a point-in-time copy of a State.
type View struct {
	Positions map[string]protocol.Point `json:"positions"`
	Indices   map[string]protocol.Cell  `json:"indices"`
}

// NewState creates a State seeded with the roster's stored positions.
func NewState(roster Roster) *State {
	s := &State{
		roster:    roster,
		positions: make(map[string]protocol.Point, len(roster)),
		indices:   make(map[string]protocol.Cell, len(roster)),
	}
	for _, p := range roster {
		s.positions[p.Name] = p.Position.Point()
	}
	return s
}

// NewOpenState creates a State that accepts updates for any player. Clients
// use it when the snapshot carries no readable roster.
func NewOpenState() *State {
	return &State{
		open:      true,
		positions: make(map[string]protocol.Point),
		indices:   make(map[string]protocol.Cell),
	}
}

// Roster returns the roster the state was created with.
func (s *State) Roster() Roster {
	return s.roster
}

// ApplyPosition records a map position for player.
func (s *State) ApplyPosition(player string, p protocol.Point) error {
	if err := s.check(player); err != nil {
		return err
	}
	s.mu.Lock()
	s.positions[player] = p
	s.mu.Unlock()
	return nil
}

// ApplyIndex records a grid index for player.
func (s *State) ApplyIndex(player string, c protocol.Cell) error {
	if err := s.check(player); err != nil {
		return err
	}
	s.mu.Lock()
	s.indices[player] = c
	s.mu.Unlock()
	return nil
}

func (s *State) check(player string) error {
	if s.open || s.roster.Contains(player) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownPlayer, player)
}

// Players returns the roster names, or for an open state the sorted names of
// every player seen so far.
func (s *State) Players() []string {
	if !s.open {
		return s.roster.Names()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := slices.Collect(maps.Keys(s.positions))
	for name := range s.indices {
		if _, ok := s.positions[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Apply records u in the table.
func (s *State) Apply(u Update) error {
	switch u.Kind {
	case UpdatePosition:
		return s.ApplyPosition(u.Player, u.Position)
	case UpdateIndex:
		return s.ApplyIndex(u.Player, u.Index)
	default:
		return fmt.Errorf("campaign: unknown update kind %d", u.Kind)
	}
}

// Position returns the last known map position of player.
func (s *State) Position(player string) (protocol.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[player]
	return p, ok
}

// Index returns the last known grid index of player. Players that have not
// reported an index yet have none.
func (s *State) Index(player string) (protocol.Cell, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.indices[player]
	return c, ok
}

// View returns a copy of the table.
func (s *State) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Positions: maps.Clone(s.positions),
		Indices:   maps.Clone(s.indices),
	}
}
