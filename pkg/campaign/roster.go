package campaign

import "fmt"

// Roster is the ordered party of a campaign. Player names are the only
// credential a connecting client presents.
type Roster []Player

// NewRoster builds a roster from bare names.
func NewRoster(names ...string) Roster {
	r := make(Roster, 0, len(names))
	for _, n := range names {
		r = append(r, Player{Name: n})
	}
	return r
}

// Names returns the player names in roster order.
func (r Roster) Names() []string {
	names := make([]string, 0, len(r))
	for _, p := range r {
		names = append(names, p.Name)
	}
	return names
}

// Contains reports whether a player with the given name is in the roster.
func (r Roster) Contains(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Lookup returns the player with the given name.
func (r Roster) Lookup(name string) (Player, bool) {
	if name == "" {
		return Player{}, false
	}
	for _, p := range r {
		if p.Name == name {
			return p, true
		}
	}
	return Player{}, false
}

// Validate checks that names are present and unique.
func (r Roster) Validate() error {
	seen := make(map[string]struct{}, len(r))
	for i, p := range r {
		if p.Name == "" {
			return fmt.Errorf("campaign: party member %d has no name", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicatePlayer, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
