package campaign

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

const sampleDoc = `{
  "name": "Lost Mine",
  "position": "(0, 0)",
  "current_location": "Phandalin",
  "party": [
    {"name": "Alice", "class": "Wizard", "race": "Elf", "level": 3, "position": [1, 2], "image": "icons/alice.png"},
    {"name": "Bob", "position": "(4.5, 6)"}
  ],
  "locations": {
    "Phandalin": {
      "map": {"map_file": "maps/phandalin.png", "zoom": 1.5},
      "music": ["music/town.mp3"],
      "combat_music": ["music/fight.mp3", "music/town.mp3"]
    },
    "Cragmaw": {
      "parent": "Phandalin",
      "map": {"map_file": "maps/cragmaw.png", "hidden": true}
    }
  }
}`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}

	if got := doc.Roster().Names(); !reflect.DeepEqual(got, []string{"Alice", "Bob"}) {
		t.Errorf("Names() = %v", got)
	}
	if p := doc.Party[0].Position.Point(); p != (protocol.Point{X: 1, Y: 2}) {
		t.Errorf("array position = %+v", p)
	}
	if p := doc.Party[1].Position.Point(); p != (protocol.Point{X: 4.5, Y: 6}) {
		t.Errorf("string position = %+v", p)
	}

	want := []string{
		"icons/alice.png",
		"maps/cragmaw.png",
		"maps/phandalin.png",
		"music/fight.mp3",
		"music/town.mp3",
	}
	if got := doc.Assets(); !reflect.DeepEqual(got, want) {
		t.Errorf("Assets() = %v, want %v", got, want)
	}
}

func TestParseDocumentErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{name: "not_json", in: "campaign", want: ErrInvalidDocument},
		{name: "duplicate", in: `{"party":[{"name":"A"},{"name":"A"}]}`, want: ErrDuplicatePlayer},
		{name: "bad_position", in: `{"party":[{"name":"A","position":"(1)"}]}`, want: ErrInvalidDocument},
		{name: "three_component", in: `{"party":[{"name":"A","position":[1,2,3]}]}`, want: ErrInvalidDocument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDocument([]byte(tc.in)); !errors.Is(err, tc.want) {
				t.Errorf("ParseDocument() error = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := ParseDocument([]byte(`{"party":[{"name":""}]}`)); err == nil {
		t.Error("expected error for unnamed player")
	}
}

func TestRoster(t *testing.T) {
	r := NewRoster("Alice", "Bob")
	if !r.Contains("Alice") || r.Contains("Mallory") || r.Contains("") {
		t.Error("Contains() mismatch")
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := NewRoster("A", "A").Validate(); !errors.Is(err, ErrDuplicatePlayer) {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestStateApply(t *testing.T) {
	s := NewState(NewRoster("Alice", "Bob"))

	if err := s.ApplyPosition("Alice", protocol.Point{X: 3, Y: 4}); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyIndex("Bob", protocol.Cell{X: 2, Y: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyPosition("Mallory", protocol.Point{}); !errors.Is(err, ErrUnknownPlayer) {
		t.Errorf("unknown player: error = %v", err)
	}

	if p, _ := s.Position("Alice"); p != (protocol.Point{X: 3, Y: 4}) {
		t.Errorf("Position(Alice) = %+v", p)
	}
	if _, ok := s.Index("Alice"); ok {
		t.Error("Alice has no index yet")
	}
	if _, ok := s.Position("Mallory"); ok {
		t.Error("Mallory has no position")
	}

	view := s.View()
	view.Positions["Alice"] = protocol.Point{}
	if p, _ := s.Position("Alice"); p == (protocol.Point{}) {
		t.Error("View() shares the live map")
	}
	if view.Indices["Bob"] != (protocol.Cell{X: 2, Y: 2}) {
		t.Errorf("View().Indices = %v", view.Indices)
	}
}

func TestOpenState(t *testing.T) {
	s := NewOpenState()

	if err := s.ApplyPosition("Zed", protocol.Point{X: 1, Y: 1}); err != nil {
		t.Fatalf("ApplyPosition() error = %v", err)
	}
	if err := s.Apply(Update{Kind: UpdateIndex, Player: "Alice", Index: protocol.Cell{X: 2, Y: 3}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if c, ok := s.Index("Alice"); !ok || c != (protocol.Cell{X: 2, Y: 3}) {
		t.Errorf("Index(Alice) = %+v, %v", c, ok)
	}
	if got := s.Players(); len(got) != 2 || got[0] != "Alice" || got[1] != "Zed" {
		t.Errorf("Players() = %v", got)
	}
	if got := NewState(NewRoster("Bob", "Alice")).Players(); got[0] != "Bob" {
		t.Errorf("roster Players() = %v, want roster order", got)
	}
}

func TestStateConcurrent(t *testing.T) {
	s := NewState(NewRoster("Alice"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.ApplyPosition("Alice", protocol.Point{X: float64(i), Y: float64(j)})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.View()
			}
		}()
	}
	wg.Wait()
}

func TestUpdateFromMessage(t *testing.T) {
	m, err := protocol.ParseMessage("POS:Alice:(3.0, 4.0)")
	if err != nil {
		t.Fatal(err)
	}
	u, err := UpdateFromMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if u.Kind != UpdatePosition || u.Player != "Alice" || u.Position != (protocol.Point{X: 3, Y: 4}) {
		t.Errorf("UpdateFromMessage() = %+v", u)
	}
	if msg, _ := u.Message(); msg != "POS:Alice:(3.0, 4.0)" {
		t.Errorf("Message() = %q", msg)
	}

	m, _ = protocol.ParseMessage("INDEX:Bob:(2,2)")
	u, err = UpdateFromMessage(m)
	if err != nil || u.Kind != UpdateIndex || u.Index != (protocol.Cell{X: 2, Y: 2}) {
		t.Errorf("UpdateFromMessage(INDEX) = %+v, %v", u, err)
	}

	m, _ = protocol.ParseMessage("FILE:maps/a.png")
	if _, err := UpdateFromMessage(m); err == nil {
		t.Error("FILE is not an update")
	}
}

func TestFeed(t *testing.T) {
	f := NewFeed(2)
	for i := 0; i < 3; i++ {
		f.Publish(Update{Kind: UpdatePosition, Player: "Alice"})
	}
	if f.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", f.Dropped())
	}
	<-f.C()
	<-f.C()

	f.Close()
	f.Close()
	if f.Publish(Update{}) {
		t.Error("Publish() after Close() queued an update")
	}
	if _, ok := <-f.C(); ok {
		t.Error("feed channel not closed")
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.json")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if !src.Roster().Contains("Bob") {
		t.Error("roster missing Bob")
	}

	updated := []byte(`{"party":[{"name":"Carol"}]}`)
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := src.Snapshot()
	if err != nil || string(data) != string(updated) {
		t.Errorf("Snapshot() = %q, %v", data, err)
	}
	if src.Roster().Contains("Carol") {
		t.Error("roster changed before Reload()")
	}
	if err := src.Reload(); err != nil {
		t.Fatal(err)
	}
	if !src.Roster().Contains("Carol") {
		t.Error("roster not reloaded")
	}

	if _, err := OpenFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource([]byte("0123456789"), NewRoster("Alice"))
	data, err := src.Snapshot()
	if err != nil || len(data) != 10 {
		t.Errorf("Snapshot() = %q, %v", data, err)
	}
	if !src.Roster().Contains("Alice") {
		t.Error("roster missing Alice")
	}
}
