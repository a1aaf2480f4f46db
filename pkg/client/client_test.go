package client

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dungeonfaster/dfsync/pkg/assets"
	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
	"github.com/dungeonfaster/dfsync/pkg/server"
	"github.com/dungeonfaster/dfsync/pkg/telemetry"
)

const testDoc = `{
  "name": "Lost Mine",
  "party": [
    {"name": "Alice", "position": [1, 2], "image": "icons/alice.png"},
    {"name": "Bob", "position": "(3, 4)"}
  ],
  "locations": {
    "Phandalin": {"map": {"map_file": "maps/phandalin.png"}, "music": ["music/town.mp3"]}
  }
}`

func startServer(t *testing.T, store assets.Store) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.PollInterval = 20 * time.Millisecond
	cfg.HandshakeTimeout = 2 * time.Second

	doc, err := campaign.ParseDocument([]byte(testDoc))
	if err != nil {
		t.Fatal(err)
	}
	opts := []server.Option{
		server.WithMetrics(telemetry.NewMetrics(telemetry.WithRegistry(prometheus.NewRegistry()))),
	}
	if store != nil {
		opts = append(opts, server.WithAssets(store))
	}
	srv, err := server.New(cfg, campaign.NewStaticSource([]byte(testDoc), doc.Roster()), opts...)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func newClient(t *testing.T, addr, user string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.Username = user
	cfg.Password = "password"
	cfg.HandshakeTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	c, err := New(cfg, WithMetrics(telemetry.NewMetrics(telemetry.WithRegistry(prometheus.NewRegistry()))))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func joinClient(t *testing.T, srv *server.Server, user string, mutate func(*Config)) *Client {
	t.Helper()
	c := newClient(t, srv.Addr().String(), user, mutate)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.WaitEstablished(ctx); err != nil {
		t.Fatalf("%s: WaitEstablished() error = %v", user, err)
	}
	waitFor(t, func() bool {
		for _, info := range srv.Connections() {
			if info.Player == user {
				return true
			}
		}
		return false
	})
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func waitDone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session still running, status %s", c.Status())
	}
}

func TestJoin(t *testing.T) {
	srv := startServer(t, nil)
	docPath := filepath.Join(t.TempDir(), "campaign", "party.json")
	c := joinClient(t, srv, "Alice", func(cfg *Config) { cfg.DocumentPath = docPath })

	if !c.Established() {
		t.Errorf("Established() = false, status %s", c.Status())
	}
	if string(c.Document()) != testDoc {
		t.Errorf("Document() = %q", c.Document())
	}
	saved, err := os.ReadFile(docPath)
	if err != nil || string(saved) != testDoc {
		t.Errorf("saved document = %q, %v", saved, err)
	}
	if c.Campaign() == nil || c.Campaign().Name != "Lost Mine" {
		t.Errorf("Campaign() = %+v", c.Campaign())
	}
	if p, ok := c.State().Position("Bob"); !ok || p != (protocol.Point{X: 3, Y: 4}) {
		t.Errorf("Position(Bob) = %+v, %v", p, ok)
	}
	waitFor(t, c.Running)
}

func TestRejected(t *testing.T) {
	srv := startServer(t, nil)
	c := newClient(t, srv.Addr().String(), "Mallory", nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := c.WaitEstablished(context.Background())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("WaitEstablished() error = %v, want ErrRejected", err)
	}
	if c.Status() != StatusRejected {
		t.Errorf("Status() = %s", c.Status())
	}
	if err := c.SendUpdate("POS:Mallory:(1, 1)"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendUpdate() error = %v", err)
	}
}

func TestRelayWithOpaqueDocument(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.PollInterval = 20 * time.Millisecond
	srv, err := server.New(cfg, campaign.NewStaticSource([]byte("0123456789"), campaign.NewRoster("Alice", "Bob")))
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)

	alice := joinClient(t, srv, "Alice", nil)
	bob := joinClient(t, srv, "Bob", nil)
	if string(bob.Document()) != "0123456789" || bob.Campaign() != nil {
		t.Fatalf("Document() = %q, Campaign() = %+v", bob.Document(), bob.Campaign())
	}

	if err := alice.SendUpdate("POS:Alice:(3.0, 4.0)"); err != nil {
		t.Fatalf("SendUpdate() error = %v", err)
	}
	select {
	case u := <-bob.Updates():
		if u.Player != "Alice" || u.Position != (protocol.Point{X: 3, Y: 4}) {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Bob observed no update for Alice")
	}
	if p, ok := bob.State().Position("Alice"); !ok || p != (protocol.Point{X: 3, Y: 4}) {
		t.Errorf("Position(Alice) = %+v, %v", p, ok)
	}
	if got := bob.State().Players(); len(got) != 1 || got[0] != "Alice" {
		t.Errorf("Players() = %v", got)
	}
	select {
	case u := <-alice.Updates():
		t.Errorf("Alice observed her own move: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayAppliedToState(t *testing.T) {
	srv := startServer(t, nil)
	alice := joinClient(t, srv, "Alice", nil)
	bob := joinClient(t, srv, "Bob", nil)

	if err := bob.SendPosition("Bob", protocol.Point{X: 7, Y: 8}); err != nil {
		t.Fatalf("SendPosition() error = %v", err)
	}

	select {
	case u := <-alice.Updates():
		if u.Kind != campaign.UpdatePosition || u.Player != "Bob" || u.Position != (protocol.Point{X: 7, Y: 8}) {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update on Alice's feed")
	}
	if p, _ := alice.State().Position("Bob"); p != (protocol.Point{X: 7, Y: 8}) {
		t.Errorf("Alice sees Bob at %+v", p)
	}

	// Updates naming the receiving player are ignored.
	if err := bob.SendIndex("Alice", protocol.Cell{X: 2, Y: 5}); err != nil {
		t.Fatal(err)
	}
	if err := bob.SendIndex("Bob", protocol.Cell{X: 9, Y: 9}); err != nil {
		t.Fatal(err)
	}
	select {
	case u := <-alice.Updates():
		if u.Player != "Bob" || u.Index != (protocol.Cell{X: 9, Y: 9}) {
			t.Errorf("update = %+v, want Bob's index", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no index update on Alice's feed")
	}
	if cell, ok := alice.State().Index("Alice"); ok {
		t.Errorf("own index applied: %+v", cell)
	}
}

func TestSendUpdateReachesPeer(t *testing.T) {
	srv := startServer(t, nil)
	alice := joinClient(t, srv, "Alice", nil)

	if err := alice.SendUpdate("POS:Alice:(10, 20)"); err != nil {
		t.Fatalf("SendUpdate() error = %v", err)
	}
	waitFor(t, func() bool {
		p, _ := srv.State().Position("Alice")
		return p == protocol.Point{X: 10, Y: 20}
	})

	if err := alice.SendUpdate("POS:Alice|(1, 1)"); !errors.Is(err, protocol.ErrDelimiterInPayload) {
		t.Errorf("SendUpdate(with delimiter) error = %v", err)
	}
}

func serverAssets(t *testing.T) *assets.DirStore {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"maps/phandalin.png": "PNG-phandalin",
		"icons/alice.png":    "PNG-alice",
	} {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := assets.NewDirStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestRequestFile(t *testing.T) {
	srv := startServer(t, serverAssets(t))
	alice := joinClient(t, srv, "Alice", nil)
	ctx := context.Background()

	data, err := alice.RequestFile(ctx, "maps/phandalin.png")
	if err != nil || string(data) != "PNG-phandalin" {
		t.Fatalf("RequestFile() = %q, %v", data, err)
	}

	_, err = alice.RequestFile(ctx, "music/town.mp3")
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("missing file error = %v", err)
	}
	var fe *FileError
	if !errors.As(err, &fe) || fe.Path != "music/town.mp3" {
		t.Errorf("FileError = %+v", fe)
	}

	// The session survives a miss.
	if _, err := alice.RequestFile(ctx, "icons/alice.png"); err != nil {
		t.Errorf("RequestFile after miss: %v", err)
	}
}

func TestRequestFilesWritesDownloads(t *testing.T) {
	srv := startServer(t, serverAssets(t))
	dl := t.TempDir()
	alice := joinClient(t, srv, "Alice", func(cfg *Config) { cfg.DownloadDir = dl })

	results, err := alice.FetchAssets(context.Background())
	if err != nil {
		t.Fatalf("FetchAssets() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %+v", results)
	}
	byPath := make(map[string]FileResult)
	for _, r := range results {
		byPath[r.Path] = r
	}
	if r := byPath["music/town.mp3"]; !errors.Is(r.Err, ErrFileNotFound) {
		t.Errorf("music result = %+v", r)
	}
	if r := byPath["maps/phandalin.png"]; r.Err != nil || r.Size != len("PNG-phandalin") || r.Cached {
		t.Errorf("map result = %+v", r)
	}

	got, err := os.ReadFile(filepath.Join(dl, "maps", "phandalin.png"))
	if err != nil || string(got) != "PNG-phandalin" {
		t.Errorf("downloaded map = %q, %v", got, err)
	}
	m, err := assets.LoadManifest(filepath.Join(dl, assets.ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 2 || !m.Has("icons/alice.png") {
		t.Errorf("manifest paths = %v", m.Paths())
	}

	// A second pass serves matching files from the download directory.
	again := alice.RequestFiles(context.Background(), []string{"maps/phandalin.png"})
	if len(again) != 1 || !again[0].Cached || again[0].Err != nil {
		t.Errorf("second pass = %+v", again)
	}
}

func TestRequestFileContextCanceled(t *testing.T) {
	srv := startServer(t, serverAssets(t))
	alice := joinClient(t, srv, "Alice", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := alice.RequestFile(ctx, "maps/phandalin.png"); err == nil {
		// The response may already have been in flight.
		t.Log("response arrived before cancellation was observed")
	}

	// The abandoned response is discarded, not handed to the next caller.
	data, err := alice.RequestFile(context.Background(), "icons/alice.png")
	if err != nil || string(data) != "PNG-alice" {
		t.Fatalf("RequestFile() = %q, %v", data, err)
	}
	if !alice.Running() {
		t.Errorf("status = %s after abandoned request", alice.Status())
	}
}

func TestClose(t *testing.T) {
	srv := startServer(t, nil)
	alice := joinClient(t, srv, "Alice", nil)

	if err := alice.Close(); err != nil {
		t.Fatal(err)
	}
	if alice.Status() != StatusStopped || alice.Err() != nil {
		t.Errorf("after Close: %s, %v", alice.Status(), alice.Err())
	}
	if err := alice.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, ok := <-alice.Updates(); ok {
		t.Error("Updates() not closed")
	}
	if err := alice.Start(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Start after Close = %v", err)
	}
	waitFor(t, func() bool { return len(srv.Connections()) == 0 })
}

func TestCloseBeforeStart(t *testing.T) {
	c := newClient(t, "127.0.0.1:1", "Alice", nil)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, c)
	if c.Status() != StatusStopped {
		t.Errorf("Status() = %s", c.Status())
	}
}

func TestServerStopDropsClient(t *testing.T) {
	srv := startServer(t, nil)
	alice := joinClient(t, srv, "Alice", nil)

	srv.Stop()
	waitDone(t, alice)
	if alice.Status() != StatusDropped {
		t.Errorf("Status() = %s, want dropped", alice.Status())
	}
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := newClient(t, addr, "Alice", func(cfg *Config) {
		cfg.DialRetries = 2
		cfg.RetryInterval = 5 * time.Millisecond
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.WaitEstablished(context.Background()); err == nil {
		t.Fatal("WaitEstablished() succeeded against a closed port")
	}
	if c.Status() != StatusFailed {
		t.Errorf("Status() = %s", c.Status())
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v", err)
	}
}

// fakeServer accepts one connection, sends the snapshot, then runs script.
func fakeServer(t *testing.T, script func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		buf := make([]byte, protocol.MaxCredentialsSize)
		if _, err := nc.Read(buf); err != nil {
			return
		}
		if err := protocol.WriteSnapshot(nc, protocol.SnapshotLengthPrefixed, []byte(testDoc)); err != nil {
			return
		}
		script(nc)
	}()
	return ln.Addr().String()
}

func TestUnexpectedBlobDropsConnection(t *testing.T) {
	addr := fakeServer(t, func(nc net.Conn) {
		protocol.WriteBlob(nc, []byte("surprise"))
		time.Sleep(time.Second)
	})
	c := newClient(t, addr, "Alice", nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, c)
	if c.Status() != StatusDropped || !errors.Is(c.Err(), ErrUnexpectedBlob) {
		t.Errorf("status %s, err %v", c.Status(), c.Err())
	}
}

func TestMalformedRelayIgnored(t *testing.T) {
	addr := fakeServer(t, func(nc net.Conn) {
		nc.Write([]byte("POS:Bob:nowhere|HELLO|POS:Bob:(5, 5)|"))
		time.Sleep(time.Second)
	})
	c := newClient(t, addr, "Alice", nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case u := <-c.Updates():
		if u.Position != (protocol.Point{X: 5, Y: 5}) {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid update after malformed ones not delivered")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad address", func(c *Config) { c.Address = "nowhere" }, true},
		{"empty username", func(c *Config) { c.Username = "" }, true},
		{"colon in username", func(c *Config) { c.Username = "a:b" }, true},
		{"bad snapshot mode", func(c *Config) { c.SnapshotMode = "zip" }, true},
		{"negative retries", func(c *Config) { c.DialRetries = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Username = "Alice"
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status   Status
		want     string
		terminal bool
	}{
		{StatusDisconnected, "disconnected", false},
		{StatusConnecting, "connecting", false},
		{StatusAuthenticating, "authenticating", false},
		{StatusEstablished, "established", false},
		{StatusRunning, "running", false},
		{StatusStopped, "stopped", true},
		{StatusDropped, "dropped", true},
		{StatusRejected, "rejected", true},
		{StatusFailed, "failed", true},
		{Status(99), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v", tt.status, got)
		}
	}
}
