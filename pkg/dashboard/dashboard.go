// Package dashboard serves the DM's read-only HTTP view of a running sync
// server: health, Prometheus metrics, the position table, connected players
// and a websocket feed of applied updates for spectators.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/middleware"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
	"github.com/dungeonfaster/dfsync/pkg/server"
)

// Backend is the part of the sync server the dashboard reads.
type Backend interface {
	State() *campaign.State
	Connections() []server.ConnInfo
	Stats() *server.Stats
	Running() bool
}

// Dashboard is the HTTP surface. Create with New and call Publish for every
// update the server applies.
type Dashboard struct {
	backend  Backend
	hub      *Hub
	router   chi.Router
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures a Dashboard.
type Option func(*options)

type options struct {
	registry *prometheus.Registry
	logger   *slog.Logger
}

// WithRegistry serves metrics from reg and registers the HTTP collectors on it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithLogger sets the dashboard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New builds the router.
func New(backend Backend, opts ...Option) *Dashboard {
	o := options{logger: slog.Default().With("component", "dashboard")}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dashboard{
		backend: backend,
		hub:     NewHub(),
		logger:  o.logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if o.registry != nil {
		d.gatherer = o.registry
		r.Use(middleware.Prometheus(middleware.WithRegistry(o.registry)))
	} else {
		d.gatherer = prometheus.DefaultGatherer
	}
	r.Use(middleware.OpenTelemetry(middleware.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
	})))

	r.Get("/healthz", d.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/positions", d.handlePositions)
		r.Get("/positions/{player}", d.handlePlayer)
		r.Get("/connections", d.handleConnections)
		r.Get("/stats", d.handleStats)
	})
	r.Get("/ws/spectate", d.handleSpectate)

	d.router = r
	return d
}

// Handler returns the HTTP handler.
func (d *Dashboard) Handler() http.Handler {
	return d.router
}

// Hub returns the spectator hub.
func (d *Dashboard) Hub() *Hub {
	return d.hub
}

// Publish forwards an applied update to spectators.
func (d *Dashboard) Publish(u campaign.Update) {
	d.hub.Publish(u)
}

// ListenAndServe serves on addr until ctx is done, then shuts down,
// disconnecting spectators.
func (d *Dashboard) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return d.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (d *Dashboard) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           d.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.logger.Info("dashboard listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		d.hub.Close()
		return err
	case <-ctx.Done():
	}

	d.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return err
}

func (d *Dashboard) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !d.backend.Running() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Dashboard) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.backend.State().View())
}

type playerView struct {
	Name     string          `json:"name"`
	Position *protocol.Point `json:"position,omitempty"`
	Index    *protocol.Cell  `json:"index,omitempty"`
	Online   bool            `json:"online"`
	Class    string          `json:"class,omitempty"`
	Race     string          `json:"race,omitempty"`
	Level    int             `json:"level,omitempty"`
}

func (d *Dashboard) handlePlayer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "player")
	state := d.backend.State()
	p, ok := state.Roster().Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown player"})
		return
	}

	v := playerView{Name: name, Class: p.Class, Race: p.Race, Level: p.Level}
	if pos, ok := state.Position(name); ok {
		v.Position = &pos
	}
	if c, ok := state.Index(name); ok {
		v.Index = &c
	}
	for _, info := range d.backend.Connections() {
		if info.Player == name {
			v.Online = true
			break
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (d *Dashboard) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.backend.Connections())
}

func (d *Dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.backend.Stats())
}

func (d *Dashboard) handleSpectate(w http.ResponseWriter, r *http.Request) {
	d.hub.Serve(w, r, d.backend.State().View())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
