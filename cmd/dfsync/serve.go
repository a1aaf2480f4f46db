package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dungeonfaster/dfsync/internal/config"
	dferrors "github.com/dungeonfaster/dfsync/internal/errors"
	"github.com/dungeonfaster/dfsync/pkg/assets"
	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/checkpoint"
	"github.com/dungeonfaster/dfsync/pkg/dashboard"
	"github.com/dungeonfaster/dfsync/pkg/discovery"
	"github.com/dungeonfaster/dfsync/pkg/server"
	"github.com/dungeonfaster/dfsync/pkg/telemetry"
)

type serveFlags struct {
	addr           string
	assetsDir      string
	bucket         string
	snapshotMode   string
	authorizeMoves bool
	dashboard      bool
	dashboardAddr  string
	advertise      bool
	instance       string
	checkpoint     string
}

func serveCmd(g *globalFlags) *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve [campaign.json]",
		Short: "Run the campaign sync server",
		Long: `Serve a campaign file to the party.

Players named in the campaign's party may join. Every position update
a player sends is applied to the live table and relayed to the others.
Files referenced by the campaign are served from the campaign's
directory, from --assets or from an S3 bucket.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, func(c *config.Config) {
				f.apply(cmd, c)
				if len(args) == 1 {
					c.Server.Campaign = args[0]
				}
			})
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.addr, "addr", "a", "", "Listen address (default 0.0.0.0:9191)")
	flags.StringVar(&f.assetsDir, "assets", "", "Directory to serve files from (default: the campaign's directory)")
	flags.StringVar(&f.bucket, "bucket", "", "Serve files from s3://bucket/prefix instead")
	flags.StringVar(&f.snapshotMode, "snapshot-mode", "", "Snapshot framing: length-prefixed or legacy")
	flags.BoolVar(&f.authorizeMoves, "authorize-moves", false, "Only let players move their own character")
	flags.BoolVar(&f.dashboard, "dashboard", false, "Start the HTTP dashboard")
	flags.StringVar(&f.dashboardAddr, "dashboard-addr", "", "Dashboard listen address")
	flags.BoolVar(&f.advertise, "advertise", false, "Advertise the server over mDNS")
	flags.StringVar(&f.instance, "instance", "", "mDNS instance name (default: host name)")
	flags.StringVar(&f.checkpoint, "checkpoint", "", "Persist the latest positions to this file")
	return cmd
}

// apply copies the flags the user set over the loaded configuration.
func (f *serveFlags) apply(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		c.Server.Address = f.addr
	}
	if flags.Changed("assets") {
		c.Assets.Dir = f.assetsDir
	}
	if flags.Changed("bucket") {
		c.Assets.Bucket = f.bucket
	}
	if flags.Changed("snapshot-mode") {
		c.Server.SnapshotMode = f.snapshotMode
	}
	if flags.Changed("authorize-moves") {
		c.Server.AuthorizeMoves = f.authorizeMoves
	}
	if flags.Changed("dashboard") {
		c.Dashboard.Enabled = f.dashboard
	}
	if flags.Changed("dashboard-addr") {
		c.Dashboard.Address = f.dashboardAddr
		c.Dashboard.Enabled = true
	}
	if flags.Changed("advertise") {
		c.Discovery.Advertise = f.advertise
	}
	if flags.Changed("instance") {
		c.Discovery.Instance = f.instance
	}
	if flags.Changed("checkpoint") {
		c.Server.Checkpoint = f.checkpoint
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	if cfg.Server.Campaign == "" {
		return dferrors.New("E100").WithDetail("No campaign file given.")
	}
	source, err := campaign.OpenFile(cfg.Server.Campaign)
	if err != nil {
		return err
	}
	doc := source.Document()

	store, err := openAssets(cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(telemetry.WithRegistry(registry))

	sc, err := cfg.ServerConfig()
	if err != nil {
		return err
	}
	srv, err := server.New(sc, source,
		server.WithLogger(slog.Default().With("component", "server")),
		server.WithMetrics(metrics),
		server.WithAssets(store),
	)
	if err != nil {
		return err
	}

	var cp *checkpoint.Store
	if cfg.Server.Checkpoint != "" {
		cp, err = checkpoint.Open(cfg.Server.Checkpoint)
		if err != nil {
			return err
		}
		defer cp.Close()
		n, err := cp.Restore(parent, srv.State())
		if err != nil {
			return err
		}
		if n > 0 {
			info("Restored %d positions from %s", n, cfg.Server.Checkpoint)
		}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Stop()

	success("Serving %q on %s", doc.Name, srv.Addr())
	info("Party: %v", doc.Roster().Names())

	if cfg.Discovery.Advertise {
		adv, err := advertise(cfg, srv.Addr(), doc.Name)
		if err != nil {
			warn("mDNS advertisement failed: %v", err)
		} else {
			defer adv.Shutdown()
			info("Advertised on the local network")
		}
	}

	var wg sync.WaitGroup
	var dash *dashboard.Dashboard
	if cfg.Dashboard.Enabled {
		dash = dashboard.New(srv, dashboard.WithRegistry(registry))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.ListenAndServe(ctx, cfg.Dashboard.Address); err != nil {
				warn("dashboard stopped: %v", err)
			}
		}()
		info("Dashboard on http://%s", cfg.Dashboard.Address)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for u := range srv.Updates() {
			if dash != nil {
				dash.Publish(u)
			}
			if cp != nil {
				if err := cp.Record(context.Background(), u); err != nil {
					slog.Warn("checkpoint write failed", "player", u.Player, "error", err)
				}
			}
		}
	}()

	<-srv.Done()
	stop()
	srv.Stop()
	wg.Wait()
	fmt.Println()
	success("Server stopped")
	return nil
}

// openAssets picks the file store: the bucket when configured, otherwise the
// assets directory or the campaign's own directory.
func openAssets(cfg *config.Config) (assets.Store, error) {
	if cfg.Assets.Bucket != "" {
		bucket, prefix, err := assets.ParseS3URL(cfg.Assets.Bucket)
		if err != nil {
			return nil, dferrors.New("E401").Wrap(err)
		}
		client := assets.NewS3Client(assets.S3Options{
			Region:          cfg.Assets.Region,
			Endpoint:        cfg.Assets.Endpoint,
			PathStyle:       cfg.Assets.PathStyle,
			AccessKeyID:     cfg.Assets.AccessKeyID,
			SecretAccessKey: cfg.Assets.SecretAccessKey,
		})
		return assets.NewS3Store(client, bucket, prefix, cfg.Assets.MaxSize), nil
	}

	dir := cfg.Assets.Dir
	if dir == "" {
		dir = filepath.Dir(cfg.Server.Campaign)
	}
	store, err := assets.NewDirStore(dir, cfg.Assets.MaxSize)
	if err != nil {
		return nil, dferrors.New("E400").WithDetail(fmt.Sprintf("Cannot serve files from %s.", dir)).Wrap(err)
	}
	return store, nil
}

func advertise(cfg *config.Config, addr net.Addr, name string) (*discovery.Advertisement, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, errors.New("listener is not TCP")
	}
	instance := cfg.Discovery.Instance
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		instance = host
	}
	return discovery.Advertise(instance, tcp.Port, map[string]string{"campaign": name})
}
