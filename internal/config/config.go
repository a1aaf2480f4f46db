package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dungeonfaster/dfsync/internal/errors"
	"github.com/dungeonfaster/dfsync/pkg/assets"
	"github.com/dungeonfaster/dfsync/pkg/client"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
	"github.com/dungeonfaster/dfsync/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "dfsync.json"

	// EnvPrefix prefixes every environment variable read by ApplyEnv.
	EnvPrefix = "DFSYNC_"

	// DefaultDashboardAddress is where the dashboard listens when enabled
	// without an explicit address.
	DefaultDashboardAddress = "127.0.0.1:9192"
)

// Config is the complete dfsync.json configuration. Every field can also be
// set from the environment, e.g. DFSYNC_SERVER_ADDRESS or
// DFSYNC_ASSETS_BUCKET.
type Config struct {
	// Server configures `dfsync serve`.
	Server ServerConfig `json:"server,omitempty" envPrefix:"SERVER_"`

	// Client configures `dfsync join`.
	Client ClientConfig `json:"client,omitempty" envPrefix:"CLIENT_"`

	// Assets configures where the server reads files from.
	Assets AssetsConfig `json:"assets,omitempty" envPrefix:"ASSETS_"`

	// Dashboard configures the DM's HTTP view.
	Dashboard DashboardConfig `json:"dashboard,omitempty" envPrefix:"DASHBOARD_"`

	// Discovery configures mDNS advertisement and browsing.
	Discovery DiscoveryConfig `json:"discovery,omitempty" envPrefix:"DISCOVERY_"`

	// Log configures structured logging.
	Log LogConfig `json:"log,omitempty" envPrefix:"LOG_"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains sync server settings.
type ServerConfig struct {
	// Address is the host:port to listen on.
	Address string `json:"address,omitempty" env:"ADDRESS"`

	// Campaign is the path to the campaign JSON file.
	Campaign string `json:"campaign,omitempty" env:"CAMPAIGN"`

	// SnapshotMode is "length-prefixed" or "legacy".
	SnapshotMode string `json:"snapshotMode,omitempty" env:"SNAPSHOT_MODE"`

	// AuthorizeMoves rejects updates a player sends for someone else.
	AuthorizeMoves bool `json:"authorizeMoves,omitempty" env:"AUTHORIZE_MOVES"`

	// PollInterval is the event loop housekeeping interval (e.g., "500ms").
	PollInterval Duration `json:"pollInterval,omitempty" env:"POLL_INTERVAL"`

	// HandshakeTimeout bounds reading credentials (e.g., "10s").
	HandshakeTimeout Duration `json:"handshakeTimeout,omitempty" env:"HANDSHAKE_TIMEOUT"`

	// Checkpoint is the path of the position checkpoint file. Empty disables it.
	Checkpoint string `json:"checkpoint,omitempty" env:"CHECKPOINT"`
}

// ClientConfig contains client settings.
type ClientConfig struct {
	// Address is the server host:port.
	Address string `json:"address,omitempty" env:"ADDRESS"`

	// User is the player name.
	User string `json:"user,omitempty" env:"USER"`

	// Password is sent with the player name.
	Password string `json:"password,omitempty" env:"PASSWORD"`

	// SnapshotMode must match the server.
	SnapshotMode string `json:"snapshotMode,omitempty" env:"SNAPSHOT_MODE"`

	// Document is where the received campaign is saved.
	Document string `json:"document,omitempty" env:"DOCUMENT"`

	// Downloads is the directory fetched assets are written to.
	Downloads string `json:"downloads,omitempty" env:"DOWNLOADS"`

	// FetchAssets requests every referenced asset after joining.
	FetchAssets bool `json:"fetchAssets,omitempty" env:"FETCH_ASSETS"`

	// DialRetries is the number of extra connection attempts.
	DialRetries int `json:"dialRetries,omitempty" env:"DIAL_RETRIES"`
}

// AssetsConfig selects the server's file source.
type AssetsConfig struct {
	// Dir serves files from a local directory. Defaults to the campaign
	// file's directory.
	Dir string `json:"dir,omitempty" env:"DIR"`

	// Bucket serves files from S3, as s3://bucket/prefix. Overrides Dir.
	Bucket string `json:"bucket,omitempty" env:"BUCKET"`

	// Region is the bucket region.
	Region string `json:"region,omitempty" env:"REGION"`

	// Endpoint overrides the S3 endpoint, for MinIO and similar.
	Endpoint string `json:"endpoint,omitempty" env:"ENDPOINT"`

	// PathStyle forces path-style bucket addressing.
	PathStyle bool `json:"pathStyle,omitempty" env:"PATH_STYLE"`

	// AccessKeyID and SecretAccessKey are static credentials. Empty uses
	// anonymous access.
	AccessKeyID     string `json:"accessKeyId,omitempty" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `json:"-" env:"SECRET_ACCESS_KEY"`

	// MaxSize caps a single served file in bytes.
	MaxSize int64 `json:"maxSize,omitempty" env:"MAX_SIZE"`
}

// DashboardConfig contains dashboard settings.
type DashboardConfig struct {
	// Enabled starts the dashboard with `dfsync serve`.
	Enabled bool `json:"enabled,omitempty" env:"ENABLED"`

	// Address is the HTTP listen address.
	Address string `json:"address,omitempty" env:"ADDRESS"`
}

// DiscoveryConfig contains mDNS settings.
type DiscoveryConfig struct {
	// Advertise registers the server on the local network.
	Advertise bool `json:"advertise,omitempty" env:"ADVERTISE"`

	// Instance is the advertised instance name. Defaults to the host name.
	Instance string `json:"instance,omitempty" env:"INSTANCE"`

	// BrowseTimeout bounds `dfsync join --discover`.
	BrowseTimeout Duration `json:"browseTimeout,omitempty" env:"BROWSE_TIMEOUT"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty" env:"LEVEL"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty" env:"FORMAT"`
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// New creates a new Config with default values.
func New() *Config {
	sc := server.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:          sc.Address,
			SnapshotMode:     string(sc.SnapshotMode),
			PollInterval:     Duration(sc.PollInterval),
			HandshakeTimeout: Duration(sc.HandshakeTimeout),
		},
		Client: ClientConfig{
			Address:      client.DefaultAddress,
			SnapshotMode: string(protocol.SnapshotLengthPrefixed),
		},
		Assets: AssetsConfig{
			MaxSize: assets.MaxAssetSize,
		},
		Dashboard: DashboardConfig{
			Address: DefaultDashboardAddress,
		},
		Discovery: DiscoveryConfig{
			BrowseTimeout: Duration(3 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads dfsync.json from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E101").
				WithDetail("No " + ConfigFileName + " found at " + path).
				Wrap(err)
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E102").
			WithDetail("Failed to parse " + path + ": " + err.Error()).
			WithSuggestion("Check that " + ConfigFileName + " is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// LoadOptional loads path when set. With an empty path it loads dfsync.json
// from the working directory if one exists, and returns defaults otherwise.
func LoadOptional(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if Exists(".") {
		return Load(".")
	}
	return New(), nil
}

// ApplyEnv overrides fields from DFSYNC_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(env.Options{Prefix: EnvPrefix})
}

func (c *Config) applyEnv(opts env.Options) error {
	if err := env.ParseWithOptions(c, opts); err != nil {
		return errors.New("E100").
			WithDetail("Failed to read " + EnvPrefix + "* environment variables.").
			Wrap(err)
	}
	return nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E101").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E101").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()
	if c.Server.Address == "" {
		c.Server.Address = d.Server.Address
	}
	if c.Server.SnapshotMode == "" {
		c.Server.SnapshotMode = d.Server.SnapshotMode
	}
	if c.Server.PollInterval <= 0 {
		c.Server.PollInterval = d.Server.PollInterval
	}
	if c.Server.HandshakeTimeout <= 0 {
		c.Server.HandshakeTimeout = d.Server.HandshakeTimeout
	}
	if c.Client.Address == "" {
		c.Client.Address = d.Client.Address
	}
	if c.Client.SnapshotMode == "" {
		c.Client.SnapshotMode = d.Client.SnapshotMode
	}
	if c.Assets.MaxSize <= 0 {
		c.Assets.MaxSize = d.Assets.MaxSize
	}
	if c.Dashboard.Address == "" {
		c.Dashboard.Address = d.Dashboard.Address
	}
	if c.Discovery.BrowseTimeout <= 0 {
		c.Discovery.BrowseTimeout = d.Discovery.BrowseTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	// Relative paths in a config file are relative to the file.
	if dir := c.Dir(); dir != "" {
		c.Server.Campaign = resolve(dir, c.Server.Campaign)
		c.Server.Checkpoint = resolve(dir, c.Server.Checkpoint)
		c.Assets.Dir = resolve(dir, c.Assets.Dir)
		c.Client.Document = resolve(dir, c.Client.Document)
		c.Client.Downloads = resolve(dir, c.Client.Downloads)
	}
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"server.address":    c.Server.Address,
		"client.address":    c.Client.Address,
		"dashboard.address": c.Dashboard.Address,
	} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return errors.New("E100").
				WithDetail(fmt.Sprintf("%s %q must be host:port.", name, addr)).
				Wrap(err)
		}
	}
	for _, mode := range []string{c.Server.SnapshotMode, c.Client.SnapshotMode} {
		if _, err := protocol.ParseSnapshotMode(mode); err != nil {
			return errors.New("E110").Wrap(err)
		}
	}
	if c.Assets.Bucket != "" {
		if _, _, err := assets.ParseS3URL(c.Assets.Bucket); err != nil {
			return errors.New("E401").Wrap(err)
		}
	}
	if c.Client.DialRetries < 0 {
		return errors.New("E100").WithDetail("client.dialRetries must not be negative.")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return errors.New("E100").Wrap(err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		return errors.New("E100").WithDetail(fmt.Sprintf("log.format %q must be \"text\" or \"json\".", f))
	}
	return nil
}

// ServerConfig returns the sync server configuration.
func (c *Config) ServerConfig() (*server.Config, error) {
	mode, err := protocol.ParseSnapshotMode(c.Server.SnapshotMode)
	if err != nil {
		return nil, errors.New("E110").Wrap(err)
	}
	sc := server.DefaultConfig()
	sc.Address = c.Server.Address
	sc.SnapshotMode = mode
	sc.AuthorizeMoves = c.Server.AuthorizeMoves
	sc.PollInterval = c.Server.PollInterval.Std()
	sc.HandshakeTimeout = c.Server.HandshakeTimeout.Std()
	return sc, nil
}

// ClientConfig returns the sync client configuration.
func (c *Config) ClientConfig() (*client.Config, error) {
	mode, err := protocol.ParseSnapshotMode(c.Client.SnapshotMode)
	if err != nil {
		return nil, errors.New("E110").Wrap(err)
	}
	cc := client.DefaultConfig()
	cc.Address = c.Client.Address
	cc.Username = c.Client.User
	cc.Password = c.Client.Password
	cc.SnapshotMode = mode
	cc.DocumentPath = c.Client.Document
	cc.DownloadDir = c.Client.Downloads
	cc.DialRetries = c.Client.DialRetries
	return cc, nil
}

// Logger builds the slog logger described by Log.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}
