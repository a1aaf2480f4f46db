package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dungeonfaster/dfsync/pkg/assets"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
	"github.com/dungeonfaster/dfsync/pkg/telemetry"
)

// SendUpdate frames msg and writes it to the server. It is safe for
// concurrent use.
func (c *Client) SendUpdate(msg string) error {
	frame, err := protocol.EncodeFrame(msg)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// SendPosition sends a POS update for player.
func (c *Client) SendPosition(player string, p protocol.Point) error {
	msg, err := protocol.PositionMessage(player, p)
	if err != nil {
		return err
	}
	return c.SendUpdate(msg)
}

// SendIndex sends an INDEX update for player.
func (c *Client) SendIndex(player string, cell protocol.Cell) error {
	msg, err := protocol.IndexMessage(player, cell)
	if err != nil {
		return err
	}
	return c.SendUpdate(msg)
}

func (c *Client) write(frame []byte) error {
	c.mu.Lock()
	nc := c.conn
	running := c.status == StatusEstablished || c.status == StatusRunning
	closing := c.closing
	c.mu.Unlock()

	if closing {
		return ErrClientClosed
	}
	if !running || nc == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	nc.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	n, err := nc.Write(frame)
	c.metrics.BytesSent(n)
	if err != nil {
		c.logger.Warn("write failed", "error", err)
		nc.Close()
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

// RequestFile fetches one asset. Requests are serialized: only one is ever
// outstanding on the connection.
func (c *Client) RequestFile(ctx context.Context, path string) ([]byte, error) {
	msg, err := protocol.FileRequest(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	frame, err := protocol.EncodeFrame(msg)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.fetch.expect()
	if err := c.write(frame); err != nil {
		c.fetch.mu.Lock()
		c.fetch.outstanding--
		c.fetch.mu.Unlock()
		return nil, &FileError{Path: path, Err: err}
	}

	select {
	case res := <-c.blobs:
		if res.err != nil {
			return nil, &FileError{Path: path, Err: res.err}
		}
		return res.data, nil
	case <-c.done:
		return nil, &FileError{Path: path, Err: ErrNotConnected}
	case <-ctx.Done():
		c.fetch.mu.Lock()
		defer c.fetch.mu.Unlock()
		select {
		case res := <-c.blobs:
			if res.err != nil {
				return nil, &FileError{Path: path, Err: res.err}
			}
			return res.data, nil
		default:
			c.fetch.abandoned++
		}
		return nil, &FileError{Path: path, Err: ctx.Err()}
	}
}

// FileResult is the outcome of fetching one asset.
type FileResult struct {
	Path   string
	Size   int
	Cached bool // already present in the download directory
	Err    error
}

// RequestFiles fetches each path in order, writing hits under DownloadDir.
// A miss is reported in its result and does not abort the batch.
func (c *Client) RequestFiles(ctx context.Context, paths []string) []FileResult {
	ctx, span := telemetry.StartSpan(ctx, c.tracer, "dfsync.client.fetch", trace.SpanKindClient,
		telemetry.AttrPlayer.String(c.config.Username))
	defer span.End()

	store, err := c.downloads()
	if err != nil {
		c.logger.Error("download directory unavailable", "dir", c.config.DownloadDir, "error", err)
	}
	manifest, manifestPath := c.loadManifest()

	results := make([]FileResult, 0, len(paths))
	fetched, total := 0, 0
	for _, path := range paths {
		if cached, ok := c.cachedAsset(store, manifest, path); ok {
			results = append(results, FileResult{Path: path, Size: cached, Cached: true})
			continue
		}

		data, err := c.RequestFile(ctx, path)
		res := FileResult{Path: path, Size: len(data), Err: err}
		switch {
		case err == nil:
			fetched++
			total += len(data)
			c.metrics.FileFetch(telemetry.FetchHit)
			if store != nil {
				if perr := store.Put(ctx, path, data); perr != nil {
					res.Err = &FileError{Path: path, Err: perr}
				} else if manifest != nil {
					manifest.Record(path, data)
				}
			}
		case errors.Is(err, ErrFileNotFound):
			c.metrics.FileFetch(telemetry.FetchMiss)
			c.logger.Warn("file not found on server", "path", path)
		default:
			c.metrics.FileFetch(telemetry.FetchError)
			c.logger.Warn("file fetch failed", "path", path, "error", err)
		}
		results = append(results, res)
	}

	if manifest != nil && fetched > 0 {
		if err := manifest.Save(manifestPath); err != nil {
			c.logger.Warn("manifest save failed", "path", manifestPath, "error", err)
		}
	}
	span.SetAttributes(telemetry.AttrBytes.Int(total))
	return results
}

// FetchAssets requests every asset referenced by the snapshot document.
func (c *Client) FetchAssets(ctx context.Context) ([]FileResult, error) {
	doc := c.Campaign()
	if doc == nil {
		return nil, errors.New("client: snapshot is not a campaign document")
	}
	return c.RequestFiles(ctx, doc.Assets()), nil
}

func (c *Client) loadManifest() (*assets.Manifest, string) {
	if c.config.DownloadDir == "" {
		return nil, ""
	}
	path := filepath.Join(c.config.DownloadDir, assets.ManifestFile)
	m, err := assets.LoadManifest(path)
	if err != nil {
		c.logger.Warn("manifest unreadable, refetching everything", "path", path, "error", err)
		m = assets.NewManifest()
	}
	return m, path
}

// cachedAsset reports whether path is already downloaded with the content the
// manifest recorded.
func (c *Client) cachedAsset(store *assets.DirStore, m *assets.Manifest, path string) (int, bool) {
	if store == nil || m == nil || !m.Has(path) {
		return 0, false
	}
	full, err := store.Resolve(path)
	if err != nil {
		return 0, false
	}
	data, err := os.ReadFile(full)
	if err != nil || !m.Matches(path, data) {
		return 0, false
	}
	return len(data), true
}
