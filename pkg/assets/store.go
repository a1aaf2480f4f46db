// Package assets serves and stores the files a campaign references: map
// images, music and player portraits.
//
// The server answers FILE requests from a Store. Paths are always relative
// to the store root and are cleaned with CleanPath before use, so a request
// can never reach outside the root:
//
//	store, _ := assets.NewDirStore("campaigns/lost-mine", assets.MaxAssetSize)
//	data, err := store.Get(ctx, "maps/phandalin.png")
//	if errors.Is(err, assets.ErrNotFound) {
//		// answer with the not-found sentinel
//	}
//
// The client writes fetched files through a Writer and records them in a
// Manifest kept next to the downloads.
package assets

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

// MaxAssetSize is the largest asset that fits in a single blob response.
const MaxAssetSize = protocol.MaxBlobSize

var (
	// ErrNotFound is returned when the asset does not exist.
	ErrNotFound = errors.New("assets: not found")

	// ErrOutsideRoot is returned for paths that escape the store root.
	ErrOutsideRoot = errors.New("assets: path outside root")

	// ErrTooLarge is returned when the asset exceeds the store size limit.
	ErrTooLarge = errors.New("assets: file too large")
)

// Store reads assets by relative path.
type Store interface {
	// Get returns the full contents of the asset at the relative path p.
	Get(ctx context.Context, p string) ([]byte, error)
}

// Writer stores assets by relative path.
type Writer interface {
	Put(ctx context.Context, p string, data []byte) error
}

// CleanPath normalizes a relative slash-separated asset path. Absolute paths,
// empty paths and paths that climb above the root are rejected with
// ErrOutsideRoot. Backslashes are treated as separators.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") || strings.ContainsRune(p, 0) {
		return "", ErrOutsideRoot
	}
	// Windows drive letters.
	if len(p) >= 2 && p[1] == ':' {
		return "", ErrOutsideRoot
	}

	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrOutsideRoot
	}
	return cleaned, nil
}
