package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/user/papersync/logger"
	"github.com/user/papersync/mono"
	"github.com/user/papersync/protocol"
	"github.com/user/papersync/session"
)

var tileExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// parseTileName reads the key from a "z_x_y.ext" file name.
func parseTileName(name string) (protocol.AssetKey, error) {
	ext := filepath.Ext(name)
	if !tileExts[strings.ToLower(ext)] {
		return 0, fmt.Errorf("%s: not a tile image", name)
	}
	parts := strings.Split(strings.TrimSuffix(name, ext), "_")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%s: want z_x_y%s", name, ext)
	}
	var n [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		n[i] = v
	}
	if n[0] > 255 {
		return 0, fmt.Errorf("%s: zoom %d out of range", name, n[0])
	}
	return protocol.PackKey(uint8(n[0]), uint32(n[1]), uint32(n[2]))
}

// loadTiles dithers every tile image in dir. Files that cannot be used are
// reported and skipped.
func loadTiles(dir string, opts mono.DitherOptions) ([]session.TileAsset, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{err}
	}

	var tiles []session.TileAsset
	var problems []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, err := parseTileName(e.Name())
		if err != nil {
			logger.Debug("tiles", "skipping %v", err)
			continue
		}
		bitmap, err := ditherFile(filepath.Join(dir, e.Name()), opts)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		tiles = append(tiles, session.TileAsset{Key: key, Bitmap: bitmap})
	}

	sort.Slice(tiles, func(i, j int) bool { return tiles[i].Key < tiles[j].Key })
	return tiles, problems
}

func ditherFile(path string, opts mono.DitherOptions) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return mono.DitherTile(img, opts)
}
