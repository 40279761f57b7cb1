package main

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/papersync/mono"
	"github.com/user/papersync/protocol"
)

func TestParseTileName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
		zoom    uint8
		x, y    uint32
	}{
		{"14_8580_5738.png", false, 14, 8580, 5738},
		{"3_1_2.WEBP", false, 3, 1, 2},
		{"14_8580.png", true, 0, 0, 0},
		{"14_a_1.png", true, 0, 0, 0},
		{"300_1_1.png", true, 0, 0, 0},
		{"14_1_1.txt", true, 0, 0, 0},
		{"14_2000000_1.png", true, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := parseTileName(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got key %s", key)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTileName failed: %v", err)
			}
			zoom, x, y := key.Unpack()
			if zoom != tt.zoom || x != tt.x || y != tt.y {
				t.Errorf("Key = %d/%d/%d, want %d/%d/%d", zoom, x, y, tt.zoom, tt.x, tt.y)
			}
		})
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
}

func TestLoadTiles(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "14_2_1.png"), 256, 256)
	writePNG(t, filepath.Join(dir, "14_1_1.png"), 256, 256)
	writePNG(t, filepath.Join(dir, "14_3_1.png"), 128, 128)
	os.WriteFile(filepath.Join(dir, "README"), []byte("not a tile"), 0644)

	tiles, problems := loadTiles(dir, mono.DefaultDitherOptions())
	if len(tiles) != 2 {
		t.Fatalf("Loaded %d tiles, want 2", len(tiles))
	}
	if len(problems) != 1 {
		t.Errorf("Problems = %v, want the undersized tile", problems)
	}

	first, _ := protocol.PackKey(14, 1, 1)
	if tiles[0].Key != first {
		t.Errorf("Tiles not sorted: first is %s", tiles[0].Key)
	}
	for _, tile := range tiles {
		if len(tile.Bitmap) != protocol.TileBitmapBytes {
			t.Errorf("Tile %s bitmap is %d bytes", tile.Key, len(tile.Bitmap))
		}
	}
}
