package peripheral

import (
	"slices"
	"sync"

	"github.com/user/papersync/protocol"
)

// TileStore is where the emulator keeps received tiles.
type TileStore interface {
	PutTile(key protocol.AssetKey, bitmap []byte) error
	TileKeys() ([]protocol.AssetKey, error)
}

// StoredRecording is one recorded trip held by the peripheral.
type StoredRecording struct {
	Name string
	Meta []byte
	GPX  []byte
}

// RecordingSource provides recorded trips for download.
type RecordingSource interface {
	RecordingNames() ([]string, error)
	Recording(name string) (meta, gpx []byte, ok bool, err error)
}

// MemoryStore keeps tiles and recordings in memory.
type MemoryStore struct {
	mu         sync.Mutex
	tiles      map[protocol.AssetKey][]byte
	recordings map[string]*StoredRecording
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tiles:      make(map[protocol.AssetKey][]byte),
		recordings: make(map[string]*StoredRecording),
	}
}

func (m *MemoryStore) PutTile(key protocol.AssetKey, bitmap []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[key] = append([]byte(nil), bitmap...)
	return nil
}

func (m *MemoryStore) TileKeys() ([]protocol.AssetKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]protocol.AssetKey, 0, len(m.tiles))
	for k := range m.tiles {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// Tile returns a stored bitmap.
func (m *MemoryStore) Tile(key protocol.AssetKey) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.tiles[key]
	return b, ok
}

// AddRecording makes a recording available for download.
func (m *MemoryStore) AddRecording(rec StoredRecording) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings[rec.Name] = &rec
}

func (m *MemoryStore) RecordingNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.recordings))
	for name := range m.recordings {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (m *MemoryStore) Recording(name string) ([]byte, []byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recordings[name]
	if !ok {
		return nil, nil, false, nil
	}
	return rec.Meta, rec.GPX, true, nil
}
