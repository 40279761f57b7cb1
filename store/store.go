// Package store persists tiles and recordings in a bbolt database. The
// emulator keeps its tile cache and recordings here, and the central archives
// downloaded recordings in the same format.
//
// Buckets:
//   - "tiles": key is the 8-byte big-endian asset key, value a cbor tileRecord
//   - "recordings": key is the recording name, value a cbor RecordingEntry
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/user/papersync/protocol"
)

var (
	bucketTiles      = []byte("tiles")
	bucketRecordings = []byte("recordings")
)

// ErrBitmapSize is returned when a tile bitmap is not exactly one tile.
var ErrBitmapSize = errors.New("store: bitmap has wrong size")

type tileRecord struct {
	Bitmap []byte `cbor:"1,keyasint"`
	Stored int64  `cbor:"2,keyasint"`
}

// RecordingEntry is one archived recording.
type RecordingEntry struct {
	Name     string    `cbor:"1,keyasint"`
	Meta     []byte    `cbor:"2,keyasint"`
	GPX      []byte    `cbor:"3,keyasint"`
	Complete bool      `cbor:"4,keyasint"`
	Expected int       `cbor:"5,keyasint"`
	Received int       `cbor:"6,keyasint"`
	SavedAt  time.Time `cbor:"7,keyasint"`
}

// DB is an open store.
type DB struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTiles, bucketRecordings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &DB{db: db}, nil
}

func (s *DB) Close() error {
	return s.db.Close()
}

func tileKey(key protocol.AssetKey) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(key))
	return k
}

// PutTile stores an unpacked tile bitmap.
func (s *DB) PutTile(key protocol.AssetKey, bitmap []byte) error {
	if len(bitmap) != protocol.TileBitmapBytes {
		return fmt.Errorf("%w: %d bytes", ErrBitmapSize, len(bitmap))
	}
	v, err := cbor.Marshal(tileRecord{Bitmap: bitmap, Stored: time.Now().Unix()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTiles).Put(tileKey(key), v)
	})
}

// Tile returns a stored bitmap.
func (s *DB) Tile(key protocol.AssetKey) ([]byte, bool, error) {
	var rec tileRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTiles).Get(tileKey(key))
		if v == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(v, &rec)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return rec.Bitmap, true, nil
}

// TileKeys lists stored tiles in key order.
func (s *DB) TileKeys() ([]protocol.AssetKey, error) {
	var keys []protocol.AssetKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTiles).ForEach(func(k, _ []byte) error {
			if len(k) == 8 {
				keys = append(keys, protocol.AssetKey(binary.BigEndian.Uint64(k)))
			}
			return nil
		})
	})
	return keys, err
}

// DeleteTile removes a tile; deleting a missing tile is not an error.
func (s *DB) DeleteTile(key protocol.AssetKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTiles).Delete(tileKey(key))
	})
}

// SaveRecording archives a recording, replacing any entry of the same name.
func (s *DB) SaveRecording(e RecordingEntry) error {
	if e.Name == "" {
		return errors.New("store: recording has no name")
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now()
	}
	v, err := cbor.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecordings).Put([]byte(e.Name), v)
	})
}

// RecordingEntry returns the archived entry for name.
func (s *DB) RecordingEntry(name string) (*RecordingEntry, bool, error) {
	var e RecordingEntry
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRecordings).Get([]byte(name))
		if v == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(v, &e)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &e, true, nil
}

// Recording returns the meta and GPX sections of a recording.
func (s *DB) Recording(name string) ([]byte, []byte, bool, error) {
	e, ok, err := s.RecordingEntry(name)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	return e.Meta, e.GPX, true, nil
}

// RecordingNames lists archived recordings in name order.
func (s *DB) RecordingNames() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecordings).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}
