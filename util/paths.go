package util

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv("PAPERSYNC_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "papersync-data")
	}
	return filepath.Join(home, ".papersync-data")
}

// GetDeviceCacheDir returns the cache directory for one session or device
func GetDeviceCacheDir(id string) string {
	return filepath.Join(GetDataDir(), id)
}

// GetStorePath returns the bbolt file used by the emulator and the recording archive
func GetStorePath(name string) string {
	return filepath.Join(GetDataDir(), name+".db")
}

// EnsureDir creates dir if needed and returns it
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
