package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Supported backend identifiers.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendPebble  = "pebble"
)

// Open constructs the database backend named by kind. Persistent backends are
// created under dir, which is created when missing.
func Open(kind, dir string) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case BackendMemory:
		return NewMemDB(), nil
	case "", BackendLevelDB:
		path, err := prepareDir(dir, "ledger")
		if err != nil {
			return nil, err
		}
		return NewLevelDB(path)
	case BackendPebble:
		path, err := prepareDir(dir, "ledger-pebble")
		if err != nil {
			return nil, err
		}
		return NewPebbleDB(path)
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", kind)
	}
}

func prepareDir(dir, name string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("storage: data directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create data directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}
