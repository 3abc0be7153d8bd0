package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Open creates (if needed) and opens the LocalStore database at path,
// running schema initialization, and returns the context-only wrapper
// every caller uses from then on.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := InitDB(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	return newSafeDB(db), nil
}
