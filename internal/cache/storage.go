// Handles storage of named cache entries
package cache

import (
	"fmt"
)

// Storage holds serialized cache entries.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	// initializes the storage (e.g., creates necessary directories or tables)
	Init() error
	// retrieves the stored value for key.
	// returns nil, nil when not found
	Get(key string) ([]byte, error)
	// stores every entry, or none of them if any write fails
	PutAll(entries map[string][]byte) error
	// lists stored keys starting with prefix, sorted
	Keys(prefix string) ([]string, error)
	// releases resources held by the storage
	Close() error
}

const (
	KindDisk   = "disk"
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// NewStorage creates the storage backend named by kind.
// location is a folder for disk storage and a database file for sqlite storage.
func NewStorage(kind, location string) (Storage, error) {
	switch kind {
	case KindDisk:
		return NewDisk(location), nil
	case KindMemory:
		return NewMemory(), nil
	case KindSQLite:
		return NewSQLite(location), nil
	default:
		return nil, fmt.Errorf("unknown storage kind: %q", kind)
	}
}
