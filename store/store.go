package store

import (
	"context"
	"io"
)

/**
 * Store is the key-value service behind the registry and the run archive.
 * Keys live under a prefix, e.g. /connections/<namespace>/ or /runs/<dag>/.
 */
type Store interface {
	/**
	 * Get returns nil value and nil error for a missing key,
	 * callers decide whether absence is an error.
	 */
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	/**
	 * Remove a prefix and key
	 * remove an unexists prefix + key would NOT return error
	 */
	Remove(ctx context.Context, prefix, key string) error

	// List walks the keys under prefix in ascending order until iterator returns false.
	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}

// Close releases the store if it holds a connection or files.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
