package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound   = errors.New("key not found")
	ErrClosed     = errors.New("store closed")
	ErrInvalidKey = errors.New("invalid key")
)

// RevisionUnknown is returned by writes whose notification revision the
// backend cannot report ahead of the notification itself.
const RevisionUnknown = ^uint64(0)

// Operation represents the type of change to a key.
type Operation int

const (
	// OpPut indicates a key was created or updated.
	OpPut Operation = iota
	// OpDelete indicates a key was deleted.
	OpDelete
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// KeyValue describes one change to a key.
type KeyValue struct {
	// Key is the entry key.
	Key string

	// Value is the new value; nil after a delete.
	Value []byte

	// Previous is the value before the change; nil if the key was absent.
	Previous []byte

	// Revision is a monotonic version number.
	Revision uint64

	// Operation indicates the type of change.
	Operation Operation

	// Modified is when the change happened.
	Modified time.Time
}

// Store is a key/value store that notifies watchers of every change.
type Store interface {
	// Get retrieves a value by key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// Put stores a value and returns the revision of the resulting change
	// notification, or RevisionUnknown.
	Put(key string, value []byte) (uint64, error)

	// Delete removes a key and returns the revision of the resulting change
	// notification, RevisionUnknown, or 0 when the key was absent and no
	// notification follows.
	Delete(key string) (uint64, error)

	// Keys returns all keys matching a pattern.
	// Pattern supports * wildcard at the end (e.g., "config.*").
	Keys(pattern string) ([]string, error)

	// Watch delivers changes to keys matching pattern until ctx is done or
	// the store closes, then closes the channel.
	Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error)

	// Close shuts down the store and releases resources.
	Close() error
}

// ValidateKey checks if a key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " \t\r\n*>") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return ErrInvalidKey
	}
	if len(key) > 1024 {
		return ErrInvalidKey
	}
	return nil
}

// MatchPattern checks if a key matches a pattern.
// Supports * wildcard at the end (e.g., "config.*" matches "config.foo").
func MatchPattern(pattern, key string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

// clone copies b, keeping nil distinct from empty.
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
