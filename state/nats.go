package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore implements Store using NATS JetStream KV.
type NATSStore struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	config NATSStoreConfig
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NATSStoreConfig holds NATS KV store configuration.
type NATSStoreConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	Bucket string

	// History is the number of revisions to keep per key.
	// Default: 1
	History int

	// MaxValueSize is the maximum value size in bytes.
	// Default: 1MB
	MaxValueSize int32

	// Timeout bounds each KV request.
	// Default: 5s
	Timeout time.Duration
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:       "ift-storage",
		History:      1,
		MaxValueSize: 1024 * 1024, // 1MB
		Timeout:      5 * time.Second,
	}
}

// NewNATSStore creates a new NATS JetStream KV store.
func NewNATSStore(cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	defaults := DefaultNATSStoreConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = defaults.Bucket
	}
	if cfg.History <= 0 {
		cfg.History = defaults.History
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = defaults.MaxValueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		History:      uint8(cfg.History),
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSStore{
		conn:   cfg.Conn,
		js:     js,
		kv:     kv,
		config: cfg,
		done:   make(chan struct{}),
	}, nil
}

// Bucket returns the KV bucket name.
func (s *NATSStore) Bucket() string {
	return s.config.Bucket
}

func (s *NATSStore) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.config.Timeout)
}

// Get retrieves a value by key.
func (s *NATSStore) Get(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get: %w", err)
	}

	return entry.Value(), nil
}

// Put stores a value. The returned revision is the KV revision of the write,
// which is also the revision its watch notification carries.
func (s *NATSStore) Put(key string, value []byte) (uint64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if s.closed.Load() {
		return 0, ErrClosed
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	rev, err := s.kv.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put: %w", err)
	}
	return rev, nil
}

// Delete removes a key. JetStream does not report the revision of a delete
// marker, so a successful delete returns RevisionUnknown.
func (s *NATSStore) Delete(key string) (uint64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if s.closed.Load() {
		return 0, ErrClosed
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	if _, err := s.kv.Get(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("kv get: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("kv delete: %w", err)
	}
	return RevisionUnknown, nil
}

// Keys returns all keys matching a pattern.
func (s *NATSStore) Keys(pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Watch watches for changes to keys matching a pattern. Entries present
// before the call are used to fill Previous but are not delivered.
func (s *NATSStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	watcher, err := s.kv.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv watch: %w", err)
	}

	ch := make(chan *KeyValue, watchBuffer)

	s.wg.Add(1)
	go s.watchLoop(ctx, watcher, ch, pattern)

	return ch, nil
}

// watchLoop processes watch updates.
func (s *NATSStore) watchLoop(ctx context.Context, watcher jetstream.KeyWatcher, ch chan *KeyValue, pattern string) {
	defer s.wg.Done()
	defer close(ch)
	defer watcher.Stop()

	last := make(map[string][]byte)
	synced := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				synced = true // Initial sync complete marker
				continue
			}

			key := entry.Key()
			op := opFromNATS(entry.Operation())
			prev, had := last[key]
			if op == OpDelete {
				delete(last, key)
			} else {
				last[key] = entry.Value()
			}

			if !synced || !MatchPattern(pattern, key) {
				continue
			}
			if op == OpDelete && !had {
				continue
			}

			kv := &KeyValue{
				Key:       key,
				Revision:  entry.Revision(),
				Operation: op,
				Modified:  entry.Created(),
			}
			if had {
				kv.Previous = prev
			}
			if op == OpPut {
				kv.Value = entry.Value()
				if kv.Value == nil {
					kv.Value = []byte{}
				}
			}

			select {
			case ch <- kv:
			default:
				// Channel full
			}
		}
	}
}

// opFromNATS converts NATS operation to our Operation type.
func opFromNATS(op jetstream.KeyValueOp) Operation {
	switch op {
	case jetstream.KeyValuePut:
		return OpPut
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return OpDelete
	default:
		return OpPut
	}
}

// Close stops all watches. The underlying connection stays open.
func (s *NATSStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	return nil
}
