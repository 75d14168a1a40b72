package state

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// watchBuffer is the notification buffer of each watcher. Notifications
// for a watcher whose buffer is full are dropped.
const watchBuffer = 256

// MemoryStore implements Store in process memory. Every write, including
// the writer's own, is delivered to all matching watchers, the way a
// browser's storage area notifies its frames.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]*entry
	watchers []*watcher
	revision uint64
	closed   atomic.Bool
	done     chan struct{}
}

type entry struct {
	value    []byte
	revision uint64
	modified time.Time
}

type watcher struct {
	pattern string
	ch      chan *KeyValue
	closed  atomic.Bool
}

func (w *watcher) close() {
	if !w.closed.Swap(true) {
		close(w.ch)
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*entry),
		done: make(chan struct{}),
	}
}

func (s *MemoryStore) check(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Get returns a copy of the value under key.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.value), nil
}

// Put stores a copy of value. A nil value is stored as empty.
func (s *MemoryStore) Put(key string, value []byte) (uint64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	if value == nil {
		value = []byte{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kv := s.commit(key, OpPut, clone(value))
	s.data[key] = &entry{value: kv.Value, revision: kv.Revision, modified: kv.Modified}
	return kv.Revision, nil
}

// Delete removes key. Deleting an absent key is a no-op returning 0.
func (s *MemoryStore) Delete(key string) (uint64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return 0, nil
	}
	kv := s.commit(key, OpDelete, nil)
	delete(s.data, key)
	return kv.Revision, nil
}

// commit assigns the next revision to a change of key, notifies watchers
// and returns the change. The caller holds the write lock and applies the
// change to data afterwards.
func (s *MemoryStore) commit(key string, op Operation, value []byte) *KeyValue {
	s.revision++
	kv := &KeyValue{
		Key:       key,
		Value:     value,
		Revision:  s.revision,
		Operation: op,
		Modified:  time.Now(),
	}
	if prev, ok := s.data[key]; ok {
		kv.Previous = prev.value
	}

	for _, w := range s.watchers {
		if w.closed.Load() || !MatchPattern(w.pattern, key) {
			continue
		}
		select {
		case w.ch <- kv:
		default:
		}
	}
	return kv
}

// Keys returns the keys matching pattern, in no particular order.
func (s *MemoryStore) Keys(pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.data {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Watch delivers changes to keys matching pattern until ctx is done or the
// store closes.
func (s *MemoryStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	w := &watcher{
		pattern: pattern,
		ch:      make(chan *KeyValue, watchBuffer),
	}

	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.unwatch(w)
		case <-s.done:
		}
	}()

	return w.ch, nil
}

func (s *MemoryStore) unwatch(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.watchers[:0]
	for _, existing := range s.watchers {
		if existing != w {
			kept = append(kept, existing)
		}
	}
	s.watchers = kept
	w.close()
}

// Close drops all data and closes every watch channel.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.watchers {
		w.close()
	}
	s.watchers = nil
	s.data = make(map[string]*entry)
	return nil
}
