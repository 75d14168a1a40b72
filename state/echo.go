package state

import "sync"

// EchoFilter recognises store notifications caused by a writer's own
// writes. Each write records the revision the store reports for it while
// the filter lock is held, so the watch loop cannot see that revision
// first. Writes whose revision the store cannot report are counted per key
// and operation instead.
type EchoFilter struct {
	mu      sync.Mutex
	enabled bool
	revs    map[uint64]struct{}
	pending map[pendingWrite]int
}

type pendingWrite struct {
	key string
	op  Operation
}

// NewEchoFilter creates a filter. A disabled filter suppresses nothing.
func NewEchoFilter(enabled bool) *EchoFilter {
	return &EchoFilter{
		enabled: enabled,
		revs:    make(map[uint64]struct{}),
		pending: make(map[pendingWrite]int),
	}
}

// Write runs a store write and records its notification.
func (f *EchoFilter) Write(key string, op Operation, do func() (uint64, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rev, err := do()
	if err != nil || !f.enabled {
		return err
	}
	switch rev {
	case 0:
		// No notification follows.
	case RevisionUnknown:
		f.pending[pendingWrite{key, op}]++
	default:
		f.revs[rev] = struct{}{}
	}
	return nil
}

// Suppress reports whether kv was caused by an own write, consuming the
// record. Recorded revisions older than kv are discarded; their
// notifications were lost.
func (f *EchoFilter) Suppress(kv *KeyValue) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.enabled {
		return false
	}

	_, own := f.revs[kv.Revision]
	for rev := range f.revs {
		if rev <= kv.Revision {
			delete(f.revs, rev)
		}
	}
	if own {
		return true
	}

	pw := pendingWrite{kv.Key, kv.Operation}
	if n := f.pending[pw]; n > 0 {
		if n == 1 {
			delete(f.pending, pw)
		} else {
			f.pending[pw] = n - 1
		}
		return true
	}
	return false
}

// Outstanding returns the number of own writes not yet matched.
func (f *EchoFilter) Outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.revs)
	for _, c := range f.pending {
		n += c
	}
	return n
}
