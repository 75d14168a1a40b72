package ls

import (
	"context"
	"testing"
	"time"

	"github.com/vinayprograms/ift/channel"
	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/state"
	"github.com/vinayprograms/ift/transport"
)

const (
	parentOrigin = "http://trusted.example"
	childOrigin  = "http://frame.example"
)

type pair struct {
	parent  *Parent
	child   *Child
	store   *state.MemoryStore
	changes chan Change
}

func newPair(t *testing.T, opts ...Option) *pair {
	t.Helper()
	return newPairOn(t, nil, opts...)
}

// newPairOn serves wrap(store) to the parent; a nil wrap serves the store
// directly.
func newPairOn(t *testing.T, wrap func(*state.MemoryStore) state.Store, opts ...Option) *pair {
	t.Helper()
	p := &pair{
		store:   state.NewMemoryStore(),
		changes: make(chan Change, 16),
	}
	var served state.Store = p.store
	if wrap != nil {
		served = wrap(p.store)
	}
	reg := transport.NewRegistry()
	Register(reg, served, opts...)

	var child *transport.Transport
	e := &channel.PipeEmbedder{
		ParentOrigin: parentOrigin,
		Mount: func(frame channel.Frame, end *channel.PipeEnd) error {
			var err error
			child, err = transport.NewChild(end, parentOrigin, transport.WithRegistry(reg))
			if err != nil {
				return err
			}
			svc, err := child.Client(Type)
			if err != nil {
				return err
			}
			p.child = svc.(*Child)
			return nil
		},
	}

	parent, err := transport.NewParent(context.Background(), e, transport.ParentConfig{
		ChildOrigin: childOrigin,
		Path:        "/ls.html",
	}, nil, transport.WithRegistry(reg), transport.WithCallTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewParent error: %v", err)
	}
	svc, err := parent.Client(Type)
	if err != nil {
		t.Fatalf("parent Client error: %v", err)
	}
	p.parent = svc.(*Parent)
	p.parent.OnChange(func(c Change) { p.changes <- c })

	ctx, cancel := context.WithCancel(context.Background())
	go parent.Run(ctx)
	go child.Run(ctx)
	t.Cleanup(func() {
		cancel()
		parent.Close()
		child.Close()
		p.store.Close()
	})
	return p
}

func (p *pair) nextChange(t *testing.T) Change {
	t.Helper()
	select {
	case c := <-p.changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change event")
	}
	return Change{}
}

func awaitErr(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for completion")
	}
	return nil
}

func str(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestSetGetUnset(t *testing.T) {
	p := newPair(t)

	done := make(chan error, 1)
	if err := p.parent.Set("name", "ada", func(err error) { done <- err }); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := awaitErr(t, done); err != nil {
		t.Fatalf("set error: %v", err)
	}

	type got struct {
		value string
		found bool
		err   error
	}
	results := make(chan got, 1)
	p.parent.Get("name", func(v string, found bool, err error) { results <- got{v, found, err} })
	select {
	case r := <-results:
		if r.err != nil || !r.found || r.value != "ada" {
			t.Errorf("get = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for get")
	}

	if err := p.parent.Unset("name", func(err error) { done <- err }); err != nil {
		t.Fatalf("Unset error: %v", err)
	}
	if err := awaitErr(t, done); err != nil {
		t.Fatalf("unset error: %v", err)
	}

	p.parent.Get("name", func(v string, found bool, err error) { results <- got{v, found, err} })
	r := <-results
	if r.err != nil || r.found {
		t.Errorf("get after unset = %+v", r)
	}
}

func TestRawValuesNotSerialized(t *testing.T) {
	p := newPair(t)

	done := make(chan error, 1)
	p.parent.Set("doc", `{"a":1}`, map[string]any{}, DoneFunc(func(err error) { done <- err }))
	if err := awaitErr(t, done); err != nil {
		t.Fatalf("set error: %v", err)
	}

	stored, err := p.store.Get("doc")
	if err != nil || string(stored) != `{"a":1}` {
		t.Errorf("stored = %q, %v", stored, err)
	}
}

func TestOwnWritesSwallowed_ForeignChangeReported(t *testing.T) {
	p := newPair(t)

	done := make(chan error, 1)
	p.parent.Set("k", "mine", func(err error) { done <- err })
	awaitErr(t, done)

	p.store.Put("k", []byte("theirs"))

	c := p.nextChange(t)
	if c.Key != "k" || str(c.OldValue) != "mine" || str(c.NewValue) != "theirs" {
		t.Errorf("change = {%s %s %s}", c.Key, str(c.OldValue), str(c.NewValue))
	}

	p.store.Delete("k")
	c = p.nextChange(t)
	if c.NewValue != nil || str(c.OldValue) != "theirs" {
		t.Errorf("delete change = {%s %s %s}", c.Key, str(c.OldValue), str(c.NewValue))
	}
}

func TestOwnUnsetSwallowed(t *testing.T) {
	p := newPair(t)

	p.store.Put("k", []byte("v"))
	p.nextChange(t)

	done := make(chan error, 1)
	p.parent.Unset("k", func(err error) { done <- err })
	awaitErr(t, done)

	// Unset of an absent key produces no notification and leaves no flag.
	p.parent.Unset("k", func(err error) { done <- err })
	awaitErr(t, done)

	p.store.Put("k", []byte("again"))
	c := p.nextChange(t)
	if c.Key != "k" || c.OldValue != nil || str(c.NewValue) != "again" {
		t.Errorf("change = {%s %s %s}", c.Key, str(c.OldValue), str(c.NewValue))
	}
}

func TestIgnoreOwnWritesDisabled(t *testing.T) {
	p := newPair(t, WithIgnoreOwnWrites(false))

	done := make(chan error, 1)
	p.parent.Set("k", "v", func(err error) { done <- err })
	awaitErr(t, done)

	c := p.nextChange(t)
	if c.Key != "k" || str(c.NewValue) != "v" {
		t.Errorf("change = {%s %s %s}", c.Key, str(c.OldValue), str(c.NewValue))
	}
}

func TestSet_RequiresString(t *testing.T) {
	p := newPair(t)

	_, err := p.parent.Client().Transport().Call(context.Background(), Type, "set", "k", 42)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("remote set with number error = %v, want INVALID_INPUT", err)
	}

	if err := p.parent.Set("k", "v", 7); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Set with bad argument error = %v", err)
	}
	if err := p.parent.Set("k", "v", func(error) {}, map[string]any{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Set with options after handler error = %v", err)
	}
}

func TestSet_InvalidKey(t *testing.T) {
	p := newPair(t)

	done := make(chan error, 1)
	p.parent.Set("bad key", "v", func(err error) { done <- err })
	if err := awaitErr(t, done); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("set error = %v, want INVALID_INPUT", err)
	}

	if n := p.child.echo.Outstanding(); n != 0 {
		t.Errorf("failed write left %d own writes recorded", n)
	}
}

// lossyStore loses the notifications of writes storing drop, as a store
// does when a watcher falls behind.
type lossyStore struct {
	*state.MemoryStore
	drop string
}

func (s *lossyStore) Watch(ctx context.Context, pattern string) (<-chan *state.KeyValue, error) {
	in, err := s.MemoryStore.Watch(ctx, pattern)
	if err != nil {
		return nil, err
	}
	out := make(chan *state.KeyValue, 16)
	go func() {
		defer close(out)
		for kv := range in {
			if string(kv.Value) == s.drop {
				continue
			}
			out <- kv
		}
	}()
	return out, nil
}

func TestLostOwnNotification_ForeignChangeReported(t *testing.T) {
	p := newPairOn(t, func(m *state.MemoryStore) state.Store {
		return &lossyStore{MemoryStore: m, drop: "lost"}
	})

	done := make(chan error, 1)
	p.parent.Set("k", "lost", func(err error) { done <- err })
	awaitErr(t, done)

	p.store.Put("k", []byte("theirs"))
	c := p.nextChange(t)
	if c.Key != "k" || str(c.OldValue) != "lost" || str(c.NewValue) != "theirs" {
		t.Errorf("change = {%s %s %s}", c.Key, str(c.OldValue), str(c.NewValue))
	}
	if n := p.child.echo.Outstanding(); n != 0 {
		t.Errorf("outstanding own writes = %d, want 0", n)
	}
}

func TestChild_LocalAccess(t *testing.T) {
	p := newPair(t)

	if _, found, err := p.child.Get("none"); err != nil || found {
		t.Errorf("Get(none) found=%v err=%v", found, err)
	}
	if err := p.child.Set("local", "1"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	v, found, err := p.child.Get("local")
	if err != nil || !found || v != "1" {
		t.Errorf("Get(local) = %q %v %v", v, found, err)
	}
}
