package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"

	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/logging"
	"github.com/vinayprograms/ift/state"
	"github.com/vinayprograms/ift/transport"
)

// Server serves a state.Store to the remote side.
type Server struct {
	client *transport.Client
	store  state.Store
	logger *logging.Logger
	echo   *state.EchoFilter

	cancel context.CancelFunc
	done   chan struct{}
}

var _ transport.Service = (*Server)(nil)

// NewServer registers the storage methods on c and starts forwarding store
// changes. Close stops forwarding.
func NewServer(c *transport.Client, store state.Store, opts ...Option) (*Server, error) {
	cfg := settings{ownWrites: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = c.Transport().Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := store.Watch(ctx, "*")
	if err != nil {
		cancel()
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "watch store")
	}

	s := &Server{
		client: c,
		store:  store,
		logger: cfg.logger.WithComponent("storage"),
		echo:   state.NewEchoFilter(cfg.ownWrites),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.Handle("get", s.handleGet)
	c.Handle("set", s.handleSet)
	c.Handle("unset", s.handleUnset)

	go s.watchLoop(changes)
	return s, nil
}

// Client returns the underlying transport client.
func (s *Server) Client() *transport.Client {
	return s.client
}

// Get returns the deserialized value of key, or nil when absent.
func (s *Server) Get(key string) (any, error) {
	data, err := s.store.Get(key)
	if err != nil {
		if stderrors.Is(err, state.ErrNotFound) {
			return nil, nil
		}
		return nil, storeError(err, "get", key)
	}
	return Deserialize(string(data)), nil
}

// Set serializes value and stores it under key.
func (s *Server) Set(key string, value any, opts Options) error {
	text, err := Serialize(value)
	if err != nil {
		return err
	}
	err = s.echo.Write(key, state.OpPut, func() (uint64, error) {
		return s.store.Put(key, []byte(text))
	})
	if err != nil {
		return storeError(err, "set", key)
	}
	return nil
}

// Unset removes every key.
func (s *Server) Unset(keys ...string) error {
	for _, key := range keys {
		err := s.echo.Write(key, state.OpDelete, func() (uint64, error) {
			return s.store.Delete(key)
		})
		if err != nil {
			return storeError(err, "unset", key)
		}
	}
	return nil
}

// Close stops forwarding store changes.
func (s *Server) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Server) watchLoop(changes <-chan *state.KeyValue) {
	defer close(s.done)
	for kv := range changes {
		s.onStorage(kv)
	}
}

// onStorage forwards a store change unless it is an own write or a no-op.
func (s *Server) onStorage(kv *state.KeyValue) {
	if s.echo.Suppress(kv) {
		s.logger.Debug("own_write_suppressed", map[string]interface{}{
			"key":      kv.Key,
			"revision": kv.Revision,
		})
		return
	}
	if sameValue(kv.Previous, kv.Value) {
		return
	}

	change := Change{
		Key:      kv.Key,
		OldValue: decodeStored(kv.Previous),
		NewValue: decodeStored(kv.Value),
	}
	if err := s.client.Emit(ChangeEvent, change); err != nil {
		s.logger.Warn("change_not_sent", map[string]interface{}{
			"key":   kv.Key,
			"error": err.Error(),
		})
	}
}

func (s *Server) handleGet(args transport.Args) (any, error) {
	key, err := args.String(0)
	if err != nil {
		return nil, err
	}
	return s.Get(key)
}

func (s *Server) handleSet(args transport.Args) (any, error) {
	key, err := args.String(0)
	if err != nil {
		return nil, err
	}
	var opts Options
	if err := args.Decode(2, &opts); err != nil {
		return nil, err
	}
	return nil, s.Set(key, args.Raw(1), opts)
}

func (s *Server) handleUnset(args transport.Args) (any, error) {
	keys, err := decodeKeys(args)
	if err != nil {
		return nil, err
	}
	return nil, s.Unset(keys...)
}

// decodeKeys accepts a single key or a list of keys as argument 0.
func decodeKeys(args transport.Args) ([]string, error) {
	if key, err := args.String(0); err == nil {
		return []string{key}, nil
	}
	var keys []string
	if !args.Has(0) {
		return nil, errors.InvalidInput("unset: key or list of keys required")
	}
	if err := args.Decode(0, &keys); err != nil {
		return nil, errors.InvalidInput("unset: key or list of keys required")
	}
	return keys, nil
}

// sameValue reports whether a change left the value unchanged. Absent and
// empty are different.
func sameValue(prev, cur []byte) bool {
	if prev == nil || cur == nil {
		return prev == nil && cur == nil
	}
	return bytes.Equal(prev, cur)
}

func storeError(err error, op, key string) error {
	if stderrors.Is(err, state.ErrInvalidKey) {
		return errors.InvalidInput(fmt.Sprintf("%s: invalid key %q", op, key),
			errors.WithClientType(Type), errors.WithMethod(op))
	}
	if stderrors.Is(err, state.ErrClosed) {
		return errors.Closed("store closed", errors.WithClientType(Type), errors.WithMethod(op))
	}
	return errors.Wrap(err, op+" "+key, errors.WithClientType(Type), errors.WithMethod(op))
}
