package ls

import (
	"bytes"
	"context"
	stderrors "errors"

	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/logging"
	"github.com/vinayprograms/ift/state"
	"github.com/vinayprograms/ift/transport"
)

// Child holds the key store in the embedded context.
type Child struct {
	client *transport.Client
	store  state.Store
	logger *logging.Logger
	echo   *state.EchoFilter

	cancel context.CancelFunc
	done   chan struct{}
}

var _ transport.Service = (*Child)(nil)

// NewChild registers the ls methods on c and starts reporting store
// changes.
func NewChild(c *transport.Client, store state.Store, opts ...Option) (*Child, error) {
	cfg := settings{ignoreOwnWrites: true}
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

	h := &Child{
		client: c,
		store:  store,
		logger: cfg.logger.WithComponent("ls"),
		echo:   state.NewEchoFilter(cfg.ignoreOwnWrites),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.Handle("get", func(args transport.Args) (any, error) {
		key, err := args.String(0)
		if err != nil {
			return nil, err
		}
		value, found, err := h.Get(key)
		if err != nil || !found {
			return nil, err
		}
		return value, nil
	})
	c.Handle("set", func(args transport.Args) (any, error) {
		key, err := args.String(0)
		if err != nil {
			return nil, err
		}
		value, err := args.String(1)
		if err != nil {
			return nil, err
		}
		return nil, h.Set(key, value)
	})
	c.Handle("unset", func(args transport.Args) (any, error) {
		key, err := args.String(0)
		if err != nil {
			return nil, err
		}
		return nil, h.Unset(key)
	})

	go h.watchLoop(changes)
	return h, nil
}

// Client returns the underlying transport client.
func (h *Child) Client() *transport.Client {
	return h.client
}

// Get returns the raw value of key.
func (h *Child) Get(key string) (string, bool, error) {
	data, err := h.store.Get(key)
	if err != nil {
		if stderrors.Is(err, state.ErrNotFound) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "get "+key, errors.WithClientType(Type))
	}
	return string(data), true, nil
}

// Set stores value under key.
func (h *Child) Set(key, value string) error {
	err := h.echo.Write(key, state.OpPut, func() (uint64, error) {
		return h.store.Put(key, []byte(value))
	})
	if err != nil {
		return storeError(err, "set", key)
	}
	return nil
}

// Unset removes key.
func (h *Child) Unset(key string) error {
	err := h.echo.Write(key, state.OpDelete, func() (uint64, error) {
		return h.store.Delete(key)
	})
	if err != nil {
		return storeError(err, "unset", key)
	}
	return nil
}

// Close stops reporting store changes.
func (h *Child) Close() error {
	h.cancel()
	<-h.done
	return nil
}

func (h *Child) watchLoop(changes <-chan *state.KeyValue) {
	defer close(h.done)
	for kv := range changes {
		h.onStorage(kv)
	}
}

func (h *Child) onStorage(kv *state.KeyValue) {
	if h.echo.Suppress(kv) {
		return
	}
	if kv.Previous != nil && kv.Value != nil && bytes.Equal(kv.Previous, kv.Value) {
		return
	}
	if err := h.client.Emit(ChangeEvent, kv.Key, rawString(kv.Previous), rawString(kv.Value)); err != nil {
		h.logger.Warn("change_not_sent", map[string]interface{}{
			"key":   kv.Key,
			"error": err.Error(),
		})
	}
}

// rawString returns b as a string, or nil when absent.
func rawString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func storeError(err error, op, key string) error {
	if stderrors.Is(err, state.ErrInvalidKey) {
		return errors.InvalidInput(op+": invalid key "+key, errors.WithClientType(Type), errors.WithMethod(op))
	}
	return errors.Wrap(err, op+" "+key, errors.WithClientType(Type), errors.WithMethod(op))
}
