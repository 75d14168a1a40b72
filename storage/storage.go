package storage

import (
	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/logging"
	"github.com/vinayprograms/ift/state"
	"github.com/vinayprograms/ift/transport"
)

// Type is the client type name.
const Type = "storage"

// ChangeEvent is the event emitted for every forwarded store change.
const ChangeEvent = "change"

// Change describes a change to one key. Absent values are nil.
type Change struct {
	Key      string `json:"key"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}

// Options are the options of a set. The server accepts and ignores them.
type Options map[string]any

type settings struct {
	ownWrites bool
	logger    *logging.Logger
}

// Option configures the server.
type Option func(*settings)

// WithOwnWriteNotifications declares whether the store notifies the writer
// of its own changes. When false, own-write suppression is disabled.
// Default: true.
func WithOwnWriteNotifications(notifies bool) Option {
	return func(s *settings) {
		s.ownWrites = notifies
	}
}

// WithLogger sets the server logger. Defaults to the transport's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// Register registers the storage client pair. The child side serves store;
// store may be nil in processes that only consume.
func Register(reg *transport.Registry, store state.Store, opts ...Option) {
	reg.Register(Type,
		func(c *transport.Client) (transport.Service, error) {
			return NewConsumer(c), nil
		},
		func(c *transport.Client) (transport.Service, error) {
			if store == nil {
				return nil, errors.New(errors.ErrCodeUnavailable, "storage server requires a store",
					errors.WithClientType(Type))
			}
			return NewServer(c, store, opts...)
		})
}
