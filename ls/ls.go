// Package ls implements the "ls" client type: raw string get, set and
// unset over a key store in the embedded context.
//
// Unlike storage, values are not serialized. The child side reports changes
// as a "change" event with positional arguments [key, oldValue, newValue],
// null for an absent value.
package ls

import (
	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/logging"
	"github.com/vinayprograms/ift/state"
	"github.com/vinayprograms/ift/transport"
)

// Type is the client type name.
const Type = "ls"

// ChangeEvent is the event name for store changes.
const ChangeEvent = "change"

// Change is a change to one key. Absent values are nil.
type Change struct {
	Key      string
	OldValue *string
	NewValue *string
}

type settings struct {
	ignoreOwnWrites bool
	logger          *logging.Logger
}

// Option configures the child holder.
type Option func(*settings)

// WithIgnoreOwnWrites sets whether the holder swallows the notification
// that follows each of its own writes. Use false for stores that do not
// notify the writer. Default: true.
func WithIgnoreOwnWrites(ignore bool) Option {
	return func(s *settings) {
		s.ignoreOwnWrites = ignore
	}
}

// WithLogger sets the holder logger. Defaults to the transport's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// Register registers the ls client pair. store may be nil in processes
// that are only ever the parent.
func Register(reg *transport.Registry, store state.Store, opts ...Option) {
	reg.Register(Type,
		func(c *transport.Client) (transport.Service, error) {
			return NewParent(c), nil
		},
		func(c *transport.Client) (transport.Service, error) {
			if store == nil {
				return nil, errors.New(errors.ErrCodeUnavailable, "ls child requires a store",
					errors.WithClientType(Type))
			}
			return NewChild(c, store, opts...)
		})
}
