package storage

import (
	"context"
	"encoding/json"

	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/events"
	"github.com/vinayprograms/ift/transport"
)

// ResultFunc receives the result of a storage request.
type ResultFunc func(value any, err error)

// Consumer is the host-side proxy to a remote Server.
type Consumer struct {
	client *transport.Client
}

var _ transport.Service = (*Consumer)(nil)

// NewConsumer wraps c.
func NewConsumer(c *transport.Client) *Consumer {
	return &Consumer{client: c}
}

// Client returns the underlying transport client.
func (c *Consumer) Client() *transport.Client {
	return c.client
}

// Get requests the value of key. cb may be nil.
func (c *Consumer) Get(key string, cb ResultFunc) error {
	return c.request("get", []any{key}, cb)
}

// Set stores value under key. rest is an optional Options (or
// map[string]any) followed by an optional ResultFunc; a lone function is
// taken as the handler.
func (c *Consumer) Set(key string, value any, rest ...any) error {
	opts := Options{}
	var cb ResultFunc

	for i, arg := range rest {
		switch v := arg.(type) {
		case nil:
		case Options:
			if i == 0 {
				opts = v
				continue
			}
			return errors.InvalidInput("set: options must precede the handler")
		case map[string]any:
			if i == 0 {
				opts = v
				continue
			}
			return errors.InvalidInput("set: options must precede the handler")
		case ResultFunc:
			cb = v
		case func(any, error):
			cb = v
		default:
			return errors.InvalidInput("set: unexpected argument")
		}
	}
	return c.request("set", []any{key, value, opts}, cb)
}

// Unset removes keys, which is a string or a []string. cb may be nil.
func (c *Consumer) Unset(keys any, cb ResultFunc) error {
	switch keys.(type) {
	case string, []string:
	default:
		return errors.InvalidInput("unset: key or list of keys required")
	}
	return c.request("unset", []any{keys}, cb)
}

// OnChange registers fn for changes reported by the server.
func (c *Consumer) OnChange(fn func(Change)) events.Subscription {
	return c.client.On(ChangeEvent, func(args ...json.RawMessage) error {
		var change Change
		if err := transport.Args(args).Decode(0, &change); err != nil {
			return err
		}
		fn(change)
		return nil
	})
}

// Fetch is Get waiting for the result.
func (c *Consumer) Fetch(ctx context.Context, key string) (any, error) {
	results, err := c.client.Transport().Call(ctx, Type, "get", key)
	if err != nil {
		return nil, err
	}
	return results.Value(0), nil
}

// Store is Set waiting for completion.
func (c *Consumer) Store(ctx context.Context, key string, value any, opts Options) error {
	if opts == nil {
		opts = Options{}
	}
	_, err := c.client.Transport().Call(ctx, Type, "set", key, value, opts)
	return err
}

// Remove is Unset waiting for completion.
func (c *Consumer) Remove(ctx context.Context, keys ...string) error {
	if keys == nil {
		keys = []string{}
	}
	_, err := c.client.Transport().Call(ctx, Type, "unset", keys)
	return err
}

func (c *Consumer) request(method string, args []any, cb ResultFunc) error {
	var done transport.Callback
	if cb != nil {
		done = func(results transport.Args, err error) {
			if err != nil {
				cb(nil, err)
				return
			}
			cb(results.Value(0), nil)
		}
	}
	_, err := c.client.Invoke(method, args, done)
	return err
}
