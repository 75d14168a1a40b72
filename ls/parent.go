package ls

import (
	"encoding/json"

	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/events"
	"github.com/vinayprograms/ift/transport"
)

// GetFunc receives the result of Get. found is false when the key is absent.
type GetFunc func(value string, found bool, err error)

// DoneFunc receives the completion of Set or Unset.
type DoneFunc func(err error)

// Parent is the host-side ls client.
type Parent struct {
	client *transport.Client
}

var _ transport.Service = (*Parent)(nil)

// NewParent wraps c.
func NewParent(c *transport.Client) *Parent {
	return &Parent{client: c}
}

// Client returns the underlying transport client.
func (p *Parent) Client() *transport.Client {
	return p.client
}

// Get requests the raw value of key.
func (p *Parent) Get(key string, cb GetFunc) error {
	var done transport.Callback
	if cb != nil {
		done = func(results transport.Args, err error) {
			if err != nil {
				cb("", false, err)
				return
			}
			if !results.Has(0) {
				cb("", false, nil)
				return
			}
			value, err := results.String(0)
			cb(value, err == nil, err)
		}
	}
	_, err := p.client.Invoke("get", []any{key}, done)
	return err
}

// Set stores value under key. rest is an optional map[string]any of options
// followed by an optional DoneFunc; a lone function is taken as the handler.
func (p *Parent) Set(key, value string, rest ...any) error {
	opts := map[string]any{}
	var cb DoneFunc

	for i, arg := range rest {
		switch v := arg.(type) {
		case nil:
		case map[string]any:
			if i != 0 {
				return errors.InvalidInput("set: options must precede the handler")
			}
			opts = v
		case DoneFunc:
			cb = v
		case func(error):
			cb = v
		default:
			return errors.InvalidInput("set: unexpected argument")
		}
	}
	return p.invoke("set", []any{key, value, opts}, cb)
}

// Unset removes key.
func (p *Parent) Unset(key string, cb DoneFunc) error {
	return p.invoke("unset", []any{key}, cb)
}

// OnChange registers fn for changes reported by the child.
func (p *Parent) OnChange(fn func(Change)) events.Subscription {
	return p.client.On(ChangeEvent, func(args ...json.RawMessage) error {
		a := transport.Args(args)
		key, err := a.String(0)
		if err != nil {
			return err
		}
		change := Change{Key: key}
		if err := a.Decode(1, &change.OldValue); err != nil {
			return err
		}
		if err := a.Decode(2, &change.NewValue); err != nil {
			return err
		}
		fn(change)
		return nil
	})
}

func (p *Parent) invoke(method string, args []any, cb DoneFunc) error {
	var done transport.Callback
	if cb != nil {
		done = func(_ transport.Args, err error) { cb(err) }
	}
	_, err := p.client.Invoke(method, args, done)
	return err
}
