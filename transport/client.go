package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/events"
)

// MethodFunc implements a remotely invocable method. The returned value is
// sent back as the single result of the call.
type MethodFunc func(args Args) (any, error)

// Callback receives the outcome of a call: the remote results on success,
// or a non-nil error on failure, timeout, cancellation or close.
type Callback func(results Args, err error)

// Client is one client type multiplexed over a Transport. Events the
// remote side emits for this type are re-triggered on the Client's own
// Emitter.
type Client struct {
	events.Emitter[json.RawMessage]

	transport *Transport
	typ       string

	mu      sync.RWMutex
	methods map[string]MethodFunc
	subs    map[string]events.Subscription
}

var _ Service = (*Client)(nil)

func newClient(t *Transport, typ string) *Client {
	c := &Client{
		transport: t,
		typ:       typ,
		methods:   make(map[string]MethodFunc),
		subs:      make(map[string]events.Subscription),
	}
	c.subs[typ+":"+string(ActionMethod)] = t.On(typ+":"+string(ActionMethod), c.onMethod)
	c.subs[typ+":"+string(ActionEvent)] = t.On(typ+":"+string(ActionEvent), c.onEvent)
	c.subs[typ+":"+string(ActionCallback)] = t.On(typ+":"+string(ActionCallback), c.onCallback)
	c.subs[typ+":error"] = t.On(typ+":error", c.onError)
	return c
}

// detach removes the client's subscriptions from its transport.
func (c *Client) detach() {
	for name, sub := range c.subs {
		c.transport.Off(name, sub)
	}
}

// Client returns c.
func (c *Client) Client() *Client {
	return c
}

// Type returns the client type.
func (c *Client) Type() string {
	return c.typ
}

// Transport returns the owning transport.
func (c *Client) Transport() *Transport {
	return c.transport
}

// Handle registers fn as the method name. Later registrations replace earlier ones.
func (c *Client) Handle(name string, fn MethodFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[name] = fn
}

// Invoke calls method on the remote side. cb may be nil, in which case no
// reply is requested.
func (c *Client) Invoke(method string, args []any, cb Callback) (int, error) {
	return c.transport.Invoke(c.typ, method, args, cb)
}

// Emit triggers the event name on the remote side.
func (c *Client) Emit(name string, args ...any) error {
	return c.transport.Emit(c.typ, name, args...)
}

// Respond resolves the remote call id.
func (c *Client) Respond(id int, results []any, failure error) error {
	return c.transport.Respond(c.typ, id, results, failure)
}

// Send forwards to Invoke, Emit or Respond by kind:
//
//	Send(ActionMethod, name string, args []any, cb Callback)  // cb optional
//	Send(ActionEvent, name string, args []any)
//	Send(ActionCallback, id int, results []any)
func (c *Client) Send(kind Action, args ...any) error {
	var rest []any
	if len(args) > 1 && args[1] != nil {
		r, ok := args[1].([]any)
		if !ok {
			return errors.InvalidInput(fmt.Sprintf("%s arguments must be []any", kind))
		}
		rest = r
	}

	switch kind {
	case ActionMethod:
		name, ok := firstString(args)
		if !ok {
			return errors.InvalidInput("method name required")
		}
		var cb Callback
		if len(args) > 2 && args[2] != nil {
			switch fn := args[2].(type) {
			case Callback:
				cb = fn
			case func(Args, error):
				cb = fn
			default:
				return errors.InvalidInput("callback must be a Callback")
			}
		}
		_, err := c.Invoke(name, rest, cb)
		return err

	case ActionEvent:
		name, ok := firstString(args)
		if !ok {
			return errors.InvalidInput("event name required")
		}
		return c.Emit(name, rest...)

	case ActionCallback:
		if len(args) == 0 {
			return errors.InvalidInput("callback id required")
		}
		id, ok := args[0].(int)
		if !ok {
			return errors.InvalidInput("callback id must be an int")
		}
		return c.Respond(id, rest, nil)

	default:
		return errors.New(errors.ErrCodeUnsupported, fmt.Sprintf("cannot send %q", kind))
	}
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok && s != ""
}

// call runs the named method, converting panics and unknown names to errors.
func (c *Client) call(name string, args Args) (result any, err error) {
	c.mu.RLock()
	fn, ok := c.methods[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrCodeMethodNotFound, fmt.Sprintf("%s has no method %q", c.typ, name),
			errors.WithClientType(c.typ), errors.WithMethod(name))
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.RecoverPanic(r)
		}
	}()
	return fn(args)
}

func (c *Client) onMethod(args ...json.RawMessage) error {
	name, err := Args(args).String(0)
	if err != nil {
		return errors.Wrap(err, "method name", errors.WithClientType(c.typ))
	}

	callArgs := Args(args[1:])
	id, reply := 0, false
	if n := len(callArgs); n > 0 {
		if id, reply = callbackID(callArgs[n-1]); reply {
			callArgs = callArgs[:n-1]
		}
	}

	result, err := c.call(name, callArgs)
	if !reply {
		if err != nil {
			c.transport.logger.HandlerFailed(c.typ, name, err)
			return err
		}
		return nil
	}
	if err != nil {
		c.transport.logger.HandlerFailed(c.typ, name, err)
		return c.Respond(id, nil, err)
	}
	// An unencodable result still owes the caller a reply.
	encoded, err := NewArgs(result)
	if err != nil {
		err = errors.WrapWithCode(err, errors.ErrCodeInternal, fmt.Sprintf("encode result of %s.%s", c.typ, name),
			errors.WithClientType(c.typ), errors.WithMethod(name))
		c.transport.logger.HandlerFailed(c.typ, name, err)
		return c.Respond(id, nil, err)
	}
	return c.Respond(id, []any{encoded[0]}, nil)
}

func (c *Client) onEvent(args ...json.RawMessage) error {
	name, err := Args(args).String(0)
	if err != nil {
		return errors.Wrap(err, "event name", errors.WithClientType(c.typ))
	}
	if err := c.Trigger(name, args[1:]...); err != nil {
		c.transport.logger.HandlerFailed(c.typ, name, err)
		return err
	}
	return nil
}

func (c *Client) onCallback(args ...json.RawMessage) error {
	var id int
	if err := Args(args).Decode(0, &id); err != nil {
		return err
	}
	if !c.transport.resolve(id, Args(args[1:]), nil) {
		return c.unknownCallback(id)
	}
	return nil
}

// onError handles a failed callback; the decoded error is the last argument.
func (c *Client) onError(args ...json.RawMessage) error {
	var id int
	if err := Args(args).Decode(0, &id); err != nil {
		return err
	}
	failure := &errors.Error{}
	if err := Args(args).Decode(len(args)-1, failure); err != nil {
		return err
	}
	results := Args(nil)
	if len(args) > 2 {
		results = Args(args[1 : len(args)-1])
	}
	if !c.transport.resolve(id, results, failure) {
		return c.unknownCallback(id)
	}
	return nil
}

func (c *Client) unknownCallback(id int) error {
	return errors.New(errors.ErrCodeNotFound, fmt.Sprintf("no pending call %d", id),
		errors.WithClientType(c.typ), errors.WithMetadata("callback_id", fmt.Sprint(id)))
}
