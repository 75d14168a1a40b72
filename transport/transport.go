package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/ift/channel"
	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/events"
	"github.com/vinayprograms/ift/logging"
)

// Role is the side of the pairing a Transport plays.
type Role string

const (
	// RoleParent embeds the other context.
	RoleParent Role = "parent"

	// RoleChild is embedded.
	RoleChild Role = "child"
)

// FramePrefix prefixes the name of every embedded frame.
const FramePrefix = "ift_"

// Option configures a Transport.
type Option func(*Transport)

// WithRegistry sets the registry client types are looked up in.
func WithRegistry(r *Registry) Option {
	return func(t *Transport) {
		t.registry = r
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(t *Transport) {
		t.logger = l.WithComponent("transport")
	}
}

// WithObserver sets the observer notified of traffic and calls.
func WithObserver(o Observer) Option {
	return func(t *Transport) {
		t.observer = o
	}
}

// WithCallTimeout fails calls that receive no reply within d with a
// TIMEOUT error. Zero disables expiry.
func WithCallTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.callTimeout = d
	}
}

// WithAllowedOrigins accepts inbound messages from these origins in
// addition to the remote origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(t *Transport) {
		for _, o := range origins {
			t.allowed[o] = true
		}
	}
}

// ParentConfig describes the child a parent embeds.
type ParentConfig struct {
	// ChildOrigin is the child's origin; only messages from it are accepted.
	ChildOrigin string

	// Path is joined to ChildOrigin to form the frame URL.
	Path string

	// Name identifies the frame. Default: a random UUID.
	Name string
}

// Transport carries method calls, events and callbacks for any number of
// client types over one channel.
//
// Inbound messages are dispatched one at a time by Run. Outbound operations
// are safe for concurrent use.
type Transport struct {
	events.Emitter[json.RawMessage]

	role        Role
	remote      string
	allowed     map[string]bool
	ch          channel.Channel
	frame       channel.Frame
	registry    *Registry
	logger      *logging.Logger
	observer    Observer
	callTimeout time.Duration

	createMu sync.Mutex // serializes client construction

	mu      sync.Mutex
	clients map[string]Service
	calls   map[int]*pendingCall
	counter int
	closed  bool

	readyMu  sync.Mutex
	ready    bool
	readyFns []func(*Transport)

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type pendingCall struct {
	typ    string
	method string
	cb     Callback
	timer  *time.Timer
}

func newTransport(role Role, remote string, opts ...Option) *Transport {
	t := &Transport{
		role:     role,
		remote:   remote,
		allowed:  map[string]bool{remote: true},
		logger:   logging.Nop(),
		observer: NopObserver{},
		clients:  make(map[string]Service),
		calls:    make(map[int]*pendingCall),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.registry == nil {
		t.registry = NewRegistry()
	}
	return t
}

// NewParent embeds the child described by cfg and returns the parent side.
// onReady, if non-nil, is called on its own goroutine once the frame has
// loaded. Use Ready to wait for the child's handshake instead.
func NewParent(ctx context.Context, embedder channel.Embedder, cfg ParentConfig, onReady func(*Transport), opts ...Option) (*Transport, error) {
	if cfg.ChildOrigin == "" {
		return nil, errors.InvalidInput("child origin required")
	}
	name := cfg.Name
	if name == "" {
		name = uuid.NewString()
	}

	t := newTransport(RoleParent, cfg.ChildOrigin, opts...)
	t.frame = channel.Frame{
		URL:    cfg.ChildOrigin + cfg.Path,
		Name:   FramePrefix + name,
		Hidden: true,
	}

	loaded := make(chan struct{})
	var loadOnce sync.Once
	ch, err := embedder.Embed(ctx, t.frame, func() {
		loadOnce.Do(func() { close(loaded) })
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "embed "+t.frame.URL)
	}
	t.ch = ch

	// Probe in case the child announced itself before this side was
	// listening; a child answers every probe.
	if err := t.post(&Message{Action: ActionReady}, t.remote); err != nil {
		t.logger.Warn("ready_probe_failed", map[string]interface{}{"error": err.Error()})
	}

	if onReady != nil {
		go func() {
			select {
			case <-loaded:
				onReady(t)
			case <-t.done:
			}
		}()
	}

	t.logger.Info("frame_embedded", map[string]interface{}{
		"url":  t.frame.URL,
		"name": t.frame.Name,
	})
	return t, nil
}

// NewChild returns the child side over ch and announces readiness to the
// embedding parent at parentOrigin.
func NewChild(ch channel.Channel, parentOrigin string, opts ...Option) (*Transport, error) {
	if parentOrigin == "" {
		return nil, errors.InvalidInput("parent origin required")
	}
	t := newTransport(RoleChild, parentOrigin, opts...)
	t.ch = ch
	t.ready = true

	if err := t.post(&Message{Action: ActionReady}, channel.AnyOrigin); err != nil {
		return nil, err
	}
	return t, nil
}

// Role returns the side this transport plays.
func (t *Transport) Role() Role {
	return t.role
}

// RemoteOrigin returns the origin messages are sent to.
func (t *Transport) RemoteOrigin() string {
	return t.remote
}

// Frame returns the embedded frame. Zero for a child.
func (t *Transport) Frame() channel.Frame {
	return t.frame
}

// Logger returns the transport's logger.
func (t *Transport) Logger() *logging.Logger {
	return t.logger
}

// Client returns the service for typ, constructing it on first use.
// Factories must not request other client types from the same transport.
func (t *Transport) Client(typ string) (Service, error) {
	t.createMu.Lock()
	defer t.createMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.Closed("transport closed", errors.WithClientType(typ))
	}
	if svc, ok := t.clients[typ]; ok {
		t.mu.Unlock()
		return svc, nil
	}
	t.mu.Unlock()

	factory, ok := t.registry.Lookup(typ, t.role)
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownType,
			fmt.Sprintf("no %s client registered for type %q", t.role, typ),
			errors.WithClientType(typ))
	}

	c := newClient(t, typ)
	svc, err := factory(c)
	if err != nil {
		c.detach()
		return nil, errors.Wrap(err, "create "+typ+" client", errors.WithClientType(typ))
	}
	if svc == nil {
		svc = c
	}

	t.mu.Lock()
	t.clients[typ] = svc
	t.mu.Unlock()
	return svc, nil
}

// Send encodes msg and posts it to the remote origin.
func (t *Transport) Send(msg *Message) error {
	return t.post(msg, t.remote)
}

func (t *Transport) post(msg *Message, target string) error {
	if t.isClosed() {
		return errors.Closed("transport closed", errors.WithClientType(msg.Type))
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := t.ch.Post(data, target); err != nil {
		switch {
		case stderrors.Is(err, channel.ErrClosed):
			return errors.WrapWithCode(err, errors.ErrCodeClosed, "post", errors.WithClientType(msg.Type))
		case stderrors.Is(err, channel.ErrTargetMismatch):
			return errors.WrapWithCode(err, errors.ErrCodeForbidden, "post", errors.WithClientType(msg.Type))
		default:
			return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "post", errors.WithClientType(msg.Type))
		}
	}
	t.observer.MessageSent(msg)
	t.logger.Debug("message_sent", map[string]interface{}{
		"type":   msg.Type,
		"action": string(msg.Action),
	})
	return nil
}

// Invoke calls method of client type typ on the remote side. When cb is
// non-nil a callback id is allocated and appended to the arguments; cb is
// then called exactly once, whether or not a local client of typ exists. If the message cannot be sent the error is
// returned and cb is never called.
func (t *Transport) Invoke(typ, method string, args []any, cb Callback) (int, error) {
	margs, err := NewArgs(append([]any{method}, args...)...)
	if err != nil {
		return 0, err
	}

	id := 0
	if cb != nil {
		id, err = t.addCall(typ, method, cb)
		if err != nil {
			return 0, err
		}
		ref, _ := json.Marshal(CallbackRef{CallbackID: id})
		margs = append(margs, ref)
	}

	if err := t.Send(&Message{Type: typ, Action: ActionMethod, Args: margs}); err != nil {
		if id != 0 && t.take(id) != nil {
			t.observer.CallFinished(typ, method, id, err)
		}
		return 0, err
	}
	return id, nil
}

// Emit triggers event name of client type typ on the remote side.
func (t *Transport) Emit(typ, name string, args ...any) error {
	eargs, err := NewArgs(append([]any{name}, args...)...)
	if err != nil {
		return err
	}
	return t.Send(&Message{Type: typ, Action: ActionEvent, Args: eargs})
}

// Respond resolves the remote call id with results, or with failure when
// it is non-nil.
func (t *Transport) Respond(typ string, id int, results []any, failure error) error {
	msg := &Message{Type: typ, Action: ActionCallback}
	if failure != nil {
		coded := errors.As(failure)
		if coded == nil {
			coded = errors.New(errors.ErrCodeRemote, failure.Error(), errors.WithClientType(typ))
		}
		msg.Error = coded
		results = nil
	}
	cargs, err := NewArgs(append([]any{id}, results...)...)
	if err != nil {
		return err
	}
	msg.Args = cargs
	return t.Send(msg)
}

// Call invokes method and waits for its results. Cancelling ctx cancels
// the pending call.
func (t *Transport) Call(ctx context.Context, typ, method string, args ...any) (Args, error) {
	type outcome struct {
		results Args
		err     error
	}
	done := make(chan outcome, 1)

	id, err := t.Invoke(typ, method, args, func(results Args, err error) {
		done <- outcome{results, err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case o := <-done:
		return o.results, o.err
	case <-ctx.Done():
		t.Cancel(id)
		return nil, errors.Wrap(ctx.Err(), fmt.Sprintf("call %s.%s", typ, method),
			errors.WithClientType(typ), errors.WithMethod(method))
	}
}

// addCall allocates the next callback id for cb.
func (t *Transport) addCall(typ, method string, cb Callback) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, errors.Closed("transport closed", errors.WithClientType(typ))
	}
	t.counter++
	id := t.counter
	pc := &pendingCall{typ: typ, method: method, cb: cb}
	if t.callTimeout > 0 {
		pc.timer = time.AfterFunc(t.callTimeout, func() { t.expire(id) })
	}
	t.calls[id] = pc
	t.mu.Unlock()

	t.observer.CallStarted(typ, method, id)
	return id, nil
}

// take removes and returns the pending call id, or nil.
func (t *Transport) take(id int) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	if pc.timer != nil {
		pc.timer.Stop()
	}
	return pc
}

// resolve completes the pending call id. Returns false if there was none.
func (t *Transport) resolve(id int, results Args, err error) bool {
	pc := t.take(id)
	if pc == nil {
		return false
	}
	t.finish(id, pc, results, err)
	return true
}

func (t *Transport) finish(id int, pc *pendingCall, results Args, err error) {
	t.observer.CallFinished(pc.typ, pc.method, id, err)
	pc.cb(results, err)
}

func (t *Transport) expire(id int) {
	pc := t.take(id)
	if pc == nil {
		return
	}
	err := errors.Timeout(fmt.Sprintf("no reply to %s.%s within %s", pc.typ, pc.method, t.callTimeout),
		errors.WithClientType(pc.typ), errors.WithMethod(pc.method))
	t.logger.CallExpired(pc.typ, pc.method, id, err)
	t.finish(id, pc, nil, err)
}

// Cancel fails the pending call id with CANCELED. Returns false if the call
// already completed.
func (t *Transport) Cancel(id int) bool {
	pc := t.take(id)
	if pc == nil {
		return false
	}
	err := errors.New(errors.ErrCodeCanceled, fmt.Sprintf("call %s.%s canceled", pc.typ, pc.method),
		errors.WithClientType(pc.typ), errors.WithMethod(pc.method))
	t.finish(id, pc, nil, err)
	return true
}

// Pending returns the number of calls awaiting a reply.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Ready calls fn once the child has announced itself, immediately if it
// already has. A child transport is always ready.
func (t *Transport) Ready(fn func(*Transport)) {
	t.readyMu.Lock()
	if !t.ready {
		t.readyFns = append(t.readyFns, fn)
		t.readyMu.Unlock()
		return
	}
	t.readyMu.Unlock()
	fn(t)
}

// IsReady reports whether the handshake has been received.
func (t *Transport) IsReady() bool {
	t.readyMu.Lock()
	defer t.readyMu.Unlock()
	return t.ready
}

func (t *Transport) markReady() {
	t.readyMu.Lock()
	if t.ready {
		t.readyMu.Unlock()
		return
	}
	t.ready = true
	fns := t.readyFns
	t.readyFns = nil
	t.readyMu.Unlock()

	t.logger.Info("child_ready", map[string]interface{}{"origin": t.remote})
	for _, fn := range fns {
		fn(t)
	}
}

func (t *Transport) acceptsOrigin(origin string) bool {
	return t.allowed[origin]
}

// Deliver dispatches one inbound envelope. Messages from foreign origins,
// undecodable messages and messages no client listens for are dropped and
// reported to the observer; the returned error says why.
func (t *Transport) Deliver(env channel.Envelope) error {
	if !t.acceptsOrigin(env.Origin) {
		return t.drop(DropOrigin, env.Origin, errors.Forbidden(
			fmt.Sprintf("origin %q not allowed", env.Origin),
			errors.WithMetadata("origin", env.Origin)))
	}

	msg, err := DecodeMessage(env.Data)
	if err != nil {
		return t.drop(DropMalformed, env.Origin, err)
	}
	t.observer.MessageReceived(msg)

	if msg.Action == ActionReady {
		if t.role == RoleParent {
			t.markReady()
			return nil
		}
		// A parent that missed the announcement probes again.
		return t.post(&Message{Action: ActionReady}, channel.AnyOrigin)
	}

	name := msg.Type + ":" + string(msg.Action)
	args := msg.Args
	if msg.Action == ActionCallback && msg.Error != nil {
		name = msg.Type + ":error"
		raw, err := json.Marshal(msg.Error)
		if err != nil {
			return t.drop(DropMalformed, env.Origin, errors.WrapWithCode(err, errors.ErrCodeMalformed, "error member"))
		}
		args = append(append(Args{}, args...), raw)
	}

	if t.Listeners(name) == 0 {
		if msg.Action == ActionCallback {
			return t.settle(msg, env.Origin)
		}
		return t.drop(DropNoClient, env.Origin, errors.New(errors.ErrCodeNoClient,
			fmt.Sprintf("no client for %q", msg.Type), errors.WithClientType(msg.Type)))
	}

	if err := t.Trigger(name, args...); err != nil {
		reason := DropHandler
		if msg.Action == ActionCallback && errors.Is(err, errors.ErrCodeNotFound) {
			reason = DropUnknownCallback
		}
		return t.drop(reason, env.Origin, err)
	}
	return nil
}

// settle resolves a callback for a type that has no local client. Calls
// made through Invoke or Call are pending on the transport itself.
func (t *Transport) settle(msg *Message, origin string) error {
	var id int
	if err := msg.Args.Decode(0, &id); err != nil {
		return t.drop(DropMalformed, origin, err)
	}
	var (
		results Args
		failure error
	)
	if msg.Error != nil {
		failure = msg.Error
	} else if len(msg.Args) > 1 {
		results = msg.Args[1:]
	}
	if !t.resolve(id, results, failure) {
		return t.drop(DropUnknownCallback, origin, errors.New(errors.ErrCodeNotFound,
			fmt.Sprintf("no pending call %d", id),
			errors.WithClientType(msg.Type), errors.WithMetadata("callback_id", fmt.Sprint(id))))
	}
	return nil
}

func (t *Transport) drop(reason DropReason, origin string, err error) error {
	t.observer.MessageDropped(reason, origin, err)
	t.logger.MessageDropped(string(reason), origin, err)
	return err
}

// Run dispatches inbound messages until ctx is cancelled, the transport is
// closed or the channel shuts down. Channels with their own I/O loops are
// started first.
func (t *Transport) Run(ctx context.Context) error {
	if r, ok := t.ch.(channel.Runner); ok {
		go func() {
			err := r.Run(ctx)
			if err != nil && !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, channel.ErrClosed) && !stderrors.Is(err, io.EOF) {
				t.logger.Error("channel_failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	recv := t.ch.Recv()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case env, ok := <-recv:
			if !ok {
				if t.isClosed() {
					return nil
				}
				return errors.Closed("channel closed")
			}
			t.Deliver(env)
		}
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close stops dispatch, closes every service that implements io.Closer,
// fails outstanding calls with CLOSED, removes all listeners and closes the
// channel. Safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		calls := t.calls
		t.calls = make(map[int]*pendingCall)
		clients := t.clients
		t.clients = make(map[string]Service)
		t.mu.Unlock()

		close(t.done)

		for _, svc := range clients {
			if closer, ok := svc.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					t.logger.Warn("client_close_failed", map[string]interface{}{
						"type":  svc.Client().Type(),
						"error": err.Error(),
					})
				}
			}
		}

		for id, pc := range calls {
			if pc.timer != nil {
				pc.timer.Stop()
			}
			t.finish(id, pc, nil, errors.Closed("transport closed",
				errors.WithClientType(pc.typ), errors.WithMethod(pc.method)))
		}

		t.Reset()
		if t.ch != nil {
			t.closeErr = t.ch.Close()
		}
	})
	return t.closeErr
}
