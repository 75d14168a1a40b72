// Package transport multiplexes method calls, events and correlated
// callbacks for independent client types over one cross-origin channel.
//
// # Overview
//
// A parent Transport embeds a child context through a channel.Embedder; the
// child side wraps the channel it was handed. Each side obtains role-specific
// services by type name from a Registry:
//
//	reg := transport.NewRegistry()
//	storage.Register(reg, store)
//
//	parent, err := transport.NewParent(ctx, embedder, transport.ParentConfig{
//	    ChildOrigin: "https://storage.example",
//	    Path:        "/ift.html",
//	}, nil, transport.WithRegistry(reg))
//	go parent.Run(ctx)
//
//	parent.Ready(func(t *transport.Transport) {
//	    svc, _ := t.Client(storage.Type)
//	    svc.(*storage.Consumer).Get("theme", func(v any, err error) { ... })
//	})
//
// # Wire Format
//
// Each message is one JSON object:
//
//	{"type": "storage", "action": "method",   "args": ["get", "theme", {"callbackId": 1}]}
//	{"type": "storage", "action": "callback", "args": [1, "dark"]}
//	{"type": "storage", "action": "callback", "args": [2], "error": {"code": "NOT_FOUND", ...}}
//	{"type": "storage", "action": "event",    "args": ["change", {...}]}
//	{"type": "",        "action": "ready",    "args": []}
//
// The trailing callbackId is present only when the caller supplied a
// completion handler. A callback carrying "error" failed.
//
// # Handshake
//
// A child announces readiness when it is created; the parent also sends a
// ready probe once its channel exists, and the child answers every probe.
// Either side may start first on a broker channel. Ready callbacks fire on
// the first answer only.
//
// # Dispatch
//
// Inbound messages from origins other than the remote origin (and any
// WithAllowedOrigins) are dropped before decoding. Accepted messages are
// triggered on the Transport's own Emitter as "<type>:<action>"; each Client
// subscribes to its own names when created, so routing to the right client
// is a side effect of the event bus. Drops are reported to the Observer and
// logged.
//
// # Thread Safety
//
// Run dispatches inbound messages from a single goroutine, so handlers on
// one Transport never run concurrently with each other. Outbound methods are
// safe for concurrent use. Expiry and cancellation callbacks run on the
// timer or cancelling goroutine.
package transport
