// Package channel provides the raw cross-origin message channels a frame
// transport runs over.
//
// A Channel delivers opaque text between exactly two contexts, each
// identified by an origin string (scheme://host[:port]). Delivery is FIFO per
// direction. Every envelope carries the declared origin of its sender and the
// origin it was addressed to; a receiver never sees an envelope addressed to
// someone else.
//
// Implementations:
//   - Pipe: in-memory pair for tests and same-process embedding
//   - Stream: line-delimited JSON envelopes over io streams (subprocess children)
//   - WebSocket: gorilla/websocket connections, origin checked at upgrade
//   - NATS: a subject pair per embedded context
//   - AMQP: a routing key pair on a direct exchange
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// AnyOrigin addresses an envelope to whatever origin the peer has.
const AnyOrigin = "*"

// Common errors.
var (
	ErrClosed         = errors.New("channel closed")
	ErrTargetMismatch = errors.New("target origin does not match peer")
)

// Envelope is one delivery on a channel.
type Envelope struct {
	// Origin is the sender's origin as established by the channel.
	Origin string `json:"origin"`

	// Target is the origin the sender addressed, or AnyOrigin.
	Target string `json:"target"`

	// Data is the message text.
	Data string `json:"data"`
}

// Channel is a bidirectional, origin-addressed message channel.
type Channel interface {
	// Post delivers data to the peer if its origin matches targetOrigin.
	// Returns ErrTargetMismatch when it does not, ErrClosed after Close.
	Post(data, targetOrigin string) error

	// Recv returns the channel of inbound envelopes.
	// It is closed when the channel shuts down.
	Recv() <-chan Envelope

	// Close releases the channel. Safe to call more than once.
	Close() error
}

// Runner is implemented by channels that need their own I/O loops.
// Run blocks until ctx is cancelled or the underlying connection fails.
type Runner interface {
	Run(ctx context.Context) error
}

// Frame describes an embedded context to create.
type Frame struct {
	// URL is the child's origin joined with its path.
	URL string

	// Name identifies the frame to both sides.
	Name string

	// Hidden frames are created off-screen and non-interactive.
	Hidden bool
}

// Embedder creates embedded contexts.
//
// Embed returns the parent's end of the channel to the new context and calls
// onLoad once the context has finished loading. onLoad may run on another
// goroutine, possibly before Embed returns.
type Embedder interface {
	Embed(ctx context.Context, frame Frame, onLoad func()) (Channel, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, frame Frame, onLoad func()) (Channel, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, frame Frame, onLoad func()) (Channel, error) {
	return f(ctx, frame, onLoad)
}

// Config holds common channel configuration.
type Config struct {
	// BufferSize is the size of the receive and send buffers.
	// Default: 100
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 100,
	}
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultConfig().BufferSize
	}
	return c
}

// Accepts reports whether an envelope addressed to target may be delivered
// to a context with the given origin.
func Accepts(target, origin string) bool {
	return target == AnyOrigin || target == origin
}

// OriginOf returns the scheme://host[:port] origin of a URL.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no origin", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// checkTarget validates a Post against the peer origin. An empty peer
// origin means the peer is not yet known and any target is allowed.
func checkTarget(target, peer string) error {
	if peer == "" || Accepts(target, peer) {
		return nil
	}
	return fmt.Errorf("%w: %s != %s", ErrTargetMismatch, target, peer)
}
