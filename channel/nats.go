package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Side selects which half of a subject pair a NATS channel listens on.
type Side string

const (
	SideParent Side = "parent"
	SideChild  Side = "child"
)

func (s Side) other() Side {
	if s == SideParent {
		return SideChild
	}
	return SideParent
}

// ErrInvalidSubject is returned for frame names that cannot form a subject.
var ErrInvalidSubject = errors.New("invalid subject")

// NATSConfig holds NATS channel configuration.
type NATSConfig struct {
	Config // Embed base config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// SubjectPrefix roots every frame's subject pair.
	// Default: "ift"
	SubjectPrefix string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		SubjectPrefix:  "ift",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
	}
}

// ConnectNATS opens a connection using cfg.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// Subject returns the subject the given side of a frame listens on.
func Subject(prefix, name string, side Side) (string, error) {
	if prefix == "" {
		prefix = DefaultNATSConfig().SubjectPrefix
	}
	if name == "" || strings.ContainsAny(name, ".*> \t\r\n") {
		return "", fmt.Errorf("%w: frame name %q", ErrInvalidSubject, name)
	}
	return prefix + "." + name + "." + string(side), nil
}

// NATS implements Channel over a pair of NATS subjects. Each side
// subscribes to its own subject and publishes to the other's.
type NATS struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	origin  string
	peer    string
	publish string

	mu       sync.RWMutex
	recv     chan Envelope
	done     chan struct{}
	closed   bool
	doneOnce sync.Once
}

// NewNATS subscribes side's subject for frame name. The connection is
// borrowed and not closed by Close.
func NewNATS(conn *nats.Conn, cfg NATSConfig, name string, side Side, origin, peer string) (*NATS, error) {
	cfg.Config = cfg.Config.withDefaults()

	listen, err := Subject(cfg.SubjectPrefix, name, side)
	if err != nil {
		return nil, err
	}
	publish, err := Subject(cfg.SubjectPrefix, name, side.other())
	if err != nil {
		return nil, err
	}
	if conn.IsClosed() {
		return nil, ErrClosed
	}

	n := &NATS{
		conn:    conn,
		origin:  origin,
		peer:    peer,
		publish: publish,
		recv:    make(chan Envelope, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	sub, err := conn.Subscribe(listen, n.handle)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	n.sub = sub

	// Make sure the server knows about the subscription before anyone posts.
	if err := conn.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	return n, nil
}

func (n *NATS) handle(m *nats.Msg) {
	var env Envelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		return
	}
	if !Accepts(env.Target, n.origin) {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.recv <- env:
	case <-n.done:
	}
}

// Recv returns the channel for inbound envelopes.
func (n *NATS) Recv() <-chan Envelope {
	return n.recv
}

// Post publishes data to the peer's subject.
func (n *NATS) Post(data, targetOrigin string) error {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed || n.conn.IsClosed() {
		return ErrClosed
	}
	if err := checkTarget(targetOrigin, n.peer); err != nil {
		return err
	}

	payload, err := json.Marshal(Envelope{Origin: n.origin, Target: targetOrigin, Data: data})
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.publish, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close unsubscribes. The connection stays open.
func (n *NATS) Close() error {
	n.doneOnce.Do(func() { close(n.done) })

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	close(n.recv)
	if n.sub != nil && !n.conn.IsClosed() {
		return n.sub.Unsubscribe()
	}
	return nil
}

// NATSEmbedder embeds children reachable over a shared NATS connection.
// The child process is started elsewhere and joins the frame's subject
// pair by name.
type NATSEmbedder struct {
	Conn         *nats.Conn
	ParentOrigin string
	Config       NATSConfig
}

// Embed subscribes the parent side of the frame's subjects.
func (e *NATSEmbedder) Embed(ctx context.Context, frame Frame, onLoad func()) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	childOrigin, err := OriginOf(frame.URL)
	if err != nil {
		return nil, err
	}
	n, err := NewNATS(e.Conn, e.Config, frame.Name, SideParent, e.ParentOrigin, childOrigin)
	if err != nil {
		return nil, err
	}
	if onLoad != nil {
		go onLoad()
	}
	return n, nil
}
