package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket implements Channel over a WebSocket connection.
// The declared origin of inbound envelopes is the peer origin fixed when the
// connection was established, whatever the envelope claims.
type WebSocket struct {
	conn   *websocket.Conn
	origin string
	peer   string
	name   string
	config WebSocketConfig

	recv    chan Envelope
	send    chan Envelope
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	running bool
}

// WebSocketConfig holds WebSocket channel configuration.
type WebSocketConfig struct {
	Config // Embed base config

	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:         DefaultConfig(),
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1024 * 1024, // 1MB
		PingInterval:   30 * time.Second,
	}
}

// NewWebSocket wraps an established connection. origin is this side's
// origin and peer the origin of the other side.
func NewWebSocket(conn *websocket.Conn, origin, peer, name string, cfg WebSocketConfig) *WebSocket {
	cfg.Config = cfg.Config.withDefaults()
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &WebSocket{
		conn:   conn,
		origin: origin,
		peer:   peer,
		name:   name,
		config: cfg,
		recv:   make(chan Envelope, cfg.BufferSize),
		send:   make(chan Envelope, cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

// Name returns the frame name the connection was opened for.
func (w *WebSocket) Name() string {
	return w.name
}

// PeerOrigin returns the origin of the other side.
func (w *WebSocket) PeerOrigin() string {
	return w.peer
}

// Recv returns the channel for inbound envelopes.
func (w *WebSocket) Recv() <-chan Envelope {
	return w.recv
}

// Post queues data for delivery.
func (w *WebSocket) Post(data, targetOrigin string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()

	if err := checkTarget(targetOrigin, w.peer); err != nil {
		return err
	}

	select {
	case w.send <- Envelope{Origin: w.origin, Target: targetOrigin, Data: data}:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

// Run starts the read and write loops, blocking until ctx is cancelled or
// the connection drops.
func (w *WebSocket) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.closed || w.running {
		w.mu.Unlock()
		return ErrClosed
	}
	w.running = true
	w.mu.Unlock()

	readErr := make(chan error, 1)
	go func() {
		readErr <- w.readLoop()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.writeLoop(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-readErr:
	}

	w.Close()
	wg.Wait()
	return err
}

// Close sends a close frame and closes the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	if !w.running {
		close(w.recv)
	}
	w.mu.Unlock()

	w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return w.conn.Close()
}

func (w *WebSocket) readLoop() error {
	defer close(w.recv)

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-w.done:
				return nil
			default:
			}
			return fmt.Errorf("websocket read: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if !Accepts(env.Target, w.origin) {
			continue
		}
		env.Origin = w.peer

		select {
		case w.recv <- env:
		case <-w.done:
			return nil
		}
	}
}

func (w *WebSocket) writeLoop(ctx context.Context) {
	ticker := w.createPingTicker()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drainSendQueue()
			return
		case <-w.done:
			w.drainSendQueue()
			return
		case <-ticker.C:
			w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		case env := <-w.send:
			w.writeEnvelope(env)
		}
	}
}

func (w *WebSocket) createPingTicker() *time.Ticker {
	if w.config.PingInterval > 0 {
		return time.NewTicker(w.config.PingInterval)
	}
	// Return a ticker that never fires
	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	return ticker
}

func (w *WebSocket) drainSendQueue() {
	for {
		select {
		case env := <-w.send:
			w.writeEnvelope(env)
		default:
			return
		}
	}
}

func (w *WebSocket) writeEnvelope(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if w.config.WriteTimeout > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	}
	w.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketEmbedder embeds children served over WebSocket. The frame URL's
// http(s) scheme is dialed as ws(s) with the frame name as a query parameter
// and ParentOrigin as the Origin header.
type WebSocketEmbedder struct {
	ParentOrigin string
	Dialer       *websocket.Dialer
	Config       WebSocketConfig
}

// Embed dials the child and calls onLoad once the handshake completes.
func (e *WebSocketEmbedder) Embed(ctx context.Context, frame Frame, onLoad func()) (Channel, error) {
	childOrigin, err := OriginOf(frame.URL)
	if err != nil {
		return nil, err
	}
	target, err := dialURL(frame)
	if err != nil {
		return nil, err
	}

	dialer := e.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("Origin", e.ParentOrigin)

	conn, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", target, err)
	}

	ws := NewWebSocket(conn, e.ParentOrigin, childOrigin, frame.Name, e.Config)
	if onLoad != nil {
		go onLoad()
	}
	return ws, nil
}

func dialURL(frame Frame) (string, error) {
	u, err := url.Parse(frame.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if frame.Name != "" {
		q := u.Query()
		q.Set("name", frame.Name)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// WebSocketListener accepts embedding parents. Upgrades are refused unless
// the request's Origin header is one of AllowedOrigins.
type WebSocketListener struct {
	origin    string
	allowed   []string
	config    WebSocketConfig
	onConnect func(ws *WebSocket, r *http.Request)
	upgrader  *websocket.Upgrader
}

// NewWebSocketListener creates a listener for the child at origin.
// onConnect is called with each accepted channel; it owns the channel.
func NewWebSocketListener(origin string, allowed []string, cfg WebSocketConfig, onConnect func(ws *WebSocket, r *http.Request)) *WebSocketListener {
	l := &WebSocketListener{
		origin:    origin,
		allowed:   allowed,
		config:    cfg,
		onConnect: onConnect,
	}
	l.upgrader = &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     l.checkOrigin,
	}
	return l
}

func (l *WebSocketListener) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	for _, a := range l.allowed {
		if a == AnyOrigin || a == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and hands the channel to onConnect.
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	ws := NewWebSocket(conn, l.origin, r.Header.Get("Origin"), r.URL.Query().Get("name"), l.config)
	if l.onConnect == nil {
		ws.Close()
		return
	}
	l.onConnect(ws, r)
}
