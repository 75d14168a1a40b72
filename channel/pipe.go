package channel

import (
	"context"
	"sync"
)

// PipeEnd is one side of an in-memory channel pair.
type PipeEnd struct {
	origin string
	peer   *PipeEnd

	mu       sync.RWMutex
	recv     chan Envelope
	done     chan struct{}
	closed   bool
	doneOnce sync.Once
}

// NewPipe creates a connected pair. The parent end posts as parentOrigin,
// the child end as childOrigin. Post blocks while the peer's buffer is full.
func NewPipe(parentOrigin, childOrigin string, cfg Config) (parent, child *PipeEnd) {
	cfg = cfg.withDefaults()

	parent = &PipeEnd{
		origin: parentOrigin,
		recv:   make(chan Envelope, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	child = &PipeEnd{
		origin: childOrigin,
		recv:   make(chan Envelope, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	parent.peer = child
	child.peer = parent
	return parent, child
}

// Origin returns the origin this end posts as.
func (p *PipeEnd) Origin() string {
	return p.origin
}

// Post delivers data to the peer end.
func (p *PipeEnd) Post(data, targetOrigin string) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := checkTarget(targetOrigin, p.peer.origin); err != nil {
		return err
	}
	return p.peer.deliver(Envelope{Origin: p.origin, Target: targetOrigin, Data: data})
}

func (p *PipeEnd) deliver(env Envelope) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	select {
	case p.recv <- env:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// Recv returns inbound envelopes.
func (p *PipeEnd) Recv() <-chan Envelope {
	return p.recv
}

// Close shuts this end down. The peer's subsequent Posts fail with ErrClosed.
func (p *PipeEnd) Close() error {
	p.doneOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.recv)
	return nil
}

func (p *PipeEnd) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// PipeEmbedder embeds children in the same process over a Pipe.
type PipeEmbedder struct {
	// ParentOrigin is the origin the parent end posts as.
	ParentOrigin string

	// Mount receives the child end for each embedded frame. A non-nil
	// error aborts the embed.
	Mount func(frame Frame, child *PipeEnd) error

	Config Config
}

// Embed creates a pipe to a child at the frame URL's origin.
func (e *PipeEmbedder) Embed(ctx context.Context, frame Frame, onLoad func()) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	childOrigin, err := OriginOf(frame.URL)
	if err != nil {
		return nil, err
	}

	parent, child := NewPipe(e.ParentOrigin, childOrigin, e.Config)
	if e.Mount != nil {
		if err := e.Mount(frame, child); err != nil {
			parent.Close()
			child.Close()
			return nil, err
		}
	}
	if onLoad != nil {
		go onLoad()
	}
	return parent, nil
}
