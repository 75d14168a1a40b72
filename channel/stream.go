package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Stream implements Channel over a reader/writer pair, one JSON envelope per
// line. The declared origin of inbound envelopes is taken from the line.
type Stream struct {
	reader io.Reader
	writer io.Writer
	origin string
	peer   string
	config Config

	recv    chan Envelope
	send    chan Envelope
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	running bool
}

// NewStream creates a stream channel. origin is this side's origin and
// peer the origin of the other side; an empty peer accepts any target.
func NewStream(r io.Reader, w io.Writer, origin, peer string, cfg Config) *Stream {
	cfg = cfg.withDefaults()

	return &Stream{
		reader: r,
		writer: w,
		origin: origin,
		peer:   peer,
		config: cfg,
		recv:   make(chan Envelope, cfg.BufferSize),
		send:   make(chan Envelope, cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

// Recv returns the channel for inbound envelopes.
func (s *Stream) Recv() <-chan Envelope {
	return s.recv
}

// Post queues data for delivery.
func (s *Stream) Post(data, targetOrigin string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	if err := checkTarget(targetOrigin, s.peer); err != nil {
		return err
	}

	select {
	case s.send <- Envelope{Origin: s.origin, Target: targetOrigin, Data: data}:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Run starts the stream, blocking until ctx is cancelled or the reader ends.
// Returns io.EOF when the peer closed its side.
func (s *Stream) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.running {
		s.mu.Unlock()
		return ErrClosed
	}
	s.running = true
	s.mu.Unlock()

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readLoop(ctx)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-readErr:
		if err == nil {
			err = io.EOF
		}
	}

	// The read loop exits on its own once the reader ends.
	s.Close()
	wg.Wait()
	return err
}

// Close initiates shutdown. Queued envelopes are flushed by a running
// write loop before it exits.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if !s.running {
		close(s.recv)
	}
	return nil
}

func (s *Stream) readLoop(ctx context.Context) error {
	defer close(s.recv)

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}
		if !Accepts(env.Target, s.origin) {
			continue
		}

		select {
		case s.recv <- env:
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}

func (s *Stream) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drainSendQueue()
			return
		case <-s.done:
			s.drainSendQueue()
			return
		case env := <-s.send:
			s.writeEnvelope(env)
		}
	}
}

func (s *Stream) drainSendQueue() {
	for {
		select {
		case env := <-s.send:
			s.writeEnvelope(env)
		default:
			return
		}
	}
}

func (s *Stream) writeEnvelope(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.writer.Write(append(data, '\n'))
}

// ProcessEmbedder runs each embedded context as a subprocess connected over
// its stdin and stdout. The frame is described to the child through the
// IFT_FRAME_URL, IFT_FRAME_NAME and IFT_PARENT_ORIGIN environment variables.
type ProcessEmbedder struct {
	Command      string
	Args         []string
	Env          []string
	ParentOrigin string
	Config       Config
}

// Process is the parent's channel to a child process.
type Process struct {
	*Stream
	cmd   *exec.Cmd
	stdin io.Closer
	once  sync.Once
	err   error
}

// Embed starts the child process.
func (e *ProcessEmbedder) Embed(ctx context.Context, frame Frame, onLoad func()) (Channel, error) {
	childOrigin, err := OriginOf(frame.URL)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Env = append(cmd.Environ(), e.Env...)
	cmd.Env = append(cmd.Env,
		"IFT_FRAME_URL="+frame.URL,
		"IFT_FRAME_NAME="+frame.Name,
		"IFT_PARENT_ORIGIN="+e.ParentOrigin,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.Command, err)
	}

	p := &Process{
		Stream: NewStream(stdout, stdin, e.ParentOrigin, childOrigin, e.Config),
		cmd:    cmd,
		stdin:  stdin,
	}
	if onLoad != nil {
		go onLoad()
	}
	return p, nil
}

// Close stops the stream and waits for the child to exit.
func (p *Process) Close() error {
	p.once.Do(func() {
		p.Stream.Close()
		p.stdin.Close()
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		if err := p.cmd.Wait(); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				p.err = err
			}
		}
	})
	return p.err
}
