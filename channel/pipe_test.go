package channel

import (
	"context"
	"errors"
	"testing"
	"time"
)

const (
	parentOrigin = "http://trusted.example"
	childOrigin  = "http://frame.example"
)

func recvEnvelope(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for envelope")
	}
	return Envelope{}
}

func TestPipe_PostAndRecv(t *testing.T) {
	parent, child := NewPipe(parentOrigin, childOrigin, DefaultConfig())
	defer parent.Close()
	defer child.Close()

	if err := parent.Post("hello", childOrigin); err != nil {
		t.Fatalf("Post error: %v", err)
	}
	env := recvEnvelope(t, child.Recv())
	if env.Origin != parentOrigin || env.Target != childOrigin || env.Data != "hello" {
		t.Errorf("unexpected envelope %+v", env)
	}

	if err := child.Post("back", AnyOrigin); err != nil {
		t.Fatalf("Post error: %v", err)
	}
	env = recvEnvelope(t, parent.Recv())
	if env.Origin != childOrigin || env.Data != "back" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestPipe_FIFO(t *testing.T) {
	parent, child := NewPipe(parentOrigin, childOrigin, Config{BufferSize: 4})
	defer parent.Close()
	defer child.Close()

	want := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	go func() {
		for _, s := range want {
			parent.Post(s, childOrigin)
		}
	}()
	for _, s := range want {
		if got := recvEnvelope(t, child.Recv()).Data; got != s {
			t.Fatalf("got %q, want %q", got, s)
		}
	}
}

func TestPipe_TargetMismatch(t *testing.T) {
	parent, child := NewPipe(parentOrigin, childOrigin, DefaultConfig())
	defer parent.Close()
	defer child.Close()

	err := parent.Post("x", "http://other.example")
	if !errors.Is(err, ErrTargetMismatch) {
		t.Fatalf("err = %v, want ErrTargetMismatch", err)
	}
	select {
	case env := <-child.Recv():
		t.Fatalf("mismatched post delivered: %+v", env)
	default:
	}
}

func TestPipe_Close(t *testing.T) {
	parent, child := NewPipe(parentOrigin, childOrigin, DefaultConfig())

	if err := child.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := child.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if _, ok := <-child.Recv(); ok {
		t.Error("Recv should be closed")
	}
	if err := parent.Post("x", childOrigin); !errors.Is(err, ErrClosed) {
		t.Errorf("Post to closed peer = %v, want ErrClosed", err)
	}
	if err := child.Post("x", parentOrigin); !errors.Is(err, ErrClosed) {
		t.Errorf("Post from closed end = %v, want ErrClosed", err)
	}
	parent.Close()
}

func TestPipe_CloseUnblocksPost(t *testing.T) {
	parent, child := NewPipe(parentOrigin, childOrigin, Config{BufferSize: 1})
	defer parent.Close()

	parent.Post("fill", childOrigin)
	errc := make(chan error, 1)
	go func() { errc <- parent.Post("blocked", childOrigin) }()

	time.Sleep(20 * time.Millisecond)
	child.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Post still blocked after Close")
	}
}

func TestPipeEmbedder(t *testing.T) {
	var mounted *PipeEnd
	var frameSeen Frame
	e := &PipeEmbedder{
		ParentOrigin: parentOrigin,
		Mount: func(frame Frame, child *PipeEnd) error {
			frameSeen = frame
			mounted = child
			return nil
		},
	}

	loaded := make(chan struct{})
	ch, err := e.Embed(context.Background(), Frame{URL: childOrigin + "/frame.html", Name: "ift_x", Hidden: true}, func() {
		close(loaded)
	})
	if err != nil {
		t.Fatalf("Embed error: %v", err)
	}
	defer ch.Close()

	select {
	case <-loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("onLoad not called")
	}
	if frameSeen.Name != "ift_x" || !frameSeen.Hidden {
		t.Errorf("frame = %+v", frameSeen)
	}
	if mounted.Origin() != childOrigin {
		t.Errorf("child origin = %q", mounted.Origin())
	}

	if err := ch.Post("ping", childOrigin); err != nil {
		t.Fatalf("Post error: %v", err)
	}
	if got := recvEnvelope(t, mounted.Recv()).Data; got != "ping" {
		t.Errorf("got %q", got)
	}
}

func TestPipeEmbedder_MountError(t *testing.T) {
	e := &PipeEmbedder{
		ParentOrigin: parentOrigin,
		Mount:        func(Frame, *PipeEnd) error { return errors.New("no room") },
	}
	if _, err := e.Embed(context.Background(), Frame{URL: childOrigin + "/"}, nil); err == nil {
		t.Fatal("expected mount error")
	}
}

func TestOriginOf(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://frame.example/path/x.html?q=1", "http://frame.example", false},
		{"https://frame.example:8443/", "https://frame.example:8443", false},
		{"/relative", "", true},
	}
	for _, tt := range tests {
		got, err := OriginOf(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("OriginOf(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("OriginOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAccepts(t *testing.T) {
	if !Accepts(AnyOrigin, "http://a.example") {
		t.Error("* should accept any origin")
	}
	if !Accepts("http://a.example", "http://a.example") {
		t.Error("exact origin should be accepted")
	}
	if Accepts("http://a.example", "http://b.example") {
		t.Error("different origin should be rejected")
	}
}
