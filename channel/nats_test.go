package channel

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// getNATSConn returns a connection for testing, or skips the test.
func getNATSConn(t *testing.T) *nats.Conn {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	conn, err := ConnectNATS(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func TestSubject(t *testing.T) {
	got, err := Subject("", "ift_abc", SideChild)
	if err != nil {
		t.Fatalf("Subject error: %v", err)
	}
	if got != "ift.ift_abc.child" {
		t.Errorf("Subject() = %q", got)
	}
	for _, bad := range []string{"", "a.b", "a*", "a b", ">"} {
		if _, err := Subject("ift", bad, SideParent); !errors.Is(err, ErrInvalidSubject) {
			t.Errorf("Subject(%q) err = %v, want ErrInvalidSubject", bad, err)
		}
	}
}

func TestNATS_Exchange(t *testing.T) {
	conn := getNATSConn(t)
	cfg := DefaultNATSConfig()
	name := fmt.Sprintf("ift_test_%d", time.Now().UnixNano())

	parent, err := NewNATS(conn, cfg, name, SideParent, parentOrigin, childOrigin)
	if err != nil {
		t.Fatalf("NewNATS parent error: %v", err)
	}
	defer parent.Close()
	child, err := NewNATS(conn, cfg, name, SideChild, childOrigin, parentOrigin)
	if err != nil {
		t.Fatalf("NewNATS child error: %v", err)
	}
	defer child.Close()

	if err := parent.Post("hello", childOrigin); err != nil {
		t.Fatalf("Post error: %v", err)
	}
	env := recvEnvelope(t, child.Recv())
	if env.Data != "hello" || env.Origin != parentOrigin {
		t.Errorf("unexpected envelope %+v", env)
	}

	if err := child.Post("back", "*"); err != nil {
		t.Fatalf("Post error: %v", err)
	}
	if got := recvEnvelope(t, parent.Recv()).Data; got != "back" {
		t.Errorf("got %q", got)
	}

	if err := parent.Post("x", "http://other.example"); !errors.Is(err, ErrTargetMismatch) {
		t.Errorf("err = %v, want ErrTargetMismatch", err)
	}
}

func TestNATS_Close(t *testing.T) {
	conn := getNATSConn(t)
	n, err := NewNATS(conn, DefaultNATSConfig(), "ift_close", SideChild, childOrigin, parentOrigin)
	if err != nil {
		t.Fatalf("NewNATS error: %v", err)
	}
	n.Close()
	if err := n.Post("x", parentOrigin); !errors.Is(err, ErrClosed) {
		t.Errorf("Post after Close = %v, want ErrClosed", err)
	}
	if _, ok := <-n.Recv(); ok {
		t.Error("Recv should be closed")
	}
}
