package channel

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/streadway/amqp"
)

// getAMQPConn returns a broker connection for testing, or skips the test.
func getAMQPConn(t *testing.T) *amqp.Connection {
	if testing.Short() {
		t.Skip("skipping AMQP test in short mode")
	}

	cfg := DefaultAMQPConfig()
	if url := os.Getenv("AMQP_URL"); url != "" {
		cfg.URL = url
	}

	conn, err := DialAMQP(cfg)
	if err != nil {
		t.Skipf("skipping: AMQP broker not available at %s: %v", cfg.URL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAMQP_Exchange(t *testing.T) {
	conn := getAMQPConn(t)
	cfg := DefaultAMQPConfig()
	name := fmt.Sprintf("ift_test_%d", time.Now().UnixNano())

	// The child queue must exist before the parent publishes.
	child, err := NewAMQP(conn, cfg, name, SideChild, childOrigin, parentOrigin)
	if err != nil {
		t.Fatalf("NewAMQP child error: %v", err)
	}
	defer child.Close()
	parent, err := NewAMQP(conn, cfg, name, SideParent, parentOrigin, childOrigin)
	if err != nil {
		t.Fatalf("NewAMQP parent error: %v", err)
	}
	defer parent.Close()

	if err := parent.Post("hello", childOrigin); err != nil {
		t.Fatalf("Post error: %v", err)
	}
	env := recvEnvelope(t, child.Recv())
	if env.Data != "hello" || env.Origin != parentOrigin {
		t.Errorf("unexpected envelope %+v", env)
	}

	if err := child.Post("back", AnyOrigin); err != nil {
		t.Fatalf("Post error: %v", err)
	}
	if got := recvEnvelope(t, parent.Recv()).Data; got != "back" {
		t.Errorf("got %q", got)
	}

	if err := parent.Post("x", "http://other.example"); !errors.Is(err, ErrTargetMismatch) {
		t.Errorf("err = %v, want ErrTargetMismatch", err)
	}
}

func TestAMQP_Close(t *testing.T) {
	conn := getAMQPConn(t)
	name := fmt.Sprintf("ift_close_%d", time.Now().UnixNano())

	a, err := NewAMQP(conn, DefaultAMQPConfig(), name, SideChild, childOrigin, parentOrigin)
	if err != nil {
		t.Fatalf("NewAMQP error: %v", err)
	}
	a.Close()
	if err := a.Post("x", parentOrigin); !errors.Is(err, ErrClosed) {
		t.Errorf("Post after Close = %v, want ErrClosed", err)
	}
	if _, ok := <-a.Recv(); ok {
		t.Error("Recv should be closed")
	}
}

func TestNewAMQP_InvalidName(t *testing.T) {
	// Name validation happens before any broker interaction.
	if _, err := NewAMQP(nil, DefaultAMQPConfig(), "a.b", SideChild, childOrigin, parentOrigin); !errors.Is(err, ErrInvalidSubject) {
		t.Errorf("err = %v, want ErrInvalidSubject", err)
	}
}
