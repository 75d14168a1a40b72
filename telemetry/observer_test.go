package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vinayprograms/ift/channel"
	"github.com/vinayprograms/ift/transport"
)

// TestObservers_OverTransport wires both observers into a live pair.
func TestObservers_OverTransport(t *testing.T) {
	metrics, _ := NewMetrics(nil)
	tracer, sr := newRecordingTracer(t)
	calls := NewCallTracer(tracer)

	reg := transport.NewRegistry()
	reg.Register("echo",
		func(c *transport.Client) (transport.Service, error) { return c, nil },
		func(c *transport.Client) (transport.Service, error) {
			c.Handle("echo", func(a transport.Args) (any, error) { return a.Value(0), nil })
			return c, nil
		})

	var child *transport.Transport
	e := &channel.PipeEmbedder{
		ParentOrigin: "http://trusted.example",
		Mount: func(frame channel.Frame, end *channel.PipeEnd) error {
			var err error
			child, err = transport.NewChild(end, "http://trusted.example", transport.WithRegistry(reg))
			if err != nil {
				return err
			}
			_, err = child.Client("echo")
			return err
		},
	}
	parent, err := transport.NewParent(context.Background(), e,
		transport.ParentConfig{ChildOrigin: "http://frame.example"}, nil,
		transport.WithRegistry(reg),
		transport.WithObserver(transport.Observers{metrics, calls}))
	if err != nil {
		t.Fatalf("NewParent error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go parent.Run(ctx)
	go child.Run(ctx)
	defer parent.Close()
	defer child.Close()

	if _, err := parent.Client("echo"); err != nil {
		t.Fatalf("Client error: %v", err)
	}

	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()
	results, err := parent.Call(callCtx, "echo", "echo", "hi")
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if results.Value(0) != "hi" {
		t.Errorf("result = %v", results.Value(0))
	}

	if got := testutil.ToFloat64(metrics.finished.WithLabelValues("echo", "echo", OutcomeOK)); got != 1 {
		t.Errorf("finished ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.sent.WithLabelValues("echo", "method")); got != 1 {
		t.Errorf("sent method = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.pending); got != 0 {
		t.Errorf("pending = %v, want 0", got)
	}
	if len(sr.Ended()) != 1 {
		t.Errorf("ended spans = %d, want 1", len(sr.Ended()))
	}
}
