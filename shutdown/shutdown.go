// Package shutdown tears down a transport process in phases.
//
// A process typically holds an inbound listener, one or more transports, the
// backends they were built on (stores, broker connections) and a telemetry
// provider. Closing them in the wrong order loses work: a transport closed
// after its store has nowhere to fail pending calls to, and a provider shut
// down before the transports drops their final spans. Sequence runs
// registered steps phase by phase, lowest first; steps in the same phase run
// concurrently.
package shutdown

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/logging"
)

// Phases in shutdown order.
const (
	PhaseIngress   = 10 // stop accepting new frames and connections
	PhaseTransport = 20 // close transports, failing outstanding calls
	PhaseBackend   = 30 // close stores and broker connections
	PhaseTelemetry = 40 // flush and stop metrics and trace export
)

// DefaultTimeout bounds a Sequence run when no deadline is given.
const DefaultTimeout = 10 * time.Second

// Step is one shutdown action.
type Step func(ctx context.Context) error

// Result reports one completed step.
type Result struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

type step struct {
	name  string
	phase int
	seq   int
	fn    Step
}

// Sequence runs registered steps once, in phase order.
type Sequence struct {
	logger *logging.Logger

	mu      sync.Mutex
	steps   []step
	results []Result

	once sync.Once
	err  error
	done chan struct{}
}

// New creates an empty sequence. A nil logger discards output.
func New(logger *logging.Logger) *Sequence {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Sequence{
		logger: logger.WithComponent("shutdown"),
		done:   make(chan struct{}),
	}
}

// Add registers fn to run in phase.
func (s *Sequence) Add(name string, phase int, fn Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{name: name, phase: phase, seq: len(s.steps), fn: fn})
}

// AddCloser registers c.Close to run in phase.
func (s *Sequence) AddCloser(name string, phase int, c io.Closer) {
	s.Add(name, phase, func(context.Context) error {
		return c.Close()
	})
}

// Run stops everything registered. Later calls return the first run's error
// without running anything. A step still running when ctx expires is
// abandoned and reported as TIMEOUT.
func (s *Sequence) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.err = s.run(ctx)
		close(s.done)
	})
	<-s.done
	return s.err
}

// RunWithTimeout is Run with a fresh deadline.
func (s *Sequence) RunWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Run(ctx)
}

// Done is closed once Run has finished.
func (s *Sequence) Done() <-chan struct{} {
	return s.done
}

// Results returns the completed steps in completion order.
func (s *Sequence) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (s *Sequence) run(ctx context.Context) error {
	s.mu.Lock()
	steps := make([]step, len(s.steps))
	copy(steps, s.steps)
	s.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].phase != steps[j].phase {
			return steps[i].phase < steps[j].phase
		}
		return steps[i].seq < steps[j].seq
	})

	var errs []error
	for start := 0; start < len(steps); {
		end := start
		for end < len(steps) && steps[end].phase == steps[start].phase {
			end++
		}
		if ctx.Err() != nil {
			for _, st := range steps[start:] {
				errs = append(errs, s.record(st, 0, errors.Timeout("not run before deadline")))
			}
			break
		}
		errs = append(errs, s.runPhase(ctx, steps[start:end])...)
		start = end
	}
	return errors.Join(errs...)
}

func (s *Sequence) runPhase(ctx context.Context, steps []step) []error {
	errs := make([]error, len(steps))
	var wg sync.WaitGroup
	for i, st := range steps {
		wg.Add(1)
		go func(i int, st step) {
			defer wg.Done()
			begin := time.Now()
			err := runStep(ctx, st)
			errs[i] = s.record(st, time.Since(begin), err)
		}(i, st)
	}
	wg.Wait()
	return errs
}

func runStep(ctx context.Context, st step) (err error) {
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- errors.RecoverPanic(r)
			}
		}()
		result <- st.fn(ctx)
	}()
	select {
	case err = <-result:
		return err
	case <-ctx.Done():
		return errors.Timeout(st.name + " did not stop before deadline")
	}
}

func (s *Sequence) record(st step, d time.Duration, err error) error {
	s.mu.Lock()
	s.results = append(s.results, Result{Name: st.name, Phase: st.phase, Duration: d, Err: err})
	s.mu.Unlock()

	fields := map[string]interface{}{
		"step":        st.name,
		"phase":       st.phase,
		"duration_ms": d.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Warn("shutdown_step_failed", fields)
		return errors.Wrap(err, "shutdown "+st.name)
	}
	s.logger.Debug("shutdown_step_done", fields)
	return nil
}
