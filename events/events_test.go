package events

import (
	"errors"
	"reflect"
	"testing"
)

func TestEmitter_ZeroValue(t *testing.T) {
	var e Emitter[string]
	if err := e.Trigger("nothing", "a"); err != nil {
		t.Fatalf("Trigger on empty emitter: %v", err)
	}
	if n := e.Listeners("nothing"); n != 0 {
		t.Errorf("Listeners = %d, want 0", n)
	}
}

func TestEmitter_TriggerOrder(t *testing.T) {
	var e Emitter[int]
	var order []string

	e.On("tick", func(args ...int) error { order = append(order, "first"); return nil })
	e.On("tick", func(args ...int) error { order = append(order, "second"); return nil })
	e.On("tick", func(args ...int) error { order = append(order, "third"); return nil })

	if err := e.Trigger("tick"); err != nil {
		t.Fatalf("Trigger error: %v", err)
	}

	want := []string{"third", "second", "first"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestEmitter_TriggerArgs(t *testing.T) {
	var e Emitter[string]
	var got []string

	e.On("change", func(args ...string) error {
		got = append(got, args...)
		return nil
	})
	e.Trigger("change", "key", "old", "new")

	want := []string{"key", "old", "new"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}
}

func TestEmitter_Off(t *testing.T) {
	var e Emitter[int]
	calls := 0

	sub := e.On("tick", func(args ...int) error { calls++; return nil })
	e.On("tock", func(args ...int) error { calls += 10; return nil })

	e.Off("tick", sub)
	e.Trigger("tick")
	if calls != 0 {
		t.Errorf("removed observer was called %d times", calls)
	}

	// Removing from another name is a no-op.
	e.Off("tock", sub)
	e.Trigger("tock")
	if calls != 10 {
		t.Errorf("calls = %d, want 10", calls)
	}
}

func TestEmitter_OffAllAndReset(t *testing.T) {
	var e Emitter[int]
	e.On("a", func(args ...int) error { return nil })
	e.On("a", func(args ...int) error { return nil })
	e.On("b", func(args ...int) error { return nil })

	e.OffAll("a")
	if n := e.Listeners("a"); n != 0 {
		t.Errorf("Listeners(a) = %d after OffAll", n)
	}
	if n := e.Listeners("b"); n != 1 {
		t.Errorf("Listeners(b) = %d, want 1", n)
	}

	e.Reset()
	if n := e.Listeners("b"); n != 0 {
		t.Errorf("Listeners(b) = %d after Reset", n)
	}
}

func TestEmitter_AddDuringTrigger(t *testing.T) {
	var e Emitter[int]
	added := 0

	e.On("tick", func(args ...int) error {
		e.On("tick", func(args ...int) error { added++; return nil })
		return nil
	})

	e.Trigger("tick")
	if added != 0 {
		t.Fatalf("observer added during pass was invoked in the same pass")
	}

	e.Trigger("tick")
	if added != 1 {
		t.Errorf("added = %d after second pass, want 1", added)
	}
}

func TestEmitter_ErrorAbortsPass(t *testing.T) {
	var e Emitter[int]
	boom := errors.New("boom")
	reached := false

	e.On("tick", func(args ...int) error { reached = true; return nil })
	e.On("tick", func(args ...int) error { return boom })

	err := e.Trigger("tick")
	if !errors.Is(err, boom) {
		t.Fatalf("Trigger error = %v, want %v", err, boom)
	}
	if reached {
		t.Error("observer after the failing one should not run")
	}
}
