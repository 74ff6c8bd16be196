package intr

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNonSharedLineRejectsSecondRegistration(t *testing.T) {
	c := New()

	handler := func(IRQ, any) error { return nil }
	if err := c.Request(IRQBase, handler, false, "first", nil); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	err := c.Request(IRQBase, handler, false, "second", nil)
	if !errors.Is(err, ErrIRQConflict) {
		t.Fatalf("expected ErrIRQConflict, got %v", err)
	}

	// Mixing shared with non-shared on the same line is also a conflict.
	err = c.Request(IRQBase, handler, true, "third", nil)
	if !errors.Is(err, ErrIRQConflict) {
		t.Fatalf("expected ErrIRQConflict for shared-on-unshared, got %v", err)
	}
}

func TestSharedLineInvokesAllHandlers(t *testing.T) {
	c := New()

	var first, second atomic.Int32
	err := c.Request(IRQBase+1, func(IRQ, any) error {
		first.Add(1)
		return nil
	}, true, "first", nil)
	if err != nil {
		t.Fatalf("first registration: %v", err)
	}
	err = c.Request(IRQBase+1, func(IRQ, any) error {
		second.Add(1)
		return nil
	}, true, "second", nil)
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}

	if err := c.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer c.Shutdown()

	if err := c.Raise(IRQBase + 1); err != nil {
		t.Fatalf("raise: %v", err)
	}
	waitFor(t, "both handlers", func() bool {
		return first.Load() >= 1 && second.Load() >= 1
	})
}

func TestHandlerReceivesLineAndOwner(t *testing.T) {
	c := New()

	type device struct{ name string }
	owner := &device{name: "net0"}

	got := make(chan struct{})
	var gotIRQ IRQ
	var gotOwner any
	err := c.Request(IRQBase, func(irq IRQ, o any) error {
		gotIRQ = irq
		gotOwner = o
		close(got)
		return nil
	}, false, owner.name, owner)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := c.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer c.Shutdown()

	if err := c.Raise(IRQBase); err != nil {
		t.Fatalf("raise: %v", err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
	if gotIRQ != IRQBase {
		t.Fatalf("handler saw irq %d, expected %d", gotIRQ, IRQBase)
	}
	if gotOwner != any(owner) {
		t.Fatalf("handler saw owner %v, expected %v", gotOwner, owner)
	}
}

func TestRaiseUnknownLine(t *testing.T) {
	c := New()
	if err := c.Raise(IRQBase + 7); !errors.Is(err, ErrUnknownIRQ) {
		t.Fatalf("expected ErrUnknownIRQ, got %v", err)
	}
}

func TestRequestAfterRunFails(t *testing.T) {
	c := New()
	if err := c.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer c.Shutdown()

	err := c.Request(IRQBase, func(IRQ, any) error { return nil }, false, "late", nil)
	if !errors.Is(err, ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
}

func TestReservedLinesRejectRegistration(t *testing.T) {
	c := New()
	if err := c.Request(SoftIRQ, func(IRQ, any) error { return nil }, false, "bad", nil); err == nil {
		t.Fatal("expected registration on the softirq line to fail")
	}
}

func TestShutdownBeforeRunIsNoop(t *testing.T) {
	c := New()

	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown blocked on a controller that was never run")
	}
}

func TestShutdownStopsDispatch(t *testing.T) {
	c := New()

	var calls atomic.Int32
	err := c.Request(IRQBase, func(IRQ, any) error {
		calls.Add(1)
		return nil
	}, false, "dev", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := c.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := c.Raise(IRQBase); err != nil {
		t.Fatalf("raise: %v", err)
	}
	waitFor(t, "handler", func() bool { return calls.Load() >= 1 })

	c.Shutdown()
	// A second shutdown must not block.
	c.Shutdown()

	// Raises after shutdown are accepted but never serviced.
	before := calls.Load()
	if err := c.Raise(IRQBase); err != nil {
		t.Fatalf("raise after shutdown: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != before {
		t.Fatal("handler ran after shutdown")
	}
}

func TestConcurrentShutdownWaitsForDispatchExit(t *testing.T) {
	c := New()

	var handlerRunning atomic.Bool
	entered := make(chan struct{})
	err := c.Request(IRQBase, func(IRQ, any) error {
		handlerRunning.Store(true)
		close(entered)
		time.Sleep(100 * time.Millisecond)
		handlerRunning.Store(false)
		return nil
	}, false, "slow", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := c.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Occupy the dispatch goroutine, then shut down from two goroutines at
	// once. Both calls must return only after the handler has finished.
	if err := c.Raise(IRQBase); err != nil {
		t.Fatalf("raise: %v", err)
	}
	<-entered

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c.Shutdown()
			if handlerRunning.Load() {
				t.Error("shutdown returned while a handler was still running")
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("shutdown did not return")
		}
	}
}

func TestCoalescedRaisesStillDrain(t *testing.T) {
	c := New()

	var calls atomic.Int32
	block := make(chan struct{})
	err := c.Request(IRQBase, func(IRQ, any) error {
		calls.Add(1)
		<-block
		return nil
	}, false, "slow", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := c.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer func() {
		close(block)
		c.Shutdown()
	}()

	// While the handler is blocked, pile up raises. They may coalesce, but
	// at least one further invocation must happen once the handler returns.
	if err := c.Raise(IRQBase); err != nil {
		t.Fatalf("raise: %v", err)
	}
	waitFor(t, "first invocation", func() bool { return calls.Load() == 1 })
	for i := 0; i < 10; i++ {
		if err := c.Raise(IRQBase); err != nil {
			t.Fatalf("raise: %v", err)
		}
	}
	block <- struct{}{}
	waitFor(t, "second invocation", func() bool { return calls.Load() >= 2 })
}
