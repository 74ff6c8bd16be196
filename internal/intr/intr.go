// Package intr emulates hardware interrupt delivery for the network stack.
//
// Devices register handlers on numbered IRQ lines and raise those lines from
// arbitrary goroutines. A single dispatch goroutine owned by the Controller
// waits for raised lines and invokes the matching handlers strictly one at a
// time. Nothing in this package ever runs two handlers concurrently; the
// protocol dispatch layer depends on that.
package intr

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// IRQ identifies a single interrupt line.
type IRQ int

const (
	// irqTerminate tells the dispatch goroutine to exit. Raised only by
	// Shutdown.
	irqTerminate IRQ = iota

	// SoftIRQ is the reserved line that defers protocol processing out of
	// device interrupt handlers.
	SoftIRQ

	// IRQBase is the first line available to device drivers.
	IRQBase IRQ = 32
)

// Handler is invoked on the dispatch goroutine when its line is raised.
// owner is the value supplied at registration, typically the owning device.
type Handler func(irq IRQ, owner any) error

var (
	// ErrIRQConflict reports a registration on a line whose existing
	// registrant (or the new one) does not allow sharing. This is a
	// configuration error; it must be fixed before the controller runs.
	ErrIRQConflict = errors.New("intr: conflicts with an already registered IRQ line")
	// ErrRunning reports a registration attempted after Run.
	ErrRunning = errors.New("intr: controller already running")
	// ErrUnknownIRQ reports a raise on a line no handler was registered for.
	ErrUnknownIRQ = errors.New("intr: unrecognized IRQ line")
)

type irqEntry struct {
	irq     IRQ
	handler Handler
	shared  bool
	name    string
	owner   any
}

const (
	stateInitialized int32 = iota
	stateRunning
	stateTerminated
)

// Controller owns the set of recognized interrupt lines and the dispatch
// goroutine that services them.
//
// Raise is safe from any goroutine at any time. Request and OnSoftIRQ must
// complete before Run; the line table is read lock-free afterwards.
type Controller struct {
	state atomic.Int32

	// mu serializes registration. The tables are never mutated after Run,
	// so the dispatch goroutine reads them lock-free.
	mu      sync.Mutex
	entries []irqEntry
	softirq func()

	// One pending flag per recognized line. Raising a line whose flag is
	// already set coalesces into the wakeup that is already on its way;
	// the dispatch loop drains every set flag per wakeup, so a burst of
	// raises needs only one notification (at-least-one-wakeup-per-burst).
	pending map[IRQ]*atomic.Bool
	order   []IRQ

	notify chan struct{}
	ready  chan struct{}
	done   chan struct{}
}

// New returns an initialized controller. The terminate and softirq lines are
// always recognized.
func New() *Controller {
	c := &Controller{
		pending: make(map[IRQ]*atomic.Bool),
		notify:  make(chan struct{}, 1),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.recognize(irqTerminate)
	c.recognize(SoftIRQ)
	return c
}

func (c *Controller) recognize(irq IRQ) {
	if _, ok := c.pending[irq]; ok {
		return
	}
	c.pending[irq] = new(atomic.Bool)
	c.order = append(c.order, irq)
}

// OnSoftIRQ installs the callback invoked when the softirq line is raised.
// Must be called before Run.
func (c *Controller) OnSoftIRQ(fn func()) error {
	if c.state.Load() != stateInitialized {
		return ErrRunning
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.softirq = fn
	return nil
}

// Request registers handler on the given line. A line already hosting a
// registration can only accept another if both registrations declare shared.
// Must be called before Run.
func (c *Controller) Request(irq IRQ, handler Handler, shared bool, name string, owner any) error {
	if c.state.Load() != stateInitialized {
		return ErrRunning
	}
	if irq == irqTerminate || irq == SoftIRQ {
		return fmt.Errorf("intr: line %d is reserved", irq)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.irq == irq && (!entry.shared || !shared) {
			return fmt.Errorf("%w: irq=%d, name=%s, already held by %s", ErrIRQConflict, irq, name, entry.name)
		}
	}
	c.entries = append(c.entries, irqEntry{
		irq:     irq,
		handler: handler,
		shared:  shared,
		name:    name,
		owner:   owner,
	})
	c.recognize(irq)
	slog.Debug("irq registered", "irq", int(irq), "name", name, "shared", shared)
	return nil
}

// Raise marks the line pending and wakes the dispatch goroutine. It never
// blocks the caller. Duplicate raises of a line whose notification has not
// been serviced yet may collapse into a single wakeup. All registrations
// must have completed before the first raise.
func (c *Controller) Raise(irq IRQ) error {
	flag, ok := c.pending[irq]
	if !ok {
		return fmt.Errorf("%w: irq=%d", ErrUnknownIRQ, irq)
	}
	flag.Store(true)
	select {
	case c.notify <- struct{}{}:
	default:
		// A wakeup is already queued; the dispatch loop will see the flag.
	}
	return nil
}

// Run starts the dispatch goroutine and returns once it is waiting for
// notifications.
func (c *Controller) Run() error {
	if !c.state.CompareAndSwap(stateInitialized, stateRunning) {
		return ErrRunning
	}
	go c.dispatch()
	<-c.ready
	return nil
}

// Shutdown raises the terminate line and waits for the dispatch goroutine to
// exit. Calling Shutdown on a controller that was never run is a no-op.
// Concurrent and repeated calls all block until dispatch has exited.
func (c *Controller) Shutdown() {
	if c.state.CompareAndSwap(stateRunning, stateTerminated) {
		// The terminate line is always recognized, so this cannot fail.
		_ = c.Raise(irqTerminate)
		<-c.done
		return
	}
	if c.state.Load() == stateTerminated {
		// Another Shutdown won the race and raised terminate; wait for
		// dispatch to exit rather than returning while handlers may
		// still be running. Never-run controllers stay in the
		// initialized state and fall through without blocking.
		<-c.done
	}
}

// dispatch services raised lines until the terminate line is raised. It is
// the only goroutine that ever invokes IRQ handlers or the softirq callback,
// and it invokes them strictly sequentially.
func (c *Controller) dispatch() {
	defer close(c.done)

	slog.Debug("interrupt dispatch started")
	close(c.ready)
	for range c.notify {
		if c.pending[irqTerminate].Swap(false) {
			slog.Debug("interrupt dispatch terminated")
			return
		}
		for _, irq := range c.order {
			if irq == irqTerminate || !c.pending[irq].Swap(false) {
				continue
			}
			if irq == SoftIRQ {
				if c.softirq != nil {
					c.softirq()
				}
				continue
			}
			for _, entry := range c.entries {
				if entry.irq != irq {
					continue
				}
				slog.Debug("irq", "irq", int(irq), "name", entry.name)
				if err := entry.handler(irq, entry.owner); err != nil {
					slog.Error("irq handler failed", "irq", int(irq), "name", entry.name, "error", err)
				}
			}
		}
	}
}
