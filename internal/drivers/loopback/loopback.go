// Package loopback implements a device that delivers its own transmitted
// frames back to the inbound path instead of external hardware. It is the
// reference implementation of the driver queueing/interrupt protocol.
package loopback

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tinyrange/netdev/internal/intr"
	"github.com/tinyrange/netdev/internal/queue"
	"github.com/tinyrange/netdev/internal/stack"
)

const (
	// MTU is sized for the largest IP datagram.
	MTU = 0xffff

	// queueLimit bounds how many frames may sit in the device queue before
	// transmit starts failing with ErrQueueFull.
	queueLimit = 16

	irqLine = intr.IRQBase + 1
)

type frame struct {
	typ  stack.EtherType
	data []byte
}

type driver struct {
	s   *stack.Stack
	irq intr.IRQ

	// mu guards the queue: producers are arbitrary caller goroutines,
	// the consumer is the interrupt dispatch goroutine running the ISR.
	mu    sync.Mutex
	queue queue.Queue[frame]
}

// Transmit copies the frame into the bounded device queue and raises the
// driver's IRQ line. A full queue fails this call only; the device stays up.
func (d *driver) Transmit(dev *stack.Device, typ stack.EtherType, data []byte, dst []byte) error {
	d.mu.Lock()
	if d.queue.Len() >= queueLimit {
		d.mu.Unlock()
		return fmt.Errorf("%w: dev=%s", stack.ErrQueueFull, dev.Name())
	}
	d.queue.Push(frame{typ: typ, data: slices.Clone(data)})
	depth := d.queue.Len()
	d.mu.Unlock()

	slog.Debug("queue pushed", "dev", dev.Name(), "type", typ.String(), "len", len(data), "depth", depth)
	if err := d.s.Interrupts().Raise(d.irq); err != nil {
		return err
	}
	return nil
}

// isr drains the device queue and hands every frame to the protocol
// dispatch. Frames are popped under the mutex but handed off outside it.
func (d *driver) isr(_ intr.IRQ, owner any) error {
	dev := owner.(*stack.Device)

	d.mu.Lock()
	frames := make([]frame, 0, d.queue.Len())
	for {
		f, ok := d.queue.Pop()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	d.mu.Unlock()

	for _, f := range frames {
		slog.Debug("queue popped", "dev", dev.Name(), "type", f.typ.String(), "len", len(f.data))
		d.s.Inbound(f.typ, f.data, dev)
	}
	return nil
}

// New creates a loopback device, registers it with the stack, and requests
// its IRQ line. Must be called before the stack runs.
func New(s *stack.Stack) (*stack.Device, error) {
	d := &driver{s: s, irq: irqLine}
	dev := &stack.Device{
		Type:   stack.TypeLoopback,
		MTU:    MTU,
		Flags:  stack.FlagLoopback,
		Driver: d,
		Priv:   d,
	}
	if err := s.RegisterDevice(dev); err != nil {
		return nil, err
	}
	if err := s.Interrupts().Request(d.irq, d.isr, true, dev.Name(), dev); err != nil {
		return nil, err
	}
	slog.Debug("loopback initialized", "dev", dev.Name())
	return dev, nil
}
