// Package dummy implements a device that discards every transmitted frame.
// It exercises the output path and the interrupt round trip without ever
// delivering anything, which makes it useful in harnesses and tests.
package dummy

import (
	"log/slog"

	"github.com/tinyrange/netdev/internal/intr"
	"github.com/tinyrange/netdev/internal/stack"
)

const (
	// MTU is arbitrary since nothing is ever delivered.
	MTU = 0xffff

	irqLine = intr.IRQBase
)

type driver struct {
	s   *stack.Stack
	irq intr.IRQ
}

// Transmit logs the frame, drops it, and still raises the IRQ line so the
// interrupt path gets exercised.
func (d *driver) Transmit(dev *stack.Device, typ stack.EtherType, data []byte, dst []byte) error {
	slog.Debug("dummy transmit", "dev", dev.Name(), "type", typ.String(), "len", len(data))
	return d.s.Interrupts().Raise(d.irq)
}

func (d *driver) isr(irq intr.IRQ, owner any) error {
	dev := owner.(*stack.Device)
	slog.Debug("dummy irq", "irq", int(irq), "dev", dev.Name())
	return nil
}

// New creates a dummy device and registers it with the stack. Must be called
// before the stack runs.
func New(s *stack.Stack) (*stack.Device, error) {
	d := &driver{s: s, irq: irqLine}
	dev := &stack.Device{
		Type:   stack.TypeDummy,
		MTU:    MTU,
		Driver: d,
	}
	if err := s.RegisterDevice(dev); err != nil {
		return nil, err
	}
	if err := s.Interrupts().Request(d.irq, d.isr, true, dev.Name(), dev); err != nil {
		return nil, err
	}
	slog.Debug("dummy initialized", "dev", dev.Name())
	return dev, nil
}
