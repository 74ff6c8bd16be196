// Package stack implements the device registry, protocol registry, and frame
// dispatch pipeline that connect device drivers to protocol handlers.
//
// One frame's path: Output -> driver transmit (the driver queues the frame
// and raises its IRQ line) -> the interrupt dispatch goroutine runs the
// driver's ISR -> the ISR drains the device queue into Inbound -> Inbound
// routes each frame by type onto the matching protocol's queue and raises
// the softirq line -> the same dispatch goroutine drains every protocol
// queue into its handler.
package stack

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyrange/netdev/internal/intr"
	"github.com/tinyrange/netdev/internal/pcap"
	"github.com/tinyrange/netdev/internal/queue"
)

// ProtocolHandler receives one inbound frame payload and the device it
// arrived on. Handlers run on the interrupt dispatch goroutine, one at a
// time; they must not block for long.
type ProtocolHandler func(data []byte, dev *Device)

// inboundFrame is one queued protocol frame: a small header plus an owned
// copy of the payload.
type inboundFrame struct {
	dev  *Device
	data []byte
}

type protocolEntry struct {
	typ     EtherType
	handler ProtocolHandler

	// queue is only ever touched by Inbound and drainProtocols, both of
	// which run on the single interrupt dispatch goroutine. That is a
	// correctness-critical invariant, not an optimization: there is no
	// lock here to fall back on.
	queue queue.Queue[inboundFrame]
}

// Stack owns the device list, the protocol registry, and the interrupt
// controller. Both registries are mutable only before Run and read lock-free
// afterwards.
type Stack struct {
	mu        sync.Mutex
	devices   []*Device
	protocols []*protocolEntry
	nextIndex int

	running atomic.Bool
	intr    *intr.Controller

	capture     *pcap.Writer
	unsupported atomic.Uint64
}

// New returns an initialized stack with its own interrupt controller. The
// softirq line is wired to the protocol drain.
func New() (*Stack, error) {
	s := &Stack{intr: intr.New()}
	if err := s.intr.OnSoftIRQ(s.drainProtocols); err != nil {
		return nil, err
	}
	slog.Debug("stack initialized")
	return s, nil
}

// Interrupts exposes the stack's interrupt controller so drivers can request
// and raise their IRQ lines.
func (s *Stack) Interrupts() *intr.Controller { return s.intr }

// CaptureTo records every outbound and inbound frame to w as a pcap stream.
// Must be called before Run.
func (s *Stack) CaptureTo(w io.Writer) error {
	if s.running.Load() {
		return ErrRunning
	}
	pw, err := pcap.NewWriter(w, 0, pcap.LinkTypeEthernet)
	if err != nil {
		return err
	}
	s.capture = pw
	return nil
}

// RegisterDevice assigns the device its name and index and prepends it to
// the device list. Must be called before Run; devices are never unregistered.
func (s *Stack) RegisterDevice(dev *Device) error {
	if s.running.Load() {
		return ErrRunning
	}
	if dev.Driver == nil {
		return ErrNoTransmit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dev.index = s.nextIndex
	dev.name = fmt.Sprintf("net%d", dev.index)
	s.nextIndex++
	s.devices = slices.Insert(s.devices, 0, dev)
	slog.Info("device registered", "dev", dev.name, "type", fmt.Sprintf("0x%04x", uint16(dev.Type)))
	return nil
}

// RegisterProtocol adds a handler for the given frame type with an empty
// inbound queue. A type may be registered at most once. Must be called
// before Run.
func (s *Stack) RegisterProtocol(typ EtherType, handler ProtocolHandler) error {
	if s.running.Load() {
		return ErrRunning
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.protocols {
		if entry.typ == typ {
			return fmt.Errorf("%w: type=%s", ErrDuplicateProtocol, typ)
		}
	}
	s.protocols = slices.Insert(s.protocols, 0, &protocolEntry{typ: typ, handler: handler})
	slog.Info("protocol registered", "type", typ.String())
	return nil
}

// Output submits a frame for transmission on the given device. It rejects
// frames on a device that is not up and frames longer than the device MTU,
// and otherwise delegates to the driver's transmit operation. Output never
// modifies device state when it fails.
func (s *Stack) Output(dev *Device, typ EtherType, data []byte, dst []byte) error {
	if !dev.IsUp() {
		return fmt.Errorf("%w: dev=%s", ErrDeviceNotUp, dev.name)
	}
	if len(data) > int(dev.MTU) {
		return fmt.Errorf("%w: dev=%s, mtu=%d, len=%d", ErrFrameTooLong, dev.name, dev.MTU, len(data))
	}
	slog.Debug("output", "dev", dev.name, "type", typ.String(), "len", len(data))
	if err := dev.Driver.Transmit(dev, typ, data, dst); err != nil {
		return fmt.Errorf("stack: transmit on %s: %w", dev.name, err)
	}
	dev.stats.txFrames.Add(1)
	dev.stats.txBytes.Add(uint64(len(data)))
	s.captureFrame(typ, data)
	return nil
}

// Inbound is the hand-off point called by driver interrupt handlers. It runs
// on the interrupt dispatch goroutine only. Frames with no registered
// protocol are discarded; an unsupported type is not an error.
func (s *Stack) Inbound(typ EtherType, data []byte, dev *Device) {
	for _, entry := range s.protocols {
		if entry.typ != typ {
			continue
		}
		entry.queue.Push(inboundFrame{dev: dev, data: slices.Clone(data)})
		slog.Debug("inbound queued", "dev", dev.name, "type", typ.String(), "len", len(data), "depth", entry.queue.Len())
		s.captureFrame(typ, data)
		if err := s.intr.Raise(intr.SoftIRQ); err != nil {
			slog.Error("raise softirq", "error", err)
		}
		return
	}
	dev.stats.drops.Add(1)
	s.unsupported.Add(1)
	slog.Debug("inbound discarded, unsupported type", "dev", dev.name, "type", typ.String(), "len", len(data))
}

// UnsupportedFrames returns the number of inbound frames discarded because
// no protocol was registered for their type.
func (s *Stack) UnsupportedFrames() uint64 { return s.unsupported.Load() }

// drainProtocols empties every protocol queue into its handler. It runs on
// the interrupt dispatch goroutine whenever the softirq line is raised.
// Draining to empty, rather than one entry per notification, is what makes
// coalesced softirq raises safe.
func (s *Stack) drainProtocols() {
	for _, entry := range s.protocols {
		for {
			frame, ok := entry.queue.Pop()
			if !ok {
				break
			}
			frame.dev.stats.rxFrames.Add(1)
			frame.dev.stats.rxBytes.Add(uint64(len(frame.data)))
			entry.handler(frame.data, frame.dev)
		}
	}
}

// Run starts the interrupt dispatch goroutine and opens all registered
// devices. A device that fails to open (or is already up) is logged and
// skipped.
func (s *Stack) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	if err := s.intr.Run(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("stack: start interrupt dispatch: %w", err)
	}
	slog.Debug("open all devices")
	for _, dev := range s.devices {
		if err := s.openDevice(dev); err != nil {
			slog.Error("open device", "dev", dev.name, "error", err)
		}
	}
	slog.Debug("running")
	return nil
}

// Shutdown closes all devices and stops the interrupt dispatch goroutine.
// Calling Shutdown on a stack that was never run is a no-op.
func (s *Stack) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		s.intr.Shutdown()
		return
	}
	slog.Debug("close all devices")
	for _, dev := range s.devices {
		if err := s.closeDevice(dev); err != nil {
			slog.Error("close device", "dev", dev.name, "error", err)
		}
	}
	s.intr.Shutdown()
	slog.Debug("shut down")
}

func (s *Stack) openDevice(dev *Device) error {
	if dev.IsUp() {
		return fmt.Errorf("already opened")
	}
	if o, ok := dev.Driver.(Opener); ok {
		if err := o.Open(dev); err != nil {
			return err
		}
	}
	dev.up.Store(true)
	slog.Info("device state", "dev", dev.name, "state", dev.state())
	return nil
}

func (s *Stack) closeDevice(dev *Device) error {
	if !dev.IsUp() {
		return fmt.Errorf("not opened")
	}
	if c, ok := dev.Driver.(Closer); ok {
		if err := c.Close(dev); err != nil {
			return err
		}
	}
	dev.up.Store(false)
	slog.Info("device state", "dev", dev.name, "state", dev.state())
	return nil
}

// captureFrame records a frame to the pcap tap, synthesizing an Ethernet
// header since frames inside the stack carry only a type tag.
func (s *Stack) captureFrame(typ EtherType, data []byte) {
	if s.capture == nil {
		return
	}
	frame := make([]byte, 14+len(data))
	binary.BigEndian.PutUint16(frame[12:14], uint16(typ))
	copy(frame[14:], data)
	if err := s.capture.WriteFrame(time.Now(), frame); err != nil {
		slog.Error("pcap capture", "error", err)
	}
}
