//go:build linux

// Package tap implements an Ethernet device backed by a Linux TAP interface.
// Frames read from the kernel enter the stack through the same bounded
// queue + IRQ protocol the loopback driver uses; transmitted frames get an
// Ethernet header and are written to the TAP file descriptor.
package tap

import (
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/tinyrange/netdev/internal/intr"
	"github.com/tinyrange/netdev/internal/queue"
	"github.com/tinyrange/netdev/internal/stack"
)

const (
	// MTU is the standard Ethernet payload limit.
	MTU = 1500

	queueLimit = 64

	irqLine = intr.IRQBase + 2
)

var broadcastAddr = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

type frame struct {
	typ  stack.EtherType
	data []byte
}

type driver struct {
	s      *stack.Stack
	irq    intr.IRQ
	ifname string
	fd     int

	mu    sync.Mutex
	queue queue.Queue[frame]

	readerDone chan struct{}
}

// Open starts the reader goroutine that moves frames from the kernel into
// the device queue.
func (d *driver) Open(dev *stack.Device) error {
	d.readerDone = make(chan struct{})
	go d.reader(dev)
	return nil
}

// Close tears down the TAP file descriptor, which also unblocks the reader.
func (d *driver) Close(dev *stack.Device) error {
	err := unix.Close(d.fd)
	<-d.readerDone
	return err
}

// Transmit prepends an Ethernet header and writes the frame to the TAP fd.
func (d *driver) Transmit(dev *stack.Device, typ stack.EtherType, data []byte, dst []byte) error {
	if dst == nil {
		dst = broadcastAddr
	}
	buf := make([]byte, header.EthernetMinimumSize+len(data))
	header.Ethernet(buf).Encode(&header.EthernetFields{
		SrcAddr: tcpip.LinkAddress(dev.Addr),
		DstAddr: tcpip.LinkAddress(dst),
		Type:    tcpip.NetworkProtocolNumber(typ),
	})
	copy(buf[header.EthernetMinimumSize:], data)
	if _, err := unix.Write(d.fd, buf); err != nil {
		return fmt.Errorf("tap: write %s: %w", d.ifname, err)
	}
	return nil
}

// reader blocks on the TAP fd and feeds complete Ethernet frames into the
// device queue, raising the IRQ line per frame burst.
func (d *driver) reader(dev *stack.Device) {
	defer close(d.readerDone)

	buf := make([]byte, header.EthernetMinimumSize+MTU)
	for {
		n, err := unix.Read(d.fd, buf)
		if err != nil {
			// EBADF after Close is the normal exit path.
			slog.Debug("tap reader exiting", "dev", dev.Name(), "error", err)
			return
		}
		if n < header.EthernetMinimumSize {
			slog.Debug("tap short frame", "dev", dev.Name(), "len", n)
			continue
		}
		eth := header.Ethernet(buf[:n])
		f := frame{
			typ:  stack.EtherType(eth.Type()),
			data: slices.Clone(buf[header.EthernetMinimumSize:n]),
		}

		d.mu.Lock()
		if d.queue.Len() >= queueLimit {
			d.mu.Unlock()
			dev.CountDrop()
			slog.Debug("tap queue full, frame dropped", "dev", dev.Name())
			continue
		}
		d.queue.Push(f)
		d.mu.Unlock()

		if err := d.s.Interrupts().Raise(d.irq); err != nil {
			slog.Error("tap raise irq", "dev", dev.Name(), "error", err)
		}
	}
}

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
		d.s.Inbound(f.typ, f.data, dev)
	}
	return nil
}

// New opens the named TAP interface, creates an Ethernet device for it, and
// registers both the device and its IRQ line. Must be called before the
// stack runs.
func New(s *stack.Stack, ifname string) (*stack.Device, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tap: open /dev/net/tun: %w", err)
	}
	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tap: interface name %q: %w", ifname, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tap: TUNSETIFF %s: %w", ifname, err)
	}

	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tap: query %s: %w", ifname, err)
	}

	d := &driver{s: s, irq: irqLine, ifname: ifname, fd: fd}
	dev := &stack.Device{
		Type:      stack.TypeEthernet,
		MTU:       MTU,
		Flags:     stack.FlagBroadcast | stack.FlagNeedARP,
		HeaderLen: header.EthernetMinimumSize,
		AddrLen:   6,
		Addr:      slices.Clone(iface.HardwareAddr),
		Peer:      slices.Clone(broadcastAddr),
		Driver:    d,
		Priv:      d,
	}
	if err := s.RegisterDevice(dev); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := s.Interrupts().Request(d.irq, d.isr, true, dev.Name(), dev); err != nil {
		unix.Close(fd)
		return nil, err
	}
	slog.Debug("tap initialized", "dev", dev.Name(), "ifname", ifname, "addr", iface.HardwareAddr.String())
	return dev, nil
}
