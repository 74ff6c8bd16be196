package stack

import (
	"fmt"
	"sync/atomic"
)

// Type classifies a device by the kind of hardware it models.
type Type uint16

const (
	TypeDummy    Type = 0x0000
	TypeLoopback Type = 0x0001
	TypeEthernet Type = 0x0002
)

// Flags describe static device properties fixed at creation. The up/down
// state is tracked separately because it flips at run/shutdown time while
// arbitrary goroutines read it.
type Flags uint16

const (
	FlagLoopback  Flags = 0x0010
	FlagBroadcast Flags = 0x0020
	FlagP2P       Flags = 0x0040
	FlagNeedARP   Flags = 0x0100
)

// AddrLenMax is the size of the device address buffers. Devices with shorter
// (or no) hardware addresses use a prefix of it.
const AddrLenMax = 16

// EtherType is the wire-format discriminator that selects which registered
// protocol receives a frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeIPv6 EtherType = 0x86dd
)

func (t EtherType) String() string {
	switch t {
	case EtherTypeIPv4:
		return "ipv4"
	case EtherTypeARP:
		return "arp"
	case EtherTypeIPv6:
		return "ipv6"
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// Driver is the mandatory part of a device's capability set. Transmit is
// called from arbitrary goroutines; drivers guard their own state.
type Driver interface {
	Transmit(dev *Device, typ EtherType, data []byte, dst []byte) error
}

// Opener is implemented by drivers that need work when their device is
// brought up. Drivers without it simply skip that phase.
type Opener interface {
	Open(dev *Device) error
}

// Closer is the optional counterpart of Opener for device teardown.
type Closer interface {
	Close(dev *Device) error
}

// Stats is a point-in-time snapshot of a device's counters. Drops counts
// inbound frames lost on this device: discarded for an unsupported protocol
// type, or dropped by the driver before reaching the stack.
type Stats struct {
	TxFrames uint64
	TxBytes  uint64
	RxFrames uint64
	RxBytes  uint64
	Drops    uint64
}

type deviceStats struct {
	txFrames atomic.Uint64
	txBytes  atomic.Uint64
	rxFrames atomic.Uint64
	rxBytes  atomic.Uint64
	drops    atomic.Uint64
}

// Device describes one registered network device. Drivers fill the exported
// fields before handing the device to Stack.RegisterDevice; name and index
// are assigned at registration and never change afterwards.
type Device struct {
	Type      Type
	MTU       uint16
	Flags     Flags
	HeaderLen uint16
	AddrLen   uint16

	// Addr is the hardware address. Peer doubles as the broadcast address
	// on broadcast-capable devices. Unused for devices without addressing.
	Addr []byte
	Peer []byte

	Driver Driver

	// Priv is opaque driver-private state.
	Priv any

	name  string
	index int
	up    atomic.Bool

	stats deviceStats
}

// Name returns the name assigned at registration ("net0", "net1", ...).
func (d *Device) Name() string { return d.name }

// Index returns the registration index.
func (d *Device) Index() int { return d.index }

// IsUp reports whether the device has been opened.
func (d *Device) IsUp() bool { return d.up.Load() }

func (d *Device) state() string {
	if d.IsUp() {
		return "up"
	}
	return "down"
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	return Stats{
		TxFrames: d.stats.txFrames.Load(),
		TxBytes:  d.stats.txBytes.Load(),
		RxFrames: d.stats.rxFrames.Load(),
		RxBytes:  d.stats.rxBytes.Load(),
		Drops:    d.stats.drops.Load(),
	}
}

// CountDrop records an inbound frame this device lost before delivery.
// Drivers call it when a bounded queue forces them to discard a frame.
func (d *Device) CountDrop() {
	d.stats.drops.Add(1)
}
