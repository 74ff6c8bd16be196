// Package ipv4 registers a receive handler for EtherType 0x0800.
//
// The handler validates the IPv4 header and logs the frame; actual routing,
// fragmentation, and transport demux are out of scope for this stack.
package ipv4

import (
	"log/slog"

	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/tinyrange/netdev/internal/stack"
)

// Register installs the IPv4 input handler. Must be called before the stack
// runs.
func Register(s *stack.Stack) error {
	return s.RegisterProtocol(stack.EtherTypeIPv4, input)
}

func input(data []byte, dev *stack.Device) {
	if len(data) < header.IPv4MinimumSize {
		slog.Debug("ipv4 frame too short", "dev", dev.Name(), "len", len(data))
		return
	}
	h := header.IPv4(data)
	if !h.IsValid(len(data)) {
		slog.Debug("ipv4 invalid header", "dev", dev.Name(), "len", len(data))
		return
	}
	slog.Info("ipv4 input",
		"dev", dev.Name(),
		"src", h.SourceAddress().String(),
		"dst", h.DestinationAddress().String(),
		"proto", int(h.Protocol()),
		"ttl", int(h.TTL()),
		"len", h.TotalLength())
}
