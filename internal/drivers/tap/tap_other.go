//go:build !linux

// Package tap implements an Ethernet device backed by a Linux TAP interface.
// On other platforms the factory reports that TAP devices are unavailable.
package tap

import (
	"errors"

	"github.com/tinyrange/netdev/internal/stack"
)

// MTU is the standard Ethernet payload limit.
const MTU = 1500

// New always fails on platforms without TAP support.
func New(s *stack.Stack, ifname string) (*stack.Device, error) {
	return nil, errors.New("tap: only supported on linux")
}
