// Package config loads the YAML configuration consumed by the netdev
// command: which devices to create, where to write captures, and what the
// test sender should transmit.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Device kinds accepted in the devices list.
const (
	KindLoopback = "loopback"
	KindDummy    = "dummy"
	KindTap      = "tap"
)

// DeviceConfig describes one device to create before the stack runs.
type DeviceConfig struct {
	Kind      string `yaml:"kind"`
	Interface string `yaml:"interface,omitempty"` // tap only
}

// SenderConfig describes the frame generator the harness runs after start.
// Count 0 means send until interrupted.
type SenderConfig struct {
	Count     int    `yaml:"count,omitempty"`
	Interval  string `yaml:"interval,omitempty"`
	EtherType uint16 `yaml:"etherType,omitempty"`
	Payload   string `yaml:"payload,omitempty"` // hex encoded
}

// Config is the root of the netdev configuration file.
type Config struct {
	LogLevel string         `yaml:"logLevel,omitempty"`
	Capture  string         `yaml:"capture,omitempty"`
	Devices  []DeviceConfig `yaml:"devices,omitempty"`
	Sender   SenderConfig   `yaml:"sender,omitempty"`
}

// Default returns the configuration used when no file is given: a single
// loopback device and a one-second IPv4 test sender.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Devices:  []DeviceConfig{{Kind: KindLoopback}},
		Sender: SenderConfig{
			Interval:  "1s",
			EtherType: 0x0800,
			Payload:   "450000300000000040110000c0000201c000020200000000000000000000000000000000000000000000000000000000",
		},
	}
}

// Load reads and validates a configuration file. Omitted sender fields fall
// back to the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	cfg.Devices = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = []DeviceConfig{{Kind: KindLoopback}}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks kinds and decodable fields without touching the system.
func (c *Config) Validate() error {
	for i, dev := range c.Devices {
		switch dev.Kind {
		case KindLoopback, KindDummy:
		case KindTap:
			if dev.Interface == "" {
				return fmt.Errorf("config: devices[%d]: tap requires an interface name", i)
			}
		default:
			return fmt.Errorf("config: devices[%d]: unknown kind %q", i, dev.Kind)
		}
	}
	if _, err := c.SenderInterval(); err != nil {
		return err
	}
	if _, err := c.SenderPayload(); err != nil {
		return err
	}
	return nil
}

// SenderInterval parses the sender interval.
func (c *Config) SenderInterval() (time.Duration, error) {
	if c.Sender.Interval == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(c.Sender.Interval)
	if err != nil {
		return 0, fmt.Errorf("config: sender interval: %w", err)
	}
	return d, nil
}

// SenderPayload decodes the hex payload.
func (c *Config) SenderPayload() ([]byte, error) {
	data, err := hex.DecodeString(c.Sender.Payload)
	if err != nil {
		return nil, fmt.Errorf("config: sender payload: %w", err)
	}
	return data, nil
}
