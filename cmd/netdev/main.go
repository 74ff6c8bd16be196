// Command netdev runs the frame dispatch stack with devices from a config
// file and a periodic test sender, the smallest useful driver of the
// device → interrupt → protocol pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/tinyrange/netdev/internal/config"
	"github.com/tinyrange/netdev/internal/drivers/dummy"
	"github.com/tinyrange/netdev/internal/drivers/loopback"
	"github.com/tinyrange/netdev/internal/drivers/tap"
	"github.com/tinyrange/netdev/internal/protocols/ipv4"
	"github.com/tinyrange/netdev/internal/stack"
)

func logLevel(name string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func run() error {
	configPath := flag.String("config", "", "path to a netdev YAML config")
	debug := flag.Bool("debug", false, "enable debug logging")
	count := flag.Int("count", -1, "frames to send before exiting (overrides config; 0 sends until interrupted)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *count >= 0 {
		cfg.Sender.Count = *count
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel, *debug),
	})))

	s, err := stack.New()
	if err != nil {
		return err
	}

	if cfg.Capture != "" {
		f, err := os.Create(cfg.Capture)
		if err != nil {
			return fmt.Errorf("create capture file: %w", err)
		}
		defer f.Close()
		if err := s.CaptureTo(f); err != nil {
			return err
		}
		slog.Info("capturing frames", "path", cfg.Capture)
	}

	if err := ipv4.Register(s); err != nil {
		return err
	}

	var sendDev *stack.Device
	for _, devCfg := range cfg.Devices {
		var dev *stack.Device
		var err error
		switch devCfg.Kind {
		case config.KindLoopback:
			dev, err = loopback.New(s)
		case config.KindDummy:
			dev, err = dummy.New(s)
		case config.KindTap:
			dev, err = tap.New(s, devCfg.Interface)
		}
		if err != nil {
			return fmt.Errorf("create %s device: %w", devCfg.Kind, err)
		}
		if sendDev == nil {
			sendDev = dev
		}
	}

	interval, err := cfg.SenderInterval()
	if err != nil {
		return err
	}
	payload, err := cfg.SenderPayload()
	if err != nil {
		return err
	}

	if err := s.Run(); err != nil {
		return err
	}
	defer s.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sender(ctx, s, sendDev, stack.EtherType(cfg.Sender.EtherType), payload, cfg.Sender.Count, interval)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sender transmits the configured payload every interval. A zero count runs
// until the context is cancelled.
func sender(ctx context.Context, s *stack.Stack, dev *stack.Device, typ stack.EtherType, payload []byte, count int, interval time.Duration) error {
	var bar *progressbar.ProgressBar
	if count > 0 && term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.Default(int64(count), "sending frames")
		defer bar.Close()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.Output(dev, typ, payload, nil); err != nil {
			if errors.Is(err, stack.ErrQueueFull) {
				slog.Warn("frame dropped", "dev", dev.Name(), "error", err)
				continue
			}
			return err
		}
		sent++
		if bar != nil {
			bar.Add(1)
		}
		if count > 0 && sent >= count {
			slog.Info("sender finished", "sent", sent, "stats", fmt.Sprintf("%+v", dev.Stats()))
			return nil
		}
	}
}

func main() {
	if err := run(); err != nil {
		slog.Error("netdev failed", "error", err)
		os.Exit(1)
	}
}
