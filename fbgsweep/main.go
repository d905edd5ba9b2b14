package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/itohio/gofbg/pkg/config"
	"github.com/itohio/gofbg/pkg/instrument"
	"github.com/itohio/gofbg/pkg/publish"
	"github.com/itohio/gofbg/pkg/sweep"
)

const (
	maxReconnects  = 10
	reconnectDelay = 3 * time.Second
)

func main() {
	var (
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag     = flag.Bool("mock", false, "Use simulated interrogator and switch")
		readingsFlag = flag.Int("readings", 0, "Readings per switch position (overrides config)")
		countFlag    = flag.Int("count", 0, "Number of sweeps (0 = until interrupted)")
		natsFlag     = flag.String("nats", "", "NATS server URL (overrides config)")
		debugFlag    = flag.Bool("debug", false, "Log every instrument command")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *readingsFlag > 0 {
		cfg.Acquisition.ReadingsPerPosition = *readingsFlag
	}
	if *natsFlag != "" {
		cfg.Publish.NatsURL = *natsFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub := publish.NewPublisher(cfg.Publish.Subject)
	if cfg.Publish.NatsURL != "" {
		if err := pub.Connect(cfg.Publish.NatsURL); err != nil {
			log.Printf("Publishing disabled: %v", err)
		}
	}
	defer pub.Close()

	opts := deviceOptions{mock: *mockFlag, debug: *debugFlag}
	if err := run(ctx, cfg, opts, *countFlag, pub); err != nil {
		log.Fatalf("Acquisition stopped: %v", err)
	}
}

// run keeps sweeping until count sweeps completed or ctx is done, reopening
// the devices after connection errors.
func run(ctx context.Context, cfg *config.Config, opts deviceOptions, count int, pub *publish.Publisher) error {
	layout := sweep.NewLayout(cfg)
	if err := layout.Validate(); err != nil {
		return err
	}
	log.Printf("Sweeping %d sensors over switch positions %v", layout.Len(), layout.SwitchPositions())

	remaining := count
	failures := 0
	for ctx.Err() == nil {
		devs, err := openDevices(ctx, cfg, layout, opts)
		if err != nil {
			failures++
			if failures > maxReconnects {
				return fmt.Errorf("giving up after %d attempts: %w", maxReconnects, err)
			}
			log.Printf("Connect attempt %d/%d failed: %v", failures, maxReconnects, err)
			if waitContext(ctx, reconnectDelay) != nil {
				return nil
			}
			continue
		}
		failures = 0

		completed, err := runSession(ctx, cfg, layout, devs, remaining, pub)
		err = multierr.Append(err, devs.Close())
		if count > 0 {
			remaining -= completed
			if remaining <= 0 {
				return err
			}
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, instrument.ErrConnection) {
			return err
		}
		log.Printf("Connection lost, reconnecting: %v", err)
	}
	return nil
}

// runSession runs sweeps over one set of open devices.
func runSession(ctx context.Context, cfg *config.Config, layout sweep.Layout, devs *devices, count int, pub *publish.Publisher) (int, error) {
	sweeper, err := sweep.New(layout, devs.interrogator, devs.sw, sweep.WithSettle(cfg.Acquisition.Settle))
	if err != nil {
		return 0, err
	}

	runner := sweep.NewRunner(sweeper, cfg.Acquisition.ReadingsPerPosition, cfg.Acquisition.Interval)
	runner.OnResult(logResult)
	runner.OnResult(func(res sweep.Result) {
		if err := pub.Publish(res); err != nil {
			log.Printf("Failed to publish sweep %s: %v", res.ID, err)
		}
	})

	err = runner.Run(ctx, count)
	return runner.Completed(), err
}

func logResult(res sweep.Result) {
	log.Printf("Sweep %s: %d reads, %d dropped, %s",
		res.ID, res.Readings, res.BadReads, res.Finished.Sub(res.Started).Round(time.Millisecond))
	for i, name := range res.Sensors {
		log.Printf("  %-12s %11.4f nm %8.2f dBm", name, res.Wavelengths[i], res.Powers[i])
	}
}

func waitContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
