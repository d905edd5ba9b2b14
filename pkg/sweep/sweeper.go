// Package sweep drives the interrogator and the optical switch through
// complete acquisition sweeps.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/itohio/gofbg/pkg/instrument"
	"github.com/itohio/gofbg/pkg/interrogator"
	"github.com/itohio/gofbg/pkg/optswitch"
	"github.com/itohio/gofbg/pkg/sample"
)

// DefaultSettle is the nominal settling interval after a switch command.
const DefaultSettle = 1200 * time.Millisecond

// Result is the averaged output of one sweep.
// Sensors, Wavelengths and Powers share the same channel-major, sensor-minor order.
type Result struct {
	ID          uuid.UUID `json:"id"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
	Sensors     []string  `json:"sensors"`
	Wavelengths []float64 `json:"wavelengths"` // nm
	Powers      []float64 `json:"powers"`      // dBm
	Warnings    []string  `json:"warnings,omitempty"`
	Readings    int       `json:"readings"`  // successful interrogator reads
	BadReads    int       `json:"bad_reads"` // reads dropped on protocol errors

	Missing []sample.SensorRef `json:"-"`
}

// Sweeper runs sweeps over one interrogator and an optional switch.
// A Sweeper must not run two sweeps at once: the devices are not shared.
type Sweeper struct {
	layout Layout
	dev    interrogator.Device
	sw     optswitch.Switch
	settle time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option applies an option to the sweeper.
type Option func(*Sweeper)

// WithSettle sets the delay between a switch command and the next reading.
func WithSettle(d time.Duration) Option {
	return func(s *Sweeper) {
		if d >= 0 {
			s.settle = d
		}
	}
}

// WithSleep replaces the settling wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sweeper) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// New creates a sweeper. sw may be nil when no sensor needs a nonzero switch position.
func New(layout Layout, dev interrogator.Device, sw optswitch.Switch, opts ...Option) (*Sweeper, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, errors.New("no interrogator")
	}
	if sw == nil && layout.NeedsSwitch() {
		return nil, fmt.Errorf("%w: positions %v need a switch", instrument.ErrConfigurationMismatch, layout.SwitchPositions())
	}

	s := &Sweeper{
		layout: layout,
		dev:    dev,
		sw:     sw,
		settle: DefaultSettle,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Layout returns the sensor layout the sweeper was built with.
func (s *Sweeper) Layout() Layout {
	return s.layout
}

// Acquire runs one sweep: every switch position in ascending order,
// readingsPerPosition reads at each, averaged per sensor.
//
// ctx is checked before each position and each read, never during a read.
// A cancelled sweep returns instrument.ErrCancelled and no data. Protocol
// errors drop the reading and the sweep goes on; connection errors end it.
func (s *Sweeper) Acquire(ctx context.Context, readingsPerPosition int) (Result, error) {
	if readingsPerPosition < 1 {
		return Result{}, fmt.Errorf("readings per position must be positive, got %d", readingsPerPosition)
	}

	res := Result{
		ID:      uuid.New(),
		Started: time.Now(),
	}
	active := s.layout.ActiveMask()
	acc := sample.NewAccumulator(s.layout.Positions(), s.layout.SwitchedChannel)

	for _, pos := range s.layout.SwitchPositions() {
		if err := ctx.Err(); err != nil {
			return Result{}, cancelled(err)
		}

		if pos != 0 {
			if err := s.sw.SelectPosition(pos); err != nil {
				return Result{}, fmt.Errorf("select switch position %d: %w", pos, err)
			}
			if err := s.sleep(ctx, s.settle); err != nil {
				return Result{}, cancelled(err)
			}
		}

		for rep := range readingsPerPosition {
			if err := ctx.Err(); err != nil {
				return Result{}, cancelled(err)
			}

			r, err := s.dev.ReadPeaks(active)
			if err != nil {
				if errors.Is(err, instrument.ErrProtocol) {
					log.Printf("sweep %s: position %d reading %d dropped: %v", res.ID, pos, rep+1, err)
					res.BadReads++
					continue
				}
				return Result{}, fmt.Errorf("position %d reading %d: %w", pos, rep+1, err)
			}
			res.Readings++

			for c := range instrument.Channels {
				if !active[c] || r.Counts[c] == 0 {
					continue
				}
				acc.Add(c, pos, r.Wavelengths[c], r.Powers[c])
			}
		}
	}

	res.Sensors = s.layout.Names()
	res.Wavelengths = sample.Flatten(acc.AveragedWavelengths())
	res.Powers = sample.Flatten(acc.AveragedPowers())
	res.Missing = acc.Empty()
	for _, ref := range res.Missing {
		w := fmt.Sprintf("channel data missing: channel %d sensor %s has no samples",
			ref.Channel+1, sensorName(ref.Channel, ref.Sensor, s.layout.Channels[ref.Channel][ref.Sensor].Serial))
		log.Printf("sweep %s: %s", res.ID, w)
		res.Warnings = append(res.Warnings, w)
	}
	res.Finished = time.Now()

	return res, nil
}

// Acquire runs a single sweep with default settling over the given devices.
func Acquire(ctx context.Context, layout Layout, dev interrogator.Device, sw optswitch.Switch, readingsPerPosition int) (wavelengths, powers []float64, warnings []string, err error) {
	s, err := New(layout, dev, sw)
	if err != nil {
		return nil, nil, nil, err
	}
	res, err := s.Acquire(ctx, readingsPerPosition)
	if err != nil {
		return nil, nil, nil, err
	}
	return res.Wavelengths, res.Powers, res.Warnings, nil
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", instrument.ErrCancelled, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
