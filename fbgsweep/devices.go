package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.uber.org/multierr"

	"github.com/itohio/gofbg/pkg/config"
	"github.com/itohio/gofbg/pkg/interrogator"
	"github.com/itohio/gofbg/pkg/optswitch"
	"github.com/itohio/gofbg/pkg/sweep"
)

type deviceOptions struct {
	mock  bool
	debug bool
}

// devices are the instrument connections of one session. They belong to the
// session, not to the sweeper, and are closed together.
type devices struct {
	interrogator interrogator.Device
	sw           optswitch.Switch
}

// openDevices connects the interrogator and, when the layout needs one, the switch.
func openDevices(ctx context.Context, cfg *config.Config, layout sweep.Layout, opts deviceOptions) (*devices, error) {
	if opts.mock {
		sw := optswitch.NewMock()
		log.Println("Using simulated interrogator and switch")
		return &devices{
			interrogator: interrogator.NewMock(&cfg.Mock, sw.Position),
			sw:           sw,
		}, nil
	}

	var iopts []interrogator.Option
	iopts = append(iopts, interrogator.WithTimeout(cfg.Interrogator.Timeout))
	if opts.debug {
		iopts = append(iopts, interrogator.WithDebug())
	}
	dev, err := interrogator.Connect(ctx, cfg.Interrogator.Address, cfg.Interrogator.Port, iopts...)
	if err != nil {
		return nil, fmt.Errorf("interrogator: %w", err)
	}
	log.Printf("Connected to interrogator at %s:%d", cfg.Interrogator.Address, cfg.Interrogator.Port)

	d := &devices{interrogator: dev}
	if !layout.NeedsSwitch() {
		return d, nil
	}

	sw, err := openSwitch(ctx, cfg.Switch, opts.debug)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("switch: %w", err), d.Close())
	}
	d.sw = sw
	return d, nil
}

func openSwitch(ctx context.Context, cfg config.SwitchConfig, debug bool) (optswitch.Switch, error) {
	var opts []optswitch.ControllerOption
	if debug {
		opts = append(opts, optswitch.WithDebug())
	}

	switch {
	case cfg.Address != "":
		sw, err := optswitch.Dial(ctx, cfg.Address, cfg.Port, cfg.Module, opts...)
		if err == nil {
			log.Printf("Connected to switch at %s:%d", cfg.Address, cfg.Port)
		}
		return sw, err
	case cfg.SerialPort != "":
		sw, err := optswitch.OpenSerial(cfg.SerialPort, cfg.BaudRate, cfg.Module, opts...)
		if err == nil {
			log.Printf("Connected to switch on %s", cfg.SerialPort)
		}
		return sw, err
	default:
		return nil, errors.New("neither address nor serial port configured")
	}
}

// Close closes both devices and reports every failure.
func (d *devices) Close() error {
	var err error
	if d.interrogator != nil {
		err = multierr.Append(err, d.interrogator.Close())
	}
	if d.sw != nil {
		err = multierr.Append(err, d.sw.Close())
	}
	return err
}
