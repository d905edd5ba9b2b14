// Package optswitch drives the optical fan-out switch that multiplexes
// several logical sensors onto one interrogator channel.
package optswitch

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"go.bug.st/serial"

	"github.com/itohio/gofbg/pkg/instrument"
)

const (
	// DefaultPort is the switch's TCP command port.
	DefaultPort = 3000
	// DefaultBaudRate is used for serially attached switches.
	DefaultBaudRate = 115200
	// MaxPosition is the largest position expressible in a command.
	MaxPosition = 99
)

// Switch selects fan-out positions.
type Switch interface {
	SelectPosition(position int) error
	Close() error
}

// Ensure Controller implements Switch.
var _ Switch = (*Controller)(nil)

// Ensure Mock implements Switch.
var _ Switch = (*Mock)(nil)

// Controller sends position commands over a byte stream. The switch does not
// acknowledge commands; the caller must wait for the switch to settle before
// trusting the next reading.
type Controller struct {
	w      io.WriteCloser
	module int
	debug  bool
	mu     sync.Mutex
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// WithDebug causes commands to be logged.
func WithDebug() ControllerOption { return func(c *Controller) { c.debug = true } }

// NewController creates a controller for the given switch module on w.
func NewController(w io.WriteCloser, module int, opts ...ControllerOption) (*Controller, error) {
	if module < 0 || module > 99 {
		return nil, fmt.Errorf("invalid switch module %d (must be 0-99)", module)
	}
	c := &Controller{w: w, module: module}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to a network attached switch.
func Dial(ctx context.Context, address string, port, module int, opts ...ControllerOption) (*Controller, error) {
	if port == 0 {
		port = DefaultPort
	}
	conn, err := instrument.Dial(ctx, address, port, 0)
	if err != nil {
		return nil, err
	}
	c, err := NewController(conn, module, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// OpenSerial connects to a switch attached to a serial port.
func OpenSerial(portName string, baudRate, module int, opts ...ControllerOption) (*Controller, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, instrument.ConnectionError("open serial port "+portName, err)
	}
	c, err := NewController(port, module, opts...)
	if err != nil {
		port.Close()
		return nil, err
	}
	return c, nil
}

// Command formats the position select command for a module.
func Command(module, position int) string {
	return fmt.Sprintf("<OSW%02d_OUT_%02d>", module, position)
}

// SelectPosition sends the position select command. It returns as soon as
// the command is written.
func (c *Controller) SelectPosition(position int) error {
	if position < 0 || position > MaxPosition {
		return fmt.Errorf("invalid switch position %d (must be 0-%d)", position, MaxPosition)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.w == nil {
		return instrument.ConnectionError("select position", io.ErrClosedPipe)
	}

	cmd := Command(c.module, position)
	if c.debug {
		log.Printf("switch cmd %q", cmd)
	}
	if _, err := c.w.Write([]byte(cmd)); err != nil {
		return instrument.ConnectionError("send "+cmd, err)
	}
	return nil
}

// Close closes the underlying stream.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.w == nil {
		return nil
	}
	err := c.w.Close()
	c.w = nil
	return err
}
