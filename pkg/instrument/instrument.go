// Package instrument holds what the interrogator and switch clients share:
// the physical channel count, the error taxonomy and the TCP dialer.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Channels is the number of physical channels on the interrogator.
const Channels = 4

// DefaultDialTimeout bounds connection attempts to an instrument.
const DefaultDialTimeout = 5 * time.Second

var (
	// ErrConnection reports a socket level failure. It is fatal to a sweep.
	ErrConnection = errors.New("instrument connection error")
	// ErrProtocol reports a malformed or short response. It spoils one reading.
	ErrProtocol = errors.New("instrument protocol error")
	// ErrConfigurationMismatch reports a reading addressed to a sensor slot the
	// accumulator was never configured with.
	ErrConfigurationMismatch = errors.New("configuration mismatch")
	// ErrCancelled reports a sweep aborted by its context.
	ErrCancelled = errors.New("sweep cancelled")
)

// ConnectionError wraps err with ErrConnection and the failing operation.
func ConnectionError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConnection, op, err)
}

// ProtocolError formats a message wrapped with ErrProtocol.
func ProtocolError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, a...))
}

// Dial opens a TCP stream to address:port. A zero timeout uses DefaultDialTimeout.
func Dial(ctx context.Context, address string, port int, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	target := net.JoinHostPort(address, strconv.Itoa(port))

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, ConnectionError("dial "+target, err)
	}
	return conn, nil
}
