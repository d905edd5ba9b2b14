package interrogator

import (
	"context"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/itohio/gofbg/pkg/instrument"
)

const (
	// DefaultPort is the interrogator's command port.
	DefaultPort = 51971
	// DefaultTimeout bounds one request/response exchange.
	DefaultTimeout = 3 * time.Second
)

// Client is a live connection to the interrogator.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	debug   bool
	mu      sync.Mutex
}

// Option applies an option to the client.
type Option func(*Client)

// WithTimeout sets the deadline applied to each exchange.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDebug causes each exchange to be logged.
func WithDebug() Option { return func(c *Client) { c.debug = true } }

// Connect dials the interrogator at address:port.
func Connect(ctx context.Context, address string, port int, opts ...Option) (*Client, error) {
	if port == 0 {
		port = DefaultPort
	}
	conn, err := instrument.Dial(ctx, address, port, 0)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an already established connection.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReadPeaks requests one peaks-and-levels response and decodes it.
// It never retries; a failed exchange is reported to the caller. After a
// connection error the socket is closed and every later call fails with
// instrument.ErrConnection until the caller reconnects.
func (c *Client) ReadPeaks(active [instrument.Channels]bool) (Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return Reading{}, instrument.ConnectionError("read peaks", net.ErrClosed)
	}

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return Reading{}, c.drop(instrument.ConnectionError("set deadline", err))
	}

	if _, err := io.WriteString(c.conn, Command); err != nil {
		return Reading{}, c.drop(instrument.ConnectionError("send "+Command, err))
	}

	payload, err := ReadFrame(c.conn)
	if err != nil {
		return Reading{}, c.drop(err)
	}
	if c.debug {
		log.Printf("interrogator: %d byte response", len(payload))
	}

	r, err := Decode(payload, active)
	if err != nil {
		return Reading{}, err
	}
	r.Timestamp = time.Now()
	return r, nil
}

// drop closes a connection that can no longer be trusted and returns err.
// c.mu must be held.
func (c *Client) drop(err error) error {
	if c.debug {
		log.Printf("interrogator: dropping connection: %v", err)
	}
	c.conn.Close()
	c.conn = nil
	return err
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
