// Package publish fans sweep results out over NATS.
package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/itohio/gofbg/pkg/sweep"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "fbg.sweep"

// Publisher publishes sweep results as JSON. A publisher that is not
// connected silently drops results.
type Publisher struct {
	conn    *nats.Conn
	subject string
	mu      sync.Mutex
	enabled bool
}

// NewPublisher creates a disconnected publisher for subject.
func NewPublisher(subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{subject: subject}
}

// Connect connects to the NATS server with unlimited reconnects.
func (p *Publisher) Connect(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := []nats.Option{
		nats.Name("fbg-sweep-publisher"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected: %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		p.enabled = false
		return fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	p.conn = conn
	p.enabled = true
	log.Printf("NATS connected: %s", url)
	return nil
}

// Subject returns the subject results are published on.
func (p *Publisher) Subject() string {
	return p.subject
}

// Publish publishes one sweep result.
func (p *Publisher) Publish(res sweep.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled || p.conn == nil {
		return nil
	}

	data, err := Marshal(res)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", p.subject, err)
	}
	return nil
}

// Marshal encodes a sweep result as published.
func Marshal(res sweep.Result) ([]byte, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sweep %s: %w", res.ID, err)
	}
	return data, nil
}

// IsEnabled reports whether the publisher is connected.
func (p *Publisher) IsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn = nil
	p.enabled = false
	return err
}
