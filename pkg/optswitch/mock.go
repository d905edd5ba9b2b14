package optswitch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/itohio/gofbg/pkg/instrument"
)

// Mock simulates a switch. It remembers the current position and every
// position selected since creation.
type Mock struct {
	mu       sync.RWMutex
	position int
	history  []int
	closed   bool
}

// NewMock creates a simulated switch at position 0.
func NewMock() *Mock {
	return &Mock{}
}

// SelectPosition records the position.
func (m *Mock) SelectPosition(position int) error {
	if position < 0 || position > MaxPosition {
		return fmt.Errorf("invalid switch position %d (must be 0-%d)", position, MaxPosition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return instrument.ConnectionError("select position", errors.New("mock closed"))
	}
	m.position = position
	m.history = append(m.history, position)
	return nil
}

// Position returns the currently selected position.
func (m *Mock) Position() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.position
}

// History returns a copy of all selected positions, oldest first.
func (m *Mock) History() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]int, len(m.history))
	copy(result, m.history)
	return result
}

// Close marks the switch closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
