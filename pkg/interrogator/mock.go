package interrogator

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/itohio/gofbg/pkg/config"
	"github.com/itohio/gofbg/pkg/instrument"
)

// Mock simulates an interrogator for testing and development.
// The simulated peak of each channel moves with the switch position
// reported by the position function, so a sweep over a mocked switch
// yields a distinct wavelength per logical sensor.
type Mock struct {
	cfg      *config.MockConfig
	position func() int

	mu     sync.Mutex
	rng    *rand.Rand
	reads  int
	closed bool
}

// NewMock creates a new simulated interrogator. position may be nil when no
// switch is simulated.
func NewMock(cfg *config.MockConfig, position func() int) *Mock {
	if cfg == nil {
		cfg = &config.Default().Mock
	}
	if position == nil {
		position = func() int { return 0 }
	}

	return &Mock{
		cfg:      cfg,
		position: position,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ReadPeaks returns a simulated reading.
func (m *Mock) ReadPeaks(active [instrument.Channels]bool) (Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Reading{}, instrument.ConnectionError("read peaks", errors.New("mock closed"))
	}
	m.reads++

	pos := float64(m.position())
	r := Reading{Timestamp: time.Now()}
	for c := range instrument.Channels {
		if !active[c] {
			continue
		}
		noise := (m.rng.Float64() - 0.5) * m.cfg.NoiseLevel
		r.Counts[c] = 1
		r.Wavelengths[c] = m.cfg.BaseWavelength + float64(c)*m.cfg.ChannelSpacing + pos*m.cfg.PositionStep + noise
		r.Powers[c] = m.cfg.Power + noise*10
	}
	return r, nil
}

// Reads returns the number of readings served so far.
func (m *Mock) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Close stops the simulated interrogator.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
