package interrogator

import (
	"time"

	"github.com/itohio/gofbg/pkg/instrument"
)

// Reading is one decoded interrogator response: the primary peak of every channel.
type Reading struct {
	Timestamp   time.Time
	Wavelengths [instrument.Channels]float64 // nm, 0 when the channel has no data
	Powers      [instrument.Channels]float64 // dBm, 0 when the channel has no data
	Counts      [instrument.Channels]int     // peaks reported per channel
}

// Device defines the interface for interrogators (live or simulated).
type Device interface {
	ReadPeaks(active [instrument.Channels]bool) (Reading, error)
	Close() error
}

// Ensure Client implements Device.
var _ Device = (*Client)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
