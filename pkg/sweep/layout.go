package sweep

import (
	"fmt"
	"slices"

	"github.com/itohio/gofbg/pkg/config"
	"github.com/itohio/gofbg/pkg/instrument"
	"github.com/itohio/gofbg/pkg/optswitch"
)

// Sensor is one logical sensor as wired to the interrogator.
type Sensor struct {
	Serial   string
	Position int // switch position, 0 when wired directly
}

// Layout is the sensor assignment table of one sweep: the ordered sensors of
// every channel and which channel goes through the optical switch.
type Layout struct {
	Channels        [instrument.Channels][]Sensor
	SwitchedChannel int // zero-based
}

// NewLayout builds the layout described by the configuration.
func NewLayout(cfg *config.Config) Layout {
	l := Layout{SwitchedChannel: cfg.SwitchedChannel()}
	serials := cfg.SensorSerials()
	for c, positions := range cfg.SensorPositions() {
		for i, p := range positions {
			l.Channels[c] = append(l.Channels[c], Sensor{Serial: serials[c][i], Position: p})
		}
	}
	return l
}

// Validate checks that only the switched channel uses nonzero positions and
// that every position fits in a switch command.
func (l Layout) Validate() error {
	if l.SwitchedChannel < 0 || l.SwitchedChannel >= instrument.Channels {
		return fmt.Errorf("%w: switched channel index %d out of range", instrument.ErrConfigurationMismatch, l.SwitchedChannel)
	}
	for c, sensors := range l.Channels {
		for i, s := range sensors {
			if s.Position < 0 || s.Position > optswitch.MaxPosition {
				return fmt.Errorf("%w: channel %d sensor %d: position %d out of range 0-%d",
					instrument.ErrConfigurationMismatch, c+1, i+1, s.Position, optswitch.MaxPosition)
			}
			if c != l.SwitchedChannel && s.Position != 0 {
				return fmt.Errorf("%w: channel %d sensor %d: position %d on a channel without switch",
					instrument.ErrConfigurationMismatch, c+1, i+1, s.Position)
			}
		}
	}
	return nil
}

// Positions returns the switch position of every sensor, per channel.
func (l Layout) Positions() [instrument.Channels][]int {
	var out [instrument.Channels][]int
	for c, sensors := range l.Channels {
		out[c] = make([]int, len(sensors))
		for i, s := range sensors {
			out[c][i] = s.Position
		}
	}
	return out
}

// ActiveMask reports which channels carry at least one sensor.
func (l Layout) ActiveMask() [instrument.Channels]bool {
	var mask [instrument.Channels]bool
	for c, sensors := range l.Channels {
		mask[c] = len(sensors) > 0
	}
	return mask
}

// SwitchPositions returns the distinct positions of the switched channel in
// ascending order. A switched channel without sensors yields a single
// position 0 pass.
func (l Layout) SwitchPositions() []int {
	var positions []int
	if l.SwitchedChannel >= 0 && l.SwitchedChannel < instrument.Channels {
		for _, s := range l.Channels[l.SwitchedChannel] {
			positions = append(positions, s.Position)
		}
	}
	if len(positions) == 0 {
		return []int{0}
	}
	slices.Sort(positions)
	return slices.Compact(positions)
}

// NeedsSwitch reports whether any sensor requires a nonzero switch position.
func (l Layout) NeedsSwitch() bool {
	for _, p := range l.SwitchPositions() {
		if p != 0 {
			return true
		}
	}
	return false
}

// Names returns a label per sensor, channel-major, sensor-minor. Sensors
// without a serial are labelled by channel and index.
func (l Layout) Names() []string {
	var names []string
	for c, sensors := range l.Channels {
		for i, s := range sensors {
			names = append(names, sensorName(c, i, s.Serial))
		}
	}
	return names
}

// Len returns the total number of sensors.
func (l Layout) Len() int {
	n := 0
	for _, sensors := range l.Channels {
		n += len(sensors)
	}
	return n
}

func sensorName(channel, index int, serial string) string {
	if serial != "" {
		return serial
	}
	return fmt.Sprintf("CH%d.%d", channel+1, index+1)
}
