// Package sample accumulates repeated interrogator readings per logical
// sensor and reduces them to averaged, sensor-ordered results.
package sample

import (
	"fmt"
	"slices"

	"github.com/itohio/gofbg/pkg/instrument"
)

// SensorRef addresses one logical sensor: a zero-based channel and the
// sensor's index within that channel's declared order.
type SensorRef struct {
	Channel int
	Sensor  int
}

// Accumulator collects raw wavelength and power values per logical sensor
// during one sweep. It is not safe for concurrent use; every sweep owns a
// fresh Accumulator.
//
// Buffers are laid out channel-major, sensor-minor. Every output of the
// accumulator keeps that order, which is what callers rely on to map flat
// arrays back to sensor names.
type Accumulator struct {
	positions [instrument.Channels][]int
	switched  int

	wavelengths [instrument.Channels][][]float64
	powers      [instrument.Channels][][]float64
}

// NewAccumulator creates an accumulator for the given wiring.
// sensorPositions[c] lists, in sensor order, the switch position each sensor
// on channel c needs. switchedChannel is the zero-based channel routed
// through the optical switch.
func NewAccumulator(sensorPositions [instrument.Channels][]int, switchedChannel int) *Accumulator {
	a := &Accumulator{switched: switchedChannel}
	for c := range instrument.Channels {
		a.positions[c] = append([]int(nil), sensorPositions[c]...)
		a.wavelengths[c] = make([][]float64, len(sensorPositions[c]))
		a.powers[c] = make([][]float64, len(sensorPositions[c]))
	}
	return a
}

// Add appends one reading of channel taken at switch position.
// Only the switched channel is position addressed; on any other channel the
// position is taken as 0. The reading goes to the first sensor declared at
// that position.
//
// Add panics with an error wrapping instrument.ErrConfigurationMismatch when
// the channel has no sensor at position.
func (a *Accumulator) Add(channel, position int, wavelength, power float64) {
	a.checkChannel(channel)
	if channel != a.switched {
		position = 0
	}

	idx := slices.Index(a.positions[channel], position)
	if idx < 0 {
		panic(fmt.Errorf("%w: channel %d has no sensor at switch position %d (configured %v)",
			instrument.ErrConfigurationMismatch, channel+1, position, a.positions[channel]))
	}
	a.append(channel, idx, wavelength, power)
}

// AddSensor appends one reading directly to the sensor at index sensor on
// channel. It panics like Add when the sensor does not exist.
func (a *Accumulator) AddSensor(channel, sensor int, wavelength, power float64) {
	a.checkChannel(channel)
	if sensor < 0 || sensor >= len(a.positions[channel]) {
		panic(fmt.Errorf("%w: channel %d has %d sensors, got index %d",
			instrument.ErrConfigurationMismatch, channel+1, len(a.positions[channel]), sensor))
	}
	a.append(channel, sensor, wavelength, power)
}

// Count returns the number of samples collected for one sensor.
func (a *Accumulator) Count(channel, sensor int) int {
	return len(a.wavelengths[channel][sensor])
}

// Empty returns every sensor that has not received a sample, in declared order.
func (a *Accumulator) Empty() []SensorRef {
	var refs []SensorRef
	for c := range instrument.Channels {
		for i, buf := range a.wavelengths[c] {
			if len(buf) == 0 {
				refs = append(refs, SensorRef{Channel: c, Sensor: i})
			}
		}
	}
	return refs
}

// AveragedWavelengths returns the mean wavelength of every sensor, per channel.
// Sensors without samples average to 0.
func (a *Accumulator) AveragedWavelengths() [][]float64 {
	return averaged(a.wavelengths)
}

// AveragedPowers returns the mean power of every sensor, per channel.
// Sensors without samples average to 0.
func (a *Accumulator) AveragedPowers() [][]float64 {
	return averaged(a.powers)
}

// Flatten concatenates per-channel values, channel 1 first.
func Flatten(values [][]float64) []float64 {
	n := 0
	for _, v := range values {
		n += len(v)
	}
	out := make([]float64, 0, n)
	for _, v := range values {
		out = append(out, v...)
	}
	return out
}

func (a *Accumulator) append(channel, sensor int, wavelength, power float64) {
	a.wavelengths[channel][sensor] = append(a.wavelengths[channel][sensor], wavelength)
	a.powers[channel][sensor] = append(a.powers[channel][sensor], power)
}

func (a *Accumulator) checkChannel(channel int) {
	if channel < 0 || channel >= instrument.Channels {
		panic(fmt.Errorf("%w: channel index %d out of range", instrument.ErrConfigurationMismatch, channel))
	}
}

func averaged(buffers [instrument.Channels][][]float64) [][]float64 {
	out := make([][]float64, instrument.Channels)
	for c, sensors := range buffers {
		out[c] = make([]float64, len(sensors))
		for i, buf := range sensors {
			out[c][i] = mean(buf)
		}
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
