package sweep

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gofbg/pkg/config"
	"github.com/itohio/gofbg/pkg/instrument"
	"github.com/itohio/gofbg/pkg/interrogator"
	"github.com/itohio/gofbg/pkg/optswitch"
)

// scriptedDevice answers ReadPeaks from a script keyed by the current switch
// position and the number of reads already taken at that position.
type scriptedDevice struct {
	sw     *optswitch.Mock
	script func(position, rep int) (interrogator.Reading, error)

	calls    int
	perPos   map[int]int
	active   [instrument.Channels]bool
	visited  []int
	closed   bool
	onCalled func(calls int)
}

func newScriptedDevice(sw *optswitch.Mock, script func(position, rep int) (interrogator.Reading, error)) *scriptedDevice {
	return &scriptedDevice{sw: sw, script: script, perPos: make(map[int]int)}
}

func (d *scriptedDevice) ReadPeaks(active [instrument.Channels]bool) (interrogator.Reading, error) {
	d.calls++
	d.active = active

	pos := 0
	if d.sw != nil {
		pos = d.sw.Position()
	}
	rep := d.perPos[pos]
	d.perPos[pos]++
	d.visited = append(d.visited, pos)

	r, err := d.script(pos, rep)
	if d.onCalled != nil {
		d.onCalled(d.calls)
	}
	return r, err
}

func (d *scriptedDevice) Close() error {
	d.closed = true
	return nil
}

// peaks builds a reading with one peak on every channel whose wavelength is nonzero.
func peaks(wl, pw [instrument.Channels]float64) interrogator.Reading {
	r := interrogator.Reading{Timestamp: time.Now(), Wavelengths: wl, Powers: pw}
	for c := range instrument.Channels {
		if wl[c] != 0 {
			r.Counts[c] = 1
		}
	}
	return r
}

func positionsLayout(positions [instrument.Channels][]int, switched int) Layout {
	l := Layout{SwitchedChannel: switched}
	for c, ps := range positions {
		for _, p := range ps {
			l.Channels[c] = append(l.Channels[c], Sensor{Position: p})
		}
	}
	return l
}

type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return ctx.Err()
}

func TestAcquire_FanOutReconciliation(t *testing.T) {
	layout := positionsLayout([4][]int{{0, 0}, {1, 4, 4, 7}, {}, {0, 0}}, 1)

	// Channel 2 value per switch position and pass.
	ch2 := map[int][2]float64{
		1: {10, 12},
		4: {20, 22},
		7: {50, 52},
	}
	// Channels 1 and 4 drift with every read.
	ch1 := []float64{1530.0, 1530.2, 1530.4, 1530.6, 1530.8, 1531.0}
	ch4 := []float64{1560.0, 1560.1, 1560.2, 1560.3, 1560.4, 1560.5}

	sw := optswitch.NewMock()
	n := 0
	dev := newScriptedDevice(sw, func(pos, rep int) (interrogator.Reading, error) {
		r := peaks(
			[4]float64{ch1[n], ch2[pos][rep], 0, ch4[n]},
			[4]float64{-10, -ch2[pos][rep], 0, -14},
		)
		n++
		return r, nil
	})

	rec := &sleepRecorder{}
	s, err := New(layout, dev, sw, WithSettle(1200*time.Millisecond), WithSleep(rec.sleep))
	require.NoError(t, err)

	res, err := s.Acquire(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 4, 7}, sw.History())
	assert.Equal(t, []int{1, 1, 4, 4, 7, 7}, dev.visited)
	assert.Equal(t, []time.Duration{1200 * time.Millisecond, 1200 * time.Millisecond, 1200 * time.Millisecond}, rec.slept)
	assert.Equal(t, [4]bool{true, true, false, true}, dev.active)

	require.Len(t, res.Wavelengths, 8)
	require.Len(t, res.Powers, 8)
	require.Len(t, res.Sensors, 8)

	// Channel 1: the first sensor collects every read, the second none.
	assert.InDelta(t, 1530.5, res.Wavelengths[0], 1e-9)
	assert.Equal(t, 0.0, res.Wavelengths[1])
	// Channel 2 in declared order: positions 1, 4, 4, 7.
	assert.InDelta(t, 11.0, res.Wavelengths[2], 1e-9)
	assert.InDelta(t, 21.0, res.Wavelengths[3], 1e-9)
	assert.Equal(t, 0.0, res.Wavelengths[4])
	assert.InDelta(t, 51.0, res.Wavelengths[5], 1e-9)
	// Channel 4.
	assert.InDelta(t, 1560.25, res.Wavelengths[6], 1e-9)
	assert.Equal(t, 0.0, res.Wavelengths[7])

	assert.InDelta(t, -21.0, res.Powers[3], 1e-9)
	assert.InDelta(t, -14.0, res.Powers[6], 1e-9)

	assert.Equal(t, 6, res.Readings)
	assert.Equal(t, 0, res.BadReads)
	require.Len(t, res.Warnings, 3)
	assert.Contains(t, res.Warnings[0], "channel 1 sensor CH1.2")
	assert.Contains(t, res.Warnings[1], "channel 2 sensor CH2.3")
	assert.Contains(t, res.Warnings[2], "channel 4 sensor CH4.2")
	assert.NotEqual(t, [16]byte{}, [16]byte(res.ID))
	assert.False(t, res.Finished.Before(res.Started))
}

func TestAcquire_DirectWiringIsPlainMean(t *testing.T) {
	layout := positionsLayout([4][]int{{0}, {}, {0}, {}}, 1)
	values := [][2]float64{{1530.1, 1550.3}, {1530.3, 1550.1}, {1530.2, 1550.5}}

	dev := newScriptedDevice(nil, func(pos, rep int) (interrogator.Reading, error) {
		v := values[rep]
		return peaks([4]float64{v[0], 0, v[1], 0}, [4]float64{-1, 0, -3, 0}), nil
	})

	s, err := New(layout, dev, nil)
	require.NoError(t, err)

	res, err := s.Acquire(context.Background(), 3)
	require.NoError(t, err)

	require.Len(t, res.Wavelengths, 2)
	assert.InDelta(t, 1530.2, res.Wavelengths[0], 1e-9)
	assert.InDelta(t, 1550.3, res.Wavelengths[1], 1e-9)
	assert.Equal(t, []float64{-1, -3}, res.Powers)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 3, dev.calls)
}

func TestAcquire_CancelledBeforeFirstRead(t *testing.T) {
	layout := positionsLayout([4][]int{{0}, {1, 2}, {}, {}}, 1)
	sw := optswitch.NewMock()
	dev := newScriptedDevice(sw, func(pos, rep int) (interrogator.Reading, error) {
		return peaks([4]float64{1530, 1540}, [4]float64{-1, -2}), nil
	})

	s, err := New(layout, dev, sw, WithSleep((&sleepRecorder{}).sleep))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Acquire(ctx, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, instrument.ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, dev.calls)
	assert.Empty(t, sw.History())
	assert.Nil(t, res.Wavelengths)
	assert.Nil(t, res.Powers)
}

func TestAcquire_CancelledMidSweep(t *testing.T) {
	layout := positionsLayout([4][]int{{0}, {1, 2}, {}, {}}, 1)
	sw := optswitch.NewMock()
	dev := newScriptedDevice(sw, func(pos, rep int) (interrogator.Reading, error) {
		return peaks([4]float64{1530, 1540}, [4]float64{-1, -2}), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dev.onCalled = func(calls int) {
		if calls == 3 {
			cancel()
		}
	}

	s, err := New(layout, dev, sw, WithSleep((&sleepRecorder{}).sleep))
	require.NoError(t, err)

	res, err := s.Acquire(ctx, 2)
	assert.True(t, errors.Is(err, instrument.ErrCancelled))
	// The in-flight read completes; nothing after it runs.
	assert.Equal(t, 3, dev.calls)
	assert.Equal(t, []int{1, 2}, sw.History())
	assert.Nil(t, res.Wavelengths)
}

func TestAcquire_CancelledDuringSettle(t *testing.T) {
	layout := positionsLayout([4][]int{{}, {3}, {}, {}}, 1)
	sw := optswitch.NewMock()
	dev := newScriptedDevice(sw, func(pos, rep int) (interrogator.Reading, error) {
		return peaks([4]float64{0, 1540}, [4]float64{0, -2}), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s, err := New(layout, dev, sw, WithSettle(time.Hour))
	require.NoError(t, err)

	_, err = s.Acquire(ctx, 1)
	assert.True(t, errors.Is(err, instrument.ErrCancelled))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, dev.calls)
}

func TestAcquire_ProtocolErrorSkipsOneReading(t *testing.T) {
	layout := positionsLayout([4][]int{{0}, {1, 2}, {}, {}}, 1)
	sw := optswitch.NewMock()
	dev := newScriptedDevice(sw, func(pos, rep int) (interrogator.Reading, error) {
		if pos == 1 && rep == 1 {
			return interrogator.Reading{}, instrument.ProtocolError("garbled")
		}
		return peaks([4]float64{1530 + float64(rep), 1540 + float64(pos*10+rep)}, [4]float64{-1, -2}), nil
	})

	s, err := New(layout, dev, sw, WithSleep((&sleepRecorder{}).sleep))
	require.NoError(t, err)

	res, err := s.Acquire(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, 6, dev.calls)
	assert.Equal(t, 5, res.Readings)
	assert.Equal(t, 1, res.BadReads)

	// Position 1 kept reps 0 and 2, position 2 kept all three.
	assert.InDelta(t, 1551.0, res.Wavelengths[1], 1e-9)
	assert.InDelta(t, 1561.0, res.Wavelengths[2], 1e-9)
	// Channel 1 got five of six reads: 1530, 1532, 1530, 1531, 1532.
	assert.InDelta(t, 1531.0, res.Wavelengths[0], 1e-9)
	assert.Empty(t, res.Warnings)
}

func TestAcquire_ConnectionErrorAborts(t *testing.T) {
	layout := positionsLayout([4][]int{{0}, {1, 2}, {}, {}}, 1)
	sw := optswitch.NewMock()
	dev := newScriptedDevice(sw, func(pos, rep int) (interrogator.Reading, error) {
		if pos == 2 {
			return interrogator.Reading{}, instrument.ConnectionError("read", io.EOF)
		}
		return peaks([4]float64{1530, 1540}, [4]float64{-1, -2}), nil
	})

	s, err := New(layout, dev, sw, WithSleep((&sleepRecorder{}).sleep))
	require.NoError(t, err)

	res, err := s.Acquire(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, instrument.ErrConnection))
	assert.Equal(t, 3, dev.calls)
	assert.Nil(t, res.Wavelengths)
	assert.False(t, dev.closed, "devices belong to the caller")
}

func TestAcquire_SwitchFailureAborts(t *testing.T) {
	layout := positionsLayout([4][]int{{}, {1, 2}, {}, {}}, 1)
	sw := optswitch.NewMock()
	require.NoError(t, sw.Close())
	dev := newScriptedDevice(sw, func(pos, rep int) (interrogator.Reading, error) {
		return peaks([4]float64{0, 1540}, [4]float64{0, -2}), nil
	})

	s, err := New(layout, dev, sw, WithSleep((&sleepRecorder{}).sleep))
	require.NoError(t, err)

	_, err = s.Acquire(context.Background(), 1)
	assert.True(t, errors.Is(err, instrument.ErrConnection))
	assert.Equal(t, 0, dev.calls)
}

func TestAcquire_ChannelWithoutPeaksReportsMissingData(t *testing.T) {
	layout := positionsLayout([4][]int{{0}, {}, {0}, {}}, 1)
	dev := newScriptedDevice(nil, func(pos, rep int) (interrogator.Reading, error) {
		// Channel 3 is active but never reports a peak.
		return peaks([4]float64{1530}, [4]float64{-1}), nil
	})

	s, err := New(layout, dev, nil)
	require.NoError(t, err)

	res, err := s.Acquire(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1530, 0}, res.Wavelengths)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "channel data missing")
	assert.Equal(t, 2, res.Missing[0].Channel)
}

func TestAcquire_InvalidReadings(t *testing.T) {
	dev := newScriptedDevice(nil, nil)
	s, err := New(positionsLayout([4][]int{{0}}, 1), dev, nil)
	require.NoError(t, err)

	_, err = s.Acquire(context.Background(), 0)
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	dev := newScriptedDevice(nil, nil)

	_, err := New(positionsLayout([4][]int{{}, {1}, {}, {}}, 1), dev, nil)
	assert.True(t, errors.Is(err, instrument.ErrConfigurationMismatch), "switch required")

	_, err = New(positionsLayout([4][]int{{2}, {1}, {}, {}}, 1), dev, optswitch.NewMock())
	assert.True(t, errors.Is(err, instrument.ErrConfigurationMismatch), "nonzero position off the switched channel")

	_, err = New(positionsLayout([4][]int{{0}}, 1), nil, nil)
	assert.Error(t, err)
}

func TestAcquireFunc_WithMockDevices(t *testing.T) {
	cfg := config.Default()
	cfg.Mock.NoiseLevel = 0
	layout := positionsLayout([4][]int{{0}, {}, {}, {0}}, 1)

	dev := interrogator.NewMock(&cfg.Mock, nil)
	wl, pw, warnings, err := Acquire(context.Background(), layout, dev, nil, 4)
	require.NoError(t, err)

	assert.Equal(t, []float64{cfg.Mock.BaseWavelength, cfg.Mock.BaseWavelength + 3*cfg.Mock.ChannelSpacing}, wl)
	assert.Equal(t, []float64{cfg.Mock.Power, cfg.Mock.Power}, pw)
	assert.Empty(t, warnings)
	assert.Equal(t, 4, dev.Reads())
}
