package interrogator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gofbg/pkg/config"
	"github.com/itohio/gofbg/pkg/instrument"
)

func TestMock_FollowsSwitchPosition(t *testing.T) {
	cfg := &config.MockConfig{
		BaseWavelength: 1530,
		ChannelSpacing: 10,
		PositionStep:   2,
		NoiseLevel:     0,
		Power:          -20,
	}
	position := 0
	m := NewMock(cfg, func() int { return position })

	r, err := m.ReadPeaks([4]bool{true, true, false, true})
	require.NoError(t, err)
	assert.Equal(t, [4]float64{1530, 1540, 0, 1560}, r.Wavelengths)
	assert.Equal(t, [4]float64{-20, -20, 0, -20}, r.Powers)
	assert.Equal(t, [4]int{1, 1, 0, 1}, r.Counts)

	position = 3
	r, err = m.ReadPeaks([4]bool{false, true})
	require.NoError(t, err)
	assert.Equal(t, 1546.0, r.Wavelengths[1])
	assert.Equal(t, 0.0, r.Wavelengths[0])

	assert.Equal(t, 2, m.Reads())
}

func TestMock_Noise(t *testing.T) {
	cfg := &config.MockConfig{BaseWavelength: 1550, NoiseLevel: 0.01}
	m := NewMock(cfg, nil)

	for range 100 {
		r, err := m.ReadPeaks([4]bool{true})
		require.NoError(t, err)
		assert.InDelta(t, 1550.0, r.Wavelengths[0], 0.005)
	}
}

func TestMock_Defaults(t *testing.T) {
	m := NewMock(nil, nil)
	r, err := m.ReadPeaks([4]bool{true})
	require.NoError(t, err)
	assert.InDelta(t, config.Default().Mock.BaseWavelength, r.Wavelengths[0], 0.01)
}

func TestMock_Closed(t *testing.T) {
	m := NewMock(nil, nil)
	require.NoError(t, m.Close())

	_, err := m.ReadPeaks([4]bool{true})
	assert.True(t, errors.Is(err, instrument.ErrConnection))
}
