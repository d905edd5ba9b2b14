package interrogator

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/itohio/gofbg/pkg/instrument"
)

// Command requests the current peak wavelengths and levels of all channels.
const Command = "#GET_PEAKS_AND_LEVELS"

const (
	// LengthPrefixSize is the size of the ASCII decimal length preceding each payload.
	LengthPrefixSize = 10
	// MaxPayloadSize caps the announced payload length.
	MaxPayloadSize = 1 << 20

	headerSize   = 12
	countsOffset = headerSize
	dataOffset   = countsOffset + 2*instrument.Channels + 12

	wavelengthScale = 10000.0 // pm/10 -> nm
	powerScale      = 100.0   // cBm -> dBm
)

// ReadFrame reads one length-prefixed response.
// Any read failure or malformed length prefix is a connection error: the
// payload boundary is lost and the stream cannot be resynchronized.
func ReadFrame(r io.Reader) ([]byte, error) {
	prefix := make([]byte, LengthPrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, instrument.ConnectionError("read length prefix", err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(prefix)))
	if err != nil {
		return nil, instrument.ConnectionError(fmt.Sprintf("parse length prefix %q", prefix), err)
	}
	if n < 0 || n > MaxPayloadSize {
		return nil, instrument.ConnectionError("read length prefix",
			fmt.Errorf("payload length %d out of range 0-%d", n, MaxPayloadSize))
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, instrument.ConnectionError(fmt.Sprintf("read %d byte payload", n), err)
	}
	return payload, nil
}

// Decode parses a peaks-and-levels payload. Only the first peak of each
// channel is kept. Channels that are inactive, or active without peaks,
// report 0 for both wavelength and power.
func Decode(payload []byte, active [instrument.Channels]bool) (Reading, error) {
	var r Reading

	if len(payload) < dataOffset {
		return r, instrument.ProtocolError("payload too short: %d bytes, header needs %d", len(payload), dataOffset)
	}

	total := 0
	for c := range instrument.Channels {
		r.Counts[c] = int(binary.LittleEndian.Uint16(payload[countsOffset+2*c:]))
		total += r.Counts[c]
	}

	need := dataOffset + 4*total + 2*total
	if len(payload) < need {
		return r, instrument.ProtocolError("payload too short: %d bytes, %d peaks need %d", len(payload), total, need)
	}

	off := dataOffset
	for c := range instrument.Channels {
		if r.Counts[c] > 0 {
			r.Wavelengths[c] = float64(int32(binary.LittleEndian.Uint32(payload[off:]))) / wavelengthScale
		}
		off += 4 * r.Counts[c]
	}
	for c := range instrument.Channels {
		if r.Counts[c] > 0 {
			r.Powers[c] = float64(int16(binary.LittleEndian.Uint16(payload[off:]))) / powerScale
		}
		off += 2 * r.Counts[c]
	}

	for c := range instrument.Channels {
		if !active[c] || r.Counts[c] == 0 {
			r.Wavelengths[c] = 0
			r.Powers[c] = 0
		}
	}

	return r, nil
}

// Encode builds a complete response frame (length prefix and payload) with
// the given peaks per channel. wavelengths[c] and powers[c] must have equal
// lengths. Used by simulators and tests.
func Encode(wavelengths, powers [instrument.Channels][]float64) ([]byte, error) {
	total := 0
	for c := range instrument.Channels {
		if len(wavelengths[c]) != len(powers[c]) {
			return nil, fmt.Errorf("channel %d: %d wavelengths but %d powers", c+1, len(wavelengths[c]), len(powers[c]))
		}
		total += len(wavelengths[c])
	}

	payload := make([]byte, dataOffset+6*total)
	for c := range instrument.Channels {
		binary.LittleEndian.PutUint16(payload[countsOffset+2*c:], uint16(len(wavelengths[c])))
	}

	off := dataOffset
	for c := range instrument.Channels {
		for _, wl := range wavelengths[c] {
			binary.LittleEndian.PutUint32(payload[off:], uint32(int32(math.Round(wl*wavelengthScale))))
			off += 4
		}
	}
	for c := range instrument.Channels {
		for _, p := range powers[c] {
			binary.LittleEndian.PutUint16(payload[off:], uint16(int16(math.Round(p*powerScale))))
			off += 2
		}
	}

	frame := fmt.Appendf(nil, "%0*d", LengthPrefixSize, len(payload))
	return append(frame, payload...), nil
}
