package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// OutputSampleRate is the rate of synthesized speech and of the device.
	OutputSampleRate = 24000
	// CaptureSampleRate is the microphone rate expected by the live channel.
	CaptureSampleRate = 16000
	// Channels is the channel count for all engine audio (mono).
	Channels = 1
	// BitDepth is the sample width for all engine audio.
	BitDepth = 16
)

var (
	ErrEmptyPCM     = errors.New("empty PCM data")
	ErrUnalignedPCM = errors.New("PCM data is not aligned to 16-bit samples")
)

// Buffer holds decoded mono 16-bit samples.
type Buffer struct {
	Samples    []int16
	SampleRate int
}

// Len returns the number of samples.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Samples)
}

// Duration returns the natural playback duration of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// DecodePCM16 decodes little-endian signed 16-bit mono PCM.
func DecodePCM16(data []byte, sampleRate int) (*Buffer, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPCM
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnalignedPCM, len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:])) //nolint:gosec
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// EncodePCM16 encodes samples as little-endian signed 16-bit PCM.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s)) //nolint:gosec
	}
	return out
}

// FloatToPCM16 converts float samples in [-1, 1] to 16-bit samples.
// Out-of-range input is clamped.
func FloatToPCM16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, f := range in {
		v := math.Round(float64(f) * 32768)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// Resample converts b to the target rate using linear interpolation.
func Resample(b *Buffer, rate int) *Buffer {
	if b == nil || b.SampleRate == rate || rate <= 0 || b.SampleRate <= 0 || len(b.Samples) == 0 {
		return b
	}
	n := int(int64(len(b.Samples)) * int64(rate) / int64(b.SampleRate))
	out := make([]int16, n)
	step := float64(b.SampleRate) / float64(rate)
	for i := range out {
		out[i] = interpolate(b.Samples, float64(i)*step)
	}
	return &Buffer{Samples: out, SampleRate: rate}
}

func interpolate(samples []int16, pos float64) int16 {
	i := int(pos)
	if i >= len(samples)-1 {
		return samples[len(samples)-1]
	}
	frac := pos - float64(i)
	a, b := float64(samples[i]), float64(samples[i+1])
	return int16(math.Round(a + (b-a)*frac))
}
