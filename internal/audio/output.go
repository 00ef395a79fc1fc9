// Package audio provides PCM helpers and the scheduled audio output used by
// narration and live voice.
//
// An Output owns a monotonically advancing clock. Buffers are scheduled
// against that clock, which lets callers chain segments without gaps by
// keeping a running "next start" watermark.
package audio

import "time"

// Output is an audio device with its own scheduling clock.
type Output interface {
	// Now returns the current output clock time.
	Now() time.Duration
	// Play schedules buf to start at the given clock time, or immediately
	// when at is not in the future. rate scales the playback speed.
	Play(buf *Buffer, at time.Duration, rate float64) (Source, error)
	// Close releases the device. Playing sources are stopped.
	Close() error
}

// Source is one scheduled buffer.
type Source interface {
	// Start returns the clock time at which playback begins.
	Start() time.Duration
	// Duration returns the natural duration of the buffer, before rate.
	Duration() time.Duration
	// Rate returns the current playback rate.
	Rate() float64
	// SetRate changes the playback rate without interrupting playback.
	SetRate(rate float64)
	// Done is closed when playback finishes or the source is stopped.
	Done() <-chan struct{}
	// Stop halts playback. It is safe to call more than once.
	Stop()
}

func normalizeRate(rate float64) float64 {
	if rate <= 0 {
		return 1
	}
	return rate
}
