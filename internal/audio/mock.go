package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/dgnsrekt/lectern/internal/fault"
)

// MockOutput is an Output driven by a manual clock. Tests move the clock with
// Advance; sources whose playback end has passed are finished.
type MockOutput struct {
	mu      sync.Mutex
	now     time.Duration
	sources []*MockSource
	playErr error
	closed  bool

	stopTicker chan struct{}
}

// NewMockOutput creates a mock output with the clock at zero.
func NewMockOutput() *MockOutput {
	return &MockOutput{}
}

// NewSilentOutput creates a mock output whose clock follows wall time. It
// stands in for a device when none is available or audio is muted.
func NewSilentOutput() *MockOutput {
	m := &MockOutput{stopTicker: make(chan struct{})}
	go func() {
		const step = 10 * time.Millisecond
		ticker := time.NewTicker(step)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-m.stopTicker:
				return
			case t := <-ticker.C:
				m.Advance(t.Sub(last))
				last = t
			}
		}
	}()
	return m
}

// Now returns the manual clock time.
func (m *MockOutput) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// FailNextPlay makes subsequent Play calls fail with err until cleared with nil.
func (m *MockOutput) FailNextPlay(err error) {
	m.mu.Lock()
	m.playErr = err
	m.mu.Unlock()
}

// Play records and schedules buf.
func (m *MockOutput) Play(buf *Buffer, at time.Duration, rate float64) (Source, error) {
	if buf.Len() == 0 {
		return nil, ErrEmptyPCM
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fault.ErrClosed
	}
	if m.playErr != nil {
		return nil, m.playErr
	}
	if at < m.now {
		at = m.now
	}
	src := &MockSource{
		out:      m,
		start:    at,
		duration: buf.Duration(),
		rate:     normalizeRate(rate),
		segStart: at,
		done:     make(chan struct{}),
		Buffer:   buf,
	}
	m.sources = append(m.sources, src)
	return src, nil
}

// Advance moves the clock forward and finishes every source that has ended.
func (m *MockOutput) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	var ended []*MockSource
	for _, s := range m.sources {
		if !s.finished && s.endLocked() <= m.now {
			s.finished = true
			ended = append(ended, s)
		}
	}
	m.mu.Unlock()

	for _, s := range ended {
		close(s.done)
	}
}

// Plays returns every source scheduled so far, in order.
func (m *MockOutput) Plays() []*MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockSource, len(m.sources))
	copy(out, m.sources)
	return out
}

// Active returns the number of sources that have not finished.
func (m *MockOutput) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sources {
		if !s.finished {
			n++
		}
	}
	return n
}

// Close stops all sources.
func (m *MockOutput) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sources := make([]*MockSource, len(m.sources))
	copy(sources, m.sources)
	m.mu.Unlock()

	if m.stopTicker != nil {
		close(m.stopTicker)
	}
	for _, s := range sources {
		s.Stop()
	}
	return nil
}

// MockSource is a source scheduled on a MockOutput.
type MockSource struct {
	Buffer *Buffer

	out      *MockOutput
	start    time.Duration
	duration time.Duration
	rate     float64
	finished bool
	stopped  bool
	done     chan struct{}

	// Natural time consumed before segStart, for live rate changes.
	consumed time.Duration
	segStart time.Duration
}

var _ Source = (*MockSource)(nil)

func (s *MockSource) Start() time.Duration    { return s.start }
func (s *MockSource) Duration() time.Duration { return s.duration }
func (s *MockSource) Done() <-chan struct{}   { return s.done }

// Rate returns the current playback rate.
func (s *MockSource) Rate() float64 {
	s.out.mu.Lock()
	defer s.out.mu.Unlock()
	return s.rate
}

// SetRate changes the rate from the current clock time onward.
func (s *MockSource) SetRate(rate float64) {
	s.out.mu.Lock()
	defer s.out.mu.Unlock()
	if s.finished {
		return
	}
	now := s.out.now
	if now > s.segStart {
		s.consumed += time.Duration(float64(now-s.segStart) * s.rate)
		s.segStart = now
	}
	s.rate = normalizeRate(rate)
}

// End returns the clock time at which the source finishes at its current rate.
func (s *MockSource) End() time.Duration {
	s.out.mu.Lock()
	defer s.out.mu.Unlock()
	return s.endLocked()
}

// Stopped reports whether Stop was called before the source ended.
func (s *MockSource) Stopped() bool {
	s.out.mu.Lock()
	defer s.out.mu.Unlock()
	return s.stopped
}

// Stop finishes the source early.
func (s *MockSource) Stop() {
	s.out.mu.Lock()
	if s.finished {
		s.out.mu.Unlock()
		return
	}
	s.finished = true
	s.stopped = true
	s.out.mu.Unlock()
	close(s.done)
}

func (s *MockSource) endLocked() time.Duration {
	remaining := s.duration - s.consumed
	if remaining < 0 {
		remaining = 0
	}
	return s.segStart + time.Duration(float64(remaining)/s.rate)
}

// ErrMockPlay is a convenience error for FailNextPlay.
var ErrMockPlay = errors.New("mock play failure")
