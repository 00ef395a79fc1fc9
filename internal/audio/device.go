package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/ebitengine/oto/v3"
)

// donePollInterval is how often a playing source checks whether oto has
// drained it.
const donePollInterval = 10 * time.Millisecond

// DeviceConfig contains configuration for the audio device.
type DeviceConfig struct {
	SampleRate int           // device rate; buffers at other rates are resampled
	BufferSize time.Duration // oto buffer size, 0 for the platform default
}

// DefaultDeviceConfig returns the default device configuration.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		SampleRate: OutputSampleRate,
		BufferSize: 40 * time.Millisecond,
	}
}

// Device is an Output backed by oto. The process may only hold one oto
// context, so narration and live voice share a single Device.
type Device struct {
	ctx        *oto.Context
	sampleRate int
	created    time.Time
	logger     *log.Logger

	mu      sync.Mutex
	sources map[*deviceSource]struct{}
	closed  bool
}

// NewDevice opens the audio device.
func NewDevice(config DeviceConfig, logger *log.Logger) (*Device, error) {
	if config.SampleRate <= 0 {
		return nil, fault.Invalid("audio", "open device", "sample rate must be positive, got %d", config.SampleRate)
	}
	if logger == nil {
		logger = log.Default()
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   config.BufferSize,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fault.New(fault.ResourceAcquisition, "audio", "open device",
			fmt.Errorf("%w: %v", fault.ErrDeviceDenied, err))
	}
	<-ready

	return &Device{
		ctx:        ctx,
		sampleRate: config.SampleRate,
		created:    time.Now(),
		logger:     logger.WithPrefix("audio"),
		sources:    make(map[*deviceSource]struct{}),
	}, nil
}

// Now returns the time since the device was opened.
func (d *Device) Now() time.Duration {
	return time.Since(d.created)
}

// Play schedules buf on the device.
func (d *Device) Play(buf *Buffer, at time.Duration, rate float64) (Source, error) {
	if buf.Len() == 0 {
		return nil, ErrEmptyPCM
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fault.ErrClosed
	}

	now := d.Now()
	if at < now {
		at = now
	}

	src := &deviceSource{
		device:   d,
		reader:   newRateReader(buf, d.sampleRate, rate),
		start:    at,
		duration: buf.Duration(),
		done:     make(chan struct{}),
	}
	// The player keeps a reference to the reader, and through it the samples,
	// for as long as it plays.
	src.player = d.ctx.NewPlayer(src.reader)
	d.sources[src] = struct{}{}

	if delay := at - now; delay > 0 {
		src.timer = time.AfterFunc(delay, src.begin)
	} else {
		go src.begin()
	}

	d.logger.Debug("Scheduled source", "at", at, "duration", src.duration, "rate", rate)
	return src, nil
}

// Close stops all sources and releases the device.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	sources := make([]*deviceSource, 0, len(d.sources))
	for s := range d.sources {
		sources = append(sources, s)
	}
	d.mu.Unlock()

	for _, s := range sources {
		s.Stop()
	}
	return nil
}

func (d *Device) forget(s *deviceSource) {
	d.mu.Lock()
	delete(d.sources, s)
	d.mu.Unlock()
}

type deviceSource struct {
	device   *Device
	player   *oto.Player
	reader   *rateReader
	timer    *time.Timer
	start    time.Duration
	duration time.Duration

	mu       sync.Mutex
	started  bool
	stopped  bool
	done     chan struct{}
	doneOnce sync.Once
}

func (s *deviceSource) Start() time.Duration    { return s.start }
func (s *deviceSource) Duration() time.Duration { return s.duration }
func (s *deviceSource) Rate() float64           { return s.reader.Rate() }
func (s *deviceSource) SetRate(rate float64)    { s.reader.SetRate(rate) }
func (s *deviceSource) Done() <-chan struct{}   { return s.done }

func (s *deviceSource) begin() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.player.Play()
	s.mu.Unlock()

	ticker := time.NewTicker(donePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.player.IsPlaying() {
				if err := s.player.Err(); err != nil && !errors.Is(err, io.EOF) {
					s.device.logger.Warn("Playback error", "err", err)
				}
				s.finish()
				return
			}
		}
	}
}

// Stop halts playback and releases the player.
func (s *deviceSource) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.started {
		s.player.Pause()
	}
	s.mu.Unlock()
	s.finish()
}

func (s *deviceSource) finish() {
	s.doneOnce.Do(func() {
		close(s.done)
		_ = s.player.Close()
		s.device.forget(s)
	})
}

// rateReader streams samples to oto, resampling to the device rate and
// applying a playback rate that may change while it plays.
type rateReader struct {
	samples []int16
	base    float64 // source rate / device rate
	rate    atomic.Uint64

	mu  sync.Mutex
	pos float64
}

func newRateReader(buf *Buffer, deviceRate int, rate float64) *rateReader {
	r := &rateReader{
		samples: buf.Samples,
		base:    float64(buf.SampleRate) / float64(deviceRate),
	}
	r.SetRate(rate)
	return r
}

func (r *rateReader) Rate() float64 {
	return math.Float64frombits(r.rate.Load())
}

func (r *rateReader) SetRate(rate float64) {
	r.rate.Store(math.Float64bits(normalizeRate(rate)))
}

// Read implements io.Reader.
func (r *rateReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	step := r.base * r.Rate()
	n := 0
	for n+1 < len(p) && int(r.pos) < len(r.samples) {
		binary.LittleEndian.PutUint16(p[n:], uint16(interpolate(r.samples, r.pos))) //nolint:gosec
		n += 2
		r.pos += step
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
