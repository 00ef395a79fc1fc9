package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/dgnsrekt/lectern/internal/telemetry"
)

// Config wires a Session to its collaborators.
type Config struct {
	Dial       Dialer
	Microphone Microphone
	Output     audio.Output

	// Capture format and reply rate. Zero values use FrameSamples,
	// audio.CaptureSampleRate and audio.OutputSampleRate.
	FrameSamples int
	InputRate    int
	OutputRate   int

	// Transport labels metrics, for example "gemini" or "nats".
	Transport string
	Metrics   *telemetry.Instruments
	Logger    *log.Logger
}

// StatusMsg reports a session status change to the reader UI.
type StatusMsg struct {
	Status Status
}

// NoticeMsg reports a failure that ended or degraded the session.
type NoticeMsg struct {
	Err error
}

// Session is one live conversation. The zero value is not usable; create
// sessions with NewSession.
type Session struct {
	dial      Dialer
	mic       Microphone
	out       audio.Output
	frameSize int
	inRate    int
	outRate   int
	transport string
	metrics   *telemetry.Instruments
	logger    *log.Logger
	notify    *notifier

	mu        sync.Mutex
	status    Status
	active    bool
	gen       uint64
	cancel    context.CancelFunc
	micOpen   bool
	ch        Channel
	loops     *sync.WaitGroup
	sources   map[audio.Source]struct{}
	nextStart time.Duration
}

// NewSession creates an idle session.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Transport == "" {
		cfg.Transport = "gemini"
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = FrameSamples
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = audio.CaptureSampleRate
	}
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = audio.OutputSampleRate
	}
	return &Session{
		dial:      cfg.Dial,
		mic:       cfg.Microphone,
		out:       cfg.Output,
		frameSize: cfg.FrameSamples,
		inRate:    cfg.InputRate,
		outRate:   cfg.OutputRate,
		transport: cfg.Transport,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.WithPrefix(component),
		notify:    newNotifier(),
		sources:   make(map[audio.Source]struct{}),
	}
}

// Start opens the microphone and the channel and begins the conversation.
// It does nothing if the session is already active. A failure leaves the
// session idle and is also delivered to notice subscribers.
func (s *Session) Start(ctx context.Context, systemPrompt, contextText string) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = true
	s.gen++
	gen := s.gen
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.nextStart = 0
	s.mu.Unlock()

	frames, err := s.mic.Open(runCtx, s.inRate, s.frameSize)
	if err != nil {
		err = classify(fault.ResourceAcquisition, "open microphone", err)
		s.fail(gen, err)
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = s.mic.Close()
		return fault.New(fault.UserCancellation, component, "start", context.Canceled)
	}
	s.micOpen = true
	s.setStatusLocked(StatusListening)
	s.mu.Unlock()

	ch, err := s.dial(runCtx, Setup{SystemPrompt: systemPrompt, Context: contextText})
	if err != nil {
		err = classify(fault.TransientNetwork, "dial", err)
		s.fail(gen, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		_ = ch.Close()
		return fault.New(fault.UserCancellation, component, "start", context.Canceled)
	}
	s.ch = ch
	loops := &sync.WaitGroup{}
	s.loops = loops
	loops.Add(2)
	go s.capture(runCtx, gen, ch, frames, loops)
	go s.receive(runCtx, gen, ch, loops)
	s.logger.Info("Live session started", "transport", s.transport)
	return nil
}

// Stop ends the session and waits for its goroutines. Every scheduled reply
// is stopped. Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	loops := s.loops
	release := s.shutdownLocked()
	s.mu.Unlock()

	release()
	if loops != nil {
		loops.Wait()
	}
	s.logger.Info("Live session stopped")
}

// Active reports whether a session is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Pending returns the number of scheduled replies that have not finished.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

// Subscribe registers fn for status changes and returns a function that
// removes it. Callbacks run in order on a separate goroutine.
func (s *Session) Subscribe(fn func(Status)) func() {
	return s.notify.subscribe(listener{status: fn})
}

// OnNotice registers fn for failures and returns a function that removes it.
func (s *Session) OnNotice(fn func(error)) func() {
	return s.notify.subscribe(listener{notice: fn})
}

// Messages subscribes a channel receiving StatusMsg and NoticeMsg.
func (s *Session) Messages() <-chan tea.Msg {
	ch := make(chan tea.Msg, 16)
	send := func(msg tea.Msg) {
		select {
		case ch <- msg:
		case <-s.notify.stop:
		}
	}
	s.notify.subscribe(listener{
		status: func(st Status) { send(StatusMsg{Status: st}) },
		notice: func(err error) { send(NoticeMsg{Err: err}) },
	})
	return ch
}

// Close stops the session and the notification goroutine.
func (s *Session) Close() {
	s.Stop()
	s.notify.close()
}

// capture converts microphone frames to PCM and sends them.
func (s *Session) capture(ctx context.Context, gen uint64, ch Channel, frames <-chan []float32, loops *sync.WaitGroup) {
	defer loops.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				s.logger.Debug("Microphone closed")
				return
			}
			pcm := audio.EncodePCM16(audio.FloatToPCM16(frame))
			if err := ch.Send(ctx, Frame{Data: pcm, MimeType: fmt.Sprintf("audio/pcm;rate=%d", s.inRate)}); err != nil {
				if ctx.Err() != nil || fault.Is(err, fault.UserCancellation) {
					return
				}
				s.fail(gen, err)
				return
			}
			s.metrics.FrameSent(ctx, s.transport)

			s.mu.Lock()
			if s.gen == gen && s.status == StatusListening {
				s.setStatusLocked(StatusThinking)
			}
			s.mu.Unlock()
		}
	}
}

// receive schedules reply segments back to back on the output.
func (s *Session) receive(ctx context.Context, gen uint64, ch Channel, loops *sync.WaitGroup) {
	defer loops.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-ch.Segments():
			if !ok {
				err := ch.Err()
				if err == nil {
					err = fault.Network(component, "receive", errors.New("channel closed by peer"))
				}
				s.fail(gen, err)
				return
			}
			s.metrics.SegmentReceived(ctx, s.transport)
			s.schedule(gen, seg, loops)
		}
	}
}

func (s *Session) schedule(gen uint64, seg Segment, loops *sync.WaitGroup) {
	buf, err := audio.DecodePCM16(seg.Data, s.outRate)
	if err != nil {
		s.logger.Warn("Dropping malformed segment", "bytes", len(seg.Data), "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}

	start := max(s.nextStart, s.out.Now())
	src, err := s.out.Play(buf, start, 1)
	if err != nil {
		s.logger.Warn("Dropping segment the output refused", "err", err)
		return
	}
	s.nextStart = start + buf.Duration()
	s.sources[src] = struct{}{}
	s.setStatusLocked(StatusSpeaking)

	loops.Add(1)
	go func() {
		defer loops.Done()
		<-src.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.sources[src]; !ok {
			return
		}
		delete(s.sources, src)
		if len(s.sources) == 0 && s.gen == gen {
			s.setStatusLocked(StatusIdle)
		}
	}()
}

// fail tears down the session of generation gen and raises a notice.
func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || !s.active {
		s.mu.Unlock()
		return
	}
	release := s.shutdownLocked()
	s.mu.Unlock()

	release()
	if fault.KindOf(err) != fault.UserCancellation {
		s.logger.Warn("Live session ended", "err", err)
		s.notify.emit(func(l listener) {
			if l.notice != nil {
				l.notice(err)
			}
		})
	}
}

// shutdownLocked resets the session to idle. The returned function closes
// the microphone and channel and must be called without the lock held.
func (s *Session) shutdownLocked() func() {
	s.active = false
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for src := range s.sources {
		src.Stop()
	}
	clear(s.sources)
	s.nextStart = 0
	s.setStatusLocked(StatusIdle)

	micOpen, ch := s.micOpen, s.ch
	s.micOpen = false
	s.ch = nil
	return func() {
		if micOpen {
			if err := s.mic.Close(); err != nil {
				s.logger.Debug("Closing microphone", "err", err)
			}
		}
		if ch != nil {
			if err := ch.Close(); err != nil {
				s.logger.Debug("Closing channel", "err", err)
			}
		}
	}
}

func (s *Session) setStatusLocked(st Status) {
	if s.status == st {
		return
	}
	s.status = st
	s.notify.emit(func(l listener) {
		if l.status != nil {
			l.status(st)
		}
	})
}

// classify keeps an existing failure kind and otherwise applies kind.
func classify(kind fault.Kind, op string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fault.New(fault.UserCancellation, component, op, err)
	}
	return fault.New(kind, component, op, err)
}

type listener struct {
	status func(Status)
	notice func(error)
}

// notifier runs listener callbacks in order on one goroutine.
type notifier struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []func(listener)
	listeners map[int]listener
	nextID    int
	closed    bool

	stop chan struct{}
	done chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		listeners: make(map[int]listener),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	n.cond = sync.NewCond(&n.mu)
	go n.loop()
	return n
}

func (n *notifier) subscribe(l listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = l
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *notifier) emit(fn func(listener)) {
	n.mu.Lock()
	if !n.closed {
		n.queue = append(n.queue, fn)
		n.cond.Signal()
	}
	n.mu.Unlock()
}

func (n *notifier) loop() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		batch := n.queue
		n.queue = nil
		listeners := make([]listener, 0, len(n.listeners))
		for id := 0; id < n.nextID; id++ {
			if l, ok := n.listeners[id]; ok {
				listeners = append(listeners, l)
			}
		}
		n.mu.Unlock()

		for _, fn := range batch {
			for _, l := range listeners {
				fn(l)
			}
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.stop)
		n.cond.Broadcast()
	}
	n.mu.Unlock()
	<-n.done
}
