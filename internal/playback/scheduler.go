// Package playback narrates a document chunk by chunk.
//
// The Scheduler is an explicit state machine (stopped, buffering, playing)
// with a two-slot buffer: the chunk that is playing and a Future for the
// chunk after it. Every start, stop and seek bumps a generation counter, and
// results from an older generation are discarded instead of played.
package playback

import (
	"context"
	"math"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/chunk"
	"github.com/dgnsrekt/lectern/internal/document"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/dgnsrekt/lectern/internal/synth"
)

// messageBuffer is the channel size used by Messages.
const messageBuffer = 64

// pending is a chunk whose audio is being synthesized.
type pending struct {
	chunk  chunk.Chunk
	future *Future[*audio.Buffer]
}

// playing is the chunk currently on the output.
type playing struct {
	chunk  chunk.Chunk
	source audio.Source
}

// Scheduler drives narration of one document.
type Scheduler struct {
	synth  synth.Synthesizer
	out    audio.Output
	logger *log.Logger
	events *dispatcher

	mu       sync.Mutex
	doc      document.Document
	chunker  chunk.Chunker
	settings Settings
	sm       *StateMachine
	index    int
	gen      uint64
	parent   context.Context
	cancel   context.CancelFunc // cancels the current generation
	done     chan struct{}      // closed when the current run goroutine exits
	current  *playing
	next     *pending
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default is log.Default().
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithIndex sets the initial active word index.
func WithIndex(index int) Option {
	return func(s *Scheduler) { s.index = index }
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(doc document.Document, syn synth.Synthesizer, out audio.Output, settings Settings, opts ...Option) *Scheduler {
	settings = settings.normalized()
	s := &Scheduler{
		synth:    syn,
		out:      out,
		logger:   log.Default(),
		events:   newDispatcher(),
		doc:      doc,
		chunker:  chunk.Chunker{MinWords: settings.MinWords, MaxWords: settings.MaxWords},
		settings: settings,
		sm:       NewStateMachine(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithPrefix("playback")
	s.index = clamp(s.index, 0, doc.Len())

	// Entering Stopped always releases the output and in-flight requests.
	s.sm.OnEnter(StateStopped, s.releaseLocked)
	return s
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Scheduler) Subscribe(o Observer) func() {
	return s.events.subscribe(o)
}

// Messages subscribes a channel that receives StateChangedMsg, HighlightMsg
// and PlaybackErrorMsg. Read it with WaitForMessage.
func (s *Scheduler) Messages() <-chan tea.Msg {
	ch := make(chan tea.Msg, messageBuffer)
	s.events.subscribe(channelObserver{ch: ch, stop: s.events.stop})
	return ch
}

// Start begins narration at the active index. It does nothing when
// narration is already active.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sm.Current() != StateStopped {
		return
	}
	s.startLocked(ctx)
}

func (s *Scheduler) startLocked(ctx context.Context) {
	s.parent = ctx
	s.gen++
	gen := s.gen

	if !s.transitionLocked(StateBuffering, "") {
		return
	}

	c, ok := s.chunker.Next(s.index, s.doc.Words)
	if !ok {
		s.transitionLocked(StateStopped, ReasonComplete)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.next = s.requestLocked(runCtx, c)
	done := make(chan struct{})
	s.done = done
	go s.run(runCtx, gen, done)
}

// Stop halts narration and waits for the run loop to exit. The active index
// keeps its last value. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.sm.Current() == StateStopped {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.transitionLocked(StateStopped, ReasonUser)
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Toggle starts narration when stopped and stops it otherwise.
func (s *Scheduler) Toggle(ctx context.Context) {
	if s.IsPlaying() {
		s.Stop()
		return
	}
	s.Start(ctx)
}

// Seek moves the active index. In-flight chunks are cancelled, and if
// narration was active it restarts from the new index.
func (s *Scheduler) Seek(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekLocked(index)
}

func (s *Scheduler) seekLocked(index int) {
	index = clamp(index, 0, s.doc.Len())
	active := s.sm.Current() != StateStopped
	if active {
		s.gen++
		s.transitionLocked(StateStopped, ReasonSeek)
	}
	if index != s.index {
		s.index = index
		s.events.emit(event{kind: eventHighlight, index: index})
	}
	if active {
		s.startLocked(s.parent)
	}
}

// SkipBlock seeks to the start of the next (dir > 0) or previous (dir < 0)
// paragraph block.
func (s *Scheduler) SkipBlock(dir int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.doc.Blocks
	if len(blocks) == 0 || dir == 0 {
		return
	}
	bi, _ := s.doc.BlockAt(s.index)
	if bi < 0 {
		bi = len(blocks)
	}
	target := bi + dir
	switch {
	case target < 0:
		s.seekLocked(0)
	case target >= len(blocks):
		s.seekLocked(s.doc.Len())
	default:
		s.seekLocked(blocks[target].StartIndex)
	}
}

// SkipChunk seeks one chunk forward or back. Backward skips return to the
// start of the current chunk first.
func (s *Scheduler) SkipChunk(dir int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case dir > 0:
		start := s.index
		if s.current != nil {
			start = s.current.chunk.Start
		}
		if c, ok := s.chunker.Next(start, s.doc.Words); ok {
			s.seekLocked(c.End())
		}
	case dir < 0:
		if s.current != nil && s.index > s.current.chunk.Start {
			s.seekLocked(s.current.chunk.Start)
			return
		}
		s.seekLocked(s.previousChunkStart(s.index))
	}
}

// previousChunkStart finds the start of the chunk ending at or after index-1,
// chunking forward from the start of its block.
func (s *Scheduler) previousChunkStart(index int) int {
	if index <= 0 {
		return 0
	}
	_, b := s.doc.BlockAt(index - 1)
	start := b.StartIndex
	for {
		c, ok := s.chunker.Next(start, s.doc.Words)
		if !ok || c.End() >= index {
			return start
		}
		start = c.End()
	}
}

// SetWPM changes the reading speed. The new rate applies to the playing
// chunk immediately and to every later chunk.
func (s *Scheduler) SetWPM(wpm int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.WPM = ClampWPM(wpm)
	if s.current != nil {
		s.current.source.SetRate(s.settings.Rate())
	}
}

// SetVoice changes the voice for chunks requested from now on.
func (s *Scheduler) SetVoice(v synth.Voice) {
	s.mu.Lock()
	s.settings.Voice = v
	s.mu.Unlock()
}

// SetDocument replaces the document, stopping narration and clamping the
// active index to the new length.
func (s *Scheduler) SetDocument(doc document.Document) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	if idx := clamp(s.index, 0, doc.Len()); idx != s.index {
		s.index = idx
		s.events.emit(event{kind: eventHighlight, index: idx})
	}
}

// Index returns the active word index.
func (s *Scheduler) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.Current()
}

// IsPlaying reports whether narration is buffering or playing.
func (s *Scheduler) IsPlaying() bool {
	return s.State() != StateStopped
}

// Rate returns the current playback rate.
func (s *Scheduler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Rate()
}

func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Current returns the chunk on the output, if any.
func (s *Scheduler) Current() (chunk.Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return chunk.Chunk{}, false
	}
	return s.current.chunk, true
}

// Document returns the narrated document.
func (s *Scheduler) Document() document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Close stops narration and delivers any queued events. It must not be
// called from an observer.
func (s *Scheduler) Close() {
	s.Stop()
	s.events.close()
}

// run plays the chunks of one generation in order.
func (s *Scheduler) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		next := s.next
		s.mu.Unlock()

		buf, err := next.future.Wait(ctx)
		if ctx.Err() != nil {
			s.abandon(gen)
			return
		}

		cur, ok := s.begin(ctx, gen, next, buf, err)
		if !ok {
			return
		}
		if !s.await(ctx, gen, cur) {
			s.abandon(gen)
			return
		}
		if !s.finish(gen, cur) {
			return
		}
	}
}

// begin starts playback of a resolved chunk and issues the prefetch for the
// one after it.
func (s *Scheduler) begin(ctx context.Context, gen uint64, next *pending, buf *audio.Buffer, err error) (*playing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return nil, false
	}
	if err == nil && buf.Len() == 0 {
		err = fault.Malformed("playback", "synthesize", fault.ErrNoAudio)
	}
	if err != nil {
		s.failLocked(err, next.chunk)
		return nil, false
	}

	src, err := s.out.Play(buf, s.out.Now(), s.settings.Rate())
	if err != nil {
		s.failLocked(err, next.chunk)
		return nil, false
	}

	s.next = nil
	s.current = &playing{chunk: next.chunk, source: src}
	if s.index != next.chunk.Start {
		s.index = next.chunk.Start
		s.events.emit(event{kind: eventHighlight, index: s.index})
	}
	s.transitionLocked(StatePlaying, "")

	if c, ok := s.chunker.Next(next.chunk.End(), s.doc.Words); ok {
		s.next = s.requestLocked(ctx, c)
	}
	s.logger.Debug("Playing chunk", "start", next.chunk.Start, "words", next.chunk.WordCount, "duration", buf.Duration())
	return s.current, true
}

// await waits for the playing chunk to finish, updating the highlight on
// every tick. It returns false if the generation was cancelled.
func (s *Scheduler) await(ctx context.Context, gen uint64, cur *playing) bool {
	s.mu.Lock()
	tick := s.settings.Tick
	s.mu.Unlock()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-cur.source.Done():
			return true
		case <-ticker.C:
			s.tick(gen, cur)
		}
	}
}

func (s *Scheduler) tick(gen uint64, cur *playing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.current != cur {
		return
	}

	elapsed := s.out.Now() - cur.source.Start()
	duration := time.Duration(float64(cur.source.Duration()) / s.settings.Rate())
	est := Estimate(cur.chunk.Start, cur.chunk.WordCount, elapsed, duration)
	if est > s.index && est < cur.chunk.End() {
		s.index = est
		s.events.emit(event{kind: eventHighlight, index: est})
	}
}

// finish moves past a chunk that played to its end. It returns false when
// narration is over.
func (s *Scheduler) finish(gen uint64, cur *playing) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}

	s.current = nil
	s.index = cur.chunk.End()
	s.events.emit(event{kind: eventHighlight, index: s.index})

	if s.next == nil {
		s.transitionLocked(StateStopped, ReasonComplete)
		return false
	}
	if !s.next.future.Ready() {
		s.transitionLocked(StateBuffering, "")
	}
	return true
}

// abandon stops a generation whose context ended without Stop or Seek, for
// example when the parent context was cancelled.
func (s *Scheduler) abandon(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.gen++
	s.transitionLocked(StateStopped, ReasonUser)
}

// requestLocked issues synthesis for c under the current voice.
func (s *Scheduler) requestLocked(ctx context.Context, c chunk.Chunk) *pending {
	voice := s.settings.Voice
	return &pending{
		chunk: c,
		future: NewFuture(ctx, func(ctx context.Context) (*audio.Buffer, error) {
			return s.synth.Synthesize(ctx, c.Text, voice)
		}),
	}
}

// failLocked stops narration after a failed chunk. The active index stays
// at the end of the last chunk that played.
func (s *Scheduler) failLocked(err error, c chunk.Chunk) {
	if fault.KindOf(err) != fault.UserCancellation {
		s.logger.Warn("Narration stopped", "chunk", c.Start, "err", err)
		s.events.emit(event{kind: eventError, err: err})
	}
	s.gen++
	s.transitionLocked(StateStopped, ReasonError)
}

// releaseLocked runs on entering StateStopped.
func (s *Scheduler) releaseLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.next != nil {
		s.next.future.Cancel()
		s.next = nil
	}
	if s.current != nil {
		s.current.source.Stop()
		s.current = nil
	}
}

func (s *Scheduler) transitionLocked(to State, reason string) bool {
	from := s.sm.Current()
	if !s.sm.Transition(to) {
		s.logger.Warn("Invalid narration transition", "from", from, "to", to)
		return false
	}
	if to != StateStopped {
		reason = ""
	}
	s.events.emit(event{kind: eventState, change: StateChange{
		From:   from,
		To:     to,
		Index:  s.index,
		Reason: reason,
		At:     time.Now(),
	}})
	return true
}

// Estimate returns the word being spoken elapsed into a chunk of count
// words starting at start whose audio lasts duration at the current rate.
func Estimate(start, count int, elapsed, duration time.Duration) int {
	if count <= 0 {
		return start
	}
	frac := 1.0
	if duration > 0 {
		frac = float64(elapsed) / float64(duration)
	}
	frac = math.Max(0, math.Min(frac, 1))
	return start + int(math.Floor(frac*float64(count)))
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
