package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/document"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/dgnsrekt/lectern/internal/synth"
)

// makeDoc builds a single-paragraph document of n words where the words at
// the given indices end a sentence.
func makeDoc(n int, ends ...int) document.Document {
	stop := map[int]bool{}
	for _, e := range ends {
		stop[e] = true
	}
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
		if stop[i] {
			words[i] += "."
		}
	}
	return document.Tokenize(strings.Join(words, " "))
}

func textOf(doc document.Document, start, end int) string {
	return strings.Join(doc.Words[start:end], " ")
}

type fakeSynth struct {
	mu       sync.Mutex
	calls    []string
	voices   []synth.Voice
	fail     map[string]error
	gates    map[string]chan struct{}
	buffers  map[*audio.Buffer]string
	duration time.Duration
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{
		fail:     map[string]error{},
		gates:    map[string]chan struct{}{},
		buffers:  map[*audio.Buffer]string{},
		duration: time.Second,
	}
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, voice synth.Voice) (*audio.Buffer, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.voices = append(f.voices, voice)
	gate := f.gates[text]
	err := f.fail[text]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	buf := &audio.Buffer{
		Samples:    make([]int16, int(f.duration.Seconds()*audio.OutputSampleRate)),
		SampleRate: audio.OutputSampleRate,
	}
	f.mu.Lock()
	f.buffers[buf] = text
	f.mu.Unlock()
	return buf, nil
}

func (f *fakeSynth) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSynth) textFor(buf *audio.Buffer) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffers[buf]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type recorder struct {
	mu         sync.Mutex
	changes    []StateChange
	highlights []int
	errs       []error
}

func (r *recorder) OnState(c StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) OnHighlight(i int) {
	r.mu.Lock()
	r.highlights = append(r.highlights, i)
	r.mu.Unlock()
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) lastChange() (StateChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return StateChange{}, false
	}
	return r.changes[len(r.changes)-1], true
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Tick = time.Millisecond
	return s
}

func newTestScheduler(t *testing.T, doc document.Document, fs *fakeSynth) (*Scheduler, *audio.MockOutput, *recorder) {
	t.Helper()
	out := audio.NewMockOutput()
	s := NewScheduler(doc, fs, out, testSettings())
	rec := &recorder{}
	s.Subscribe(rec)
	t.Cleanup(func() {
		s.Close()
		_ = out.Close()
	})
	return s, out, rec
}

func TestStateMachineTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateStopped, StateBuffering, true},
		{StateStopped, StatePlaying, false},
		{StateStopped, StateStopped, false},
		{StateBuffering, StatePlaying, true},
		{StateBuffering, StateStopped, true},
		{StateBuffering, StateBuffering, false},
		{StatePlaying, StateBuffering, true},
		{StatePlaying, StatePlaying, true},
		{StatePlaying, StateStopped, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			sm := NewStateMachine()
			sm.current = tt.from
			if got := sm.Transition(tt.to); got != tt.ok {
				t.Errorf("Transition = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestStateMachineHooks(t *testing.T) {
	sm := NewStateMachine()
	var order []string
	sm.OnExit(StateStopped, func() { order = append(order, "exit-stopped") })
	sm.OnEnter(StateBuffering, func() { order = append(order, "enter-buffering") })

	sm.Transition(StateBuffering)
	if strings.Join(order, ",") != "exit-stopped,enter-buffering" {
		t.Errorf("hook order = %v", order)
	}
	if sm.Transition(StateBuffering) {
		t.Error("buffering to buffering should be rejected")
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		duration time.Duration
		want     int
	}{
		{"start", 0, time.Second, 100},
		{"half", 500 * time.Millisecond, time.Second, 110},
		{"almost done", 999 * time.Millisecond, time.Second, 119},
		{"past end", 2 * time.Second, time.Second, 120},
		{"negative elapsed", -time.Second, time.Second, 100},
		{"zero duration", 0, 0, 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Estimate(100, 20, tt.elapsed, tt.duration); got != tt.want {
				t.Errorf("Estimate = %d, want %d", got, tt.want)
			}
		})
	}

	prev := 0
	for ms := 0; ms <= 1500; ms += 7 {
		got := Estimate(0, 37, time.Duration(ms)*time.Millisecond, 1300*time.Millisecond)
		if got < prev || got > 37 {
			t.Fatalf("estimate not monotonic and bounded at %dms: %d after %d", ms, got, prev)
		}
		prev = got
	}
}

func TestSettingsRate(t *testing.T) {
	tests := []struct {
		wpm  int
		want float64
	}{
		{180, 1},
		{360, 2},
		{90, 0.5},
		{10, 50.0 / 180},
		{1000, 600.0 / 180},
	}
	for _, tt := range tests {
		s := Settings{WPM: tt.wpm}
		if got := s.Rate(); got != tt.want {
			t.Errorf("Rate(%d) = %v, want %v", tt.wpm, got, tt.want)
		}
	}

	p, err := ParsePreset("Speed")
	if err != nil || p.WPM != 250 {
		t.Errorf("ParsePreset = %+v, %v", p, err)
	}
	if _, err := ParsePreset("warp"); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestFuture(t *testing.T) {
	f := NewFuture(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	v, err := f.Wait(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Wait = %d, %v", v, err)
	}
	if !f.Ready() {
		t.Error("future should be ready")
	}

	blocked := NewFuture(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := blocked.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait err = %v", err)
	}
	blocked.Cancel()
	if _, err := blocked.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled future err = %v", err)
	}
}

func TestScheduler_PlaysChunksInOrderWithPrefetch(t *testing.T) {
	doc := makeDoc(60, 19, 39, 59)
	fs := newFakeSynth()
	s, out, rec := newTestScheduler(t, doc, fs)

	s.Start(context.Background())
	waitFor(t, "first chunk playing", func() bool { return len(out.Plays()) == 1 })
	waitFor(t, "prefetch of chunk 2", func() bool { return len(fs.Calls()) == 2 })
	if s.State() != StatePlaying {
		t.Fatalf("state = %s", s.State())
	}

	// Chunk 3 must not be requested before chunk 2 starts.
	time.Sleep(20 * time.Millisecond)
	if n := len(fs.Calls()); n != 2 {
		t.Fatalf("requested %d chunks while chunk 1 plays", n)
	}
	want := []string{textOf(doc, 0, 20), textOf(doc, 20, 40)}
	for i, text := range want {
		if fs.Calls()[i] != text {
			t.Errorf("call %d = %q, want %q", i, fs.Calls()[i], text)
		}
	}

	out.Advance(time.Second)
	waitFor(t, "second chunk playing", func() bool { return len(out.Plays()) == 2 })
	if s.Index() != 20 {
		t.Errorf("index = %d, want 20", s.Index())
	}
	waitFor(t, "prefetch of chunk 3", func() bool { return len(fs.Calls()) == 3 })

	// Gapless: chunk 2 is scheduled at chunk 1's end.
	plays := out.Plays()
	if plays[1].Start() != time.Second {
		t.Errorf("chunk 2 start = %v, want 1s", plays[1].Start())
	}

	out.Advance(time.Second)
	waitFor(t, "third chunk playing", func() bool { return len(out.Plays()) == 3 })
	out.Advance(time.Second)
	waitFor(t, "stopped", func() bool { return s.State() == StateStopped })

	if s.Index() != 60 {
		t.Errorf("index = %d, want 60", s.Index())
	}
	waitFor(t, "complete event", func() bool {
		c, ok := rec.lastChange()
		return ok && c.To == StateStopped && c.Reason == ReasonComplete
	})
	for i, p := range out.Plays() {
		if got, want := fs.textFor(p.Buffer), textOf(doc, i*20, i*20+20); got != want {
			t.Errorf("play %d = %q, want %q", i, got, want)
		}
	}
}

func TestScheduler_FailedPrefetchStopsWhenCurrentChunkEnds(t *testing.T) {
	doc := makeDoc(60, 19, 39, 59)
	fs := newFakeSynth()
	fs.fail[textOf(doc, 20, 40)] = fault.Network("synth", "generate", errors.New("connection reset"))
	s, out, rec := newTestScheduler(t, doc, fs)

	s.Start(context.Background())
	waitFor(t, "chunk 1 playing", func() bool { return len(out.Plays()) == 1 })
	waitFor(t, "chunk 2 requested", func() bool { return len(fs.Calls()) == 2 })

	// The failure must not cut chunk 1 short.
	time.Sleep(20 * time.Millisecond)
	if s.State() != StatePlaying {
		t.Fatalf("state = %s before chunk 1 ended", s.State())
	}

	out.Advance(time.Second)
	waitFor(t, "stopped", func() bool { return s.State() == StateStopped })

	if s.Index() != 20 {
		t.Errorf("index = %d, want 20 (end of chunk 1)", s.Index())
	}
	if n := len(out.Plays()); n != 1 {
		t.Errorf("plays = %d, want 1", n)
	}
	if n := len(fs.Calls()); n != 2 {
		t.Errorf("synth calls = %d, want 2 (no retry)", n)
	}
	waitFor(t, "error event", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.errs) == 1
	})
	waitFor(t, "error stop event", func() bool {
		c, ok := rec.lastChange()
		return ok && c.Reason == ReasonError
	})
}

func TestScheduler_FirstChunkFailure(t *testing.T) {
	doc := makeDoc(20, 19)
	fs := newFakeSynth()
	fs.fail[textOf(doc, 0, 20)] = fault.Malformed("synth", "generate", fault.ErrNoAudio)
	s, out, _ := newTestScheduler(t, doc, fs)

	s.Start(context.Background())
	waitFor(t, "stopped", func() bool { return s.State() == StateStopped && len(fs.Calls()) == 1 })
	if len(out.Plays()) != 0 || s.Index() != 0 {
		t.Errorf("plays = %d, index = %d", len(out.Plays()), s.Index())
	}
}

func TestScheduler_SeekDiscardsStalePrefetch(t *testing.T) {
	doc := makeDoc(80, 19, 39, 59, 79)
	fs := newFakeSynth()
	stale := textOf(doc, 20, 40)
	gate := make(chan struct{})
	fs.gates[stale] = gate
	s, out, _ := newTestScheduler(t, doc, fs)

	s.Start(context.Background())
	waitFor(t, "chunk 1 playing", func() bool { return len(out.Plays()) == 1 })
	waitFor(t, "stale prefetch issued", func() bool { return len(fs.Calls()) == 2 })

	s.Seek(40)
	if s.Index() != 40 {
		t.Fatalf("index = %d after seek", s.Index())
	}
	if !out.Plays()[0].Stopped() {
		t.Error("seek should stop the playing chunk")
	}

	waitFor(t, "chunk at 40 playing", func() bool { return len(out.Plays()) == 2 })
	// Resolve the stale request only after the new generation is playing.
	close(gate)
	time.Sleep(20 * time.Millisecond)

	out.Advance(time.Second)
	waitFor(t, "chunk at 60 playing", func() bool { return len(out.Plays()) == 3 })
	out.Advance(time.Second)
	waitFor(t, "stopped", func() bool { return s.State() == StateStopped })

	for i, p := range out.Plays() {
		if fs.textFor(p.Buffer) == stale {
			t.Fatalf("play %d used the stale prefetched chunk", i)
		}
	}
	if s.Index() != 80 {
		t.Errorf("index = %d, want 80", s.Index())
	}
}

func TestScheduler_SeekWhileStopped(t *testing.T) {
	doc := makeDoc(40, 19, 39)
	fs := newFakeSynth()
	s, out, _ := newTestScheduler(t, doc, fs)

	s.Seek(25)
	if s.Index() != 25 || s.State() != StateStopped {
		t.Errorf("index = %d, state = %s", s.Index(), s.State())
	}
	s.Seek(-5)
	if s.Index() != 0 {
		t.Errorf("index = %d, want clamp to 0", s.Index())
	}
	s.Seek(999)
	if s.Index() != 40 {
		t.Errorf("index = %d, want clamp to 40", s.Index())
	}
	time.Sleep(10 * time.Millisecond)
	if len(fs.Calls()) != 0 || len(out.Plays()) != 0 {
		t.Error("seek while stopped must not start narration")
	}
}

func TestScheduler_StopFreezesIndex(t *testing.T) {
	doc := makeDoc(40, 19, 39)
	fs := newFakeSynth()
	s, out, rec := newTestScheduler(t, doc, fs)

	s.Start(context.Background())
	waitFor(t, "playing", func() bool { return len(out.Plays()) == 1 })

	out.Advance(500 * time.Millisecond)
	waitFor(t, "highlight at word 10", func() bool { return s.Index() == 10 })

	s.Stop()
	s.Stop()
	if s.State() != StateStopped {
		t.Fatalf("state = %s", s.State())
	}
	if !out.Plays()[0].Stopped() {
		t.Error("source not stopped")
	}

	out.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	if s.Index() != 10 {
		t.Errorf("index moved after stop: %d", s.Index())
	}
	waitFor(t, "user stop event", func() bool {
		c, ok := rec.lastChange()
		return ok && c.Reason == ReasonUser && c.Index == 10
	})

	// Restart resumes from the frozen index.
	s.Start(context.Background())
	waitFor(t, "restart", func() bool { return len(out.Plays()) == 2 })
	if got := fs.Calls()[len(fs.Calls())-1]; !strings.HasPrefix(got, "w10 ") {
		t.Errorf("restart requested %q", got)
	}
}

func TestScheduler_HighlightMonotonicWithinChunk(t *testing.T) {
	doc := makeDoc(40, 19, 39)
	fs := newFakeSynth()
	s, out, rec := newTestScheduler(t, doc, fs)

	s.Start(context.Background())
	waitFor(t, "playing", func() bool { return len(out.Plays()) == 1 })

	for step := 1; step <= 3; step++ {
		out.Advance(250 * time.Millisecond)
		want := step * 5
		waitFor(t, fmt.Sprintf("index %d", want), func() bool { return s.Index() >= want })
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	prev := 0
	for _, h := range rec.highlights {
		if h < prev || h >= 20 {
			t.Fatalf("highlight %d after %d (chunk ends at 20)", h, prev)
		}
		prev = h
	}
}

func TestScheduler_SetWPMAppliesLive(t *testing.T) {
	doc := makeDoc(40, 19, 39)
	fs := newFakeSynth()
	s, out, _ := newTestScheduler(t, doc, fs)

	s.Start(context.Background())
	waitFor(t, "playing", func() bool { return len(out.Plays()) == 1 })

	s.SetWPM(360)
	if r := out.Plays()[0].Rate(); r != 2 {
		t.Errorf("source rate = %v, want 2", r)
	}
	if s.State() != StatePlaying {
		t.Errorf("state changed to %s", s.State())
	}

	// At rate 2 the 1s chunk ends after 0.5s.
	out.Advance(500 * time.Millisecond)
	waitFor(t, "chunk 2 playing", func() bool { return len(out.Plays()) == 2 })
	if r := out.Plays()[1].Rate(); r != 2 {
		t.Errorf("next chunk rate = %v, want 2", r)
	}

	s.SetWPM(5)
	if s.Settings().WPM != MinWPM {
		t.Errorf("wpm = %d, want clamp to %d", s.Settings().WPM, MinWPM)
	}
}

func TestScheduler_SetVoiceAppliesToLaterRequests(t *testing.T) {
	doc := makeDoc(60, 19, 39, 59)
	fs := newFakeSynth()
	s, out, _ := newTestScheduler(t, doc, fs)

	s.Start(context.Background())
	waitFor(t, "prefetch", func() bool { return len(fs.Calls()) == 2 })
	s.SetVoice(synth.Kore)
	out.Advance(time.Second)
	waitFor(t, "third request", func() bool { return len(fs.Calls()) == 3 })

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.voices[0] != synth.Puck || fs.voices[2] != synth.Kore {
		t.Errorf("voices = %v", fs.voices)
	}
}

func TestScheduler_StartAtEndCompletes(t *testing.T) {
	doc := makeDoc(20, 19)
	fs := newFakeSynth()
	out := audio.NewMockOutput()
	s := NewScheduler(doc, fs, out, testSettings(), WithIndex(20))
	defer s.Close()

	s.Start(context.Background())
	if s.State() != StateStopped {
		t.Errorf("state = %s", s.State())
	}
	if len(fs.Calls()) != 0 {
		t.Error("no chunk should be requested at end of document")
	}
}

func TestScheduler_ParentContextCancel(t *testing.T) {
	doc := makeDoc(40, 19, 39)
	fs := newFakeSynth()
	s, out, _ := newTestScheduler(t, doc, fs)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	waitFor(t, "playing", func() bool { return len(out.Plays()) == 1 })
	cancel()
	waitFor(t, "stopped", func() bool { return s.State() == StateStopped })
}

func TestScheduler_SkipBlock(t *testing.T) {
	doc := document.Tokenize("one two three.\n\nfour five six.\n\nseven eight nine.")
	s := NewScheduler(doc, newFakeSynth(), audio.NewMockOutput(), testSettings(), WithIndex(4))
	defer s.Close()

	s.SkipBlock(1)
	if s.Index() != 6 {
		t.Errorf("next block index = %d, want 6", s.Index())
	}
	s.SkipBlock(-1)
	if s.Index() != 3 {
		t.Errorf("previous block index = %d, want 3", s.Index())
	}
	s.SkipBlock(-1)
	s.SkipBlock(-1)
	if s.Index() != 0 {
		t.Errorf("index = %d, want 0", s.Index())
	}
	s.SkipBlock(5)
	if s.Index() != 9 {
		t.Errorf("index = %d, want end", s.Index())
	}
}

func TestScheduler_SkipChunk(t *testing.T) {
	doc := makeDoc(60, 19, 39, 59)
	s := NewScheduler(doc, newFakeSynth(), audio.NewMockOutput(), testSettings())
	defer s.Close()

	s.SkipChunk(1)
	if s.Index() != 20 {
		t.Errorf("forward = %d, want 20", s.Index())
	}
	s.SkipChunk(1)
	s.SkipChunk(-1)
	if s.Index() != 20 {
		t.Errorf("back = %d, want 20", s.Index())
	}
	s.Seek(45)
	s.SkipChunk(-1)
	if s.Index() != 40 {
		t.Errorf("back from mid chunk = %d, want 40", s.Index())
	}
}

func TestScheduler_SetDocumentClampsIndex(t *testing.T) {
	s := NewScheduler(makeDoc(40, 39), newFakeSynth(), audio.NewMockOutput(), testSettings(), WithIndex(35))
	defer s.Close()

	s.SetDocument(makeDoc(10, 9))
	if s.Index() != 10 {
		t.Errorf("index = %d, want 10", s.Index())
	}
}

func TestScheduler_Messages(t *testing.T) {
	doc := makeDoc(20, 19)
	fs := newFakeSynth()
	out := audio.NewMockOutput()
	s := NewScheduler(doc, fs, out, testSettings())
	defer s.Close()

	ch := s.Messages()
	s.Start(context.Background())

	msg := WaitForMessage(ch)()
	changed, ok := msg.(StateChangedMsg)
	if !ok {
		t.Fatalf("first message = %T", msg)
	}
	if changed.From != StateStopped || changed.To != StateBuffering {
		t.Errorf("change = %+v", changed.StateChange)
	}

	waitFor(t, "playing message", func() bool {
		select {
		case m := <-ch:
			if sc, ok := m.(StateChangedMsg); ok && sc.To == StatePlaying {
				return true
			}
		default:
		}
		return false
	})
}
