package ui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/assistant"
	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/playback"
	"github.com/dgnsrekt/lectern/internal/reader"
	"github.com/dgnsrekt/lectern/internal/synth"
)

type stubAssistant struct {
	err error
}

func (s stubAssistant) Summarize(context.Context, string) (string, error) {
	return "A short **summary**.", s.err
}

func (s stubAssistant) Chat(_ context.Context, _ string, _ []assistant.Message, msg string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "About " + msg, nil
}

func silence(context.Context, string, synth.Voice) (*audio.Buffer, error) {
	return &audio.Buffer{Samples: make([]int16, audio.OutputSampleRate), SampleRate: audio.OutputSampleRate}, nil
}

func newTestModel(t *testing.T, asst reader.Assistant) model {
	t.Helper()
	out := audio.NewMockOutput()
	settings := playback.DefaultSettings()
	settings.Tick = time.Millisecond
	s := reader.New(reader.Config{
		ID:        "walden",
		Title:     "Walden",
		Document:  numbered(100, 10),
		Synth:     synth.Func(silence),
		Output:    out,
		Settings:  settings,
		Assistant: asst,
		Logger:    log.New(io.Discard),
	})
	t.Cleanup(func() {
		_ = s.Close()
		_ = out.Close()
	})

	m := newModel(context.Background(), Config{
		GlamourStyle:     styles.DarkStyle,
		HighlightEnabled: true,
		StatusTimeout:    time.Second,
	}, s)
	return update(t, m, tea.WindowSizeMsg{Width: 80, Height: 12})
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func key(k string) tea.KeyMsg {
	switch k {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEscape}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
}

func press(t *testing.T, m model, keys ...string) (model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(model)
	}
	return m, cmd
}

func TestNavigationKeys(t *testing.T) {
	m := newTestModel(t, nil)
	s := m.session

	steps := []struct {
		key  string
		want func(int) bool
		desc string
	}{
		{"right", func(i int) bool { return i == 10 }, "next block"},
		{"right", func(i int) bool { return i == 20 }, "next block again"},
		{"left", func(i int) bool { return i == 10 }, "previous block"},
		{"]", func(i int) bool { return i > 10 }, "next chunk"},
		{"g", func(i int) bool { return i == 0 }, "go to start"},
	}
	for _, step := range steps {
		m, _ = press(t, m, step.key)
		if got := s.Index(); !step.want(got) {
			t.Errorf("%s (%q): index = %d", step.desc, step.key, got)
		}
	}
}

func TestSpeedAndVoiceKeys(t *testing.T) {
	m := newTestModel(t, nil)
	sched := m.session.Scheduler()

	m, _ = press(t, m, "+")
	if got := sched.Settings().WPM; got != 190 {
		t.Errorf("wpm after + = %d, want 190", got)
	}
	if m.statusMessage != "190 words per minute" {
		t.Errorf("status = %q", m.statusMessage)
	}

	m, _ = press(t, m, "-", "-")
	if got := sched.Settings().WPM; got != 170 {
		t.Errorf("wpm after -- = %d, want 170", got)
	}

	m, _ = press(t, m, "v")
	if got := sched.Settings().Voice; got != synth.Charon {
		t.Errorf("voice = %v, want Charon", got)
	}
	if m.statusMessage != "Voice: Charon" {
		t.Errorf("status = %q", m.statusMessage)
	}
}

func TestPlayKeyTogglesNarration(t *testing.T) {
	m := newTestModel(t, nil)
	sched := m.session.Scheduler()

	m, _ = press(t, m, " ")
	if !sched.IsPlaying() {
		t.Fatal("space should start narration")
	}
	_, _ = press(t, m, " ")
	if sched.IsPlaying() {
		t.Error("second space should stop narration")
	}
}

func TestBookmarkKey(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = press(t, m, "right")

	_, cmd := press(t, m, "b")
	if cmd == nil {
		t.Fatal("b should return a command")
	}
	m = update(t, m, cmd())
	if !m.session.IsBookmarked(10) {
		t.Error("word 10 should be bookmarked")
	}
	if !strings.HasPrefix(m.statusMessage, "Bookmarked: w10 w11") {
		t.Errorf("status = %q", m.statusMessage)
	}

	m, _ = press(t, m, "g", "n")
	if got := m.session.Index(); got != 10 {
		t.Errorf("n should jump to the bookmark, index = %d", got)
	}
	m, _ = press(t, m, "n")
	if m.statusMessage != "No bookmark ahead" {
		t.Errorf("status = %q", m.statusMessage)
	}
}

func TestSearch(t *testing.T) {
	m := newTestModel(t, nil)

	m, _ = press(t, m, "/")
	if m.mode != inputSearch {
		t.Fatal("/ should open the search input")
	}
	m, _ = press(t, m, "w42", "enter")
	if m.mode != inputNone {
		t.Error("enter should close the input")
	}
	if got := m.session.Index(); got != 42 {
		t.Errorf("index = %d, want 42", got)
	}
	if !m.matches[42] || m.statusMessage != "Match 1 of 1" {
		t.Errorf("matches = %v, status = %q", m.matches, m.statusMessage)
	}

	m, _ = press(t, m, "/", "nothing", "enter")
	if m.matches != nil || m.statusMessage != `No matches for "nothing"` {
		t.Errorf("matches = %v, status = %q", m.matches, m.statusMessage)
	}
}

func TestSearchEscapeCancels(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = press(t, m, "/", "w5", "esc")
	if m.mode != inputNone || m.session.Index() != 0 {
		t.Errorf("esc should cancel, mode = %d, index = %d", m.mode, m.session.Index())
	}
}

func TestSummaryPanel(t *testing.T) {
	m := newTestModel(t, stubAssistant{})

	m, _ = press(t, m, "s")
	if m.busy == "" {
		t.Error("s should mark the model busy")
	}
	next, cmd := m.Update(summarizeCmd(m.ctx, m.session)())
	m = next.(model)
	if m.busy != "" || m.panelText != "A short **summary**." {
		t.Errorf("busy = %q, panel = %q", m.busy, m.panelText)
	}
	m = update(t, m, cmd())
	if m.panelRendered == "" || !strings.Contains(m.View(), "summary") {
		t.Error("summary should be rendered in the panel")
	}

	m, _ = press(t, m, "esc")
	if m.panelText != "" || m.panelRendered != "" {
		t.Error("esc should close the panel")
	}
}

func TestAssistantFailureShowsFallback(t *testing.T) {
	m := newTestModel(t, stubAssistant{err: errors.New("offline")})

	m = update(t, m, summarizeCmd(m.ctx, m.session)())
	if m.panelText != assistant.FallbackAnalysis {
		t.Errorf("panel = %q", m.panelText)
	}
	m = update(t, m, askCmd(m.ctx, m.session, "why?")())
	if m.panelText != assistant.FallbackChat || m.panelTitle != "why?" {
		t.Errorf("title = %q, panel = %q", m.panelTitle, m.panelText)
	}
}

func TestAskWithoutAssistant(t *testing.T) {
	m := newTestModel(t, nil)
	m = update(t, m, askCmd(m.ctx, m.session, "who?")())
	if m.panelText != assistant.FallbackChat {
		t.Errorf("panel = %q", m.panelText)
	}
}

func TestLiveKeyWithoutLiveVoice(t *testing.T) {
	m := newTestModel(t, nil)
	_, cmd := press(t, m, "l")
	m = update(t, m, cmd())
	if !m.statusError || !strings.HasPrefix(m.statusMessage, "Live voice unavailable") {
		t.Errorf("status = %q (error %v)", m.statusMessage, m.statusError)
	}
}

func TestNarrationMessagesRearm(t *testing.T) {
	m := newTestModel(t, nil)
	msgs := []tea.Msg{
		playback.HighlightMsg{Index: 3},
		playback.StateChangedMsg{StateChange: playback.StateChange{To: playback.StatePlaying}},
		playback.PlaybackErrorMsg{Err: errors.New("boom")},
	}
	for _, msg := range msgs {
		if _, cmd := m.Update(msg); cmd == nil {
			t.Errorf("%T should wait for the next message", msg)
		}
	}

	m = update(t, m, playback.StateChangedMsg{StateChange: playback.StateChange{
		To:     playback.StateStopped,
		Reason: playback.ReasonComplete,
	}})
	if m.statusMessage != "Finished reading" {
		t.Errorf("status = %q", m.statusMessage)
	}
}

func TestStatusMessageTimeout(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = press(t, m, "v")
	first := m.statusGen
	m, _ = press(t, m, "v")

	m = update(t, m, statusMessageTimeoutMsg(first))
	if m.statusMessage == "" {
		t.Error("a stale timeout should not clear a newer message")
	}
	m = update(t, m, statusMessageTimeoutMsg(m.statusGen))
	if m.statusMessage != "" {
		t.Errorf("status = %q, want cleared", m.statusMessage)
	}
}

func TestView(t *testing.T) {
	m := newTestModel(t, nil)
	view := m.View()
	if !strings.Contains(view, "Lectern") || !strings.Contains(view, "Walden") {
		t.Errorf("status bar missing from view:\n%s", view)
	}
	if !containsWord(view, "w1") {
		t.Errorf("first block missing from view:\n%s", view)
	}
	if got := len(strings.Split(view, "\n")); got != 12 {
		t.Errorf("view has %d lines, want 12", got)
	}

	m, _ = press(t, m, "?")
	if !strings.Contains(m.View(), "toggle bookmark") {
		t.Error("? should show help")
	}
}
