// Package ui provides the reader TUI for lectern.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/assistant"
	"github.com/dgnsrekt/lectern/internal/bookmark"
	"github.com/dgnsrekt/lectern/internal/live"
	"github.com/dgnsrekt/lectern/internal/playback"
	"github.com/dgnsrekt/lectern/internal/reader"
	te "github.com/muesli/termenv"
)

const (
	wpmStep = 10
	keyEsc  = "esc"
)

// NewProgram returns a new Tea program reading the session's document.
func NewProgram(ctx context.Context, cfg Config, session *reader.Session) *tea.Program {
	log.Debug(
		"Starting lectern",
		"glamour",
		cfg.GlamourEnabled,
		"highlight",
		cfg.HighlightEnabled,
	)

	opts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(ctx, cfg, session), opts...)
}

// DocumentReloadedMsg tells the reader the session's document was replaced.
type DocumentReloadedMsg struct {
	Words int
}

type (
	bookmarkMsg struct {
		added bool
		mark  bookmark.Bookmark
		err   error
	}
	assistantMsg struct {
		title    string
		text     string
		err      error
		fallback string
	}
	panelRenderedMsg        string
	liveToggledMsg          struct{ err error }
	statusMessageTimeoutMsg int
)

// inputMode is what the text input at the bottom of the screen is for.
type inputMode int

const (
	inputNone inputMode = iota
	inputSearch
	inputAsk
)

type model struct {
	ctx     context.Context
	cfg     Config
	session *reader.Session

	narration <-chan tea.Msg
	liveMsgs  <-chan tea.Msg

	width  int
	height int

	mode    inputMode
	input   textinput.Model
	spinner spinner.Model
	busy    string

	panelTitle    string
	panelText     string
	panelRendered string
	showHelp      bool

	matches    map[int]bool
	liveStatus live.Status

	statusMessage string
	statusError   bool
	statusGen     int
}

func newModel(ctx context.Context, cfg Config, session *reader.Session) model {
	if cfg.GlamourStyle == "" || cfg.GlamourStyle == styles.AutoStyle {
		if te.HasDarkBackground() {
			cfg.GlamourStyle = styles.DarkStyle
		} else {
			cfg.GlamourStyle = styles.LightStyle
		}
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 3 * time.Second
	}

	ti := textinput.New()
	ti.Prompt = "/ "
	ti.CharLimit = 500

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(fuchsia)

	m := model{
		ctx:       ctx,
		cfg:       cfg,
		session:   session,
		narration: session.Scheduler().Messages(),
		input:     ti,
		spinner:   sp,
	}
	if ls := session.Live(); ls != nil {
		m.liveMsgs = ls.Messages()
		m.liveStatus = ls.Status()
	}
	return m
}

func (m model) Init() tea.Cmd {
	log.Debug("Init() called", "title", m.session.Title(), "words", m.session.Document().Len())
	cmds := []tea.Cmd{playback.WaitForMessage(m.narration)}
	if m.liveMsgs != nil {
		cmds = append(cmds, playback.WaitForMessage(m.liveMsgs))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(0, msg.Width-4)
		if m.panelText != "" {
			cmds = append(cmds, m.renderPanel())
		}

	// Narration events
	case playback.HighlightMsg:
		cmds = append(cmds, playback.WaitForMessage(m.narration))

	case playback.StateChangedMsg:
		if msg.To == playback.StateStopped && msg.Reason == playback.ReasonComplete {
			cmds = append(cmds, m.showStatusMessage("Finished reading", false))
		}
		cmds = append(cmds, playback.WaitForMessage(m.narration))

	case playback.PlaybackErrorMsg:
		log.Debug("narration error", "error", msg.Err)
		cmds = append(cmds,
			m.showStatusMessage("Narration stopped: "+msg.Err.Error(), true),
			playback.WaitForMessage(m.narration))

	// Live voice events
	case live.StatusMsg:
		m.liveStatus = msg.Status
		cmds = append(cmds, playback.WaitForMessage(m.liveMsgs))

	case live.NoticeMsg:
		cmds = append(cmds,
			m.showStatusMessage("Live voice: "+msg.Err.Error(), true),
			playback.WaitForMessage(m.liveMsgs))

	case liveToggledMsg:
		if msg.err != nil {
			cmds = append(cmds, m.showStatusMessage("Live voice unavailable: "+msg.err.Error(), true))
		}

	case bookmarkMsg:
		switch {
		case msg.err != nil:
			cmds = append(cmds, m.showStatusMessage("Bookmark failed: "+msg.err.Error(), true))
		case msg.added:
			cmds = append(cmds, m.showStatusMessage("Bookmarked: "+msg.mark.Preview, false))
		default:
			cmds = append(cmds, m.showStatusMessage("Bookmark removed", false))
		}

	case assistantMsg:
		m.busy = ""
		m.panelTitle = msg.title
		m.panelText = msg.text
		if msg.err != nil {
			log.Warn("assistant request failed", "title", msg.title, "error", msg.err)
			m.panelText = msg.fallback
		}
		cmds = append(cmds, m.renderPanel())

	case panelRenderedMsg:
		m.panelRendered = string(msg)

	case DocumentReloadedMsg:
		m.matches = nil
		cmds = append(cmds, m.showStatusMessage(fmt.Sprintf("Reloaded, %d words", msg.Words), false))

	case statusMessageTimeoutMsg:
		if int(msg) == m.statusGen {
			m.statusMessage = ""
			m.statusError = false
		}

	case spinner.TickMsg:
		if m.busy != "" {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := m.session
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case keyEsc:
		switch {
		case m.showHelp:
			m.showHelp = false
		case m.panelText != "":
			m.panelTitle, m.panelText, m.panelRendered = "", "", ""
		default:
			m.matches = nil
		}

	case "?":
		m.showHelp = !m.showHelp

	case " ":
		s.TogglePlay(m.ctx)

	case "left":
		s.SkipBlock(-1)
	case "right":
		s.SkipBlock(1)
	case "[":
		s.SkipChunk(-1)
	case "]":
		s.SkipChunk(1)
	case "home", "g":
		s.Seek(0)

	case "+", "=":
		cmd := m.changeWPM(wpmStep)
		return m, cmd
	case "-", "_":
		cmd := m.changeWPM(-wpmStep)
		return m, cmd

	case "v":
		v := s.CycleVoice()
		cmd := m.showStatusMessage("Voice: "+v.String(), false)
		return m, cmd

	case "b":
		return m, toggleBookmarkCmd(m.ctx, s)
	case "n":
		if _, ok := s.NextBookmark(); !ok {
			cmd := m.showStatusMessage("No bookmark ahead", false)
			return m, cmd
		}
	case "N":
		if _, ok := s.PrevBookmark(); !ok {
			cmd := m.showStatusMessage("No bookmark behind", false)
			return m, cmd
		}

	case "/":
		cmd := m.openInput(inputSearch, "/ ", "Search this document")
		return m, cmd
	case "a":
		cmd := m.openInput(inputAsk, "? ", "Ask about this passage")
		return m, cmd

	case "s":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "Summarizing"
		return m, tea.Batch(m.spinner.Tick, summarizeCmd(m.ctx, s))

	case "l":
		return m, toggleLiveCmd(m.ctx, s)

	case "y":
		doc := s.Document()
		i, _ := doc.BlockAt(s.Index())
		text := doc.BlockText(i)
		if text == "" {
			return m, nil
		}
		// Copy using OSC 52
		te.Copy(text)
		// Copy using native system clipboard
		_ = clipboard.WriteAll(text)
		cmd := m.showStatusMessage("Copied passage", false)
		return m, cmd
	}
	return m, nil
}

func (m *model) changeWPM(delta int) tea.Cmd {
	wpm := playback.ClampWPM(m.session.Scheduler().Settings().WPM + delta)
	m.session.SetWPM(wpm)
	return m.showStatusMessage(fmt.Sprintf("%d words per minute", wpm), false)
}

func (m *model) openInput(mode inputMode, prompt, placeholder string) tea.Cmd {
	m.mode = mode
	m.input.Prompt = prompt
	m.input.Placeholder = placeholder
	m.input.Reset()
	return m.input.Focus()
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case keyEsc, "ctrl+c":
		m.mode = inputNone
		m.input.Blur()
		return m, nil

	case "enter":
		query := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m.mode = inputNone
		m.input.Blur()
		if query == "" {
			return m, nil
		}
		if mode == inputSearch {
			return m.search(query)
		}
		if m.busy != "" {
			return m, nil
		}
		m.busy = "Thinking"
		return m, tea.Batch(m.spinner.Tick, askCmd(m.ctx, m.session, query))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// search marks every hit and jumps to the first one after the active word,
// wrapping around to the start.
func (m model) search(query string) (tea.Model, tea.Cmd) {
	hits := m.session.Search(query)
	if len(hits) == 0 {
		m.matches = nil
		cmd := m.showStatusMessage(fmt.Sprintf("No matches for %q", query), false)
		return m, cmd
	}

	m.matches = make(map[int]bool, len(hits))
	for _, h := range hits {
		m.matches[h] = true
	}
	pos := 0
	index := m.session.Index()
	for i, h := range hits {
		if h > index {
			pos = i
			break
		}
	}
	m.session.Seek(hits[pos])
	return m, m.showStatusMessage(fmt.Sprintf("Match %d of %d", pos+1, len(hits)), false)
}

func (m *model) showStatusMessage(msg string, isError bool) tea.Cmd {
	m.statusGen++
	m.statusMessage = msg
	m.statusError = isError
	return waitForStatusMessageTimeout(m.statusGen, m.cfg.StatusTimeout)
}

func (m model) renderPanel() tea.Cmd {
	title, text := m.panelTitle, m.panelText
	width := max(0, m.width-4)
	if m.cfg.GlamourMaxWidth > 0 {
		width = min(width, int(m.cfg.GlamourMaxWidth)) //nolint:gosec
	}
	return func() tea.Msg {
		md := "## " + title + "\n\n" + text
		if !m.cfg.GlamourEnabled {
			return panelRenderedMsg(md)
		}
		out, err := glamourRender(m.cfg.GlamourStyle, width, md)
		if err != nil {
			log.Error("error rendering with Glamour", "error", err)
			return panelRenderedMsg(md)
		}
		return panelRenderedMsg(out)
	}
}

func (m model) View() string {
	var footer []string
	if m.panelRendered != "" {
		footer = append(footer, panelStyle.Width(max(0, m.width-2)).Render(strings.TrimSpace(m.panelRendered)))
	}
	if m.mode != inputNone {
		footer = append(footer, m.input.View())
	}
	if m.busy != "" {
		footer = append(footer, m.spinner.View()+" "+m.busy+"…")
	}
	footer = append(footer, statusBar(m.width, m.session.Title(), m.narrationStatus(), m.statusMessage, m.statusError))
	if m.showHelp {
		footer = append(footer, m.helpView())
	}
	bottom := strings.Join(footer, "\n")

	doc := m.session.Document()
	if doc.Len() == 0 {
		return subtleStyle.Render(indent("This document has no words.", 2)) + "\n" + bottom
	}

	p := page{
		doc:        doc,
		active:     m.session.Index(),
		width:      m.width,
		height:     max(1, m.height-lipgloss.Height(bottom)),
		highlight:  m.cfg.HighlightEnabled,
		matches:    m.matches,
		bookmarked: m.session.IsBookmarked,
	}
	body := p.render()
	if pad := p.height - lipgloss.Height(body); pad > 0 {
		body += strings.Repeat("\n", pad)
	}
	return body + "\n" + bottom
}

func (m model) narrationStatus() narrationStatus {
	sched := m.session.Scheduler()
	st := narrationStatus{
		state:      sched.State(),
		wpm:        sched.Settings().WPM,
		voice:      sched.Settings().Voice,
		progress:   m.session.Progress(),
		live:       m.liveStatus,
		liveOn:     m.session.Live() != nil && m.liveStatus != live.StatusIdle,
		bookmarked: m.session.IsBookmarked(sched.Index()),
	}
	return st
}

func (m model) helpView() (s string) {
	col1 := []string{
		"b       toggle bookmark",
		"n/N     next/previous bookmark",
		"/       search",
		"s       summarize passage",
		"a       ask a question",
		"l       live voice",
		"y       copy passage",
	}

	s += "\n"
	s += "space    play/stop           " + col1[0] + "\n"
	s += "←/→      previous/next block " + col1[1] + "\n"
	s += "[/]      previous/next chunk " + col1[2] + "\n"
	s += "+/-      reading speed       " + col1[3] + "\n"
	s += "v        next voice          " + col1[4] + "\n"
	s += "g/home   go to start         " + col1[5] + "\n"
	s += "esc      close               " + col1[6] + "\n"
	s += "q        quit"

	s = indent(s, 2)

	// Fill up empty cells with spaces for background coloring
	if m.width > 0 {
		lines := strings.Split(s, "\n")
		for i := range lines {
			l := lipgloss.Width(lines[i])
			lines[i] += strings.Repeat(" ", max(m.width-l, 0))
		}
		s = strings.Join(lines, "\n")
	}

	return helpViewStyle(s)
}

// COMMANDS

func toggleBookmarkCmd(ctx context.Context, s *reader.Session) tea.Cmd {
	return func() tea.Msg {
		added, b, err := s.ToggleBookmark(ctx)
		return bookmarkMsg{added: added, mark: b, err: err}
	}
}

func summarizeCmd(ctx context.Context, s *reader.Session) tea.Cmd {
	return func() tea.Msg {
		text, err := s.Summarize(ctx)
		return assistantMsg{title: "Summary", text: text, err: err, fallback: assistant.FallbackAnalysis}
	}
}

func askCmd(ctx context.Context, s *reader.Session, question string) tea.Cmd {
	return func() tea.Msg {
		text, err := s.Ask(ctx, question)
		return assistantMsg{title: question, text: text, err: err, fallback: assistant.FallbackChat}
	}
}

func toggleLiveCmd(ctx context.Context, s *reader.Session) tea.Cmd {
	return func() tea.Msg {
		return liveToggledMsg{err: s.ToggleLive(ctx)}
	}
}

func waitForStatusMessageTimeout(gen int, d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return statusMessageTimeoutMsg(gen)
	})
}

// glamourRender renders markdown for the assistant panel.
func glamourRender(style string, width int, markdown string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("error creating glamour renderer: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("error rendering markdown: %w", err)
	}
	return out, nil
}
