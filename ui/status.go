package ui

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/lectern/internal/live"
	"github.com/dgnsrekt/lectern/internal/playback"
	"github.com/dgnsrekt/lectern/internal/synth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
)

// narrationStatus is the part of the status bar describing the reader.
type narrationStatus struct {
	state      playback.State
	wpm        int
	voice      synth.Voice
	progress   float64
	live       live.Status
	liveOn     bool
	bookmarked bool
}

// compact returns a short status string such as
// "▶ 180 wpm · Puck · 42% · live: listening".
func (s narrationStatus) compact() string {
	var icon string
	switch s.state {
	case playback.StatePlaying:
		icon = "▶"
	case playback.StateBuffering:
		icon = "◌"
	default:
		icon = "■"
	}

	parts := []string{
		fmt.Sprintf("%s %d wpm", icon, s.wpm),
		s.voice.String(),
		fmt.Sprintf("%.0f%%", s.progress),
	}
	if s.bookmarked {
		parts = append(parts, "★")
	}
	if s.liveOn {
		parts = append(parts, "live: "+s.live.String())
	}
	return strings.Join(parts, " · ")
}

// statusBar lays out the logo, a note, the narration status and the help
// hint across width. A message replaces the note until it times out.
func statusBar(width int, note string, st narrationStatus, message string, isError bool) string {
	logo := logoView()
	pos := statusBarPosStyle(" " + st.compact() + " ")
	help := statusBarHelpStyle(" ? Help ")

	style := statusBarNoteStyle
	if message != "" {
		note = message
		style = statusBarMessageStyle
		if isError {
			style = statusBarErrorStyle
		}
	}

	room := max(0, width-
		ansi.PrintableRuneWidth(logo)-
		ansi.PrintableRuneWidth(pos)-
		ansi.PrintableRuneWidth(help))
	note = truncate.StringWithTail(" "+note+" ", uint(room), ellipsis) //nolint:gosec
	padding := max(0, room-ansi.PrintableRuneWidth(note))

	return logo + style(note+strings.Repeat(" ", padding)) + pos + help
}
