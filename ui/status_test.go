package ui

import (
	"strings"
	"testing"

	"github.com/dgnsrekt/lectern/internal/live"
	"github.com/dgnsrekt/lectern/internal/playback"
	"github.com/dgnsrekt/lectern/internal/synth"
	"github.com/muesli/reflow/ansi"
)

func TestCompactStatus(t *testing.T) {
	tests := []struct {
		name   string
		status narrationStatus
		want   string
	}{
		{
			"stopped",
			narrationStatus{state: playback.StateStopped, wpm: 180, voice: synth.Puck},
			"■ 180 wpm · Puck · 0%",
		},
		{
			"buffering with bookmark",
			narrationStatus{state: playback.StateBuffering, wpm: 250, voice: synth.Kore, progress: 12.6, bookmarked: true},
			"◌ 250 wpm · Kore · 13% · ★",
		},
		{
			"playing with live voice",
			narrationStatus{state: playback.StatePlaying, wpm: 130, voice: synth.Zephyr, progress: 99.4, live: live.StatusListening, liveOn: true},
			"▶ 130 wpm · Zephyr · 99% · live: listening",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.compact(); got != tt.want {
				t.Errorf("compact() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusBarFillsWidth(t *testing.T) {
	st := narrationStatus{wpm: 180, voice: synth.Puck, progress: 50}
	for _, width := range []int{60, 100, 140} {
		bar := statusBar(width, "Walden", st, "", false)
		if got := ansi.PrintableRuneWidth(bar); got != width {
			t.Errorf("width %d: status bar is %d cells wide", width, got)
		}
		if !strings.Contains(bar, "Walden") {
			t.Errorf("width %d: note missing from %q", width, bar)
		}
	}
}

func TestStatusBarMessageReplacesNote(t *testing.T) {
	st := narrationStatus{wpm: 180, voice: synth.Puck}
	bar := statusBar(100, "Walden", st, "Bookmarked", false)
	if strings.Contains(bar, "Walden") || !strings.Contains(bar, "Bookmarked") {
		t.Errorf("message should replace the note: %q", bar)
	}
}

func TestStatusBarTruncatesNote(t *testing.T) {
	st := narrationStatus{wpm: 180, voice: synth.Puck}
	bar := statusBar(50, strings.Repeat("long title ", 20), st, "", false)
	if !strings.Contains(bar, ellipsis) {
		t.Errorf("long note should be truncated: %q", bar)
	}
	if got := ansi.PrintableRuneWidth(bar); got != 50 {
		t.Errorf("status bar is %d cells wide, want 50", got)
	}
}
