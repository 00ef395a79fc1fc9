package ui

import (
	"strings"

	"github.com/dgnsrekt/lectern/internal/document"
	runewidth "github.com/mattn/go-runewidth"
)

const (
	gutterWidth   = 2
	gutterMark    = "▍ "
	gutterBlank   = "  "
	ellipsis      = "…"
	contextAbove  = 3 // lines kept above the active line
	paragraphSkip = -1
)

// span is one wrapped line of a block, holding the words [start, end).
// Blank separator lines between blocks have start == paragraphSkip.
type span struct {
	start int
	end   int
}

// wrapBlock lays the words of b out in lines no wider than width. A word
// wider than the line gets a line of its own.
func wrapBlock(b document.Block, width int) []span {
	if width < 1 {
		width = 1
	}
	var (
		lines []span
		cur   = span{start: b.StartIndex, end: b.StartIndex}
		used  int
	)
	for i, w := range b.Words {
		idx := b.StartIndex + i
		ww := runewidth.StringWidth(w)
		if cur.end > cur.start && used+1+ww > width {
			lines = append(lines, cur)
			cur = span{start: idx, end: idx}
			used = 0
		}
		if cur.end > cur.start {
			used++
		}
		used += ww
		cur.end = idx + 1
	}
	if cur.end > cur.start {
		lines = append(lines, cur)
	}
	return lines
}

// page describes what to draw around the active word.
type page struct {
	doc        document.Document
	active     int
	width      int
	height     int
	highlight  bool
	matches    map[int]bool
	bookmarked func(int) bool
}

// layout returns the lines to draw, starting a few lines above the line
// holding the active word.
func (p page) layout() []span {
	if p.doc.Len() == 0 || p.height <= 0 {
		return nil
	}
	textWidth := max(1, p.width-gutterWidth)

	cur, _ := p.doc.BlockAt(p.active)
	if cur < 0 {
		cur = len(p.doc.Blocks) - 1
	}
	first := max(0, cur-1)

	var (
		lines      []span
		activeLine = -1
	)
	for i := first; i < len(p.doc.Blocks); i++ {
		if i > first {
			lines = append(lines, span{start: paragraphSkip, end: paragraphSkip})
		}
		for _, l := range wrapBlock(p.doc.Blocks[i], textWidth) {
			if activeLine < 0 && p.active < l.end {
				activeLine = len(lines)
			}
			lines = append(lines, l)
		}
		if i >= cur && activeLine >= 0 && len(lines) >= activeLine+p.height {
			break
		}
	}
	if activeLine < 0 {
		activeLine = len(lines) - 1
	}

	top := max(0, activeLine-contextAbove)
	end := min(len(lines), top+p.height)
	return lines[top:end]
}

// render draws the page, one string per terminal line.
func (p page) render() string {
	lines := p.layout()
	out := make([]string, 0, len(lines))
	textWidth := max(1, p.width-gutterWidth)
	for _, l := range lines {
		if l.start == paragraphSkip {
			out = append(out, "")
			continue
		}
		gutter := gutterBlank
		words := make([]string, 0, l.end-l.start)
		for idx := l.start; idx < l.end; idx++ {
			if p.bookmarked != nil && p.bookmarked(idx) {
				gutter = bookmarkGutterStyle(gutterMark)
			}
			words = append(words, p.word(idx, textWidth))
		}
		out = append(out, gutter+strings.Join(words, " "))
	}
	return strings.Join(out, "\n")
}

func (p page) word(idx, width int) string {
	w := p.doc.Words[idx]
	if runewidth.StringWidth(w) > width {
		w = runewidth.Truncate(w, width, ellipsis)
	}
	switch {
	case p.highlight && idx == p.active:
		return highlightStyle.Render(w)
	case p.matches[idx]:
		return matchStyle.Render(w)
	default:
		return w
	}
}
