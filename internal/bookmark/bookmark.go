// Package bookmark keeps the saved positions and reading progress of a
// document. Positions are global word indices.
package bookmark

import (
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/dgnsrekt/lectern/internal/fault"
)

const component = "bookmark"

// PreviewWords is the number of words shown in a bookmark preview.
const PreviewWords = 8

// Bookmark is a saved position.
type Bookmark struct {
	ID          string `json:"id" yaml:"id"`
	WordIndex   int    `json:"wordIndex" yaml:"word_index"`
	PreviewText string `json:"previewText" yaml:"preview"`
	CreatedAt   int64  `json:"createdAt" yaml:"created_at"` // unix milliseconds
	Note        string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Created returns CreatedAt as a time.
func (b Bookmark) Created() time.Time {
	return time.UnixMilli(b.CreatedAt)
}

// Tracker holds the bookmarks of one document, ordered by word index.
type Tracker struct {
	total int
	marks []Bookmark
}

// NewTracker creates a tracker for a document of total words. Bookmarks
// outside the document are dropped.
func NewTracker(total int, marks []Bookmark) *Tracker {
	t := &Tracker{total: total}
	for _, m := range marks {
		if m.WordIndex >= 0 && m.WordIndex < total {
			t.marks = append(t.marks, m)
		}
	}
	t.sort()
	return t
}

// Toggle removes the bookmark at index if there is one and adds one
// otherwise. It reports whether a bookmark was added, along with the
// bookmark that was added or removed.
func (t *Tracker) Toggle(index int, preview string, now time.Time) (bool, Bookmark, error) {
	if index < 0 || index >= t.total {
		return false, Bookmark{}, fault.New(fault.InvalidInput, component, "toggle", fault.ErrOutOfRange).
			WithContext("index", index).
			WithContext("total", t.total)
	}

	if i := t.find(index); i >= 0 {
		removed := t.marks[i]
		t.marks = slices.Delete(t.marks, i, i+1)
		return false, removed, nil
	}

	ms := now.UnixMilli()
	for t.hasID(strconv.FormatInt(ms, 10)) {
		ms++
	}
	b := Bookmark{
		ID:          strconv.FormatInt(ms, 10),
		WordIndex:   index,
		PreviewText: preview,
		CreatedAt:   now.UnixMilli(),
	}
	t.marks = append(t.marks, b)
	t.sort()
	return true, b, nil
}

// Remove deletes the bookmark with the given id.
func (t *Tracker) Remove(id string) bool {
	for i, m := range t.marks {
		if m.ID == id {
			t.marks = slices.Delete(t.marks, i, i+1)
			return true
		}
	}
	return false
}

// SetNote attaches a note to a bookmark.
func (t *Tracker) SetNote(id, note string) error {
	for i := range t.marks {
		if t.marks[i].ID == id {
			t.marks[i].Note = note
			return nil
		}
	}
	return fault.Invalid(component, "set note", "no bookmark with id %q", id)
}

// List returns a copy of the bookmarks ordered by word index.
func (t *Tracker) List() []Bookmark {
	return slices.Clone(t.marks)
}

func (t *Tracker) Len() int {
	return len(t.marks)
}

// Has reports whether index is bookmarked.
func (t *Tracker) Has(index int) bool {
	return t.find(index) >= 0
}

// Next returns the first bookmark after index.
func (t *Tracker) Next(index int) (Bookmark, bool) {
	for _, m := range t.marks {
		if m.WordIndex > index {
			return m, true
		}
	}
	return Bookmark{}, false
}

// Prev returns the last bookmark before index.
func (t *Tracker) Prev(index int) (Bookmark, bool) {
	for i := len(t.marks) - 1; i >= 0; i-- {
		if t.marks[i].WordIndex < index {
			return t.marks[i], true
		}
	}
	return Bookmark{}, false
}

func (t *Tracker) find(index int) int {
	for i, m := range t.marks {
		if m.WordIndex == index {
			return i
		}
	}
	return -1
}

func (t *Tracker) hasID(id string) bool {
	for _, m := range t.marks {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (t *Tracker) sort() {
	slices.SortStableFunc(t.marks, func(a, b Bookmark) int {
		return a.WordIndex - b.WordIndex
	})
}

// Progress returns index as a percentage of total.
func Progress(index, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(index) / float64(total) * 100
}

// IndexFromProgress converts a stored percentage back into a word index.
// The small epsilon keeps Progress round trips from landing one word short.
func IndexFromProgress(progress float64, total int) int {
	if total <= 0 || math.IsNaN(progress) {
		return 0
	}
	i := int(math.Floor(progress/100*float64(total) + 1e-9))
	return max(0, min(i, total))
}
