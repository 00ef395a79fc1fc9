// Package reader ties one open document to narration, live voice,
// bookmarks and the library.
//
// A Session never lets narration and live voice produce output at the same
// time: starting either one stops the other first. Reading progress is
// written back to the library when narration stops, on seeks and on close.
package reader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/assistant"
	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/bookmark"
	"github.com/dgnsrekt/lectern/internal/document"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/dgnsrekt/lectern/internal/live"
	"github.com/dgnsrekt/lectern/internal/playback"
	"github.com/dgnsrekt/lectern/internal/synth"
)

const component = "reader"

// storeTimeout bounds a single progress or bookmark write.
const storeTimeout = 5 * time.Second

// Store persists the state of a document.
type Store interface {
	bookmark.ProgressStore
	SaveBookmarks(ctx context.Context, id string, marks []bookmark.Bookmark) error
}

// Assistant answers questions about the text.
type Assistant interface {
	Summarize(ctx context.Context, passage string) (string, error)
	Chat(ctx context.Context, excerpt string, history []assistant.Message, msg string) (string, error)
}

// Config configures a Session.
type Config struct {
	ID        string
	Title     string
	Document  document.Document
	Progress  float64 // stored percentage, restores the position
	Bookmarks []bookmark.Bookmark

	Synth    synth.Synthesizer
	Output   audio.Output
	Settings playback.Settings

	Live         *live.Session // nil disables live voice
	ContextWords int

	Store     Store     // nil keeps state in memory only
	Assistant Assistant // nil disables summaries and questions
	Logger    *log.Logger
}

// Session is one open document.
type Session struct {
	id           string
	title        string
	sched        *playback.Scheduler
	live         *live.Session
	contextWords int
	store        Store
	assistant    Assistant
	progress     *bookmark.ProgressWriter
	logger       *log.Logger
	clock        func() time.Time
	unsubscribe  func()
	commitMu     sync.Mutex // orders reads of the index with their writes

	mu      sync.Mutex
	doc     document.Document
	tracker *bookmark.Tracker
	history []assistant.Message
}

// New opens a session positioned at the stored progress.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.ContextWords <= 0 {
		cfg.ContextWords = live.ContextWords
	}
	logger := cfg.Logger.WithPrefix(component)
	total := cfg.Document.Len()

	s := &Session{
		id:           cfg.ID,
		title:        cfg.Title,
		live:         cfg.Live,
		contextWords: cfg.ContextWords,
		store:        cfg.Store,
		assistant:    cfg.Assistant,
		logger:       logger,
		clock:        time.Now,
		doc:          cfg.Document,
		tracker:      bookmark.NewTracker(total, cfg.Bookmarks),
	}
	s.sched = playback.NewScheduler(cfg.Document, cfg.Synth, cfg.Output, cfg.Settings,
		playback.WithIndex(bookmark.IndexFromProgress(cfg.Progress, total)),
		playback.WithLogger(cfg.Logger))

	var store bookmark.ProgressStore = discardStore{}
	if cfg.Store != nil {
		store = cfg.Store
	}
	s.progress = bookmark.NewProgressWriter(store, cfg.ID, total, cfg.Progress, cfg.Logger)

	s.unsubscribe = s.sched.Subscribe(playback.ObserverFuncs{
		State: func(c playback.StateChange) {
			if c.To == playback.StateStopped {
				s.commit()
			}
		},
		Error: func(err error) {
			s.logger.Warn("Narration stopped", "err", err)
		},
	})
	return s
}

// Scheduler returns the narration scheduler, for subscribing to its events.
func (s *Session) Scheduler() *playback.Scheduler {
	return s.sched
}

// Live returns the live voice session, or nil.
func (s *Session) Live() *live.Session {
	return s.live
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Title() string { return s.title }

// Document returns the current word sequence.
func (s *Session) Document() document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Index returns the active word index.
func (s *Session) Index() int {
	return s.sched.Index()
}

// Progress returns the reading progress of the active index.
func (s *Session) Progress() float64 {
	return bookmark.Progress(s.sched.Index(), s.Document().Len())
}

// Play starts narration at the active index, stopping live voice first.
func (s *Session) Play(ctx context.Context) {
	if s.live != nil && s.live.Active() {
		s.live.Stop()
	}
	s.sched.Start(ctx)
}

// Pause stops narration and saves progress.
func (s *Session) Pause() {
	s.sched.Stop()
	s.commit()
}

// TogglePlay plays when stopped and pauses otherwise.
func (s *Session) TogglePlay(ctx context.Context) {
	if s.sched.IsPlaying() {
		s.Pause()
		return
	}
	s.Play(ctx)
}

// Seek moves the active index and saves progress.
func (s *Session) Seek(index int) {
	s.sched.Seek(index)
	s.commit()
}

// SkipBlock moves to the next (dir > 0) or previous block.
func (s *Session) SkipBlock(dir int) {
	s.sched.SkipBlock(dir)
	s.commit()
}

// SkipChunk moves one chunk forward or back.
func (s *Session) SkipChunk(dir int) {
	s.sched.SkipChunk(dir)
	s.commit()
}

// SetWPM changes the reading speed.
func (s *Session) SetWPM(wpm int) {
	s.sched.SetWPM(wpm)
}

// CycleVoice switches to the next voice and returns it.
func (s *Session) CycleVoice() synth.Voice {
	v := s.sched.Settings().Voice.Next()
	s.sched.SetVoice(v)
	return v
}

// StartLive stops narration and opens a live voice conversation about the
// passage at the active index.
func (s *Session) StartLive(ctx context.Context) error {
	if s.live == nil {
		return fault.Invalid(component, "start live", "live voice is not configured")
	}
	if s.sched.IsPlaying() {
		s.Pause()
	}
	window := s.Document().Window(s.sched.Index(), s.contextWords)
	return s.live.Start(ctx, live.SystemPrompt(s.title, window), window)
}

// StopLive ends the live conversation.
func (s *Session) StopLive() {
	if s.live != nil {
		s.live.Stop()
	}
}

// ToggleLive starts live voice when idle and stops it otherwise.
func (s *Session) ToggleLive(ctx context.Context) error {
	if s.live != nil && s.live.Active() {
		s.live.Stop()
		return nil
	}
	return s.StartLive(ctx)
}

// ToggleBookmark adds or removes a bookmark at the active index. At the end
// of the document the last word is used.
func (s *Session) ToggleBookmark(ctx context.Context) (bool, bookmark.Bookmark, error) {
	s.mu.Lock()
	index := min(s.sched.Index(), s.doc.Len()-1)
	preview := s.doc.Preview(max(index, 0), bookmark.PreviewWords)
	added, b, err := s.tracker.Toggle(index, preview, s.clock())
	marks := s.tracker.List()
	s.mu.Unlock()
	if err != nil {
		return false, bookmark.Bookmark{}, err
	}
	return added, b, s.saveBookmarks(ctx, marks)
}

// RemoveBookmark deletes a bookmark by id.
func (s *Session) RemoveBookmark(ctx context.Context, id string) error {
	s.mu.Lock()
	removed := s.tracker.Remove(id)
	marks := s.tracker.List()
	s.mu.Unlock()
	if !removed {
		return fault.Invalid(component, "remove bookmark", "no bookmark with id %q", id)
	}
	return s.saveBookmarks(ctx, marks)
}

// Bookmarks returns the bookmarks ordered by word index.
func (s *Session) Bookmarks() []bookmark.Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.List()
}

// IsBookmarked reports whether index carries a bookmark.
func (s *Session) IsBookmarked(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Has(index)
}

// NextBookmark seeks to the first bookmark after the active index.
func (s *Session) NextBookmark() (bookmark.Bookmark, bool) {
	s.mu.Lock()
	b, ok := s.tracker.Next(s.sched.Index())
	s.mu.Unlock()
	if ok {
		s.Seek(b.WordIndex)
	}
	return b, ok
}

// PrevBookmark seeks to the last bookmark before the active index.
func (s *Session) PrevBookmark() (bookmark.Bookmark, bool) {
	s.mu.Lock()
	b, ok := s.tracker.Prev(s.sched.Index())
	s.mu.Unlock()
	if ok {
		s.Seek(b.WordIndex)
	}
	return b, ok
}

// Search returns the word indices matching query.
func (s *Session) Search(query string) []int {
	return s.Document().Search(query)
}

// Summarize summarizes the block containing the active index.
func (s *Session) Summarize(ctx context.Context) (string, error) {
	if s.assistant == nil {
		return "", fault.Invalid(component, "summarize", "assistant is not configured")
	}
	doc := s.Document()
	i, _ := doc.BlockAt(s.sched.Index())
	return s.assistant.Summarize(ctx, doc.BlockText(i))
}

// Ask sends a chat message about the text from the current block onward.
// Answered exchanges are kept as history for later questions.
func (s *Session) Ask(ctx context.Context, msg string) (string, error) {
	if s.assistant == nil {
		return "", fault.Invalid(component, "ask", "assistant is not configured")
	}
	doc := s.Document()
	_, block := doc.BlockAt(s.sched.Index())
	excerpt := doc.Window(block.StartIndex, doc.Len())

	s.mu.Lock()
	history := append([]assistant.Message(nil), s.history...)
	s.mu.Unlock()

	answer, err := s.assistant.Chat(ctx, excerpt, history, msg)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.history = append(s.history,
		assistant.Message{Role: assistant.RoleUser, Text: msg},
		assistant.Message{Role: assistant.RoleModel, Text: answer})
	s.mu.Unlock()
	return answer, nil
}

// History returns the chat so far.
func (s *Session) History() []assistant.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]assistant.Message(nil), s.history...)
}

// Reload replaces the document after the source changed. Narration stops,
// the index is clamped and bookmarks past the new end are dropped.
func (s *Session) Reload(ctx context.Context, doc document.Document) error {
	s.sched.Stop()
	s.sched.SetDocument(doc)

	s.mu.Lock()
	s.doc = doc
	before := s.tracker.Len()
	s.tracker = bookmark.NewTracker(doc.Len(), s.tracker.List())
	marks := s.tracker.List()
	s.mu.Unlock()

	s.progress.SetTotal(doc.Len())
	s.commit()
	if len(marks) != before {
		s.logger.Info("Dropped bookmarks past the end of the document", "dropped", before-len(marks))
		return s.saveBookmarks(ctx, marks)
	}
	return nil
}

// Close stops narration and live voice and saves progress.
func (s *Session) Close() error {
	if s.live != nil {
		s.live.Stop()
	}
	s.sched.Stop()
	s.unsubscribe()
	_, err := s.commitErr()
	s.sched.Close()
	return err
}

// commit saves the progress of the active index.
func (s *Session) commit() {
	if _, err := s.commitErr(); err != nil {
		s.logger.Error("Could not save progress", "err", err)
	}
}

func (s *Session) commitErr() (bool, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.progress.Commit(ctx, s.sched.Index())
}

func (s *Session) saveBookmarks(ctx context.Context, marks []bookmark.Bookmark) error {
	if s.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.store.SaveBookmarks(ctx, s.id, marks); err != nil {
		if errors.Is(err, context.Canceled) {
			return fault.New(fault.UserCancellation, component, "save bookmarks", err)
		}
		return err
	}
	return nil
}

type discardStore struct{}

func (discardStore) SaveProgress(context.Context, string, float64) error { return nil }
