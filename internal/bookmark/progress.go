package bookmark

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// ProgressStore persists the reading progress of a document.
type ProgressStore interface {
	SaveProgress(ctx context.Context, id string, progress float64) error
}

// ProgressWriter saves progress at commit points such as pause, seek and
// close, skipping writes that would not change the stored value.
type ProgressWriter struct {
	store  ProgressStore
	id     string
	logger *log.Logger

	mu    sync.Mutex
	total int
	last  float64
}

// NewProgressWriter creates a writer for document id of total words whose
// stored progress is current.
func NewProgressWriter(store ProgressStore, id string, total int, current float64, logger *log.Logger) *ProgressWriter {
	if logger == nil {
		logger = log.Default()
	}
	return &ProgressWriter{
		store:  store,
		id:     id,
		total:  total,
		last:   current,
		logger: logger.WithPrefix(component),
	}
}

// SetTotal updates the document length, for example after a reload.
func (w *ProgressWriter) SetTotal(total int) {
	w.mu.Lock()
	w.total = total
	w.mu.Unlock()
}

// Commit stores the progress of index. It reports whether a write happened.
func (w *ProgressWriter) Commit(ctx context.Context, index int) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p := Progress(index, w.total)
	if p == w.last {
		return false, nil
	}
	if err := w.store.SaveProgress(ctx, w.id, p); err != nil {
		return false, err
	}
	w.logger.Debug("Saved progress", "id", w.id, "progress", p)
	w.last = p
	return true, nil
}

// Last returns the most recently stored progress.
func (w *ProgressWriter) Last() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
