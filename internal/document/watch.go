package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Load reads and tokenizes a text file. Markdown is reduced to plain text
// first, and the returned content is what was tokenized.
func Load(path string) (Document, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Document{}, "", fmt.Errorf("unable to read document: %w", err)
	}
	content := string(b)
	if IsMarkdown(path) {
		content = PlainText(b)
	}
	return Tokenize(content), content, nil
}

// Watch re-tokenizes path whenever it changes on disk and hands the result to
// onChange. It returns once the watcher is installed and keeps running until
// ctx is done.
func Watch(ctx context.Context, path string, onChange func(Document, string), logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("unable to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer w.Close() //nolint:errcheck

		var timer *time.Timer
		fire := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case <-fire:
				doc, content, err := Load(path)
				if err != nil {
					logger.Warn("Could not reload document", "path", path, "err", err)
					continue
				}
				logger.Debug("Document changed on disk", "path", path, "words", doc.Len())
				onChange(doc, content)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("Document watcher error", "err", err)
			}
		}
	}()
	return nil
}
