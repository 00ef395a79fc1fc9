// Package library stores documents with their reading progress and
// bookmarks in a SQLite database.
package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/bookmark"
	"github.com/dgnsrekt/lectern/internal/document"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	_ "modernc.org/sqlite"
)

const component = "library"

// ErrNotFound is returned for an unknown record id.
var ErrNotFound = errors.New("record not found")

// Record is one document in the library. Content is empty in List results.
type Record struct {
	ID        string
	Title     string
	Author    string
	Path      string
	Content   string
	Words     int
	Progress  float64 // 0 to 100
	Bookmarks []bookmark.Bookmark
	LastRead  time.Time // zero if never opened
	CreatedAt time.Time
}

// Store is the SQLite-backed library.
type Store struct {
	db     *sql.DB
	logger *log.Logger
	clock  func() time.Time
}

// Open opens or creates the library database at path.
func Open(ctx context.Context, path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageError("open", fmt.Errorf("create data dir: %w", err))
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageError("open", fmt.Errorf("open sqlite: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageError("open", fmt.Errorf("ping sqlite: %w", err))
	}

	s := &Store{db: db, logger: logger.WithPrefix(component), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, storageError("open", err)
	}
	s.logger.Debug("Opened library", "path", path)
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    author TEXT NOT NULL DEFAULT '',
    path TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    words INTEGER NOT NULL DEFAULT 0,
    progress REAL NOT NULL DEFAULT 0,
    bookmarks TEXT NOT NULL DEFAULT '[]',
    last_read INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_last_read ON documents(last_read DESC);
CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts r. An empty ID is filled with a new UUID.
func (s *Store) Add(ctx context.Context, r Record) (Record, error) {
	if strings.TrimSpace(r.Title) == "" {
		return Record{}, fault.Invalid(component, "add", "title is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock()
	}
	r.Words = len(strings.Fields(r.Content))
	marks, err := encodeBookmarks(r.Bookmarks)
	if err != nil {
		return Record{}, storageError("add", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents(id, title, author, path, content, words, progress, bookmarks, last_read, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Author, r.Path, r.Content, r.Words, r.Progress, marks,
		toMillis(r.LastRead), toMillis(r.CreatedAt))
	if err != nil {
		return Record{}, storageError("add", err)
	}
	return r, nil
}

// Import adds the text file at path, titled after its file name. A file
// that is already in the library returns the existing record.
func (s *Store) Import(ctx context.Context, path string) (Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Record{}, fault.Invalid(component, "import", "resolve %s: %v", path, err)
	}
	if r, err := s.FindByPath(ctx, abs); err == nil {
		return r, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Record{}, err
	}

	_, content, err := document.Load(abs)
	if err != nil {
		return Record{}, fault.Invalid(component, "import", "read %s: %v", path, err)
	}
	r, err := s.Add(ctx, Record{
		Title:   TitleFromPath(abs),
		Path:    abs,
		Content: content,
	})
	if err != nil {
		return Record{}, err
	}
	s.logger.Info("Imported document", "title", r.Title, "words", r.Words)
	return r, nil
}

// TitleFromPath derives a display title from a file name.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return cases.Title(language.English).String(strings.Join(strings.Fields(base), " "))
}

// Get returns the record with the given id, including its content.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, author, path, content, words, progress, bookmarks, last_read, created_at
		 FROM documents WHERE id = ?`, id)
	return s.scan("get", row)
}

// FindByPath returns the record imported from path.
func (s *Store) FindByPath(ctx context.Context, path string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, author, path, content, words, progress, bookmarks, last_read, created_at
		 FROM documents WHERE path = ? ORDER BY created_at LIMIT 1`, path)
	return s.scan("find", row)
}

// List returns every record without content, most recently read first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, author, path, '', words, progress, bookmarks, last_read, created_at
		 FROM documents ORDER BY last_read DESC, created_at DESC`)
	if err != nil {
		return nil, storageError("list", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := s.scan("list", rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list", err)
	}
	return records, nil
}

// SaveProgress stores the reading progress and marks the record as read now.
func (s *Store) SaveProgress(ctx context.Context, id string, progress float64) error {
	progress = max(0, min(progress, 100))
	return s.update(ctx, "save progress", id,
		`UPDATE documents SET progress = ?, last_read = ? WHERE id = ?`,
		progress, toMillis(s.clock()), id)
}

// SaveBookmarks replaces the bookmarks of a record.
func (s *Store) SaveBookmarks(ctx context.Context, id string, marks []bookmark.Bookmark) error {
	data, err := encodeBookmarks(marks)
	if err != nil {
		return storageError("save bookmarks", err)
	}
	return s.update(ctx, "save bookmarks", id,
		`UPDATE documents SET bookmarks = ? WHERE id = ?`, data, id)
}

// UpdateContent replaces the text of a record, for example after the
// source file changed.
func (s *Store) UpdateContent(ctx context.Context, id, content string) error {
	return s.update(ctx, "update content", id,
		`UPDATE documents SET content = ?, words = ? WHERE id = ?`,
		content, len(strings.Fields(content)), id)
}

// Touch marks a record as read now.
func (s *Store) Touch(ctx context.Context, id string) error {
	return s.update(ctx, "touch", id,
		`UPDATE documents SET last_read = ? WHERE id = ?`, toMillis(s.clock()), id)
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(ctx, "delete", id, `DELETE FROM documents WHERE id = ?`, id)
}

func (s *Store) update(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageError(op, err)
	}
	if n == 0 {
		return notFound(op, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(op string, row scanner) (Record, error) {
	var (
		r         Record
		marks     string
		lastRead  int64
		createdAt int64
	)
	err := row.Scan(&r.ID, &r.Title, &r.Author, &r.Path, &r.Content, &r.Words,
		&r.Progress, &marks, &lastRead, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound(op, "")
	}
	if err != nil {
		return Record{}, storageError(op, err)
	}
	if err := json.Unmarshal([]byte(marks), &r.Bookmarks); err != nil {
		s.logger.Warn("Ignoring unreadable bookmarks", "id", r.ID, "err", err)
		r.Bookmarks = nil
	}
	r.LastRead = fromMillis(lastRead)
	r.CreatedAt = fromMillis(createdAt)
	return r, nil
}

func encodeBookmarks(marks []bookmark.Bookmark) (string, error) {
	if marks == nil {
		marks = []bookmark.Bookmark{}
	}
	data, err := json.Marshal(marks)
	return string(data), err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func storageError(op string, err error) error {
	return fault.New(fault.Storage, component, op, err)
}

func notFound(op, id string) error {
	fe := fault.New(fault.InvalidInput, component, op, ErrNotFound)
	if id != "" {
		fe.WithContext("id", id)
	}
	return fe
}
