package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/lectern/internal/bookmark"
	"github.com/dgnsrekt/lectern/internal/config"
	"github.com/dgnsrekt/lectern/internal/document"
	"github.com/dgnsrekt/lectern/internal/library"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Library.Path = filepath.Join(t.TempDir(), "library.db")
	a, err := openLibrary(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func writeText(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestOpenImportsFile(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	p := writeText(t, "walden_pond.txt", "I went to the woods.\n\nBecause I wished to live deliberately.")

	rec, doc, err := a.open(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "Walden Pond", rec.Title)
	assert.Equal(t, 11, doc.Len())
	assert.Len(t, doc.Blocks, 2)

	again, _, err := a.open(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID, "a file is imported once")

	got, err := a.library.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.LastRead.IsZero(), "opening marks the record as read")
}

func TestOpenPicksUpFileChanges(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	p := writeText(t, "notes.txt", "one two three")

	rec, _, err := a.open(ctx, p)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("one two three four five"), 0o600))
	_, doc, err := a.open(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, doc.Len())

	stored, err := a.library.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "one two three four five", stored.Content)
}

func TestOpenFallsBackToLibraryCopy(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	p := writeText(t, "gone.txt", "still here in the library")

	rec, _, err := a.open(ctx, p)
	require.NoError(t, err)
	require.NoError(t, os.Remove(p))

	_, doc, err := a.open(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, doc.Len())
}

func TestOpenMostRecent(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	_, _, err := a.open(ctx, "")
	require.Error(t, err, "empty library")

	first, err := a.library.Add(ctx, library.Record{Title: "First", Content: "a b"})
	require.NoError(t, err)
	second, err := a.library.Add(ctx, library.Record{Title: "Second", Content: "c d"})
	require.NoError(t, err)
	require.NoError(t, a.library.SaveProgress(ctx, first.ID, 10))

	rec, _, err := a.open(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, rec.ID)
	assert.NotEqual(t, second.ID, rec.ID)
}

func TestResolveIDPrefix(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	rec, err := a.library.Add(ctx, library.Record{ID: "abc12345-0000", Title: "Alpha", Content: "x"})
	require.NoError(t, err)
	_, err = a.library.Add(ctx, library.Record{ID: "abd99999-0000", Title: "Beta", Content: "y"})
	require.NoError(t, err)

	got, err := a.resolve(ctx, "abc1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = a.resolve(ctx, "ab")
	assert.ErrorContains(t, err, "matches 2 documents")

	_, err = a.resolve(ctx, "zzz")
	assert.ErrorContains(t, err, "neither a file nor a library ID")

	_, err = a.resolve(ctx, t.TempDir())
	assert.ErrorContains(t, err, "is a directory")
}

func TestAssistantOrNil(t *testing.T) {
	a := &app{}
	assert.Nil(t, a.assistantOrNil())
}

func TestFilterRecords(t *testing.T) {
	recs := []library.Record{
		{ID: "1", Title: "Walden"},
		{ID: "2", Title: "Moby Dick"},
		{ID: "3", Title: "War and Peace"},
	}

	got := filterRecords(recs, "wal")
	require.NotEmpty(t, got)
	assert.Equal(t, "1", got[0].ID)

	assert.Empty(t, filterRecords(recs, "xyz"))
}

func TestPickBlock(t *testing.T) {
	doc := document.Tokenize("one two\n\nthree four\n\nfive six")

	tests := []struct {
		name     string
		progress float64
		n        int
		want     int
		wantErr  bool
	}{
		{name: "start", progress: 0, want: 0},
		{name: "middle", progress: 50, want: 1},
		{name: "finished", progress: 100, want: 2},
		{name: "explicit", progress: 0, n: 3, want: 2},
		{name: "out of range", n: 4, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickBlock(doc, tt.progress, tt.n)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := pickBlock(document.Document{}, 0, 0)
	assert.Error(t, err)
}

func TestWriteExport(t *testing.T) {
	rec := library.Record{
		Title:    "Walden",
		Progress: 42,
		Bookmarks: []bookmark.Bookmark{
			{ID: "b1", WordIndex: 7, PreviewText: "to live deliberately...", CreatedAt: 1700000000000},
		},
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, writeExport(&buf, rec, now))

	e, err := bookmark.ReadYAML(&buf)
	require.NoError(t, err)
	assert.Equal(t, "Walden", e.Title)
	assert.InDelta(t, 42, e.Progress, 0.001)
	assert.True(t, e.Exported.Equal(now))
	require.Len(t, e.Bookmarks, 1)
	assert.Equal(t, 7, e.Bookmarks[0].WordIndex)
}

func TestPrintPlan(t *testing.T) {
	words := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		w := "word"
		if i%10 == 9 {
			w = "end."
		}
		words = append(words, w)
	}
	doc := document.Tokenize(strings.Join(words, " "))
	cfg := config.Default()

	var buf bytes.Buffer
	printPlan(&buf, doc, cfg, 80)
	out := buf.String()
	assert.Contains(t, out, "at 180 wpm (standard)")
	assert.Contains(t, out, "   1       0-")
}

func TestPresetName(t *testing.T) {
	assert.Equal(t, "relaxed", presetName(130))
	assert.Equal(t, "speed", presetName(250))
	assert.Equal(t, "custom", presetName(200))
}

func TestDefaultConfigParses(t *testing.T) {
	dir := t.TempDir()
	configFile = filepath.Join(dir, "lectern.yml")
	t.Cleanup(func() { configFile = "" })
	require.NoError(t, ensureConfigFile())

	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigFile(configFile)
	require.NoError(t, v.ReadInConfig())
	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Narration, cfg.Narration)
	assert.Equal(t, "gemini", cfg.Live.Transport)
}

func TestImportDirectory(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"one.txt":      "first text file",
		"two.md":       "# Two\n\nSecond *file*.",
		"main.go":      "package main",
		"sub/deep.txt": "nested file",
	} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o700))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}

	recs, err := a.importPath(ctx, dir)
	require.NoError(t, err)
	titles := make([]string, 0, len(recs))
	for _, r := range recs {
		titles = append(titles, r.Title)
	}
	assert.ElementsMatch(t, []string{"One", "Two", "Deep"}, titles)

	md, err := a.library.FindByPath(ctx, filepath.Join(dir, "two.md"))
	require.NoError(t, err)
	assert.Equal(t, "Two\n\nSecond file.", md.Content)
}
