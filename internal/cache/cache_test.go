package cache

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	a := Key("Hello world.", "Puck", "ai")
	if len(a) != 32 {
		t.Errorf("key length = %d, want 32", len(a))
	}
	if a != Key("Hello world.", "Puck", "ai") {
		t.Error("key is not deterministic")
	}

	others := []string{
		Key("Hello world.", "Kore", "ai"),
		Key("Hello world.", "Puck", "local"),
		Key("Hello world!", "Puck", "ai"),
		Key("Hello world.P", "uck", "ai"),
	}
	for i, k := range others {
		if k == a {
			t.Errorf("variant %d collides with base key", i)
		}
	}
}

func TestMemoryCache_BasicOperations(t *testing.T) {
	c := NewMemoryCache(1024)

	if err := c.Put("k", []byte("value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := c.Get("k")
	if !ok || string(got) != "value" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if c.Size() != 5 {
		t.Errorf("Size = %d, want 5", c.Size())
	}

	if err := c.Put("k", []byte("longer value")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if c.Size() != 12 {
		t.Errorf("Size after overwrite = %d, want 12", c.Size())
	}

	_ = c.Delete("k")
	if c.Contains("k") || c.Size() != 0 {
		t.Error("entry still present after delete")
	}

	if _, ok := c.Get("k"); ok {
		t.Error("Get after delete should miss")
	}
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.HitRate() != 0.5 {
		t.Errorf("HitRate = %v", s.HitRate())
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(30)

	for _, k := range []string{"a", "b", "c"} {
		_ = c.Put(k, bytes.Repeat([]byte(k), 10))
	}
	// Touch "a" so "b" becomes the eviction candidate.
	c.Get("a")
	_ = c.Put("d", bytes.Repeat([]byte("d"), 10))

	if c.Contains("b") {
		t.Error("expected b to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !c.Contains(k) {
			t.Errorf("expected %s to remain", k)
		}
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("evictions = %d", c.Stats().Evictions)
	}
}

func TestMemoryCache_TooLarge(t *testing.T) {
	c := NewMemoryCache(4)
	if err := c.Put("k", []byte("too large")); err != ErrItemTooLarge {
		t.Errorf("err = %v, want ErrItemTooLarge", err)
	}
}

func TestMemoryCache_Prune(t *testing.T) {
	c := NewMemoryCache(1024)
	_ = c.Put("old", []byte("x"))
	time.Sleep(20 * time.Millisecond)
	_ = c.Put("new", []byte("y"))

	if n := c.Prune(10 * time.Millisecond); n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if c.Contains("old") || !c.Contains("new") {
		t.Error("wrong entry pruned")
	}
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := NewMemoryCache(1 << 16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := fmt.Sprintf("%d-%d", i, j%10)
				_ = c.Put(k, []byte(k))
				c.Get(k)
			}
		}(i)
	}
	wg.Wait()
	if c.Stats().Items != 80 {
		t.Errorf("items = %d, want 80", c.Stats().Items)
	}
}

func pcmLike(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 7)
	}
	return b
}

func TestDiskCache_RoundTripCompressed(t *testing.T) {
	dir := t.TempDir()
	dc, err := NewDiskCache(dir, 1<<20, 3)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	value := pcmLike(8192)
	if err := dc.Put("chunk", value); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if dc.Size() >= int64(len(value)) {
		t.Errorf("expected compressed size below %d, got %d", len(value), dc.Size())
	}
	got, ok := dc.Get("chunk")
	if !ok || !bytes.Equal(got, value) {
		t.Fatal("round trip mismatch")
	}
	if err := dc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewDiskCache(dir, 1<<20, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok = reopened.Get("chunk")
	if !ok || !bytes.Equal(got, value) {
		t.Fatal("entry not readable after reopen without compression")
	}
}

func TestDiskCache_EvictionAndTrim(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir(), 300, 0)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	for i := 0; i < 3; i++ {
		_ = dc.Put(fmt.Sprintf("k%d", i), pcmLike(100))
		time.Sleep(2 * time.Millisecond)
	}
	_ = dc.Put("k3", pcmLike(100))
	if dc.Contains("k0") {
		t.Error("expected oldest entry evicted")
	}
	if dc.Size() != 300 {
		t.Errorf("size = %d", dc.Size())
	}

	if n := dc.Trim(150); n != 2 {
		t.Errorf("trimmed %d, want 2", n)
	}
	if !dc.Contains("k3") {
		t.Error("most recent entry should survive trim")
	}
}

func TestDiskCache_RemoveOlderThan(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir(), 1<<20, 0)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	_ = dc.Put("a", []byte("a"))
	cutoff := time.Now().Add(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_ = dc.Put("b", []byte("b"))

	if n := dc.RemoveOlderThan(cutoff); n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if dc.Contains("a") || !dc.Contains("b") {
		t.Error("wrong entry removed")
	}
}

func newTestManager(t *testing.T, memory int64) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.MemoryCapacity = memory
	cfg.DiskCapacity = 1 << 20
	cfg.CleanupInterval = 0
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_HierarchyAndPromotion(t *testing.T) {
	m := newTestManager(t, 100)

	_ = m.Put("a", pcmLike(80))
	m.Flush()
	// Pushes "a" out of L1; it stays on disk.
	_ = m.Put("b", pcmLike(80))
	m.Flush()

	got, ok := m.Get("a")
	if !ok || len(got) != 80 {
		t.Fatal("expected disk hit for a")
	}
	if _, ok := m.Get("a"); !ok {
		t.Fatal("expected memory hit after promotion")
	}

	s := m.Stats()
	if s.DiskHits != 1 || s.MemoryHits != 1 || s.Promotions != 1 {
		t.Errorf("stats = %+v", s)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("unexpected hit")
	}
	if m.Stats().Misses != 1 {
		t.Errorf("misses = %d", m.Stats().Misses)
	}
}

func TestManager_DeleteAndClear(t *testing.T) {
	m := newTestManager(t, 1024)

	_ = m.Put("a", []byte("a"))
	_ = m.Put("b", []byte("b"))
	if err := m.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := m.Get("a"); ok {
		t.Error("a still cached")
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := m.Get("b"); ok {
		t.Error("b still cached")
	}
}

func TestManager_CleanupLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.TTL = time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close() //nolint:errcheck

	_ = m.Put("a", []byte("a"))
	m.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().Disk.Items > 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired entry was never cleaned up")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if m.Stats().CleanupRuns == 0 {
		t.Error("cleanup did not run")
	}
}

func TestNewManager_RequiresDir(t *testing.T) {
	if _, err := NewManager(Config{}, nil); err == nil {
		t.Error("expected error without a directory")
	}
}
