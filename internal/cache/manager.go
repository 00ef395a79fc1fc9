package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Manager looks up L1 then L2, promotes L2 hits into L1, and writes through
// to both tiers. A background loop prunes expired entries.
type Manager struct {
	memory *MemoryCache
	disk   *DiskCache
	config Config
	logger *log.Logger

	writes sync.WaitGroup // in-flight L2 writes
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	stats ManagerStats
}

// ManagerStats aggregates both tiers.
type ManagerStats struct {
	Hits        int64
	Misses      int64
	MemoryHits  int64
	DiskHits    int64
	Promotions  int64
	CleanupRuns int64
	LastCleanup time.Time

	Memory Stats
	Disk   Stats
}

// HitRate returns the combined hit rate across both tiers.
func (s ManagerStats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// NewManager opens both tiers. config.Dir is required.
func NewManager(config Config, logger *log.Logger) (*Manager, error) {
	if config.Dir == "" {
		return nil, errors.New("cache directory is not set")
	}
	if logger == nil {
		logger = log.Default()
	}

	disk, err := NewDiskCache(config.Dir, config.DiskCapacity, config.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk cache: %w", err)
	}

	m := &Manager{
		memory: NewMemoryCache(config.MemoryCapacity),
		disk:   disk,
		config: config,
		logger: logger.WithPrefix("cache"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go m.cleanupLoop()
	} else {
		close(m.done)
	}
	return m, nil
}

// Get returns the cached value for key from the fastest tier holding it.
func (m *Manager) Get(key string) ([]byte, bool) {
	if data, ok := m.memory.Get(key); ok {
		m.mu.Lock()
		m.stats.Hits++
		m.stats.MemoryHits++
		m.mu.Unlock()
		return data, true
	}

	if data, ok := m.disk.Get(key); ok {
		_ = m.memory.Put(key, data)
		m.mu.Lock()
		m.stats.Hits++
		m.stats.DiskHits++
		m.stats.Promotions++
		m.mu.Unlock()
		return data, true
	}

	m.mu.Lock()
	m.stats.Misses++
	m.mu.Unlock()
	return nil, false
}

// Put stores value in L1 immediately and in L2 in the background.
func (m *Manager) Put(key string, value []byte) error {
	if err := m.memory.Put(key, value); err != nil && !errors.Is(err, ErrItemTooLarge) {
		return fmt.Errorf("memory cache: %w", err)
	}

	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		if err := m.disk.Put(key, value); err != nil {
			m.logger.Warn("Disk cache write failed", "key", key, "err", err)
		}
	}()
	return nil
}

// Delete removes key from both tiers.
func (m *Manager) Delete(key string) error {
	m.writes.Wait()
	return errors.Join(m.memory.Delete(key), m.disk.Delete(key))
}

// Clear empties both tiers.
func (m *Manager) Clear() error {
	m.writes.Wait()
	return errors.Join(m.memory.Clear(), m.disk.Clear())
}

// Flush waits for pending disk writes.
func (m *Manager) Flush() {
	m.writes.Wait()
}

func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	s := m.stats
	m.mu.Unlock()

	s.Memory = m.memory.Stats()
	s.Disk = m.disk.Stats()
	return s
}

// Cleanup prunes expired entries and trims the disk tier to 90% of its
// capacity. It runs periodically when CleanupInterval is set.
func (m *Manager) Cleanup() {
	var pruned int
	if m.config.TTL > 0 {
		pruned += m.disk.RemoveOlderThan(time.Now().Add(-m.config.TTL))
		pruned += m.memory.Prune(m.config.TTL)
	}
	trimmed := m.disk.Trim(m.config.DiskCapacity * 9 / 10)

	m.mu.Lock()
	m.stats.CleanupRuns++
	m.stats.LastCleanup = time.Now()
	m.mu.Unlock()

	if pruned > 0 || trimmed > 0 {
		m.logger.Debug("Cache cleanup", "expired", pruned, "trimmed", trimmed)
	}
}

// Close stops the cleanup loop, waits for pending writes and persists the
// disk index.
func (m *Manager) Close() error {
	m.once.Do(func() { close(m.stop) })
	<-m.done
	m.writes.Wait()
	if err := m.disk.Close(); err != nil {
		return fmt.Errorf("failed to close disk cache: %w", err)
	}
	return nil
}

func (m *Manager) cleanupLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stop:
			return
		}
	}
}
