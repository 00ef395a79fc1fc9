package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity.
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheCorrupted is returned when a cached file cannot be decoded.
	ErrCacheCorrupted = errors.New("cache data corrupted")
)

// Level identifies a cache tier.
type Level int

const (
	LevelMemory Level = iota
	LevelDisk
)

func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Stats holds counters for one tier.
type Stats struct {
	Capacity  int64 // bytes
	Size      int64 // bytes
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Config holds configuration for a Manager.
type Config struct {
	MemoryCapacity   int64         // L1 bytes
	DiskCapacity     int64         // L2 bytes
	Dir              string        // L2 directory
	CompressionLevel int           // zstd level, 0 disables compression
	TTL              time.Duration // entries older than this are pruned, 0 keeps them forever
	CleanupInterval  time.Duration // 0 disables the cleanup loop
}

// DefaultConfig returns the default cache configuration. Dir must still be set.
func DefaultConfig() Config {
	return Config{
		MemoryCapacity:   64 << 20,
		DiskCapacity:     512 << 20,
		CompressionLevel: 3,
		TTL:              7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Store is implemented by each cache tier.
type Store interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
	Delete(key string) error
	Clear() error
	Contains(key string) bool
	Size() int64
	Stats() Stats
}

// Key derives the cache key for a synthesized chunk. Narration audio depends
// on the text, the voice and the engine that produced it; the playback rate
// is applied at output time and is not part of the key.
func Key(text, voice, engine string) string {
	h := sha256.New()
	h.Write([]byte(engine))
	h.Write([]byte{0})
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
