// Package cache stores synthesized narration audio in two tiers: an LRU
// memory cache (L1) in front of a zstd-compressed disk cache (L2) that
// survives restarts.
package cache
