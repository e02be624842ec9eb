package tts

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Short-text result cache tuning.
const (
	// shortTextThreshold is the text length below which an option snapshot
	// may be memoized.
	shortTextThreshold = 100

	// resultFreshness is how long a cached snapshot is considered fresh.
	resultFreshness = time.Minute

	minTextCacheSize     = 10
	maxTextCacheSize     = 200
	defaultTextCacheSize = 50
)

// cachedOptions is a memoized option snapshot for one (text, voice, rate,
// pitch, lang) fingerprint.
type cachedOptions struct {
	Options Options
	At      time.Time
}

// resultCache memoizes clamped option snapshots for short texts, keyed by a
// fingerprint of the playback request. It never short-circuits the facility
// call; it only skips option recomputation.
type resultCache struct {
	lru *expirable.LRU[uint64, cachedOptions]
	now func() time.Time
}

func newResultCache(size int, now func() time.Time) *resultCache {
	if size < minTextCacheSize {
		size = minTextCacheSize
	}
	if size > maxTextCacheSize {
		size = maxTextCacheSize
	}
	return &resultCache{
		lru: expirable.NewLRU[uint64, cachedOptions](size, nil, resultFreshness),
		now: now,
	}
}

// fingerprint derives the cache key from the request fields that affect the
// submitted utterance.
func fingerprint(text string, o Options) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%g|%g|%s", text, o.Voice, o.Rate, o.Pitch, o.Lang)
	return h.Sum64()
}

// Get returns a fresh snapshot for the request, if one exists. Texts at or
// above the short-text threshold are never cached.
func (c *resultCache) Get(text string, o Options) (Options, bool) {
	if len(text) >= shortTextThreshold {
		return Options{}, false
	}
	entry, ok := c.lru.Get(fingerprint(text, o))
	if !ok || c.now().Sub(entry.At) >= resultFreshness {
		return Options{}, false
	}
	return entry.Options, true
}

// Put memoizes the clamped snapshot for a short text.
func (c *resultCache) Put(text string, requested, clamped Options) {
	if len(text) >= shortTextThreshold {
		return
	}
	c.lru.Add(fingerprint(text, requested), cachedOptions{Options: clamped, At: c.now()})
}

// Purge drops all entries.
func (c *resultCache) Purge() {
	c.lru.Purge()
}

// Len reports the number of live entries.
func (c *resultCache) Len() int {
	return c.lru.Len()
}
