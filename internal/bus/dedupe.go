package bus

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// dedupeEntries bounds the recent-message cache.
const dedupeEntries = 128

// dedupeCache remembers recently seen messages so that identical posts
// arriving inside the window are acknowledged without re-dispatch.
type dedupeCache struct {
	window time.Duration
	seen   *expirable.LRU[string, time.Time]
	now    func() time.Time
}

func newDedupeCache(window time.Duration, now func() time.Time) *dedupeCache {
	return &dedupeCache{
		window: window,
		// Entries older than the window can never match again; let the
		// cache expire them on its own.
		seen: expirable.NewLRU[string, time.Time](dedupeEntries, nil, 2*window),
		now:  now,
	}
}

// isDuplicate reports whether an identical message was dispatched inside
// the window. Only dispatched sightings are recorded: a suppressed resend
// must not push the window forward, or a steady resend stream would be
// suppressed forever.
func (d *dedupeCache) isDuplicate(m Message) bool {
	key := dedupKey(m)
	now := d.now()
	if prev, found := d.seen.Get(key); found && now.Sub(prev) < d.window {
		return true
	}
	d.seen.Add(key, now)
	return false
}
