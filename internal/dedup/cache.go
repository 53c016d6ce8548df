package dedup

import (
	"container/list"
	"sync"
	"time"
)

// Frame is one unit of relayed output: either a full non-streaming body
// or a single SSE event, tagged so late subscribers can tell them apart.
type Frame struct {
	Data []byte
	Done bool
	Err  error
}

// streamBufferFrames bounds how many frames an in-flight entry retains
// for backfilling late subscribers, resolving the spec's open question on
// streaming-dedup reuse semantics (see DESIGN.md "Open Question decisions").
const streamBufferFrames = 512

// entry is one fingerprint's dedup record: either still in flight
// (subscribers attached, buffer growing) or completed (buffer is the
// final replay payload, subject to TTL).
type entry struct {
	fingerprint string
	subscribers []chan Frame
	buffer      []Frame
	inFlight    bool
	completedAt time.Time
	elem        *list.Element // position in the LRU list
}

// Cache is the in-flight + short-TTL-replay index keyed by fingerprint.
// Guarded by a single mutex held only during lookup/publish, never across
// an I/O suspension (spec.md §5 "Shared resources").
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // front = most recently used
	maxEntries int
	replayTTL  time.Duration
}

// New builds a Cache with the given capacity and completed-entry TTL.
func New(maxEntries int, replayTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]*entry),
		order:      list.New(),
		maxEntries: maxEntries,
		replayTTL:  replayTTL,
	}
}

// Lookup reports the fingerprint's state: originIsCaller=true means the
// caller must perform the upstream send and own the entry; otherwise sub
// is a channel of frames to relay (attach to an in-flight entry) and
// replay is a non-nil buffered result from a completed entry within TTL.
func (c *Cache) Lookup(fingerprint string) (originIsCaller bool, sub <-chan Frame, replay []Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if ok {
		c.order.MoveToFront(e.elem)
		if e.inFlight {
			ch := make(chan Frame, len(e.buffer)+16)
			for _, f := range e.buffer {
				ch <- f
			}
			e.subscribers = append(e.subscribers, ch)
			return false, ch, nil
		}
		if time.Since(e.completedAt) < c.replayTTL {
			return false, nil, append([]Frame(nil), e.buffer...)
		}
		c.removeLocked(e)
	}

	e = &entry{fingerprint: fingerprint, inFlight: true}
	e.elem = c.order.PushFront(fingerprint)
	c.entries[fingerprint] = e
	c.evictIfNeededLocked()
	return true, nil, nil
}

// Publish appends a frame to the origin entry's buffer and fans it out to
// every attached subscriber. Called only by the request that owns the
// entry (the one Lookup told originIsCaller=true).
func (c *Cache) Publish(fingerprint string, f Frame) {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if !ok || !e.inFlight {
		c.mu.Unlock()
		return
	}
	if len(e.buffer) < streamBufferFrames {
		e.buffer = append(e.buffer, f)
	}
	subs := append([]chan Frame(nil), e.subscribers...)
	c.mu.Unlock()

	for _, ch := range subs {
		ch <- f
	}
}

// Complete marks the entry done, closes subscriber channels, and starts
// its replay TTL countdown. Exactly one Complete call per published
// entry (spec.md §3 invariant "exactly one publish").
func (c *Cache) Complete(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok || !e.inFlight {
		return
	}
	e.inFlight = false
	e.completedAt = time.Now()
	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
	c.evictIfNeededLocked()
}

// Abort removes an entry without marking it completed, used when the
// origin request fails before producing any publishable result (no
// replay should be offered for a failed attempt).
func (c *Cache) Abort(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fingerprint]; ok {
		for _, ch := range e.subscribers {
			close(ch)
		}
		c.removeLocked(e)
	}
}

// evictIfNeededLocked drops least-recently-used completed entries until
// the cache is back within capacity. In-flight entries are never evicted
// (spec.md §4.4 "Memory bounds").
func (c *Cache) evictIfNeededLocked() {
	for len(c.entries) > c.maxEntries {
		victim := c.lruCompletedLocked()
		if victim == nil {
			return // every entry is in flight; exceed the soft cap rather than corrupt state
		}
		c.removeLocked(victim)
	}
}

// ReapExpired removes completed entries whose replay TTL has elapsed as
// of now, independent of lookup pressure (SPEC_FULL.md §10 "dedup cache
// reaper", a supervised background task alongside the balance monitor).
// In-flight entries are never touched. Returns the number of entries
// removed.
func (c *Cache) ReapExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*entry
	for el := c.order.Back(); el != nil; el = el.Prev() {
		fp := el.Value.(string)
		e, ok := c.entries[fp]
		if !ok || e.inFlight {
			continue
		}
		if now.Sub(e.completedAt) >= c.replayTTL {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		c.removeLocked(e)
	}
	return len(victims)
}

func (c *Cache) lruCompletedLocked() *entry {
	for el := c.order.Back(); el != nil; el = el.Prev() {
		fp := el.Value.(string)
		if e, ok := c.entries[fp]; ok && !e.inFlight {
			return e
		}
	}
	return nil
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.fingerprint)
	c.order.Remove(e.elem)
}
