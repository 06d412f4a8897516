package dispatch

import (
	"sync"
	"time"

	"smsdispatch/internal/domain"
)

type queuedSend struct {
	req        domain.SendRequest
	enqueuedAt time.Time
}

// overflowQueue holds sends that exceeded the tenant's rate window until the
// drainer retries them. In-process only; entries older than maxAge are
// treated as unrecoverable and discarded.
type overflowQueue struct {
	mu      sync.Mutex
	entries []queuedSend
	maxAge  time.Duration
}

func newOverflowQueue(maxAge time.Duration) *overflowQueue {
	return &overflowQueue{maxAge: maxAge}
}

func (q *overflowQueue) enqueue(req domain.SendRequest, now time.Time) {
	q.mu.Lock()
	q.entries = append(q.entries, queuedSend{req: req, enqueuedAt: now})
	q.mu.Unlock()
}

// takeAll removes and returns every queued entry. The drainer pushes back
// whatever it could not place.
func (q *overflowQueue) takeAll() []queuedSend {
	q.mu.Lock()
	entries := q.entries
	q.entries = nil
	q.mu.Unlock()
	return entries
}

// pushFront re-inserts entries ahead of anything enqueued mid-drain so
// original order is preserved.
func (q *overflowQueue) pushFront(entries []queuedSend) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	q.entries = append(entries, q.entries...)
	q.mu.Unlock()
}

func (q *overflowQueue) stale(e queuedSend, now time.Time) bool {
	return now.Sub(e.enqueuedAt) > q.maxAge
}

func (q *overflowQueue) purgeCampaign(campaignID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	purged := 0
	for _, e := range q.entries {
		if e.req.CampaignID == campaignID {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	return purged
}

func (q *overflowQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// cancelSet marks campaigns as cancelled in process memory so the drainer
// and campaign loops can check without a DB read. Entries expire so the set
// stays bounded.
type cancelSet struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

func newCancelSet(ttl time.Duration) *cancelSet {
	return &cancelSet{entries: make(map[string]time.Time), ttl: ttl}
}

func (c *cancelSet) add(id string, now time.Time) {
	c.mu.Lock()
	c.entries[id] = now
	c.mu.Unlock()
}

// remove clears a cancel mark so a later run of the same campaign is not
// poisoned by the stale entry.
func (c *cancelSet) remove(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

func (c *cancelSet) contains(id string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.entries[id]
	if !ok {
		return false
	}
	if now.Sub(at) > c.ttl {
		delete(c.entries, id)
		return false
	}
	return true
}

func (c *cancelSet) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, at := range c.entries {
		if now.Sub(at) > c.ttl {
			delete(c.entries, id)
		}
	}
}
