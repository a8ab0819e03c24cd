// Package directory implements the Queue Directory (C3, spec.md §4.3):
// an in-memory index of queue metadata plus the fairness cursor C5 uses
// to pick candidate queues. Concurrency model follows spec.md §5: a
// directory-wide read-write lock guards structural changes (register,
// unregister, cursor advance) while a single queue's own lock guards
// its metadata updates, mirroring the teacher's
// proxy.roundRobinSwitcher (atomic round-robin index) generalized from
// a flat URL list to a registry of stateful queue entries.
package directory

import (
	"sync"
	"time"

	"github.com/awaketai/urlfrontier/internal/types"
)

// QueueMeta is a point-in-time, lock-free copy of a queue's metadata.
type QueueMeta struct {
	types.QueueRef
	Status            types.QueueStatus
	MinDelay          time.Duration
	MaxQueueSize      int
	NextEligibleAt    time.Time
	BlockedUntil      time.Time
	LastProducedAt    time.Time
	CompletedCount    int
	ConsecutiveDefers int
}

type queueEntry struct {
	mu                sync.Mutex
	ref               types.QueueRef
	status            types.QueueStatus
	minDelay          time.Duration
	maxQueueSize      int
	nextEligibleAt    time.Time
	blockedUntil      time.Time
	lastProducedAt    time.Time
	completedCount    int
	consecutiveDefers int
}

func (e *queueEntry) snapshot() QueueMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	return QueueMeta{
		QueueRef:          e.ref,
		Status:            e.status,
		MinDelay:          e.minDelay,
		MaxQueueSize:      e.maxQueueSize,
		NextEligibleAt:    e.nextEligibleAt,
		BlockedUntil:      e.blockedUntil,
		LastProducedAt:    e.lastProducedAt,
		CompletedCount:    e.completedCount,
		ConsecutiveDefers: e.consecutiveDefers,
	}
}

// eligible reports whether the queue can be selected as of now,
// lazily applying the Paused→Active transition when blocked_until has
// elapsed (spec.md §4.3 transition table).
func (e *queueEntry) eligible(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == types.Paused && !e.blockedUntil.IsZero() && !now.Before(e.blockedUntil) {
		e.status = types.Active
		e.blockedUntil = time.Time{}
	}

	if e.status != types.Active {
		return false
	}
	if !e.nextEligibleAt.IsZero() && now.Before(e.nextEligibleAt) {
		return false
	}
	if !e.blockedUntil.IsZero() && now.Before(e.blockedUntil) {
		return false
	}
	return true
}

// crawlDefault is the per-crawl politeness delay/capacity set by
// SetCrawlDefaults, applied to queues registered afterward.
type crawlDefault struct {
	minDelay     time.Duration
	maxQueueSize int
}

// Directory is the concurrency-safe queue registry.
type Directory struct {
	mu            sync.RWMutex
	entries       map[types.QueueRef]*queueEntry
	order         []types.QueueRef
	cursor        int
	crawlDefaults map[string]crawlDefault
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{
		entries:       map[types.QueueRef]*queueEntry{},
		crawlDefaults: map[string]crawlDefault{},
	}
}

// Register ensures a queue exists in the directory, creating it Active
// with the given defaults if it is new. A per-crawl default recorded by
// SetCrawlDefaults overrides the caller-supplied defaults. Safe to call
// repeatedly.
func (d *Directory) Register(ref types.QueueRef, minDelay time.Duration, maxQueueSize int) {
	d.mu.RLock()
	if _, ok := d.entries[ref]; ok {
		d.mu.RUnlock()
		return
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[ref]; ok {
		return
	}
	if def, ok := d.crawlDefaults[ref.CrawlID]; ok {
		minDelay = def.minDelay
		if def.maxQueueSize > 0 {
			maxQueueSize = def.maxQueueSize
		}
	}
	d.entries[ref] = &queueEntry{
		ref:          ref,
		status:       types.Active,
		minDelay:     minDelay,
		maxQueueSize: maxQueueSize,
	}
	d.order = append(d.order, ref)
}

// Get returns a snapshot of a queue's metadata.
func (d *Directory) Get(ref types.QueueRef) (QueueMeta, bool) {
	d.mu.RLock()
	e, ok := d.entries[ref]
	d.mu.RUnlock()
	if !ok {
		return QueueMeta{}, false
	}
	return e.snapshot(), true
}

// List returns metadata for every registered queue, optionally
// filtered to one crawl.
func (d *Directory) List(crawlID string) []QueueMeta {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]QueueMeta, 0, len(d.order))
	for _, ref := range d.order {
		if crawlID != "" && ref.CrawlID != crawlID {
			continue
		}
		out = append(out, d.entries[ref].snapshot())
	}
	return out
}

// SetStatus transitions a queue's lifecycle state (admin operations).
func (d *Directory) SetStatus(ref types.QueueRef, status types.QueueStatus) bool {
	d.mu.RLock()
	e, ok := d.entries[ref]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
	return true
}

// BlockUntil sets blocked_until and moves the queue to Paused
// (BlockQueueUntil, spec.md §4.6).
func (d *Directory) BlockUntil(ref types.QueueRef, until time.Time) bool {
	d.mu.RLock()
	e, ok := d.entries[ref]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.status = types.Paused
	e.blockedUntil = until
	e.mu.Unlock()
	return true
}

// setLimits updates one queue's politeness delay and, when positive, its capacity.
func (d *Directory) setLimits(ref types.QueueRef, minDelay time.Duration, maxQueueSize int) bool {
	d.mu.RLock()
	e, ok := d.entries[ref]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.minDelay = minDelay
	if maxQueueSize > 0 {
		e.maxQueueSize = maxQueueSize
	}
	e.mu.Unlock()
	return true
}

// SetCrawlDefaults applies minDelay/maxQueueSize to every queue
// currently registered under crawlID and records the pair as the
// default new queues under crawlID are registered with from then on
// (SetCrawlLimits, spec.md §4.6, which is scoped to a crawl, not a
// queue). Returns the number of existing queues updated.
func (d *Directory) SetCrawlDefaults(crawlID string, minDelay time.Duration, maxQueueSize int) int {
	d.mu.Lock()
	d.crawlDefaults[crawlID] = crawlDefault{minDelay: minDelay, maxQueueSize: maxQueueSize}
	var refs []types.QueueRef
	for _, ref := range d.order {
		if ref.CrawlID == crawlID {
			refs = append(refs, ref)
		}
	}
	d.mu.Unlock()

	for _, ref := range refs {
		d.setLimits(ref, minDelay, maxQueueSize)
	}
	return len(refs)
}

// MarkServed records that a URL was just served from ref, advancing
// next_eligible_at by the queue's politeness delay and resetting the
// defer counter.
func (d *Directory) MarkServed(ref types.QueueRef, now time.Time) {
	d.mu.RLock()
	e, ok := d.entries[ref]
	d.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.nextEligibleAt = now.Add(e.minDelay)
	e.lastProducedAt = now
	e.consecutiveDefers = 0
	e.mu.Unlock()
}

// RecordDefer increments the consecutive-defer counter: the queue was
// visited as a candidate but had nothing due.
func (d *Directory) RecordDefer(ref types.QueueRef) {
	d.mu.RLock()
	e, ok := d.entries[ref]
	d.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.consecutiveDefers++
	e.mu.Unlock()
}

// MarkCompleted increments the completed-item counter for stats.
func (d *Directory) MarkCompleted(ref types.QueueRef) {
	d.mu.RLock()
	e, ok := d.entries[ref]
	d.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.completedCount++
	e.mu.Unlock()
}

// Unregister removes a queue from the directory (DeleteQueue).
func (d *Directory) Unregister(ref types.QueueRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[ref]; !ok {
		return false
	}
	delete(d.entries, ref)
	for i, r := range d.order {
		if r == ref {
			d.order = append(d.order[:i], d.order[i+1:]...)
			if d.cursor > i {
				d.cursor--
			}
			break
		}
	}
	return true
}

// UnregisterCrawl removes every queue belonging to crawlID, returning
// the refs removed (DeleteCrawl).
func (d *Directory) UnregisterCrawl(crawlID string) []types.QueueRef {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed []types.QueueRef
	kept := d.order[:0]
	for _, ref := range d.order {
		if ref.CrawlID == crawlID {
			removed = append(removed, ref)
			delete(d.entries, ref)
			continue
		}
		kept = append(kept, ref)
	}
	d.order = kept
	d.cursor = 0
	delete(d.crawlDefaults, crawlID)
	return removed
}

// NextCandidates scans the registered order starting from the
// fairness cursor, collecting up to limit eligible queues matching the
// optional crawlID/key filters. The cursor advances strictly forward
// over every position examined (eligible or not) so a full sweep
// always completes and no queue starves indefinitely (spec.md §4.5:
// "every eligible queue visited before any is revisited").
func (d *Directory) NextCandidates(now time.Time, crawlID, key string, limit int) []types.QueueRef {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.order)
	if n == 0 || limit <= 0 {
		return nil
	}

	out := make([]types.QueueRef, 0, limit)
	examined := 0
	for examined < n && len(out) < limit {
		idx := (d.cursor + examined) % n
		ref := d.order[idx]
		examined++

		if crawlID != "" && ref.CrawlID != crawlID {
			continue
		}
		if key != "" && ref.Key != key {
			continue
		}
		if !d.entries[ref].eligible(now) {
			continue
		}
		out = append(out, ref)
	}

	d.cursor = (d.cursor + examined) % n
	return out
}
