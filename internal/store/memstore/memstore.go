// Package memstore is an in-memory Store implementation used for tests
// and single-process deployments. Its dedupe/locking idiom is grounded
// on the teacher's engine.Crawler.Visited map-plus-mutex pattern,
// generalized to per-queue state under per-queue locks and a striped
// lock over the known-set so PutScheduled stays atomic with IsKnown
// (spec.md §4.2, §5).
package memstore

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/awaketai/urlfrontier/internal/store"
	"github.com/awaketai/urlfrontier/internal/types"
)

const stripeCount = 64

type queueKey struct {
	crawlID string
	key     string
}

type entry struct {
	url             string
	refetchableFrom time.Time
	metadata        types.Metadata
	inFlight        bool
	seq             int64
}

type queueState struct {
	mu      sync.Mutex
	entries []*entry
	byURL   map[string]*entry
	seq     int64
}

func newQueueState() *queueState {
	return &queueState{byURL: map[string]*entry{}}
}

func (q *queueState) insert(e *entry) {
	q.seq++
	e.seq = q.seq
	q.byURL[e.url] = e
	q.entries = append(q.entries, e)
	q.sort()
}

func (q *queueState) sort() {
	sort.SliceStable(q.entries, func(i, j int) bool {
		if !q.entries[i].refetchableFrom.Equal(q.entries[j].refetchableFrom) {
			return q.entries[i].refetchableFrom.Before(q.entries[j].refetchableFrom)
		}
		return q.entries[i].seq < q.entries[j].seq
	})
}

func (q *queueState) remove(url string) {
	e, ok := q.byURL[url]
	if !ok {
		return
	}
	delete(q.byURL, url)
	for i, ent := range q.entries {
		if ent == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
}

func (q *queueState) activeCount() int {
	return len(q.entries)
}

// Memstore is a concurrency-safe, non-durable Store.
type Memstore struct {
	mu      sync.RWMutex
	queues  map[queueKey]*queueState
	known   map[string]map[string]struct{} // crawlID -> url set
	stripes [stripeCount]sync.Mutex
}

// New creates an empty in-memory store.
func New() *Memstore {
	return &Memstore{
		queues: map[queueKey]*queueState{},
		known:  map[string]map[string]struct{}{},
	}
}

func (m *Memstore) stripe(crawlID, url string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(crawlID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(url))
	return &m.stripes[h.Sum32()%stripeCount]
}

func (m *Memstore) queueFor(crawlID, key string) *queueState {
	qk := queueKey{crawlID, key}

	m.mu.RLock()
	q, ok := m.queues[qk]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[qk]; ok {
		return q
	}
	q = newQueueState()
	m.queues[qk] = q
	return q
}

func (m *Memstore) isKnownLocked(crawlID, url string) bool {
	set, ok := m.known[crawlID]
	if !ok {
		return false
	}
	_, known := set[url]
	return known
}

func (m *Memstore) addKnownLocked(crawlID, url string) {
	set, ok := m.known[crawlID]
	if !ok {
		set = map[string]struct{}{}
		m.known[crawlID] = set
	}
	set[url] = struct{}{}
}

// PutScheduled implements store.Store.
func (m *Memstore) PutScheduled(
	_ context.Context,
	crawlID, key, url string,
	kind types.ItemKind,
	refetchableFrom time.Time,
	metadata types.Metadata,
	maxQueueSize int,
) (store.PutResult, error) {
	lock := m.stripe(crawlID, url)
	lock.Lock()
	defer lock.Unlock()

	// The known-set check happens before the queue lock is taken, so
	// PutScheduled and DeleteQueue/DeleteCrawl never hold m.mu and a
	// queueState's mu at the same time in opposite orders.
	m.mu.Lock()
	known := m.isKnownLocked(crawlID, url)
	if !known {
		m.addKnownLocked(crawlID, url)
	}
	m.mu.Unlock()

	q := m.queueFor(crawlID, key)
	q.mu.Lock()

	if known {
		// A Discovered item never mutates an already-known URL's
		// schedule, even if it is still sitting in the queue.
		if existing, scheduled := q.byURL[url]; kind == types.Known && scheduled {
			if refetchableFrom.After(existing.refetchableFrom) {
				existing.refetchableFrom = refetchableFrom
			}
			existing.metadata = existing.metadata.Merge(metadata)
			q.sort()
			q.mu.Unlock()
			return store.Replaced, nil
		}
		q.mu.Unlock()
		return store.AlreadyKnown, nil
	}

	if maxQueueSize > 0 && q.activeCount() >= maxQueueSize {
		q.mu.Unlock()
		m.mu.Lock()
		delete(m.known[crawlID], url)
		m.mu.Unlock()
		return store.Inserted, store.ErrCapacityExceeded
	}

	q.insert(&entry{url: url, refetchableFrom: refetchableFrom, metadata: metadata})
	q.mu.Unlock()
	return store.Inserted, nil
}

// FetchDue implements store.Store.
func (m *Memstore) FetchDue(_ context.Context, crawlID, key string, now time.Time, max int) ([]store.ScheduledEntry, error) {
	q := m.queueFor(crawlID, key)
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]store.ScheduledEntry, 0, max)
	for _, e := range q.entries {
		if len(out) >= max {
			break
		}
		if e.refetchableFrom.After(now) {
			continue
		}
		out = append(out, store.ScheduledEntry{
			URL:             e.url,
			RefetchableFrom: e.refetchableFrom,
			Metadata:        e.metadata,
			InFlight:        e.inFlight,
		})
	}
	return out, nil
}

// MarkInFlight implements store.Store.
func (m *Memstore) MarkInFlight(_ context.Context, crawlID, key, url string, refetchableFrom time.Time) error {
	q := m.queueFor(crawlID, key)
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byURL[url]
	if !ok {
		return store.ErrQueueNotFound
	}
	e.inFlight = true
	e.refetchableFrom = refetchableFrom
	q.sort()
	return nil
}

// MarkCompleted implements store.Store.
func (m *Memstore) MarkCompleted(_ context.Context, crawlID, key, url string) error {
	q := m.queueFor(crawlID, key)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remove(url)
	return nil
}

// Reschedule implements store.Store.
func (m *Memstore) Reschedule(_ context.Context, crawlID, key, url string, newTime time.Time, metadata types.Metadata) error {
	q := m.queueFor(crawlID, key)
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byURL[url]
	if !ok {
		return store.ErrQueueNotFound
	}
	e.refetchableFrom = newTime
	e.inFlight = false
	if metadata != nil {
		e.metadata = e.metadata.Merge(metadata)
	}
	q.sort()
	return nil
}

// IsKnown implements store.Store.
func (m *Memstore) IsKnown(_ context.Context, crawlID, url string) (bool, error) {
	lock := m.stripe(crawlID, url)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isKnownLocked(crawlID, url), nil
}

// AddKnown implements store.Store.
func (m *Memstore) AddKnown(_ context.Context, crawlID, url string) error {
	lock := m.stripe(crawlID, url)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.addKnownLocked(crawlID, url)
	return nil
}

// IterateQueues implements store.Store.
func (m *Memstore) IterateQueues(_ context.Context, crawlID string) ([]types.QueueRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.QueueRef, 0, len(m.queues))
	for qk := range m.queues {
		if crawlID != "" && qk.crawlID != crawlID {
			continue
		}
		out = append(out, types.QueueRef{CrawlID: qk.crawlID, Key: qk.key})
	}
	return out, nil
}

// QueueSize implements store.Store.
func (m *Memstore) QueueSize(_ context.Context, crawlID, key string) (int, error) {
	q := m.queueFor(crawlID, key)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeCount(), nil
}

// CountInFlight implements store.Store.
func (m *Memstore) CountInFlight(_ context.Context, crawlID, key string) (int, error) {
	q := m.queueFor(crawlID, key)
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.inFlight {
			n++
		}
	}
	return n, nil
}

// DeleteQueue implements store.Store.
func (m *Memstore) DeleteQueue(_ context.Context, crawlID, key string) (int, error) {
	qk := queueKey{crawlID, key}

	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[qk]
	if !ok {
		return 0, nil
	}
	q.mu.Lock()
	removed := q.activeCount()
	q.mu.Unlock()
	delete(m.queues, qk)
	return removed, nil
}

// DeleteCrawl implements store.Store.
func (m *Memstore) DeleteCrawl(_ context.Context, crawlID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for qk, q := range m.queues {
		if qk.crawlID != crawlID {
			continue
		}
		q.mu.Lock()
		removed += q.activeCount()
		q.mu.Unlock()
		delete(m.queues, qk)
	}
	delete(m.known, crawlID)
	return removed, nil
}

// Checkpoint is a no-op for the in-memory store.
func (m *Memstore) Checkpoint(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *Memstore) Close() error { return nil }
