// Package store defines the Queue Store abstraction (spec.md §4.2): a
// persistent map of per-queue ordered scheduled-URL sets plus a
// per-crawl known-URL set. Implementations must satisfy the guarantee
// that PutScheduled is atomic with respect to IsKnown.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/awaketai/urlfrontier/internal/types"
)

// PutResult is the outcome of PutScheduled.
type PutResult int

const (
	// Inserted means a brand-new URL was scheduled and marked known.
	Inserted PutResult = iota
	// AlreadyKnown means the URL was already in the known-set; no state changed.
	AlreadyKnown
	// Replaced means an existing scheduled entry's refetch time or metadata was updated.
	Replaced
)

// ScheduledEntry is one row of a queue's ordered scheduled set.
type ScheduledEntry struct {
	URL             string
	RefetchableFrom time.Time
	Metadata        types.Metadata
	InFlight        bool
}

// ErrQueueNotFound is returned by operations addressing a queue that
// does not exist.
var ErrQueueNotFound = errors.New("store: queue not found")

// ErrCapacityExceeded is returned by PutScheduled when the queue is at
// its configured max_queue_size.
var ErrCapacityExceeded = errors.New("store: queue capacity exceeded")

// Store is the pluggable persistence contract behind the Queue
// Directory. Implementations must serialize writes per (crawl_id, url)
// and support concurrent reads.
type Store interface {
	// PutScheduled inserts or updates a queue entry for url. maxQueueSize
	// <= 0 means unlimited. kind distinguishes a Discovered item, which
	// must never mutate an already-known URL's schedule, from a Known
	// item, which may (spec.md §4.4's outcome table).
	PutScheduled(ctx context.Context, crawlID, key, url string, kind types.ItemKind, refetchableFrom time.Time, metadata types.Metadata, maxQueueSize int) (PutResult, error)

	// FetchDue returns up to max entries with RefetchableFrom <= now, in
	// sort order, without removing them from the scheduled set.
	FetchDue(ctx context.Context, crawlID, key string, now time.Time, max int) ([]ScheduledEntry, error)

	// MarkInFlight moves an entry's RefetchableFrom forward to represent
	// the in-flight window; it remains in the scheduled set until
	// completed or rescheduled again.
	MarkInFlight(ctx context.Context, crawlID, key, url string, refetchableFrom time.Time) error

	// MarkCompleted removes url from the queue's scheduled/in-flight set.
	MarkCompleted(ctx context.Context, crawlID, key, url string) error

	// Reschedule sets a new RefetchableFrom for an existing entry,
	// applying merge-on-write to metadata when non-nil.
	Reschedule(ctx context.Context, crawlID, key, url string, newTime time.Time, metadata types.Metadata) error

	// IsKnown reports whether url has ever been ingested under crawlID.
	IsKnown(ctx context.Context, crawlID, url string) (bool, error)

	// AddKnown records url in the crawl's known-set.
	AddKnown(ctx context.Context, crawlID, url string) error

	// IterateQueues lists queue keys, optionally filtered to one crawl.
	IterateQueues(ctx context.Context, crawlID string) ([]types.QueueRef, error)

	// QueueSize reports active_count (scheduled + in-flight) for a queue.
	QueueSize(ctx context.Context, crawlID, key string) (int, error)

	// CountInFlight reports the subset of active_count currently marked
	// in-flight for a queue.
	CountInFlight(ctx context.Context, crawlID, key string) (int, error)

	// DeleteQueue removes a queue's scheduled/in-flight state and
	// returns the number of entries removed.
	DeleteQueue(ctx context.Context, crawlID, key string) (int, error)

	// DeleteCrawl removes every queue and the known-set for crawlID,
	// atomically, returning the number of entries removed.
	DeleteCrawl(ctx context.Context, crawlID string) (int, error)

	// Checkpoint flushes to durable storage; returns only after
	// fsync-level durability if the backend supports it.
	Checkpoint(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
