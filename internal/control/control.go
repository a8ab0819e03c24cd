// Package control implements the Control Surface (C6, spec.md §4.6):
// synchronous admin operations over the Queue Directory and Queue
// Store. Every operation here is reflected in the directory before
// returning, per spec.md §4.6's synchronous-visibility guarantee.
package control

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/awaketai/urlfrontier/internal/directory"
	"github.com/awaketai/urlfrontier/internal/store"
	"github.com/awaketai/urlfrontier/internal/types"
)

// Surface is the C6 control surface, shared across the frontier.
type Surface struct {
	store  store.Store
	dir    *directory.Directory
	logger *zap.Logger
}

// New builds a control Surface over the given store and directory.
func New(st store.Store, dir *directory.Directory, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{store: st, dir: dir, logger: logger}
}

// ListCrawls returns the distinct set of crawl ids known to the directory.
func (s *Surface) ListCrawls() []string {
	seen := map[string]struct{}{}
	for _, meta := range s.dir.List("") {
		seen[meta.CrawlID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// ListQueues returns per-queue stats, optionally including
// non-Active queues.
func (s *Surface) ListQueues(ctx context.Context, crawlID string, includeInactive bool) ([]types.QueueStats, error) {
	metas := s.dir.List(crawlID)
	out := make([]types.QueueStats, 0, len(metas))
	for _, meta := range metas {
		if !includeInactive && meta.Status != types.Active {
			continue
		}
		activeCount, err := s.store.QueueSize(ctx, meta.CrawlID, meta.Key)
		if err != nil {
			return nil, err
		}
		inFlightCount, err := s.store.CountInFlight(ctx, meta.CrawlID, meta.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, types.QueueStats{
			QueueRef:          meta.QueueRef,
			Status:            meta.Status,
			ActiveCount:       activeCount,
			InFlightCount:     inFlightCount,
			CompletedCount:    meta.CompletedCount,
			LastProducedAt:    meta.LastProducedAt,
			ConsecutiveDefers: meta.ConsecutiveDefers,
		})
	}
	return out, nil
}

// GetStats aggregates queue counts, optionally scoped to one crawl.
func (s *Surface) GetStats(ctx context.Context, crawlID string) (types.CrawlStats, error) {
	metas := s.dir.List(crawlID)
	stats := types.CrawlStats{Queues: len(metas)}
	for _, meta := range metas {
		if meta.Status == types.Active {
			stats.Active++
		}
		inFlight, err := s.store.CountInFlight(ctx, meta.CrawlID, meta.Key)
		if err != nil {
			return types.CrawlStats{}, err
		}
		stats.InFlight += inFlight
		stats.Completed += meta.CompletedCount
	}
	return stats, nil
}

// BlockQueueUntil sets blocked_until on a queue, per spec.md §4.6.
func (s *Surface) BlockQueueUntil(crawlID, key string, until time.Time) bool {
	return s.dir.BlockUntil(types.QueueRef{CrawlID: crawlID, Key: key}, until)
}

// SetCrawlLimits sets crawlID's politeness delay and, when non-zero,
// its capacity: every queue currently under crawlID is updated and the
// pair becomes the default applied to queues registered afterward
// (spec.md §4.6, §4.5). Returns the number of existing queues updated.
func (s *Surface) SetCrawlLimits(crawlID string, minDelay time.Duration, maxQueueSize int) int {
	return s.dir.SetCrawlDefaults(crawlID, minDelay, maxQueueSize)
}

// DeleteQueue removes a queue's scheduled state from both the store
// and the directory, returning the number of entries removed.
func (s *Surface) DeleteQueue(ctx context.Context, crawlID, key string) (int, error) {
	removed, err := s.store.DeleteQueue(ctx, crawlID, key)
	if err != nil {
		return 0, err
	}
	s.dir.Unregister(types.QueueRef{CrawlID: crawlID, Key: key})
	return removed, nil
}

// DeleteCrawl removes every queue belonging to crawlID from both the
// store and the directory, returning the number of entries removed.
func (s *Surface) DeleteCrawl(ctx context.Context, crawlID string) (int, error) {
	removed, err := s.store.DeleteCrawl(ctx, crawlID)
	if err != nil {
		return 0, err
	}
	s.dir.UnregisterCrawl(crawlID)
	return removed, nil
}

// Checkpoint flushes the store to durable storage.
func (s *Surface) Checkpoint(ctx context.Context) error {
	return s.store.Checkpoint(ctx)
}
