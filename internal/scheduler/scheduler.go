// Package scheduler implements the Fetch Scheduler (C5, spec.md §4.5),
// the central selection algorithm: snapshot candidates from the
// directory's fairness cursor, pull due entries per queue, gate them
// with a politeness rate limiter, and mark them in-flight. The
// per-domain token-bucket idiom is grounded on
// JakeFAU-realtime-cpi-crawler's internal/policy/ratelimit.Limiter
// (a map of golang.org/x/time/rate.Limiter keyed by domain, created
// lazily under a mutex), applied here per queue instead of per domain
// and layered on top of the directory's own next_eligible_at gate for
// smoother pacing than a hard cutoff alone.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/awaketai/urlfrontier/internal/directory"
	"github.com/awaketai/urlfrontier/internal/store"
	"github.com/awaketai/urlfrontier/internal/types"
)

// Config supplies the spec.md §6 defaults applied when a request omits a field.
type Config struct {
	DefaultMaxURLs          int
	DefaultMaxQueues        int
	DefaultDelayRequestable time.Duration
	Deadline                time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultMaxURLs <= 0 {
		c.DefaultMaxURLs = 100
	}
	if c.DefaultMaxQueues <= 0 {
		c.DefaultMaxQueues = 10
	}
	if c.DefaultDelayRequestable <= 0 {
		c.DefaultDelayRequestable = 30 * time.Second
	}
	if c.Deadline <= 0 {
		c.Deadline = time.Second
	}
	return c
}

// Scheduler is the C5 engine, shared across every GetURLs call.
type Scheduler struct {
	store  store.Store
	dir    *directory.Directory
	cfg    Config
	logger *zap.Logger

	limiterMu sync.Mutex
	limiters  map[types.QueueRef]*rate.Limiter
}

// New builds a Scheduler over the given store and directory.
func New(st store.Store, dir *directory.Directory, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    st,
		dir:      dir,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		limiters: map[types.QueueRef]*rate.Limiter{},
	}
}

func (s *Scheduler) limiterFor(ref types.QueueRef, minDelay time.Duration) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	l, ok := s.limiters[ref]
	if !ok {
		limit := rate.Inf
		if minDelay > 0 {
			limit = rate.Every(minDelay)
		}
		l = rate.NewLimiter(limit, 1)
		s.limiters[ref] = l
	}
	return l
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// GetURLs runs the selection algorithm of spec.md §4.5 and returns a
// batch of URLInfo values. It never returns a timeout error: an
// exhausted deadline simply truncates the batch (the overload policy).
func (s *Scheduler) GetURLs(ctx context.Context, req types.GetURLsRequest) ([]types.URLInfo, error) {
	maxURLs := req.MaxURLs
	if maxURLs <= 0 {
		maxURLs = s.cfg.DefaultMaxURLs
	}
	maxQueues := req.MaxQueues
	if maxQueues <= 0 {
		maxQueues = s.cfg.DefaultMaxQueues
	}
	delayRequestable := req.DelayRequestable
	if delayRequestable <= 0 {
		delayRequestable = s.cfg.DefaultDelayRequestable
	}
	perQueueCap := ceilDiv(maxURLs, maxQueues)

	deadline := time.Now().Add(s.cfg.Deadline)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	out := make([]types.URLInfo, 0, maxURLs)
	visited := map[types.QueueRef]struct{}{}

	for len(out) < maxURLs && len(visited) < maxQueues {
		if ctx.Err() != nil {
			break
		}

		now := time.Now()
		candidates := s.dir.NextCandidates(now, req.CrawlID, req.Key, maxQueues-len(visited))
		if len(candidates) == 0 {
			break
		}

		progressed := false
		for _, ref := range candidates {
			if ctx.Err() != nil || len(out) >= maxURLs {
				break
			}
			visited[ref] = struct{}{}

			served := s.serveQueue(ctx, ref, now, perQueueCap, maxURLs-len(out), delayRequestable, &out)
			if served > 0 {
				progressed = true
			}
		}

		if !progressed {
			break
		}
	}

	return out, nil
}

func (s *Scheduler) serveQueue(
	ctx context.Context,
	ref types.QueueRef,
	now time.Time,
	perQueueCap, remaining int,
	delayRequestable time.Duration,
	out *[]types.URLInfo,
) int {
	meta, ok := s.dir.Get(ref)
	if !ok {
		return 0
	}

	due, err := s.store.FetchDue(ctx, ref.CrawlID, ref.Key, now, perQueueCap)
	if err != nil {
		s.logger.Warn("scheduler: fetch_due failed, skipping queue this round",
			zap.String("crawl_id", ref.CrawlID), zap.String("key", ref.Key), zap.Error(err))
		return 0
	}

	limiter := s.limiterFor(ref, meta.MinDelay)
	served := 0
	limit := perQueueCap
	if remaining < limit {
		limit = remaining
	}

	for _, entry := range due {
		if served >= limit {
			break
		}
		if !limiter.AllowN(now, 1) {
			break
		}

		newRefetch := now.Add(delayRequestable)
		if err := s.store.MarkInFlight(ctx, ref.CrawlID, ref.Key, entry.URL, newRefetch); err != nil {
			s.logger.Warn("scheduler: mark_in_flight failed",
				zap.String("crawl_id", ref.CrawlID), zap.String("url", entry.URL), zap.Error(err))
			continue
		}

		*out = append(*out, types.URLInfo{
			URL:      entry.URL,
			CrawlID:  ref.CrawlID,
			Key:      ref.Key,
			Metadata: entry.Metadata,
		})
		s.dir.MarkServed(ref, now)
		served++
	}

	if served == 0 {
		s.dir.RecordDefer(ref)
	}
	return served
}
