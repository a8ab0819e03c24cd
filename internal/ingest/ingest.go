// Package ingest implements the Ingest Pipeline (C4, spec.md §4.4): a
// bidirectional stream that turns URLItems into store writes and
// one-to-one AckMessages. The admission limiter follows the teacher's
// channel-as-coordination-primitive idiom in engine/schedule.go
// (requestCh/workerCh); the dedup outcome mapping generalizes
// engine/crawler.go's HasVisited/StoreVisited/SetFailure pattern onto
// store.PutScheduled's three-way result.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/awaketai/urlfrontier/internal/directory"
	"github.com/awaketai/urlfrontier/internal/store"
	"github.com/awaketai/urlfrontier/internal/types"
	"github.com/awaketai/urlfrontier/internal/urlkey"
)

// ErrEmptyURL is a validation failure: the item carries no URL.
var ErrEmptyURL = errors.New("ingest: empty url")

// ErrEmptyCrawlID is a validation failure: the item carries no crawl id.
var ErrEmptyCrawlID = errors.New("ingest: empty crawl_id")

// Config tunes pipeline defaults. A zero AdmissionLimit falls back to
// 10,000; a zero DefaultMinDelay means no politeness delay and a zero
// DefaultMaxQueueSize means unlimited.
type Config struct {
	// DefaultMinDelay seeds a newly registered queue's politeness delay.
	DefaultMinDelay time.Duration
	// DefaultMaxQueueSize seeds a newly registered queue's capacity; 0 is unlimited.
	DefaultMaxQueueSize int
	// AdmissionLimit bounds outstanding concurrent store writes per stream (K).
	AdmissionLimit int
}

const defaultAdmissionLimit = 10_000

// Pipeline is the C4 ingest engine, shared across every PutURLs stream.
type Pipeline struct {
	store  store.Store
	dir    *directory.Directory
	cfg    Config
	logger *zap.Logger
}

// New builds a Pipeline over the given store and directory.
func New(st store.Store, dir *directory.Directory, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.AdmissionLimit <= 0 {
		cfg.AdmissionLimit = defaultAdmissionLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: st, dir: dir, cfg: cfg, logger: logger}
}

// Ingest applies one item's semantics per the outcome table in
// spec.md §4.4 and returns its ack. Never blocks on anything but the
// store call itself.
func (p *Pipeline) Ingest(ctx context.Context, item types.URLItem) types.AckMessage {
	if err := validate(item); err != nil {
		return types.AckMessage{ID: item.ID, Status: types.Fail, Err: err}
	}

	normalized, err := urlkey.Normalize(item.Info.URL)
	if err != nil {
		return types.AckMessage{ID: item.ID, Status: types.Fail, Err: err}
	}
	key, err := urlkey.Key(normalized)
	if err != nil {
		return types.AckMessage{ID: item.ID, Status: types.Fail, Err: err}
	}

	ref := types.QueueRef{CrawlID: item.Info.CrawlID, Key: key}
	p.dir.Register(ref, p.cfg.DefaultMinDelay, p.cfg.DefaultMaxQueueSize)
	meta, _ := p.dir.Get(ref)

	// A paused queue (blocked_until not yet reached) and a draining
	// queue accept no items.
	paused := meta.Status == types.Paused && (meta.BlockedUntil.IsZero() || time.Now().Before(meta.BlockedUntil))
	if paused || meta.Status == types.Draining {
		return types.AckMessage{ID: item.ID, Status: types.Fail, Err: errors.New("ingest: queue not accepting items: " + meta.Status.String())}
	}

	refetchableFrom := time.Now()
	if item.Kind == types.Known {
		refetchableFrom = item.RefetchableFrom
	}

	res, err := p.store.PutScheduled(ctx, item.Info.CrawlID, key, normalized, item.Kind, refetchableFrom, item.Info.Metadata, meta.MaxQueueSize)
	if err != nil {
		p.logger.Error("ingest: store write failed",
			zap.String("crawl_id", item.Info.CrawlID),
			zap.String("url", normalized),
			zap.Error(err),
		)
		return types.AckMessage{ID: item.ID, Status: types.Fail, Err: err}
	}

	switch res {
	case store.Inserted, store.Replaced:
		return types.AckMessage{ID: item.ID, Status: types.OK}
	default: // store.AlreadyKnown
		return types.AckMessage{ID: item.ID, Status: types.Skipped}
	}
}

func validate(item types.URLItem) error {
	if item.Info.URL == "" {
		return ErrEmptyURL
	}
	if item.Info.CrawlID == "" {
		return ErrEmptyCrawlID
	}
	return nil
}

// RunStream drains items until the channel closes or ctx is canceled,
// processing up to cfg.AdmissionLimit items concurrently and emitting
// one ack per item without guaranteeing input order (spec.md §4.4).
// The semaphore is a buffered channel, the same coordination primitive
// the teacher's Schedule type uses for requestCh/workerCh.
func (p *Pipeline) RunStream(ctx context.Context, items <-chan types.URLItem, acks chan<- types.AckMessage) error {
	sem := make(chan struct{}, p.cfg.AdmissionLimit)
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(acks)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case item, ok := <-items:
			if !ok {
				return nil
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}

			wg.Add(1)
			go func(item types.URLItem) {
				defer wg.Done()
				defer func() { <-sem }()

				ack := p.Ingest(ctx, item)
				select {
				case acks <- ack:
				case <-ctx.Done():
				}
			}(item)
		}
	}
}
