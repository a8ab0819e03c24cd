// Package frontier wires the six components (C1-C6) into a single
// Engine: the object every transport (gRPC streams, the REST gateway,
// the CLI) drives. It owns no protocol concerns of its own — those
// live in internal/rpcapi and server/ — and exists so the wire layer
// stays a thin translation instead of duplicating orchestration logic.
package frontier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/awaketai/urlfrontier/internal/control"
	"github.com/awaketai/urlfrontier/internal/coordination"
	"github.com/awaketai/urlfrontier/internal/directory"
	"github.com/awaketai/urlfrontier/internal/ingest"
	"github.com/awaketai/urlfrontier/internal/scheduler"
	"github.com/awaketai/urlfrontier/internal/store"
	"github.com/awaketai/urlfrontier/internal/types"
)

// Config aggregates every component's tunables (spec.md §6).
type Config struct {
	DefaultMinDelay         time.Duration
	DefaultMaxQueueSize     int
	IngestOutstandingLimit  int
	DefaultMaxURLs          int
	DefaultMaxQueues        int
	DefaultDelayRequestable time.Duration
	FetchDeadline           time.Duration
}

// Engine is the assembled frontier: one per process, shared by every
// RPC stream and control call.
type Engine struct {
	Store   store.Store
	Dir     *directory.Directory
	Ingest  *ingest.Pipeline
	Sched   *scheduler.Scheduler
	Control *control.Surface
	Node    *coordination.Node
	logger  *zap.Logger
}

// New assembles an Engine from a store implementation and a
// (optional, may be nil) coordination node. Per spec.md §3's lifecycle
// ("In-memory metadata in C3 is rebuilt from C2 on startup"), the
// directory is repopulated from every queue the store already knows
// about before anything else is wired to it, so a restart against a
// durable backend (mysqlstore) recovers ListQueues/GetStats/the
// scheduler's candidate set without waiting for every URL to be
// re-ingested.
func New(ctx context.Context, st store.Store, node *coordination.Node, cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := directory.New()

	refs, err := st.IterateQueues(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("frontier: rebuild directory from store: %w", err)
	}
	for _, ref := range refs {
		dir.Register(ref, cfg.DefaultMinDelay, cfg.DefaultMaxQueueSize)
	}
	logger.Info("directory rebuilt from store", zap.Int("queues", len(refs)))

	ing := ingest.New(st, dir, ingest.Config{
		DefaultMinDelay:     cfg.DefaultMinDelay,
		DefaultMaxQueueSize: cfg.DefaultMaxQueueSize,
		AdmissionLimit:      cfg.IngestOutstandingLimit,
	}, logger)

	sched := scheduler.New(st, dir, scheduler.Config{
		DefaultMaxURLs:          cfg.DefaultMaxURLs,
		DefaultMaxQueues:        cfg.DefaultMaxQueues,
		DefaultDelayRequestable: cfg.DefaultDelayRequestable,
		Deadline:                cfg.FetchDeadline,
	}, logger)

	ctrl := control.New(st, dir, logger)

	return &Engine{
		Store:   st,
		Dir:     dir,
		Ingest:  ing,
		Sched:   sched,
		Control: ctrl,
		Node:    node,
		logger:  logger,
	}, nil
}

// ListNodes returns cluster membership. With a coordination.Node that
// has seen no members yet it returns a single entry for that node; with
// no coordination.Node configured (standalone deployment) it returns nil.
func (e *Engine) ListNodes() []types.NodeInfo {
	if e.Node == nil {
		return nil
	}
	members := e.Node.Members()
	if len(members) == 0 {
		return []types.NodeInfo{{ID: e.Node.ID, Address: e.Node.Address, Leader: e.Node.IsLeader()}}
	}
	return members
}

// Checkpoint flushes the store and, when a coordination node is
// present, stamps the checkpoint with a cluster-unique id for audit logs.
func (e *Engine) Checkpoint(ctx context.Context) (string, error) {
	if err := e.Control.Checkpoint(ctx); err != nil {
		return "", err
	}
	if e.Node == nil {
		return "", nil
	}
	return e.Node.NextID(), nil
}

// Close releases resources held by the engine's dependencies.
func (e *Engine) Close() error {
	if e.Node != nil {
		if err := e.Node.Close(); err != nil {
			return err
		}
	}
	return e.Store.Close()
}
