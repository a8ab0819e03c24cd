package rpcapi

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go-micro.dev/v4/server"
	"go.uber.org/zap"

	"github.com/awaketai/urlfrontier/internal/frontier"
	"github.com/awaketai/urlfrontier/internal/types"
)

// Service implements Handler by delegating to a frontier.Engine. One
// Service is shared across every connection the grpc server accepts.
type Service struct {
	engine *frontier.Engine
	logger *zap.Logger
}

// NewService builds a Service over the given engine.
func NewService(engine *frontier.Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, logger: logger}
}

func toItemKind(kind string) types.ItemKind {
	if kind == "KNOWN" {
		return types.Known
	}
	return types.Discovered
}

func toAckStatus(status types.AckStatus) string { return status.String() }

// PutURLs implements the C4 ingest stream: receive PutURLItem
// messages, translate each into a types.URLItem, run them through the
// ingest pipeline concurrently, and send back one PutAck per item.
func (s *Service) PutURLs(ctx context.Context, stream server.Stream) error {
	items := make(chan types.URLItem)
	acks := make(chan types.AckMessage)

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- s.engine.Ingest.RunStream(ctx, items, acks)
	}()

	go func() {
		defer close(items)
		for {
			var msg PutURLItem
			if err := stream.Recv(&msg); err != nil {
				if err != io.EOF {
					s.logger.Warn("rpcapi: put_urls recv failed", zap.Error(err))
				}
				return
			}
			if msg.ID == "" {
				msg.ID = uuid.NewString()
			}
			select {
			case items <- types.URLItem{
				ID:   msg.ID,
				Kind: toItemKind(msg.Kind),
				Info: types.URLInfo{
					URL:      msg.URL,
					CrawlID:  msg.CrawlID,
					Metadata: types.Metadata(msg.Metadata),
				},
				RefetchableFrom: msg.RefetchableFrom,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for ack := range acks {
		errText := ""
		if ack.Err != nil {
			errText = ack.Err.Error()
		}
		if err := stream.Send(&PutAck{ID: ack.ID, Status: toAckStatus(ack.Status), Error: errText}); err != nil {
			return err
		}
	}

	return <-streamErr
}

// GetURLs implements the C5 fetch scheduler stream: each client
// message pulls one batch, returned as a single GetURLsBatch.
func (s *Service) GetURLs(ctx context.Context, stream server.Stream) error {
	for {
		var req GetURLsReq
		if err := stream.Recv(&req); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		batch, err := s.engine.Sched.GetURLs(ctx, types.GetURLsRequest{
			MaxURLs:          req.MaxURLs,
			MaxQueues:        req.MaxQueues,
			DelayRequestable: time.Duration(req.DelayRequestableMs) * time.Millisecond,
			CrawlID:          req.CrawlID,
			Key:              req.Key,
		})
		if err != nil {
			return err
		}

		wire := make([]URLInfoWire, 0, len(batch))
		for _, u := range batch {
			wire = append(wire, URLInfoWire{URL: u.URL, CrawlID: u.CrawlID, Key: u.Key, Metadata: map[string][]string(u.Metadata)})
		}
		if err := stream.Send(&GetURLsBatch{URLs: wire}); err != nil {
			return err
		}
	}
}

// ListCrawls returns every crawl id the directory knows about.
func (s *Service) ListCrawls(ctx context.Context, req *ListCrawlsRequest, rsp *ListCrawlsResponse) error {
	rsp.CrawlIDs = s.engine.Control.ListCrawls()
	return nil
}

// ListQueues streams one QueueStatsWire per matching queue.
func (s *Service) ListQueues(ctx context.Context, req *ListQueuesRequest, stream server.Stream) error {
	queues, err := s.engine.Control.ListQueues(ctx, req.CrawlID, req.IncludeInactive)
	if err != nil {
		return err
	}
	for _, q := range queues {
		wire := &QueueStatsWire{
			CrawlID:           q.CrawlID,
			Key:               q.Key,
			Status:            q.Status.String(),
			ActiveCount:       q.ActiveCount,
			InFlightCount:     q.InFlightCount,
			CompletedCount:    q.CompletedCount,
			LastProducedAt:    q.LastProducedAt,
			ConsecutiveDefers: q.ConsecutiveDefers,
		}
		if err := stream.Send(wire); err != nil {
			return err
		}
	}
	return nil
}

// GetStats aggregates queue counts for the requested scope.
func (s *Service) GetStats(ctx context.Context, req *GetStatsRequest, rsp *GetStatsResponse) error {
	stats, err := s.engine.Control.GetStats(ctx, req.CrawlID)
	if err != nil {
		return err
	}
	rsp.Queues, rsp.Active, rsp.InFlight, rsp.Completed = stats.Queues, stats.Active, stats.InFlight, stats.Completed
	return nil
}

// BlockQueueUntil pauses a queue until a future time.
func (s *Service) BlockQueueUntil(ctx context.Context, req *BlockQueueUntilRequest, rsp *BlockQueueUntilResponse) error {
	rsp.Found = s.engine.Control.BlockQueueUntil(req.CrawlID, req.Key, req.Until)
	return nil
}

// SetCrawlLimits updates a crawl's politeness delay and capacity.
func (s *Service) SetCrawlLimits(ctx context.Context, req *SetCrawlLimitsRequest, rsp *SetCrawlLimitsResponse) error {
	rsp.QueuesUpdated = s.engine.Control.SetCrawlLimits(req.CrawlID, time.Duration(req.MinDelayMs)*time.Millisecond, req.MaxQueueSize)
	return nil
}

// DeleteQueue removes one queue.
func (s *Service) DeleteQueue(ctx context.Context, req *DeleteQueueRequest, rsp *DeleteQueueResponse) error {
	removed, err := s.engine.Control.DeleteQueue(ctx, req.CrawlID, req.Key)
	if err != nil {
		return err
	}
	rsp.Removed = removed
	return nil
}

// DeleteCrawl removes every queue belonging to a crawl.
func (s *Service) DeleteCrawl(ctx context.Context, req *DeleteCrawlRequest, rsp *DeleteCrawlResponse) error {
	removed, err := s.engine.Control.DeleteCrawl(ctx, req.CrawlID)
	if err != nil {
		return err
	}
	rsp.Removed = removed
	return nil
}

// Checkpoint flushes the store and returns a checkpoint id when clustered.
func (s *Service) Checkpoint(ctx context.Context, req *CheckpointRequest, rsp *CheckpointResponse) error {
	id, err := s.engine.Checkpoint(ctx)
	if err != nil {
		return err
	}
	rsp.CheckpointID = id
	return nil
}

// ListNodes reports cluster membership.
func (s *Service) ListNodes(ctx context.Context, req *ListNodesRequest, rsp *ListNodesResponse) error {
	for _, n := range s.engine.ListNodes() {
		rsp.Nodes = append(rsp.Nodes, NodeInfoWire{ID: n.ID, Address: n.Address, Leader: n.Leader})
	}
	return nil
}
