// Package rpcapi is the wire layer: hand-authored request/response
// types and a Handler service interface, registered
// against a go-micro gRPC server the same way the teacher's
// server/grpc.go registers pb.RegisterGreeterHandler and
// common.RegisterCrawlerMasterHandler. Wire-protocol code generation
// is out of scope (spec.md §1), and the teacher's own generated
// stubs were never part of the retrieved pack, so this package
// occupies the position protoc-gen-micro output would occupy: plain
// Go structs plus one Register function, written by hand rather than
// pretending to be generated.
package rpcapi

import (
	"context"
	"time"

	"go-micro.dev/v4/server"
)

// PutURLItem is the wire shape of one ingested item on the PutURLs stream.
type PutURLItem struct {
	ID              string
	Kind            string // "DISCOVERED" or "KNOWN"
	URL             string
	CrawlID         string
	Metadata        map[string][]string
	RefetchableFrom time.Time // only meaningful when Kind == "KNOWN"
}

// PutAck is the wire shape of one ack on the PutURLs stream.
type PutAck struct {
	ID     string
	Status string // "OK", "SKIPPED", "FAIL"
	Error  string // set only when Status == "FAIL"
}

// GetURLsReq is the wire shape of a pull request on the GetURLs stream.
type GetURLsReq struct {
	MaxURLs          int
	MaxQueues        int
	DelayRequestableMs int64
	CrawlID          string
	Key              string
}

// URLInfoWire is the wire shape of one scheduled URL handed back by GetURLs.
type URLInfoWire struct {
	URL      string
	CrawlID  string
	Key      string
	Metadata map[string][]string
}

// GetURLsBatch is one server-to-client message on the GetURLs stream:
// the batch produced by a single pull request.
type GetURLsBatch struct {
	URLs []URLInfoWire
}

// ListCrawlsRequest carries no fields; every registered crawl id is returned.
type ListCrawlsRequest struct{}

// ListCrawlsResponse lists every crawl id known to the directory.
type ListCrawlsResponse struct {
	CrawlIDs []string
}

// ListQueuesRequest scopes ListQueues to one crawl, optionally including
// non-active queues.
type ListQueuesRequest struct {
	CrawlID         string
	IncludeInactive bool
}

// QueueStatsWire is the wire shape of one queue's stats.
type QueueStatsWire struct {
	CrawlID           string
	Key               string
	Status            string
	ActiveCount       int
	InFlightCount     int
	CompletedCount    int
	LastProducedAt    time.Time
	ConsecutiveDefers int
}

// GetStatsRequest scopes GetStats to one crawl, or all crawls when empty.
type GetStatsRequest struct {
	CrawlID string
}

// GetStatsResponse is the aggregate queue counts for the requested scope.
type GetStatsResponse struct {
	Queues    int
	Active    int
	InFlight  int
	Completed int
}

// BlockQueueUntilRequest pauses one queue until a future time.
type BlockQueueUntilRequest struct {
	CrawlID string
	Key     string
	Until   time.Time
}

// BlockQueueUntilResponse reports whether the queue existed.
type BlockQueueUntilResponse struct {
	Found bool
}

// SetCrawlLimitsRequest updates a crawl's politeness delay and, when
// non-zero, its capacity. Scoped to the whole crawl, not one queue
// (spec.md §4.6).
type SetCrawlLimitsRequest struct {
	CrawlID      string
	MinDelayMs   int64
	MaxQueueSize int
}

// SetCrawlLimitsResponse reports how many existing queues were updated.
type SetCrawlLimitsResponse struct {
	QueuesUpdated int
}

// DeleteQueueRequest identifies the queue to delete.
type DeleteQueueRequest struct {
	CrawlID string
	Key     string
}

// DeleteQueueResponse reports how many entries were removed.
type DeleteQueueResponse struct {
	Removed int
}

// DeleteCrawlRequest identifies the crawl to delete entirely.
type DeleteCrawlRequest struct {
	CrawlID string
}

// DeleteCrawlResponse reports how many entries were removed.
type DeleteCrawlResponse struct {
	Removed int
}

// CheckpointRequest carries no fields.
type CheckpointRequest struct{}

// CheckpointResponse carries the checkpoint id minted by the coordination
// node, empty when running without one.
type CheckpointResponse struct {
	CheckpointID string
}

// ListNodesRequest carries no fields.
type ListNodesRequest struct{}

// NodeInfoWire is the wire shape of one cluster member.
type NodeInfoWire struct {
	ID      string
	Address string
	Leader  bool
}

// ListNodesResponse lists every known cluster member.
type ListNodesResponse struct {
	Nodes []NodeInfoWire
}

// Handler is the URL Frontier's service interface: two bidirectional
// streams (PutURLs, GetURLs) implemented directly against
// server.Stream, and the C6 control operations as plain
// request/response methods.
type Handler interface {
	PutURLs(ctx context.Context, stream server.Stream) error
	GetURLs(ctx context.Context, stream server.Stream) error

	ListCrawls(ctx context.Context, req *ListCrawlsRequest, rsp *ListCrawlsResponse) error
	ListQueues(ctx context.Context, req *ListQueuesRequest, stream server.Stream) error
	GetStats(ctx context.Context, req *GetStatsRequest, rsp *GetStatsResponse) error
	BlockQueueUntil(ctx context.Context, req *BlockQueueUntilRequest, rsp *BlockQueueUntilResponse) error
	SetCrawlLimits(ctx context.Context, req *SetCrawlLimitsRequest, rsp *SetCrawlLimitsResponse) error
	DeleteQueue(ctx context.Context, req *DeleteQueueRequest, rsp *DeleteQueueResponse) error
	DeleteCrawl(ctx context.Context, req *DeleteCrawlRequest, rsp *DeleteCrawlResponse) error
	Checkpoint(ctx context.Context, req *CheckpointRequest, rsp *CheckpointResponse) error
	ListNodes(ctx context.Context, req *ListNodesRequest, rsp *ListNodesResponse) error
}

// frontierHandler adapts a Handler onto the plain-method shape
// go-micro's grpc server plugin dispatches to via reflection, the same
// indirection the teacher's generated pb.RegisterGreeterHandler uses.
type frontierHandler struct {
	Handler
}

// RegisterURLFrontierHandler registers hdlr's methods on s, in the same
// position teacher server/grpc.go's
// common.RegisterCrawlerMasterHandler/pb.RegisterGreeterHandler calls occupy.
func RegisterURLFrontierHandler(s server.Server, hdlr Handler, opts ...server.HandlerOption) error {
	type urlFrontier interface {
		PutURLs(ctx context.Context, stream server.Stream) error
		GetURLs(ctx context.Context, stream server.Stream) error
		ListCrawls(ctx context.Context, req *ListCrawlsRequest, rsp *ListCrawlsResponse) error
		ListQueues(ctx context.Context, req *ListQueuesRequest, stream server.Stream) error
		GetStats(ctx context.Context, req *GetStatsRequest, rsp *GetStatsResponse) error
		BlockQueueUntil(ctx context.Context, req *BlockQueueUntilRequest, rsp *BlockQueueUntilResponse) error
		SetCrawlLimits(ctx context.Context, req *SetCrawlLimitsRequest, rsp *SetCrawlLimitsResponse) error
		DeleteQueue(ctx context.Context, req *DeleteQueueRequest, rsp *DeleteQueueResponse) error
		DeleteCrawl(ctx context.Context, req *DeleteCrawlRequest, rsp *DeleteCrawlResponse) error
		Checkpoint(ctx context.Context, req *CheckpointRequest, rsp *CheckpointResponse) error
		ListNodes(ctx context.Context, req *ListNodesRequest, rsp *ListNodesResponse) error
	}
	type URLFrontier struct {
		urlFrontier
	}
	h := &frontierHandler{hdlr}
	return s.Handle(s.NewHandler(&URLFrontier{h}, opts...))
}
