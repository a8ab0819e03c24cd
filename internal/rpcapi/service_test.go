package rpcapi

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-micro.dev/v4/server"
	"go.uber.org/zap"

	"github.com/awaketai/urlfrontier/internal/control"
	"github.com/awaketai/urlfrontier/internal/coordination"
	"github.com/awaketai/urlfrontier/internal/directory"
	"github.com/awaketai/urlfrontier/internal/frontier"
	"github.com/awaketai/urlfrontier/internal/ingest"
	"github.com/awaketai/urlfrontier/internal/scheduler"
	"github.com/awaketai/urlfrontier/internal/store/memstore"
)

// fakeStream is a minimal in-process server.Stream double: it lets a
// test drive PutURLs/GetURLs without a real grpc transport, feeding
// pre-queued inbound messages and capturing outbound ones.
type fakeStream struct {
	mu   sync.Mutex
	in   []interface{}
	out  []interface{}
	pos  int
}

func (f *fakeStream) Recv(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.in) {
		return io.EOF
	}
	msg := f.in[f.pos]
	f.pos++
	switch dst := v.(type) {
	case *PutURLItem:
		*dst = msg.(PutURLItem)
	case *GetURLsReq:
		*dst = msg.(GetURLsReq)
	}
	return nil
}

func (f *fakeStream) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m := v.(type) {
	case *PutAck:
		f.out = append(f.out, *m)
	case *GetURLsBatch:
		f.out = append(f.out, *m)
	case *QueueStatsWire:
		f.out = append(f.out, *m)
	}
	return nil
}

func (f *fakeStream) Close() error             { return nil }
func (f *fakeStream) Context() context.Context { return context.Background() }
func (f *fakeStream) Request() server.Request  { return nil }
func (f *fakeStream) Response() server.Response {
	return nil
}
func (f *fakeStream) Error() error { return nil }

func newEngine() *frontier.Engine {
	st := memstore.New()
	dir := directory.New()
	logger := zap.NewNop()
	ing := ingest.New(st, dir, ingest.Config{}, logger)
	sched := scheduler.New(st, dir, scheduler.Config{}, logger)
	ctrl := control.New(st, dir, logger)
	return &frontier.Engine{Store: st, Dir: dir, Ingest: ing, Sched: sched, Control: ctrl}
}

func TestPutURLs_SendsOneAckPerItem(t *testing.T) {
	engine := newEngine()
	svc := NewService(engine, nil)

	stream := &fakeStream{in: []interface{}{
		PutURLItem{ID: "1", Kind: "DISCOVERED", URL: "https://a.com/x", CrawlID: "c1"},
		PutURLItem{ID: "2", Kind: "DISCOVERED", URL: "https://a.com/x", CrawlID: "c1"},
	}}

	err := svc.PutURLs(context.Background(), stream)
	require.NoError(t, err)
	require.Len(t, stream.out, 2)

	seen := map[string]string{}
	for _, m := range stream.out {
		ack := m.(PutAck)
		seen[ack.ID] = ack.Status
	}
	assert.Equal(t, "OK", seen["1"])
	assert.Equal(t, "SKIPPED", seen["2"])
}

func TestPutURLs_GeneratesIDWhenOmitted(t *testing.T) {
	engine := newEngine()
	svc := NewService(engine, nil)

	stream := &fakeStream{in: []interface{}{
		PutURLItem{Kind: "DISCOVERED", URL: "https://a.com/x", CrawlID: "c1"},
	}}

	err := svc.PutURLs(context.Background(), stream)
	require.NoError(t, err)
	require.Len(t, stream.out, 1)
	assert.NotEmpty(t, stream.out[0].(PutAck).ID)
}

func TestGetURLs_ReturnsBatchPerRequest(t *testing.T) {
	engine := newEngine()
	svc := NewService(engine, nil)

	putStream := &fakeStream{in: []interface{}{
		PutURLItem{ID: "1", Kind: "DISCOVERED", URL: "https://a.com/x", CrawlID: "c1"},
	}}
	require.NoError(t, svc.PutURLs(context.Background(), putStream))

	getStream := &fakeStream{in: []interface{}{
		GetURLsReq{MaxURLs: 10, MaxQueues: 10, CrawlID: "c1"},
	}}
	err := svc.GetURLs(context.Background(), getStream)
	require.NoError(t, err)
	require.Len(t, getStream.out, 1)

	batch := getStream.out[0].(GetURLsBatch)
	require.Len(t, batch.URLs, 1)
	assert.Equal(t, "https://a.com/x", batch.URLs[0].URL)
}

func TestListCrawls_ReflectsRegisteredCrawls(t *testing.T) {
	engine := newEngine()
	svc := NewService(engine, nil)

	putStream := &fakeStream{in: []interface{}{
		PutURLItem{ID: "1", Kind: "DISCOVERED", URL: "https://a.com/x", CrawlID: "c1"},
	}}
	require.NoError(t, svc.PutURLs(context.Background(), putStream))

	var rsp ListCrawlsResponse
	require.NoError(t, svc.ListCrawls(context.Background(), &ListCrawlsRequest{}, &rsp))
	assert.Equal(t, []string{"c1"}, rsp.CrawlIDs)
}

func TestListNodes_StandaloneReturnsEmpty(t *testing.T) {
	engine := newEngine()
	svc := NewService(engine, nil)

	var rsp ListNodesResponse
	require.NoError(t, svc.ListNodes(context.Background(), &ListNodesRequest{}, &rsp))
	assert.Empty(t, rsp.Nodes)
}

func TestListNodes_SingleNodeWithoutMembers(t *testing.T) {
	engine := newEngine()
	node, err := coordination.New("127.0.0.1:8081")
	require.NoError(t, err)
	engine.Node = node
	svc := NewService(engine, nil)

	var rsp ListNodesResponse
	require.NoError(t, svc.ListNodes(context.Background(), &ListNodesRequest{}, &rsp))
	require.Len(t, rsp.Nodes, 1)
	assert.Equal(t, node.ID, rsp.Nodes[0].ID)
}
