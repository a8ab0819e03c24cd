package frontier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaketai/urlfrontier/internal/store/memstore"
	"github.com/awaketai/urlfrontier/internal/types"
)

func newTestEngine(minDelay time.Duration) *Engine {
	e, err := New(context.Background(), memstore.New(), nil, Config{
		DefaultMinDelay:     minDelay,
		DefaultMaxQueueSize: 0,
		DefaultMaxURLs:      100,
		DefaultMaxQueues:    10,
		FetchDeadline:       time.Second,
	}, nil)
	if err != nil {
		panic(err)
	}
	return e
}

func discover(t *testing.T, e *Engine, id, crawlID, url string) types.AckMessage {
	t.Helper()
	return e.Ingest.Ingest(context.Background(), types.URLItem{
		ID:   id,
		Kind: types.Discovered,
		Info: types.URLInfo{URL: url, CrawlID: crawlID},
	})
}

// S1 — dedup.
func TestS1_DedupOnRepeatedDiscovered(t *testing.T) {
	e := newTestEngine(0)

	a1 := discover(t, e, "1", "default", "http://a.com/x")
	a2 := discover(t, e, "2", "default", "http://a.com/x")
	a3 := discover(t, e, "3", "default", "http://a.com/x")

	assert.Equal(t, types.OK, a1.Status)
	assert.Equal(t, types.Skipped, a2.Status)
	assert.Equal(t, types.Skipped, a3.Status)

	urls, err := e.Sched.GetURLs(context.Background(), types.GetURLsRequest{MaxURLs: 10})
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, "http://a.com/x", urls[0].URL)
}

// S2 — politeness.
func TestS2_PolitenessGatesSecondFetch(t *testing.T) {
	e := newTestEngine(time.Second)

	for i := 0; i < 5; i++ {
		ack := discover(t, e, string(rune('a'+i)), "default", "http://b.com/"+string(rune('a'+i)))
		require.Equal(t, types.OK, ack.Status)
	}

	first, err := e.Sched.GetURLs(context.Background(), types.GetURLsRequest{MaxURLs: 5, MaxQueues: 1})
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := e.Sched.GetURLs(context.Background(), types.GetURLsRequest{MaxURLs: 5, MaxQueues: 1})
	require.NoError(t, err)
	assert.Empty(t, second)
}

// S3 — fairness.
func TestS3_FairnessAcrossFiveHosts(t *testing.T) {
	e := newTestEngine(0)

	hosts := []string{"h1.com", "h2.com", "h3.com", "h4.com", "h5.com"}
	id := 0
	for _, h := range hosts {
		for i := 0; i < 2; i++ {
			id++
			ack := discover(t, e, string(rune('a'+id)), "default", "http://"+h+"/"+string(rune('a'+i)))
			require.Equal(t, types.OK, ack.Status)
		}
	}

	first, err := e.Sched.GetURLs(context.Background(), types.GetURLsRequest{MaxURLs: 5, MaxQueues: 5})
	require.NoError(t, err)
	require.Len(t, first, 5)

	seen := map[string]int{}
	for _, u := range first {
		seen[u.Key]++
	}
	assert.Len(t, seen, 5)
	for _, count := range seen {
		assert.Equal(t, 1, count)
	}
}

// S4 — re-service after an in-flight window elapses without an ack.
func TestS4_ReServiceAfterInFlightWindowElapses(t *testing.T) {
	e, err := New(context.Background(), memstore.New(), nil, Config{
		DefaultMaxURLs:          10,
		DefaultMaxQueues:        10,
		DefaultDelayRequestable: 30 * time.Second,
		FetchDeadline:           time.Second,
	}, nil)
	require.NoError(t, err)

	ack := discover(t, e, "1", "default", "http://c.com/y")
	require.Equal(t, types.OK, ack.Status)

	first, err := e.Sched.GetURLs(context.Background(), types.GetURLsRequest{MaxURLs: 1})
	require.NoError(t, err)
	require.Len(t, first, 1)

	due, err := e.Store.FetchDue(context.Background(), "default", first[0].Key, time.Now().Add(31*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "http://c.com/y", due[0].URL)
}

// S5 — known replay respects a future refetchable_from.
func TestS5_KnownReplayHonorsRefetchableFrom(t *testing.T) {
	e := newTestEngine(0)

	future := time.Now().Add(time.Hour)
	ack := e.Ingest.Ingest(context.Background(), types.URLItem{
		ID:              "1",
		Kind:            types.Known,
		Info:            types.URLInfo{URL: "http://d.com/z", CrawlID: "default"},
		RefetchableFrom: future,
	})
	require.Equal(t, types.OK, ack.Status)

	now, err := e.Sched.GetURLs(context.Background(), types.GetURLsRequest{MaxURLs: 10})
	require.NoError(t, err)
	assert.Empty(t, now)

	key, err := e.Control.ListQueues(context.Background(), "default", true)
	require.NoError(t, err)
	require.Len(t, key, 1)

	due, err := e.Store.FetchDue(context.Background(), "default", key[0].Key, future.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "http://d.com/z", due[0].URL)
}

// S6 — crawl isolation.
func TestS6_CrawlIsolationOnDelete(t *testing.T) {
	e := newTestEngine(0)

	ackA := discover(t, e, "1", "A", "http://e.com")
	ackB := discover(t, e, "2", "B", "http://e.com")
	require.Equal(t, types.OK, ackA.Status)
	require.Equal(t, types.OK, ackB.Status)

	removed, err := e.Control.DeleteCrawl(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	crawls := e.Control.ListCrawls()
	assert.Equal(t, []string{"B"}, crawls)
}

// Property 7 — restart recovery: a fresh Engine built over a store that
// already has scheduled state (simulating a process restart against a
// durable backend) must rebuild the directory so ListQueues/GetStats
// see the same queues without waiting for re-ingestion.
func TestRestartRecovery_DirectoryRebuiltFromStore(t *testing.T) {
	st := memstore.New()
	first, err := New(context.Background(), st, nil, Config{DefaultMaxURLs: 10, DefaultMaxQueues: 10, FetchDeadline: time.Second}, nil)
	require.NoError(t, err)

	ackA := discover(t, first, "1", "default", "http://g.com/1")
	ackB := discover(t, first, "2", "default", "http://h.com/1")
	require.Equal(t, types.OK, ackA.Status)
	require.Equal(t, types.OK, ackB.Status)

	restarted, err := New(context.Background(), st, nil, Config{DefaultMaxURLs: 10, DefaultMaxQueues: 10, FetchDeadline: time.Second}, nil)
	require.NoError(t, err)

	queues, err := restarted.Control.ListQueues(context.Background(), "default", true)
	require.NoError(t, err)
	require.Len(t, queues, 2)
	for _, q := range queues {
		assert.Equal(t, 1, q.ActiveCount)
	}

	stats, err := restarted.Control.GetStats(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queues)

	urls, err := restarted.Sched.GetURLs(context.Background(), types.GetURLsRequest{MaxURLs: 10})
	require.NoError(t, err)
	assert.Len(t, urls, 2, "the scheduler must serve queues recovered on restart without a re-ingest")
}

// Property 6 — ack correspondence.
func TestAckCorrespondence_OneAckPerItem(t *testing.T) {
	e := newTestEngine(0)

	items := make(chan types.URLItem, 5)
	acks := make(chan types.AckMessage, 5)
	for i := 0; i < 5; i++ {
		items <- types.URLItem{ID: string(rune('a' + i)), Kind: types.Discovered, Info: types.URLInfo{URL: "http://f.com/" + string(rune('a'+i)), CrawlID: "default"}}
	}
	close(items)

	require.NoError(t, e.Ingest.RunStream(context.Background(), items, acks))

	count := 0
	for range acks {
		count++
	}
	assert.Equal(t, 5, count)
}
