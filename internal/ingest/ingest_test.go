package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaketai/urlfrontier/internal/directory"
	"github.com/awaketai/urlfrontier/internal/store/memstore"
	"github.com/awaketai/urlfrontier/internal/types"
)

func newPipeline() *Pipeline {
	return New(memstore.New(), directory.New(), Config{DefaultMinDelay: time.Second}, nil)
}

func TestIngest_DiscoveredNewIsOK(t *testing.T) {
	p := newPipeline()
	ack := p.Ingest(context.Background(), types.URLItem{
		ID:   "1",
		Kind: types.Discovered,
		Info: types.URLInfo{URL: "https://example.com/a", CrawlID: "c1"},
	})
	assert.Equal(t, types.OK, ack.Status)
	assert.Equal(t, "1", ack.ID)
}

func TestIngest_DiscoveredDuplicateIsSkipped(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()
	item := types.URLItem{ID: "1", Kind: types.Discovered, Info: types.URLInfo{URL: "https://example.com/a", CrawlID: "c1"}}

	first := p.Ingest(ctx, item)
	require.Equal(t, types.OK, first.Status)

	require.NoError(t, p.store.MarkCompleted(ctx, "c1", "example.com", "https://example.com/a"))

	second := p.Ingest(ctx, item)
	assert.Equal(t, types.Skipped, second.Status)
}

// TestIngest_RepeatedDiscoveredWhileStillScheduledIsSkipped is scenario
// S1: three Discovered items for the same URL, back to back, with no
// completion in between. The second and third must not touch the
// already-scheduled entry.
func TestIngest_RepeatedDiscoveredWhileStillScheduledIsSkipped(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()
	item := types.URLItem{ID: "1", Kind: types.Discovered, Info: types.URLInfo{URL: "https://example.com/a", CrawlID: "c1"}}

	first := p.Ingest(ctx, item)
	second := p.Ingest(ctx, item)
	third := p.Ingest(ctx, item)

	assert.Equal(t, types.OK, first.Status)
	assert.Equal(t, types.Skipped, second.Status)
	assert.Equal(t, types.Skipped, third.Status)

	due, err := p.store.FetchDue(ctx, "c1", "example.com", time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestIngest_KnownNotYetKnownSchedulesAtProvidedTime(t *testing.T) {
	p := newPipeline()
	future := time.Now().Add(time.Hour)
	ack := p.Ingest(context.Background(), types.URLItem{
		ID:              "1",
		Kind:            types.Known,
		Info:            types.URLInfo{URL: "https://example.com/a", CrawlID: "c1"},
		RefetchableFrom: future,
	})
	assert.Equal(t, types.OK, ack.Status)

	due, err := p.store.FetchDue(context.Background(), "c1", "example.com", time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "not due until the provided time")

	due, err = p.store.FetchDue(context.Background(), "c1", "example.com", future.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestIngest_EmptyURLFails(t *testing.T) {
	p := newPipeline()
	ack := p.Ingest(context.Background(), types.URLItem{ID: "1", Info: types.URLInfo{CrawlID: "c1"}})
	assert.Equal(t, types.Fail, ack.Status)
	assert.ErrorIs(t, ack.Err, ErrEmptyURL)
}

func TestIngest_EmptyCrawlIDFails(t *testing.T) {
	p := newPipeline()
	ack := p.Ingest(context.Background(), types.URLItem{ID: "1", Info: types.URLInfo{URL: "https://example.com/a"}})
	assert.Equal(t, types.Fail, ack.Status)
	assert.ErrorIs(t, ack.Err, ErrEmptyCrawlID)
}

func TestIngest_MetadataMergeOnReplace(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	_, err := p.store.PutScheduled(ctx, "c1", "example.com", "https://example.com/a", types.Discovered, future, types.Metadata{"a": {"1"}}, 0)
	require.NoError(t, err)

	ack := p.Ingest(ctx, types.URLItem{
		ID:              "2",
		Kind:            types.Known,
		Info:            types.URLInfo{URL: "https://example.com/a", CrawlID: "c1", Metadata: types.Metadata{"b": {"2"}}},
		RefetchableFrom: future.Add(time.Minute),
	})
	require.Equal(t, types.OK, ack.Status)

	due, err := p.store.FetchDue(ctx, "c1", "example.com", future.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, []string{"1"}, due[0].Metadata["a"])
	assert.Equal(t, []string{"2"}, due[0].Metadata["b"])
}

func TestRunStream_PreservesOneToOneCorrespondence(t *testing.T) {
	p := newPipeline()
	items := make(chan types.URLItem, 50)
	acks := make(chan types.AckMessage, 50)

	for i := 0; i < 20; i++ {
		items <- types.URLItem{
			ID:   string(rune('a' + i)),
			Kind: types.Discovered,
			Info: types.URLInfo{URL: "https://example.com/" + string(rune('a'+i)), CrawlID: "c1"},
		}
	}
	close(items)

	err := p.RunStream(context.Background(), items, acks)
	require.NoError(t, err)

	seen := map[string]bool{}
	for ack := range acks {
		assert.Equal(t, types.OK, ack.Status)
		seen[ack.ID] = true
	}
	assert.Len(t, seen, 20)
}

func TestRunStream_StopsOnContextCancel(t *testing.T) {
	p := newPipeline()
	ctx, cancel := context.WithCancel(context.Background())
	items := make(chan types.URLItem)
	acks := make(chan types.AckMessage)

	done := make(chan error, 1)
	go func() { done <- p.RunStream(ctx, items, acks) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunStream did not stop after cancel")
	}
}
