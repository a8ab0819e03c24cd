package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaketai/urlfrontier/internal/types"
)

func ref(crawlID, key string) types.QueueRef {
	return types.QueueRef{CrawlID: crawlID, Key: key}
}

func TestRegisterIsIdempotent(t *testing.T) {
	d := New()
	d.Register(ref("c1", "a.com"), time.Second, 0)
	d.Register(ref("c1", "a.com"), time.Minute, 0)

	meta, ok := d.Get(ref("c1", "a.com"))
	require.True(t, ok)
	assert.Equal(t, time.Second, meta.MinDelay, "second register must not overwrite existing queue")
}

func TestNextCandidates_ExcludesPausedAndNotYetEligible(t *testing.T) {
	d := New()
	now := time.Now()
	d.Register(ref("c1", "active.com"), time.Second, 0)
	d.Register(ref("c1", "paused.com"), time.Second, 0)
	d.Register(ref("c1", "cooling.com"), time.Second, 0)

	d.SetStatus(ref("c1", "paused.com"), types.Paused)
	d.MarkServed(ref("c1", "cooling.com"), now) // sets next_eligible_at = now + 1s

	got := d.NextCandidates(now, "", "", 10)
	assert.ElementsMatch(t, []types.QueueRef{ref("c1", "active.com")}, got)
}

func TestNextCandidates_FairnessAdvancesAndWrapsAround(t *testing.T) {
	d := New()
	now := time.Now()
	a, b, c := ref("c1", "a.com"), ref("c1", "b.com"), ref("c1", "c.com")
	d.Register(a, 0, 0)
	d.Register(b, 0, 0)
	d.Register(c, 0, 0)

	first := d.NextCandidates(now, "", "", 1)
	require.Len(t, first, 1)
	second := d.NextCandidates(now, "", "", 1)
	require.Len(t, second, 1)
	third := d.NextCandidates(now, "", "", 1)
	require.Len(t, third, 1)

	assert.ElementsMatch(t, []types.QueueRef{a, b, c}, []types.QueueRef{first[0], second[0], third[0]},
		"a full sweep must visit every queue exactly once before repeating")

	fourth := d.NextCandidates(now, "", "", 1)
	require.Len(t, fourth, 1)
	assert.Equal(t, first[0], fourth[0], "cursor wraps back to the start")
}

func TestBlockUntil_LazilyReturnsToActive(t *testing.T) {
	d := New()
	now := time.Now()
	q := ref("c1", "a.com")
	d.Register(q, 0, 0)

	d.BlockUntil(q, now.Add(time.Minute))
	assert.Empty(t, d.NextCandidates(now, "", "", 10))

	later := now.Add(2 * time.Minute)
	got := d.NextCandidates(later, "", "", 10)
	assert.Equal(t, []types.QueueRef{q}, got)

	meta, _ := d.Get(q)
	assert.Equal(t, types.Active, meta.Status)
}

func TestUnregisterCrawlRemovesAllItsQueues(t *testing.T) {
	d := New()
	d.Register(ref("c1", "a.com"), 0, 0)
	d.Register(ref("c1", "b.com"), 0, 0)
	d.Register(ref("c2", "a.com"), 0, 0)

	removed := d.UnregisterCrawl("c1")
	assert.Len(t, removed, 2)
	assert.Len(t, d.List(""), 1)
	assert.Len(t, d.List("c2"), 1)
}

func TestMarkServedResetsDeferCounter(t *testing.T) {
	d := New()
	q := ref("c1", "a.com")
	d.Register(q, time.Second, 0)

	d.RecordDefer(q)
	d.RecordDefer(q)
	meta, _ := d.Get(q)
	assert.Equal(t, 2, meta.ConsecutiveDefers)

	d.MarkServed(q, time.Now())
	meta, _ = d.Get(q)
	assert.Equal(t, 0, meta.ConsecutiveDefers)
}
