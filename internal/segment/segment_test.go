package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscan-clone/traceviewer-engine/internal/engine"
	"github.com/flowscan-clone/traceviewer-engine/internal/memmanager"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

func newTestPools() *Pools {
	return NewPools(64, 48, 64)
}

func TestSegmentInsertAndFetchOverlap(t *testing.T) {
	pools := newTestPools()
	seg := New("t/seg0", 0, pools, 0, 1000)

	seg.InsertEvent(0, tracemodel.Event{ID: 1, StartTs: 10, EndTs: 50})
	seg.InsertEvent(0, tracemodel.Event{ID: 2, StartTs: 40, EndTs: 60})
	seg.InsertEvent(0, tracemodel.Event{ID: 3, StartTs: 900, EndTs: 950})

	var out []Result
	seg.Fetch(0, 0, 55, nil, &out)

	require.Len(t, out, 2)
	assert.Equal(t, tracemodel.EventID(1), out[0].Handle.Event.ID)
	assert.Equal(t, tracemodel.EventID(2), out[1].Handle.Event.ID)
}

func TestSegmentFetchDedupAcrossCalls(t *testing.T) {
	pools := newTestPools()
	seg := New("t/seg0", 0, pools, 0, 1000)
	seg.InsertEvent(0, tracemodel.Event{ID: 1, StartTs: 10, EndTs: 50})

	seen := make(map[tracemodel.EventID]bool)
	var out []Result
	seg.Fetch(0, 0, 100, seen, &out)
	seg.Fetch(0, 0, 100, seen, &out)

	assert.Len(t, out, 1, "second Fetch call must skip the already-seen id")
}

func TestSegmentClearReleasesPoolSlots(t *testing.T) {
	pools := newTestPools()
	seg := New("t/seg0", 0, pools, 0, 1000)
	seg.InsertEvent(0, tracemodel.Event{ID: 1, StartTs: 10, EndTs: 50})
	seg.InsertSample(0, tracemodel.Sample{ID: 1, Ts: 5, NextTs: 15, Value: 1.0})

	require.Equal(t, 1, pools.events.InUseSlots())
	require.Equal(t, 1, pools.samples.InUseSlots())

	seg.Clear()

	assert.Equal(t, 0, pools.events.InUseSlots())
	assert.Equal(t, 0, pools.samples.InUseSlots())
	assert.Equal(t, int64(0), seg.Bytes())
	assert.Equal(t, 0, seg.NumEntries())
}

func TestTimelineEvictionDropsSegmentAndClearsProcessedBit(t *testing.T) {
	eng := engine.New(engine.Config{MinBudgetBytes: 1})
	mgr := memmanager.New(eng)
	pools := newTestPools()
	tl := NewTimeline("trace0/track0", 0, 0, 100, 10, pools, mgr)

	seg := tl.Insert(2)
	seg.InsertEvent(0, tracemodel.Event{ID: 1, StartTs: 205, EndTs: 210})
	tl.MarkProcessed(2)

	require.True(t, tl.IsProcessed(2))
	_, ok := tl.Get(2)
	require.True(t, ok)

	seg.Evict()

	_, ok = tl.Get(2)
	assert.False(t, ok, "evicting the segment must drop it from the timeline's map")
	assert.False(t, tl.IsProcessed(2), "evicting the segment must clear its processed bit")
}

func TestTimelineFetchSegmentsOutOfRangeWhenUnprocessed(t *testing.T) {
	eng := engine.New(engine.Config{MinBudgetBytes: 1})
	mgr := memmanager.New(eng)
	pools := newTestPools()
	tl := NewTimeline("trace0/track0", 0, 0, 100, 10, pools, mgr)

	tl.Insert(0) // created but never MarkProcessed

	var out []Result
	err := tl.FetchSegments(0, 0, 50, nil, &out)
	require.Error(t, err)
	assert.Empty(t, out)
}

func TestTimelineFetchSegmentsAcrossBoundary(t *testing.T) {
	eng := engine.New(engine.Config{MinBudgetBytes: 1})
	mgr := memmanager.New(eng)
	pools := newTestPools()
	tl := NewTimeline("trace0/track0", 0, 0, 100, 10, pools, mgr)

	s0 := tl.Insert(0)
	s0.InsertEvent(0, tracemodel.Event{ID: 1, StartTs: 10, EndTs: 20})
	tl.MarkProcessed(0)

	s1 := tl.Insert(1)
	s1.InsertEvent(0, tracemodel.Event{ID: 2, StartTs: 110, EndTs: 120})
	tl.MarkProcessed(1)

	var out []Result
	err := tl.FetchSegments(0, 0, 200, nil, &out)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
