package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscan-clone/traceviewer-engine/internal/engine"
	"github.com/flowscan-clone/traceviewer-engine/internal/sidechannel"
	"github.com/flowscan-clone/traceviewer-engine/internal/track"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

func newTestTrace(t *testing.T) *Trace {
	t.Helper()
	eng := engine.New(engine.Config{})
	tr := New(eng)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func addTrack(t *testing.T, tr *Trace, minTs, maxTs int64) *track.Track {
	t.Helper()
	id := tr.newTrackID()
	trk := track.New(id, tracemodel.CategoryRegion, track.Identity{}, 0, "track", track.Properties{MinTs: minTs, MaxTs: maxTs, MaxLevel: 0})
	g := track.NewGraph(trackKey(id), trk, tr.pools, tr.mgr, 1000, 60_000_000_000, minTs, maxTs)
	trk.AddGraph("default", g)
	tr.registerTrack(trk)
	return trk
}

func TestRegisterTrackGrowsTimelineAndPreservesOrder(t *testing.T) {
	tr := newTestTrace(t)
	a := addTrack(t, tr, 100, 500)
	b := addTrack(t, tr, 50, 300)

	tl := tr.Timeline()
	assert.Equal(t, int64(50), tl.MinTs)
	assert.Equal(t, int64(500), tl.MaxTs)

	got := tr.Tracks()
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, b.ID, got[1].ID)
}

func TestDeleteAllSlicesClearsResidentSegments(t *testing.T) {
	tr := newTestTrace(t)
	trk := addTrack(t, tr, 0, 10_000)
	g, _ := trk.Graph("default")
	raw := g.RawTimeline()

	seg := raw.Insert(0)
	seg.InsertEvent(0, tracemodel.Event{ID: 1, StartTs: 0, EndTs: 100})
	raw.MarkProcessed(0)

	_, ok := raw.Get(0)
	require.True(t, ok)

	tr.DeleteAllSlices(trk.ID)

	_, ok = raw.Get(0)
	assert.False(t, ok)
}

func TestDeleteTimeSliceOnlyTouchesOverlappingSegments(t *testing.T) {
	tr := newTestTrace(t)
	trk := addTrack(t, tr, 0, 10_000)
	g, _ := trk.Graph("default")
	raw := g.RawTimeline()

	seg0 := raw.Insert(0)
	seg0.InsertEvent(0, tracemodel.Event{ID: 1, StartTs: 0, EndTs: 100})
	raw.MarkProcessed(0)

	idx1 := raw.IndexAt(5000)
	seg1 := raw.Insert(idx1)
	seg1.InsertEvent(0, tracemodel.Event{ID: 2, StartTs: 5000, EndTs: 5100})
	raw.MarkProcessed(idx1)

	tr.DeleteTimeSlice(trk.ID, 0, 1)

	_, ok := raw.Get(0)
	assert.False(t, ok)
	_, ok = raw.Get(idx1)
	assert.True(t, ok)
}

func TestDeleteEventPropertyDelegatesToSidechannel(t *testing.T) {
	tr := newTestTrace(t)
	tr.Sidechannel().RegisterStack(7, []tracemodel.StackFrame{{SymbolID: 1}})

	tr.DeleteEventProperty(sidechannel.KindStack, 7)

	assert.Empty(t, tr.Sidechannel().Stack(7))
}

func TestMetadataLoadedStartsFalse(t *testing.T) {
	tr := newTestTrace(t)
	assert.False(t, tr.MetadataLoaded())
}
