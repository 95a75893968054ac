package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscan-clone/traceviewer-engine/internal/segment"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

func TestGenerateEventLODMergesSameWindowSameLevel(t *testing.T) {
	raw := []segment.Result{
		{Kind: segment.KindEvent, Handle: tracemodel.EventHandle(&tracemodel.Event{ID: 1, StartTs: 0, EndTs: 5, NameID: 10})},
		{Kind: segment.KindEvent, Handle: tracemodel.EventHandle(&tracemodel.Event{ID: 2, StartTs: 6, EndTs: 9, NameID: 10})},
		{Kind: segment.KindEvent, Handle: tracemodel.EventHandle(&tracemodel.Event{ID: 3, StartTs: 50, EndTs: 55, NameID: 20})},
	}

	out := generateEventLOD(0, 100, 20, raw)
	require.Len(t, out, 2, "events in different windows must emit separate combined entries")

	first := out[0]
	assert.Equal(t, int64(0), first.StartTs)
	assert.Equal(t, int64(9), first.EndTs)
	require.Len(t, first.CombinedNames, 1)
	assert.Equal(t, uint64(2), first.CombinedNames[0].Count)
}

func TestGenerateEventLODSplitsOnLevelChange(t *testing.T) {
	raw := []segment.Result{
		{Kind: segment.KindEvent, Handle: tracemodel.EventHandle(&tracemodel.Event{ID: 1, StartTs: 0, EndTs: 5, Level: 0})},
		{Kind: segment.KindEvent, Handle: tracemodel.EventHandle(&tracemodel.Event{ID: 2, StartTs: 1, EndTs: 3, Level: 1})},
	}
	out := generateEventLOD(0, 100, 20, raw)
	assert.Len(t, out, 2, "events at different nesting levels in the same window must not merge")
}

func TestGenerateSampleLODComputesStats(t *testing.T) {
	raw := []segment.Result{
		{Kind: segment.KindSample, Handle: tracemodel.SampleHandle(&tracemodel.Sample{ID: 1, Ts: 0, NextTs: 10, Value: 1})},
		{Kind: segment.KindSample, Handle: tracemodel.SampleHandle(&tracemodel.Sample{ID: 2, Ts: 10, NextTs: 20, Value: 5})},
		{Kind: segment.KindSample, Handle: tracemodel.SampleHandle(&tracemodel.Sample{ID: 3, Ts: 20, NextTs: 30, Value: 3})},
	}
	out := generateSampleLOD(0, 100, 100, raw)
	require.Len(t, out, 1)
	s := out[0]
	assert.Equal(t, 3, s.NumChild)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 5.0, s.Max)
	assert.InDelta(t, 3.0, s.Mean, 1e-9)
	assert.Equal(t, int64(30), s.EndTs)
}
