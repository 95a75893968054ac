package track

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// TestComputeLevelsHandCraftedQueueTimeline checks a hand-crafted queue
// timeline: E1=[0,10], E2=[2,5], E3=[11,12], E4=[3,4], E5=[6,9] yields
// levels {E1:0, E2:1, E3:0, E4:2, E5:1}.
func TestComputeLevelsHandCraftedQueueTimeline(t *testing.T) {
	events := []LevelInput{
		{ID: 1, Start: 0, End: 10},  // E1
		{ID: 2, Start: 2, End: 5},   // E2
		{ID: 3, Start: 11, End: 12}, // E3
		{ID: 4, Start: 3, End: 4},   // E4
		{ID: 5, Start: 6, End: 9},   // E5
	}

	levels := ComputeLevels(events)

	require.Equal(t, map[tracemodel.EventID]int32{
		1: 0,
		2: 1,
		3: 0,
		4: 2,
		5: 1,
	}, levels)
}

func TestComputeLevelsEmptyInput(t *testing.T) {
	require.Empty(t, ComputeLevels(nil))
}

func TestComputeLevelsNonOverlappingReuseLevelZero(t *testing.T) {
	events := []LevelInput{
		{ID: 1, Start: 0, End: 5},
		{ID: 2, Start: 5, End: 10},
		{ID: 3, Start: 10, End: 15},
	}
	levels := ComputeLevels(events)
	for id, lvl := range levels {
		require.Equalf(t, int32(0), lvl, "event %d expected level 0", id)
	}
}

func TestEventLevelsTableNameIncludesVersion(t *testing.T) {
	require.Equal(t, "event_levels_region_v1", EventLevelsTableName("region"))
}
