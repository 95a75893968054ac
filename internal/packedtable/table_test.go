package packedtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscan-clone/traceviewer-engine/internal/querybuilder"
)

func schemaFor(cols ...querybuilder.SchemaIndex) OpSchema { return OpSchema(cols) }

func TestSortByIDStableAndDedupsAdjacent(t *testing.T) {
	tbl := NewTable(map[Op]OpSchema{0: schemaFor(querybuilder.ColEventID)})
	for _, id := range []uint64{5, 2, 2, 1} {
		_, err := tbl.NewRow(0, map[querybuilder.SchemaIndex]any{querybuilder.ColEventID: id})
		require.NoError(t, err)
	}
	tbl.SortByID()
	tbl.RemoveDuplicates()
	require.Len(t, tbl.Rows, 3)
	var ids []uint64
	for _, r := range tbl.Rows {
		v, _ := tbl.Get(r, querybuilder.ColEventID)
		ids = append(ids, v)
	}
	assert.Equal(t, []uint64{1, 2, 5}, ids)
}

func TestRemoveRowsForTracks(t *testing.T) {
	tbl := NewTable(map[Op]OpSchema{0: schemaFor(querybuilder.ColEventID, querybuilder.ColTrackID)})
	for _, tc := range []struct{ id, track uint64 }{{1, 10}, {2, 20}, {3, 10}} {
		_, err := tbl.NewRow(0, map[querybuilder.SchemaIndex]any{
			querybuilder.ColEventID: tc.id,
			querybuilder.ColTrackID: tc.track,
		})
		require.NoError(t, err)
	}
	tbl.RemoveRowsForTracks(map[uint64]bool{10: true}, false)
	require.Len(t, tbl.Rows, 1)
	id, _ := tbl.Get(tbl.Rows[0], querybuilder.ColEventID)
	assert.Equal(t, uint64(2), id)
}

func TestMergeUnionsRowsAndDedupsWhenOpAboveZero(t *testing.T) {
	a := NewTable(map[Op]OpSchema{0: schemaFor(querybuilder.ColEventID)})
	_, err := a.NewRow(0, map[querybuilder.SchemaIndex]any{querybuilder.ColEventID: uint64(1)})
	require.NoError(t, err)

	b := NewTable(map[Op]OpSchema{1: schemaFor(querybuilder.ColEventID, querybuilder.ColDuration)})
	_, err = b.NewRow(1, map[querybuilder.SchemaIndex]any{querybuilder.ColEventID: uint64(1), querybuilder.ColDuration: uint64(9)})
	require.NoError(t, err)
	_, err = b.NewRow(1, map[querybuilder.SchemaIndex]any{querybuilder.ColEventID: uint64(2), querybuilder.ColDuration: uint64(5)})
	require.NoError(t, err)

	merged, err := Merge(a, b)
	require.NoError(t, err)
	// op 0 (id=1) and op 1 (id=1) are adjacent after SortByID and dedup
	// leaves one of them plus the distinct id=2 row.
	assert.Len(t, merged.Rows, 2)
}

func TestFloatCellRoundTrips(t *testing.T) {
	tbl := NewTable(map[Op]OpSchema{0: schemaFor(querybuilder.ColCounterValue)})
	_, err := tbl.NewRow(0, map[querybuilder.SchemaIndex]any{querybuilder.ColCounterValue: 3.5})
	require.NoError(t, err)
	v, ok := tbl.GetFloat(tbl.Rows[0], querybuilder.ColCounterValue)
	require.True(t, ok)
	assert.Equal(t, 3.5, v)
}
