package packedtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscan-clone/traceviewer-engine/internal/interner"
	"github.com/flowscan-clone/traceviewer-engine/internal/querybuilder"
)

func buildKernelTable(t *testing.T, in *interner.Interner) (*Table, map[string]uint64) {
	t.Helper()
	schema := OpSchema{querybuilder.ColNameID, querybuilder.ColDuration}
	tbl := NewTable(map[Op]OpSchema{0: schema})

	names := map[string]uint64{
		"k": uint64(in.Intern("k")),
		"m": uint64(in.Intern("m")),
	}
	rows := []struct {
		name string
		dur  uint64
	}{
		{"k", 100}, {"k", 300}, {"m", 50},
	}
	for _, r := range rows {
		_, err := tbl.NewRow(0, map[querybuilder.SchemaIndex]any{
			querybuilder.ColNameID:   uint32(names[r.name]),
			querybuilder.ColDuration: r.dur,
		})
		require.NoError(t, err)
	}
	return tbl, names
}

// TestAggregationGroupCountSumAvgMinMax checks every combine rule over a
// small two-group input.
func TestAggregationGroupCountSumAvgMinMax(t *testing.T) {
	in := interner.New()
	tbl, names := buildKernelTable(t, in)

	agg, err := Setup(tbl, []Clause{
		{Command: CmdGroup, Column: querybuilder.ColNameID},
		{Command: CmdCount},
		{Command: CmdSum, Column: querybuilder.ColDuration},
		{Command: CmdAvg, Column: querybuilder.ColDuration},
		{Command: CmdMin, Column: querybuilder.ColDuration},
		{Command: CmdMax, Column: querybuilder.ColDuration},
	}, 2)
	require.NoError(t, err)

	for i, row := range tbl.Rows {
		agg.AggregateRow(row, i%2)
	}

	results := agg.Finalize(in)
	require.Len(t, results, 2)

	byName := map[uint64]AggResult{}
	for _, r := range results {
		byName[r.GroupValue] = r
	}

	k := byName[names["k"]]
	assert.EqualValues(t, 2, k.Count)
	assert.Equal(t, 400.0, k.Sum[querybuilder.ColDuration])
	assert.Equal(t, 200.0, k.Avg[querybuilder.ColDuration])
	assert.Equal(t, 100.0, k.Min[querybuilder.ColDuration])
	assert.Equal(t, 300.0, k.Max[querybuilder.ColDuration])

	m := byName[names["m"]]
	assert.EqualValues(t, 1, m.Count)
	assert.Equal(t, 50.0, m.Sum[querybuilder.ColDuration])
	assert.Equal(t, 50.0, m.Avg[querybuilder.ColDuration])
}

func TestSetupRequiresGroupClauseFirst(t *testing.T) {
	tbl := NewTable(map[Op]OpSchema{0: {querybuilder.ColNameID}})
	_, err := Setup(tbl, []Clause{{Command: CmdCount}}, 1)
	assert.Error(t, err)
}

// TestSortByColumnUsesInternerInsertionOrder verifies that ascending
// sort by a name column follows interner insertion order, not
// lexicographic order.
func TestSortByColumnUsesInternerInsertionOrder(t *testing.T) {
	in := interner.New()
	betaID := in.Intern("beta")
	alphaID := in.Intern("alpha")

	schema := OpSchema{querybuilder.ColNameID}
	tbl := NewTable(map[Op]OpSchema{0: schema})
	_, err := tbl.NewRow(0, map[querybuilder.SchemaIndex]any{querybuilder.ColNameID: uint32(alphaID)})
	require.NoError(t, err)
	_, err = tbl.NewRow(0, map[querybuilder.SchemaIndex]any{querybuilder.ColNameID: uint32(betaID)})
	require.NoError(t, err)

	require.NoError(t, tbl.SortByColumn(querybuilder.ColNameID, true, in))

	first, _ := tbl.Get(tbl.Rows[0], querybuilder.ColNameID)
	second, _ := tbl.Get(tbl.Rows[1], querybuilder.ColNameID)
	assert.Equal(t, uint64(betaID), first)
	assert.Equal(t, uint64(alphaID), second)
}

func TestSortAggregationByName(t *testing.T) {
	results := []AggResult{
		{GroupName: "zeta", Count: 1},
		{GroupName: "alpha", Count: 2},
	}
	SortAggregationBy(results, true, querybuilder.ColNameID, CmdCount, true)
	assert.Equal(t, "alpha", results[0].GroupName)
}
