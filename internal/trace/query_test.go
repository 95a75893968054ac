package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowscan-clone/traceviewer-engine/internal/packedtable"
	"github.com/flowscan-clone/traceviewer-engine/internal/querybuilder"
)

func TestBuildTableQueryRendersSortAndLimit(t *testing.T) {
	sql := BuildTableQuery(TableQuerySpec{
		Table:     "kernel_dispatch",
		Columns:   []querybuilder.SchemaIndex{querybuilder.ColEventID, querybuilder.ColDuration},
		SortCol:   "duration",
		Ascending: false,
		Max:       10,
	})
	assert.Contains(t, sql, "SELECT id, duration FROM kernel_dispatch")
	assert.Contains(t, sql, "ORDER BY duration DESC")
	assert.Contains(t, sql, "LIMIT 10")
}

func TestQueryCacheKeyStableForIdenticalSpecs(t *testing.T) {
	specs := []TableQuerySpec{{Op: packedtable.Op(1), Table: "t", SortCol: "duration", Ascending: true, Max: 5}}
	assert.Equal(t, queryCacheKey(specs), queryCacheKey(specs))

	other := []TableQuerySpec{{Op: packedtable.Op(1), Table: "t", SortCol: "duration", Ascending: true, Max: 6}}
	assert.NotEqual(t, queryCacheKey(specs), queryCacheKey(other))
}
