package querybuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilderBuildsSimpleSelect(t *testing.T) {
	q := New(QueryKindTrack, "processes").
		Select(ColumnExpr{Expr: "process_id"}, ColumnExpr{Expr: "name_id"}).
		Where("load_id = 1").
		Build()
	assert.Equal(t, "SELECT process_id, name_id FROM processes WHERE load_id = 1", q)
}

func TestBuilderJoinsAndOrdering(t *testing.T) {
	q := New(QueryKindSlice, "events e").
		Select(ColumnExpr{Expr: "e.id"}).
		Join("JOIN", "names n", "n.id = e.name_id").
		Where("e.start >= 0").
		OrderBy("e.start", true).
		Limit(100).
		Build()
	assert.Equal(t, "SELECT e.id FROM events e JOIN names n ON n.id = e.name_id WHERE e.start >= 0 ORDER BY e.start ASC LIMIT 100", q)
}

func TestBuilderUnion(t *testing.T) {
	left := New(QueryKindTable, "a").Select(ColumnExpr{Expr: "x"})
	right := New(QueryKindTable, "b").Select(ColumnExpr{Expr: "x"})
	left.Union(right)
	assert.Equal(t, "SELECT x FROM a UNION ALL SELECT x FROM b", left.Build())
}

func TestTrackQueryGroupsByIdentity(t *testing.T) {
	q := TrackQuery("threads", []string{"process_id", "thread_id"}).Build()
	assert.Contains(t, q, "GROUP BY process_id, thread_id")
}

func TestSliceQueryBoundsByLoadAndRange(t *testing.T) {
	q := SliceQuery("events", 10, 20, 7, []SchemaIndex{ColEventID, ColStart, ColEnd}).Build()
	assert.Contains(t, q, "start >= 10")
	assert.Contains(t, q, "end < 20")
	assert.Contains(t, q, "load_id = 7")
}

func TestTableQueryAppliesPagination(t *testing.T) {
	q := TableQuery("events", []SchemaIndex{ColEventID, ColDuration}, []string{"category = 1"}, nil, "duration", false, 50, 100).Build()
	assert.Contains(t, q, "ORDER BY duration DESC")
	assert.Contains(t, q, "LIMIT 50")
	assert.Contains(t, q, "OFFSET 100")
}

func TestColumnMasksClassifyServiceAndTimestamp(t *testing.T) {
	masks := ColumnMasks([]SchemaIndex{ColTrackID, ColStart, ColNameID})
	assert.Equal(t, []ColumnMask{MaskService, MaskTimestamp, MaskVisible}, masks)
}

func TestStorageTypeString(t *testing.T) {
	assert.Equal(t, "Qword", TypeQword.String())
	assert.Equal(t, "Double", TypeDouble.String())
}
