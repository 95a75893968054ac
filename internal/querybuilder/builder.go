package querybuilder

import (
	"fmt"
	"strings"
)

// QueryKind distinguishes the independently-schema'd query shapes. Each
// kind owns its own column list -- there is no shared polymorphic row
// shape across kinds.
type QueryKind int32

const (
	QueryKindTrack QueryKind = iota
	QueryKindLevel
	QueryKindSlice
	QueryKindTable
	QueryKindDataflow
	QueryKindEssentialData
)

// ColumnExpr is one SELECT list entry: either a bare column or an
// aliased expression (e.g. "end_ts - start_ts AS duration").
type ColumnExpr struct {
	Expr  string
	Alias string
}

func (c ColumnExpr) render() string {
	if c.Alias == "" {
		return c.Expr
	}
	return fmt.Sprintf("%s AS %s", c.Expr, c.Alias)
}

// Join is one JOIN clause fragment.
type Join struct {
	Kind string // "JOIN", "LEFT JOIN", ...
	Table string
	On    string
}

// Builder assembles one SQL string from ColumnExpr/From/Join/Where/Union
// fragments.
type Builder struct {
	kind    QueryKind
	columns []ColumnExpr
	from    string
	joins   []Join
	wheres  []string
	groupBy []string
	orderBy string
	limit   int
	offset  int
	unions  []*Builder
}

func New(kind QueryKind, from string) *Builder {
	return &Builder{kind: kind, from: from}
}

func (b *Builder) Select(cols ...ColumnExpr) *Builder {
	b.columns = append(b.columns, cols...)
	return b
}

func (b *Builder) Join(kind, table, on string) *Builder {
	b.joins = append(b.joins, Join{Kind: kind, Table: table, On: on})
	return b
}

func (b *Builder) Where(cond string) *Builder {
	if cond != "" {
		b.wheres = append(b.wheres, cond)
	}
	return b
}

func (b *Builder) GroupBy(cols ...string) *Builder {
	b.groupBy = append(b.groupBy, cols...)
	return b
}

func (b *Builder) OrderBy(col string, ascending bool) *Builder {
	dir := "ASC"
	if !ascending {
		dir = "DESC"
	}
	b.orderBy = fmt.Sprintf("%s %s", col, dir)
	return b
}

func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	return b
}

// Union appends other as a UNION ALL branch.
func (b *Builder) Union(other *Builder) *Builder {
	b.unions = append(b.unions, other)
	return b
}

// Kind returns the query kind this builder was constructed for.
func (b *Builder) Kind() QueryKind { return b.kind }

// Build renders the final SQL string.
func (b *Builder) Build() string {
	var sb strings.Builder

	cols := "*"
	if len(b.columns) > 0 {
		parts := make([]string, len(b.columns))
		for i, c := range b.columns {
			parts[i] = c.render()
		}
		cols = strings.Join(parts, ", ")
	}

	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, b.from)
	for _, j := range b.joins {
		fmt.Fprintf(&sb, " %s %s ON %s", j.Kind, j.Table, j.On)
	}
	if len(b.wheres) > 0 {
		fmt.Fprintf(&sb, " WHERE %s", strings.Join(b.wheres, " AND "))
	}
	if len(b.groupBy) > 0 {
		fmt.Fprintf(&sb, " GROUP BY %s", strings.Join(b.groupBy, ", "))
	}
	if b.orderBy != "" {
		fmt.Fprintf(&sb, " ORDER BY %s", b.orderBy)
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	if b.offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", b.offset)
	}

	out := sb.String()
	for _, u := range b.unions {
		out = fmt.Sprintf("%s UNION ALL %s", out, u.Build())
	}
	return out
}

// TrackQuery builds the "discover unique tuples" query for a category's
// track table.
func TrackQuery(table string, identityCols []string) *Builder {
	cols := make([]ColumnExpr, len(identityCols))
	for i, c := range identityCols {
		cols[i] = ColumnExpr{Expr: c}
	}
	return New(QueryKindTrack, table).Select(cols...).GroupBy(identityCols...)
}

// LevelQuery builds the per-track level-precomputation query bound by
// (start, end, load_id).
func LevelQuery(table string, start, end int64, loadID int64) *Builder {
	return New(QueryKindLevel, table).
		Select(ColumnExpr{Expr: columnName(ColEventID)}, ColumnExpr{Expr: columnName(ColStart)}, ColumnExpr{Expr: columnName(ColEnd)}).
		Where(fmt.Sprintf("%s >= %d", columnName(ColStart), start)).
		Where(fmt.Sprintf("%s < %d", columnName(ColStart), end)).
		Where(fmt.Sprintf("load_id = %d", loadID)).
		OrderBy(columnName(ColStart), true)
}

// SliceQuery builds the LOD-0 cache query for a loaded window.
func SliceQuery(table string, start, end int64, loadID int64, allColumns []SchemaIndex) *Builder {
	cols := make([]ColumnExpr, len(allColumns))
	for i, idx := range allColumns {
		cols[i] = ColumnExpr{Expr: columnName(idx)}
	}
	return New(QueryKindSlice, table).
		Select(cols...).
		Where(fmt.Sprintf("%s >= %d", columnName(ColStart), start)).
		Where(fmt.Sprintf("%s < %d", columnName(ColEnd), end)).
		Where(fmt.Sprintf("load_id = %d", loadID)).
		OrderBy(columnName(ColStart), true)
}

// TableQuery builds an ad-hoc tabular query: a filtered, optionally
// grouped/sorted/paginated projection over one operation table.
func TableQuery(table string, cols []SchemaIndex, where []string, groupCols []string, sortCol string, ascending bool, max, offset int) *Builder {
	exprs := make([]ColumnExpr, len(cols))
	for i, idx := range cols {
		exprs[i] = ColumnExpr{Expr: columnName(idx)}
	}
	b := New(QueryKindTable, table).Select(exprs...)
	for _, w := range where {
		b.Where(w)
	}
	if len(groupCols) > 0 {
		b.GroupBy(groupCols...)
	}
	if sortCol != "" {
		b.OrderBy(sortCol, ascending)
	}
	if max > 0 {
		b.Limit(max)
	}
	if offset > 0 {
		b.Offset(offset)
	}
	return b
}

// DataflowQuery builds the flow-record query for one event: every row of
// table whose source or target event is eventID, with no join.
func DataflowQuery(table string, eventID uint64) *Builder {
	return New(QueryKindDataflow, table).
		Where(fmt.Sprintf("source_event_id = %d OR target_event_id = %d", eventID, eventID))
}

// EssentialDataQuery builds a global histogram query: the event count
// (n) per millisecond bucket of start time (bucket_ms), in bucket order.
func EssentialDataQuery(table string) *Builder {
	return New(QueryKindEssentialData, table).
		Select(ColumnExpr{Expr: fmt.Sprintf("%s / 1000000", columnName(ColStart)), Alias: "bucket_ms"}, ColumnExpr{Expr: "COUNT(*)", Alias: "n"}).
		GroupBy("bucket_ms").
		OrderBy("bucket_ms", true)
}

// ColumnMasks returns the visibility class for each requested column, in
// the same order, so the adapter can hide service-only and timestamp
// columns from user-visible table results.
func ColumnMasks(cols []SchemaIndex) []ColumnMask {
	masks := make([]ColumnMask, len(cols))
	for i, idx := range cols {
		masks[i] = maskFor(idx)
	}
	return masks
}
