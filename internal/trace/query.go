package trace

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/flowscan-clone/traceviewer-engine/internal/interner"
	"github.com/flowscan-clone/traceviewer-engine/internal/jobs"
	"github.com/flowscan-clone/traceviewer-engine/internal/packedtable"
	"github.com/flowscan-clone/traceviewer-engine/internal/querybuilder"
	"github.com/flowscan-clone/traceviewer-engine/internal/storeadapter"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
)

// TableQuerySpec describes one op's worth of an ad-hoc table query;
// ExecuteQueryAsync packs the rows of every spec into one shared table.
type TableQuerySpec struct {
	Op        packedtable.Op
	Table     string
	Columns   []querybuilder.SchemaIndex
	Where     []string
	GroupBy   []string
	SortCol   string
	Ascending bool
	Max       int
	Offset    int
}

// BuildTableQuery renders spec's SQL via internal/querybuilder, for
// callers that want to inspect or log the statement before running it.
func BuildTableQuery(spec TableQuerySpec) string {
	return querybuilder.TableQuery(spec.Table, spec.Columns, spec.Where, spec.GroupBy, spec.SortCol, spec.Ascending, spec.Max, spec.Offset).Build()
}

// ExecuteQueryAsync runs each spec in specs against the backing store,
// packs every spec's rows into one packedtable.Table (sorted by id and
// de-duplicated when there is more than one spec), and caches it under a
// key built from every spec field, so repeated identical queries skip the
// round trip.
func (t *Trace) ExecuteQueryAsync(ctx context.Context, specs []TableQuerySpec, onProg jobs.ProgressFunc) (*jobs.Future, **packedtable.Table) {
	result := new(*packedtable.Table)
	fut := t.pool.Submit(ctx, t.nodeID, onProg, func(fut *jobs.Future) error {
		store, nodeID, err := t.storeOrErr()
		if err != nil {
			return err
		}

		key := queryCacheKey(specs)
		if cached, ok := t.cache.Get(key); ok {
			*result = cached
			fut.ReportProgress("", 100, "served from query cache")
			return nil
		}

		schemas := make(map[packedtable.Op]packedtable.OpSchema, len(specs))
		for _, spec := range specs {
			schemas[spec.Op] = packedtable.OpSchema(spec.Columns)
		}
		tbl := packedtable.NewTable(schemas)

		for i, spec := range specs {
			fut.ReportProgress("", 100*i/max(len(specs), 1), fmt.Sprintf("querying op %d", spec.Op))
			if err := t.runTableQuery(fut.Context(), store, nodeID, spec, tbl); err != nil {
				return err
			}
		}

		if len(specs) > 1 {
			tbl.SortByID()
			tbl.RemoveDuplicates()
		}

		t.cache.Put(key, tbl)
		*result = tbl
		return nil
	})
	return fut, result
}

func (t *Trace) runTableQuery(ctx context.Context, store *storeadapter.Store, nodeID string, spec TableQuerySpec, tbl *packedtable.Table) error {
	sql := querybuilder.TableQuery(spec.Table, spec.Columns, spec.Where, spec.GroupBy, spec.SortCol, spec.Ascending, spec.Max, spec.Offset).Build()
	return store.Execute(ctx, nodeID, sql, nil, func(_ []string, row []any) (storeadapter.Decision, error) {
		if len(row) != len(spec.Columns) {
			return storeadapter.Abort, traceerr.New(traceerr.KindDbAccessFailed, "table query row shape mismatch")
		}
		values := make(map[querybuilder.SchemaIndex]any, len(row))
		for i, col := range spec.Columns {
			values[col] = row[i]
		}
		if _, err := tbl.NewRow(spec.Op, values); err != nil {
			return storeadapter.Abort, err
		}
		return storeadapter.Continue, nil
	}, nil)
}

func queryCacheKey(specs []TableQuerySpec) string {
	var reprs string
	for _, s := range specs {
		reprs += fmt.Sprintf("|op=%d,tbl=%s,cols=%v,where=%q,group=%q,sort=%s,asc=%v,max=%d,off=%d", s.Op, s.Table, s.Columns, s.Where, s.GroupBy, s.SortCol, s.Ascending, s.Max, s.Offset)
	}
	return packedtable.Key("table-query", reprs)
}

// DeleteTable drops every cached table-query result, used after a
// trim/delete operation invalidates any previously-served table result.
func (t *Trace) DeleteTable() {
	t.cache.Invalidate()
}

// DeleteAllTables is DeleteTable's bulk form; identical for this
// in-memory cache but kept as a distinct operation for callers that
// track individual table ids.
func (t *Trace) DeleteAllTables() {
	t.cache.Invalidate()
}

// ExportTableCSVAsync writes tbl's rows to w as CSV, resolving name-like
// columns through the trace's interner.
func (t *Trace) ExportTableCSVAsync(ctx context.Context, tbl *packedtable.Table, columns []querybuilder.SchemaIndex, w io.Writer, onProg jobs.ProgressFunc) *jobs.Future {
	return t.pool.Submit(ctx, t.nodeID, onProg, func(fut *jobs.Future) error {
		cw := csv.NewWriter(w)
		header := make([]string, len(columns))
		for i, c := range columns {
			header[i] = columnPublicName(c)
		}
		if err := cw.Write(header); err != nil {
			return traceerr.Wrap(traceerr.KindUnknown, "write csv header", err)
		}

		isNameLike := func(c querybuilder.SchemaIndex) bool {
			return c == querybuilder.ColNameID || c == querybuilder.ColSymbolID ||
				c == querybuilder.ColStreamNameID || c == querybuilder.ColQueueNameID
		}

		for i, row := range tbl.Rows {
			rec := make([]string, len(columns))
			for j, c := range columns {
				info, ok := querybuilder.Schema[c]
				switch {
				case ok && info.Storage == querybuilder.TypeDouble:
					v, _ := tbl.GetFloat(row, c)
					rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
				case isNameLike(c):
					v, present := tbl.Get(row, c)
					if present {
						s, _ := t.in.Resolve(interner.ID(v))
						rec[j] = s
					}
				default:
					v, present := tbl.Get(row, c)
					if present {
						rec[j] = strconv.FormatUint(v, 10)
					}
				}
			}
			if err := cw.Write(rec); err != nil {
				return traceerr.Wrap(traceerr.KindUnknown, "write csv row", err)
			}
			if i%1000 == 0 {
				fut.AddRowsProcessed(1000)
			}
			select {
			case <-fut.Context().Done():
				return traceerr.New(traceerr.KindDbAbort, "export cancelled")
			default:
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func columnPublicName(c querybuilder.SchemaIndex) string {
	if info, ok := querybuilder.Schema[c]; ok {
		return info.PublicName
	}
	return fmt.Sprintf("col_%d", c)
}
