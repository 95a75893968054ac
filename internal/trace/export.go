package trace

import (
	"context"
	"fmt"
	"log"

	"github.com/flowscan-clone/traceviewer-engine/internal/interner"
	"github.com/flowscan-clone/traceviewer-engine/internal/jobs"
	"github.com/flowscan-clone/traceviewer-engine/internal/storeadapter"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// SaveTrimmedAsync opens a fresh destination db-node, copies each
// category's slice-table schema, attaches the source node alongside it
// in the same Store (node-set federation), streams every row overlapping
// [start, end) from source to destination, then returns the destination
// node id so the
// caller can open a new Trace over it. The source node itself is left
// open and untouched -- "detach" here means the destination stops being
// federated with the source once this job returns, not that anything is
// closed.
func (t *Trace) SaveTrimmedAsync(ctx context.Context, destDSN string, variant interner.SchemaVariant, start, end int64, onProg jobs.ProgressFunc) (*jobs.Future, *string) {
	destNodeID := new(string)
	fut := t.pool.Submit(ctx, t.nodeID, onProg, func(fut *jobs.Future) error {
		store, srcNodeID, err := t.storeOrErr()
		if err != nil {
			return err
		}

		dest, err := store.Open(fut.Context(), destDSN, variant)
		if err != nil {
			return err
		}
		*destNodeID = dest.ID
		log.Printf("[trace] save-trimmed: copying [%d,%d) from node %s into new node %s", start, end, srcNodeID, dest.ID)

		seen := make(map[string]bool)
		for i, cfg := range t.categories {
			if seen[cfg.SliceTable] {
				continue
			}
			seen[cfg.SliceTable] = true

			fut.ReportProgress("", 100*i/max(len(t.categories), 1), fmt.Sprintf("copying %s", cfg.SliceTable))
			if err := t.copySliceTable(fut, store, srcNodeID, dest.ID, cfg, start, end); err != nil {
				return err
			}
		}

		fut.ReportProgress("", 100, "save-trimmed complete")
		return nil
	})
	return fut, destNodeID
}

func (t *Trace) copySliceTable(fut *jobs.Future, store *storeadapter.Store, srcNodeID, destNodeID string, cfg CategoryConfig, start, end int64) error {
	isSample := cfg.Category == tracemodel.CategoryMemoryAllocation ||
		cfg.Category == tracemodel.CategoryMemoryCopy ||
		cfg.Category == tracemodel.CategoryPerformanceCounter

	var ddlCols []string
	var selectCols string
	if isSample {
		ddlCols = []string{"event_id BIGINT", "start_ts BIGINT", "end_ts BIGINT", "value DOUBLE PRECISION", "next_value DOUBLE PRECISION"}
		selectCols = "event_id, start_ts, end_ts, value, next_value"
	} else {
		ddlCols = []string{"event_id BIGINT", "start_ts BIGINT", "end_ts BIGINT", "level INTEGER", "name TEXT"}
		selectCols = "event_id, start_ts, end_ts, level, name"
	}
	if err := store.CreateTable(fut.Context(), destNodeID, cfg.SliceTable, ddlCols); err != nil {
		return err
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE start_ts < $1 AND end_ts >= $2 ORDER BY start_ts", selectCols, cfg.SliceTable)
	var inserts []string
	var rowsDone int64
	err := store.Execute(fut.Context(), srcNodeID, q, []any{end, start}, func(_ []string, row []any) (storeadapter.Decision, error) {
		rowsDone++
		inserts = append(inserts, insertStmt(cfg.SliceTable, selectCols, row, isSample))
		if len(inserts) >= 500 {
			if err := store.RunTransaction(fut.Context(), destNodeID, inserts); err != nil {
				return storeadapter.Abort, err
			}
			inserts = inserts[:0]
		}
		return storeadapter.Continue, nil
	}, nil)
	if err != nil {
		return err
	}
	fut.AddRowsProcessed(rowsDone)
	if len(inserts) > 0 {
		return store.RunTransaction(fut.Context(), destNodeID, inserts)
	}
	return nil
}

func insertStmt(table, cols string, row []any, isSample bool) string {
	id, _ := toU64(row[0])
	startTs, _ := toI64(row[1])
	endTs, _ := toI64(row[2])
	if isSample {
		val, _ := toF64(row[3])
		next, _ := toF64(row[4])
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%d, %d, %d, %v, %v)", table, cols, id, startTs, endTs, val, next)
	}
	level, _ := toI64(row[3])
	name, _ := row[4].(string)
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%d, %d, %d, %d, '%s')", table, cols, id, startTs, endTs, level, sqlEscape(name))
}

func sqlEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(out)
}
