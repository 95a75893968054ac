package storeadapter

import (
	"context"

	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
)

// Decision is the row callback's verdict: keep streaming, or abort the
// statement.
type Decision int

const (
	Continue Decision = iota
	Abort
)

// RowCallback receives one row's column names and values and decides
// whether Execute should keep streaming.
type RowCallback func(columns []string, row []any) (Decision, error)

// ProgressFunc is called periodically with the number of rows streamed
// so far.
type ProgressFunc func(rowsDone int64)

// Execute streams query's results through cb, applying the node's NULL
// fallback table to every column and expanding %GUID% when more than one
// db-node is open. ctx cancellation interrupts the in-flight statement.
func (s *Store) Execute(ctx context.Context, nodeID, query string, args []any, cb RowCallback, progress ProgressFunc) error {
	n, ok := s.Node(nodeID)
	if !ok {
		return traceerr.New(traceerr.KindNotFound, "unknown db-node: "+nodeID)
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return traceerr.Wrap(traceerr.KindDbAbort, "rate limiter wait cancelled", err)
	}

	q := expandGUID(query, s.multiNode(), n)

	rows, err := n.pool.Query(ctx, q, args...)
	if err != nil {
		return traceerr.Wrap(traceerr.KindDbAccessFailed, "query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	var count int64
	for rows.Next() {
		select {
		case <-ctx.Done():
			return traceerr.Wrap(traceerr.KindDbAbort, "execute cancelled", ctx.Err())
		default:
		}

		vals, err := rows.Values()
		if err != nil {
			return traceerr.Wrap(traceerr.KindDbAccessFailed, "read row values", err)
		}

		skip := applyFallbacks(n, columns, vals)
		if skip {
			continue
		}

		count++
		decision, err := cb(columns, vals)
		if err != nil {
			return traceerr.Wrap(traceerr.KindDbAccessFailed, "row callback", err)
		}
		if progress != nil && count%1000 == 0 {
			progress(count)
		}
		if decision == Abort {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return traceerr.Wrap(traceerr.KindDbAccessFailed, "row iteration", err)
	}
	if progress != nil {
		progress(count)
	}
	return nil
}

// applyFallbacks rewrites NULL values in vals in place per each column's
// ColumnFallback, reporting whether the whole row should be skipped.
func applyFallbacks(n *Node, columns []string, vals []any) (skip bool) {
	for i, v := range vals {
		if v != nil {
			continue
		}
		fb, ok := n.fallbackFor(columns[i])
		if !ok {
			continue
		}
		if fb.SkipRow {
			return true
		}
		if fb.IsString {
			vals[i] = fb.StringDefault
		} else {
			vals[i] = fb.IntDefault
		}
	}
	return false
}
