package packedtable

import (
	"sort"

	"github.com/flowscan-clone/traceviewer-engine/internal/interner"
	"github.com/flowscan-clone/traceviewer-engine/internal/querybuilder"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
)

// Table is a set of packed Rows sharing a registry of per-Op schemas.
// The query layer generates one Table per operation class and merges the
// sub-tables through Merge.
type Table struct {
	schemas map[Op]OpSchema
	Rows    []Row
}

func NewTable(schemas map[Op]OpSchema) *Table {
	return &Table{schemas: schemas}
}

// NewRow builds and appends a row of op using values, a map from logical
// column to scalar value; columns absent from op's schema are ignored.
func (t *Table) NewRow(op Op, values map[querybuilder.SchemaIndex]any) (*Row, error) {
	schema, ok := t.schemas[op]
	if !ok {
		return nil, traceerr.New(traceerr.KindInvalidParameter, "unknown packed-row op")
	}
	offs := schema.offsets()
	buf := make([]byte, schema.size())
	for i, col := range schema {
		v, present := values[col]
		if !present {
			continue
		}
		if err := putCell(buf, offs[i], widthOf(col), v); err != nil {
			return nil, err
		}
	}
	row := Row{Op: op, Buf: buf}
	t.Rows = append(t.Rows, row)
	return &t.Rows[len(t.Rows)-1], nil
}

// Get reads col from row as a raw uint64 cell, resolved through the
// row's own op schema. ok is false when col isn't part of that op's
// schema (a merged-column miss for that op).
func (t *Table) Get(row Row, col querybuilder.SchemaIndex) (uint64, bool) {
	schema, ok := t.schemas[row.Op]
	if !ok {
		return 0, false
	}
	i := schema.indexOf(col)
	if i < 0 {
		return 0, false
	}
	offs := schema.offsets()
	return getCellU64(row.Buf, offs[i], widthOf(col)), true
}

// GetFloat reads col from row as a float64 cell (ColCounterValue and any
// other TypeDouble column).
func (t *Table) GetFloat(row Row, col querybuilder.SchemaIndex) (float64, bool) {
	schema, ok := t.schemas[row.Op]
	if !ok {
		return 0, false
	}
	i := schema.indexOf(col)
	if i < 0 {
		return 0, false
	}
	offs := schema.offsets()
	return getCellF64(row.Buf, offs[i]), true
}

func (t *Table) eventID(row Row) uint64 {
	v, _ := t.Get(row, querybuilder.ColEventID)
	return v
}

// SortByID performs a stable sort by (op, event_id_low32).
func (t *Table) SortByID() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		a, b := t.Rows[i], t.Rows[j]
		if a.Op != b.Op {
			return a.Op < b.Op
		}
		return uint32(t.eventID(a)) < uint32(t.eventID(b))
	})
}

// RemoveDuplicates drops adjacent rows sharing the same event id, the
// dedup step run after merging per-op sub-tables. Callers
// must SortByID first so duplicates are adjacent.
func (t *Table) RemoveDuplicates() {
	if len(t.Rows) == 0 {
		return
	}
	out := t.Rows[:1]
	for _, r := range t.Rows[1:] {
		if t.eventID(r) == t.eventID(out[len(out)-1]) {
			continue
		}
		out = append(out, r)
	}
	t.Rows = out
}

// MergedColumn describes one logical column's per-op physical mapping:
// which ops carry it, and (through each op's schema) at what width and
// offset.
type MergedColumn struct {
	Name   querybuilder.SchemaIndex
	OpMask map[Op]bool
}

// SortByColumn orders rows by col ascending/descending. Value columns
// compare numerically (float for TypeDouble, uint64 otherwise); name and
// category columns compare by the interner's insertion order, which is
// the engine-wide sort key for names. Rows missing col sort to one
// extreme per ascending.
func (t *Table) SortByColumn(col querybuilder.SchemaIndex, ascending bool, in *interner.Interner) error {
	info, ok := querybuilder.Schema[col]
	if !ok {
		return traceerr.New(traceerr.KindInvalidParameter, "unknown column")
	}
	isNameLike := col == querybuilder.ColNameID || col == querybuilder.ColSymbolID ||
		col == querybuilder.ColStreamNameID || col == querybuilder.ColQueueNameID

	sort.SliceStable(t.Rows, func(i, j int) bool {
		a, b := t.Rows[i], t.Rows[j]
		if isNameLike && in != nil {
			va, oka := t.Get(a, col)
			vb, okb := t.Get(b, col)
			return compareMissing(oka, okb, ascending, func() bool {
				if !ascending {
					return in.Less(interner.ID(vb), interner.ID(va))
				}
				return in.Less(interner.ID(va), interner.ID(vb))
			})
		}
		if info.Storage == querybuilder.TypeDouble {
			va, oka := t.GetFloat(a, col)
			vb, okb := t.GetFloat(b, col)
			return compareMissing(oka, okb, ascending, func() bool {
				if !ascending {
					return vb < va
				}
				return va < vb
			})
		}
		va, oka := t.Get(a, col)
		vb, okb := t.Get(b, col)
		return compareMissing(oka, okb, ascending, func() bool {
			if !ascending {
				return vb < va
			}
			return va < vb
		})
	})
	return nil
}

// compareMissing implements the "missing values sort to one extreme per
// ascending" rule: a row lacking the sort column is treated as the
// largest value when ascending (so it sorts last), and the smallest when
// descending (so it also sorts last).
func compareMissing(hasA, hasB, ascending bool, less func() bool) bool {
	if hasA && hasB {
		return less()
	}
	if hasA != hasB {
		// The row with data comes first for both directions: missing
		// values always fall at the tail of the result.
		return hasA
	}
	return false
}

// RemoveRowsForTracks filters out rows whose __trackId (or
// __streamTrackId when removeAll pulls in stream-level tracks too) is a
// member of set.
func (t *Table) RemoveRowsForTracks(set map[uint64]bool, removeAll bool) {
	out := t.Rows[:0]
	for _, r := range t.Rows {
		tid, _ := t.Get(r, querybuilder.ColTrackID)
		if set[tid] {
			continue
		}
		if removeAll {
			stid, ok := t.Get(r, querybuilder.ColStreamTrackID)
			if ok && set[stid] {
				continue
			}
		}
		out = append(out, r)
	}
	t.Rows = out
}

// Merge unions the row sets of sub-tables into a freshly allocated
// Table, unions their per-op schemas, and, if any op greater than 0
// participates, also sorts by id and dedups.
func Merge(sub ...*Table) (*Table, error) {
	if len(sub) == 0 {
		return NewTable(map[Op]OpSchema{}), nil
	}
	schemas := make(map[Op]OpSchema)
	hasOpAboveZero := false
	for _, s := range sub {
		for op, sch := range s.schemas {
			if existing, ok := schemas[op]; ok {
				if len(existing) < len(sch) {
					schemas[op] = sch
				}
			} else {
				schemas[op] = sch
			}
			if op > 0 {
				hasOpAboveZero = true
			}
		}
	}
	out := NewTable(schemas)
	for _, s := range sub {
		out.Rows = append(out.Rows, s.Rows...)
	}
	if hasOpAboveZero {
		out.SortByID()
		out.RemoveDuplicates()
	}
	return out, nil
}
