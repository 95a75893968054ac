// Package packedtable implements the packed-row table and aggregation
// engine sitting above internal/storeadapter and below the (external)
// table view, used for ad-hoc tabular queries such as "top kernels by
// duration".
//
// Rows are variable-width little-endian byte buffers, one cell per
// selected column. The total row size is fixed per operation class, not
// per query, so every row is keyed by an Op tag and cell offsets resolve
// through that op's registered column list rather than a per-query
// layout.
package packedtable

import (
	"encoding/binary"
	"math"

	"github.com/flowscan-clone/traceviewer-engine/internal/querybuilder"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
)

// Op is the packed row's operation tag (0..7), the first logical field
// of every row.
type Op uint8

const MaxOp Op = 7

// OpSchema is the ordered column list one operation class packs into its
// rows. Two operation classes may list the same querybuilder.SchemaIndex
// at different positions/widths -- that's what MergedColumn resolves.
type OpSchema []querybuilder.SchemaIndex

func widthOf(idx querybuilder.SchemaIndex) int {
	info, ok := querybuilder.Schema[idx]
	if !ok {
		return 8
	}
	switch info.Storage {
	case querybuilder.TypeByte:
		return 1
	case querybuilder.TypeWord:
		return 2
	case querybuilder.TypeDword:
		return 4
	case querybuilder.TypeQword, querybuilder.TypeDouble:
		return 8
	default:
		return 8
	}
}

// offsets returns, for schema, the byte offset of each column within one
// packed row buffer (the op tag itself is carried on Row, not in Buf).
func (s OpSchema) offsets() []int {
	offs := make([]int, len(s))
	cur := 0
	for i, idx := range s {
		offs[i] = cur
		cur += widthOf(idx)
	}
	return offs
}

func (s OpSchema) size() int {
	n := 0
	for _, idx := range s {
		n += widthOf(idx)
	}
	return n
}

func (s OpSchema) indexOf(col querybuilder.SchemaIndex) int {
	for i, c := range s {
		if c == col {
			return i
		}
	}
	return -1
}

// Row is one packed record: an Op tag plus its fixed-width cell buffer.
type Row struct {
	Op  Op
	Buf []byte
}

// putCell writes v into Buf at the width/offset col's schema position
// implies for schema.
func putCell(buf []byte, offset, width int, v any) error {
	if offset+width > len(buf) {
		return traceerr.New(traceerr.KindInvalidParameter, "packed row cell out of bounds")
	}
	switch width {
	case 1:
		b, err := toUint64(v)
		if err != nil {
			return err
		}
		buf[offset] = byte(b)
	case 2:
		b, err := toUint64(v)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(buf[offset:], uint16(b))
	case 4:
		b, err := toUint64(v)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf[offset:], uint32(b))
	case 8:
		if f, ok := v.(float64); ok {
			binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(f))
			return nil
		}
		b, err := toUint64(v)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(buf[offset:], b)
	}
	return nil
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case int32:
		return uint64(n), nil
	case int:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	default:
		return 0, traceerr.New(traceerr.KindInvalidParameter, "packed row cell type mismatch")
	}
}

func getCellU64(buf []byte, offset, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[offset])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[offset:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[offset:]))
	default:
		return binary.LittleEndian.Uint64(buf[offset:])
	}
}

func getCellF64(buf []byte, offset int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[offset:]))
}
