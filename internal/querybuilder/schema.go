// Package querybuilder holds the closed column schema and a small
// type-safe SQL string builder producing the track, level, slice, table,
// dataflow and essential-data query kinds the backing-store adapter
// executes.
package querybuilder

import "fmt"

// SchemaIndex is the closed enumeration of every logical column the
// builder and the packed-row engine (internal/packedtable) share.
type SchemaIndex int32

const (
	ColOperation SchemaIndex = iota
	ColEventID
	ColCategory
	ColNameID
	ColSymbolID
	ColStreamNameID
	ColQueueNameID
	ColProcessID
	ColThreadID
	ColAgentAbsIndex
	ColAgentType
	ColStart
	ColEnd
	ColDuration
	ColGridSizeX
	ColGridSizeY
	ColGridSizeZ
	ColWorkgroupSizeX
	ColWorkgroupSizeY
	ColWorkgroupSizeZ
	ColLDSSize
	ColScratchSize
	ColAddress
	ColCounterID
	ColCounterValue
	ColTrackID
	ColStreamTrackID
	ColLevel
)

// StorageType is the packed-row width a SchemaIndex occupies.
type StorageType int32

const (
	TypeByte StorageType = iota
	TypeWord
	TypeDword
	TypeQword
	TypeDouble
)

// ColumnInfo is one schema entry: its public (user-visible) name and
// storage width.
type ColumnInfo struct {
	PublicName string
	Storage    StorageType
}

// Schema is the closed SchemaIndex -> ColumnInfo mapping.
var Schema = map[SchemaIndex]ColumnInfo{
	ColOperation:      {"operation", TypeByte},
	ColEventID:        {"id", TypeQword},
	ColCategory:       {"category", TypeByte},
	ColNameID:         {"name", TypeDword},
	ColSymbolID:       {"symbol", TypeDword},
	ColStreamNameID:   {"stream_name", TypeDword},
	ColQueueNameID:    {"queue_name", TypeDword},
	ColProcessID:      {"process_id", TypeQword},
	ColThreadID:       {"thread_id", TypeQword},
	ColAgentAbsIndex:  {"agent_abs_index", TypeDword},
	ColAgentType:      {"agent_type", TypeByte},
	ColStart:          {"start", TypeQword},
	ColEnd:            {"end", TypeQword},
	ColDuration:       {"duration", TypeQword},
	ColGridSizeX:      {"grid_size_x", TypeDword},
	ColGridSizeY:      {"grid_size_y", TypeDword},
	ColGridSizeZ:      {"grid_size_z", TypeDword},
	ColWorkgroupSizeX: {"workgroup_size_x", TypeDword},
	ColWorkgroupSizeY: {"workgroup_size_y", TypeDword},
	ColWorkgroupSizeZ: {"workgroup_size_z", TypeDword},
	ColLDSSize:        {"lds_size", TypeDword},
	ColScratchSize:    {"scratch_size", TypeDword},
	ColAddress:        {"address", TypeQword},
	ColCounterID:      {"counter_id", TypeDword},
	ColCounterValue:   {"counter_value", TypeDouble},
	ColTrackID:        {"track_id", TypeQword},
	ColStreamTrackID:  {"stream_track_id", TypeQword},
	ColLevel:          {"level", TypeDword},
}

// ColumnMask tags a column's visibility class, consumed by the adapter
// to hide service-only columns from user-visible results.
type ColumnMask int32

const (
	MaskVisible ColumnMask = iota
	MaskService
	MaskTimestamp
)

func maskFor(idx SchemaIndex) ColumnMask {
	switch idx {
	case ColTrackID, ColStreamTrackID, ColOperation:
		return MaskService
	case ColStart, ColEnd, ColDuration:
		return MaskTimestamp
	default:
		return MaskVisible
	}
}

func (s StorageType) String() string {
	switch s {
	case TypeByte:
		return "Byte"
	case TypeWord:
		return "Word"
	case TypeDword:
		return "Dword"
	case TypeQword:
		return "Qword"
	case TypeDouble:
		return "Double"
	default:
		return "Unknown"
	}
}

func columnName(idx SchemaIndex) string {
	if c, ok := Schema[idx]; ok {
		return c.PublicName
	}
	return fmt.Sprintf("col_%d", idx)
}
