package sidechannel

import (
	"context"
	"fmt"

	"github.com/flowscan-clone/traceviewer-engine/internal/interner"
	"github.com/flowscan-clone/traceviewer-engine/internal/storeadapter"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// LoadFlow issues the flow join -- (target track, target event, target
// timestamp, cpu/gpu endpoint) -- for eventID and registers the
// resulting DataFlowRecords into store.
func LoadFlow(ctx context.Context, adapter *storeadapter.Store, nodeID, table string, sourceTrack tracemodel.TrackID, eventID tracemodel.EventID, store *Store) error {
	q := fmt.Sprintf(
		"SELECT target_track_id, target_event_id, target_ts, endpoint_kind, cpu_endpoint_id, gpu_last_ts FROM %s WHERE source_event_id = $1",
		table)
	return adapter.Execute(ctx, nodeID, q, []any{uint64(eventID)}, func(_ []string, row []any) (storeadapter.Decision, error) {
		rec, err := scanFlowRow(eventID, row)
		if err != nil {
			return storeadapter.Abort, err
		}
		store.RegisterFlow(sourceTrack, rec)
		return storeadapter.Continue, nil
	}, nil)
}

func scanFlowRow(sourceID tracemodel.EventID, row []any) (tracemodel.DataFlowRecord, error) {
	if len(row) < 6 {
		return tracemodel.DataFlowRecord{}, traceerr.New(traceerr.KindDbAccessFailed, "flow row shape mismatch")
	}
	targetTrack, _ := toU64(row[0])
	targetEvent, _ := toU64(row[1])
	targetTs, _ := toI64(row[2])
	kind, _ := toI64(row[3])

	var ep tracemodel.FlowEndpoint
	switch kind {
	case int64(tracemodel.FlowEndpointCPU):
		cpuID, _ := toU64(row[4])
		ep = tracemodel.FlowEndpoint{Kind: tracemodel.FlowEndpointCPU, CPUEndpointID: tracemodel.EventID(cpuID)}
	case int64(tracemodel.FlowEndpointGPU):
		gpuTs, _ := toI64(row[5])
		ep = tracemodel.FlowEndpoint{Kind: tracemodel.FlowEndpointGPU, GPULastTimestamp: gpuTs}
	}

	return tracemodel.DataFlowRecord{
		SourceEventID: sourceID,
		TargetTrackID: tracemodel.TrackID(targetTrack),
		TargetEventID: tracemodel.EventID(targetEvent),
		TargetTs:      targetTs,
		Endpoint:      ep,
	}, nil
}

// LoadStack populates the event's stack trace via the symbol/args join.
func LoadStack(ctx context.Context, adapter *storeadapter.Store, nodeID, table string, in *interner.Interner, eventID tracemodel.EventID, store *Store) error {
	q := fmt.Sprintf("SELECT symbol, args, line, depth FROM %s WHERE event_id = $1 ORDER BY depth ASC", table)
	var frames []tracemodel.StackFrame
	err := adapter.Execute(ctx, nodeID, q, []any{uint64(eventID)}, func(_ []string, row []any) (storeadapter.Decision, error) {
		if len(row) < 4 {
			return storeadapter.Abort, traceerr.New(traceerr.KindDbAccessFailed, "stack row shape mismatch")
		}
		symbol, _ := row[0].(string)
		args, _ := row[1].(string)
		line, _ := toI64(row[2])
		depth, _ := toI64(row[3])
		frames = append(frames, tracemodel.StackFrame{
			SymbolID: in.Intern(symbol),
			ArgsID:   in.Intern(args),
			Line:     int32(line),
			Depth:    int32(depth),
		})
		return storeadapter.Continue, nil
	}, nil)
	if err != nil {
		return err
	}
	store.RegisterStack(eventID, frames)
	return nil
}

// LoadExtData emits the category-appropriate (name, value, string?, type,
// db-instance) tuple list for eventID.
func LoadExtData(ctx context.Context, adapter *storeadapter.Store, nodeID, table string, eventID tracemodel.EventID, store *Store) error {
	q := fmt.Sprintf("SELECT name, value, str_value, kind, db_instance FROM %s WHERE event_id = $1", table)
	var data []ExtDatum
	err := adapter.Execute(ctx, nodeID, q, []any{uint64(eventID)}, func(_ []string, row []any) (storeadapter.Decision, error) {
		if len(row) < 5 {
			return storeadapter.Abort, traceerr.New(traceerr.KindDbAccessFailed, "ext-data row shape mismatch")
		}
		name, _ := row[0].(string)
		value, _ := toF64(row[1])
		strVal, isString := row[2].(string)
		kind, _ := toI64(row[3])
		dbInstance, _ := toI64(row[4])
		data = append(data, ExtDatum{
			Name:       name,
			Value:      value,
			StringVal:  strVal,
			IsString:   isString && strVal != "",
			Type:       int32(kind),
			DBInstance: dbInstance,
		})
		return storeadapter.Continue, nil
	}, nil)
	if err != nil {
		return err
	}
	store.RegisterExtData(eventID, data)
	return nil
}

func toU64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case int32:
		return uint64(n), true
	case int:
		return uint64(n), true
	default:
		return 0, false
	}
}

func toI64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toF64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
