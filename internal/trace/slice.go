package trace

import (
	"context"

	"github.com/flowscan-clone/traceviewer-engine/internal/jobs"
	"github.com/flowscan-clone/traceviewer-engine/internal/segment"
	"github.com/flowscan-clone/traceviewer-engine/internal/sidechannel"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// SliceResult is one track's worth of visible entries from a read-slice
// request.
type SliceResult struct {
	TrackID tracemodel.TrackID
	Entries []segment.Result
}

// ReadTraceSliceAsync runs Graph.Fetch for every track in trackIDs (or
// every registered track when trackIDs is empty, the "all-tracks"
// option) over [start, end) at the LOD a pixels-wide
// viewport implies.
func (t *Trace) ReadTraceSliceAsync(ctx context.Context, trackIDs []tracemodel.TrackID, pixels int, start, end int64, onProg jobs.ProgressFunc) (*jobs.Future, *[]SliceResult) {
	results := new([]SliceResult)
	fut := t.pool.Submit(ctx, t.nodeID, onProg, func(fut *jobs.Future) error {
		targets := trackIDs
		if len(targets) == 0 {
			for _, tr := range t.Tracks() {
				targets = append(targets, tr.ID)
			}
		}
		fut.SetRowsEstimate(int64(len(targets)))

		out := make([]SliceResult, 0, len(targets))
		for _, id := range targets {
			select {
			case <-fut.Context().Done():
				return traceerr.New(traceerr.KindDbAbort, "read-slice cancelled")
			default:
			}

			tr, ok := t.Track(id)
			if !ok {
				continue
			}
			g, ok := tr.Graph("default")
			if !ok {
				continue
			}
			entries, err := g.Fetch(pixels, start, end, fut.Context().Done())
			if err != nil && !traceerr.Is(err, traceerr.KindOutOfRange) {
				return err
			}
			out = append(out, SliceResult{TrackID: id, Entries: entries})
			fut.AddRowsProcessed(1)
		}
		*results = out
		return nil
	})
	return fut, results
}

// PropertyResult is the side-channel payload for one
// ReadEventPropertyAsync call, tagged by which field is populated.
type PropertyResult struct {
	Flow    []tracemodel.DataFlowRecord
	Stack   []tracemodel.StackFrame
	ExtData []sidechannel.ExtDatum
}

// ReadEventPropertyAsync lazily loads and returns one event's side-channel
// data (flow, stack, or ext-data). table names the
// backing-store table to query; the orchestrator doesn't hard-code
// this since it differs by category and schema variant.
func (t *Trace) ReadEventPropertyAsync(ctx context.Context, kind sidechannel.Kind, sourceTrack tracemodel.TrackID, eventID tracemodel.EventID, table string, onProg jobs.ProgressFunc) (*jobs.Future, *PropertyResult) {
	result := new(PropertyResult)
	fut := t.pool.Submit(ctx, t.nodeID, onProg, func(fut *jobs.Future) error {
		store, nodeID, err := t.storeOrErr()
		if err != nil {
			return err
		}

		switch kind {
		case sidechannel.KindFlow:
			if err := sidechannel.LoadFlow(fut.Context(), store, nodeID, table, sourceTrack, eventID, t.side); err != nil {
				return err
			}
			result.Flow = t.side.Flow(eventID)
		case sidechannel.KindStack:
			if err := sidechannel.LoadStack(fut.Context(), store, nodeID, table, t.in, eventID, t.side); err != nil {
				return err
			}
			result.Stack = t.side.Stack(eventID)
		case sidechannel.KindExtData:
			if err := sidechannel.LoadExtData(fut.Context(), store, nodeID, table, eventID, t.side); err != nil {
				return err
			}
			result.ExtData = t.side.ExtData(eventID)
		default:
			return traceerr.New(traceerr.KindInvalidParameter, "unknown side-channel kind")
		}
		fut.AddRowsProcessed(1)
		return nil
	})
	return fut, result
}
