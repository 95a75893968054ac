package trace

import (
	"github.com/flowscan-clone/traceviewer-engine/internal/sidechannel"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// DeleteTimeSlice removes every resident segment overlapping [start, end)
// across all of trackID's known LODs. Cache state only -- the backing
// store is untouched.
func (t *Trace) DeleteTimeSlice(trackID tracemodel.TrackID, start, end int64) {
	tr, ok := t.Track(trackID)
	if !ok {
		return
	}
	for _, g := range tr.Graphs() {
		for _, tl := range g.Timelines() {
			lo, hi := tl.IndexAt(start), tl.IndexAt(end)
			for i := lo; i <= hi; i++ {
				tl.Remove(i)
			}
		}
	}
}

// DeleteAllSlices removes every resident segment across every LOD of
// trackID's graphs.
func (t *Trace) DeleteAllSlices(trackID tracemodel.TrackID) {
	tr, ok := t.Track(trackID)
	if !ok {
		return
	}
	for _, g := range tr.Graphs() {
		for _, tl := range g.Timelines() {
			for i := 0; i < tl.NumSegments(); i++ {
				tl.Remove(i)
			}
		}
	}
}

// DeleteEventProperty releases one event's side-channel data (flow, stack,
// or ext-data).
func (t *Trace) DeleteEventProperty(kind sidechannel.Kind, eventID tracemodel.EventID) {
	t.side.DeleteProperty(kind, eventID)
}

// DeleteAllProperties releases every side-channel object of kind across
// the whole trace.
func (t *Trace) DeleteAllProperties(kind sidechannel.Kind) {
	t.side.DeleteAllProperties(kind)
}
