// Package sidechannel implements the flow/stack/extended-data loaders
// that back per-event drill-down. Each side-channel kind is owned by the
// Trace and addressed by the originating event id.
package sidechannel

import (
	"sync"

	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// Kind selects which side channel a read/delete-event-property call
// addresses.
type Kind int32

const (
	KindFlow Kind = iota
	KindStack
	KindExtData
)

// ExtDatum is one (name, value, string?, type, db-instance) tuple for
// the details pane.
type ExtDatum struct {
	Name       string
	Value      float64
	StringVal  string
	IsString   bool
	Type       int32
	DBInstance int64
}

// Store holds every loaded side-channel object for one Trace, owned by
// it and released via DeleteProperty/DeleteAllProperties.
type Store struct {
	mu sync.RWMutex

	// DataFlowRecords are reachable from either endpoint track.
	flowByTrack map[tracemodel.TrackID][]tracemodel.DataFlowRecord
	flowByEvent map[tracemodel.EventID][]tracemodel.DataFlowRecord

	stacks map[tracemodel.EventID][]tracemodel.StackFrame
	ext    map[tracemodel.EventID][]ExtDatum
}

func NewStore() *Store {
	return &Store{
		flowByTrack: make(map[tracemodel.TrackID][]tracemodel.DataFlowRecord),
		flowByEvent: make(map[tracemodel.EventID][]tracemodel.DataFlowRecord),
		stacks:      make(map[tracemodel.EventID][]tracemodel.StackFrame),
		ext:         make(map[tracemodel.EventID][]ExtDatum),
	}
}

// RegisterFlow attaches rec to its source event's side-channel entry and
// to both endpoint tracks' flow maps.
func (s *Store) RegisterFlow(sourceTrack tracemodel.TrackID, rec tracemodel.DataFlowRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowByEvent[rec.SourceEventID] = append(s.flowByEvent[rec.SourceEventID], rec)
	s.flowByTrack[sourceTrack] = append(s.flowByTrack[sourceTrack], rec)
	s.flowByTrack[rec.TargetTrackID] = append(s.flowByTrack[rec.TargetTrackID], rec)
}

// Flow returns every DataFlowRecord whose source is eventID.
func (s *Store) Flow(eventID tracemodel.EventID) []tracemodel.DataFlowRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]tracemodel.DataFlowRecord(nil), s.flowByEvent[eventID]...)
}

// FlowForTrack returns every DataFlowRecord touching track, as either
// endpoint.
func (s *Store) FlowForTrack(track tracemodel.TrackID) []tracemodel.DataFlowRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]tracemodel.DataFlowRecord(nil), s.flowByTrack[track]...)
}

// RegisterStack populates StackTrace(event_id) -> [StackFrame, ...].
func (s *Store) RegisterStack(eventID tracemodel.EventID, frames []tracemodel.StackFrame) {
	s.mu.Lock()
	s.stacks[eventID] = frames
	s.mu.Unlock()
}

func (s *Store) Stack(eventID tracemodel.EventID) []tracemodel.StackFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]tracemodel.StackFrame(nil), s.stacks[eventID]...)
}

// RegisterExtData populates the details-pane tuple list for eventID.
func (s *Store) RegisterExtData(eventID tracemodel.EventID, data []ExtDatum) {
	s.mu.Lock()
	s.ext[eventID] = data
	s.mu.Unlock()
}

func (s *Store) ExtData(eventID tracemodel.EventID) []ExtDatum {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ExtDatum(nil), s.ext[eventID]...)
}

// DeleteProperty releases one event's side-channel data of kind.
func (s *Store) DeleteProperty(kind Kind, eventID tracemodel.EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case KindFlow:
		delete(s.flowByEvent, eventID)
		// A record is reachable from both endpoint tracks, so sweep every
		// track list rather than tracking which two registered it.
		for tid, list := range s.flowByTrack {
			out := list[:0]
			for _, r := range list {
				if r.SourceEventID != eventID {
					out = append(out, r)
				}
			}
			if len(out) == 0 {
				delete(s.flowByTrack, tid)
			} else {
				s.flowByTrack[tid] = out
			}
		}
	case KindStack:
		delete(s.stacks, eventID)
	case KindExtData:
		delete(s.ext, eventID)
	}
}

// DeleteAllProperties releases every side-channel object of kind across
// the whole trace.
func (s *Store) DeleteAllProperties(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case KindFlow:
		s.flowByEvent = make(map[tracemodel.EventID][]tracemodel.DataFlowRecord)
		s.flowByTrack = make(map[tracemodel.TrackID][]tracemodel.DataFlowRecord)
	case KindStack:
		s.stacks = make(map[tracemodel.EventID][]tracemodel.StackFrame)
	case KindExtData:
		s.ext = make(map[tracemodel.EventID][]ExtDatum)
	}
}
