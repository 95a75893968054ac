// Package segment implements Segment and SegmentTimeline.
//
// Entries are stored as arena-relative SlotRef indices into pools owned
// by the Graph (internal/track), never as raw pointers -- resolving an
// entry to its value always goes through the EntryPools interface a
// Segment's owning SegmentTimeline was constructed with, so evicting a
// pool block can never leave a dangling reference sitting in a Segment's
// level index.
package segment

import (
	"github.com/flowscan-clone/traceviewer-engine/internal/memmanager"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// EntryPools is the narrow resolver surface a Segment needs from its
// owning Graph: allocate/resolve/free for each of the three entry kinds
// (Event, Sample, SampleLOD).
type EntryPools interface {
	AllocEvent() (memmanager.SlotRef, *tracemodel.Event)
	GetEvent(memmanager.SlotRef) *tracemodel.Event
	FreeEvent(memmanager.SlotRef)
	EventItemBytes() int64

	AllocSample() (memmanager.SlotRef, *tracemodel.Sample)
	GetSample(memmanager.SlotRef) *tracemodel.Sample
	FreeSample(memmanager.SlotRef)
	SampleItemBytes() int64

	AllocSampleLOD() (memmanager.SlotRef, *tracemodel.SampleLOD)
	GetSampleLOD(memmanager.SlotRef) *tracemodel.SampleLOD
	FreeSampleLOD(memmanager.SlotRef)
	SampleLODItemBytes() int64
}

// Pools is the concrete EntryPools implementation a Graph constructs once
// and shares across every SegmentTimeline/Segment it owns.
type Pools struct {
	events     *memmanager.Pool[tracemodel.Event]
	samples    *memmanager.Pool[tracemodel.Sample]
	sampleLODs *memmanager.Pool[tracemodel.SampleLOD]
}

func NewPools(eventBytes, sampleBytes, sampleLODBytes int64) *Pools {
	return &Pools{
		events:     memmanager.NewPool[tracemodel.Event](eventBytes),
		samples:    memmanager.NewPool[tracemodel.Sample](sampleBytes),
		sampleLODs: memmanager.NewPool[tracemodel.SampleLOD](sampleLODBytes),
	}
}

func (p *Pools) AllocEvent() (memmanager.SlotRef, *tracemodel.Event) { return p.events.Alloc() }
func (p *Pools) GetEvent(r memmanager.SlotRef) *tracemodel.Event     { return p.events.Get(r) }
func (p *Pools) FreeEvent(r memmanager.SlotRef)                      { p.events.Free(r) }
func (p *Pools) EventItemBytes() int64                               { return p.events.ItemBytes() }

func (p *Pools) AllocSample() (memmanager.SlotRef, *tracemodel.Sample) { return p.samples.Alloc() }
func (p *Pools) GetSample(r memmanager.SlotRef) *tracemodel.Sample     { return p.samples.Get(r) }
func (p *Pools) FreeSample(r memmanager.SlotRef)                       { p.samples.Free(r) }
func (p *Pools) SampleItemBytes() int64                                { return p.samples.ItemBytes() }

func (p *Pools) AllocSampleLOD() (memmanager.SlotRef, *tracemodel.SampleLOD) {
	return p.sampleLODs.Alloc()
}
func (p *Pools) GetSampleLOD(r memmanager.SlotRef) *tracemodel.SampleLOD { return p.sampleLODs.Get(r) }
func (p *Pools) FreeSampleLOD(r memmanager.SlotRef)                     { p.sampleLODs.Free(r) }
func (p *Pools) SampleLODItemBytes() int64                              { return p.sampleLODs.ItemBytes() }
