package segment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/flowscan-clone/traceviewer-engine/internal/memmanager"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// Level aliases tracemodel.Level so this package's exported signatures
// don't force every caller to import tracemodel just to name it.
type Level = tracemodel.Level

// EntryKind tags which pool (and therefore which tracemodel type) a given
// entry's SlotRef resolves through.
type EntryKind int32

const (
	KindEvent EntryKind = iota
	KindSample
	KindSampleLOD
)

// entry is one (timestamp, ref) pair inside a Segment level. Levels are
// kept sorted by StartTs so Fetch can binary-search into its window
// instead of scanning every entry on every call.
type entry struct {
	startTs int64
	endTs   int64 // NextTs for samples, EndTs for sampleLODs
	id      tracemodel.EventID
	kind    EntryKind
	ref     memmanager.SlotRef
}

// Segment is one time-bounded, level-of-detail-specific slice of a
// track's entries. Entries are grouped by level (0 = raw)
// and, within a level, kept sorted by start timestamp.
//
// A Segment never resolves its own entries to values; that always goes
// through the EntryPools its owning SegmentTimeline was built with, so a
// Segment carries no direct dependency on the Graph that allocated them.
type Segment struct {
	mu sync.RWMutex

	key   string
	lod   int
	pools EntryPools

	nominalStart, nominalEnd int64 // the timeline's uniform partition bounds
	minTs, maxTs             int64 // actual observed entry bounds
	levels                   map[Level][]entry
	bytes                    int64

	// onEvict is called (with no lock held) when the memory manager
	// evicts this segment, so the owning SegmentTimeline can clear its
	// valid bit and drop the segment from its sparse map.
	onEvict func()
}

// New builds an empty Segment spanning [start, end).
func New(key string, lod int, pools EntryPools, start, end int64) *Segment {
	return &Segment{
		key:          key,
		lod:          lod,
		pools:        pools,
		nominalStart: start,
		nominalEnd:   end,
		minTs:        start,
		maxTs:        end,
		levels:       make(map[Level][]entry),
	}
}

// SetOnEvict installs the eviction callback; called once by
// SegmentTimeline.Insert.
func (s *Segment) SetOnEvict(f func()) {
	s.mu.Lock()
	s.onEvict = f
	s.mu.Unlock()
}

// InsertEvent records a raw or LOD event at level into the segment,
// allocating its backing storage from the owning Graph's event pool.
func (s *Segment) InsertEvent(level Level, e tracemodel.Event) memmanager.SlotRef {
	ref, slot := s.pools.AllocEvent()
	*slot = e

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(level, entry{startTs: e.StartTs, endTs: e.EndTs, id: e.ID, kind: KindEvent, ref: ref})
	s.bytes += s.pools.EventItemBytes()
	s.growRangeLocked(e.StartTs, e.EndTs)
	return ref
}

// InsertSample records a raw sample at level.
func (s *Segment) InsertSample(level Level, sm tracemodel.Sample) memmanager.SlotRef {
	ref, slot := s.pools.AllocSample()
	*slot = sm

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(level, entry{startTs: sm.Ts, endTs: sm.NextTs, id: tracemodel.EventID(sm.ID), kind: KindSample, ref: ref})
	s.bytes += s.pools.SampleItemBytes()
	s.growRangeLocked(sm.Ts, sm.NextTs)
	return ref
}

// InsertSampleLOD records a precomputed LOD sample summary at level.
func (s *Segment) InsertSampleLOD(level Level, sl tracemodel.SampleLOD) memmanager.SlotRef {
	ref, slot := s.pools.AllocSampleLOD()
	*slot = sl

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(level, entry{startTs: sl.Ts, endTs: sl.EndTs, id: tracemodel.EventID(sl.ID), kind: KindSampleLOD, ref: ref})
	s.bytes += s.pools.SampleLODItemBytes()
	s.growRangeLocked(sl.Ts, sl.EndTs)
	return ref
}

func (s *Segment) insertLocked(level Level, e entry) {
	lvl := s.levels[level]
	i := sort.Search(len(lvl), func(i int) bool { return lvl[i].startTs >= e.startTs })
	lvl = append(lvl, entry{})
	copy(lvl[i+1:], lvl[i:])
	lvl[i] = e
	s.levels[level] = lvl
}

func (s *Segment) growRangeLocked(start, end int64) {
	if start < s.minTs {
		s.minTs = start
	}
	if end > s.maxTs {
		s.maxTs = end
	}
}

// Result is one resolved entry returned by Fetch.
type Result struct {
	Level  Level
	Kind   EntryKind
	Handle tracemodel.Handle
}

// Fetch visits every entry at level overlapping [start, end), skipping
// ids already present in seen (the cross-segment dedup contract),
// resolving each through the owning pools. Fetch records every id it
// visits into seen, so a later call sharing the same map skips it.
func (s *Segment) Fetch(level Level, start, end int64, seen map[tracemodel.EventID]bool, out *[]Result) {
	s.mu.RLock()
	lvl := s.levels[level]
	// First entry whose end could overlap start: scan back conservatively
	// from the first entry starting at or after start, since entries can
	// have non-uniform durations. A linear backscan over level entries
	// that might straddle the window boundary is bounded by how many
	// entries share the window start, which is small in practice.
	i := sort.Search(len(lvl), func(i int) bool { return lvl[i].startTs >= start })
	for j := i - 1; j >= 0 && lvl[j].endTs > start; j-- {
		i = j
	}
	for ; i < len(lvl) && lvl[i].startTs < end; i++ {
		e := lvl[i]
		if e.endTs <= start {
			continue
		}
		if seen != nil {
			if seen[e.id] {
				continue
			}
			seen[e.id] = true
		}
		h, ok := s.resolve(e)
		if !ok {
			continue
		}
		*out = append(*out, Result{Level: level, Kind: e.kind, Handle: h})
	}
	s.mu.RUnlock()
}

func (s *Segment) resolve(e entry) (tracemodel.Handle, bool) {
	switch e.kind {
	case KindEvent:
		v := s.pools.GetEvent(e.ref)
		if v == nil {
			return tracemodel.Handle{}, false
		}
		return tracemodel.EventHandle(v), true
	case KindSample:
		v := s.pools.GetSample(e.ref)
		if v == nil {
			return tracemodel.Handle{}, false
		}
		return tracemodel.SampleHandle(v), true
	case KindSampleLOD:
		v := s.pools.GetSampleLOD(e.ref)
		if v == nil {
			return tracemodel.Handle{}, false
		}
		return tracemodel.SampleLODHandle(v), true
	default:
		return tracemodel.Handle{}, false
	}
}

// Clear releases every entry back to its pool and resets the segment to
// empty, without touching the owning timeline's bookkeeping.
func (s *Segment) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Segment) clearLocked() {
	for _, lvl := range s.levels {
		for _, e := range lvl {
			switch e.kind {
			case KindEvent:
				s.pools.FreeEvent(e.ref)
			case KindSample:
				s.pools.FreeSample(e.ref)
			case KindSampleLOD:
				s.pools.FreeSampleLOD(e.ref)
			}
		}
	}
	s.levels = make(map[Level][]entry)
	s.bytes = 0
	s.minTs, s.maxTs = s.nominalStart, s.nominalEnd
}

// NumEntries reports the total entry count across all levels, for tests
// and diagnostics.
func (s *Segment) NumEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, lvl := range s.levels {
		n += len(lvl)
	}
	return n
}

// --- memmanager.Evictable ---

func (s *Segment) Key() string { return s.key }

func (s *Segment) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

func (s *Segment) LOD() int { return s.lod }

// Evict releases every entry back to its pool and notifies the owning
// timeline to clear its valid bit and drop the segment from its sparse
// map. Called by the memory manager with no locks of its own held.
func (s *Segment) Evict() {
	s.mu.Lock()
	s.clearLocked()
	cb := s.onEvict
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (s *Segment) String() string {
	return fmt.Sprintf("Segment{%s lod=%d entries=%d bytes=%d}", s.key, s.lod, s.NumEntries(), s.Bytes())
}
