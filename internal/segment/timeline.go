package segment

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/flowscan-clone/traceviewer-engine/internal/memmanager"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// SegmentTimeline partitions [rangeStart, rangeStart+numSegments*duration)
// into fixed-width segments at one LOD. valid tracks which
// indices currently have a resident (non-evicted) Segment; processed
// tracks which indices have been fully materialized by the load
// pipeline. Readers block on processed via cond until the producer
// finishes or the caller cancels.
type SegmentTimeline struct {
	mu   sync.RWMutex
	cond *sync.Cond

	key             string // identifies the owning (track, lod) pair
	lod             int
	rangeStart      int64
	segmentDuration int64
	numSegments     int

	valid     *bitset.BitSet
	processed *bitset.BitSet
	segments  map[int]*Segment

	pools EntryPools
	mgr   *memmanager.Manager
}

// NewTimeline builds a SegmentTimeline over a uniform partition of
// numSegments segments, each segmentDuration wide, starting at
// rangeStart.
func NewTimeline(key string, lod int, rangeStart, segmentDuration int64, numSegments int, pools EntryPools, mgr *memmanager.Manager) *SegmentTimeline {
	st := &SegmentTimeline{
		key:             key,
		lod:             lod,
		rangeStart:      rangeStart,
		segmentDuration: segmentDuration,
		numSegments:     numSegments,
		valid:           bitset.New(uint(numSegments)),
		processed:       bitset.New(uint(numSegments)),
		segments:        make(map[int]*Segment),
		pools:           pools,
		mgr:             mgr,
	}
	st.cond = sync.NewCond(&st.mu)
	return st
}

// IndexAt returns the segment index covering ts, clamped to [0, numSegments).
func (st *SegmentTimeline) IndexAt(ts int64) int {
	if st.segmentDuration <= 0 {
		return 0
	}
	i := int((ts - st.rangeStart) / st.segmentDuration)
	if i < 0 {
		return 0
	}
	if i >= st.numSegments {
		return st.numSegments - 1
	}
	return i
}

// Bounds returns the nominal [start, end) of segment index i.
func (st *SegmentTimeline) Bounds(i int) (int64, int64) {
	start := st.rangeStart + int64(i)*st.segmentDuration
	return start, start + st.segmentDuration
}

func (st *SegmentTimeline) segmentKey(i int) string {
	return fmt.Sprintf("%s/seg%d", st.key, i)
}

// Insert creates (if absent) and returns the Segment at index i, marking
// it valid. The producer then calls the returned Segment's InsertEvent/
// InsertSample(LOD) methods to fill it, followed by MarkProcessed.
func (st *SegmentTimeline) Insert(i int) *Segment {
	st.mu.Lock()
	defer st.mu.Unlock()

	if seg, ok := st.segments[i]; ok {
		return seg
	}
	start, end := st.Bounds(i)
	seg := New(st.segmentKey(i), st.lod, st.pools, start, end)
	idx := i
	seg.SetOnEvict(func() { st.onSegmentEvicted(idx) })
	st.segments[i] = seg
	st.valid.Set(uint(i))
	return seg
}

func (st *SegmentTimeline) onSegmentEvicted(i int) {
	st.mu.Lock()
	delete(st.segments, i)
	st.valid.Clear(uint(i))
	st.processed.Clear(uint(i))
	st.mu.Unlock()
}

// MarkProcessed flags index i as fully materialized and wakes any
// goroutine blocked in WaitProcessed for it.
func (st *SegmentTimeline) MarkProcessed(i int) {
	st.mu.Lock()
	st.processed.Set(uint(i))
	st.cond.Broadcast()
	st.mu.Unlock()
}

// IsProcessed reports whether index i has been materialized and is still
// resident (processed but since evicted reports false, since the bit is
// cleared on eviction).
func (st *SegmentTimeline) IsProcessed(i int) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.processed.Test(uint(i))
}

// WaitProcessed blocks until index i is processed or cancel fires; it
// returns nil in the first case and a KindTimeout error in the second.
// Eviction of the index's Segment does not end the wait.
func (st *SegmentTimeline) WaitProcessed(i int, cancel <-chan struct{}) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-cancel:
			st.mu.Lock()
			st.cond.Broadcast()
			st.mu.Unlock()
		case <-done:
		}
	}()

	st.mu.Lock()
	defer st.mu.Unlock()
	for !st.processed.Test(uint(i)) {
		select {
		case <-cancel:
			return traceerr.New(traceerr.KindTimeout, "wait for segment cancelled")
		default:
		}
		st.cond.Wait()
	}
	return nil
}

// Get returns the Segment at index i, if resident.
func (st *SegmentTimeline) Get(i int) (*Segment, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	seg, ok := st.segments[i]
	return seg, ok
}

// Remove evicts the segment at index i (if present) and drops its LRU
// bookkeeping; used for explicit trim/delete operations rather than
// memory-pressure eviction.
func (st *SegmentTimeline) Remove(i int) {
	st.mu.RLock()
	seg, ok := st.segments[i]
	st.mu.RUnlock()
	if !ok {
		return
	}
	seg.Evict()
	if st.mgr != nil {
		st.mgr.Forget(st.segmentKey(i))
	}
}

// FetchSegments visits every segment index overlapping [start, end) at
// this timeline's level, resolving entries into out and stamping each
// visited segment as most-recently-used. Indices with no resident,
// processed data are skipped; traceerr KindOutOfRange is returned only
// when no index in the range had any. Callers composing multiple
// timelines (Graph.Fetch) decide whether to demote that to Success.
func (st *SegmentTimeline) FetchSegments(level tracemodel.Level, start, end int64, seen map[tracemodel.EventID]bool, out *[]Result) error {
	lo, hi := st.IndexAt(start), st.IndexAt(end)
	anyData := false
	for i := lo; i <= hi; i++ {
		st.mu.RLock()
		seg, ok := st.segments[i]
		processed := st.processed.Test(uint(i))
		st.mu.RUnlock()
		if !ok || !processed {
			continue
		}
		anyData = true
		seg.Fetch(Level(level), start, end, seen, out)
		if st.mgr != nil {
			st.mgr.Stamp(seg)
		}
	}
	if !anyData {
		return traceerr.New(traceerr.KindOutOfRange, "no resident segment data in requested range")
	}
	return nil
}

// NumSegments reports the partition size, for tests.
func (st *SegmentTimeline) NumSegments() int { return st.numSegments }
