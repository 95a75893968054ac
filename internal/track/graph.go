package track

import (
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/flowscan-clone/traceviewer-engine/internal/memmanager"
	"github.com/flowscan-clone/traceviewer-engine/internal/segment"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// Scale is the fixed LOD reduction factor between adjacent levels.
const Scale = 10

// Graph is a view projection of a Track at multiple LODs: an integer
// LOD -> SegmentTimeline map, plus the demand-generation state needed to
// fill higher LODs from LOD 0 on first request.
type Graph struct {
	track *Track
	pools *segment.Pools
	mgr   *memmanager.Manager

	baseSegmentDuration int64
	maxSegmentDuration  int64
	minTs, maxTs        int64

	mu        sync.Mutex
	timelines map[int]*segment.SegmentTimeline
	claimed   map[int]*bitset.BitSet // per-LOD "a worker is generating index i" set
	key       string
}

// NewGraph builds a Graph over [minTs, maxTs), lazily creating per-LOD
// SegmentTimelines the first time they are requested.
func NewGraph(key string, t *Track, pools *segment.Pools, mgr *memmanager.Manager, baseSegmentDuration, maxSegmentDuration, minTs, maxTs int64) *Graph {
	return &Graph{
		track:               t,
		pools:               pools,
		mgr:                 mgr,
		baseSegmentDuration: baseSegmentDuration,
		maxSegmentDuration:  maxSegmentDuration,
		minTs:               minTs,
		maxTs:               maxTs,
		timelines:           make(map[int]*segment.SegmentTimeline),
		claimed:             make(map[int]*bitset.BitSet),
		key:                 key,
	}
}

// segDuration returns the segment width at LOD k: base*scale^k, clamped
// to the track's total span and to maxSegmentDuration.
func (g *Graph) segDuration(k int) int64 {
	d := g.baseSegmentDuration
	for i := 0; i < k; i++ {
		d *= Scale
	}
	span := g.maxTs - g.minTs
	if span > 0 && d > span {
		d = span
	}
	if g.maxSegmentDuration > 0 && d > g.maxSegmentDuration {
		d = g.maxSegmentDuration
	}
	if d <= 0 {
		d = 1
	}
	return d
}

// windowWidth is the time span one generated LOD-k entry summarizes:
// exactly one LOD-(k-1) segment's width, so each step up in LOD
// collapses one whole lower-tier segment into a single window.
func (g *Graph) windowWidth(k int) int64 {
	if k <= 0 {
		return g.segDuration(0)
	}
	return g.segDuration(k - 1)
}

// TargetLOD returns the smallest k such that (end-start)/scale^k <=
// pixels*scale.
func TargetLOD(pixels int, start, end int64) int {
	span := float64(end - start)
	if span <= 0 || pixels <= 0 {
		return 0
	}
	target := float64(pixels) * Scale
	k := 0
	for span/math.Pow(Scale, float64(k)) > target && k < 32 {
		k++
	}
	return k
}

// ensureTimeline returns (creating if absent) the SegmentTimeline for
// LOD k, sized to cover the track's full span at that LOD's segment
// width.
func (g *Graph) ensureTimeline(k int) *segment.SegmentTimeline {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tl, ok := g.timelines[k]; ok {
		return tl
	}
	dur := g.segDuration(k)
	n := int(math.Ceil(float64(g.maxTs-g.minTs) / float64(dur)))
	if n < 1 {
		n = 1
	}
	tl := segment.NewTimeline(g.key, k, g.minTs, dur, n, g.pools, g.mgr)
	g.timelines[k] = tl
	g.claimed[k] = bitset.New(uint(n))
	return tl
}

// RawTimeline returns the LOD 0 timeline, for the trace orchestrator's
// read-metadata/read-slice loaders to populate directly from the backing
// store.
func (g *Graph) RawTimeline() *segment.SegmentTimeline {
	return g.ensureTimeline(0)
}

// Timelines returns every LOD's SegmentTimeline created so far (LODs are
// created lazily on first Fetch/RawTimeline call), for delete/trim
// operations that must touch every resident level.
func (g *Graph) Timelines() map[int]*segment.SegmentTimeline {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int]*segment.SegmentTimeline, len(g.timelines))
	for k, tl := range g.timelines {
		out[k] = tl
	}
	return out
}

// Fetch picks the target LOD for the given pixel budget,
// demand-generates any missing segments in [start, end), then returns
// every matching entry across all nesting levels up to the track's max
// level. An OutOfRange result at one level is demoted to success as long
// as at least one level produced data; when no level did, the last
// level's error is returned.
func (g *Graph) Fetch(pixels int, start, end int64, cancel <-chan struct{}) ([]segment.Result, error) {
	k := TargetLOD(pixels, start, end)
	tl := g.ensureTimeline(k)

	if k > 0 {
		if err := g.fillMissing(k, tl, start, end, cancel); err != nil {
			return nil, err
		}
	}

	maxLevel := g.track.Properties().MaxLevel
	var out []segment.Result
	anySuccess := false
	var lastErr error
	for lvl := tracemodel.Level(0); lvl <= maxLevel; lvl++ {
		err := tl.FetchSegments(lvl, start, end, nil, &out)
		if err == nil {
			anySuccess = true
			continue
		}
		lastErr = err
	}
	if !anySuccess {
		return nil, lastErr
	}
	return out, nil
}

// fillMissing claims and generates every LOD-k segment index overlapping
// [start, end) that isn't processed yet, waiting on timelines whose
// generation another caller already claimed.
func (g *Graph) fillMissing(k int, tl *segment.SegmentTimeline, start, end int64, cancel <-chan struct{}) error {
	lo, hi := tl.IndexAt(start), tl.IndexAt(end)

	runStart := -1
	flushRun := func(runEnd int) error {
		if runStart < 0 {
			return nil
		}
		defer func() { runStart = -1 }()
		return g.generateRun(k, tl, runStart, runEnd, cancel)
	}

	for i := lo; i <= hi; i++ {
		if tl.IsProcessed(i) {
			if err := flushRun(i - 1); err != nil {
				return err
			}
			continue
		}

		g.mu.Lock()
		cl := g.claimed[k]
		alreadyClaimed := cl.Test(uint(i))
		if !alreadyClaimed {
			cl.Set(uint(i))
		}
		g.mu.Unlock()

		if alreadyClaimed {
			if err := flushRun(i - 1); err != nil {
				return err
			}
			if err := tl.WaitProcessed(i, cancel); err != nil {
				return err
			}
			continue
		}

		if runStart < 0 {
			runStart = i
		}
	}
	return flushRun(hi)
}

// generateRun fetches raw LOD-0 entries for the time range covered by
// indices [runStart, runEnd] at LOD k, runs the LOD generator over them,
// stores the results, marks the range processed, and releases the claim.
func (g *Graph) generateRun(k int, tl *segment.SegmentTimeline, runStart, runEnd int, cancel <-chan struct{}) error {
	defer func() {
		g.mu.Lock()
		for i := runStart; i <= runEnd; i++ {
			g.claimed[k].Clear(uint(i))
		}
		g.mu.Unlock()
	}()

	subStart, _ := tl.Bounds(runStart)
	_, subEnd := tl.Bounds(runEnd)

	raw := g.RawTimeline()
	maxLevel := g.track.Properties().MaxLevel
	var rawEntries []segment.Result
	for lvl := tracemodel.Level(0); lvl <= maxLevel; lvl++ {
		_ = raw.FetchSegments(lvl, subStart, subEnd, nil, &rawEntries)
	}
	select {
	case <-cancel:
		return traceerr.New(traceerr.KindDbAbort, "lod generation cancelled")
	default:
	}

	win := g.windowWidth(k)
	switch g.track.Category {
	case tracemodel.CategoryMemoryAllocation, tracemodel.CategoryMemoryCopy, tracemodel.CategoryPerformanceCounter:
		samples := generateSampleLOD(subStart, subEnd, win, rawEntries)
		for _, s := range samples {
			seg := tl.Insert(tl.IndexAt(s.Ts))
			seg.InsertSampleLOD(0, s)
		}
	default:
		events := generateEventLOD(subStart, subEnd, win, rawEntries)
		for _, e := range events {
			seg := tl.Insert(tl.IndexAt(e.StartTs))
			seg.InsertEvent(e.Level, e)
		}
	}

	for i := runStart; i <= runEnd; i++ {
		tl.Insert(i) // no-op if already created by the entries above
		tl.MarkProcessed(i)
	}
	return nil
}
