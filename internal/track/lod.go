package track

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/flowscan-clone/traceviewer-engine/internal/interner"
	"github.com/flowscan-clone/traceviewer-engine/internal/segment"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// eventGroup accumulates one (window, level) bucket of raw events while
// generateEventLOD scans.
type eventGroup struct {
	window   int64
	level    tracemodel.Level
	minStart int64
	maxEnd   int64
	children []tracemodel.EventID
	names    map[interner.ID]*nameAccum
	order    []interner.ID // first-seen order, for deterministic CombinedNames output
}

type nameAccum struct {
	count       uint64
	sumDuration int64
}

func newEventGroup(window int64, level tracemodel.Level, e *tracemodel.Event) *eventGroup {
	g := &eventGroup{
		window: window,
		level:  level,
		names:  make(map[interner.ID]*nameAccum),
	}
	g.add(e)
	return g
}

func (g *eventGroup) add(e *tracemodel.Event) {
	if len(g.children) == 0 {
		g.minStart, g.maxEnd = e.StartTs, e.EndTs
	} else {
		if e.StartTs < g.minStart {
			g.minStart = e.StartTs
		}
		if e.EndTs > g.maxEnd {
			g.maxEnd = e.EndTs
		}
	}
	g.children = append(g.children, e.ID)

	a, ok := g.names[e.NameID]
	if !ok {
		a = &nameAccum{}
		g.names[e.NameID] = a
		g.order = append(g.order, e.NameID)
	}
	a.count++
	a.sumDuration += e.Duration()
}

func (g *eventGroup) emit(category tracemodel.CategoryID, synthID tracemodel.EventID) tracemodel.Event {
	combined := make([]tracemodel.CombinedName, 0, len(g.order))
	var top interner.ID
	topSum := int64(-1)
	for _, nid := range g.order {
		a := g.names[nid]
		combined = append(combined, tracemodel.CombinedName{
			NameID:      nid,
			Count:       a.count,
			SumDuration: a.sumDuration,
		})
		if a.sumDuration > topSum {
			topSum = a.sumDuration
			top = nid
		}
	}
	return tracemodel.Event{
		ID:            synthID,
		StartTs:       g.minStart,
		EndTs:         g.maxEnd,
		Level:         g.level,
		Category:      category,
		NameID:        top,
		ChildIDs:      append([]tracemodel.EventID(nil), g.children...),
		CombinedNames: combined,
		TopNameID:     top,
	}
}

// generateEventLOD scans raw entries in [subStart, subEnd) ordered by
// (start timestamp, level), merges consecutive same-window same-level
// events by name-id, and emits one synthetic combined-name Event per
// group.
func generateEventLOD(subStart, subEnd, winWidth int64, raw []segment.Result) []tracemodel.Event {
	var evs []*tracemodel.Event
	var category tracemodel.CategoryID
	for i := range raw {
		if raw[i].Kind != segment.KindEvent || raw[i].Handle.Event == nil {
			continue
		}
		evs = append(evs, raw[i].Handle.Event)
		category = raw[i].Handle.Event.Category
	}
	if len(evs) == 0 {
		return nil
	}
	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].StartTs != evs[j].StartTs {
			return evs[i].StartTs < evs[j].StartTs
		}
		return evs[i].Level < evs[j].Level
	})

	windowOf := func(ts int64) int64 {
		if winWidth <= 0 {
			return 0
		}
		return (ts - subStart) / winWidth
	}

	var out []tracemodel.Event
	var cur *eventGroup
	var synth tracemodel.EventID
	for _, e := range evs {
		w := windowOf(e.StartTs)
		if cur != nil && cur.window == w && cur.level == e.Level {
			cur.add(e)
			continue
		}
		if cur != nil {
			synth++
			out = append(out, cur.emit(category, synthID(subStart, winWidth, cur.window, cur.level, synth)))
		}
		cur = newEventGroup(w, e.Level, e)
	}
	if cur != nil {
		synth++
		out = append(out, cur.emit(category, synthID(subStart, winWidth, cur.window, cur.level, synth)))
	}
	return out
}

// synthID deterministically derives a stable id for a generated LOD
// event from its window/level coordinates, so repeated generation of the
// same range (e.g. after an evict-and-reload) produces identical ids.
func synthID(subStart, winWidth, window int64, level tracemodel.Level, salt tracemodel.EventID) tracemodel.EventID {
	base := uint64(subStart) ^ uint64(winWidth)*31 ^ uint64(window)*1000003 ^ uint64(level)*97
	return tracemodel.EventID(base ^ uint64(salt))
}

// generateSampleLOD collects consecutive raw samples whose Ts falls in
// the current window and, on window close, emits one SampleLOD
// summarizing them via gonum/stat.
func generateSampleLOD(subStart, subEnd, winWidth int64, raw []segment.Result) []tracemodel.SampleLOD {
	var samples []*tracemodel.Sample
	for i := range raw {
		if raw[i].Kind != segment.KindSample || raw[i].Handle.Sample == nil {
			continue
		}
		samples = append(samples, raw[i].Handle.Sample)
	}
	if len(samples) == 0 {
		return nil
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Ts < samples[j].Ts })

	windowOf := func(ts int64) int64 {
		if winWidth <= 0 {
			return 0
		}
		return (ts - subStart) / winWidth
	}

	var out []tracemodel.SampleLOD
	var group []*tracemodel.Sample
	curWindow := windowOf(samples[0].Ts)

	flush := func() {
		if len(group) == 0 {
			return
		}
		out = append(out, summarize(group))
		group = nil
	}

	for _, s := range samples {
		w := windowOf(s.Ts)
		if w != curWindow {
			flush()
			curWindow = w
		}
		group = append(group, s)
	}
	flush()
	return out
}

func summarize(group []*tracemodel.Sample) tracemodel.SampleLOD {
	values := make([]float64, len(group))
	for i, s := range group {
		values[i] = s.Value
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	first, last := group[0], group[len(group)-1]
	return tracemodel.SampleLOD{
		Sample: tracemodel.Sample{
			ID:        first.ID,
			Ts:        first.Ts,
			NextTs:    last.NextTs,
			Value:     values[0],
			NextValue: values[len(values)-1],
		},
		EndTs:    last.NextTs,
		MinTs:    first.Ts,
		MaxTs:    last.Ts,
		Min:      floats.Min(values),
		Mean:     stat.Mean(values, nil),
		Median:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Max:      floats.Max(values),
		NumChild: len(group),
	}
}
