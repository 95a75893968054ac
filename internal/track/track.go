// Package track implements Track, Graph and the LOD generator that
// collapses raw events/samples into progressively coarser summaries as
// the requested pixel budget shrinks relative to the time window.
package track

import (
	"sync"

	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// Identity is the composite key a Track is addressed by: (node, process,
// thread) for Region/KernelDispatch tracks, or (node, agent, queue) /
// (node, agent, counter) for the others.
type Identity struct {
	Node    uint32
	Process uint64
	Thread  uint64
	Agent   uint64
	Queue   uint64
	Counter uint64
}

// Properties carries a track's min/max timestamp and the maximum event
// level observed across it, computed by the trace orchestrator from the
// category's level table during metadata load (not persisted).
type Properties struct {
	MinTs    int64
	MaxTs    int64
	MaxLevel int32
}

// Track is a semantic lane of events or samples. Immutable after
// metadata load except for its Graphs' cache state.
type Track struct {
	mu sync.RWMutex

	ID           tracemodel.TrackID
	Category     tracemodel.CategoryID
	Identity     Identity
	DisplayOrder int
	Name         string

	props Properties

	graphs map[string]*Graph
}

// New builds a Track with no graphs yet; callers attach at least one via
// AddGraph before the track becomes queryable.
func New(id tracemodel.TrackID, category tracemodel.CategoryID, identity Identity, displayOrder int, name string, props Properties) *Track {
	return &Track{
		ID:           id,
		Category:     category,
		Identity:     identity,
		DisplayOrder: displayOrder,
		Name:         name,
		props:        props,
		graphs:       make(map[string]*Graph),
	}
}

func (t *Track) Properties() Properties {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.props
}

// SetProperties replaces the track's Properties.
func (t *Track) SetProperties(p Properties) {
	t.mu.Lock()
	t.props = p
	t.mu.Unlock()
}

// AddGraph registers a named chart projection (typically "default"; a
// track may expose more than one).
func (t *Track) AddGraph(name string, g *Graph) {
	t.mu.Lock()
	t.graphs[name] = g
	t.mu.Unlock()
}

func (t *Track) Graph(name string) (*Graph, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.graphs[name]
	return g, ok
}

// Graphs returns every registered projection, for operations (export,
// trim) that must touch all of a track's cache state.
func (t *Track) Graphs() []*Graph {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Graph, 0, len(t.graphs))
	for _, g := range t.graphs {
		out = append(out, g)
	}
	return out
}
