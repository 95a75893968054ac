// Package trace implements the Trace orchestrator: the root aggregate
// owning one backing-store Database, its own trace-scoped string
// interner (not shared with other traces), a
// MemoryManager, a Track sequence and the async job surface every long
// operation (read-metadata, read-slice, read-event-property,
// export/trim) runs through.
//
// The pipeline shape is the same everywhere: stream rows, materialize
// domain objects, attach them to the right container, mark the
// container valid.
package trace

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flowscan-clone/traceviewer-engine/internal/engine"
	"github.com/flowscan-clone/traceviewer-engine/internal/interner"
	"github.com/flowscan-clone/traceviewer-engine/internal/jobs"
	"github.com/flowscan-clone/traceviewer-engine/internal/memmanager"
	"github.com/flowscan-clone/traceviewer-engine/internal/packedtable"
	"github.com/flowscan-clone/traceviewer-engine/internal/segment"
	"github.com/flowscan-clone/traceviewer-engine/internal/sidechannel"
	"github.com/flowscan-clone/traceviewer-engine/internal/storeadapter"
	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
	"github.com/flowscan-clone/traceviewer-engine/internal/track"
	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

// CategoryConfig describes how one TrackCategory's tracks are discovered
// and loaded from the backing store. The core's backing-store contract
// leaves the exact SQL dialect external, so the
// orchestrator takes these as configuration rather than hard-coding a
// schema.
type CategoryConfig struct {
	Category        tracemodel.CategoryID
	TrackTable      string // table the track-discovery query groups over
	LevelTable      string // table the level-precomputation query reads
	SliceTable      string // table the LOD-0 slice query reads
	IdentityColumns []string
	SchemaVariant   interner.SchemaVariant // rocpd vs. rocprof remap path
}

// Timeline is the Trace-wide [min_ts, max_ts] bound.
type Timeline struct {
	MinTs, MaxTs int64
}

// Trace is the root aggregate: one backing-store Database, one string
// interner, one MemoryManager, an ordered Track sequence and a
// Timeline.
type Trace struct {
	eng *engine.Engine

	mu         sync.RWMutex
	store      *storeadapter.Store
	nodeID     string
	in         *interner.Interner
	stringMaps map[tracemodel.CategoryID]*interner.DbStringIdMap
	mgr        *memmanager.Manager
	pools      *segment.Pools
	pool       *jobs.Pool
	side       *sidechannel.Store
	cache      *packedtable.QueryCache

	tracks   []*track.Track
	byID     map[tracemodel.TrackID]*track.Track
	nextID   atomic.Uint64
	timeline Timeline

	metadataLoaded atomic.Bool

	categories []CategoryConfig
}

// New builds an empty Trace bound to eng; tracks and the timeline are
// populated by read-metadata.
func New(eng *engine.Engine) *Trace {
	eng.RegisterTrace()
	mgr := memmanager.New(eng)
	mgr.Start()
	return &Trace{
		eng:        eng,
		in:         interner.New(),
		stringMaps: make(map[tracemodel.CategoryID]*interner.DbStringIdMap),
		mgr:        mgr,
		pools:      segment.NewPools(eventItemBytes, sampleItemBytes, sampleLODItemBytes),
		pool:       jobs.NewPool(workerPoolSize(eng)),
		side:       sidechannel.NewStore(),
		cache:      packedtable.NewQueryCache(0),
		byID:       make(map[tracemodel.TrackID]*track.Track),
	}
}

// stringMapFor returns (creating lazily) the DbStringIdMap for cfg's
// schema variant, one per category since the same event name string can
// legitimately carry different source-side ids per category/agent.
func (t *Trace) stringMapFor(cfg CategoryConfig) *interner.DbStringIdMap {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sm, ok := t.stringMaps[cfg.Category]; ok {
		return sm
	}
	sm := interner.NewDbStringIdMap(cfg.SchemaVariant, t.in)
	t.stringMaps[cfg.Category] = sm
	return sm
}

func workerPoolSize(eng *engine.Engine) int {
	if n := eng.Config().WorkerPoolSize; n > 0 {
		return n
	}
	return 4
}

// Rough per-item accounted sizes for the memory manager's budget
// bookkeeping; these are deliberately conservative estimates, not
// unsafe.Sizeof measurements, since Go doesn't expose a stable packed
// layout size the way the source's arena accounting assumed.
const (
	eventItemBytes     = 96
	sampleItemBytes    = 48
	sampleLODItemBytes = 80
)

// BindToDatabase attaches store/nodeID as this Trace's backing-store
// connection.
func (t *Trace) BindToDatabase(store *storeadapter.Store, nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store = store
	t.nodeID = nodeID
}

// WithCategories registers the TrackCategory discovery configs the
// read-metadata sequence will run, since the table layout itself is
// caller-supplied.
func (t *Trace) WithCategories(cfgs ...CategoryConfig) *Trace {
	t.mu.Lock()
	t.categories = cfgs
	t.mu.Unlock()
	return t
}

// Interner exposes the trace-scoped string interner to callers building
// side-channel queries or rendering names.
func (t *Trace) Interner() *interner.Interner { return t.in }

// Manager exposes the memory manager, for diagnostics/tests.
func (t *Trace) Manager() *memmanager.Manager { return t.mgr }

// Sidechannel exposes the flow/stack/extdata store.
func (t *Trace) Sidechannel() *sidechannel.Store { return t.side }

// Timeline returns the trace-wide [min_ts, max_ts] bound.
func (t *Trace) Timeline() Timeline {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timeline
}

// Tracks returns every registered Track in discovery order.
func (t *Trace) Tracks() []*track.Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*track.Track(nil), t.tracks...)
}

func (t *Trace) Track(id tracemodel.TrackID) (*track.Track, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.byID[id]
	return tr, ok
}

// registerTrack appends tr in discovery order and grows the Trace-wide
// timeline to cover it.
func (t *Trace) registerTrack(tr *track.Track) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = append(t.tracks, tr)
	t.byID[tr.ID] = tr

	props := tr.Properties()
	if len(t.tracks) == 1 || props.MinTs < t.timeline.MinTs {
		t.timeline.MinTs = props.MinTs
	}
	if props.MaxTs > t.timeline.MaxTs {
		t.timeline.MaxTs = props.MaxTs
	}
}

func (t *Trace) newTrackID() tracemodel.TrackID {
	return tracemodel.TrackID(t.nextID.Add(1))
}

// MetadataLoaded reports whether ReadMetadataAsync has completed at
// least once.
func (t *Trace) MetadataLoaded() bool { return t.metadataLoaded.Load() }

// Close stops the memory manager's eviction worker, unregisters the trace
// from its Engine, and closes the bound db-node's connection pool. Track
// cache state and the job pool are left as they are.
func (t *Trace) Close() error {
	t.mu.RLock()
	nodeID := t.nodeID
	store := t.store
	t.mu.RUnlock()

	t.mgr.Stop()
	t.eng.UnregisterTrace()

	if store != nil && nodeID != "" {
		return store.Close(nodeID)
	}
	return nil
}

// Pool exposes the worker pool every async operation below submits to.
func (t *Trace) Pool() *jobs.Pool { return t.pool }

func (t *Trace) storeOrErr() (*storeadapter.Store, string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.store == nil {
		return nil, "", traceerr.New(traceerr.KindNotLoaded, "trace is not bound to a database")
	}
	return t.store, t.nodeID, nil
}

// trackKey is the cache-key / segment-key prefix used for a track's
// graphs, stable for the track's lifetime.
func trackKey(id tracemodel.TrackID) string {
	return fmt.Sprintf("track%d", id)
}
