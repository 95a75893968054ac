package memmanager

import (
	"sort"
	"sync"
	"time"

	"github.com/flowscan-clone/traceviewer-engine/internal/engine"
)

// Evictable is the interface a cacheable item (concretely, a
// *segment.Segment) implements so this package can manage its LRU
// lifecycle without importing the segment package -- segment imports
// memmanager, not the other way around.
type Evictable interface {
	// Key uniquely identifies the item for the lifetime of the process.
	Key() string
	// Bytes returns the item's current accounted memory footprint.
	Bytes() int64
	// LOD returns the item's level of detail; LOD 0 entries are evicted
	// before any higher LOD.
	LOD() int
	// Evict releases the item's owned entries back to their arenas and
	// clears the owning timeline's valid bit for it. Called with no
	// manager locks held.
	Evict()
}

type lruEntry struct {
	item      Evictable
	timestamp time.Time
}

// Manager owns budget computation, pools (via the generic Pool[T] in
// pool.go, constructed by callers per domain type), the LRU map, the
// in-use set, and the dedicated eviction worker.
//
// The LRU/in-use mutex here is deliberately distinct from any
// per-Pool[T] mutex -- never held simultaneously by user code, so the
// two can never invert.
type Manager struct {
	eng           *engine.Engine
	traceSizeHint int64 // updated by the trace once its size is known

	mu      sync.Mutex
	cond    *sync.Cond
	entries map[string]*lruEntry
	inUse   map[string]int // refcount; >0 means pinned against eviction
	used    int64           // lru_storage_used, sum of Evictable.Bytes() for tracked entries

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Manager bound to eng. Start must be called to launch the
// eviction worker goroutine.
func New(eng *engine.Engine) *Manager {
	m := &Manager{
		eng:     eng,
		entries: make(map[string]*lruEntry),
		inUse:   make(map[string]int),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetTraceSizeHint records the trace's on-disk/estimated size T, used by
// the budget formula L = max(T + headroom, min_budget).
func (m *Manager) SetTraceSizeHint(bytes int64) {
	m.mu.Lock()
	m.traceSizeHint = bytes
	m.mu.Unlock()
}

// Budget returns the current L.
func (m *Manager) Budget() int64 {
	m.mu.Lock()
	t := m.traceSizeHint
	m.mu.Unlock()
	return m.eng.Budget(t)
}

// StorageUsed returns lru_storage_used.
func (m *Manager) StorageUsed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Start launches the dedicated eviction-worker goroutine.
func (m *Manager) Start() {
	go m.evictionLoop()
}

// Stop signals the eviction worker to exit and waits for it to drain.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.cond.Broadcast()
	})
	<-m.doneCh
}

// Stamp records (or re-stamps) item as the most-recently-used entry.
// SegmentTimeline.FetchSegments calls this *after* the segment's Fetch
// has emitted its results, so the just-served
// segment becomes MRU relative to segments it raced with.
func (m *Manager) Stamp(item Evictable) {
	m.mu.Lock()
	prev, existed := m.entries[item.Key()]
	if existed {
		m.used -= prev.item.Bytes()
	}
	m.entries[item.Key()] = &lruEntry{item: item, timestamp: time.Now()}
	m.used += item.Bytes()
	over := m.used > m.eng.Budget(m.traceSizeHint)
	m.mu.Unlock()

	if over {
		m.signalEviction()
	}
}

// Forget removes item from the LRU map without evicting it -- used when
// the owning timeline itself already released the segment's entries
// (e.g. SegmentTimeline.Remove) and only the LRU bookkeeping needs to
// catch up.
func (m *Manager) Forget(key string) {
	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		m.used -= e.item.Bytes()
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

// MarkInUse pins key against eviction; ReleaseInUse unpins it. Both are
// refcounted so overlapping fetches of the same segment compose safely.
// Any transition here re-checks storage against L and triggers eviction
// if still over budget.
func (m *Manager) MarkInUse(key string) {
	m.mu.Lock()
	m.inUse[key]++
	over := m.used > m.eng.Budget(m.traceSizeHint)
	m.mu.Unlock()

	if over {
		m.signalEviction()
	}
}

func (m *Manager) ReleaseInUse(key string) {
	m.mu.Lock()
	if n, ok := m.inUse[key]; ok {
		if n <= 1 {
			delete(m.inUse, key)
		} else {
			m.inUse[key] = n - 1
		}
	}
	over := m.used > m.eng.Budget(m.traceSizeHint)
	m.mu.Unlock()

	if over {
		m.signalEviction()
	}
}

func (m *Manager) isInUse(key string) bool {
	return m.inUse[key] > 0
}

func (m *Manager) signalEviction() {
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Manager) evictionLoop() {
	defer close(m.doneCh)
	m.mu.Lock()
	for {
		for m.used <= m.eng.Budget(m.traceSizeHint) {
			select {
			case <-m.stopCh:
				m.mu.Unlock()
				m.drainPools()
				return
			default:
			}
			m.cond.Wait()
			select {
			case <-m.stopCh:
				m.mu.Unlock()
				m.drainPools()
				return
			default:
			}
		}
		if !m.evictOnceLocked() {
			// Still over budget but nothing evictable (everything left is
			// in-use): wait for an in-use release or a new stamp instead of
			// spinning.
			select {
			case <-m.stopCh:
				m.mu.Unlock()
				m.drainPools()
				return
			default:
			}
			m.cond.Wait()
		}
	}
}

// evictOnceLocked runs one eviction pass. Called with m.mu held; it must
// unlock before calling out to item.Evict() (which may itself touch
// SegmentTimeline locks -- the lock order places the memory manager
// below SegmentTimeline, so Evict is never called with our own mutex
// held), then re-lock before returning so the caller loop's invariants
// hold. Reports whether any entry was actually evicted.
func (m *Manager) evictOnceLocked() bool {
	snapshot := make([]*lruEntry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}

	sort.Slice(snapshot, func(i, j int) bool {
		ri := lodRank(snapshot[i].item.LOD())
		rj := lodRank(snapshot[j].item.LOD())
		if ri != rj {
			return ri < rj
		}
		return snapshot[i].timestamp.Before(snapshot[j].timestamp)
	})

	budget := m.eng.Budget(m.traceSizeHint)
	m.mu.Unlock()

	evictedAny := false
	for _, e := range snapshot {
		m.mu.Lock()
		if m.used <= budget {
			m.mu.Unlock()
			break
		}
		key := e.item.Key()
		if m.isInUse(key) {
			m.mu.Unlock()
			continue
		}
		cur, ok := m.entries[key]
		if !ok || cur != e {
			// Already re-stamped or removed since the snapshot was taken.
			m.mu.Unlock()
			continue
		}
		delete(m.entries, key)
		m.used -= e.item.Bytes()
		m.mu.Unlock()

		e.item.Evict()
		evictedAny = true
	}

	m.mu.Lock()
	return evictedAny
}

// lodRank sorts LOD 0 entries before any higher LOD: raw entries are
// sacrificed first, higher LODs being cheaper to rebuild.
func lodRank(lod int) int {
	if lod == 0 {
		return 0
	}
	return 1
}

// drainPools is a placeholder hook called on shutdown; pools themselves
// are owned by callers (Track/Graph/Segment), so there is nothing
// process-global to drain here beyond letting GC reclaim blocks whose
// bitmaps already went to zero via Pool.Free.
func (m *Manager) drainPools() {}
