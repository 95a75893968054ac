package memmanager

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscan-clone/traceviewer-engine/internal/engine"
)

// fakeSegment is a minimal Evictable: fixed byte size, records whether it
// was evicted.
type fakeSegment struct {
	mu      sync.Mutex
	key     string
	bytes   int64
	lod     int
	evicted bool
	onEvict func()
}

func (f *fakeSegment) Key() string  { return f.key }
func (f *fakeSegment) Bytes() int64 { return f.bytes }
func (f *fakeSegment) LOD() int     { return f.lod }
func (f *fakeSegment) Evict() {
	f.mu.Lock()
	f.evicted = true
	cb := f.onEvict
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}
func (f *fakeSegment) wasEvicted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evicted
}

func newTestManager(t *testing.T, budget int64) *Manager {
	t.Helper()
	m := New(engine.New(engine.Config{MinBudgetBytes: budget}))
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}

func TestEvictionKeepsStorageUnderBudget(t *testing.T) {
	const budget = 1000
	m := newTestManager(t, budget)

	// Stamp ten times the budget's worth of segments; none in use, so the
	// worker must shed down to the limit.
	var segs []*fakeSegment
	for i := 0; i < 100; i++ {
		s := &fakeSegment{key: fmt.Sprintf("seg%d", i), bytes: 100, lod: 0}
		key := s.key
		s.onEvict = func() { m.Forget(key) }
		segs = append(segs, s)
		m.Stamp(s)
	}

	waitUntil(t, func() bool { return m.StorageUsed() <= budget }, "storage under budget")

	evicted := 0
	for _, s := range segs {
		if s.wasEvicted() {
			evicted++
		}
	}
	assert.GreaterOrEqual(t, evicted, 90, "nearly all segments over budget must be evicted")
}

func TestInUseSegmentsPinnedAgainstEviction(t *testing.T) {
	const budget = 100
	m := newTestManager(t, budget)

	pinned := &fakeSegment{key: "pinned", bytes: 150, lod: 0}
	pinned.onEvict = func() { m.Forget("pinned") }
	m.MarkInUse("pinned")
	m.Stamp(pinned)

	victim := &fakeSegment{key: "victim", bytes: 150, lod: 0}
	victim.onEvict = func() { m.Forget("victim") }
	m.Stamp(victim)

	waitUntil(t, victim.wasEvicted, "unpinned segment evicted")
	assert.False(t, pinned.wasEvicted(), "in-use segment must never be evicted")

	// Releasing the pin re-triggers eviction while still over budget.
	m.ReleaseInUse("pinned")
	waitUntil(t, pinned.wasEvicted, "released segment evicted once unpinned")
}

func TestEvictionPrefersRawOverHigherLOD(t *testing.T) {
	const budget = 150
	m := newTestManager(t, budget)

	// The LOD-1 entry is stamped first (older timestamp); pure LRU would
	// sacrifice it, but LOD 0 must go first regardless of age.
	lod1 := &fakeSegment{key: "lod1", bytes: 100, lod: 1}
	lod1.onEvict = func() { m.Forget("lod1") }
	m.Stamp(lod1)

	lod0 := &fakeSegment{key: "lod0", bytes: 100, lod: 0}
	lod0.onEvict = func() { m.Forget("lod0") }
	m.Stamp(lod0)

	waitUntil(t, func() bool { return m.StorageUsed() <= budget }, "storage under budget")
	assert.True(t, lod0.wasEvicted(), "raw LOD-0 segment must be sacrificed first")
	assert.False(t, lod1.wasEvicted(), "newer higher-LOD segment must survive while the budget allows")
}

func TestStampRestampReplacesAccounting(t *testing.T) {
	m := New(engine.New(engine.Config{MinBudgetBytes: 1 << 30}))

	s := &fakeSegment{key: "s", bytes: 100, lod: 0}
	m.Stamp(s)
	require.Equal(t, int64(100), m.StorageUsed())

	m.Stamp(s)
	assert.Equal(t, int64(100), m.StorageUsed(), "re-stamping must not double-count")

	m.Forget("s")
	assert.Equal(t, int64(0), m.StorageUsed())
}

func TestPoolAllocFreeReusesSlots(t *testing.T) {
	p := NewPool[int64](8)

	ref1, v1 := p.Alloc()
	*v1 = 41
	ref2, v2 := p.Alloc()
	*v2 = 42

	require.Equal(t, 2, p.InUseSlots())
	require.Equal(t, int64(16), p.Bytes())

	got := p.Get(ref2)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), *got)

	p.Free(ref1)
	assert.Nil(t, p.Get(ref1), "freed slot must no longer resolve")
	assert.Equal(t, 1, p.InUseSlots())

	ref3, _ := p.Alloc()
	assert.Equal(t, ref1, ref3, "freed slot must be reused before the pool grows")
}

func TestPoolDropsBlockWhenEmpty(t *testing.T) {
	p := NewPool[int64](8)
	ref, _ := p.Alloc()
	p.Free(ref)
	assert.Equal(t, 0, p.InUseSlots())
	assert.Nil(t, p.Get(ref), "slot in a dropped block must not resolve")
}
