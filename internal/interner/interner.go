// Package interner implements the trace-scoped string<->id interner: a
// bidirectional map between strings and dense integer ids, assigned in
// first-seen order. Insertion order is part of the contract -- it
// doubles as the sort key for "sort by name" table queries (see
// internal/packedtable), so callers must never rely on any other
// ordering for the returned ids.
package interner

import "sync"

// ID is a dense, zero-based, monotonically assigned string id.
type ID uint32

// Interner is a thread-safe bidirectional string<->ID map. Writes
// (first-seen strings) take the exclusive lock; reads take the shared
// lock -- many readers, rare writers.
type Interner struct {
	mu      sync.RWMutex
	byID    []string
	byValue map[string]ID
}

func New() *Interner {
	return &Interner{
		byValue: make(map[string]ID),
	}
}

// Intern returns the dense id for s, assigning a new one in first-seen
// order if s has not been interned yet.
func (in *Interner) Intern(s string) ID {
	in.mu.RLock()
	if id, ok := in.byValue[s]; ok {
		in.mu.RUnlock()
		return id
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()
	// Re-check: another writer may have interned s while we waited for
	// the exclusive lock.
	if id, ok := in.byValue[s]; ok {
		return id
	}
	id := ID(len(in.byID))
	in.byID = append(in.byID, s)
	in.byValue[s] = id
	return id
}

// Resolve returns the string for id and whether id was known.
func (in *Interner) Resolve(id ID) (string, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if int(id) < 0 || int(id) >= len(in.byID) {
		return "", false
	}
	return in.byID[id], true
}

// MustResolve panics if id is unknown. Intended for invariant-checked
// internal call sites where an unresolvable id would indicate a bug.
func (in *Interner) MustResolve(id ID) string {
	s, ok := in.Resolve(id)
	if !ok {
		panic("interner: unresolvable id")
	}
	return s
}

// Len returns the number of distinct interned strings.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.byID)
}

// Less reports whether a sorts before b by insertion order -- the
// contract packedtable.SortByColumn relies on for name/category columns.
func (in *Interner) Less(a, b ID) bool { return a < b }

// SchemaVariant selects which DbStringIdMap remap path is used per
// column (rocpd vs. rocprof).
type SchemaVariant int

const (
	SchemaUnknown SchemaVariant = iota
	SchemaROCPD
	SchemaROCProf
)

// DbStringIdMap remaps source-store string ids -- which may be
// duplicated per agent in the backing store's own schema -- to canonical
// Interner ids. One map exists per (schema variant, source column) pair;
// the caller is responsible for picking the right map for the row it is
// materializing.
type DbStringIdMap struct {
	mu      sync.RWMutex
	variant SchemaVariant
	in      *Interner
	remap   map[sourceKey]ID
}

type sourceKey struct {
	agent  uint64
	srcID  uint64
	column string
}

// NewDbStringIdMap builds a remap table bound to variant and backed by in
// for canonical ids.
func NewDbStringIdMap(variant SchemaVariant, in *Interner) *DbStringIdMap {
	return &DbStringIdMap{
		variant: variant,
		in:      in,
		remap:   make(map[sourceKey]ID),
	}
}

// Remap resolves a (agent, source-id) pair scoped to column into a
// canonical Interner ID, interning str the first time this triple is
// seen. Subsequent calls with the same triple always return the same
// canonical id, even if str differs (a defensive no-op in well-formed
// traces, but avoids silently forking an id if the backing store ever
// repeats an id with different text for the same agent/column).
func (m *DbStringIdMap) Remap(agent, srcID uint64, column, str string) ID {
	key := sourceKey{agent: agent, srcID: srcID, column: column}

	m.mu.RLock()
	if id, ok := m.remap[key]; ok {
		m.mu.RUnlock()
		return id
	}
	m.mu.RUnlock()

	id := m.in.Intern(str)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.remap[key]; ok {
		return existing
	}
	m.remap[key] = id
	return id
}

func (m *DbStringIdMap) Variant() SchemaVariant { return m.variant }
