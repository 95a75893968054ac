// Package engine holds the process-wide context shared by every Trace
// opened in this process: the memory budget inputs and a handful of
// environment-driven tunables. It exists so that the two globals the
// original design kept as static state -- available physical memory and
// the total bytes currently loaded across all open traces -- become
// fields on a value the caller constructs explicitly, instead of package
// level state with process lifetime.
package engine

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// Config holds the environment-driven knobs every Engine is built from.
// Each field falls back to a built-in default when its variable is
// unset.
type Config struct {
	// PhysMemPercent is k in L = max(T + (phys_avail-total_loaded)/num_traces, 100MB).
	// Default 80.
	PhysMemPercent int
	// MinBudgetBytes is the floor applied to the computed per-trace budget.
	// Default 100 MB.
	MinBudgetBytes int64
	// WorkerPoolSize bounds the orchestrator's job worker pool. When zero,
	// internal/trace uses 4 workers.
	WorkerPoolSize int
	// SegmentScale is read from the environment and defaults to 10. The
	// LOD generator in internal/track uses its own fixed Scale constant
	// and does not read this field.
	SegmentScale int64
}

func DefaultConfig() Config {
	return Config{
		PhysMemPercent: envInt("TRACE_ENGINE_PHYS_MEM_PERCENT", 80),
		MinBudgetBytes: int64(envInt("TRACE_ENGINE_MIN_BUDGET_MB", 100)) * 1024 * 1024,
		WorkerPoolSize: envInt("TRACE_ENGINE_WORKER_POOL_SIZE", 0),
		SegmentScale:   int64(envInt("TRACE_ENGINE_SEGMENT_SCALE", 10)),
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Engine is the shared context passed to every Trace at construction. It
// tracks the two process-wide counters the memory manager's budget formula
// needs: physical memory available to the process, and the sum of bytes
// currently resident across every open trace. Safe for concurrent use.
type Engine struct {
	cfg Config

	mu           sync.Mutex
	physAvail    int64 // bytes, refreshed lazily
	physAvailSet bool

	totalLoaded atomic.Int64
	numTraces   atomic.Int64
}

func New(cfg Config) *Engine {
	if cfg.PhysMemPercent <= 0 {
		cfg.PhysMemPercent = 80
	}
	if cfg.MinBudgetBytes <= 0 {
		cfg.MinBudgetBytes = 100 * 1024 * 1024
	}
	if cfg.SegmentScale <= 0 {
		cfg.SegmentScale = 10
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// SetPhysicalMemory lets the caller (or a test) report total physical
// memory directly, avoiding any OS-specific probing inside this package.
// PhysAvailable then returns k% of this value.
func (e *Engine) SetPhysicalMemory(totalBytes int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.physAvail = totalBytes * int64(e.cfg.PhysMemPercent) / 100
	e.physAvailSet = true
}

// PhysAvailable returns k% of physical memory. Returns 0 if never set via
// SetPhysicalMemory; Budget then computes L from the trace size minus this
// trace's share of total_loaded, floored at MinBudgetBytes.
func (e *Engine) PhysAvailable() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.physAvailSet {
		return 0
	}
	return e.physAvail
}

// RegisterTrace/UnregisterTrace maintain num_traces for the budget formula.
func (e *Engine) RegisterTrace() { e.numTraces.Add(1) }
func (e *Engine) UnregisterTrace() {
	for {
		cur := e.numTraces.Load()
		if cur <= 0 {
			return
		}
		if e.numTraces.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}
func (e *Engine) NumTraces() int64 {
	if n := e.numTraces.Load(); n > 0 {
		return n
	}
	return 1
}

// AddLoaded/SubLoaded maintain total_loaded as segments are materialized and
// evicted across every trace sharing this Engine.
func (e *Engine) AddLoaded(n int64) int64 { return e.totalLoaded.Add(n) }
func (e *Engine) SubLoaded(n int64) int64 { return e.totalLoaded.Add(-n) }
func (e *Engine) TotalLoaded() int64      { return e.totalLoaded.Load() }

// Budget computes the per-trace soft limit
// L = max(T + (phys_avail - total_loaded)/num_traces, min_budget)
// for a trace of byte-size traceSize.
func (e *Engine) Budget(traceSize int64) int64 {
	headroom := (e.PhysAvailable() - e.TotalLoaded()) / e.NumTraces()
	l := traceSize + headroom
	if l < e.cfg.MinBudgetBytes {
		return e.cfg.MinBudgetBytes
	}
	return l
}
