// Package jobs implements the async job model: Future, the
// progress-callback contract, and the worker pool every long-running
// Trace operation (read-metadata, read-slice, export/trim) runs under.
package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
)

// Status is the closed Future status set.
type Status int32

const (
	StatusBusy Status = iota
	StatusSuccess
	StatusError
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusBusy:
		return "Busy"
	case StatusSuccess:
		return "Success"
	case StatusError:
		return "Error"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ProgressFunc receives (filename, percent, status, message); the
// receiving side must never block the worker -- callers typically buffer
// or drop.
type ProgressFunc func(filename string, percent int, status Status, message string)

// Snapshot is a value-copy of a Future's state at one instant, so
// callers polling from another goroutine never race with the worker
// mutating the live Future.
type Snapshot struct {
	ID              uuid.UUID
	Status          Status
	ProgressPercent int
	Message         string
	RowsProcessed   int64
	RowsEstimate    int64
	Err             error
	LinkToDB        string
}

// Future tracks one long-running operation: progress, row counts, final
// status, and cancellation.
type Future struct {
	id       uuid.UUID
	linkToDB string
	onProg   ProgressFunc

	ctx    context.Context
	cancel context.CancelFunc

	interrupted atomic.Bool
	done        chan struct{}
	doneOnce    sync.Once

	mu              sync.Mutex
	status          Status
	progressPercent int
	message         string
	rowsProcessed   int64
	rowsEstimate    int64
	err             error
}

// newFuture builds a Busy Future bound to parent for cancellation
// propagation (e.g. process shutdown).
func newFuture(parent context.Context, linkToDB string, onProg ProgressFunc) *Future {
	ctx, cancel := context.WithCancel(parent)
	return &Future{
		id:       uuid.New(),
		linkToDB: linkToDB,
		onProg:   onProg,
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusBusy,
		done:     make(chan struct{}),
	}
}

// ID returns the Future's stable identifier.
func (f *Future) ID() uuid.UUID { return f.id }

// Context is the job's cancellation context; workers must select on
// Context().Done() in every row/segment loop.
func (f *Future) Context() context.Context { return f.ctx }

// Cancel sets the interrupted flag and cancels the Future's context. Safe
// to call from any goroutine, any number of times.
func (f *Future) Cancel() {
	f.interrupted.Store(true)
	f.cancel()
}

// Interrupted reports whether Cancel has been called; workers poll this
// in tight loops where selecting on ctx.Done() every iteration would be
// wasteful.
func (f *Future) Interrupted() bool { return f.interrupted.Load() }

// Done returns a channel closed once the Future reaches a terminal
// status (Success, Error or Cancelled).
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the Future reaches a terminal status or timeout
// expires. On expiry it returns a Timeout-kinded error and the job keeps
// running; callers may Wait again or Cancel. timeout <= 0 waits without
// bound.
func (f *Future) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-f.done
		return nil
	}
	select {
	case <-f.done:
		return nil
	case <-time.After(timeout):
		return traceerr.New(traceerr.KindTimeout, "wait for job expired")
	}
}

// Free releases the Future's caller-facing resources: the progress
// callback is dropped (no further notifications fire) and, if the job is
// still running, it is cancelled. The Future itself remains readable so
// a racing Snapshot never observes a torn state.
func (f *Future) Free() {
	f.mu.Lock()
	f.onProg = nil
	running := f.status == StatusBusy
	f.mu.Unlock()
	if running {
		f.Cancel()
	}
}

// ReportProgress updates progress/message and invokes the progress
// callback, if any, without holding the Future's lock while calling out.
func (f *Future) ReportProgress(filename string, percent int, message string) {
	f.mu.Lock()
	f.progressPercent = percent
	f.message = message
	status := f.status
	onProg := f.onProg
	f.mu.Unlock()

	if onProg != nil {
		onProg(filename, percent, status, message)
	}
}

// AddRowsProcessed accumulates rows_processed.
func (f *Future) AddRowsProcessed(n int64) {
	f.mu.Lock()
	f.rowsProcessed += n
	f.mu.Unlock()
}

// SetRowsEstimate records rows_estimate, used by progress-percent display.
func (f *Future) SetRowsEstimate(n int64) {
	f.mu.Lock()
	f.rowsEstimate = n
	f.mu.Unlock()
}

// complete transitions the Future to a terminal status exactly once.
func (f *Future) complete(status Status, err error) {
	f.mu.Lock()
	f.status = status
	f.err = err
	if status == StatusSuccess {
		f.progressPercent = 100
	}
	f.mu.Unlock()

	f.doneOnce.Do(func() { close(f.done) })
}

// Snapshot returns a value-copy of the Future's current state.
func (f *Future) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		ID:              f.id,
		Status:          f.status,
		ProgressPercent: f.progressPercent,
		Message:         f.message,
		RowsProcessed:   f.rowsProcessed,
		RowsEstimate:    f.rowsEstimate,
		Err:             f.err,
		LinkToDB:        f.linkToDB,
	}
}
