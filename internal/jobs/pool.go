package jobs

import (
	"context"
	"log"
	"sync"

	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
)

// Job is the unit of work a Pool runs: it should check
// fut.Context().Done() or fut.Interrupted() frequently in any
// row/segment loop.
type Job func(fut *Future) error

// Pool bounds the number of concurrently-running jobs
// (engine.Config.WorkerPoolSize). Submit never blocks the caller: a job
// submitted beyond the bound waits on its own goroutine until a slot
// frees.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool builds a Pool with size concurrent worker slots. size<=0 is
// treated as 1.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit starts job under a new Future derived from ctx and returns
// immediately; the job itself runs on its own goroutine. Returns nil if
// the pool has already been shut down.
func (p *Pool) Submit(ctx context.Context, linkToDB string, onProg ProgressFunc, job Job) *Future {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.wg.Add(1)
	p.mu.Unlock()

	fut := newFuture(ctx, linkToDB, onProg)

	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
		case <-fut.ctx.Done():
			fut.complete(StatusCancelled, traceerr.New(traceerr.KindDbAbort, "cancelled before a worker slot was available"))
			return
		}
		defer func() { <-p.sem }()

		err := job(fut)
		switch {
		case err != nil && fut.Interrupted():
			fut.complete(StatusCancelled, err)
		case err != nil:
			log.Printf("jobs: job %s failed: %v", fut.id, err)
			fut.complete(StatusError, err)
		case fut.Interrupted():
			fut.complete(StatusCancelled, nil)
		default:
			fut.complete(StatusSuccess, nil)
		}
	}()

	return fut
}

// Shutdown blocks until every submitted job has returned. Callers should
// cancel any Futures they still care about before calling Shutdown if
// they want a prompt drain rather than waiting for natural completion.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
