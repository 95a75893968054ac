package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscan-clone/traceviewer-engine/internal/traceerr"
)

func TestPoolJobSucceeds(t *testing.T) {
	p := NewPool(2)
	fut := p.Submit(context.Background(), "db0", nil, func(fut *Future) error {
		fut.AddRowsProcessed(10)
		fut.ReportProgress("f", 50, "halfway")
		return nil
	})
	require.NotNil(t, fut)

	<-fut.Done()
	snap := fut.Snapshot()
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, 100, snap.ProgressPercent)
	assert.Equal(t, int64(10), snap.RowsProcessed)
}

func TestPoolJobError(t *testing.T) {
	p := NewPool(1)
	boom := errors.New("boom")
	fut := p.Submit(context.Background(), "db0", nil, func(fut *Future) error {
		return boom
	})
	<-fut.Done()
	snap := fut.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.ErrorIs(t, snap.Err, boom)
}

func TestPoolJobCancellation(t *testing.T) {
	p := NewPool(1)
	started := make(chan struct{})
	fut := p.Submit(context.Background(), "db0", nil, func(fut *Future) error {
		close(started)
		for {
			select {
			case <-fut.Context().Done():
				return fut.Context().Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
	})

	<-started
	fut.Cancel()
	<-fut.Done()

	snap := fut.Snapshot()
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.True(t, fut.Interrupted())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	release := make(chan struct{})

	var futs []*Future
	for i := 0; i < 5; i++ {
		futs = append(futs, p.Submit(context.Background(), "db0", nil, func(fut *Future) error {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			<-release

			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil
		}))
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	for _, f := range futs {
		<-f.Done()
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, 2, "pool of size 2 must never run more than 2 jobs concurrently")
}

func TestFutureWaitTimesOutWhileJobRuns(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	fut := p.Submit(context.Background(), "db0", nil, func(fut *Future) error {
		<-release
		return nil
	})

	err := fut.Wait(10 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, traceerr.Is(err, traceerr.KindTimeout))

	close(release)
	require.NoError(t, fut.Wait(time.Second))
	assert.Equal(t, StatusSuccess, fut.Snapshot().Status)
}

func TestFutureFreeCancelsRunningJob(t *testing.T) {
	p := NewPool(1)
	started := make(chan struct{})
	fut := p.Submit(context.Background(), "db0", nil, func(fut *Future) error {
		close(started)
		<-fut.Context().Done()
		return fut.Context().Err()
	})

	<-started
	fut.Free()
	<-fut.Done()
	assert.Equal(t, StatusCancelled, fut.Snapshot().Status)
}
