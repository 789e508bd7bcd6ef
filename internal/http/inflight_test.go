package http

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInFlightTracker_Count(t *testing.T) {
	var tracker InFlightTracker
	assert.Equal(t, int64(0), tracker.Count())

	tracker.Increment()
	tracker.Increment()
	assert.Equal(t, int64(2), tracker.Count())

	tracker.Decrement()
	tracker.Decrement()
	tracker.Decrement() // extra decrement is ignored
	assert.Equal(t, int64(0), tracker.Count())
}

func TestInFlightTracker_WaitForZero_Idle(t *testing.T) {
	var tracker InFlightTracker
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, tracker.WaitForZero(ctx), "idle tracker returns even with a done context")
}

func TestInFlightTracker_WaitForZero_Drains(t *testing.T) {
	var tracker InFlightTracker
	const workers = 5

	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < workers; i++ {
		tracker.Increment()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-release
			tracker.Decrement()
		}()
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- tracker.WaitForZero(ctx)
	}()

	select {
	case <-done:
		t.Fatal("WaitForZero returned while requests were in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForZero did not return after count reached zero")
	}

	// The tracker is reusable after draining.
	tracker.Increment()
	assert.Equal(t, int64(1), tracker.Count())
	tracker.Decrement()
}

func TestInFlightTracker_WaitForZero_ContextDeadline(t *testing.T) {
	var tracker InFlightTracker
	tracker.Increment()
	defer tracker.Decrement()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tracker.WaitForZero(ctx), context.DeadlineExceeded)
}
