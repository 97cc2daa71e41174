package cycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"viewcheck/store/storetest"
)

func TestEveryRepeatsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := storetest.NewMemory()
	r := newTestRunner(pipelineStore{Memory: m, window: time.Minute}, SinkFunc(func(context.Context, Report) error {
		if runs.Add(1) == 3 {
			cancel()
		}
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- r.Every(ctx, 5*time.Millisecond) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestStartStopWaitsForInFlightDelivery(t *testing.T) {
	entered := make(chan struct{})
	var delivered atomic.Bool

	m := storetest.NewMemory()
	r := newTestRunner(pipelineStore{Memory: m, window: time.Minute}, SinkFunc(func(context.Context, Report) error {
		if delivered.Load() {
			return nil
		}
		close(entered)
		time.Sleep(50 * time.Millisecond)
		delivered.Store(true)
		return nil
	}))

	stop := r.Start(context.Background(), time.Hour)
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never reached the sink")
	}
	stop()
	assert.True(t, delivered.Load(), "stop returned before the sink finished")
}
