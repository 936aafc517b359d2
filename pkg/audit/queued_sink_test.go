package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// collectingSink gathers written events for assertions.
type collectingSink struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (s *collectingSink) Write(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *collectingSink) Close() error { return nil }
func (s *collectingSink) Name() string { return "collecting" }

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// blockingSink parks every write until released.
type blockingSink struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSink) Write(_ context.Context, _ *Event) error {
	s.started <- struct{}{}
	<-s.release
	return nil
}

func (s *blockingSink) Close() error { return nil }
func (s *blockingSink) Name() string { return "blocking" }

func TestQueuedSinkProcessesEvents(t *testing.T) {
	inner := &collectingSink{}
	qs := NewQueuedSink(inner, DefaultQueuedSinkConfig(), zaptest.NewLogger(t))

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		require.NoError(t, qs.Write(ctx, NewEvent(EventTaskCreated)))
	}
	require.NoError(t, qs.Close())

	assert.Equal(t, 25, inner.count())
	processed, failed, dropped := qs.Stats()
	assert.Equal(t, int64(25), processed)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)
	assert.False(t, qs.CircuitOpen())
}

func TestQueuedSinkRejectsWritesAfterClose(t *testing.T) {
	qs := NewQueuedSink(&collectingSink{}, DefaultQueuedSinkConfig(), zaptest.NewLogger(t))
	require.NoError(t, qs.Close())
	assert.Error(t, qs.Write(context.Background(), NewEvent(EventTaskCreated)))
	// Closing twice is a no-op.
	assert.NoError(t, qs.Close())
}

func TestQueuedSinkOpensCircuitAfterConsecutiveFailures(t *testing.T) {
	inner := &collectingSink{err: errors.New("endpoint down")}
	cfg := DefaultQueuedSinkConfig()
	cfg.WorkerCount = 1
	cfg.CircuitBreakerThreshold = 3
	cfg.CircuitBreakerResetTime = time.Hour
	qs := NewQueuedSink(inner, cfg, zaptest.NewLogger(t))
	defer qs.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, qs.Write(ctx, NewEvent(EventTaskCreated)))
	}

	require.Eventually(t, qs.CircuitOpen, 5*time.Second, 10*time.Millisecond,
		"circuit must open after the configured number of consecutive failures")

	// With the circuit open, writes are dropped without touching the sink.
	before := inner.count()
	require.NoError(t, qs.Write(ctx, NewEvent(EventTaskCreated)))
	assert.Equal(t, before, inner.count())

	_, failed, dropped := qs.Stats()
	assert.Equal(t, int64(3), failed)
	assert.GreaterOrEqual(t, dropped, int64(1))
}

func TestQueuedSinkDropsWhenQueueFull(t *testing.T) {
	inner := &blockingSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	cfg := DefaultQueuedSinkConfig()
	cfg.QueueSize = 1
	cfg.WorkerCount = 1
	qs := NewQueuedSink(inner, cfg, zaptest.NewLogger(t))

	ctx := context.Background()
	require.NoError(t, qs.Write(ctx, NewEvent(EventTaskCreated)))
	// Wait for the worker to park on the first event, then fill the queue.
	<-inner.started
	require.NoError(t, qs.Write(ctx, NewEvent(EventTaskCreated)))
	require.NoError(t, qs.Write(ctx, NewEvent(EventTaskCreated)))

	_, _, dropped := qs.Stats()
	assert.Equal(t, int64(1), dropped)

	close(inner.release)
	require.NoError(t, qs.Close())
}
