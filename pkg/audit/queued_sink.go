package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/metrics"
)

// QueuedSinkConfig configures a QueuedSink.
type QueuedSinkConfig struct {
	// QueueSize is the size of the async event queue. Default: 10000.
	QueueSize int

	// WorkerCount is the number of async processing workers. Default: 2.
	WorkerCount int

	// WriteTimeout bounds each write to the underlying sink. Default: 5s.
	WriteTimeout time.Duration

	// CircuitBreakerThreshold is the number of consecutive failures before
	// the circuit opens and events are dropped. Default: 5.
	CircuitBreakerThreshold int

	// CircuitBreakerResetTime is how long the circuit stays open before a
	// close is attempted. Default: 30s.
	CircuitBreakerResetTime time.Duration
}

// DefaultQueuedSinkConfig returns sensible defaults for a queued sink.
func DefaultQueuedSinkConfig() QueuedSinkConfig {
	return QueuedSinkConfig{
		QueueSize:               10000,
		WorkerCount:             2,
		WriteTimeout:            5 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerResetTime: 30 * time.Second,
	}
}

// QueuedSink wraps a Sink with an async queue so audit writes never block the
// request path. When the queue fills or the underlying sink keeps failing,
// events are dropped rather than applying backpressure.
type QueuedSink struct {
	sink   Sink
	queue  chan *Event
	config QueuedSinkConfig
	logger *zap.Logger

	droppedEvents   atomic.Int64
	processedEvents atomic.Int64
	failedEvents    atomic.Int64

	consecutiveFails atomic.Int32
	circuitOpen      atomic.Bool
	lastResetAttempt atomic.Int64 // unix seconds

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewQueuedSink wraps the given sink with a queue and starts its workers.
func NewQueuedSink(sink Sink, cfg QueuedSinkConfig, logger *zap.Logger) *QueuedSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	if cfg.CircuitBreakerResetTime <= 0 {
		cfg.CircuitBreakerResetTime = 30 * time.Second
	}

	qs := &QueuedSink{
		sink:   sink,
		queue:  make(chan *Event, cfg.QueueSize),
		config: cfg,
		logger: logger.Named("queued-sink").With(zap.String("sink", sink.Name())),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		qs.wg.Add(1)
		go qs.processQueue(i)
	}

	qs.logger.Info("queued audit sink started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.Duration("write_timeout", cfg.WriteTimeout))

	return qs
}

// Write enqueues an event for async processing. It never blocks: when the
// circuit is open or the queue is full the event is counted and dropped.
func (qs *QueuedSink) Write(_ context.Context, event *Event) error {
	if qs.closed.Load() {
		return errors.Errorf("queued sink %s is closed", qs.sink.Name())
	}

	if qs.circuitOpen.Load() {
		lastReset := qs.lastResetAttempt.Load()
		now := time.Now().Unix()
		if now-lastReset >= int64(qs.config.CircuitBreakerResetTime.Seconds()) {
			if qs.lastResetAttempt.CompareAndSwap(lastReset, now) {
				qs.logger.Info("attempting to close audit circuit breaker")
				qs.circuitOpen.Store(false)
				qs.consecutiveFails.Store(0)
			}
		} else {
			qs.droppedEvents.Add(1)
			metrics.AuditEventsDropped.WithLabelValues(qs.sink.Name(), "circuit_open").Inc()
			return nil
		}
	}

	select {
	case qs.queue <- event:
		return nil
	default:
		qs.droppedEvents.Add(1)
		metrics.AuditEventsDropped.WithLabelValues(qs.sink.Name(), "queue_full").Inc()
		qs.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
		return nil
	}
}

func (qs *QueuedSink) processQueue(workerID int) {
	defer qs.wg.Done()

	for event := range qs.queue {
		ctx, cancel := context.WithTimeout(context.Background(), qs.config.WriteTimeout)
		err := qs.sink.Write(ctx, event)
		cancel()

		if err != nil {
			qs.failedEvents.Add(1)
			fails := qs.consecutiveFails.Add(1)
			metrics.AuditSinkErrors.WithLabelValues(qs.sink.Name(), "write").Inc()

			qs.logger.Error("failed to write audit event",
				zap.Int("worker", workerID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.String("error", err.Error()),
				zap.Int32("consecutive_fails", fails))

			if int(fails) >= qs.config.CircuitBreakerThreshold {
				if qs.circuitOpen.CompareAndSwap(false, true) {
					qs.lastResetAttempt.Store(time.Now().Unix())
					qs.logger.Warn("audit circuit breaker opened",
						zap.Int32("consecutive_fails", fails))
				}
			}
			continue
		}

		qs.processedEvents.Add(1)
		qs.consecutiveFails.Store(0)
		metrics.AuditEventsProcessed.WithLabelValues(qs.sink.Name()).Inc()
	}
}

// Stats returns processed, failed and dropped event counts.
func (qs *QueuedSink) Stats() (processed, failed, dropped int64) {
	return qs.processedEvents.Load(), qs.failedEvents.Load(), qs.droppedEvents.Load()
}

// CircuitOpen reports whether the circuit breaker is currently open.
func (qs *QueuedSink) CircuitOpen() bool {
	return qs.circuitOpen.Load()
}

// Close drains the queue and shuts the workers and underlying sink down.
func (qs *QueuedSink) Close() error {
	if qs.closed.Swap(true) {
		return nil
	}
	close(qs.queue)
	qs.wg.Wait()
	return qs.sink.Close()
}

func (qs *QueuedSink) Name() string {
	return qs.sink.Name()
}
