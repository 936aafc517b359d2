package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/metrics"
)

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string

	// Topic is the Kafka topic audit events are written to.
	Topic string

	// SASLMechanism is "PLAIN" or empty for no authentication.
	SASLMechanism string
	Username      string
	Password      string

	// BatchSize is the number of messages batched before flushing.
	// Default: 100.
	BatchSize int

	// BatchTimeout is the maximum wait before flushing a batch.
	// Default: 1s.
	BatchTimeout time.Duration

	// WriteTimeout bounds each produce call. Default: 10s.
	WriteTimeout time.Duration
}

// KafkaSink writes audit events to a Kafka topic. Events are keyed by event
// ID so replays of the same event land on the same partition.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	messagesWritten atomic.Int64
	messagesFailed  atomic.Int64
}

// NewKafkaSink creates a KafkaSink.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("Kafka topic is required")
	}

	transport := &kafka.Transport{}
	switch cfg.SASLMechanism {
	case "":
	case "PLAIN":
		transport.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	default:
		return nil, errors.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Transport:    transport,
	}

	logger.Info("Kafka audit sink created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("sasl_enabled", cfg.SASLMechanism != ""))

	return &KafkaSink{
		writer: writer,
		logger: logger.Named("kafka-audit"),
	}, nil
}

func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("kafka sink is closed")
	}
	s.mu.Unlock()

	value, err := json.Marshal(event)
	if err != nil {
		s.messagesFailed.Add(1)
		metrics.AuditSinkErrors.WithLabelValues(s.Name(), "serialization").Inc()
		return errors.Wrap(err, "failed to marshal audit event")
	}

	msg := kafka.Message{
		Key:   []byte(event.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "severity", Value: []byte(event.Severity)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.messagesFailed.Add(1)
		metrics.AuditSinkErrors.WithLabelValues(s.Name(), "produce").Inc()
		s.logger.Warn("failed to write audit event to Kafka",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("error", err.Error()))
		return errors.Wrap(err, "failed to write to Kafka")
	}

	s.messagesWritten.Add(1)
	return nil
}

// MessageStats returns written and failed message counts.
func (s *KafkaSink) MessageStats() (written, failed int64) {
	return s.messagesWritten.Load(), s.messagesFailed.Load()
}

func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("closing Kafka audit sink",
		zap.Int64("messages_written", s.messagesWritten.Load()),
		zap.Int64("messages_failed", s.messagesFailed.Load()))

	return errors.Wrap(s.writer.Close(), "failed to close Kafka writer")
}

func (s *KafkaSink) Name() string {
	return "kafka"
}
