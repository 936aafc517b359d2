package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Sink is an audit event destination.
type Sink interface {
	// Write sends an audit event to the sink.
	Write(ctx context.Context, event *Event) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes audit events to a structured logger. It is always wired so
// the audit trail survives even when no external sink is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Write(_ context.Context, event *Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.OrganizationID != "" {
		fields = append(fields, zap.String("organization", event.OrganizationID))
	}
	if event.TaskID != "" {
		fields = append(fields, zap.String("task", event.TaskID))
	}
	if event.RuleID != "" {
		fields = append(fields, zap.String("rule", event.RuleID))
	}
	if event.InstanceID != "" {
		fields = append(fields, zap.String("instance", event.InstanceID))
	}
	if event.FlagCode != "" {
		fields = append(fields, zap.String("flag", event.FlagCode))
	}
	if event.Actor.User != "" {
		fields = append(fields, zap.String("actor_user", event.Actor.User))
	}
	if event.Actor.Component != "" {
		fields = append(fields, zap.String("actor_component", event.Actor.Component))
	}
	if len(event.Details) > 0 {
		if detailsJSON, err := json.Marshal(event.Details); err == nil {
			fields = append(fields, zap.String("details", string(detailsJSON)))
		}
	}

	s.logger.Info("audit_event", fields...)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}

func (s *LogSink) Name() string {
	return "log"
}

// WebhookSink posts audit events to an external HTTP endpoint.
type WebhookSink struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *zap.Logger
}

// WebhookSinkConfig configures a WebhookSink.
type WebhookSinkConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// NewWebhookSink creates a WebhookSink.
func NewWebhookSink(cfg WebhookSinkConfig, logger *zap.Logger) *WebhookSink {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		url:        cfg.URL,
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("webhook-sink"),
	}
}

func (s *WebhookSink) Write(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create audit request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug("audit webhook request failed",
			zap.String("url", s.url),
			zap.String("event_id", event.ID),
			zap.String("error", err.Error()))
		return errors.Wrapf(err, "failed to send audit event to %s", s.url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		s.logger.Debug("audit webhook returned error",
			zap.String("url", s.url),
			zap.String("event_id", event.ID),
			zap.Int("status_code", resp.StatusCode))
		return errors.Errorf("audit webhook %s returned status %d", s.url, resp.StatusCode)
	}
	return nil
}

func (s *WebhookSink) Close() error {
	return nil
}

func (s *WebhookSink) Name() string {
	return "webhook"
}

// MultiSink writes to several sinks in order. Per-sink failures are logged
// and the last error is returned.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink creates a sink that writes to multiple destinations.
func NewMultiSink(logger *zap.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

func (s *MultiSink) Write(ctx context.Context, event *Event) error {
	var lastErr error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, event); err != nil {
			s.logger.Warn("audit sink write failed",
				zap.String("sink", sink.Name()),
				zap.String("error", err.Error()))
			lastErr = err
		}
	}
	return lastErr
}

func (s *MultiSink) Close() error {
	var lastErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (s *MultiSink) Name() string {
	return "multi"
}
