package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/config"
	"github.com/orgsignal/taskrouter/pkg/metrics"
	"github.com/orgsignal/taskrouter/pkg/task"
)

// webhookPayload is the JSON body posted for each notification.
type webhookPayload struct {
	EventType string     `json:"eventType"`
	SentAt    time.Time  `json:"sentAt"`
	Task      *task.Task `json:"task"`
}

// WebhookSink posts task notifications to an external HTTP endpoint.
type WebhookSink struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// NewWebhookSink creates a WebhookSink from the webhook configuration section.
func NewWebhookSink(cfg config.NotifyWebhook, log *zap.SugaredLogger) *WebhookSink {
	if log == nil {
		log = zap.S()
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		url:        cfg.URL,
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Named("webhook"),
	}
}

func (s *WebhookSink) Send(ctx context.Context, t *task.Task, eventType string) error {
	body, err := json.Marshal(webhookPayload{
		EventType: eventType,
		SentAt:    time.Now().UTC(),
		Task:      t,
	})
	if err != nil {
		metrics.NotifySendFailure.WithLabelValues("webhook").Inc()
		return errors.Wrap(err, "failed to marshal notification payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		metrics.NotifySendFailure.WithLabelValues("webhook").Inc()
		return errors.Wrap(err, "failed to create notification request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.NotifySendFailure.WithLabelValues("webhook").Inc()
		return errors.Wrapf(err, "failed to send notification to %s", s.url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		metrics.NotifySendFailure.WithLabelValues("webhook").Inc()
		s.log.Debugw("Notification webhook returned error",
			"url", s.url, "status", resp.StatusCode, "task", t.ID, "event", eventType)
		return errors.Errorf("notification webhook %s returned status %d", s.url, resp.StatusCode)
	}

	metrics.NotifySendSuccess.WithLabelValues("webhook").Inc()
	s.log.Debugw("Notification webhook delivered", "task", t.ID, "event", eventType)
	return nil
}

func (s *WebhookSink) Name() string {
	return "webhook"
}
