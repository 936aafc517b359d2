package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/orgsignal/taskrouter/pkg/config"
	"github.com/orgsignal/taskrouter/pkg/metrics"
	"github.com/orgsignal/taskrouter/pkg/task"
)

// MailSink sends task lifecycle notifications by SMTP. Sends are retried
// with exponential backoff before the sink reports failure.
type MailSink struct {
	dialer         *gomail.Dialer
	log            *zap.SugaredLogger
	senderAddress  string
	senderName     string
	retryCount     int
	retryBackoffMs int
	receivers      []string
}

// NewMailSink creates a MailSink from the mail configuration section.
func NewMailSink(cfg config.Mail, log *zap.SugaredLogger) *MailSink {
	if log == nil {
		log = zap.S()
	}
	log = log.Named("mail")
	log.Infow("Initializing mail sink", "host", cfg.Host, "port", cfg.Port, "user", cfg.User)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		log.Warnw("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	senderAddr := cfg.SenderAddress
	if senderAddr == "" {
		senderAddr = "noreply@taskrouter.local"
	}
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = "TaskRouter"
	}

	retryCount := cfg.RetryCount
	if retryCount <= 0 {
		retryCount = 3
	}
	retryBackoffMs := cfg.RetryBackoffMs
	if retryBackoffMs <= 0 {
		retryBackoffMs = 100
	}

	return &MailSink{
		dialer:         d,
		log:            log,
		senderAddress:  senderAddr,
		senderName:     senderName,
		retryCount:     retryCount,
		retryBackoffMs: retryBackoffMs,
		receivers:      cfg.DefaultReceivers,
	}
}

func (s *MailSink) Send(_ context.Context, t *task.Task, eventType string) error {
	if len(s.receivers) == 0 {
		s.log.Debugw("No mail receivers configured, skipping notification",
			"task", t.ID, "event", eventType)
		return nil
	}

	params := TaskMailParams{
		EventType:       eventType,
		OrganizationID:  t.OrganizationID,
		TaskID:          t.ID,
		Title:           t.Title,
		Description:     t.Description,
		Status:          string(t.Status),
		Priority:        string(t.Priority),
		Severity:        string(t.Severity),
		AssigneeRole:    t.AssigneeRole,
		EscalationLevel: t.EscalationLevel,
		BrandingName:    s.senderName,
	}
	if t.ReactivityDeadlineAt != nil {
		params.DeadlineAt = t.ReactivityDeadlineAt.Format(time.RFC1123)
	}

	body, err := RenderTaskNotification(params)
	if err != nil {
		metrics.NotifySendFailure.WithLabelValues("mail").Inc()
		return err
	}
	subject := fmt.Sprintf("[%s] %s: %s", eventType, t.OrganizationID, t.Title)
	return s.send(s.receivers, subject, body)
}

func (s *MailSink) send(receivers []string, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.senderAddress, s.senderName)
	msg.SetHeader("Bcc", receivers...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	var lastErr error
	backoffMs := s.retryBackoffMs

	for attempt := 0; attempt <= s.retryCount; attempt++ {
		err := s.dialer.DialAndSend(msg)
		if err == nil {
			s.log.Debugw("Mail sent", "receivers", len(receivers), "attempt", attempt+1)
			metrics.NotifySendSuccess.WithLabelValues("mail").Inc()
			return nil
		}

		lastErr = err
		if attempt < s.retryCount {
			s.log.Warnw("Mail send attempt failed, retrying",
				"attempt", attempt+1, "backoffMs", backoffMs, "error", err)
			time.Sleep(time.Duration(backoffMs) * time.Millisecond)
			backoffMs = int(math.Min(float64(backoffMs)*2, 32000))
		}
	}

	s.log.Errorw("Failed to send mail", "attempts", s.retryCount+1, "error", lastErr)
	metrics.NotifySendFailure.WithLabelValues("mail").Inc()
	return lastErr
}

func (s *MailSink) Name() string {
	return "mail"
}
