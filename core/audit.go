package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// AuthEventType identifies an account or session lifecycle event.
type AuthEventType string

const (
	EventSessionCreated AuthEventType = "session_created"
	EventSessionRevoked AuthEventType = "session_revoked"
	EventUserRegistered AuthEventType = "user_registered"
	EventSignupDenied   AuthEventType = "signup_denied"
	EventProviderLinked AuthEventType = "provider_linked"
	EventLoginFailed    AuthEventType = "login_failed"
)

// AuthEvent is a best-effort, append-only record intended for external sinks.
type AuthEvent struct {
	OccurredAt time.Time
	Type       AuthEventType
	UserID     string
	SessionID  string
	Method     string
	Provider   string
	Reason     string
}

// AuthEventLogger records auth events. Implementations should be non-blocking and best-effort.
type AuthEventLogger interface {
	LogAuthEvent(ctx context.Context, e AuthEvent) error
}

// LogrusEventLogger writes events as structured log lines.
type LogrusEventLogger struct {
	log logrus.FieldLogger
}

func NewLogrusEventLogger(l logrus.FieldLogger) *LogrusEventLogger {
	return &LogrusEventLogger{log: l}
}

func (l *LogrusEventLogger) LogAuthEvent(_ context.Context, e AuthEvent) error {
	fields := logrus.Fields{"event": string(e.Type), "occurred_at": e.OccurredAt}
	if e.UserID != "" {
		fields["user_id"] = e.UserID
	}
	if e.SessionID != "" {
		fields["session_id"] = e.SessionID
	}
	if e.Method != "" {
		fields["method"] = e.Method
	}
	if e.Provider != "" {
		fields["provider"] = e.Provider
	}
	if e.Reason != "" {
		fields["reason"] = e.Reason
	}
	l.log.WithFields(fields).Info("auth_event")
	return nil
}

func (s *Service) logEvent(ctx context.Context, e AuthEvent) {
	if s.authlog == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := s.authlog.LogAuthEvent(ctx, e); err != nil {
		s.log.WithError(err).WithField("event", string(e.Type)).Warn("auth_event_log_failed")
	}
}
