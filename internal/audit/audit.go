package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeAccountCreated is recorded on signup.
	EventTypeAccountCreated EventType = "account_created"
	// EventTypeAccountDeleted is recorded when a user deletes their account.
	EventTypeAccountDeleted EventType = "account_deleted"
	// EventTypeLogin is recorded for every login attempt.
	EventTypeLogin EventType = "login"
	// EventTypePasswordReset is recorded for reset requests and completions.
	EventTypePasswordReset EventType = "password_reset"
	// EventTypeCredentialsSaved is recorded when AWS keys are stored.
	EventTypeCredentialsSaved EventType = "credentials_saved"
	// EventTypeCredentialsRemoved is recorded when AWS keys are removed.
	EventTypeCredentialsRemoved EventType = "credentials_removed"
	// EventTypeCredentialsDecrypt is recorded when stored keys fail to decrypt.
	EventTypeCredentialsDecrypt EventType = "credentials_decrypt"
	// EventTypeObjectDelete represents a single object deletion.
	EventTypeObjectDelete EventType = "object_delete"
	// EventTypePrefixDelete represents a bulk deletion under a prefix.
	EventTypePrefixDelete EventType = "prefix_delete"
)

// AuditEvent represents a single audit log event.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Operation string                 `json:"operation"`
	UserID    string                 `json:"user_id,omitempty"`
	Email     string                 `json:"email,omitempty"`
	Bucket    string                 `json:"bucket,omitempty"`
	Key       string                 `json:"key,omitempty"`
	ClientIP  string                 `json:"client_ip,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration_ms"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogAccount logs an account lifecycle event.
	LogAccount(ctx context.Context, eventType EventType, userID, email string, success bool, err error)

	// LogCredentials logs a change to, or failed use of, stored AWS keys.
	LogCredentials(ctx context.Context, eventType EventType, userID, bucket string, success bool, err error)

	// LogDelete logs an object or prefix deletion. deleted is the number of
	// objects removed.
	LogDelete(ctx context.Context, eventType EventType, userID, bucket, key string, deleted int, err error, duration time.Duration)
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

type requestInfoKey struct{}

// RequestInfo is the caller context attached to every event.
type RequestInfo struct {
	ClientIP  string
	UserAgent string
	RequestID string
}

// WithRequestInfo returns a context carrying info for audit events.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func requestInfo(ctx context.Context) RequestInfo {
	if ctx == nil {
		return RequestInfo{}
	}
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu        sync.Mutex
	events    []*AuditEvent
	maxEvents int
	writer    EventWriter
	now       func() time.Time
}

// NewLogger creates a new audit logger that keeps the last maxEvents events
// in memory and forwards each one to writer.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	return &auditLogger{
		events:    make([]*AuditEvent, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
		now:       time.Now,
	}
}

// Log logs an audit event. Writer failures never fail the caller.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
	return nil
}

func (l *auditLogger) newEvent(ctx context.Context, eventType EventType, success bool, err error) *AuditEvent {
	info := requestInfo(ctx)
	event := &AuditEvent{
		Timestamp: l.now(),
		EventType: eventType,
		Operation: string(eventType),
		ClientIP:  info.ClientIP,
		UserAgent: info.UserAgent,
		RequestID: info.RequestID,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

// LogAccount logs an account lifecycle event.
func (l *auditLogger) LogAccount(ctx context.Context, eventType EventType, userID, email string, success bool, err error) {
	event := l.newEvent(ctx, eventType, success, err)
	event.UserID = userID
	event.Email = email
	_ = l.Log(event)
}

// LogCredentials logs a change to, or failed use of, stored AWS keys.
func (l *auditLogger) LogCredentials(ctx context.Context, eventType EventType, userID, bucket string, success bool, err error) {
	event := l.newEvent(ctx, eventType, success, err)
	event.UserID = userID
	event.Bucket = bucket
	_ = l.Log(event)
}

// LogDelete logs an object or prefix deletion.
func (l *auditLogger) LogDelete(ctx context.Context, eventType EventType, userID, bucket, key string, deleted int, err error, duration time.Duration) {
	event := l.newEvent(ctx, eventType, err == nil, err)
	event.UserID = userID
	event.Bucket = bucket
	event.Key = key
	event.Duration = duration
	event.Metadata = map[string]interface{}{"deleted": deleted}
	_ = l.Log(event)
}

// GetEvents returns all audit events (for testing/querying).
func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// LogrusWriter writes events as structured log entries.
type LogrusWriter struct {
	logger *logrus.Logger
}

// NewLogrusWriter returns a writer that emits events through logger.
func NewLogrusWriter(logger *logrus.Logger) *LogrusWriter {
	return &LogrusWriter{logger: logger}
}

func (w *LogrusWriter) WriteEvent(event *AuditEvent) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": event.EventType,
		"success":    event.Success,
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.Bucket != "" {
		fields["bucket"] = event.Bucket
	}
	if event.Key != "" {
		fields["key"] = event.Key
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.ClientIP != "" {
		fields["client_ip"] = event.ClientIP
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := w.logger.WithFields(fields)
	if event.Error != "" {
		entry.WithField("error", event.Error).Warn("Audit event")
		return nil
	}
	entry.Info("Audit event")
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(*AuditEvent) error                                                  { return nil }
func (Nop) LogAccount(context.Context, EventType, string, string, bool, error)     {}
func (Nop) LogCredentials(context.Context, EventType, string, string, bool, error) {}

func (Nop) LogDelete(context.Context, EventType, string, string, string, int, error, time.Duration) {}
