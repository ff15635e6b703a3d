package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// ErrorObject is emitted only for error logs.
type ErrorObject struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack"`
}

// Entry is the single-line JSON format written to stdout.
type Entry struct {
	Timestamp     string       `json:"timestamp"`                // ISO 8601 UTC
	Level         string       `json:"level"`                    // DEBUG | INFO | ERROR
	Service       string       `json:"service"`                  // service name (e.g., orchestrator)
	Action        string       `json:"action"`                   // event name (e.g., trip_assigned)
	Message       string       `json:"message"`                  // human-readable description
	Hostname      string       `json:"hostname"`                 // service hostname
	CorrelationID string       `json:"correlation_id,omitempty"` // correlation ID for tracing
	TripID        string       `json:"trip_id,omitempty"`        // trip identifier (when applicable)
	Details       any          `json:"details,omitempty"`        // optional extra fields (map or struct)
	Error         *ErrorObject `json:"error,omitempty"`          // optional error details
}

// Logger writes structured JSON log lines, one per call.
type Logger struct {
	service  string
	hostname string
	mu       sync.Mutex
}

// New creates a structured logger for the given service.
func New(service string) *Logger {
	hn, err := os.Hostname()
	if err != nil || strings.TrimSpace(hn) == "" {
		hn = "unknown-hostname"
	}
	if strings.TrimSpace(service) == "" {
		service = "unknown-service"
	}
	return &Logger{service: service, hostname: hn}
}

// Debug writes a DEBUG line with optional details.
func (l *Logger) Debug(ctx context.Context, action, msg string, details any) {
	l.emit(l.entry(ctx, "DEBUG", action, msg, details, nil))
}

// Info writes an INFO line with optional details.
func (l *Logger) Info(ctx context.Context, action, msg string, details any) {
	l.emit(l.entry(ctx, "INFO", action, msg, details, nil))
}

// Error writes an ERROR line and attaches an error stack trace.
func (l *Logger) Error(ctx context.Context, action, msg string, err error, details any) {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	eo := &ErrorObject{Msg: strings.TrimSpace(err.Error()), Stack: string(debug.Stack())}
	l.emit(l.entry(ctx, "ERROR", action, msg, details, eo))
}

func (l *Logger) entry(ctx context.Context, level, action, msg string, details any, eo *ErrorObject) Entry {
	action = strings.TrimSpace(action)
	if action == "" {
		action = "unspecified"
	}
	return Entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Level:         level,
		Service:       l.service,
		Action:        action,
		Message:       strings.TrimSpace(msg),
		Hostname:      l.hostname,
		CorrelationID: CorrelationID(ctx),
		TripID:        TripID(ctx),
		Details:       details,
		Error:         eo,
	}
}

// emit marshals and prints a single JSON line to stdout.
func (l *Logger) emit(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(e)
	if err == nil {
		fmt.Println(string(b))
		return
	}

	// retry once without Details (common source of marshal errors)
	e.Details = nil
	if b, err := json.Marshal(e); err == nil {
		fmt.Println(string(b))
		return
	}

	fmt.Fprintf(os.Stderr, "log marshal failed: %v\n", err)
}

// ------------ Context helpers -------------

type ctxKey string

const (
	ctxKeyCorrelationID ctxKey = "tripflow_correlation_id"
	ctxKeyTripID        ctxKey = "tripflow_trip_id"
)

// WithCorrelationID returns a new context carrying correlation_id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// WithTripID returns a new context carrying trip_id.
func WithTripID(ctx context.Context, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyTripID, id)
}

// CorrelationID extracts correlation_id from ctx (if any).
func CorrelationID(ctx context.Context) string {
	return ctxString(ctx, ctxKeyCorrelationID)
}

// TripID extracts trip_id from ctx (if any).
func TripID(ctx context.Context) string {
	return ctxString(ctx, ctxKeyTripID)
}

func ctxString(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}
