package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// JSONLogger is the production Logger implementation used outside of tests.
// Unlike the pattern it is grounded on, it carries no process-wide singleton:
// callers construct one JSONLogger per top-level component and pass it down
// explicitly (spec §9's no-global-mutable-state note).
//
// Format selection: text for local development, JSON when
// KUBERNETES_SERVICE_HOST is set (overridable via AUTORESEARCH_LOG_FORMAT),
// so aggregated cluster logs are machine-parseable without a flag a caller
// has to remember to set.
type JSONLogger struct {
	level     string
	debug     bool
	component string
	format    string
	output    io.Writer
	mu        sync.RWMutex

	errorLimiter *RateLimiter
}

// NewJSONLogger builds a root logger for the named component
// (e.g. "framework/orchestration"). Level defaults to INFO; set
// AUTORESEARCH_LOG_LEVEL=DEBUG to enable Debug output.
func NewJSONLogger(component string) *JSONLogger {
	level := strings.ToUpper(os.Getenv("AUTORESEARCH_LOG_LEVEL"))
	if level == "" {
		level = "INFO"
	}
	debug := level == "DEBUG" || os.Getenv("AUTORESEARCH_DEBUG") == "true"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if f := os.Getenv("AUTORESEARCH_LOG_FORMAT"); f != "" {
		format = f
	}

	return &JSONLogger{
		level:        level,
		debug:        debug,
		component:    component,
		format:       format,
		output:       os.Stdout,
		errorLimiter: NewRateLimiter(time.Second),
	}
}

// WithComponent returns a Logger scoped to a different component, sharing
// this logger's level/format/output/rate-limiter configuration.
func (l *JSONLogger) WithComponent(component string) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &JSONLogger{
		level:        l.level,
		debug:        l.debug,
		component:    component,
		format:       l.format,
		output:       l.output,
		errorLimiter: l.errorLimiter,
	}
}

func (l *JSONLogger) Info(msg string, fields map[string]interface{})  { l.log("INFO", msg, fields) }
func (l *JSONLogger) Warn(msg string, fields map[string]interface{})  { l.log("WARN", msg, fields) }
func (l *JSONLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *JSONLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func (l *JSONLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("INFO", msg, withTraceFields(ctx, fields))
}

func (l *JSONLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("WARN", msg, withTraceFields(ctx, fields))
}

func (l *JSONLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, withTraceFields(ctx, fields))
}

func (l *JSONLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, withTraceFields(ctx, fields))
}

// withTraceFields copies fields and attaches a query_id if the context
// carries one (stored by WithQueryID), so every log line logged under that
// context can be correlated without threading a logger through every call.
func withTraceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if qid := ctx.Value(queryIDKey{}); qid != nil {
		out["query_id"] = qid
	}
	return out
}

// queryIDKey is the context key WithQueryID stores a query_id under.
// Defined here so logging can read it without the core package importing
// any caller's package.
type queryIDKey struct{}

// WithQueryID returns a context carrying queryID for log correlation.
func WithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, queryIDKey{}, queryID)
}

func (l *JSONLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)
	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
	} else {
		l.logText(timestamp, level, msg, fields)
	}
}

func (l *JSONLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"component": l.component,
		"message":   msg,
	}
	for k, v := range fields {
		if k == "timestamp" || k == "level" || k == "component" || k == "message" {
			continue
		}
		entry[k] = v
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *JSONLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	if len(fields) > 0 {
		b.WriteString(" ")
		for _, k := range []string{"query_id", "error", "op"} {
			if v, ok := fields[k]; ok {
				b.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}
		for k, v := range fields {
			switch k {
			case "query_id", "error", "op":
				continue
			}
			b.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
	}
	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n", timestamp, level, l.component, msg, b.String())
}

func (l *JSONLogger) shouldLog(level string) bool {
	levels := map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}
	current, ok1 := levels[l.level]
	target, ok2 := levels[level]
	if !ok1 || !ok2 {
		return true
	}
	return target >= current
}

// SetOutput redirects log output; used by tests to capture log lines.
func (l *JSONLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// RateLimiter throttles a noisy call site to at most one Allow()==true per
// interval, used to keep Error-level logging from flooding during an
// incident (spec §9 observability note).
type RateLimiter struct {
	interval time.Duration
	lastTime time.Time
	mu       sync.Mutex
}

// NewRateLimiter builds a limiter allowing one event per interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Allow reports whether an event may proceed now, advancing the window.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.lastTime) >= r.interval {
		r.lastTime = now
		return true
	}
	return false
}

var _ ComponentAwareLogger = (*JSONLogger)(nil)
