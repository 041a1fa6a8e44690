// Package audit writes structured audit events for privileged and
// state-changing operations.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"chainspace.org/internal/obs"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	callerKey    contextKey = "caller"
)

// WithRequestID attaches a request correlation id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the correlation id attached to the context, if any.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithCaller attaches the acting authority to the context.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// Caller returns the acting authority attached to the context, if any.
func Caller(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent emits one audit line. It never fails the caller: audit is
// best-effort by contract and marshal errors degrade to a plain entry.
func LogEvent(ctx context.Context, event string, fields map[string]any) {
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "audit",
		"event": event,
	}
	if id := RequestID(ctx); id != "" {
		entry["request_id"] = id
	}
	if caller := Caller(ctx); caller != "" {
		entry["caller"] = caller
	}
	for k, v := range fields {
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		obs.Logger().Printf(`{"level":"audit","event":%q,"error":"marshal failed"}`, event)
		return
	}
	obs.Logger().Println(string(data))
}
