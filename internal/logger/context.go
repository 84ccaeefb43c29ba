package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds operation-scoped logging context. For uploads the scope is
// one upload operation; for RPC it is one request.
type LogContext struct {
	Project     string
	ProjectType string
	OperationID string
	SourceType  string
	Method      string
	StartTime   time.Time
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// appendContextFields appends the LogContext fields (if any) to args.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}
	if lc.Project != "" {
		args = append(args, KeyProject, lc.Project)
	}
	if lc.ProjectType != "" {
		args = append(args, KeyProjectType, lc.ProjectType)
	}
	if lc.OperationID != "" {
		args = append(args, KeyOperationID, lc.OperationID)
	}
	if lc.SourceType != "" {
		args = append(args, KeySourceType, lc.SourceType)
	}
	if lc.Method != "" {
		args = append(args, KeyMethod, lc.Method)
	}
	if !lc.StartTime.IsZero() {
		args = append(args, KeyDuration, time.Since(lc.StartTime).Milliseconds())
	}
	return args
}
