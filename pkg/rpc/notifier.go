package rpc

import (
	"context"

	"github.com/docbro/docbro/internal/logger"
)

// Notifier delivers server-to-client notifications. The wire implementation
// is transport-specific and pluggable; the core only requires this contract.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// NopNotifier drops all notifications. Used when no transport is attached.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, any) error { return nil }

// LogNotifier writes notifications to the structured log. Useful for the
// HTTP shim, which has no server-push channel.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, method string, params any) error {
	logger.DebugCtx(ctx, "notification", logger.KeyMethod, method)
	return nil
}
