// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package appserver

import (
	"context"
	"log/slog"
	"time"
)

// Keys for the attributes the built-in owner-thread logger attaches to
// every record.
const (
	// LoggerComponentKey names the component emitting the record: either
	// "datastore" or "messagequeue".
	LoggerComponentKey = "component"
	// LoggerStoreKey names the DataStore or MessageQueue instance a record
	// concerns. The associated [slog.Value] is a string.
	LoggerStoreKey = "store"
	// LoggerOperationKey names the request kind being processed (e.g.
	// "write", "get_messages", "shutdown"). The associated [slog.Value] is a
	// string.
	LoggerOperationKey = "operation"
	// LoggerLatencyKey is the time the owner thread spent handling an
	// operation, from accepting the request until logging it; time spent
	// queued before that is not included. The associated [slog.Value] is a
	// time.Duration.
	LoggerLatencyKey = "latency"
	// LoggerErrorKey carries a failed operation's error text.
	LoggerErrorKey = "error"
	// LoggerReasonKey carries a human-readable shutdown reason.
	LoggerReasonKey = "reason"
)

// OperationLogger logs the outcome of one owner-thread request using the
// provided [slog.Handler]. A successful operation is logged at INFO, a
// failed one at WARN.
type OperationLogger struct {
	log *slog.Logger
}

// NewOperationLogger builds an OperationLogger bound to component and
// store (the names of the subsystem and the specific instance it owns).
func NewOperationLogger(handler slog.Handler, component, store string) *OperationLogger {
	return &OperationLogger{
		log: slog.New(handler).With(
			slog.String(LoggerComponentKey, component),
			slog.String(LoggerStoreKey, store),
		),
	}
}

// Log records one request's outcome. start is when the request was
// accepted by the owner thread's select loop; err is the result returned
// to the caller, or nil.
func (l *OperationLogger) Log(ctx context.Context, operation string, start time.Time, err error) {
	latency := time.Since(start)

	if err == nil {
		l.log.LogAttrs(ctx, slog.LevelInfo, operation,
			slog.String(LoggerOperationKey, operation),
			slog.Duration(LoggerLatencyKey, latency),
		)
		return
	}

	l.log.LogAttrs(ctx, slog.LevelWarn, operation,
		slog.String(LoggerOperationKey, operation),
		slog.Duration(LoggerLatencyKey, latency),
		slog.String(LoggerErrorKey, err.Error()),
	)
}

// Shutdown records the owner thread's termination.
func (l *OperationLogger) Shutdown(ctx context.Context, reason string) {
	l.log.LogAttrs(ctx, slog.LevelInfo, "shutdown",
		slog.String(LoggerOperationKey, "shutdown"),
		slog.String(LoggerReasonKey, reason),
	)
}
