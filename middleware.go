package orderstream

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/orderstream/order"
)

// MiddlewareFunc executes a command against an order.
type MiddlewareFunc func(ctx context.Context, orderID string, cmd Command) (order.State, error)

// Middleware wraps a MiddlewareFunc with cross-cutting behavior.
type Middleware func(next MiddlewareFunc) MiddlewareFunc

// RecoveryMiddleware recovers from panics in command execution and returns
// them as a PanicError.
func RecoveryMiddleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, orderID string, cmd Command) (state order.State, err error) {
			defer func() {
				if r := recover(); r != nil {
					commandType := ""
					if cmd != nil {
						commandType = cmd.CommandType()
					}
					state = order.State{}
					err = NewPanicError(commandType, r, string(debug.Stack()))
				}
			}()
			return next(ctx, orderID, cmd)
		}
	}
}

// LoggingMiddleware logs command execution.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Middleware returns the middleware function.
func (m *LoggingMiddleware) Middleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, orderID string, cmd Command) (order.State, error) {
			if cmd == nil {
				return next(ctx, orderID, cmd)
			}
			start := time.Now()

			m.logger.Debug("Executing command",
				"type", cmd.CommandType(),
				"orderId", orderID,
			)

			state, err := next(ctx, orderID, cmd)
			duration := time.Since(start)

			if err != nil {
				m.logger.Error("Command failed",
					"type", cmd.CommandType(),
					"orderId", orderID,
					"duration", duration,
					"retryable", IsRetryable(err),
					"error", err,
				)
			} else {
				m.logger.Info("Command completed",
					"type", cmd.CommandType(),
					"orderId", orderID,
					"duration", duration,
					"status", state.Status,
					"version", state.Version,
				)
			}

			return state, err
		}
	}
}

// TimeoutMiddleware adds a timeout to command execution.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, orderID string, cmd Command) (order.State, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, orderID, cmd)
		}
	}
}

// CorrelationIDMiddleware ensures every command carries a correlation ID in
// the metadata of the events it appends. An ID already present in the context
// is kept; otherwise generator (uuid.NewString when nil) supplies one.
func CorrelationIDMiddleware(generator func() string) Middleware {
	if generator == nil {
		generator = uuid.NewString
	}

	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, orderID string, cmd Command) (order.State, error) {
			m := MetadataFromContext(ctx)
			if m.CorrelationID == "" {
				m.CorrelationID = generator()
				ctx = ContextWithMetadata(ctx, m)
			}
			return next(ctx, orderID, cmd)
		}
	}
}

// MetricsCollector records command executions.
type MetricsCollector interface {
	RecordCommand(cmdType string, duration time.Duration, err error)
}

// MetricsMiddleware creates middleware that records metrics.
func MetricsMiddleware(collector MetricsCollector) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, orderID string, cmd Command) (order.State, error) {
			start := time.Now()
			state, err := next(ctx, orderID, cmd)
			if cmd != nil {
				collector.RecordCommand(cmd.CommandType(), time.Since(start), err)
			}
			return state, err
		}
	}
}
