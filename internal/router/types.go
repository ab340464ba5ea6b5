package router

import (
	"context"
	"errors"
	"time"

	"github.com/nlowell/bizsock/internal/protocol"
)

// Errors
var (
	ErrQueueFull   = errors.New("message queue full")
	ErrQueueClosed = errors.New("message queue closed")
)

// Handler processes one routed message.
type Handler func(ctx context.Context, msg *protocol.Message, rc *RouteContext) error

// Middleware runs before a handler. Returning a critical error (see
// Critical) aborts the message's pipeline; any other error is logged and
// the pipeline continues.
type Middleware func(ctx context.Context, msg *protocol.Message, rc *RouteContext) error

// RouteContext carries per-delivery routing state.
type RouteContext struct {
	// SenderID is the originating connection id ("" for server-originated).
	SenderID string

	// Deferred marks deliveries coming from the queue drain loop.
	Deferred bool

	// Attempt is the retry attempt number (0 = first delivery).
	Attempt int
}

// RouteOptions configure one registered handler.
type RouteOptions struct {
	// Priority orders handlers for a type, highest first. Ties are broken
	// by registration order.
	Priority int

	// Middleware wraps only this route, after the global pipeline.
	Middleware []Middleware

	// RetryOnError makes queued deliveries of this type retryable.
	RetryOnError bool
}

// Config holds configuration for the Message Router.
type Config struct {
	// QueueCapacity bounds the deferred-delivery queue.
	QueueCapacity int

	// RetryAttempts is the number of retries after the first failed
	// queued delivery.
	RetryAttempts int

	// RetryDelay is the fixed delay before a failed task re-enters the queue.
	RetryDelay time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 1000,
		RetryAttempts: 3,
		RetryDelay:    250 * time.Millisecond,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Routed     int64
	Unrouted   int64
	Rejected   int64
	Failed     int64
	Retried    int64
	QueueDepth int
}

// criticalError marks a failure that must abort the whole pipeline for
// the current message (rate-limit rejections and the like).
type criticalError struct {
	err error
}

// Critical wraps err as a pipeline-critical failure.
func Critical(err error) error {
	return &criticalError{err: err}
}

func (e *criticalError) Error() string { return e.err.Error() }
func (e *criticalError) Unwrap() error { return e.err }

// IsCritical reports whether err (or anything it wraps) is critical.
func IsCritical(err error) bool {
	var ce *criticalError
	return errors.As(err, &ce)
}

// task is one queued delivery awaiting the drain loop.
type task struct {
	msg      *protocol.Message
	rc       *RouteContext
	priority int
	attempts int
}
