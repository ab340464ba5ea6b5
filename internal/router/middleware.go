package router

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nlowell/bizsock/internal/protocol"
)

// RateLimit returns a middleware allowing each sender limit messages per
// window. Over-limit messages fail critically (never retried) with the
// rate-limited wire code. Server-originated messages (no sender) are
// never limited.
func RateLimit(limit int, window time.Duration) Middleware {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	perSecond := rate.Limit(float64(limit) / window.Seconds())

	return func(ctx context.Context, msg *protocol.Message, rc *RouteContext) error {
		sender := rc.SenderID
		if sender == "" {
			sender = msg.ClientID
		}
		if sender == "" {
			return nil
		}

		mu.Lock()
		lim, ok := limiters[sender]
		if !ok {
			lim = rate.NewLimiter(perSecond, limit)
			limiters[sender] = lim
		}
		mu.Unlock()

		if !lim.Allow() {
			return Critical(protocol.NewError(protocol.CodeRateLimited, "rate limit exceeded"))
		}
		return nil
	}
}
