package ratelimit

import "context"

// RateLimiter throttles outbound sends per sending domain.
type RateLimiter interface {
	Allow(ctx context.Context, domain string) (bool, error)
	Wait(ctx context.Context, domain string) error
}
