package port

import "context"

// RateLimiter decides whether a caller identified by key may issue another capture.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
