package port

import "context"

type IdempotencyRepository interface {
	// SetIdempotency claims key, returns false if it was already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ClearIdempotency releases a claimed key so the request can be retried
	ClearIdempotency(ctx context.Context, key string) error
}
