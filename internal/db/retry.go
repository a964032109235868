package db

import (
	"context"
	"errors"
)

// DefaultConflictRetries is the retry count components use when their options
// leave it at zero. RetryOnConflict itself falls back to it for a negative count.
const DefaultConflictRetries = 3

// RetryOnConflict runs fn until it returns something other than ErrConflict,
// at most retries+1 times. fn must re-read everything it writes.
func RetryOnConflict(ctx context.Context, retries int, fn func() error) error {
	if retries < 0 {
		retries = DefaultConflictRetries
	}
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}
