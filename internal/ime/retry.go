package ime

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// retry runs fn up to attempts times, waiting delay between attempts. It
// returns nil on the first success, otherwise the last error. A cancelled
// context stops the wait and is returned as the error.
func retry(ctx context.Context, clock clockwork.Clock, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if werr := wait(ctx, clock, delay); werr != nil {
				return werr
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// wait blocks for d on clock, or until ctx is done.
func wait(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
