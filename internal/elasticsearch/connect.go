package elasticsearch

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const maxRetryDelay = 30 * time.Second

// Connect creates a client and waits until the cluster answers a ping,
// retrying with exponential backoff up to attempts times.
func Connect(ctx context.Context, addr, index string, log *slog.Logger, attempts int, delay time.Duration) (*Client, error) {
	client, err := New(addr, index, log)
	if err != nil {
		return nil, err
	}
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; ; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx)
		cancel()
		if err == nil {
			return client, nil
		}
		if i+1 >= attempts {
			return nil, fmt.Errorf("elasticsearch unreachable after %d attempts: %w", attempts, err)
		}

		client.log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", attempts),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}
