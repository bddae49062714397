package rediscache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/lookupcache/circuitbreaker"
)

// maxJitter is added on top of the exponential delay to spread retries.
const maxJitter = 100 * time.Millisecond

// withRetry runs fn with bounded retries, each attempt inside the circuit
// breaker's protect scope. Application-level errors back off as
// RetryDelay*2^attempt plus jitter; connection errors and breaker-open
// rejections fail fast.
func (c *Client) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		err := c.breaker.Protect(func() error { return fn(ctx) })
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, circuitbreaker.ErrOpen) {
			c.logger.Warn("operation rejected by open circuit breaker",
				zap.String("operation", operation))
			return err
		}
		if isConnectionError(err) {
			c.rec.RecordError("connection_error")
			c.logger.Error("connection error, not retrying",
				zap.String("operation", operation), zap.Error(err))
			return err
		}

		c.rec.RecordError(fmt.Sprintf("retry_attempt_%d", attempt))

		if attempt < c.config.MaxRetries {
			delay := backoffDelay(c.config.RetryDelay, attempt)
			c.logger.Debug("retrying cache operation",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	c.rec.RecordCircuitBreakerTrip()
	c.logger.Error("cache operation failed after retries",
		zap.String("operation", operation),
		zap.Int("max_retries", c.config.MaxRetries),
		zap.Error(lastErr),
	)
	return lastErr
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	return delay + time.Duration(rand.Int63n(int64(maxJitter)))
}

// isConnectionError classifies errors that indicate the backend is
// unreachable rather than an application-level failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
