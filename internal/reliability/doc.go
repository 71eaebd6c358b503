// Package reliability provides the retry policies used to recover broker
// connections and consumer channels.
//
// Example usage:
//
//	policy := NewExponentialBackoff(500*time.Millisecond, 30*time.Second, 2.0, 10)
//	err := RetryNotify(ctx, policy, reconnect, func(attempt int, err error, delay time.Duration) {
//	    logger.Warn("reconnect failed", "attempt", attempt, "error", err, "retry_in", delay)
//	})
package reliability
