// Package retry provides exponential backoff retry for transient failures
// of remote reads: NATS bucket access, KV fetches and connection setup.
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay (startup)
//   - Fetch(): 3 attempts, 50ms-500ms delay, transient errors only
//
// Retryable narrows which errors are retried. Fetch() sets it to
// errors.IsTransient, so a missing key or a fatal decode error returns after
// the first attempt:
//
//	data, err := retry.DoWithResult(ctx, retry.Fetch(), func() ([]byte, error) {
//		return kv.Get(ctx, key)
//	})
//
// Errors wrapped with NonRetryable are never retried regardless of
// Retryable. Every wait respects context cancellation.
package retry
