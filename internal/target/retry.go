package target

import (
	"context"
	"math"
	"time"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// response is the retrier's view of one HTTP exchange.
type response struct {
	statusCode int
	body       []byte
}

// retrier retries transient failures with configurable backoff.
type retrier struct {
	config types.RetryConfig
}

func newRetrier(config types.RetryConfig) *retrier {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.Backoff == "" {
		config.Backoff = "exponential"
	}
	if len(config.RetryOn) == 0 {
		config.RetryOn = []int{429, 502, 503, 504}
	}
	return &retrier{config: config}
}

// do executes fn until it succeeds, exhausts the retry budget, or the
// context ends. Network errors and retryable status codes both count as
// transient.
func (r *retrier) do(ctx context.Context, fn func() (*response, error)) (*response, error) {
	var lastErr error
	var lastResp *response

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := fn()
		if err != nil {
			lastErr = err
			if attempt < r.config.MaxRetries {
				r.sleep(ctx, attempt)
				continue
			}
			return nil, lastErr
		}

		lastResp = resp
		if r.shouldRetry(resp.statusCode) && attempt < r.config.MaxRetries {
			r.sleep(ctx, attempt)
			continue
		}
		return resp, nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func (r *retrier) shouldRetry(statusCode int) bool {
	for _, code := range r.config.RetryOn {
		if statusCode == code {
			return true
		}
	}
	return false
}

func (r *retrier) sleep(ctx context.Context, attempt int) {
	var delay time.Duration
	switch r.config.Backoff {
	case "linear":
		delay = time.Duration(attempt+1) * time.Second
	case "exponential":
		delay = time.Duration(math.Pow(2, float64(attempt))) * time.Second
	default:
		delay = time.Second
	}
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
