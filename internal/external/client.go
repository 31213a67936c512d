// Package external is the boundary between PraiaFinder and third-party HTTP
// APIs. Outbound calls go through BaseClient, which applies circuit breaking,
// retries with exponential backoff and jitter, trace propagation and error
// mapping.
package external

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"praiafinder/internal/types"
)

// RetryPolicy configures the retry behavior for the BaseClient.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy matches the forecast defaults: three retries starting
// at half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// BaseClient wraps an *http.Client and a circuit breaker. Provider clients
// embed it to inherit the retry and error-mapping behavior.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     SleepFunc
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the wait between retries. Tests use it to skip delays.
func WithSleepFunc(fn SleepFunc) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) {
		c.breaker = cb
	}
}

// NewBaseClient creates a BaseClient. The breaker counts whole calls: a call
// that exhausts its retries is one failure, so one caller's bad luck costs
// other callers nothing until more than five calls in a row have failed. It
// half-opens after 30 seconds.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about upstream health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	bc := &BaseClient{
		client:      httpClient,
		breaker:     cb,
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     sleepContext,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do sends a body-less request through the breaker, retrying transport
// errors, 429 and 5xx. Other statuses, 4xx included, are returned to the
// caller, who closes the body. Exhausted retries yield a *types.AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if id := types.GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-B3-TraceId", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.doWithRetries(req)
	})
	if breakerRejected(err) {
		return nil, c.mapError(nil, err)
	}
	return resp, err
}

// doWithRetries runs up to 1+MaxRetries attempts and maps the final failure.
func (c *BaseClient) doWithRetries(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	attempts := 1 + c.retryPolicy.MaxRetries
	var (
		failed  *http.Response // last retryable response, body still open
		lastErr error
	)
	for attempt := range attempts {
		if failed != nil {
			failed.Body.Close()
			failed = nil
		}

		r, err := c.client.Do(req)
		if err == nil && !retryable(r.StatusCode) {
			return r, nil
		}
		if err == nil {
			err = fmt.Errorf("upstream returned %d", r.StatusCode)
		}
		failed, lastErr = r, err

		if ctx.Err() != nil || attempt == attempts-1 {
			break
		}
		if err := c.sleepFn(ctx, c.computeBackoff(attempt, r)); err != nil {
			lastErr = err
			break
		}
	}

	if failed != nil {
		failed.Body.Close()
	}
	return nil, c.mapError(failed, lastErr)
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// backoffFactor and jitterShare shape the wait before retry n:
// MinWait*1.5^n plus up to 40% of MinWait of jitter, capped at MaxWait.
const (
	backoffFactor = 1.5
	jitterShare   = 0.4
)

// computeBackoff honors a Retry-After header (seconds or HTTP date) when the
// failed attempt carried one.
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	p := c.retryPolicy
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return min(time.Duration(secs)*time.Second, p.MaxWait)
			}
			if at, err := http.ParseTime(ra); err == nil {
				return min(max(time.Until(at), p.MinWait), p.MaxWait)
			}
		}
	}

	wait := float64(p.MinWait) * math.Pow(backoffFactor, float64(attempt))
	wait += rand.Float64() * jitterShare * float64(p.MinWait)
	return min(time.Duration(wait), p.MaxWait)
}

// mapError translates HTTP-level failures into AppErrors.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if breakerRejected(err) {
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			"circuit breaker is open; upstream service unavailable",
			err,
		)
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
		case resp.StatusCode >= 500:
			return types.NewAppError(
				types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("upstream returned %d after retries", resp.StatusCode),
				err,
			)
		}
	}

	return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
