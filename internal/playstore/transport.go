package playstore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StatusError reports a non-2xx storefront response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// retryPolicy is an exponential backoff with crypto jitter.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func newRetryPolicy(maxAttempts int, base, maxDelay time.Duration) retryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return retryPolicy{maxAttempts: maxAttempts, baseDelay: base, maxDelay: maxDelay}
}

func (p retryPolicy) shouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + jitter(half)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// transport sends storefront requests through a rate limiter, a circuit
// breaker and a retry loop.
type transport struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[[]byte]
	retry     retryPolicy
	logger    *zap.Logger
}

type transportConfig struct {
	userAgent         string
	timeout           time.Duration
	requestsPerSecond float64
	burst             int
	maxAttempts       int
	backoffInitial    time.Duration
	backoffMax        time.Duration
	breakerFailures   uint32
	breakerOpen       time.Duration
}

func newTransport(cfg transportConfig, client *http.Client, logger *zap.Logger) *transport {
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport()}
	} else {
		shared := *client
		client = &shared
	}
	if cfg.timeout > 0 {
		client.Timeout = cfg.timeout
	}
	limit := rate.Limit(cfg.requestsPerSecond)
	if cfg.requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.burst
	if burst <= 0 {
		burst = 1
	}
	failures := cfg.breakerFailures
	if failures == 0 {
		failures = 5
	}
	open := cfg.breakerOpen
	if open <= 0 {
		open = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "playstore",
		MaxRequests: 1,
		Timeout:     open,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return !statusErr.retryable()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &transport{
		client:    client,
		userAgent: cfg.userAgent,
		limiter:   rate.NewLimiter(limit, burst),
		breaker:   breaker,
		retry:     newRetryPolicy(cfg.maxAttempts, cfg.backoffInitial, cfg.backoffMax),
		logger:    logger,
	}
}

// do builds and sends a request, retrying retryable failures, and returns
// the response body.
func (t *transport) do(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		body, err := t.breaker.Execute(func() ([]byte, error) {
			return t.once(ctx, build)
		})
		if err == nil {
			return body, nil
		}
		if !t.retry.shouldRetry(err, attempt) {
			return nil, err
		}
		wait := t.retry.backoff(attempt)
		t.logger.Debug("retrying storefront request", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (t *transport) once(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, URL: req.URL.String()}
	}
	return body, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
