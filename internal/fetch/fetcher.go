// Package fetch retrieves per-station, per-period payloads concurrently while
// keeping results aligned with their requests.
//
// One call to FetchAll is one or more rounds. Within a round every target is
// requested concurrently; the round either completes with an aligned result
// slice or fails as a whole on the first connection-level error and is
// retried after backoff. Rounds are bounded: when the budget is exhausted the
// caller gets ErrRetriesExhausted instead of a livelocked loop. Decode
// failures are not round failures: the one affected element becomes a
// missing batch and the round continues.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/couchcryptid/obsgrid/internal/domain"
	"github.com/couchcryptid/obsgrid/internal/observability"
)

// ErrRetriesExhausted reports that every round of a fetch hit a
// connection-level failure. It wraps the last underlying error.
var ErrRetriesExhausted = errors.New("fetch retries exhausted")

const (
	defaultMaxRounds      = 5
	defaultConcurrency    = 16
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultHTTPTimeout    = 30 * time.Second
)

// Target is one pre-resolved request descriptor. The network adapter builds
// targets; the fetcher never composes URLs itself.
type Target struct {
	StationID string
	Period    domain.Period
	URL       string
}

// DecodeFunc turns one response body into normalized observation records.
// A decode error marks that one batch missing; it never fails the round.
type DecodeFunc func(data []byte) ([]domain.ObservationRecord, error)

// Fetcher issues ordered concurrent fetch rounds with bounded retry.
type Fetcher struct {
	client         *http.Client
	breaker        *gobreaker.CircuitBreaker
	logger         *slog.Logger
	metrics        *observability.Metrics
	maxRounds      int
	concurrency    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxRounds bounds the number of whole-round attempts.
func WithMaxRounds(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxRounds = n
		}
	}
}

// WithBackoff sets the initial and maximum delay between rounds.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(f *Fetcher) {
		if initial > 0 {
			f.initialBackoff = initial
		}
		if maxDelay > 0 {
			f.maxBackoff = maxDelay
		}
	}
}

// WithConcurrency caps in-flight requests per round.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(f *Fetcher) { f.breaker = cb }
}

// NewFetcher builds a fetcher with sane defaults: 5 rounds, 16 concurrent
// requests, 200ms backoff doubling to 5s, and a breaker that opens after 5
// consecutive connection failures.
func NewFetcher(logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:         &http.Client{Timeout: defaultHTTPTimeout},
		logger:         logger.With(slog.String("component", "fetch")),
		metrics:        metrics,
		maxRounds:      defaultMaxRounds,
		concurrency:    defaultConcurrency,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fetch",
		MaxRequests: 3,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll fetches every target concurrently and returns one batch per
// target, index-aligned with the input regardless of completion order. The
// returned slice always has len(targets) elements on success. Connection
// failures retry the whole round until the round budget is spent, then
// FetchAll fails with ErrRetriesExhausted wrapping the last cause.
func (f *Fetcher) FetchAll(ctx context.Context, targets []Target, decode DecodeFunc) ([]domain.RawBatch, error) {
	if len(targets) == 0 {
		return []domain.RawBatch{}, nil
	}

	backoff := f.initialBackoff
	for round := 1; ; round++ {
		f.metrics.FetchRounds.Inc()

		batches, err := f.fetchRound(ctx, targets, decode)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			return batches, nil
		}
		if round >= f.maxRounds {
			return nil, fmt.Errorf("%w after %d rounds: %w", ErrRetriesExhausted, round, err)
		}

		f.metrics.FetchRetries.Inc()
		f.logger.Warn("fetch round failed; retrying",
			slog.Int("round", round),
			slog.Int("targets", len(targets)),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))

		if !sleepWithContext(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff = nextBackoff(backoff, f.maxBackoff)
	}
}

// fetchRound runs one concurrent round. A non-nil error means at least one
// target hit a connection-level failure and the whole round must be retried.
func (f *Fetcher) fetchRound(ctx context.Context, targets []Target, decode DecodeFunc) ([]domain.RawBatch, error) {
	batches := make([]domain.RawBatch, len(targets))
	sem := make(chan struct{}, f.concurrency)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		roundErr error
	)
	for i := range targets {
		wg.Add(1)
		go func(i int, tgt Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			batch, err := f.fetchOne(ctx, tgt, decode)
			if err != nil {
				mu.Lock()
				if roundErr == nil {
					roundErr = fmt.Errorf("station %s period %s: %w", tgt.StationID, tgt.Period, err)
				}
				mu.Unlock()
				return
			}
			batches[i] = batch
		}(i, targets[i])
	}
	wg.Wait()

	if roundErr != nil {
		return nil, roundErr
	}
	return batches, nil
}

// httpPayload is a completed response: any status the server actually
// produced except rate limiting and 5xx, which count as connection-level.
type httpPayload struct {
	status int
	body   []byte
}

func (f *Fetcher) fetchOne(ctx context.Context, tgt Target, decode DecodeFunc) (domain.RawBatch, error) {
	batch := domain.RawBatch{StationID: tgt.StationID, Period: tgt.Period}

	payload, err := f.get(ctx, tgt.URL)
	if err != nil {
		return domain.RawBatch{}, err
	}

	if payload.status < 200 || payload.status >= 300 {
		f.logger.Debug("payload unavailable",
			slog.String("station", tgt.StationID),
			slog.String("period", tgt.Period.String()),
			slog.Int("status", payload.status))
		batch.Missing = true
		return batch, nil
	}

	records, err := decode(payload.body)
	if err != nil {
		f.logger.Debug("payload decode failed",
			slog.String("station", tgt.StationID),
			slog.String("period", tgt.Period.String()),
			slog.Any("error", err))
		batch.Missing = true
		return batch, nil
	}

	batch.Records = records
	return batch, nil
}

// get performs one GET through the circuit breaker. Transport errors, rate
// limiting, and 5xx responses are connection-level failures; other statuses
// come back as a payload for the caller to classify.
func (f *Fetcher) get(ctx context.Context, url string) (httpPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return httpPayload{}, fmt.Errorf("build request: %w", err)
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("server error: status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return httpPayload{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		return httpPayload{}, err
	}
	payload, ok := result.(httpPayload)
	if !ok {
		return httpPayload{}, fmt.Errorf("unexpected breaker result type %T", result)
	}
	return payload, nil
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
