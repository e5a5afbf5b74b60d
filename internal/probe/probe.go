// Package probe provides bounded readiness checks against service health
// endpoints.
package probe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Result is the outcome of a single readiness check.
type Result int

const (
	// NotReady covers connection failure, timeout, and non-success status
	// codes uniformly. The caller cannot distinguish the cause; none of
	// them make the service usable.
	NotReady Result = iota

	// Ready means the health endpoint answered with a success status.
	Ready
)

// String returns a human-readable name for the result.
func (r Result) String() string {
	if r == Ready {
		return "ready"
	}
	return "not_ready"
}

// ErrStartupTimeout is returned when the poll budget is exhausted without
// observing a Ready result.
var ErrStartupTimeout = errors.New("service did not become ready within poll budget")

// ErrCancelled is returned when the Poller's Cancel hook reported true
// between attempts. In-flight probes are never interrupted; the hook is
// consulted only at attempt boundaries.
var ErrCancelled = errors.New("readiness polling cancelled")

// errNotReady drives the retry loop; it never escapes this package.
var errNotReady = errors.New("not ready")

// Probe issues single bounded readiness checks. It has no retry logic of
// its own; retry policy belongs to Poller.
type Probe struct {
	client  *http.Client
	timeout time.Duration
}

// New creates a Probe whose checks are bounded by timeout.
func New(timeout time.Duration) *Probe {
	return &Probe{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// Check performs one readiness round trip against url.
func (p *Probe) Check(ctx context.Context, url string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NotReady
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return NotReady
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Ready
	}
	return NotReady
}

// AttemptFunc is called after every poll attempt with the polled service
// name, the attempt number (1-based), the result, and the round-trip
// latency.
type AttemptFunc func(service string, attempt int, result Result, latency time.Duration)

// Poller runs the bounded fixed-interval polling policy: up to MaxAttempts
// checks, Interval apart, stopping immediately on the first Ready.
type Poller struct {
	Probe       *Probe
	Service     string // Reported through OnAttempt and log lines
	Interval    time.Duration
	MaxAttempts int
	Logger      *slog.Logger
	OnAttempt   AttemptFunc // Optional
	Cancel      func() bool // Optional; checked between attempts
}

// WaitReady polls url until it reports Ready, the attempt budget is
// exhausted, or ctx is cancelled. It returns the number of attempts made.
// Exhaustion is reported as ErrStartupTimeout.
func (pl *Poller) WaitReady(ctx context.Context, url string) (int, error) {
	attempts := 0

	op := func() error {
		if pl.Cancel != nil && pl.Cancel() {
			return backoff.Permanent(ErrCancelled)
		}

		attempts++
		start := time.Now()
		result := pl.Probe.Check(ctx, url)
		latency := time.Since(start)

		if pl.OnAttempt != nil {
			pl.OnAttempt(pl.Service, attempts, result, latency)
		}

		if pl.Logger != nil {
			pl.Logger.Info("readiness_probe",
				"service", pl.Service,
				"url", url,
				"attempt", attempts,
				"max_attempts", pl.MaxAttempts,
				"result", result.String(),
				"latency", latency.String(),
			)
		}

		if result == Ready {
			return nil
		}
		return errNotReady
	}

	// Constant interval between attempts; MaxAttempts-1 retries after the
	// initial attempt.
	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(pl.Interval),
			uint64(pl.MaxAttempts-1),
		),
		ctx,
	)

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrCancelled) {
			return attempts, ErrCancelled
		}
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		return attempts, ErrStartupTimeout
	}

	return attempts, nil
}
