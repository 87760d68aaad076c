package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/vector"
)

// GuardConfig bounds analyzer usage
type GuardConfig struct {
	// MaxInFlight caps concurrent calls. If 0, defaults to 8.
	MaxInFlight int64

	// Timeout is applied to every individual attempt. If 0, no per-call deadline.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt
	MaxRetries uint

	// InitialBackoff and MaxBackoff shape the exponential retry schedule
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RatePerSecond enables a token bucket when positive
	RatePerSecond float64
	Burst         int
}

// Observer receives per-call outcomes; internal/metrics implements it
type Observer interface {
	ObserveAnalyzerCall(view View, outcome string, d time.Duration)
	ObserveAnalyzerRetry(view View)
}

// Guard decorates an Analyzer with a concurrency cap, rate limit, per-call
// timeout and bounded exponential backoff. Exhaustion yields ErrAnalysisUnavailable.
type Guard struct {
	next    Analyzer
	cfg     GuardConfig
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	obs     Observer
}

// GuardOption customizes a Guard
type GuardOption func(*Guard)

// WithObserver reports call outcomes to o
func WithObserver(o Observer) GuardOption {
	return func(g *Guard) { g.obs = o }
}

// NewGuard wraps next
func NewGuard(next Analyzer, cfg GuardConfig, opts ...GuardOption) *Guard {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 10 * cfg.InitialBackoff
	}

	g := &Guard{
		next: next,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(cfg.MaxInFlight),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Analyze runs the guarded call. The in-flight slot is held per attempt, so
// a call waiting out its backoff does not hold up other callers.
func (g *Guard) Analyze(ctx context.Context, req Request) (*Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialBackoff
	b.MaxInterval = g.cfg.MaxBackoff

	attempt := 0
	start := time.Now()
	res, err := backoff.Retry(ctx, func() (*Result, error) {
		attempt++
		if attempt > 1 && g.obs != nil {
			g.obs.ObserveAnalyzerRetry(req.View)
		}
		return g.attempt(ctx, req)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(g.cfg.MaxRetries+1))

	if err != nil {
		g.observe(req.View, outcomeOf(err), time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, errs.ErrEmptyContent) || errors.Is(err, errs.ErrAnalysisUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errs.ErrAnalysisUnavailable, err)
	}
	g.observe(req.View, "ok", time.Since(start))
	return res, nil
}

func (g *Guard) attempt(ctx context.Context, req Request) (*Result, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, backoff.Permanent(err)
	}
	defer g.sem.Release(1)

	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	res, err := g.next.Analyze(callCtx, req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, backoff.Permanent(ctx.Err())
		case errors.Is(err, ErrRejected), errors.Is(err, errs.ErrEmptyContent):
			return nil, backoff.Permanent(err)
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %w", errs.ErrTimeout, err)
		}
		return nil, err
	}
	if res == nil || len(res.Vector) == 0 || vector.Norm(res.Vector) == 0 {
		return nil, fmt.Errorf("%w: degenerate vector", errs.ErrAnalysisUnavailable)
	}
	return res, nil
}

func (g *Guard) observe(v View, outcome string, d time.Duration) {
	if g.obs != nil {
		g.obs.ObserveAnalyzerCall(v, outcome, d)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, errs.ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRejected), errors.Is(err, errs.ErrEmptyContent):
		return "rejected"
	default:
		return "error"
	}
}
