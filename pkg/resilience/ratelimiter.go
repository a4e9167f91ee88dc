package resilience

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/constructionrag/ragcore/pkg/fn"
)

var ErrRateLimited = errors.New("rate limited")

// LimiterOpts configures one service's token bucket.
type LimiterOpts struct {
	// RatePerSecond is the steady-state number of tokens added per second.
	RatePerSecond float64
	// Burst is the maximum number of tokens the bucket can hold.
	Burst int
}

// Limiter is a thin wrapper around x/time/rate.Limiter giving it the
// Allow/Wait/Call/CallWait surface the rest of this package and pkg/fn
// Stage wrappers expect.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter creates a token bucket rate limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst)}
}

// Allow checks if a request is allowed right now (non-blocking).
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Call executes f if a token is available, otherwise returns ErrRateLimited.
func (l *Limiter) Call(ctx context.Context, f func(context.Context) error) error {
	if !l.Allow() {
		return ErrRateLimited
	}
	return f(ctx)
}

// CallWait waits for a token then executes f.
func (l *Limiter) CallWait(ctx context.Context, f func(context.Context) error) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}
	return f(ctx)
}

// LimiterStage wraps an fn.Stage with rate limiting (non-blocking, returns
// ErrRateLimited immediately if no token is available).
func LimiterStage[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if !l.Allow() {
			return fn.Err[Out](ErrRateLimited)
		}
		return stage(ctx, in)
	}
}

// LimiterStageWait wraps an fn.Stage with rate limiting (blocking, waits for
// a token up to ctx's deadline).
func LimiterStageWait[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if err := l.Wait(ctx); err != nil {
			return fn.Err[Out](err)
		}
		return stage(ctx, in)
	}
}

// ServiceLimiters is the single legitimate process-global piece of mutable
// state this engine carries: one token bucket per upstream service name
// ("embedding", "chat", "vlm", "partition", ...), instantiated once and
// injected explicitly into every adapter that calls that service. Buckets
// are created lazily from a per-service default the first time a service
// name is seen, unless Configure was called for it first.
type ServiceLimiters struct {
	mu       sync.Mutex
	defaults LimiterOpts
	byName   map[string]*Limiter
}

// NewServiceLimiters creates a registry that lazily creates buckets using
// defaultOpts for any service name not explicitly configured.
func NewServiceLimiters(defaultOpts LimiterOpts) *ServiceLimiters {
	return &ServiceLimiters{
		defaults: defaultOpts,
		byName:   make(map[string]*Limiter),
	}
}

// Configure sets explicit options for a named service, overriding the
// default the next time For is called for it. Safe to call concurrently
// with For.
func (s *ServiceLimiters) Configure(service string, opts LimiterOpts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[service] = NewLimiter(opts)
}

// For returns the bucket for service, creating it from the registry's
// default options on first use.
func (s *ServiceLimiters) For(service string) *Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byName[service]
	if !ok {
		l = NewLimiter(s.defaults)
		s.byName[service] = l
	}
	return l
}
