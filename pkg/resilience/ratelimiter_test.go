package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/constructionrag/ragcore/pkg/fn"
)

func TestLimiter_AllowRespectsBurst(t *testing.T) {
	l := NewLimiter(LimiterOpts{RatePerSecond: 1, Burst: 2})
	if !l.Allow() {
		t.Fatal("expected first call allowed")
	}
	if !l.Allow() {
		t.Fatal("expected second call allowed (burst=2)")
	}
	if l.Allow() {
		t.Fatal("expected third call to be rate limited")
	}
}

func TestLimiter_Wait(t *testing.T) {
	l := NewLimiter(LimiterOpts{RatePerSecond: 1000, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLimiter_Call_RateLimited(t *testing.T) {
	l := NewLimiter(LimiterOpts{RatePerSecond: 0.001, Burst: 1})
	ctx := context.Background()
	called := 0
	f := func(context.Context) error { called++; return nil }
	if err := l.Call(ctx, f); err != nil {
		t.Fatalf("expected first call through, got %v", err)
	}
	if err := l.Call(ctx, f); err != ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if called != 1 {
		t.Fatalf("expected f called once, got %d", called)
	}
}

func TestLimiterStage(t *testing.T) {
	l := NewLimiter(LimiterOpts{RatePerSecond: 0.001, Burst: 1})
	stage := LimiterStage(l, func(ctx context.Context, in int) fn.Result[int] {
		return fn.Ok(in * 2)
	})
	r := stage(context.Background(), 3)
	if r.IsErr() {
		t.Fatal("expected first call through limiter stage")
	}
	r2 := stage(context.Background(), 3)
	if !r2.IsErr() {
		t.Fatal("expected second call to be rate limited")
	}
}

func TestServiceLimiters_PerServiceIsolation(t *testing.T) {
	reg := NewServiceLimiters(LimiterOpts{RatePerSecond: 0.001, Burst: 1})
	embed := reg.For("embedding")
	chat := reg.For("chat")
	if !embed.Allow() {
		t.Fatal("expected embedding bucket to allow first call")
	}
	if embed.Allow() {
		t.Fatal("expected embedding bucket exhausted")
	}
	if !chat.Allow() {
		t.Fatal("expected chat bucket to have its own independent budget")
	}
}

func TestServiceLimiters_ConfigureOverridesDefault(t *testing.T) {
	reg := NewServiceLimiters(LimiterOpts{RatePerSecond: 0.001, Burst: 1})
	reg.Configure("vlm", LimiterOpts{RatePerSecond: 1000, Burst: 5})
	l := reg.For("vlm")
	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("expected configured burst of 5 to allow call %d", i)
		}
	}
}
