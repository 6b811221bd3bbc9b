package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	ctx := context.Background()

	// 10 RPS with burst 1 means one token every 100ms.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})

	if err := l.Wait(ctx, "match"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "match_ids"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected global budget to apply across routes, waited %v", dur)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New(Config{})

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(context.Background(), "match"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("unlimited limiter blocked unexpectedly")
	}
}

func TestLimiter_RouteBudget(t *testing.T) {
	ctx := context.Background()
	l := New(Config{
		DefaultBurst: 1,
		RouteRPS:     map[string]float64{"match": 1},
	})

	if err := l.Wait(ctx, "match"); err != nil {
		t.Fatal(err)
	}

	// Other routes are not held back by the tight match budget.
	start := time.Now()
	if err := l.Wait(ctx, "account"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("account route blocked unexpectedly")
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(cancelCtx, "match"); err == nil {
		t.Errorf("expected match route to exceed the deadline")
	}
}
