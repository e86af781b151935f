package api

import (
	"testing"
	"time"
)

func TestPlayerLimiter(t *testing.T) {
	lim := newPlayerLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)

	if !lim.allow("a", now) || !lim.allow("a", now) {
		t.Fatalf("burst not honored")
	}
	if lim.allow("a", now) {
		t.Fatalf("third request in the same instant allowed")
	}
	if !lim.allow("b", now) {
		t.Fatalf("limit leaked across players")
	}
	if !lim.allow("a", now.Add(time.Second)) {
		t.Fatalf("token not refilled after one second")
	}
}

func TestPlayerLimiterForgetsIdlePlayers(t *testing.T) {
	lim := newPlayerLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	lim.allow("a", now)
	lim.allow("b", now.Add(limiterIdleTTL+time.Minute))
	if _, ok := lim.entries["a"]; ok {
		t.Fatalf("idle limiter was not swept")
	}
}

func TestPlayerLimiterDisabled(t *testing.T) {
	lim := newPlayerLimiter(0, 0)
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !lim.allow("a", now) {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}

func TestIdempotencyCacheClaim(t *testing.T) {
	c := newIdempotencyCache(time.Minute)
	now := time.Unix(1_700_000_000, 0)

	e, owner := c.claim("k", now)
	if !owner {
		t.Fatalf("first claim should own the key")
	}
	waiter, owner := c.claim("k", now)
	if owner || waiter != e {
		t.Fatalf("second claim should wait on the first entry")
	}
	c.finish("k", e, 200, []byte(`{}`), now)
	<-waiter.done
	if waiter.status != 200 {
		t.Fatalf("status = %d", waiter.status)
	}

	if _, owner := c.claim("k", now.Add(2*time.Minute)); !owner {
		t.Fatalf("expired entry was not evicted")
	}

	failed, _ := c.claim("boom", now)
	c.finish("boom", failed, 503, nil, now)
	if _, owner := c.claim("boom", now); !owner {
		t.Fatalf("server error response was cached")
	}
}
