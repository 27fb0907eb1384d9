package ratelimit

import "testing"

func TestRateLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	rl := New(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})

	if !rl.Allow() {
		t.Fatal("expected first call within burst to be allowed")
	}
	if !rl.Allow() {
		t.Fatal("expected second call within burst to be allowed")
	}
	if rl.Allow() {
		t.Error("expected third call to exceed burst and be denied")
	}
}

func TestRateLimiterResetRefillsBurst(t *testing.T) {
	rl := New(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})

	if !rl.Allow() {
		t.Fatal("expected first call to be allowed")
	}
	if rl.Allow() {
		t.Fatal("expected second call to be denied before reset")
	}

	rl.Reset()

	if !rl.Allow() {
		t.Error("expected call after Reset to be allowed again")
	}
}

func TestDefaultConfigHasPositiveLimits(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		t.Errorf("expected positive defaults, got %+v", cfg)
	}
}
