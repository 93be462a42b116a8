package security

import (
	"fmt"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 3, nil)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst should be rate limited")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("a different identifier must have its own bucket")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(rate.Limit(1), 1, 2, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // a is now most recently used
	rl.Allow("c") // evicts b

	stats := rl.GetStats()
	if stats.CurrentEntries != 2 {
		t.Errorf("CurrentEntries = %d, want 2", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 1 {
		t.Errorf("TotalEvictions = %d, want 1", stats.TotalEvictions)
	}

	// b was evicted, so it starts with a fresh bucket
	if !rl.Allow("b") {
		t.Error("evicted identifier should get a fresh bucket")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 10, nil)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("id-%d", i))
	}

	if removed := rl.Cleanup(time.Hour); removed != 0 {
		t.Errorf("Cleanup(1h) removed %d fresh entries", removed)
	}

	time.Sleep(5 * time.Millisecond)
	if removed := rl.Cleanup(time.Millisecond); removed != 5 {
		t.Errorf("Cleanup(1ms) removed %d entries, want 5", removed)
	}
	if got := rl.GetStats().CurrentEntries; got != 0 {
		t.Errorf("CurrentEntries = %d, want 0", got)
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1, nil)
	rl.Stop()
	rl.Stop()
}
