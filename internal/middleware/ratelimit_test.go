package middleware

import (
	"testing"
	"time"
)

func TestAttemptLimiterWindow(t *testing.T) {
	l := &AttemptLimiter{
		limit:   3,
		window:  time.Hour,
		clients: make(map[string]*windowState),
	}

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("attempt %d should pass", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatal("fourth attempt should be limited")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("limits must be per client")
	}

	// Expire the window manually.
	l.mu.Lock()
	l.clients["10.0.0.1"].windowFrom = time.Now().Add(-2 * time.Hour)
	l.mu.Unlock()
	if !l.allow("10.0.0.1") {
		t.Fatal("expired window should reset the count")
	}
}
