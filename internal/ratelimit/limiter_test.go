package ratelimit

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// failingStore simulates a counter store outage
type failingStore struct {
	calls atomic.Int32
}

func (f *failingStore) Admit(ctx context.Context, counters []Counter, now time.Time) (int, error) {
	f.calls.Add(1)
	return -1, errors.New("store offline")
}

func (f *failingStore) Counts(ctx context.Context, keys []string, now time.Time) ([]int, error) {
	return nil, errors.New("store offline")
}

func (f *failingStore) Close() error { return nil }

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *time.Time) {
	t.Helper()
	store := NewMemoryStore(0)
	t.Cleanup(func() { store.Close() })

	clock := time.Date(2025, 3, 1, 12, 0, 10, 0, time.UTC)
	l := New(store, cfg)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestLimiter_AllScopesDisabled(t *testing.T) {
	store := &failingStore{}
	l := New(store, Config{})

	for i := 0; i < 50; i++ {
		if d := l.Check(context.Background(), "1.2.3.4"); !d.Allowed {
			t.Fatalf("disabled limiter rejected request %d: %+v", i+1, d)
		}
	}
	if store.calls.Load() != 0 {
		t.Errorf("store should not be touched when every scope is disabled, got %d calls", store.calls.Load())
	}
}

func TestLimiter_PerClientCeiling(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerClientPerMinute: 3, GlobalPerHour: 100, GlobalPerDay: 100})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := l.Check(ctx, "1.1.1.1"); !d.Allowed {
			t.Fatalf("request %d should be allowed: %+v", i+1, d)
		}
	}

	d := l.Check(ctx, "1.1.1.1")
	if d.Allowed {
		t.Fatal("4th request should be rejected")
	}
	if d.Scope != ScopeClient {
		t.Errorf("Scope = %q, want client", d.Scope)
	}
	want := "Rate limit exceeded. Maximum 3 requests per minute allowed. Please try again later."
	if d.Reason != want {
		t.Errorf("Reason = %q, want %q", d.Reason, want)
	}

	if d := l.Check(ctx, "2.2.2.2"); !d.Allowed {
		t.Errorf("other client should be unaffected: %+v", d)
	}
}

func TestLimiter_RejectionIncrementsNothing(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerClientPerMinute: 2, GlobalPerHour: 100, GlobalPerDay: 100})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Check(ctx, "1.1.1.1")
	}

	stats, err := l.Stats(ctx, "1.1.1.1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Client.Used != 2 || stats.Hourly.Used != 2 || stats.Daily.Used != 2 {
		t.Errorf("rejected requests were counted: %+v", stats)
	}
	if stats.Client.Limit != 2 || stats.Hourly.Limit != 100 {
		t.Errorf("limits not reported: %+v", stats)
	}
}

func TestLimiter_GlobalHourlyCeiling(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerClientPerMinute: 10, GlobalPerHour: 3, GlobalPerDay: 100})
	ctx := context.Background()

	for _, ip := range []string{"a", "b", "c"} {
		if d := l.Check(ctx, ip); !d.Allowed {
			t.Fatalf("client %s should be allowed: %+v", ip, d)
		}
	}

	d := l.Check(ctx, "d")
	if d.Allowed || d.Scope != ScopeHourly {
		t.Fatalf("expected hourly rejection, got %+v", d)
	}
	want := "Global rate limit exceeded. The service has reached its hourly capacity of 3 requests. Please try again in a few minutes."
	if d.Reason != want {
		t.Errorf("Reason = %q", d.Reason)
	}
}

func TestLimiter_GlobalDailyCeiling(t *testing.T) {
	l, clock := newTestLimiter(t, Config{PerClientPerMinute: 10, GlobalPerHour: 10, GlobalPerDay: 2})
	ctx := context.Background()

	l.Check(ctx, "a")
	*clock = clock.Add(time.Hour) // new hourly bucket, same day
	l.Check(ctx, "b")

	d := l.Check(ctx, "c")
	if d.Allowed || d.Scope != ScopeDaily {
		t.Fatalf("expected daily rejection, got %+v", d)
	}
	want := "Daily rate limit exceeded. The service has reached its daily capacity of 2 requests. Please try again tomorrow."
	if d.Reason != want {
		t.Errorf("Reason = %q", d.Reason)
	}
}

func TestLimiter_FirstFailingScopeWins(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerClientPerMinute: 1, GlobalPerHour: 1, GlobalPerDay: 1})
	ctx := context.Background()

	l.Check(ctx, "a")
	if d := l.Check(ctx, "a"); d.Scope != ScopeClient {
		t.Errorf("same client: Scope = %q, want client", d.Scope)
	}
	if d := l.Check(ctx, "b"); d.Scope != ScopeHourly {
		t.Errorf("other client: Scope = %q, want hourly", d.Scope)
	}
}

func TestLimiter_BucketRollover(t *testing.T) {
	l, clock := newTestLimiter(t, Config{PerClientPerMinute: 2, GlobalPerHour: 100, GlobalPerDay: 100})
	ctx := context.Background()

	l.Check(ctx, "a")
	l.Check(ctx, "a")
	if d := l.Check(ctx, "a"); d.Allowed {
		t.Fatal("should be rejected within the minute bucket")
	}

	*clock = clock.Add(time.Minute)
	if d := l.Check(ctx, "a"); !d.Allowed {
		t.Errorf("new minute bucket should admit: %+v", d)
	}

	stats, _ := l.Stats(ctx, "a")
	if stats.Client.Used != 1 || stats.Hourly.Used != 3 {
		t.Errorf("unexpected stats after rollover: %+v", stats)
	}
}

func TestLimiter_DisabledScopeIsSkipped(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerClientPerMinute: 0, GlobalPerHour: 2, GlobalPerDay: 0})
	ctx := context.Background()

	l.Check(ctx, "a")
	l.Check(ctx, "a")
	if d := l.Check(ctx, "a"); d.Scope != ScopeHourly {
		t.Errorf("Scope = %q, want hourly", d.Scope)
	}
}

func TestLimiter_FailClosed(t *testing.T) {
	l := New(&failingStore{}, DefaultConfig())

	d := l.Check(context.Background(), "a")
	if d.Allowed {
		t.Fatal("fail-closed limiter should reject when the store is down")
	}
	if d.Scope != ScopeUnavailable {
		t.Errorf("Scope = %q, want unavailable", d.Scope)
	}

	var exceeded *ExceededError
	if !errors.As(d.Err(), &exceeded) || !exceeded.Unavailable() {
		t.Errorf("Err() = %v, want unavailable ExceededError", d.Err())
	}
}

func TestLimiter_FailOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailOpen = true
	l := New(&failingStore{}, cfg)

	d := l.Check(context.Background(), "a")
	if !d.Allowed {
		t.Errorf("fail-open limiter should admit when the store is down: %+v", d)
	}
	if d.Err() != nil {
		t.Errorf("Err() = %v, want nil", d.Err())
	}
}

func TestLimiter_CanceledContext(t *testing.T) {
	tests := []struct {
		name     string
		failOpen bool
	}{
		{"fail closed", false},
		{"fail open", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.FailOpen = tt.failOpen
			l, _ := newTestLimiter(t, cfg)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			d := l.Check(ctx, "a")
			if d.Allowed {
				t.Fatal("canceled check should not admit")
			}
			if d.Scope != ScopeCanceled {
				t.Errorf("Scope = %q, want canceled", d.Scope)
			}
			var exceeded *ExceededError
			if !errors.As(d.Err(), &exceeded) || !exceeded.Canceled() || exceeded.Unavailable() {
				t.Errorf("Err() = %v, want canceled ExceededError", d.Err())
			}

			// nothing was counted
			if d := l.Check(context.Background(), "a"); !d.Allowed {
				t.Errorf("live request rejected after cancellation: %+v", d)
			}
		})
	}
}

func TestLimiter_StatsStoreError(t *testing.T) {
	l := New(&failingStore{}, DefaultConfig())
	if _, err := l.Stats(context.Background(), "a"); err == nil {
		t.Error("expected error from failing store")
	}
}

func TestLimiter_ConcurrentAdmission(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerClientPerMinute: 10, GlobalPerHour: 100, GlobalPerDay: 100})
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check(ctx, "shared").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 10 {
		t.Errorf("allowed = %d, want exactly 10", allowed.Load())
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		realIP    string
		want      string
	}{
		{"forwarded first entry", " 10.0.0.1 , 10.0.0.2", "192.168.1.1", "10.0.0.1"},
		{"real ip fallback", "", "192.168.1.1", "192.168.1.1"},
		{"empty forwarded entry", " , 10.0.0.2", "192.168.1.1", "192.168.1.1"},
		{"unknown", "", "", UnknownClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/chat-with-repo", nil)
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientKey(r); got != tt.want {
				t.Errorf("ClientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLimiter_UnknownClientsShareBucket(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerClientPerMinute: 1, GlobalPerHour: 100, GlobalPerDay: 100})
	ctx := context.Background()

	l.Check(ctx, UnknownClient)
	if d := l.Check(ctx, ""); d.Allowed {
		t.Error("empty key should share the unknown bucket")
	}
}

func TestLimiter_WithConfigSharesCounters(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerClientPerMinute: 5, GlobalPerHour: 100, GlobalPerDay: 100})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d := l.Check(ctx, "1.1.1.1"); !d.Allowed {
			t.Fatalf("request %d rejected: %s", i, d.Reason)
		}
	}

	tighter := l.WithConfig(Config{PerClientPerMinute: 2, GlobalPerHour: 100, GlobalPerDay: 100})
	d := tighter.Check(ctx, "1.1.1.1")
	if d.Allowed || d.Scope != ScopeClient {
		t.Errorf("expected client rejection after tightening, got %+v", d)
	}
	if l.Config().PerClientPerMinute != 5 {
		t.Error("original limiter config mutated")
	}
}
