package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FeelPulse/repostalker/internal/logger"
)

const (
	ClientWindow = time.Minute
	HourlyWindow = time.Hour
	DailyWindow  = 24 * time.Hour

	// UnknownClient is the shared key for requests without forwarding headers
	UnknownClient = "unknown"
)

// Scope names the window that decided a request
type Scope string

const (
	ScopeNone        Scope = ""
	ScopeClient      Scope = "client"
	ScopeHourly      Scope = "hourly"
	ScopeDaily       Scope = "daily"
	ScopeUnavailable Scope = "unavailable"
	ScopeCanceled    Scope = "canceled" // caller went away before admission
)

// Config holds the window ceilings. A ceiling <= 0 disables that scope.
type Config struct {
	PerClientPerMinute int
	GlobalPerHour      int
	GlobalPerDay       int
	FailOpen           bool // admit when the store errors
}

// DefaultConfig returns 10/min per client, 50/hour and 2000/day globally
func DefaultConfig() Config {
	return Config{
		PerClientPerMinute: 10,
		GlobalPerHour:      50,
		GlobalPerDay:       2000,
	}
}

// Decision is the outcome of a Check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Scope   Scope  `json:"scope,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Err returns nil for allowed decisions, otherwise an *ExceededError
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &ExceededError{Scope: d.Scope, Reason: d.Reason}
}

// ExceededError is returned when a request is rejected
type ExceededError struct {
	Scope  Scope
	Reason string
}

func (e *ExceededError) Error() string {
	return e.Reason
}

// Unavailable reports whether the rejection came from a store outage
func (e *ExceededError) Unavailable() bool {
	return e.Scope == ScopeUnavailable
}

// Canceled reports whether the caller's context ended before admission
func (e *ExceededError) Canceled() bool {
	return e.Scope == ScopeCanceled
}

const unavailableReason = "Rate limiting is temporarily unavailable. Please try again later."

// Limiter enforces the per-client and global bucketed windows
type Limiter struct {
	store CounterStore
	cfg   Config
	now   func() time.Time
	log   *logger.Logger
}

// New creates a limiter over the given store
func New(store CounterStore, cfg Config) *Limiter {
	return &Limiter{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   logger.Named("ratelimit"),
	}
}

// Config returns the configured ceilings
func (l *Limiter) Config() Config {
	return l.cfg
}

// WithConfig returns a limiter with new ceilings over the same store.
// Counters already admitted keep counting against the new ceilings.
func (l *Limiter) WithConfig(cfg Config) *Limiter {
	return &Limiter{store: l.store, cfg: cfg, now: l.now, log: l.log}
}

type window struct {
	scope  Scope
	key    string
	limit  int
	length time.Duration
}

func bucket(now time.Time, length time.Duration) int64 {
	return now.UnixMilli() / length.Milliseconds()
}

func (l *Limiter) windows(clientKey string, now time.Time) []window {
	if clientKey == "" {
		clientKey = UnknownClient
	}
	return []window{
		{ScopeClient, "rate_limit:ip:" + clientKey + ":" + strconv.FormatInt(bucket(now, ClientWindow), 10), l.cfg.PerClientPerMinute, ClientWindow},
		{ScopeHourly, "rate_limit:global:hour:" + strconv.FormatInt(bucket(now, HourlyWindow), 10), l.cfg.GlobalPerHour, HourlyWindow},
		{ScopeDaily, "rate_limit:global:day:" + strconv.FormatInt(bucket(now, DailyWindow), 10), l.cfg.GlobalPerDay, DailyWindow},
	}
}

func (l *Limiter) reason(scope Scope) string {
	switch scope {
	case ScopeClient:
		return fmt.Sprintf("Rate limit exceeded. Maximum %d requests per minute allowed. Please try again later.", l.cfg.PerClientPerMinute)
	case ScopeHourly:
		return fmt.Sprintf("Global rate limit exceeded. The service has reached its hourly capacity of %d requests. Please try again in a few minutes.", l.cfg.GlobalPerHour)
	case ScopeDaily:
		return fmt.Sprintf("Daily rate limit exceeded. The service has reached its daily capacity of %d requests. Please try again tomorrow.", l.cfg.GlobalPerDay)
	default:
		return unavailableReason
	}
}

// Check admits or rejects one request for clientKey. Windows are evaluated
// per-client, hourly, daily; a rejection increments nothing.
func (l *Limiter) Check(ctx context.Context, clientKey string) Decision {
	now := l.now()

	var counters []Counter
	var scopes []Scope
	for _, w := range l.windows(clientKey, now) {
		if w.limit <= 0 {
			continue
		}
		counters = append(counters, Counter{Key: w.key, Limit: w.limit, TTL: 2 * w.length})
		scopes = append(scopes, w.scope)
	}
	if len(counters) == 0 {
		return Decision{Allowed: true}
	}

	failed, err := l.store.Admit(ctx, counters, now)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			l.log.With("client", clientKey).Debug("Admission abandoned: %v", ctxErr)
			return Decision{Scope: ScopeCanceled, Reason: ctxErr.Error()}
		}
		if l.cfg.FailOpen {
			l.log.With("client", clientKey).Warn("⚠️ Counter store unavailable, admitting request: %v", err)
			return Decision{Allowed: true}
		}
		l.log.With("client", clientKey).Error("❌ Counter store unavailable, rejecting request: %v", err)
		return Decision{Scope: ScopeUnavailable, Reason: unavailableReason}
	}

	if failed >= 0 {
		scope := scopes[failed]
		l.log.With("client", clientKey).With("scope", scope).Info("🚦 Rate limit exceeded")
		return Decision{Scope: scope, Reason: l.reason(scope)}
	}
	return Decision{Allowed: true}
}

// WindowStats is the usage of one window
type WindowStats struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// Stats is a snapshot of the caller's and the service's current windows
type Stats struct {
	Client WindowStats `json:"client"`
	Hourly WindowStats `json:"hourly"`
	Daily  WindowStats `json:"daily"`
}

// Stats returns current usage for clientKey plus the global windows
func (l *Limiter) Stats(ctx context.Context, clientKey string) (*Stats, error) {
	now := l.now()
	ws := l.windows(clientKey, now)
	keys := make([]string, len(ws))
	for i, w := range ws {
		keys[i] = w.key
	}

	counts, err := l.store.Counts(ctx, keys, now)
	if err != nil {
		return nil, fmt.Errorf("read rate limit counters: %w", err)
	}

	return &Stats{
		Client: WindowStats{Used: counts[0], Limit: l.cfg.PerClientPerMinute},
		Hourly: WindowStats{Used: counts[1], Limit: l.cfg.GlobalPerHour},
		Daily:  WindowStats{Used: counts[2], Limit: l.cfg.GlobalPerDay},
	}, nil
}

// ClientKey derives the client identity from forwarding headers: the first
// X-Forwarded-For entry, then X-Real-IP, then UnknownClient.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownClient
}
