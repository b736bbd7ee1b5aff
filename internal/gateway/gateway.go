package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/FeelPulse/repostalker/internal/agent"
	"github.com/FeelPulse/repostalker/internal/config"
	"github.com/FeelPulse/repostalker/internal/logger"
	"github.com/FeelPulse/repostalker/internal/metrics"
	"github.com/FeelPulse/repostalker/internal/ratelimit"
	"github.com/FeelPulse/repostalker/internal/telemetry"
	"github.com/FeelPulse/repostalker/internal/tools"
	"github.com/FeelPulse/repostalker/internal/usage"
)

const (
	maxBodyBytes    = 5 << 20
	shutdownTimeout = 30 * time.Second
)

// Surfaces
const (
	SurfaceChatWithPR   = "chat-with-pr"
	SurfaceChatWithRepo = "chat-with-repo"
	SurfaceSummarize    = "summarize-items"
)

// GitHub is the read-only GitHub surface the tools use
type GitHub interface {
	tools.PRSource
	tools.ItemFetcher
}

type Gateway struct {
	cfg        *config.Config
	mux        *http.ServeMux
	server     *http.Server
	cors       *CORS
	llm        agent.LLM
	loop       *agent.Loop
	summarizer *agent.Summarizer
	github     GitHub
	limiter    *ratelimit.Limiter
	emitter    telemetry.Emitter
	metrics    *metrics.Collector
	usage      *usage.Tracker
	log        *logger.Logger
	version    string
	startTime  time.Time
	routes     map[string]bool
	ownedStore ratelimit.CounterStore // default memory store, closed when replaced

	activeRequests sync.WaitGroup // tracks in-flight LLM-backed requests
	mu             sync.RWMutex   // protects cfg, llm, loop, summarizer, github, limiter, emitter
}

// New creates a gateway with an in-memory rate limiter and no LLM. Use the
// setters to attach collaborators before Start.
func New(cfg *config.Config) (*Gateway, error) {
	cors, err := NewCORS(cfg.Gateway.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	store := ratelimit.NewMemoryStore(time.Minute)
	gw := &Gateway{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		cors:       cors,
		emitter:    telemetry.Nop{},
		metrics:    metrics.Default(),
		usage:      usage.NewTracker(),
		log:        logger.Named("gateway"),
		version:    "dev",
		startTime:  time.Now(),
		routes:     make(map[string]bool),
		ownedStore: store,
		limiter:    ratelimit.New(store, LimiterConfig(cfg)),
	}
	gw.setupRoutes()
	return gw, nil
}

// SetLLM attaches the chat-completion collaborator. A nil LLM makes every
// LLM-backed endpoint fail with a configuration error.
func (gw *Gateway) SetLLM(llm agent.LLM) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.llm = llm
	gw.rebuildLocked()
}

// SetTelemetry attaches the trace emitter
func (gw *Gateway) SetTelemetry(emitter telemetry.Emitter) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if emitter == nil {
		emitter = telemetry.Nop{}
	}
	gw.emitter = emitter
	gw.rebuildLocked()
}

// SetGitHub attaches the GitHub client used by the PR tools and item refresh
func (gw *Gateway) SetGitHub(gh GitHub) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.github = gh
}

// LimiterConfig maps the rateLimit config section onto the limiter
func LimiterConfig(cfg *config.Config) ratelimit.Config {
	return ratelimit.Config{
		PerClientPerMinute: cfg.RateLimit.PerClientPerMinute,
		GlobalPerHour:      cfg.RateLimit.GlobalPerHour,
		GlobalPerDay:       cfg.RateLimit.GlobalPerDay,
		FailOpen:           cfg.RateLimit.FailOpen,
	}
}

// SetLimiter replaces the rate limiter
func (gw *Gateway) SetLimiter(l *ratelimit.Limiter) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.limiter = l
	if gw.ownedStore != nil {
		gw.ownedStore.Close()
		gw.ownedStore = nil
	}
}

// SetMetrics replaces the metrics collector
func (gw *Gateway) SetMetrics(m *metrics.Collector) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.metrics = m
	gw.rebuildLocked()
}

// ApplyConfig swaps in the reloadable settings of cfg: the LLM model
// policy, loop bounds and rate limit ceilings. The listener, CORS origins
// and collaborators keep their startup values.
func (gw *Gateway) ApplyConfig(cfg *config.Config) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	next := *gw.cfg
	next.LLM.Model = cfg.LLM.Model
	next.LLM.AllowedModels = append([]string(nil), cfg.LLM.AllowedModels...)
	next.LLM.Temperature = cfg.LLM.Temperature
	next.LLM.PRTemperature = cfg.LLM.PRTemperature
	next.LLM.MaxIterations = cfg.LLM.MaxIterations
	next.LLM.TimeoutSeconds = cfg.LLM.TimeoutSeconds
	next.RateLimit.PerClientPerMinute = cfg.RateLimit.PerClientPerMinute
	next.RateLimit.GlobalPerHour = cfg.RateLimit.GlobalPerHour
	next.RateLimit.GlobalPerDay = cfg.RateLimit.GlobalPerDay
	next.RateLimit.FailOpen = cfg.RateLimit.FailOpen
	next.Log = cfg.Log
	gw.cfg = &next

	if gw.limiter != nil {
		gw.limiter = gw.limiter.WithConfig(LimiterConfig(gw.cfg))
	}
	gw.rebuildLocked()
	gw.log.Info("🔄 Configuration reloaded (model %s, %d/min per client)", next.LLM.Model, next.RateLimit.PerClientPerMinute)
}

// SetVersion sets the build version reported by /health
func (gw *Gateway) SetVersion(v string) {
	gw.version = v
}

// Usage returns the usage tracker
func (gw *Gateway) Usage() *usage.Tracker {
	return gw.usage
}

func (gw *Gateway) rebuildLocked() {
	if gw.llm == nil {
		gw.loop = nil
		gw.summarizer = nil
		return
	}
	temperature := gw.cfg.LLM.Temperature
	gw.loop = agent.NewLoop(gw.llm, agent.Options{
		MaxIterations: gw.cfg.LLM.MaxIterations,
		Temperature:   temperature,
		Emitter:       gw.emitter,
		Metrics:       gw.metrics,
	})
	gw.summarizer = agent.NewSummarizer(gw.llm, gw.emitter, temperature)
}

func (gw *Gateway) setupRoutes() {
	gw.handle("/health", gw.handleHealth)
	gw.handle("/api/"+SurfaceChatWithPR, gw.handleChatWithPR)
	gw.handle("/api/"+SurfaceChatWithRepo, gw.handleChatWithRepo)
	gw.handle("/api/"+SurfaceSummarize, gw.handleSummarize)
	gw.handle("/api/rate-limit/stats", gw.handleRateLimitStats)
	gw.handle("/api/stats", gw.handleStats)
	if gw.cfg.Metrics.Enabled {
		path := gw.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		gw.handle(path, gw.handleMetrics)
	}
}

func (gw *Gateway) handle(path string, h http.HandlerFunc) {
	gw.routes[path] = true
	gw.mux.HandleFunc(path, h)
}

// Close releases the default counter store if it is still in use
func (gw *Gateway) Close() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.ownedStore == nil {
		return nil
	}
	err := gw.ownedStore.Close()
	gw.ownedStore = nil
	return err
}

// Handler returns the full HTTP handler: CORS, instrumentation, routes
func (gw *Gateway) Handler() http.Handler {
	return gw.cors.Middleware(gw.instrument(gw.mux))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (gw *Gateway) Start(ctx context.Context) error {
	gw.mu.RLock()
	addr := fmt.Sprintf("%s:%d", gw.cfg.Gateway.Bind, gw.cfg.Gateway.Port)
	gw.mu.RUnlock()
	gw.server = &http.Server{
		Addr:              addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		gw.log.Info("🔭 Gateway listening on %s", addr)
		errCh <- gw.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return gw.shutdown()
	}
}

// shutdown stops accepting connections and waits for in-flight turns
func (gw *Gateway) shutdown() error {
	gw.log.Info("👋 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := gw.server.Shutdown(ctx)

	gw.log.Info("⏳ Waiting for active requests to complete...")
	done := make(chan struct{})
	go func() {
		gw.activeRequests.Wait()
		close(done)
	}()

	select {
	case <-done:
		gw.log.Info("✅ All active requests completed")
	case <-ctx.Done():
		gw.log.Warn("⚠️ Timeout waiting for requests, forcing shutdown")
	}

	gw.log.Info("%s", gw.usage.GetGlobal().String())
	gw.log.Info("👋 Shutdown complete")
	return err
}

// turnTimeout bounds one whole conversation turn
func (b *backend) turnTimeout() time.Duration {
	per := b.cfg.LLM.TimeoutSeconds
	n := b.cfg.LLM.MaxIterations
	if per <= 0 || n <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(per*n+30) * time.Second
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (gw *Gateway) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.mu.RLock()
		m := gw.metrics
		gw.mu.RUnlock()

		done := m.TrackInFlight()
		defer done()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := "other"
		if gw.routes[r.URL.Path] {
			endpoint = strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/"), "/")
		}
		m.IncrementRequest(endpoint, rec.status)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	gw.mu.RLock()
	status := map[string]any{
		"ok":        true,
		"version":   gw.version,
		"uptime":    time.Since(gw.startTime).Round(time.Second).String(),
		"llm":       gw.llm != nil,
		"github":    gw.github != nil,
		"rateLimit": gw.limiter != nil,
	}
	if gw.llm != nil {
		status["agent"] = gw.llm.Name()
	}
	gw.mu.RUnlock()

	writeJSON(w, http.StatusOK, status)
}

func (gw *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	gw.mu.RLock()
	m := gw.metrics
	gw.mu.RUnlock()
	m.Handler()(w, r)
}
