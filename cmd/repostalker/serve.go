package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/FeelPulse/repostalker/internal/agent"
	"github.com/FeelPulse/repostalker/internal/config"
	"github.com/FeelPulse/repostalker/internal/gateway"
	"github.com/FeelPulse/repostalker/internal/github"
	"github.com/FeelPulse/repostalker/internal/logger"
	"github.com/FeelPulse/repostalker/internal/ratelimit"
	"github.com/FeelPulse/repostalker/internal/store"
	"github.com/FeelPulse/repostalker/internal/telemetry"
	"github.com/FeelPulse/repostalker/internal/watcher"
)

const counterSweepInterval = 10 * time.Minute

// closers releases what buildGateway opened, in reverse order
type closers []io.Closer

func (c closers) Close() error {
	var first error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// buildGateway wires every collaborator described by cfg into a gateway
func buildGateway(cfg *config.Config) (*gateway.Gateway, closers, error) {
	log := logger.Named("serve")
	var cleanup closers

	gw, err := gateway.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create gateway: %w", err)
	}
	cleanup = append(cleanup, gw)
	gw.SetVersion(version)

	if cfg.LLM.APIKey != "" {
		gw.SetLLM(agent.NewOpenAIClient(agent.OpenAIOptions{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		}))
		log.Info("🤖 LLM: %s (default model %s)", cfg.LLM.BaseURL, cfg.LLM.Model)
	} else {
		log.Warn("⚠️ No LLM API key configured; chat and summary endpoints will fail")
	}

	gh, err := github.New(github.Options{
		BaseURL: cfg.GitHub.BaseURL,
		Token:   cfg.GitHub.Token,
		Timeout: time.Duration(cfg.GitHub.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		cleanup.Close()
		return nil, nil, err
	}
	gw.SetGitHub(gh)

	if cfg.RateLimit.Store == "sqlite" {
		counters, err := store.NewSQLiteCounterStore(cfg.RateLimit.Path)
		if err != nil {
			cleanup.Close()
			return nil, nil, fmt.Errorf("open rate limit store: %w", err)
		}
		cleanup = append(cleanup, counters, startCounterSweeper(counters, counterSweepInterval))
		gw.SetLimiter(ratelimit.New(counters, gateway.LimiterConfig(cfg)))
		log.Info("🗄️ Rate limit counters: %s", cfg.RateLimit.Path)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.APIKey != "" {
		emitter, err := telemetry.NewPostHogEmitter(telemetry.Config{
			APIKey: cfg.Telemetry.APIKey,
			Host:   cfg.Telemetry.Host,
		})
		if err != nil {
			cleanup.Close()
			return nil, nil, fmt.Errorf("create telemetry emitter: %w", err)
		}
		cleanup = append(cleanup, emitter)
		gw.SetTelemetry(emitter)
		log.Info("📈 Telemetry: %s", cfg.Telemetry.Host)
	}

	return gw, cleanup, nil
}

type expiredCleaner interface {
	CleanExpired(ctx context.Context, now time.Time) (int64, error)
}

// counterSweeper drops expired rate limit rows on a ticker until closed
type counterSweeper struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startCounterSweeper(s expiredCleaner, interval time.Duration) *counterSweeper {
	ctx, cancel := context.WithCancel(context.Background())
	sw := &counterSweeper{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sw.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.CleanExpired(ctx, time.Now())
				if err != nil {
					if ctx.Err() == nil {
						logger.Warn("⚠️ Rate limit counter sweep failed: %v", err)
					}
					continue
				}
				if n > 0 {
					logger.Debug("🧹 Removed %d expired rate limit counters", n)
				}
			}
		}
	}()
	return sw
}

// Close stops the sweeper and waits for an in-flight sweep to finish
func (sw *counterSweeper) Close() error {
	sw.cancel()
	<-sw.done
	return nil
}

// loadConfig reads .env, the config file and the environment
func loadConfig() (*config.Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

func cmdServe() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error loading config: %v\n", err)
		os.Exit(1)
	}

	result := cfg.Validate()
	for _, w := range result.Warnings {
		logger.Warn("⚠️ %s", w)
	}
	for _, e := range result.Errors {
		logger.Error("❌ %s", e)
	}

	gw, cleanup, err := buildGateway(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	defer cleanup.Close()

	reloader := watcher.NewConfigReloader(config.Path(), watcher.DefaultPollInterval, func(next *config.Config) {
		logger.SetLevel(logger.ParseLevel(next.Log.Level))
		gw.ApplyConfig(next)
	})
	reloader.Start()
	defer reloader.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("🔭 RepoStalker v%s starting", version)
	if err := gw.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Gateway error: %v\n", err)
		cleanup.Close()
		os.Exit(1)
	}
}
