package watcher

import (
	"os"
	"sync"
	"time"

	"github.com/FeelPulse/repostalker/internal/config"
	"github.com/FeelPulse/repostalker/internal/logger"
)

// DefaultPollInterval is how often the config file is stat'ed
const DefaultPollInterval = 5 * time.Second

// ApplyFunc receives every valid configuration read after a change
type ApplyFunc func(cfg *config.Config)

// ConfigReloader polls a config file and hands each valid new version to
// its ApplyFunc. Versions that fail to parse or validate are logged and
// skipped; the previous configuration stays in effect.
type ConfigReloader struct {
	path     string
	interval time.Duration
	apply    ApplyFunc
	load     func(path string) (*config.Config, error)

	modTime time.Time
	size    int64

	stop chan struct{}
	wg   sync.WaitGroup
	log  *logger.Logger
}

// NewConfigReloader creates a reloader for path
func NewConfigReloader(path string, interval time.Duration, apply ApplyFunc) *ConfigReloader {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &ConfigReloader{
		path:     path,
		interval: interval,
		apply:    apply,
		load:     config.LoadFile,
		stop:     make(chan struct{}),
		log:      logger.Named("watcher"),
	}
}

// Start records the current file state and begins polling
func (r *ConfigReloader) Start() {
	r.modTime, r.size = r.stat()

	r.wg.Add(1)
	go r.run()
}

// Stop ends polling and waits for an in-progress reload
func (r *ConfigReloader) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// stat returns zero values when the file is missing
func (r *ConfigReloader) stat() (time.Time, int64) {
	info, err := os.Stat(r.path)
	if err != nil {
		return time.Time{}, 0
	}
	return info.ModTime(), info.Size()
}

// changed reports whether the file differs from the recorded state and
// records the new state. A file that disappears counts as a change.
func (r *ConfigReloader) changed() bool {
	modTime, size := r.stat()
	if modTime.Equal(r.modTime) && size == r.size {
		return false
	}
	r.modTime, r.size = modTime, size
	return true
}

// Reload reads, validates and applies the file once. It reports whether
// the new configuration was applied.
func (r *ConfigReloader) Reload() bool {
	cfg, err := r.load(r.path)
	if err != nil {
		r.log.Warn("⚠️ Config reload failed, keeping current settings: %v", err)
		return false
	}

	result := cfg.Validate()
	if !result.IsValid() {
		for _, e := range result.Errors {
			r.log.Warn("⚠️ Config reload rejected: %s", e)
		}
		return false
	}

	if r.apply != nil {
		r.apply(cfg)
	}
	return true
}

func (r *ConfigReloader) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if r.changed() {
				r.log.Info("📝 Config file changed: %s", r.path)
				r.Reload()
			}
		}
	}
}
