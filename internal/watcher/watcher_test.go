package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/FeelPulse/repostalker/internal/config"
)

type applied struct {
	mu   sync.Mutex
	cfgs []*config.Config
}

func (a *applied) apply(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfgs = append(a.cfgs, cfg)
}

func (a *applied) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cfgs)
}

func (a *applied) last() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.cfgs) == 0 {
		return nil
	}
	return a.cfgs[len(a.cfgs)-1]
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

const validConfig = `llm:
  apiKey: test
rateLimit:
  perClientPerMinute: 3
`

func TestReloadAppliesValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, validConfig)

	var a applied
	r := NewConfigReloader(path, time.Hour, a.apply)

	if !r.Reload() {
		t.Fatal("valid config not applied")
	}
	if got := a.last().RateLimit.PerClientPerMinute; got != 3 {
		t.Errorf("perClientPerMinute = %d, want 3", got)
	}
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "llm: [unclosed"},
		{"fails validation", "llm:\n  apiKey: test\n  maxIterations: 0\n  model: m\n"},
		{"bad store", "llm:\n  apiKey: test\nrateLimit:\n  store: redis\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeConfig(t, path, tt.content)

			var a applied
			r := NewConfigReloader(path, time.Hour, a.apply)
			if r.Reload() {
				t.Error("invalid config applied")
			}
			if a.count() != 0 {
				t.Errorf("apply called %d times", a.count())
			}
		})
	}
}

func TestReloaderDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, validConfig)

	var a applied
	r := NewConfigReloader(path, 50*time.Millisecond, a.apply)
	r.Start()
	defer r.Stop()

	time.Sleep(100 * time.Millisecond)
	if a.count() != 0 {
		t.Fatalf("apply called without a change: %d", a.count())
	}

	writeConfig(t, path, validConfig+"  globalPerHour: 99\n")
	time.Sleep(200 * time.Millisecond)

	if a.count() == 0 {
		t.Fatal("change not detected")
	}
	if got := a.last().RateLimit.GlobalPerHour; got != 99 {
		t.Errorf("globalPerHour = %d, want 99", got)
	}
}

func TestReloaderStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, validConfig)

	var a applied
	r := NewConfigReloader(path, 50*time.Millisecond, a.apply)
	r.Start()
	time.Sleep(100 * time.Millisecond)
	r.Stop()

	writeConfig(t, path, validConfig+"  globalPerDay: 5\n")
	time.Sleep(150 * time.Millisecond)

	if a.count() != 0 {
		t.Errorf("apply called after Stop: %d", a.count())
	}
}

func TestReloaderFileAppears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	var a applied
	r := NewConfigReloader(path, 50*time.Millisecond, a.apply)
	r.Start()
	defer r.Stop()

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, validConfig)
	time.Sleep(200 * time.Millisecond)

	if a.count() == 0 {
		t.Error("apply should be called when the file appears")
	}
}

func TestDefaultPollInterval(t *testing.T) {
	r := NewConfigReloader("x", 0, nil)
	if r.interval != DefaultPollInterval {
		t.Errorf("interval = %v, want %v", r.interval, DefaultPollInterval)
	}
}
