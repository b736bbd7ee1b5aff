package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/FeelPulse/repostalker/internal/config"
)

// Build info - set via ldflags at build time:
//
//	go build -ldflags "-X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ) -X main.gitCommit=$(git rev-parse --short HEAD)"
var (
	buildTime = "unknown"
	gitCommit = "unknown"
)

// VersionInfo contains version and build information
type VersionInfo struct {
	Version   string
	GoVersion string
	BuildTime string
	GitCommit string
	Platform  string
	Features  []string
}

// GetVersionInfo returns the version information for cfg (nil = not loaded)
func GetVersionInfo(cfg *config.Config) *VersionInfo {
	return &VersionInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		BuildTime: buildTime,
		GitCommit: gitCommit,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Features:  enabledFeatures(cfg),
	}
}

func enabledFeatures(cfg *config.Config) []string {
	features := []string{}
	if cfg == nil {
		return features
	}

	if cfg.LLM.APIKey != "" {
		features = append(features, "llm")
	}
	if cfg.GitHub.Token != "" {
		features = append(features, "github-auth")
	}
	if cfg.RateLimit.Store == "sqlite" {
		features = append(features, "sqlite-ratelimit")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.APIKey != "" {
		features = append(features, "posthog")
	}
	if cfg.Metrics.Enabled {
		features = append(features, "metrics")
	}
	return features
}

// String returns formatted version information
func (v *VersionInfo) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "RepoStalker v%s\n", v.Version)
	fmt.Fprintf(&sb, "  Go:       %s\n", v.GoVersion)
	fmt.Fprintf(&sb, "  Platform: %s\n", v.Platform)
	fmt.Fprintf(&sb, "  Build:    %s\n", v.BuildTime)
	fmt.Fprintf(&sb, "  Commit:   %s\n", v.GitCommit)

	if len(v.Features) > 0 {
		fmt.Fprintf(&sb, "  Features: %s\n", strings.Join(v.Features, ", "))
	} else {
		sb.WriteString("  Features: (none enabled)\n")
	}

	return sb.String()
}

func cmdVersion() {
	cfg, _ := config.Load()
	fmt.Print(GetVersionInfo(cfg).String())
}
