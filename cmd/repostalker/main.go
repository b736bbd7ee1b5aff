package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/FeelPulse/repostalker/internal/config"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe()
	case "setup":
		cmdSetup()
	case "check":
		os.Exit(cmdCheck())
	case "gw":
		cmdGateway()
	case "service":
		cmdService()
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`RepoStalker - AI backend for GitHub PR and issue insights

Usage:
  repostalker <command>

Commands:
  serve          Run the HTTP gateway in the foreground
  setup          Write a config file (LLM key, GitHub token, telemetry)
  check          Validate the configuration
  gw             Gateway daemon management
    start        Start gateway daemon
    stop         Stop gateway daemon
    restart      Restart gateway daemon
    status       Check gateway status
    logs         View gateway logs (live, Ctrl+C to exit)
  service        Manage the systemd unit (install, uninstall, enable, disable, status)
  version        Print version
  help           Show this help`)
}

func prompt(reader *bufio.Reader, label, current string) string {
	if current != "" {
		fmt.Printf("%s [keep current]: ", label)
	} else {
		fmt.Printf("%s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return current
	}
	return input
}

func cmdSetup() {
	fmt.Printf("🔭 RepoStalker v%s - Setup\n\n", version)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Existing config is invalid (%v), starting from defaults\n\n", err)
		cfg = config.Default()
	}

	reader := bufio.NewReader(os.Stdin)

	cfg.LLM.APIKey = prompt(reader, "LLM API key (OpenAI-compatible)", cfg.LLM.APIKey)
	if cfg.LLM.APIKey == "" {
		fmt.Fprintln(os.Stderr, "❌ No key provided")
		os.Exit(1)
	}
	cfg.LLM.BaseURL = prompt(reader, fmt.Sprintf("LLM base URL (%s)", cfg.LLM.BaseURL), cfg.LLM.BaseURL)
	cfg.GitHub.Token = prompt(reader, "GitHub token (optional, raises API quota)", cfg.GitHub.Token)

	fmt.Print("Enable PostHog telemetry? [y/N]: ")
	answer, _ := reader.ReadString('\n')
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.APIKey = prompt(reader, "PostHog project API key", cfg.Telemetry.APIKey)
	}

	result := cfg.Validate()
	if !result.IsValid() {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "❌ %s\n", e)
		}
		os.Exit(1)
	}

	path, err := config.Save(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n✅ Config saved: %s\n", path)
	fmt.Println("\n🚀 Start the gateway: repostalker gw start")
	fmt.Println("🔍 Or run it in the foreground: repostalker serve")
}

// cmdCheck prints validation results and returns the exit code
func cmdCheck() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error loading config: %v\n", err)
		return 1
	}

	fmt.Printf("📄 Config: %s\n", config.Path())
	fmt.Printf("📡 Gateway: http://%s:%d\n", cfg.Gateway.Bind, cfg.Gateway.Port)
	fmt.Printf("🤖 Model: %s (%d allowed)\n", cfg.LLM.Model, len(cfg.LLM.AllowedModels))
	fmt.Printf("🚦 Rate limit: %d/min per client, %d/hour, %d/day (store: %s)\n",
		cfg.RateLimit.PerClientPerMinute, cfg.RateLimit.GlobalPerHour, cfg.RateLimit.GlobalPerDay, cfg.RateLimit.Store)

	result := cfg.Validate()
	for _, w := range result.Warnings {
		fmt.Printf("⚠️  %s\n", w)
	}
	for _, e := range result.Errors {
		fmt.Printf("❌ %s\n", e)
	}
	if !result.IsValid() {
		return 1
	}

	fmt.Println("✅ Configuration is valid")
	return 0
}
