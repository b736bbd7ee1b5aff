package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/FeelPulse/repostalker/internal/config"
)

func cmdGateway() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: repostalker gw <command>")
		fmt.Println("\nCommands:")
		fmt.Println("  start      Start gateway daemon")
		fmt.Println("  stop       Stop gateway daemon")
		fmt.Println("  restart    Restart gateway daemon")
		fmt.Println("  status     Check if gateway is running")
		fmt.Println("  logs       View gateway logs (live, press Ctrl+C to exit)")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "start":
		cmdGatewayStart()
	case "stop":
		cmdGatewayStop()
	case "restart":
		cmdGatewayRestart()
	case "status":
		cmdGatewayStatus()
	case "logs":
		cmdGatewayLogs()
	default:
		fmt.Fprintf(os.Stderr, "Unknown gw command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func stateDir() string {
	return filepath.Dir(config.Path())
}

func pidFile() string {
	return filepath.Join(stateDir(), "gateway.pid")
}

func logFile() string {
	return filepath.Join(stateDir(), "gateway.log")
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFile())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks that the process exists
	return process.Signal(syscall.Signal(0)) == nil
}

// runningPID returns the daemon PID when it is alive
func runningPID() (int, bool) {
	pid, err := readPID()
	if err != nil || !isProcessRunning(pid) {
		return pid, false
	}
	return pid, true
}

// startDaemon re-executes the binary as a detached "serve" process
func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir(), 0755); err != nil {
		return err
	}

	// The daemon inherits the descriptor; it stays open on purpose
	logF, err := os.OpenFile(logFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, "serve")
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logF.Close()
		return err
	}

	return os.WriteFile(pidFile(), []byte(fmt.Sprintf("%d\n", cmd.Process.Pid)), 0644)
}

// launch starts the daemon and waits briefly for it to stay up
func launch() (int, *config.Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error loading config: %v\n", err)
		fmt.Println("Run 'repostalker setup' to create a config file.")
		os.Exit(1)
	}

	if err := startDaemon(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	time.Sleep(500 * time.Millisecond)
	pid, ok := runningPID()
	if !ok {
		fmt.Fprintln(os.Stderr, "❌ Gateway failed to start. Check logs: repostalker gw logs")
		os.Exit(1)
	}
	return pid, cfg
}

func cmdGatewayStart() {
	if pid, ok := runningPID(); ok {
		fmt.Printf("⚠️  Gateway is already running (PID: %d)\n", pid)
		fmt.Println("Use 'repostalker gw restart' to restart it.")
		os.Exit(1)
	}

	fmt.Println("🚀 Starting gateway daemon...")
	pid, cfg := launch()

	fmt.Printf("✅ Gateway started (PID: %d)\n", pid)
	fmt.Printf("\n📡 Gateway: http://%s:%d\n", cfg.Gateway.Bind, cfg.Gateway.Port)
	fmt.Println("\n📝 View logs: repostalker gw logs")
	fmt.Println("🔍 Check status: repostalker gw status")
}

func cmdGatewayStop() {
	pid, err := readPID()
	if err != nil {
		fmt.Println("❌ Gateway is not running (no PID file)")
		return
	}

	if !isProcessRunning(pid) {
		fmt.Printf("⚠️  Gateway is not running (stale PID: %d)\n", pid)
		os.Remove(pidFile())
		fmt.Println("✅ Cleaned up stale PID file")
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to find process: %v\n", err)
		os.Exit(1)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to stop gateway: %v\n", err)
		os.Exit(1)
	}

	// The gateway drains in-flight turns before exiting
	for i := 0; i < 20 && isProcessRunning(pid); i++ {
		time.Sleep(500 * time.Millisecond)
	}

	if isProcessRunning(pid) {
		fmt.Println("⚠️  Gateway did not stop gracefully, sending SIGKILL...")
		process.Kill()
	}

	os.Remove(pidFile())
	fmt.Printf("✅ Gateway stopped (was PID: %d)\n", pid)
}

func cmdGatewayRestart() {
	fmt.Println("🔄 Restarting gateway...")

	if _, ok := runningPID(); ok {
		cmdGatewayStop()
		time.Sleep(time.Second)
	}

	pid, _ := launch()
	fmt.Printf("✅ Gateway restarted (PID: %d)\n", pid)
}

func cmdGatewayStatus() {
	pid, err := readPID()
	if err != nil {
		fmt.Println("❌ Gateway is not running (no PID file)")
		return
	}

	if !isProcessRunning(pid) {
		fmt.Printf("❌ Gateway is not running (stale PID: %d)\n", pid)
		fmt.Println("\n💡 Remove stale PID file: rm " + pidFile())
		return
	}

	fmt.Printf("✅ Gateway is running (PID: %d)\n", pid)
	if cfg, err := config.Load(); err == nil {
		fmt.Printf("\n📡 Gateway: http://%s:%d\n", cfg.Gateway.Bind, cfg.Gateway.Port)
		fmt.Printf("🚦 Rate limit store: %s\n", cfg.RateLimit.Store)
		if cfg.Metrics.Enabled {
			fmt.Printf("📊 Metrics: http://%s:%d%s\n", cfg.Gateway.Bind, cfg.Gateway.Port, cfg.Metrics.Path)
		}
	}

	fmt.Println("\n📝 View logs: repostalker gw logs")
}

func cmdGatewayLogs() {
	logPath := logFile()
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("📭 No logs yet.")
		fmt.Println("\nLog file: " + logPath)
		return
	}

	cmd := exec.Command("tail", "-f", logPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Run()
}
