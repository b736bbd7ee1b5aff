package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
)

const serviceName = "repostalker"

const serviceTemplate = `[Unit]
Description=RepoStalker AI gateway
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s serve
Restart=on-failure
RestartSec=5s
TimeoutStopSec=45s
Environment=HOME=%s
EnvironmentFile=-%s

[Install]
WantedBy=default.target
`

// unit describes where and how the systemd unit is installed
type unit struct {
	system bool
}

func parseUnitFlags(args []string) unit {
	for _, arg := range args {
		if arg == "--system" || arg == "-s" {
			return unit{system: true}
		}
	}
	return unit{}
}

func (u unit) path() string {
	if u.system {
		return "/etc/systemd/system/" + serviceName + ".service"
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user", serviceName+".service")
}

// systemctl builds a systemctl command scoped to the unit's manager
func (u unit) systemctl(args ...string) *exec.Cmd {
	if !u.system {
		args = append([]string{"--user"}, args...)
	}
	return exec.Command("systemctl", args...)
}

// renderUnit fills the unit template. The env file is the .env beside the config.
func renderUnit(username, homeDir, execPath, workDir string) string {
	envFile := filepath.Join(workDir, ".env")
	return fmt.Sprintf(serviceTemplate, username, workDir, execPath, homeDir, envFile)
}

func cmdService() {
	if len(os.Args) < 3 {
		printServiceUsage()
		os.Exit(1)
	}

	u := parseUnitFlags(os.Args[3:])

	switch os.Args[2] {
	case "install":
		serviceInstall(u)
	case "uninstall":
		serviceUninstall(u)
	case "enable", "disable", "status", "start", "stop":
		runSystemctl(u, os.Args[2])
	case "help", "-h", "--help":
		printServiceUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown service command: %s\n", os.Args[2])
		printServiceUsage()
		os.Exit(1)
	}
}

func printServiceUsage() {
	fmt.Println(`Usage: repostalker service <command> [flags]

Commands:
  install     Install systemd unit file
  uninstall   Stop, disable and remove the unit file
  enable      Enable the unit to start on boot
  disable     Disable autostart
  start       Start the unit
  stop        Stop the unit
  status      Show unit status

Flags:
  --system, -s   System-wide unit (requires root)
                 Default: user unit (~/.config/systemd/user/)`)
}

func serviceInstall(u unit) {
	current, err := user.Current()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to get current user: %v\n", err)
		os.Exit(1)
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	if exe, err = filepath.Abs(exe); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	content := renderUnit(current.Username, current.HomeDir, exe, stateDir())
	if err := writeUnit(u.path(), content); err != nil {
		if os.IsPermission(err) && u.system {
			fmt.Fprintln(os.Stderr, "Error: permission denied. Run with sudo for a system unit.")
		} else {
			fmt.Fprintf(os.Stderr, "Error: failed to write unit file: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("✅ Unit file installed: %s\n", u.path())
	u.systemctl("daemon-reload").Run()

	prefix := "systemctl --user"
	if u.system {
		prefix = "sudo systemctl"
	}
	fmt.Println("\nTo enable and start:")
	fmt.Printf("  %s enable %s\n", prefix, serviceName)
	fmt.Printf("  %s start %s\n", prefix, serviceName)
}

func writeUnit(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func serviceUninstall(u unit) {
	if _, err := os.Stat(u.path()); os.IsNotExist(err) {
		fmt.Println("⚠️ Unit file not found (not installed?)")
		return
	}

	u.systemctl("stop", serviceName).Run()
	u.systemctl("disable", serviceName).Run()

	if err := os.Remove(u.path()); err != nil {
		if os.IsPermission(err) && u.system {
			fmt.Fprintln(os.Stderr, "Error: permission denied. Run with sudo for a system unit.")
		} else {
			fmt.Fprintf(os.Stderr, "Error: failed to remove unit file: %v\n", err)
		}
		os.Exit(1)
	}

	u.systemctl("daemon-reload").Run()
	fmt.Println("✅ Service uninstalled")
}

func runSystemctl(u unit, action string) {
	cmd := u.systemctl(action, serviceName)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// status exits non-zero when the unit is stopped
	if err := cmd.Run(); err != nil && action != "status" {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if u.system {
			fmt.Fprintln(os.Stderr, "Tip: Run with sudo for a system unit")
		}
		os.Exit(1)
	}
}
