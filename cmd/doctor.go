package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/openclaw/clawd/internal/config"
	"github.com/openclaw/clawd/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check daemon environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

const doctorLabelWidth = 14

func doctorRow(label, value string) {
	fmt.Printf("    %s %s\n", runewidth.FillRight(label+":", doctorLabelWidth), value)
}

func runDoctor() {
	fmt.Println("clawd doctor")
	doctorRow("Version", fmt.Sprintf("%s (protocol %d)", Version, protocol.ProtocolVersion))
	doctorRow("OS", runtime.GOOS+"/"+runtime.GOARCH)
	doctorRow("Go", runtime.Version())
	fmt.Println()

	// State dir
	stateDir := config.StateDir()
	fmt.Println("  State:")
	if info, err := os.Stat(stateDir); err != nil {
		doctorRow("Dir", stateDir+" (NOT FOUND)")
	} else {
		doctorRow("Dir", fmt.Sprintf("%s (%s)", stateDir, info.Mode().Perm()))
	}

	// Config
	cfgPath := resolveConfigPath()
	fmt.Println()
	fmt.Println("  Config:")
	snap, err := config.NewStore(cfgPath).ReadSnapshot()
	switch {
	case err != nil:
		doctorRow("File", fmt.Sprintf("%s (READ FAILED: %s)", cfgPath, err))
		return
	case !snap.Exists:
		doctorRow("File", cfgPath+" (NOT FOUND — run: clawd init)")
		return
	case !snap.Valid:
		doctorRow("File", cfgPath+" (INVALID)")
		for _, issue := range snap.Issues {
			fmt.Printf("      - %s\n", issue)
		}
		return
	default:
		doctorRow("File", cfgPath+" (OK)")
		doctorRow("Hash", snap.Hash)
	}
	cfg := snap.Config

	// Admin pipe
	fmt.Println()
	fmt.Println("  Daemon:")
	pipe := config.AdminPipePath()
	if status, err := adminStatus(pipe); err != nil {
		doctorRow("Admin pipe", fmt.Sprintf("%s (UNREACHABLE: %s)", pipe, err))
	} else {
		doctorRow("Admin pipe", pipe+" (OK)")
		doctorRow("Running", fmt.Sprintf("pid %v, version %v, uptime %vms", status["pid"], status["version"], status["uptimeMs"]))
	}

	// Gateway health over HTTP
	healthURL := fmt.Sprintf("http://%s:%d/health", gatewayProbeHost(cfg.Gateway.Host), cfg.Gateway.Port)
	if health, err := gatewayHealth(healthURL); err != nil {
		doctorRow("Gateway", fmt.Sprintf("%s (UNREACHABLE: %s)", healthURL, err))
	} else {
		doctorRow("Gateway", fmt.Sprintf("%s (status %v, protocol %v)", healthURL, health["status"], health["protocol"]))
	}

	// Channels
	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	// Skills
	if len(cfg.Skills.Entries) > 0 {
		fmt.Println()
		fmt.Println("  Skills:")
		for _, spec := range cfg.Skills.Entries {
			missing := 0
			for _, bin := range spec.Bins {
				if _, err := exec.LookPath(bin); err != nil {
					missing++
				}
			}
			if missing == 0 {
				doctorRow(spec.Name, "installed")
			} else {
				doctorRow(spec.Name, fmt.Sprintf("%d of %d bins missing", missing, len(spec.Bins)))
			}
		}
	}

	// External tools
	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("curl")
	checkBinary("git")
	checkBinary("sh")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	doctorRow(name, status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		doctorRow(name, "NOT FOUND")
	} else {
		doctorRow(name, path)
	}
}

// adminStatus queries GET /api/v1/status over the unix admin pipe.
func adminStatus(pipe string) (map[string]interface{}, error) {
	client := &http.Client{
		Timeout: 3 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", pipe)
			},
		},
	}
	resp, err := client.Get("http://clawd/api/v1/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

func gatewayHealth(url string) (map[string]interface{}, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

func gatewayProbeHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "127.0.0.1"
	}
	return host
}
