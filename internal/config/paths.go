package config

import (
	"os"
	"path/filepath"
)

// StateDir resolves the clawd state directory. OPENCLAW_STATE_DIR wins;
// otherwise ~/.openclaw, with OPENCLAW_PROFILE appended as a suffix so
// parallel profiles never share state.
func StateDir() string {
	if v := os.Getenv("OPENCLAW_STATE_DIR"); v != "" {
		return ExpandHome(v)
	}
	base := "~/.openclaw"
	if profile := os.Getenv("OPENCLAW_PROFILE"); profile != "" {
		base = base + "-" + profile
	}
	return ExpandHome(base)
}

// DefaultConfigPath resolves the config file location:
// OPENCLAW_CONFIG, then <state>/openclaw.json.
func DefaultConfigPath() string {
	if v := os.Getenv("OPENCLAW_CONFIG"); v != "" {
		return ExpandHome(v)
	}
	return filepath.Join(StateDir(), "openclaw.json")
}

// AdminPipePath resolves the admin socket location:
// OPENCLAW_ADMIN_PIPE, then <state>/admin.sock.
func AdminPipePath() string {
	if v := os.Getenv("OPENCLAW_ADMIN_PIPE"); v != "" {
		return ExpandHome(v)
	}
	return filepath.Join(StateDir(), "admin.sock")
}

// SessionStorePath resolves the session store file. An explicit
// config value wins over the state-dir default.
func SessionStorePath(cfg *Config) string {
	if cfg != nil && cfg.Sessions.Store != "" {
		return ExpandHome(cfg.Sessions.Store)
	}
	return filepath.Join(StateDir(), "sessions", "sessions.json")
}

// SecretsDir is the 0700 directory holding one file per secret ref.
func SecretsDir() string {
	return filepath.Join(StateDir(), "secrets")
}

// RestartSentinelPath is the one-shot restart payload location.
func RestartSentinelPath() string {
	return filepath.Join(StateDir(), "restart.json")
}

// ModelCatalogPath is the model catalog cache location.
func ModelCatalogPath() string {
	return filepath.Join(StateDir(), "models.json")
}

// LogStorePath is the sqlite event/log history location.
func LogStorePath() string {
	return filepath.Join(StateDir(), "logs.db")
}

// AuthProfilesPath holds OAuth tokens written by completed flows.
func AuthProfilesPath() string {
	return filepath.Join(StateDir(), "auth-profiles.json")
}
