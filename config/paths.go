package config

import (
	"os"
	"path/filepath"
)

// Environment variables recognized by the daemon.
const (
	EnvPath    = "SIGNET_PATH"
	EnvPort    = "SIGNET_PORT"
	EnvNoHooks = "SIGNET_NO_HOOKS"
)

// StateRoot returns the daemon state directory, honoring SIGNET_PATH.
// Defaults to ~/.agents.
func StateRoot() string {
	if p := os.Getenv(EnvPath); p != "" {
		return expandHome(p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agents"
	}
	return filepath.Join(home, ".agents")
}

// ManifestPath returns the agent.yaml path under the state root.
func ManifestPath() string {
	return filepath.Join(StateRoot(), "agent.yaml")
}

// DatabasePath resolves the memory database path relative to the state root.
func DatabasePath(cfg *Config) string {
	db := cfg.Memory.Database
	if db == "" {
		db = "memory/memories.db"
	}
	if filepath.IsAbs(db) {
		return db
	}
	return filepath.Join(StateRoot(), db)
}

// DaemonDir returns the .daemon directory (pid file, logs).
func DaemonDir() string {
	return filepath.Join(StateRoot(), ".daemon")
}

// LogDir returns the daemon log directory.
func LogDir() string {
	return filepath.Join(DaemonDir(), "logs")
}

// PidPath returns the daemon pid file path.
func PidPath() string {
	return filepath.Join(DaemonDir(), "pid")
}

// SkillsDir returns the per-skill markdown directory.
func SkillsDir() string {
	return filepath.Join(StateRoot(), "skills")
}

// NoHooks reports whether hook subcommand execution is suppressed.
// Spawned agents set SIGNET_NO_HOOKS=1 to break recursion.
func NoHooks() bool {
	return os.Getenv(EnvNoHooks) == "1"
}

func expandHome(p string) string {
	if len(p) >= 2 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
