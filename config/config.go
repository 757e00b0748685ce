// Package config loads and persists the Signet manifest (agent.yaml).
package config

// Config is the root of the agent.yaml manifest.
type Config struct {
	Version    int              `mapstructure:"version" yaml:"version"`
	Schema     string           `mapstructure:"schema" yaml:"schema"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Harnesses  []string         `mapstructure:"harnesses" yaml:"harnesses,omitempty"`
	Memory     MemoryConfig     `mapstructure:"memory" yaml:"memory"`
	Search     SearchConfig     `mapstructure:"search" yaml:"search"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding" yaml:"embedding"`
	Perception PerceptionConfig `mapstructure:"perception" yaml:"perception"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
}

// AgentConfig holds the identity fields of the manifest.
type AgentConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
	Created     string `mapstructure:"created" yaml:"created,omitempty"`
	Updated     string `mapstructure:"updated" yaml:"updated,omitempty"`
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	Database      string  `mapstructure:"database" yaml:"database"`
	SessionBudget int     `mapstructure:"session_budget" yaml:"session_budget"`
	DecayRate     float64 `mapstructure:"decay_rate" yaml:"decay_rate"`
}

// SearchConfig configures hybrid recall.
type SearchConfig struct {
	Alpha    float64 `mapstructure:"alpha" yaml:"alpha"`
	TopK     int     `mapstructure:"top_k" yaml:"top_k"`
	MinScore float64 `mapstructure:"min_score" yaml:"min_score"`
}

// EmbeddingConfig selects the embedding provider.
// Provider is one of "ollama", "openai", or "none".
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider" yaml:"provider"`
	Model      string `mapstructure:"model" yaml:"model"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key,omitempty"`
}

// PerceptionConfig configures the capture adapters and refiner loop.
type PerceptionConfig struct {
	Screen                 ScreenConfig   `mapstructure:"screen" yaml:"screen"`
	Files                  FilesConfig    `mapstructure:"files" yaml:"files"`
	Terminal               TerminalConfig `mapstructure:"terminal" yaml:"terminal"`
	Comms                  CommsConfig    `mapstructure:"comms" yaml:"comms"`
	Voice                  VoiceConfig    `mapstructure:"voice" yaml:"voice"`
	RefinerIntervalMinutes int            `mapstructure:"refinerIntervalMinutes" yaml:"refinerIntervalMinutes"`
	OllamaURL              string         `mapstructure:"ollamaUrl" yaml:"ollamaUrl"`
	RefinerModel           string         `mapstructure:"refinerModel" yaml:"refinerModel"`
	MaxRetentionDays       int            `mapstructure:"maxRetentionDays" yaml:"maxRetentionDays"`
}

// ScreenConfig configures the screen/OCR adapter.
type ScreenConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	IntervalSeconds int      `mapstructure:"intervalSeconds" yaml:"intervalSeconds"`
	ExcludeApps     []string `mapstructure:"excludeApps" yaml:"excludeApps,omitempty"`
	ExcludeWindows  []string `mapstructure:"excludeWindows" yaml:"excludeWindows,omitempty"`
	RetentionDays   int      `mapstructure:"retentionDays" yaml:"retentionDays"`
}

// FilesConfig configures the filesystem adapter.
type FilesConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	WatchDirs       []string `mapstructure:"watchDirs" yaml:"watchDirs,omitempty"`
	ExcludePatterns []string `mapstructure:"excludePatterns" yaml:"excludePatterns,omitempty"`
	RetentionDays   int      `mapstructure:"retentionDays" yaml:"retentionDays"`
}

// TerminalConfig configures the shell-history adapter.
type TerminalConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	ExcludeCommands []string `mapstructure:"excludeCommands" yaml:"excludeCommands,omitempty"`
	RetentionDays   int      `mapstructure:"retentionDays" yaml:"retentionDays"`
}

// CommsConfig configures the git-commit adapter.
type CommsConfig struct {
	Enabled       bool     `mapstructure:"enabled" yaml:"enabled"`
	GitRepos      []string `mapstructure:"gitRepos" yaml:"gitRepos,omitempty"`
	RetentionDays int      `mapstructure:"retentionDays" yaml:"retentionDays"`
}

// VoiceConfig configures the voice adapter. Disabled by default.
type VoiceConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	Model           string   `mapstructure:"model" yaml:"model"`
	VADThreshold    float64  `mapstructure:"vadThreshold" yaml:"vadThreshold"`
	ExcludeKeywords []string `mapstructure:"excludeKeywords" yaml:"excludeKeywords,omitempty"`
	RetentionDays   int      `mapstructure:"retentionDays" yaml:"retentionDays"`
}

// ServerConfig configures the loopback HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}
