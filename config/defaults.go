package config

import "github.com/spf13/viper"

// DefaultPort is the loopback HTTP API port.
const DefaultPort = 3850

// SetDefaults configures default values for all manifest keys.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("version", 1)
	v.SetDefault("schema", "signet/v1")

	v.SetDefault("agent.name", "signet")
	v.SetDefault("agent.description", "local-first personal agent")

	// Memory defaults
	v.SetDefault("memory.database", "memory/memories.db")
	v.SetDefault("memory.session_budget", 2000)
	v.SetDefault("memory.decay_rate", 0.95)

	// Hybrid search defaults
	v.SetDefault("search.alpha", 0.7)
	v.SetDefault("search.top_k", 20)
	v.SetDefault("search.min_score", 0.3)

	// Embedding defaults
	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.base_url", "http://localhost:11434")

	// Perception defaults
	v.SetDefault("perception.refinerIntervalMinutes", 20)
	v.SetDefault("perception.ollamaUrl", "http://localhost:11434")
	v.SetDefault("perception.refinerModel", "qwen3:4b")
	v.SetDefault("perception.maxRetentionDays", 7)

	v.SetDefault("perception.screen.enabled", true)
	v.SetDefault("perception.screen.intervalSeconds", 30)
	v.SetDefault("perception.screen.retentionDays", 7)

	v.SetDefault("perception.files.enabled", true)
	v.SetDefault("perception.files.retentionDays", 7)

	v.SetDefault("perception.terminal.enabled", true)
	v.SetDefault("perception.terminal.retentionDays", 7)

	v.SetDefault("perception.comms.enabled", true)
	v.SetDefault("perception.comms.retentionDays", 7)

	// Voice is opt-in.
	v.SetDefault("perception.voice.enabled", false)
	v.SetDefault("perception.voice.model", "whisper-base")
	v.SetDefault("perception.voice.vadThreshold", 0.3)
	v.SetDefault("perception.voice.retentionDays", 3)

	v.SetDefault("server.port", DefaultPort)
}
