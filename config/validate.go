package config

import "github.com/signetai/signet/errors"

// Validate checks that the manifest is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return errors.Newf("search.alpha must be in [0,1], got %f", c.Search.Alpha)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return errors.Newf("search.min_score must be in [0,1], got %f", c.Search.MinScore)
	}
	if c.Search.TopK <= 0 {
		return errors.Newf("search.top_k must be > 0, got %d", c.Search.TopK)
	}

	switch c.Embedding.Provider {
	case "ollama", "openai", "none", "":
	default:
		return errors.Newf("embedding.provider must be one of ollama, openai, none; got %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider != "none" && c.Embedding.Provider != "" {
		if c.Embedding.Model == "" {
			return errors.New("embedding.model cannot be empty when a provider is configured")
		}
		if c.Embedding.Dimensions <= 0 {
			return errors.Newf("embedding.dimensions must be > 0, got %d", c.Embedding.Dimensions)
		}
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return errors.New("embedding.api_key required for the openai provider")
	}

	if c.Perception.RefinerIntervalMinutes <= 0 {
		return errors.Newf("perception.refinerIntervalMinutes must be > 0, got %d", c.Perception.RefinerIntervalMinutes)
	}
	if c.Perception.OllamaURL == "" {
		return errors.New("perception.ollamaUrl cannot be empty")
	}
	if c.Perception.Screen.Enabled && c.Perception.Screen.IntervalSeconds <= 0 {
		return errors.Newf("perception.screen.intervalSeconds must be > 0, got %d", c.Perception.Screen.IntervalSeconds)
	}
	if c.Perception.Voice.Enabled {
		if c.Perception.Voice.VADThreshold < 0 || c.Perception.Voice.VADThreshold > 1 {
			return errors.Newf("perception.voice.vadThreshold must be in [0,1], got %f", c.Perception.Voice.VADThreshold)
		}
	}

	return nil
}
