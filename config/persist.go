package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signetai/signet/errors"
)

// Persist writes the manifest back to disk, stamping agent.updated.
// The write goes through a temp file and rename so a crash never leaves a
// half-written manifest.
func Persist(cfg *Config, path string) error {
	cfg.Agent.Updated = time.Now().UTC().Format(time.RFC3339)
	if cfg.Agent.Created == "" {
		cfg.Agent.Created = cfg.Agent.Updated
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal manifest")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create manifest directory")
	}

	if w := activeWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write manifest")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "replace manifest")
	}
	return nil
}
