package memory

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/signetai/signet/db"
	"github.com/signetai/signet/errors"
)

// Conflict strategies for memory import.
const (
	StrategySkip      = "skip"
	StrategyOverwrite = "overwrite"
	StrategyMerge     = "merge"
)

// ImportStats summarizes what an import touched.
type ImportStats struct {
	Memories  int `json:"memories"`
	Skipped   int `json:"skipped"`
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
	Files     int `json:"files"`
}

// Import applies an export file map. Memories honor the conflict strategy:
// skip keeps existing rows, overwrite replaces them, merge keeps whichever
// side has the newer updated_at. Identity documents and the manifest land
// back at the state root; skills are restored verbatim.
func (s *Store) Import(ctx context.Context, stateRoot string, files map[string][]byte, strategy string) (ImportStats, error) {
	switch strategy {
	case StrategySkip, StrategyOverwrite, StrategyMerge:
	case "":
		strategy = StrategySkip
	default:
		return ImportStats{}, errors.Newf("unknown conflict strategy %q", strategy)
	}

	var stats ImportStats

	if data, ok := files["memories.jsonl"]; ok {
		records, err := decodeJSONL[exportRecord](data)
		if err != nil {
			return stats, err
		}
		for _, rec := range records {
			imported, err := s.importMemory(ctx, rec, strategy)
			if err != nil {
				return stats, err
			}
			if imported {
				stats.Memories++
			} else {
				stats.Skipped++
			}
		}
	}

	if data, ok := files["entities.jsonl"]; ok {
		records, err := decodeJSONL[entityRecord](data)
		if err != nil {
			return stats, err
		}
		for _, rec := range records {
			err := db.WithRetry(func() error {
				_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO entities
					(id, name, entity_type, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
					rec.ID, rec.Name, rec.EntityType, rec.Metadata, rec.CreatedAt)
				return err
			})
			if err != nil {
				return stats, errors.Wrapf(err, "import entity %s", rec.ID)
			}
			stats.Entities++
		}
	}

	if data, ok := files["relations.jsonl"]; ok {
		records, err := decodeJSONL[relationRecord](data)
		if err != nil {
			return stats, err
		}
		for _, rec := range records {
			err := db.WithRetry(func() error {
				_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO relations
					(source_id, target_id, relation, weight, created_at) VALUES (?, ?, ?, ?, ?)`,
					rec.SourceID, rec.TargetID, rec.Relation, rec.Weight, rec.CreatedAt)
				return err
			})
			if err != nil {
				return stats, errors.Wrapf(err, "import relation %s->%s", rec.SourceID, rec.TargetID)
			}
			stats.Relations++
		}
	}

	for rel, content := range files {
		var dest string
		switch {
		case rel == "agent.yaml":
			dest = filepath.Join(stateRoot, "agent.yaml")
		case strings.HasPrefix(rel, "identity/"):
			dest = filepath.Join(stateRoot, strings.TrimPrefix(rel, "identity/"))
		case strings.HasPrefix(rel, "skills/"):
			dest = filepath.Join(stateRoot, filepath.FromSlash(rel))
		default:
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return stats, errors.Wrapf(err, "create dir for %s", rel)
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return stats, errors.Wrapf(err, "restore %s", rel)
		}
		stats.Files++
	}

	if s.logger != nil {
		s.logger.Infow("Import complete",
			"strategy", strategy,
			"memories", stats.Memories,
			"skipped", stats.Skipped,
			"entities", stats.Entities,
			"relations", stats.Relations,
			"files", stats.Files,
		)
	}
	return stats, nil
}

func (s *Store) importMemory(ctx context.Context, rec exportRecord, strategy string) (bool, error) {
	var existingUpdated string
	err := s.db.QueryRowContext(ctx,
		"SELECT updated_at FROM memories WHERE id = ?", rec.ID).Scan(&existingUpdated)
	exists := false
	switch {
	case err == nil:
		exists = true
	case errors.Is(err, sql.ErrNoRows):
	default:
		return false, errors.Wrap(err, "check existing memory")
	}

	if exists {
		switch strategy {
		case StrategySkip:
			return false, nil
		case StrategyMerge:
			if !rec.UpdatedAt.After(parseTime(existingUpdated)) {
				return false, nil
			}
		}
	}

	tagsJSON, err := json.Marshal(tagsOrEmpty(rec.Tags))
	if err != nil {
		return false, errors.Wrap(err, "marshal tags")
	}
	var accessedAt any
	if rec.AccessedAt != nil {
		accessedAt = rec.AccessedAt.Format(time.RFC3339)
	}

	err = db.WithRetry(func() error {
		_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO memories
			(id, content, type, source, importance, confidence, tags, pinned, who,
			 project, session_id, created_at, updated_at, accessed_at, access_count, is_deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			rec.ID, rec.Content, rec.Type, rec.Source, rec.Importance, rec.Confidence,
			string(tagsJSON), boolToInt(rec.Pinned), rec.Who, rec.Project, rec.SessionID,
			rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339),
			accessedAt, rec.AccessCount)
		return err
	})
	if err != nil {
		return false, errors.Wrapf(err, "import memory %s", rec.ID)
	}

	if rec.Embedding != "" && s.vecDims > 0 {
		blob, err := base64.StdEncoding.DecodeString(rec.Embedding)
		if err != nil {
			s.warnf("bad inline embedding for %s: %v", rec.ID, err)
			return true, nil
		}
		if len(blob) == s.vecDims*4 {
			if _, err := s.db.ExecContext(ctx,
				"INSERT OR REPLACE INTO vec_embeddings (id, embedding) VALUES (?, ?)",
				rec.ID, blob); err != nil {
				s.warnf("restore vector for %s: %v", rec.ID, err)
			}
		}
	}
	return true, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
