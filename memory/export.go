package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/signetai/signet/errors"
)

// identityFiles live at the state root but travel under identity/ in an
// export so the archive layout stays flat and predictable.
var identityFiles = []string{"AGENTS.md", "SOUL.md", "IDENTITY.md", "USER.md", "MEMORY.md"}

// ExportOptions controls what an export carries.
type ExportOptions struct {
	// IncludeEmbeddings inlines each memory's vector as base64 so an
	// import can skip re-embedding.
	IncludeEmbeddings bool
}

type exportRecord struct {
	Memory
	Embedding string `json:"embedding,omitempty"`
}

type entityRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
	Metadata   string `json:"metadata,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type relationRecord struct {
	SourceID  string  `json:"source_id"`
	TargetID  string  `json:"target_id"`
	Relation  string  `json:"relation"`
	Weight    float64 `json:"weight"`
	CreatedAt string  `json:"created_at"`
}

// Export assembles the portable agent state: manifest, identity documents,
// memory and graph rows as JSONL, and the skills tree. Returns a map of
// archive-relative path to content.
func (s *Store) Export(ctx context.Context, stateRoot string, opts ExportOptions) (map[string][]byte, error) {
	files := make(map[string][]byte)

	manifest, err := os.ReadFile(filepath.Join(stateRoot, "agent.yaml"))
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read manifest")
	}
	if manifest != nil {
		files["agent.yaml"] = manifest
	}

	for _, name := range identityFiles {
		content, err := os.ReadFile(filepath.Join(stateRoot, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "read %s", name)
		}
		files["identity/"+name] = content
	}

	memoriesJSONL, err := s.exportMemories(ctx, opts.IncludeEmbeddings)
	if err != nil {
		return nil, err
	}
	files["memories.jsonl"] = memoriesJSONL

	entitiesJSONL, err := s.exportEntities(ctx)
	if err != nil {
		return nil, err
	}
	files["entities.jsonl"] = entitiesJSONL

	relationsJSONL, err := s.exportRelations(ctx)
	if err != nil {
		return nil, err
	}
	files["relations.jsonl"] = relationsJSONL

	skillsDir := filepath.Join(stateRoot, "skills")
	err = filepath.WalkDir(skillsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(stateRoot, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "walk skills")
	}

	if s.logger != nil {
		s.logger.Infow("Export assembled", "files", len(files))
	}
	return files, nil
}

func (s *Store) exportMemories(ctx context.Context, includeEmbeddings bool) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, type, source, importance,
		confidence, tags, pinned, who, project, session_id,
		created_at, updated_at, accessed_at, access_count
		FROM memories WHERE is_deleted = 0 ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "query memories for export")
	}
	defer rows.Close()

	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range memories {
		rec := exportRecord{Memory: memories[i]}
		if includeEmbeddings && s.vecDims > 0 {
			var blob []byte
			err := s.db.QueryRowContext(ctx,
				"SELECT embedding FROM vec_embeddings WHERE id = ?", memories[i].ID).Scan(&blob)
			if err == nil {
				rec.Embedding = base64.StdEncoding.EncodeToString(blob)
			}
		}
		if err := enc.Encode(rec); err != nil {
			return nil, errors.Wrap(err, "encode memory record")
		}
	}
	return buf.Bytes(), nil
}

func (s *Store) exportEntities(ctx context.Context) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, entity_type, COALESCE(metadata, ''), created_at FROM entities ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "query entities for export")
	}
	defer rows.Close()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for rows.Next() {
		var rec entityRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.EntityType, &rec.Metadata, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan entity")
		}
		if err := enc.Encode(rec); err != nil {
			return nil, errors.Wrap(err, "encode entity record")
		}
	}
	return buf.Bytes(), rows.Err()
}

func (s *Store) exportRelations(ctx context.Context) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source_id, target_id, relation, weight, created_at FROM relations ORDER BY source_id, target_id")
	if err != nil {
		return nil, errors.Wrap(err, "query relations for export")
	}
	defer rows.Close()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for rows.Next() {
		var rec relationRecord
		if err := rows.Scan(&rec.SourceID, &rec.TargetID, &rec.Relation, &rec.Weight, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan relation")
		}
		if err := enc.Encode(rec); err != nil {
			return nil, errors.Wrap(err, "encode relation record")
		}
	}
	return buf.Bytes(), rows.Err()
}

// WriteExport materializes a file map under destDir.
func WriteExport(files map[string][]byte, destDir string) error {
	for rel, content := range files {
		path := filepath.Join(destDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrapf(err, "create dir for %s", rel)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return errors.Wrapf(err, "write %s", rel)
		}
	}
	return nil
}

// ReadExport loads an export directory back into a file map.
func ReadExport(srcDir string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk export dir")
	}
	return files, nil
}

func decodeJSONL[T any](data []byte) ([]T, error) {
	var out []T
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, errors.Wrap(err, "parse jsonl record")
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
