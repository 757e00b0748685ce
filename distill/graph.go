package distill

import (
	"context"
	"database/sql"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/memory"
)

// Entity types recognized by the graph.
const (
	EntityLanguage  = "language"
	EntityFramework = "framework"
	EntityTool      = "tool"
	EntityProject   = "project"
	EntityPerson    = "person"
	EntitySkill     = "skill"
)

const relatedLimit = 20

var languageSet = keywordSet(
	"go", "golang", "python", "typescript", "javascript", "rust", "java",
	"kotlin", "swift", "ruby", "c", "c++", "c#", "scala", "haskell",
	"elixir", "zig", "lua", "sql", "bash", "shell", "html", "css",
)

var frameworkSet = keywordSet(
	"react", "vue", "svelte", "angular", "nextjs", "django", "flask",
	"fastapi", "rails", "spring", "express", "gin", "echo", "tailwind",
	"pytorch", "tensorflow", "tauri", "electron", "cobra",
)

var toolSet = keywordSet(
	"git", "docker", "kubernetes", "terraform", "ansible", "vim", "neovim",
	"vscode", "postgres", "postgresql", "sqlite", "mysql", "redis", "kafka",
	"nginx", "aws", "gcp", "azure", "jenkins", "make", "cmake", "npm",
	"pnpm", "cargo", "ollama", "ffmpeg", "whisper", "tmux", "grafana",
)

// Tags that describe the memory itself rather than a subject.
var stopTags = keywordSet(
	"skill", "project", "decision", "workflow", "pattern", "context",
	"session-extract", "memory", "note", "todo", "misc", "general",
	"important", ProfileTag,
)

var personPattern = regexp.MustCompile(`^[A-Z][a-z]+ [A-Z][a-z]+$`)

func keywordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Graph maintains the expertise co-occurrence graph in the
// expertise_nodes and expertise_edges tables.
type Graph struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewGraph(database *sql.DB, logger *zap.SugaredLogger) *Graph {
	return &Graph{db: database, logger: logger}
}

// Node is one recognized entity.
type Node struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	EntityType string    `json:"entityType"`
	Mentions   int       `json:"mentions"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
}

// Neighbor is one edge endpoint as seen from a queried node.
type Neighbor struct {
	Name          string  `json:"name"`
	EntityType    string  `json:"entityType"`
	Weight        float64 `json:"weight"`
	CoOccurrences int     `json:"coOccurrences"`
}

// DepthReport summarizes how deep the user's expertise runs in a domain.
type DepthReport struct {
	Domain          string `json:"domain"`
	MemoryCount     int    `json:"memoryCount"`
	UniqueSkills    int    `json:"uniqueSkills"`
	RelatedEntities int    `json:"relatedEntities"`
	Depth           string `json:"depth"`
}

type entity struct {
	name       string
	entityType string
}

// classifyEntity maps a candidate term to an entity type, or reports that it
// should be skipped. The keyword sets win over the shape heuristics.
func classifyEntity(raw string) (entity, bool) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return entity{}, false
	}
	lower := strings.ToLower(name)
	if stopTags[lower] {
		return entity{}, false
	}

	switch {
	case languageSet[lower]:
		return entity{name: lower, entityType: EntityLanguage}, true
	case frameworkSet[lower]:
		return entity{name: lower, entityType: EntityFramework}, true
	case toolSet[lower]:
		return entity{name: lower, entityType: EntityTool}, true
	case strings.HasPrefix(name, "@") ||
		strings.Contains(lower, "project") || strings.Contains(lower, "repo"):
		return entity{name: strings.TrimPrefix(lower, "@"), entityType: EntityProject}, true
	case personPattern.MatchString(name):
		return entity{name: name, entityType: EntityPerson}, true
	default:
		return entity{name: lower, entityType: EntitySkill}, true
	}
}

// entitiesOf extracts the recognized entity set of one memory: every tag,
// plus keyword-set matches in the content of skill memories.
func entitiesOf(m memory.Memory) map[string]entity {
	out := make(map[string]entity)
	for _, tag := range m.Tags {
		if e, ok := classifyEntity(tag); ok {
			out[nodeID(e.name)] = e
		}
	}
	if m.Type == memory.TypeSkill {
		for _, word := range strings.FieldsFunc(m.Content, func(r rune) bool {
			return r == ' ' || r == ',' || r == '.' || r == ':' || r == ';' || r == '\n'
		}) {
			lower := strings.ToLower(word)
			if languageSet[lower] || frameworkSet[lower] || toolSet[lower] {
				if e, ok := classifyEntity(lower); ok {
					out[nodeID(e.name)] = e
				}
			}
		}
	}
	return out
}

func nodeID(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// Rebuild recomputes the whole graph from the given memories and swaps it
// into the tables in a single transaction. Returns node and edge counts.
func (g *Graph) Rebuild(ctx context.Context, memories []memory.Memory) (int, int, error) {
	type nodeAgg struct {
		entity
		mentions  int
		firstSeen time.Time
		lastSeen  time.Time
	}
	nodes := make(map[string]*nodeAgg)
	cooc := make(map[[2]string]int)

	for _, m := range memories {
		entities := entitiesOf(m)
		ids := make([]string, 0, len(entities))
		for id, e := range entities {
			ids = append(ids, id)
			agg, ok := nodes[id]
			if !ok {
				agg = &nodeAgg{entity: e, firstSeen: m.CreatedAt, lastSeen: m.CreatedAt}
				nodes[id] = agg
			}
			agg.mentions++
			if m.CreatedAt.Before(agg.firstSeen) {
				agg.firstSeen = m.CreatedAt
			}
			if m.CreatedAt.After(agg.lastSeen) {
				agg.lastSeen = m.CreatedAt
			}
		}

		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				cooc[[2]string{ids[i], ids[j]}]++
			}
		}
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, errors.Wrap(err, "begin graph rebuild")
	}
	defer tx.Rollback()

	for _, table := range []string{"expertise_edges", "expertise_nodes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return 0, 0, errors.Wrapf(err, "clear %s", table)
		}
	}

	for id, agg := range nodes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO expertise_nodes
			(id, name, entity_type, mentions, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, agg.name, agg.entityType, agg.mentions,
			agg.firstSeen.UTC().Format(time.RFC3339),
			agg.lastSeen.UTC().Format(time.RFC3339),
		); err != nil {
			return 0, 0, errors.Wrapf(err, "insert node %s", id)
		}
	}

	for pair, count := range cooc {
		weight := math.Log2(1 + float64(count))
		if _, err := tx.ExecContext(ctx, `INSERT INTO expertise_edges
			(source_id, target_id, weight, co_occurrences)
			VALUES (?, ?, ?, ?)`,
			pair[0], pair[1], weight, count,
		); err != nil {
			return 0, 0, errors.Wrapf(err, "insert edge %s-%s", pair[0], pair[1])
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, errors.Wrap(err, "commit graph rebuild")
	}
	return len(nodes), len(cooc), nil
}

// Related returns the strongest neighbors of a skill, heaviest first.
func (g *Graph) Related(ctx context.Context, name string) ([]Neighbor, error) {
	id := nodeID(name)
	rows, err := g.db.QueryContext(ctx, `
		SELECT n.name, n.entity_type, e.weight, e.co_occurrences
		FROM expertise_edges e
		JOIN expertise_nodes n ON n.id = CASE WHEN e.source_id = ? THEN e.target_id ELSE e.source_id END
		WHERE e.source_id = ? OR e.target_id = ?
		ORDER BY e.weight DESC
		LIMIT ?`, id, id, id, relatedLimit)
	if err != nil {
		return nil, errors.Wrap(err, "query related")
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.Name, &n.EntityType, &n.Weight, &n.CoOccurrences); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Depth buckets a domain's expertise by mention volume and skill breadth.
func (g *Graph) Depth(ctx context.Context, domain string) (DepthReport, error) {
	report := DepthReport{Domain: domain, Depth: "surface"}

	var mentions int
	err := g.db.QueryRowContext(ctx,
		"SELECT mentions FROM expertise_nodes WHERE id = ?", nodeID(domain)).Scan(&mentions)
	if errors.Is(err, sql.ErrNoRows) {
		return report, nil
	}
	if err != nil {
		return report, errors.Wrap(err, "query domain node")
	}
	report.MemoryCount = mentions

	neighbors, err := g.Related(ctx, domain)
	if err != nil {
		return report, err
	}
	report.RelatedEntities = len(neighbors)
	for _, n := range neighbors {
		switch n.EntityType {
		case EntitySkill, EntityLanguage, EntityFramework, EntityTool:
			report.UniqueSkills++
		}
	}

	switch {
	case mentions >= 50 && report.UniqueSkills >= 10:
		report.Depth = "expert"
	case mentions >= 20:
		report.Depth = "deep"
	case mentions >= 5:
		report.Depth = "moderate"
	default:
		report.Depth = "surface"
	}
	return report, nil
}

// TopNodes returns the most mentioned entities, for the agent card.
func (g *Graph) TopNodes(ctx context.Context, limit int) ([]Node, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, name, entity_type, mentions, first_seen, last_seen
		FROM expertise_nodes ORDER BY mentions DESC, name LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query top nodes")
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		var first, last string
		if err := rows.Scan(&n.ID, &n.Name, &n.EntityType, &n.Mentions, &first, &last); err != nil {
			return nil, err
		}
		n.FirstSeen, _ = time.Parse(time.RFC3339, first)
		n.LastSeen, _ = time.Parse(time.RFC3339, last)
		out = append(out, n)
	}
	return out, rows.Err()
}
