package refine

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/capture"
	"github.com/signetai/signet/memory"
)

// Refiner registry order is significant: the scheduler runs them in this
// order every cycle.
func BuildRefiners(client generator, logger *zap.SugaredLogger) []Refiner {
	return []Refiner{
		newSkillExtractor(client, logger),
		newProjectExtractor(client, logger),
		newDecisionExtractor(client, logger),
		newWorkflowExtractor(client, logger),
		newContextExtractor(client, logger),
		newPatternExtractor(client, logger),
	}
}

// Forced runs ignore cooldown and data thresholds after a project switch.
var projectSensitiveRefiners = map[string]bool{
	"context-extractor": true,
	"project-extractor": true,
}

var skillLevelImportance = map[string]float64{
	"learning":   0.4,
	"competent":  0.6,
	"proficient": 0.8,
	"expert":     0.95,
}

func newSkillExtractor(client generator, logger *zap.SugaredLogger) Refiner {
	type item struct {
		Skill      string  `json:"skill"`
		Level      string  `json:"level"`
		Evidence   string  `json:"evidence"`
		Confidence float64 `json:"confidence"`
	}
	return &extractor{
		name:     "skill-extractor",
		cooldown: 30 * time.Minute,
		client:   client,
		logger:   logger,
		systemPrompt: `You identify technical skills the user is exercising.
Respond with a JSON array: [{"skill": string, "level": "learning"|"competent"|"proficient"|"expert", "evidence": string, "confidence": 0.0-1.0}].
Only include skills with concrete evidence in the activity. Respond with [] if none.`,
		enough: func(b *capture.Bundle) bool {
			return len(b.Screen) >= 5 || len(b.Terminal) >= 3
		},
		format: formatActivity,
		parse: func(raw string) []ExtractedMemory {
			var out []ExtractedMemory
			for _, it := range DecodeArray[item](raw) {
				importance, ok := skillLevelImportance[it.Level]
				if !ok || it.Skill == "" || it.Confidence < 0.6 {
					continue
				}
				out = append(out, ExtractedMemory{
					Content:    fmt.Sprintf("Uses %s at %s level: %s", it.Skill, it.Level, it.Evidence),
					Type:       memory.TypeSkill,
					Importance: importance,
					Confidence: it.Confidence,
					Tags:       []string{"skill", strings.ToLower(it.Skill)},
				})
			}
			return out
		},
	}
}

func newProjectExtractor(client generator, logger *zap.SugaredLogger) Refiner {
	type item struct {
		Project    string  `json:"project"`
		Detail     string  `json:"detail"`
		Confidence float64 `json:"confidence"`
	}
	return &extractor{
		name:     "project-extractor",
		cooldown: 20 * time.Minute,
		client:   client,
		logger:   logger,
		systemPrompt: `You identify what project the user is working on and what they are doing in it.
Respond with a JSON array: [{"project": string, "detail": string, "confidence": 0.0-1.0}].
Respond with [] if the activity shows no identifiable project.`,
		enough: func(b *capture.Bundle) bool {
			return len(b.Screen) >= 3 || len(b.Files) >= 5 || len(b.Comms) >= 1
		},
		format: formatActivity,
		parse: func(raw string) []ExtractedMemory {
			var out []ExtractedMemory
			for _, it := range DecodeArray[item](raw) {
				if it.Project == "" || it.Confidence < 0.5 {
					continue
				}
				out = append(out, ExtractedMemory{
					Content:    fmt.Sprintf("Working on %s: %s", it.Project, it.Detail),
					Type:       memory.TypeFact,
					Importance: 0.7,
					Confidence: it.Confidence,
					Tags:       []string{"project", strings.ToLower(it.Project)},
				})
			}
			return out
		},
	}
}

func newDecisionExtractor(client generator, logger *zap.SugaredLogger) Refiner {
	type item struct {
		Decision   string  `json:"decision"`
		Rationale  string  `json:"rationale"`
		Confidence float64 `json:"confidence"`
	}
	return &extractor{
		name:     "decision-extractor",
		cooldown: 20 * time.Minute,
		client:   client,
		logger:   logger,
		systemPrompt: `You identify technical or product decisions visible in the user's activity: commits, discussions, configuration changes.
Respond with a JSON array: [{"decision": string, "rationale": string, "confidence": 0.0-1.0}].
Respond with [] if no decision is evident.`,
		enough: func(b *capture.Bundle) bool {
			return len(b.Comms) >= 1 || len(b.Terminal) >= 3 || len(b.Screen) >= 3 || len(b.Voice) >= 1
		},
		format: formatActivity,
		parse: func(raw string) []ExtractedMemory {
			var out []ExtractedMemory
			for _, it := range DecodeArray[item](raw) {
				if it.Decision == "" || it.Confidence < 0.5 {
					continue
				}
				content := it.Decision
				if it.Rationale != "" {
					content = fmt.Sprintf("%s (because %s)", it.Decision, it.Rationale)
				}
				out = append(out, ExtractedMemory{
					Content:    content,
					Type:       memory.TypeDecision,
					Importance: 0.75,
					Confidence: it.Confidence,
					Tags:       []string{"decision"},
				})
			}
			return out
		},
	}
}

func newWorkflowExtractor(client generator, logger *zap.SugaredLogger) Refiner {
	type item struct {
		Workflow   string  `json:"workflow"`
		Steps      string  `json:"steps"`
		Confidence float64 `json:"confidence"`
	}
	return &extractor{
		name:     "workflow-extractor",
		cooldown: 30 * time.Minute,
		client:   client,
		logger:   logger,
		systemPrompt: `You identify repeatable workflows in the user's command and screen activity: sequences they perform to accomplish a task.
Respond with a JSON array: [{"workflow": string, "steps": string, "confidence": 0.0-1.0}].
Respond with [] if nothing repeatable appears.`,
		enough: func(b *capture.Bundle) bool {
			return len(b.Terminal) >= 5 || len(b.Screen) >= 10
		},
		format: formatActivity,
		parse: func(raw string) []ExtractedMemory {
			var out []ExtractedMemory
			for _, it := range DecodeArray[item](raw) {
				if it.Workflow == "" || it.Confidence < 0.6 {
					continue
				}
				out = append(out, ExtractedMemory{
					Content:    fmt.Sprintf("Workflow %q: %s", it.Workflow, it.Steps),
					Type:       memory.TypeProcedural,
					Importance: 0.7,
					Confidence: it.Confidence,
					Tags:       []string{"workflow"},
				})
			}
			return out
		},
	}
}

func newContextExtractor(client generator, logger *zap.SugaredLogger) Refiner {
	type item struct {
		Summary string `json:"summary"`
	}
	return &extractor{
		name:     "context-extractor",
		cooldown: 10 * time.Minute,
		client:   client,
		logger:   logger,
		systemPrompt: `You summarize what the user is currently doing in one or two sentences.
Respond with a JSON array: [{"summary": string}]. Respond with [] if the activity is empty.`,
		enough: func(b *capture.Bundle) bool {
			return len(b.Screen) >= 2 || len(b.Terminal) >= 2 || len(b.Files) >= 3
		},
		format: formatActivity,
		parse: func(raw string) []ExtractedMemory {
			var out []ExtractedMemory
			for _, it := range DecodeArray[item](raw) {
				if it.Summary == "" {
					continue
				}
				out = append(out, ExtractedMemory{
					Content:    it.Summary,
					Type:       memory.TypeSemantic,
					Importance: 0.5,
					Confidence: 0.8,
					Tags:       []string{"context"},
				})
			}
			return out
		},
	}
}

var patternStrengthImportance = map[string]float64{
	"moderate": 0.6,
	"strong":   0.85,
}

func newPatternExtractor(client generator, logger *zap.SugaredLogger) Refiner {
	type item struct {
		Pattern    string  `json:"pattern"`
		Strength   string  `json:"strength"`
		Confidence float64 `json:"confidence"`
	}
	return &extractor{
		name:     "pattern-extractor",
		cooldown: 720 * time.Minute,
		client:   client,
		logger:   logger,
		systemPrompt: `You identify long-range behavioral patterns in the user's activity: habits, recurring schedules, consistent tool choices.
Respond with a JSON array: [{"pattern": string, "strength": "weak"|"moderate"|"strong", "confidence": 0.0-1.0}].
Respond with [] if the data is too thin to support a pattern.`,
		enough: func(b *capture.Bundle) bool {
			return b.Total() >= 30
		},
		format: formatActivity,
		parse: func(raw string) []ExtractedMemory {
			var out []ExtractedMemory
			for _, it := range DecodeArray[item](raw) {
				importance, ok := patternStrengthImportance[it.Strength]
				if !ok || it.Pattern == "" || it.Confidence < 0.5 {
					continue
				}
				out = append(out, ExtractedMemory{
					Content:    it.Pattern,
					Type:       memory.TypePattern,
					Importance: importance,
					Confidence: it.Confidence,
					Tags:       []string{"pattern"},
				})
			}
			return out
		},
	}
}

// formatActivity renders a bundle as the sanitized, delimited user-data
// block every extractor prompts with.
func formatActivity(b *capture.Bundle) string {
	var sections []string

	if len(b.Screen) > 0 {
		var lines []string
		for _, c := range b.Screen {
			lines = append(lines, fmt.Sprintf("[%s] %s / %s: %s",
				c.Timestamp.Format("15:04"), c.FocusedApp, c.FocusedWindow,
				Sanitize(c.OCRText)))
		}
		sections = append(sections, "Screen activity:\n"+strings.Join(lines, "\n"))
	}
	if len(b.Terminal) > 0 {
		var lines []string
		for _, c := range b.Terminal {
			lines = append(lines, fmt.Sprintf("[%s] $ %s",
				c.Timestamp.Format("15:04"), Sanitize(c.Command)))
		}
		sections = append(sections, "Terminal commands:\n"+strings.Join(lines, "\n"))
	}
	if len(b.Files) > 0 {
		var lines []string
		for _, c := range b.Files {
			branch := ""
			if c.GitBranch != "" {
				branch = " (" + c.GitBranch + ")"
			}
			lines = append(lines, fmt.Sprintf("[%s] %s %s%s",
				c.Timestamp.Format("15:04"), c.EventType, AnonymizePath(c.FilePath), branch))
		}
		sections = append(sections, "File activity:\n"+strings.Join(lines, "\n"))
	}
	if len(b.Comms) > 0 {
		var lines []string
		for _, c := range b.Comms {
			lines = append(lines, fmt.Sprintf("[%s] %s@%s: %s",
				c.Timestamp.Format("15:04"), c.Metadata.Repo, c.Metadata.Branch,
				Sanitize(c.Content)))
		}
		sections = append(sections, "Git commits:\n"+strings.Join(lines, "\n"))
	}
	if len(b.Voice) > 0 {
		var lines []string
		for _, c := range b.Voice {
			lines = append(lines, fmt.Sprintf("[%s] (%.0f%% confident) %s",
				c.Timestamp.Format("15:04"), c.Confidence*100, Sanitize(c.Transcript)))
		}
		sections = append(sections, "Voice transcripts:\n"+strings.Join(lines, "\n"))
	}

	if len(sections) == 0 {
		return ""
	}
	return WrapUserData(strings.Join(sections, "\n\n"))
}
