package distill

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/memory"
	"github.com/signetai/signet/refine"
)

// ProfileTag marks the singleton memory row holding the serialized profile.
const ProfileTag = "cognitive-profile"

const profileMemoryLimit = 500

var profileMemoryTypes = []string{
	memory.TypeSkill, memory.TypeDecision, memory.TypeProcedural,
	memory.TypePreference, memory.TypeFact, memory.TypePattern,
}

// CognitiveProfile is the distilled picture of how the user works. It is
// persisted as the JSON content of a single type=system memory.
type CognitiveProfile struct {
	ProblemSolving  ProblemSolving `json:"problemSolving"`
	Communication   Communication  `json:"communication"`
	WorkPatterns    WorkPatterns   `json:"workPatterns"`
	Preferences     Preferences    `json:"preferences"`
	TopSkills       []string       `json:"topSkills"`
	ConfidenceScore float64        `json:"confidenceScore"`
	MemoryCount     int            `json:"memoryCount"`
	LastUpdated     time.Time      `json:"lastUpdated"`
}

type ProblemSolving struct {
	Approach  string `json:"approach"`
	Debugging string `json:"debugging"`
	Planning  string `json:"planning"`
}

type Communication struct {
	Style     string `json:"style"`
	Formality string `json:"formality"`
}

type WorkPatterns struct {
	PeakHours         []int   `json:"peakHours"`
	AvgSessionMinutes float64 `json:"avgSessionMinutes"`
	ContextSwitching  string  `json:"contextSwitching"`
	BreakFrequency    string  `json:"breakFrequency"`
}

type Preferences struct {
	Editor    string   `json:"editor"`
	Terminal  string   `json:"terminal"`
	Languages []string `json:"languages"`
}

// enumSpec validates one string field of the model's response.
type enumSpec struct {
	allowed  map[string]bool
	fallback string
}

func enum(fallback string, values ...string) enumSpec {
	allowed := make(map[string]bool, len(values))
	for _, v := range values {
		allowed[v] = true
	}
	return enumSpec{allowed: allowed, fallback: fallback}
}

var (
	approachEnum  = enum("systematic", "systematic", "exploratory", "iterative")
	debuggingEnum = enum("print-based", "print-based", "debugger", "test-driven")
	planningEnum  = enum("incremental", "upfront", "incremental")
	styleEnum     = enum("concise", "concise", "detailed", "visual")
	formalityEnum = enum("neutral", "casual", "neutral", "formal")
	switchingEnum = enum("moderate", "low", "moderate", "high")
	breakFreqEnum = enum("regular", "rare", "regular", "irregular", "frequent")
)

func (e enumSpec) pick(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if e.allowed[value] {
		return value
	}
	return e.fallback
}

const profileSystemPrompt = `You build a cognitive profile of a developer from their accumulated memories.
Respond with a single JSON object:
{"problemSolving": {"approach": "systematic"|"exploratory"|"iterative", "debugging": "print-based"|"debugger"|"test-driven", "planning": "upfront"|"incremental"},
 "communication": {"style": "concise"|"detailed"|"visual", "formality": "casual"|"neutral"|"formal"},
 "preferences": {"editor": string, "terminal": string, "languages": [string]},
 "topSkills": [string],
 "confidenceScore": 0.0-1.0}
Use "unknown" for preferences the memories do not support. Ground every field in the supplied memories.`

const incrementalInstruction = `A prior profile is included. Only change fields the new memories give clear evidence for; otherwise repeat the prior value.`

// UpdateProfile runs the profile pipeline: gather new memories, compute the
// deterministic working style, ask the model to synthesize the judgment
// fields, validate, and persist. Model unavailability degrades to a
// deterministic-only profile rather than failing the run.
func (d *Distiller) UpdateProfile(ctx context.Context) (*CognitiveProfile, error) {
	prior, existingID, err := d.loadProfile(ctx)
	if err != nil {
		return nil, err
	}

	since := time.Time{}
	if prior != nil {
		since = prior.LastUpdated
	}
	memories, err := d.store.ByTypesSince(ctx, profileMemoryTypes, since, profileMemoryLimit)
	if err != nil {
		return nil, errors.Wrap(err, "load profile memories")
	}
	if len(memories) == 0 && prior != nil {
		d.logger.Debugw("No new memories since last profile update")
		return prior, nil
	}

	style, err := d.workStyle(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "compute working style")
	}

	profile := d.synthesizeProfile(ctx, memories, style, prior)
	profile.WorkPatterns = WorkPatterns{
		PeakHours:         style.PeakHours,
		AvgSessionMinutes: style.AvgSessionMinutes,
		ContextSwitching:  switchingEnum.pick(style.ContextSwitching),
		BreakFrequency:    breakFreqEnum.pick(style.BreakFrequency),
	}
	detectTools(&profile.Preferences, style.MostUsedApps)
	if len(profile.TopSkills) == 0 {
		profile.TopSkills = skillsFromMemories(memories)
	}
	profile.MemoryCount = len(memories)
	if prior != nil {
		profile.MemoryCount += prior.MemoryCount
	}
	profile.LastUpdated = time.Now().UTC()

	if err := d.persistProfile(ctx, &profile, existingID); err != nil {
		return nil, err
	}
	d.logger.Infow("Cognitive profile updated",
		"memories", len(memories), "incremental", prior != nil)
	return &profile, nil
}

// CurrentProfile loads the persisted profile, or nil when none exists yet.
func (d *Distiller) CurrentProfile(ctx context.Context) (*CognitiveProfile, error) {
	profile, _, err := d.loadProfile(ctx)
	return profile, err
}

func (d *Distiller) loadProfile(ctx context.Context) (*CognitiveProfile, string, error) {
	existing, err := d.store.FindTagged(ctx, memory.TypeSystem, ProfileTag)
	if err != nil {
		return nil, "", errors.Wrap(err, "find profile memory")
	}
	if existing == nil {
		return nil, "", nil
	}
	var profile CognitiveProfile
	if err := json.Unmarshal([]byte(existing.Content), &profile); err != nil {
		// A corrupt profile row is rebuilt from scratch in place.
		d.logger.Warnw("Stored profile unparseable, rebuilding", "error", err)
		return nil, existing.ID, nil
	}
	return &profile, existing.ID, nil
}

// synthesizeProfile asks the model for the judgment fields and validates
// every enum, falling back field by field. Without a reachable model the
// prior (or zero) profile's judgment fields carry over.
func (d *Distiller) synthesizeProfile(ctx context.Context, memories []memory.Memory, style WorkStyle, prior *CognitiveProfile) CognitiveProfile {
	base := CognitiveProfile{}
	if prior != nil {
		base = *prior
	}

	if !d.client.Available(ctx) {
		d.logger.Warnw("Model server unavailable, profile limited to deterministic fields")
		return validateProfile(base, base)
	}

	prompt := formatProfilePrompt(memories, style, prior)
	raw, err := d.client.Generate(ctx, profileSystemPrompt, prompt)
	if err != nil {
		d.logger.Warnw("Profile synthesis failed, keeping prior fields", "error", err)
		return validateProfile(base, base)
	}
	return parseProfile(raw, base)
}

// parseProfile decodes a model response over a base profile. Unparseable
// responses keep the base; individual fields fall back per enum.
func parseProfile(raw string, base CognitiveProfile) CognitiveProfile {
	data := refine.ExtractJSON(raw)
	if data == nil {
		return validateProfile(base, base)
	}
	var parsed CognitiveProfile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return validateProfile(base, base)
	}
	return validateProfile(parsed, base)
}

// validateProfile enforces the enum per field. ConfidenceScore is clamped,
// never invented.
func validateProfile(p, base CognitiveProfile) CognitiveProfile {
	p.ProblemSolving.Approach = approachEnum.pick(p.ProblemSolving.Approach)
	p.ProblemSolving.Debugging = debuggingEnum.pick(p.ProblemSolving.Debugging)
	p.ProblemSolving.Planning = planningEnum.pick(p.ProblemSolving.Planning)
	p.Communication.Style = styleEnum.pick(p.Communication.Style)
	p.Communication.Formality = formalityEnum.pick(p.Communication.Formality)

	if p.ConfidenceScore < 0 || p.ConfidenceScore > 1 {
		p.ConfidenceScore = base.ConfidenceScore
	}
	if p.Preferences.Editor == "" {
		p.Preferences.Editor = "unknown"
	}
	if p.Preferences.Terminal == "" {
		p.Preferences.Terminal = "unknown"
	}
	return p
}

var editorKeywords = []string{
	"code", "cursor", "vim", "nvim", "neovim", "emacs",
	"intellij", "goland", "pycharm", "zed", "sublime",
}

var terminalKeywords = []string{
	"iterm", "terminal", "alacritty", "kitty", "wezterm", "warp", "ghostty",
}

// detectTools fills in editor and terminal from observed app usage when the
// model answered "unknown".
func detectTools(prefs *Preferences, mostUsedApps []string) {
	match := func(keywords []string) string {
		for _, app := range mostUsedApps {
			lower := strings.ToLower(app)
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					return app
				}
			}
		}
		return ""
	}
	if prefs.Editor == "" || prefs.Editor == "unknown" {
		if app := match(editorKeywords); app != "" {
			prefs.Editor = app
		}
	}
	if prefs.Terminal == "" || prefs.Terminal == "unknown" {
		if app := match(terminalKeywords); app != "" {
			prefs.Terminal = app
		}
	}
}

// skillsFromMemories derives top skills deterministically from skill-memory
// tags when the model returned none.
func skillsFromMemories(memories []memory.Memory) []string {
	counts := make(map[string]int)
	for _, m := range memories {
		if m.Type != memory.TypeSkill {
			continue
		}
		for _, tag := range m.Tags {
			if tag != "skill" && tag != "" {
				counts[tag]++
			}
		}
	}
	skills := make([]string, 0, len(counts))
	for s := range counts {
		skills = append(skills, s)
	}
	sort.Slice(skills, func(i, j int) bool {
		if counts[skills[i]] != counts[skills[j]] {
			return counts[skills[i]] > counts[skills[j]]
		}
		return skills[i] < skills[j]
	})
	if len(skills) > 10 {
		skills = skills[:10]
	}
	return skills
}

func formatProfilePrompt(memories []memory.Memory, style WorkStyle, prior *CognitiveProfile) string {
	var b strings.Builder

	byType := make(map[string][]memory.Memory)
	for _, m := range memories {
		byType[m.Type] = append(byType[m.Type], m)
	}
	var sections []string
	for _, typ := range profileMemoryTypes {
		group := byType[typ]
		if len(group) == 0 {
			continue
		}
		var lines []string
		for _, m := range group {
			lines = append(lines, "- "+refine.Sanitize(m.Content))
		}
		sections = append(sections, fmt.Sprintf("%s memories:\n%s", typ, strings.Join(lines, "\n")))
	}
	b.WriteString(refine.WrapUserData(strings.Join(sections, "\n\n")))

	b.WriteString(fmt.Sprintf(
		"\n\nObserved working style: peak hours %v, average session %.0f minutes, context switching %s, breaks %s.",
		style.PeakHours, style.AvgSessionMinutes, style.ContextSwitching, style.BreakFrequency))
	if len(style.MostUsedApps) > 0 {
		b.WriteString(" Most used applications: " + strings.Join(style.MostUsedApps, ", ") + ".")
	}

	if prior != nil {
		if priorJSON, err := json.Marshal(prior); err == nil {
			b.WriteString("\n\n" + incrementalInstruction + "\nPrior profile: " + string(priorJSON))
		}
	}
	return b.String()
}

func (d *Distiller) persistProfile(ctx context.Context, profile *CognitiveProfile, existingID string) error {
	content, err := json.Marshal(profile)
	if err != nil {
		return errors.Wrap(err, "marshal profile")
	}
	if existingID != "" {
		return d.store.UpdateContent(ctx, existingID, string(content))
	}
	importance := 0.9
	_, err = d.store.Remember(ctx, memory.RememberInput{
		Content:    string(content),
		Type:       memory.TypeSystem,
		Source:     "distillation",
		Importance: &importance,
		Tags:       []string{ProfileTag},
		Pinned:     true,
	})
	return errors.Wrap(err, "persist profile")
}
