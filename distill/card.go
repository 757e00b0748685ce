package distill

import (
	"fmt"
	"strings"
)

const cardSkillLimit = 10

// AgentCard is the A2A-compatible description of the agent built from the
// cognitive profile and the expertise graph. Derived state: it is never
// persisted except through export.
type AgentCard struct {
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	Version            string           `json:"version"`
	Capabilities       CardCapabilities `json:"capabilities"`
	DefaultInputModes  []string         `json:"defaultInputModes"`
	DefaultOutputModes []string         `json:"defaultOutputModes"`
	Skills             []CardSkill      `json:"skills"`
}

type CardCapabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
}

type CardSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// BuildAgentCard assembles the card. Pure function of its inputs; a nil
// profile yields a card with deterministic fields only.
func BuildAgentCard(profile *CognitiveProfile, topNodes []Node, version string) AgentCard {
	card := AgentCard{
		Name:               "signet-agent",
		Description:        "Personal agent grounded in ambient observations of its user.",
		Version:            version,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills:             []CardSkill{},
	}

	if profile != nil {
		card.Description = fmt.Sprintf(
			"Personal agent for a developer with a %s problem-solving approach and %s communication style.",
			profile.ProblemSolving.Approach, profile.Communication.Style)
	}

	for _, n := range topNodes {
		card.Skills = append(card.Skills, CardSkill{
			ID:          n.ID,
			Name:        n.Name,
			Description: fmt.Sprintf("%s observed across %d memories", n.EntityType, n.Mentions),
			Tags:        []string{n.EntityType},
		})
	}
	return card
}

// TrainingContext renders the profile and top skills as a markdown block an
// assistant can be primed with.
func TrainingContext(profile *CognitiveProfile, topNodes []Node) string {
	var b strings.Builder
	b.WriteString("## Working With This Developer\n\n")

	if profile != nil {
		b.WriteString(fmt.Sprintf("- Problem solving: %s approach, %s debugging, %s planning\n",
			profile.ProblemSolving.Approach, profile.ProblemSolving.Debugging,
			profile.ProblemSolving.Planning))
		b.WriteString(fmt.Sprintf("- Communication: %s, %s\n",
			profile.Communication.Style, profile.Communication.Formality))
		if profile.Preferences.Editor != "unknown" && profile.Preferences.Editor != "" {
			b.WriteString("- Editor: " + profile.Preferences.Editor + "\n")
		}
		if profile.Preferences.Terminal != "unknown" && profile.Preferences.Terminal != "" {
			b.WriteString("- Terminal: " + profile.Preferences.Terminal + "\n")
		}
		if len(profile.WorkPatterns.PeakHours) > 0 {
			b.WriteString(fmt.Sprintf("- Peak hours: %v, context switching %s\n",
				profile.WorkPatterns.PeakHours, profile.WorkPatterns.ContextSwitching))
		}
	}

	if len(topNodes) > 0 {
		b.WriteString("\n### Expertise\n\n")
		for _, n := range topNodes {
			b.WriteString(fmt.Sprintf("- %s (%s, %d mentions)\n", n.Name, n.EntityType, n.Mentions))
		}
	}
	return b.String()
}
