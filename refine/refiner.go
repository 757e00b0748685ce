package refine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/signetai/signet/capture"
)

// ExtractedMemory is a refiner's output row, ready for the memory store.
type ExtractedMemory struct {
	Content    string
	Type       string
	Importance float64
	Confidence float64
	Tags       []string
}

// Refiner is the capability contract of one LLM extractor.
type Refiner interface {
	Name() string
	Cooldown() time.Duration
	HasEnoughData(b *capture.Bundle) bool
	Refine(ctx context.Context, b *capture.Bundle) ([]ExtractedMemory, error)
}

// generator is the slice of the LLM client refiners need; tests stub it.
type generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Available(ctx context.Context) bool
}

// extractor is the shared refiner machinery: health check, prompt assembly,
// and response decoding. The per-refiner behavior is in the three funcs.
type extractor struct {
	name         string
	cooldown     time.Duration
	systemPrompt string
	client       generator
	logger       *zap.SugaredLogger

	enough func(b *capture.Bundle) bool
	format func(b *capture.Bundle) string
	parse  func(raw string) []ExtractedMemory
}

func (e *extractor) Name() string                         { return e.name }
func (e *extractor) Cooldown() time.Duration              { return e.cooldown }
func (e *extractor) HasEnoughData(b *capture.Bundle) bool { return e.enough(b) }

// Refine runs one extraction pass. Model unavailability is not an error:
// it returns empty output with a warning and the next cycle retries.
func (e *extractor) Refine(ctx context.Context, b *capture.Bundle) ([]ExtractedMemory, error) {
	if !e.client.Available(ctx) {
		e.logger.Warnw("Model server unavailable, skipping extraction", "refiner", e.name)
		return nil, nil
	}

	prompt := e.format(b)
	if prompt == "" {
		return nil, nil
	}

	raw, err := e.client.Generate(ctx, e.systemPrompt, prompt)
	if err != nil {
		e.logger.Warnw("Extraction generation failed", "refiner", e.name, "error", err)
		return nil, nil
	}

	memories := e.parse(raw)
	if len(memories) > 0 {
		e.logger.Infow("Memories extracted", "refiner", e.name, "count", len(memories))
	}
	return memories, nil
}
