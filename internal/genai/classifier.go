package genai

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Classifier issues the short capability-matching call: history-free, low
// temperature, tight token cap. Implements the intent pipeline's
// classifier interface.
type Classifier struct {
	g         *genkit.Genkit
	modelName string
	maxTokens int

	// temperature is intentionally near zero; classification wants the
	// mode, not variety.
	temperature float32
}

// ClassifierConfig configures the classifier call.
type ClassifierConfig struct {
	Genkit      *genkit.Genkit
	ModelName   string
	MaxTokens   int
	Temperature float32
}

// NewClassifier creates a classifier. MaxTokens <= 0 defaults to 256.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &Classifier{
		g:           cfg.Genkit,
		modelName:   cfg.ModelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Classify sends the user prompt as the only message. No history, no tools.
func (c *Classifier) Classify(ctx context.Context, system, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithSystem(system),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(prompt))),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     float64(c.temperature),
			MaxOutputTokens: c.maxTokens,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("classification call: %w", err)
	}
	return resp.Text(), nil
}
