package config

import (
	"fmt"
	"os"
)

// Validate checks all configuration values and returns the first violation.
// Called by Load; callers constructing a Config by hand should call it too.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("%w: provider %q needs GEMINI_API_KEY or GOOGLE_API_KEY", ErrInvalidProvider, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: provider %q needs OPENAI_API_KEY", ErrInvalidProvider, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelName)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v not in [0, 2]", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, c.MaxTokens)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxIterations, c.MaxIterations)
	}

	if c.Classifier.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: classifier timeout %d seconds", ErrInvalidTimeout, c.Classifier.TimeoutSeconds)
	}
	if c.Classifier.MaxTokens <= 0 {
		return fmt.Errorf("%w: classifier budget %d", ErrInvalidMaxTokens, c.Classifier.MaxTokens)
	}

	if c.Retrieval.TopN <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTopN, c.Retrieval.TopN)
	}
	if c.Retrieval.StrictnessMax <= 0 {
		return fmt.Errorf("%w: scale maximum %d", ErrInvalidStrictness, c.Retrieval.StrictnessMax)
	}
	if c.Retrieval.Strictness < 0 || c.Retrieval.Strictness > c.Retrieval.StrictnessMax {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidStrictness, c.Retrieval.Strictness, c.Retrieval.StrictnessMax)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	seen := make(map[string]struct{}, len(c.Remotes))
	for _, r := range c.Remotes {
		if err := r.validate(); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidRemote, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
