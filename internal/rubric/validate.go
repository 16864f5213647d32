package rubric

import (
	"fmt"
	"strings"
)

// ValidationError rejects a run before anything is created.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ItemInput is the minimal item shape validation and ingestion need.
type ItemInput struct {
	Prompt         string `json:"prompt"`
	ModelOutput    string `json:"model_output"`
	ExpectedOutput string `json:"expected_output,omitempty"`
}

// Validate checks a rubric against the items it will score. It is pure: no
// side effects, no partial state on rejection.
//
// Rules:
//   - the item list must be non-empty
//   - every item needs a prompt and a model output
//   - metric rubrics (bleu/rouge/similarity) require expected_output on every item
//   - llm templates must reference {prompt} and {model_output}
func Validate(c Config, items []ItemInput) error {
	if len(items) == 0 {
		return validationErrorf("at least one item is required")
	}

	if c.Type == TypeLLM {
		for _, ph := range []string{"{prompt}", "{model_output}"} {
			if !strings.Contains(c.PromptTemplate, ph) {
				return validationErrorf("llm prompt_template must contain the %s placeholder", ph)
			}
		}
	}

	for i, it := range items {
		if strings.TrimSpace(it.Prompt) == "" {
			return validationErrorf("item %d: prompt is required", i)
		}
		if strings.TrimSpace(it.ModelOutput) == "" {
			return validationErrorf("item %d: model_output is required", i)
		}
		if c.RequiresExpectedOutput() && strings.TrimSpace(it.ExpectedOutput) == "" {
			return validationErrorf("item %d: %s scoring requires expected_output", i, c.Type)
		}
	}
	return nil
}
