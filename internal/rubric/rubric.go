// Package rubric defines the scoring rubric configuration and its validation
// rules. A rubric is a tagged variant: an LLM judge prompt, an automated
// metric (bleu/rouge), or embedding similarity.
package rubric

import (
	"encoding/json"
	"fmt"
)

type Type string

const (
	TypeLLM        Type = "llm"
	TypeBLEU       Type = "bleu"
	TypeROUGE      Type = "rouge"
	TypeSimilarity Type = "similarity"
)

type Scale string

const (
	ScaleZeroOne Scale = "0-1"
	ScaleOneFive Scale = "1-5"
)

// Contains reports whether score lies within the scale's range.
func (s Scale) Contains(score float64) bool {
	switch s {
	case ScaleOneFive:
		return score >= 1 && score <= 5
	default:
		return score >= 0 && score <= 1
	}
}

// Bounds returns the inclusive range of the scale.
func (s Scale) Bounds() (lo, hi float64) {
	if s == ScaleOneFive {
		return 1, 5
	}
	return 0, 1
}

// DefaultPromptTemplate is the stock accuracy template used when an llm
// rubric is created without one.
const DefaultPromptTemplate = `You are a strict evaluator. Rate the correctness of the model output.

Prompt: {prompt}
Expected Output: {expected_output}
Model Output: {model_output}

Score the model output on a scale of 0 to 1, where:
- 0 = Completely incorrect
- 0.5 = Partially correct
- 1 = Completely correct

Respond in JSON format: {"score": <number>, "explanation": "<text>"}`

// Config is a fully-resolved rubric. Defaults are applied per variant when
// unmarshalling, so use sites never merge partial configs.
type Config struct {
	Type Type `json:"type"`

	// llm variant.
	Scale          Scale  `json:"scale,omitempty"`
	PromptTemplate string `json:"prompt_template,omitempty"`

	// bleu/rouge variant.
	MetricName string `json:"metric_name,omitempty"`
}

// Default returns the rubric used when a caller does not supply one.
func Default() Config {
	return Config{
		Type:           TypeLLM,
		Scale:          ScaleZeroOne,
		PromptTemplate: DefaultPromptTemplate,
	}
}

// UnmarshalJSON resolves the tagged variant and applies per-variant defaults.
func (c *Config) UnmarshalJSON(data []byte) error {
	type raw Config
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	rc := Config(r)
	resolved, err := Resolve(rc)
	if err != nil {
		return err
	}
	*c = resolved
	return nil
}

// Resolve normalizes a possibly-partial config into a fully-resolved one.
func Resolve(c Config) (Config, error) {
	switch c.Type {
	case "", TypeLLM:
		c.Type = TypeLLM
		if c.Scale == "" {
			c.Scale = ScaleZeroOne
		}
		if c.Scale != ScaleZeroOne && c.Scale != ScaleOneFive {
			return Config{}, fmt.Errorf("rubric: unknown scale %q", c.Scale)
		}
		if c.PromptTemplate == "" {
			c.PromptTemplate = DefaultPromptTemplate
		}
		c.MetricName = ""
	case TypeBLEU:
		if c.MetricName == "" {
			c.MetricName = "bleu"
		}
		c.Scale = ScaleZeroOne
		c.PromptTemplate = ""
	case TypeROUGE:
		if c.MetricName == "" {
			c.MetricName = "rouge-l"
		}
		c.Scale = ScaleZeroOne
		c.PromptTemplate = ""
	case TypeSimilarity:
		c.Scale = ScaleZeroOne
		c.PromptTemplate = ""
		c.MetricName = ""
	default:
		return Config{}, fmt.Errorf("rubric: unknown type %q", c.Type)
	}
	return c, nil
}

// RequiresExpectedOutput reports whether every item scored under this rubric
// must carry a reference answer.
func (c Config) RequiresExpectedOutput() bool {
	return c.Type != TypeLLM
}
