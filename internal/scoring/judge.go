package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"eaas/internal/rubric"
)

const judgeMaxTokens = 500

// Judge scores items by asking an LLM to fill in the rubric's prompt template
// and rate the model output. The judge must answer with a JSON object of the
// shape {"score": <number>, "explanation": "<text>"}.
type Judge struct {
	client *anthropic.Client
	model  string
}

func NewJudge(apiKey, model string) *Judge {
	return &Judge{client: anthropic.NewClient(apiKey), model: model}
}

func (j *Judge) Score(ctx context.Context, item Item, cfg rubric.Config) (Result, error) {
	prompt := fillTemplate(cfg.PromptTemplate, item)

	resp, err := j.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(j.model),
		MaxTokens: judgeMaxTokens,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Result{}, scoreErrorf(KindTimeout, "judge call timed out: %v", err)
		}
		return Result{}, scoreErrorf(KindUpstreamFailure, "judge call failed: %v", err)
	}

	text := firstText(resp)
	return parseJudgeResponse(text)
}

func fillTemplate(tmpl string, item Item) string {
	expected := item.ExpectedOutput
	if expected == "" {
		expected = "N/A"
	}
	r := strings.NewReplacer(
		"{prompt}", item.Prompt,
		"{model_output}", item.ModelOutput,
		"{expected_output}", expected,
	)
	return r.Replace(tmpl)
}

func firstText(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}

// parseJudgeResponse extracts the {score, explanation} object from the
// judge's free text. Judges wrap JSON in prose or code fences often enough
// that we cut from the first '{' to the last '}' before unmarshalling.
func parseJudgeResponse(text string) (Result, error) {
	payload := extractJSON(text)
	if payload == "" {
		return Result{}, scoreErrorf(KindMalformedJudgeResponse, "no JSON object in judge response")
	}

	var parsed struct {
		Score       *float64 `json:"score"`
		Explanation string   `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return Result{}, scoreErrorf(KindMalformedJudgeResponse, "parse judge response: %v", err)
	}
	if parsed.Score == nil {
		return Result{}, scoreErrorf(KindMalformedJudgeResponse, "judge response missing score")
	}

	explanation := parsed.Explanation
	if explanation == "" {
		explanation = strings.TrimSpace(text)
	}
	return Result{Score: *parsed.Score, Explanation: explanation}, nil
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
