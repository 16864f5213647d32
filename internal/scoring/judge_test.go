package scoring

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"eaas/internal/rubric"
)

func TestParseJudgeResponse(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		res, err := parseJudgeResponse(`{"score": 0.8, "explanation": "mostly correct"}`)
		if err != nil {
			t.Fatal(err)
		}
		if res.Score != 0.8 || res.Explanation != "mostly correct" {
			t.Fatalf("got %+v", res)
		}
	})

	t.Run("json wrapped in prose and fences", func(t *testing.T) {
		text := "Sure, here is my rating:\n```json\n{\"score\": 1, \"explanation\": \"exact\"}\n```"
		res, err := parseJudgeResponse(text)
		if err != nil {
			t.Fatal(err)
		}
		if res.Score != 1 {
			t.Fatalf("score = %g, want 1", res.Score)
		}
	})

	t.Run("no json object", func(t *testing.T) {
		_, err := parseJudgeResponse("I think the answer is pretty good.")
		assertKind(t, err, KindMalformedJudgeResponse)
	})

	t.Run("missing score field", func(t *testing.T) {
		_, err := parseJudgeResponse(`{"explanation": "no rating given"}`)
		assertKind(t, err, KindMalformedJudgeResponse)
	})

	t.Run("unparseable payload", func(t *testing.T) {
		_, err := parseJudgeResponse(`{"score": not-a-number}`)
		assertKind(t, err, KindMalformedJudgeResponse)
	})

	t.Run("empty explanation falls back to full text", func(t *testing.T) {
		res, err := parseJudgeResponse(`  {"score": 0.5}  `)
		if err != nil {
			t.Fatal(err)
		}
		if res.Explanation != `{"score": 0.5}` {
			t.Fatalf("explanation = %q", res.Explanation)
		}
	})
}

func TestFillTemplate(t *testing.T) {
	item := Item{Prompt: "2+2?", ModelOutput: "4"}
	got := fillTemplate("Q: {prompt} A: {model_output} Ref: {expected_output}", item)
	want := "Q: 2+2? A: 4 Ref: N/A"
	if got != want {
		t.Fatalf("fillTemplate = %q, want %q", got, want)
	}

	item.ExpectedOutput = "four"
	got = fillTemplate("Ref: {expected_output}", item)
	if got != "Ref: four" {
		t.Fatalf("fillTemplate = %q", got)
	}
}

func TestClassify(t *testing.T) {
	t.Run("passes score errors through", func(t *testing.T) {
		in := scoreErrorf(KindMalformedJudgeResponse, "bad json")
		if got := Classify(in); got != in {
			t.Fatalf("Classify rebuilt the error: %v", got)
		}
	})

	t.Run("wrapped score errors survive", func(t *testing.T) {
		wrapped := fmt.Errorf("attempt 3: %w", scoreErrorf(KindInvalidScore, "7 out of range"))
		if got := Classify(wrapped); got.Kind != KindInvalidScore {
			t.Fatalf("kind = %s", got.Kind)
		}
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		if got := Classify(context.DeadlineExceeded); got.Kind != KindTimeout {
			t.Fatalf("kind = %s", got.Kind)
		}
	})

	t.Run("anything else is upstream", func(t *testing.T) {
		if got := Classify(errors.New("connection refused")); got.Kind != KindUpstreamFailure {
			t.Fatalf("kind = %s", got.Kind)
		}
	})
}

func TestFactoryForConfig(t *testing.T) {
	f := &Factory{AnthropicAPIKey: "key", JudgeModel: "model"}
	for _, tt := range []struct {
		typ  rubric.Type
		want string
	}{
		{rubric.TypeLLM, "*scoring.Judge"},
		{rubric.TypeBLEU, "*scoring.BLEU"},
		{rubric.TypeROUGE, "*scoring.ROUGE"},
		{rubric.TypeSimilarity, "*scoring.Similarity"},
	} {
		s, err := f.ForConfig(rubric.Config{Type: tt.typ})
		if err != nil {
			t.Fatalf("%s: %v", tt.typ, err)
		}
		if got := fmt.Sprintf("%T", s); got != tt.want {
			t.Fatalf("%s: scorer = %s, want %s", tt.typ, got, tt.want)
		}
	}

	if _, err := f.ForConfig(rubric.Config{Type: "exact"}); err == nil {
		t.Fatal("unknown rubric type accepted")
	}
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var se *ScoreError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want ScoreError", err)
	}
	if se.Kind != kind {
		t.Fatalf("kind = %s, want %s", se.Kind, kind)
	}
}
