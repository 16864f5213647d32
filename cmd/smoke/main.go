// Smoke tool: creates two bleu-scored runs against a live stack, polls both
// to completion, then compares them end to end.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type createResp struct {
	EvaluationID string `json:"evaluation_id"`
}

type statusResp struct {
	EvaluationID   string   `json:"evaluation_id"`
	Status         string   `json:"status"`
	TotalItems     int      `json:"total_items"`
	CompletedItems int      `json:"completed_items"`
	AverageScore   *float64 `json:"average_score"`
	Passed         *bool    `json:"passed"`
}

func main() {
	base := flag.String("base", envOr("API_BASE_URL", "http://localhost:8000"), "API base URL")
	token := flag.String("token", envOr("API_TOKEN", "dev-secret-token"), "API token")
	wait := flag.Duration("wait", 60*time.Second, "How long to poll each run for completion")
	flag.Parse()

	httpc := &http.Client{Timeout: 12 * time.Second}

	// Two runs over the same prompts with different model outputs. BLEU needs
	// no external judge, so the whole loop works against a bare stack.
	baseline := createBody("smoke-baseline", "model-v1", []map[string]any{
		{"prompt": "capital of France", "model_output": "The capital of France is Paris.", "expected_output": "The capital of France is Paris."},
		{"prompt": "capital of Japan", "model_output": "Kyoto is the capital of Japan.", "expected_output": "The capital of Japan is Tokyo."},
	})
	candidate := createBody("smoke-candidate", "model-v2", []map[string]any{
		{"prompt": "capital of France", "model_output": "The capital of France is Paris.", "expected_output": "The capital of France is Paris."},
		{"prompt": "capital of Japan", "model_output": "The capital of Japan is Tokyo.", "expected_output": "The capital of Japan is Tokyo."},
	})

	baselineID := mustCreate(httpc, *base, *token, baseline)
	fmt.Printf("✅ Created baseline run: %s\n", baselineID)
	candidateID := mustCreate(httpc, *base, *token, candidate)
	fmt.Printf("✅ Created candidate run: %s\n", candidateID)

	for _, id := range []string{baselineID, candidateID} {
		st := pollUntilTerminal(httpc, *base, *token, id, *wait)
		avg := "null"
		if st.AverageScore != nil {
			avg = fmt.Sprintf("%.4f", *st.AverageScore)
		}
		fmt.Printf("✅ Run %s settled: status=%s completed=%d/%d average=%s\n",
			id, st.Status, st.CompletedItems, st.TotalItems, avg)
	}

	var cmp map[string]any
	url := fmt.Sprintf("%s/evaluations/compare?baseline=%s&candidate=%s", *base, baselineID, candidateID)
	if err := getJSON(httpc, url, *token, &cmp); err != nil {
		fatalf("compare: %v", err)
	}
	fmt.Printf("✅ Comparison: %s\n", compactJSON(cmp))
	fmt.Printf("🎉 Smoke run OK. baseline=%s candidate=%s\n", baselineID, candidateID)
}

func createBody(name, modelVersion string, items []map[string]any) map[string]any {
	return map[string]any{
		"name":          name,
		"model_version": modelVersion,
		"threshold":     0.5,
		"rubric":        map[string]any{"type": "bleu"},
		"items":         items,
	}
}

func mustCreate(c *http.Client, base, token string, body map[string]any) string {
	var created createResp
	if err := postJSON(c, base+"/evaluations", token, body, &created); err != nil {
		fatalf("create evaluation: %v", err)
	}
	return created.EvaluationID
}

func pollUntilTerminal(c *http.Client, base, token, id string, wait time.Duration) statusResp {
	deadline := time.Now().Add(wait)
	for {
		var st statusResp
		if err := getJSON(c, base+"/evaluations/status?id="+id, token, &st); err != nil {
			fatalf("poll status: %v", err)
		}
		if st.Status == "completed" || st.Status == "failed" {
			return st
		}
		if time.Now().After(deadline) {
			fatalf("run %s did not settle within %s (status=%s %d/%d)",
				id, wait, st.Status, st.CompletedItems, st.TotalItems)
		}
		time.Sleep(2 * time.Second)
	}
}

// --- helpers ---

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func postJSON(c *http.Client, url, bearer string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)
	res, err := c.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("POST %s -> %d: %s", url, res.StatusCode, string(raw))
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

func getJSON(c *http.Client, url, bearer string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+bearer)
	res, err := c.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("GET %s -> %d: %s", url, res.StatusCode, string(raw))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func compactJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
