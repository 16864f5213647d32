package http

import (
	"bytes"
	"log/slog"
	"testing"

	"eaas/internal/db"
	"eaas/internal/rubric"
	"eaas/internal/run"
)

func fptr(f float64) *float64 { return &f }

func TestDerivePassed(t *testing.T) {
	tests := []struct {
		name string
		ev   db.Evaluation
		want *bool
	}{
		{
			name: "nil without threshold",
			ev:   db.Evaluation{Status: string(run.StatusCompleted), AverageScore: fptr(0.9)},
			want: nil,
		},
		{
			name: "nil without average",
			ev:   db.Evaluation{Status: string(run.StatusCompleted), Threshold: fptr(0.5)},
			want: nil,
		},
		{
			name: "average meets threshold",
			ev:   db.Evaluation{Status: string(run.StatusCompleted), Threshold: fptr(0.5), AverageScore: fptr(0.5)},
			want: fbool(true),
		},
		{
			name: "average below threshold",
			ev:   db.Evaluation{Status: string(run.StatusCompleted), Threshold: fptr(0.9), AverageScore: fptr(0.5)},
			want: fbool(false),
		},
		{
			// A failed run keeps its persisted partial average; pass/fail is
			// derived from threshold and average alone, not the run status.
			name: "failed run with partial average",
			ev:   db.Evaluation{Status: string(run.StatusFailed), Threshold: fptr(0.5), AverageScore: fptr(0.8)},
			want: fbool(true),
		},
		{
			name: "running run with a live average",
			ev:   db.Evaluation{Status: string(run.StatusRunning), Threshold: fptr(0.5), AverageScore: fptr(0.2)},
			want: fbool(false),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := derivePassed(&tt.ev)
			switch {
			case tt.want == nil && got != nil:
				t.Fatalf("passed = %v, want nil", *got)
			case tt.want != nil && got == nil:
				t.Fatalf("passed = nil, want %v", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Fatalf("passed = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func fbool(b bool) *bool { return &b }

func TestEvaluationOutLogsCorruptRubric(t *testing.T) {
	var logBuf bytes.Buffer
	s := &Server{Log: slog.New(slog.NewTextHandler(&logBuf, nil))}

	out := s.evaluationOut(&db.Evaluation{ID: "ev-1", Name: "n", Rubric: []byte(`{"type":"nonsense"}`)}, nil)
	if out.Rubric.Type != "" {
		t.Fatalf("rubric type = %q, want zero value for a corrupt row", out.Rubric.Type)
	}
	if !bytes.Contains(logBuf.Bytes(), []byte("decode stored rubric")) {
		t.Fatalf("corrupt rubric was not logged; log output: %s", logBuf.String())
	}

	logBuf.Reset()
	out = s.evaluationOut(&db.Evaluation{ID: "ev-2", Name: "n", Rubric: []byte(`{"type":"bleu"}`)}, nil)
	if out.Rubric.Type != rubric.TypeBLEU {
		t.Fatalf("rubric type = %q, want bleu", out.Rubric.Type)
	}
	if logBuf.Len() != 0 {
		t.Fatalf("healthy rubric produced a log entry: %s", logBuf.String())
	}
}
