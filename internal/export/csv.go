// Package export renders evaluation results for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"eaas/internal/db"
)

var csvHeader = []string{"Prompt", "Expected Output", "Model Output", "Score", "Explanation", "Status"}

// WriteCSV streams every item of an evaluation as CSV rows. Unscored items
// get an empty score cell, errored items carry the error message in the
// explanation column.
func WriteCSV(w io.Writer, items []db.EvaluationItem) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, it := range items {
		score := ""
		if it.Score != nil {
			score = fmt.Sprintf("%g", *it.Score)
		}
		explanation := ""
		switch {
		case it.ErrorMessage != nil:
			explanation = *it.ErrorMessage
		case it.Explanation != nil:
			explanation = *it.Explanation
		}
		expected := ""
		if it.ExpectedOutput != nil {
			expected = *it.ExpectedOutput
		}
		row := []string{it.Prompt, expected, it.ModelOutput, score, explanation, it.Status}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
