// Package ingest parses uploaded dataset files into evaluation items.
// Two formats are accepted: CSV with a header row and a JSON array of
// objects. Column and field names follow the upload contract exactly.
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"eaas/internal/rubric"
)

// Parse decodes a dataset file by its extension (.csv or .json).
func Parse(filename string, data []byte) ([]rubric.ItemInput, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ParseCSV(data)
	case ".json":
		return ParseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q, expected .csv or .json", filepath.Ext(filename))
	}
}

// ParseCSV reads a dataset with a header row. The prompt and model_output
// columns are required, expected_output is optional. Unknown columns are
// ignored.
func ParseCSV(data []byte) ([]rubric.ItemInput, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("dataset is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	promptIdx, ok := col["prompt"]
	if !ok {
		return nil, fmt.Errorf("csv header missing required column %q", "prompt")
	}
	outputIdx, ok := col["model_output"]
	if !ok {
		return nil, fmt.Errorf("csv header missing required column %q", "model_output")
	}
	expectedIdx, hasExpected := col["expected_output"]

	var items []rubric.ItemInput
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		item := rubric.ItemInput{
			Prompt:      field(record, promptIdx),
			ModelOutput: field(record, outputIdx),
		}
		if hasExpected {
			item.ExpectedOutput = field(record, expectedIdx)
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("dataset has a header but no rows")
	}
	return items, nil
}

func field(record []string, idx int) string {
	if idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// ParseJSON reads a dataset encoded as a JSON array of item objects.
func ParseJSON(data []byte) ([]rubric.ItemInput, error) {
	var items []rubric.ItemInput
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse json dataset: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	return items, nil
}
