// Package schemas holds the wire types of the HTTP API.
package schemas

import (
	"time"

	"eaas/internal/rubric"
)

// CreateEvaluationRequest is the full create payload. The rubric resolves
// its per-variant defaults while unmarshalling, so a bare {"type":"llm"}
// arrives here fully populated.
type CreateEvaluationRequest struct {
	Name         string             `json:"name" validate:"required,max=200"`
	Rubric       rubric.Config      `json:"rubric" validate:"required"`
	Threshold    *float64           `json:"threshold,omitempty"`
	ModelVersion *string            `json:"model_version,omitempty"`
	Items        []rubric.ItemInput `json:"items" validate:"required,min=1,dive"`
}

// RunRequest is the CI entrypoint shape: no rubric, the default llm
// accuracy rubric is applied server side.
type RunRequest struct {
	DatasetName  string             `json:"dataset_name" validate:"required,max=200"`
	ModelVersion *string            `json:"model_version,omitempty"`
	Threshold    *float64           `json:"threshold,omitempty"`
	Items        []rubric.ItemInput `json:"items" validate:"required,min=1,dive"`
}

type CreateEvaluationResponse struct {
	EvaluationID string `json:"evaluation_id"`
}

type RunResponse struct {
	EvaluationID string `json:"evaluation_id"`
	StatusURL    string `json:"status_url"`
}

// StatusResponse is the polling payload. Passed is derived on read and stays
// null until both a threshold and an average score exist.
type StatusResponse struct {
	EvaluationID   string   `json:"evaluation_id"`
	Name           string   `json:"name"`
	Status         string   `json:"status"`
	TotalItems     int      `json:"total_items"`
	CompletedItems int      `json:"completed_items"`
	AverageScore   *float64 `json:"average_score"`
	Passed         *bool    `json:"passed"`
	ErrorMessage   *string  `json:"error_message,omitempty"`
}

type ItemOut struct {
	ID             string   `json:"id"`
	Prompt         string   `json:"prompt"`
	ModelOutput    string   `json:"model_output"`
	ExpectedOutput *string  `json:"expected_output,omitempty"`
	Score          *float64 `json:"score"`
	Explanation    *string  `json:"explanation,omitempty"`
	ErrorMessage   *string  `json:"error_message,omitempty"`
	Status         string   `json:"status"`
}

type EvaluationOut struct {
	EvaluationID   string        `json:"evaluation_id"`
	Name           string        `json:"name"`
	Rubric         rubric.Config `json:"rubric"`
	Threshold      *float64      `json:"threshold,omitempty"`
	ModelVersion   *string       `json:"model_version,omitempty"`
	Status         string        `json:"status"`
	TotalItems     int           `json:"total_items"`
	CompletedItems int           `json:"completed_items"`
	AverageScore   *float64      `json:"average_score"`
	Passed         *bool         `json:"passed"`
	ErrorMessage   *string       `json:"error_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	Items          []ItemOut     `json:"items,omitempty"`
}

type ListEvaluationsResponse struct {
	Evaluations []EvaluationOut `json:"evaluations"`
}

// DatasetUploadResponse echoes the parsed items back so the caller can
// inspect them before creating a run. The raw file is archived by reference.
type DatasetUploadResponse struct {
	Items     []rubric.ItemInput `json:"items"`
	ItemCount int                `json:"item_count"`
	ObjectRef string             `json:"object_ref,omitempty"`
}
