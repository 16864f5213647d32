package db

import "time"

type Evaluation struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	Rubric         []byte    `db:"rubric"`
	Threshold      *float64  `db:"threshold"`
	ModelVersion   *string   `db:"model_version"`
	Status         string    `db:"status"`
	TotalItems     int       `db:"total_items"`
	CompletedItems int       `db:"completed_items"`
	AverageScore   *float64  `db:"average_score"`
	ErrorMessage   *string   `db:"error_message"`
	CreatedAt      time.Time `db:"created_at"`
}

type EvaluationItem struct {
	ID             string    `db:"id"`
	EvaluationID   string    `db:"evaluation_id"`
	Position       int       `db:"position"`
	Prompt         string    `db:"prompt"`
	ModelOutput    string    `db:"model_output"`
	ExpectedOutput *string   `db:"expected_output"`
	Score          *float64  `db:"score"`
	Explanation    *string   `db:"explanation"`
	ErrorMessage   *string   `db:"error_message"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
}
