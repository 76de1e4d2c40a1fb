package domain

import (
	"slices"
	"time"
)

// Calculation is the complete result of scoring one patient's values against
// one or more risk models.
type Calculation struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patientId,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`

	// Inputs as submitted, keyed by variable key
	Inputs map[string]any `json:"inputs"`

	// Display strings of the converted values
	Values map[string]string `json:"values"`

	Results []ModelResult `json:"results"`

	Metadata CalculationMetadata `json:"metadata"`
}

// ModelResult is the outcome for one model. Score is nil when values were
// missing; Missing then lists every absent variable key.
type ModelResult struct {
	Model         string             `json:"model"`
	Score         *float64           `json:"score,omitempty"`
	Missing       []string           `json:"missing,omitempty"`
	Contributions []TermContribution `json:"contributions,omitempty"`
	ProcessMs     int64              `json:"processMs"`
}

// TermContribution is one term's summand within a ModelResult.
type TermContribution struct {
	Term    TermDefinition `json:"term"`
	Summand float64        `json:"summand"`
}

// CalculationMetadata contains processing information.
type CalculationMetadata struct {
	TraceID         string `json:"traceId"`
	ConvertMs       int64  `json:"convertMs"`
	EvaluateMs      int64  `json:"evaluateMs"`
	TotalMs         int64  `json:"totalMs"`
	ModelsEvaluated int    `json:"modelsEvaluated"`
	EngineVersion   string `json:"engineVersion"`
}

// Calculation status values.
const (
	// StatusComplete means every requested model produced a score.
	StatusComplete = "COMPLETE"

	// StatusIncomplete means at least one model is missing values.
	StatusIncomplete = "INCOMPLETE"
)

// CalculationResponse is the API response for a calculation.
type CalculationResponse struct {
	CalculationID string              `json:"calculationId"`
	Status        string              `json:"status"`
	Scores        map[string]float64  `json:"scores"`
	Missing       []string            `json:"missing,omitempty"`
	Results       []ModelResult       `json:"results"`
	Metadata      CalculationMetadata `json:"metadata"`
}

// ToResponse converts a Calculation to an API response. Missing is the
// sorted union of every model's missing keys.
func (c *Calculation) ToResponse() *CalculationResponse {
	scores := make(map[string]float64, len(c.Results))
	seen := make(map[string]bool)
	var missing []string
	for _, r := range c.Results {
		if r.Score != nil {
			scores[r.Model] = *r.Score
		}
		for _, k := range r.Missing {
			if !seen[k] {
				seen[k] = true
				missing = append(missing, k)
			}
		}
	}
	slices.Sort(missing)

	return &CalculationResponse{
		CalculationID: c.ID,
		Status:        c.Status,
		Scores:        scores,
		Missing:       missing,
		Results:       c.Results,
		Metadata:      c.Metadata,
	}
}
