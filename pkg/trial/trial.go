// Package trial holds the record of one hyperparameter evaluation.
package trial

import "time"

type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

type Trial struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Params Point  `json:"params"`
	Block  int    `json:"block"`
	Status Status `json:"status"`
	// Metric is meaningful once Status is Completed.
	Metric    float64   `json:"metric"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Page struct {
	Offset uint64  `json:"offset"`
	Limit  uint64  `json:"limit"`
	Total  uint64  `json:"total"`
	Trials []Trial `json:"trials"`
}
