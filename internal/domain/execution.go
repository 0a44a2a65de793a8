package domain

import "time"

// ExecutionStatus summarises how many legs of a basket came back.
type ExecutionStatus string

const (
	ExecutionFilled  ExecutionStatus = "filled"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Execution records one basket dispatch and what the venue acknowledged.
// It is a report only: incomplete baskets are not repaired.
type Execution struct {
	ID        string          `json:"id"`
	Strategy  string          `json:"strategy"`
	Direction string          `json:"direction"`
	Spread    float64         `json:"spread"`
	Legs      []ExecutionLeg  `json:"legs"`
	Status    ExecutionStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// ExecutionLeg pairs a requested leg with its response, if any.
type ExecutionLeg struct {
	Request  OrderRequest   `json:"request"`
	Response *OrderResponse `json:"response,omitempty"`
}

// Acknowledged counts legs that received a response.
func (e Execution) Acknowledged() int {
	n := 0
	for _, l := range e.Legs {
		if l.Response != nil {
			n++
		}
	}
	return n
}
