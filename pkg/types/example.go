package types

import (
	"math"
	"time"
)

// ExampleStatus is the validation state of an example
type ExampleStatus string

const (
	ExamplePending   ExampleStatus = "pending"
	ExampleValidated ExampleStatus = "validated"
)

const (
	DefaultExampleWeight = 1.0
	MinExampleWeight     = 0.1
	MaxExampleWeight     = 3.0

	ReinforceFactor  = 1.2
	ContradictFactor = 0.8
)

// ValidatedExample is a human-confirmed request/response pair
type ValidatedExample struct {
	ID           int64
	RequestID    string // Originating request, unique per example
	RequestText  string
	ResponseText string
	Category     string
	Embedding    []float32
	Satisfaction float64 // 0-5 survey score, 0 when unknown
	Status       ExampleStatus
	Weight       float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AdjustWeight applies a multiplicative reinforcement or contradiction
// factor and clamps the result to [MinExampleWeight, MaxExampleWeight].
func AdjustWeight(weight float64, success bool) float64 {
	if weight <= 0 {
		weight = DefaultExampleWeight
	}
	if success {
		weight *= ReinforceFactor
	} else {
		weight *= ContradictFactor
	}
	return math.Min(MaxExampleWeight, math.Max(MinExampleWeight, weight))
}

// Validate performs validation of the example
func (e *ValidatedExample) Validate() error {
	if e.RequestID == "" {
		return ErrEmptyRequestID
	}
	if e.RequestText == "" {
		return ErrEmptyRequestText
	}
	if e.ResponseText == "" {
		return ErrEmptyResponseText
	}
	if e.Category == "" {
		return ErrEmptyCategory
	}
	if e.Weight < MinExampleWeight || e.Weight > MaxExampleWeight {
		return ErrInvalidWeight
	}
	switch e.Status {
	case ExamplePending, ExampleValidated:
	default:
		return ErrInvalidStatus
	}
	return nil
}
