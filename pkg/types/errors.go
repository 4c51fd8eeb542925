package types

import "errors"

// Domain errors for type validation
var (
	// Knowledge errors
	ErrEmptyTitle       = errors.New("title cannot be empty")
	ErrEmptyBody        = errors.New("body cannot be empty")
	ErrEmptyCategory    = errors.New("category cannot be empty")
	ErrInvalidRate      = errors.New("success rate must be between 0 and 1")
	ErrInvalidStatus    = errors.New("invalid lifecycle status")
	ErrMissingEmbedding = errors.New("embedding is required")

	// Example errors
	ErrEmptyRequestText  = errors.New("request text cannot be empty")
	ErrEmptyResponseText = errors.New("response text cannot be empty")
	ErrInvalidWeight     = errors.New("weight out of range")

	// Routing errors
	ErrInvalidSimilarity = errors.New("similarity must be between 0 and 1")
	ErrInvalidComplexity = errors.New("complexity must be between 1 and 5")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidPath       = errors.New("invalid routing path")
	ErrEmptyRequestID    = errors.New("request id cannot be empty")
)
