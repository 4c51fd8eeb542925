package types

import "time"

// OperationStatus is the state of a queued failed operation
type OperationStatus string

const (
	OperationQueued    OperationStatus = "queued"
	OperationAbandoned OperationStatus = "abandoned"
	OperationSucceeded OperationStatus = "succeeded"
)

const (
	DefaultOperationTTL        = 7 * 24 * time.Hour
	DefaultOperationMaxRetries = 5
)

// QueuedFailedOperation is a unit of work parked after every provider failed
type QueuedFailedOperation struct {
	ID           string
	Kind         string
	Payload      []byte // JSON encoded work item
	ErrorContext string
	RetryCount   int
	MaxRetries   int
	TTL          time.Duration
	NextRetryAt  time.Time
	Status       OperationStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExpiresAt returns the moment the operation's TTL lapses
func (q *QueuedFailedOperation) ExpiresAt() time.Time {
	return q.CreatedAt.Add(q.TTL)
}

// Expired reports whether the TTL has lapsed at now
func (q *QueuedFailedOperation) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt())
}

// Exhausted reports whether the retry budget is spent
func (q *QueuedFailedOperation) Exhausted() bool {
	return q.RetryCount >= q.MaxRetries
}
