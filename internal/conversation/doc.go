// Package conversation tracks multi-turn exchanges for a request.
//
// Each customer reply is scored against a small sentiment lexicon. The
// tracker keeps the last five turns, derives a trend by comparing the
// newest score with the oldest retained one, and flags the conversation as
// escalation-ready when the trend is declining over three or more turns,
// the turn count reaches the configured maximum, or the customer asks for
// a person outright. Routing re-evaluates replies with the human-review
// flag set once a conversation is escalation-ready.
//
// State lives in a Store: Redis for shared deployments, memory for tests
// and single-process runs.
package conversation
