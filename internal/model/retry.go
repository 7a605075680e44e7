package model

import "time"

// MaxRetryAttempts is the cap on recoverable-failure retries per
// (trial, stage). On the failure after the final attempt the stage is
// marked failed permanently and the entry is dropped.
const MaxRetryAttempts = 5

// RetryBackoffBase is the delay before the first retry; each subsequent
// retry doubles it (5, 10, 20, 40, 80 minutes).
const RetryBackoffBase = 5 * time.Minute

// RetryEntry is one pending retry for a (record, stage) pair. TrialID
// is the store key of the trial-intervention record, not the bare NCT id.
type RetryEntry struct {
	ID             string    `json:"id"`
	TrialID        string    `json:"trial_id"`
	Stage          string    `json:"stage"`
	AttemptCount   int       `json:"attempt_count"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
	LastError      string    `json:"last_error"`
	CreatedAt      time.Time `json:"created_at"`
	LastFailedAt   time.Time `json:"last_failed_at"`
}

// Exhausted reports whether the entry has used all retry attempts.
func (e *RetryEntry) Exhausted() bool {
	return e.AttemptCount >= MaxRetryAttempts
}

// NextBackoff returns the delay to schedule after the given failed
// attempt: base * 2^(attempt-1).
func NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return RetryBackoffBase << (attempt - 1)
}
