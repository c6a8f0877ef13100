package model

import "time"

// AbortedError is the error text recorded on lifecycle records that were
// cut off by a transport failure or shutdown.
const AbortedError = "Aborted"

// Extraction is the lifecycle record of one extraction run for one account.
// It moves queued -> started -> updated* -> finished.
type Extraction struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"accountId"`
	QueuedAt   time.Time  `json:"queuedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	FoundCt    int        `json:"foundCt"`
	AddCt      int        `json:"addCt"`
	Error      string     `json:"error,omitempty"`
}

// Finished reports whether the run has reached its terminal state.
func (e Extraction) Finished() bool { return e.FinishedAt != nil }

// ExtractionPatch is a partial update of the mutable lifecycle fields. Nil
// fields are left untouched.
type ExtractionPatch struct {
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

// Apply merges p into e.
func (p ExtractionPatch) Apply(e *Extraction) {
	if p.StartedAt != nil {
		e.StartedAt = p.StartedAt
	}
	if p.UpdatedAt != nil {
		e.UpdatedAt = p.UpdatedAt
	}
	if p.FinishedAt != nil {
		e.FinishedAt = p.FinishedAt
	}
	if p.Error != nil {
		e.Error = *p.Error
	}
}
