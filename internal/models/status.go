package models

import "time"

// ProcessingState is the ingestion lifecycle state of one item.
// StateProcessing is initial; StateComplete and StateError are terminal.
type ProcessingState string

const (
	StateProcessing ProcessingState = "processing"
	StateComplete   ProcessingState = "complete"
	StateError      ProcessingState = "error"
)

// Terminal reports whether no further transition may occur.
func (s ProcessingState) Terminal() bool {
	return s == StateComplete || s == StateError
}

// ProcessingStatus is the ephemeral record clients poll while an upload's
// asynchronous indexing phase runs. It is a liveness aid, not a system of
// record; the vector store stays authoritative for "is this searchable".
type ProcessingStatus struct {
	State     ProcessingState `json:"state"`
	Message   string          `json:"message,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
