package domain

import "time"

// Provenance tags where a proposed change came from.
type Provenance string

const (
	ProvenanceUser         Provenance = "user"
	ProvenanceAISuggestion Provenance = "ai_suggestion"
	ProvenanceValidation   Provenance = "validation"
)

// PendingChange is a proposed field edit awaiting review.
type PendingChange struct {
	ID         string     `json:"id"`
	Field      string     `json:"field"`
	Value      Value      `json:"value"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
	Timestamp  time.Time  `json:"timestamp"`
	Reason     string     `json:"reason,omitempty"`
}

// ApprovedChange is a pending change that was accepted and applied.
type ApprovedChange struct {
	PendingChange
	ApprovedBy string    `json:"approved_by"`
	ApprovedAt time.Time `json:"approved_at"`
}

// RejectedChange is a pending change that was declined.
type RejectedChange struct {
	PendingChange
	RejectReason string    `json:"reject_reason"`
	RejectedAt   time.Time `json:"rejected_at"`
}

// ActionRecord is one entry in a session's action history.
type ActionRecord struct {
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}

// Correction is a reviewer fix handed to the learning store.
type Correction struct {
	RecordID  string `json:"record_id"`
	Field     string `json:"field"`
	Original  Value  `json:"original"`
	Corrected Value  `json:"corrected"`
	Reviewer  string `json:"reviewer"`
}
