package domain

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the lifecycle state of a pending approval request.
type ApprovalStatus string

const (
	// ApprovalPending means the request awaits an operator decision.
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalApproved means an operator granted the request.
	ApprovalApproved ApprovalStatus = "approved"
	// ApprovalDenied means an operator rejected the request.
	ApprovalDenied ApprovalStatus = "denied"
	// ApprovalExpired means the request timed out before any decision.
	ApprovalExpired ApprovalStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalDenied || s == ApprovalExpired
}

// PendingApproval is a viewer's request to change a square, awaiting or past
// an operator decision. Once the status leaves pending only bookkeeping
// fields may change.
type PendingApproval struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"client_id"`
	SquareID       string         `json:"square_id"`
	SquareLabel    string         `json:"square_label"`
	RequestedState bool           `json:"requested_state"`
	RequestedAt    time.Time      `json:"requested_at"`
	Status         ApprovalStatus `json:"status"`
	ProcessedBy    string         `json:"processed_by,omitempty"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	DenialReason   string         `json:"denial_reason,omitempty"`
}

// NewPendingApproval creates a pending request for the given client and square.
func NewPendingApproval(clientID, squareID, squareLabel string, requestedState bool, now time.Time) PendingApproval {
	return PendingApproval{
		ID:             uuid.NewString(),
		ClientID:       clientID,
		SquareID:       squareID,
		SquareLabel:    squareLabel,
		RequestedState: requestedState,
		RequestedAt:    now,
		Status:         ApprovalPending,
	}
}

// Related reports whether another request asks for the same outcome, i.e.
// the same square flipped to the same state. Related pending requests are
// resolved together by a single operator decision.
func (a *PendingApproval) Related(squareID string, requestedState bool) bool {
	return a.SquareID == squareID && a.RequestedState == requestedState
}

// Resolve moves a pending request into a terminal status with processing
// metadata. Calls on an already-terminal request are ignored.
func (a *PendingApproval) Resolve(status ApprovalStatus, operatorID string, at time.Time, reason string) bool {
	if a.Status.Terminal() {
		return false
	}
	a.Status = status
	a.ProcessedBy = operatorID
	a.ProcessedAt = &at
	a.DenialReason = reason
	return true
}
