package nakama

import (
	"streambingo/internal/domain"
)

// Wire payloads exchanged over match data messages. Everything is JSON with
// snake_case keys; opcodes select the message type.

// JoinSessionResponse is returned by the bingo_join RPC.
type JoinSessionResponse struct {
	MatchID string `json:"match_id"`
	IsNew   bool   `json:"is_new"`
}

// OperatorTokenRequest is the payload of the operator_token RPC.
type OperatorTokenRequest struct {
	OperatorID string `json:"operator_id"`
	Password   string `json:"password"`
}

// OperatorTokenResponse carries the signed token back to the operator.
type OperatorTokenResponse struct {
	Token string `json:"token"`
}

// RequestBoardMessage asks the server to generate or fetch a board. The
// persistent client id lets a returning viewer reclaim an existing board
// from a previous connection; the user name, when given, replaces the
// viewer's display name.
type RequestBoardMessage struct {
	PersistentClientID string `json:"persistent_client_id,omitempty"`
	UserName           string `json:"user_name,omitempty"`
}

// SquareChangeMessage is a viewer's request to flip one square.
type SquareChangeMessage struct {
	SquareID string `json:"square_id"`
	Checked  bool   `json:"checked"`
}

// operatorEnvelope carries the fields common to every operator message.
type operatorEnvelope struct {
	Token string `json:"token"`
}

// SetSquareForClientMessage checks or unchecks a square on one viewer's board.
type SetSquareForClientMessage struct {
	operatorEnvelope
	ClientID string `json:"client_id"`
	SquareID string `json:"square_id"`
	Checked  bool   `json:"checked"`
}

// SetSquareGloballyMessage applies a square state to every connected board.
type SetSquareGloballyMessage struct {
	operatorEnvelope
	SquareID string `json:"square_id"`
	Checked  bool   `json:"checked"`
}

// ApprovalDecisionMessage approves or denies one pending request.
type ApprovalDecisionMessage struct {
	operatorEnvelope
	ApprovalID string `json:"approval_id"`
	Reason     string `json:"reason,omitempty"`
}

// OperatorMessage is the bare envelope for operator ops with no extra fields
// (approve-all, list-pending, list-clients).
type OperatorMessage struct {
	operatorEnvelope
}

// SetLiveModeMessage toggles the approval gate.
type SetLiveModeMessage struct {
	operatorEnvelope
	Live bool `json:"live"`
}

// SessionControlMessage starts or ends a session, resetting shared state.
type SessionControlMessage struct {
	operatorEnvelope
	Live bool `json:"live"`
}

// BoardEvent carries a full board snapshot to its owner.
type BoardEvent struct {
	Board    *domain.Board `json:"board"`
	ClientID string        `json:"client_id"`
	Existing bool          `json:"existing,omitempty"`
}

// SquareUpdatedEvent announces one square changing state on a board.
type SquareUpdatedEvent struct {
	ClientID    string `json:"client_id"`
	SquareID    string `json:"square_id"`
	SquareLabel string `json:"square_label,omitempty"`
	Checked     bool   `json:"checked"`
	Global      bool   `json:"global,omitempty"`
}

// ApprovalQueuedEvent tells the requester (and operators) a request awaits
// review.
type ApprovalQueuedEvent struct {
	Approval *domain.PendingApproval `json:"approval"`
}

// ApprovalResolvedEvent announces an operator decision over a group of
// related requests.
type ApprovalResolvedEvent struct {
	SquareID       string                   `json:"square_id"`
	SquareLabel    string                   `json:"square_label"`
	RequestedState bool                     `json:"requested_state"`
	Status         domain.ApprovalStatus    `json:"status"`
	Reason         string                   `json:"reason,omitempty"`
	Approvals      []domain.PendingApproval `json:"approvals"`
}

// PendingListEvent is the operator view of the approval backlog.
type PendingListEvent struct {
	Pending []domain.PendingApproval `json:"pending"`
}

// LiveModeEvent reports the current approval gate setting.
type LiveModeEvent struct {
	Live bool `json:"live"`
}

// WinEvent announces a completed line on a viewer's board.
type WinEvent struct {
	ClientID string `json:"client_id"`
	UserName string `json:"user_name,omitempty"`
	BoardID  string `json:"board_id"`
}

// CatchUpEvent returns the refreshed board after replaying the session
// ledger onto it.
type CatchUpEvent struct {
	Board   *domain.Board `json:"board"`
	Applied int           `json:"applied"`
}

// ClientPresenceEvent announces a viewer joining or leaving.
type ClientPresenceEvent struct {
	ConnectionID string `json:"connection_id"`
	UserName     string `json:"user_name,omitempty"`
}

// ClientListEvent is the operator view of connected viewers.
type ClientListEvent struct {
	Clients []domain.ConnectedClient `json:"clients"`
}

// CatalogEvent lists every square definition in play.
type CatalogEvent struct {
	Squares []domain.SquareDefinition `json:"squares"`
}

// SessionResetEvent tells clients shared state was wiped and whether the new
// session runs live.
type SessionResetEvent struct {
	Live bool `json:"live"`
}

// ErrorEvent reports a rejected request back to its sender.
type ErrorEvent struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
