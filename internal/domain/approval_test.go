package domain

import (
	"testing"
	"time"
)

func TestApprovalStatusTerminal(t *testing.T) {
	tests := []struct {
		status ApprovalStatus
		want   bool
	}{
		{ApprovalPending, false},
		{ApprovalApproved, true},
		{ApprovalDenied, true},
		{ApprovalExpired, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Fatalf("Terminal(%s) = %t, want %t", tt.status, got, tt.want)
		}
	}
}

func TestNewPendingApproval(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	approval := NewPendingApproval("client-1", "coffee-mention", "Coffee mentioned", true, now)

	if approval.ID == "" {
		t.Fatalf("expected generated id")
	}
	if approval.Status != ApprovalPending {
		t.Fatalf("status = %s, want pending", approval.Status)
	}
	if !approval.RequestedAt.Equal(now) {
		t.Fatalf("requested at = %v, want %v", approval.RequestedAt, now)
	}
	if approval.SquareLabel != "Coffee mentioned" {
		t.Fatalf("label not denormalized: %q", approval.SquareLabel)
	}
}

func TestApprovalRelated(t *testing.T) {
	now := time.Now().UTC()
	approval := NewPendingApproval("client-1", "av-issue", "AV/stream issues", true, now)

	if !approval.Related("av-issue", true) {
		t.Fatalf("same square and state should be related")
	}
	if approval.Related("av-issue", false) {
		t.Fatalf("opposite state should not be related")
	}
	if approval.Related("new-bug", true) {
		t.Fatalf("different square should not be related")
	}
}

func TestApprovalResolveOnceOnly(t *testing.T) {
	now := time.Now().UTC()
	approval := NewPendingApproval("client-1", "av-issue", "AV/stream issues", true, now)

	if !approval.Resolve(ApprovalApproved, "op-1", now, "") {
		t.Fatalf("first resolve should apply")
	}
	if approval.Status != ApprovalApproved || approval.ProcessedBy != "op-1" || approval.ProcessedAt == nil {
		t.Fatalf("resolution not recorded: %+v", approval)
	}

	if approval.Resolve(ApprovalDenied, "op-2", now, "late") {
		t.Fatalf("terminal status must not transition")
	}
	if approval.Status != ApprovalApproved {
		t.Fatalf("status mutated after terminal: %s", approval.Status)
	}
}
