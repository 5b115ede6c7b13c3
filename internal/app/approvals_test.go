package app

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"streambingo/internal/catalog"
	"streambingo/internal/domain"
)

func newTestApprovals(store *memStore) (*ApprovalService, *BoardService, *Directory) {
	dir := NewDirectory(store)
	boards := NewBoardService(store, catalog.Default(), dir, rand.New(rand.NewSource(7)))
	return NewApprovalService(store, catalog.Default(), boards), boards, dir
}

// connectViewer wires a viewer up the way the gateway does on join: a board,
// a connection record pointing at it, and the identity mapping.
func connectViewer(t *testing.T, ctx context.Context, boards *BoardService, dir *Directory, connID, clientID string) *domain.Board {
	t.Helper()
	board, err := boards.GenerateBoard(ctx, clientID)
	if err != nil {
		t.Fatalf("GenerateBoard: %v", err)
	}
	if err := dir.AddConnection(ctx, domain.ConnectedClient{ConnectionID: connID, CurrentBoardID: board.ID}); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if err := dir.MapConnectionToIdentity(ctx, connID, clientID); err != nil {
		t.Fatalf("MapConnectionToIdentity: %v", err)
	}
	return board
}

func TestLiveModeDefaultsTrueAndPersists(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	approvals, _, _ := newTestApprovals(store)

	live, err := approvals.GetLiveMode(ctx)
	if err != nil {
		t.Fatalf("GetLiveMode: %v", err)
	}
	if !live {
		t.Fatal("live mode must default to true")
	}
	if !store.has(liveModeKey) {
		t.Fatal("the default must be persisted on first read")
	}

	if err := approvals.SetLiveMode(ctx, false); err != nil {
		t.Fatalf("SetLiveMode: %v", err)
	}
	live, err = approvals.GetLiveMode(ctx)
	if err != nil {
		t.Fatalf("GetLiveMode: %v", err)
	}
	if live {
		t.Fatal("live mode should now be off")
	}
}

func TestHandleSquareRequestFreePlayAppliesDirectly(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	approvals, boards, dir := newTestApprovals(store)
	board := connectViewer(t, ctx, boards, dir, "conn-1", "viewer-a")

	if err := approvals.SetLiveMode(ctx, false); err != nil {
		t.Fatalf("SetLiveMode: %v", err)
	}

	target := board.Squares[0].ID
	if target == domain.FreeSquareID {
		target = board.Squares[1].ID
	}

	outcome, approvalID, err := approvals.HandleSquareRequest(ctx, "viewer-a", target, true)
	if err != nil {
		t.Fatalf("HandleSquareRequest: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected OutcomeApplied, got %v", outcome)
	}
	if approvalID != "" {
		t.Fatal("free play must not create approvals")
	}

	loaded, _, err := boards.GetBoard(ctx, "viewer-a")
	if err != nil {
		t.Fatalf("GetBoard: %v", err)
	}
	if sq := loaded.SquareByID(target); sq == nil || !sq.Checked {
		t.Fatal("square should be checked immediately in free play")
	}

	checked, err := boards.GloballyChecked(ctx)
	if err != nil {
		t.Fatalf("GloballyChecked: %v", err)
	}
	if len(checked) != 1 || checked[0] != target {
		t.Fatalf("free play must record the ledger, got %v", checked)
	}
}

func TestHandleSquareRequestLiveModeQueues(t *testing.T) {
	ctx := context.Background()
	approvals, boards, dir := newTestApprovals(newMemStore())
	board := connectViewer(t, ctx, boards, dir, "conn-1", "viewer-a")

	target := board.Squares[0].ID
	if target == domain.FreeSquareID {
		target = board.Squares[1].ID
	}

	outcome, approvalID, err := approvals.HandleSquareRequest(ctx, "viewer-a", target, true)
	if err != nil {
		t.Fatalf("HandleSquareRequest: %v", err)
	}
	if outcome != OutcomeSubmitted || approvalID == "" {
		t.Fatalf("expected a queued approval, got outcome=%v id=%q", outcome, approvalID)
	}

	loaded, _, err := boards.GetBoard(ctx, "viewer-a")
	if err != nil {
		t.Fatalf("GetBoard: %v", err)
	}
	if sq := loaded.SquareByID(target); sq.Checked {
		t.Fatal("board must not change before the approval")
	}

	pending, err := approvals.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != approvalID {
		t.Fatalf("expected the queued approval listed, got %v", pending)
	}
	if pending[0].SquareLabel == "" {
		t.Fatal("approval must carry the denormalized square label")
	}
}

func TestHandleSquareRequestAlreadySatisfied(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	approvals, boards, dir := newTestApprovals(store)
	connectViewer(t, ctx, boards, dir, "conn-1", "viewer-a")

	if err := store.Set(ctx, globalSquareKey("coffee-mention"), "true"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	outcome, approvalID, err := approvals.HandleSquareRequest(ctx, "viewer-a", "coffee-mention", true)
	if err != nil {
		t.Fatalf("HandleSquareRequest: %v", err)
	}
	if outcome != OutcomeAlreadySatisfied || approvalID != "" {
		t.Fatalf("expected short-circuit, got outcome=%v id=%q", outcome, approvalID)
	}

	pending, err := approvals.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("no approval should be queued, got %d", len(pending))
	}
}

func TestRequestApprovalUnknownSquare(t *testing.T) {
	ctx := context.Background()
	approvals, _, _ := newTestApprovals(newMemStore())

	_, err := approvals.RequestApproval(ctx, "viewer-a", "no-such-square", true)
	if !errors.Is(err, ErrUnknownSquare) {
		t.Fatalf("expected ErrUnknownSquare, got %v", err)
	}
}

func TestApproveResolvesRelatedRequestsTogether(t *testing.T) {
	ctx := context.Background()
	approvals, boards, dir := newTestApprovals(newMemStore())
	connectViewer(t, ctx, boards, dir, "conn-1", "viewer-a")
	connectViewer(t, ctx, boards, dir, "conn-2", "viewer-b")

	idA, err := approvals.RequestApproval(ctx, "viewer-a", "coffee-mention", true)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	idB, err := approvals.RequestApproval(ctx, "viewer-b", "coffee-mention", true)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	// An unrelated request stays pending.
	idOther, err := approvals.RequestApproval(ctx, "viewer-a", "coffee-mention", false)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	decision, err := approvals.Approve(ctx, idA, "operator-1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if len(decision.Approvals) != 2 {
		t.Fatalf("expected 2 related approvals resolved, got %d", len(decision.Approvals))
	}

	for _, id := range []string{idA, idB} {
		approval, found, err := approvals.GetApproval(ctx, id)
		if err != nil || !found {
			t.Fatalf("GetApproval %s: found=%v err=%v", id, found, err)
		}
		if approval.Status != domain.ApprovalApproved {
			t.Fatalf("approval %s should be approved, is %s", id, approval.Status)
		}
		if approval.ProcessedBy != "operator-1" || approval.ProcessedAt == nil {
			t.Fatalf("approval %s missing processing metadata: %+v", id, approval)
		}
	}

	other, _, err := approvals.GetApproval(ctx, idOther)
	if err != nil {
		t.Fatalf("GetApproval: %v", err)
	}
	if other.Status != domain.ApprovalPending {
		t.Fatalf("opposite-state request must stay pending, is %s", other.Status)
	}

	checked, err := boards.GloballyChecked(ctx)
	if err != nil {
		t.Fatalf("GloballyChecked: %v", err)
	}
	if len(checked) != 1 || checked[0] != "coffee-mention" {
		t.Fatalf("expected ledger [coffee-mention], got %v", checked)
	}
}

func TestApproveErrors(t *testing.T) {
	ctx := context.Background()
	approvals, boards, dir := newTestApprovals(newMemStore())
	connectViewer(t, ctx, boards, dir, "conn-1", "viewer-a")

	if _, err := approvals.Approve(ctx, "missing", "operator-1"); !errors.Is(err, ErrApprovalNotFound) {
		t.Fatalf("expected ErrApprovalNotFound, got %v", err)
	}

	id, err := approvals.RequestApproval(ctx, "viewer-a", "coffee-mention", true)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if _, err := approvals.Approve(ctx, id, "operator-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := approvals.Approve(ctx, id, "operator-1"); !errors.Is(err, ErrApprovalNotPending) {
		t.Fatalf("expected ErrApprovalNotPending, got %v", err)
	}
	if _, err := approvals.Deny(ctx, id, "operator-1", "late"); !errors.Is(err, ErrApprovalNotPending) {
		t.Fatalf("expected ErrApprovalNotPending on deny, got %v", err)
	}
}

func TestDenyLeavesBoardsUntouched(t *testing.T) {
	ctx := context.Background()
	approvals, boards, dir := newTestApprovals(newMemStore())
	connectViewer(t, ctx, boards, dir, "conn-1", "viewer-a")

	id, err := approvals.RequestApproval(ctx, "viewer-a", "coffee-mention", true)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	decision, err := approvals.Deny(ctx, id, "operator-1", "did not happen")
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if len(decision.Approvals) != 1 || decision.Approvals[0].DenialReason != "did not happen" {
		t.Fatalf("unexpected decision %+v", decision)
	}

	approval, _, err := approvals.GetApproval(ctx, id)
	if err != nil {
		t.Fatalf("GetApproval: %v", err)
	}
	if approval.Status != domain.ApprovalDenied {
		t.Fatalf("expected denied, got %s", approval.Status)
	}

	checked, err := boards.GloballyChecked(ctx)
	if err != nil {
		t.Fatalf("GloballyChecked: %v", err)
	}
	if len(checked) != 0 {
		t.Fatalf("deny must not touch the ledger, got %v", checked)
	}

	board, _, err := boards.GetBoard(ctx, "viewer-a")
	if err != nil {
		t.Fatalf("GetBoard: %v", err)
	}
	if sq := board.SquareByID("coffee-mention"); sq != nil && sq.Checked {
		t.Fatal("deny must not change the requester's board")
	}
}

func TestApproveAllGroupsByOutcome(t *testing.T) {
	ctx := context.Background()
	approvals, boards, dir := newTestApprovals(newMemStore())
	connectViewer(t, ctx, boards, dir, "conn-1", "viewer-a")
	connectViewer(t, ctx, boards, dir, "conn-2", "viewer-b")

	requests := []struct {
		client string
		square string
		state  bool
	}{
		{"viewer-a", "coffee-mention", true},
		{"viewer-b", "coffee-mention", true},
		{"viewer-a", "av-issue", true},
	}
	for _, r := range requests {
		if _, err := approvals.RequestApproval(ctx, r.client, r.square, r.state); err != nil {
			t.Fatalf("RequestApproval: %v", err)
		}
	}

	decisions, err := approvals.ApproveAll(ctx, "operator-1")
	if err != nil {
		t.Fatalf("ApproveAll: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 grouped decisions, got %d", len(decisions))
	}
	total := 0
	for _, d := range decisions {
		total += len(d.Approvals)
	}
	if total != 3 {
		t.Fatalf("expected 3 approvals resolved, got %d", total)
	}

	pending, err := approvals.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("backlog should be empty, got %d", len(pending))
	}

	checked, err := boards.GloballyChecked(ctx)
	if err != nil {
		t.Fatalf("GloballyChecked: %v", err)
	}
	if len(checked) != 2 {
		t.Fatalf("expected 2 ledger entries, got %v", checked)
	}

	// Empty backlog is a quiet no-op.
	decisions, err = approvals.ApproveAll(ctx, "operator-1")
	if err != nil {
		t.Fatalf("ApproveAll on empty backlog: %v", err)
	}
	if len(decisions) != 0 {
		t.Fatalf("expected no decisions, got %d", len(decisions))
	}
}

func TestListPendingOrdersBySubmission(t *testing.T) {
	ctx := context.Background()
	approvals, _, _ := newTestApprovals(newMemStore())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	approvals.now = func() time.Time { return current }

	current = base.Add(2 * time.Minute)
	second, err := approvals.RequestApproval(ctx, "viewer-b", "coffee-mention", true)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	current = base
	first, err := approvals.RequestApproval(ctx, "viewer-a", "av-issue", true)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	pending, err := approvals.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].ID != first || pending[1].ID != second {
		t.Fatal("pending approvals must order oldest first")
	}
}

func TestCleanupExpiresAndCompacts(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	approvals, _, _ := newTestApprovals(store)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	approvals.now = func() time.Time { return current }
	store.now = func() time.Time { return current }

	stale, err := approvals.RequestApproval(ctx, "viewer-a", "coffee-mention", true)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	current = base.Add(approvalPendingWindow / 2)
	fresh, err := approvals.RequestApproval(ctx, "viewer-b", "av-issue", true)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	// Jump past the stale request's pending window but inside the fresh one.
	// The record's own absolute TTL has also lapsed, so cleanup drops its
	// index entry outright.
	current = base.Add(approvalPendingWindow + time.Minute)
	if err := approvals.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if _, found, _ := approvals.GetApproval(ctx, stale); found {
		t.Fatal("stale record should be gone after its TTL")
	}
	pending, err := approvals.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != fresh {
		t.Fatalf("expected only the fresh request pending, got %v", pending)
	}

	// Resolve the fresh one, then jump past retention; the sweep drops it.
	if _, err := approvals.Deny(ctx, fresh, "operator-1", "no"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	current = current.Add(approvalRetention + time.Hour)
	if err := approvals.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, found, _ := approvals.GetApproval(ctx, fresh); found {
		t.Fatal("resolved record should be dropped after retention")
	}
	if store.has(approvalKey(fresh)) {
		t.Fatal("record key should be deleted from the store")
	}
}

func TestCleanupMarksExpiredInsideRetention(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	approvals, _, _ := newTestApprovals(store)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	approvals.now = func() time.Time { return current }

	// Store clock stays fixed so the record's own TTL never fires; the
	// sweep alone must flip the status.
	id, err := approvals.RequestApproval(ctx, "viewer-a", "coffee-mention", true)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	current = base.Add(approvalPendingWindow + time.Minute)
	if err := approvals.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	approval, found, err := approvals.GetApproval(ctx, id)
	if err != nil || !found {
		t.Fatalf("GetApproval: found=%v err=%v", found, err)
	}
	if approval.Status != domain.ApprovalExpired {
		t.Fatalf("expected expired, got %s", approval.Status)
	}
}

func TestCleanupStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	approvals, _, _ := newTestApprovals(newMemStore())

	if _, err := approvals.RequestApproval(ctx, "viewer-a", "coffee-mention", true); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	cancel()
	if err := approvals.Cleanup(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResetSessionClearsLedgerAndApprovals(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	approvals, boards, dir := newTestApprovals(store)
	connectViewer(t, ctx, boards, dir, "conn-1", "viewer-a")

	id, err := approvals.RequestApproval(ctx, "viewer-a", "coffee-mention", true)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if _, err := approvals.Approve(ctx, id, "operator-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if err := approvals.ResetSession(ctx, true); err != nil {
		t.Fatalf("ResetSession: %v", err)
	}

	checked, err := boards.GloballyChecked(ctx)
	if err != nil {
		t.Fatalf("GloballyChecked: %v", err)
	}
	if len(checked) != 0 {
		t.Fatalf("ledger should be empty after reset, got %v", checked)
	}
	if _, found, _ := approvals.GetApproval(ctx, id); found {
		t.Fatal("approvals should be cleared on reset")
	}
	pending, err := approvals.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending index should be cleared, got %d", len(pending))
	}

	live, err := approvals.GetLiveMode(ctx)
	if err != nil {
		t.Fatalf("GetLiveMode: %v", err)
	}
	if !live {
		t.Fatal("reset should set the requested live mode")
	}

	// Viewer boards survive a reset.
	if _, found, err := boards.GetBoard(ctx, "viewer-a"); err != nil || !found {
		t.Fatalf("board should survive reset: found=%v err=%v", found, err)
	}
}
