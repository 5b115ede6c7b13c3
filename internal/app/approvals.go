package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"streambingo/internal/catalog"
	"streambingo/internal/domain"
	"streambingo/internal/ports"
)

var (
	ErrUnknownSquare      = errors.New("square not found in catalog")
	ErrApprovalNotFound   = errors.New("approval request not found")
	ErrApprovalNotPending = errors.New("approval request already processed")
	ErrSquareUpdateFailed = errors.New("square update failed")
)

// RequestOutcome describes how a viewer's square-change request was handled.
type RequestOutcome int

const (
	// OutcomeApplied means free play was active and the board changed directly.
	OutcomeApplied RequestOutcome = iota
	// OutcomeSubmitted means live mode queued the change behind an approval.
	OutcomeSubmitted
	// OutcomeAlreadySatisfied means the global ledger already matched the
	// requested state and no approval was created.
	OutcomeAlreadySatisfied
)

// Decision is the result of resolving one approval group: the target request
// plus every related pending request asking for the same outcome.
type Decision struct {
	SquareID       string
	SquareLabel    string
	RequestedState bool
	Approvals      []domain.PendingApproval
}

// ApprovalService arbitrates square-change requests: the live-mode gate, the
// pending-approval state machine, related-request batching, the global
// ledger, and the expiry sweep. It is the only writer of approval records
// and, through the board service, of the global ledger.
type ApprovalService struct {
	store   ports.KeyValueStore
	catalog *catalog.Catalog
	boards  *BoardService
	now     func() time.Time
}

// NewApprovalService constructs the approval workflow engine.
func NewApprovalService(store ports.KeyValueStore, cat *catalog.Catalog, boards *BoardService) *ApprovalService {
	return &ApprovalService{
		store:   store,
		catalog: cat,
		boards:  boards,
		now:     time.Now,
	}
}

// GetLiveMode reads the global live-mode flag. The first read defaults to
// live and persists that default, failing safe toward "approval required".
func (s *ApprovalService) GetLiveMode(ctx context.Context) (bool, error) {
	raw, found, err := s.store.Get(ctx, liveModeKey)
	if err != nil {
		return true, fmt.Errorf("failed to load live mode: %w", err)
	}
	if !found {
		if err := s.store.Set(ctx, liveModeKey, strconv.FormatBool(true)); err != nil {
			return true, fmt.Errorf("failed to persist default live mode: %w", err)
		}
		return true, nil
	}

	live, err := strconv.ParseBool(raw)
	if err != nil {
		return true, fmt.Errorf("corrupt live mode value %q: %w", raw, err)
	}
	return live, nil
}

// SetLiveMode stores the global live-mode flag.
func (s *ApprovalService) SetLiveMode(ctx context.Context, live bool) error {
	if err := s.store.Set(ctx, liveModeKey, strconv.FormatBool(live)); err != nil {
		return fmt.Errorf("failed to store live mode: %w", err)
	}
	return nil
}

// HandleSquareRequest is the entry point for a viewer's square change. In
// free play the board and ledger update immediately; in live mode the
// request either short-circuits against the ledger or becomes a pending
// approval.
func (s *ApprovalService) HandleSquareRequest(ctx context.Context, clientID, squareID string, requestedState bool) (RequestOutcome, string, error) {
	live, err := s.GetLiveMode(ctx)
	if err != nil {
		return OutcomeApplied, "", err
	}

	if !live {
		ok, err := s.boards.SetSquareState(ctx, clientID, squareID, requestedState)
		if err != nil {
			return OutcomeApplied, "", err
		}
		if !ok {
			return OutcomeApplied, "", ErrSquareUpdateFailed
		}
		if err := s.store.Set(ctx, globalSquareKey(squareID), strconv.FormatBool(requestedState)); err != nil {
			return OutcomeApplied, "", fmt.Errorf("failed to store global square state: %w", err)
		}
		return OutcomeApplied, "", nil
	}

	if state, known, err := s.globalState(ctx, squareID); err != nil {
		return OutcomeSubmitted, "", err
	} else if known && state == requestedState {
		return OutcomeAlreadySatisfied, "", nil
	}

	approvalID, err := s.RequestApproval(ctx, clientID, squareID, requestedState)
	if err != nil {
		return OutcomeSubmitted, "", err
	}
	return OutcomeSubmitted, approvalID, nil
}

// RequestApproval creates a pending approval with the square label
// denormalized from the catalog and indexes it for operator listing.
func (s *ApprovalService) RequestApproval(ctx context.Context, clientID, squareID string, requestedState bool) (string, error) {
	def, ok := s.catalog.Get(squareID)
	if !ok {
		return "", ErrUnknownSquare
	}

	approval := domain.NewPendingApproval(clientID, squareID, def.Label, requestedState, s.now().UTC())
	if err := s.saveApproval(ctx, &approval, approvalPendingWindow); err != nil {
		return "", err
	}

	// The index append is a read-modify-write without a lock; a lost or
	// duplicated entry is tolerated and corrected by the cleanup sweep.
	ids, err := s.loadIndex(ctx)
	if err != nil {
		return "", err
	}
	ids = append(ids, approval.ID)
	if err := s.saveIndex(ctx, ids); err != nil {
		return "", err
	}
	return approval.ID, nil
}

// GetApproval loads one approval record, reporting absence without error.
func (s *ApprovalService) GetApproval(ctx context.Context, approvalID string) (*domain.PendingApproval, bool, error) {
	raw, found, err := s.store.Get(ctx, approvalKey(approvalID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load approval %s: %w", approvalID, err)
	}
	if !found || raw == "" {
		return nil, false, nil
	}

	var approval domain.PendingApproval
	if err := json.Unmarshal([]byte(raw), &approval); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal approval %s: %w", approvalID, err)
	}
	return &approval, true, nil
}

// ListPending returns all pending approvals, oldest first, so operators can
// resolve them in submission order.
func (s *ApprovalService) ListPending(ctx context.Context) ([]domain.PendingApproval, error) {
	ids, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]domain.PendingApproval, 0, len(ids))
	for _, id := range ids {
		approval, found, err := s.GetApproval(ctx, id)
		if err != nil {
			return nil, err
		}
		if found && approval.Status == domain.ApprovalPending {
			pending = append(pending, *approval)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].RequestedAt.Before(pending[j].RequestedAt)
	})
	return pending, nil
}

// Approve resolves the target approval and every related pending request as
// approved, applies the change to each requester's board, and records the
// outcome in the global ledger with a fan-out to connected boards. The set
// is resolved best-effort: a storage fault partway leaves earlier members
// applied, with no rollback.
func (s *ApprovalService) Approve(ctx context.Context, approvalID, operatorID string) (*Decision, error) {
	target, found, err := s.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrApprovalNotFound
	}
	if target.Status != domain.ApprovalPending {
		return nil, ErrApprovalNotPending
	}

	group, err := s.collectGroup(ctx, target)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		SquareID:       target.SquareID,
		SquareLabel:    target.SquareLabel,
		RequestedState: target.RequestedState,
	}
	now := s.now().UTC()
	for i := range group {
		group[i].Resolve(domain.ApprovalApproved, operatorID, now, "")
		if err := s.saveApproval(ctx, &group[i], 0); err != nil {
			return nil, err
		}
		// Requesters whose board lacks the square simply miss this update.
		_, _ = s.boards.SetSquareState(ctx, group[i].ClientID, target.SquareID, target.RequestedState)
		decision.Approvals = append(decision.Approvals, group[i])
	}

	if _, err := s.boards.ApplyGlobally(ctx, target.SquareID, target.RequestedState); err != nil {
		return nil, err
	}
	return decision, nil
}

// Deny resolves the target approval and every related pending request as
// denied with the given reason. Boards and the ledger stay untouched.
func (s *ApprovalService) Deny(ctx context.Context, approvalID, operatorID, reason string) (*Decision, error) {
	target, found, err := s.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrApprovalNotFound
	}
	if target.Status != domain.ApprovalPending {
		return nil, ErrApprovalNotPending
	}

	group, err := s.collectGroup(ctx, target)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		SquareID:       target.SquareID,
		SquareLabel:    target.SquareLabel,
		RequestedState: target.RequestedState,
	}
	now := s.now().UTC()
	for i := range group {
		group[i].Resolve(domain.ApprovalDenied, operatorID, now, reason)
		if err := s.saveApproval(ctx, &group[i], 0); err != nil {
			return nil, err
		}
		decision.Approvals = append(decision.Approvals, group[i])
	}
	return decision, nil
}

// ApproveAll approves every pending request, grouped so each distinct
// (square, state) outcome hits the global ledger once rather than once per
// member. An empty backlog returns no decisions and no error.
func (s *ApprovalService) ApproveAll(ctx context.Context, operatorID string) ([]Decision, error) {
	pending, err := s.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	type groupKey struct {
		squareID string
		state    bool
	}
	order := make([]groupKey, 0, len(pending))
	groups := make(map[groupKey][]domain.PendingApproval)
	for _, approval := range pending {
		key := groupKey{approval.SquareID, approval.RequestedState}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], approval)
	}

	now := s.now().UTC()
	decisions := make([]Decision, 0, len(order))
	for _, key := range order {
		members := groups[key]
		decision := Decision{
			SquareID:       key.squareID,
			SquareLabel:    members[0].SquareLabel,
			RequestedState: key.state,
		}
		for i := range members {
			members[i].Resolve(domain.ApprovalApproved, operatorID, now, "")
			if err := s.saveApproval(ctx, &members[i], 0); err != nil {
				return decisions, err
			}
			_, _ = s.boards.SetSquareState(ctx, members[i].ClientID, key.squareID, key.state)
			decision.Approvals = append(decision.Approvals, members[i])
		}
		if _, err := s.boards.ApplyGlobally(ctx, key.squareID, key.state); err != nil {
			return decisions, err
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

// Cleanup expires pending approvals older than the pending window and drops
// index entries past the retention window. It checks for cancellation
// between items so the periodic schedule can shut down promptly.
func (s *ApprovalService) Cleanup(ctx context.Context) error {
	ids, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	now := s.now().UTC()
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		approval, found, err := s.GetApproval(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			// The record's own TTL beat the sweep; drop the index entry.
			continue
		}

		if approval.Status == domain.ApprovalPending && approval.RequestedAt.Add(approvalPendingWindow).Before(now) {
			approval.Status = domain.ApprovalExpired
			if err := s.saveApproval(ctx, approval, 0); err != nil {
				return err
			}
		}

		if approval.RequestedAt.Add(approvalRetention).After(now) {
			kept = append(kept, id)
		} else if err := s.store.Delete(ctx, approvalKey(id)); err != nil {
			return err
		}
	}
	return s.saveIndex(ctx, kept)
}

// ResetSession clears the global ledger and all tracked approvals, then sets
// live mode. Viewer boards are left alone; they expire on their own clock.
func (s *ApprovalService) ResetSession(ctx context.Context, live bool) error {
	for _, sq := range s.catalog.All() {
		if err := s.store.Delete(ctx, globalSquareKey(sq.ID)); err != nil {
			return fmt.Errorf("failed to clear global state for %s: %w", sq.ID, err)
		}
	}

	ids, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.store.Delete(ctx, approvalKey(id)); err != nil {
			return err
		}
	}
	if err := s.store.Delete(ctx, approvalIndexKey); err != nil {
		return err
	}

	return s.SetLiveMode(ctx, live)
}

// collectGroup returns the target plus every other pending approval asking
// for the same (square, state) outcome.
func (s *ApprovalService) collectGroup(ctx context.Context, target *domain.PendingApproval) ([]domain.PendingApproval, error) {
	ids, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	group := []domain.PendingApproval{*target}
	for _, id := range ids {
		if id == target.ID {
			continue
		}
		approval, found, err := s.GetApproval(ctx, id)
		if err != nil {
			return nil, err
		}
		if found && approval.Status == domain.ApprovalPending && approval.Related(target.SquareID, target.RequestedState) {
			group = append(group, *approval)
		}
	}
	return group, nil
}

func (s *ApprovalService) globalState(ctx context.Context, squareID string) (bool, bool, error) {
	raw, found, err := s.store.Get(ctx, globalSquareKey(squareID))
	if err != nil {
		return false, false, fmt.Errorf("failed to load global state for %s: %w", squareID, err)
	}
	if !found {
		return false, false, nil
	}
	state, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, nil
	}
	return state, true, nil
}

func (s *ApprovalService) saveApproval(ctx context.Context, approval *domain.PendingApproval, ttl time.Duration) error {
	raw, err := json.Marshal(approval)
	if err != nil {
		return fmt.Errorf("failed to marshal approval: %w", err)
	}
	if ttl > 0 {
		err = s.store.SetWithAbsoluteTTL(ctx, approvalKey(approval.ID), string(raw), ttl)
	} else {
		err = s.store.Set(ctx, approvalKey(approval.ID), string(raw))
	}
	if err != nil {
		return fmt.Errorf("failed to store approval: %w", err)
	}
	return nil
}

func (s *ApprovalService) loadIndex(ctx context.Context) ([]string, error) {
	raw, found, err := s.store.Get(ctx, approvalIndexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval index: %w", err)
	}
	if !found || raw == "" {
		return nil, nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval index: %w", err)
	}
	return ids, nil
}

func (s *ApprovalService) saveIndex(ctx context.Context, ids []string) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal approval index: %w", err)
	}
	if err := s.store.Set(ctx, approvalIndexKey, string(raw)); err != nil {
		return fmt.Errorf("failed to store approval index: %w", err)
	}
	return nil
}
