package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"streambingo/internal/app"
	"streambingo/internal/catalog"
	"streambingo/internal/config"
	"streambingo/internal/domain"
	"streambingo/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// MatchState holds the authoritative runtime state for the bingo session
// match. Connections are keyed by Nakama session id; durable game state
// lives in storage behind the services, so the match itself can restart
// without losing boards or approvals.
type MatchState struct {
	Presences map[string]runtime.Presence // session id -> presence

	Directory *app.Directory
	Boards    *app.BoardService
	Approvals *app.ApprovalService
	Accounts  ports.AccountPort
	Operator  *app.OperatorTokenService
	Catalog   *catalog.Catalog

	Live          bool
	LastSweepTick int64
	SweepTicks    int64

	rng *rand.Rand
}

type matchLabel struct {
	Game    string `json:"game"`
	Live    bool   `json:"live"`
	Clients int    `json:"clients"`
}

// NewMatch is the factory function registered with Nakama.
func NewMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
	return &matchHandler{}, nil
}

type matchHandler struct{}

// MatchInit is called when the session match is created.
func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	logger.Debug("MatchInit: Initializing bingo session.")

	if err := config.LoadSessionConfig("data/session_config.json"); err != nil {
		logger.Warn("MatchInit: Could not load session config: %v", err)
	}

	env, _ := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)

	squaresFile := env[envSquaresFile]
	if squaresFile == "" {
		if cfg := config.GetSessionConfig(); cfg != nil {
			squaresFile = cfg.SquaresFile
		}
	}
	cat := catalog.Default()
	if squaresFile != "" {
		loaded, err := catalog.Load(squaresFile)
		if err != nil {
			logger.Warn("MatchInit: Could not load square catalog from %s: %v", squaresFile, err)
		} else {
			cat = loaded
		}
	}

	store := NewNakamaStateStore(nk)
	directory := app.NewDirectory(store)
	boards := app.NewBoardService(store, cat, directory, nil)
	approvals := app.NewApprovalService(store, cat, boards)

	state := &MatchState{
		Presences:  make(map[string]runtime.Presence),
		Directory:  directory,
		Boards:     boards,
		Approvals:  approvals,
		Accounts:   NewNakamaAccountAdapter(nk),
		Operator:   app.NewOperatorTokenService(env[envOperatorSecret], config.OperatorTokenTTL()),
		Catalog:    cat,
		SweepTicks: int64(config.CleanupInterval() / time.Second),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	live, err := approvals.GetLiveMode(ctx)
	if err != nil {
		logger.Warn("MatchInit: Could not load live mode: %v", err)
		live = true
	}
	state.Live = live

	labelBytes, err := json.Marshal(matchLabel{Game: "bingo", Live: state.Live})
	if err != nil {
		logger.Error("MatchInit: Failed to marshal label: %v", err)
		return nil, 0, ""
	}

	tickRate := 1
	return state, tickRate, string(labelBytes)
}

// MatchJoinAttempt admits everyone; the session has no seat limit and
// operator privileges are decided per message, not at the door.
func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	if _, ok := state.(*MatchState); !ok {
		return state, false, "state not found"
	}
	return state, true, ""
}

func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchJoin: state not found")
		return state
	}

	now := time.Now().UTC()
	address, _ := ctx.Value(runtime.RUNTIME_CTX_CLIENT_IP).(string)

	for _, p := range presences {
		connID := p.GetSessionId()
		matchState.Presences[connID] = p

		name := p.GetUsername()
		if name == "" {
			name = app.RandomViewerName(matchState.rng)
			// Best effort; an anonymous viewer still plays fine.
			if err := matchState.Accounts.UpdateDisplayName(ctx, p.GetUserId(), name); err != nil {
				logger.Warn("MatchJoin: Could not set display name for %s: %v", p.GetUserId(), err)
			}
		}

		client := domain.ConnectedClient{
			ConnectionID: connID,
			UserName:     name,
			ConnectedAt:  now,
			LastActivity: now,
			Address:      address,
		}
		if err := matchState.Directory.AddConnection(ctx, client); err != nil {
			logger.Error("MatchJoin: Failed to record connection %s: %v", connID, err)
		}
		// The Nakama user id doubles as the persistent client identity until
		// the client reclaims an explicit one.
		if err := matchState.Directory.MapConnectionToIdentity(ctx, connID, p.GetUserId()); err != nil {
			logger.Error("MatchJoin: Failed to map connection %s: %v", connID, err)
		}

		mh.sendTo(dispatcher, logger, OpEvtLiveMode, LiveModeEvent{Live: matchState.Live}, p)
		mh.broadcastAllExcept(dispatcher, logger, OpEvtClientJoined, ClientPresenceEvent{ConnectionID: connID, UserName: name}, matchState, connID)

		logger.Info("MatchJoin: %s connected as %s", p.GetUserId(), name)
	}

	mh.updateLabel(matchState, dispatcher, logger)
	return matchState
}

func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchLeave: state not found")
		return state
	}

	for _, p := range presences {
		connID := p.GetSessionId()
		name := ""
		if client, ok := matchState.Presences[connID]; ok {
			name = client.GetUsername()
		}
		delete(matchState.Presences, connID)

		if err := matchState.Directory.RemoveConnection(ctx, connID); err != nil {
			logger.Error("MatchLeave: Failed to remove connection %s: %v", connID, err)
		}

		mh.broadcastAll(dispatcher, logger, OpEvtClientLeft, ClientPresenceEvent{ConnectionID: connID, UserName: name}, matchState)
	}

	// Durable state lives in storage; an empty match can terminate and a
	// later join recreates it via the join RPC.
	if len(matchState.Presences) == 0 {
		logger.Info("MatchLeave: Last client left, ending session match.")
		return nil
	}

	mh.updateLabel(matchState, dispatcher, logger)
	return matchState
}

func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state
	}

	for _, msg := range messages {
		switch msg.GetOpCode() {
		case OpRequestBoard:
			mh.handleRequestBoard(ctx, matchState, dispatcher, logger, msg)
		case OpRequestExistingBoard:
			mh.handleRequestExistingBoard(ctx, matchState, dispatcher, logger, msg)
		case OpGetCurrentBoard:
			mh.handleGetCurrentBoard(ctx, matchState, dispatcher, logger, msg)
		case OpRequestSquareChange:
			mh.handleSquareChange(ctx, matchState, dispatcher, logger, msg)
		case OpRequestCatchUp:
			mh.handleCatchUp(ctx, matchState, dispatcher, logger, msg)
		case OpGetLiveMode:
			mh.sendTo(dispatcher, logger, OpEvtLiveMode, LiveModeEvent{Live: matchState.Live}, msg)
		case OpGetCatalog:
			mh.sendTo(dispatcher, logger, OpEvtCatalog, CatalogEvent{Squares: matchState.Catalog.All()}, msg)
		case OpSetSquareForClient:
			mh.handleSetSquareForClient(ctx, matchState, dispatcher, logger, msg)
		case OpSetSquareGlobally:
			mh.handleSetSquareGlobally(ctx, matchState, dispatcher, logger, msg)
		case OpApproveRequest:
			mh.handleApprove(ctx, matchState, dispatcher, logger, msg)
		case OpDenyRequest:
			mh.handleDeny(ctx, matchState, dispatcher, logger, msg)
		case OpApproveAll:
			mh.handleApproveAll(ctx, matchState, dispatcher, logger, msg)
		case OpListPending:
			mh.handleListPending(ctx, matchState, dispatcher, logger, msg)
		case OpSetLiveMode:
			mh.handleSetLiveMode(ctx, matchState, dispatcher, logger, msg)
		case OpStartSession, OpEndSession:
			mh.handleSessionControl(ctx, matchState, dispatcher, logger, msg)
		case OpListClients:
			mh.handleListClients(ctx, matchState, dispatcher, logger, msg)
		default:
			logger.Warn("MatchLoop: Unknown opcode received: %d", msg.GetOpCode())
		}
	}

	if tick-matchState.LastSweepTick >= matchState.SweepTicks {
		matchState.LastSweepTick = tick
		if err := matchState.Approvals.Cleanup(ctx); err != nil {
			logger.Error("MatchLoop: Approval sweep failed: %v", err)
		}
	}

	return matchState
}

func (mh *matchHandler) handleRequestBoard(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req RequestBoardMessage
	if len(msg.GetData()) > 0 {
		if err := json.Unmarshal(msg.GetData(), &req); err != nil {
			mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
			return
		}
	}
	if req.UserName != "" {
		mh.applyDisplayName(ctx, state, logger, msg, req.UserName)
	}

	clientID := mh.resolveClientID(ctx, state, msg)

	board, err := state.Boards.GenerateBoard(ctx, clientID)
	if err != nil {
		logger.Error("RequestBoard: Failed to generate board for %s: %v", clientID, err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to generate board")
		return
	}
	if err := state.Directory.AssociateBoard(ctx, msg.GetSessionId(), board.ID); err != nil {
		logger.Warn("RequestBoard: Failed to associate board: %v", err)
	}

	mh.sendTo(dispatcher, logger, OpEvtBoardGenerated, BoardEvent{Board: board, ClientID: clientID}, msg)
}

func (mh *matchHandler) handleRequestExistingBoard(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req RequestBoardMessage
	if len(msg.GetData()) > 0 {
		if err := json.Unmarshal(msg.GetData(), &req); err != nil {
			mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
			return
		}
	}

	if req.UserName != "" {
		mh.applyDisplayName(ctx, state, logger, msg, req.UserName)
	}

	// A returning viewer may hand back the persistent id from a previous
	// visit; remap the connection so the old board is found.
	if req.PersistentClientID != "" {
		if err := state.Directory.MapConnectionToIdentity(ctx, msg.GetSessionId(), req.PersistentClientID); err != nil {
			logger.Error("RequestExistingBoard: Failed to remap identity: %v", err)
			mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to restore identity")
			return
		}
	}
	clientID := mh.resolveClientID(ctx, state, msg)

	board, found, err := state.Boards.GetBoard(ctx, clientID)
	if err != nil {
		logger.Error("RequestExistingBoard: Failed to load board for %s: %v", clientID, err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to load board")
		return
	}

	existing := found
	if !found {
		board, err = state.Boards.GenerateBoard(ctx, clientID)
		if err != nil {
			logger.Error("RequestExistingBoard: Failed to generate board for %s: %v", clientID, err)
			mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to generate board")
			return
		}
	}
	if err := state.Directory.AssociateBoard(ctx, msg.GetSessionId(), board.ID); err != nil {
		logger.Warn("RequestExistingBoard: Failed to associate board: %v", err)
	}

	mh.sendTo(dispatcher, logger, OpEvtBoardGenerated, BoardEvent{Board: board, ClientID: clientID, Existing: existing}, msg)
}

func (mh *matchHandler) handleGetCurrentBoard(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	clientID := mh.resolveClientID(ctx, state, msg)

	board, found, err := state.Boards.GetBoard(ctx, clientID)
	if err != nil {
		logger.Error("GetCurrentBoard: Failed to load board for %s: %v", clientID, err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to load board")
		return
	}
	if !found {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 404, "no board for this client")
		return
	}

	mh.sendTo(dispatcher, logger, OpEvtBoardState, BoardEvent{Board: board, ClientID: clientID, Existing: true}, msg)
}

func (mh *matchHandler) handleSquareChange(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req SquareChangeMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
		return
	}

	clientID := mh.resolveClientID(ctx, state, msg)
	if err := state.Directory.TouchActivity(ctx, msg.GetSessionId()); err != nil {
		logger.Warn("SquareChange: Failed to touch activity: %v", err)
	}

	outcome, approvalID, err := state.Approvals.HandleSquareRequest(ctx, clientID, req.SquareID, req.Checked)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrFreeSquareImmutable):
			mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "the free space cannot be changed")
		case errors.Is(err, app.ErrUnknownSquare):
			mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "unknown square")
		case errors.Is(err, app.ErrSquareUpdateFailed):
			mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 404, "square is not on your board")
		default:
			logger.Error("SquareChange: %s/%s failed: %v", clientID, req.SquareID, err)
			mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to process request")
		}
		return
	}

	switch outcome {
	case app.OutcomeApplied:
		label := ""
		if def, ok := state.Catalog.Get(req.SquareID); ok {
			label = def.Label
		}
		mh.broadcastAll(dispatcher, logger, OpEvtSquareUpdated, SquareUpdatedEvent{
			ClientID:    clientID,
			SquareID:    req.SquareID,
			SquareLabel: label,
			Checked:     req.Checked,
			Global:      true,
		}, state)
		mh.announceWin(ctx, state, dispatcher, logger, clientID)

	case app.OutcomeSubmitted:
		approval, found, err := state.Approvals.GetApproval(ctx, approvalID)
		if err != nil || !found {
			logger.Error("SquareChange: Queued approval %s unreadable: %v", approvalID, err)
			return
		}
		mh.broadcastAll(dispatcher, logger, OpEvtApprovalQueued, ApprovalQueuedEvent{Approval: approval}, state)

	case app.OutcomeAlreadySatisfied:
		label := ""
		if def, ok := state.Catalog.Get(req.SquareID); ok {
			label = def.Label
		}
		mh.sendTo(dispatcher, logger, OpEvtSquareUpdated, SquareUpdatedEvent{
			ClientID:    clientID,
			SquareID:    req.SquareID,
			SquareLabel: label,
			Checked:     req.Checked,
			Global:      true,
		}, msg)
	}
}

func (mh *matchHandler) handleCatchUp(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	clientID := mh.resolveClientID(ctx, state, msg)

	board, applied, err := state.Boards.CatchUp(ctx, clientID)
	if err != nil {
		logger.Error("CatchUp: Failed for %s: %v", clientID, err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to catch up")
		return
	}
	if board == nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 404, "no board for this client")
		return
	}

	mh.sendTo(dispatcher, logger, OpEvtCatchUp, CatchUpEvent{Board: board, Applied: applied}, msg)
	mh.announceWin(ctx, state, dispatcher, logger, clientID)
}

func (mh *matchHandler) handleSetSquareForClient(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req SetSquareForClientMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
		return
	}
	if _, ok := mh.authorizeOperator(state, dispatcher, logger, msg, req.Token); !ok {
		return
	}

	ok, err := state.Boards.SetSquareState(ctx, req.ClientID, req.SquareID, req.Checked)
	if err != nil {
		if errors.Is(err, app.ErrFreeSquareImmutable) {
			mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "the free space cannot be changed")
			return
		}
		logger.Error("SetSquareForClient: %s/%s failed: %v", req.ClientID, req.SquareID, err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to update square")
		return
	}
	if !ok {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 404, "client has no such square")
		return
	}

	event := SquareUpdatedEvent{ClientID: req.ClientID, SquareID: req.SquareID, Checked: req.Checked}
	if def, found := state.Catalog.Get(req.SquareID); found {
		event.SquareLabel = def.Label
	}
	// Deliver to the target viewer if connected, and echo to the operator.
	if connID, found, err := state.Directory.GetConnectionID(ctx, req.ClientID); err == nil && found {
		if p, online := state.Presences[connID]; online {
			mh.sendTo(dispatcher, logger, OpEvtSquareUpdated, event, p)
		}
	}
	mh.sendTo(dispatcher, logger, OpEvtSquareUpdated, event, msg)
	mh.announceWin(ctx, state, dispatcher, logger, req.ClientID)
}

func (mh *matchHandler) handleSetSquareGlobally(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req SetSquareGloballyMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
		return
	}
	if _, ok := mh.authorizeOperator(state, dispatcher, logger, msg, req.Token); !ok {
		return
	}

	applied, err := state.Boards.ApplyGlobally(ctx, req.SquareID, req.Checked)
	if err != nil {
		logger.Error("SetSquareGlobally: %s failed: %v", req.SquareID, err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to update square")
		return
	}
	logger.Info("SetSquareGlobally: %s=%v applied to %d boards", req.SquareID, req.Checked, applied)

	event := SquareUpdatedEvent{SquareID: req.SquareID, Checked: req.Checked, Global: true}
	if def, found := state.Catalog.Get(req.SquareID); found {
		event.SquareLabel = def.Label
	}
	mh.broadcastAll(dispatcher, logger, OpEvtSquareUpdated, event, state)
	mh.announceAllWins(ctx, state, dispatcher, logger)
}

func (mh *matchHandler) handleApprove(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req ApprovalDecisionMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
		return
	}
	operatorID, ok := mh.authorizeOperator(state, dispatcher, logger, msg, req.Token)
	if !ok {
		return
	}

	decision, err := state.Approvals.Approve(ctx, req.ApprovalID, operatorID)
	if err != nil {
		mh.sendDecisionError(state, dispatcher, logger, msg.GetSessionId(), req.ApprovalID, err)
		return
	}

	mh.announceDecision(ctx, state, dispatcher, logger, decision, domain.ApprovalApproved, "")
}

func (mh *matchHandler) handleDeny(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req ApprovalDecisionMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
		return
	}
	operatorID, ok := mh.authorizeOperator(state, dispatcher, logger, msg, req.Token)
	if !ok {
		return
	}

	decision, err := state.Approvals.Deny(ctx, req.ApprovalID, operatorID, req.Reason)
	if err != nil {
		mh.sendDecisionError(state, dispatcher, logger, msg.GetSessionId(), req.ApprovalID, err)
		return
	}

	mh.broadcastAll(dispatcher, logger, OpEvtApprovalResolved, ApprovalResolvedEvent{
		SquareID:       decision.SquareID,
		SquareLabel:    decision.SquareLabel,
		RequestedState: decision.RequestedState,
		Status:         domain.ApprovalDenied,
		Reason:         req.Reason,
		Approvals:      decision.Approvals,
	}, state)
}

func (mh *matchHandler) handleApproveAll(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req OperatorMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
		return
	}
	operatorID, ok := mh.authorizeOperator(state, dispatcher, logger, msg, req.Token)
	if !ok {
		return
	}

	decisions, err := state.Approvals.ApproveAll(ctx, operatorID)
	if err != nil {
		logger.Error("ApproveAll: Failed: %v", err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to approve backlog")
		return
	}

	for i := range decisions {
		mh.announceDecision(ctx, state, dispatcher, logger, &decisions[i], domain.ApprovalApproved, "")
	}
}

func (mh *matchHandler) handleListPending(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req OperatorMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
		return
	}
	if _, ok := mh.authorizeOperator(state, dispatcher, logger, msg, req.Token); !ok {
		return
	}

	// Sweep first so operators never see requests that already lapsed.
	if err := state.Approvals.Cleanup(ctx); err != nil {
		logger.Warn("ListPending: Sweep failed: %v", err)
	}

	pending, err := state.Approvals.ListPending(ctx)
	if err != nil {
		logger.Error("ListPending: Failed: %v", err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to list approvals")
		return
	}

	mh.sendTo(dispatcher, logger, OpEvtPendingList, PendingListEvent{Pending: pending}, msg)
}

func (mh *matchHandler) handleSetLiveMode(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req SetLiveModeMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
		return
	}
	if _, ok := mh.authorizeOperator(state, dispatcher, logger, msg, req.Token); !ok {
		return
	}

	if err := state.Approvals.SetLiveMode(ctx, req.Live); err != nil {
		logger.Error("SetLiveMode: Failed: %v", err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to set live mode")
		return
	}
	state.Live = req.Live

	mh.broadcastAll(dispatcher, logger, OpEvtLiveMode, LiveModeEvent{Live: req.Live}, state)
	mh.updateLabel(state, dispatcher, logger)
}

func (mh *matchHandler) handleSessionControl(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req SessionControlMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
		return
	}
	if _, ok := mh.authorizeOperator(state, dispatcher, logger, msg, req.Token); !ok {
		return
	}

	live := req.Live
	if msg.GetOpCode() == OpEndSession {
		// Ending a session leaves the next one gated until an operator says
		// otherwise.
		live = true
	}

	if err := state.Approvals.ResetSession(ctx, live); err != nil {
		logger.Error("SessionControl: Reset failed: %v", err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to reset session")
		return
	}
	state.Live = live

	mh.broadcastAll(dispatcher, logger, OpEvtSessionReset, SessionResetEvent{Live: live}, state)
	mh.broadcastAll(dispatcher, logger, OpEvtLiveMode, LiveModeEvent{Live: live}, state)
	mh.updateLabel(state, dispatcher, logger)
	logger.Info("SessionControl: Session reset (live=%v)", live)
}

func (mh *matchHandler) handleListClients(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	var req OperatorMessage
	if err := json.Unmarshal(msg.GetData(), &req); err != nil {
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 400, "invalid payload")
		return
	}
	if _, ok := mh.authorizeOperator(state, dispatcher, logger, msg, req.Token); !ok {
		return
	}

	clients, err := state.Directory.ListConnections(ctx)
	if err != nil {
		logger.Error("ListClients: Failed: %v", err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 500, "failed to list clients")
		return
	}

	mh.sendTo(dispatcher, logger, OpEvtClientList, ClientListEvent{Clients: clients}, msg)
}

// announceDecision broadcasts an approval outcome, the resulting square
// change, and any wins it produced.
func (mh *matchHandler) announceDecision(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, decision *app.Decision, status domain.ApprovalStatus, reason string) {
	mh.broadcastAll(dispatcher, logger, OpEvtApprovalResolved, ApprovalResolvedEvent{
		SquareID:       decision.SquareID,
		SquareLabel:    decision.SquareLabel,
		RequestedState: decision.RequestedState,
		Status:         status,
		Reason:         reason,
		Approvals:      decision.Approvals,
	}, state)

	mh.broadcastAll(dispatcher, logger, OpEvtSquareUpdated, SquareUpdatedEvent{
		SquareID:    decision.SquareID,
		SquareLabel: decision.SquareLabel,
		Checked:     decision.RequestedState,
		Global:      true,
	}, state)

	mh.announceAllWins(ctx, state, dispatcher, logger)
}

// announceWin broadcasts a win event if the client's board has a completed
// line.
func (mh *matchHandler) announceWin(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, clientID string) {
	won, err := state.Boards.EvaluateWin(ctx, clientID)
	if err != nil {
		logger.Warn("announceWin: Failed to evaluate %s: %v", clientID, err)
		return
	}
	if !won {
		return
	}

	event := WinEvent{ClientID: clientID}
	if board, found, err := state.Boards.GetBoard(ctx, clientID); err == nil && found {
		event.BoardID = board.ID
	}
	if connID, found, err := state.Directory.GetConnectionID(ctx, clientID); err == nil && found {
		if p, online := state.Presences[connID]; online {
			event.UserName = p.GetUsername()
		}
	}

	mh.broadcastAll(dispatcher, logger, OpEvtWin, event, state)
}

// announceAllWins re-evaluates every connected client after a fan-out update.
func (mh *matchHandler) announceAllWins(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	clients, err := state.Directory.ListConnections(ctx)
	if err != nil {
		logger.Warn("announceAllWins: Failed to list connections: %v", err)
		return
	}
	for _, client := range clients {
		if client.CurrentBoardID == "" {
			continue
		}
		clientID, found, err := state.Directory.GetPersistentID(ctx, client.ConnectionID)
		if err != nil || !found {
			continue
		}
		mh.announceWin(ctx, state, dispatcher, logger, clientID)
	}
}

// applyDisplayName updates the viewer's name on both the account and the
// connection record. Failures are logged, never fatal to the board request.
func (mh *matchHandler) applyDisplayName(ctx context.Context, state *MatchState, logger runtime.Logger, msg runtime.MatchData, name string) {
	if err := state.Accounts.UpdateDisplayName(ctx, msg.GetUserId(), name); err != nil {
		logger.Warn("Could not update display name for %s: %v", msg.GetUserId(), err)
	}
	if err := state.Directory.RenameConnection(ctx, msg.GetSessionId(), name); err != nil {
		logger.Warn("Could not rename connection %s: %v", msg.GetSessionId(), err)
	}
}

// authorizeOperator verifies the operator token on a message, reporting an
// auth error to the sender on failure.
func (mh *matchHandler) authorizeOperator(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData, token string) (string, bool) {
	operatorID, err := state.Operator.Verify(token)
	if err != nil {
		logger.Warn("Operator auth failed for %s: %v", msg.GetUserId(), err)
		mh.sendError(state, dispatcher, logger, msg.GetSessionId(), 401, "operator authorization required")
		return "", false
	}
	return operatorID, true
}

// resolveClientID maps the sender's connection to its persistent client id,
// falling back to the Nakama user id when no mapping survives.
func (mh *matchHandler) resolveClientID(ctx context.Context, state *MatchState, msg runtime.MatchData) string {
	clientID, found, err := state.Directory.GetPersistentID(ctx, msg.GetSessionId())
	if err != nil || !found || clientID == "" {
		return msg.GetUserId()
	}
	return clientID
}

func (mh *matchHandler) sendTo(dispatcher runtime.MatchDispatcher, logger runtime.Logger, opCode int64, payload interface{}, target runtime.Presence) {
	bytes, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to marshal event for opcode %d: %v", opCode, err)
		return
	}
	dispatcher.BroadcastMessage(opCode, bytes, []runtime.Presence{target}, nil, true)
}

func (mh *matchHandler) broadcastAll(dispatcher runtime.MatchDispatcher, logger runtime.Logger, opCode int64, payload interface{}, state *MatchState) {
	bytes, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to marshal event for opcode %d: %v", opCode, err)
		return
	}
	dispatcher.BroadcastMessage(opCode, bytes, nil, nil, true)
}

func (mh *matchHandler) broadcastAllExcept(dispatcher runtime.MatchDispatcher, logger runtime.Logger, opCode int64, payload interface{}, state *MatchState, exceptConnID string) {
	bytes, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to marshal event for opcode %d: %v", opCode, err)
		return
	}

	recipients := make([]runtime.Presence, 0, len(state.Presences))
	for connID, p := range state.Presences {
		if connID == exceptConnID {
			continue
		}
		recipients = append(recipients, p)
	}
	if len(recipients) == 0 {
		return
	}
	dispatcher.BroadcastMessage(opCode, bytes, recipients, nil, true)
}

// sendError sends an ErrorEvent to one connection.
func (mh *matchHandler) sendError(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, connID string, code int, message string) {
	presence, ok := state.Presences[connID]
	if !ok {
		logger.Warn("Cannot send error to %s: presence not found", connID)
		return
	}

	bytes, err := json.Marshal(ErrorEvent{Code: code, Message: message})
	if err != nil {
		logger.Error("Failed to marshal error event: %v", err)
		return
	}
	dispatcher.BroadcastMessage(OpEvtError, bytes, []runtime.Presence{presence}, nil, true)
}

func (mh *matchHandler) sendDecisionError(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, connID, approvalID string, err error) {
	switch {
	case errors.Is(err, app.ErrApprovalNotFound):
		mh.sendError(state, dispatcher, logger, connID, 404, "approval request not found")
	case errors.Is(err, app.ErrApprovalNotPending):
		mh.sendError(state, dispatcher, logger, connID, 409, "approval request already processed")
	default:
		mh.sendError(state, dispatcher, logger, connID, 500, "failed to resolve approval "+approvalID)
	}
}

func (mh *matchHandler) updateLabel(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	labelBytes, err := json.Marshal(matchLabel{
		Game:    "bingo",
		Live:    state.Live,
		Clients: len(state.Presences),
	})
	if err != nil {
		logger.Error("UpdateLabel: Failed to marshal: %v", err)
		return
	}
	if err := dispatcher.MatchLabelUpdate(string(labelBytes)); err != nil {
		logger.Error("UpdateLabel: Failed to update: %v", err)
	}
}

func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, reason int) interface{} {
	logger.Debug("MatchTerminate: Session match terminated for reason %d", reason)
	return state
}

func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	return state, ""
}
