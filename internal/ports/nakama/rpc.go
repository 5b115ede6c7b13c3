package nakama

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"

	"streambingo/internal/app"
	"streambingo/internal/config"

	"github.com/heroiclabs/nakama-common/runtime"
)

// RegisterRPCs registers Nakama RPC endpoints.
func RegisterRPCs(initializer runtime.Initializer) error {
	if err := initializer.RegisterRpc(RpcJoinSession, rpcJoinSession); err != nil {
		return err
	}
	return initializer.RegisterRpc(RpcOperatorToken, rpcOperatorToken)
}

// rpcJoinSession finds the shared bingo session match, creating it when none
// is running. All viewers and operators share one match per deployment.
func rpcJoinSession(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)

	query := "+label." + MatchLabelKey_Game + ":bingo"
	limit := 1
	authoritative := true
	minSize := 0

	matches, err := nk.MatchList(ctx, limit, authoritative, "", &minSize, nil, query)
	if err != nil {
		logger.Error("rpcJoinSession [User:%s]: Failed to list matches: %v", userID, err)
		return "", runtime.NewError("failed to list matches", 13)
	}

	if len(matches) > 0 {
		resp := JoinSessionResponse{MatchID: matches[0].MatchId, IsNew: false}
		b, _ := json.Marshal(resp)
		return string(b), nil
	}

	matchID, err := nk.MatchCreate(ctx, MatchNameBingo, map[string]interface{}{})
	if err != nil {
		logger.Error("rpcJoinSession [User:%s]: Failed to create match: %v", userID, err)
		return "", runtime.NewError("failed to create match", 13)
	}

	logger.Info("rpcJoinSession [User:%s]: Created new session match %s", userID, matchID)
	resp := JoinSessionResponse{MatchID: matchID, IsNew: true}
	b, _ := json.Marshal(resp)
	return string(b), nil
}

// rpcOperatorToken exchanges the shared operator password for a signed token
// that authorizes operator opcodes inside the match.
func rpcOperatorToken(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req OperatorTokenRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("invalid payload", 3)
	}
	if req.OperatorID == "" {
		return "", runtime.NewError("operator_id is required", 3)
	}

	env, _ := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)
	password := env[envOperatorPassword]
	secret := env[envOperatorSecret]
	if password == "" || secret == "" {
		logger.Error("rpcOperatorToken: operator credentials are not configured")
		return "", runtime.NewError("operator access is not configured", 13)
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(password)) != 1 {
		return "", runtime.NewError("invalid operator password", 16)
	}

	token, err := app.NewOperatorTokenService(secret, config.OperatorTokenTTL()).Issue(req.OperatorID)
	if err != nil {
		logger.Error("rpcOperatorToken: Failed to issue token: %v", err)
		return "", runtime.NewError("failed to issue token", 13)
	}

	b, _ := json.Marshal(OperatorTokenResponse{Token: token})
	return string(b), nil
}
