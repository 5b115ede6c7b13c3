package nakama

const (
	// RpcJoinSession is the Nakama RPC id clients call to find or create the
	// shared bingo session match.
	RpcJoinSession = "bingo_join"

	// RpcOperatorToken is the Nakama RPC id operators call to exchange the
	// shared operator password for a signed token.
	RpcOperatorToken = "operator_token"

	// MatchNameBingo is the authoritative match handler name registered with Nakama.
	MatchNameBingo = "bingo_session"
)

// Keys in the JSON match label used for discovery queries.
const (
	MatchLabelKey_Game    = "game"
	MatchLabelKey_Live    = "live"
	MatchLabelKey_Clients = "clients"
)

// Environment variable names read from the Nakama runtime env.
const (
	envOperatorPassword = "bingo_operator_password"
	envOperatorSecret   = "bingo_operator_secret"
	envSquaresFile      = "bingo_squares_file"
)

// Op codes for client messages and server events.
const (
	// Viewer -> Server
	OpRequestBoard         int64 = 1
	OpRequestExistingBoard int64 = 2
	OpGetCurrentBoard      int64 = 3
	OpRequestSquareChange  int64 = 4
	OpRequestCatchUp       int64 = 5
	OpGetLiveMode          int64 = 6

	// Operator -> Server
	OpSetSquareForClient int64 = 20
	OpSetSquareGlobally  int64 = 21
	OpApproveRequest     int64 = 22
	OpDenyRequest        int64 = 23
	OpApproveAll         int64 = 24
	OpListPending        int64 = 25
	OpSetLiveMode        int64 = 26
	OpStartSession       int64 = 27
	OpEndSession         int64 = 28
	OpListClients        int64 = 29
	OpGetCatalog         int64 = 30

	// Server -> Client events
	OpEvtBoardGenerated   int64 = 101
	OpEvtBoardState       int64 = 102
	OpEvtSquareUpdated    int64 = 103
	OpEvtApprovalQueued   int64 = 104
	OpEvtApprovalResolved int64 = 105
	OpEvtPendingList      int64 = 106
	OpEvtLiveMode         int64 = 107
	OpEvtWin              int64 = 108
	OpEvtCatchUp          int64 = 109
	OpEvtClientJoined     int64 = 110
	OpEvtClientLeft       int64 = 111
	OpEvtClientList       int64 = 112
	OpEvtCatalog          int64 = 113
	OpEvtSessionReset     int64 = 114
	OpEvtError            int64 = 199
)
