package app

import "time"

// Logical key layout in the backing store. Boards, approvals and identity
// mappings are independent keys; the connected-clients snapshot and the
// pending index are whole collections rewritten on change.
const (
	boardKeyPrefix          = "board:"
	globalSquareKeyPrefix   = "global_square:"
	approvalKeyPrefix       = "pending_approval:"
	approvalIndexKey        = "pending_approvals_index"
	connectedClientsKey     = "connected_clients"
	connToIdentityKeyPrefix = "conn_to_identity:"
	identityToConnKeyPrefix = "identity_to_conn:"
	liveModeKey             = "live_mode"
)

const (
	// boardTTL is the sliding inactivity window after which a board expires.
	boardTTL = 24 * time.Hour
	// identityMappingTTL is the sliding window on connection<->identity keys.
	identityMappingTTL = 24 * time.Hour
	// connectionsTTL is the sliding window on the connected-clients snapshot.
	connectionsTTL = 24 * time.Hour
	// approvalPendingWindow is how long a request may stay pending before the
	// sweep marks it expired. It doubles as the absolute TTL on the record.
	approvalPendingWindow = 2 * time.Hour
	// approvalRetention is how long resolved or expired requests stay in the
	// tracking index before the sweep drops them.
	approvalRetention = 24 * time.Hour
)

func boardKey(clientID string) string {
	return boardKeyPrefix + clientID
}

func globalSquareKey(squareID string) string {
	return globalSquareKeyPrefix + squareID
}

func approvalKey(approvalID string) string {
	return approvalKeyPrefix + approvalID
}

func connToIdentityKey(connectionID string) string {
	return connToIdentityKeyPrefix + connectionID
}

func identityToConnKey(persistentClientID string) string {
	return identityToConnKeyPrefix + persistentClientID
}
