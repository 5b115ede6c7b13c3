package domain

import "time"

// ConnectedClient is the ephemeral record for one live transport connection.
// It is keyed by connection id and dropped on disconnect; the durable client
// identity lives in the directory mappings, not here.
type ConnectedClient struct {
	ConnectionID   string    `json:"connection_id"`
	UserName       string    `json:"user_name,omitempty"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivity   time.Time `json:"last_activity"`
	CurrentBoardID string    `json:"current_board_id,omitempty"`
	Address        string    `json:"address,omitempty"`
}
