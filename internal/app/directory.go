package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"streambingo/internal/domain"
	"streambingo/internal/ports"
)

// Directory maps ephemeral transport connections to durable client
// identities and tracks presence. Connection records live in one snapshot
// collection; the identity mapping uses independent keys in both directions.
type Directory struct {
	store ports.KeyValueStore
	now   func() time.Time

	// mu serializes the load-mutate-save cycle on the connected-clients
	// snapshot. Unsynchronized writers would lose updates to whichever
	// snapshot lands last.
	mu sync.Mutex
}

// NewDirectory constructs a directory over the given store.
func NewDirectory(store ports.KeyValueStore) *Directory {
	return &Directory{store: store, now: time.Now}
}

// AddConnection registers a new ephemeral connection record, replacing any
// stale record left under the same connection id.
func (d *Directory) AddConnection(ctx context.Context, client domain.ConnectedClient) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	clients, err := d.loadClients(ctx)
	if err != nil {
		return err
	}

	kept := clients[:0]
	for _, c := range clients {
		if c.ConnectionID != client.ConnectionID {
			kept = append(kept, c)
		}
	}
	kept = append(kept, client)
	return d.saveClients(ctx, kept)
}

// RemoveConnection deletes the ephemeral record and both directions of the
// identity mapping for the connection. No-op if the connection is unknown.
func (d *Directory) RemoveConnection(ctx context.Context, connectionID string) error {
	// Resolve the identity first so the reverse mapping can be cleared too.
	persistentID, _, err := d.GetPersistentID(ctx, connectionID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	clients, err := d.loadClients(ctx)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	kept := clients[:0]
	removed := false
	for _, c := range clients {
		if c.ConnectionID == connectionID {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	if removed {
		if err := d.saveClients(ctx, kept); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	d.mu.Unlock()

	if err := d.store.Delete(ctx, connToIdentityKey(connectionID)); err != nil {
		return err
	}
	if persistentID != "" {
		if err := d.store.Delete(ctx, identityToConnKey(persistentID)); err != nil {
			return err
		}
	}
	return nil
}

// MapConnectionToIdentity establishes the bidirectional mapping between a
// connection and a persistent client id. The last call wins, which lets a
// reconnecting client reattach under a fresh connection id. The two writes
// are not transactional; a crash between them self-heals on the next call.
func (d *Directory) MapConnectionToIdentity(ctx context.Context, connectionID, persistentClientID string) error {
	if err := d.store.SetWithSlidingTTL(ctx, connToIdentityKey(connectionID), persistentClientID, identityMappingTTL); err != nil {
		return fmt.Errorf("failed to store connection mapping: %w", err)
	}
	if err := d.store.SetWithSlidingTTL(ctx, identityToConnKey(persistentClientID), connectionID, identityMappingTTL); err != nil {
		return fmt.Errorf("failed to store identity mapping: %w", err)
	}
	return nil
}

// GetPersistentID resolves a connection id to its persistent client id.
func (d *Directory) GetPersistentID(ctx context.Context, connectionID string) (string, bool, error) {
	return d.store.Get(ctx, connToIdentityKey(connectionID))
}

// GetConnectionID resolves a persistent client id to its live connection id.
// Absence means the client is currently offline; callers must treat that as
// non-fatal.
func (d *Directory) GetConnectionID(ctx context.Context, persistentClientID string) (string, bool, error) {
	return d.store.Get(ctx, identityToConnKey(persistentClientID))
}

// AssociateBoard records the board a connection is currently playing.
func (d *Directory) AssociateBoard(ctx context.Context, connectionID, boardID string) error {
	return d.updateClient(ctx, connectionID, func(c *domain.ConnectedClient) {
		c.CurrentBoardID = boardID
		c.LastActivity = d.now()
	})
}

// RenameConnection updates the display name on the connection record.
func (d *Directory) RenameConnection(ctx context.Context, connectionID, userName string) error {
	return d.updateClient(ctx, connectionID, func(c *domain.ConnectedClient) {
		c.UserName = userName
		c.LastActivity = d.now()
	})
}

// TouchActivity refreshes the connection's last-activity timestamp.
func (d *Directory) TouchActivity(ctx context.Context, connectionID string) error {
	return d.updateClient(ctx, connectionID, func(c *domain.ConnectedClient) {
		c.LastActivity = d.now()
	})
}

// ListConnections returns a snapshot of all live connection records.
func (d *Directory) ListConnections(ctx context.Context) ([]domain.ConnectedClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadClients(ctx)
}

func (d *Directory) updateClient(ctx context.Context, connectionID string, mutate func(*domain.ConnectedClient)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	clients, err := d.loadClients(ctx)
	if err != nil {
		return err
	}
	for i := range clients {
		if clients[i].ConnectionID == connectionID {
			mutate(&clients[i])
			return d.saveClients(ctx, clients)
		}
	}
	// Unknown connections are ignored; the record may have expired.
	return nil
}

func (d *Directory) loadClients(ctx context.Context) ([]domain.ConnectedClient, error) {
	raw, found, err := d.store.Get(ctx, connectedClientsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load connected clients: %w", err)
	}
	if !found || raw == "" {
		return nil, nil
	}

	var clients []domain.ConnectedClient
	if err := json.Unmarshal([]byte(raw), &clients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connected clients: %w", err)
	}
	return clients, nil
}

func (d *Directory) saveClients(ctx context.Context, clients []domain.ConnectedClient) error {
	raw, err := json.Marshal(clients)
	if err != nil {
		return fmt.Errorf("failed to marshal connected clients: %w", err)
	}
	if err := d.store.SetWithSlidingTTL(ctx, connectedClientsKey, string(raw), connectionsTTL); err != nil {
		return fmt.Errorf("failed to store connected clients: %w", err)
	}
	return nil
}
