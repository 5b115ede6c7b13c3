package app

import (
	"context"
	"testing"
	"time"

	"streambingo/internal/domain"
)

func TestDirectoryAddAndListConnections(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(newMemStore())

	if err := dir.AddConnection(ctx, domain.ConnectedClient{ConnectionID: "conn-1", UserName: "Alice"}); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if err := dir.AddConnection(ctx, domain.ConnectedClient{ConnectionID: "conn-2", UserName: "Bob"}); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}

	clients, err := dir.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(clients))
	}
}

func TestDirectoryAddConnectionReplacesStaleRecord(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(newMemStore())

	if err := dir.AddConnection(ctx, domain.ConnectedClient{ConnectionID: "conn-1", UserName: "Old"}); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if err := dir.AddConnection(ctx, domain.ConnectedClient{ConnectionID: "conn-1", UserName: "New"}); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}

	clients, err := dir.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(clients) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(clients))
	}
	if clients[0].UserName != "New" {
		t.Fatalf("expected replacement record, got %q", clients[0].UserName)
	}
}

func TestDirectoryIdentityMappingRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(newMemStore())

	if err := dir.MapConnectionToIdentity(ctx, "conn-1", "viewer-a"); err != nil {
		t.Fatalf("MapConnectionToIdentity: %v", err)
	}

	persistent, found, err := dir.GetPersistentID(ctx, "conn-1")
	if err != nil || !found {
		t.Fatalf("GetPersistentID: found=%v err=%v", found, err)
	}
	if persistent != "viewer-a" {
		t.Fatalf("expected viewer-a, got %q", persistent)
	}

	conn, found, err := dir.GetConnectionID(ctx, "viewer-a")
	if err != nil || !found {
		t.Fatalf("GetConnectionID: found=%v err=%v", found, err)
	}
	if conn != "conn-1" {
		t.Fatalf("expected conn-1, got %q", conn)
	}
}

// A reconnecting viewer gets a new connection id; the identity must follow.
func TestDirectoryRemapSurvivesReconnect(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(newMemStore())

	if err := dir.MapConnectionToIdentity(ctx, "conn-1", "viewer-a"); err != nil {
		t.Fatalf("MapConnectionToIdentity: %v", err)
	}
	if err := dir.MapConnectionToIdentity(ctx, "conn-2", "viewer-a"); err != nil {
		t.Fatalf("MapConnectionToIdentity: %v", err)
	}

	conn, found, err := dir.GetConnectionID(ctx, "viewer-a")
	if err != nil || !found {
		t.Fatalf("GetConnectionID: found=%v err=%v", found, err)
	}
	if conn != "conn-2" {
		t.Fatalf("expected latest connection conn-2, got %q", conn)
	}
}

func TestDirectoryRemoveConnectionClearsMappings(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	dir := NewDirectory(store)

	if err := dir.AddConnection(ctx, domain.ConnectedClient{ConnectionID: "conn-1"}); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if err := dir.MapConnectionToIdentity(ctx, "conn-1", "viewer-a"); err != nil {
		t.Fatalf("MapConnectionToIdentity: %v", err)
	}

	if err := dir.RemoveConnection(ctx, "conn-1"); err != nil {
		t.Fatalf("RemoveConnection: %v", err)
	}

	clients, err := dir.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(clients) != 0 {
		t.Fatalf("expected empty directory, got %d records", len(clients))
	}
	if store.has(connToIdentityKey("conn-1")) {
		t.Fatal("connection mapping should be deleted")
	}
	if store.has(identityToConnKey("viewer-a")) {
		t.Fatal("identity mapping should be deleted")
	}
}

func TestDirectoryRemoveUnknownConnectionIsNoOp(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(newMemStore())

	if err := dir.RemoveConnection(ctx, "ghost"); err != nil {
		t.Fatalf("RemoveConnection: %v", err)
	}
}

func TestDirectoryAssociateBoardAndTouchActivity(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(newMemStore())
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := start
	dir.now = func() time.Time { return current }

	if err := dir.AddConnection(ctx, domain.ConnectedClient{ConnectionID: "conn-1", LastActivity: start}); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}

	current = start.Add(5 * time.Minute)
	if err := dir.AssociateBoard(ctx, "conn-1", "board-7"); err != nil {
		t.Fatalf("AssociateBoard: %v", err)
	}

	current = start.Add(10 * time.Minute)
	if err := dir.TouchActivity(ctx, "conn-1"); err != nil {
		t.Fatalf("TouchActivity: %v", err)
	}

	clients, err := dir.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(clients) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(clients))
	}
	if clients[0].CurrentBoardID != "board-7" {
		t.Fatalf("expected board-7, got %q", clients[0].CurrentBoardID)
	}
	if !clients[0].LastActivity.Equal(start.Add(10 * time.Minute)) {
		t.Fatalf("expected refreshed activity, got %v", clients[0].LastActivity)
	}

	// Unknown connections are silently ignored.
	if err := dir.AssociateBoard(ctx, "ghost", "board-9"); err != nil {
		t.Fatalf("AssociateBoard on ghost: %v", err)
	}
}

func TestDirectoryRenameConnection(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(newMemStore())

	if err := dir.AddConnection(ctx, domain.ConnectedClient{ConnectionID: "conn-1", UserName: "Anon"}); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if err := dir.RenameConnection(ctx, "conn-1", "Alice"); err != nil {
		t.Fatalf("RenameConnection: %v", err)
	}

	clients, err := dir.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(clients) != 1 || clients[0].UserName != "Alice" {
		t.Fatalf("expected renamed record, got %+v", clients)
	}
}
