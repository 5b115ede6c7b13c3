package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"streambingo/internal/catalog"
	"streambingo/internal/domain"
	"streambingo/internal/ports"
)

var (
	// ErrFreeSquareImmutable rejects state changes targeting the free space.
	ErrFreeSquareImmutable = errors.New("free space cannot be modified")
)

// BoardService generates, persists and mutates viewer boards and evaluates
// win conditions. Boards are keyed by persistent client id and expire after
// 24 hours of inactivity.
type BoardService struct {
	store     ports.KeyValueStore
	catalog   *catalog.Catalog
	directory *Directory
	rng       *rand.Rand
	now       func() time.Time
}

// NewBoardService constructs a board service with the provided rng or a
// time-seeded default.
func NewBoardService(store ports.KeyValueStore, cat *catalog.Catalog, directory *Directory, rng *rand.Rand) *BoardService {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &BoardService{
		store:     store,
		catalog:   cat,
		directory: directory,
		rng:       rng,
		now:       time.Now,
	}
}

// GenerateBoard builds a fresh randomized board for the client and persists
// it, unconditionally overwriting any prior board. This is the only board
// constructor; regenerating wipes previous progress by design.
func (s *BoardService) GenerateBoard(ctx context.Context, clientID string) (*domain.Board, error) {
	playable := s.catalog.Playable()
	s.rng.Shuffle(len(playable), func(i, j int) { playable[i], playable[j] = playable[j], playable[i] })

	board := domain.NewBoard(clientID, s.catalog.Free(), playable[:domain.BoardSize-1], s.now().UTC())
	if err := s.saveBoard(ctx, board); err != nil {
		return nil, err
	}
	return board, nil
}

// GetBoard loads the client's current board, reporting absence without error.
func (s *BoardService) GetBoard(ctx context.Context, clientID string) (*domain.Board, bool, error) {
	raw, found, err := s.store.Get(ctx, boardKey(clientID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load board for %s: %w", clientID, err)
	}
	if !found || raw == "" {
		return nil, false, nil
	}

	var board domain.Board
	if err := json.Unmarshal([]byte(raw), &board); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal board for %s: %w", clientID, err)
	}
	return &board, true, nil
}

// SetSquareState flips one square on the client's board. It returns false
// when the client has no board or the square is not on it; setting a square
// to its current value is an idempotent success. The free space is guarded.
func (s *BoardService) SetSquareState(ctx context.Context, clientID, squareID string, checked bool) (bool, error) {
	if squareID == domain.FreeSquareID {
		return false, ErrFreeSquareImmutable
	}

	board, found, err := s.GetBoard(ctx, clientID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	square := board.SquareByID(squareID)
	if square == nil {
		return false, nil
	}

	now := s.now().UTC()
	square.Checked = checked
	square.LastUpdated = now
	board.LastUpdated = now
	board.HasWon = board.HasWin()

	if err := s.saveBoard(ctx, board); err != nil {
		return false, err
	}
	return true, nil
}

// EvaluateWin recomputes the win condition from the stored board. Absent
// boards never win.
func (s *BoardService) EvaluateWin(ctx context.Context, clientID string) (bool, error) {
	board, found, err := s.GetBoard(ctx, clientID)
	if err != nil || !found {
		return false, err
	}
	return board.HasWin(), nil
}

// ApplyGlobally records the square's state in the global ledger and applies
// it to every connected client with a board. Clients whose board lacks the
// square fail silently for that one update; the count of successful
// applications is returned.
func (s *BoardService) ApplyGlobally(ctx context.Context, squareID string, checked bool) (int, error) {
	if err := s.store.Set(ctx, globalSquareKey(squareID), strconv.FormatBool(checked)); err != nil {
		return 0, fmt.Errorf("failed to store global square state: %w", err)
	}

	clients, err := s.directory.ListConnections(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, client := range clients {
		if client.CurrentBoardID == "" {
			continue
		}
		clientID, found, err := s.directory.GetPersistentID(ctx, client.ConnectionID)
		if err != nil || !found {
			continue
		}
		if ok, err := s.SetSquareState(ctx, clientID, squareID, checked); err == nil && ok {
			applied++
		}
	}
	return applied, nil
}

// GloballyChecked returns the ids of every square the global ledger records
// as checked this session.
func (s *BoardService) GloballyChecked(ctx context.Context) ([]string, error) {
	var out []string
	for _, sq := range s.catalog.All() {
		raw, found, err := s.store.Get(ctx, globalSquareKey(sq.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to load global state for %s: %w", sq.ID, err)
		}
		if !found {
			continue
		}
		if checked, err := strconv.ParseBool(raw); err == nil && checked {
			out = append(out, sq.ID)
		}
	}
	return out, nil
}

// CatchUp applies every globally-checked square onto the client's board and
// returns the refreshed board plus the number of squares applied. A nil
// board means the client has none to catch up.
func (s *BoardService) CatchUp(ctx context.Context, clientID string) (*domain.Board, int, error) {
	if _, found, err := s.GetBoard(ctx, clientID); err != nil || !found {
		return nil, 0, err
	}

	ids, err := s.GloballyChecked(ctx)
	if err != nil {
		return nil, 0, err
	}

	applied := 0
	for _, id := range ids {
		if ok, err := s.SetSquareState(ctx, clientID, id, true); err == nil && ok {
			applied++
		}
	}

	board, _, err := s.GetBoard(ctx, clientID)
	return board, applied, err
}

func (s *BoardService) saveBoard(ctx context.Context, board *domain.Board) error {
	raw, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("failed to marshal board: %w", err)
	}
	if err := s.store.SetWithSlidingTTL(ctx, boardKey(board.OwnerClientID), string(raw), boardTTL); err != nil {
		return fmt.Errorf("failed to store board: %w", err)
	}
	return nil
}
