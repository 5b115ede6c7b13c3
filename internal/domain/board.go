package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// BoardSize is the number of squares on a board.
	BoardSize = 25
	// GridWidth is the width (and height) of the square grid.
	GridWidth = 5
	// FreeSquareID identifies the free space present on every board.
	FreeSquareID = "free"
	// FreeSquareIndex is the fixed grid position of the free space (center of 5x5, row-major).
	FreeSquareIndex = 12
)

// SquareDefinition is an immutable catalog entry a board square is drawn from.
type SquareDefinition struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Category string `json:"category,omitempty"`
}

// BoardSquare is a single mutable cell on a viewer's board.
type BoardSquare struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Category    string    `json:"category,omitempty"`
	Checked     bool      `json:"checked"`
	LastUpdated time.Time `json:"last_updated"`
}

// Board is a 5x5 bingo board owned by one persistent client identity.
// Square position is significant: row = i / 5, col = i % 5.
type Board struct {
	ID            string        `json:"id"`
	OwnerClientID string        `json:"owner_client_id"`
	Squares       []BoardSquare `json:"squares"`
	CreatedAt     time.Time     `json:"created_at"`
	LastUpdated   time.Time     `json:"last_updated"`
	HasWon        bool          `json:"has_won"`
}

// NewBoard assembles a board from 24 playable squares, forcing the free space
// into the center pre-checked. playable must hold exactly BoardSize-1 entries.
func NewBoard(ownerClientID string, free SquareDefinition, playable []SquareDefinition, now time.Time) *Board {
	squares := make([]BoardSquare, 0, BoardSize)
	for _, def := range playable[:FreeSquareIndex] {
		squares = append(squares, BoardSquare{ID: def.ID, Label: def.Label, Category: def.Category, LastUpdated: now})
	}
	squares = append(squares, BoardSquare{
		ID:          free.ID,
		Label:       free.Label,
		Category:    free.Category,
		Checked:     true,
		LastUpdated: now,
	})
	for _, def := range playable[FreeSquareIndex:] {
		squares = append(squares, BoardSquare{ID: def.ID, Label: def.Label, Category: def.Category, LastUpdated: now})
	}

	return &Board{
		ID:            uuid.NewString(),
		OwnerClientID: ownerClientID,
		Squares:       squares,
		CreatedAt:     now,
		LastUpdated:   now,
	}
}

// SquareByID returns a pointer to the board square with the given id, or nil.
func (b *Board) SquareByID(id string) *BoardSquare {
	for i := range b.Squares {
		if b.Squares[i].ID == id {
			return &b.Squares[i]
		}
	}
	return nil
}

// HasWin reports whether any row, column or diagonal is fully checked.
func (b *Board) HasWin() bool {
	var grid [GridWidth][GridWidth]bool
	for i := 0; i < BoardSize && i < len(b.Squares); i++ {
		grid[i/GridWidth][i%GridWidth] = b.Squares[i].Checked
	}

	for row := 0; row < GridWidth; row++ {
		rowWin := true
		for col := 0; col < GridWidth; col++ {
			if !grid[row][col] {
				rowWin = false
				break
			}
		}
		if rowWin {
			return true
		}
	}

	for col := 0; col < GridWidth; col++ {
		colWin := true
		for row := 0; row < GridWidth; row++ {
			if !grid[row][col] {
				colWin = false
				break
			}
		}
		if colWin {
			return true
		}
	}

	diagonal1, diagonal2 := true, true
	for i := 0; i < GridWidth; i++ {
		if !grid[i][i] {
			diagonal1 = false
		}
		if !grid[i][GridWidth-1-i] {
			diagonal2 = false
		}
	}
	return diagonal1 || diagonal2
}
