// Package catalog holds the registry of bingo square definitions a session
// draws boards from. The default set ships compiled in; deployments can
// override it with a JSON data file.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"streambingo/internal/domain"
)

// Catalog is an immutable square-definition registry.
type Catalog struct {
	squares []domain.SquareDefinition
	byID    map[string]domain.SquareDefinition
}

// New validates the given definitions and builds a catalog. A catalog needs
// the free space plus at least 24 playable squares to fill a board.
func New(squares []domain.SquareDefinition) (*Catalog, error) {
	byID := make(map[string]domain.SquareDefinition, len(squares))
	playable := 0
	for _, sq := range squares {
		if sq.ID == "" {
			return nil, fmt.Errorf("catalog square with empty id (label %q)", sq.Label)
		}
		if _, dup := byID[sq.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog square id %q", sq.ID)
		}
		byID[sq.ID] = sq
		if sq.ID != domain.FreeSquareID {
			playable++
		}
	}
	if _, ok := byID[domain.FreeSquareID]; !ok {
		return nil, fmt.Errorf("catalog is missing the %q square", domain.FreeSquareID)
	}
	if playable < domain.BoardSize-1 {
		return nil, fmt.Errorf("catalog has %d playable squares, need at least %d", playable, domain.BoardSize-1)
	}

	return &Catalog{squares: append([]domain.SquareDefinition(nil), squares...), byID: byID}, nil
}

// Load reads square definitions from a JSON file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read square catalog: %w", err)
	}

	var squares []domain.SquareDefinition
	if err := json.Unmarshal(data, &squares); err != nil {
		return nil, fmt.Errorf("failed to unmarshal square catalog: %w", err)
	}
	return New(squares)
}

// Default returns the built-in stream bingo square set.
func Default() *Catalog {
	c, err := New(defaultSquares())
	if err != nil {
		// The built-in set is validated by tests; failing here means the
		// binary itself is broken.
		panic(err)
	}
	return c
}

// All returns every square definition, free space included.
func (c *Catalog) All() []domain.SquareDefinition {
	return append([]domain.SquareDefinition(nil), c.squares...)
}

// Playable returns every square definition except the free space.
func (c *Catalog) Playable() []domain.SquareDefinition {
	out := make([]domain.SquareDefinition, 0, len(c.squares)-1)
	for _, sq := range c.squares {
		if sq.ID != domain.FreeSquareID {
			out = append(out, sq)
		}
	}
	return out
}

// Free returns the free-space definition.
func (c *Catalog) Free() domain.SquareDefinition {
	return c.byID[domain.FreeSquareID]
}

// Get looks up a square definition by id.
func (c *Catalog) Get(id string) (domain.SquareDefinition, bool) {
	sq, ok := c.byID[id]
	return sq, ok
}

// Len returns the number of definitions, free space included.
func (c *Catalog) Len() int {
	return len(c.squares)
}

func defaultSquares() []domain.SquareDefinition {
	return []domain.SquareDefinition{
		{ID: "free", Label: "Free Space", Category: "free"},
		{ID: "screen-share-fail", Label: "Screen share fail", Category: "oops"},
		{ID: "multiple-options", Label: "\"Well, you can do this a few ways...\"", Category: "quote"},
		{ID: "app-bug", Label: "Bug found in guest's app", Category: "bug"},
		{ID: "scared", Label: "Someone is scared to try something", Category: "dev"},
		{ID: "friday-behavior", Label: "\"Friday Behavior\"", Category: "quote"},
		{ID: "ignore-docs", Label: "Someone ignores the docs", Category: "oops"},
		{ID: "different-opinions", Label: "Disagreement on how to do something", Category: "dev"},
		{ID: "error-celly", Label: "Excited to see an error", Category: "dev"},
		{ID: "av-issue", Label: "AV/stream issues", Category: "oops"},
		{ID: "new-bug", Label: "Found a brand new bug", Category: "bug"},
		{ID: "old-bug", Label: "Hit a bug we've already filed", Category: "bug"},
		{ID: "accidental-swear", Label: "Accidental swearing on stream", Category: "quote"},
		{ID: "bathroom-break", Label: "Bathroom break", Category: "meta"},
		{ID: "this-wont-work", Label: "\"There's no way this works, right?\"", Category: "quote"},
		{ID: "did-that-work", Label: "\"Wait, did that work?!\"", Category: "quote"},
		{ID: "stream-pun", Label: "Terrible pun made", Category: "meta"},
		{ID: "host-pause", Label: "Host says \"PAUSE\" or \"WAIT\"", Category: "quote"},
		{ID: "restart-something", Label: "Restarted editor/IDE", Category: "oops"},
		{ID: "do-it-live", Label: "\"Let's do it live\"", Category: "quote"},
		{ID: "refactoring", Label: "Impromptu refactoring", Category: "dev"},
		{ID: "port-problems", Label: "Ports being difficult", Category: "oops"},
		{ID: "vibe-coding", Label: "Vibe coding mentioned", Category: "quote"},
		{ID: "bad-ai", Label: "AI autocomplete being annoying", Category: "dev"},
		{ID: "live-share", Label: "Accidentally kills live share", Category: "oops"},
		{ID: "frustration", Label: "Visible frustration", Category: "dev"},
		{ID: "coffee-mention", Label: "Coffee mentioned", Category: "meta"},
		{ID: "github-issues", Label: "GitHub issues discussion", Category: "dev"},
		{ID: "demo-gods", Label: "\"Demo gods\" mentioned", Category: "quote"},
		{ID: "monorepo-advocacy", Label: "Someone advocates a monorepo", Category: "dev"},
		{ID: "private-key-shared", Label: "Someone shares a private key", Category: "oops"},
		{ID: "one-line-add", Label: "\"It's one line, so let's add it\"", Category: "quote"},
		{ID: "one-day-work", Label: "\"One day, that'll work\"", Category: "quote"},
		{ID: "snack-time", Label: "Someone eats a snack live", Category: "meta"},
		{ID: "chat-derail", Label: "Chat derails the topic", Category: "meta"},
	}
}
