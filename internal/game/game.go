// Package game holds the card table's persisted records (Game, Player,
// Stack) and the Engine that owns every mutation of them.
package game

import (
	"slices"

	"cardtable/internal/protocol"
)

// Game is the shared document for one table. Players holds every identity
// ever authorized to join and only grows; Connected maps the subset with a
// live transport connection to their connection ids.
type Game struct {
	ID        string              `json:"id"`
	CreatedAt int64               `json:"createdAt"`
	Owner     string              `json:"owner"`
	Players   []string            `json:"players"`
	Connected map[string]string   `json:"connected"`
	Deck      protocol.DeckConfig `json:"deck"`
	Stacks    []*Stack            `json:"stacks"`
}

func (Game) Prefix() string { return "game" }

// Authorized reports whether playerID may join this game.
func (g *Game) Authorized(playerID string) bool {
	return slices.Contains(g.Players, playerID)
}

// ConnectedIDs returns the connected player ids in sorted order.
func (g *Game) ConnectedIDs() []string {
	ids := make([]string, 0, len(g.Connected))
	for id := range g.Connected {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// stack returns the stack with the given id, or nil.
func (g *Game) stack(stackID string) *Stack {
	for _, s := range g.Stacks {
		if s.ID == stackID {
			return s
		}
	}
	return nil
}

// stackAt returns the stack occupying pos, ignoring the stack with id
// except, or nil.
func (g *Game) stackAt(pos protocol.Position, except string) *Stack {
	for _, s := range g.Stacks {
		if s.Position == pos && s.ID != except {
			return s
		}
	}
	return nil
}

func (g *Game) removeStack(stackID string) {
	g.Stacks = slices.DeleteFunc(g.Stacks, func(s *Stack) bool {
		return s.ID == stackID
	})
}

// reassignOwner moves ownership to the lexicographically smallest connected
// player whenever the current owner has no live connection. Lexicographic
// order keeps the choice deterministic regardless of map iteration.
func (g *Game) reassignOwner() {
	if _, ok := g.Connected[g.Owner]; ok {
		return
	}
	if ids := g.ConnectedIDs(); len(ids) > 0 {
		g.Owner = ids[0]
	}
}

// State builds the game-state broadcast for this game. Hands are never
// included; face-down top cards are masked by Stack.State.
func (g *Game) State() protocol.GameState {
	stacks := make([]protocol.StackState, 0, len(g.Stacks))
	for _, s := range g.Stacks {
		stacks = append(stacks, s.State())
	}
	return protocol.GameState{
		Type:             protocol.TypeGameState,
		GameID:           g.ID,
		Owner:            g.Owner,
		ConnectedPlayers: g.ConnectedIDs(),
		Stacks:           stacks,
	}
}
