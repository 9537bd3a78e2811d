// Package protocol defines the wire vocabulary of the card table: inbound
// action messages, outbound responses and broadcasts, and the error taxonomy
// shared by the game engine and the session handler.
package protocol

import (
	"encoding/json"
	"fmt"

	"cardtable/internal/card"
)

// Action discriminates inbound messages.
type Action string

const (
	ActionJoinGame  Action = "join-game"
	ActionTakeCard  Action = "take-card"
	ActionPutCard   Action = "put-card"
	ActionFlipCard  Action = "flip-card"
	ActionFlipStack Action = "flip-stack"
	ActionMoveCard  Action = "move-card"
	ActionMoveStack Action = "move-stack"
	ActionShuffle   Action = "shuffle"
	ActionDeal      Action = "deal"
	ActionGiveCard  Action = "give-card"
	ActionReset     Action = "reset"
	ActionLeaveGame Action = "leave-game"
	ActionPing      Action = "ping"
)

// Position is a 2D board coordinate, serialized as a two-element array.
type Position struct {
	X int
	Y int
}

func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.X, p.Y})
}

func (p *Position) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("position must be a [x, y] pair: %w", err)
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

// Request is one inbound action message. Fields beyond Action are present
// only for the actions that use them.
type Request struct {
	Action    Action    `json:"action"`
	Stack     string    `json:"stack,omitempty"`
	HandIndex *int      `json:"handIndex,omitempty"`
	Position  *Position `json:"position,omitempty"`
	FaceDown  bool      `json:"faceDown,omitempty"`
	TradeTo   string    `json:"tradeTo,omitempty"`
}

// ParseRequest decodes and validates one action message. All failures map to
// CodeInvalidRequest.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, Errorf(CodeInvalidRequest, "error parsing json")
	}

	switch req.Action {
	case ActionJoinGame, ActionReset, ActionLeaveGame, ActionPing:
	case ActionTakeCard, ActionFlipCard, ActionFlipStack, ActionShuffle, ActionDeal:
		if req.Stack == "" {
			return nil, Errorf(CodeInvalidRequest, "%s requires a stack", req.Action)
		}
	case ActionMoveCard, ActionMoveStack:
		if req.Stack == "" || req.Position == nil {
			return nil, Errorf(CodeInvalidRequest, "%s requires a stack and position", req.Action)
		}
	case ActionPutCard:
		if req.Position == nil || req.HandIndex == nil {
			return nil, Errorf(CodeInvalidRequest, "put-card requires a position and handIndex")
		}
	case ActionGiveCard:
		if req.TradeTo == "" || req.HandIndex == nil {
			return nil, Errorf(CodeInvalidRequest, "give-card requires tradeTo and handIndex")
		}
	default:
		return nil, Errorf(CodeInvalidRequest, "unknown action %q", req.Action)
	}
	return &req, nil
}

// DeckType selects how a game's initial stacks are built.
type DeckType string

const (
	DeckStandard DeckType = "standard"
	DeckCustom   DeckType = "custom"
)

// DeckConfig is the deck configuration a game is created with and rebuilt
// from on reset.
type DeckConfig struct {
	Type DeckType `json:"deckType"`
	// Stacks holds the caller-supplied piles for custom decks.
	Stacks [][]card.Card `json:"stacks,omitempty"`
}
