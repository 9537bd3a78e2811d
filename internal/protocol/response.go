package protocol

import (
	"encoding/json"

	"cardtable/internal/card"
)

// Response type tags.
const (
	TypeGameState   = "game-state"
	TypePlayerState = "player-state"
	TypeError       = "error"
	TypeCloseGame   = "close-game"
	TypeSuccess     = "success"
	TypePong        = "pong"
)

// StackState is the client-visible view of one stack: identity, position,
// the top card (masked if face down) and the pile size. The full pile
// contents are never exposed.
type StackState struct {
	StackID        string    `json:"stackId"`
	Position       Position  `json:"position"`
	VisibleCard    card.Card `json:"visibleCard"`
	RemainingCards int       `json:"remainingCards"`
}

// GameState is broadcast to every connected player after a shared mutation.
type GameState struct {
	Type             string       `json:"type"`
	GameID           string       `json:"gameId"`
	Owner            string       `json:"owner"`
	ConnectedPlayers []string     `json:"connectedPlayers"`
	Stacks           []StackState `json:"stacks"`
}

// PlayerState carries a player's private hand. It is only ever sent to the
// owning connection.
type PlayerState struct {
	Type   string      `json:"type"`
	GameID string      `json:"gameId"`
	Hand   []card.Card `json:"hand"`
}

// ErrorResponse is the reply for a failed action.
type ErrorResponse struct {
	Type    string    `json:"type"`
	Error   ErrorCode `json:"error"`
	Message string    `json:"message"`
}

// Notice is a response that carries only its type tag.
type Notice struct {
	Type string `json:"type"`
}

func NewPlayerState(gameID string, hand []card.Card) PlayerState {
	if hand == nil {
		hand = []card.Card{}
	}
	return PlayerState{Type: TypePlayerState, GameID: gameID, Hand: hand}
}

func NewErrorResponse(e *Error) ErrorResponse {
	return ErrorResponse{Type: TypeError, Error: e.Code, Message: e.Message}
}

func CloseGame() Notice { return Notice{Type: TypeCloseGame} }
func Success() Notice   { return Notice{Type: TypeSuccess} }
func Pong() Notice      { return Notice{Type: TypePong} }

// Marshal serializes a response. Responses are plain structs, so failures
// are programming errors and reported as such.
func Marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("protocol: unmarshalable response: " + err.Error())
	}
	return data
}
