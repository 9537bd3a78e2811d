package game

import (
	"cardtable/internal/card"
	"cardtable/internal/protocol"
)

// Stack is an ordered pile of cards at a board position. Cards are appended
// at the bottom of the slice and removed from the end, so the last element is
// the top of the pile.
type Stack struct {
	ID       string            `json:"id"`
	Cards    []card.Card       `json:"cards"`
	Position protocol.Position `json:"position"`
}

// Top returns the top card without removing it.
func (s *Stack) Top() (card.Card, bool) {
	if len(s.Cards) == 0 {
		return 0, false
	}
	return s.Cards[len(s.Cards)-1], true
}

func (s *Stack) push(c card.Card) {
	s.Cards = append(s.Cards, c)
}

func (s *Stack) pop() (card.Card, bool) {
	if len(s.Cards) == 0 {
		return 0, false
	}
	c := s.Cards[len(s.Cards)-1]
	s.Cards = s.Cards[:len(s.Cards)-1]
	return c, true
}

// State returns the client-visible view of the stack. A face-down top card
// is masked with the hidden sentinel for everyone.
func (s *Stack) State() protocol.StackState {
	top, _ := s.Top()
	return protocol.StackState{
		StackID:        s.ID,
		Position:       s.Position,
		VisibleCard:    top.Masked(),
		RemainingCards: len(s.Cards),
	}
}
