package game

import "cardtable/internal/card"

// Player is the per-identity record: the game it belongs to and a private
// hand. It outlives any single connection so a reconnecting player recovers
// their cards.
type Player struct {
	PlayerID string      `json:"playerId"`
	GameID   string      `json:"gameId"`
	Hand     []card.Card `json:"hand"`
}

func (Player) Prefix() string { return "player" }

// removeFromHand takes the card at index out of the hand using swap removal.
// Indices of other cards are not stable across calls.
func (p *Player) removeFromHand(index int) (card.Card, bool) {
	if index < 0 || index >= len(p.Hand) {
		return 0, false
	}
	c := p.Hand[index]
	p.Hand[index] = p.Hand[len(p.Hand)-1]
	p.Hand = p.Hand[:len(p.Hand)-1]
	return c, true
}
