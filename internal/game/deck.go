package game

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"cardtable/internal/card"
	"cardtable/internal/protocol"
)

// customGridWidth is how many custom stacks are laid out per row before
// wrapping, so initial stacks never share a position.
const customGridWidth = 4

// BuildStacks constructs the initial stacks for a deck configuration. The
// standard configuration is a single face-down shuffled 54-card pile (52
// ranks plus both jokers) at the origin. Custom configurations take the
// caller's piles verbatim, drop empty ones and spread the rest over a grid.
func BuildStacks(cfg protocol.DeckConfig) []*Stack {
	if cfg.Type == protocol.DeckCustom {
		stacks := make([]*Stack, 0, len(cfg.Stacks))
		for _, pile := range cfg.Stacks {
			// Empty stacks never exist on the table.
			if len(pile) == 0 {
				continue
			}
			n := len(stacks)
			stacks = append(stacks, &Stack{
				ID:       uuid.NewString(),
				Cards:    append([]card.Card(nil), pile...),
				Position: protocol.Position{X: n % customGridWidth, Y: n / customGridWidth},
			})
		}
		return stacks
	}

	cards := make([]card.Card, 0, 54)
	for r := card.Ace; r <= card.King; r++ {
		for s := card.Spades; s <= card.Clubs; s++ {
			cards = append(cards, card.Numeric(r, s).FaceDown())
		}
	}
	cards = append(cards, card.Special(card.JokerBlack).FaceDown(), card.Special(card.JokerRed).FaceDown())
	rand.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})

	return []*Stack{{
		ID:       uuid.NewString(),
		Cards:    cards,
		Position: protocol.Position{},
	}}
}
