// Package card implements the one-byte playing card encoding shared by the
// game engine and the wire protocol.
//
// Bit layout:
//
//	bit 7: special card (joker)
//	bit 6: face down
//	special: bits 0-5 hold the joker kind
//	numeric: bits 2-5 hold the rank (1-13), bits 0-1 hold the suit
package card

import (
	"fmt"
	"strconv"
)

// Suit of a numeric card.
type Suit uint8

const (
	Spades Suit = iota
	Hearts
	Diamonds
	Clubs
)

func (s Suit) String() string {
	switch s {
	case Spades:
		return "Spades"
	case Hearts:
		return "Hearts"
	case Diamonds:
		return "Diamonds"
	case Clubs:
		return "Clubs"
	}
	return "Unknown"
}

// Rank of a numeric card, Ace=1 through King=13.
type Rank uint8

const (
	Ace   Rank = 1
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
)

func (r Rank) String() string {
	switch r {
	case Ace:
		return "Ace"
	case Jack:
		return "Jack"
	case Queen:
		return "Queen"
	case King:
		return "King"
	}
	if r >= 2 && r <= 10 {
		return strconv.Itoa(int(r))
	}
	return "Unknown"
}

// Joker kind for special cards.
type Joker uint8

const (
	JokerBlack Joker = iota
	JokerRed
)

func (j Joker) String() string {
	switch j {
	case JokerBlack:
		return "Black Joker"
	case JokerRed:
		return "Red Joker"
	}
	return "Unknown"
}

const (
	specialBit  = 0b1000_0000
	faceDownBit = 0b0100_0000
	valueMask   = 0b0011_1111
)

// Card is a single playing card packed into one byte.
type Card uint8

// Hidden is the sentinel substituted for any face-down card before it is sent
// to a client. It is not a valid card encoding itself.
const Hidden Card = faceDownBit

// Numeric builds a rank-and-suit card, face up.
func Numeric(r Rank, s Suit) Card {
	return Card(uint8(r)<<2 | uint8(s))
}

// Special builds a joker, face up.
func Special(j Joker) Card {
	return Card(specialBit | uint8(j))
}

// FromByte validates an encoded byte and returns it as a Card. The face-down
// bit is ignored for validation, so face-down encodings of valid cards pass.
func FromByte(b byte) (Card, error) {
	c := Card(b)
	if c.IsSpecial() {
		if b&valueMask > uint8(JokerRed) {
			return 0, fmt.Errorf("invalid special card encoding %#02x", b)
		}
		return c, nil
	}
	r := Rank(b & valueMask >> 2)
	if r < Ace || r > King {
		return 0, fmt.Errorf("invalid card encoding %#02x", b)
	}
	return c, nil
}

// IsSpecial reports whether the card is a joker.
func (c Card) IsSpecial() bool { return c&specialBit != 0 }

// IsNumeric reports whether the card has a rank and suit.
func (c Card) IsNumeric() bool { return c&specialBit == 0 }

// IsFaceDown reports whether the card is turned over.
func (c Card) IsFaceDown() bool { return c&faceDownBit != 0 }

// Rank returns the card's rank. ok is false for jokers.
func (c Card) Rank() (Rank, bool) {
	if c.IsSpecial() {
		return 0, false
	}
	return Rank(c & valueMask >> 2), true
}

// Suit returns the card's suit. ok is false for jokers.
func (c Card) Suit() (Suit, bool) {
	if c.IsSpecial() {
		return 0, false
	}
	return Suit(c & 0b11), true
}

// Kind returns the joker kind. ok is false for numeric cards.
func (c Card) Kind() (Joker, bool) {
	if c.IsNumeric() {
		return 0, false
	}
	return Joker(c & valueMask), true
}

// FaceDown returns the card turned face down.
func (c Card) FaceDown() Card { return c | faceDownBit }

// FaceUp returns the card turned face up.
func (c Card) FaceUp() Card { return c &^ faceDownBit }

// Flipped returns the card with its face-down bit toggled.
func (c Card) Flipped() Card { return c ^ faceDownBit }

// Masked returns the card as it may be shown to clients: the Hidden sentinel
// if the card is face down, the card itself otherwise.
func (c Card) Masked() Card {
	if c.IsFaceDown() {
		return Hidden
	}
	return c
}

func (c Card) String() string {
	if c == Hidden {
		return "Hidden"
	}
	if kind, ok := c.Kind(); ok {
		return kind.String()
	}
	r, _ := c.Rank()
	s, _ := c.Suit()
	return fmt.Sprintf("%s of %s", r, s)
}

// MarshalJSON encodes the card as its raw byte value. Without this a []Card
// would serialize as base64 rather than an array of numbers.
func (c Card) MarshalJSON() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(c), 10), nil
}

// UnmarshalJSON decodes and validates a card byte. The Hidden sentinel is
// accepted so clients can echo state they were sent.
func (c *Card) UnmarshalJSON(data []byte) error {
	v, err := strconv.ParseUint(string(data), 10, 8)
	if err != nil {
		return fmt.Errorf("card must be a byte value: %w", err)
	}
	if Card(v) == Hidden {
		*c = Hidden
		return nil
	}
	parsed, err := FromByte(byte(v))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
