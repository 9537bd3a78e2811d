package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"cardtable/internal/card"
	"cardtable/internal/protocol"
	"cardtable/internal/store"
)

type sentMsg struct {
	ConnID  string
	Payload []byte
}

// fakeChannel captures pushes instead of delivering them.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []sentMsg
	evicted []string
}

func (f *fakeChannel) Send(_ context.Context, connID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{ConnID: connID, Payload: payload})
	return nil
}

func (f *fakeChannel) Evict(_ context.Context, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, connID)
	return nil
}

func (f *fakeChannel) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.evicted = nil
}

// messages returns the decoded payloads sent to connID, filtered by type tag
// ("" matches all).
func (f *fakeChannel) messages(t *testing.T, connID, msgType string) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, m := range f.sent {
		if m.ConnID != connID {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal(m.Payload, &decoded); err != nil {
			t.Fatalf("undecodable payload %s: %v", m.Payload, err)
		}
		if msgType == "" || decoded["type"] == msgType {
			out = append(out, decoded)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *fakeChannel, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ch := &fakeChannel{}
	return NewEngine(st, ch, zerolog.Nop()), ch, st
}

func assertCode(t *testing.T, err error, code protocol.ErrorCode) {
	t.Helper()
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected protocol error %s, got %v", code, err)
	}
	if perr.Code != code {
		t.Fatalf("expected code %s, got %s", code, perr.Code)
	}
}

func standardGame(t *testing.T, e *Engine) *Game {
	t.Helper()
	g, err := e.Create(context.Background(), "alice", protocol.DeckConfig{Type: protocol.DeckStandard})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	return g
}

func customGame(t *testing.T, e *Engine, piles ...[]card.Card) *Game {
	t.Helper()
	g, err := e.Create(context.Background(), "alice", protocol.DeckConfig{
		Type:   protocol.DeckCustom,
		Stacks: piles,
	})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	return g
}

func join(t *testing.T, e *Engine, g *Game, playerID, connID string) {
	t.Helper()
	if err := e.Authorize(context.Background(), g, playerID); err != nil {
		t.Fatalf("authorize %s: %v", playerID, err)
	}
	if err := e.AddPlayer(context.Background(), g, playerID, connID); err != nil {
		t.Fatalf("add player %s: %v", playerID, err)
	}
}

func TestCreateStandardGame(t *testing.T) {
	e, _, st := newTestEngine(t)
	g := standardGame(t, e)

	if len(g.Stacks) != 1 {
		t.Fatalf("expected 1 stack, got %d", len(g.Stacks))
	}
	if len(g.Stacks[0].Cards) != 54 {
		t.Fatalf("expected 54 cards, got %d", len(g.Stacks[0].Cards))
	}
	for _, c := range g.Stacks[0].Cards {
		if !c.IsFaceDown() {
			t.Fatalf("standard deck card %v should be face down", c)
		}
	}
	if g.Owner != "alice" || !g.Authorized("alice") {
		t.Fatalf("owner not recorded: %+v", g)
	}

	stored, err := store.Get[Game](st, g.ID)
	if err != nil {
		t.Fatalf("game not persisted: %v", err)
	}
	if stored.ID != g.ID || len(stored.Stacks) != 1 {
		t.Fatalf("stored game mismatch: %+v", stored)
	}
}

func TestCreateUnknownDeckType(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), "alice", protocol.DeckConfig{Type: "tarot"})
	assertCode(t, err, protocol.CodeInvalidRequest)
}

func TestCreateCustomGameSkipsEmptyPiles(t *testing.T) {
	e, _, _ := newTestEngine(t)
	a := card.Numeric(card.Ace, card.Spades)
	k := card.Numeric(card.King, card.Hearts)
	g := customGame(t, e, []card.Card{a}, nil, []card.Card{k})

	// Empty piles never become stacks, and the survivors pack the grid.
	if len(g.Stacks) != 2 {
		t.Fatalf("expected 2 stacks, got %d", len(g.Stacks))
	}
	for _, st := range g.Stacks {
		if len(st.Cards) == 0 {
			t.Fatalf("empty stack persisted at %v", st.Position)
		}
	}
	if g.Stacks[0].Position != (protocol.Position{X: 0, Y: 0}) ||
		g.Stacks[1].Position != (protocol.Position{X: 1, Y: 0}) {
		t.Fatalf("grid positions: %v %v", g.Stacks[0].Position, g.Stacks[1].Position)
	}
}

func TestAddPlayer(t *testing.T) {
	e, ch, _ := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")

	if got := ch.messages(t, "conn-a", protocol.TypeGameState); len(got) != 1 {
		t.Fatalf("expected 1 game-state for joiner, got %d", len(got))
	}
	if got := ch.messages(t, "conn-a", protocol.TypePlayerState); len(got) != 1 {
		t.Fatalf("expected private player-state for joiner, got %d", len(got))
	}

	err := e.AddPlayer(context.Background(), g, "alice", "conn-a2")
	assertCode(t, err, protocol.CodeAlreadyInGame)
}

func TestTakeThenPutFaceDown(t *testing.T) {
	e, ch, st := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")
	stackID := g.Stacks[0].ID

	if err := e.TakeCard(context.Background(), g, stackID, "alice"); err != nil {
		t.Fatalf("take card: %v", err)
	}
	p, err := store.Get[Player](st, "alice")
	if err != nil {
		t.Fatalf("load player: %v", err)
	}
	if len(p.Hand) != 1 {
		t.Fatalf("expected 1 card in hand, got %d", len(p.Hand))
	}
	if len(g.Stacks[0].Cards) != 53 {
		t.Fatalf("expected 53 cards left, got %d", len(g.Stacks[0].Cards))
	}

	ch.reset()
	pos := protocol.Position{X: 5, Y: 5}
	if err := e.PutCard(context.Background(), g, "alice", 0, pos, true); err != nil {
		t.Fatalf("put card: %v", err)
	}
	if len(g.Stacks) != 2 {
		t.Fatalf("expected a new stack, got %d stacks", len(g.Stacks))
	}
	created := g.stackAt(pos, "")
	if created == nil {
		t.Fatal("no stack at (5,5)")
	}
	if len(created.Cards) != 1 {
		t.Fatalf("expected stack of 1 card, got %d", len(created.Cards))
	}
	if created.State().VisibleCard != card.Hidden {
		t.Fatalf("face-down card must be masked, got %v", created.State().VisibleCard)
	}
	p, _ = store.Get[Player](st, "alice")
	if len(p.Hand) != 0 {
		t.Fatalf("hand should be empty, got %d cards", len(p.Hand))
	}
}

func TestTakeCardErrors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")

	err := e.TakeCard(context.Background(), g, "no-such-stack", "alice")
	assertCode(t, err, protocol.CodeStackNotFound)

	err = e.TakeCard(context.Background(), g, g.Stacks[0].ID, "mallory")
	assertCode(t, err, protocol.CodePlayerNotFound)
}

func TestTakeLastCardRemovesStack(t *testing.T) {
	e, _, _ := newTestEngine(t)
	g := customGame(t, e, []card.Card{card.Numeric(card.Ace, card.Spades)})
	join(t, e, g, "alice", "conn-a")
	stackID := g.Stacks[0].ID

	if err := e.TakeCard(context.Background(), g, stackID, "alice"); err != nil {
		t.Fatalf("take card: %v", err)
	}
	if len(g.Stacks) != 0 {
		t.Fatalf("empty stack must be deleted, still have %d", len(g.Stacks))
	}
	err := e.TakeCard(context.Background(), g, stackID, "alice")
	assertCode(t, err, protocol.CodeStackNotFound)
}

func TestPutCardBadHandIndex(t *testing.T) {
	e, _, _ := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")

	err := e.PutCard(context.Background(), g, "alice", 0, protocol.Position{X: 1, Y: 1}, false)
	assertCode(t, err, protocol.CodeCardNotFound)
}

func TestFlipCardTogglesTopOnly(t *testing.T) {
	e, _, _ := newTestEngine(t)
	bottom := card.Numeric(card.Ace, card.Spades)
	top := card.Numeric(card.King, card.Hearts)
	g := customGame(t, e, []card.Card{bottom, top})
	join(t, e, g, "alice", "conn-a")
	st := g.Stacks[0]

	if err := e.FlipCard(context.Background(), g, st.ID); err != nil {
		t.Fatalf("flip card: %v", err)
	}
	if st.Cards[0] != bottom {
		t.Fatalf("bottom card changed: %v", st.Cards[0])
	}
	if st.Cards[1] != top.FaceDown() {
		t.Fatalf("top card not flipped: %v", st.Cards[1])
	}
}

func TestFlipStackReversesAndToggles(t *testing.T) {
	e, _, _ := newTestEngine(t)
	a := card.Numeric(card.Ace, card.Spades)
	b := card.Numeric(2, card.Hearts).FaceDown()
	c := card.Numeric(3, card.Clubs)
	g := customGame(t, e, []card.Card{a, b, c})
	join(t, e, g, "alice", "conn-a")
	st := g.Stacks[0]

	if err := e.FlipStack(context.Background(), g, st.ID); err != nil {
		t.Fatalf("flip stack: %v", err)
	}
	want := []card.Card{c.FaceDown(), b.FaceUp(), a.FaceDown()}
	for i := range want {
		if st.Cards[i] != want[i] {
			t.Fatalf("card %d: want %v, got %v", i, want[i], st.Cards[i])
		}
	}
}

func cardMultiset(cards []card.Card) map[card.Card]int {
	m := make(map[card.Card]int)
	for _, c := range cards {
		m[c.FaceUp()]++
	}
	return m
}

func TestShuffleKeepsMultiset(t *testing.T) {
	e, _, _ := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")
	st := g.Stacks[0]
	before := cardMultiset(st.Cards)

	if err := e.ShuffleStack(context.Background(), g, st.ID); err != nil {
		t.Fatalf("shuffle: %v", err)
	}
	after := cardMultiset(st.Cards)
	if len(before) != len(after) {
		t.Fatalf("multiset changed: %d vs %d distinct cards", len(before), len(after))
	}
	for c, n := range before {
		if after[c] != n {
			t.Fatalf("card %v count changed: %d vs %d", c, n, after[c])
		}
	}
}

func TestMoveStackToEmptyPosition(t *testing.T) {
	e, _, _ := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")
	st := g.Stacks[0]

	pos := protocol.Position{X: 3, Y: 7}
	if err := e.MoveStack(context.Background(), g, st.ID, pos); err != nil {
		t.Fatalf("move stack: %v", err)
	}
	if st.Position != pos {
		t.Fatalf("expected position %v, got %v", pos, st.Position)
	}
	if len(g.Stacks) != 1 {
		t.Fatalf("stack count changed: %d", len(g.Stacks))
	}
}

func TestMoveStackMergesOntoOccupant(t *testing.T) {
	e, _, _ := newTestEngine(t)
	a := card.Numeric(card.Ace, card.Spades)
	b := card.Numeric(2, card.Hearts)
	c := card.Numeric(3, card.Clubs)
	g := customGame(t, e, []card.Card{a}, []card.Card{b, c})
	join(t, e, g, "alice", "conn-a")
	occupant, mover := g.Stacks[0], g.Stacks[1]

	if err := e.MoveStack(context.Background(), g, mover.ID, occupant.Position); err != nil {
		t.Fatalf("move stack: %v", err)
	}
	if len(g.Stacks) != 1 {
		t.Fatalf("expected merged single stack, got %d", len(g.Stacks))
	}
	if g.Stacks[0].ID != occupant.ID {
		t.Fatal("occupant must keep its identity")
	}
	if g.stack(mover.ID) != nil {
		t.Fatal("moving stack must cease to exist")
	}
	want := []card.Card{a, b, c}
	for i := range want {
		if occupant.Cards[i] != want[i] {
			t.Fatalf("card %d: want %v, got %v", i, want[i], occupant.Cards[i])
		}
	}
	// No two stacks may share a position.
	seen := make(map[protocol.Position]bool)
	for _, s := range g.Stacks {
		if seen[s.Position] {
			t.Fatalf("duplicate position %v", s.Position)
		}
		seen[s.Position] = true
	}
}

func TestMoveCardBetweenStacks(t *testing.T) {
	e, _, _ := newTestEngine(t)
	a := card.Numeric(card.Ace, card.Spades)
	b := card.Numeric(2, card.Hearts)
	g := customGame(t, e, []card.Card{a}, []card.Card{b})
	join(t, e, g, "alice", "conn-a")
	src, dst := g.Stacks[0], g.Stacks[1]

	if err := e.MoveCard(context.Background(), g, src.ID, dst.Position); err != nil {
		t.Fatalf("move card: %v", err)
	}
	if g.stack(src.ID) != nil {
		t.Fatal("emptied source stack must be deleted")
	}
	if len(dst.Cards) != 2 || dst.Cards[1] != a {
		t.Fatalf("destination stack wrong: %v", dst.Cards)
	}
}

func TestMoveCardToEmptyPositionCreatesStack(t *testing.T) {
	e, _, _ := newTestEngine(t)
	a := card.Numeric(card.Ace, card.Spades)
	b := card.Numeric(2, card.Hearts)
	g := customGame(t, e, []card.Card{a, b})
	join(t, e, g, "alice", "conn-a")
	src := g.Stacks[0]

	pos := protocol.Position{X: 2, Y: 2}
	if err := e.MoveCard(context.Background(), g, src.ID, pos); err != nil {
		t.Fatalf("move card: %v", err)
	}
	if len(g.Stacks) != 2 {
		t.Fatalf("expected 2 stacks, got %d", len(g.Stacks))
	}
	created := g.stackAt(pos, "")
	if created == nil || len(created.Cards) != 1 || created.Cards[0] != b {
		t.Fatalf("created stack wrong: %+v", created)
	}
}

func TestOwnerReassignedDeterministically(t *testing.T) {
	e, ch, _ := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")
	join(t, e, g, "carol", "conn-c")
	join(t, e, g, "bob", "conn-b")
	ch.reset()

	if err := e.RemovePlayer(context.Background(), g, "alice", false); err != nil {
		t.Fatalf("remove owner: %v", err)
	}
	if g.Owner != "bob" {
		t.Fatalf("expected smallest connected id bob as owner, got %s", g.Owner)
	}
	for _, conn := range []string{"conn-b", "conn-c"} {
		states := ch.messages(t, conn, protocol.TypeGameState)
		if len(states) != 1 {
			t.Fatalf("%s: expected 1 game-state, got %d", conn, len(states))
		}
		if states[0]["owner"] != "bob" {
			t.Fatalf("%s: broadcast owner %v", conn, states[0]["owner"])
		}
	}
}

func TestLastDisconnectDestroysGame(t *testing.T) {
	e, ch, st := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")
	join(t, e, g, "bob", "conn-b")

	if err := e.RemovePlayer(context.Background(), g, "bob", false); err != nil {
		t.Fatalf("remove bob: %v", err)
	}
	ch.reset()
	if err := e.RemovePlayer(context.Background(), g, "alice", false); err != nil {
		t.Fatalf("remove alice: %v", err)
	}

	if _, err := store.Get[Game](st, g.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("game record should be gone, got %v", err)
	}
	for _, pid := range []string{"alice", "bob"} {
		if _, err := store.Get[Player](st, pid); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("player %s record should be gone, got %v", pid, err)
		}
	}
	if len(ch.evicted) != 0 {
		// alice was already removed from Connected before destroy ran, and
		// bob disconnected earlier, so no live connections remain to evict.
		t.Fatalf("unexpected evictions: %v", ch.evicted)
	}
}

func TestDestroyEvictsAndNotifies(t *testing.T) {
	e, ch, _ := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")
	join(t, e, g, "bob", "conn-b")
	ch.reset()

	if err := e.Destroy(context.Background(), g); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	for _, conn := range []string{"conn-a", "conn-b"} {
		if got := ch.messages(t, conn, protocol.TypeCloseGame); len(got) != 1 {
			t.Fatalf("%s: expected close-game notice, got %d", conn, len(got))
		}
	}
	if len(ch.evicted) != 2 {
		t.Fatalf("expected both connections evicted, got %v", ch.evicted)
	}

	// Double destroy loses the claim and is a no-op.
	ch.reset()
	if err := e.Destroy(context.Background(), g); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if len(ch.sent) != 0 || len(ch.evicted) != 0 {
		t.Fatal("second destroy must not push or evict")
	}
}

func TestResetRebuildsStacksAndClearsHands(t *testing.T) {
	e, ch, st := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")
	join(t, e, g, "bob", "conn-b")

	if err := e.TakeCard(context.Background(), g, g.Stacks[0].ID, "alice"); err != nil {
		t.Fatalf("take card: %v", err)
	}
	// bob walks away holding nothing; disconnect him so reset drops his record.
	if err := e.RemovePlayer(context.Background(), g, "bob", false); err != nil {
		t.Fatalf("remove bob: %v", err)
	}
	ch.reset()

	if err := e.Reset(context.Background(), g); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(g.Stacks) != 1 || len(g.Stacks[0].Cards) != 54 {
		t.Fatalf("expected fresh 54-card stack, got %+v", g.Stacks)
	}
	p, err := store.Get[Player](st, "alice")
	if err != nil {
		t.Fatalf("alice record: %v", err)
	}
	if len(p.Hand) != 0 {
		t.Fatalf("alice's hand should be cleared, got %d cards", len(p.Hand))
	}
	if _, err := store.Get[Player](st, "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("bob's record should be deleted, got %v", err)
	}
	if got := ch.messages(t, "conn-a", protocol.TypePlayerState); len(got) != 1 {
		t.Fatalf("expected cleared hand push, got %d", len(got))
	}
}

func TestResetKeepsCardMultisetAndPositions(t *testing.T) {
	e, _, _ := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")

	if err := e.Reset(context.Background(), g); err != nil {
		t.Fatalf("first reset: %v", err)
	}
	first := cardMultiset(g.Stacks[0].Cards)
	firstPos := g.Stacks[0].Position

	if err := e.Reset(context.Background(), g); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	second := cardMultiset(g.Stacks[0].Cards)
	if g.Stacks[0].Position != firstPos {
		t.Fatalf("stack position changed across resets: %v vs %v", firstPos, g.Stacks[0].Position)
	}
	for c, n := range first {
		if second[c] != n {
			t.Fatalf("card %v count changed across resets: %d vs %d", c, n, second[c])
		}
	}
}

func TestDealDistributesInSortedOrder(t *testing.T) {
	e, _, st := newTestEngine(t)
	a := card.Numeric(card.Ace, card.Spades)
	b := card.Numeric(2, card.Hearts)
	c := card.Numeric(3, card.Clubs)
	g := customGame(t, e, []card.Card{a, b, c})
	join(t, e, g, "alice", "conn-a")
	join(t, e, g, "bob", "conn-b")

	if err := e.Deal(context.Background(), g, g.Stacks[0].ID); err != nil {
		t.Fatalf("deal: %v", err)
	}
	// Top card goes to the first player in sorted order.
	alice, _ := store.Get[Player](st, "alice")
	bob, _ := store.Get[Player](st, "bob")
	if len(alice.Hand) != 1 || alice.Hand[0] != c {
		t.Fatalf("alice should hold the top card %v, got %v", c, alice.Hand)
	}
	if len(bob.Hand) != 1 || bob.Hand[0] != b {
		t.Fatalf("bob should hold %v, got %v", b, bob.Hand)
	}
	if len(g.Stacks[0].Cards) != 1 {
		t.Fatalf("expected 1 card left, got %d", len(g.Stacks[0].Cards))
	}
}

func TestDealStopsWhenStackEmpties(t *testing.T) {
	e, _, st := newTestEngine(t)
	a := card.Numeric(card.Ace, card.Spades)
	g := customGame(t, e, []card.Card{a})
	join(t, e, g, "alice", "conn-a")
	join(t, e, g, "bob", "conn-b")
	stackID := g.Stacks[0].ID

	if err := e.Deal(context.Background(), g, stackID); err != nil {
		t.Fatalf("deal: %v", err)
	}
	if g.stack(stackID) != nil {
		t.Fatal("emptied stack must be deleted")
	}
	bob, _ := store.Get[Player](st, "bob")
	if len(bob.Hand) != 0 {
		t.Fatalf("bob should have received nothing, got %v", bob.Hand)
	}
}

func TestGiveCard(t *testing.T) {
	e, ch, st := newTestEngine(t)
	a := card.Numeric(card.Ace, card.Spades)
	g := customGame(t, e, []card.Card{a})
	join(t, e, g, "alice", "conn-a")
	join(t, e, g, "bob", "conn-b")

	if err := e.TakeCard(context.Background(), g, g.Stacks[0].ID, "alice"); err != nil {
		t.Fatalf("take card: %v", err)
	}
	ch.reset()
	if err := e.GiveCard(context.Background(), g, "alice", 0, "bob"); err != nil {
		t.Fatalf("give card: %v", err)
	}
	alice, _ := store.Get[Player](st, "alice")
	bob, _ := store.Get[Player](st, "bob")
	if len(alice.Hand) != 0 {
		t.Fatalf("alice should have given her card away, got %v", alice.Hand)
	}
	if len(bob.Hand) != 1 || bob.Hand[0] != a {
		t.Fatalf("bob should hold %v, got %v", a, bob.Hand)
	}
	// Both parties get a private hand update, nobody else gets anything.
	if got := ch.messages(t, "conn-a", protocol.TypePlayerState); len(got) != 1 {
		t.Fatalf("alice updates: %d", len(got))
	}
	if got := ch.messages(t, "conn-b", protocol.TypePlayerState); len(got) != 1 {
		t.Fatalf("bob updates: %d", len(got))
	}
	if got := ch.messages(t, "conn-a", protocol.TypeGameState); len(got) != 0 {
		t.Fatal("give-card must not broadcast game state")
	}

	err := e.GiveCard(context.Background(), g, "alice", 0, "nobody")
	assertCode(t, err, protocol.CodePlayerNotFound)
}

func TestGiveCardToSelfRejected(t *testing.T) {
	e, _, st := newTestEngine(t)
	a := card.Numeric(card.Ace, card.Spades)
	k := card.Numeric(card.King, card.Hearts)
	g := customGame(t, e, []card.Card{a, k})
	join(t, e, g, "alice", "conn-a")

	stackID := g.Stacks[0].ID
	for i := 0; i < 2; i++ {
		if err := e.TakeCard(context.Background(), g, stackID, "alice"); err != nil {
			t.Fatalf("take card: %v", err)
		}
	}

	err := e.GiveCard(context.Background(), g, "alice", 0, "alice")
	assertCode(t, err, protocol.CodeInvalidRequest)

	// The hand is untouched; a self-trade must never duplicate a card.
	alice, _ := store.Get[Player](st, "alice")
	if len(alice.Hand) != 2 {
		t.Fatalf("hand multiset changed: want 2 cards, got %d (%v)", len(alice.Hand), alice.Hand)
	}
	want := map[card.Card]int{a: 1, k: 1}
	for _, c := range alice.Hand {
		want[c]--
	}
	for c, n := range want {
		if n != 0 {
			t.Fatalf("hand multiset changed for %v: %v", c, alice.Hand)
		}
	}
}

func TestAddPlayerResetsRecordFromAnotherGame(t *testing.T) {
	e, _, st := newTestEngine(t)
	a := card.Numeric(card.Ace, card.Spades)
	first := customGame(t, e, []card.Card{a})
	join(t, e, first, "alice", "conn-1")
	if err := e.TakeCard(context.Background(), first, first.Stacks[0].ID, "alice"); err != nil {
		t.Fatalf("take card: %v", err)
	}

	second := standardGame(t, e)
	if err := e.AddPlayer(context.Background(), second, "alice", "conn-2"); err != nil {
		t.Fatalf("join second game: %v", err)
	}

	alice, err := store.Get[Player](st, "alice")
	if err != nil {
		t.Fatalf("load player: %v", err)
	}
	if alice.GameID != second.ID {
		t.Fatalf("player record still bound to old game %s, want %s", alice.GameID, second.ID)
	}
	if len(alice.Hand) != 0 {
		t.Fatalf("old game's hand followed the player: %v", alice.Hand)
	}
}

func TestHandPrivacy(t *testing.T) {
	e, ch, _ := newTestEngine(t)
	g := standardGame(t, e)
	join(t, e, g, "alice", "conn-a")
	join(t, e, g, "bob", "conn-b")
	ch.reset()

	if err := e.TakeCard(context.Background(), g, g.Stacks[0].ID, "alice"); err != nil {
		t.Fatalf("take card: %v", err)
	}
	// game-state broadcasts never carry hand contents.
	for _, conn := range []string{"conn-a", "conn-b"} {
		for _, msg := range ch.messages(t, conn, protocol.TypeGameState) {
			if _, ok := msg["hand"]; ok {
				t.Fatalf("game-state leaked a hand to %s", conn)
			}
		}
	}
	// The private hand goes only to the acting player's connection.
	if got := ch.messages(t, "conn-b", protocol.TypePlayerState); len(got) != 0 {
		t.Fatal("player-state sent to a non-owning connection")
	}
	if got := ch.messages(t, "conn-a", protocol.TypePlayerState); len(got) != 1 {
		t.Fatalf("expected private hand update for alice, got %d", len(got))
	}
}

func TestStandardStackTopIsMasked(t *testing.T) {
	e, _, _ := newTestEngine(t)
	g := standardGame(t, e)
	state := g.State()
	if len(state.Stacks) != 1 {
		t.Fatalf("expected 1 stack state, got %d", len(state.Stacks))
	}
	if state.Stacks[0].VisibleCard != card.Hidden {
		t.Fatalf("face-down top must be the hidden sentinel, got %v", state.Stacks[0].VisibleCard)
	}
	if state.Stacks[0].RemainingCards != 54 {
		t.Fatalf("expected 54 remaining, got %d", state.Stacks[0].RemainingCards)
	}
}
