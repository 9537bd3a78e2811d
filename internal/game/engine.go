package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cardtable/internal/protocol"
	"cardtable/internal/push"
	"cardtable/internal/store"
)

// Engine owns every Game and Player mutation. Each operation is one
// read-modify-write unit: the caller loads the current Game record, the
// engine mutates it in memory, persists it and pushes the resulting state.
//
// Ordinary gameplay writes are blind overwrites; two concurrent actions on
// the same game can lose one update. That trade-off is accepted for a card
// table (players can always resync); only teardown uses an atomic claim via
// store.Delete.
type Engine struct {
	store *store.Store
	push  push.Channel
	log   zerolog.Logger
}

// NewEngine creates an engine over the given store and push channel.
func NewEngine(st *store.Store, ch push.Channel, log zerolog.Logger) *Engine {
	return &Engine{store: st, push: ch, log: log}
}

// Create makes a new game owned by ownerID with freshly built stacks. The
// owner is authorized but not yet connected; they join over the websocket.
func (e *Engine) Create(ctx context.Context, ownerID string, cfg protocol.DeckConfig) (*Game, error) {
	if cfg.Type != protocol.DeckStandard && cfg.Type != protocol.DeckCustom {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "unknown deck type %q", cfg.Type)
	}
	g := &Game{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().Unix(),
		Owner:     ownerID,
		Players:   []string{ownerID},
		Connected: make(map[string]string),
		Deck:      cfg,
		Stacks:    BuildStacks(cfg),
	}
	if err := store.Put(e.store, g.ID, *g); err != nil {
		return nil, protocol.ServiceError(err)
	}
	e.log.Info().Str("game", g.ID).Str("owner", ownerID).Msg("game created")
	return g, nil
}

// Authorize grants playerID permission to join the game. The authorized set
// only grows.
func (e *Engine) Authorize(ctx context.Context, g *Game, playerID string) error {
	if g.Authorized(playerID) {
		return nil
	}
	g.Players = append(g.Players, playerID)
	if err := store.Put(e.store, g.ID, *g); err != nil {
		return protocol.ServiceError(err)
	}
	return nil
}

// AddPlayer connects playerID to the game: creates or reuses their Player
// record, installs the live connection, broadcasts the new roster and sends
// the joining connection its private hand.
func (e *Engine) AddPlayer(ctx context.Context, g *Game, playerID, connID string) error {
	if _, ok := g.Connected[playerID]; ok {
		return protocol.Errorf(protocol.CodeAlreadyInGame, "player already in game")
	}

	p, err := store.Get[Player](e.store, playerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p = Player{PlayerID: playerID, GameID: g.ID}
		if err := store.Put(e.store, playerID, p); err != nil {
			return protocol.ServiceError(err)
		}
	case err != nil:
		return protocol.ServiceError(err)
	case p.GameID != g.ID:
		// A record left over from another game; its hand must not follow the
		// player to this table.
		p = Player{PlayerID: playerID, GameID: g.ID}
		if err := store.Put(e.store, playerID, p); err != nil {
			return protocol.ServiceError(err)
		}
	}

	g.Connected[playerID] = connID
	g.reassignOwner()
	if err := store.Put(e.store, g.ID, *g); err != nil {
		return protocol.ServiceError(err)
	}

	e.broadcast(ctx, g, g.State())
	e.send(ctx, connID, protocol.NewPlayerState(g.ID, p.Hand))
	return nil
}

// RemovePlayer drops playerID's live connection from the game. The Player
// record survives for reconnects unless permanent is set. Destroys the game
// when the last connected player leaves, and reassigns ownership when the
// owner does.
func (e *Engine) RemovePlayer(ctx context.Context, g *Game, playerID string, permanent bool) error {
	if _, ok := g.Connected[playerID]; !ok {
		return protocol.Errorf(protocol.CodeNotInGame, "player not in game")
	}
	delete(g.Connected, playerID)

	if permanent {
		if _, err := store.Delete[Player](e.store, playerID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return protocol.ServiceError(err)
		}
	}

	if len(g.Connected) == 0 {
		return e.Destroy(ctx, g)
	}

	g.reassignOwner()
	if err := store.Put(e.store, g.ID, *g); err != nil {
		return protocol.ServiceError(err)
	}
	e.broadcast(ctx, g, g.State())
	return nil
}

// Destroy tears the game down: deletes the Game record and every authorized
// player's record, notifies the remaining connections and evicts them. The
// Game delete doubles as an atomic claim, so a concurrent double-destroy is
// a no-op for the loser.
func (e *Engine) Destroy(ctx context.Context, g *Game) error {
	if _, err := store.Delete[Game](e.store, g.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return protocol.ServiceError(err)
	}
	for _, playerID := range g.Players {
		if _, err := store.Delete[Player](e.store, playerID); err != nil && !errors.Is(err, store.ErrNotFound) {
			e.log.Error().Err(err).Str("player", playerID).Msg("delete player record")
		}
	}

	e.broadcast(ctx, g, protocol.CloseGame())
	for _, connID := range g.Connected {
		if err := e.push.Evict(ctx, connID); err != nil && !errors.Is(err, push.ErrConnectionGone) {
			e.log.Warn().Err(err).Str("conn", connID).Msg("evict connection")
		}
	}
	e.log.Info().Str("game", g.ID).Msg("game destroyed")
	return nil
}

// TakeCard pops the top card of a stack into the acting player's hand.
func (e *Engine) TakeCard(ctx context.Context, g *Game, stackID, playerID string) error {
	st := g.stack(stackID)
	if st == nil {
		return protocol.Errorf(protocol.CodeStackNotFound, "no stack %s", stackID)
	}
	c, ok := st.pop()
	if !ok {
		return protocol.Errorf(protocol.CodeEmptyStack, "stack %s is empty", stackID)
	}
	if len(st.Cards) == 0 {
		g.removeStack(stackID)
	}

	p, err := e.loadPlayer(playerID)
	if err != nil {
		return err
	}
	p.Hand = append(p.Hand, c)

	if err := e.persist(g, &p); err != nil {
		return err
	}
	e.broadcast(ctx, g, g.State())
	e.sendHand(ctx, g, p)
	return nil
}

// PutCard moves the card at handIndex from the player's hand onto the stack
// at position, creating the stack if the position is empty. The card is
// turned to the requested orientation. Hand indices are not stable across
// calls; removal swaps the last card into the gap.
func (e *Engine) PutCard(ctx context.Context, g *Game, playerID string, handIndex int, pos protocol.Position, faceDown bool) error {
	p, err := e.loadPlayer(playerID)
	if err != nil {
		return err
	}
	c, ok := p.removeFromHand(handIndex)
	if !ok {
		return protocol.Errorf(protocol.CodeCardNotFound, "no card at hand index %d", handIndex)
	}
	if faceDown {
		c = c.FaceDown()
	} else {
		c = c.FaceUp()
	}

	if target := g.stackAt(pos, ""); target != nil {
		target.push(c)
	} else {
		ns := &Stack{ID: uuid.NewString(), Position: pos}
		ns.push(c)
		g.Stacks = append(g.Stacks, ns)
	}

	if err := e.persist(g, &p); err != nil {
		return err
	}
	e.broadcast(ctx, g, g.State())
	e.sendHand(ctx, g, p)
	return nil
}

// FlipCard toggles the face-down bit of the stack's top card only.
func (e *Engine) FlipCard(ctx context.Context, g *Game, stackID string) error {
	st := g.stack(stackID)
	if st == nil {
		return protocol.Errorf(protocol.CodeStackNotFound, "no stack %s", stackID)
	}
	if len(st.Cards) == 0 {
		return protocol.Errorf(protocol.CodeEmptyStack, "stack %s is empty", stackID)
	}
	top := len(st.Cards) - 1
	st.Cards[top] = st.Cards[top].Flipped()

	if err := e.persist(g, nil); err != nil {
		return err
	}
	e.broadcast(ctx, g, g.State())
	return nil
}

// FlipStack turns the whole pile over: card order reverses and every card's
// face-down bit toggles, exposing what was the bottom.
func (e *Engine) FlipStack(ctx context.Context, g *Game, stackID string) error {
	st := g.stack(stackID)
	if st == nil {
		return protocol.Errorf(protocol.CodeStackNotFound, "no stack %s", stackID)
	}
	if len(st.Cards) == 0 {
		return protocol.Errorf(protocol.CodeEmptyStack, "stack %s is empty", stackID)
	}
	slices.Reverse(st.Cards)
	for i := range st.Cards {
		st.Cards[i] = st.Cards[i].Flipped()
	}

	if err := e.persist(g, nil); err != nil {
		return err
	}
	e.broadcast(ctx, g, g.State())
	return nil
}

// ShuffleStack applies a uniform random permutation to the stack in place.
func (e *Engine) ShuffleStack(ctx context.Context, g *Game, stackID string) error {
	st := g.stack(stackID)
	if st == nil {
		return protocol.Errorf(protocol.CodeStackNotFound, "no stack %s", stackID)
	}
	rand.Shuffle(len(st.Cards), func(i, j int) {
		st.Cards[i], st.Cards[j] = st.Cards[j], st.Cards[i]
	})

	if err := e.persist(g, nil); err != nil {
		return err
	}
	e.broadcast(ctx, g, g.State())
	return nil
}

// MoveStack relocates a stack. Moving onto an occupied position merges the
// moving stack's cards onto the occupant, which keeps its identity; the
// moving stack ceases to exist.
func (e *Engine) MoveStack(ctx context.Context, g *Game, stackID string, pos protocol.Position) error {
	st := g.stack(stackID)
	if st == nil {
		return protocol.Errorf(protocol.CodeStackNotFound, "no stack %s", stackID)
	}
	if occupant := g.stackAt(pos, stackID); occupant != nil {
		occupant.Cards = append(occupant.Cards, st.Cards...)
		g.removeStack(stackID)
	} else {
		st.Position = pos
	}

	if err := e.persist(g, nil); err != nil {
		return err
	}
	e.broadcast(ctx, g, g.State())
	return nil
}

// MoveCard moves the top card of a stack to position, entirely between
// stacks, without touching any hand.
func (e *Engine) MoveCard(ctx context.Context, g *Game, stackID string, pos protocol.Position) error {
	st := g.stack(stackID)
	if st == nil {
		return protocol.Errorf(protocol.CodeStackNotFound, "no stack %s", stackID)
	}
	c, ok := st.pop()
	if !ok {
		return protocol.Errorf(protocol.CodeEmptyStack, "stack %s is empty", stackID)
	}
	if len(st.Cards) == 0 {
		g.removeStack(stackID)
	}

	if target := g.stackAt(pos, ""); target != nil {
		target.push(c)
	} else {
		ns := &Stack{ID: uuid.NewString(), Position: pos}
		ns.push(c)
		g.Stacks = append(g.Stacks, ns)
	}

	if err := e.persist(g, nil); err != nil {
		return err
	}
	e.broadcast(ctx, g, g.State())
	return nil
}

// Deal pops one card off the stack into each connected player's hand,
// visiting players in sorted id order and stopping early if the stack runs
// out.
func (e *Engine) Deal(ctx context.Context, g *Game, stackID string) error {
	st := g.stack(stackID)
	if st == nil {
		return protocol.Errorf(protocol.CodeStackNotFound, "no stack %s", stackID)
	}
	if len(st.Cards) == 0 {
		return protocol.Errorf(protocol.CodeEmptyStack, "stack %s is empty", stackID)
	}

	dealt := make([]Player, 0, len(g.Connected))
	for _, playerID := range g.ConnectedIDs() {
		c, ok := st.pop()
		if !ok {
			break
		}
		p, err := e.loadPlayer(playerID)
		if err != nil {
			return err
		}
		p.Hand = append(p.Hand, c)
		if err := store.Put(e.store, p.PlayerID, p); err != nil {
			return protocol.ServiceError(err)
		}
		dealt = append(dealt, p)
	}
	if len(st.Cards) == 0 {
		g.removeStack(stackID)
	}

	if err := e.persist(g, nil); err != nil {
		return err
	}
	e.broadcast(ctx, g, g.State())
	for _, p := range dealt {
		e.sendHand(ctx, g, p)
	}
	return nil
}

// GiveCard hands the card at handIndex in fromID's hand to toID. Both hands
// stay private; only the two players see their updated state.
func (e *Engine) GiveCard(ctx context.Context, g *Game, fromID string, handIndex int, toID string) error {
	if toID == fromID {
		// Two copies of the same record would clobber each other's writes.
		return protocol.Errorf(protocol.CodeInvalidRequest, "cannot trade a card to yourself")
	}
	to, err := e.loadPlayer(toID)
	if err != nil {
		return err
	}
	if to.GameID != g.ID {
		return protocol.Errorf(protocol.CodePlayerNotFound, "player %s is not in this game", toID)
	}
	from, err := e.loadPlayer(fromID)
	if err != nil {
		return err
	}
	c, ok := from.removeFromHand(handIndex)
	if !ok {
		return protocol.Errorf(protocol.CodeCardNotFound, "no card at hand index %d", handIndex)
	}
	to.Hand = append(to.Hand, c)

	if err := store.Put(e.store, from.PlayerID, from); err != nil {
		return protocol.ServiceError(err)
	}
	if err := store.Put(e.store, to.PlayerID, to); err != nil {
		return protocol.ServiceError(err)
	}
	e.sendHand(ctx, g, from)
	e.sendHand(ctx, g, to)
	return nil
}

// Reset rebuilds the table from the game's original deck configuration with
// a fresh shuffle. Connected players keep their records but lose their
// hands; disconnected players' records are deleted outright.
func (e *Engine) Reset(ctx context.Context, g *Game) error {
	for _, playerID := range g.Players {
		if _, ok := g.Connected[playerID]; !ok {
			if _, err := store.Delete[Player](e.store, playerID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return protocol.ServiceError(err)
			}
			continue
		}
		p, err := e.loadPlayer(playerID)
		if err != nil {
			return err
		}
		p.Hand = nil
		if err := store.Put(e.store, p.PlayerID, p); err != nil {
			return protocol.ServiceError(err)
		}
		e.sendHand(ctx, g, p)
	}

	g.Stacks = BuildStacks(g.Deck)
	if err := e.persist(g, nil); err != nil {
		return err
	}
	e.broadcast(ctx, g, g.State())
	return nil
}

func (e *Engine) loadPlayer(playerID string) (Player, error) {
	p, err := store.Get[Player](e.store, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return p, protocol.Errorf(protocol.CodePlayerNotFound, "no player %s", playerID)
	}
	if err != nil {
		return p, protocol.ServiceError(err)
	}
	return p, nil
}

// persist writes the game and, when given, a player record. Not atomic: a
// concurrent action on the same game may clobber this write.
func (e *Engine) persist(g *Game, p *Player) error {
	if p != nil {
		if err := store.Put(e.store, p.PlayerID, *p); err != nil {
			return protocol.ServiceError(err)
		}
	}
	if err := store.Put(e.store, g.ID, *g); err != nil {
		return protocol.ServiceError(err)
	}
	return nil
}

func (e *Engine) send(ctx context.Context, connID string, v any) {
	if err := e.push.Send(ctx, connID, protocol.Marshal(v)); err != nil {
		// Best effort: the connection may have gone away mid-operation.
		e.log.Debug().Err(err).Str("conn", connID).Msg("push send failed")
	}
}

func (e *Engine) sendHand(ctx context.Context, g *Game, p Player) {
	connID, ok := g.Connected[p.PlayerID]
	if !ok {
		return
	}
	e.send(ctx, connID, protocol.NewPlayerState(g.ID, p.Hand))
}

func (e *Engine) broadcast(ctx context.Context, g *Game, v any) {
	payload := protocol.Marshal(v)
	for _, connID := range g.Connected {
		if err := e.push.Send(ctx, connID, payload); err != nil {
			e.log.Debug().Err(err).Str("conn", connID).Msg("push broadcast failed")
		}
	}
}
