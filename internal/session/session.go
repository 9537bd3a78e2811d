// Package session interprets transport lifecycle events (connect,
// disconnect, message) against current state and drives the game engine.
// Every event is handled by a stateless invocation; the record store is the
// only state shared between them.
package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"cardtable/internal/game"
	"cardtable/internal/protocol"
	"cardtable/internal/push"
	"cardtable/internal/store"
)

// Connection is the registry entry mapping a player identity to its single
// live connection id.
type Connection string

func (Connection) Prefix() string { return "connection" }

// Identity is the authenticated (player, game) pair attached to every
// transport event by the auth collaborator.
type Identity struct {
	PlayerID string
	GameID   string
}

// Handler is the session protocol state machine.
type Handler struct {
	store  *store.Store
	push   push.Channel
	engine *game.Engine
	log    zerolog.Logger
}

// NewHandler creates a session handler.
func NewHandler(st *store.Store, ch push.Channel, engine *game.Engine, log zerolog.Logger) *Handler {
	return &Handler{store: st, push: ch, engine: engine, log: log}
}

// Connect registers a new connection for the identity. Any previous
// connection for the same player is evicted first, so a player is never
// addressable at two endpoints. The target game must still exist.
func (h *Handler) Connect(ctx context.Context, id Identity, connID string) error {
	if _, err := store.Get[game.Game](h.store, id.GameID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Errorf(protocol.CodeNonExistentGame, "no game %s", id.GameID)
		}
		return protocol.ServiceError(err)
	}

	if prev, err := store.Get[Connection](h.store, id.PlayerID); err == nil {
		// Best effort: if the eviction fails the stale socket just hangs,
		// nothing references its connection id anymore.
		if err := h.push.Evict(ctx, string(prev)); err != nil && !errors.Is(err, push.ErrConnectionGone) {
			h.log.Warn().Err(err).Str("conn", string(prev)).Msg("evict stale connection")
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return protocol.ServiceError(err)
	}

	if err := store.Put(h.store, id.PlayerID, Connection(connID)); err != nil {
		return protocol.ServiceError(err)
	}
	h.log.Info().Str("player", id.PlayerID).Str("conn", connID).Msg("connected")
	return nil
}

// Disconnect removes the registry entry and, if the player was an active
// participant, removes them from the game. The delete is conditional on the
// entry still naming this connection: a disconnect arriving after a newer
// connect must not tear down the newer connection.
func (h *Handler) Disconnect(ctx context.Context, id Identity, connID string) error {
	deleted, err := store.DeleteIf(h.store, id.PlayerID, Connection(connID))
	if err != nil {
		return protocol.ServiceError(err)
	}
	if !deleted {
		// A newer connection replaced this one; leave everything alone.
		return nil
	}

	g, err := store.Get[game.Game](h.store, id.GameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return protocol.ServiceError(err)
	}
	if _, ok := g.Connected[id.PlayerID]; !ok {
		return nil
	}
	h.log.Info().Str("player", id.PlayerID).Str("game", id.GameID).Msg("disconnected")
	return h.engine.RemovePlayer(ctx, &g, id.PlayerID, false)
}

// Message parses and dispatches one action. The returned payload, if any, is
// the direct reply for the acting connection; mutations answer through their
// own broadcasts instead. Errors are converted to error replies by the
// caller via Reply.
func (h *Handler) Message(ctx context.Context, id Identity, connID string, data []byte) ([]byte, error) {
	req, err := protocol.ParseRequest(data)
	if err != nil {
		return nil, err
	}

	if req.Action == protocol.ActionPing {
		return protocol.Marshal(protocol.Pong()), nil
	}

	g, err := store.Get[game.Game](h.store, id.GameID)
	if errors.Is(err, store.ErrNotFound) {
		// The client's session is terminally stale: tell it the game is
		// gone and drop the connection.
		if serr := h.push.Send(ctx, connID, protocol.Marshal(protocol.CloseGame())); serr != nil {
			h.log.Debug().Err(serr).Str("conn", connID).Msg("close-game push failed")
		}
		if serr := h.push.Evict(ctx, connID); serr != nil && !errors.Is(serr, push.ErrConnectionGone) {
			h.log.Warn().Err(serr).Str("conn", connID).Msg("evict stale session")
		}
		return nil, nil
	}
	if err != nil {
		return nil, protocol.ServiceError(err)
	}

	if req.Action == protocol.ActionJoinGame {
		if !g.Authorized(id.PlayerID) {
			return nil, protocol.Errorf(protocol.CodeNoPermission, "not authorized for this game")
		}
		// A seat still bound to an evicted connection is dead; the registry
		// holds one live connection per player and it is this one. Release
		// the stale seat so the reconnect can take it.
		if prev, ok := g.Connected[id.PlayerID]; ok && prev != connID {
			delete(g.Connected, id.PlayerID)
		}
		return nil, h.engine.AddPlayer(ctx, &g, id.PlayerID, connID)
	}

	// Everything below requires a live seat at the table.
	if g.Connected[id.PlayerID] != connID {
		return nil, protocol.Errorf(protocol.CodeNotInGame, "player not in game")
	}

	switch req.Action {
	case protocol.ActionTakeCard:
		return nil, h.engine.TakeCard(ctx, &g, req.Stack, id.PlayerID)
	case protocol.ActionPutCard:
		return nil, h.engine.PutCard(ctx, &g, id.PlayerID, *req.HandIndex, *req.Position, req.FaceDown)
	case protocol.ActionFlipCard:
		return nil, h.engine.FlipCard(ctx, &g, req.Stack)
	case protocol.ActionFlipStack:
		return nil, h.engine.FlipStack(ctx, &g, req.Stack)
	case protocol.ActionMoveCard:
		return nil, h.engine.MoveCard(ctx, &g, req.Stack, *req.Position)
	case protocol.ActionMoveStack:
		return nil, h.engine.MoveStack(ctx, &g, req.Stack, *req.Position)
	case protocol.ActionShuffle:
		return nil, h.engine.ShuffleStack(ctx, &g, req.Stack)
	case protocol.ActionDeal:
		return nil, h.engine.Deal(ctx, &g, req.Stack)
	case protocol.ActionGiveCard:
		return nil, h.engine.GiveCard(ctx, &g, id.PlayerID, *req.HandIndex, req.TradeTo)
	case protocol.ActionReset:
		if id.PlayerID != g.Owner {
			return nil, protocol.Errorf(protocol.CodeNoPermission, "only the owner can reset")
		}
		return nil, h.engine.Reset(ctx, &g)
	case protocol.ActionLeaveGame:
		if err := h.engine.RemovePlayer(ctx, &g, id.PlayerID, true); err != nil {
			return nil, err
		}
		return protocol.Marshal(protocol.Success()), nil
	}
	return nil, protocol.Errorf(protocol.CodeInvalidRequest, "unknown action %q", req.Action)
}

// Reply converts a Message error into the error payload for the acting
// connection. Service errors keep their cause in the log, not on the wire.
func (h *Handler) Reply(err error) []byte {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		perr = protocol.ServiceError(err)
	}
	if perr.Code == protocol.CodeServiceError {
		h.log.Error().Err(perr).Msg("service error")
	}
	return protocol.Marshal(protocol.NewErrorResponse(perr))
}
