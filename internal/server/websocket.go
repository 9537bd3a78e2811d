package server

import (
	"context"
	"net/http"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"nhooyr.io/websocket"

	"cardtable/internal/auth"
	"cardtable/internal/session"
)

// disconnectTimeout bounds the cleanup work after a socket goes away; the
// request context is already dead by then.
const disconnectTimeout = 10 * time.Second

// handleWebSocket upgrades the connection and translates the socket's
// lifecycle into the protocol's connect/disconnect/message events. The
// game-scoped token is passed as a query parameter because browsers cannot
// set headers on websocket dials.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.Verify(r.URL.Query().Get("token"), auth.AudienceWebsocket)
	if err != nil || claims.GameID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := session.Identity{PlayerID: claims.Subject, GameID: claims.GameID}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin for dev
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept")
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	connID := gonanoid.Must()
	conn := s.hub.Register(connID)

	if err := s.handler.Connect(ctx, id, connID); err != nil {
		s.hub.Unregister(connID)
		c.Close(websocket.StatusPolicyViolation, "connection rejected")
		return
	}

	// Writer: drain queued pushes into the socket, close on eviction.
	go func() {
		for {
			select {
			case msg := <-conn.Outbound():
				if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
					return
				}
			case <-conn.Done():
				c.Close(websocket.StatusPolicyViolation, "connection replaced")
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	// Reader: each inbound frame is one protocol event.
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		reply, err := s.handler.Message(ctx, id, connID, data)
		if err != nil {
			reply = s.handler.Reply(err)
		}
		if reply != nil {
			if err := s.hub.Send(ctx, connID, reply); err != nil {
				break
			}
		}
	}

	// The request context is canceled once the socket drops; cleanup gets
	// its own deadline.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := s.handler.Disconnect(cleanupCtx, id, connID); err != nil {
		s.log.Warn().Err(err).Str("player", id.PlayerID).Msg("disconnect cleanup")
	}
	s.hub.Unregister(connID)
}
