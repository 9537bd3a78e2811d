// Package server is the thin HTTP + websocket transport in front of the
// session handler: auth endpoints, game creation and join, and the socket
// upgrade that feeds lifecycle events into the protocol.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cardtable/internal/auth"
	"cardtable/internal/game"
	"cardtable/internal/protocol"
	"cardtable/internal/push"
	"cardtable/internal/session"
	"cardtable/internal/store"
)

// Server is the HTTP server.
type Server struct {
	mux     *http.ServeMux
	store   *store.Store
	engine  *game.Engine
	handler *session.Handler
	hub     *push.Hub
	auth    *auth.Auth
	log     zerolog.Logger
}

// New creates a server with all routes.
func New(st *store.Store, engine *game.Engine, handler *session.Handler, hub *push.Hub, a *auth.Auth, log zerolog.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		store:   st,
		engine:  engine,
		handler: handler,
		hub:     hub,
		auth:    a,
		log:     log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/auth/guest", s.handleGuestLogin)
	s.mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/games", s.handleCreateGame)
	s.mux.HandleFunc("POST /api/games/{id}/join", s.handleJoinGame)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type authResponse struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

// handleGuestLogin mints a fresh player identity with an access/refresh
// token pair. There are no accounts; an identity lives as long as its
// refresh token chain.
func (s *Server) handleGuestLogin(w http.ResponseWriter, r *http.Request) {
	playerID := uuid.NewString()
	resp, err := s.issueTokens(playerID)
	if err != nil {
		s.log.Error().Err(err).Msg("guest login")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal service error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh rotates a refresh token. Tokens are single use: redeeming
// one deletes it, and the delete doubles as the validity check.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
		return
	}
	playerID, err := store.Delete[auth.RefreshToken](s.store, token)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("redeem refresh token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal service error"})
		return
	}
	resp, err := s.issueTokens(string(playerID))
	if err != nil {
		s.log.Error().Err(err).Msg("refresh")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal service error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) issueTokens(playerID string) (authResponse, error) {
	access, err := s.auth.IssueAccessToken(playerID)
	if err != nil {
		return authResponse{}, err
	}
	refresh := auth.NewRefreshToken()
	if err := store.Put(s.store, refresh, auth.RefreshToken(playerID)); err != nil {
		return authResponse{}, err
	}
	return authResponse{
		AccessToken:  access,
		ExpiresIn:    int64(auth.AccessTokenExpiry.Seconds()),
		RefreshToken: refresh,
	}, nil
}

type joinGameResponse struct {
	GameID string `json:"gameId"`
	Token  string `json:"token"`
}

// handleCreateGame creates a game owned by the caller and returns a
// game-scoped websocket token.
func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireAccessToken(w, r)
	if !ok {
		return
	}
	var cfg protocol.DeckConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	g, err := s.engine.Create(r.Context(), claims.Subject, cfg)
	if err != nil {
		s.writeProtocolError(w, err)
		return
	}
	token, err := s.auth.IssueGameToken(claims.Subject, g.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("issue game token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal service error"})
		return
	}
	writeJSON(w, http.StatusCreated, joinGameResponse{GameID: g.ID, Token: token})
}

// handleJoinGame authorizes the caller for an existing game and returns a
// game-scoped websocket token. Joining the table itself happens over the
// websocket with an explicit join-game action.
func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireAccessToken(w, r)
	if !ok {
		return
	}
	gameID := r.PathValue("id")
	g, err := store.Get[game.Game](s.store, gameID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "game not found"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("load game")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal service error"})
		return
	}
	if err := s.engine.Authorize(r.Context(), &g, claims.Subject); err != nil {
		s.writeProtocolError(w, err)
		return
	}
	token, err := s.auth.IssueGameToken(claims.Subject, g.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("issue game token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal service error"})
		return
	}
	writeJSON(w, http.StatusOK, joinGameResponse{GameID: g.ID, Token: token})
}

func (s *Server) requireAccessToken(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	token, ok := bearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
		return nil, false
	}
	claims, err := s.auth.Verify(token, auth.AudienceHTTP)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return nil, false
	}
	return claims, true
}

func (s *Server) writeProtocolError(w http.ResponseWriter, err error) {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		perr = protocol.ServiceError(err)
	}
	status := http.StatusBadRequest
	if perr.Code == protocol.CodeServiceError {
		s.log.Error().Err(perr).Msg("service error")
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": string(perr.Code), "message": perr.Message})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
