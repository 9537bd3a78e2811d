// Package auth issues and verifies the bearer tokens attached to every
// transport event: short-lived access tokens for the HTTP API, single-use
// refresh tokens, and game-scoped tokens for the websocket.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AudienceHTTP marks tokens for the HTTP API.
	AudienceHTTP = "cards"
	// AudienceWebsocket marks game-scoped tokens for the websocket.
	AudienceWebsocket = "websocket"

	// AccessTokenExpiry bounds HTTP tokens. Websocket tokens live longer:
	// expiry only matters for reconnecting after a dropped connection, a
	// fresh one is a join request away.
	AccessTokenExpiry    = time.Hour
	WebsocketTokenExpiry = 24 * time.Hour
)

// RefreshToken is the stored record mapping a refresh token to its player.
// Single use: redeeming one deletes it.
type RefreshToken string

func (RefreshToken) Prefix() string { return "refresh-token" }

// Claims carried by every token.
type Claims struct {
	jwt.RegisteredClaims
	GameID string `json:"gameId,omitempty"`
}

// Auth signs and verifies tokens with a shared secret.
type Auth struct {
	secret []byte
}

// New creates an Auth over the given signing secret.
func New(secret []byte) *Auth {
	return &Auth{secret: secret}
}

// IssueAccessToken mints an HTTP API token for a player.
func (a *Auth) IssueAccessToken(playerID string) (string, error) {
	return a.sign(playerID, AudienceHTTP, "", AccessTokenExpiry)
}

// IssueGameToken mints a websocket token scoping the player to one game.
func (a *Auth) IssueGameToken(playerID, gameID string) (string, error) {
	return a.sign(playerID, AudienceWebsocket, gameID, WebsocketTokenExpiry)
}

func (a *Auth) sign(playerID, audience, gameID string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		GameID: gameID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token's signature, expiry and audience and returns its
// claims.
func (a *Auth) Verify(tokenString, audience string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithAudience(audience), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &claims, nil
}

// NewRefreshToken returns a fresh random refresh token value.
func NewRefreshToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
