package main

import (
	"crypto/rand"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"cardtable/internal/auth"
	"cardtable/internal/game"
	"cardtable/internal/push"
	"cardtable/internal/server"
	"cardtable/internal/session"
	"cardtable/internal/store"
)

func main() {
	godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}

	dbPath := "cards.db"
	if p := os.Getenv("DB_PATH"); p != "" {
		dbPath = p
	}

	secret := []byte(os.Getenv("JWT_SECRET"))
	if len(secret) == 0 {
		// Tokens will not survive a restart without a configured secret.
		secret = make([]byte, 32)
		rand.Read(secret)
		log.Warn().Msg("JWT_SECRET not set, using an ephemeral secret")
	}

	st, err := store.New(dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("open database")
	}
	defer st.Close()

	hub := push.NewHub()
	engine := game.NewEngine(st, hub, log)
	handler := session.NewHandler(st, hub, engine, log)
	a := auth.New(secret)

	srv := server.New(st, engine, handler, hub, a, log)

	log.Info().Str("addr", addr).Msg("listening")
	if err := http.ListenAndServe(addr, srv); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}
