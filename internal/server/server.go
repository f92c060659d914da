package server

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/kments/marblerace-backend/internal/session"
	"github.com/kments/marblerace-backend/internal/ws"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port        int
	DatabaseURL string
	AppEnv      string
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() Config {
	// Missing .env just means the environment is already populated.
	_ = godotenv.Load()

	cfg := Config{
		Port:        8080,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AppEnv:      getenv("APP_ENV", "development"),
	}
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && port > 0 {
		cfg.Port = port
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Server owns the HTTP surface in front of the session manager and the
// websocket hub.
type Server struct {
	log     zerolog.Logger
	cfg     Config
	manager *session.Manager
	hub     *ws.Hub
}

func New(cfg Config, manager *session.Manager, hub *ws.Hub, log zerolog.Logger) *Server {
	return &Server{
		log:     log.With().Str("component", "server").Logger(),
		cfg:     cfg,
		manager: manager,
		hub:     hub,
	}
}

// HTTPServer builds the net/http server with sane timeouts. Websocket
// routes hold connections open, so no global write timeout.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:        fmt.Sprintf(":%d", s.cfg.Port),
		Handler:     s.RegisterRoutes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: time.Minute,
	}
}
