package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bujinwang/agentops-abtest/internal/engine"
	"github.com/bujinwang/agentops-abtest/internal/store"
)

// Server wraps the engine in a small HTTP surface: public assignment
// and beacon endpoints for the delivery layer, token-protected admin
// endpoints for test management.
type Server struct {
	engine    *engine.Engine
	store     store.Store
	port      int
	token     string
	tokenFile string
	router    *http.ServeMux
	log       *slog.Logger
	startTime time.Time
}

func New(eng *engine.Engine, s store.Store, port int, tokenFile string) *Server {
	srv := &Server{
		engine:    eng,
		store:     s,
		port:      port,
		token:     generateToken(),
		tokenFile: tokenFile,
		router:    http.NewServeMux(),
		log:       slog.Default(),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints used by the delivery/tracking layer
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/assign", s.handleAssign)
	s.router.HandleFunc("/b", s.handleBeacon)

	// Admin endpoints (protected)
	s.router.Handle("/api/tests", s.authMiddleware(http.HandlerFunc(s.handleTests)))
	s.router.Handle("/api/tests/", s.authMiddleware(http.HandlerFunc(s.handleTestDetail)))
	s.router.Handle("/api/cleanup", s.authMiddleware(http.HandlerFunc(s.handleCleanup)))
}

func (s *Server) Start() error {
	return s.StartWithOptions(true)
}

// StartQuiet starts the server without printing startup messages
func (s *Server) StartQuiet() error {
	return s.StartWithOptions(false)
}

func (s *Server) StartWithOptions(printMessages bool) error {
	// Write token to file for the token command
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.log.Warn("failed to write token file", "path", s.tokenFile, "error", err)
		}
	}

	addr := fmt.Sprintf(":%d", s.port)

	if printMessages {
		fmt.Println()
		fmt.Printf("abtest running on http://localhost:%d\n", s.port)
		fmt.Printf("Admin token: %s\n", s.token)
		fmt.Println()
		fmt.Println("Press Ctrl+C to stop")
	}

	s.log.Info("server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a simple token if crypto/rand fails
		return "a1b2c3d4e5f6a7b8"
	}
	return hex.EncodeToString(bytes)
}
