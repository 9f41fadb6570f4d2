package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ptz-panel/internal/panel"
	"ptz-panel/internal/settings"
)

const (
	defaultMessageRate  = 200
	defaultMessageBurst = 50
	shutdownTimeout     = 5 * time.Second
)

// Config for the server
type Config struct {
	ListenAddr     string
	StaticDir      string   // served at / when set
	AllowedOrigins []string // CORS; empty allows all
	MessageRate    float64  // inbound websocket messages per second
	MessageBurst   int
	Panel          panel.Config
}

// Server serves the control page and one websocket session per page.
type Server struct {
	cfg      Config
	factory  panel.DeviceFactory
	settings *settings.Manager
	log      *zap.Logger

	clients   map[*Client]bool
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
	handler   http.Handler

	// base is the parent context of every session.
	base   context.Context
	cancel context.CancelFunc
}

// New creates a new server instance
func New(cfg Config, factory panel.DeviceFactory, st *settings.Manager, log *zap.Logger) *Server {
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = defaultMessageRate
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = defaultMessageBurst
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		factory:  factory,
		settings: st,
		log:      log.Named("server"),
		clients:  make(map[*Client]bool),
		base:     base,
		cancel:   cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local use
			},
		},
	}
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/cameras", s.handleCameras)
	})
	r.Get("/ws", s.handleWebSocket)

	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return r
}

// Run serves on cfg.ListenAddr until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("listen", s.cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	s.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Stop closes every session
func (s *Server) Stop() {
	s.cancel()

	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.clientsMu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// ClientCount returns the number of open sessions
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) register(c *Client) {
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
}

func (s *Server) unregister(c *Client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

func (s *Server) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(s.cfg.MessageRate), s.cfg.MessageBurst)
}
