// Package server exposes a game over WebSocket and a small read-only HTTP
// API.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/lox/throne/internal/journal"
	"github.com/lox/throne/internal/throne"
)

// EventStore serves past game events.
type EventStore interface {
	Events(ctx context.Context, q journal.Query) ([]throne.EventRecord, error)
}

// Collector takes a claimant's payment before the claim is applied and
// returns it when the game refuses the claim.
type Collector interface {
	Collect(ctx context.Context, from throne.Identity, amount uint64) error
	Refund(ctx context.Context, to throne.Identity, amount uint64) error
}

// Server represents the WebSocket server
type Server struct {
	addr        string
	game        *throne.Game
	events      EventStore
	collector   Collector
	ownerToken  string
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	logger      *log.Logger
	mu          sync.RWMutex
	stopped     bool
	active      sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.WithPrefix("server")
		}
	}
}

// WithEventStore enables the events endpoint.
func WithEventStore(store EventStore) Option {
	return func(s *Server) { s.events = store }
}

// WithCollector sets where claim payments are taken from. Without one every
// claim is refused.
func WithCollector(c Collector) Option {
	return func(s *Server) { s.collector = c }
}

// WithOwnerToken requires token from clients authenticating as the owner.
// Without one nobody can authenticate as the owner.
func WithOwnerToken(token string) Option {
	return func(s *Server) { s.ownerToken = token }
}

// NewServer creates a server for game and subscribes it to the game's
// events so they are broadcast to every authenticated connection.
func NewServer(addr string, game *throne.Game, opts ...Option) *Server {
	s := &Server{
		addr: addr,
		game: game,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]bool),
		logger:      log.NewWithOptions(io.Discard, log.Options{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	game.Subscribe(s)
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Get("/health", s.handleHealth)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/state", s.handleState)
			r.Get("/pending/{identity}", s.handlePending)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "addr", s.addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	s.Stop()
	s.logger.Info("Server stopped")
	return err
}

// Stop closes every open connection and waits for requests already being
// handled to finish. Connections arriving afterwards are refused.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	conns := make([]*Connection, 0, len(s.connections))
	for conn := range s.connections {
		conns = append(conns, conn)
	}
	s.connections = make(map[*Connection]bool)
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close() // Ignore close errors during shutdown
	}
	s.active.Wait()
}

func (s *Server) register(conn *Connection) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.connections[conn] = true
	s.active.Add(1)
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info("Client connected", "total", total)
	return true
}

func (s *Server) unregister(conn *Connection) {
	s.mu.Lock()
	_, ok := s.connections[conn]
	delete(s.connections, conn)
	total := len(s.connections)
	s.mu.Unlock()

	if ok {
		_ = conn.Close() // Ignore close errors during unregistration
		s.logger.Info("Client disconnected", "identity", conn.Identity(), "total", total)
	}
}

// handleWebSocket handles WebSocket upgrade requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, s, s.logger)
	if !s.register(client) {
		_ = client.Close()
		return
	}
	client.Start()

	go func() {
		<-client.ctx.Done()
		s.unregister(client)
	}()
}

// OnEvent implements throne.EventSubscriber by broadcasting the event.
func (s *Server) OnEvent(event throne.GameEvent) {
	msg, err := NewMessage(MessageType(event.EventType()), event.Record())
	if err != nil {
		s.logger.Error("Failed to create event message", "error", err)
		return
	}
	s.Broadcast(msg)
}

// Broadcast sends a message to every authenticated connection.
func (s *Server) Broadcast(msg *Message) {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for conn := range s.connections {
		if conn.Identity() != throne.None {
			conns = append(conns, conn)
		}
	}
	s.mu.RUnlock()

	count := 0
	for _, conn := range conns {
		if err := conn.SendMessage(msg); err != nil {
			s.logger.Debug("Failed to send message to client", "error", err, "identity", conn.Identity())
			continue
		}
		count++
	}

	s.logger.Debug("Broadcasted message", "type", msg.Type, "recipients", count)
}

// ConnectedIdentities returns the identities of authenticated connections.
func (s *Server) ConnectedIdentities() []throne.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []throne.Identity
	for conn := range s.connections {
		if id := conn.Identity(); id != throne.None {
			ids = append(ids, id)
		}
	}
	return ids
}

// authenticate decides whether a connection may act as id.
func (s *Server) authenticate(id throne.Identity, token string) error {
	if id == throne.None {
		return throne.ErrInvalidIdentity
	}
	if id != s.game.Owner() {
		return nil
	}
	if s.ownerToken == "" {
		return errOwnerAuthDisabled
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.ownerToken)) != 1 {
		return errInvalidOwnerToken
	}
	return nil
}

var (
	errInvalidOwnerToken = errors.New("server: invalid owner token")
	errOwnerAuthDisabled = errors.New("server: owner authentication is disabled")
)
