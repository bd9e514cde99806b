// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TokenValidator resolves a bearer token to a user ID. Implemented by
// lib/auth.Service; the relay depends only on validation.
type TokenValidator interface {
	ValidateToken(token string) (userID string, ok bool)
}

// writeTimeout bounds one WebSocket write so a stalled peer cannot
// pin a fan-out goroutine forever.
const writeTimeout = 10 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address is the TCP listen address (e.g., ":8787"). Required.
	Address string

	// Registry holds connection/session state. Required.
	Registry *Registry

	// Sessions drives session lifecycle and input routing. Required.
	Sessions *Sessions

	// Tokens validates bearer tokens presented in auth messages.
	// Required.
	Tokens TokenValidator

	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// ShutdownTimeout is the maximum time to wait for in-flight
	// requests during graceful shutdown. Defaults to 10 seconds.
	ShutdownTimeout time.Duration
}

// Server terminates the observer- and host-facing WebSocket paths and
// the health endpoint on one TCP listener. All connection state is
// delegated to the Registry; the server owns only sockets.
type Server struct {
	address         string
	registry        *Registry
	sessions        *Sessions
	tokens          TokenValidator
	logger          *slog.Logger
	shutdownTimeout time.Duration

	upgrader websocket.Upgrader

	// ready is closed once the listener is bound and accepting.
	ready chan struct{}

	// addr is the resolved listen address, valid after ready closes.
	addr net.Addr

	// mu guards active and draining. WebSocket connections are
	// hijacked, so http.Server shutdown never touches them; the server
	// closes them itself so their read loops exit.
	mu       sync.Mutex
	active   map[*websocket.Conn]struct{}
	draining bool
}

// NewServer creates a relay server. Call Serve to start it.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		panic("relay.Server: Address is required")
	}
	if config.Registry == nil || config.Sessions == nil || config.Tokens == nil {
		panic("relay.Server: Registry, Sessions, and Tokens are required")
	}
	if config.Logger == nil {
		panic("relay.Server: Logger is required")
	}
	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		address:         config.Address,
		registry:        config.Registry,
		sessions:        config.Sessions,
		tokens:          config.Tokens,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		upgrader: websocket.Upgrader{
			// Observers connect from app webviews and tools with
			// arbitrary Origin headers; the bearer token is the
			// authentication boundary, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ready:  make(chan struct{}),
		active: make(map[*websocket.Conn]struct{}),
	}
}

// Ready returns a channel closed once the listener is accepting
// connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound listen address. Valid after Ready.
func (s *Server) Addr() net.Addr { return s.addr }

// Serve binds the listener and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/client", s.handleObserver)
	mux.HandleFunc("/ws/host", s.handleHost)
	mux.HandleFunc("/health", s.handleHealth)
	server := &http.Server{Handler: mux}

	s.addr = listener.Addr()
	close(s.ready)
	s.logger.Info("relay listening", "address", s.addr.String())

	errs := make(chan error, 1)
	go func() { errs <- server.Serve(listener) }()

	select {
	case <-ctx.Done():
		// Hijacked WebSocket connections are invisible to the HTTP
		// server; close them directly so their read loops exit and
		// run the normal disconnect cascade.
		s.closeActive()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown incomplete, closing", "error", err)
		}
		server.Close()
		<-errs
		return nil
	case err := <-errs:
		return fmt.Errorf("relay server: %w", err)
	}
}

// handleHealth serves the shallow liveness payload: registry counts,
// no side effects.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload := struct {
		Status string `json:"status"`
		Stats
	}{Status: "ok", Stats: s.registry.Stats()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("writing health response", "error", err)
	}
}

func (s *Server) handleObserver(w http.ResponseWriter, r *http.Request) {
	s.handleUpgrade(w, r, KindObserver)
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	s.handleUpgrade(w, r, KindHost)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, kind Kind) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "kind", kind, "error", err)
		return
	}
	go s.serveConn(ws, kind)
}

// wsConn serializes writes to one WebSocket. gorilla/websocket does
// not support concurrent writers, so every write goes through the
// mutex.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) Send(message ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(message)
}

// serveConn runs one connection's read loop from accept to close.
// Until a valid auth message arrives, the only accepted message type
// is auth; anything else is silently ignored to tolerate benign
// reordering. Failed auth closes the connection without creating any
// registry entry.
func (s *Server) serveConn(ws *websocket.Conn, kind Kind) {
	defer ws.Close()

	if !s.track(ws) {
		// Raced with shutdown; active connections were already closed.
		return
	}
	defer s.untrack(ws)

	sender := &wsConn{ws: ws}
	conn := NewConn(sender)
	authenticated := false
	userID := ""

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var message ClientMessage
		if err := json.Unmarshal(data, &message); err != nil {
			// Protocol error: drop the message, keep the connection.
			s.logger.Debug("dropping malformed message", "connection", conn.ID(), "error", err)
			continue
		}

		if !authenticated {
			if message.Type != TypeAuth {
				continue
			}
			id, ok := s.tokens.ValidateToken(message.Token)
			if !ok {
				_ = sender.Send(ServerMessage{Type: TypeAuthError, Message: "invalid token"})
				return
			}
			userID = id
			authenticated = true
			s.registry.RegisterConnection(conn, userID, kind)
			s.logger.Info("connection authenticated",
				"connection", conn.ID(), "user", userID, "kind", kind)

			_ = sender.Send(ServerMessage{Type: TypeAuthOK})
			if kind == KindObserver {
				_ = sender.Send(ServerMessage{
					Type:     TypeSessionsList,
					Sessions: s.registry.SessionsForUser(userID),
				})
			}
			continue
		}

		s.dispatch(conn, kind, userID, message)
	}

	if authenticated {
		s.sessions.Disconnect(conn)
		s.logger.Info("connection closed", "connection", conn.ID(), "user", userID, "kind", kind)
	}
}

// track records a live WebSocket for shutdown. Returns false once
// draining has begun; such connections are dropped, not served.
func (s *Server) track(ws *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.active[ws] = struct{}{}
	return true
}

func (s *Server) untrack(ws *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, ws)
}

// closeActive closes every live WebSocket. Called once, from the
// shutdown path.
func (s *Server) closeActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = true
	for ws := range s.active {
		ws.Close()
	}
}

// dispatch routes one post-auth message. Unknown types are dropped
// without closing the connection.
func (s *Server) dispatch(conn *Conn, kind Kind, userID string, message ClientMessage) {
	switch kind {
	case KindObserver:
		s.dispatchObserver(conn, userID, message)
	case KindHost:
		s.dispatchHost(conn, message)
	}
}

func (s *Server) dispatchObserver(conn *Conn, userID string, message ClientMessage) {
	switch message.Type {
	case TypeListSessions:
		_ = conn.Send(ServerMessage{
			Type:     TypeSessionsList,
			Sessions: s.registry.SessionsForUser(userID),
		})

	case TypeSubscribe:
		if !s.registry.SubscribeToSession(conn, message.SessionID) {
			_ = conn.Send(ServerMessage{
				Type:    TypeError,
				Message: fmt.Sprintf("cannot subscribe to session %s", message.SessionID),
			})
		}

	case TypeUnsubscribe:
		s.registry.UnsubscribeFromSession(conn, message.SessionID)

	case TypeSendInput:
		owner, ok := s.registry.SessionOwner(message.SessionID)
		if !ok || owner != userID {
			_ = conn.Send(ServerMessage{
				Type:    TypeError,
				Message: fmt.Sprintf("cannot send input to session %s", message.SessionID),
			})
			return
		}
		if err := s.sessions.SendInput(message.SessionID, message.Text); err != nil {
			_ = conn.Send(ServerMessage{
				Type:    TypeError,
				Message: fmt.Sprintf("input to session %s failed: %v", message.SessionID, err),
			})
		}

	case TypeTrackSession:
		s.registry.TrackSession(userID, message.SessionID)

	case TypeUntrackSession:
		s.registry.UntrackSession(userID, message.SessionID)

	default:
		s.logger.Debug("dropping unknown observer message", "type", message.Type)
	}
}

func (s *Server) dispatchHost(conn *Conn, message ClientMessage) {
	switch message.Type {
	case TypeSessionStart:
		if !s.sessions.Start(conn, message) {
			_ = conn.Send(ServerMessage{
				Type:    TypeError,
				Message: fmt.Sprintf("cannot register session %s", message.ID),
			})
		}

	case TypeSessionEnd:
		// Only the hosting connection may end its own sessions.
		hostConn, ok := s.registry.HostForSession(message.SessionID)
		if !ok || hostConn.ID() != conn.ID() {
			return
		}
		s.sessions.End(message.SessionID)

	default:
		s.logger.Debug("dropping unknown host message", "type", message.Type)
	}
}
