// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostapi serves the local session protocol: a Unix socket
// where host processes on this machine announce session lifecycle and
// receive observer input. The wire format is newline-delimited JSON
// with the same message shapes as the network host path, so a host
// behaves identically whichever surface it connects through.
//
// The socket itself is the authentication boundary: any process that
// can reach it is the machine owner, and its connections are
// registered under the daemon's configured owner user.
package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/clharman/afk-code/lib/jsonl"
	"github.com/clharman/afk-code/relay"
)

// Endpoint is the Unix socket server. One accepted connection is one
// host process for its lifetime; a host may announce many sessions
// over the same connection.
type Endpoint struct {
	socketPath string
	registry   *relay.Registry
	sessions   *relay.Sessions
	ownerUser  string
	logger     *slog.Logger

	// ready is closed once the socket is bound and accepting.
	ready chan struct{}

	// activeConnections tracks in-flight host connections for
	// graceful shutdown. Serve waits for all of them to finish.
	activeConnections sync.WaitGroup

	// mu guards conns and draining. Host connections live for the
	// host process lifetime, so shutdown must close them explicitly —
	// a read loop blocked on an open socket would otherwise stall the
	// drain forever.
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	draining bool
}

// NewEndpoint creates an endpoint that will listen on socketPath.
func NewEndpoint(socketPath string, registry *relay.Registry, sessions *relay.Sessions, ownerUser string, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		socketPath: socketPath,
		registry:   registry,
		sessions:   sessions,
		ownerUser:  ownerUser,
		logger:     logger,
		ready:      make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Ready returns a channel closed once the socket is accepting
// connections.
func (e *Endpoint) Ready() <-chan struct{} { return e.ready }

// Serve accepts host connections until ctx is cancelled, then stops
// accepting and waits for active connections to finish.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (e *Endpoint) Serve(ctx context.Context) error {
	if err := os.Remove(e.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", e.socketPath, err)
	}

	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", e.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(e.socketPath)
	}()

	// Unblock Accept when the context is cancelled, and close active
	// host connections so their read loops exit and the drain below
	// completes.
	go func() {
		<-ctx.Done()
		listener.Close()
		e.closeActiveConns()
	}()

	e.logger.Info("host endpoint listening", "path", e.socketPath)
	close(e.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			e.logger.Error("accept failed", "error", err)
			continue
		}

		if !e.trackConn(conn) {
			// Raced with shutdown; the drain already ran.
			conn.Close()
			continue
		}
		e.activeConnections.Add(1)
		go func() {
			defer e.activeConnections.Done()
			defer e.untrackConn(conn)
			e.handleConn(conn)
		}()
	}

	e.activeConnections.Wait()
	return nil
}

// trackConn records an accepted connection for shutdown. Returns false
// once draining has begun; such connections are closed, not served.
func (e *Endpoint) trackConn(conn net.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		return false
	}
	e.conns[conn] = struct{}{}
	return true
}

func (e *Endpoint) untrackConn(conn net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, conn)
}

// closeActiveConns closes every live host connection so blocked reads
// return. Called once, from the shutdown path.
func (e *Endpoint) closeActiveConns() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draining = true
	for conn := range e.conns {
		conn.Close()
	}
}

// hostSender frames registry→host messages onto the connection.
type hostSender struct {
	writer *jsonl.Writer
}

func (s hostSender) Send(message relay.ServerMessage) error {
	return s.writer.Encode(message)
}

// handleConn runs one host connection from accept to close. Local
// connections are implicitly authenticated as the owner user, so the
// connection registers immediately and session announcements are
// accepted from the first line.
func (e *Endpoint) handleConn(conn net.Conn) {
	defer conn.Close()

	hostConn := relay.NewConn(hostSender{writer: jsonl.NewWriter(conn)})
	e.registry.RegisterConnection(hostConn, e.ownerUser, relay.KindHost)
	e.logger.Info("host connected", "connection", hostConn.ID())

	reader := jsonl.NewReader(conn)
	for {
		line, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				e.logger.Warn("host connection read failed", "connection", hostConn.ID(), "error", err)
			}
			break
		}
		e.handleLine(hostConn, line)
	}

	// Connection close is the source of truth for host liveness:
	// every session this host announced ends now.
	e.sessions.Disconnect(hostConn)
	e.logger.Info("host disconnected", "connection", hostConn.ID())
}

// handleLine dispatches one complete inbound line. Malformed JSON and
// unknown types are dropped without closing the connection.
func (e *Endpoint) handleLine(hostConn *relay.Conn, line []byte) {
	var message relay.ClientMessage
	if err := json.Unmarshal(line, &message); err != nil {
		e.logger.Debug("dropping malformed host message", "error", err)
		return
	}

	switch message.Type {
	case relay.TypeSessionStart:
		if message.ID == "" {
			e.logger.Debug("dropping session_start without id")
			return
		}
		if !e.sessions.Start(hostConn, message) {
			e.logger.Warn("session registration failed", "session", message.ID)
		}

	case relay.TypeSessionEnd:
		// Only this connection's own sessions may be ended through it.
		owner, ok := e.registry.HostForSession(message.SessionID)
		if !ok || owner.ID() != hostConn.ID() {
			return
		}
		e.sessions.End(message.SessionID)

	default:
		e.logger.Debug("dropping unknown host message", "type", message.Type)
	}
}
