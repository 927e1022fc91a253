package server

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle position of a session
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAwaitingUsername
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingUsername:
		return "AWAITING_USERNAME"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session represents one connected client. Only its handler goroutine reads from the
// connection or assigns the username; everything else goes through the Registry and
// the broadcaster.
type Session struct {
	ID          string    // Random ID for logs
	Conn        *SafeConn // Connection with automatic write synchronization
	RemoteAddr  string
	Transport   string // "tcp" or "websocket"
	ConnectedAt time.Time

	username   string // Set once during the handshake, before registration
	state      atomic.Int32
	registered atomic.Bool // Was added to the registry (LEFT is owed on close)
	admitted   atomic.Bool // MEMBERS sent; receives broadcasts from now on
}

// newSession wraps an accepted connection
func newSession(conn net.Conn, transport string, writeTimeout time.Duration) *Session {
	sess := &Session{
		ID:          uuid.NewString(),
		Conn:        NewSafeConn(conn, writeTimeout),
		RemoteAddr:  conn.RemoteAddr().String(),
		Transport:   transport,
		ConnectedAt: time.Now(),
	}
	sess.setState(StateConnecting)
	return sess
}

// Username returns the assigned username, empty before the handshake completes
func (s *Session) Username() string {
	return s.username
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

// Admitted reports whether the session has completed its handshake and is receiving broadcasts
func (s *Session) Admitted() bool {
	return s.admitted.Load()
}

// Close closes the session's connection. Safe to call from any goroutine, any number of times.
func (s *Session) Close() error {
	return s.Conn.Close()
}

// ClientInfo is a read-only view of a registered session
type ClientInfo struct {
	Username    string
	RemoteAddr  string
	Transport   string
	SessionID   string
	ConnectedAt time.Time
}

func (s *Session) info() ClientInfo {
	return ClientInfo{
		Username:    s.username,
		RemoteAddr:  s.RemoteAddr,
		Transport:   s.Transport,
		SessionID:   s.ID,
		ConnectedAt: s.ConnectedAt,
	}
}
