package server

import (
	"net"
	"sync"
	"time"

	"github.com/kitchej/pychat/pkg/protocol"
)

// SafeConn wraps a net.Conn with write synchronization, an optional per-write
// deadline and an idempotent Close.
//
// The broadcaster and the handshake path may both write to one connection;
// without the mutex their frame bytes could interleave on the wire.
type SafeConn struct {
	conn         net.Conn
	mu           sync.Mutex // Protects writes to conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
	closed       chan struct{}
}

// NewSafeConn wraps a net.Conn with write synchronization. A zero writeTimeout
// lets writes block as long as the transport does.
func NewSafeConn(conn net.Conn, writeTimeout time.Duration) *SafeConn {
	return &SafeConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// WriteFrame encodes and sends a frame
func (sc *SafeConn) WriteFrame(frame *protocol.Frame) error {
	return sc.WriteBytes(frame.Bytes())
}

// WriteBytes writes raw bytes to the connection with synchronization.
// Used for pre-encoded frames in broadcast operations.
func (sc *SafeConn) WriteBytes(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.writeTimeout > 0 {
		if err := sc.conn.SetWriteDeadline(time.Now().Add(sc.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := sc.conn.Write(data)
	return err
}

// Read reads from the connection. Reads don't need write synchronization.
func (sc *SafeConn) Read(p []byte) (int, error) {
	return sc.conn.Read(p)
}

// SetReadDeadline sets the read deadline on the underlying connection
func (sc *SafeConn) SetReadDeadline(t time.Time) error {
	return sc.conn.SetReadDeadline(t)
}

// Close closes the underlying connection exactly once
func (sc *SafeConn) Close() error {
	sc.closeOnce.Do(func() {
		close(sc.closed)
		sc.closeErr = sc.conn.Close()
	})
	return sc.closeErr
}

// Closed is closed once Close has been called
func (sc *SafeConn) Closed() <-chan struct{} {
	return sc.closed
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
