// Package client is a small library for talking to a pychat server: it performs the
// username handshake and turns incoming frames into typed events.
package client

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kitchej/pychat/pkg/protocol"
	"github.com/kitchej/pychat/pkg/transport"
)

const (
	defaultTCPPort = "5000"
	defaultTimeout = 5 * time.Second
	readBufferSize = 4096
)

// Handshake rejections, one per server reply
var (
	ErrUsernameTaken   = errors.New("username taken")
	ErrUsernameTooLong = errors.New("username too long")
	ErrServerFull      = errors.New("server is full")
	ErrUsernameInvalid = errors.New("username invalid")
)

var (
	// ErrUnexpectedReply means the server answered the handshake with something unknown
	ErrUnexpectedReply = errors.New("unexpected handshake reply")
	// ErrTimeout is returned by ReceiveTimeout when nothing arrived in time
	ErrTimeout = errors.New("receive timed out")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("connection closed")
)

// Option customizes Dial
type Option func(*Connection)

// WithTimeout bounds connecting and the handshake (default 5s)
func WithTimeout(d time.Duration) Option {
	return func(c *Connection) {
		c.timeout = d
	}
}

// WithLogger sets a logger for debugging connection events
func WithLogger(logger *log.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// Connection is an admitted chat session
type Connection struct {
	addr      string
	transport string // "tcp" or "websocket"
	username  string
	members   []string
	conn      net.Conn
	timeout   time.Duration
	logger    *log.Logger

	writeMu sync.Mutex
	events  chan Event
	readErr error // Set before events is closed
	done    chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to addr and joins as username. addr is "host[:port]" for TCP or a
// ws:// URL for the WebSocket transport. Handshake rejections are returned as
// ErrUsernameTaken, ErrUsernameTooLong, ErrServerFull or ErrUsernameInvalid.
func Dial(addr, username string, opts ...Option) (*Connection, error) {
	c := &Connection{
		username: username,
		timeout:  defaultTimeout,
		events:   make(chan Event, 100),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, display, kind, err := dial(addr, c.timeout)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.addr = display
	c.transport = kind
	c.logf("Connected to %s via %s", display, kind)

	dec := protocol.NewDecoder(0)
	if err := c.handshake(dec); err != nil {
		conn.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop(dec)
	return c, nil
}

func dial(addr string, timeout time.Duration) (net.Conn, string, string, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return nil, "", "", errors.New("server address is empty")
	}

	if strings.HasPrefix(trimmed, "ws://") || strings.HasPrefix(trimmed, "wss://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, "", "", fmt.Errorf("invalid server address %q: %w", addr, err)
		}
		if u.Path == "" {
			u.Path = "/ws"
		}
		conn, err := transport.DialWebSocket(u.String(), timeout)
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to connect to %s: %w", u, err)
		}
		return conn, u.String(), "websocket", nil
	}

	hostPort := strings.TrimPrefix(trimmed, "tcp://")
	if _, _, err := net.SplitHostPort(hostPort); err != nil {
		hostPort = net.JoinHostPort(hostPort, defaultTCPPort)
	}
	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to connect to %s: %w", hostPort, err)
	}
	return conn, hostPort, "tcp", nil
}

// handshake sends the username and waits for MEMBERS or a rejection
func (c *Connection) handshake(dec *protocol.Decoder) error {
	if err := c.send(protocol.HandshakeFrame(c.username)); err != nil {
		return fmt.Errorf("failed to send username: %w", err)
	}

	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, readBufferSize)
	frame, err := readFrame(c.conn, dec, buf)
	if err != nil {
		return fmt.Errorf("failed to read handshake reply: %w", err)
	}
	if frame.Flags != protocol.FlagInfo {
		return fmt.Errorf("%w: %s frame", ErrUnexpectedReply, protocol.FlagName(frame.Flags))
	}

	switch reply := string(frame.Data); reply {
	case protocol.ReplyUsernameTaken:
		return ErrUsernameTaken
	case protocol.ReplyUsernameTooLong:
		return ErrUsernameTooLong
	case protocol.ReplyServerFull:
		return ErrServerFull
	case protocol.ReplyUsernameInvalid:
		return ErrUsernameInvalid
	default:
		key, value := protocol.ParseInfo(frame.Data)
		if key != protocol.InfoMembers {
			return fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
		}
		c.members = protocol.ParseMembers(value)
	}
	return nil
}

// readFrame returns the next complete frame, reading more bytes as needed
func readFrame(r io.Reader, dec *protocol.Decoder, buf []byte) (*protocol.Frame, error) {
	for {
		frame, err := dec.Next()
		if err == nil {
			return frame, nil
		}
		if !errors.Is(err, protocol.ErrFrameTruncated) {
			return nil, err
		}

		n, err := r.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// readLoop turns frames into events until the connection fails or closes
func (c *Connection) readLoop(dec *protocol.Decoder) {
	defer c.wg.Done()
	defer close(c.events)

	buf := make([]byte, readBufferSize)
	for {
		frame, err := readFrame(c.conn, dec, buf)
		if err != nil {
			select {
			case <-c.done:
				c.readErr = ErrClosed
			default:
				if errors.Is(err, io.EOF) {
					c.logf("Connection closed by server (EOF)")
					c.readErr = io.EOF
				} else {
					c.logf("Read error: %v", err)
					c.readErr = fmt.Errorf("read error: %w", err)
				}
			}
			return
		}

		c.logf("← RECV: Flags=0x%02X UsernameLen=%d DataLen=%d", frame.Flags, len(frame.Username), len(frame.Data))

		select {
		case c.events <- parseEvent(frame):
		case <-c.done:
			c.readErr = ErrClosed
			return
		}
	}
}

func (c *Connection) send(frame *protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(frame.Bytes())
	return err
}

// SendText sends a chat message
func (c *Connection) SendText(text string) error {
	return c.send(protocol.TextFrame(c.username, text))
}

// SendMultimedia sends a file
func (c *Connection) SendMultimedia(filename string, content []byte) error {
	return c.send(protocol.MultimediaFrame(c.username, filename, content))
}

// Receive blocks until the next event. After the connection ends it returns io.EOF
// (server closed), ErrClosed (Close was called) or the read error.
func (c *Connection) Receive() (Event, error) {
	ev, ok := <-c.events
	if !ok {
		return Event{}, c.readErr
	}
	return ev, nil
}

// ReceiveTimeout is Receive with a deadline; it returns ErrTimeout when nothing arrived
func (c *Connection) ReceiveTimeout(d time.Duration) (Event, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case ev, ok := <-c.events:
		if !ok {
			return Event{}, c.readErr
		}
		return ev, nil
	case <-timer.C:
		return Event{}, ErrTimeout
	}
}

// Events exposes the event stream. It is closed when the connection ends.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Members returns the users that were present when this connection joined
func (c *Connection) Members() []string {
	return append([]string{}, c.members...)
}

// Username returns the name this connection joined as
func (c *Connection) Username() string {
	return c.username
}

// Address returns the server address as dialed
func (c *Connection) Address() string {
	return c.addr
}

// Transport returns "tcp" or "websocket"
func (c *Connection) Transport() string {
	return c.transport
}

// Close tells the server we are leaving and closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if sendErr := c.send(protocol.DisconnectFrame()); sendErr != nil {
			c.logf("Failed to send DISCONNECT: %v", sendErr)
		}
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

// logf logs a message if a logger is set
func (c *Connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
