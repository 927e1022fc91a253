package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/kitchej/pychat/pkg/protocol"
)

// ErrClientDisconnecting is returned by frame handlers when the client asked to leave
var ErrClientDisconnecting = errors.New("client disconnecting")

// errHandshakeRejected ends a connection whose handshake reply has already been sent
var errHandshakeRejected = errors.New("handshake rejected")

// handleConnection owns one accepted connection from handshake to cleanup
func (s *Server) handleConnection(r *run, sess *Session) {
	defer r.wg.Done()
	defer s.closeSession(r, sess)

	if tcpConn, ok := sess.Conn.conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	s.logs.debug.Printf("Session %s: new %s connection from %s", sess.ID, sess.Transport, sess.RemoteAddr)

	dec := protocol.NewDecoder(s.config.MaxDataLength)
	buf := make([]byte, s.config.BufferSize)

	sess.setState(StateAwaitingUsername)
	if err := s.handshake(r, sess, dec, buf); err != nil {
		if !errors.Is(err, errHandshakeRejected) && !isClosedErr(err) {
			s.logs.debug.Printf("Session %s: handshake failed: %v", sess.ID, err)
		}
		return
	}

	s.messageLoop(r, sess, dec, buf)
}

// handshake reads the username frame, validates it and registers the session.
// Rejections are answered with an INFO reply before returning errHandshakeRejected.
func (s *Server) handshake(r *run, sess *Session, dec *protocol.Decoder, buf []byte) error {
	if s.config.HandshakeTimeout > 0 {
		sess.Conn.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout))
	}

	frame, err := readFrame(sess.Conn, dec, buf)
	if err != nil {
		var frameErr *protocol.FrameError
		if errors.As(err, &frameErr) && frameErr.UsernameTooLong() {
			return s.reject(sess, protocol.ReplyUsernameTooLong, "header_too_long")
		}
		return err
	}

	switch frame.Flags {
	case protocol.FlagInfo:
	case protocol.FlagDisconnect:
		return ErrClientDisconnecting
	default:
		s.metrics.RecordRejected("bad_handshake")
		return fmt.Errorf("expected INFO handshake, got %s frame", protocol.FlagName(frame.Flags))
	}

	// The name travels in the username field; older clients put it in the data section
	name := string(frame.Username)
	if name == "" {
		name = string(frame.Data)
	}

	if err := validateUsername(name, s.config.MaxUsernameLength); err != nil {
		if errors.Is(err, ErrNameTooLong) {
			return s.reject(sess, protocol.ReplyUsernameTooLong, "too_long")
		}
		return s.reject(sess, protocol.ReplyUsernameInvalid, "invalid")
	}

	sess.username = name
	if err := s.registry.Register(sess, s.config.MaxClients); err != nil {
		if errors.Is(err, ErrNameTaken) {
			return s.reject(sess, protocol.ReplyUsernameTaken, "taken")
		}
		return s.reject(sess, protocol.ReplyServerFull, "full")
	}
	s.metrics.SetActiveSessions(s.registry.Len())

	if s.config.HandshakeTimeout > 0 {
		sess.Conn.SetReadDeadline(time.Time{})
	}

	r.broadcaster.Admit(sess)
	s.logs.info.Printf("%s joined from %s (%s)", name, sess.RemoteAddr, sess.Transport)
	return nil
}

func (s *Server) reject(sess *Session, reply, reason string) error {
	s.metrics.RecordRejected(reason)
	s.logs.debug.Printf("Session %s: rejecting handshake from %s: %s", sess.ID, sess.RemoteAddr, reply)
	if err := sess.Conn.WriteFrame(protocol.ReplyFrame(reply)); err != nil {
		s.logs.debug.Printf("Session %s: failed to send %q: %v", sess.ID, reply, err)
	}
	return errHandshakeRejected
}

// validateUsername enforces the naming rules that don't depend on other sessions
func validateUsername(name string, maxLen int) error {
	if name == "" || strings.Contains(name, protocol.MemberSeparator) {
		return ErrNameInvalid
	}
	if maxLen > 0 && len(name) > maxLen {
		return ErrNameTooLong
	}
	return nil
}

// messageLoop relays frames from an admitted session until it disconnects or
// violates the protocol
func (s *Server) messageLoop(r *run, sess *Session, dec *protocol.Decoder, buf []byte) {
	for {
		frame, err := readFrame(sess.Conn, dec, buf)
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrFrameInvalid):
				s.logs.error.Printf("Session %s (%s): protocol violation, terminating: %v", sess.ID, sess.Username(), err)
			case errors.Is(err, io.EOF), isClosedErr(err):
				s.logs.debug.Printf("Session %s (%s): connection closed", sess.ID, sess.Username())
			default:
				s.logs.debug.Printf("Session %s (%s): read error: %v", sess.ID, sess.Username(), err)
			}
			return
		}

		s.logs.debug.Printf("Session %s ← RECV: Flags=0x%02X UsernameLen=%d DataLen=%d", sess.ID, frame.Flags, len(frame.Username), len(frame.Data))
		s.metrics.RecordFrameReceived(protocol.FlagName(frame.Flags))

		if err := s.handleFrame(r, sess, frame); err != nil {
			if errors.Is(err, ErrClientDisconnecting) {
				s.logs.debug.Printf("Session %s (%s) disconnected gracefully", sess.ID, sess.Username())
			} else {
				s.logs.error.Printf("Session %s (%s): terminating: %v", sess.ID, sess.Username(), err)
			}
			return
		}
	}
}

// handleFrame dispatches one frame from an admitted session
func (s *Server) handleFrame(r *run, sess *Session, frame *protocol.Frame) error {
	switch frame.Flags {
	case protocol.FlagText:
		s.relay(r, sess, frame)
		return nil
	case protocol.FlagMultimedia:
		if _, _, err := protocol.DecodeMultimedia(frame.Data); err != nil {
			return err
		}
		s.relay(r, sess, frame)
		return nil
	case protocol.FlagInfo:
		// Presence is server-generated; clients cannot announce it
		s.logs.debug.Printf("Session %s (%s): ignoring client INFO frame", sess.ID, sess.Username())
		return nil
	case protocol.FlagDisconnect:
		return ErrClientDisconnecting
	default:
		return fmt.Errorf("%w: unsupported flags 0x%02X", protocol.ErrFrameInvalid, frame.Flags)
	}
}

// relay rebroadcasts a chat frame stamped with the sender's registered name
func (s *Server) relay(r *run, sess *Session, frame *protocol.Frame) {
	data := protocol.Encode([]byte(sess.Username()), frame.Data, frame.Flags)
	exclude := sess
	if s.config.EchoToSender {
		exclude = nil
	}
	r.broadcaster.Broadcast(data, exclude, protocol.FlagName(frame.Flags))
}

// closeSession runs exactly once per connection, when its handler exits
func (s *Server) closeSession(r *run, sess *Session) {
	sess.Close()
	sess.setState(StateClosed)
	r.untrack(sess)

	if !sess.registered.Load() {
		return
	}
	s.registry.Unregister(sess)
	s.metrics.SetActiveSessions(s.registry.Len())

	select {
	case <-r.shutdown:
		// Everyone is being disconnected; no LEFT notifications
	default:
		r.broadcaster.Depart(sess)
		s.logs.info.Printf("%s left", sess.Username())
	}
}

// readFrame returns the next complete frame, reading more bytes as needed
func readFrame(conn *SafeConn, dec *protocol.Decoder, buf []byte) (*protocol.Frame, error) {
	for {
		frame, err := dec.Next()
		if err == nil {
			return frame, nil
		}
		if !errors.Is(err, protocol.ErrFrameTruncated) {
			return nil, err
		}

		n, err := conn.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
