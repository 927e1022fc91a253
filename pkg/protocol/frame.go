package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the fixed frame header: username length (4) + data length (4) + flags (1)
	HeaderSize = 9

	// MaxUsernameLen is the largest username a frame may carry
	MaxUsernameLen = 256

	// DefaultMaxDataLen bounds the data section accepted by DecodeFrame and new Decoders (16 MB)
	DefaultMaxDataLen = 16 * 1024 * 1024
)

// Flag constants. Exactly one is set on a well-formed frame.
const (
	FlagText       = 0x01
	FlagMultimedia = 0x02
	FlagInfo       = 0x04
	FlagDisconnect = 0x08
)

var (
	// ErrFrameTruncated means more bytes are needed before a frame can be decoded.
	// It is not fatal for stream readers.
	ErrFrameTruncated = errors.New("frame truncated")

	// ErrFrameInvalid means the frame violates the protocol limits
	ErrFrameInvalid = errors.New("invalid frame")
)

// FrameError describes why a frame header was rejected. It unwraps to ErrFrameInvalid.
type FrameError struct {
	UsernameLen uint32
	DataLen     uint32
	Reason      string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("invalid frame: %s (username_len=%d, data_len=%d)", e.Reason, e.UsernameLen, e.DataLen)
}

func (e *FrameError) Unwrap() error {
	return ErrFrameInvalid
}

// UsernameTooLong reports whether the header was rejected for its username length
func (e *FrameError) UsernameTooLong() bool {
	return e.UsernameLen > MaxUsernameLen
}

// Frame represents a protocol frame
// Format: [Username Len (4 bytes)][Data Len (4 bytes)][Flags (1 byte)][Username][Data]
type Frame struct {
	Flags    uint8
	Username []byte
	Data     []byte
}

// Size returns the encoded size of the frame
func (f *Frame) Size() int {
	return HeaderSize + len(f.Username) + len(f.Data)
}

// Text returns the data section as a string
func (f *Frame) Text() string {
	return string(f.Data)
}

// Sender returns the username section as a string
func (f *Frame) Sender() string {
	return string(f.Username)
}

// ValidFlags reports whether exactly one known flag is set
func ValidFlags(flags uint8) bool {
	switch flags {
	case FlagText, FlagMultimedia, FlagInfo, FlagDisconnect:
		return true
	}
	return false
}

// FlagName returns a short label for a flags byte, used in logs and metric labels
func FlagName(flags uint8) string {
	switch flags {
	case FlagText:
		return "text"
	case FlagMultimedia:
		return "multimedia"
	case FlagInfo:
		return "info"
	case FlagDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Encode builds the wire form of a frame
func Encode(username, data []byte, flags uint8) []byte {
	buf := make([]byte, HeaderSize+len(username)+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(username)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(data)))
	buf[8] = flags
	copy(buf[HeaderSize:], username)
	copy(buf[HeaderSize+len(username):], data)
	return buf
}

// Bytes returns the wire form of the frame
func (f *Frame) Bytes() []byte {
	return Encode(f.Username, f.Data, f.Flags)
}

// EncodeFrame writes a frame to the writer
func EncodeFrame(w io.Writer, f *Frame) error {
	if _, err := w.Write(f.Bytes()); err != nil {
		return err
	}

	// Flush if the writer supports it (e.g., *bufio.Writer)
	type flusher interface {
		Flush() error
	}
	if fl, ok := w.(flusher); ok {
		return fl.Flush()
	}

	return nil
}

// parseHeader reads the two length fields and the flags byte
func parseHeader(buf []byte) (usernameLen, dataLen uint32, flags uint8) {
	return binary.BigEndian.Uint32(buf[0:4]), binary.BigEndian.Uint32(buf[4:8]), buf[8]
}

// checkHeader applies the protocol limits to a header
func checkHeader(usernameLen, dataLen uint32, maxDataLen uint32) error {
	if usernameLen > MaxUsernameLen {
		return &FrameError{UsernameLen: usernameLen, DataLen: dataLen, Reason: "username too long"}
	}
	if dataLen > maxDataLen {
		return &FrameError{UsernameLen: usernameLen, DataLen: dataLen, Reason: "data too large"}
	}
	return nil
}

// Decode decodes the frame at the start of buf. It is the exact inverse of Encode and
// applies no size policy. ErrFrameTruncated is returned when buf does not yet hold the
// whole frame.
func Decode(buf []byte) (*Frame, error) {
	f, _, err := decodeAt(buf)
	return f, err
}

// decodeAt decodes the first frame in buf and reports how many bytes it used
func decodeAt(buf []byte) (*Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrFrameTruncated
	}

	usernameLen, dataLen, flags := parseHeader(buf)
	total := uint64(HeaderSize) + uint64(usernameLen) + uint64(dataLen)
	if uint64(len(buf)) < total {
		return nil, 0, ErrFrameTruncated
	}

	userEnd := HeaderSize + int(usernameLen)
	end := int(total)

	f := &Frame{
		Flags:    flags,
		Username: append([]byte{}, buf[HeaderSize:userEnd]...),
		Data:     append([]byte{}, buf[userEnd:end]...),
	}
	return f, end, nil
}

// DecodeFrame reads one frame from the reader, blocking until it is complete.
// Headers exceeding MaxUsernameLen or DefaultMaxDataLen are rejected before the body is read.
func DecodeFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	usernameLen, dataLen, flags := parseHeader(header)
	if err := checkHeader(usernameLen, dataLen, DefaultMaxDataLen); err != nil {
		return nil, err
	}

	body := make([]byte, int(usernameLen)+int(dataLen))
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return &Frame{
		Flags:    flags,
		Username: body[:usernameLen],
		Data:     body[usernameLen:],
	}, nil
}
