package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrInvalidMultimedia is returned when a MULTIMEDIA data section lacks a valid filename header
var ErrInvalidMultimedia = errors.New("invalid multimedia payload")

// EncodeMultimedia builds the data section of a MULTIMEDIA frame.
// Format: [Filename Len (4 bytes)][Filename][Content]
func EncodeMultimedia(filename string, content []byte) []byte {
	buf := make([]byte, 4+len(filename)+len(content))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(filename)))
	copy(buf[4:], filename)
	copy(buf[4+len(filename):], content)
	return buf
}

// DecodeMultimedia splits a MULTIMEDIA data section into filename and content
func DecodeMultimedia(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", nil, ErrInvalidMultimedia
	}
	nameLen := binary.BigEndian.Uint32(data[0:4])
	if uint64(nameLen) > uint64(len(data)-4) {
		return "", nil, ErrInvalidMultimedia
	}
	end := 4 + int(nameLen)
	return string(data[4:end]), data[end:], nil
}

// MultimediaFrame builds a MULTIMEDIA frame from a file name and its content
func MultimediaFrame(username, filename string, content []byte) *Frame {
	return &Frame{
		Flags:    FlagMultimedia,
		Username: []byte(username),
		Data:     EncodeMultimedia(filename, content),
	}
}

// TextFrame builds a TEXT frame
func TextFrame(username, text string) *Frame {
	return &Frame{
		Flags:    FlagText,
		Username: []byte(username),
		Data:     []byte(text),
	}
}
