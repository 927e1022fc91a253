package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name:  "text frame",
			frame: Frame{Flags: FlagText, Username: []byte("alice"), Data: []byte("hi")},
		},
		{
			name:  "empty username and data",
			frame: Frame{Flags: FlagDisconnect, Username: []byte{}, Data: []byte{}},
		},
		{
			name:  "info frame",
			frame: Frame{Flags: FlagInfo, Username: []byte{}, Data: []byte("JOINED:bob")},
		},
		{
			name:  "multimedia frame",
			frame: Frame{Flags: FlagMultimedia, Username: []byte("carol"), Data: EncodeMultimedia("cat.png", []byte{0x89, 'P', 'N', 'G'})},
		},
		{
			name:  "max username",
			frame: Frame{Flags: FlagText, Username: bytes.Repeat([]byte("u"), MaxUsernameLen), Data: []byte("x")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.frame.Username, tt.frame.Data, tt.frame.Flags)
			assert.Len(t, encoded, HeaderSize+len(tt.frame.Username)+len(tt.frame.Data))
			assert.Equal(t, tt.frame.Size(), len(encoded))

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.frame.Flags, decoded.Flags)
			assert.Equal(t, tt.frame.Username, decoded.Username)
			assert.Equal(t, tt.frame.Data, decoded.Data)

			// Stream form must agree with the byte-slice form
			var buf bytes.Buffer
			require.NoError(t, EncodeFrame(&buf, &tt.frame))
			assert.Equal(t, encoded, buf.Bytes())

			streamed, err := DecodeFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.frame.Flags, streamed.Flags)
			assert.Equal(t, tt.frame.Username, streamed.Username)
			assert.Equal(t, tt.frame.Data, streamed.Data)
		})
	}
}

func TestEncodeHeaderLayout(t *testing.T) {
	encoded := Encode([]byte("bob"), []byte("hello"), FlagText)

	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(encoded[0:4]))
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(encoded[4:8]))
	assert.Equal(t, uint8(FlagText), encoded[8])
	assert.Equal(t, "bob", string(encoded[9:12]))
	assert.Equal(t, "hello", string(encoded[12:]))
}

func TestDecodeTruncated(t *testing.T) {
	encoded := Encode([]byte("alice"), []byte("hello world"), FlagText)

	t.Run("shorter than header", func(t *testing.T) {
		_, err := Decode(encoded[:HeaderSize-1])
		assert.ErrorIs(t, err, ErrFrameTruncated)
	})

	t.Run("empty buffer", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, ErrFrameTruncated)
	})

	t.Run("body missing bytes", func(t *testing.T) {
		_, err := Decode(encoded[:len(encoded)-1])
		assert.ErrorIs(t, err, ErrFrameTruncated)
	})

	t.Run("declared lengths exceed buffer", func(t *testing.T) {
		header := make([]byte, HeaderSize)
		binary.BigEndian.PutUint32(header[0:4], 0xFFFFFFFF)
		binary.BigEndian.PutUint32(header[4:8], 0xFFFFFFFF)
		_, err := Decode(header)
		assert.ErrorIs(t, err, ErrFrameTruncated)
	})

	t.Run("trailing bytes are ignored", func(t *testing.T) {
		withTail := append(append([]byte{}, encoded...), 0x01, 0x02)
		f, err := Decode(withTail)
		require.NoError(t, err)
		assert.Equal(t, "hello world", f.Text())
	})
}

func TestDecodeFrameErrors(t *testing.T) {
	t.Run("empty reader", func(t *testing.T) {
		_, err := DecodeFrame(bytes.NewReader(nil))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("oversized username", func(t *testing.T) {
		header := make([]byte, HeaderSize)
		binary.BigEndian.PutUint32(header[0:4], MaxUsernameLen+1)
		_, err := DecodeFrame(bytes.NewReader(header))
		require.ErrorIs(t, err, ErrFrameInvalid)

		var fe *FrameError
		require.True(t, errors.As(err, &fe))
		assert.True(t, fe.UsernameTooLong())
	})

	t.Run("oversized data", func(t *testing.T) {
		header := make([]byte, HeaderSize)
		binary.BigEndian.PutUint32(header[4:8], DefaultMaxDataLen+1)
		_, err := DecodeFrame(bytes.NewReader(header))
		assert.ErrorIs(t, err, ErrFrameInvalid)
	})

	t.Run("body cut short", func(t *testing.T) {
		encoded := Encode([]byte("alice"), []byte("hello"), FlagText)
		_, err := DecodeFrame(bytes.NewReader(encoded[:len(encoded)-2]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestDecoderReassembly(t *testing.T) {
	first := Encode([]byte("alice"), []byte("one"), FlagText)
	second := Encode([]byte("bob"), []byte("two"), FlagText)
	stream := append(append([]byte{}, first...), second...)

	d := NewDecoder(0)

	// Split in the middle of the second header
	split := len(first) + 4
	d.Write(stream[:split])

	f, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "alice", f.Sender())
	assert.Equal(t, "one", f.Text())

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrFrameTruncated)
	assert.Equal(t, 4, d.Buffered())

	d.Write(stream[split:])
	f, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, "bob", f.Sender())
	assert.Equal(t, "two", f.Text())

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrFrameTruncated)
	assert.Equal(t, 0, d.Buffered())
}

func TestDecoderRejectsOversizedHeaders(t *testing.T) {
	t.Run("username over limit", func(t *testing.T) {
		d := NewDecoder(0)
		header := make([]byte, HeaderSize)
		binary.BigEndian.PutUint32(header[0:4], MaxUsernameLen+1)
		d.Write(header)

		_, err := d.Next()
		assert.ErrorIs(t, err, ErrFrameInvalid)
	})

	t.Run("data over configured limit", func(t *testing.T) {
		d := NewDecoder(10)
		d.Write(Encode([]byte("a"), make([]byte, 11), FlagText))

		_, err := d.Next()
		assert.ErrorIs(t, err, ErrFrameInvalid)
	})

	t.Run("data at configured limit", func(t *testing.T) {
		d := NewDecoder(10)
		d.Write(Encode([]byte("a"), make([]byte, 10), FlagText))

		f, err := d.Next()
		require.NoError(t, err)
		assert.Len(t, f.Data, 10)
	})
}

func TestDecoderReset(t *testing.T) {
	d := NewDecoder(0)
	d.Write([]byte{0, 0, 0})
	d.Reset()
	assert.Equal(t, 0, d.Buffered())
}

func TestFlags(t *testing.T) {
	for _, f := range []uint8{FlagText, FlagMultimedia, FlagInfo, FlagDisconnect} {
		assert.True(t, ValidFlags(f), "flag 0x%02X", f)
		assert.NotEqual(t, "unknown", FlagName(f))
	}
	for _, f := range []uint8{0, FlagText | FlagInfo, 0x10, 0xFF} {
		assert.False(t, ValidFlags(f), "flag 0x%02X", f)
		assert.Equal(t, "unknown", FlagName(f))
	}
}

func TestInfoMessages(t *testing.T) {
	tests := []struct {
		name      string
		frame     *Frame
		wantKey   string
		wantValue string
	}{
		{"joined", JoinedFrame("alice"), InfoJoined, "alice"},
		{"left", LeftFrame("bob"), InfoLeft, "bob"},
		{"members", MembersFrame([]string{"alice", "bob"}), InfoMembers, "alice,bob"},
		{"empty members", MembersFrame(nil), InfoMembers, ""},
		{"kicked", KickedFrame(), InfoKicked, ""},
		{"server message with colon", ServerMsgFrame("restart at 10:00"), InfoServerMsg, "restart at 10:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, uint8(FlagInfo), tt.frame.Flags)
			assert.Empty(t, tt.frame.Username)

			key, value := ParseInfo(tt.frame.Data)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantValue, value)
		})
	}

	assert.Equal(t, []string{}, ParseMembers(""))
	assert.Equal(t, []string{"alice", "bob"}, ParseMembers("alice,bob"))
	assert.Equal(t, ReplyServerFull, ReplyFrame(ReplyServerFull).Text())
	assert.Equal(t, "dave", HandshakeFrame("dave").Sender())
	assert.Equal(t, uint8(FlagDisconnect), DisconnectFrame().Flags)
}

func TestMultimedia(t *testing.T) {
	content := []byte{0x00, 0x01, 0x02, 0xFF}
	data := EncodeMultimedia("song.mp3", content)

	name, got, err := DecodeMultimedia(data)
	require.NoError(t, err)
	assert.Equal(t, "song.mp3", name)
	assert.Equal(t, content, got)

	t.Run("empty filename and content", func(t *testing.T) {
		name, got, err := DecodeMultimedia(EncodeMultimedia("", nil))
		require.NoError(t, err)
		assert.Empty(t, name)
		assert.Empty(t, got)
	})

	t.Run("too short", func(t *testing.T) {
		_, _, err := DecodeMultimedia([]byte{0, 0})
		assert.ErrorIs(t, err, ErrInvalidMultimedia)
	})

	t.Run("filename length exceeds data", func(t *testing.T) {
		bad := []byte{0, 0, 0, 10, 'a', 'b'}
		_, _, err := DecodeMultimedia(bad)
		assert.ErrorIs(t, err, ErrInvalidMultimedia)
	})

	f := MultimediaFrame("alice", "a.png", content)
	assert.Equal(t, uint8(FlagMultimedia), f.Flags)
	assert.Equal(t, "alice", f.Sender())
}
