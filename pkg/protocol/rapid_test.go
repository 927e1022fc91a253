package protocol

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestFrameRoundTrip tests that any frame survives Encode followed by Decode
func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		flags := rapid.Byte().Draw(t, "flags")
		username := rapid.SliceOfN(rapid.Byte(), 0, 1024).Draw(t, "username")
		data := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "data")

		encoded := Encode(username, data, flags)
		if len(encoded) != HeaderSize+len(username)+len(data) {
			t.Fatalf("encoded length %d, want %d", len(encoded), HeaderSize+len(username)+len(data))
		}

		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Flags != flags {
			t.Fatalf("flags mismatch: got %d, want %d", decoded.Flags, flags)
		}
		if len(decoded.Username) != len(username) || !bytes.Equal(decoded.Username, username) {
			t.Fatalf("username mismatch")
		}
		if len(decoded.Data) != len(data) || !bytes.Equal(decoded.Data, data) {
			t.Fatalf("data mismatch")
		}
	})
}

// TestDecoderByteAtATime feeds a frame one byte at a time: every proper prefix must
// report truncation and the last byte must yield exactly one frame
func TestDecoderByteAtATime(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		flags := rapid.SampledFrom([]uint8{FlagText, FlagMultimedia, FlagInfo, FlagDisconnect}).Draw(t, "flags")
		username := rapid.SliceOfN(rapid.Byte(), 0, MaxUsernameLen).Draw(t, "username")
		data := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "data")

		encoded := Encode(username, data, flags)
		d := NewDecoder(0)

		for i, b := range encoded {
			d.Write([]byte{b})
			f, err := d.Next()

			if i < len(encoded)-1 {
				if err != ErrFrameTruncated {
					t.Fatalf("prefix %d: expected ErrFrameTruncated, got frame=%v err=%v", i+1, f, err)
				}
				continue
			}

			if err != nil {
				t.Fatalf("complete frame: unexpected error %v", err)
			}
			if f.Flags != flags || !bytes.Equal(f.Username, username) || !bytes.Equal(f.Data, data) {
				t.Fatalf("reassembled frame mismatch")
			}
		}

		if _, err := d.Next(); err != ErrFrameTruncated {
			t.Fatalf("expected no further frames, got err=%v", err)
		}
	})
}

// TestDecoderArbitraryChunks splits a stream of several frames at random points
func TestDecoderArbitraryChunks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 8).Draw(t, "count")

		var stream []byte
		var want []*Frame
		for i := 0; i < count; i++ {
			f := &Frame{
				Flags:    FlagText,
				Username: rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(t, "username"),
				Data:     rapid.SliceOfN(rapid.Byte(), 0, 128).Draw(t, "data"),
			}
			want = append(want, f)
			stream = append(stream, f.Bytes()...)
		}

		d := NewDecoder(0)
		var got []*Frame
		for len(stream) > 0 {
			n := rapid.IntRange(1, len(stream)).Draw(t, "chunk")
			d.Write(stream[:n])
			stream = stream[n:]

			for {
				f, err := d.Next()
				if err == ErrFrameTruncated {
					break
				}
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				got = append(got, f)
			}
		}

		if len(got) != len(want) {
			t.Fatalf("got %d frames, want %d", len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i].Username, want[i].Username) || !bytes.Equal(got[i].Data, want[i].Data) {
				t.Fatalf("frame %d mismatch", i)
			}
		}
	})
}

// TestMultimediaRoundTrip tests the filename header inside multimedia data
func TestMultimediaRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		filename := rapid.StringN(0, 64, -1).Draw(t, "filename")
		content := rapid.SliceOfN(rapid.Byte(), 0, 1024).Draw(t, "content")

		name, got, err := DecodeMultimedia(EncodeMultimedia(filename, content))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if name != filename {
			t.Fatalf("filename mismatch: got %q, want %q", name, filename)
		}
		if !bytes.Equal(got, content) {
			t.Fatalf("content mismatch")
		}
	})
}
