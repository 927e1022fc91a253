package protocol

// Decoder reassembles frames from an arbitrarily fragmented byte stream.
//
// Bytes are appended with Write; Next returns complete frames in order. A header that
// violates the protocol limits is reported as soon as its 9 bytes arrive, without
// waiting for (or buffering) the oversized body.
type Decoder struct {
	buf        []byte
	maxDataLen uint32
}

// NewDecoder creates a decoder that rejects data sections longer than maxDataLen.
// A zero maxDataLen selects DefaultMaxDataLen.
func NewDecoder(maxDataLen uint32) *Decoder {
	if maxDataLen == 0 {
		maxDataLen = DefaultMaxDataLen
	}
	return &Decoder{maxDataLen: maxDataLen}
}

// Write appends stream bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting to be decoded
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete frame. ErrFrameTruncated means more bytes are needed;
// a *FrameError means the stream is unusable.
func (d *Decoder) Next() (*Frame, error) {
	if len(d.buf) < HeaderSize {
		return nil, ErrFrameTruncated
	}

	usernameLen, dataLen, _ := parseHeader(d.buf)
	if err := checkHeader(usernameLen, dataLen, d.maxDataLen); err != nil {
		return nil, err
	}

	f, n, err := decodeAt(d.buf)
	if err != nil {
		return nil, err
	}

	// Shift the remainder down so the buffer doesn't grow without bound
	remaining := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:remaining]

	return f, nil
}

// Reset discards any buffered bytes
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}
