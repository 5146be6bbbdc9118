package bmp

import (
	"encoding/binary"
	"fmt"
)

// Framer extracts complete BMP messages from a byte stream that may
// arrive in arbitrary-sized chunks over a TCP connection. Bytes fed in
// are buffered until a full message (per the common header's declared
// length) is available.
type Framer struct {
	buf []byte
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends newly read bytes and returns every complete raw BMP
// message (common header included) that can now be extracted. Any
// trailing partial message remains buffered for the next call. A
// version mismatch or an implausible length is a fatal framing error;
// the caller tears down the connection as per spec.md §4.1/§7.
func (f *Framer) Feed(data []byte) ([][]byte, error) {
	f.buf = append(f.buf, data...)

	var msgs [][]byte
	for {
		if len(f.buf) < CommonHeaderSize {
			break
		}

		version := f.buf[0]
		if version != Version {
			return msgs, fmt.Errorf("bmp: unsupported protocol version %d", version)
		}

		length := binary.BigEndian.Uint32(f.buf[1:5])
		if length < CommonHeaderSize {
			return msgs, fmt.Errorf("bmp: declared message length %d below common header size", length)
		}

		if uint64(len(f.buf)) < uint64(length) {
			break // need more bytes
		}

		msg := make([]byte, length)
		copy(msg, f.buf[:length])
		msgs = append(msgs, msg)
		f.buf = f.buf[length:]
	}

	if len(f.buf) == 0 {
		f.buf = nil
	}
	return msgs, nil
}

// Pending reports how many bytes are currently buffered awaiting the
// rest of a message.
func (f *Framer) Pending() int {
	return len(f.buf)
}
