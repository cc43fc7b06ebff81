// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLen is the largest payload a stream frame may announce. Reads that
// announce a longer length are rejected before the body is consumed.
const MaxFrameLen = 10_000

const streamHeaderLen = 4

// StreamFramer reads and writes length-prefixed frames over a reliable,
// ordered byte stream (net.Conn, net.Pipe, ...). One StreamFramer serves
// exactly one connection; it is not safe for concurrent use by multiple
// goroutines on the same direction.
//
// Wire format: a 4-byte big-endian length prefix followed by that many
// payload bytes. Adapted from a generic stream codec's header-accumulation
// loop, fixed to a single 4-byte header and a hard 10 000 byte cap instead
// of that codec's variable-length, multi-format header.
type StreamFramer struct {
	r io.Reader
	w io.Writer
}

// NewStreamFramer returns a StreamFramer that reads from r and writes to w.
// Passing the same value for both (e.g. a net.Conn) is the common case.
func NewStreamFramer(r io.Reader, w io.Writer) *StreamFramer {
	return &StreamFramer{r: r, w: w}
}

// ReadFrame reads one complete frame and returns its payload. It fails with
// ErrOversizeFrame if the announced length exceeds MaxFrameLen, without
// reading the body. It fails with ErrShortRead if the stream ends, or a read
// returns zero bytes, before the frame is complete; any other read error is
// returned wrapped.
func (f *StreamFramer) ReadFrame() ([]byte, error) {
	var hdr [streamHeaderLen]byte
	if err := f.readFull(hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxFrameLen {
		return nil, ErrOversizeFrame
	}
	if length == 0 {
		return []byte{}, nil
	}
	body := make([]byte, length)
	if err := f.readFull(body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame writes one complete frame. It fails with ErrOversizeBody if the
// body cannot be represented in a u32 length prefix. Unlike ReadFrame,
// WriteFrame has no 10 000 byte cap: outbound payloads (fetched bodies,
// rendered error pages) may legitimately exceed the inbound request limit.
func (f *StreamFramer) WriteFrame(body []byte) error {
	if uint64(len(body)) > (1<<32 - 1) {
		return ErrOversizeBody
	}
	var hdr [streamHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if err := f.writeFull(hdr[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return f.writeFull(body)
}

// readFull reads exactly len(buf) bytes, resuming at the first unfilled
// index across repeated calls. A read that returns zero bytes before buf is
// full is reported as ErrShortRead: stream framing has no use for
// distinguishing "clean EOF" from "peer vanished mid-frame", since both
// leave the session unable to proceed.
func (f *StreamFramer) readFull(buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := f.r.Read(buf[got:])
		if n > 0 {
			got += n
		}
		if err != nil {
			if err == io.EOF {
				if got == len(buf) {
					return nil
				}
				return ErrShortRead
			}
			return fmt.Errorf("wire: read: %w", err)
		}
		if n == 0 {
			return ErrShortRead
		}
	}
	return nil
}

// writeFull writes exactly len(buf) bytes, resuming at the first unwritten
// index on partial writes.
func (f *StreamFramer) writeFull(buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := f.w.Write(buf[off:])
		if n > 0 {
			off += n
		}
		if err != nil {
			return fmt.Errorf("wire: write: %w", err)
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}
