// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package frames implements the length-prefixed message boundaries of the
// peer byte stream: each frame is a 4-byte big-endian payload length followed
// by the payload. A configurable maximum frame size caps the memory one
// connection can pin.
package frames

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tochemey/clustermesh/internal/netpoll"
)

// ErrFrameTooLarge is returned when a peer announces a frame larger than the
// configured maximum.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// headerSize is the length prefix size in bytes.
const headerSize = 4

// Reader incrementally decodes frames from a non-blocking byte stream.
// Partial headers and partial payloads survive across calls, so Fill can be
// invoked on every read-readiness notification.
type Reader struct {
	max       uint32
	header    [headerSize]byte
	headerLen int
	payload   []byte
	payloadN  int
	complete  [][]byte
}

// NewReader creates a Reader enforcing the given maximum payload size.
func NewReader(maxFrameSize uint32) *Reader {
	return &Reader{max: maxFrameSize}
}

// Fill reads from src until it would block or fails, buffering complete
// frames for Drain. It returns nil when the source is merely drained
// (ErrWouldBlock); any other error, including io.EOF on peer close, is
// returned to the caller after buffered bytes have been consumed.
func (r *Reader) Fill(src io.Reader) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if consumeErr := r.consume(buf[:n]); consumeErr != nil {
				return consumeErr
			}
		}
		if err != nil {
			if errors.Is(err, netpoll.ErrWouldBlock) {
				return nil
			}
			return err
		}
		if n == 0 {
			return io.EOF
		}
	}
}

// Drain returns the complete frames decoded so far and resets the list.
func (r *Reader) Drain() [][]byte {
	frames := r.complete
	r.complete = nil
	return frames
}

// consume advances the header/payload state machine over the given bytes.
func (r *Reader) consume(data []byte) error {
	for {
		if r.payload == nil {
			if len(data) == 0 {
				return nil
			}
			n := copy(r.header[r.headerLen:], data)
			r.headerLen += n
			data = data[n:]
			if r.headerLen < headerSize {
				return nil
			}
			size := binary.BigEndian.Uint32(r.header[:])
			if size > r.max {
				return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, r.max)
			}
			r.payload = make([]byte, size)
			r.payloadN = 0
			r.headerLen = 0
		}

		n := copy(r.payload[r.payloadN:], data)
		r.payloadN += n
		data = data[n:]
		if r.payloadN < len(r.payload) {
			return nil
		}
		r.complete = append(r.complete, r.payload)
		r.payload = nil
		r.payloadN = 0
	}
}
