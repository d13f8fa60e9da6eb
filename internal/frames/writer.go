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

package frames

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/tochemey/clustermesh/internal/netpoll"
)

// Writer frames outbound payloads and flushes them to a non-blocking stream.
// When the stream would block, the unflushed remainder is buffered and the
// writer turns unwritable; the owner is expected to subscribe to write
// readiness and call MarkWritable when it fires.
type Writer struct {
	pending  [][]byte
	offset   int
	writable bool
}

// NewWriter creates a Writer that assumes the stream is initially writable.
func NewWriter() *Writer {
	return &Writer{writable: true}
}

// Writable reports whether the last flush completed without blocking. While
// false, output is buffered and the registration must carry write interest.
func (w *Writer) Writable() bool {
	return w.writable
}

// MarkWritable records a write-readiness notification.
func (w *Writer) MarkWritable() {
	w.writable = true
}

// Pending reports whether buffered output remains.
func (w *Writer) Pending() bool {
	return len(w.pending) > 0
}

// Write appends the payload (if any) as a length-prefixed frame and flushes
// as much buffered output as the stream accepts. It returns true when the
// buffer drained completely and false when the stream blocked, in which case
// the caller must re-register with write interest.
func (w *Writer) Write(dst io.Writer, payload []byte) (bool, error) {
	if payload != nil {
		header := make([]byte, headerSize)
		binary.BigEndian.PutUint32(header, uint32(len(payload)))
		w.pending = append(w.pending, header, payload)
	}
	if !w.writable {
		return false, nil
	}
	for len(w.pending) > 0 {
		chunk := w.pending[0][w.offset:]
		n, err := dst.Write(chunk)
		w.offset += n
		if w.offset == len(w.pending[0]) {
			w.pending = w.pending[1:]
			w.offset = 0
		}
		if err != nil {
			if errors.Is(err, netpoll.ErrWouldBlock) {
				w.writable = false
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}
