package bitio

import (
	"errors"
	"fmt"
)

var ErrBufferFull = errors.New("bitio: not enough bits left in buffer")

// Writer writes big-bit-endian fields into a fixed byte buffer.
// Written fields overwrite whatever bits were there before.
type Writer struct {
	buf  []byte
	size int
	pos  int
}

func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf, size: len(buf) * 8}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Position() int { return w.pos }

func (w *Writer) SetPosition(pos int) { w.pos = pos }

func (w *Writer) Len() int { return w.size }

func (w *Writer) Remaining() int { return w.size - w.pos }

// Write stores the low n bits (0 <= n <= 32) of value.
func (w *Writer) Write(value uint32, n int) error {
	if n < 0 || n > 32 {
		return fmt.Errorf("bitio: invalid field width %d", n)
	}
	if n > w.Remaining() {
		return fmt.Errorf("%w: need %d, have %d", ErrBufferFull, n, w.Remaining())
	}
	for n > 0 {
		byteIndex := w.pos >> 3
		bitIndex := w.pos & 7
		chunk := min(n, 8-bitIndex)
		shift := uint(8 - bitIndex - chunk)
		mask := uint32(1)<<uint(chunk) - 1
		bits := (value >> uint(n-chunk)) & mask

		w.buf[byteIndex] = w.buf[byteIndex]&^byte(mask<<shift) | byte(bits<<shift)
		w.pos += chunk
		n -= chunk
	}
	return nil
}

// WriteInt is Write for callers that keep fields as ints.
func (w *Writer) WriteInt(value, n int) error {
	return w.Write(uint32(value), n)
}

// Align zero fills up to the next position divisible by multiple bits.
func (w *Writer) Align(multiple int) error {
	return w.Write(0, NextMultiple(w.pos, multiple)-w.pos)
}
