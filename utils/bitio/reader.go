package bitio

// OffsetBias selects which side of zero gets the extra value of an
// offset-binary field.
type OffsetBias int

const (
	BiasNegative OffsetBias = 0
	BiasPositive OffsetBias = 1
)

// Reader reads big-bit-endian fields from a byte buffer.
// Reads past the end of the buffer are zero padded.
type Reader struct {
	data []byte
	size int
	pos  int
}

func NewReader(data []byte) *Reader {
	r := &Reader{}
	r.Reset(data)
	return r
}

// Reset points the reader at data and rewinds it.
func (r *Reader) Reset(data []byte) {
	r.data = data
	r.size = len(data) * 8
	r.pos = 0
}

func (r *Reader) Position() int { return r.pos }

func (r *Reader) SetPosition(pos int) { r.pos = pos }

func (r *Reader) Skip(bits int) { r.pos += bits }

// Len returns the buffer length in bits.
func (r *Reader) Len() int { return r.size }

func (r *Reader) Remaining() int { return r.size - r.pos }

// Peek returns the next n bits (0 <= n <= 32) without advancing.
func (r *Reader) Peek(n int) uint32 {
	if n <= 0 {
		return 0
	}
	remaining := r.size - r.pos
	if remaining <= 0 || r.pos < 0 {
		return 0
	}
	if n > remaining {
		return r.peek(remaining) << uint(n-remaining)
	}
	return r.peek(n)
}

func (r *Reader) peek(n int) uint32 {
	byteIndex := r.pos >> 3
	bitIndex := r.pos & 7
	need := (bitIndex + n + 7) >> 3

	var v uint64
	for i := 0; i < need; i++ {
		v = v<<8 | uint64(r.data[byteIndex+i])
	}
	v >>= uint(need*8 - bitIndex - n)
	return uint32(v & (1<<uint(n) - 1))
}

func (r *Reader) Read(n int) uint32 {
	v := r.Peek(n)
	r.pos += n
	return v
}

// ReadInt is Read returning an int, which is what most callers index with.
func (r *Reader) ReadInt(n int) int {
	return int(r.Read(n))
}

func (r *Reader) ReadSigned(n int) int32 {
	return SignExtend(r.Read(n), n)
}

func (r *Reader) ReadBool() bool {
	return r.Read(1) == 1
}

// ReadOffsetBinary reads an n-bit offset-binary value covering
// [-(2^(n-1))+bias, 2^(n-1)+bias-1].
func (r *Reader) ReadOffsetBinary(n int, bias OffsetBias) int {
	offset := (1 << uint(n-1)) - int(bias)
	return int(r.Read(n)) - offset
}

// Align advances to the next position divisible by multiple bits.
func (r *Reader) Align(multiple int) {
	r.pos = NextMultiple(r.pos, multiple)
}

// SignExtend interprets the low n bits of value as two's complement.
func SignExtend(value uint32, n int) int32 {
	if n <= 0 {
		return 0
	}
	shift := uint(32 - n)
	return int32(value<<shift) >> shift
}

// NextMultiple rounds value up to a multiple of multiple.
func NextMultiple(value, multiple int) int {
	if multiple <= 0 {
		return value
	}
	if value%multiple == 0 {
		return value
	}
	return value + multiple - value%multiple
}
