// Package wire implements the DNS wire format used by kdns: a bounded cursor
// buffer, header helpers, name compression, response encoding and question
// decoding, as specified in RFC 1035.
package wire

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrOverflow is returned when a write would pass the buffer limit.
	ErrOverflow = errors.New("wire: buffer overflow")
	// ErrUnderflow is returned when a read would pass the buffer limit.
	ErrUnderflow = errors.New("wire: buffer underflow")
	// ErrOutOfRange is returned when a position or limit is outside the buffer.
	ErrOutOfRange = errors.New("wire: position out of range")
)

// Buffer is a fixed-capacity byte cursor. The invariant
// 0 <= position <= limit <= capacity holds after every call, and a failed
// write leaves the buffer untouched.
type Buffer struct {
	data  []byte
	pos   int
	limit int
}

// NewBuffer returns an empty buffer of the given capacity, positioned at 0
// with the limit at capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity), limit: capacity}
}

// FromBytes wraps b for reading. The limit is len(b) and the position 0.
// The buffer aliases b.
func FromBytes(b []byte) *Buffer {
	return &Buffer{data: b, limit: len(b)}
}

// Capacity returns the size of the backing array.
func (b *Buffer) Capacity() int { return len(b.data) }

// Position returns the cursor offset.
func (b *Buffer) Position() int { return b.pos }

// Limit returns the offset reads and writes may not pass.
func (b *Buffer) Limit() int { return b.limit }

// Remaining returns the bytes left between position and limit.
func (b *Buffer) Remaining() int { return b.limit - b.pos }

// SetPosition moves the cursor to p, which must lie within [0, limit].
func (b *Buffer) SetPosition(p int) error {
	if p < 0 || p > b.limit {
		return ErrOutOfRange
	}
	b.pos = p
	return nil
}

// SetLimit moves the limit to l, which must lie within [position, capacity].
func (b *Buffer) SetLimit(l int) error {
	if l < b.pos || l > len(b.data) {
		return ErrOutOfRange
	}
	b.limit = l
	return nil
}

// Mark returns the current position for a later Reset.
func (b *Buffer) Mark() int { return b.pos }

// Reset rolls the cursor back to a mark taken earlier. Bytes written past the
// mark are considered discarded.
func (b *Buffer) Reset(mark int) {
	if mark >= 0 && mark <= b.pos {
		b.pos = mark
	}
}

// Flip prepares a written buffer for reading: limit = position, position = 0.
func (b *Buffer) Flip() {
	b.limit = b.pos
	b.pos = 0
}

// Clear resets position to 0 and the limit to capacity.
func (b *Buffer) Clear() {
	b.pos = 0
	b.limit = len(b.data)
}

// Bytes returns the bytes written so far (data[:position]). The slice aliases
// the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.pos] }

func (b *Buffer) room(n int) bool { return n >= 0 && b.limit-b.pos >= n }

// WriteU8 writes one byte, or returns ErrOverflow at the limit.
func (b *Buffer) WriteU8(v uint8) error {
	if !b.room(1) {
		return ErrOverflow
	}
	b.data[b.pos] = v
	b.pos++
	return nil
}

// WriteU16 writes v big-endian, or nothing if two bytes do not fit.
func (b *Buffer) WriteU16(v uint16) error {
	if !b.room(2) {
		return ErrOverflow
	}
	binary.BigEndian.PutUint16(b.data[b.pos:], v)
	b.pos += 2
	return nil
}

// WriteU32 writes v big-endian, or nothing if four bytes do not fit.
func (b *Buffer) WriteU32(v uint32) error {
	if !b.room(4) {
		return ErrOverflow
	}
	binary.BigEndian.PutUint32(b.data[b.pos:], v)
	b.pos += 4
	return nil
}

// Write copies p in full or not at all.
func (b *Buffer) Write(p []byte) error {
	if !b.room(len(p)) {
		return ErrOverflow
	}
	b.pos += copy(b.data[b.pos:], p)
	return nil
}

// Skip advances the cursor by n bytes without writing them.
func (b *Buffer) Skip(n int) error {
	if !b.room(n) {
		return ErrOverflow
	}
	b.pos += n
	return nil
}

// WriteU16At overwrites two bytes at offset, which must lie below the position.
func (b *Buffer) WriteU16At(offset int, v uint16) error {
	if offset < 0 || offset+2 > b.pos {
		return ErrOutOfRange
	}
	binary.BigEndian.PutUint16(b.data[offset:], v)
	return nil
}

// U16At reads two bytes at offset without moving the cursor.
func (b *Buffer) U16At(offset int) (uint16, error) {
	if offset < 0 || offset+2 > b.limit {
		return 0, ErrOutOfRange
	}
	return binary.BigEndian.Uint16(b.data[offset:]), nil
}

// ReadU8 reads one byte, or returns ErrUnderflow at the limit.
func (b *Buffer) ReadU8() (uint8, error) {
	if !b.room(1) {
		return 0, ErrUnderflow
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

// ReadU16 reads a big-endian uint16 and advances the cursor.
func (b *Buffer) ReadU16() (uint16, error) {
	if !b.room(2) {
		return 0, ErrUnderflow
	}
	v := binary.BigEndian.Uint16(b.data[b.pos:])
	b.pos += 2
	return v, nil
}

// ReadU32 reads a big-endian uint32 and advances the cursor.
func (b *Buffer) ReadU32() (uint32, error) {
	if !b.room(4) {
		return 0, ErrUnderflow
	}
	v := binary.BigEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

// Read returns the next n bytes. The slice aliases the buffer.
func (b *Buffer) Read(n int) ([]byte, error) {
	if !b.room(n) {
		return nil, ErrUnderflow
	}
	v := b.data[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}
