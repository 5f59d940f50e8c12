package javaclass

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// reader is a random-access, big-endian byte-stream reader over an
// in-memory class-file buffer. JVM structures are always big-endian;
// callers never need to choose an endianness.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) position() int { return r.pos }

func (r *reader) seek(off int) error {
	if off < 0 || off > len(r.buf) {
		return newErr(StructuralInvariant, "seek", errors.Errorf("offset %d out of buffer range [0,%d]", off, len(r.buf)))
	}
	r.pos = off
	return nil
}

func (r *reader) readExact(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, newErr(UnexpectedEOF, "read", errors.Errorf("need %d bytes at offset %d, have %d", n, r.pos, len(r.buf)-r.pos))
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readU8() (uint8, error) {
	b, err := r.readExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readI8() (int8, error) {
	v, err := r.readU8()
	return int8(v), err
}

func (r *reader) readU16() (uint16, error) {
	b, err := r.readExact(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) readI16() (int16, error) {
	v, err := r.readU16()
	return int16(v), err
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) readI32() (int32, error) {
	v, err := r.readU32()
	return int32(v), err
}

func (r *reader) readU64() (uint64, error) {
	b, err := r.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) readI64() (int64, error) {
	v, err := r.readU64()
	return int64(v), err
}

func (r *reader) readF32() (float32, error) {
	v, err := r.readU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *reader) readF64() (float64, error) {
	v, err := r.readU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// readMUTF8 decodes Java Modified UTF-8: a length-prefixed run already
// sliced out by the caller (the constant pool reader knows the byte
// length up front). Differences from standard UTF-8: the NUL code point
// is encoded as the two-byte overlong sequence 0xC0 0x80, and characters
// outside the BMP are encoded as a surrogate pair, each half re-encoded
// as a three-byte CESU-8 sequence, rather than as a single four-byte
// UTF-8 sequence.
func readMUTF8(b []byte) (string, error) {
	var sb strings.Builder
	i := 0
	for i < len(b) {
		c0 := b[i]
		switch {
		case c0&0x80 == 0:
			sb.WriteByte(c0)
			i++
		case c0&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", errors.New("truncated 2-byte mutf8 sequence")
			}
			r := rune(c0&0x1F)<<6 | rune(b[i+1]&0x3F)
			sb.WriteRune(r)
			i += 2
		case c0&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", errors.New("truncated 3-byte mutf8 sequence")
			}
			hi := rune(c0&0x0F)<<12 | rune(b[i+1]&0x3F)<<6 | rune(b[i+2]&0x3F)
			i += 3
			if hi >= 0xD800 && hi <= 0xDBFF && i+2 < len(b) && b[i] == 0xED {
				lo := rune(b[i+1]&0x0F)<<6 | rune(b[i+2]&0x3F)
				lo += 0xDC00
				if lo >= 0xDC00 && lo <= 0xDFFF {
					r := 0x10000 + (hi-0xD800)<<10 + (lo - 0xDC00)
					sb.WriteRune(r)
					i += 3
					continue
				}
			}
			sb.WriteRune(hi)
		default:
			return "", errors.Errorf("invalid mutf8 lead byte 0x%02x", c0)
		}
	}
	return sb.String(), nil
}

