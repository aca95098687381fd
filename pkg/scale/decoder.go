// Package scale implements the SCALE binary codec used by Substrate nodes.
//
// Decoding is offset based over one contiguous buffer. Any failure aborts the
// whole decode and reports the offset it happened at.
package scale

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"unicode/utf8"
)

// Decoder reads SCALE values from a byte buffer.
type Decoder struct {
	buf []byte
	off int
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// NewDecoderAt starts reading buf at offset off.
func NewDecoderAt(buf []byte, off int) *Decoder {
	if off < 0 {
		off = 0
	}
	if off > len(buf) {
		off = len(buf)
	}
	return &Decoder{buf: buf, off: off}
}

func (d *Decoder) Offset() int    { return d.off }
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) malformedAt(off int, format string, args ...interface{}) error {
	return &MalformedError{Offset: off, Reason: fmt.Sprintf(format, args...)}
}

func (d *Decoder) malformed(format string, args ...interface{}) error {
	return d.malformedAt(d.off, format, args...)
}

// take returns the next n bytes without copying them.
func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, d.malformed("need %d bytes, %d remaining", n, d.Remaining())
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// ReadBytes returns a copy of the next n bytes.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *Decoder) ReadByte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) U8() (uint8, error) { return d.ReadByte() }

func (d *Decoder) U16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) U32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) U64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Uint reads an unsigned little-endian integer of size bytes.
func (d *Decoder) Uint(size int) (*big.Int, error) {
	b, err := d.take(size)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(reversed(b)), nil
}

// Int reads a two's complement little-endian integer of size bytes.
func (d *Decoder) Int(size int) (*big.Int, error) {
	v, err := d.Uint(size)
	if err != nil {
		return nil, err
	}
	if v.Bit(size*8-1) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(size*8)))
	}
	return v, nil
}

func (d *Decoder) Bool() (bool, error) {
	start := d.off
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, d.malformedAt(start, "invalid bool byte 0x%02x", b)
}

// Compact reads a compact integer of any width class.
func (d *Decoder) Compact() (*big.Int, error) {
	start := d.off
	b0, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	switch b0 & 0b11 {
	case 0b00:
		return big.NewInt(int64(b0 >> 2)), nil
	case 0b01:
		b1, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		v := (uint64(b0) | uint64(b1)<<8) >> 2
		if v < 1<<6 {
			return nil, d.malformedAt(start, "non-canonical compact: %d in two-byte mode", v)
		}
		return new(big.Int).SetUint64(v), nil
	case 0b10:
		rest, err := d.take(3)
		if err != nil {
			return nil, err
		}
		v := (uint64(b0) | uint64(rest[0])<<8 | uint64(rest[1])<<16 | uint64(rest[2])<<24) >> 2
		if v < 1<<14 {
			return nil, d.malformedAt(start, "non-canonical compact: %d in four-byte mode", v)
		}
		return new(big.Int).SetUint64(v), nil
	default:
		n := int(b0>>2) + 4
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		if b[n-1] == 0 {
			return nil, d.malformedAt(start, "non-canonical compact: %d-byte big integer with zero top byte", n)
		}
		v := new(big.Int).SetBytes(reversed(b))
		if n == 4 && v.Uint64() < 1<<30 {
			return nil, d.malformedAt(start, "non-canonical compact: %s in big-integer mode", v)
		}
		return v, nil
	}
}

// CompactUint64 reads a compact integer that must fit in 64 bits.
func (d *Decoder) CompactUint64() (uint64, error) {
	start := d.off
	v, err := d.Compact()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, d.malformedAt(start, "compact %s overflows uint64", v)
	}
	return v.Uint64(), nil
}

// CompactLen reads a compact length prefix.
func (d *Decoder) CompactLen() (int, error) {
	start := d.off
	v, err := d.CompactUint64()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, d.malformedAt(start, "length %d too large", v)
	}
	return int(v), nil
}

// ByteSlice reads a compact length prefix followed by that many bytes.
func (d *Decoder) ByteSlice() ([]byte, error) {
	n, err := d.CompactLen()
	if err != nil {
		return nil, err
	}
	return d.ReadBytes(n)
}

func (d *Decoder) ReadString() (string, error) {
	start := d.off
	b, err := d.ByteSlice()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", d.malformedAt(start, "string is not valid utf-8")
	}
	return string(b), nil
}

// Option reads the one-byte Option tag.
func (d *Decoder) Option() (bool, error) {
	start := d.off
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, d.malformedAt(start, "invalid option tag 0x%02x", b)
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
