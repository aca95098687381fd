package scale

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
)

// Encoder appends SCALE values to an internal buffer.
type Encoder struct {
	buf bytes.Buffer
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte {
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out
}

func (e *Encoder) Len() int { return e.buf.Len() }

// PutRaw writes b verbatim, without a length prefix.
func (e *Encoder) PutRaw(b []byte) { e.buf.Write(b) }

func (e *Encoder) PutU8(v uint8) { e.buf.WriteByte(v) }

func (e *Encoder) PutU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) PutU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) PutU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// PutUint writes v as an unsigned little-endian integer of size bytes.
func (e *Encoder) PutUint(v *big.Int, size int) error {
	if v.Sign() < 0 || v.BitLen() > size*8 {
		return fmt.Errorf("scale: %s does not fit in u%d", v, size*8)
	}
	b := make([]byte, size)
	v.FillBytes(b)
	e.buf.Write(reversed(b))
	return nil
}

// PutInt writes v as a two's complement little-endian integer of size bytes.
func (e *Encoder) PutInt(v *big.Int, size int) error {
	bits := uint(size * 8)
	lo := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), bits-1))
	hi := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), bits-1), big.NewInt(1))
	if v.Cmp(lo) < 0 || v.Cmp(hi) > 0 {
		return fmt.Errorf("scale: %s does not fit in i%d", v, size*8)
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, new(big.Int).Lsh(big.NewInt(1), bits))
	}
	return e.PutUint(u, size)
}

func (e *Encoder) PutBool(v bool) {
	if v {
		e.buf.WriteByte(1)
		return
	}
	e.buf.WriteByte(0)
}

// PutCompact writes v using the smallest compact width class that holds it.
func (e *Encoder) PutCompact(v *big.Int) error {
	if v.Sign() < 0 {
		return fmt.Errorf("scale: negative compact %s", v)
	}
	if v.IsUint64() && v.Uint64() < 1<<30 {
		e.PutCompactUint64(v.Uint64())
		return nil
	}
	n := (v.BitLen() + 7) / 8
	if n > 67 {
		return fmt.Errorf("scale: compact %s exceeds 536 bits", v)
	}
	if n < 4 {
		n = 4
	}
	e.buf.WriteByte(byte(n-4)<<2 | 0b11)
	b := make([]byte, n)
	v.FillBytes(b)
	e.buf.Write(reversed(b))
	return nil
}

func (e *Encoder) PutCompactUint64(v uint64) {
	switch {
	case v < 1<<6:
		e.buf.WriteByte(byte(v << 2))
	case v < 1<<14:
		e.PutU16(uint16(v<<2 | 0b01))
	case v < 1<<30:
		e.PutU32(uint32(v<<2 | 0b10))
	default:
		_ = e.PutCompact(new(big.Int).SetUint64(v))
	}
}

// PutByteSlice writes a compact length prefix followed by b.
func (e *Encoder) PutByteSlice(b []byte) {
	e.PutCompactUint64(uint64(len(b)))
	e.buf.Write(b)
}

func (e *Encoder) PutString(s string) { e.PutByteSlice([]byte(s)) }

// PutOption writes the Option tag; the caller writes the payload when present.
func (e *Encoder) PutOption(present bool) { e.PutBool(present) }

// EncodeCompact returns the compact encoding of n.
func EncodeCompact(n uint64) []byte {
	e := NewEncoder()
	e.PutCompactUint64(n)
	return e.Bytes()
}
