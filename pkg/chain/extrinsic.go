package chain

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/distribworks/xk6-substrate/pkg/metadata"
	"github.com/distribworks/xk6-substrate/pkg/scale"
)

const signedBit = 0x80

// RawExtrinsic wraps an undecoded extrinsic. raw must include its length prefix.
func RawExtrinsic(index int, raw []byte) Extrinsic {
	return Extrinsic{
		Index: index,
		Raw:   raw,
		Hash:  Hash(blake2b.Sum256(raw)),
	}
}

// DecodeExtrinsic decodes raw against m. Error offsets are relative to raw.
func DecodeExtrinsic(m *metadata.Metadata, index int, raw []byte) (Extrinsic, error) {
	x := RawExtrinsic(index, raw)
	d := scale.NewDecoder(raw)

	n, err := d.CompactLen()
	if err != nil {
		return x, err
	}
	if n != d.Remaining() {
		return x, &scale.MalformedError{Offset: 0, Reason: fmt.Sprintf("length prefix %d does not match body of %d bytes", n, d.Remaining())}
	}

	versionAt := d.Offset()
	v, err := d.U8()
	if err != nil {
		return x, err
	}
	x.Signed = v&signedBit != 0
	x.Version = v &^ signedBit
	if x.Version != m.Extrinsic.Version {
		return x, &scale.MalformedError{Offset: versionAt, Reason: fmt.Sprintf("unsupported extrinsic version %d", x.Version)}
	}

	if x.Signed {
		sig, err := decodeSignature(d, m)
		if err != nil {
			return x, err
		}
		x.Signature = sig
	}

	callAt := d.Offset()
	call, err := d.Value(m.Types, m.Extrinsic.CallType)
	if err != nil {
		return x, err
	}
	if x.Call, err = toCall(call); err != nil {
		return x, &scale.MalformedError{Offset: callAt, Reason: err.Error()}
	}
	if d.Remaining() != 0 {
		return x, &scale.MalformedError{Offset: d.Offset(), Reason: fmt.Sprintf("%d trailing bytes after call", d.Remaining())}
	}
	x.Decoded = true
	return x, nil
}

func decodeSignature(d *scale.Decoder, m *metadata.Metadata) (*Signature, error) {
	addr, err := d.Value(m.Types, m.Extrinsic.AddressType)
	if err != nil {
		return nil, err
	}
	sig, err := d.Value(m.Types, m.Extrinsic.SignatureType)
	if err != nil {
		return nil, err
	}
	s := &Signature{Address: addr, Signature: sig}
	if len(m.Extrinsic.SignedExtensions) == 0 {
		// older runtimes only describe Extra as a whole
		extra, err := d.Value(m.Types, m.Extrinsic.ExtraType)
		if err != nil {
			return nil, err
		}
		s.Extra = []scale.Field{{Name: "", Value: extra}}
		return s, nil
	}
	s.Extra = make([]scale.Field, 0, len(m.Extrinsic.SignedExtensions))
	for _, se := range m.Extrinsic.SignedExtensions {
		v, err := d.Value(m.Types, se.Type)
		if err != nil {
			return nil, err
		}
		s.Extra = append(s.Extra, scale.Field{Name: se.Identifier, Value: v})
	}
	return s, nil
}

// toCall unpacks the outer RuntimeCall variant, whose single field is the
// pallet's own call variant.
func toCall(v scale.Value) (*Call, error) {
	outer, ok := v.(scale.Variant)
	if !ok {
		return nil, fmt.Errorf("call is %T, not a variant", v)
	}
	c := &Call{Pallet: outer.Name, PalletIndex: outer.Index}
	if len(outer.Fields) != 1 {
		c.Args = outer.Fields
		return c, nil
	}
	inner, ok := outer.Fields[0].Value.(scale.Variant)
	if !ok {
		c.Args = outer.Fields
		return c, nil
	}
	c.Name = inner.Name
	c.CallIndex = inner.Index
	c.Args = inner.Fields
	return c, nil
}

// Arg returns the named call argument.
func (c *Call) Arg(name string) (scale.Value, bool) {
	return scale.Composite{Fields: c.Args}.Get(name)
}
