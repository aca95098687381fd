package metadata

import (
	"fmt"

	"github.com/distribworks/xk6-substrate/pkg/scale"
)

// Parse decodes a raw metadata blob as returned by state_getMetadata. Blobs
// that are not V14 fail with ErrMetadataUnavailable.
func Parse(blob []byte) (*Metadata, error) {
	d := scale.NewDecoder(blob)
	magic, err := d.U32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrMetadataUnavailable, magic)
	}
	version, err := d.U8()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	if version != SupportedVersion {
		return nil, fmt.Errorf("%w: unsupported metadata version %d", ErrMetadataUnavailable, version)
	}

	m := &Metadata{Version: version}
	if m.Types, err = readRegistry(d); err != nil {
		return nil, fmt.Errorf("%w: types: %v", ErrMetadataUnavailable, err)
	}
	if m.Pallets, err = readPallets(d); err != nil {
		return nil, fmt.Errorf("%w: pallets: %v", ErrMetadataUnavailable, err)
	}
	if m.Extrinsic, err = readExtrinsic(d); err != nil {
		return nil, fmt.Errorf("%w: extrinsic: %v", ErrMetadataUnavailable, err)
	}
	ty, err := d.CompactUint64()
	if err != nil {
		return nil, fmt.Errorf("%w: runtime type: %v", ErrMetadataUnavailable, err)
	}
	m.RuntimeType = scale.TypeID(ty)
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMetadataUnavailable, d.Remaining())
	}
	if err := m.resolveExtrinsicTypes(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	return m, nil
}

func readTypeID(d *scale.Decoder) (scale.TypeID, error) {
	v, err := d.CompactUint64()
	if err != nil {
		return 0, err
	}
	if v > 1<<32-1 {
		return 0, fmt.Errorf("type id %d out of range", v)
	}
	return scale.TypeID(v), nil
}

func readOptionalTypeID(d *scale.Decoder) (*scale.TypeID, error) {
	ok, err := d.Option()
	if err != nil || !ok {
		return nil, err
	}
	id, err := readTypeID(d)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func readOptionalString(d *scale.Decoder) (string, error) {
	ok, err := d.Option()
	if err != nil || !ok {
		return "", err
	}
	return d.ReadString()
}

func readStrings(d *scale.Decoder) ([]string, error) {
	n, err := d.CompactLen()
	if err != nil {
		return nil, err
	}
	if n > d.Remaining() {
		return nil, fmt.Errorf("string list of %d exceeds buffer", n)
	}
	var out []string
	for i := 0; i < n; i++ {
		s, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// skipDocs discards a Vec<String> of documentation lines.
func skipDocs(d *scale.Decoder) error {
	_, err := readStrings(d)
	return err
}

func readRegistry(d *scale.Decoder) (scale.Types, error) {
	n, err := d.CompactLen()
	if err != nil {
		return nil, err
	}
	if n > d.Remaining() {
		return nil, fmt.Errorf("registry of %d types exceeds buffer", n)
	}
	types := make(scale.Types, n)
	for i := 0; i < n; i++ {
		id, err := readTypeID(d)
		if err != nil {
			return nil, err
		}
		ty, err := readType(d)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", id, err)
		}
		ty.ID = id
		types[id] = ty
	}
	return types, nil
}

func readType(d *scale.Decoder) (*scale.Type, error) {
	path, err := readStrings(d)
	if err != nil {
		return nil, err
	}
	np, err := d.CompactLen()
	if err != nil {
		return nil, err
	}
	var params []scale.TypeParam
	for i := 0; i < np; i++ {
		name, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		ty, err := readOptionalTypeID(d)
		if err != nil {
			return nil, err
		}
		params = append(params, scale.TypeParam{Name: name, Type: ty})
	}
	def, err := readTypeDef(d)
	if err != nil {
		return nil, err
	}
	if err := skipDocs(d); err != nil {
		return nil, err
	}
	return &scale.Type{Path: path, Params: params, Def: def}, nil
}

func readTypeDef(d *scale.Decoder) (scale.TypeDef, error) {
	tag, err := d.U8()
	if err != nil {
		return nil, err
	}
	switch scale.DefKind(tag) {
	case scale.KindComposite:
		fields, err := readFields(d)
		if err != nil {
			return nil, err
		}
		return scale.CompositeDef{Fields: fields}, nil
	case scale.KindVariant:
		n, err := d.CompactLen()
		if err != nil {
			return nil, err
		}
		var def scale.VariantDef
		for i := 0; i < n; i++ {
			name, err := d.ReadString()
			if err != nil {
				return nil, err
			}
			fields, err := readFields(d)
			if err != nil {
				return nil, err
			}
			idx, err := d.U8()
			if err != nil {
				return nil, err
			}
			if err := skipDocs(d); err != nil {
				return nil, err
			}
			def.Variants = append(def.Variants, scale.VariantCase{Name: name, Index: idx, Fields: fields})
		}
		return def, nil
	case scale.KindSequence:
		elem, err := readTypeID(d)
		return scale.SequenceDef{Elem: elem}, err
	case scale.KindArray:
		n, err := d.U32()
		if err != nil {
			return nil, err
		}
		elem, err := readTypeID(d)
		return scale.ArrayDef{Len: n, Elem: elem}, err
	case scale.KindTuple:
		n, err := d.CompactLen()
		if err != nil {
			return nil, err
		}
		var def scale.TupleDef
		for i := 0; i < n; i++ {
			id, err := readTypeID(d)
			if err != nil {
				return nil, err
			}
			def.Elems = append(def.Elems, id)
		}
		return def, nil
	case scale.KindPrimitive:
		p, err := d.U8()
		if err != nil {
			return nil, err
		}
		if p > uint8(scale.PrimI256) {
			return nil, fmt.Errorf("unknown primitive %d", p)
		}
		return scale.Primitive(p), nil
	case scale.KindCompact:
		elem, err := readTypeID(d)
		return scale.CompactDef{Elem: elem}, err
	case scale.KindBitSequence:
		store, err := readTypeID(d)
		if err != nil {
			return nil, err
		}
		order, err := readTypeID(d)
		return scale.BitSequenceDef{Store: store, Order: order}, err
	}
	return nil, fmt.Errorf("unknown type definition tag %d", tag)
}

func readFields(d *scale.Decoder) ([]scale.FieldDef, error) {
	n, err := d.CompactLen()
	if err != nil {
		return nil, err
	}
	var fields []scale.FieldDef
	for i := 0; i < n; i++ {
		name, err := readOptionalString(d)
		if err != nil {
			return nil, err
		}
		ty, err := readTypeID(d)
		if err != nil {
			return nil, err
		}
		typeName, err := readOptionalString(d)
		if err != nil {
			return nil, err
		}
		if err := skipDocs(d); err != nil {
			return nil, err
		}
		fields = append(fields, scale.FieldDef{Name: name, Type: ty, TypeName: typeName})
	}
	return fields, nil
}

func readPallets(d *scale.Decoder) ([]Pallet, error) {
	n, err := d.CompactLen()
	if err != nil {
		return nil, err
	}
	var pallets []Pallet
	for i := 0; i < n; i++ {
		p, err := readPallet(d)
		if err != nil {
			return nil, fmt.Errorf("pallet %d: %w", i, err)
		}
		pallets = append(pallets, p)
	}
	return pallets, nil
}

func readPallet(d *scale.Decoder) (Pallet, error) {
	var p Pallet
	var err error
	if p.Name, err = d.ReadString(); err != nil {
		return p, err
	}
	hasStorage, err := d.Option()
	if err != nil {
		return p, err
	}
	if hasStorage {
		if p.Storage, err = readStorage(d); err != nil {
			return p, fmt.Errorf("%s storage: %w", p.Name, err)
		}
	}
	if p.Calls, err = readOptionalTypeID(d); err != nil {
		return p, err
	}
	if p.Events, err = readOptionalTypeID(d); err != nil {
		return p, err
	}
	nc, err := d.CompactLen()
	if err != nil {
		return p, err
	}
	for i := 0; i < nc; i++ {
		var c Constant
		if c.Name, err = d.ReadString(); err != nil {
			return p, err
		}
		if c.Type, err = readTypeID(d); err != nil {
			return p, err
		}
		if c.Value, err = d.ByteSlice(); err != nil {
			return p, err
		}
		if err := skipDocs(d); err != nil {
			return p, err
		}
		p.Constants = append(p.Constants, c)
	}
	if p.Errors, err = readOptionalTypeID(d); err != nil {
		return p, err
	}
	p.Index, err = d.U8()
	return p, err
}

func readStorage(d *scale.Decoder) (*Storage, error) {
	prefix, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	s := &Storage{Prefix: prefix}
	n, err := d.CompactLen()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		var e StorageEntry
		if e.Name, err = d.ReadString(); err != nil {
			return nil, err
		}
		if e.Modifier, err = d.U8(); err != nil {
			return nil, err
		}
		kind, err := d.U8()
		if err != nil {
			return nil, err
		}
		switch kind {
		case 0:
			e.Plain = true
			if e.Value, err = readTypeID(d); err != nil {
				return nil, err
			}
		case 1:
			nh, err := d.CompactLen()
			if err != nil {
				return nil, err
			}
			for j := 0; j < nh; j++ {
				h, err := d.U8()
				if err != nil {
					return nil, err
				}
				e.Hashers = append(e.Hashers, h)
			}
			if e.Key, err = readTypeID(d); err != nil {
				return nil, err
			}
			if e.Value, err = readTypeID(d); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("storage entry %s: unknown kind %d", e.Name, kind)
		}
		if e.Default, err = d.ByteSlice(); err != nil {
			return nil, err
		}
		if err := skipDocs(d); err != nil {
			return nil, err
		}
		s.Entries = append(s.Entries, e)
	}
	return s, nil
}

func readExtrinsic(d *scale.Decoder) (Extrinsic, error) {
	var x Extrinsic
	var err error
	if x.Type, err = readTypeID(d); err != nil {
		return x, err
	}
	if x.Version, err = d.U8(); err != nil {
		return x, err
	}
	n, err := d.CompactLen()
	if err != nil {
		return x, err
	}
	for i := 0; i < n; i++ {
		var se SignedExtension
		if se.Identifier, err = d.ReadString(); err != nil {
			return x, err
		}
		if se.Type, err = readTypeID(d); err != nil {
			return x, err
		}
		if se.AdditionalSigned, err = readTypeID(d); err != nil {
			return x, err
		}
		x.SignedExtensions = append(x.SignedExtensions, se)
	}
	return x, nil
}
