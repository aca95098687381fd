package metadata

import (
	"fmt"
	"sort"

	"github.com/distribworks/xk6-substrate/pkg/scale"
)

// Encode serializes m back into the V14 wire layout. Documentation strings
// are not retained by Parse and are written empty.
func (m *Metadata) Encode() ([]byte, error) {
	e := scale.NewEncoder()
	e.PutU32(Magic)
	e.PutU8(SupportedVersion)

	ids := sortedIDs(m.Types)
	e.PutCompactUint64(uint64(len(ids)))
	for _, id := range ids {
		e.PutCompactUint64(uint64(id))
		if err := putType(e, m.Types[id]); err != nil {
			return nil, fmt.Errorf("type %d: %w", id, err)
		}
	}

	e.PutCompactUint64(uint64(len(m.Pallets)))
	for i := range m.Pallets {
		putPallet(e, &m.Pallets[i])
	}

	x := m.Extrinsic
	e.PutCompactUint64(uint64(x.Type))
	e.PutU8(x.Version)
	e.PutCompactUint64(uint64(len(x.SignedExtensions)))
	for _, se := range x.SignedExtensions {
		e.PutString(se.Identifier)
		e.PutCompactUint64(uint64(se.Type))
		e.PutCompactUint64(uint64(se.AdditionalSigned))
	}
	e.PutCompactUint64(uint64(m.RuntimeType))
	return e.Bytes(), nil
}

func sortedIDs(ts scale.Types) []scale.TypeID {
	ids := make([]scale.TypeID, 0, len(ts))
	for id := range ts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func putStrings(e *scale.Encoder, ss []string) {
	e.PutCompactUint64(uint64(len(ss)))
	for _, s := range ss {
		e.PutString(s)
	}
}

func putOptionalString(e *scale.Encoder, s string) {
	e.PutOption(s != "")
	if s != "" {
		e.PutString(s)
	}
}

func putOptionalTypeID(e *scale.Encoder, id *scale.TypeID) {
	e.PutOption(id != nil)
	if id != nil {
		e.PutCompactUint64(uint64(*id))
	}
}

func putFields(e *scale.Encoder, fields []scale.FieldDef) {
	e.PutCompactUint64(uint64(len(fields)))
	for _, f := range fields {
		putOptionalString(e, f.Name)
		e.PutCompactUint64(uint64(f.Type))
		putOptionalString(e, f.TypeName)
		putStrings(e, nil)
	}
}

func putType(e *scale.Encoder, ty *scale.Type) error {
	putStrings(e, ty.Path)
	e.PutCompactUint64(uint64(len(ty.Params)))
	for _, p := range ty.Params {
		e.PutString(p.Name)
		putOptionalTypeID(e, p.Type)
	}
	if ty.Def == nil {
		return fmt.Errorf("missing definition")
	}
	e.PutU8(uint8(ty.Def.Kind()))
	switch def := ty.Def.(type) {
	case scale.CompositeDef:
		putFields(e, def.Fields)
	case scale.VariantDef:
		e.PutCompactUint64(uint64(len(def.Variants)))
		for _, v := range def.Variants {
			e.PutString(v.Name)
			putFields(e, v.Fields)
			e.PutU8(v.Index)
			putStrings(e, nil)
		}
	case scale.SequenceDef:
		e.PutCompactUint64(uint64(def.Elem))
	case scale.ArrayDef:
		e.PutU32(def.Len)
		e.PutCompactUint64(uint64(def.Elem))
	case scale.TupleDef:
		e.PutCompactUint64(uint64(len(def.Elems)))
		for _, id := range def.Elems {
			e.PutCompactUint64(uint64(id))
		}
	case scale.Primitive:
		e.PutU8(uint8(def))
	case scale.CompactDef:
		e.PutCompactUint64(uint64(def.Elem))
	case scale.BitSequenceDef:
		e.PutCompactUint64(uint64(def.Store))
		e.PutCompactUint64(uint64(def.Order))
	default:
		return fmt.Errorf("unsupported definition %T", ty.Def)
	}
	putStrings(e, nil)
	return nil
}

func putPallet(e *scale.Encoder, p *Pallet) {
	e.PutString(p.Name)
	e.PutOption(p.Storage != nil)
	if p.Storage != nil {
		e.PutString(p.Storage.Prefix)
		e.PutCompactUint64(uint64(len(p.Storage.Entries)))
		for _, s := range p.Storage.Entries {
			e.PutString(s.Name)
			e.PutU8(s.Modifier)
			if s.Plain {
				e.PutU8(0)
				e.PutCompactUint64(uint64(s.Value))
			} else {
				e.PutU8(1)
				e.PutCompactUint64(uint64(len(s.Hashers)))
				for _, h := range s.Hashers {
					e.PutU8(h)
				}
				e.PutCompactUint64(uint64(s.Key))
				e.PutCompactUint64(uint64(s.Value))
			}
			e.PutByteSlice(s.Default)
			putStrings(e, nil)
		}
	}
	putOptionalTypeID(e, p.Calls)
	putOptionalTypeID(e, p.Events)
	e.PutCompactUint64(uint64(len(p.Constants)))
	for _, c := range p.Constants {
		e.PutString(c.Name)
		e.PutCompactUint64(uint64(c.Type))
		e.PutByteSlice(c.Value)
		putStrings(e, nil)
	}
	putOptionalTypeID(e, p.Errors)
	e.PutU8(p.Index)
}
