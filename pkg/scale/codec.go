package scale

import (
	"fmt"
	"math/big"
	"unicode/utf8"
)

const maxDepth = 128

const (
	// maxPrealloc caps the capacity reserved up front for a sequence.
	maxPrealloc = 1024
	// maxZeroSized bounds sequences whose elements take no bytes, which the
	// remaining-input check cannot bound.
	maxZeroSized = 1 << 16
)

// Decode decodes one value of type id from buf starting at offset and returns
// it together with the number of bytes consumed.
func Decode(reg TypeRegistry, id TypeID, buf []byte, offset int) (Value, int, error) {
	d := NewDecoderAt(buf, offset)
	start := d.Offset()
	v, err := d.Value(reg, id)
	if err != nil {
		return nil, 0, err
	}
	return v, d.Offset() - start, nil
}

// Encode encodes v as type id.
func Encode(reg TypeRegistry, id TypeID, v Value) ([]byte, error) {
	e := NewEncoder()
	if err := e.Value(reg, id, v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Value decodes one value of type id at the current offset.
func (d *Decoder) Value(reg TypeRegistry, id TypeID) (Value, error) {
	return d.value(reg, id, 0)
}

func (d *Decoder) value(reg TypeRegistry, id TypeID, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, d.malformed("type nesting exceeds %d levels", maxDepth)
	}
	ty, ok := reg.Type(id)
	if !ok {
		return nil, d.malformed("unknown type id %d", id)
	}

	switch def := ty.Def.(type) {
	case CompositeDef:
		fields, err := d.fields(reg, def.Fields, depth)
		if err != nil {
			return nil, err
		}
		return Composite{Fields: fields}, nil

	case VariantDef:
		start := d.off
		idx, err := d.U8()
		if err != nil {
			return nil, err
		}
		vc, ok := def.ByIndex(idx)
		if !ok {
			return nil, d.malformedAt(start, "variant index %d not defined for %s", idx, ty)
		}
		fields, err := d.fields(reg, vc.Fields, depth)
		if err != nil {
			return nil, err
		}
		return Variant{Name: vc.Name, Index: idx, Fields: fields}, nil

	case SequenceDef:
		start := d.off
		n, err := d.CompactLen()
		if err != nil {
			return nil, err
		}
		if isByte(reg, def.Elem) {
			return d.ReadBytes(n)
		}
		if zeroSized(reg, def.Elem) {
			if n > maxZeroSized {
				return nil, d.malformedAt(start, "sequence of %d empty elements exceeds limit %d", n, maxZeroSized)
			}
		} else if n > d.Remaining() {
			return nil, d.malformedAt(start, "sequence of %d elements exceeds %d remaining bytes", n, d.Remaining())
		}
		return d.elems(reg, def.Elem, n, depth)

	case ArrayDef:
		if isByte(reg, def.Elem) {
			return d.ReadBytes(int(def.Len))
		}
		return d.elems(reg, def.Elem, int(def.Len), depth)

	case TupleDef:
		out := make([]Value, 0, len(def.Elems))
		for _, el := range def.Elems {
			v, err := d.value(reg, el, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case Primitive:
		return d.primitive(def)

	case CompactDef:
		return d.compact(reg, def)

	case BitSequenceDef:
		return d.bits(reg, def)
	}
	return nil, d.malformed("unsupported type definition %T for %s", ty.Def, ty)
}

func (d *Decoder) fields(reg TypeRegistry, defs []FieldDef, depth int) ([]Field, error) {
	out := make([]Field, 0, len(defs))
	for _, f := range defs {
		v, err := d.value(reg, f.Type, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, Field{Name: f.Name, Value: v})
	}
	return out, nil
}

func (d *Decoder) elems(reg TypeRegistry, elem TypeID, n int, depth int) ([]Value, error) {
	out := make([]Value, 0, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		v, err := d.value(reg, elem, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *Decoder) primitive(p Primitive) (Value, error) {
	switch p {
	case PrimBool:
		return d.Bool()
	case PrimChar:
		start := d.off
		r, err := d.U32()
		if err != nil {
			return nil, err
		}
		if !utf8.ValidRune(rune(r)) {
			return nil, d.malformedAt(start, "invalid char 0x%x", r)
		}
		return string(rune(r)), nil
	case PrimStr:
		return d.ReadString()
	case PrimU8:
		v, err := d.U8()
		return uint64(v), err
	case PrimU16:
		v, err := d.U16()
		return uint64(v), err
	case PrimU32:
		v, err := d.U32()
		return uint64(v), err
	case PrimU64:
		return d.U64()
	case PrimU128, PrimU256:
		return d.Uint(p.Size())
	case PrimI8, PrimI16, PrimI32, PrimI64:
		v, err := d.Int(p.Size())
		if err != nil {
			return nil, err
		}
		return v.Int64(), nil
	case PrimI128, PrimI256:
		return d.Int(p.Size())
	}
	return nil, d.malformed("unknown primitive %d", p)
}

func (d *Decoder) compact(reg TypeRegistry, def CompactDef) (Value, error) {
	prim, wrap, err := compactTarget(reg, def.Elem)
	if err != nil {
		return nil, d.malformed("%v", err)
	}
	start := d.off
	n, err := d.Compact()
	if err != nil {
		return nil, err
	}
	if size := prim.Size(); size > 0 && n.BitLen() > size*8 {
		return nil, d.malformedAt(start, "compact %s overflows %s", n, prim)
	}
	var v Value = n
	if n.IsUint64() {
		v = n.Uint64()
	}
	for i := len(wrap) - 1; i >= 0; i-- {
		v = Composite{Fields: []Field{{Name: wrap[i], Value: v}}}
	}
	return v, nil
}

func (d *Decoder) bits(reg TypeRegistry, def BitSequenceDef) (Value, error) {
	storeBits, msb, err := bitLayout(reg, def)
	if err != nil {
		return nil, d.malformed("%v", err)
	}
	n, err := d.CompactLen()
	if err != nil {
		return nil, err
	}
	words := (n + storeBits - 1) / storeBits
	raw, err := d.take(words * storeBits / 8)
	if err != nil {
		return nil, err
	}
	out := make(BitSequence, n)
	for i := 0; i < n; i++ {
		w, b := i/storeBits, i%storeBits
		if msb {
			b = storeBits - 1 - b
		}
		byteIdx := w*storeBits/8 + b/8
		out[i] = raw[byteIdx]>>(uint(b)%8)&1 == 1
	}
	return out, nil
}

// Value encodes v as type id.
func (e *Encoder) Value(reg TypeRegistry, id TypeID, v Value) error {
	return e.value(reg, id, v, 0)
}

func (e *Encoder) value(reg TypeRegistry, id TypeID, v Value, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("scale: type nesting exceeds %d levels", maxDepth)
	}
	ty, ok := reg.Type(id)
	if !ok {
		return fmt.Errorf("scale: unknown type id %d", id)
	}
	mismatch := func(want string) error {
		return fmt.Errorf("scale: encode %s: expected %s, got %T", ty, want, v)
	}

	switch def := ty.Def.(type) {
	case CompositeDef:
		c, ok := v.(Composite)
		if !ok {
			return mismatch("Composite")
		}
		return e.fields(reg, ty, def.Fields, c.Fields, depth)

	case VariantDef:
		vv, ok := v.(Variant)
		if !ok {
			return mismatch("Variant")
		}
		vc, ok := def.ByName(vv.Name)
		if !ok && vv.Name == "" {
			vc, ok = def.ByIndex(vv.Index)
		}
		if !ok {
			return fmt.Errorf("scale: encode %s: no variant %q", ty, vv.Name)
		}
		e.PutU8(vc.Index)
		return e.fields(reg, ty, vc.Fields, vv.Fields, depth)

	case SequenceDef:
		if isByte(reg, def.Elem) {
			b, ok := v.([]byte)
			if !ok {
				return mismatch("[]byte")
			}
			e.PutByteSlice(b)
			return nil
		}
		elems, ok := v.([]Value)
		if !ok {
			return mismatch("[]Value")
		}
		e.PutCompactUint64(uint64(len(elems)))
		return e.elems(reg, def.Elem, elems, depth)

	case ArrayDef:
		if isByte(reg, def.Elem) {
			b, ok := v.([]byte)
			if !ok {
				return mismatch("[]byte")
			}
			if len(b) != int(def.Len) {
				return fmt.Errorf("scale: encode %s: want %d bytes, got %d", ty, def.Len, len(b))
			}
			e.PutRaw(b)
			return nil
		}
		elems, ok := v.([]Value)
		if !ok {
			return mismatch("[]Value")
		}
		if len(elems) != int(def.Len) {
			return fmt.Errorf("scale: encode %s: want %d elements, got %d", ty, def.Len, len(elems))
		}
		return e.elems(reg, def.Elem, elems, depth)

	case TupleDef:
		elems, ok := v.([]Value)
		if !ok {
			return mismatch("[]Value")
		}
		if len(elems) != len(def.Elems) {
			return fmt.Errorf("scale: encode %s: want %d elements, got %d", ty, len(def.Elems), len(elems))
		}
		for i, el := range def.Elems {
			if err := e.value(reg, el, elems[i], depth+1); err != nil {
				return err
			}
		}
		return nil

	case Primitive:
		return e.primitive(ty, def, v)

	case CompactDef:
		_, wrap, err := compactTarget(reg, def.Elem)
		if err != nil {
			return err
		}
		for range wrap {
			c, ok := v.(Composite)
			if !ok || len(c.Fields) != 1 {
				return mismatch("single-field Composite")
			}
			v = c.Fields[0].Value
		}
		n, err := toBig(v)
		if err != nil {
			return fmt.Errorf("scale: encode %s: %w", ty, err)
		}
		return e.PutCompact(n)

	case BitSequenceDef:
		bits, ok := v.(BitSequence)
		if !ok {
			return mismatch("BitSequence")
		}
		storeBits, msb, err := bitLayout(reg, def)
		if err != nil {
			return err
		}
		e.PutCompactUint64(uint64(len(bits)))
		words := (len(bits) + storeBits - 1) / storeBits
		raw := make([]byte, words*storeBits/8)
		for i, set := range bits {
			if !set {
				continue
			}
			w, b := i/storeBits, i%storeBits
			if msb {
				b = storeBits - 1 - b
			}
			raw[w*storeBits/8+b/8] |= 1 << (uint(b) % 8)
		}
		e.PutRaw(raw)
		return nil
	}
	return fmt.Errorf("scale: unsupported type definition %T for %s", ty.Def, ty)
}

func (e *Encoder) fields(reg TypeRegistry, ty *Type, defs []FieldDef, fields []Field, depth int) error {
	if len(defs) != len(fields) {
		return fmt.Errorf("scale: encode %s: want %d fields, got %d", ty, len(defs), len(fields))
	}
	for i, f := range defs {
		if err := e.value(reg, f.Type, fields[i].Value, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) elems(reg TypeRegistry, elem TypeID, elems []Value, depth int) error {
	for _, el := range elems {
		if err := e.value(reg, elem, el, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) primitive(ty *Type, p Primitive, v Value) error {
	switch p {
	case PrimBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("scale: encode %s: expected bool, got %T", ty, v)
		}
		e.PutBool(b)
		return nil
	case PrimChar:
		s, ok := v.(string)
		if !ok || utf8.RuneCountInString(s) != 1 {
			return fmt.Errorf("scale: encode %s: expected one-rune string, got %v", ty, v)
		}
		r, _ := utf8.DecodeRuneInString(s)
		e.PutU32(uint32(r))
		return nil
	case PrimStr:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("scale: encode %s: expected string, got %T", ty, v)
		}
		e.PutString(s)
		return nil
	}
	n, err := toBig(v)
	if err != nil {
		return fmt.Errorf("scale: encode %s: %w", ty, err)
	}
	if p.Signed() {
		return e.PutInt(n, p.Size())
	}
	return e.PutUint(n, p.Size())
}

func toBig(v Value) (*big.Int, error) {
	switch n := v.(type) {
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case int:
		return big.NewInt(int64(n)), nil
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("nil *big.Int")
		}
		return n, nil
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func isByte(reg TypeRegistry, id TypeID) bool {
	ty, ok := reg.Type(id)
	if !ok {
		return false
	}
	p, ok := ty.Def.(Primitive)
	return ok && p == PrimU8
}

func zeroSized(reg TypeRegistry, id TypeID) bool {
	ty, ok := reg.Type(id)
	if !ok {
		return false
	}
	switch def := ty.Def.(type) {
	case CompositeDef:
		return len(def.Fields) == 0
	case TupleDef:
		return len(def.Elems) == 0
	case ArrayDef:
		return def.Len == 0
	}
	return false
}

// compactTarget follows single-field wrappers (such as Perbill) down to the
// integer primitive a compact value is bound to.
func compactTarget(reg TypeRegistry, id TypeID) (Primitive, []string, error) {
	var wrap []string
	for i := 0; i < maxDepth; i++ {
		ty, ok := reg.Type(id)
		if !ok {
			return 0, nil, fmt.Errorf("unknown compact type id %d", id)
		}
		switch def := ty.Def.(type) {
		case Primitive:
			if def.Size() == 0 || def.Signed() || def == PrimChar {
				return 0, nil, fmt.Errorf("compact over non-integer %s", def)
			}
			return def, wrap, nil
		case CompositeDef:
			if len(def.Fields) != 1 {
				return 0, nil, fmt.Errorf("compact over %d-field composite %s", len(def.Fields), ty)
			}
			wrap = append(wrap, def.Fields[0].Name)
			id = def.Fields[0].Type
		case TupleDef:
			if len(def.Elems) != 1 {
				return 0, nil, fmt.Errorf("compact over %d-tuple", len(def.Elems))
			}
			wrap = append(wrap, "")
			id = def.Elems[0]
		default:
			return 0, nil, fmt.Errorf("compact over %s %s", def.Kind(), ty)
		}
	}
	return 0, nil, fmt.Errorf("compact wrapper nesting too deep")
}

func bitLayout(reg TypeRegistry, def BitSequenceDef) (int, bool, error) {
	store, ok := reg.Type(def.Store)
	if !ok {
		return 0, false, fmt.Errorf("unknown bit store type %d", def.Store)
	}
	p, ok := store.Def.(Primitive)
	if !ok || p.Signed() || p.Size() == 0 || p.Size() > 8 || p == PrimChar {
		return 0, false, fmt.Errorf("unsupported bit store type %s", store)
	}
	order, ok := reg.Type(def.Order)
	if !ok {
		return 0, false, fmt.Errorf("unknown bit order type %d", def.Order)
	}
	switch order.Name() {
	case "Lsb0":
		return p.Size() * 8, false, nil
	case "Msb0":
		return p.Size() * 8, true, nil
	}
	return 0, false, fmt.Errorf("unsupported bit order %s", order)
}
