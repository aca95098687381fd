package scale

import "strings"

// TypeID indexes a type in a TypeRegistry.
type TypeID = uint32

// Type is one entry of a portable type registry.
type Type struct {
	ID     TypeID
	Path   []string
	Params []TypeParam
	Def    TypeDef
}

// Name is the last path segment, or "" for anonymous types.
func (t *Type) Name() string {
	if len(t.Path) == 0 {
		return ""
	}
	return t.Path[len(t.Path)-1]
}

func (t *Type) String() string {
	if len(t.Path) == 0 {
		return t.Def.Kind().String()
	}
	return strings.Join(t.Path, "::")
}

// Param returns the type bound to the named generic parameter.
func (t *Type) Param(name string) (TypeID, bool) {
	for _, p := range t.Params {
		if p.Name == name && p.Type != nil {
			return *p.Type, true
		}
	}
	return 0, false
}

type TypeParam struct {
	Name string
	Type *TypeID
}

// TypeRegistry resolves type ids to descriptors.
type TypeRegistry interface {
	Type(id TypeID) (*Type, bool)
}

// Types is a map backed TypeRegistry.
type Types map[TypeID]*Type

func (t Types) Type(id TypeID) (*Type, bool) {
	ty, ok := t[id]
	return ty, ok
}

// Add registers def under id and returns id.
func (t Types) Add(id TypeID, path []string, def TypeDef, params ...TypeParam) TypeID {
	t[id] = &Type{ID: id, Path: path, Params: params, Def: def}
	return id
}

type DefKind uint8

const (
	KindComposite DefKind = iota
	KindVariant
	KindSequence
	KindArray
	KindTuple
	KindPrimitive
	KindCompact
	KindBitSequence
)

var defKindNames = [...]string{"composite", "variant", "sequence", "array", "tuple", "primitive", "compact", "bitsequence"}

func (k DefKind) String() string {
	if int(k) < len(defKindNames) {
		return defKindNames[k]
	}
	return "unknown"
}

// TypeDef is the closed set of shapes a type can take.
type TypeDef interface {
	Kind() DefKind
}

type FieldDef struct {
	Name     string
	Type     TypeID
	TypeName string
}

type CompositeDef struct {
	Fields []FieldDef
}

type VariantCase struct {
	Name   string
	Index  uint8
	Fields []FieldDef
}

type VariantDef struct {
	Variants []VariantCase
}

// ByIndex finds the variant encoded with index i.
func (v VariantDef) ByIndex(i uint8) (*VariantCase, bool) {
	for k := range v.Variants {
		if v.Variants[k].Index == i {
			return &v.Variants[k], true
		}
	}
	return nil, false
}

func (v VariantDef) ByName(name string) (*VariantCase, bool) {
	for k := range v.Variants {
		if v.Variants[k].Name == name {
			return &v.Variants[k], true
		}
	}
	return nil, false
}

type SequenceDef struct {
	Elem TypeID
}

type ArrayDef struct {
	Len  uint32
	Elem TypeID
}

type TupleDef struct {
	Elems []TypeID
}

type Primitive uint8

const (
	PrimBool Primitive = iota
	PrimChar
	PrimStr
	PrimU8
	PrimU16
	PrimU32
	PrimU64
	PrimU128
	PrimU256
	PrimI8
	PrimI16
	PrimI32
	PrimI64
	PrimI128
	PrimI256
)

var primitiveNames = [...]string{"bool", "char", "str", "u8", "u16", "u32", "u64", "u128", "u256", "i8", "i16", "i32", "i64", "i128", "i256"}

func (p Primitive) String() string {
	if int(p) < len(primitiveNames) {
		return primitiveNames[p]
	}
	return "unknown"
}

// Size is the fixed width in bytes of integer primitives, or 0.
func (p Primitive) Size() int {
	switch p {
	case PrimU8, PrimI8:
		return 1
	case PrimU16, PrimI16:
		return 2
	case PrimU32, PrimI32, PrimChar:
		return 4
	case PrimU64, PrimI64:
		return 8
	case PrimU128, PrimI128:
		return 16
	case PrimU256, PrimI256:
		return 32
	}
	return 0
}

func (p Primitive) Signed() bool { return p >= PrimI8 && p <= PrimI256 }

type CompactDef struct {
	Elem TypeID
}

type BitSequenceDef struct {
	Store TypeID
	Order TypeID
}

func (CompositeDef) Kind() DefKind   { return KindComposite }
func (VariantDef) Kind() DefKind     { return KindVariant }
func (SequenceDef) Kind() DefKind    { return KindSequence }
func (ArrayDef) Kind() DefKind       { return KindArray }
func (TupleDef) Kind() DefKind       { return KindTuple }
func (Primitive) Kind() DefKind      { return KindPrimitive }
func (CompactDef) Kind() DefKind     { return KindCompact }
func (BitSequenceDef) Kind() DefKind { return KindBitSequence }
