package scale

// Value is a decoded SCALE value. Depending on the descriptor it is one of:
//
//	bool, string, uint64, int64, *big.Int (128/256-bit and large compacts),
//	[]byte (u8 sequences and arrays), []Value (sequences, arrays, tuples),
//	Composite, Variant, BitSequence.
type Value = interface{}

// Field is one named or positional member of a Composite or Variant.
type Field struct {
	Name  string
	Value Value
}

type Composite struct {
	Fields []Field
}

// Get returns the field called name.
func (c Composite) Get(name string) (Value, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Named reports whether every field has a name.
func (c Composite) Named() bool {
	for _, f := range c.Fields {
		if f.Name == "" {
			return false
		}
	}
	return len(c.Fields) > 0
}

type Variant struct {
	Name   string
	Index  uint8
	Fields []Field
}

func (v Variant) Get(name string) (Value, bool) {
	return Composite{Fields: v.Fields}.Get(name)
}

// BitSequence holds decoded bits in logical order.
type BitSequence []bool
