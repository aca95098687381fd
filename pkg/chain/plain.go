package chain

import (
	"math/big"

	"github.com/distribworks/xk6-substrate/pkg/scale"
	"github.com/distribworks/xk6-substrate/pkg/util"
)

// MaxSafeInteger is the largest integer a JS number (or float64) holds exactly.
const MaxSafeInteger = 1<<53 - 1

// Plain projects a decoded value onto JSON shapes: maps, lists, strings,
// bools and int64. Byte strings become hex, integers beyond MaxSafeInteger
// become decimal strings, and enum variants become their name or
// {name: payload}.
func Plain(v scale.Value) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, string:
		return x
	case int64:
		if x > MaxSafeInteger || x < -MaxSafeInteger {
			return big.NewInt(x).String()
		}
		return x
	case uint64:
		if x > MaxSafeInteger {
			return new(big.Int).SetUint64(x).String()
		}
		return int64(x)
	case *big.Int:
		if x.IsInt64() {
			return Plain(x.Int64())
		}
		return x.String()
	case []byte:
		return util.EncodeHex(x)
	case []scale.Value:
		list := make([]interface{}, 0, len(x))
		for _, e := range x {
			list = append(list, Plain(e))
		}
		return list
	case scale.Composite:
		return PlainFields(x.Fields)
	case scale.Variant:
		if len(x.Fields) == 0 {
			return x.Name
		}
		return map[string]interface{}{x.Name: PlainFields(x.Fields)}
	case scale.BitSequence:
		list := make([]interface{}, 0, len(x))
		for _, b := range x {
			list = append(list, b)
		}
		return list
	}
	return v
}

// PlainFields renders named fields as an object and positional ones as a
// list. A lone positional field is unwrapped.
func PlainFields(fields []scale.Field) interface{} {
	if len(fields) == 0 {
		return map[string]interface{}{}
	}
	if (scale.Composite{Fields: fields}).Named() {
		obj := make(map[string]interface{}, len(fields))
		for _, f := range fields {
			obj[f.Name] = Plain(f.Value)
		}
		return obj
	}
	if len(fields) == 1 {
		return Plain(fields[0].Value)
	}
	list := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		list = append(list, Plain(f.Value))
	}
	return list
}

// PlainExtrinsic renders x for scripts and storage. Undecoded extrinsics
// carry their raw bytes instead of call and signature.
func PlainExtrinsic(x *Extrinsic) map[string]interface{} {
	obj := map[string]interface{}{
		"index": x.Index,
		"hash":  x.Hash.Hex(),
	}
	if !x.Decoded {
		obj["raw"] = util.EncodeHex(x.Raw)
		return obj
	}
	obj["version"] = x.Version
	obj["signed"] = x.Signed
	if x.Signature != nil {
		obj["signature"] = map[string]interface{}{
			"address":   Plain(x.Signature.Address),
			"signature": Plain(x.Signature.Signature),
			"extra":     PlainFields(x.Signature.Extra),
		}
	}
	if x.Call != nil {
		obj["call"] = map[string]interface{}{
			"pallet":      x.Call.Pallet,
			"palletIndex": x.Call.PalletIndex,
			"name":        x.Call.Name,
			"callIndex":   x.Call.CallIndex,
			"args":        PlainFields(x.Call.Args),
		}
	}
	return obj
}
