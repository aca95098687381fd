// Package metadatatest provides a small V14 runtime fixture and helpers that
// encode extrinsics against it.
package metadatatest

import (
	"math/big"

	"github.com/distribworks/xk6-substrate/pkg/metadata"
	"github.com/distribworks/xk6-substrate/pkg/scale"
)

// SpecVersion is the runtime version the fixture claims to describe.
const SpecVersion = 100

const (
	TU8 scale.TypeID = iota
	TU32
	TU64
	TU128
	TCompactU32
	TCompactU64
	TCompactU128
	TBytes
	TArray32
	TArray64
	TAccountID
	TMultiAddress
	TMultiSignature
	TEra
	TCheckMortality
	TCheckNonce
	TChargePayment
	TUnit
	TExtra
	TTimestampCall
	TBalancesCall
	TRuntimeCall
	TUncheckedExtrinsic
	TRuntime
	TEmpty
)

const (
	TimestampIndex = 3
	BalancesIndex  = 5
)

func id(v scale.TypeID) *scale.TypeID { return &v }

// Types returns the fixture type registry.
func Types() scale.Types {
	ts := scale.Types{}
	ts.Add(TU8, nil, scale.PrimU8)
	ts.Add(TU32, nil, scale.PrimU32)
	ts.Add(TU64, nil, scale.PrimU64)
	ts.Add(TU128, nil, scale.PrimU128)
	ts.Add(TCompactU32, nil, scale.CompactDef{Elem: TU32})
	ts.Add(TCompactU64, nil, scale.CompactDef{Elem: TU64})
	ts.Add(TCompactU128, nil, scale.CompactDef{Elem: TU128})
	ts.Add(TBytes, nil, scale.SequenceDef{Elem: TU8})
	ts.Add(TArray32, nil, scale.ArrayDef{Len: 32, Elem: TU8})
	ts.Add(TArray64, nil, scale.ArrayDef{Len: 64, Elem: TU8})
	ts.Add(TAccountID, []string{"sp_core", "crypto", "AccountId32"}, scale.CompositeDef{Fields: []scale.FieldDef{
		{Type: TArray32, TypeName: "[u8; 32]"},
	}})
	ts.Add(TMultiAddress, []string{"sp_runtime", "multiaddress", "MultiAddress"}, scale.VariantDef{Variants: []scale.VariantCase{
		{Name: "Id", Index: 0, Fields: []scale.FieldDef{{Type: TAccountID, TypeName: "AccountId"}}},
		{Name: "Raw", Index: 3, Fields: []scale.FieldDef{{Type: TBytes, TypeName: "Vec<u8>"}}},
	}})
	ts.Add(TMultiSignature, []string{"sp_runtime", "MultiSignature"}, scale.VariantDef{Variants: []scale.VariantCase{
		{Name: "Ed25519", Index: 0, Fields: []scale.FieldDef{{Type: TArray64}}},
		{Name: "Sr25519", Index: 1, Fields: []scale.FieldDef{{Type: TArray64}}},
	}})
	ts.Add(TEra, []string{"sp_runtime", "generic", "era", "Era"}, scale.VariantDef{Variants: []scale.VariantCase{
		{Name: "Immortal", Index: 0},
		{Name: "Mortal1", Index: 1, Fields: []scale.FieldDef{{Type: TU8}}},
	}})
	ts.Add(TCheckMortality, []string{"frame_system", "extensions", "check_mortality", "CheckMortality"}, scale.CompositeDef{Fields: []scale.FieldDef{
		{Type: TEra, TypeName: "Era"},
	}})
	ts.Add(TCheckNonce, []string{"frame_system", "extensions", "check_nonce", "CheckNonce"}, scale.CompositeDef{Fields: []scale.FieldDef{
		{Type: TCompactU32, TypeName: "T::Index"},
	}})
	ts.Add(TChargePayment, []string{"pallet_transaction_payment", "ChargeTransactionPayment"}, scale.CompositeDef{Fields: []scale.FieldDef{
		{Type: TCompactU128, TypeName: "BalanceOf<T>"},
	}})
	ts.Add(TUnit, nil, scale.TupleDef{})
	ts.Add(TExtra, nil, scale.TupleDef{Elems: []scale.TypeID{TEmpty, TCheckMortality, TCheckNonce, TChargePayment}})
	ts.Add(TTimestampCall, []string{"pallet_timestamp", "pallet", "Call"}, scale.VariantDef{Variants: []scale.VariantCase{
		{Name: "set", Index: 0, Fields: []scale.FieldDef{{Name: "now", Type: TCompactU64, TypeName: "T::Moment"}}},
	}})
	ts.Add(TBalancesCall, []string{"pallet_balances", "pallet", "Call"}, scale.VariantDef{Variants: []scale.VariantCase{
		{Name: "transfer_allow_death", Index: 0, Fields: []scale.FieldDef{
			{Name: "dest", Type: TMultiAddress},
			{Name: "value", Type: TCompactU128},
		}},
		{Name: "transfer_keep_alive", Index: 3, Fields: []scale.FieldDef{
			{Name: "dest", Type: TMultiAddress},
			{Name: "value", Type: TCompactU128},
		}},
	}})
	ts.Add(TRuntimeCall, []string{"node_runtime", "RuntimeCall"}, scale.VariantDef{Variants: []scale.VariantCase{
		{Name: "Timestamp", Index: TimestampIndex, Fields: []scale.FieldDef{{Type: TTimestampCall}}},
		{Name: "Balances", Index: BalancesIndex, Fields: []scale.FieldDef{{Type: TBalancesCall}}},
	}})
	ts.Add(TUncheckedExtrinsic, []string{"sp_runtime", "generic", "unchecked_extrinsic", "UncheckedExtrinsic"},
		scale.CompositeDef{Fields: []scale.FieldDef{{Type: TBytes}}},
		scale.TypeParam{Name: "Address", Type: id(TMultiAddress)},
		scale.TypeParam{Name: "Call", Type: id(TRuntimeCall)},
		scale.TypeParam{Name: "Signature", Type: id(TMultiSignature)},
		scale.TypeParam{Name: "Extra", Type: id(TExtra)},
	)
	ts.Add(TRuntime, []string{"node_runtime", "Runtime"}, scale.CompositeDef{})
	ts.Add(TEmpty, []string{"frame_system", "extensions", "check_genesis", "CheckGenesis"}, scale.CompositeDef{})
	return ts
}

// Metadata returns a freshly built fixture. Callers may modify it.
func Metadata() *metadata.Metadata {
	ed := new(big.Int).SetUint64(500)
	edBytes, _ := scale.Encode(scale.Types{0: {Def: scale.PrimU128}}, 0, ed)
	m := &metadata.Metadata{
		Version:     metadata.SupportedVersion,
		SpecVersion: SpecVersion,
		Types:       Types(),
		Pallets: []metadata.Pallet{
			{
				Name:  "System",
				Index: 0,
				Storage: &metadata.Storage{Prefix: "System", Entries: []metadata.StorageEntry{
					{Name: "Number", Plain: true, Value: TU32, Default: []byte{0, 0, 0, 0}},
					{Name: "BlockHash", Hashers: []uint8{3}, Key: TU32, Value: TArray32, Default: make([]byte, 32)},
				}},
			},
			{Name: "Timestamp", Index: TimestampIndex, Calls: id(TTimestampCall)},
			{
				Name:      "Balances",
				Index:     BalancesIndex,
				Calls:     id(TBalancesCall),
				Constants: []metadata.Constant{{Name: "ExistentialDeposit", Type: TU128, Value: edBytes}},
			},
		},
		Extrinsic: metadata.Extrinsic{
			Type:    TUncheckedExtrinsic,
			Version: 4,
			SignedExtensions: []metadata.SignedExtension{
				{Identifier: "CheckGenesis", Type: TEmpty, AdditionalSigned: TArray32},
				{Identifier: "CheckMortality", Type: TCheckMortality, AdditionalSigned: TArray32},
				{Identifier: "CheckNonce", Type: TCheckNonce, AdditionalSigned: TUnit},
				{Identifier: "ChargeTransactionPayment", Type: TChargePayment, AdditionalSigned: TUnit},
			},
			AddressType:   TMultiAddress,
			CallType:      TRuntimeCall,
			SignatureType: TMultiSignature,
			ExtraType:     TExtra,
		},
		RuntimeType: TRuntime,
	}
	return m
}

// Blob returns the encoded fixture, as state_getMetadata would.
func Blob() []byte {
	b, err := Metadata().Encode()
	if err != nil {
		panic(err)
	}
	return b
}

// TimestampSet encodes an unsigned Timestamp.set extrinsic, length prefix included.
func TimestampSet(now uint64) []byte {
	body := scale.NewEncoder()
	body.PutU8(4)
	body.PutU8(TimestampIndex)
	body.PutU8(0)
	body.PutCompactUint64(now)
	return wrap(body.Bytes())
}

// Transfer encodes a signed Balances.transfer_keep_alive extrinsic from
// signer to dest with an immortal era.
func Transfer(signer, dest [32]byte, value uint64, nonce uint32, tip uint64) []byte {
	body := scale.NewEncoder()
	body.PutU8(0x84)

	// MultiAddress::Id
	body.PutU8(0)
	body.PutRaw(signer[:])
	// MultiSignature::Sr25519
	body.PutU8(1)
	sig := make([]byte, 64)
	for i := range sig {
		sig[i] = byte(i)
	}
	body.PutRaw(sig)
	// Extra: Era::Immortal, nonce, tip
	body.PutU8(0)
	body.PutCompactUint64(uint64(nonce))
	body.PutCompactUint64(tip)

	body.PutU8(BalancesIndex)
	body.PutU8(3)
	body.PutU8(0)
	body.PutRaw(dest[:])
	body.PutCompactUint64(value)
	return wrap(body.Bytes())
}

func wrap(body []byte) []byte {
	e := scale.NewEncoder()
	e.PutByteSlice(body)
	return e.Bytes()
}
