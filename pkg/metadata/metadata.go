// Package metadata parses Substrate runtime metadata and caches it per
// endpoint and runtime spec version.
package metadata

import (
	"errors"
	"fmt"

	"github.com/distribworks/xk6-substrate/pkg/scale"
)

// Magic is the "meta" prefix of every metadata blob, read as a little-endian u32.
const Magic uint32 = 0x6174656d

// SupportedVersion is the only metadata layout Parse understands.
const SupportedVersion uint8 = 14

var ErrMetadataUnavailable = errors.New("runtime metadata unavailable")

// Metadata is an immutable, parsed V14 metadata blob.
type Metadata struct {
	Version     uint8
	SpecVersion uint32
	Types       scale.Types
	Pallets     []Pallet
	Extrinsic   Extrinsic
	RuntimeType scale.TypeID
}

type Pallet struct {
	Name      string
	Index     uint8
	Storage   *Storage
	Calls     *scale.TypeID
	Events    *scale.TypeID
	Constants []Constant
	Errors    *scale.TypeID
}

type Storage struct {
	Prefix  string
	Entries []StorageEntry
}

type StorageEntry struct {
	Name     string
	Modifier uint8
	// Plain entries have no Hashers and Key is unused.
	Hashers []uint8
	Key     scale.TypeID
	Value   scale.TypeID
	Plain   bool
	Default []byte
}

type Constant struct {
	Name  string
	Type  scale.TypeID
	Value []byte
}

type SignedExtension struct {
	Identifier       string
	Type             scale.TypeID
	AdditionalSigned scale.TypeID
}

// Extrinsic describes how extrinsics are laid out for this runtime. The
// Address, Call, Signature and Extra ids are resolved from the generic
// parameters of the UncheckedExtrinsic type.
type Extrinsic struct {
	Type             scale.TypeID
	Version          uint8
	SignedExtensions []SignedExtension

	AddressType   scale.TypeID
	CallType      scale.TypeID
	SignatureType scale.TypeID
	ExtraType     scale.TypeID
}

// PalletByIndex finds a pallet by its call index.
func (m *Metadata) PalletByIndex(i uint8) (*Pallet, bool) {
	for k := range m.Pallets {
		if m.Pallets[k].Index == i {
			return &m.Pallets[k], true
		}
	}
	return nil, false
}

func (m *Metadata) PalletByName(name string) (*Pallet, bool) {
	for k := range m.Pallets {
		if m.Pallets[k].Name == name {
			return &m.Pallets[k], true
		}
	}
	return nil, false
}

func (m *Metadata) resolveExtrinsicTypes() error {
	ty, ok := m.Types.Type(m.Extrinsic.Type)
	if !ok {
		return fmt.Errorf("extrinsic type %d not in registry", m.Extrinsic.Type)
	}
	var missing []string
	lookup := func(name string) scale.TypeID {
		id, ok := ty.Param(name)
		if !ok {
			missing = append(missing, name)
		}
		return id
	}
	m.Extrinsic.AddressType = lookup("Address")
	m.Extrinsic.CallType = lookup("Call")
	m.Extrinsic.SignatureType = lookup("Signature")
	m.Extrinsic.ExtraType = lookup("Extra")
	if len(missing) > 0 {
		return fmt.Errorf("extrinsic type %s lacks parameters %v", ty, missing)
	}
	return nil
}
