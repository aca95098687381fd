package chain

import (
	"encoding/json"
	"fmt"

	"github.com/distribworks/xk6-substrate/pkg/scale"
	"github.com/distribworks/xk6-substrate/pkg/util"
)

const HashLen = 32

// Hash is a 32 byte block, state or extrinsic hash.
type Hash [HashLen]byte

// ParseHash decodes a 0x-prefixed 32 byte hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := util.DecodeHex(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashLen {
		return h, fmt.Errorf("invalid hash %q: %d bytes, want %d", s, len(b), HashLen)
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) Hex() string       { return util.EncodeHex(h[:]) }
func (h Hash) String() string    { return h.Hex() }
func (h Hash) IsZero() bool      { return h == Hash{} }
func (h Hash) Bytes() []byte     { return append([]byte(nil), h[:]...) }
func (h Hash) Equal(o Hash) bool { return h == o }

func (h Hash) MarshalJSON() ([]byte, error) { return json.Marshal(h.Hex()) }

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

type DigestKind uint8

const (
	DigestOther                     DigestKind = 0
	DigestConsensus                 DigestKind = 4
	DigestSeal                      DigestKind = 5
	DigestPreRuntime                DigestKind = 6
	DigestRuntimeEnvironmentUpdated DigestKind = 8
)

func (k DigestKind) String() string {
	switch k {
	case DigestOther:
		return "Other"
	case DigestConsensus:
		return "Consensus"
	case DigestSeal:
		return "Seal"
	case DigestPreRuntime:
		return "PreRuntime"
	case DigestRuntimeEnvironmentUpdated:
		return "RuntimeEnvironmentUpdated"
	}
	return fmt.Sprintf("DigestKind(%d)", uint8(k))
}

// HasEngine reports whether items of this kind carry a consensus engine id.
func (k DigestKind) HasEngine() bool {
	return k == DigestConsensus || k == DigestSeal || k == DigestPreRuntime
}

// DigestItem is one header digest log.
type DigestItem struct {
	Kind   DigestKind
	Engine [4]byte
	Data   []byte
}

// EngineID is the engine as text, e.g. "aura" or "BABE".
func (d DigestItem) EngineID() string {
	if !d.Kind.HasEngine() {
		return ""
	}
	return string(d.Engine[:])
}

type Header struct {
	ParentHash     Hash
	Number         uint64
	StateRoot      Hash
	ExtrinsicsRoot Hash
	Digest         []DigestItem
}

// Signature is the signed part of an extrinsic. Extra holds one field per
// signed extension, named by its identifier.
type Signature struct {
	Address   scale.Value
	Signature scale.Value
	Extra     []scale.Field
}

// Call is the dispatched runtime call of an extrinsic.
type Call struct {
	Pallet      string
	PalletIndex uint8
	Name        string
	CallIndex   uint8
	Args        []scale.Field
}

// Extrinsic is one entry of a block body. Raw always holds the on-chain
// encoding, length prefix included. Version, Signature and Call are only
// set when the extrinsic was decoded against runtime metadata.
type Extrinsic struct {
	Index     int
	Raw       []byte
	Hash      Hash
	Decoded   bool
	Version   uint8
	Signed    bool
	Signature *Signature
	Call      *Call
}

type Block struct {
	Hash       Hash
	Header     Header
	Extrinsics []Extrinsic
	// SpecVersion is the runtime the extrinsics were decoded with, 0 when
	// nothing needed decoding.
	SpecVersion uint32
}

type RuntimeVersion struct {
	SpecName           string `json:"specName"`
	ImplName           string `json:"implName"`
	AuthoringVersion   uint32 `json:"authoringVersion"`
	SpecVersion        uint32 `json:"specVersion"`
	ImplVersion        uint32 `json:"implVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
	StateVersion       uint8  `json:"stateVersion"`
}
