package chain

import (
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/distribworks/xk6-substrate/pkg/scale"
	"github.com/distribworks/xk6-substrate/pkg/util"
)

type headerJSON struct {
	ParentHash     string `json:"parentHash"`
	Number         string `json:"number"`
	StateRoot      string `json:"stateRoot"`
	ExtrinsicsRoot string `json:"extrinsicsRoot"`
	Digest         struct {
		Logs []string `json:"logs"`
	} `json:"digest"`
}

// UnmarshalJSON reads the header object returned by chain_getHeader.
func (h *Header) UnmarshalJSON(data []byte) error {
	var raw headerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return h.fromJSON(&raw)
}

// MarshalJSON writes h in the chain_getHeader format.
func (h Header) MarshalJSON() ([]byte, error) {
	raw := headerJSON{
		ParentHash:     h.ParentHash.Hex(),
		Number:         util.FormatHexUint64(h.Number),
		StateRoot:      h.StateRoot.Hex(),
		ExtrinsicsRoot: h.ExtrinsicsRoot.Hex(),
	}
	raw.Digest.Logs = make([]string, 0, len(h.Digest))
	for _, item := range h.Digest {
		raw.Digest.Logs = append(raw.Digest.Logs, util.EncodeHex(item.Bytes()))
	}
	return json.Marshal(raw)
}

func (h *Header) fromJSON(raw *headerJSON) error {
	var err error
	if h.ParentHash, err = ParseHash(raw.ParentHash); err != nil {
		return fmt.Errorf("parentHash: %w", err)
	}
	if h.Number, err = util.ParseHexUint64(raw.Number); err != nil {
		return fmt.Errorf("number: %w", err)
	}
	if h.StateRoot, err = ParseHash(raw.StateRoot); err != nil {
		return fmt.Errorf("stateRoot: %w", err)
	}
	if h.ExtrinsicsRoot, err = ParseHash(raw.ExtrinsicsRoot); err != nil {
		return fmt.Errorf("extrinsicsRoot: %w", err)
	}
	h.Digest = make([]DigestItem, 0, len(raw.Digest.Logs))
	for i, log := range raw.Digest.Logs {
		b, err := util.DecodeHex(log)
		if err != nil {
			return fmt.Errorf("digest log %d: %w", i, err)
		}
		item, err := DecodeDigestItem(b)
		if err != nil {
			return fmt.Errorf("digest log %d: %w", i, err)
		}
		h.Digest = append(h.Digest, item)
	}
	return nil
}

// DecodeDigestItem decodes one SCALE encoded digest log.
func DecodeDigestItem(b []byte) (DigestItem, error) {
	d := scale.NewDecoder(b)
	var item DigestItem
	if err := item.decode(d); err != nil {
		return item, err
	}
	if d.Remaining() != 0 {
		return item, &scale.MalformedError{Offset: d.Offset(), Reason: "trailing bytes after digest item"}
	}
	return item, nil
}

func (item *DigestItem) decode(d *scale.Decoder) error {
	start := d.Offset()
	kind, err := d.U8()
	if err != nil {
		return err
	}
	item.Kind = DigestKind(kind)
	switch item.Kind {
	case DigestConsensus, DigestSeal, DigestPreRuntime:
		engine, err := d.ReadBytes(4)
		if err != nil {
			return err
		}
		copy(item.Engine[:], engine)
		item.Data, err = d.ByteSlice()
		return err
	case DigestOther:
		item.Data, err = d.ByteSlice()
		return err
	case DigestRuntimeEnvironmentUpdated:
		return nil
	}
	return &scale.MalformedError{Offset: start, Reason: fmt.Sprintf("unknown digest item kind %d", kind)}
}

func (item DigestItem) encode(e *scale.Encoder) {
	e.PutU8(uint8(item.Kind))
	switch {
	case item.Kind.HasEngine():
		e.PutRaw(item.Engine[:])
		e.PutByteSlice(item.Data)
	case item.Kind == DigestOther:
		e.PutByteSlice(item.Data)
	}
}

// Bytes is the SCALE encoding of the item, as found in digest logs.
func (item DigestItem) Bytes() []byte {
	e := scale.NewEncoder()
	item.encode(e)
	return e.Bytes()
}

// Encode returns the SCALE encoding of the header, the preimage of its hash.
func (h *Header) Encode() []byte {
	e := scale.NewEncoder()
	e.PutRaw(h.ParentHash[:])
	e.PutCompactUint64(h.Number)
	e.PutRaw(h.StateRoot[:])
	e.PutRaw(h.ExtrinsicsRoot[:])
	e.PutCompactUint64(uint64(len(h.Digest)))
	for _, item := range h.Digest {
		item.encode(e)
	}
	return e.Bytes()
}

// Hash is the blake2b-256 hash of the encoded header, which is the block
// hash on chains using the default hasher.
func (h *Header) Hash() Hash {
	return Hash(blake2b.Sum256(h.Encode()))
}

// DecodeHeader reads a SCALE encoded header.
func DecodeHeader(b []byte) (*Header, error) {
	d := scale.NewDecoder(b)
	h := &Header{}
	parent, err := d.ReadBytes(HashLen)
	if err != nil {
		return nil, err
	}
	copy(h.ParentHash[:], parent)
	if h.Number, err = d.CompactUint64(); err != nil {
		return nil, err
	}
	state, err := d.ReadBytes(HashLen)
	if err != nil {
		return nil, err
	}
	copy(h.StateRoot[:], state)
	root, err := d.ReadBytes(HashLen)
	if err != nil {
		return nil, err
	}
	copy(h.ExtrinsicsRoot[:], root)
	n, err := d.CompactLen()
	if err != nil {
		return nil, err
	}
	if n > d.Remaining() {
		return nil, &scale.MalformedError{Offset: d.Offset(), Reason: fmt.Sprintf("digest of %d items exceeds buffer", n)}
	}
	h.Digest = make([]DigestItem, n)
	for i := range h.Digest {
		if err := h.Digest[i].decode(d); err != nil {
			return nil, err
		}
	}
	if d.Remaining() != 0 {
		return nil, &scale.MalformedError{Offset: d.Offset(), Reason: "trailing bytes after header"}
	}
	return h, nil
}
