package substrate

import (
	"encoding/json"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/util"
)

// Hash is the script-visible form of a block hash.
type Hash struct {
	h chain.Hash
}

func newHash(h chain.Hash) *Hash { return &Hash{h: h} }

// Hex returns the lowercase 0x-prefixed hex form.
func (h *Hash) Hex() string { return h.h.Hex() }

func (h *Hash) ToString() string { return h.h.Hex() }

func (h *Hash) MarshalJSON() ([]byte, error) { return json.Marshal(h.h.Hex()) }

func headerObject(h *chain.Header) map[string]interface{} {
	digest := make([]interface{}, 0, len(h.Digest))
	for _, item := range h.Digest {
		d := map[string]interface{}{
			"kind": item.Kind.String(),
			"data": util.EncodeHex(item.Data),
		}
		if item.Kind.HasEngine() {
			d["engine"] = item.EngineID()
		}
		digest = append(digest, d)
	}
	return map[string]interface{}{
		"hash":           h.Hash().Hex(),
		"parentHash":     h.ParentHash.Hex(),
		"number":         h.Number,
		"stateRoot":      h.StateRoot.Hex(),
		"extrinsicsRoot": h.ExtrinsicsRoot.Hex(),
		"digest":         digest,
	}
}

func blockObject(b *chain.Block) map[string]interface{} {
	xs := make([]interface{}, 0, len(b.Extrinsics))
	for i := range b.Extrinsics {
		xs = append(xs, chain.PlainExtrinsic(&b.Extrinsics[i]))
	}
	return map[string]interface{}{
		"hash":        b.Hash.Hex(),
		"number":      b.Header.Number,
		"header":      headerObject(&b.Header),
		"extrinsics":  xs,
		"specVersion": b.SpecVersion,
	}
}

func runtimeVersionObject(v *chain.RuntimeVersion) map[string]interface{} {
	return map[string]interface{}{
		"specName":           v.SpecName,
		"implName":           v.ImplName,
		"authoringVersion":   v.AuthoringVersion,
		"specVersion":        v.SpecVersion,
		"implVersion":        v.ImplVersion,
		"transactionVersion": v.TransactionVersion,
		"stateVersion":       v.StateVersion,
	}
}
