// Package chaintest fakes a Substrate node on top of rpctest.Server, serving
// an in-memory chain built from the metadatatest runtime.
package chaintest

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/metadata/metadatatest"
	"github.com/distribworks/xk6-substrate/pkg/rpc"
	"github.com/distribworks/xk6-substrate/pkg/rpc/rpctest"
	"github.com/distribworks/xk6-substrate/pkg/util"
)

var errUnknownBlock = &rpc.RemoteError{Code: 4003, Message: "Client error: Unknown block"}

type Block struct {
	Header      chain.Header
	Hash        chain.Hash
	Extrinsics  [][]byte
	SpecVersion uint32
}

// Node is a single-fork chain. Blocks are appended with Produce.
type Node struct {
	*rpctest.Server

	mu        sync.Mutex
	blocks    []*Block
	byHash    map[chain.Hash]*Block
	finalized int
	forks     int
	metadata  map[uint32][]byte
	// state_getMetadata fails with metadataErr when set
	metadataErr error
}

// NewNode starts a node with a genesis block at spec version metadatatest.SpecVersion.
func NewNode() *Node {
	n := &Node{
		Server:   rpctest.NewServer(),
		byHash:   make(map[chain.Hash]*Block),
		metadata: map[uint32][]byte{metadatatest.SpecVersion: metadatatest.Blob()},
	}
	n.produce(metadatatest.SpecVersion, nil)
	n.register()
	return n
}

// SetMetadata serves blob for runtime version v.
func (n *Node) SetMetadata(v uint32, blob []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.metadata[v] = blob
}

func (n *Node) FailMetadata(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.metadataErr = err
}

// Produce appends a block carrying extrinsics, executed by runtime version
// v, and returns it.
func (n *Node) Produce(v uint32, extrinsics ...[]byte) *Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.produce(v, extrinsics)
}

func (n *Node) produce(v uint32, extrinsics [][]byte) *Block {
	b := &Block{Extrinsics: extrinsics, SpecVersion: v}
	if len(n.blocks) > 0 {
		parent := n.blocks[len(n.blocks)-1]
		b.Header.ParentHash = parent.Hash
		b.Header.Number = parent.Header.Number + 1
	}
	b.Header.StateRoot[0] = byte(len(n.blocks))
	b.Header.StateRoot[1] = byte(n.forks)
	b.Header.ExtrinsicsRoot[0] = byte(len(extrinsics))
	b.Header.Digest = []chain.DigestItem{
		{Kind: chain.DigestPreRuntime, Engine: [4]byte{'a', 'u', 'r', 'a'}, Data: []byte{byte(b.Header.Number)}},
		{Kind: chain.DigestSeal, Engine: [4]byte{'a', 'u', 'r', 'a'}, Data: make([]byte, 64)},
	}
	b.Hash = b.Header.Hash()
	n.blocks = append(n.blocks, b)
	n.byHash[b.Hash] = b
	return b
}

// Rewind drops every block above height h so that the next Produce starts a
// fork. Dropped blocks stay queryable by hash.
func (n *Node) Rewind(h int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks = n.blocks[:h+1]
	n.forks++
	if n.finalized > h {
		n.finalized = h
	}
}

// Finalize marks the block at height h final.
func (n *Node) Finalize(h int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finalized = h
}

func (n *Node) Best() *Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blocks[len(n.blocks)-1]
}

func (n *Node) BlockAt(h int) *Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blocks[h]
}

// HeaderJSON renders h the way chain_getHeader does.
func HeaderJSON(h *chain.Header) map[string]interface{} {
	logs := make([]string, 0, len(h.Digest))
	for _, item := range h.Digest {
		logs = append(logs, util.EncodeHex(item.Bytes()))
	}
	return map[string]interface{}{
		"parentHash":     h.ParentHash.Hex(),
		"number":         util.FormatHexUint64(h.Number),
		"stateRoot":      h.StateRoot.Hex(),
		"extrinsicsRoot": h.ExtrinsicsRoot.Hex(),
		"digest":         map[string]interface{}{"logs": logs},
	}
}

func (n *Node) lookup(params []json.RawMessage) (*Block, error) {
	if len(params) == 0 {
		return n.blocks[len(n.blocks)-1], nil
	}
	var h chain.Hash
	if err := json.Unmarshal(params[0], &h); err != nil {
		return nil, &rpc.RemoteError{Code: -32602, Message: err.Error()}
	}
	b, ok := n.byHash[h]
	if !ok {
		return nil, errUnknownBlock
	}
	return b, nil
}

func (n *Node) register() {
	n.Handle("chain_getBlockHash", func(params []json.RawMessage) (interface{}, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		if len(params) == 0 {
			return n.blocks[len(n.blocks)-1].Hash.Hex(), nil
		}
		var s string
		if err := json.Unmarshal(params[0], &s); err != nil {
			return nil, &rpc.RemoteError{Code: -32602, Message: err.Error()}
		}
		h, err := util.ParseHexUint64(s)
		if err != nil {
			return nil, &rpc.RemoteError{Code: -32602, Message: err.Error()}
		}
		if h >= uint64(len(n.blocks)) {
			return nil, nil
		}
		return n.blocks[h].Hash.Hex(), nil
	})
	n.Handle("chain_getFinalizedHead", func([]json.RawMessage) (interface{}, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.blocks[n.finalized].Hash.Hex(), nil
	})
	n.Handle("chain_getHeader", func(params []json.RawMessage) (interface{}, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		b, err := n.lookup(params)
		if errors.Is(err, errUnknownBlock) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return HeaderJSON(&b.Header), nil
	})
	n.Handle("chain_getBlock", func(params []json.RawMessage) (interface{}, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		b, err := n.lookup(params)
		if errors.Is(err, errUnknownBlock) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		xs := make([]string, 0, len(b.Extrinsics))
		for _, x := range b.Extrinsics {
			xs = append(xs, util.EncodeHex(x))
		}
		return map[string]interface{}{
			"block":          map[string]interface{}{"header": HeaderJSON(&b.Header), "extrinsics": xs},
			"justifications": nil,
		}, nil
	})
	n.Handle("state_getRuntimeVersion", func(params []json.RawMessage) (interface{}, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		b, err := n.lookup(params)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"specName":           "node-template",
			"implName":           "node-template",
			"authoringVersion":   1,
			"specVersion":        b.SpecVersion,
			"implVersion":        1,
			"transactionVersion": 1,
			"stateVersion":       1,
			"apis":               [][]interface{}{{"0xdf6acb689907609b", 4}},
		}, nil
	})
	n.Handle("state_getMetadata", func(params []json.RawMessage) (interface{}, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.metadataErr != nil {
			return nil, n.metadataErr
		}
		b, err := n.lookup(params)
		if err != nil {
			return nil, err
		}
		blob, ok := n.metadata[b.SpecVersion]
		if !ok {
			return nil, &rpc.RemoteError{Code: -32000, Message: "no metadata"}
		}
		return util.EncodeHex(blob), nil
	})
	n.HandleResult("chain_subscribeNewHeads", "heads-1")
	n.HandleResult("chain_unsubscribeNewHeads", true)
}

// AnnounceBest pushes the best header to websocket subscribers.
func (n *Node) AnnounceBest() {
	b := n.Best()
	n.Notify("chain_newHead", "heads-1", HeaderJSON(&b.Header))
}
