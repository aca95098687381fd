// Package chain implements the block and header queries of a Substrate node
// on top of the rpc transport, decoding extrinsics with runtime metadata.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distribworks/xk6-substrate/pkg/metadata"
	"github.com/distribworks/xk6-substrate/pkg/rpc"
	"github.com/distribworks/xk6-substrate/pkg/scale"
	"github.com/distribworks/xk6-substrate/pkg/util"
)

// Caller is the transport a Client runs on; *session.Session and rpc.Conn
// both satisfy it.
type Caller interface {
	Call(ctx context.Context, method string, out interface{}, params ...interface{}) error
	Subscribe(ctx context.Context, method, unsubscribe string, params ...interface{}) (*rpc.Subscription, error)
}

// ExtrinsicPolicy selects what Block does with extrinsic bodies.
type ExtrinsicPolicy int

const (
	// DecodeExtrinsics decodes every extrinsic and fails the block when
	// metadata is unavailable.
	DecodeExtrinsics ExtrinsicPolicy = iota
	// RawExtrinsics returns extrinsics undecoded without touching metadata.
	RawExtrinsics
)

func ParsePolicy(s string) (ExtrinsicPolicy, error) {
	switch strings.ToLower(s) {
	case "", "decode":
		return DecodeExtrinsics, nil
	case "raw":
		return RawExtrinsics, nil
	}
	return DecodeExtrinsics, fmt.Errorf("unknown extrinsics policy %q (want decode or raw)", s)
}

func (p ExtrinsicPolicy) String() string {
	if p == RawExtrinsics {
		return "raw"
	}
	return "decode"
}

type Deps struct {
	Caller Caller
	// Endpoint keys the metadata cache.
	Endpoint string
	Metadata *metadata.Registry
	Policy   ExtrinsicPolicy
	Log      logrus.FieldLogger
	// PollInterval paces SubscribeNewHeads on transports without push.
	PollInterval time.Duration
}

type Client struct {
	caller   Caller
	endpoint string
	registry *metadata.Registry
	policy   ExtrinsicPolicy
	log      logrus.FieldLogger
	poll     time.Duration
}

func New(d Deps) *Client {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Metadata == nil {
		d.Metadata = metadata.NewRegistry(d.Log)
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 2 * time.Second
	}
	return &Client{
		caller:   d.Caller,
		endpoint: d.Endpoint,
		registry: d.Metadata,
		policy:   d.Policy,
		log:      d.Log,
		poll:     d.PollInterval,
	}
}

func (c *Client) Policy() ExtrinsicPolicy { return c.policy }

// BlockHashLatest returns the hash of the best block.
func (c *Client) BlockHashLatest(ctx context.Context) (Hash, error) {
	var h Hash
	err := c.call(ctx, "chain_getBlockHash", &h)
	return h, err
}

// BlockHashAt returns the canonical hash at height n. A height beyond the
// best block fails with rpc.ErrNotFound.
func (c *Client) BlockHashAt(ctx context.Context, n uint64) (Hash, error) {
	var h Hash
	err := c.call(ctx, "chain_getBlockHash", &h, util.FormatHexUint64(n))
	return h, err
}

func (c *Client) FinalizedHead(ctx context.Context) (Hash, error) {
	var h Hash
	err := c.call(ctx, "chain_getFinalizedHead", &h)
	return h, err
}

func (c *Client) Header(ctx context.Context, hash Hash) (*Header, error) {
	var raw headerJSON
	if err := c.call(ctx, "chain_getHeader", &raw, hash.Hex()); err != nil {
		return nil, err
	}
	h := &Header{}
	if err := h.fromJSON(&raw); err != nil {
		return nil, payloadError("chain_getHeader", err)
	}
	return h, nil
}

type signedBlockJSON struct {
	Block struct {
		Header     headerJSON `json:"header"`
		Extrinsics []string   `json:"extrinsics"`
	} `json:"block"`
}

// Block fetches and decodes the block with the given hash. Under the decode
// policy extrinsics are decoded with the metadata of the runtime active at
// the parent block; any failure fails the whole block.
func (c *Client) Block(ctx context.Context, hash Hash) (*Block, error) {
	var raw signedBlockJSON
	if err := c.call(ctx, "chain_getBlock", &raw, hash.Hex()); err != nil {
		return nil, err
	}
	b := &Block{Hash: hash}
	if err := b.Header.fromJSON(&raw.Block.Header); err != nil {
		return nil, payloadError("chain_getBlock", err)
	}

	bodies := make([][]byte, len(raw.Block.Extrinsics))
	for i, s := range raw.Block.Extrinsics {
		body, err := util.DecodeHex(s)
		if err != nil {
			return nil, payloadError("chain_getBlock", fmt.Errorf("extrinsic %d: %w", i, err))
		}
		bodies[i] = body
	}

	b.Extrinsics = make([]Extrinsic, len(bodies))
	if c.policy == RawExtrinsics || len(bodies) == 0 {
		for i, body := range bodies {
			b.Extrinsics[i] = RawExtrinsic(i, body)
		}
		return b, nil
	}

	m, err := c.metadataFor(ctx, b)
	if err != nil {
		return nil, err
	}
	b.SpecVersion = m.SpecVersion
	for i, body := range bodies {
		x, err := DecodeExtrinsic(m, i, body)
		if err != nil {
			return nil, fmt.Errorf("block %s extrinsic %d: %w", hash.Hex(), i, err)
		}
		b.Extrinsics[i] = x
	}
	return b, nil
}

// metadataFor resolves the runtime that executed b. The genesis block has no
// parent and is read at its own hash.
func (c *Client) metadataFor(ctx context.Context, b *Block) (*metadata.Metadata, error) {
	at := b.Header.ParentHash
	if b.Header.Number == 0 {
		at = b.Hash
	}
	m, err := c.registry.Resolve(ctx, c.endpoint, source{c}, at.Hex())
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"block": b.Header.Number, "spec_version": m.SpecVersion}).Debug("decoding extrinsics")
	return m, nil
}

// Metadata returns the runtime metadata active at block hash at.
func (c *Client) Metadata(ctx context.Context, at Hash) (*metadata.Metadata, error) {
	return c.registry.Resolve(ctx, c.endpoint, source{c}, at.Hex())
}

// RuntimeVersion returns the runtime version at block hash at, or at the
// best block when at is nil.
func (c *Client) RuntimeVersion(ctx context.Context, at *Hash) (*RuntimeVersion, error) {
	var params []interface{}
	if at != nil {
		params = append(params, at.Hex())
	}
	var v RuntimeVersion
	if err := c.call(ctx, "state_getRuntimeVersion", &v, params...); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if err := c.caller.Call(ctx, method, out, params...); err != nil {
		c.log.WithError(err).WithField("method", method).Debug("rpc call failed")
		return err
	}
	return nil
}

// payloadError classifies a well formed envelope with a bad payload. SCALE
// failures keep their offset; anything else is a protocol error.
func payloadError(method string, err error) error {
	if errors.Is(err, scale.ErrMalformed) {
		return fmt.Errorf("%s: %w", method, err)
	}
	return fmt.Errorf("%w: %s: %v", rpc.ErrProtocol, method, err)
}

// source adapts a Client to metadata.Source.
type source struct{ c *Client }

func (s source) SpecVersion(ctx context.Context, at string) (uint32, error) {
	var params []interface{}
	if at != "" {
		params = append(params, at)
	}
	var v RuntimeVersion
	if err := s.c.call(ctx, "state_getRuntimeVersion", &v, params...); err != nil {
		return 0, err
	}
	return v.SpecVersion, nil
}

func (s source) RawMetadata(ctx context.Context, at string) ([]byte, error) {
	var params []interface{}
	if at != "" {
		params = append(params, at)
	}
	var blob string
	if err := s.c.call(ctx, "state_getMetadata", &blob, params...); err != nil {
		return nil, err
	}
	return util.DecodeHex(blob)
}
