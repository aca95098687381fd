package substrate

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
	"go.k6.io/k6/js/common"
	"go.k6.io/k6/js/modules"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/config"
	"github.com/distribworks/xk6-substrate/pkg/session"
)

// Client is the object scripts get from `new Client({...})`. Every method
// blocks the calling VU until the node answers or the timeout expires.
//
// A client built during an iteration is released when the next iteration
// constructs its first client, or when the VU stops. Clients built in the
// init context last for the VU. close() releases a client immediately.
type Client struct {
	vu      modules.VU
	opts    config.Options
	metrics substrateMetrics
	session *session.Session
	chain   *chain.Client
	log     logrus.FieldLogger
}

func (c *Client) ctx() context.Context {
	if ctx := c.vu.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// throw raises err in the VU runtime prefixed with its kind, e.g.
// "Timeout: chain_getBlock: ...".
func (c *Client) throw(err error) {
	common.Throw(c.vu.Runtime(), fmt.Errorf("%s: %w", chain.KindOf(err), err))
}

// GetBlockHashLatest returns the hash of the best block.
func (c *Client) GetBlockHashLatest() *Hash {
	defer c.reportCall("getBlockHashLatest", time.Now())
	h, err := c.chain.BlockHashLatest(c.ctx())
	if err != nil {
		c.throw(err)
	}
	return newHash(h)
}

// GetBlockHashAt returns the canonical hash at the given height.
func (c *Client) GetBlockHashAt(number int64) *Hash {
	if number < 0 {
		c.throw(fmt.Errorf("invalid block number %d", number))
	}
	defer c.reportCall("getBlockHashAt", time.Now())
	h, err := c.chain.BlockHashAt(c.ctx(), uint64(number))
	if err != nil {
		c.throw(err)
	}
	return newHash(h)
}

func (c *Client) GetFinalizedHead() *Hash {
	defer c.reportCall("getFinalizedHead", time.Now())
	h, err := c.chain.FinalizedHead(c.ctx())
	if err != nil {
		c.throw(err)
	}
	return newHash(h)
}

// GetBlock fetches a block by hash. hash is a Hash or a hex string.
func (c *Client) GetBlock(hash goja.Value) map[string]interface{} {
	h := c.hashArg(hash)
	defer c.reportCall("getBlock", time.Now())
	b, err := c.chain.Block(c.ctx(), h)
	if err != nil {
		c.throw(err)
	}
	c.reportBlock(len(b.Extrinsics))
	return blockObject(b)
}

func (c *Client) GetHeader(hash goja.Value) map[string]interface{} {
	h := c.hashArg(hash)
	defer c.reportCall("getHeader", time.Now())
	header, err := c.chain.Header(c.ctx(), h)
	if err != nil {
		c.throw(err)
	}
	return headerObject(header)
}

// GetRuntimeVersion returns the runtime version at hash, or at the best
// block when called without arguments.
func (c *Client) GetRuntimeVersion(hash goja.Value) map[string]interface{} {
	var at *chain.Hash
	if hash != nil && !goja.IsUndefined(hash) && !goja.IsNull(hash) {
		h := c.hashArg(hash)
		at = &h
	}
	defer c.reportCall("getRuntimeVersion", time.Now())
	v, err := c.chain.RuntimeVersion(c.ctx(), at)
	if err != nil {
		c.throw(err)
	}
	return runtimeVersionObject(v)
}

// Close releases the client's share of the connection. Later calls fail.
func (c *Client) Close() {
	if c.session.Released() {
		return
	}
	c.session.Release()
	c.log.Debug("client closed")
}

func (c *Client) hashArg(v goja.Value) chain.Hash {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		c.throw(fmt.Errorf("a block hash is required"))
	}
	switch x := v.Export().(type) {
	case *Hash:
		return x.h
	case string:
		h, err := chain.ParseHash(x)
		if err != nil {
			c.throw(err)
		}
		return h
	}
	c.throw(fmt.Errorf("invalid block hash %s", v.String()))
	return chain.Hash{}
}
