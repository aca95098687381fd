// Package substrate is the k6/x/substrate extension: a Substrate node client
// for k6 scripts.
//
//	xk6 build --with github.com/distribworks/xk6-substrate
package substrate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
	"go.k6.io/k6/js/common"
	"go.k6.io/k6/js/modules"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/config"
	"github.com/distribworks/xk6-substrate/pkg/metadata"
	"github.com/distribworks/xk6-substrate/pkg/rpc"
	"github.com/distribworks/xk6-substrate/pkg/session"
)

func init() {
	modules.Register("k6/x/substrate", New())
}

// RootModule holds the state shared by every VU: the connection hub and the
// metadata cache.
type RootModule struct {
	dial session.DialFunc

	once     sync.Once
	hub      *session.Hub
	registry *metadata.Registry
}

func New() *RootModule {
	return &RootModule{dial: rpc.Dial}
}

func (r *RootModule) shared(log logrus.FieldLogger) (*session.Hub, *metadata.Registry) {
	r.once.Do(func() {
		r.hub = session.NewHub(r.dial, log)
		r.registry = metadata.NewRegistry(log)
	})
	return r.hub, r.registry
}

// NewModuleInstance implements the modules.Module interface returning a new instance for each VU.
func (r *RootModule) NewModuleInstance(vu modules.VU) modules.Instance {
	env := vu.InitEnv()
	m, err := registerMetrics(env.Registry)
	if err != nil {
		common.Throw(vu.Runtime(), err)
	}
	hub, registry := r.shared(env.Logger)
	return &ModuleInstance{
		vu:       vu,
		m:        m,
		hub:      hub,
		registry: registry,
		log:      env.Logger,
	}
}

type ModuleInstance struct {
	vu       modules.VU
	m        substrateMetrics
	hub      *session.Hub
	registry *metadata.Registry
	log      logrus.FieldLogger

	mu      sync.Mutex
	clients []ownedClient
	watched context.Context
}

// ownedClient records where a client was constructed. iter is -1 for clients
// built in the init context, which live as long as the VU.
type ownedClient struct {
	c    *Client
	iter int64
	ctx  context.Context
}

// Exports implements the modules.Instance interface and returns the exported types for the JS module.
func (mi *ModuleInstance) Exports() modules.Exports {
	return modules.Exports{Named: map[string]interface{}{
		"Client": mi.NewClient,
	}}
}

// NewClient is the JS Client constructor. It does no network I/O unless the
// eager option is set.
func (mi *ModuleInstance) NewClient(call goja.ConstructorCall) *goja.Object {
	rt := mi.vu.Runtime()
	mi.sweep()

	var optionsArg map[string]interface{}
	if len(call.Arguments) > 0 && !goja.IsUndefined(call.Arguments[0]) && !goja.IsNull(call.Arguments[0]) {
		if err := rt.ExportTo(call.Arguments[0], &optionsArg); err != nil {
			common.Throw(rt, errors.New("unable to parse options object"))
		}
	}

	opts, err := config.ParseOptions(optionsArg)
	if err != nil {
		common.Throw(rt, fmt.Errorf("invalid options; reason: %w", err))
	}
	policy, err := chain.ParsePolicy(opts.Extrinsics)
	if err != nil {
		common.Throw(rt, fmt.Errorf("invalid options; reason: %w", err))
	}
	ep, err := rpc.ParseEndpoint(opts.URL, opts.TimeoutDuration())
	if err != nil {
		common.Throw(rt, fmt.Errorf("invalid options; reason: %w", err))
	}

	sess := mi.hub.Acquire(ep)
	log := mi.log.WithFields(logrus.Fields{"session": sess.ID, "endpoint": ep.Key()})
	client := &Client{
		vu:      mi.vu,
		opts:    opts,
		metrics: mi.m,
		session: sess,
		log:     log,
		chain: chain.New(chain.Deps{
			Caller:   sess,
			Endpoint: ep.Key(),
			Metadata: mi.registry,
			Policy:   policy,
			Log:      log,
		}),
	}

	mi.track(client)

	if opts.Eager {
		if err := sess.Open(client.ctx()); err != nil {
			sess.Release()
			client.throw(err)
		}
	}

	return rt.ToValue(client).ToObject(rt)
}

// track registers c for release at the end of its iteration, or when the VU
// context ends. One watcher goroutine runs per VU context.
func (mi *ModuleInstance) track(c *Client) {
	iter := int64(-1)
	if state := mi.vu.State(); state != nil {
		iter = state.Iteration
	}
	ctx := c.ctx()

	mi.mu.Lock()
	mi.clients = append(mi.clients, ownedClient{c: c, iter: iter, ctx: ctx})
	start := ctx.Done() != nil && ctx != mi.watched
	if start {
		mi.watched = ctx
	}
	mi.mu.Unlock()

	if start {
		go mi.watch(ctx)
	}
}

func (mi *ModuleInstance) watch(ctx context.Context) {
	<-ctx.Done()
	mi.release(func(o ownedClient) bool { return o.ctx == ctx })
}

// sweep releases the clients constructed by an earlier iteration, and
// forgets the ones already closed by the script.
func (mi *ModuleInstance) sweep() {
	state := mi.vu.State()
	mi.release(func(o ownedClient) bool {
		if o.c.session.Released() {
			return true
		}
		return state != nil && o.iter >= 0 && o.iter != state.Iteration
	})
}

func (mi *ModuleInstance) release(match func(ownedClient) bool) {
	var done []*Client
	mi.mu.Lock()
	kept := mi.clients[:0]
	for _, o := range mi.clients {
		if match(o) {
			done = append(done, o.c)
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(mi.clients); i++ {
		mi.clients[i] = ownedClient{}
	}
	mi.clients = kept
	mi.mu.Unlock()

	for _, c := range done {
		c.Close()
	}
}
