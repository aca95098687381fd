// Command substrate-probe queries and benchmarks Substrate RPC endpoints
// through the same client stack the k6 extension uses.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/config"
	"github.com/distribworks/xk6-substrate/pkg/metadata"
	"github.com/distribworks/xk6-substrate/pkg/rpc"
	"github.com/distribworks/xk6-substrate/pkg/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type probe struct {
	cfgPath  string
	endpoint string
	url      string
	logLevel string

	log      *logrus.Logger
	cfg      *config.File
	hub      *session.Hub
	registry *metadata.Registry
}

func newRootCmd() *cobra.Command {
	p := &probe{log: logrus.New()}

	root := &cobra.Command{
		Use:   "substrate-probe",
		Short: "Query and benchmark Substrate RPC endpoints",
		Long: `Query blocks and headers from Substrate nodes and measure RPC latency.

Endpoints come from a YAML config file, or from --url for a one-off node.

Examples:
  substrate-probe head
  substrate-probe block 1200 --endpoint local
  substrate-probe bench --url ws://127.0.0.1:9944 --method block`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return p.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&p.cfgPath, "config", "probe.yaml", "Config file path")
	root.PersistentFlags().StringVar(&p.endpoint, "endpoint", "", "Use a single named endpoint from the config")
	root.PersistentFlags().StringVar(&p.url, "url", "", "Node URL; overrides the config file")
	root.PersistentFlags().StringVar(&p.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		headCmd(p),
		hashCmd(p),
		headerCmd(p),
		blockCmd(p),
		benchCmd(p),
	)
	return root
}

func (p *probe) setup(cmd *cobra.Command) error {
	level, err := logrus.ParseLevel(p.logLevel)
	if err != nil {
		return err
	}
	p.log.SetLevel(level)
	p.log.SetOutput(cmd.ErrOrStderr())

	if p.url != "" {
		cfg := &config.File{Endpoints: []config.Endpoint{{Name: "cli", URL: p.url}}}
		if err := cfg.Validate(); err != nil {
			return err
		}
		p.cfg = cfg
	} else {
		cfg, err := config.Load(p.cfgPath)
		if err != nil {
			return err
		}
		p.cfg = cfg
	}

	p.hub = session.NewHub(rpc.Dial, p.log)
	p.registry = metadata.NewRegistry(p.log)
	return nil
}

// targets returns the endpoints a multi-endpoint command runs against.
func (p *probe) targets() ([]config.Endpoint, error) {
	if p.endpoint == "" {
		return p.cfg.Endpoints, nil
	}
	ep, ok := p.cfg.Lookup(p.endpoint)
	if !ok {
		return nil, fmt.Errorf("endpoint %q not found in config", p.endpoint)
	}
	return []config.Endpoint{ep}, nil
}

// target returns the endpoint a single-endpoint command runs against: the
// one named by --endpoint, or the first configured.
func (p *probe) target() (config.Endpoint, error) {
	eps, err := p.targets()
	if err != nil {
		return config.Endpoint{}, err
	}
	return eps[0], nil
}

// open acquires a session on ep. The returned func releases it.
func (p *probe) open(ep config.Endpoint) (*chain.Client, func(), error) {
	rep, err := rpc.ParseEndpoint(ep.URL, ep.Timeout)
	if err != nil {
		return nil, nil, err
	}
	policy, err := chain.ParsePolicy(p.cfg.Defaults.Extrinsics)
	if err != nil {
		return nil, nil, err
	}
	log := p.log.WithField("endpoint", ep.Name)
	sess := p.hub.Acquire(rep)
	client := chain.New(chain.Deps{
		Caller:   sess,
		Endpoint: rep.Key(),
		Metadata: p.registry,
		Policy:   policy,
		Log:      log,
	})
	return client, sess.Release, nil
}

// classify prefixes err with its error kind.
func classify(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", chain.KindOf(err), err)
}
