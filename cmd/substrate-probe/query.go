package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/config"
)

type headResult struct {
	Endpoint    string
	Number      uint64
	Best        chain.Hash
	Finalized   chain.Hash
	SpecVersion uint32
	Latency     time.Duration
	Err         error
}

func headCmd(p *probe) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Show the best and finalized head of every endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eps, err := p.targets()
			if err != nil {
				return err
			}
			results := p.fetchHeads(cmd.Context(), eps)
			renderHeads(cmd.OutOrStdout(), results)
			for _, r := range results {
				if r.Err == nil {
					return nil
				}
			}
			return fmt.Errorf("no endpoint answered")
		},
	}
}

// fetchHeads queries every endpoint concurrently. Failures are reported per
// endpoint and do not cancel the others.
func (p *probe) fetchHeads(ctx context.Context, eps []config.Endpoint) []headResult {
	results := make([]headResult, len(eps))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range eps {
		i, ep := i, ep
		g.Go(func() error {
			r := p.fetchHead(gctx, ep)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *probe) fetchHead(ctx context.Context, ep config.Endpoint) headResult {
	r := headResult{Endpoint: ep.Name}
	client, release, err := p.open(ep)
	if err != nil {
		r.Err = err
		return r
	}
	defer release()

	start := time.Now()
	if r.Best, err = client.BlockHashLatest(ctx); err != nil {
		r.Err = classify(err)
		return r
	}
	r.Latency = time.Since(start)

	hdr, err := client.Header(ctx, r.Best)
	if err != nil {
		r.Err = classify(err)
		return r
	}
	r.Number = hdr.Number
	if r.Finalized, err = client.FinalizedHead(ctx); err != nil {
		r.Err = classify(err)
		return r
	}
	v, err := client.RuntimeVersion(ctx, &r.Best)
	if err != nil {
		r.Err = classify(err)
		return r
	}
	r.SpecVersion = v.SpecVersion
	return r
}

func hashCmd(p *probe) *cobra.Command {
	return &cobra.Command{
		Use:   "hash [number]",
		Short: "Print the canonical block hash at a height, or of the best block",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) > 0 {
				if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
					return fmt.Errorf("invalid block number %q", args[0])
				}
				ref = args[0]
			}
			return p.withClient(func(client *chain.Client) error {
				h, err := resolveBlock(cmd.Context(), client, ref)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), h.Hex())
				return nil
			})
		},
	}
}

func headerCmd(p *probe) *cobra.Command {
	return &cobra.Command{
		Use:   "header [hash|number]",
		Short: "Print a block header as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.withClient(func(client *chain.Client) error {
				h, err := resolveBlock(cmd.Context(), client, firstArg(args))
				if err != nil {
					return err
				}
				hdr, err := client.Header(cmd.Context(), h)
				if err != nil {
					return classify(err)
				}
				return writeJSON(cmd, map[string]interface{}{
					"hash":   hdr.Hash().Hex(),
					"header": hdr,
				})
			})
		},
	}
}

func blockCmd(p *probe) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "block [hash|number]",
		Short: "Fetch a block and decode its extrinsics",
		Long: `Fetch a block from a Substrate node.

Examples:
  substrate-probe block
  substrate-probe block 1200
  substrate-probe block 0x91b1... --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "terminal" && format != "json" {
				return fmt.Errorf("unknown format %q (want terminal or json)", format)
			}
			return p.withClient(func(client *chain.Client) error {
				h, err := resolveBlock(cmd.Context(), client, firstArg(args))
				if err != nil {
					return err
				}
				b, err := client.Block(cmd.Context(), h)
				if err != nil {
					return classify(err)
				}
				if format == "json" {
					return writeJSON(cmd, blockJSON(b))
				}
				renderBlock(cmd.OutOrStdout(), b)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "terminal", "Output format: terminal|json")
	return cmd
}

func (p *probe) withClient(fn func(*chain.Client) error) error {
	ep, err := p.target()
	if err != nil {
		return err
	}
	client, release, err := p.open(ep)
	if err != nil {
		return err
	}
	defer release()
	return fn(client)
}

// resolveBlock turns "" (best block), a decimal height or a 0x hash into a
// block hash.
func resolveBlock(ctx context.Context, client *chain.Client, ref string) (chain.Hash, error) {
	switch {
	case ref == "":
		h, err := client.BlockHashLatest(ctx)
		return h, classify(err)
	case strings.HasPrefix(ref, "0x"):
		return chain.ParseHash(ref)
	}
	n, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return chain.Hash{}, fmt.Errorf("invalid block reference %q (want hash or number)", ref)
	}
	h, err := client.BlockHashAt(ctx, n)
	return h, classify(err)
}

func blockJSON(b *chain.Block) map[string]interface{} {
	xs := make([]interface{}, len(b.Extrinsics))
	for i := range b.Extrinsics {
		xs[i] = chain.PlainExtrinsic(&b.Extrinsics[i])
	}
	return map[string]interface{}{
		"hash":        b.Hash.Hex(),
		"number":      b.Header.Number,
		"header":      b.Header,
		"specVersion": b.SpecVersion,
		"extrinsics":  xs,
	}
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
