package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/stats"
)

type benchResult struct {
	Endpoint string
	Method   string
	Summary  stats.Summary
	Elapsed  time.Duration
	Err      error
}

func benchCmd(p *probe) *cobra.Command {
	var (
		method   string
		workers  int
		requests int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure request latency against every endpoint",
		Long: `Send a fixed number of requests from concurrent workers and report
tail latencies per endpoint. Endpoints are benchmarked one after another.

Methods: hash, header, block, version

Examples:
  substrate-probe bench
  substrate-probe bench --method block --workers 8 --requests 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers <= 0 {
				workers = p.cfg.Defaults.Workers
			}
			if requests <= 0 {
				requests = p.cfg.Defaults.Requests
			}
			eps, err := p.targets()
			if err != nil {
				return err
			}

			var results []benchResult
			for _, ep := range eps {
				r := benchResult{Endpoint: ep.Name, Method: method}
				client, release, err := p.open(ep)
				if err != nil {
					r.Err = err
					results = append(results, r)
					continue
				}
				start := time.Now()
				r.Summary, r.Err = runBench(cmd.Context(), client, method, workers, requests, p.log.WithField("endpoint", ep.Name))
				r.Elapsed = time.Since(start)
				release()
				results = append(results, r)
				if cmd.Context().Err() != nil {
					break
				}
			}
			renderBench(cmd.OutOrStdout(), results)
			return cmd.Context().Err()
		},
	}

	cmd.Flags().StringVar(&method, "method", "hash", "Request to send: hash|header|block|version")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent workers (0 = config default)")
	cmd.Flags().IntVar(&requests, "requests", 0, "Total requests per endpoint (0 = config default)")
	return cmd
}

// benchCall builds the request a worker repeats. Block-scoped methods pin
// the best block at start so every request reads the same data.
func benchCall(ctx context.Context, client *chain.Client, method string) (func(context.Context) error, error) {
	switch method {
	case "hash":
		return func(ctx context.Context) error {
			_, err := client.BlockHashLatest(ctx)
			return err
		}, nil
	case "version":
		return func(ctx context.Context) error {
			_, err := client.RuntimeVersion(ctx, nil)
			return err
		}, nil
	case "header", "block":
	default:
		return nil, fmt.Errorf("unknown bench method %q", method)
	}

	h, err := client.BlockHashLatest(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if method == "header" {
		return func(ctx context.Context) error {
			_, err := client.Header(ctx, h)
			return err
		}, nil
	}
	return func(ctx context.Context) error {
		_, err := client.Block(ctx, h)
		return err
	}, nil
}

// runBench spreads requests over workers. Failed requests are counted, not
// returned; only setup errors and cancellation fail the run.
func runBench(ctx context.Context, client *chain.Client, method string, workers, requests int, log logrus.FieldLogger) (stats.Summary, error) {
	call, err := benchCall(ctx, client, method)
	if err != nil {
		return stats.Summary{}, err
	}

	var (
		mu       sync.Mutex
		samples  = make([]time.Duration, 0, requests)
		failures int
	)
	jobs := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < requests; i++ {
			select {
			case jobs <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for range jobs {
				start := time.Now()
				err := call(gctx)
				d := time.Since(start)

				mu.Lock()
				if err != nil {
					failures++
				} else {
					samples = append(samples, d)
				}
				mu.Unlock()
				if err != nil {
					log.WithError(err).WithField("kind", chain.KindOf(err)).Debug("bench request failed")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats.Summary{}, err
	}
	return stats.Summarize(samples, failures), nil
}
