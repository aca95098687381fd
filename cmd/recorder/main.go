package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/config"
	"github.com/distribworks/xk6-substrate/pkg/metadata"
	"github.com/distribworks/xk6-substrate/pkg/queue"
	"github.com/distribworks/xk6-substrate/pkg/recorder"
	"github.com/distribworks/xk6-substrate/pkg/rpc"
	"github.com/distribworks/xk6-substrate/pkg/session"
	"github.com/distribworks/xk6-substrate/pkg/storage"
)

func main() {
	log := logrus.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pg, err := storage.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres connect error: %v", err)
	}
	defer pg.Close()

	redisQ, err := queue.NewRedisStreams(cfg.Redis)
	if err != nil {
		log.Fatalf("redis connect error: %v", err)
	}
	defer redisQ.Close()

	ep, err := rpc.ParseEndpoint(cfg.Node.URL, cfg.Node.Timeout)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	policy, err := chain.ParsePolicy(cfg.Node.Extrinsics)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	sess := session.NewHub(rpc.Dial, log).Acquire(ep)
	defer sess.Release()

	client := chain.New(chain.Deps{
		Caller:   sess,
		Endpoint: ep.Key(),
		Metadata: metadata.NewRegistry(log),
		Policy:   policy,
		Log:      log,
	})

	svc := recorder.New(recorder.Deps{
		Sync:  cfg.Sync,
		Chain: client,
		Store: storage.NewBlockchainRepo(pg.DB()),
		Queue: redisQ,
		Log:   log.WithField("endpoint", ep.Key()),
	})

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("recorder stopped")
		time.Sleep(250 * time.Millisecond)
		os.Exit(1)
	}
}
