package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/distribworks/xk6-substrate/pkg/config"
)

type RedisStreams struct {
	rdb    *redis.Client
	stream config.RedisStreamConfig
}

func NewRedisStreams(cfg config.RedisConfig) (*RedisStreams, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisStreams{rdb: rdb, stream: cfg.Stream}, nil
}

func (q *RedisStreams) Close() error { return q.rdb.Close() }

type BlockEvent struct {
	Number      uint64
	Hash        string
	ParentHash  string
	SpecVersion uint32
	Extrinsics  int
	Source      string
	Header      json.RawMessage
}

func (ev BlockEvent) fields() map[string]interface{} {
	return map[string]interface{}{
		"type":         "block",
		"number":       strconv.FormatUint(ev.Number, 10),
		"hash":         ev.Hash,
		"parent_hash":  ev.ParentHash,
		"spec_version": strconv.FormatUint(uint64(ev.SpecVersion), 10),
		"extrinsics":   strconv.Itoa(ev.Extrinsics),
		"source":       ev.Source,
		"header":       string(ev.Header),
	}
}

func (q *RedisStreams) PushBlock(ctx context.Context, ev BlockEvent) (string, error) {
	return q.rdb.XAdd(ctx, q.args(ev.fields())).Result()
}

type ReorgEvent struct {
	ForkPoint   uint64
	OldHeadHash string
	NewHeadHash string
	DetailJSON  json.RawMessage
}

func (ev ReorgEvent) fields() map[string]interface{} {
	return map[string]interface{}{
		"type":        "reorg",
		"fork_point":  strconv.FormatUint(ev.ForkPoint, 10),
		"old_head":    ev.OldHeadHash,
		"new_head":    ev.NewHeadHash,
		"detail_json": string(ev.DetailJSON),
	}
}

func (q *RedisStreams) PushReorg(ctx context.Context, ev ReorgEvent) (string, error) {
	return q.rdb.XAdd(ctx, q.args(ev.fields())).Result()
}

func (q *RedisStreams) args(fields map[string]interface{}) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: q.stream.Key,
		Values: fields,
	}
	if q.stream.MaxLen > 0 {
		args.MaxLen = q.stream.MaxLen
		args.Approx = true
	}
	return args
}
