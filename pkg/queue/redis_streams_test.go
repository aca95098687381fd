package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distribworks/xk6-substrate/pkg/config"
)

func TestEventFields(t *testing.T) {
	block := BlockEvent{
		Number:      42,
		Hash:        "0xaa",
		ParentHash:  "0xbb",
		SpecVersion: 9430,
		Extrinsics:  3,
		Source:      "head",
		Header:      json.RawMessage(`{"number":"0x2a"}`),
	}
	require.Equal(t, map[string]interface{}{
		"type":         "block",
		"number":       "42",
		"hash":         "0xaa",
		"parent_hash":  "0xbb",
		"spec_version": "9430",
		"extrinsics":   "3",
		"source":       "head",
		"header":       `{"number":"0x2a"}`,
	}, block.fields())

	reorg := ReorgEvent{ForkPoint: 7, OldHeadHash: "0x01", NewHeadHash: "0x02", DetailJSON: json.RawMessage(`{}`)}
	require.Equal(t, "reorg", reorg.fields()["type"])
	require.Equal(t, "7", reorg.fields()["fork_point"])

	q := &RedisStreams{stream: config.RedisStreamConfig{Key: "s", MaxLen: 10}}
	args := q.args(block.fields())
	require.Equal(t, "s", args.Stream)
	require.Equal(t, int64(10), args.MaxLen)
	require.True(t, args.Approx)

	q.stream.MaxLen = 0
	require.Zero(t, q.args(block.fields()).MaxLen)
}

func TestRedisStreams(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	key := fmt.Sprintf("substrate:test:%d", time.Now().UnixNano())
	q, err := NewRedisStreams(config.RedisConfig{Addr: addr, Stream: config.RedisStreamConfig{Key: key, MaxLen: 100}})
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()
	defer q.rdb.Del(ctx, key)

	_, err = q.PushBlock(ctx, BlockEvent{Number: 1, Hash: "0x01", Header: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, err = q.PushReorg(ctx, ReorgEvent{ForkPoint: 1, DetailJSON: json.RawMessage(`{}`)})
	require.NoError(t, err)

	msgs, err := q.rdb.XRange(ctx, key, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "block", msgs[0].Values["type"])
	require.Equal(t, "reorg", msgs[1].Values["type"])
}
