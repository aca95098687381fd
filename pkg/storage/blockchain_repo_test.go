package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// newRepo connects to PG_TEST_DSN and isolates the test in its own schema.
func newRepo(t *testing.T) *BlockchainRepo {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	schemaName := fmt.Sprintf("recorder_test_%d", time.Now().UnixNano())
	_, err = pg.DB().Exec(ctx, "CREATE SCHEMA "+schemaName)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pg.DB().Exec(context.Background(), "DROP SCHEMA "+schemaName+" CASCADE")
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schemaName
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewBlockchainRepo(pool)
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo
}

func block(n uint64, hash, parent string, canonical bool) BlockInsert {
	return BlockInsert{
		Number:      n,
		Hash:        hash,
		ParentHash:  parent,
		SpecVersion: 100,
		Source:      "test",
		Header:      json.RawMessage(`{"number":"0x1"}`),
		Canonical:   canonical,
		Extrinsics: []ExtrinsicInsert{
			{Index: 0, Hash: hash + "-x0", Pallet: "Timestamp", Call: "set", Raw: []byte{1, 2}, Decoded: json.RawMessage(`{"index":0}`)},
			{Index: 1, Hash: hash + "-x1", Raw: []byte{3}},
		},
	}
}

func TestBlockchainRepoCanonicalChain(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	head, err := repo.GetCanonicalHead(ctx)
	require.NoError(t, err)
	require.Equal(t, CanonicalHead{}, head)

	require.NoError(t, repo.UpsertBlock(ctx, block(1, "0xa1", "0xa0", true)))
	require.NoError(t, repo.UpsertBlock(ctx, block(2, "0xa2", "0xa1", true)))
	require.NoError(t, repo.UpsertBlock(ctx, block(2, "0xb2", "0xa1", false)))

	head, err = repo.GetCanonicalHead(ctx)
	require.NoError(t, err)
	require.Equal(t, CanonicalHead{Number: 2, Hash: "0xa2"}, head)

	hash, ok, err := repo.GetCanonicalHashByNumber(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0xa1", hash)

	blocks, txs, err := repo.RollbackFrom(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), blocks)
	require.Equal(t, int64(2), txs)

	_, ok, err = repo.GetCanonicalHashByNumber(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)

	// re-upserting the side block flips it canonical
	require.NoError(t, repo.UpsertBlock(ctx, block(2, "0xb2", "0xa1", true)))
	head, err = repo.GetCanonicalHead(ctx)
	require.NoError(t, err)
	require.Equal(t, CanonicalHead{Number: 2, Hash: "0xb2"}, head)
}
