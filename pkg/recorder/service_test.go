package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/chain/chaintest"
	"github.com/distribworks/xk6-substrate/pkg/config"
	"github.com/distribworks/xk6-substrate/pkg/metadata/metadatatest"
	"github.com/distribworks/xk6-substrate/pkg/queue"
	"github.com/distribworks/xk6-substrate/pkg/rpc"
	"github.com/distribworks/xk6-substrate/pkg/session"
	"github.com/distribworks/xk6-substrate/pkg/storage"
)

type memStore struct {
	mu     sync.Mutex
	blocks map[string]storage.BlockInsert
}

func newMemStore() *memStore {
	return &memStore{blocks: make(map[string]storage.BlockInsert)}
}

func (m *memStore) EnsureSchema(context.Context) error { return nil }

func (m *memStore) GetCanonicalHead(context.Context) (storage.CanonicalHead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var head storage.CanonicalHead
	for _, b := range m.blocks {
		if b.Canonical && (head.Hash == "" || b.Number > head.Number) {
			head = storage.CanonicalHead{Number: b.Number, Hash: b.Hash}
		}
	}
	return head, nil
}

func (m *memStore) GetCanonicalHashByNumber(_ context.Context, n uint64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if b.Canonical && b.Number == n {
			return b.Hash, true, nil
		}
	}
	return "", false, nil
}

func (m *memStore) UpsertBlock(_ context.Context, b storage.BlockInsert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.Hash] = b
	return nil
}

func (m *memStore) RollbackFrom(_ context.Context, forkPoint uint64) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var blocks, txs int64
	for h, b := range m.blocks {
		if b.Canonical && b.Number >= forkPoint {
			b.Canonical = false
			m.blocks[h] = b
			blocks++
			txs += int64(len(b.Extrinsics))
		}
	}
	return blocks, txs, nil
}

// canonical returns the canonical hashes ordered by height.
func (m *memStore) canonical() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var bs []storage.BlockInsert
	for _, b := range m.blocks {
		if b.Canonical {
			bs = append(bs, b)
		}
	}
	sort.Slice(bs, func(i, j int) bool { return bs[i].Number < bs[j].Number })
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Hash)
	}
	return out
}

func (m *memStore) get(hash string) (storage.BlockInsert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[hash]
	return b, ok
}

type memQueue struct {
	mu     sync.Mutex
	blocks []queue.BlockEvent
	reorgs []queue.ReorgEvent
	err    error
}

func (q *memQueue) PushBlock(_ context.Context, ev queue.BlockEvent) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.blocks = append(q.blocks, ev)
	return "1-0", nil
}

func (q *memQueue) PushReorg(_ context.Context, ev queue.ReorgEvent) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reorgs = append(q.reorgs, ev)
	return "1-1", nil
}

func (q *memQueue) snapshot() ([]queue.BlockEvent, []queue.ReorgEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.BlockEvent(nil), q.blocks...), append([]queue.ReorgEvent(nil), q.reorgs...)
}

type fixture struct {
	node  *chaintest.Node
	store *memStore
	queue *memQueue
	svc   *Service
}

func newFixture(t *testing.T, sync config.SyncConfig) *fixture {
	t.Helper()
	node := chaintest.NewNode()
	t.Cleanup(node.Close)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	ep, err := rpc.ParseEndpoint(node.WSURL(), 2*time.Second)
	require.NoError(t, err)
	hub := session.NewHub(rpc.Dial, log)
	sess := hub.Acquire(ep)
	t.Cleanup(sess.Release)

	client := chain.New(chain.Deps{Caller: sess, Endpoint: ep.Key(), Log: log})
	f := &fixture{node: node, store: newMemStore(), queue: &memQueue{}}
	f.svc = New(Deps{
		Sync:       sync,
		Chain:      client,
		Store:      f.store,
		Queue:      f.queue,
		Log:        log,
		Backoff:    10 * time.Millisecond,
		MaxBackoff: 40 * time.Millisecond,
	})
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Error("recorder did not stop")
		}
	})
}

func hashes(bs ...*chaintest.Block) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Hash.Hex())
	}
	return out
}

// waitCanonical announces the best head until the store's canonical chain
// equals want.
func (f *fixture) waitCanonical(t *testing.T, want []string) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.node.AnnounceBest()
		got := f.store.canonical()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestChainSyncRespectsStartAndConfirmations(t *testing.T) {
	f := newFixture(t, config.SyncConfig{StartBlock: 2, Confirmations: 1})
	var produced []*chaintest.Block
	for i := 0; i < 5; i++ {
		produced = append(produced, f.node.Produce(metadatatest.SpecVersion))
	}

	require.NoError(t, f.svc.chainSync(context.Background()))
	// best is 5, so blocks 2..4 are synced
	require.Equal(t, hashes(produced[1:4]...), f.store.canonical())

	blocks, reorgs := f.queue.snapshot()
	require.Len(t, blocks, 3)
	require.Empty(t, reorgs)
	require.Equal(t, uint64(2), blocks[0].Number)
	require.Equal(t, "sync", blocks[0].Source)

	// a second sync resumes after the stored head
	f.node.Produce(metadatatest.SpecVersion)
	require.NoError(t, f.svc.chainSync(context.Background()))
	require.Equal(t, hashes(produced[1:]...), f.store.canonical())
}

func TestRecorderFollowsHeadsAndCatchesUp(t *testing.T) {
	f := newFixture(t, config.SyncConfig{})
	genesis := f.node.BlockAt(0)
	b1 := f.node.Produce(metadatatest.SpecVersion, metadatatest.TimestampSet(1000))
	f.run(t)
	f.waitCanonical(t, hashes(genesis, b1))

	// only the tip is announced, the gap is synced by height
	b2 := f.node.Produce(metadatatest.SpecVersion)
	b3 := f.node.Produce(metadatatest.SpecVersion)
	b4 := f.node.Produce(metadatatest.SpecVersion)
	f.waitCanonical(t, hashes(genesis, b1, b2, b3, b4))

	stored, ok := f.store.get(b1.Hash.Hex())
	require.True(t, ok)
	require.Equal(t, uint32(metadatatest.SpecVersion), stored.SpecVersion)
	require.Len(t, stored.Extrinsics, 1)
	require.Equal(t, "Timestamp", stored.Extrinsics[0].Pallet)
	require.Equal(t, "set", stored.Extrinsics[0].Call)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(stored.Extrinsics[0].Decoded, &decoded))
	require.Equal(t, false, decoded["signed"])

	var header chain.Header
	require.NoError(t, json.Unmarshal(stored.Header, &header))
	require.Equal(t, b1.Hash, header.Hash())

	_, reorgs := f.queue.snapshot()
	require.Empty(t, reorgs)
}

func TestRecorderHandlesReorg(t *testing.T) {
	f := newFixture(t, config.SyncConfig{})
	genesis := f.node.BlockAt(0)
	b1 := f.node.Produce(metadatatest.SpecVersion)
	b2 := f.node.Produce(metadatatest.SpecVersion)
	b3 := f.node.Produce(metadatatest.SpecVersion)
	f.run(t)
	f.waitCanonical(t, hashes(genesis, b1, b2, b3))

	f.node.Rewind(1)
	c2 := f.node.Produce(metadatatest.SpecVersion)
	c3 := f.node.Produce(metadatatest.SpecVersion)
	require.NotEqual(t, b2.Hash, c2.Hash)
	f.waitCanonical(t, hashes(genesis, b1, c2, c3))

	old, ok := f.store.get(b2.Hash.Hex())
	require.True(t, ok)
	require.False(t, old.Canonical)

	_, reorgs := f.queue.snapshot()
	require.Len(t, reorgs, 1)
	require.Equal(t, uint64(2), reorgs[0].ForkPoint)
	require.Equal(t, b3.Hash.Hex(), reorgs[0].OldHeadHash)
	require.Equal(t, c3.Hash.Hex(), reorgs[0].NewHeadHash)

	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal(reorgs[0].DetailJSON, &detail))
	require.Equal(t, float64(2), detail["rolled_blocks"])
	require.Equal(t, float64(2), detail["new_chain_len"])
}

func TestRecorderResubscribesAfterConnectionLoss(t *testing.T) {
	f := newFixture(t, config.SyncConfig{})
	genesis := f.node.BlockAt(0)
	f.run(t)
	f.waitCanonical(t, hashes(genesis))

	f.node.DropConnections()
	b1 := f.node.Produce(metadatatest.SpecVersion)
	f.waitCanonical(t, hashes(genesis, b1))
}

func TestRecordSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t, config.SyncConfig{})
	f.queue.err = errors.New("redis down")

	require.NoError(t, f.svc.chainSync(context.Background()))
	require.Len(t, f.store.canonical(), 1)
}

func TestFindCommonAncestorDepthLimit(t *testing.T) {
	f := newFixture(t, config.SyncConfig{MaxReorgDepth: 2})
	f.node.Produce(metadatatest.SpecVersion)
	f.node.Produce(metadatatest.SpecVersion)
	require.NoError(t, f.svc.chainSync(context.Background()))

	f.node.Rewind(0)
	f.node.Produce(metadatatest.SpecVersion)
	f.node.Produce(metadatatest.SpecVersion)
	c3 := f.node.Produce(metadatatest.SpecVersion)

	b, err := f.svc.chain.Block(context.Background(), c3.Hash)
	require.NoError(t, err)
	_, _, _, err = f.svc.findCommonAncestor(context.Background(), b)
	require.ErrorContains(t, err, "reorg depth exceeded")
}
