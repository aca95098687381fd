// Package recorder follows a node's best chain and records every canonical
// block in Postgres, publishing block and reorg events to a Redis stream.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/config"
	"github.com/distribworks/xk6-substrate/pkg/queue"
	"github.com/distribworks/xk6-substrate/pkg/storage"
)

// Chain is the node API the recorder reads from. *chain.Client satisfies it.
type Chain interface {
	BlockHashLatest(ctx context.Context) (chain.Hash, error)
	BlockHashAt(ctx context.Context, n uint64) (chain.Hash, error)
	Header(ctx context.Context, hash chain.Hash) (*chain.Header, error)
	Block(ctx context.Context, hash chain.Hash) (*chain.Block, error)
	SubscribeNewHeads(ctx context.Context) (*chain.Heads, error)
}

// Store is satisfied by *storage.BlockchainRepo.
type Store interface {
	EnsureSchema(ctx context.Context) error
	GetCanonicalHead(ctx context.Context) (storage.CanonicalHead, error)
	GetCanonicalHashByNumber(ctx context.Context, number uint64) (string, bool, error)
	UpsertBlock(ctx context.Context, b storage.BlockInsert) error
	RollbackFrom(ctx context.Context, forkPoint uint64) (int64, int64, error)
}

// Publisher is satisfied by *queue.RedisStreams.
type Publisher interface {
	PushBlock(ctx context.Context, ev queue.BlockEvent) (string, error)
	PushReorg(ctx context.Context, ev queue.ReorgEvent) (string, error)
}

var (
	_ Chain     = (*chain.Client)(nil)
	_ Store     = (*storage.BlockchainRepo)(nil)
	_ Publisher = (*queue.RedisStreams)(nil)
)

type Deps struct {
	Sync  config.SyncConfig
	Chain Chain
	Store Store
	Queue Publisher
	Log   logrus.FieldLogger
	// Backoff is the first resubscribe delay, doubled up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

type Service struct {
	sync       config.SyncConfig
	chain      Chain
	store      Store
	queue      Publisher
	log        logrus.FieldLogger
	backoff    time.Duration
	maxBackoff time.Duration
}

func New(d Deps) *Service {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Backoff <= 0 {
		d.Backoff = time.Second
	}
	if d.MaxBackoff < d.Backoff {
		d.MaxBackoff = 15 * time.Second
	}
	if d.Sync.MaxReorgDepth <= 0 {
		d.Sync.MaxReorgDepth = 256
	}
	return &Service{
		sync:       d.Sync,
		chain:      d.Chain,
		store:      d.Store,
		queue:      d.Queue,
		log:        d.Log,
		backoff:    d.Backoff,
		maxBackoff: d.MaxBackoff,
	}
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	// 1) Initial chain sync to (best - confirmations)
	if err := s.chainSync(ctx); err != nil {
		return err
	}

	// 2) Follow new heads, resubscribing when the subscription ends
	backoff := s.backoff
	for ctx.Err() == nil {
		progressed, err := s.follow(ctx)
		if ctx.Err() != nil {
			break
		}
		if progressed {
			backoff = s.backoff
		}
		s.log.WithError(err).WithField("retry_in", backoff).Warn("head subscription ended")
		select {
		case <-time.After(backoff):
			if backoff < s.maxBackoff {
				backoff *= 2
			}
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}

func (s *Service) follow(ctx context.Context) (bool, error) {
	heads, err := s.chain.SubscribeNewHeads(ctx)
	if err != nil {
		return false, err
	}
	defer heads.Close()

	progressed := false
	for h := range heads.C {
		progressed = true
		if err := s.onNewHead(ctx, h); err != nil {
			s.log.WithError(err).WithField("block", h.Number).Warn("new head not recorded")
		}
	}
	if err := heads.Err(); err != nil {
		return progressed, err
	}
	return progressed, fmt.Errorf("head stream closed")
}

func (s *Service) chainSync(ctx context.Context) error {
	head, err := s.store.GetCanonicalHead(ctx)
	if err != nil {
		return err
	}
	start := s.sync.StartBlock
	if head.Hash != "" && head.Number+1 > start {
		start = head.Number + 1
	}

	best, err := s.chain.BlockHashLatest(ctx)
	if err != nil {
		return err
	}
	hdr, err := s.chain.Header(ctx, best)
	if err != nil {
		return err
	}
	var target uint64
	if hdr.Number > s.sync.Confirmations {
		target = hdr.Number - s.sync.Confirmations
	}
	if start > target {
		return nil
	}

	s.log.WithFields(logrus.Fields{"from": start, "to": target}).Info("chain sync")
	return s.syncRange(ctx, start, target)
}

func (s *Service) onNewHead(ctx context.Context, h *chain.Header) error {
	// If we are behind (gap), catch up first.
	canon, err := s.store.GetCanonicalHead(ctx)
	if err != nil {
		return err
	}
	if canon.Hash != "" && h.Number > canon.Number+1 {
		catchTo := h.Number - 1
		s.log.WithFields(logrus.Fields{"canonical": canon.Number, "incoming": h.Number}).Info("gap detected, catching up")
		if err := s.syncRange(ctx, canon.Number+1, catchTo); err != nil {
			s.log.WithError(err).Warn("catch-up failed")
		}
	}

	b, err := s.chain.Block(ctx, h.Hash())
	if err != nil {
		return err
	}
	return s.processBlock(ctx, b, "head", true)
}

func (s *Service) syncRange(ctx context.Context, from, to uint64) error {
	for n := from; n <= to; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		hash, err := s.chain.BlockHashAt(ctx, n)
		if err != nil {
			return fmt.Errorf("block %d: %w", n, err)
		}
		b, err := s.chain.Block(ctx, hash)
		if err != nil {
			return fmt.Errorf("block %d: %w", n, err)
		}
		// During sync, sequential blocks are treated as canonical.
		if err := s.processBlock(ctx, b, "sync", false); err != nil {
			return err
		}
	}
	return nil
}

// processBlock writes b, handles a reorg if needed, and emits to the stream.
func (s *Service) processBlock(ctx context.Context, b *chain.Block, source string, allowReorg bool) error {
	canon, err := s.store.GetCanonicalHead(ctx)
	if err != nil {
		return err
	}

	// Normal extension
	if canon.Hash == "" || (b.Header.ParentHash.Hex() == canon.Hash && b.Header.Number == canon.Number+1) {
		return s.record(ctx, b, source, true)
	}
	if b.Hash.Hex() == canon.Hash {
		return nil
	}

	if allowReorg {
		return s.handleReorg(ctx, canon, b, source)
	}
	// Otherwise store as side chain
	return s.record(ctx, b, source, false)
}

func (s *Service) record(ctx context.Context, b *chain.Block, source string, canonical bool) error {
	ins, err := blockInsert(b, source, canonical)
	if err != nil {
		return err
	}
	if err := s.store.UpsertBlock(ctx, ins); err != nil {
		return fmt.Errorf("store block %d: %w", b.Header.Number, err)
	}
	if !canonical {
		return nil
	}
	if _, err := s.queue.PushBlock(ctx, queue.BlockEvent{
		Number:      ins.Number,
		Hash:        ins.Hash,
		ParentHash:  ins.ParentHash,
		SpecVersion: ins.SpecVersion,
		Extrinsics:  len(ins.Extrinsics),
		Source:      source,
		Header:      ins.Header,
	}); err != nil {
		s.log.WithError(err).WithField("block", ins.Number).Warn("publishing block event")
	}
	return nil
}

func (s *Service) handleReorg(ctx context.Context, oldHead storage.CanonicalHead, newHead *chain.Block, source string) error {
	ancestorNum, ancestorHash, branch, err := s.findCommonAncestor(ctx, newHead)
	if err != nil {
		return err
	}
	if len(branch) == 0 {
		return nil
	}
	forkPoint := ancestorNum + 1

	blocksRolled, txsRolled, err := s.store.RollbackFrom(ctx, forkPoint)
	if err != nil {
		return err
	}

	if blocksRolled > 0 {
		s.publishReorg(ctx, oldHead, newHead, ancestorNum, ancestorHash, blocksRolled, txsRolled, len(branch))
	}

	// Apply the new canonical branch (ancestor+1 .. new head) in order.
	for _, b := range branch {
		if err := s.record(ctx, b, source, true); err != nil {
			return err
		}
	}

	s.log.WithFields(logrus.Fields{
		"ancestor":   ancestorNum,
		"fork_point": forkPoint,
		"old_head":   oldHead.Hash,
		"new_head":   newHead.Hash.Hex(),
	}).Info("reorg handled")
	return nil
}

func (s *Service) publishReorg(ctx context.Context, oldHead storage.CanonicalHead, newHead *chain.Block, ancestorNum uint64, ancestorHash string, blocks, txs int64, branch int) {
	detail, _ := json.Marshal(map[string]interface{}{
		"ancestor_number":   ancestorNum,
		"ancestor_hash":     ancestorHash,
		"rolled_blocks":     blocks,
		"rolled_extrinsics": txs,
		"new_chain_len":     branch,
	})
	if _, err := s.queue.PushReorg(ctx, queue.ReorgEvent{
		ForkPoint:   ancestorNum + 1,
		OldHeadHash: oldHead.Hash,
		NewHeadHash: newHead.Hash.Hex(),
		DetailJSON:  detail,
	}); err != nil {
		s.log.WithError(err).Warn("publishing reorg event")
	}
}

// findCommonAncestor walks back from newHead to the canonical chain. It
// returns the ancestor and the new branch above it in forward order. The
// branch is empty when newHead is already canonical.
func (s *Service) findCommonAncestor(ctx context.Context, newHead *chain.Block) (uint64, string, []*chain.Block, error) {
	var rev []*chain.Block
	cur := newHead
	for depth := 0; depth < s.sync.MaxReorgDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return 0, "", nil, err
		}
		canonHash, ok, err := s.store.GetCanonicalHashByNumber(ctx, cur.Header.Number)
		if err != nil {
			return 0, "", nil, err
		}
		if ok && canonHash == cur.Hash.Hex() {
			return cur.Header.Number, canonHash, reverse(rev), nil
		}
		rev = append(rev, cur)
		if cur.Header.Number == 0 {
			break
		}

		parentCanon, ok, err := s.store.GetCanonicalHashByNumber(ctx, cur.Header.Number-1)
		if err != nil {
			return 0, "", nil, err
		}
		if ok && parentCanon == cur.Header.ParentHash.Hex() {
			return cur.Header.Number - 1, parentCanon, reverse(rev), nil
		}

		parent, err := s.chain.Block(ctx, cur.Header.ParentHash)
		if err != nil {
			return 0, "", nil, fmt.Errorf("fetch parent block %s: %w", cur.Header.ParentHash, err)
		}
		cur = parent
	}
	return 0, "", nil, fmt.Errorf("reorg depth exceeded; could not find common ancestor (maxDepth=%d)", s.sync.MaxReorgDepth)
}

func reverse(rev []*chain.Block) []*chain.Block {
	out := make([]*chain.Block, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out
}

func blockInsert(b *chain.Block, source string, canonical bool) (storage.BlockInsert, error) {
	header, err := json.Marshal(b.Header)
	if err != nil {
		return storage.BlockInsert{}, err
	}
	ins := storage.BlockInsert{
		Number:      b.Header.Number,
		Hash:        b.Hash.Hex(),
		ParentHash:  b.Header.ParentHash.Hex(),
		SpecVersion: b.SpecVersion,
		Source:      source,
		Header:      header,
		Canonical:   canonical,
		Extrinsics:  make([]storage.ExtrinsicInsert, 0, len(b.Extrinsics)),
	}
	for i := range b.Extrinsics {
		x := &b.Extrinsics[i]
		xi := storage.ExtrinsicInsert{
			Index:  x.Index,
			Hash:   x.Hash.Hex(),
			Signed: x.Signed,
			Raw:    x.Raw,
		}
		if x.Decoded {
			if x.Call != nil {
				xi.Pallet, xi.Call = x.Call.Pallet, x.Call.Name
			}
			if xi.Decoded, err = json.Marshal(chain.PlainExtrinsic(x)); err != nil {
				return storage.BlockInsert{}, fmt.Errorf("extrinsic %d: %w", x.Index, err)
			}
		}
		ins.Extrinsics = append(ins.Extrinsics, xi)
	}
	return ins, nil
}
