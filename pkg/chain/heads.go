package chain

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/distribworks/xk6-substrate/pkg/rpc"
)

// Heads delivers new best-block headers until its context ends or the
// underlying stream fails. C is closed when delivery stops; Err then reports
// why, and is nil after a normal context cancellation.
type Heads struct {
	C <-chan *Header

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (h *Heads) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Close stops delivery and waits for the producer to exit.
func (h *Heads) Close() {
	h.cancel()
	<-h.done
}

func (h *Heads) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// SubscribeNewHeads follows the best chain head. It uses a push
// subscription when the transport supports one and polls otherwise.
func (c *Client) SubscribeNewHeads(ctx context.Context) (*Heads, error) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *Header, 64)
	h := &Heads{C: out, cancel: cancel, done: make(chan struct{})}

	sub, err := c.caller.Subscribe(ctx, "chain_subscribeNewHeads", "chain_unsubscribeNewHeads")
	switch {
	case errors.Is(err, rpc.ErrSubscriptionsUnsupported):
		go c.pollHeads(ctx, h, out)
	case err != nil:
		cancel()
		return nil, err
	default:
		go c.pushHeads(ctx, h, sub, out)
	}
	return h, nil
}

func (c *Client) pushHeads(ctx context.Context, h *Heads, sub *rpc.Subscription, out chan<- *Header) {
	defer close(h.done)
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			uctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = sub.Unsubscribe(uctx)
			cancel()
			return
		case raw, ok := <-sub.Notifications():
			if !ok {
				h.finish(sub.Err())
				return
			}
			hdr, err := decodeHeadNotification(raw)
			if err != nil {
				c.log.WithError(err).Warn("skipping undecodable head")
				continue
			}
			select {
			case out <- hdr:
			case <-ctx.Done():
			}
		}
	}
}

func decodeHeadNotification(raw json.RawMessage) (*Header, error) {
	var hj headerJSON
	if err := json.Unmarshal(raw, &hj); err != nil {
		return nil, err
	}
	hdr := &Header{}
	if err := hdr.fromJSON(&hj); err != nil {
		return nil, err
	}
	return hdr, nil
}

func (c *Client) pollHeads(ctx context.Context, h *Heads, out chan<- *Header) {
	defer close(h.done)
	defer close(out)

	t := time.NewTicker(c.poll)
	defer t.Stop()
	var last Hash
	for {
		hash, err := c.BlockHashLatest(ctx)
		if err == nil && hash != last {
			var hdr *Header
			hdr, err = c.Header(ctx, hash)
			if err == nil {
				last = hash
				select {
				case out <- hdr:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.finish(err)
			return
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}
