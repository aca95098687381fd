package rpc

import (
	"context"
	"encoding/json"
)

const subscriptionBuffer = 64

// Subscription receives the results of server pushed notifications. The
// channel returned by Notifications is closed when the subscription ends;
// Err then tells whether it ended because the connection failed.
type Subscription struct {
	c           *WSClient
	unsubscribe string

	// guarded by c.mu
	id       string
	ch       chan json.RawMessage
	finished bool
	err      error
}

func newSubscription(c *WSClient, unsubscribe string) *Subscription {
	return &Subscription{
		c:           c,
		unsubscribe: unsubscribe,
		ch:          make(chan json.RawMessage, subscriptionBuffer),
	}
}

func (s *Subscription) ID() string {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.id
}

func (s *Subscription) Notifications() <-chan json.RawMessage { return s.ch }

func (s *Subscription) Err() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.err
}

// Unsubscribe stops delivery and tells the node, if it is still reachable.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.c.unsubscribe(ctx, s)
}

// The methods below are called with c.mu held.

func (s *Subscription) setID(id string) { s.id = id }

func (s *Subscription) deliver(raw json.RawMessage) bool {
	if s.finished {
		return true
	}
	select {
	case s.ch <- raw:
		return true
	default:
		return false
	}
}

func (s *Subscription) finish(err error) {
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.ch)
}
