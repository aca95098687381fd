// Package session shares node connections between many independent clients.
//
// A Hub holds one refcounted entry per endpoint. Sessions are cheap handles
// into it: acquiring one does no I/O, the connection is dialed on first use
// and redialed if it died, and it is closed when the last session releases.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/distribworks/xk6-substrate/pkg/rpc"
)

var ErrReleased = fmt.Errorf("%w: session released", rpc.ErrClosed)

// DialFunc opens a connection. It is rpc.Dial outside of tests.
type DialFunc func(ctx context.Context, ep rpc.Endpoint, log logrus.FieldLogger) (rpc.Conn, error)

type entry struct {
	key  string
	refs int

	mu   sync.Mutex
	conn rpc.Conn
}

type Hub struct {
	dial DialFunc
	log  logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]*entry
}

func NewHub(dial DialFunc, log logrus.FieldLogger) *Hub {
	if dial == nil {
		dial = rpc.Dial
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{dial: dial, log: log, entries: make(map[string]*entry)}
}

// Acquire returns a new session on ep's shared entry.
func (h *Hub) Acquire(ep rpc.Endpoint) *Session {
	key := ep.Key()

	h.mu.Lock()
	e, ok := h.entries[key]
	if !ok {
		e = &entry{key: key}
		h.entries[key] = e
	}
	e.refs++
	h.mu.Unlock()

	id := uuid.NewString()
	return &Session{
		ID:  id,
		ep:  ep,
		hub: h,
		e:   e,
		log: h.log.WithFields(logrus.Fields{"session": id, "endpoint": key}),
	}
}

// Len reports the number of endpoints with live sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Refs reports how many sessions hold the entry for ep.
func (h *Hub) Refs(ep rpc.Endpoint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[ep.Key()]; ok {
		return e.refs
	}
	return 0
}

func (h *Hub) release(e *entry) {
	h.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last {
		delete(h.entries, e.key)
	}
	h.mu.Unlock()
	if !last {
		return
	}

	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			h.log.WithError(err).WithField("endpoint", e.key).Debug("closing connection")
		}
	}
}

// Session is one client's handle on a shared connection.
type Session struct {
	ID string

	ep       rpc.Endpoint
	hub      *Hub
	e        *entry
	log      logrus.FieldLogger
	released atomic.Bool
}

func (s *Session) Endpoint() rpc.Endpoint { return s.ep }

// Open makes sure the shared connection is established.
func (s *Session) Open(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.conn(ctx)
	return err
}

// bound applies this session's timeout to ctx. The shared connection itself
// carries no call timeout, so sessions with different timeouts can share it.
func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.ep.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.ep.Timeout)
}

func (s *Session) conn(ctx context.Context) (rpc.Conn, error) {
	if s.released.Load() {
		return nil, ErrReleased
	}
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		if e.conn.Alive() {
			return e.conn, nil
		}
		s.log.Debug("redialing dead connection")
		_ = e.conn.Close()
		e.conn = nil
	}
	ep := s.ep
	ep.Timeout = 0
	conn, err := s.hub.dial(ctx, ep, s.log)
	if err != nil {
		return nil, err
	}
	e.conn = conn
	return conn, nil
}

// Call runs method on the shared connection bounded by this session's timeout.
func (s *Session) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return conn.Call(ctx, method, out, params...)
}

func (s *Session) Subscribe(ctx context.Context, method, unsubscribe string, params ...interface{}) (*rpc.Subscription, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn.Subscribe(ctx, method, unsubscribe, params...)
}

// Release drops this session's reference. It is safe to call more than once.
func (s *Session) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	s.hub.release(s.e)
}

func (s *Session) Released() bool { return s.released.Load() }

// IsReleased reports whether err came from using a released session.
func IsReleased(err error) bool { return errors.Is(err, ErrReleased) }
