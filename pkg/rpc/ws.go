package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 20 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
)

type pendingCall struct {
	ch  chan *message
	sub *Subscription
}

// WSClient multiplexes concurrent calls over one websocket. Responses are
// matched to callers by request id; responses with an unknown id are
// dropped. Once the socket fails every in-flight and later call fails with
// ErrNetworkFailure and the client must be replaced.
type WSClient struct {
	url     string
	timeout time.Duration
	log     logrus.FieldLogger
	conn    *websocket.Conn
	nextID  atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	subs    map[string]*Subscription
	err     error

	done chan struct{}
}

// DialWS connects to a websocket endpoint. Each call is bounded by timeout as
// well as its ctx; a zero timeout leaves the ctx as the only bound. The
// handshake falls back to DefaultTimeout when timeout is zero.
func DialWS(ctx context.Context, url string, timeout time.Duration, log logrus.FieldLogger) (*WSClient, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	handshake := timeout
	if handshake <= 0 {
		handshake = DefaultTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectFailed, url, err)
	}
	conn.SetReadLimit(maxResponseSize)

	c := &WSClient{
		url:     url,
		timeout: timeout,
		log:     log,
		conn:    conn,
		pending: make(map[uint64]*pendingCall),
		subs:    make(map[string]*Subscription),
		done:    make(chan struct{}),
	}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

func (c *WSClient) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	m, err := c.roundTrip(ctx, method, params, nil)
	if err != nil {
		return err
	}
	return decodeResult(method, m, out)
}

// Subscribe issues method and routes notifications for the returned
// subscription id until Unsubscribe or connection loss.
func (c *WSClient) Subscribe(ctx context.Context, method, unsubscribe string, params ...interface{}) (*Subscription, error) {
	sub := newSubscription(c, unsubscribe)
	m, err := c.roundTrip(ctx, method, params, sub)
	if err != nil {
		// the node may have accepted it after we stopped waiting
		if sub.ID() != "" {
			_ = c.unsubscribe(context.Background(), sub)
		}
		return nil, err
	}
	if m.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, m.Error)
	}
	if sub.ID() == "" {
		return nil, fmt.Errorf("%w: %s: missing subscription id", ErrProtocol, method)
	}
	return sub, nil
}

func (c *WSClient) roundTrip(ctx context.Context, method string, params []interface{}, sub *Subscription) (*message, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	id := c.nextID.Add(1)
	pc := &pendingCall{ch: make(chan *message, 1), sub: sub}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = pc
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	sent, err := c.write(ctx, newRequest(id, method, params))
	if err != nil {
		// a failed write leaves the socket unusable
		return nil, c.fail(fmt.Errorf("%w: write %s: %v", ErrNetworkFailure, method, err))
	}
	if !sent {
		return nil, contextError(ctx, method)
	}

	select {
	case m := <-pc.ch:
		return m, nil
	case <-ctx.Done():
		return nil, contextError(ctx, method)
	case <-c.done:
		select {
		case m := <-pc.ch:
			return m, nil
		default:
		}
		return nil, c.Err()
	}
}

// write sends v unless ctx is already done, in which case sent is false and
// the socket is untouched. The socket deadline does not follow ctx: a frame
// cut short by one caller would corrupt the stream for every other caller.
func (c *WSClient) write(ctx context.Context, v interface{}) (sent bool, err error) {
	if ctx.Err() != nil {
		return false, nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if ctx.Err() != nil {
		return false, nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return true, c.conn.WriteJSON(v)
}

func (c *WSClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrNetworkFailure, err))
			c.closeSubscriptions()
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			c.log.WithError(err).Debug("discarding undecodable message")
			continue
		}
		if m.isNotification() {
			c.notify(&m)
			continue
		}
		c.dispatch(&m)
	}
}

func (c *WSClient) dispatch(m *message) {
	id, ok := m.id()
	if !ok {
		c.log.WithField("id", string(m.ID)).Debug("discarding response without usable id")
		return
	}

	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		if pc.sub != nil && m.Error == nil && !isNull(m.Result) {
			key := subscriptionKey(m.Result)
			pc.sub.setID(key)
			c.subs[key] = pc.sub
		}
	}
	c.mu.Unlock()

	if !ok {
		c.log.WithField("id", id).Debug("discarding response for unknown request")
		return
	}
	pc.ch <- m
}

func (c *WSClient) notify(m *message) {
	key := subscriptionKey(m.Params.Subscription)

	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[key]
	if !ok {
		c.log.WithFields(logrus.Fields{"method": m.Method, "subscription": key}).Debug("discarding notification")
		return
	}
	if !sub.deliver(m.Params.Result) {
		c.log.WithField("subscription", key).Warn("subscription buffer full, dropping notification")
	}
}

func (c *WSClient) pingLoop() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.fail(fmt.Errorf("%w: ping: %v", ErrNetworkFailure, err))
				return
			}
		case <-c.done:
			return
		}
	}
}

// fail records the first terminal error, closes the socket and wakes every
// waiter. It returns the recorded error.
func (c *WSClient) fail(err error) error {
	c.mu.Lock()
	if c.err != nil {
		err = c.err
		c.mu.Unlock()
		return err
	}
	c.err = err
	c.mu.Unlock()

	if err != ErrClosed {
		c.log.WithError(err).Warn("websocket connection lost")
	}
	close(c.done)
	_ = c.conn.Close()
	return err
}

func (c *WSClient) closeSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, sub := range c.subs {
		sub.finish(c.err)
		delete(c.subs, key)
	}
}

func (c *WSClient) unsubscribe(ctx context.Context, sub *Subscription) error {
	c.mu.Lock()
	id := sub.id
	delete(c.subs, id)
	alive := c.err == nil
	sub.finish(nil)
	c.mu.Unlock()

	if !alive || id == "" || sub.unsubscribe == "" {
		return nil
	}
	var ok bool
	return c.Call(ctx, sub.unsubscribe, &ok, id)
}

// Err returns the error that ended the connection, or nil while it is alive.
func (c *WSClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *WSClient) Alive() bool { return c.Err() == nil }

func (c *WSClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.fail(ErrClosed)
	return nil
}
