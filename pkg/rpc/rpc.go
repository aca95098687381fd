// Package rpc is the JSON-RPC transport to a Substrate node, over HTTP or a
// persistent websocket.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultTimeout = 10 * time.Second

// Conn is one logical connection to a node. Implementations are safe for
// concurrent use and never deliver a response to the wrong caller.
type Conn interface {
	// Call invokes method and decodes its result into out, which may be nil.
	Call(ctx context.Context, method string, out interface{}, params ...interface{}) error
	Subscribe(ctx context.Context, method, unsubscribe string, params ...interface{}) (*Subscription, error)
	// Alive reports whether the connection can still carry calls.
	Alive() bool
	Close() error
}

type Scheme int

const (
	SchemeHTTP Scheme = iota
	SchemeWS
)

// Endpoint identifies a node and the per-call timeout used against it.
type Endpoint struct {
	URL     string
	Scheme  Scheme
	Timeout time.Duration
}

// ParseEndpoint validates raw and normalizes it so that equivalent URLs
// share one Key.
func ParseEndpoint(raw string, timeout time.Duration) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing host", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	ep := Endpoint{Timeout: timeout}
	switch u.Scheme {
	case "http", "https":
		ep.Scheme = SchemeHTTP
	case "ws", "wss":
		ep.Scheme = SchemeWS
	default:
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
	if ep.Timeout <= 0 {
		ep.Timeout = DefaultTimeout
	}
	ep.URL = u.String()
	return ep, nil
}

// Key identifies the node regardless of timeout settings.
func (e Endpoint) Key() string { return e.URL }

func (e Endpoint) String() string { return e.URL }

// Dial opens a connection suited to the endpoint scheme. ep.Timeout bounds
// every call made on it; zero leaves each call's ctx as the only bound.
func Dial(ctx context.Context, ep Endpoint, log logrus.FieldLogger) (Conn, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("endpoint", ep.URL)
	if ep.Scheme == SchemeWS {
		return DialWS(ctx, ep.URL, ep.Timeout, log)
	}
	return NewHTTP(ep.URL, ep.Timeout, log), nil
}

func decodeResult(method string, m *message, out interface{}) error {
	if m.Error != nil {
		return fmt.Errorf("%s: %w", method, m.Error)
	}
	if out == nil {
		return nil
	}
	if isNull(m.Result) {
		return fmt.Errorf("%s: %w", method, ErrNotFound)
	}
	if err := json.Unmarshal(m.Result, out); err != nil {
		return fmt.Errorf("%w: %s: decode result: %v", ErrProtocol, method, err)
	}
	return nil
}

// withTimeout bounds ctx by d unless ctx already has an earlier deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
