package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const maxResponseSize = 64 << 20

// HTTPClient issues one POST per call. It has no connection state of its
// own beyond the keep-alive pool of its http.Client.
type HTTPClient struct {
	url     string
	timeout time.Duration
	hc      *http.Client
	log     logrus.FieldLogger
	nextID  atomic.Uint64
}

// NewHTTP returns a client posting to url. A zero timeout leaves each call's
// ctx as its only bound.
func NewHTTP(url string, timeout time.Duration, log logrus.FieldLogger) *HTTPClient {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPClient{
		url:     url,
		timeout: timeout,
		hc:      &http.Client{},
		log:     log,
	}
}

func (c *HTTPClient) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	id := c.nextID.Add(1)
	reqBody, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return c.transportError(ctx, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return c.transportError(ctx, method, err)
	}

	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: %s: http status %d", ErrProtocol, method, resp.StatusCode)
		}
		return fmt.Errorf("%w: %s: decode rpc response: %v", ErrProtocol, method, err)
	}
	if got, ok := m.id(); !ok || got != id {
		return fmt.Errorf("%w: %s: response id %s does not match request %d", ErrProtocol, method, m.ID, id)
	}
	return decodeResult(method, &m, out)
}

func (c *HTTPClient) transportError(ctx context.Context, method string, err error) error {
	if cerr := contextError(ctx, method); cerr != nil {
		return cerr
	}
	switch {
	case isTimeout(err):
		return fmt.Errorf("%w: %s: %v", ErrTimeout, method, err)
	case isDialError(err):
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrNetworkFailure, method, err)
}

func (c *HTTPClient) Subscribe(context.Context, string, string, ...interface{}) (*Subscription, error) {
	return nil, ErrSubscriptionsUnsupported
}

func (c *HTTPClient) Alive() bool { return true }

func (c *HTTPClient) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}
