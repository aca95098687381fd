package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrConnectFailed  = errors.New("connect failed")
	ErrTimeout        = errors.New("timeout")
	ErrNetworkFailure = errors.New("network failure")
	ErrProtocol       = errors.New("protocol error")

	// ErrNotFound is returned when the node answers with a null result.
	ErrNotFound = fmt.Errorf("%w: null result", ErrProtocol)

	ErrClosed                   = fmt.Errorf("%w: connection closed", ErrNetworkFailure)
	ErrSubscriptionsUnsupported = errors.New("transport does not support subscriptions")
)

// RemoteError is a JSON-RPC error object returned by the node.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RemoteError) Is(target error) bool { return target == ErrProtocol }

// contextError maps the end of ctx onto the transport taxonomy. A deadline
// is a timeout; an explicit cancellation is passed through unchanged.
func contextError(ctx context.Context, method string) error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrTimeout, method)
	case err != nil:
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isDialError(err error) bool {
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}
