package chain

import (
	"context"
	"errors"

	"github.com/distribworks/xk6-substrate/pkg/metadata"
	"github.com/distribworks/xk6-substrate/pkg/rpc"
	"github.com/distribworks/xk6-substrate/pkg/scale"
)

// Kind classifies errors surfaced to callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectFailed
	KindTimeout
	KindNetworkFailure
	KindProtocol
	KindMalformed
	KindMetadataUnavailable
	KindCanceled
)

var kindNames = [...]string{
	KindUnknown:             "Unknown",
	KindConnectFailed:       "ConnectFailed",
	KindTimeout:             "Timeout",
	KindNetworkFailure:      "NetworkFailure",
	KindProtocol:            "ProtocolError",
	KindMalformed:           "Malformed",
	KindMetadataUnavailable: "MetadataUnavailable",
	KindCanceled:            "Canceled",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

// KindOf returns the kind of err. Metadata failures win over the transport
// error that caused them.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, metadata.ErrMetadataUnavailable):
		return KindMetadataUnavailable
	case errors.Is(err, scale.ErrMalformed):
		return KindMalformed
	case errors.Is(err, rpc.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, rpc.ErrConnectFailed):
		return KindConnectFailed
	case errors.Is(err, rpc.ErrNetworkFailure):
		return KindNetworkFailure
	case errors.Is(err, rpc.ErrProtocol):
		return KindProtocol
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindUnknown
}
