package chain

import (
	"errors"
	"fmt"
)

// ErrUnavailable means the chain returned no usable value for a read. It is
// deliberately distinct from a legitimate zero: a price of 0 parses fine,
// while an empty or malformed RPC result surfaces as ErrUnavailable and must
// not be silently treated as "free".
var ErrUnavailable = errors.New("chain: value unavailable")

// ErrRejected means the wallet user declined to sign. Never retried
// automatically.
var ErrRejected = errors.New("chain: transaction rejected by wallet")

// RPCError is a JSON-RPC level failure from the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
