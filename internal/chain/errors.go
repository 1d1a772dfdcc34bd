package chain

import (
	"errors"
	"fmt"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

var (
	// ErrNoRPCNodes is returned when a client is built without endpoints.
	ErrNoRPCNodes = errors.New("no RPC nodes available")

	// ErrTimeout is returned when every attempt ran out of time.
	ErrTimeout = errors.New("request timeout")

	// ErrNoClient is returned by Router for networks without a client.
	ErrNoClient = errors.New("no client configured for network")
)

// Error is an RPC failure with the node and method that produced it.
type Error struct {
	Err     error
	Network domain.Network
	NodeURL string
	Method  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s RPC error [%s] at %s: %v", e.Network, e.Method, e.NodeURL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with RPC context.
func NewError(err error, network domain.Network, nodeURL, method string) error {
	return &Error{Err: err, Network: network, NodeURL: nodeURL, Method: method}
}
