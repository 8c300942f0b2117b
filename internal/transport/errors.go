package transport

import (
	"errors"
	"fmt"
)

type FailureKind string

const (
	NoHandler FailureKind = "NO_HANDLER" // 远端没有对应方法
	Transport FailureKind = "TRANSPORT"  // 连接, 序列化, 超时等
)

var (
	ErrNoHandler = errors.New("rpc: no handler")
	ErrTransport = errors.New("rpc: transport failure")
)

// RPCFailure is the only error Call returns.
type RPCFailure struct {
	Kind    FailureKind
	Method  string
	Address string
	Err     error
}

func (f *RPCFailure) Error() string {
	return fmt.Sprintf("rpc %s to %s failed (%s): %v", f.Method, f.Address, f.Kind, f.Err)
}

func (f *RPCFailure) Unwrap() error { return f.Err }

// Is matches ErrNoHandler / ErrTransport by kind.
func (f *RPCFailure) Is(target error) bool {
	switch target {
	case ErrNoHandler:
		return f.Kind == NoHandler
	case ErrTransport:
		return f.Kind == Transport
	}
	return false
}
