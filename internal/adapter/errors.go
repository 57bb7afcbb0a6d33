package adapter

import (
	"errors"
	"fmt"
)

// Kind classifies a failure raised by a venue client.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindDDoSProtection
	KindRequestTimeout
	KindExchangeNotAvailable
	KindExchange
	KindAuthentication
	KindInvalidOrder
	KindOrderNotFound
	KindInsufficientFunds
	KindNotSupported
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindNetwork:              "network",
	KindDDoSProtection:       "ddos_protection",
	KindRequestTimeout:       "request_timeout",
	KindExchangeNotAvailable: "exchange_not_available",
	KindExchange:             "exchange",
	KindAuthentication:       "authentication",
	KindInvalidOrder:         "invalid_order",
	KindOrderNotFound:        "order_not_found",
	KindInsufficientFunds:    "insufficient_funds",
	KindNotSupported:         "not_supported",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// IsNetwork reports whether k is a connectivity failure, including throttling.
func (k Kind) IsNetwork() bool {
	switch k {
	case KindNetwork, KindDDoSProtection, KindRequestTimeout, KindExchangeNotAvailable:
		return true
	}
	return false
}

// IsInvalidOrder reports whether k rejects an order, including unknown order ids.
func (k Kind) IsInvalidOrder() bool {
	return k == KindInvalidOrder || k == KindOrderNotFound
}

// Error is a failure raised by a venue client.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Errorf creates an *Error.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error around err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: err.Error(), Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// ErrNoSandbox is returned by factories asked for a sandbox the venue does not provide.
var ErrNoSandbox = errors.New("venue does not provide a sandbox api")
