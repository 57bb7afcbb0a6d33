package exchange

import (
	"errors"
	"fmt"

	"tradebot-go/internal/adapter"
)

// Kind is the class of a gateway failure. Callers branch on it, never on adapter errors.
type Kind string

const (
	// KindTemporary is a network, throttling or venue-side transient failure.
	KindTemporary Kind = "temporary"
	// KindDDoSProtection is a Temporary failure caused by the venue throttling the bot.
	KindDDoSProtection Kind = "ddos_protection"
	// KindDependency is an order failure the caller caused.
	KindDependency Kind = "dependency"
	// KindInsufficientFunds is a Dependency failure caused by a too small balance.
	KindInsufficientFunds Kind = "insufficient_funds"
	// KindInvalidOrder means the referenced order is unknown.
	KindInvalidOrder Kind = "invalid_order"
	// KindOperational is a configuration or capability mismatch.
	KindOperational Kind = "operational"
)

var parentKind = map[Kind]Kind{
	KindDDoSProtection:    KindTemporary,
	KindInsufficientFunds: KindDependency,
}

// Sentinels for errors.Is.
var (
	ErrTemporary         = &Error{Kind: KindTemporary}
	ErrDDoSProtection    = &Error{Kind: KindDDoSProtection}
	ErrDependency        = &Error{Kind: KindDependency}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrInvalidOrder      = &Error{Kind: KindInvalidOrder}
	ErrOperational       = &Error{Kind: KindOperational}
)

// Error is the only error type returned by the gateway.
type Error struct {
	Kind Kind
	Msg  string
	// Err is the adapter error that caused this one, if any.
	Err error
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches an *Error target of the same kind or of a parent kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind || parentKind[e.Kind] == t.Kind
}

// IsTemporary reports whether err is a Temporary failure, throttling included.
func IsTemporary(err error) bool { return errors.Is(err, ErrTemporary) }

// IsDDoSProtection reports whether the venue throttled the request.
func IsDDoSProtection(err error) bool { return errors.Is(err, ErrDDoSProtection) }

// IsDependency reports whether err is a Dependency failure, insufficient funds included.
func IsDependency(err error) bool { return errors.Is(err, ErrDependency) }

// IsInsufficientFunds reports whether the balance was too small.
func IsInsufficientFunds(err error) bool { return errors.Is(err, ErrInsufficientFunds) }

// IsInvalidOrder reports whether err references an unknown order.
func IsInvalidOrder(err error) bool { return errors.Is(err, ErrInvalidOrder) }

// IsOperational reports whether err is a configuration or capability mismatch.
func IsOperational(err error) bool { return errors.Is(err, ErrOperational) }

// KindOf returns the gateway kind of err, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// temporaryKind keeps throttling distinct so the retry schedule can tell it apart.
func temporaryKind(err error) Kind {
	if adapter.KindOf(err) == adapter.KindDDoSProtection {
		return KindDDoSProtection
	}
	return KindTemporary
}

// translate maps an adapter error of a read-only call.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	k := adapter.KindOf(err)
	switch {
	case k == adapter.KindNotSupported:
		return newError(KindOperational, err, "venue does not support %s: %v", what, err)
	case k.IsNetwork() || k == adapter.KindExchange || k.IsInvalidOrder() || k == adapter.KindInsufficientFunds:
		return newError(temporaryKind(err), err, "could not %s due to %s: %v", what, k, err)
	default:
		return newError(KindOperational, err, "could not %s: %v", what, err)
	}
}

// translateCreate maps an adapter error raised while placing an order.
func translateCreate(err error, desc string) error {
	if err == nil {
		return nil
	}
	k := adapter.KindOf(err)
	switch {
	case k == adapter.KindInsufficientFunds:
		return newError(KindInsufficientFunds, err, "insufficient funds to create %s: %v", desc, err)
	case k.IsInvalidOrder():
		return newError(KindDependency, err, "could not create %s: %v", desc, err)
	case k.IsNetwork() || k == adapter.KindExchange:
		return newError(temporaryKind(err), err, "could not place %s due to %s: %v", desc, k, err)
	default:
		return newError(KindOperational, err, "could not place %s: %v", desc, err)
	}
}

// translateOrderLookup maps an adapter error of a call that references an order id.
func translateOrderLookup(err error, what string) error {
	if err == nil {
		return nil
	}
	k := adapter.KindOf(err)
	switch {
	case k.IsInvalidOrder():
		return newError(KindInvalidOrder, err, "could not %s: %v", what, err)
	case k.IsNetwork() || k == adapter.KindExchange:
		return newError(temporaryKind(err), err, "could not %s due to %s: %v", what, k, err)
	default:
		return newError(KindOperational, err, "could not %s: %v", what, err)
	}
}

// interrupted reports a call ended by its context as Temporary, keeping the context error as cause.
func interrupted(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(KindTemporary, err, "request interrupted: %v", err)
}
