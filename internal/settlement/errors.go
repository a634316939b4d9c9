package settlement

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable classification of a redemption failure,
// surfaced to callers alongside a human-readable message.
type Kind string

const (
	KindInvalidAmount        Kind = "InvalidAmount"
	KindInvalidUser          Kind = "InvalidUser"
	KindUnsupportedChain     Kind = "UnsupportedChain"
	KindNoFunds              Kind = "NoFunds"
	KindInsufficientBalance  Kind = "InsufficientBalance"
	KindInsufficientReserve  Kind = "InsufficientReserve"
	KindReserveNotConfigured Kind = "ReserveNotConfigured"
	KindDuplicateTransaction Kind = "DuplicateTransaction"
	KindTransferFailed       Kind = "TransferFailed"
	KindInternalError        Kind = "InternalError"
)

// Error is the typed failure returned by the settlement core. Details carry
// machine-readable values (requested, available, shortfall, ...) so callers
// never have to parse the message.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func newErrorWithDetails(kind Kind, message string, details map[string]string) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// KindOf extracts the failure kind from any error returned by the core.
// Unclassified errors report as InternalError.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternalError
}
