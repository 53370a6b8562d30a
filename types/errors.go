package types

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidAmount                  ErrorKind = "InvalidAmount"
	KindUnsupportedPrecision           ErrorKind = "UnsupportedPrecision"
	KindInsufficientBalance            ErrorKind = "InsufficientBalance"
	KindBelowMinimumAmount             ErrorKind = "BelowMinimumAmount"
	KindNoOperationForPair             ErrorKind = "NoOperationForPair"
	KindNetworkMismatch                ErrorKind = "NetworkMismatch"
	KindApprovalRejected               ErrorKind = "ApprovalRejected"
	KindTransactionReverted            ErrorKind = "TransactionReverted"
	KindReceiptTimeout                 ErrorKind = "ReceiptTimeout"
	KindDestinationConfirmationTimeout ErrorKind = "DestinationConfirmationTimeout"
	KindInsufficientAllowance          ErrorKind = "InsufficientAllowance"
	KindFlowBusy                       ErrorKind = "FlowBusy"
	KindFlowAbandoned                  ErrorKind = "FlowAbandoned"
	KindInvalidAddress                 ErrorKind = "InvalidAddress"
	KindSubmissionFailed               ErrorKind = "SubmissionFailed"
	KindUnknown                        ErrorKind = "Unknown"
)

// Sentinels for errors.Is, matching is done on the kind only.
var (
	ErrInvalidAmount                  = &Error{Kind: KindInvalidAmount}
	ErrUnsupportedPrecision           = &Error{Kind: KindUnsupportedPrecision}
	ErrInsufficientBalance            = &Error{Kind: KindInsufficientBalance}
	ErrBelowMinimumAmount             = &Error{Kind: KindBelowMinimumAmount}
	ErrNoOperationForPair             = &Error{Kind: KindNoOperationForPair}
	ErrNetworkMismatch                = &Error{Kind: KindNetworkMismatch}
	ErrApprovalRejected               = &Error{Kind: KindApprovalRejected}
	ErrTransactionReverted            = &Error{Kind: KindTransactionReverted}
	ErrReceiptTimeout                 = &Error{Kind: KindReceiptTimeout}
	ErrDestinationConfirmationTimeout = &Error{Kind: KindDestinationConfirmationTimeout}
	ErrInsufficientAllowance          = &Error{Kind: KindInsufficientAllowance}
	ErrFlowBusy                       = &Error{Kind: KindFlowBusy}
	ErrFlowAbandoned                  = &Error{Kind: KindFlowAbandoned}
	ErrInvalidAddress                 = &Error{Kind: KindInvalidAddress}
	ErrSubmissionFailed               = &Error{Kind: KindSubmissionFailed}
)

// Error carries a kind callers can branch on (retry, switch network,
// adjust amount) and a human readable message.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	cause   error
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError keeps cause reachable through errors.Unwrap.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, KindUnknown otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsError converts any error into an *Error, keeping the kind when present.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnknown, Message: err.Error(), cause: err}
}
