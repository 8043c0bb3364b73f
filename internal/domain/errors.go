package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error so callers can branch without string matching.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidState
	KindInvalidInput
	KindInsufficientFunds
	KindSignatureInvalid
	KindGatewayUnavailable
	KindPersistenceFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidInput:
		return "invalid_input"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindGatewayUnavailable:
		return "gateway_unavailable"
	case KindPersistenceFailure:
		return "persistence_failure"
	default:
		return "unknown"
	}
}

// Error is the tagged error returned by every money-movement operation.
type Error struct {
	Kind     Kind
	Code     string
	Entity   string
	ID       string
	Field    string
	Current  string
	Expected string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Entity != "" || e.ID != "" {
		fmt.Fprintf(&b, " (%s %s)", e.Entity, e.ID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	if e.Current != "" {
		fmt.Fprintf(&b, ": current=%s", e.Current)
		if e.Expected != "" {
			fmt.Fprintf(&b, " expected=%s", e.Expected)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by code, or by kind when the sentinel carries no code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds}
	ErrSignatureInvalid   = &Error{Kind: KindSignatureInvalid, Code: "signature_invalid"}
	ErrGatewayUnavailable = &Error{Kind: KindGatewayUnavailable}
	ErrPersistence        = &Error{Kind: KindPersistenceFailure}

	ErrUserNotFound           = &Error{Kind: KindNotFound, Code: "user_not_found"}
	ErrRequestNotFound        = &Error{Kind: KindNotFound, Code: "request_not_found"}
	ErrPaymentNotFound        = &Error{Kind: KindNotFound, Code: "payment_not_found"}
	ErrInvalidAmount          = &Error{Kind: KindInvalidInput, Code: "invalid_amount"}
	ErrInvalidMethod          = &Error{Kind: KindInvalidInput, Code: "invalid_method"}
	ErrMissingField           = &Error{Kind: KindInvalidInput, Code: "missing_field"}
	ErrInsufficientBalance    = &Error{Kind: KindInsufficientFunds, Code: "insufficient_balance"}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidState, Code: "invalid_state_transition"}
	ErrGateway                = &Error{Kind: KindGatewayUnavailable, Code: "gateway_error"}
	ErrWalletExists           = &Error{Kind: KindInvalidState, Code: "wallet_exists"}
)

// UserNotFound reports a missing user/wallet.
func UserNotFound(userID string) error {
	return &Error{Kind: KindNotFound, Code: "user_not_found", Entity: "user", ID: userID}
}

// WalletExists reports a second wallet for the same user.
func WalletExists(userID string) error {
	return &Error{Kind: KindInvalidState, Code: "wallet_exists", Entity: "user", ID: userID}
}

// RequestNotFound reports a missing money request.
func RequestNotFound(id string) error {
	return &Error{Kind: KindNotFound, Code: "request_not_found", Entity: "money_request", ID: id}
}

// PaymentNotFound reports a missing crypto payment.
func PaymentNotFound(merchantOrderID string) error {
	return &Error{Kind: KindNotFound, Code: "payment_not_found", Entity: "crypto_payment", ID: merchantOrderID}
}

// InvalidAmount reports a non-positive amount.
func InvalidAmount(amount string) error {
	return &Error{Kind: KindInvalidInput, Code: "invalid_amount", Field: "amount", Current: amount, Expected: "> 0"}
}

// AmountTooPrecise reports an amount finer than the stored money scale.
func AmountTooPrecise(amount string) error {
	return &Error{Kind: KindInvalidInput, Code: "invalid_amount", Field: "amount", Current: amount, Expected: fmt.Sprintf("at most %d decimal places", AmountScale)}
}

// InvalidMethod reports an absent or unknown withdrawal method.
func InvalidMethod(method string) error {
	return &Error{Kind: KindInvalidInput, Code: "invalid_method", Field: "method_type", Current: method}
}

// MissingField reports a required field that was not supplied.
func MissingField(field string) error {
	return &Error{Kind: KindInvalidInput, Code: "missing_field", Field: field}
}

// InvalidField reports a supplied field whose value is not acceptable.
func InvalidField(field, value string) error {
	return &Error{Kind: KindInvalidInput, Code: "invalid_field", Field: field, Current: value}
}

// InsufficientBalance reports a debit larger than the available balance.
func InsufficientBalance(userID, balance, amount string) error {
	return &Error{Kind: KindInsufficientFunds, Code: "insufficient_balance", Entity: "user", ID: userID, Current: balance, Expected: ">= " + amount}
}

// InvalidStateTransition reports an illegal lifecycle move.
func InvalidStateTransition(entity, id, current, expected string) error {
	return &Error{Kind: KindInvalidState, Code: "invalid_state_transition", Entity: entity, ID: id, Current: current, Expected: expected}
}

// GatewayError wraps a failed or malformed provider exchange.
func GatewayError(err error) error {
	return &Error{Kind: KindGatewayUnavailable, Code: "gateway_error", Err: err}
}

// Persistence wraps an underlying store fault.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindPersistenceFailure, Code: "persistence_failure", Entity: op, Err: err}
}

// KindOf extracts the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
