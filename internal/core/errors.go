package core

import (
	"errors"
	"fmt"
	"strings"

	"wholesale-fulfillment/internal/db"
)

// ErrorKind discriminates every error the core returns.
type ErrorKind string

const (
	KindValidation    ErrorKind = "VALIDATION"
	KindPrecondition  ErrorKind = "PRECONDITION"
	KindForbidden     ErrorKind = "FORBIDDEN"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindNegativeStock ErrorKind = "NEGATIVE_STOCK"
	KindOverpayment   ErrorKind = "OVERPAYMENT"
	KindTransient     ErrorKind = "TRANSIENT"
	KindInternal      ErrorKind = "INTERNAL"
)

// Stable machine codes carried by Error.Code.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInvalidQuantity    = "INVALID_QUANTITY"
	CodeInvalidCodeFormat  = "INVALID_CONFIRMATION_CODE_FORMAT"
	CodeRecipientRequired  = "RECIPIENT_REQUIRED"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeApprovalPending    = "APPROVAL_PENDING"
	CodeCreditExceeded     = "CREDIT_EXCEEDED"
	CodeAlreadyAssigned    = "ALREADY_ASSIGNED"
	CodeWrongConfirmation  = "WRONG_CONFIRMATION_CODE"
	CodeInvoiceLocked      = "INVOICE_LOCKED"
	CodeOrderLocked        = "ORDER_LOCKED"
	CodeInvoiceHasPayments = "INVOICE_HAS_PAYMENTS"
	CodeInvoiceNotPayable  = "INVOICE_NOT_PAYABLE"
	CodeNotAgent           = "NOT_A_DELIVERY_AGENT"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeNegativeStock      = "NEGATIVE_STOCK"
	CodeOverpayment        = "OVERPAYMENT"
	CodeTransient          = "TRANSIENT_FAILURE"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is the single error type returned by core operations.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, CodeInternal otherwise.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

func validationError(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func preconditionError(code, format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Code: code, Message: fmt.Sprintf(format, args...)}
}

func forbiddenError(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(entity string, id any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

// negativeStockError describes a stock change that would go below zero.
func negativeStockError(t StockTarget, current, change int) *Error {
	return &Error{
		Kind:    KindNegativeStock,
		Code:    CodeNegativeStock,
		Message: fmt.Sprintf("insufficient stock for %s: on hand %d, change %d", t, current, change),
	}
}

func overpaymentError(amount, paid, ttc fmt.Stringer) *Error {
	return &Error{
		Kind:    KindOverpayment,
		Code:    CodeOverpayment,
		Message: fmt.Sprintf("payment of %s exceeds remaining amount: already paid %s of %s", amount, paid, ttc),
	}
}

func transientError(op string, err error) *Error {
	return &Error{Kind: KindTransient, Code: CodeTransient, Message: op + " could not complete in time, retry", Err: err}
}

// storeError maps a persistence failure into the core taxonomy.
// entity/id are used for the not-found message.
func storeError(op, entity string, id any, err error) error {
	if err == nil {
		return nil
	}
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return err
	}
	switch db.Classify(err) {
	case db.ClassNotFound:
		return notFoundError(entity, id)
	case db.ClassTransient:
		return transientError(op, err)
	case db.ClassCheckViolation:
		if strings.Contains(db.ConstraintName(err), "stock") {
			return &Error{Kind: KindNegativeStock, Code: CodeNegativeStock, Message: "stock would go below zero", Err: err}
		}
		return &Error{Kind: KindValidation, Code: CodeInvalidInput, Message: "failed to " + op, Err: err}
	case db.ClassOutOfRange:
		return &Error{Kind: KindValidation, Code: CodeInvalidQuantity, Message: "value out of range: failed to " + op, Err: err}
	case db.ClassRejectedByTrigger:
		return &Error{Kind: KindPrecondition, Code: CodeInvoiceLocked, Message: "record is locked", Err: err}
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "failed to " + op, Err: err}
}
