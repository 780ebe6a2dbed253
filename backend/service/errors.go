package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/bank"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/retry"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/privacy"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/rules"
)

// Class is the failure category reported to callers.
type Class string

const (
	ClassValidation     Class = "validation"
	ClassLedgerWrite    Class = "ledger_write_failure"
	ClassLedgerReadLag  Class = "ledger_read_lag"
	ClassCalculation    Class = "calculation"
	ClassAdapterPayment Class = "adapter_payment_failure"
	ClassReconciliation Class = "reconciliation_hazard"
	ClassConfiguration  Class = "configuration"
	ClassNotFound       Class = "not_found"
	ClassInternal       Class = "internal"
)

// Error carries a caller-safe message and a class. Err holds the detail
// that is logged but not returned.
type Error struct {
	Class   Class
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(class Class, err error, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...), Err: err}
}

func validationf(format string, args ...any) *Error {
	return newError(ClassValidation, nil, format, args...)
}

// ClassOf classifies any error the engine can return.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ledger.ErrWriteFailed):
		return ClassLedgerWrite
	case errors.Is(err, rules.ErrCalculation), errors.Is(err, rules.ErrInvalidRule):
		return ClassCalculation
	case errors.Is(err, bank.ErrUnknownBank), errors.Is(err, bank.ErrMissingField), errors.Is(err, bank.ErrUnsupported):
		return ClassConfiguration
	case errors.Is(err, privacy.ErrMissingKey):
		return ClassConfiguration
	case errors.Is(err, retry.ErrExhausted):
		return ClassValidation
	}
	return ClassInternal
}

// MessageOf returns the text a caller may see for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	switch ClassOf(err) {
	case ClassNotFound:
		return "record not found"
	case ClassLedgerWrite:
		return "ledger write failed"
	case ClassCalculation, ClassConfiguration, ClassValidation:
		return err.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "request cancelled"
	}
	return "internal error"
}
