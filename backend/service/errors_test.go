package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/bank"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/retry"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/rules"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{validationf("bad"), ClassValidation},
		{fmt.Errorf("wrap: %w", newError(ClassReconciliation, nil, "paid")), ClassReconciliation},
		{fmt.Errorf("read: %w", ledger.ErrNotFound), ClassNotFound},
		{ledger.ErrWriteFailed, ClassLedgerWrite},
		{fmt.Errorf("%w: x", rules.ErrCalculation), ClassCalculation},
		{bank.ErrMissingField, ClassConfiguration},
		{retry.ErrExhausted, ClassValidation},
		{errors.New("boom"), ClassInternal},
	}
	for _, tt := range tests {
		if got := ClassOf(tt.err); got != tt.want {
			t.Errorf("ClassOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestMessageHidesDetail(t *testing.T) {
	err := newError(ClassLedgerWrite, errors.New("rpc: nonce too low at 10.0.0.4"), "ledger rejected addTransaction")
	if MessageOf(err) != "ledger rejected addTransaction" {
		t.Errorf("Unexpected message %q", MessageOf(err))
	}
	if !strings.Contains(err.Error(), "nonce") {
		t.Error("Expected Error() to keep the detail for logs")
	}
	if MessageOf(errors.New("secret")) != "internal error" {
		t.Error("Expected internal errors to be masked")
	}
	if MessageOf(context.Canceled) != "request cancelled" {
		t.Errorf("Unexpected message %q", MessageOf(context.Canceled))
	}
}

func TestEnvelope(t *testing.T) {
	captureLogs(t)
	ok := Result(context.Background(), []int{1}, nil)
	if ok.Status != StatusSuccess || ok.Class != "" {
		t.Errorf("Unexpected success envelope %+v", ok)
	}
	bad := Result(context.Background(), nil, validationf("contract_name must be a non-empty string"))
	if bad.Status != StatusError || bad.Class != ClassValidation || bad.Data != nil {
		t.Errorf("Unexpected error envelope %+v", bad)
	}
	if bad.Message != "contract_name must be a non-empty string" {
		t.Errorf("Unexpected message %q", bad.Message)
	}
}
