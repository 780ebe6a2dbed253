// Package bank routes payments and deposit lookups to payment rails.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownBank  = errors.New("unknown bank")
	ErrMissingField = errors.New("missing required field")
	ErrUnsupported  = errors.New("operation not supported by bank")
)

// Params are the named inputs handed to an adapter.
type Params map[string]any

// Deposit is an incoming payment seen on a rail.
type Deposit struct {
	Bank         string          `json:"bank"`
	AccountID    string          `json:"account_id,omitempty"`
	DepositID    string          `json:"deposit_id"`
	Counterparty string          `json:"counterparty"`
	Amount       decimal.Decimal `json:"deposit_amt"`
	At           time.Time       `json:"deposit_dt"`
}

type Account struct {
	Bank      string          `json:"bank"`
	AccountID string          `json:"account_id"`
	Name      string          `json:"account_name"`
	Available decimal.Decimal `json:"available_balance"`
}

type Recipient struct {
	Bank        string `json:"bank"`
	RecipientID string `json:"recipient_id"`
	Name        string `json:"recipient_name"`
}

// Adapter is implemented by every rail. MakePayment returns the rail's
// reference for the payment.
type Adapter interface {
	MakePayment(ctx context.Context, p Params) (string, error)
	GetDeposits(ctx context.Context, p Params) ([]Deposit, error)
}

// AccountLister is implemented by rails that expose accounts.
type AccountLister interface {
	Accounts(ctx context.Context) ([]Account, error)
	Recipients(ctx context.Context) ([]Recipient, error)
}

var paymentFields = map[string][]string{
	model.BankMercury: {"account_id", "recipient_id", "amount"},
	model.BankToken:   {"contract_type", "contract_idx", "funder_addr", "recipient_addr", "token_symbol", "amount", "network"},
	model.BankManual:  {"tx_hash", "amount"},
}

var depositFields = map[string][]string{
	model.BankMercury: {"start_date", "end_date", "contract"},
	model.BankToken:   {"start_date", "end_date", "network", "token_symbol", "parties"},
	model.BankManual:  {"start_date", "end_date"},
}

var renames = map[string]string{
	"advance_amt":           "amount",
	"residual_calc_amt":     "amount",
	"distribution_calc_amt": "amount",
	"dist_calc_amt":         "amount",
	"funding_account":       "account_id",
	"funding_recipient":     "recipient_id",
	"deposit_account":       "account_id",
	"funding_token_symbol":  "token_symbol",
	"deposit_token_symbol":  "token_symbol",
	"funding_token_network": "network",
	"deposit_token_network": "network",
}

// instructionFields are the keys a funding or deposit instruction may carry.
var instructionFields = map[string]bool{
	"bank":                  true,
	"account_id":            true,
	"recipient_id":          true,
	"token_symbol":          true,
	"network":               true,
	"funding_account":       true,
	"funding_recipient":     true,
	"deposit_account":       true,
	"funding_token_symbol":  true,
	"deposit_token_symbol":  true,
	"funding_token_network": true,
	"deposit_token_network": true,
}

func IsInstructionField(name string) bool {
	return instructionFields[name]
}

// Instruction returns the rail fields of a stored instruction, dropping
// anything else it carries.
func Instruction(instr map[string]any) map[string]any {
	out := make(map[string]any, len(instr))
	for k, v := range instr {
		if k != "bank" && instructionFields[k] {
			out[k] = v
		}
	}
	return out
}

// Registry maps bank names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(bank string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[bank] = a
}

func (r *Registry) Adapter(bank string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[bank]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBank, bank)
	}
	return a, nil
}

// Banks lists the registered bank names, sorted.
func (r *Registry) Banks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for b := range r.adapters {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// PaymentParams maps source fields through the rename table and keeps only
// the fields the bank needs. Every one of them must be present.
func (r *Registry) PaymentParams(bank string, src map[string]any) (Params, error) {
	return pick(bank, paymentFields, src)
}

func (r *Registry) DepositParams(bank string, src map[string]any) (Params, error) {
	return pick(bank, depositFields, src)
}

func pick(bank string, table map[string][]string, src map[string]any) (Params, error) {
	fields, ok := table[bank]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBank, bank)
	}

	// Exact names win over renamed ones.
	mapped := make(map[string]any, len(src))
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if to, ok := renames[k]; ok {
			if _, exists := src[to]; exists {
				continue
			}
			if _, done := mapped[to]; done {
				continue
			}
			mapped[to] = src[k]
			continue
		}
		mapped[k] = src[k]
	}

	out := make(Params, len(fields))
	for _, f := range fields {
		v, ok := mapped[f]
		if !ok || v == nil || v == "" {
			return nil, fmt.Errorf("%w: %s requires %q", ErrMissingField, bank, f)
		}
		out[f] = v
	}
	return out, nil
}

func (p Params) String(name string) (string, error) {
	switch v := p[name].(type) {
	case string:
		if v == "" {
			break
		}
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", fmt.Errorf("%w: %q", ErrMissingField, name)
}

func (p Params) Time(name string) (time.Time, error) {
	v, ok := p[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMissingField, name)
	}
	return model.ParseTime(v)
}
