package bank

import (
	"context"
	"fmt"
	"strings"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/money"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TokenDirectory resolves a token symbol to its contract address.
type TokenDirectory interface {
	TokenAddr(symbol string) (string, bool)
}

// Token pays in ERC-20 tokens through the token ledger.
type Token struct {
	ledger   ledger.TokenLedger
	tokens   TokenDirectory
	decimals int32
}

func NewToken(l ledger.TokenLedger, tokens TokenDirectory, decimals int) *Token {
	return &Token{ledger: l, tokens: tokens, decimals: int32(decimals)}
}

func (t *Token) MakePayment(ctx context.Context, p Params) (string, error) {
	network, err := p.String("network")
	if err != nil {
		return "", err
	}
	from, err := address(p, "funder_addr")
	if err != nil {
		return "", err
	}
	to, err := address(p, "recipient_addr")
	if err != nil {
		return "", err
	}
	token, err := t.token(p)
	if err != nil {
		return "", err
	}
	amount, err := money.FromAny(p["amount"])
	if err != nil {
		return "", fmt.Errorf("invalid amount: %w", err)
	}
	units := t.units(amount)
	if units.Sign() <= 0 {
		return "", fmt.Errorf("token amount must be positive, got %s", money.Format(amount))
	}

	r, err := t.ledger.Transfer(ctx, ledger.Transfer{
		Network: network,
		Token:   token,
		From:    from,
		To:      to,
		Amount:  units.BigInt(),
	})
	if err != nil {
		return "", fmt.Errorf("token transfer failed: %w", err)
	}
	return r.TxHash.Hex(), nil
}

// GetDeposits lists token transfers into any of the given party addresses.
// parties holds addresses as strings or party records with party_addr.
func (t *Token) GetDeposits(ctx context.Context, p Params) ([]Deposit, error) {
	start, err := p.Time("start_date")
	if err != nil {
		return nil, err
	}
	end, err := p.Time("end_date")
	if err != nil {
		return nil, err
	}
	network, err := p.String("network")
	if err != nil {
		return nil, err
	}
	token, err := t.token(p)
	if err != nil {
		return nil, err
	}
	addrs, err := partyAddresses(p["parties"])
	if err != nil {
		return nil, err
	}

	deposits := []Deposit{}
	for _, to := range addrs {
		transfers, err := t.ledger.Transfers(ctx, network, token, to, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to list transfers to %s: %w", to.Hex(), err)
		}
		for _, tr := range transfers {
			deposits = append(deposits, Deposit{
				Bank:         model.BankToken,
				AccountID:    to.Hex(),
				DepositID:    tr.TxHash.Hex(),
				Counterparty: tr.From.Hex(),
				Amount:       decimal.NewFromBigInt(tr.Amount, -t.decimals),
				At:           tr.At,
			})
		}
	}
	return deposits, nil
}

func (t *Token) token(p Params) (common.Address, error) {
	symbol, err := p.String("token_symbol")
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := t.tokens.TokenAddr(strings.ToLower(symbol))
	if !ok {
		addr, ok = t.tokens.TokenAddr(symbol)
	}
	if !ok || !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%w: no token address configured for %q", ErrMissingField, symbol)
	}
	return common.HexToAddress(addr), nil
}

// units converts an amount to the token's smallest unit, truncating.
func (t *Token) units(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(t.decimals).Truncate(0)
}

func address(p Params, name string) (common.Address, error) {
	s, err := p.String(name)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address for %s: %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func partyAddresses(v any) ([]common.Address, error) {
	var raw []string
	switch list := v.(type) {
	case []string:
		raw = list
	case []any:
		for _, item := range list {
			switch it := item.(type) {
			case string:
				raw = append(raw, it)
			case model.Record:
				raw = append(raw, it.Text("party_addr"))
			case map[string]any:
				s, _ := it["party_addr"].(string)
				raw = append(raw, s)
			}
		}
	case []model.Record:
		for _, r := range list {
			raw = append(raw, r.Text("party_addr"))
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingField, "parties")
	}

	out := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid party address %q", s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}
