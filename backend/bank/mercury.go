package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/config"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mercury sends ACH payments and reads deposits through the Mercury API.
type Mercury struct {
	config     *config.MercuryConfig
	httpClient *http.Client
}

// MercuryPaymentRequest is the request-send-money body.
type MercuryPaymentRequest struct {
	RecipientID    string      `json:"recipientId"`
	Amount         json.Number `json:"amount"`
	PaymentMethod  string      `json:"paymentMethod"`
	IdempotencyKey string      `json:"idempotencyKey"`
}

type MercuryPaymentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type mercuryTransaction struct {
	ID               string          `json:"id"`
	CounterpartyName string          `json:"counterpartyName"`
	Amount           decimal.Decimal `json:"amount"`
	CreatedAt        time.Time       `json:"createdAt"`
}

type mercuryError struct {
	Message string `json:"message"`
}

func NewMercury(cfg *config.MercuryConfig) *Mercury {
	return &Mercury{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// MakePayment requests an ACH transfer. A fresh idempotency key is sent on
// each call; the caller's per-obligation lock keeps calls from overlapping.
func (m *Mercury) MakePayment(ctx context.Context, p Params) (string, error) {
	accountID, err := p.String("account_id")
	if err != nil {
		return "", err
	}
	recipientID, err := p.String("recipient_id")
	if err != nil {
		return "", err
	}
	amount, err := money.FromAny(p["amount"])
	if err != nil {
		return "", fmt.Errorf("invalid amount: %w", err)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("payment amount must be positive, got %s", money.Format(amount))
	}

	idem := uuid.NewString()
	reqBody := MercuryPaymentRequest{
		RecipientID:    recipientID,
		Amount:         json.Number(money.Format(amount)),
		PaymentMethod:  "ach",
		IdempotencyKey: idem,
	}

	var result MercuryPaymentResponse
	path := fmt.Sprintf("/account/%s/request-send-money", url.PathEscape(accountID))
	if err := m.do(ctx, http.MethodPost, path, reqBody, &result); err != nil {
		return "", fmt.Errorf("failed to make payment: %w", err)
	}
	if result.ID != "" {
		return result.ID, nil
	}
	return idem, nil
}

// GetDeposits lists positive transactions on the contract's deposit
// account.
func (m *Mercury) GetDeposits(ctx context.Context, p Params) ([]Deposit, error) {
	start, err := p.Time("start_date")
	if err != nil {
		return nil, err
	}
	end, err := p.Time("end_date")
	if err != nil {
		return nil, err
	}
	accountID := depositAccount(p["contract"])
	if accountID == "" {
		return nil, fmt.Errorf("%w: contract has no mercury account_id", ErrMissingField)
	}

	q := url.Values{}
	q.Set("start", start.Format("2006-01-02"))
	q.Set("end", end.Format("2006-01-02"))

	var result struct {
		Transactions []mercuryTransaction `json:"transactions"`
	}
	path := fmt.Sprintf("/account/%s/transactions?%s", url.PathEscape(accountID), q.Encode())
	if err := m.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch deposits: %w", err)
	}

	deposits := make([]Deposit, 0, len(result.Transactions))
	for _, tx := range result.Transactions {
		if !tx.Amount.IsPositive() {
			continue
		}
		deposits = append(deposits, Deposit{
			Bank:         model.BankMercury,
			AccountID:    accountID,
			DepositID:    tx.ID,
			Counterparty: tx.CounterpartyName,
			Amount:       tx.Amount,
			At:           tx.CreatedAt.UTC(),
		})
	}
	return deposits, nil
}

func (m *Mercury) Accounts(ctx context.Context) ([]Account, error) {
	var result struct {
		Accounts []struct {
			ID               string          `json:"id"`
			Name             string          `json:"name"`
			AvailableBalance decimal.Decimal `json:"availableBalance"`
		} `json:"accounts"`
	}
	if err := m.do(ctx, http.MethodGet, "/accounts", nil, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}

	out := make([]Account, 0, len(result.Accounts))
	for _, a := range result.Accounts {
		out = append(out, Account{Bank: model.BankMercury, AccountID: a.ID, Name: a.Name, Available: a.AvailableBalance})
	}
	return out, nil
}

func (m *Mercury) Recipients(ctx context.Context) ([]Recipient, error) {
	var result struct {
		Recipients []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"recipients"`
	}
	if err := m.do(ctx, http.MethodGet, "/recipients", nil, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch recipients: %w", err)
	}

	out := make([]Recipient, 0, len(result.Recipients))
	for _, r := range result.Recipients {
		out = append(out, Recipient{Bank: model.BankMercury, RecipientID: r.ID, Name: r.Name})
	}
	return out, nil
}

func (m *Mercury) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.config.URL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(m.config.Token, "")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr mercuryError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("mercury API error %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("mercury API error %d", resp.StatusCode)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w, body: %s", err, string(respBody))
	}
	return nil
}

// depositAccount finds the receiving account in a contract record or raw
// contract map: deposit_instr first, then funding_instr.
func depositAccount(v any) string {
	var c map[string]any
	switch t := v.(type) {
	case model.Record:
		c = t
	case map[string]any:
		c = t
	default:
		return ""
	}
	for _, instr := range []string{"deposit_instr", "funding_instr"} {
		if o, ok := c[instr].(map[string]any); ok {
			if id, ok := o["account_id"].(string); ok && id != "" {
				return id
			}
		}
	}
	return ""
}
