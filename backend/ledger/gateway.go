package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/config"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/ethereum/go-ethereum/common"
)

// Gateway is a client for the ledger signing gateway. The gateway owns keys
// and nonces; this side submits calls and polls for receipts.
type Gateway struct {
	baseURL        string
	token          string
	network        string
	httpClient     *http.Client
	pollInterval   time.Duration
	receiptTimeout time.Duration
}

type readRequest struct {
	Entity       string `json:"entity"`
	ContractType string `json:"contract_type"`
	ContractIdx  int    `json:"contract_idx"`
}

type readResponse struct {
	Count  *int          `json:"count,omitempty"`
	Tuples []model.Tuple `json:"tuples"`
}

type callRequest struct {
	Call
	Signer       string `json:"signer"`
	ContractType string `json:"contract_type"`
	ContractIdx  int    `json:"contract_idx"`
}

type submitResponse struct {
	TxHash string `json:"tx_hash"`
}

type receiptResponse struct {
	Status  int    `json:"status"`
	TxHash  string `json:"tx_hash"`
	Pending bool   `json:"pending"`
}

type transferWire struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	TxHash string `json:"tx_hash,omitempty"`
	At     int64  `json:"at,omitempty"`
}

func NewGateway(cfg *config.LedgerConfig) *Gateway {
	return &Gateway{
		baseURL: cfg.GatewayURL,
		token:   cfg.GatewayToken,
		network: cfg.Network,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollInterval:   time.Duration(cfg.PollIntervalMillis) * time.Millisecond,
		receiptTimeout: time.Duration(cfg.ReceiptTimeoutSecs) * time.Second,
	}
}

func (g *Gateway) ContractCount(ctx context.Context, kind model.Kind) (int, error) {
	var resp readResponse
	if err := g.do(ctx, http.MethodPost, g.path(g.network, "reads"), readRequest{Entity: "count", ContractType: string(kind)}, &resp); err != nil {
		return 0, err
	}
	if resp.Count == nil {
		return 0, fmt.Errorf("ledger count response for %s has no count", kind)
	}
	return *resp.Count, nil
}

func (g *Gateway) ReadContract(ctx context.Context, kind model.Kind, idx int) (model.Tuple, error) {
	tuples, err := g.Read(ctx, EntityContract, kind, idx)
	if err != nil {
		return nil, err
	}
	if len(tuples) != 1 {
		return nil, fmt.Errorf("%w: %s contract %d", ErrNotFound, kind, idx)
	}
	return tuples[0], nil
}

func (g *Gateway) Read(ctx context.Context, entity Entity, kind model.Kind, idx int) ([]model.Tuple, error) {
	var resp readResponse
	req := readRequest{Entity: string(entity), ContractType: string(kind), ContractIdx: idx}
	if err := g.do(ctx, http.MethodPost, g.path(g.network, "reads"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Tuples == nil {
		resp.Tuples = []model.Tuple{}
	}
	return resp.Tuples, nil
}

func (g *Gateway) Write(ctx context.Context, call Call, signer common.Address, kind model.Kind, idx int) (Receipt, error) {
	req := callRequest{Call: call, Signer: signer.Hex(), ContractType: string(kind), ContractIdx: idx}

	var submitted submitResponse
	if err := g.do(ctx, http.MethodPost, g.path(g.network, "calls"), req, &submitted); err != nil {
		return Receipt{}, fmt.Errorf("submit %s: %w", call.Method, err)
	}
	return g.waitReceipt(ctx, g.network, call.Method, submitted.TxHash)
}

// Transfer submits an ERC-20 transfer on the transfer's own network.
func (g *Gateway) Transfer(ctx context.Context, t Transfer) (Receipt, error) {
	if t.Amount == nil {
		return Receipt{}, fmt.Errorf("transfer amount is required")
	}
	req := transferWire{Token: t.Token.Hex(), From: t.From.Hex(), To: t.To.Hex(), Amount: t.Amount.String()}

	var submitted submitResponse
	if err := g.do(ctx, http.MethodPost, g.path(t.Network, "transfers"), req, &submitted); err != nil {
		return Receipt{}, fmt.Errorf("submit transfer: %w", err)
	}
	return g.waitReceipt(ctx, t.Network, "transfer", submitted.TxHash)
}

func (g *Gateway) Transfers(ctx context.Context, network string, token, to common.Address, start, end time.Time) ([]Transfer, error) {
	q := url.Values{}
	q.Set("token", token.Hex())
	q.Set("to", to.Hex())
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	var wire struct {
		Transfers []transferWire `json:"transfers"`
	}
	if err := g.do(ctx, http.MethodGet, g.path(network, "transfers")+"?"+q.Encode(), nil, &wire); err != nil {
		return nil, err
	}

	out := make([]Transfer, 0, len(wire.Transfers))
	for _, w := range wire.Transfers {
		amt, ok := new(big.Int).SetString(w.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid transfer amount %q", w.Amount)
		}
		out = append(out, Transfer{
			Network: network,
			Token:   common.HexToAddress(w.Token),
			From:    common.HexToAddress(w.From),
			To:      common.HexToAddress(w.To),
			Amount:  amt,
			TxHash:  common.HexToHash(w.TxHash),
			At:      time.Unix(w.At, 0).UTC(),
		})
	}
	return out, nil
}

// waitReceipt polls until the transaction is mined or the receipt timeout
// passes. A timeout is a write failure.
func (g *Gateway) waitReceipt(ctx context.Context, network, method, txHash string) (Receipt, error) {
	if txHash == "" {
		return Receipt{}, fmt.Errorf("%w: %s returned no transaction hash", ErrWriteFailed, method)
	}
	ctx, cancel := context.WithTimeout(ctx, g.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		var resp receiptResponse
		// 404 and gateway errors mean not mined yet; keep polling
		err := g.do(ctx, http.MethodGet, g.path(network, "receipts/"+txHash), nil, &resp)
		if err == nil && !resp.Pending {
			return checkReceipt(method, Receipt{Status: resp.Status, TxHash: common.HexToHash(txHash)})
		}

		select {
		case <-ctx.Done():
			return Receipt{TxHash: common.HexToHash(txHash)}, fmt.Errorf("%w: %w: %s %s", ErrWriteFailed, ErrReceiptTimeout, method, txHash)
		case <-ticker.C:
		}
	}
}

func (g *Gateway) path(network, suffix string) string {
	return fmt.Sprintf("%s/v1/%s/%s", g.baseURL, network, suffix)
}

func (g *Gateway) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, target)
	case resp.StatusCode >= 300:
		return fmt.Errorf("ledger gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
