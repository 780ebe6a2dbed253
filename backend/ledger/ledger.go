// Package ledger talks to the append-only contract ledger.
//
// Clients never retry. A write is successful only when its receipt status is
// 1; callers decide what a failure means for them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrWriteFailed    = errors.New("ledger write failed")
	ErrReceiptTimeout = errors.New("ledger receipt not confirmed in time")
	ErrNotFound       = errors.New("ledger record not found")
)

// Entity names a per-contract list on the ledger.
type Entity string

const (
	EntityContract    Entity = "contract"
	EntityParty       Entity = "party"
	EntityTransaction Entity = "transaction"
	EntitySettlement  Entity = "settlement"
	EntityArtifact    Entity = "artifact"
)

// Ledger call names
const (
	MethodAddContract        = "addContract"
	MethodUpdateContract     = "updateContract"
	MethodDeleteContract     = "deleteContract"
	MethodAddParty           = "addParty"
	MethodApproveParty       = "approveParty"
	MethodDeleteParties      = "deleteParties"
	MethodAddTransaction     = "addTransaction"
	MethodDeleteTransactions = "deleteTransactions"
	MethodAddSettlement      = "addSettlement"
	MethodDeleteSettlements  = "deleteSettlements"
	MethodPayAdvance         = "payAdvance"
	MethodPayResidual        = "payResidual"
	MethodPayDistribution    = "payDistribution"
	MethodPostSettlement     = "postSettlement"
	MethodAddArtifact        = "addArtifact"
	MethodDeleteArtifacts    = "deleteArtifacts"
)

// Call is one state-changing ledger function with its arguments.
type Call struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

type Receipt struct {
	Status int         `json:"status"`
	TxHash common.Hash `json:"tx_hash"`
}

func (r Receipt) OK() bool {
	return r.Status == 1
}

// Client is the ledger capability the engine consumes.
type Client interface {
	ContractCount(ctx context.Context, kind model.Kind) (int, error)
	ReadContract(ctx context.Context, kind model.Kind, idx int) (model.Tuple, error)
	Read(ctx context.Context, entity Entity, kind model.Kind, idx int) ([]model.Tuple, error)
	Write(ctx context.Context, call Call, signer common.Address, kind model.Kind, idx int) (Receipt, error)
}

// Transfer is an ERC-20 movement on a token network.
type Transfer struct {
	Network string         `json:"network"`
	Token   common.Address `json:"token"`
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Amount  *big.Int       `json:"amount"`
	TxHash  common.Hash    `json:"tx_hash,omitempty"`
	At      time.Time      `json:"at,omitempty"`
}

// TokenLedger moves and lists token transfers.
type TokenLedger interface {
	Transfer(ctx context.Context, t Transfer) (Receipt, error)
	Transfers(ctx context.Context, network string, token, to common.Address, start, end time.Time) ([]Transfer, error)
}

func checkReceipt(method string, r Receipt) (Receipt, error) {
	if !r.OK() {
		return r, fmt.Errorf("%w: %s returned status %d (tx %s)", ErrWriteFailed, method, r.Status, r.TxHash.Hex())
	}
	return r, nil
}

func AddContract(t model.Tuple) Call {
	return Call{Method: MethodAddContract, Args: []any{t}}
}

func UpdateContract(t model.Tuple) Call {
	return Call{Method: MethodUpdateContract, Args: []any{t}}
}

func DeleteContract() Call {
	return Call{Method: MethodDeleteContract}
}

func AddParty(t model.Tuple) Call {
	return Call{Method: MethodAddParty, Args: []any{t}}
}

func ApproveParty(partyIdx int, at time.Time, user string) Call {
	return Call{Method: MethodApproveParty, Args: []any{int64(partyIdx), at.Unix(), user}}
}

func DeleteParties() Call {
	return Call{Method: MethodDeleteParties}
}

func AddTransaction(t model.Tuple) Call {
	return Call{Method: MethodAddTransaction, Args: []any{t}}
}

func DeleteTransactions() Call {
	return Call{Method: MethodDeleteTransactions}
}

func AddSettlement(t model.Tuple) Call {
	return Call{Method: MethodAddSettlement, Args: []any{t}}
}

func DeleteSettlements() Call {
	return Call{Method: MethodDeleteSettlements}
}

// Pay builds one of payAdvance, payResidual or payDistribution. Amounts
// are in cents.
func Pay(method string, obligationIdx int, at time.Time, amount int64, ref string) Call {
	return Call{Method: method, Args: []any{int64(obligationIdx), at.Unix(), amount, ref}}
}

func PostSettlement(settleIdx int, at time.Time, amount int64, ref, disputeReason string) Call {
	return Call{Method: MethodPostSettlement, Args: []any{int64(settleIdx), at.Unix(), amount, ref, disputeReason}}
}

func AddArtifact(t model.Tuple) Call {
	return Call{Method: MethodAddArtifact, Args: []any{t}}
}

func DeleteArtifacts() Call {
	return Call{Method: MethodDeleteArtifacts}
}

// WriteObserver receives one event per write.
type WriteObserver interface {
	LedgerWrite(method, outcome string, elapsed time.Duration)
}

type instrumented struct {
	Client
	obs WriteObserver
}

// Instrument reports every write of c to obs.
func Instrument(c Client, obs WriteObserver) Client {
	if obs == nil {
		return c
	}
	return &instrumented{Client: c, obs: obs}
}

func (i *instrumented) Write(ctx context.Context, call Call, signer common.Address, kind model.Kind, idx int) (Receipt, error) {
	start := time.Now()
	r, err := i.Client.Write(ctx, call, signer, kind, idx)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	i.obs.LedgerWrite(call.Method, outcome, time.Since(start))
	return r, err
}
