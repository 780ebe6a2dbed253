package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/ethereum/go-ethereum/common"
)

var testSigner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func emptyTuple(l *model.Layout) model.Tuple {
	t := make(model.Tuple, l.Width())
	for _, f := range l.Fields {
		if f.Derived {
			continue
		}
		pos := l.Index(f.Name)
		switch f.Codec {
		case model.Text, model.Sealed:
			t[pos] = ""
		case model.Object:
			t[pos] = "{}"
		case model.Bool:
			t[pos] = false
		default:
			t[pos] = int64(0)
		}
	}
	return t
}

func mustWrite(t *testing.T, m *Memory, call Call, kind model.Kind, idx int) Receipt {
	t.Helper()
	r, err := m.Write(context.Background(), call, testSigner, kind, idx)
	if err != nil {
		t.Fatalf("%s failed: %v", call.Method, err)
	}
	return r
}

func TestMemoryAddAndReadContract(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	r := mustWrite(t, m, AddContract(emptyTuple(model.ContractLayout)), model.KindAdvance, 0)
	if !r.OK() {
		t.Fatal("Expected status 1")
	}
	if r.TxHash == (common.Hash{}) {
		t.Error("Expected a transaction hash")
	}

	count, err := m.ContractCount(ctx, model.KindAdvance)
	if err != nil || count != 1 {
		t.Fatalf("Expected count 1, got %d (%v)", count, err)
	}
	if count, _ := m.ContractCount(ctx, model.KindSale); count != 0 {
		t.Errorf("Expected sale count 0, got %d", count)
	}

	if _, err := m.ReadContract(ctx, model.KindAdvance, 0); err != nil {
		t.Errorf("ReadContract failed: %v", err)
	}
	if _, err := m.ReadContract(ctx, model.KindAdvance, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryPropagationLag(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()

	mustWrite(t, m, AddContract(emptyTuple(model.ContractLayout)), model.KindPurchase, 0)

	for i := 0; i < 2; i++ {
		if count, _ := m.ContractCount(ctx, model.KindPurchase); count != 0 {
			t.Fatalf("Read %d: expected lagging count 0, got %d", i, count)
		}
	}
	if count, _ := m.ContractCount(ctx, model.KindPurchase); count != 1 {
		t.Errorf("Expected count 1 after lag, got %d", count)
	}
}

func TestMemoryDeleteContractIsTombstone(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	mustWrite(t, m, AddContract(emptyTuple(model.ContractLayout)), model.KindSale, 0)
	mustWrite(t, m, DeleteContract(), model.KindSale, 0)

	if _, err := m.ReadContract(ctx, model.KindSale, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if count, _ := m.ContractCount(ctx, model.KindSale); count != 1 {
		t.Errorf("Expected count to keep the tombstoned index, got %d", count)
	}
}

func TestMemoryPayAdvanceOnce(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	mustWrite(t, m, AddContract(emptyTuple(model.ContractLayout)), model.KindAdvance, 0)
	mustWrite(t, m, AddTransaction(emptyTuple(model.TransactionLayout)), model.KindAdvance, 0)

	now := time.Now()
	mustWrite(t, m, Pay(MethodPayAdvance, 0, now, 75000, "ref-1"), model.KindAdvance, 0)

	txns, err := m.Read(ctx, EntityTransaction, model.KindAdvance, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := txns[0][model.TransactionLayout.Index("advance_pay_amt")]; got != int64(75000) {
		t.Errorf("Expected pay amount 75000, got %v", got)
	}
	if got := txns[0][model.TransactionLayout.Index("advance_tx_hash")]; got != "ref-1" {
		t.Errorf("Expected ref-1, got %v", got)
	}

	_, err = m.Write(ctx, Pay(MethodPayAdvance, 0, now, 75000, "ref-2"), testSigner, model.KindAdvance, 0)
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Expected second payment to revert, got %v", err)
	}
	if m.Writes(MethodPayAdvance) != 1 {
		t.Errorf("Expected one successful payAdvance, got %d", m.Writes(MethodPayAdvance))
	}
}

func TestMemoryLagReads(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	paid := model.TransactionLayout.Index("advance_pay_amt")

	mustWrite(t, m, AddContract(emptyTuple(model.ContractLayout)), model.KindAdvance, 0)
	mustWrite(t, m, AddTransaction(emptyTuple(model.TransactionLayout)), model.KindAdvance, 0)
	m.LagReads(EntityTransaction, 2)
	mustWrite(t, m, Pay(MethodPayAdvance, 0, time.Now(), 75000, "ref-1"), model.KindAdvance, 0)

	for i := 0; i < 2; i++ {
		txns, err := m.Read(ctx, EntityTransaction, model.KindAdvance, 0)
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if got := txns[0][paid]; got != int64(0) {
			t.Fatalf("Read %d: expected lagging pay amount 0, got %v", i, got)
		}
	}
	txns, err := m.Read(ctx, EntityTransaction, model.KindAdvance, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := txns[0][paid]; got != int64(75000) {
		t.Errorf("Expected pay amount 75000 after lag, got %v", got)
	}

	_, err = m.Write(ctx, Pay(MethodPayAdvance, 0, time.Now(), 75000, "ref-2"), testSigner, model.KindAdvance, 0)
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Expected second payment to revert, got %v", err)
	}

	parties, err := m.Read(ctx, EntityParty, model.KindAdvance, 0)
	if err != nil || len(parties) != 0 {
		t.Errorf("Expected unlagged entity to read through, got %v (%v)", parties, err)
	}
}

func TestMemoryRevertsBadCalls(t *testing.T) {
	m := NewMemory(0)
	mustWrite(t, m, AddContract(emptyTuple(model.ContractLayout)), model.KindPurchase, 0)

	tests := []struct {
		name string
		call Call
		kind model.Kind
		idx  int
	}{
		{"unknown contract", AddParty(emptyTuple(model.PartyLayout)), model.KindPurchase, 5},
		{"wrong tuple width", AddParty(model.Tuple{"x"}), model.KindPurchase, 0},
		{"purchase settlement", AddSettlement(emptyTuple(model.AdvanceSettlementLayout)), model.KindPurchase, 0},
		{"missing transaction", Pay(MethodPayAdvance, 3, time.Now(), 100, "r"), model.KindPurchase, 0},
		{"unknown method", Call{Method: "mint"}, model.KindPurchase, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := m.Write(context.Background(), tt.call, testSigner, tt.kind, tt.idx)
			if !errors.Is(err, ErrWriteFailed) {
				t.Errorf("Expected ErrWriteFailed, got %v", err)
			}
			if r.OK() {
				t.Error("Expected non-success receipt")
			}
		})
	}
}

func TestMemoryFailNext(t *testing.T) {
	m := NewMemory(0)
	m.FailNext(MethodAddContract, 1)

	if _, err := m.Write(context.Background(), AddContract(emptyTuple(model.ContractLayout)), testSigner, model.KindSale, 0); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Expected injected failure, got %v", err)
	}
	mustWrite(t, m, AddContract(emptyTuple(model.ContractLayout)), model.KindSale, 0)
}

func TestMemoryPostSettlementAndResidual(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	l := model.AdvanceSettlementLayout

	mustWrite(t, m, AddContract(emptyTuple(model.ContractLayout)), model.KindAdvance, 0)
	mustWrite(t, m, AddSettlement(emptyTuple(l)), model.KindAdvance, 0)
	mustWrite(t, m, PostSettlement(0, time.Now(), 39999, "dep-1", "short paid"), model.KindAdvance, 0)
	mustWrite(t, m, Pay(MethodPayResidual, 0, time.Now(), 1000, "res-1"), model.KindAdvance, 0)

	settles, _ := m.Read(ctx, EntitySettlement, model.KindAdvance, 0)
	if settles[0][l.Index("dispute_reason")] != "short paid" {
		t.Errorf("Expected dispute reason, got %v", settles[0][l.Index("dispute_reason")])
	}
	if settles[0][l.Index("residual_pay_amt")] != int64(1000) {
		t.Errorf("Expected residual paid, got %v", settles[0][l.Index("residual_pay_amt")])
	}

	if _, err := m.Write(ctx, Pay(MethodPayDistribution, 0, time.Now(), 1, "x"), testSigner, model.KindAdvance, 0); err == nil {
		t.Error("Expected distributions to be rejected on advance contracts")
	}
}

func TestMemoryTransfers(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	token := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	to := common.HexToAddress("0x00000000000000000000000000000000000000dd")

	r, err := m.Transfer(ctx, Transfer{Network: "avalanche", Token: token, To: to, Amount: big.NewInt(5_000_000)})
	if err != nil || !r.OK() {
		t.Fatalf("Transfer failed: %v", err)
	}

	got, err := m.Transfers(ctx, "avalanche", token, to, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Transfers failed: %v", err)
	}
	if len(got) != 1 || got[0].TxHash != r.TxHash {
		t.Errorf("Expected the transfer to be listed, got %+v", got)
	}

	if _, err := m.Transfer(ctx, Transfer{Network: "avalanche", Token: token, To: to, Amount: big.NewInt(0)}); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Expected zero transfer to fail, got %v", err)
	}
}

type recordingObserver struct {
	methods  []string
	outcomes []string
}

func (r *recordingObserver) LedgerWrite(method, outcome string, _ time.Duration) {
	r.methods = append(r.methods, method)
	r.outcomes = append(r.outcomes, outcome)
}

func TestInstrument(t *testing.T) {
	m := NewMemory(0)
	obs := &recordingObserver{}
	c := Instrument(m, obs)

	c.Write(context.Background(), AddContract(emptyTuple(model.ContractLayout)), testSigner, model.KindSale, 0)
	c.Write(context.Background(), DeleteSettlements(), testSigner, model.KindSale, 9)

	if len(obs.methods) != 2 || obs.outcomes[0] != "ok" || obs.outcomes[1] != "failed" {
		t.Errorf("Unexpected observations %v %v", obs.methods, obs.outcomes)
	}
}
