package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type book struct {
	fields       model.Tuple
	deleted      bool
	parties      []model.Tuple
	transactions []model.Tuple
	settlements  []model.Tuple
	artifacts    []model.Tuple
}

// Memory is an in-process ledger. It enforces the same guards the deployed
// contract does (index bounds, tombstones, one-time payment fields). It can
// imitate propagation lag by holding new contracts back from ContractCount
// and, with LagReads, by serving entity reads from before recent writes.
type Memory struct {
	mu        sync.Mutex
	books     map[model.Kind][]*book
	visible   map[model.Kind]int
	pending   map[model.Kind]int
	lag       int
	seq       uint64
	failNext  map[string]int
	writes    map[string]int
	readLag   map[Entity]int
	stale     map[staleKey]*staleRead
	transfers []Transfer
	now       func() time.Time
}

// NewMemory returns an empty ledger. With lag > 0 a new contract stays
// invisible to the next lag ContractCount calls.
func NewMemory(lag int) *Memory {
	if lag < 0 {
		lag = 0
	}
	return &Memory{
		books:    make(map[model.Kind][]*book),
		visible:  make(map[model.Kind]int),
		pending:  make(map[model.Kind]int),
		lag:      lag,
		failNext: make(map[string]int),
		writes:   make(map[string]int),
		readLag:  make(map[Entity]int),
		stale:    make(map[staleKey]*staleRead),
		now:      time.Now,
	}
}

// FailNext makes the next n writes of method revert.
func (m *Memory) FailNext(method string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[method] += n
}

type staleKey struct {
	entity Entity
	kind   model.Kind
	idx    int
}

type staleRead struct {
	rows  []model.Tuple
	reads int
}

// LagReads makes reads of entity trail writes: after a write to a contract,
// the next n reads of that contract's entity return what it held before
// the write.
func (m *Memory) LagReads(entity Entity, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLag[entity] = n
}

// Writes counts successful writes of method.
func (m *Memory) Writes(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[method]
}

func (m *Memory) ContractCount(ctx context.Context, kind model.Kind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[kind] > 0 {
		m.pending[kind]--
		return m.visible[kind], nil
	}
	m.visible[kind] = len(m.books[kind])
	return m.visible[kind], nil
}

func (m *Memory) ReadContract(ctx context.Context, kind model.Kind, idx int) (model.Tuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.book(kind, idx)
	if err != nil {
		return nil, err
	}
	return clone(b.fields), nil
}

func (m *Memory) Read(ctx context.Context, entity Entity, kind model.Kind, idx int) ([]model.Tuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.book(kind, idx)
	if err != nil {
		return nil, err
	}

	src, err := b.rows(entity)
	if err != nil {
		return nil, err
	}
	sk := staleKey{entity: entity, kind: kind, idx: idx}
	if st, ok := m.stale[sk]; ok {
		src = st.rows
		st.reads--
		if st.reads <= 0 {
			delete(m.stale, sk)
		}
	}

	out := make([]model.Tuple, len(src))
	for i, t := range src {
		out[i] = clone(t)
	}
	return out, nil
}

func (m *Memory) Write(ctx context.Context, call Call, signer common.Address, kind model.Kind, idx int) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	r := Receipt{Status: 1, TxHash: crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%s:%d:%d:%s", call.Method, kind, idx, m.seq, signer.Hex())))}

	if m.failNext[call.Method] > 0 {
		m.failNext[call.Method]--
		r.Status = 0
		return checkReceipt(call.Method, r)
	}

	m.holdReads(kind, idx)
	if err := m.apply(call, kind, idx); err != nil {
		slog.Warn("memory ledger reverted call", "method", call.Method, "contract_type", kind, "contract_idx", idx, "error", err)
		r.Status = 0
		return checkReceipt(call.Method, r)
	}
	m.writes[call.Method]++
	return r, nil
}

func (b *book) rows(entity Entity) ([]model.Tuple, error) {
	switch entity {
	case EntityContract:
		return []model.Tuple{b.fields}, nil
	case EntityParty:
		return b.parties, nil
	case EntityTransaction:
		return b.transactions, nil
	case EntitySettlement:
		return b.settlements, nil
	case EntityArtifact:
		return b.artifacts, nil
	}
	return nil, fmt.Errorf("unknown entity %q", entity)
}

// holdReads snapshots lagged entities ahead of a write. A snapshot still
// being served is kept, so reads trail the oldest unseen write. Must be
// called with the lock held.
func (m *Memory) holdReads(kind model.Kind, idx int) {
	b, err := m.book(kind, idx)
	if err != nil {
		return
	}
	for entity, n := range m.readLag {
		if n <= 0 {
			continue
		}
		sk := staleKey{entity: entity, kind: kind, idx: idx}
		if _, ok := m.stale[sk]; ok {
			continue
		}
		rows, err := b.rows(entity)
		if err != nil {
			continue
		}
		snap := make([]model.Tuple, len(rows))
		for i, t := range rows {
			snap[i] = clone(t)
		}
		m.stale[sk] = &staleRead{rows: snap, reads: n}
	}
}

// apply must be called with the lock held.
func (m *Memory) apply(call Call, kind model.Kind, idx int) error {
	if call.Method == MethodAddContract {
		t, err := argTuple(call.Args, 0, model.ContractLayout)
		if err != nil {
			return err
		}
		m.books[kind] = append(m.books[kind], &book{fields: t})
		if m.lag == 0 {
			m.visible[kind] = len(m.books[kind])
		} else {
			m.pending[kind] = m.lag
		}
		return nil
	}

	b, err := m.book(kind, idx)
	if err != nil {
		return err
	}

	switch call.Method {
	case MethodUpdateContract:
		t, err := argTuple(call.Args, 0, model.ContractLayout)
		if err != nil {
			return err
		}
		b.fields = t
	case MethodDeleteContract:
		b.deleted = true
	case MethodAddParty:
		t, err := argTuple(call.Args, 0, model.PartyLayout)
		if err != nil {
			return err
		}
		b.parties = append(b.parties, t)
	case MethodApproveParty:
		p, err := argIndex(call.Args, 0, len(b.parties))
		if err != nil {
			return err
		}
		at, _ := argInt(call.Args, 1)
		user, _ := argString(call.Args, 2)
		b.parties[p][model.PartyLayout.Index("approved_dt")] = at
		b.parties[p][model.PartyLayout.Index("approved_user")] = user
	case MethodDeleteParties:
		b.parties = nil
	case MethodAddTransaction:
		t, err := argTuple(call.Args, 0, model.TransactionLayout)
		if err != nil {
			return err
		}
		b.transactions = append(b.transactions, t)
	case MethodDeleteTransactions:
		b.transactions = nil
	case MethodAddSettlement:
		l := model.SettlementLayout(kind)
		if l == nil {
			return fmt.Errorf("%s contracts have no settlements", kind)
		}
		t, err := argTuple(call.Args, 0, l)
		if err != nil {
			return err
		}
		b.settlements = append(b.settlements, t)
	case MethodDeleteSettlements:
		b.settlements = nil
	case MethodPayAdvance:
		return payOnce(b.transactions, model.TransactionLayout, "advance", call.Args)
	case MethodPayResidual:
		if kind != model.KindAdvance {
			return fmt.Errorf("%s contracts have no residuals", kind)
		}
		return payOnce(b.settlements, model.AdvanceSettlementLayout, "residual", call.Args)
	case MethodPayDistribution:
		if kind != model.KindSale {
			return fmt.Errorf("%s contracts have no distributions", kind)
		}
		return payOnce(b.settlements, model.SaleSettlementLayout, "dist", call.Args)
	case MethodPostSettlement:
		l := model.SettlementLayout(kind)
		if l == nil {
			return fmt.Errorf("%s contracts have no settlements", kind)
		}
		if err := payOnce(b.settlements, l, "settle", call.Args); err != nil {
			return err
		}
		s, _ := argInt(call.Args, 0)
		reason, _ := argString(call.Args, 4)
		b.settlements[s][l.Index("dispute_reason")] = reason
	case MethodAddArtifact:
		t, err := argTuple(call.Args, 0, model.ArtifactLayout)
		if err != nil {
			return err
		}
		b.artifacts = append(b.artifacts, t)
	case MethodDeleteArtifacts:
		b.artifacts = nil
	default:
		return fmt.Errorf("unknown method %q", call.Method)
	}
	return nil
}

// payOnce sets <prefix>_pay_dt, <prefix>_pay_amt and <prefix>_tx_hash on a
// row whose amount is still zero.
func payOnce(rows []model.Tuple, l *model.Layout, prefix string, args []any) error {
	i, err := argIndex(args, 0, len(rows))
	if err != nil {
		return err
	}
	at, err := argInt(args, 1)
	if err != nil {
		return err
	}
	amt, err := argInt(args, 2)
	if err != nil {
		return err
	}
	ref, err := argString(args, 3)
	if err != nil {
		return err
	}

	amtPos := l.Index(prefix + "_pay_amt")
	if current, _ := argInt(rows[i], amtPos); current != 0 {
		return fmt.Errorf("%s %d already paid", prefix, i)
	}
	if amt <= 0 {
		return fmt.Errorf("%s amount must be positive", prefix)
	}
	rows[i][l.Index(prefix+"_pay_dt")] = at
	rows[i][amtPos] = amt
	rows[i][l.Index(prefix+"_tx_hash")] = ref
	return nil
}

// book must be called with the lock held.
func (m *Memory) book(kind model.Kind, idx int) (*book, error) {
	books := m.books[kind]
	if idx < 0 || idx >= len(books) || books[idx].deleted {
		return nil, fmt.Errorf("%w: %s contract %d", ErrNotFound, kind, idx)
	}
	return books[idx], nil
}

func (m *Memory) Transfer(ctx context.Context, t Transfer) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	r := Receipt{Status: 1, TxHash: crypto.Keccak256Hash([]byte(fmt.Sprintf("transfer:%s:%s:%s:%d", t.Token.Hex(), t.To.Hex(), t.Amount, m.seq)))}
	if m.failNext["transfer"] > 0 {
		m.failNext["transfer"]--
		r.Status = 0
		return checkReceipt("transfer", r)
	}
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		r.Status = 0
		return checkReceipt("transfer", r)
	}
	t.TxHash = r.TxHash
	if t.At.IsZero() {
		t.At = m.now().UTC()
	}
	m.transfers = append(m.transfers, t)
	m.writes["transfer"]++
	return r, nil
}

func (m *Memory) Transfers(ctx context.Context, network string, token, to common.Address, start, end time.Time) ([]Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Transfer
	for _, t := range m.transfers {
		if t.Network != network || t.Token != token || t.To != to {
			continue
		}
		if t.At.Before(start) || !t.At.Before(end) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func clone(t model.Tuple) model.Tuple {
	return append(model.Tuple(nil), t...)
}

func argTuple(args []any, i int, l *model.Layout) (model.Tuple, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	var t model.Tuple
	switch v := args[i].(type) {
	case model.Tuple:
		t = v
	case []any:
		t = v
	default:
		return nil, fmt.Errorf("argument %d is %T, want tuple", i, args[i])
	}
	if len(t) != l.Width() {
		return nil, fmt.Errorf("%s tuple has %d fields, want %d", l.Name, len(t), l.Width())
	}
	return clone(t), nil
}

func argInt(args []any, i int) (int64, error) {
	if i < 0 || i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := args[i].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	}
	return 0, fmt.Errorf("argument %d is %T, want integer", i, args[i])
}

func argIndex(args []any, i, n int) (int, error) {
	v, err := argInt(args, i)
	if err != nil {
		return 0, err
	}
	if v < 0 || int(v) >= n {
		return 0, fmt.Errorf("index %d out of range [0,%d)", v, n)
	}
	return int(v), nil
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d is %T, want string", i, args[i])
	}
	return s, nil
}
