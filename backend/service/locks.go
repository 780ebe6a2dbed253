package service

import (
	"fmt"
	"sync"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
)

type obligationKey struct {
	kind  model.Kind
	idx   int
	what  string
	index int
}

func (k obligationKey) String() string {
	return fmt.Sprintf("%s_%s_%d_%d", k.what, k.kind, k.idx, k.index)
}

type keyedLock struct {
	mu   *sync.Mutex
	refs int
}

// obligationLocks serialises payment of one obligation. Entries are
// dropped when no goroutine holds or waits for them.
type obligationLocks struct {
	mu    sync.Mutex
	locks map[obligationKey]*keyedLock
}

func newObligationLocks() *obligationLocks {
	return &obligationLocks{locks: make(map[obligationKey]*keyedLock)}
}

func (l *obligationLocks) Lock(k obligationKey) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[k]
	if !ok {
		kl = &keyedLock{mu: &sync.Mutex{}}
		l.locks[k] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, k)
		}
		l.mu.Unlock()
	}
}

func (l *obligationLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

type markState int

const (
	// markPaid: the rail accepted the payment and the ledger write went
	// through, but reads have not yet shown it.
	markPaid markState = iota + 1
	// markHazard: the rail accepted the payment and the ledger write failed.
	markHazard
)

type mark struct {
	state     markState
	reference string
}

// obligationMarks remembers payments this process made that ledger reads
// may not show yet. A hazard mark stays until ReconcileObligation.
type obligationMarks struct {
	mu    sync.Mutex
	marks map[obligationKey]mark
}

func newObligationMarks() *obligationMarks {
	return &obligationMarks{marks: make(map[obligationKey]mark)}
}

func (m *obligationMarks) get(k obligationKey) (mark, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.marks[k]
	return v, ok
}

func (m *obligationMarks) set(k obligationKey, state markState, ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[k] = mark{state: state, reference: ref}
}

// settled drops a paid mark once the ledger shows the payment. Hazard
// marks are kept.
func (m *obligationMarks) settled(k obligationKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.marks[k]; ok && v.state == markPaid {
		delete(m.marks, k)
	}
}

func (m *obligationMarks) clear(k obligationKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.marks, k)
}

func (m *obligationMarks) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.marks)
}
