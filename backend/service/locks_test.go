package service

import (
	"sync"
	"testing"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
)

func TestObligationLocksSerialise(t *testing.T) {
	l := newObligationLocks()
	k := obligationKey{kind: model.KindAdvance, idx: 1, what: "advance", index: 0}

	unlock := l.Lock(k)
	acquired := make(chan struct{})
	go func() {
		u := l.Lock(k)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("Expected second Lock to wait")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Expected second Lock to proceed after unlock")
	}
}

func TestObligationLocksIndependentKeys(t *testing.T) {
	l := newObligationLocks()
	a := l.Lock(obligationKey{kind: model.KindSale, idx: 0, what: "distribution", index: 0})
	b := l.Lock(obligationKey{kind: model.KindSale, idx: 0, what: "distribution", index: 1})
	if l.size() != 2 {
		t.Errorf("Expected 2 live locks, got %d", l.size())
	}
	a()
	b()
	if l.size() != 0 {
		t.Errorf("Expected lock table to drain, got %d", l.size())
	}
}

func TestObligationLocksDrainUnderContention(t *testing.T) {
	l := newObligationLocks()
	k := obligationKey{kind: model.KindAdvance, idx: 0, what: "residual", index: 3}
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := l.Lock(k)
			counter++
			u()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("Expected 50 increments, got %d", counter)
	}
	if l.size() != 0 {
		t.Errorf("Expected lock table to drain, got %d", l.size())
	}
}
