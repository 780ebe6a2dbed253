package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.CacheHit("transaction")
	m.CacheMiss("settlement")
	m.LedgerWrite("payAdvance", "ok", 20*time.Millisecond)
	m.Payment("manual", "advance", "ok")
	m.Hazard()
	m.HTTPRequest("/health", "200")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("Failed to scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`fizit_cache_hits_total{entity="transaction"} 1`,
		`fizit_cache_misses_total{entity="settlement"} 1`,
		`fizit_ledger_writes_total{method="payAdvance",outcome="ok"} 1`,
		`fizit_payments_total{bank="manual",obligation="advance",outcome="ok"} 1`,
		`fizit_reconciliation_hazards_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected %q in scrape output", want)
		}
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a := New()
	b := New()
	a.Hazard()

	families, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "fizit_reconciliation_hazards_total" {
			if v := f.GetMetric()[0].GetCounter().GetValue(); v != 0 {
				t.Errorf("Expected independent registries, got %v", v)
			}
		}
	}
}
