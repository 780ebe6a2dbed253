package model

import (
	"fmt"
)

// Kind selects the contract variant. Everything kind specific is looked up
// from tables keyed by Kind rather than spread over per-kind types.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindSale     Kind = "sale"
	KindAdvance  Kind = "advance"
)

var Kinds = []Kind{KindPurchase, KindSale, KindAdvance}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown contract type %q", s)
}

func (k Kind) HasAdvances() bool {
	return k == KindPurchase || k == KindAdvance
}

func (k Kind) HasSettlements() bool {
	return k == KindSale || k == KindAdvance
}

func (k Kind) HasResiduals() bool {
	return k == KindAdvance
}

func (k Kind) HasDistributions() bool {
	return k == KindSale
}

func (k Kind) HasDeposits() bool {
	return k.HasSettlements()
}

// Party roles
const (
	PartyBuyer     = "buyer"
	PartyFunder    = "funder"
	PartySeller    = "seller"
	PartyClient    = "client"
	PartyAffiliate = "affiliate"
)

var PartyTypes = []string{PartyBuyer, PartyFunder, PartySeller, PartyClient, PartyAffiliate}

func ValidPartyType(t string) bool {
	for _, p := range PartyTypes {
		if p == t {
			return true
		}
	}
	return false
}

// Payment rails
const (
	BankMercury = "mercury"
	BankToken   = "token"
	BankManual  = "manual"
)

var Banks = []string{BankMercury, BankToken, BankManual}

// ContractLayout is shared by every kind.
var ContractLayout = NewLayout("contract",
	Field{Name: "extended_data", Codec: Sealed},
	Field{Name: "contract_name", Codec: Text},
	Field{Name: "contract_type", Codec: Text},
	Field{Name: "funding_instr", Codec: Object},
	Field{Name: "deposit_instr", Codec: Object},
	Field{Name: "service_fee_pct", Codec: Percent},
	Field{Name: "service_fee_max", Codec: Percent},
	Field{Name: "service_fee_amt", Codec: Amount},
	Field{Name: "advance_pct", Codec: Percent},
	Field{Name: "late_fee_pct", Codec: Percent},
	Field{Name: "transact_logic", Codec: Sealed},
	Field{Name: "min_threshold_amt", Codec: Amount},
	Field{Name: "max_threshold_amt", Codec: Amount},
	Field{Name: "notes", Codec: Text},
	Field{Name: "is_active", Codec: Bool},
	Field{Name: "is_quote", Codec: Bool},
)

var PartyLayout = NewLayout("party",
	Field{Name: "party_code", Codec: Text},
	Field{Name: "party_addr", Codec: Text},
	Field{Name: "party_type", Codec: Text},
	Field{Name: "approved_dt", Codec: Time},
	Field{Name: "approved_user", Codec: Text},
)

var TransactionLayout = NewLayout("transaction",
	Field{Name: "extended_data", Codec: Sealed},
	Field{Name: "transact_dt", Codec: Time},
	Field{Name: "transact_amt", Codec: Amount},
	Field{Name: "service_fee_amt", Codec: Amount},
	Field{Name: "advance_amt", Codec: Amount},
	Field{Name: "transact_data", Codec: Sealed},
	Field{Name: "advance_pay_dt", Codec: Time},
	Field{Name: "advance_pay_amt", Codec: Amount},
	Field{Name: "advance_tx_hash", Codec: Text},
)

// AdvanceSettlementLayout stores the period and payment outcomes. The
// aggregates over transactions are derived on read.
var AdvanceSettlementLayout = NewLayout("settlement",
	Field{Name: "extended_data", Codec: Sealed},
	Field{Name: "settle_due_dt", Codec: Time},
	Field{Name: "transact_min_dt", Codec: Time},
	Field{Name: "transact_max_dt", Codec: Time},
	Field{Name: "settle_pay_dt", Codec: Time},
	Field{Name: "settle_pay_amt", Codec: Amount},
	Field{Name: "settle_tx_hash", Codec: Text},
	Field{Name: "dispute_reason", Codec: Text},
	Field{Name: "residual_pay_dt", Codec: Time},
	Field{Name: "residual_pay_amt", Codec: Amount},
	Field{Name: "residual_tx_hash", Codec: Text},
	Field{Name: "transact_count", Codec: Int, Derived: true},
	Field{Name: "settle_exp_amt", Codec: Amount, Derived: true},
	Field{Name: "advance_amt", Codec: Amount, Derived: true},
	Field{Name: "advance_amt_gross", Codec: Amount, Derived: true},
	Field{Name: "dispute_amt", Codec: Amount, Derived: true},
	Field{Name: "days_late", Codec: Int, Derived: true},
	Field{Name: "late_fee_amt", Codec: Amount, Derived: true},
	Field{Name: "residual_exp_amt", Codec: Amount, Derived: true},
	Field{Name: "residual_calc_amt", Codec: Amount, Derived: true},
)

var SaleSettlementLayout = NewLayout("settlement",
	Field{Name: "extended_data", Codec: Sealed},
	Field{Name: "settle_due_dt", Codec: Time},
	Field{Name: "principal_amt", Codec: Amount},
	Field{Name: "settle_exp_amt", Codec: Amount},
	Field{Name: "settle_pay_dt", Codec: Time},
	Field{Name: "settle_pay_amt", Codec: Amount},
	Field{Name: "settle_tx_hash", Codec: Text},
	Field{Name: "dispute_reason", Codec: Text},
	Field{Name: "dist_pay_dt", Codec: Time},
	Field{Name: "dist_pay_amt", Codec: Amount},
	Field{Name: "dist_tx_hash", Codec: Text},
	Field{Name: "dispute_amt", Codec: Amount, Derived: true},
	Field{Name: "days_late", Codec: Int, Derived: true},
	Field{Name: "late_fee_amt", Codec: Amount, Derived: true},
	Field{Name: "dist_calc_amt", Codec: Amount, Derived: true},
)

var ArtifactLayout = NewLayout("artifact",
	Field{Name: "doc_title", Codec: Text},
	Field{Name: "doc_type", Codec: Text},
	Field{Name: "object_key", Codec: Text},
	Field{Name: "added_dt", Codec: Time},
)

// ArtifactCacheLayout is what the cache holds for artifacts: the ledger
// tuple plus the sealed presigned URL.
var ArtifactCacheLayout = NewLayout("artifact",
	Field{Name: "doc_title", Codec: Text},
	Field{Name: "doc_type", Codec: Text},
	Field{Name: "object_key", Codec: Text},
	Field{Name: "added_dt", Codec: Time},
	Field{Name: "presigned_url", Codec: Sealed},
)

// SettlementLayout returns the settlement table for k, or nil when the kind
// has no settlements.
func SettlementLayout(k Kind) *Layout {
	switch k {
	case KindAdvance:
		return AdvanceSettlementLayout
	case KindSale:
		return SaleSettlementLayout
	}
	return nil
}
