package service

import (
	"context"
	"strings"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/cache"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/ethereum/go-ethereum/common"
)

// AddParties appends parties to a contract. Addresses come from the
// party_addr table in config; every party must be listed there.
func (a *AppContext) AddParties(ctx context.Context, kind model.Kind, idx int, parties []map[string]any) (int, error) {
	ctx = contractContext(ctx, kind, idx)
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return 0, err
	}

	tuples := make([]model.Tuple, 0, len(parties))
	for i, p := range parties {
		code, _ := p["party_code"].(string)
		role, _ := p["party_type"].(string)
		if strings.TrimSpace(code) == "" {
			return 0, validationf("party %d is missing party_code", i)
		}
		if !model.ValidPartyType(role) {
			return 0, validationf("party %d has invalid party_type %q, valid types are %s", i, role, strings.Join(model.PartyTypes, ", "))
		}
		addr, ok := a.Config.PartyAddr(code)
		if !ok || !common.IsHexAddress(addr) {
			return 0, validationf("party %q has no configured address", code)
		}

		t, err := model.PartyLayout.Encode(model.Record{
			"party_code": code,
			"party_addr": common.HexToAddress(addr).Hex(),
			"party_type": role,
		}, nil)
		if err != nil {
			return 0, newError(ClassInternal, err, "failed to encode party")
		}
		tuples = append(tuples, t)
	}

	count := 0
	for _, t := range tuples {
		if err := a.write(ctx, ledger.AddParty(t), kind, idx, cache.PartyKey(kind, idx)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// GetParties lists a contract's parties. Party rows hold no sealed fields.
func (a *AppContext) GetParties(ctx context.Context, kind model.Kind, idx int) ([]map[string]any, error) {
	ctx = contractContext(ctx, kind, idx)
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return nil, err
	}
	recs, err := a.records(ctx, ledger.EntityParty, kind, idx, model.PartyLayout, nil)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(recs))
	for i, r := range recs {
		v := model.PartyLayout.View(r)
		v["party_idx"] = i
		out = append(out, v)
	}
	return out, nil
}

func (a *AppContext) ApproveParty(ctx context.Context, kind model.Kind, idx, partyIdx int, user string) error {
	ctx = contractContext(ctx, kind, idx)
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return err
	}
	recs, err := a.records(ctx, ledger.EntityParty, kind, idx, model.PartyLayout, nil)
	if err != nil {
		return err
	}
	if partyIdx < 0 || partyIdx >= len(recs) {
		return validationf("party index %d out of range", partyIdx)
	}
	if strings.TrimSpace(user) == "" {
		return validationf("approving user is required")
	}
	return a.write(ctx, ledger.ApproveParty(partyIdx, a.now().UTC(), user), kind, idx, cache.PartyKey(kind, idx))
}

// DeleteParties clears the party list. Callers re-add the parties they
// want to keep.
func (a *AppContext) DeleteParties(ctx context.Context, kind model.Kind, idx int) error {
	ctx = contractContext(ctx, kind, idx)
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return err
	}
	return a.write(ctx, ledger.DeleteParties(), kind, idx, cache.PartyKey(kind, idx))
}

// partiesByType returns the address of every party with the given role.
func (a *AppContext) partiesByType(ctx context.Context, kind model.Kind, idx int, role string) ([]model.Record, error) {
	recs, err := a.records(ctx, ledger.EntityParty, kind, idx, model.PartyLayout, nil)
	if err != nil {
		return nil, err
	}
	var out []model.Record
	for _, r := range recs {
		if r.Text("party_type") == role {
			out = append(out, r)
		}
	}
	return out, nil
}
