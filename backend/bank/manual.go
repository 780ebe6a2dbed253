package bank

import (
	"context"
)

// Manual records payments made outside the engine. The operator supplies
// the reference; nothing is sent anywhere.
type Manual struct{}

func NewManual() *Manual {
	return &Manual{}
}

func (*Manual) MakePayment(_ context.Context, p Params) (string, error) {
	return p.String("tx_hash")
}

func (*Manual) GetDeposits(context.Context, Params) ([]Deposit, error) {
	return []Deposit{}, nil
}
