package types

import "math/big"

// Account is the ledger entry for a single address.
type Account struct {
	Balance *big.Int `json:"balance"`
	// Sequence counts balance mutations so clients can detect stale reads.
	Sequence uint64 `json:"sequence"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Balance != nil {
		out.Balance = new(big.Int).Set(a.Balance)
	}
	return &out
}
