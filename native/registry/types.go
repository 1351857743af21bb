package registry

import "deedescrow/crypto"

// Asset is a unique, transferable property deed.
type Asset struct {
	ID       uint64
	Owner    crypto.Address
	Approved crypto.Address
	URI      string
	MintedAt uint64
}

// Clone returns a copy of the asset.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

type storedOperator struct {
	Approved bool
}
