package escrow

import (
	"fmt"
	"math/big"

	"deedescrow/crypto"
)

// ListingState is the lifecycle tag of a listing.
type ListingState uint8

const (
	ListingUnlisted ListingState = iota
	ListingActive
	ListingFinalized
	ListingCancelled
)

// Valid reports whether the state value is within the supported range.
func (s ListingState) Valid() bool {
	switch s {
	case ListingUnlisted, ListingActive, ListingFinalized, ListingCancelled:
		return true
	default:
		return false
	}
}

func (s ListingState) String() string {
	switch s {
	case ListingUnlisted:
		return "unlisted"
	case ListingActive:
		return "active"
	case ListingFinalized:
		return "finalized"
	case ListingCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Listing holds the sale terms of one asset. Terms are zeroed when the
// listing reaches a terminal state; Round survives so every lifecycle of the
// asset can be addressed.
type Listing struct {
	AssetID         uint64
	Buyer           crypto.Address
	PurchasePrice   *big.Int
	RequiredEarnest *big.Int
	State           ListingState
	Round           uint64
	ListedAt        uint64
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.PurchasePrice = cloneBigInt(l.PurchasePrice)
	clone.RequiredEarnest = cloneBigInt(l.RequiredEarnest)
	return &clone
}

// Active reports whether the listing accepts deposits and approvals.
func (l *Listing) Active() bool { return l != nil && l.State == ListingActive }

// Approvals records the sign-off of the three approving parties.
type Approvals struct {
	Buyer  bool
	Seller bool
	Lender bool
}

// Complete reports whether every party has approved.
func (a Approvals) Complete() bool { return a.Buyer && a.Seller && a.Lender }

// Funds tracks the money held in custody for one listing.
type Funds struct {
	Earnest *big.Int
	Loan    *big.Int
}

// Total is the sum of earnest and loan.
func (f Funds) Total() *big.Int {
	return new(big.Int).Add(cloneBigInt(f.Earnest), cloneBigInt(f.Loan))
}

func (f Funds) clone() Funds {
	return Funds{Earnest: cloneBigInt(f.Earnest), Loan: cloneBigInt(f.Loan)}
}

// Sale is a read-only snapshot of everything tracked for an asset.
type Sale struct {
	Listing          *Listing
	Approvals        Approvals
	Funds            Funds
	InspectionPassed bool
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
