package escrow

import (
	"math/big"

	"deedescrow/crypto"
)

// Sale returns a snapshot of everything tracked for assetID. Assets that were
// never listed report an Unlisted listing with zero terms.
func (e *Engine) Sale(assetID uint64) (*Sale, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var sale *Sale
	err := e.state.View(func() error {
		listing, err := e.loadListing(assetID)
		if err != nil {
			return err
		}
		approvals, err := e.loadApprovals(assetID)
		if err != nil {
			return err
		}
		funds, err := e.loadFunds(assetID)
		if err != nil {
			return err
		}
		inspected, err := e.loadInspection(assetID)
		if err != nil {
			return err
		}
		if listing.PurchasePrice == nil {
			listing.PurchasePrice = big.NewInt(0)
		}
		if listing.RequiredEarnest == nil {
			listing.RequiredEarnest = big.NewInt(0)
		}
		sale = &Sale{Listing: listing, Approvals: approvals, Funds: funds, InspectionPassed: inspected}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// IsListed reports whether assetID has an Active listing.
func (e *Engine) IsListed(assetID uint64) (bool, error) {
	sale, err := e.Sale(assetID)
	if err != nil {
		return false, err
	}
	return sale.Listing.Active(), nil
}

// PurchasePrice returns the listing price, or zero when not listed.
func (e *Engine) PurchasePrice(assetID uint64) (*big.Int, error) {
	sale, err := e.Sale(assetID)
	if err != nil {
		return nil, err
	}
	return sale.Listing.PurchasePrice, nil
}

// EscrowAmount returns the required earnest, or zero when not listed.
func (e *Engine) EscrowAmount(assetID uint64) (*big.Int, error) {
	sale, err := e.Sale(assetID)
	if err != nil {
		return nil, err
	}
	return sale.Listing.RequiredEarnest, nil
}

// Buyer returns the buyer named in the listing, or the zero address.
func (e *Engine) Buyer(assetID uint64) (crypto.Address, error) {
	sale, err := e.Sale(assetID)
	if err != nil {
		return crypto.ZeroAddress, err
	}
	return sale.Listing.Buyer, nil
}

// Approval reports whether identity has approved the sale of assetID.
func (e *Engine) Approval(assetID uint64, identity crypto.Address) (bool, error) {
	sale, err := e.Sale(assetID)
	if err != nil {
		return false, err
	}
	return approvalFor(sale.Approvals, sale.Listing, e.roles, identity), nil
}

// InspectionPassed returns the inspector's latest verdict for assetID.
func (e *Engine) InspectionPassed(assetID uint64) (bool, error) {
	sale, err := e.Sale(assetID)
	if err != nil {
		return false, err
	}
	return sale.InspectionPassed, nil
}

// Funds returns the earnest and loan held for assetID.
func (e *Engine) Funds(assetID uint64) (Funds, error) {
	sale, err := e.Sale(assetID)
	if err != nil {
		return Funds{}, err
	}
	return sale.Funds, nil
}

// Balance returns the total funds held in custody across all listings.
func (e *Engine) Balance() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var balance *big.Int
	err := e.state.View(func() error {
		var err error
		balance, err = e.bank.Balance(e.custody)
		return err
	})
	return balance, err
}

// Settlement returns the receipt for one listing round. The boolean is false
// when the round has not been settled.
func (e *Engine) Settlement(assetID, round uint64) (*Settlement, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	var (
		receipt Settlement
		ok      bool
	)
	err := e.state.View(func() error {
		var err error
		ok, err = e.state.KVGet(settlementKey(assetID, round), &receipt)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return receipt.Clone(), true, nil
}

// Listings returns the current listing of every asset that has ever been
// listed, in first-listing order.
func (e *Engine) Listings() ([]*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out []*Listing
	err := e.state.View(func() error {
		ids, err := e.listedAssets()
		if err != nil {
			return err
		}
		out = make([]*Listing, 0, len(ids))
		for _, id := range ids {
			listing, err := e.loadListing(id)
			if err != nil {
				return err
			}
			out = append(out, listing)
		}
		return nil
	})
	return out, err
}
