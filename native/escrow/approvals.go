package escrow

import (
	"strconv"

	"deedescrow/crypto"
)

var approvalsPrefix = []byte("escrow/approvals/")

func approvalsKey(assetID uint64) []byte {
	return append(append([]byte(nil), approvalsPrefix...), []byte(strconv.FormatUint(assetID, 10))...)
}

func (e *Engine) loadApprovals(assetID uint64) (Approvals, error) {
	var approvals Approvals
	if _, err := e.state.KVGet(approvalsKey(assetID), &approvals); err != nil {
		return Approvals{}, err
	}
	return approvals, nil
}

func (e *Engine) storeApprovals(assetID uint64, approvals Approvals) error {
	if approvals == (Approvals{}) {
		return e.state.KVDelete(approvalsKey(assetID))
	}
	return e.state.KVPut(approvalsKey(assetID), approvals)
}

// approvalFor reports the entry belonging to identity. Identities that are not
// approving parties of the listing never have an approval.
func approvalFor(approvals Approvals, listing *Listing, roles Roles, identity crypto.Address) bool {
	if identity.IsZero() || !listing.Active() {
		return false
	}
	switch identity {
	case listing.Buyer:
		return approvals.Buyer
	case roles.Seller:
		return approvals.Seller
	case roles.Lender:
		return approvals.Lender
	default:
		return false
	}
}
