package escrow

import (
	"math/big"
	"strconv"

	"deedescrow/core/types"
	"deedescrow/crypto"
)

const (
	EventTypeSaleListed        = "escrow.listed"
	EventTypeEarnestDeposited  = "escrow.earnest_deposited"
	EventTypeLoanContributed   = "escrow.loan_contributed"
	EventTypeInspectionUpdated = "escrow.inspection_updated"
	EventTypeSaleApproved      = "escrow.approved"
	EventTypeSaleFinalized     = "escrow.finalized"
	EventTypeSaleCancelled     = "escrow.cancelled"
)

func baseAttributes(listing *Listing) map[string]string {
	attrs := make(map[string]string)
	if listing == nil {
		return attrs
	}
	attrs["assetId"] = strconv.FormatUint(listing.AssetID, 10)
	attrs["round"] = strconv.FormatUint(listing.Round, 10)
	return attrs
}

// NewListedEvent returns the canonical payload for a newly opened listing.
func NewListedEvent(l *Listing) *types.Event {
	attrs := baseAttributes(l)
	if l != nil {
		attrs["buyer"] = l.Buyer.String()
		attrs["purchasePrice"] = cloneBigInt(l.PurchasePrice).String()
		attrs["requiredEarnest"] = cloneBigInt(l.RequiredEarnest).String()
	}
	return &types.Event{Type: EventTypeSaleListed, Attributes: attrs}
}

// NewFundsEvent returns the payload for an earnest deposit or loan
// contribution, including the resulting per-listing totals.
func NewFundsEvent(eventType string, l *Listing, from crypto.Address, amount *big.Int, funds Funds) *types.Event {
	attrs := baseAttributes(l)
	attrs["from"] = from.String()
	attrs["amount"] = cloneBigInt(amount).String()
	attrs["earnest"] = cloneBigInt(funds.Earnest).String()
	attrs["loan"] = cloneBigInt(funds.Loan).String()
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewInspectionEvent returns the payload for an inspection verdict.
func NewInspectionEvent(l *Listing, passed bool) *types.Event {
	attrs := baseAttributes(l)
	attrs["passed"] = strconv.FormatBool(passed)
	return &types.Event{Type: EventTypeInspectionUpdated, Attributes: attrs}
}

// NewApprovalEvent returns the payload for a party's sign-off.
func NewApprovalEvent(l *Listing, party crypto.Address, approvals Approvals) *types.Event {
	attrs := baseAttributes(l)
	attrs["party"] = party.String()
	attrs["complete"] = strconv.FormatBool(approvals.Complete())
	return &types.Event{Type: EventTypeSaleApproved, Attributes: attrs}
}

// NewSettlementEvent returns the payload for a finalized or cancelled round.
func NewSettlementEvent(eventType string, s *Settlement) *types.Event {
	attrs := make(map[string]string)
	if s == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["assetId"] = strconv.FormatUint(s.AssetID, 10)
	attrs["round"] = strconv.FormatUint(s.Round, 10)
	attrs["outcome"] = string(s.Outcome)
	attrs["caller"] = s.Caller.String()
	attrs["buyer"] = s.Buyer.String()
	attrs["purchasePrice"] = cloneBigInt(s.PurchasePrice).String()
	attrs["earnest"] = cloneBigInt(s.Earnest).String()
	attrs["loan"] = cloneBigInt(s.Loan).String()
	attrs["inspectionPassed"] = strconv.FormatBool(s.InspectionPassed)
	attrs["assetRecipient"] = s.AssetRecipient.String()
	attrs["payouts"] = strconv.Itoa(len(s.Payouts))
	attrs["hash"] = s.HashHex()
	return &types.Event{Type: eventType, Attributes: attrs}
}
