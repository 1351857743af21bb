package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"deedescrow/core/events"
	"deedescrow/native/escrow"
	"deedescrow/native/registry"
)

// RPCRequest is a JSON-RPC 2.0 call. Params carry a single object.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// SaleJSON is the wire form of a listing and its per-asset bookkeeping.
type SaleJSON struct {
	AssetID          string `json:"assetId"`
	State            string `json:"state"`
	Listed           bool   `json:"listed"`
	Round            uint64 `json:"round"`
	Buyer            string `json:"buyer,omitempty"`
	PurchasePrice    string `json:"purchasePrice"`
	RequiredEarnest  string `json:"requiredEarnest"`
	Earnest          string `json:"earnest"`
	Loan             string `json:"loan"`
	EscrowAmount     string `json:"escrowAmount"`
	InspectionPassed bool   `json:"inspectionPassed"`
	BuyerApproved    bool   `json:"buyerApproved"`
	SellerApproved   bool   `json:"sellerApproved"`
	LenderApproved   bool   `json:"lenderApproved"`
	ListedAt         uint64 `json:"listedAt,omitempty"`
}

func formatSaleJSON(sale *escrow.Sale) SaleJSON {
	out := SaleJSON{PurchasePrice: "0", RequiredEarnest: "0", Earnest: "0", Loan: "0", EscrowAmount: "0"}
	if sale == nil || sale.Listing == nil {
		return out
	}
	l := sale.Listing
	out.AssetID = strconv.FormatUint(l.AssetID, 10)
	out.State = l.State.String()
	out.Listed = l.Active()
	out.Round = l.Round
	if !l.Buyer.IsZero() {
		out.Buyer = l.Buyer.String()
	}
	out.PurchasePrice = amountString(l.PurchasePrice)
	out.RequiredEarnest = amountString(l.RequiredEarnest)
	out.Earnest = amountString(sale.Funds.Earnest)
	out.Loan = amountString(sale.Funds.Loan)
	out.EscrowAmount = amountString(sale.Funds.Total())
	out.InspectionPassed = sale.InspectionPassed
	out.BuyerApproved = sale.Approvals.Buyer
	out.SellerApproved = sale.Approvals.Seller
	out.LenderApproved = sale.Approvals.Lender
	out.ListedAt = l.ListedAt
	return out
}

type PayoutJSON struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

// SettlementJSON is the wire form of a settlement receipt.
type SettlementJSON struct {
	AssetID          string       `json:"assetId"`
	Round            uint64       `json:"round"`
	Outcome          string       `json:"outcome"`
	Caller           string       `json:"caller"`
	Buyer            string       `json:"buyer"`
	PurchasePrice    string       `json:"purchasePrice"`
	Earnest          string       `json:"earnest"`
	Loan             string       `json:"loan"`
	InspectionPassed bool         `json:"inspectionPassed"`
	Payouts          []PayoutJSON `json:"payouts"`
	AssetRecipient   string       `json:"assetRecipient"`
	SettledAt        uint64       `json:"settledAt"`
	Hash             string       `json:"hash"`
}

func formatSettlementJSON(s *escrow.Settlement) SettlementJSON {
	out := SettlementJSON{
		AssetID:          strconv.FormatUint(s.AssetID, 10),
		Round:            s.Round,
		Outcome:          string(s.Outcome),
		Caller:           s.Caller.String(),
		Buyer:            s.Buyer.String(),
		PurchasePrice:    amountString(s.PurchasePrice),
		Earnest:          amountString(s.Earnest),
		Loan:             amountString(s.Loan),
		InspectionPassed: s.InspectionPassed,
		AssetRecipient:   s.AssetRecipient.String(),
		SettledAt:        s.SettledAt,
		Hash:             s.HashHex(),
		Payouts:          make([]PayoutJSON, 0, len(s.Payouts)),
	}
	for _, p := range s.Payouts {
		out.Payouts = append(out.Payouts, PayoutJSON{Recipient: p.Recipient.String(), Amount: amountString(p.Amount), Reason: p.Reason})
	}
	return out
}

// AssetJSON is the wire form of a registry deed.
type AssetJSON struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	Approved string `json:"approved,omitempty"`
	URI      string `json:"uri"`
	MintedAt uint64 `json:"mintedAt"`
}

func formatAssetJSON(a *registry.Asset) AssetJSON {
	out := AssetJSON{
		ID:       strconv.FormatUint(a.ID, 10),
		Owner:    a.Owner.String(),
		URI:      a.URI,
		MintedAt: a.MintedAt,
	}
	if !a.Approved.IsZero() {
		out.Approved = a.Approved.String()
	}
	return out
}

// EventJSON is the wire form of a stream entry.
type EventJSON struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

func formatEventJSON(entry events.StreamEntry) EventJSON {
	return EventJSON{
		Sequence:   entry.Sequence,
		Cursor:     entry.Cursor,
		Type:       entry.Event.Type,
		Attributes: entry.Event.Attributes,
		Timestamp:  entry.Timestamp,
	}
}

type BalanceJSON struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type RolesJSON struct {
	Seller    string `json:"seller"`
	Inspector string `json:"inspector"`
	Lender    string `json:"lender"`
	Custody   string `json:"custody"`
}

type OKResult struct {
	OK bool `json:"ok"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
