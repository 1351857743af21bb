package rpc

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"deedescrow/crypto"
	"deedescrow/native/escrow"
	"deedescrow/native/registry"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
	codeEscrowPrecondition  = -32026
	codeEscrowPaused        = -32027
)

const defaultEventsLimit = 100

type escrowListParams struct {
	AssetID         string `json:"assetId"`
	Buyer           string `json:"buyer"`
	PurchasePrice   string `json:"purchasePrice"`
	RequiredEarnest string `json:"requiredEarnest"`
}

type escrowAmountParams struct {
	AssetID string `json:"assetId"`
	Amount  string `json:"amount"`
}

type escrowInspectionParams struct {
	AssetID string `json:"assetId"`
	Passed  bool   `json:"passed"`
}

type escrowAssetParams struct {
	AssetID string `json:"assetId"`
}

type escrowApprovalParams struct {
	AssetID string `json:"assetId"`
	Address string `json:"address"`
}

type escrowSettlementParams struct {
	AssetID string `json:"assetId"`
	Round   uint64 `json:"round"`
}

type escrowEventsParams struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Type   string `json:"type,omitempty"`
}

type approvalResult struct {
	AssetID  string `json:"assetId"`
	Address  string `json:"address"`
	Approved bool   `json:"approved"`
}

type escrowBalanceResult struct {
	Custody string `json:"custody"`
	Balance string `json:"balance"`
}

func (s *Server) handleEscrowList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowListParams
	if !decodeParams(w, req, &params) {
		return
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	price, err := parseAmount(params.PurchasePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	earnest, err := parseAmount(params.RequiredEarnest)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Escrow().List(callerFrom(r), assetID, buyer, price, earnest); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeSale(w, req, assetID)
}

func (s *Server) handleEscrowDepositEarnest(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowFunding(w, r, req, s.node.Escrow().DepositEarnest)
}

func (s *Server) handleEscrowLend(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowFunding(w, r, req, s.node.Escrow().Lend)
}

func (s *Server) handleEscrowFunding(w http.ResponseWriter, r *http.Request, req *RPCRequest, fund func(crypto.Address, uint64, *big.Int) error) {
	var params escrowAmountParams
	if !decodeParams(w, req, &params) {
		return
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fund(callerFrom(r), assetID, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeSale(w, req, assetID)
}

func (s *Server) handleEscrowUpdateInspection(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowInspectionParams
	if !decodeParams(w, req, &params) {
		return
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Escrow().UpdateInspectionStatus(callerFrom(r), assetID, params.Passed); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeSale(w, req, assetID)
}

func (s *Server) handleEscrowApproveSale(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	assetID, ok := decodeAssetParams(w, req)
	if !ok {
		return
	}
	if err := s.node.Escrow().ApproveSale(callerFrom(r), assetID); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeSale(w, req, assetID)
}

func (s *Server) handleEscrowFinalizeSale(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowSettle(w, r, req, s.node.Escrow().FinalizeSale)
}

func (s *Server) handleEscrowCancelSale(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowSettle(w, r, req, s.node.Escrow().CancelSale)
}

// handleEscrowSettle runs a terminal operation and answers with the receipt
// of the round it closed.
func (s *Server) handleEscrowSettle(w http.ResponseWriter, r *http.Request, req *RPCRequest, settle func(crypto.Address, uint64) (*escrow.Settlement, error)) {
	assetID, ok := decodeAssetParams(w, req)
	if !ok {
		return
	}
	receipt, err := settle(callerFrom(r), assetID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatSettlementJSON(receipt))
}

func decodeAssetParams(w http.ResponseWriter, req *RPCRequest) (uint64, bool) {
	var params escrowAssetParams
	if !decodeParams(w, req, &params) {
		return 0, false
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return 0, false
	}
	return assetID, true
}

func (s *Server) writeSale(w http.ResponseWriter, req *RPCRequest, assetID uint64) {
	sale, err := s.node.Escrow().Sale(assetID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatSaleJSON(sale))
}

func (s *Server) handleEscrowGetSale(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowAssetParams
	if !decodeParams(w, req, &params) {
		return
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	s.writeSale(w, req, assetID)
}

func (s *Server) handleEscrowGetApproval(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowApprovalParams
	if !decodeParams(w, req, &params) {
		return
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	approved, err := s.node.Escrow().Approval(assetID, addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, approvalResult{AssetID: params.AssetID, Address: addr.String(), Approved: approved})
}

func (s *Server) handleEscrowGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	custody, err := s.node.Escrow().Custody()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	balance, err := s.node.Escrow().Balance()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowBalanceResult{Custody: custody.String(), Balance: amountString(balance)})
}

func (s *Server) handleEscrowRoles(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	roles, err := s.node.Escrow().Roles()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, RolesJSON{
		Seller:    roles.Seller.String(),
		Inspector: roles.Inspector.String(),
		Lender:    roles.Lender.String(),
		Custody:   roles.Custody().String(),
	})
}

func (s *Server) handleEscrowGetSettlement(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowSettlementParams
	if !decodeParams(w, req, &params) {
		return
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.Round == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "round must be > 0")
		return
	}
	receipt, ok, err := s.node.Escrow().Settlement(assetID, params.Round)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeEscrowNotFound, "not_found", "round not settled")
		return
	}
	writeResult(w, req.ID, formatSettlementJSON(receipt))
}

func (s *Server) handleEscrowListings(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	listings, err := s.node.Escrow().Listings()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	out := make([]SaleJSON, 0, len(listings))
	for _, l := range listings {
		sale, err := s.node.Escrow().Sale(l.AssetID)
		if err != nil {
			writeEscrowError(w, req.ID, err)
			return
		}
		out = append(out, formatSaleJSON(sale))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleEscrowEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowEventsParams
	if len(req.Params) > 0 && !decodeParams(w, req, &params) {
		return
	}
	limit := params.Limit
	if limit <= 0 || limit > defaultEventsLimit {
		limit = defaultEventsLimit
	}
	prefix := "escrow."
	if t := strings.TrimSpace(params.Type); t != "" {
		prefix = t
	}
	out := make([]EventJSON, 0)
	for _, entry := range s.node.Events().Since(params.Cursor) {
		if !strings.HasPrefix(entry.Event.Type, prefix) {
			continue
		}
		out = append(out, formatEventJSON(entry))
		if len(out) == limit {
			break
		}
	}
	writeResult(w, req.ID, out)
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, registry.ErrAssetNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, registry.ErrNotAuthorized):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = escrow.KindUnauthorized
	case errors.Is(err, registry.ErrWrongOwner):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = escrow.KindInvalidState
	case errors.Is(err, registry.ErrInvalidRecipient):
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
		message = escrow.KindInvalidInput
	default:
		switch kind := escrow.ErrorKind(err); kind {
		case escrow.KindUnauthorized:
			status, code, message = http.StatusForbidden, codeEscrowForbidden, kind
		case escrow.KindInvalidState:
			status, code, message = http.StatusConflict, codeEscrowConflict, kind
		case escrow.KindNotApproved, escrow.KindPrecondition:
			status, code, message = http.StatusPreconditionFailed, codeEscrowPrecondition, kind
		case escrow.KindInvalidInput:
			status, code, message = http.StatusBadRequest, codeEscrowInvalidParams, kind
		case escrow.KindPaused:
			status, code, message = http.StatusServiceUnavailable, codeEscrowPaused, kind
		}
	}
	writeError(w, status, id, code, message, data)
}
