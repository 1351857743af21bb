package rpc

import (
	"net/http"
	"strconv"

	"deedescrow/storage/audit"
)

type auditEventsParams struct {
	Type    string `json:"type,omitempty"`
	AssetID string `json:"assetId,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type AuditEventJSON struct {
	ID         string `json:"id"`
	Sequence   uint64 `json:"sequence"`
	Type       string `json:"type"`
	AssetID    string `json:"assetId,omitempty"`
	Round      uint64 `json:"round,omitempty"`
	Attributes string `json:"attributes"`
	CreatedAt  string `json:"createdAt"`
}

type AuditSettlementJSON struct {
	AssetID          string `json:"assetId"`
	Round            uint64 `json:"round"`
	Outcome          string `json:"outcome"`
	PurchasePrice    string `json:"purchasePrice"`
	Earnest          string `json:"earnest"`
	Loan             string `json:"loan"`
	InspectionPassed bool   `json:"inspectionPassed"`
	AssetRecipient   string `json:"assetRecipient"`
	Hash             string `json:"hash"`
}

func (s *Server) requireAudit(w http.ResponseWriter, req *RPCRequest) bool {
	if s.audit != nil {
		return true
	}
	writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "audit log disabled", nil)
	return false
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireAudit(w, req) {
		return
	}
	var params auditEventsParams
	if len(req.Params) > 0 && !decodeParams(w, req, &params) {
		return
	}
	filter := audit.Filter{Type: params.Type, Limit: params.Limit}
	if params.AssetID != "" {
		id, err := parseAssetID(params.AssetID)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return
		}
		filter.AssetID = &id
	}
	records, err := s.audit.Events(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "audit query failed", err.Error())
		return
	}
	out := make([]AuditEventJSON, 0, len(records))
	for _, rec := range records {
		item := AuditEventJSON{
			ID:         rec.ID.String(),
			Sequence:   rec.Sequence,
			Type:       rec.Type,
			Round:      rec.Round,
			Attributes: rec.Attributes,
			CreatedAt:  rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		if rec.AssetID != 0 {
			item.AssetID = strconv.FormatUint(rec.AssetID, 10)
		}
		out = append(out, item)
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleAuditSettlements(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.requireAudit(w, req) {
		return
	}
	rows, err := s.audit.Settlements()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "audit query failed", err.Error())
		return
	}
	out := make([]AuditSettlementJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, AuditSettlementJSON{
			AssetID:          strconv.FormatUint(row.AssetID, 10),
			Round:            row.Round,
			Outcome:          row.Outcome,
			PurchasePrice:    row.PurchasePrice,
			Earnest:          row.Earnest,
			Loan:             row.Loan,
			InspectionPassed: row.InspectionPassed,
			AssetRecipient:   row.AssetRecipient,
			Hash:             row.Hash,
		})
	}
	writeResult(w, req.ID, out)
}
