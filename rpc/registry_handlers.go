package rpc

import (
	"net/http"
	"strings"
)

type registryMintParams struct {
	URI string `json:"uri"`
}

type registryApproveParams struct {
	AssetID string `json:"assetId"`
	Spender string `json:"spender"`
}

type registryOperatorParams struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

type registryTransferParams struct {
	AssetID string `json:"assetId"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type registryOwnerParams struct {
	Owner string `json:"owner"`
}

type bankAddressParams struct {
	Address string `json:"address"`
}

type bankTransferParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// handleRegistryMint mints a deed to the caller.
func (s *Server) handleRegistryMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params registryMintParams
	if !decodeParams(w, req, &params) {
		return
	}
	uri := strings.TrimSpace(params.URI)
	if uri == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "uri required")
		return
	}
	asset, err := s.node.MintAsset(callerFrom(r), uri)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAssetJSON(asset))
}

func (s *Server) handleRegistryApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params registryApproveParams
	if !decodeParams(w, req, &params) {
		return
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	spender, err := parseBech32Address(params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.ApproveAsset(callerFrom(r), spender, assetID); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeAsset(w, req, assetID)
}

func (s *Server) handleRegistrySetOperator(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params registryOperatorParams
	if !decodeParams(w, req, &params) {
		return
	}
	operator, err := parseBech32Address(params.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SetOperator(callerFrom(r), operator, params.Approved); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, OKResult{OK: true})
}

func (s *Server) handleRegistryTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params registryTransferParams
	if !decodeParams(w, req, &params) {
		return
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := parseBech32Address(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.TransferAsset(callerFrom(r), from, to, assetID); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeAsset(w, req, assetID)
}

func (s *Server) handleRegistryOwnerOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowAssetParams
	if !decodeParams(w, req, &params) {
		return
	}
	assetID, err := parseAssetID(params.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	s.writeAsset(w, req, assetID)
}

func (s *Server) handleRegistryAssets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryOwnerParams
	if !decodeParams(w, req, &params) {
		return
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	assets, err := s.node.AssetsOf(owner)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	out := make([]AssetJSON, 0, len(assets))
	for _, asset := range assets {
		out = append(out, formatAssetJSON(asset))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) writeAsset(w http.ResponseWriter, req *RPCRequest, assetID uint64) {
	asset, err := s.node.Asset(assetID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAssetJSON(asset))
}

func (s *Server) handleBankBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params bankAddressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceJSON{Address: addr.String(), Balance: amountString(balance)})
}

func (s *Server) handleBankTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bankTransferParams
	if !decodeParams(w, req, &params) {
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller := callerFrom(r)
	if err := s.node.Transfer(caller, to, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	balance, err := s.node.Balance(caller)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceJSON{Address: caller.String(), Balance: amountString(balance)})
}
