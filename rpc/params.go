package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"deedescrow/crypto"
)

func decodeParams(w http.ResponseWriter, req *RPCRequest, dst interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	dec := json.NewDecoder(strings.NewReader(string(req.Params[0])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func parseBech32Address(value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, errors.New("address required")
	}
	return crypto.DecodeAddress(trimmed)
}

func parseAssetID(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("assetId required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid assetId %q", value)
	}
	return id, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	return amount, nil
}
