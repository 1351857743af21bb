package escrow

import (
	"math/big"
	"strconv"
)

var fundsPrefix = []byte("escrow/funds/")

func fundsKey(assetID uint64) []byte {
	return append(append([]byte(nil), fundsPrefix...), []byte(strconv.FormatUint(assetID, 10))...)
}

func (e *Engine) loadFunds(assetID uint64) (Funds, error) {
	var funds Funds
	if _, err := e.state.KVGet(fundsKey(assetID), &funds); err != nil {
		return Funds{}, err
	}
	return funds.clone(), nil
}

func (e *Engine) storeFunds(assetID uint64, funds Funds) error {
	funds = funds.clone()
	if funds.Total().Sign() == 0 {
		return e.state.KVDelete(fundsKey(assetID))
	}
	return e.state.KVPut(fundsKey(assetID), funds)
}

// addWithCap returns current+amount, or ok=false when the result would exceed
// limit.
func addWithCap(current, amount, limit *big.Int) (*big.Int, bool) {
	next := new(big.Int).Add(cloneBigInt(current), amount)
	if next.Cmp(cloneBigInt(limit)) > 0 {
		return nil, false
	}
	return next, true
}
