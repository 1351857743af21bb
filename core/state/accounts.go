package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"deedescrow/core/types"
)

var (
	accountPrefix   = []byte("account/")
	totalSupplyKey  = []byte("bank/supply")
	genesisAppliedK = []byte("genesis/applied")
)

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return buf
}

type storedAccount struct {
	Balance  *big.Int
	Sequence uint64
}

// GetAccount loads the account stored under addr. Unknown addresses yield an
// empty account with a zero balance.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	var stored storedAccount
	ok, err := m.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := &types.Account{Balance: big.NewInt(0)}
	if ok {
		if stored.Balance != nil {
			account.Balance = new(big.Int).Set(stored.Balance)
		}
		account.Sequence = stored.Sequence
	}
	return account, nil
}

// PutAccount persists the account under addr. Balances must fit in 256 bits.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("nil account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("account balance must not be negative")
	}
	if _, overflow := uint256.FromBig(balance); overflow {
		return fmt.Errorf("account balance overflows 256 bits")
	}
	return m.KVPut(accountKey(addr), storedAccount{Balance: new(big.Int).Set(balance), Sequence: account.Sequence})
}

// TotalSupply returns the sum of all credited funds.
func (m *Manager) TotalSupply() (*big.Int, error) {
	return m.LoadBigInt(totalSupplyKey)
}

// SetTotalSupply overwrites the supply counter.
func (m *Manager) SetTotalSupply(value *big.Int) error {
	return m.WriteBigInt(totalSupplyKey, value)
}

// GenesisHash returns the hash recorded when genesis was applied. The boolean
// is false on a fresh data directory.
func (m *Manager) GenesisHash() ([]byte, bool, error) {
	var hash []byte
	ok, err := m.KVGet(genesisAppliedK, &hash)
	if err != nil || !ok {
		return nil, false, err
	}
	return hash, true, nil
}

// MarkGenesisApplied records that genesis allocation completed.
func (m *Manager) MarkGenesisApplied(hash []byte) error {
	return m.KVPut(genesisAppliedK, hash)
}
