package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"deedescrow/core/types"
	"deedescrow/crypto"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance of
	// the source account.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrInvalidAmount is returned for negative or out-of-range amounts.
	ErrInvalidAmount = errors.New("bank: invalid amount")
	errNilState      = errors.New("bank: state not configured")
)

type ledgerState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	TotalSupply() (*big.Int, error)
	SetTotalSupply(value *big.Int) error
}

// Ledger moves the native currency between accounts. It must be driven from
// inside a state transaction so that a failed transfer never lands partially.
type Ledger struct {
	state ledgerState
}

// NewLedger binds a ledger to its state backend.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: exceeds 256 bits", ErrInvalidAmount)
	}
	return value, nil
}

func (l *Ledger) load(addr crypto.Address) (*types.Account, *uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, nil, errNilState
	}
	account, err := l.state.GetAccount(addr[:])
	if err != nil {
		return nil, nil, err
	}
	balance, err := toUint256(account.Balance)
	if err != nil {
		return nil, nil, err
	}
	return account, balance, nil
}

func (l *Ledger) store(addr crypto.Address, account *types.Account, balance *uint256.Int) error {
	account.Balance = balance.ToBig()
	account.Sequence++
	return l.state.PutAccount(addr[:], account)
}

// Balance returns the spendable balance held by addr.
func (l *Ledger) Balance(addr crypto.Address) (*big.Int, error) {
	_, balance, err := l.load(addr)
	if err != nil {
		return nil, err
	}
	return balance.ToBig(), nil
}

// Credit mints amount into addr and grows the total supply accordingly. It is
// used for genesis allocations and funding tooling.
func (l *Ledger) Credit(addr crypto.Address, amount *big.Int) error {
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	if amt.IsZero() {
		return nil
	}
	account, balance, err := l.load(addr)
	if err != nil {
		return err
	}
	updated, overflow := new(uint256.Int).AddOverflow(balance, amt)
	if overflow {
		return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	supply, err := l.state.TotalSupply()
	if err != nil {
		return err
	}
	supplyAmt, err := toUint256(supply)
	if err != nil {
		return err
	}
	nextSupply, overflow := new(uint256.Int).AddOverflow(supplyAmt, amt)
	if overflow {
		return fmt.Errorf("%w: supply overflow", ErrInvalidAmount)
	}
	if err := l.store(addr, account, updated); err != nil {
		return err
	}
	return l.state.SetTotalSupply(nextSupply.ToBig())
}

// Transfer moves amount from one account to another. Zero transfers and
// transfers to self succeed without touching state.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	if amt.IsZero() || from == to {
		if from == to && !amt.IsZero() {
			_, balance, err := l.load(from)
			if err != nil {
				return err
			}
			if balance.Lt(amt) {
				return ErrInsufficientBalance
			}
		}
		return nil
	}
	fromAcc, fromBal, err := l.load(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amt) {
		return ErrInsufficientBalance
	}
	toAcc, toBal, err := l.load(to)
	if err != nil {
		return err
	}
	nextTo, overflow := new(uint256.Int).AddOverflow(toBal, amt)
	if overflow {
		return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	if err := l.store(from, fromAcc, new(uint256.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	return l.store(to, toAcc, nextTo)
}

// TotalSupply reports the sum of all credits.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.TotalSupply()
}
