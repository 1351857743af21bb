package bank

import (
	"errors"
	"math/big"
	"testing"

	"deedescrow/core/state"
	"deedescrow/crypto"
	"deedescrow/storage"
)

func newTestLedger(t *testing.T) (*state.Manager, *Ledger) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	return mgr, NewLedger(mgr)
}

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[19] = b
	return a
}

func TestCreditAndTransfer(t *testing.T) {
	mgr, ledger := newTestLedger(t)
	alice, bob := addr(1), addr(2)

	if err := mgr.Atomic(func() error {
		if err := ledger.Credit(alice, big.NewInt(100)); err != nil {
			return err
		}
		return ledger.Transfer(alice, bob, big.NewInt(40))
	}); err != nil {
		t.Fatalf("credit and transfer: %v", err)
	}

	err := mgr.View(func() error {
		a, err := ledger.Balance(alice)
		if err != nil {
			return err
		}
		b, err := ledger.Balance(bob)
		if err != nil {
			return err
		}
		if a.Int64() != 60 || b.Int64() != 40 {
			t.Fatalf("unexpected balances alice=%s bob=%s", a, b)
		}
		supply, err := ledger.TotalSupply()
		if err != nil {
			return err
		}
		if supply.Int64() != 100 {
			t.Fatalf("unexpected supply %s", supply)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestTransferInsufficientBalanceLeavesStateUntouched(t *testing.T) {
	mgr, ledger := newTestLedger(t)
	alice, bob := addr(1), addr(2)
	if err := mgr.Atomic(func() error { return ledger.Credit(alice, big.NewInt(5)) }); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := mgr.Atomic(func() error { return ledger.Transfer(alice, bob, big.NewInt(6)) })
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	err = mgr.Atomic(func() error { return ledger.Transfer(alice, bob, big.NewInt(-1)) })
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	_ = mgr.View(func() error {
		bal, err := ledger.Balance(alice)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal.Int64() != 5 {
			t.Fatalf("balance changed after failed transfer: %s", bal)
		}
		return nil
	})
}
