package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"deedescrow/core/types"
	"deedescrow/storage"
)

func TestAccountDefaultsAndPersistence(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	addr := []byte{0x01, 0x02}

	require.NoError(t, mgr.View(func() error {
		acc, err := mgr.GetAccount(addr)
		require.NoError(t, err)
		require.Zero(t, acc.Balance.Sign())
		return nil
	}))

	require.NoError(t, mgr.Atomic(func() error {
		return mgr.PutAccount(addr, &types.Account{Balance: big.NewInt(42), Sequence: 1})
	}))

	require.NoError(t, mgr.View(func() error {
		acc, err := mgr.GetAccount(addr)
		require.NoError(t, err)
		require.Equal(t, int64(42), acc.Balance.Int64())
		require.Equal(t, uint64(1), acc.Sequence)
		return nil
	}))
}

func TestPutAccountRejectsOutOfRangeBalances(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	err := mgr.Atomic(func() error {
		return mgr.PutAccount([]byte{0x01}, &types.Account{Balance: huge})
	})
	require.Error(t, err)

	err = mgr.Atomic(func() error {
		return mgr.PutAccount([]byte{0x01}, &types.Account{Balance: big.NewInt(-1)})
	})
	require.Error(t, err)
}

func TestGenesisMarker(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.View(func() error {
		_, applied, err := mgr.GenesisHash()
		require.NoError(t, err)
		require.False(t, applied)
		return nil
	}))
	require.NoError(t, mgr.Atomic(func() error { return mgr.MarkGenesisApplied([]byte{0xaa}) }))
	require.NoError(t, mgr.View(func() error {
		hash, applied, err := mgr.GenesisHash()
		require.NoError(t, err)
		require.True(t, applied)
		require.Equal(t, []byte{0xaa}, hash)
		return nil
	}))
}
