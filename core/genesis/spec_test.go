package genesis

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"deedescrow/core/state"
	"deedescrow/crypto"
	"deedescrow/native/bank"
	"deedescrow/native/escrow"
	"deedescrow/native/registry"
	"deedescrow/storage"
)

func testAddr(fill byte) crypto.Address {
	var a crypto.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

var (
	seller    = testAddr(0x01)
	inspector = testAddr(0x02)
	lender    = testAddr(0x03)
	buyer     = testAddr(0x04)
)

func genesisYAML() string {
	return `genesisTime: "2024-01-01T00:00:00Z"
alloc:
  ` + buyer.String() + `: "100"
  ` + lender.String() + `: "50"
assets:
  - owner: ` + seller.String() + `
    uri: https://deeds.example/1.json
    approveCustody: true
  - owner: ` + seller.String() + `
    uri: https://deeds.example/2.json
    approveCustody: true
  - owner: ` + seller.String() + `
    uri: https://deeds.example/3.json
listings:
  - asset: 1
    buyer: ` + buyer.String() + `
    purchasePrice: "20"
    requiredEarnest: "10"
  - asset: 2
    buyer: ` + buyer.String() + `
    purchasePrice: "15"
    requiredEarnest: "5"
`
}

func newTarget(t *testing.T, db storage.Database) Target {
	t.Helper()
	mgr := state.NewManager(db)
	ledger := bank.NewLedger(mgr)
	reg := registry.New(mgr)
	engine := escrow.NewEngine(mgr, ledger, reg)
	require.NoError(t, engine.Bootstrap(escrow.Roles{Seller: seller, Inspector: inspector, Lender: lender}))
	return Target{State: mgr, Bank: ledger, Registry: reg, Escrow: engine}
}

func TestLoadAndApplyGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(genesisYAML()), 0o600))

	spec, err := LoadGenesisSpec(path)
	require.NoError(t, err)
	require.Equal(t, 2024, spec.GenesisTimestamp().Year())

	db := storage.NewMemDB()
	target := newTarget(t, db)
	applied, err := Apply(spec, target)
	require.NoError(t, err)
	require.True(t, applied)

	listed, err := target.Escrow.IsListed(1)
	require.NoError(t, err)
	require.True(t, listed)
	price, err := target.Escrow.PurchasePrice(2)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(15), price)
	listed, err = target.Escrow.IsListed(3)
	require.NoError(t, err)
	require.False(t, listed)

	require.NoError(t, target.State.View(func() error {
		bal, err := target.Bank.Balance(buyer)
		require.NoError(t, err)
		require.Equal(t, int64(100), bal.Int64())
		owner, err := target.Registry.OwnerOf(3)
		require.NoError(t, err)
		require.Equal(t, seller, owner)
		return nil
	}))

	again, err := Apply(spec, newTarget(t, db))
	require.NoError(t, err)
	require.False(t, again)
}

func TestApplyRejectsDifferentGenesis(t *testing.T) {
	db := storage.NewMemDB()
	spec, err := ParseGenesisSpec([]byte(genesisYAML()))
	require.NoError(t, err)
	_, err = Apply(spec, newTarget(t, db))
	require.NoError(t, err)

	other, err := ParseGenesisSpec([]byte("genesisTime: \"2025-01-01T00:00:00Z\"\n"))
	require.NoError(t, err)
	_, err = Apply(other, newTarget(t, db))
	require.ErrorIs(t, err, ErrGenesisMismatch)
}

func TestParseGenesisValidation(t *testing.T) {
	_, err := ParseGenesisSpec([]byte("genesisTime: \"2024-01-01T00:00:00Z\"\nunknown: 1\n"))
	require.Error(t, err)

	_, err = ParseGenesisSpec([]byte("alloc: {}\n"))
	require.ErrorContains(t, err, "genesisTime")

	bad := `genesisTime: "2024-01-01T00:00:00Z"
assets:
  - owner: ` + seller.String() + `
    uri: x
listings:
  - asset: 1
    buyer: ` + buyer.String() + `
    purchasePrice: "10"
    requiredEarnest: "5"
`
	_, err = ParseGenesisSpec([]byte(bad))
	require.ErrorContains(t, err, "approveCustody")
}

func TestApplyIsAllOrNothingAcrossListings(t *testing.T) {
	db := storage.NewMemDB()
	spec, err := ParseGenesisSpec([]byte(genesisYAML()))
	require.NoError(t, err)

	price := spec.Listings[1].price
	spec.Listings[1].price = nil
	target := newTarget(t, db)
	applied, err := Apply(spec, target)
	require.ErrorIs(t, err, escrow.ErrInvalidTerms)
	require.ErrorContains(t, err, "listing[1]")
	require.False(t, applied)

	_, marked, err := target.State.GenesisHash()
	require.NoError(t, err)
	require.False(t, marked, "failed genesis must not be recorded")
	listed, err := target.Escrow.IsListed(1)
	require.NoError(t, err)
	require.False(t, listed, "earlier listing must roll back with the failed one")
	require.NoError(t, target.State.View(func() error {
		bal, err := target.Bank.Balance(buyer)
		require.NoError(t, err)
		require.Zero(t, bal.Sign())
		return nil
	}))

	spec.Listings[1].price = price
	target = newTarget(t, db)
	applied, err = Apply(spec, target)
	require.NoError(t, err)
	require.True(t, applied)
	for _, id := range []uint64{1, 2} {
		listed, err := target.Escrow.IsListed(id)
		require.NoError(t, err)
		require.True(t, listed, "asset %d must be listed after re-apply", id)
	}
}

func TestApplyRejectsRoleConflicts(t *testing.T) {
	conflicting := strings.Replace(genesisYAML(), "  - asset: 2\n    buyer: "+buyer.String(), "  - asset: 2\n    buyer: "+lender.String(), 1)
	spec, err := ParseGenesisSpec([]byte(conflicting))
	require.NoError(t, err)

	db := storage.NewMemDB()
	target := newTarget(t, db)
	applied, err := Apply(spec, target)
	require.ErrorContains(t, err, "listing[1]")
	require.False(t, applied)
	_, marked, err := target.State.GenesisHash()
	require.NoError(t, err)
	require.False(t, marked)

	foreignOwner := strings.Replace(genesisYAML(), "  - owner: "+seller.String()+"\n    uri: https://deeds.example/1.json",
		"  - owner: "+buyer.String()+"\n    uri: https://deeds.example/1.json", 1)
	spec, err = ParseGenesisSpec([]byte(foreignOwner))
	require.NoError(t, err)
	require.ErrorContains(t, spec.CheckRoles(escrow.Roles{Seller: seller, Inspector: inspector, Lender: lender}), "not the seller")

	good, err := ParseGenesisSpec([]byte(genesisYAML()))
	require.NoError(t, err)
	applied, err = Apply(good, newTarget(t, db))
	require.NoError(t, err)
	require.True(t, applied)
}
