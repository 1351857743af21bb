package genesis

import (
	"bytes"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"deedescrow/core/state"
	"deedescrow/native/bank"
	"deedescrow/native/escrow"
	"deedescrow/native/registry"
)

// ErrGenesisMismatch is returned when a data directory was initialised from a
// different genesis file.
var ErrGenesisMismatch = errors.New("genesis: data directory initialised from a different genesis")

// Target bundles the modules genesis writes into.
type Target struct {
	State    *state.Manager
	Bank     *bank.Ledger
	Registry *registry.Registry
	Escrow   *escrow.Engine
}

// Hash identifies the genesis content.
func (s *GenesisSpec) Hash() []byte {
	return ethcrypto.Keccak256(s.raw)
}

// CheckRoles rejects listings the escrow engine would refuse under roles:
// the listed deed must be minted to the seller and the buyer must not hold a
// fixed role or be the custody account.
func (s *GenesisSpec) CheckRoles(roles escrow.Roles) error {
	custody := roles.Custody()
	for i, l := range s.Listings {
		if owner := s.Assets[l.Asset-1].owner; owner != roles.Seller {
			return fmt.Errorf("listing[%d]: asset %d owned by %s, not the seller", i, l.Asset, owner)
		}
		if l.buyer.IsZero() || roles.Has(l.buyer) || l.buyer == custody {
			return fmt.Errorf("listing[%d]: buyer %s conflicts with a fixed role", i, l.buyer)
		}
	}
	return nil
}

// Apply writes allocations, assets and listings in a single transaction. The
// genesis marker is recorded in that same transaction, so a failed listing
// leaves the directory untouched. It returns false without touching state
// when the directory already carries this genesis.
func Apply(spec *GenesisSpec, target Target) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("genesis spec must not be nil")
	}
	if target.State == nil || target.Bank == nil || target.Registry == nil || target.Escrow == nil {
		return false, fmt.Errorf("genesis target incomplete")
	}
	custody, err := target.Escrow.Custody()
	if err != nil {
		return false, err
	}
	roles, err := target.Escrow.Roles()
	if err != nil {
		return false, err
	}
	if err := spec.CheckRoles(roles); err != nil {
		return false, err
	}

	applied := false
	err = target.State.Atomic(func() error {
		stored, ok, err := target.State.GenesisHash()
		if err != nil {
			return err
		}
		if ok {
			if !bytes.Equal(stored, spec.Hash()) {
				return ErrGenesisMismatch
			}
			return nil
		}
		for _, alloc := range spec.allocations {
			if err := target.Bank.Credit(alloc.addr, alloc.amount); err != nil {
				return fmt.Errorf("alloc %s: %w", alloc.addr, err)
			}
		}
		for i, a := range spec.Assets {
			asset, err := target.Registry.Mint(a.owner, a.URI)
			if err != nil {
				return fmt.Errorf("asset[%d]: %w", i, err)
			}
			if asset.ID != uint64(i+1) {
				return fmt.Errorf("asset[%d]: registry not empty (minted id %d)", i, asset.ID)
			}
			if a.ApproveCustody {
				if err := target.Registry.Approve(a.owner, custody, asset.ID); err != nil {
					return fmt.Errorf("asset[%d]: approve custody: %w", i, err)
				}
			}
		}
		for i, l := range spec.Listings {
			if err := target.Escrow.ListWithin(l.Asset, l.buyer, l.price, l.earnest); err != nil {
				return fmt.Errorf("listing[%d]: %w", i, err)
			}
		}
		if err := target.State.MarkGenesisApplied(spec.Hash()); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
