package escrow

import (
	"fmt"

	"deedescrow/crypto"
)

var (
	rolesKey      = []byte("escrow/roles")
	custodyDomain = []byte("deedescrow/custody")
)

// Roles are the three fixed identities of an escrow deployment. They are set
// once and never change.
type Roles struct {
	Seller    crypto.Address
	Inspector crypto.Address
	Lender    crypto.Address
}

// Validate ensures every role is set and no identity holds two roles.
func (r Roles) Validate() error {
	if r.Seller.IsZero() || r.Inspector.IsZero() || r.Lender.IsZero() {
		return fmt.Errorf("%w: role address must not be zero", ErrInvalidRoles)
	}
	if r.Seller == r.Inspector || r.Seller == r.Lender || r.Inspector == r.Lender {
		return fmt.Errorf("%w: roles must be distinct", ErrInvalidRoles)
	}
	return nil
}

// Has reports whether addr holds any fixed role.
func (r Roles) Has(addr crypto.Address) bool {
	return addr == r.Seller || addr == r.Inspector || addr == r.Lender
}

// Custody derives the address that holds escrowed funds and assets. No key
// controls it; only the engine moves value out of it.
func (r Roles) Custody() crypto.Address {
	return crypto.DeriveAddress(custodyDomain, r.Seller[:], r.Inspector[:], r.Lender[:])
}

// Bootstrap persists roles on first start and verifies them on every later
// start. It must run before any other engine operation.
func (e *Engine) Bootstrap(roles Roles) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := roles.Validate(); err != nil {
		return err
	}
	err := e.state.Atomic(func() error {
		var stored Roles
		ok, err := e.state.KVGet(rolesKey, &stored)
		if err != nil {
			return err
		}
		if ok {
			if stored != roles {
				return ErrRolesMismatch
			}
			return nil
		}
		return e.state.KVPut(rolesKey, roles)
	})
	if err != nil {
		return err
	}
	e.roles = roles
	e.custody = roles.Custody()
	e.bootstrapped = true
	return nil
}

// Roles returns the fixed role assignment.
func (e *Engine) Roles() (Roles, error) {
	if err := e.ready(); err != nil {
		return Roles{}, err
	}
	return e.roles, nil
}

// Custody returns the address holding escrowed funds and listed assets.
func (e *Engine) Custody() (crypto.Address, error) {
	if err := e.ready(); err != nil {
		return crypto.ZeroAddress, err
	}
	return e.custody, nil
}

func (e *Engine) requireRole(caller, want crypto.Address) error {
	if caller.IsZero() || caller != want {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) requireAny(caller crypto.Address, allowed ...crypto.Address) error {
	if caller.IsZero() {
		return ErrUnauthorized
	}
	for _, addr := range allowed {
		if caller == addr {
			return nil
		}
	}
	return ErrUnauthorized
}
