package escrow

import (
	"errors"
	"fmt"

	"deedescrow/native/bank"
	"deedescrow/native/common"
)

var (
	// ErrUnauthorized is returned when the caller does not hold the role the
	// operation requires.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrNotApproved is returned when the seller does not own the asset or has
	// not authorised the custody address to move it.
	ErrNotApproved = errors.New("escrow: custody not approved for asset")
	// ErrPreconditionNotMet is the parent of every settlement and funding
	// precondition failure.
	ErrPreconditionNotMet = errors.New("escrow: precondition not met")
	// ErrInvalidState is returned when the listing is not in the lifecycle
	// state the operation requires.
	ErrInvalidState = errors.New("escrow: invalid listing state")
	// ErrInvalidTerms is returned when listing terms are inconsistent.
	ErrInvalidTerms = errors.New("escrow: invalid listing terms")
	// ErrInvalidAmount is returned for zero or negative deposits.
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	// ErrInvalidRoles is returned when the fixed roles are unset or not
	// distinct.
	ErrInvalidRoles = errors.New("escrow: invalid role configuration")
	// ErrRolesMismatch is returned when configured roles differ from the ones
	// persisted in state.
	ErrRolesMismatch = errors.New("escrow: configured roles differ from persisted roles")

	ErrInspectionNotPassed = fmt.Errorf("%w: inspection not passed", ErrPreconditionNotMet)
	ErrApprovalsIncomplete = fmt.Errorf("%w: approvals incomplete", ErrPreconditionNotMet)
	ErrInsufficientFunds   = fmt.Errorf("%w: escrowed funds below purchase price", ErrPreconditionNotMet)
	ErrEarnestExceeded     = fmt.Errorf("%w: earnest exceeds required amount", ErrPreconditionNotMet)
	ErrLoanExceeded        = fmt.Errorf("%w: loan exceeds purchase price", ErrPreconditionNotMet)

	errNilState    = errors.New("escrow engine: state not configured")
	errNilBank     = errors.New("escrow engine: bank not configured")
	errNilRegistry = errors.New("escrow engine: asset registry not configured")
	errNoRoles     = errors.New("escrow engine: roles not bootstrapped")

	errCorruptListing = errors.New("escrow engine: corrupt listing record")
)

// Error kinds reported to metrics and mapped by the RPC layer.
const (
	KindOK           = "ok"
	KindUnauthorized = "unauthorized"
	KindNotApproved  = "not_approved"
	KindPrecondition = "precondition_not_met"
	KindInvalidState = "invalid_state"
	KindInvalidInput = "invalid_input"
	KindPaused       = "paused"
	KindInternal     = "internal"
)

// ErrorKind classifies err into one of the Kind constants.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotApproved):
		return KindNotApproved
	case errors.Is(err, ErrPreconditionNotMet), errors.Is(err, bank.ErrInsufficientBalance):
		return KindPrecondition
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrInvalidTerms), errors.Is(err, ErrInvalidAmount), errors.Is(err, bank.ErrInvalidAmount):
		return KindInvalidInput
	case errors.Is(err, common.ErrModulePaused):
		return KindPaused
	default:
		return KindInternal
	}
}
