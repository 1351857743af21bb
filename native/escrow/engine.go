package escrow

import (
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"deedescrow/core/events"
	"deedescrow/core/types"
	"deedescrow/crypto"
	"deedescrow/native/common"
	"deedescrow/observability"
)

// ModuleName identifies the escrow module for pause controls and metrics.
const ModuleName = "escrow"

type engineState interface {
	Atomic(fn func() error) error
	View(fn func() error) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Bank moves settlement currency. Calls happen inside the engine's state
// transaction.
type Bank interface {
	Balance(addr crypto.Address) (*big.Int, error)
	Transfer(from, to crypto.Address, amount *big.Int) error
}

// AssetRegistry is the ownership ledger for listed assets.
type AssetRegistry interface {
	OwnerOf(assetID uint64) (crypto.Address, error)
	IsApprovedOrOwner(spender crypto.Address, assetID uint64) (bool, error)
	TransferFrom(caller, from, to crypto.Address, assetID uint64) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine is the sale state machine. Every mutating call runs in one state
// transaction and raises its events only when that transaction's work
// succeeds.
type Engine struct {
	state    engineState
	bank     Bank
	registry AssetRegistry
	emitter  events.Emitter
	pauses   common.PauseView
	logger   *slog.Logger
	nowFn    func() int64

	roles        Roles
	custody      crypto.Address
	bootstrapped bool
}

// NewEngine creates an escrow engine with a no-op emitter and a discarding
// logger. Bootstrap must be called before use.
func NewEngine(state engineState, bank Bank, registry AssetRegistry) *Engine {
	return &Engine{
		state:    state,
		bank:     bank,
		registry: registry,
		emitter:  events.NoopEmitter{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the engine. Events are
// raised inside the state transaction once the operation has succeeded; pass
// an events.Buffer registered as a state observer to deliver them on commit.
// Passing nil resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger configures structured logging for settlements.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	e.logger = logger.With("module", ModuleName)
}

// SetPauses installs the operator pause switch consulted by mutating calls.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(e.nowFn())
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.bank == nil:
		return errNilBank
	case e.registry == nil:
		return errNilRegistry
	case !e.bootstrapped:
		return errNoRoles
	}
	return nil
}

// mutate runs fn inside a state transaction and emits the collected events
// once it commits.
func (e *Engine) mutate(op string, fn func(emit func(*types.Event)) error) error {
	start := time.Now()
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		observability.Escrow().RecordOperation(op, ErrorKind(err), time.Since(start))
		return err
	}
	err := e.state.Atomic(func() error { return e.within(fn) })
	observability.Escrow().RecordOperation(op, ErrorKind(err), time.Since(start))
	if err != nil {
		e.logger.Debug("escrow operation rejected", "op", op, "error", err)
		return err
	}
	return nil
}

// within runs fn in the caller's transaction and hands its events to the
// emitter only when fn succeeds.
func (e *Engine) within(fn func(emit func(*types.Event)) error) error {
	var pending []*types.Event
	emit := func(evt *types.Event) {
		if evt != nil {
			pending = append(pending, evt)
		}
	}
	if err := fn(emit); err != nil {
		return err
	}
	for _, evt := range pending {
		e.emitter.Emit(escrowEvent{evt: evt})
	}
	return nil
}

// List opens a sale of assetID to buyer and takes the asset into custody.
// Only the seller may list, and only an asset it owns that custody is
// authorised to move.
func (e *Engine) List(caller crypto.Address, assetID uint64, buyer crypto.Address, price, requiredEarnest *big.Int) error {
	return e.mutate("list", func(emit func(*types.Event)) error {
		if err := e.requireRole(caller, e.roles.Seller); err != nil {
			return err
		}
		return e.list(emit, assetID, buyer, price, requiredEarnest)
	})
}

// ListWithin opens a listing on behalf of the seller inside a transaction
// the caller already holds. Genesis uses it so its listings commit together
// with the balances and assets they depend on.
func (e *Engine) ListWithin(assetID uint64, buyer crypto.Address, price, requiredEarnest *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.within(func(emit func(*types.Event)) error {
		return e.list(emit, assetID, buyer, price, requiredEarnest)
	})
}

func (e *Engine) list(emit func(*types.Event), assetID uint64, buyer crypto.Address, price, requiredEarnest *big.Int) error {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return err
	}
	if listing.Active() {
		return ErrInvalidState
	}
	if buyer.IsZero() || e.roles.Has(buyer) || buyer == e.custody {
		return fmt.Errorf("%w: buyer must be a distinct non-zero identity", ErrInvalidTerms)
	}
	if price == nil || price.Sign() < 0 || requiredEarnest == nil || requiredEarnest.Sign() < 0 {
		return fmt.Errorf("%w: amounts must be non-negative", ErrInvalidTerms)
	}
	if requiredEarnest.Cmp(price) > 0 {
		return fmt.Errorf("%w: earnest exceeds purchase price", ErrInvalidTerms)
	}
	owner, err := e.registry.OwnerOf(assetID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotApproved, err)
	}
	if owner != e.roles.Seller {
		return fmt.Errorf("%w: seller does not own asset", ErrNotApproved)
	}
	approved, err := e.registry.IsApprovedOrOwner(e.custody, assetID)
	if err != nil {
		return err
	}
	if !approved {
		return ErrNotApproved
	}

	listing = &Listing{
		AssetID:         assetID,
		Buyer:           buyer,
		PurchasePrice:   cloneBigInt(price),
		RequiredEarnest: cloneBigInt(requiredEarnest),
		State:           ListingActive,
		Round:           listing.Round + 1,
		ListedAt:        e.now(),
	}
	if err := e.storeListing(listing); err != nil {
		return err
	}
	if err := e.resetRound(assetID); err != nil {
		return err
	}
	if err := e.registry.TransferFrom(e.custody, e.roles.Seller, e.custody, assetID); err != nil {
		return fmt.Errorf("escrow: take custody: %w", err)
	}
	emit(NewListedEvent(listing))
	return nil
}

// DepositEarnest moves amount from the buyer into custody for assetID.
func (e *Engine) DepositEarnest(caller crypto.Address, assetID uint64, amount *big.Int) error {
	return e.mutate("deposit_earnest", func(emit func(*types.Event)) error {
		listing, err := e.activeListing(assetID)
		if err != nil {
			return err
		}
		if err := e.requireRole(caller, listing.Buyer); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		funds, err := e.loadFunds(assetID)
		if err != nil {
			return err
		}
		next, ok := addWithCap(funds.Earnest, amount, listing.RequiredEarnest)
		if !ok {
			return ErrEarnestExceeded
		}
		funds.Earnest = next
		if err := e.storeFunds(assetID, funds); err != nil {
			return err
		}
		if err := e.bank.Transfer(caller, e.custody, amount); err != nil {
			return fmt.Errorf("escrow: debit buyer: %w", err)
		}
		emit(NewFundsEvent(EventTypeEarnestDeposited, listing, caller, amount, funds))
		return nil
	})
}

// Lend moves amount from the lender into custody for assetID.
func (e *Engine) Lend(caller crypto.Address, assetID uint64, amount *big.Int) error {
	return e.mutate("lend", func(emit func(*types.Event)) error {
		listing, err := e.activeListing(assetID)
		if err != nil {
			return err
		}
		if err := e.requireRole(caller, e.roles.Lender); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		funds, err := e.loadFunds(assetID)
		if err != nil {
			return err
		}
		next, ok := addWithCap(funds.Loan, amount, listing.PurchasePrice)
		if !ok {
			return ErrLoanExceeded
		}
		funds.Loan = next
		if err := e.storeFunds(assetID, funds); err != nil {
			return err
		}
		if err := e.bank.Transfer(caller, e.custody, amount); err != nil {
			return fmt.Errorf("escrow: debit lender: %w", err)
		}
		emit(NewFundsEvent(EventTypeLoanContributed, listing, caller, amount, funds))
		return nil
	})
}

// UpdateInspectionStatus records the inspector's verdict. Later calls
// overwrite earlier ones.
func (e *Engine) UpdateInspectionStatus(caller crypto.Address, assetID uint64, passed bool) error {
	return e.mutate("update_inspection", func(emit func(*types.Event)) error {
		listing, err := e.activeListing(assetID)
		if err != nil {
			return err
		}
		if err := e.requireRole(caller, e.roles.Inspector); err != nil {
			return err
		}
		if err := e.storeInspection(assetID, passed); err != nil {
			return err
		}
		emit(NewInspectionEvent(listing, passed))
		return nil
	})
}

// ApproveSale records the caller's sign-off. Approving twice is a no-op.
func (e *Engine) ApproveSale(caller crypto.Address, assetID uint64) error {
	return e.mutate("approve_sale", func(emit func(*types.Event)) error {
		listing, err := e.activeListing(assetID)
		if err != nil {
			return err
		}
		approvals, err := e.loadApprovals(assetID)
		if err != nil {
			return err
		}
		switch {
		case caller.IsZero():
			return ErrUnauthorized
		case caller == listing.Buyer:
			approvals.Buyer = true
		case caller == e.roles.Seller:
			approvals.Seller = true
		case caller == e.roles.Lender:
			approvals.Lender = true
		default:
			return ErrUnauthorized
		}
		if err := e.storeApprovals(assetID, approvals); err != nil {
			return err
		}
		emit(NewApprovalEvent(listing, caller, approvals))
		return nil
	})
}

// FinalizeSale completes the sale once inspection passed, every party approved
// and the listing's own funds cover the price. Listing state is cleared before
// any value leaves custody. It returns the receipt of the round it closed.
func (e *Engine) FinalizeSale(caller crypto.Address, assetID uint64) (*Settlement, error) {
	var receipt *Settlement
	err := e.mutate("finalize_sale", func(emit func(*types.Event)) error {
		listing, err := e.activeListing(assetID)
		if err != nil {
			return err
		}
		if err := e.requireAny(caller, listing.Buyer, e.roles.Seller, e.roles.Lender); err != nil {
			return err
		}
		inspected, err := e.loadInspection(assetID)
		if err != nil {
			return err
		}
		if !inspected {
			return ErrInspectionNotPassed
		}
		approvals, err := e.loadApprovals(assetID)
		if err != nil {
			return err
		}
		if !approvals.Complete() {
			return ErrApprovalsIncomplete
		}
		funds, err := e.loadFunds(assetID)
		if err != nil {
			return err
		}
		if funds.Total().Cmp(cloneBigInt(listing.PurchasePrice)) < 0 {
			return ErrInsufficientFunds
		}

		receipt = e.newSettlement(OutcomeFinalized, caller, listing, funds, inspected)
		receipt.Payouts = finalizePlan(e.roles, listing, funds)
		receipt.AssetRecipient = listing.Buyer
		if err := e.closeRound(listing, ListingFinalized); err != nil {
			return err
		}
		if err := e.executePayouts(receipt.Payouts); err != nil {
			return err
		}
		if err := e.registry.TransferFrom(e.custody, e.custody, listing.Buyer, assetID); err != nil {
			return fmt.Errorf("escrow: deliver asset: %w", err)
		}
		if err := e.storeSettlement(receipt); err != nil {
			return err
		}
		emit(NewSettlementEvent(EventTypeSaleFinalized, receipt))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.recordSettlement(receipt)
	return receipt.Clone(), nil
}

// CancelSale aborts the sale. The earnest goes back to the buyer unless
// inspection passed, in which case the seller keeps it. Loans are always
// refunded and the asset returns to the seller. It returns the receipt of the
// round it closed.
func (e *Engine) CancelSale(caller crypto.Address, assetID uint64) (*Settlement, error) {
	var receipt *Settlement
	err := e.mutate("cancel_sale", func(emit func(*types.Event)) error {
		listing, err := e.activeListing(assetID)
		if err != nil {
			return err
		}
		if err := e.requireAny(caller, listing.Buyer, e.roles.Seller); err != nil {
			return err
		}
		inspected, err := e.loadInspection(assetID)
		if err != nil {
			return err
		}
		funds, err := e.loadFunds(assetID)
		if err != nil {
			return err
		}

		receipt = e.newSettlement(OutcomeCancelled, caller, listing, funds, inspected)
		receipt.Payouts = cancelPlan(e.roles, listing, funds, inspected)
		receipt.AssetRecipient = e.roles.Seller
		if err := e.closeRound(listing, ListingCancelled); err != nil {
			return err
		}
		if err := e.executePayouts(receipt.Payouts); err != nil {
			return err
		}
		if err := e.registry.TransferFrom(e.custody, e.custody, e.roles.Seller, assetID); err != nil {
			return fmt.Errorf("escrow: return asset: %w", err)
		}
		if err := e.storeSettlement(receipt); err != nil {
			return err
		}
		emit(NewSettlementEvent(EventTypeSaleCancelled, receipt))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.recordSettlement(receipt)
	return receipt.Clone(), nil
}

func (e *Engine) newSettlement(outcome SettlementOutcome, caller crypto.Address, listing *Listing, funds Funds, inspected bool) *Settlement {
	return &Settlement{
		AssetID:          listing.AssetID,
		Round:            listing.Round,
		Outcome:          outcome,
		Caller:           caller,
		Buyer:            listing.Buyer,
		PurchasePrice:    cloneBigInt(listing.PurchasePrice),
		Earnest:          cloneBigInt(funds.Earnest),
		Loan:             cloneBigInt(funds.Loan),
		InspectionPassed: inspected,
		SettledAt:        e.now(),
	}
}

// resetRound zeroes the per-listing trackers.
func (e *Engine) resetRound(assetID uint64) error {
	if err := e.storeApprovals(assetID, Approvals{}); err != nil {
		return err
	}
	if err := e.storeInspection(assetID, false); err != nil {
		return err
	}
	return e.storeFunds(assetID, Funds{})
}

// closeRound moves the listing into a terminal state and clears its terms and
// trackers.
func (e *Engine) closeRound(listing *Listing, final ListingState) error {
	closed := &Listing{
		AssetID:         listing.AssetID,
		PurchasePrice:   big.NewInt(0),
		RequiredEarnest: big.NewInt(0),
		State:           final,
		Round:           listing.Round,
		ListedAt:        listing.ListedAt,
	}
	if err := e.storeListing(closed); err != nil {
		return err
	}
	return e.resetRound(listing.AssetID)
}

func (e *Engine) recordSettlement(receipt *Settlement) {
	if receipt == nil {
		return
	}
	observability.Escrow().RecordSettlement(string(receipt.Outcome))
	e.logger.Info("escrow settled",
		"asset_id", receipt.AssetID,
		"round", receipt.Round,
		"outcome", receipt.Outcome,
		"payouts", len(receipt.Payouts),
		"hash", receipt.HashHex())
	if balance, err := e.Balance(); err == nil {
		observability.Escrow().SetCustodyBalance(balance)
	}
}
