package escrow

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"deedescrow/crypto"
)

// SettlementOutcome records how a listing round ended.
type SettlementOutcome string

const (
	OutcomeFinalized SettlementOutcome = "finalized"
	OutcomeCancelled SettlementOutcome = "cancelled"
)

// Payout reasons attached to settlement receipts.
const (
	ReasonPurchasePrice  = "purchase_price"
	ReasonSurplusLender  = "surplus_lender"
	ReasonSurplusBuyer   = "surplus_buyer"
	ReasonEarnestRefund  = "earnest_refund"
	ReasonEarnestForfeit = "earnest_forfeit"
	ReasonLoanRefund     = "loan_refund"
)

var settlementPrefix = []byte("escrow/settlement/")

// Payout is one transfer out of custody.
type Payout struct {
	Recipient crypto.Address
	Amount    *big.Int
	Reason    string
}

// Settlement is the receipt of a terminal operation. It captures the terms in
// force when the round closed, since the listing itself is cleared.
type Settlement struct {
	AssetID          uint64
	Round            uint64
	Outcome          SettlementOutcome
	Caller           crypto.Address
	Buyer            crypto.Address
	PurchasePrice    *big.Int
	Earnest          *big.Int
	Loan             *big.Int
	InspectionPassed bool
	Payouts          []Payout
	AssetRecipient   crypto.Address
	SettledAt        uint64
	Hash             [32]byte
}

// Clone returns a deep copy of the settlement.
func (s *Settlement) Clone() *Settlement {
	if s == nil {
		return nil
	}
	clone := *s
	clone.PurchasePrice = cloneBigInt(s.PurchasePrice)
	clone.Earnest = cloneBigInt(s.Earnest)
	clone.Loan = cloneBigInt(s.Loan)
	clone.Payouts = make([]Payout, len(s.Payouts))
	for i, p := range s.Payouts {
		clone.Payouts[i] = Payout{Recipient: p.Recipient, Amount: cloneBigInt(p.Amount), Reason: p.Reason}
	}
	return &clone
}

// HashHex renders the receipt digest.
func (s *Settlement) HashHex() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s.Hash[:])
}

// ComputeHash digests every field except Hash itself.
func (s *Settlement) ComputeHash() ([32]byte, error) {
	body := s.Clone()
	body.Hash = [32]byte{}
	encoded, err := rlp.EncodeToBytes(body)
	if err != nil {
		return [32]byte{}, fmt.Errorf("escrow: encode settlement: %w", err)
	}
	return blake3.Sum256(encoded), nil
}

func settlementKey(assetID, round uint64) []byte {
	key := append([]byte(nil), settlementPrefix...)
	key = append(key, []byte(strconv.FormatUint(assetID, 10))...)
	key = append(key, '/')
	return append(key, []byte(strconv.FormatUint(round, 10))...)
}

func (e *Engine) storeSettlement(s *Settlement) error {
	hash, err := s.ComputeHash()
	if err != nil {
		return err
	}
	s.Hash = hash
	return e.state.KVPut(settlementKey(s.AssetID, s.Round), s)
}

// finalizePlan pays the price to the seller and returns any surplus, lender
// first up to its contribution, then buyer.
func finalizePlan(roles Roles, listing *Listing, funds Funds) []Payout {
	price := cloneBigInt(listing.PurchasePrice)
	plan := []Payout{{Recipient: roles.Seller, Amount: price, Reason: ReasonPurchasePrice}}
	surplus := new(big.Int).Sub(funds.Total(), price)
	if surplus.Sign() <= 0 {
		return plan
	}
	lenderShare := cloneBigInt(funds.Loan)
	if lenderShare.Cmp(surplus) > 0 {
		lenderShare = new(big.Int).Set(surplus)
	}
	if lenderShare.Sign() > 0 {
		plan = append(plan, Payout{Recipient: roles.Lender, Amount: lenderShare, Reason: ReasonSurplusLender})
	}
	buyerShare := new(big.Int).Sub(surplus, lenderShare)
	if buyerShare.Sign() > 0 {
		plan = append(plan, Payout{Recipient: listing.Buyer, Amount: buyerShare, Reason: ReasonSurplusBuyer})
	}
	return plan
}

// cancelPlan refunds or forfeits the earnest depending on inspection and
// always refunds the loan.
func cancelPlan(roles Roles, listing *Listing, funds Funds, inspected bool) []Payout {
	var plan []Payout
	if earnest := cloneBigInt(funds.Earnest); earnest.Sign() > 0 {
		if inspected {
			plan = append(plan, Payout{Recipient: roles.Seller, Amount: earnest, Reason: ReasonEarnestForfeit})
		} else {
			plan = append(plan, Payout{Recipient: listing.Buyer, Amount: earnest, Reason: ReasonEarnestRefund})
		}
	}
	if loan := cloneBigInt(funds.Loan); loan.Sign() > 0 {
		plan = append(plan, Payout{Recipient: roles.Lender, Amount: loan, Reason: ReasonLoanRefund})
	}
	return plan
}

func (e *Engine) executePayouts(plan []Payout) error {
	for _, p := range plan {
		if p.Amount == nil || p.Amount.Sign() == 0 {
			continue
		}
		if err := e.bank.Transfer(e.custody, p.Recipient, p.Amount); err != nil {
			return fmt.Errorf("escrow: payout %s to %s: %w", p.Reason, p.Recipient, err)
		}
	}
	return nil
}
