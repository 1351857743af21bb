package registry

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"deedescrow/core/events"
	"deedescrow/core/types"
	"deedescrow/crypto"
)

var (
	// ErrAssetNotFound is returned for identifiers that were never minted.
	ErrAssetNotFound = errors.New("registry: asset not found")
	// ErrNotAuthorized is returned when the caller may not move or approve the
	// asset.
	ErrNotAuthorized = errors.New("registry: caller not authorized")
	// ErrWrongOwner is returned when a transfer names a source that does not
	// own the asset.
	ErrWrongOwner = errors.New("registry: source does not own asset")
	// ErrInvalidRecipient is returned for transfers or mints to the zero
	// address.
	ErrInvalidRecipient = errors.New("registry: invalid recipient")
	errNilState         = errors.New("registry: state not configured")
)

const (
	// EventTypeMinted is emitted when a new asset is created.
	EventTypeMinted = "registry.minted"
	// EventTypeApproval is emitted when an asset approval changes.
	EventTypeApproval = "registry.approval"
	// EventTypeTransfer is emitted when an asset changes owner.
	EventTypeTransfer = "registry.transfer"
	// EventTypeOperator is emitted when an operator grant changes.
	EventTypeOperator = "registry.operator"
)

var (
	assetPrefix    = []byte("registry/asset/")
	operatorPrefix = []byte("registry/operator/")
	ownerIdxPrefix = []byte("registry/owner/")
	nextIDKey      = []byte("registry/next-id")
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	LoadBigInt(key []byte) (*big.Int, error)
	WriteBigInt(key []byte, value *big.Int) error
}

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

// Registry tracks ownership and transfer approvals of property deeds.
type Registry struct {
	state   registryState
	emitter events.Emitter
	nowFn   func() int64
}

// New creates a registry with a no-op emitter.
func New(state registryState) *Registry {
	return &Registry{
		state:   state,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Registry) emit(evtType string, attrs map[string]string) {
	if r == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(registryEvent{evt: &types.Event{Type: evtType, Attributes: attrs}})
}

func assetKey(id uint64) []byte {
	return append(append([]byte(nil), assetPrefix...), []byte(strconv.FormatUint(id, 10))...)
}

func operatorKey(owner, operator crypto.Address) []byte {
	buf := append([]byte(nil), operatorPrefix...)
	buf = append(buf, owner[:]...)
	return append(buf, operator[:]...)
}

func ownerIndexKey(owner crypto.Address) []byte {
	return append(append([]byte(nil), ownerIdxPrefix...), owner[:]...)
}

func (r *Registry) load(id uint64) (*Asset, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var asset Asset
	ok, err := r.state.KVGet(assetKey(id), &asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAssetNotFound, id)
	}
	return &asset, nil
}

func (r *Registry) store(asset *Asset) error {
	return r.state.KVPut(assetKey(asset.ID), asset)
}

// Mint creates a new asset owned by owner. Identifiers start at 1 and are
// never reused.
func (r *Registry) Mint(owner crypto.Address, uri string) (*Asset, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if owner.IsZero() {
		return nil, ErrInvalidRecipient
	}
	last, err := r.state.LoadBigInt(nextIDKey)
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Add(last, big.NewInt(1))
	if !next.IsUint64() {
		return nil, fmt.Errorf("registry: identifier space exhausted")
	}
	asset := &Asset{
		ID:       next.Uint64(),
		Owner:    owner,
		URI:      strings.TrimSpace(uri),
		MintedAt: uint64(r.nowFn()),
	}
	if err := r.state.WriteBigInt(nextIDKey, next); err != nil {
		return nil, err
	}
	if err := r.store(asset); err != nil {
		return nil, err
	}
	if err := r.state.KVAppend(ownerIndexKey(owner), assetKey(asset.ID)); err != nil {
		return nil, err
	}
	r.emit(EventTypeMinted, map[string]string{
		"assetId": strconv.FormatUint(asset.ID, 10),
		"owner":   owner.String(),
		"uri":     asset.URI,
	})
	return asset.Clone(), nil
}

// Get returns the stored asset.
func (r *Registry) Get(id uint64) (*Asset, error) {
	asset, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return asset.Clone(), nil
}

// OwnerOf returns the current owner of the asset.
func (r *Registry) OwnerOf(id uint64) (crypto.Address, error) {
	asset, err := r.load(id)
	if err != nil {
		return crypto.ZeroAddress, err
	}
	return asset.Owner, nil
}

// IsApprovedForAll reports whether operator may move every asset of owner.
func (r *Registry) IsApprovedForAll(owner, operator crypto.Address) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	var stored storedOperator
	ok, err := r.state.KVGet(operatorKey(owner, operator), &stored)
	if err != nil || !ok {
		return false, err
	}
	return stored.Approved, nil
}

// IsApprovedOrOwner reports whether spender may transfer the asset.
func (r *Registry) IsApprovedOrOwner(spender crypto.Address, id uint64) (bool, error) {
	asset, err := r.load(id)
	if err != nil {
		return false, err
	}
	return r.canMove(asset, spender)
}

func (r *Registry) canMove(asset *Asset, spender crypto.Address) (bool, error) {
	if spender.IsZero() {
		return false, nil
	}
	if asset.Owner == spender || asset.Approved == spender {
		return true, nil
	}
	return r.IsApprovedForAll(asset.Owner, spender)
}

// Approve authorises spender to move a single asset. The caller must own the
// asset or be one of the owner's operators. Approving the zero address clears
// the approval.
func (r *Registry) Approve(caller, spender crypto.Address, id uint64) error {
	asset, err := r.load(id)
	if err != nil {
		return err
	}
	if caller != asset.Owner {
		operator, err := r.IsApprovedForAll(asset.Owner, caller)
		if err != nil {
			return err
		}
		if !operator {
			return ErrNotAuthorized
		}
	}
	asset.Approved = spender
	if err := r.store(asset); err != nil {
		return err
	}
	r.emit(EventTypeApproval, map[string]string{
		"assetId":  strconv.FormatUint(id, 10),
		"owner":    asset.Owner.String(),
		"approved": spender.String(),
	})
	return nil
}

// SetApprovalForAll grants or revokes operator rights over every asset of
// owner.
func (r *Registry) SetApprovalForAll(owner, operator crypto.Address, approved bool) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if owner == operator || operator.IsZero() {
		return ErrInvalidRecipient
	}
	if err := r.state.KVPut(operatorKey(owner, operator), storedOperator{Approved: approved}); err != nil {
		return err
	}
	r.emit(EventTypeOperator, map[string]string{
		"owner":    owner.String(),
		"operator": operator.String(),
		"approved": strconv.FormatBool(approved),
	})
	return nil
}

// TransferFrom moves the asset from one owner to another. The caller must own
// the asset, hold its single-asset approval, or be an operator of the owner.
// Any single-asset approval is cleared by the move.
func (r *Registry) TransferFrom(caller, from, to crypto.Address, id uint64) error {
	asset, err := r.load(id)
	if err != nil {
		return err
	}
	if asset.Owner != from {
		return ErrWrongOwner
	}
	if to.IsZero() {
		return ErrInvalidRecipient
	}
	allowed, err := r.canMove(asset, caller)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotAuthorized
	}
	asset.Owner = to
	asset.Approved = crypto.ZeroAddress
	if err := r.store(asset); err != nil {
		return err
	}
	if err := r.state.KVAppend(ownerIndexKey(to), assetKey(id)); err != nil {
		return err
	}
	r.emit(EventTypeTransfer, map[string]string{
		"assetId": strconv.FormatUint(id, 10),
		"from":    from.String(),
		"to":      to.String(),
	})
	return nil
}

// AssetsOf lists the assets currently owned by owner in the order they were
// received.
func (r *Registry) AssetsOf(owner crypto.Address) ([]*Asset, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var keys [][]byte
	if err := r.state.KVGetList(ownerIndexKey(owner), &keys); err != nil {
		return nil, err
	}
	out := make([]*Asset, 0, len(keys))
	for _, key := range keys {
		var asset Asset
		ok, err := r.state.KVGet(key, &asset)
		if err != nil {
			return nil, err
		}
		if !ok || asset.Owner != owner {
			continue
		}
		out = append(out, asset.Clone())
	}
	return out, nil
}
