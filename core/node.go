package core

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"deedescrow/core/events"
	"deedescrow/core/genesis"
	corestate "deedescrow/core/state"
	"deedescrow/crypto"
	"deedescrow/native/bank"
	"deedescrow/native/common"
	"deedescrow/native/escrow"
	"deedescrow/native/registry"
	"deedescrow/observability"
	"deedescrow/storage"
)

var errNodeClosed = errors.New("node: not initialised")

// Node is the central controller, wiring all components together.
type Node struct {
	db       storage.Database
	state    *corestate.Manager
	bank     *bank.Ledger
	registry *registry.Registry
	escrow   *escrow.Engine
	pauses   *common.Pauses
	stream   *events.Stream
	logger   *slog.Logger
}

type nodeOptions struct {
	logger *slog.Logger
	sinks  []events.Emitter
	paused []string
	nowFn  func() int64
}

// Option customises NewNode.
type Option func(*nodeOptions)

// WithLogger sets the structured logger shared by the node's modules.
func WithLogger(logger *slog.Logger) Option {
	return func(o *nodeOptions) { o.logger = logger }
}

// WithEventSinks adds emitters that receive every committed event, such as
// the audit store.
func WithEventSinks(sinks ...events.Emitter) Option {
	return func(o *nodeOptions) { o.sinks = append(o.sinks, sinks...) }
}

// WithPausedModules starts the node with the named modules paused.
func WithPausedModules(modules ...string) Option {
	return func(o *nodeOptions) { o.paused = append(o.paused, modules...) }
}

// WithNowFunc overrides the clock of every module.
func WithNowFunc(now func() int64) Option {
	return func(o *nodeOptions) { o.nowFn = now }
}

// NewNode opens the escrow modules over db and verifies the fixed roles.
func NewNode(db storage.Database, roles escrow.Roles, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	cfg := nodeOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	manager := corestate.NewManager(db)
	if err := manager.EnsureSchemaVersion(); err != nil {
		return nil, err
	}
	ledger := bank.NewLedger(manager)
	assets := registry.New(manager)
	engine := escrow.NewEngine(manager, ledger, assets)
	stream := events.NewStream()
	pauses := common.NewPauses(cfg.paused...)

	sink := events.Multi{stream, observability.Events()}
	sink = append(sink, cfg.sinks...)

	// Registry and escrow events are raised inside state transactions. One
	// buffer flushes them under the state lock, so sinks see commit order.
	committed := events.NewBuffer(sink)
	manager.AddObserver(committed)
	assets.SetEmitter(committed)

	engine.SetEmitter(committed)
	engine.SetLogger(cfg.logger)
	engine.SetPauses(pauses)
	if cfg.nowFn != nil {
		engine.SetNowFunc(cfg.nowFn)
		assets.SetNowFunc(cfg.nowFn)
	}
	if err := engine.Bootstrap(roles); err != nil {
		return nil, err
	}
	custody, _ := engine.Custody()
	cfg.logger.Info("escrow node ready",
		"seller", roles.Seller.String(),
		"inspector", roles.Inspector.String(),
		"lender", roles.Lender.String(),
		"custody", custody.String())

	return &Node{
		db:       db,
		state:    manager,
		bank:     ledger,
		registry: assets,
		escrow:   engine,
		pauses:   pauses,
		stream:   stream,
		logger:   cfg.logger,
	}, nil
}

// Escrow exposes the sale state machine.
func (n *Node) Escrow() *escrow.Engine { return n.escrow }

// Events exposes the committed event stream.
func (n *Node) Events() *events.Stream { return n.stream }

// Pauses exposes the operator pause switch.
func (n *Node) Pauses() *common.Pauses { return n.pauses }

// ApplyGenesis seeds a fresh data directory. Re-applying the same genesis is a
// no-op.
func (n *Node) ApplyGenesis(spec *genesis.GenesisSpec) (bool, error) {
	if n == nil {
		return false, errNodeClosed
	}
	applied, err := genesis.Apply(spec, genesis.Target{
		State:    n.state,
		Bank:     n.bank,
		Registry: n.registry,
		Escrow:   n.escrow,
	})
	if err != nil {
		return applied, err
	}
	if applied {
		n.logger.Info("genesis applied", "assets", len(spec.Assets), "listings", len(spec.Listings))
	}
	return applied, nil
}

// MintAsset creates a deed owned by owner.
func (n *Node) MintAsset(owner crypto.Address, uri string) (*registry.Asset, error) {
	var asset *registry.Asset
	err := n.state.Atomic(func() error {
		var err error
		asset, err = n.registry.Mint(owner, uri)
		return err
	})
	return asset, err
}

// ApproveAsset lets spender move a single deed owned by caller.
func (n *Node) ApproveAsset(caller, spender crypto.Address, assetID uint64) error {
	return n.state.Atomic(func() error {
		return n.registry.Approve(caller, spender, assetID)
	})
}

// SetOperator grants or revokes operator rights over all of caller's deeds.
func (n *Node) SetOperator(caller, operator crypto.Address, approved bool) error {
	return n.state.Atomic(func() error {
		return n.registry.SetApprovalForAll(caller, operator, approved)
	})
}

// TransferAsset moves a deed outside of escrow.
func (n *Node) TransferAsset(caller, from, to crypto.Address, assetID uint64) error {
	return n.state.Atomic(func() error {
		return n.registry.TransferFrom(caller, from, to, assetID)
	})
}

// Asset returns a deed by identifier.
func (n *Node) Asset(assetID uint64) (*registry.Asset, error) {
	var asset *registry.Asset
	err := n.state.View(func() error {
		var err error
		asset, err = n.registry.Get(assetID)
		return err
	})
	return asset, err
}

// AssetsOf lists the deeds currently owned by owner.
func (n *Node) AssetsOf(owner crypto.Address) ([]*registry.Asset, error) {
	var assets []*registry.Asset
	err := n.state.View(func() error {
		var err error
		assets, err = n.registry.AssetsOf(owner)
		return err
	})
	return assets, err
}

// Balance returns the settlement-currency balance of addr.
func (n *Node) Balance(addr crypto.Address) (*big.Int, error) {
	var balance *big.Int
	err := n.state.View(func() error {
		var err error
		balance, err = n.bank.Balance(addr)
		return err
	})
	return balance, err
}

// Transfer moves settlement currency between participants.
func (n *Node) Transfer(caller, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return bank.ErrInvalidAmount
	}
	return n.state.Atomic(func() error {
		return n.bank.Transfer(caller, to, amount)
	})
}

// Close releases the database.
func (n *Node) Close() {
	if n == nil || n.db == nil {
		return
	}
	n.db.Close()
}
