// Package core is the serialized facade over the ledger modules. Every
// mutation runs under one lock inside a state transaction; its writes land
// in a single batch and its events are released only after the commit.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ledgererrors "reserveledger/core/errors"
	"reserveledger/core/events"
	"reserveledger/core/state"
	"reserveledger/core/types"
	"reserveledger/native/assets"
	"reserveledger/native/bank"
	nativecommon "reserveledger/native/common"
	"reserveledger/native/issuance"
	"reserveledger/native/pool"
	"reserveledger/native/stability"
	"reserveledger/native/staking"
	"reserveledger/native/vault"
	"reserveledger/observability"
	"reserveledger/storage"
)

// Accounts are the addresses the protocol modules hold tokens under.
type Accounts struct {
	ActivePool    common.Address
	DefaultPool   common.Address
	StabilityPool common.Address
	Staking       common.Address
	Vault         common.Address
	Issuance      common.Address
}

// Tokens are the protocol's own token addresses.
type Tokens struct {
	// Stable is the debt token burned on liquidation offsets.
	Stable common.Address
	// Governance is staked for fee sharing and paid out as issuance.
	Governance common.Address
}

// ModuleAddress derives a deterministic account for a named module.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("reserveledger/" + name))[12:])
}

// DefaultAccounts returns the module accounts derived from their names.
func DefaultAccounts() Accounts {
	return Accounts{
		ActivePool:    ModuleAddress("active-pool"),
		DefaultPool:   ModuleAddress("default-pool"),
		StabilityPool: ModuleAddress("stability-pool"),
		Staking:       ModuleAddress("staking"),
		Vault:         ModuleAddress("vault"),
		Issuance:      ModuleAddress("issuance"),
	}
}

// DefaultTokens returns the token addresses derived from their names.
func DefaultTokens() Tokens {
	return Tokens{
		Stable:     ModuleAddress("token/stable"),
		Governance: ModuleAddress("token/governance"),
	}
}

// ReceiptSink persists committed receipts.
type ReceiptSink interface {
	Record(ctx context.Context, receipt types.Receipt) error
}

// Options configures an Engine. Zero fields fall back to defaults.
type Options struct {
	Accounts       Accounts
	Tokens         Tokens
	IssuancePeriod time.Duration
	Clock          clockwork.Clock
	Logger         *slog.Logger
	// Emitter receives every committed event after the metrics recorder.
	Emitter  events.Emitter
	Receipts ReceiptSink
	Pauses   *nativecommon.Pauses
}

// Engine serializes ledger operations over a key-value store.
type Engine struct {
	mu sync.Mutex

	state    *state.Manager
	accounts Accounts
	tokens   Tokens
	period   time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *observability.LedgerMetrics
	emitter  *events.Fanout
	receipts ReceiptSink
	pauses   *nativecommon.Pauses
}

// NewEngine binds an engine to db.
func NewEngine(db storage.Database, opts Options) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if opts.Accounts == (Accounts{}) {
		opts.Accounts = DefaultAccounts()
	}
	if opts.Tokens == (Tokens{}) {
		opts.Tokens = DefaultTokens()
	}
	if opts.IssuancePeriod <= 0 {
		opts.IssuancePeriod = issuance.DefaultPeriod
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Pauses == nil {
		opts.Pauses = nativecommon.NewPauses()
	}
	metrics := observability.Ledger()
	fanout := &events.Fanout{}
	fanout.Add(metrics.Emitter())
	fanout.Add(opts.Emitter)
	return &Engine{
		state:    state.NewManager(db),
		accounts: opts.Accounts,
		tokens:   opts.Tokens,
		period:   opts.IssuancePeriod,
		clock:    opts.Clock,
		logger:   opts.Logger.With("component", "ledger"),
		tracer:   otel.Tracer("ledger/core"),
		metrics:  metrics,
		emitter:  fanout,
		receipts: opts.Receipts,
		pauses:   opts.Pauses,
	}, nil
}

// Accounts returns the module accounts.
func (e *Engine) Accounts() Accounts { return e.accounts }

// Tokens returns the protocol token addresses.
func (e *Engine) Tokens() Tokens { return e.tokens }

// Pauses exposes the module pause switches.
func (e *Engine) Pauses() *nativecommon.Pauses { return e.pauses }

// modules is the set of ledger modules bound to one transaction.
type modules struct {
	bank      *bank.Ledger
	registry  *assets.Registry
	vault     *vault.Vault
	active    *pool.Ledger
	def       *pool.Ledger
	stability *stability.Pool
	staking   *staking.Staking
	issuance  *issuance.Scheduler
	emitter   events.Emitter
}

func (e *Engine) bind(tx *state.Tx, emitter events.Emitter) *modules {
	ledger := bank.NewLedger(tx)
	registry := assets.NewRegistry(tx)
	v := vault.New(tx, ledger, e.accounts.Vault)

	active := pool.NewLedger(pool.RoleActive, e.accounts.ActivePool, tx, registry, ledger)
	def := pool.NewLedger(pool.RoleDefault, e.accounts.DefaultPool, tx, registry, ledger)
	sp := stability.New(e.accounts.StabilityPool, e.tokens.Stable, tx, ledger, registry)
	st := staking.New(e.accounts.Staking, e.tokens.Governance, e.tokens.Stable, tx, ledger, registry)
	sched := issuance.NewScheduler(tx, ledger, e.tokens.Governance, e.accounts.Issuance, e.period)
	sched.SetClock(e.clock.Now)

	active.SetVault(v)
	active.SetSinks(def, sp)
	active.SetYieldReceivers(sp, st)
	def.SetSinks(active)
	sp.SetActivePool(active)
	sp.SetIssuer(sched)

	for _, l := range []*pool.Ledger{active, def} {
		l.SetPauses(e.pauses)
		l.SetEmitter(emitter)
	}
	sp.SetPauses(e.pauses)
	sp.SetEmitter(emitter)
	st.SetPauses(e.pauses)
	st.SetEmitter(emitter)
	sched.SetEmitter(emitter)

	return &modules{
		bank:      ledger,
		registry:  registry,
		vault:     v,
		active:    active,
		def:       def,
		stability: sp,
		staking:   st,
		issuance:  sched,
		emitter:   emitter,
	}
}

func (m *modules) pool(role pool.Role) (*pool.Ledger, error) {
	switch role {
	case pool.RoleActive:
		return m.active, nil
	case pool.RoleDefault:
		return m.def, nil
	default:
		return nil, fmt.Errorf("%w: unknown pool role %q", ledgererrors.ErrBadRequest, role)
	}
}

type eventer interface {
	Event() *types.Event
}

// execute runs fn inside a fresh transaction. On success every write is
// committed in one batch and the buffered events are released; on failure
// nothing is written and the events are dropped.
func (e *Engine) execute(ctx context.Context, operation string, fn func(m *modules) error) (types.Receipt, error) {
	ctx, span := e.tracer.Start(ctx, operation, trace.WithAttributes(attribute.String("ledger.operation", operation)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	start := e.clock.Now()

	tx, err := e.state.Begin()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.Receipt{}, err
	}
	buffer := &events.Buffer{}
	if err := fn(e.bind(tx, buffer)); err != nil {
		tx.Discard()
		kind := ledgererrors.Classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.ObserveOperation(operation, kind.String(), e.clock.Since(start))
		level := slog.LevelWarn
		if kind == ledgererrors.KindInvariant {
			level = slog.LevelError
		}
		e.logger.Log(ctx, level, "ledger operation failed", "operation", operation, "kind", kind.String(), "error", err)
		return types.Receipt{}, err
	}
	dirty := tx.Dirty()
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.ObserveOperation(operation, "commit", e.clock.Since(start))
		e.logger.Error("ledger commit failed", "operation", operation, "error", err)
		return types.Receipt{}, fmt.Errorf("core: commit %s: %w", operation, err)
	}

	receipt := types.Receipt{
		ID:        uuid.NewString(),
		Operation: operation,
		Committed: e.clock.Now().UTC(),
	}
	for _, ev := range buffer.Events() {
		if typed, ok := ev.(eventer); ok {
			if rendered := typed.Event(); rendered != nil {
				receipt.Events = append(receipt.Events, *rendered)
			}
		}
	}
	buffer.Flush(e.emitter)
	if e.receipts != nil {
		if err := e.receipts.Record(ctx, receipt); err != nil {
			e.logger.Error("journal receipt failed", "operation", operation, "receipt", receipt.ID, "error", err)
		}
	}
	span.SetAttributes(attribute.String("ledger.receipt", receipt.ID), attribute.Int("ledger.events", len(receipt.Events)))
	e.metrics.ObserveOperation(operation, "ok", e.clock.Since(start))
	e.logger.Debug("ledger operation committed", "operation", operation, "receipt", receipt.ID, "keys", dirty, "events", len(receipt.Events))
	return receipt, nil
}

// view runs fn over a read-only overlay. Lazy settlement writes made by
// queries are discarded.
func (e *Engine) view(ctx context.Context, operation string, fn func(m *modules) error) error {
	_, span := e.tracer.Start(ctx, operation, trace.WithAttributes(attribute.String("ledger.query", operation)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	tx := e.state.View()
	defer tx.Discard()
	if err := fn(e.bind(tx, events.NoopEmitter{})); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
