package core

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	ledgererrors "reserveledger/core/errors"
	"reserveledger/core/events"
	"reserveledger/core/genesis"
	"reserveledger/core/types"
	"reserveledger/native/assets"
	nativecommon "reserveledger/native/common"
	"reserveledger/native/distributor"
	"reserveledger/native/pool"
	"reserveledger/storage"
)

var (
	collateral = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice      = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	borrower   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type recordedReceipts struct {
	mu       sync.Mutex
	receipts []types.Receipt
}

func (r *recordedReceipts) Record(_ context.Context, receipt types.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, receipt)
	return nil
}

type harness struct {
	engine   *Engine
	db       *storage.MemDB
	clock    *clockwork.FakeClock
	emitted  []events.Event
	receipts *recordedReceipts
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:       storage.NewMemDB(),
		clock:    clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
		receipts: &recordedReceipts{},
	}
	engine, err := NewEngine(h.db, Options{
		Clock:          h.clock,
		IssuancePeriod: 7 * 24 * time.Hour,
		Emitter:        events.EmitterFunc(func(e events.Event) { h.emitted = append(h.emitted, e) }),
		Receipts:       h.receipts,
	})
	require.NoError(t, err)
	h.engine = engine

	plan := &genesis.Plan{
		Assets: []genesis.Asset{{
			Asset: assets.Asset{
				Address:  collateral,
				Symbol:   "wcoll",
				Decimals: 18,
				MCR:      assets.MinAllowedMCR,
				CCR:      assets.MinAllowedCCR,
			},
		}},
		Alloc: []genesis.Allocation{
			{Holder: alice, Token: genesis.TokenStable, Amount: big.NewInt(1_000)},
			{Holder: bob, Token: genesis.TokenStable, Amount: big.NewInt(1_000)},
			{Holder: borrower, Token: collateral.Hex(), Amount: big.NewInt(1_000)},
		},
	}
	_, err = engine.ApplyGenesis(context.Background(), plan)
	require.NoError(t, err)
	return h
}

func (h *harness) openTrove(t *testing.T, coll, debt int64) {
	t.Helper()
	ctx := context.Background()
	accounts := h.engine.Accounts()
	_, err := h.engine.Approve(ctx, collateral, borrower, accounts.ActivePool, big.NewInt(coll))
	require.NoError(t, err)
	_, err = h.engine.PullCollateral(ctx, pool.RoleActive, collateral, borrower, big.NewInt(coll))
	require.NoError(t, err)
	_, err = h.engine.IncreaseDebt(ctx, pool.RoleActive, collateral, big.NewInt(debt))
	require.NoError(t, err)
}

func (h *harness) provide(t *testing.T, who common.Address, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := h.engine.Approve(ctx, h.engine.Tokens().Stable, who, h.engine.Accounts().StabilityPool, big.NewInt(amount))
	require.NoError(t, err)
	_, _, err = h.engine.ProvideToStabilityPool(ctx, who, big.NewInt(amount))
	require.NoError(t, err)
}

func TestApplyGenesisOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	list, err := h.engine.Assets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	bal, err := h.engine.Balance(ctx, h.engine.Tokens().Stable, alice)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), bal.Int64())

	_, err = h.engine.ApplyGenesis(ctx, &genesis.Plan{})
	require.ErrorIs(t, err, ledgererrors.ErrGenesisApplied)
	require.Equal(t, ledgererrors.KindUser, ledgererrors.Classify(err))
}

func TestFailedOperationLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.openTrove(t, 40, 200)

	before := h.db.Len()
	receipts := len(h.receipts.receipts)
	emitted := len(h.emitted)

	// The debt leg succeeds before the collateral leg fails.
	_, err := h.engine.Redistribute(ctx, collateral, big.NewInt(100), big.NewInt(500))
	require.ErrorIs(t, err, pool.ErrInsufficientCollateral)

	require.Equal(t, before, h.db.Len())
	require.Len(t, h.receipts.receipts, receipts)
	require.Len(t, h.emitted, emitted)
	view, err := h.engine.Pool(ctx, pool.RoleActive, collateral)
	require.NoError(t, err)
	require.Equal(t, int64(200), view.Account.Debt.Int64())
}

func TestRedistributeAndReturn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.openTrove(t, 40, 200)

	receipt, err := h.engine.Redistribute(ctx, collateral, big.NewInt(50), big.NewInt(10))
	require.NoError(t, err)
	require.NotEmpty(t, receipt.ID)
	require.Equal(t, "pool.redistribute", receipt.Operation)

	active, err := h.engine.Pool(ctx, pool.RoleActive, collateral)
	require.NoError(t, err)
	def, err := h.engine.Pool(ctx, pool.RoleDefault, collateral)
	require.NoError(t, err)
	require.Equal(t, int64(150), active.Account.Debt.Int64())
	require.Equal(t, int64(30), active.Account.Total.Int64())
	require.Equal(t, int64(50), def.Account.Debt.Int64())
	require.Equal(t, int64(10), def.Account.Total.Int64())

	_, err = h.engine.ReturnFromDefault(ctx, collateral, big.NewInt(50), big.NewInt(10))
	require.NoError(t, err)
	def, err = h.engine.Pool(ctx, pool.RoleDefault, collateral)
	require.NoError(t, err)
	require.Zero(t, def.Account.Debt.Sign())
	require.Zero(t, def.Account.Total.Sign())

	_, err = h.engine.Redistribute(ctx, collateral, nil, nil)
	require.ErrorIs(t, err, ledgererrors.ErrBadRequest)
}

func TestOffsetEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.openTrove(t, 40, 200)
	h.provide(t, alice, 100)
	h.provide(t, bob, 300)

	receipt, err := h.engine.Offset(ctx, collateral, big.NewInt(200), big.NewInt(40))
	require.NoError(t, err)
	require.Len(t, receipt.EventsOfType(events.TypeStabilityOffset), 1)
	require.Len(t, receipt.EventsOfType(events.TypeStabilityProductUpdated), 1)
	require.Equal(t, receipt.ID, h.receipts.receipts[len(h.receipts.receipts)-1].ID)

	pos, err := h.engine.StabilityDeposit(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), pos.CollateralGains[collateral].Int64())

	_, _, err = h.engine.WithdrawFromStabilityPool(ctx, alice, big.NewInt(0))
	require.NoError(t, err)
	bal, err := h.engine.Balance(ctx, collateral, alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal.Int64())

	snap, err := h.engine.StabilitySnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), snap.Epoch)
}

func TestOffsetWithoutDepositsFails(t *testing.T) {
	h := newHarness(t)
	h.openTrove(t, 40, 200)
	_, err := h.engine.Offset(context.Background(), collateral, big.NewInt(200), big.NewInt(40))
	require.True(t, errors.Is(err, distributor.ErrZeroTotalStake))
}

func TestPausedModuleRejectsOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.engine.SetPaused(nativecommon.ModuleStability, true)
	_, _, err := h.engine.ProvideToStabilityPool(ctx, alice, big.NewInt(10))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	h.engine.SetPaused(nativecommon.ModuleStability, false)
	h.provide(t, alice, 10)
}

func TestEventsReleasedAfterCommit(t *testing.T) {
	h := newHarness(t)
	emitted := len(h.emitted)
	h.provide(t, alice, 100)

	var updated int
	for _, ev := range h.emitted[emitted:] {
		if ev.EventType() == events.TypeStabilityDepositUpdated {
			updated++
		}
	}
	require.Equal(t, 1, updated)
}

func TestIssuanceAccruesToDepositors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gov := h.engine.Tokens().Governance
	funder := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	amount := new(big.Int).Mul(big.NewInt(604_800), big.NewInt(1e18))

	_, err := h.engine.Mint(ctx, gov, funder, amount)
	require.NoError(t, err)
	_, err = h.engine.Approve(ctx, gov, funder, h.engine.Accounts().Issuance, amount)
	require.NoError(t, err)
	_, err = h.engine.FundIssuance(ctx, funder, amount)
	require.NoError(t, err)
	h.provide(t, alice, 100)

	h.clock.Advance(24 * time.Hour)
	_, _, err = h.engine.WithdrawFromStabilityPool(ctx, alice, big.NewInt(0))
	require.NoError(t, err)

	bal, err := h.engine.Balance(ctx, gov, alice)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Mul(big.NewInt(86_400), big.NewInt(1e18)).String(), bal.String())

	st, err := h.engine.IssuanceState(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7*24*3600), st.PeriodSeconds)
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stable := h.engine.Tokens().Stable
	spAddr := h.engine.Accounts().StabilityPool

	const callers = 16
	depositors := make([]common.Address, callers)
	for i := range depositors {
		depositors[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		_, err := h.engine.Mint(ctx, stable, depositors[i], big.NewInt(100))
		require.NoError(t, err)
		_, err = h.engine.Approve(ctx, stable, depositors[i], spAddr, big.NewInt(100))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, callers*3)
	for _, who := range depositors {
		wg.Add(1)
		go func(who common.Address) {
			defer wg.Done()
			if _, _, err := h.engine.ProvideToStabilityPool(ctx, who, big.NewInt(100)); err != nil {
				errs <- err
				return
			}
			if _, err := h.engine.StabilitySnapshot(ctx); err != nil {
				errs <- err
			}
			if _, _, err := h.engine.WithdrawFromStabilityPool(ctx, who, big.NewInt(30)); err != nil {
				errs <- err
			}
		}(who)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}

	snap, err := h.engine.StabilitySnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(callers*70), snap.TotalStake.Int64())
	held, err := h.engine.Balance(ctx, stable, spAddr)
	require.NoError(t, err)
	require.Equal(t, int64(callers*70), held.Int64())
	for _, who := range depositors {
		pos, err := h.engine.StabilityDeposit(ctx, who)
		require.NoError(t, err)
		require.Equal(t, int64(70), pos.Deposit.Int64())
	}
	require.Len(t, h.receipts.receipts, 1+callers*4)
}
