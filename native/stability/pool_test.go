package stability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"reserveledger/core/events"
	"reserveledger/core/state"
	"reserveledger/native/assets"
	"reserveledger/native/bank"
	"reserveledger/native/distributor"
	"reserveledger/native/fixedpoint"
	"reserveledger/native/issuance"
	"reserveledger/native/pool"
	"reserveledger/storage"
)

var (
	collateral  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	stable      = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	rewardToken = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice       = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	borrower    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	funder      = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	activeAddr  = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	spAddr      = common.HexToAddress("0x0000000000000000000000000000000000000a05")
	schedAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a07")
)

type fixture struct {
	bank      *bank.Ledger
	active    *pool.Ledger
	sp        *Pool
	scheduler *issuance.Scheduler
	clock     *clockwork.FakeClock
	buffer    *events.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tx, err := state.NewManager(storage.NewMemDB()).Begin()
	require.NoError(t, err)
	t.Cleanup(tx.Discard)

	registry := assets.NewRegistry(tx)
	_, err = registry.Register(assets.Asset{
		Address:  collateral,
		Symbol:   "wcoll",
		Decimals: 18,
		MCR:      assets.MinAllowedMCR,
		CCR:      assets.MinAllowedCCR,
	})
	require.NoError(t, err)

	ledger := bank.NewLedger(tx)
	for _, who := range []common.Address{alice, bob} {
		require.NoError(t, ledger.Mint(stable, who, big.NewInt(1_000)))
		require.NoError(t, ledger.Approve(stable, who, spAddr, big.NewInt(1_000)))
	}
	require.NoError(t, ledger.Mint(collateral, borrower, big.NewInt(1_000)))
	require.NoError(t, ledger.Approve(collateral, borrower, activeAddr, big.NewInt(1_000)))

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	scheduler := issuance.NewScheduler(tx, ledger, rewardToken, schedAddr, 7*24*time.Hour)
	scheduler.SetClock(clock.Now)

	active := pool.NewLedger(pool.RoleActive, activeAddr, tx, registry, ledger)
	sp := New(spAddr, stable, tx, ledger, registry)
	sp.SetActivePool(active)
	sp.SetIssuer(scheduler)
	buffer := &events.Buffer{}
	sp.SetEmitter(buffer)
	active.SetSinks(sp)

	return &fixture{bank: ledger, active: active, sp: sp, scheduler: scheduler, clock: clock, buffer: buffer}
}

func (f *fixture) balance(t *testing.T, token, holder common.Address) *big.Int {
	t.Helper()
	bal, err := f.bank.BalanceOf(token, holder)
	require.NoError(t, err)
	return bal
}

func (f *fixture) openTrove(t *testing.T, coll, debt int64) {
	t.Helper()
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(coll)))
	require.NoError(t, f.active.IncreaseDebt(collateral, big.NewInt(debt)))
}

func within(t *testing.T, got *big.Int, want, tolerance int64) {
	t.Helper()
	diff := new(big.Int).Sub(got, big.NewInt(want))
	if diff.Abs(diff).Cmp(big.NewInt(tolerance)) > 0 {
		t.Fatalf("got %s, want %d (tolerance %d)", got, want, tolerance)
	}
}

func TestProvidePullsStable(t *testing.T) {
	f := newFixture(t)
	_, err := f.sp.Provide(alice, big.NewInt(100))
	require.NoError(t, err)

	total, err := f.sp.TotalDeposits()
	require.NoError(t, err)
	require.Equal(t, int64(100), total.Int64())
	require.Equal(t, int64(900), f.balance(t, stable, alice).Int64())
	require.Equal(t, int64(100), f.balance(t, stable, spAddr).Int64())

	_, err = f.sp.Provide(alice, big.NewInt(0))
	require.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestOffsetBurnsDebtAndMovesCollateral(t *testing.T) {
	f := newFixture(t)
	f.openTrove(t, 40, 200)
	_, err := f.sp.Provide(alice, big.NewInt(100))
	require.NoError(t, err)
	_, err = f.sp.Provide(bob, big.NewInt(300))
	require.NoError(t, err)

	require.NoError(t, f.sp.Offset(collateral, big.NewInt(200), big.NewInt(40)))

	acct, err := f.active.Account(collateral)
	require.NoError(t, err)
	require.Zero(t, acct.Debt.Sign())
	require.Zero(t, acct.Total.Sign())
	held, err := f.sp.CollateralBalance(collateral)
	require.NoError(t, err)
	require.Equal(t, int64(40), held.Int64())
	require.Equal(t, int64(40), f.balance(t, collateral, spAddr).Int64())
	require.Equal(t, int64(200), f.balance(t, stable, spAddr).Int64())

	aliceGain, err := f.sp.CollateralGain(alice, collateral)
	require.NoError(t, err)
	require.Equal(t, int64(10), aliceGain.Int64())
	gains, err := f.sp.CollateralGains(bob)
	require.NoError(t, err)
	require.Equal(t, int64(30), gains[collateral].Int64())

	aliceDeposit, err := f.sp.CompoundedDeposit(alice)
	require.NoError(t, err)
	within(t, aliceDeposit, 50, 1)

	var offset bool
	for _, ev := range f.buffer.Events() {
		if ev.EventType() == events.TypeStabilityOffset {
			offset = true
		}
	}
	require.True(t, offset)
}

func TestWithdrawClaimsGainsAndClamps(t *testing.T) {
	f := newFixture(t)
	f.openTrove(t, 40, 200)
	_, err := f.sp.Provide(alice, big.NewInt(100))
	require.NoError(t, err)
	_, err = f.sp.Provide(bob, big.NewInt(300))
	require.NoError(t, err)
	require.NoError(t, f.sp.Offset(collateral, big.NewInt(200), big.NewInt(40)))

	s, err := f.sp.Withdraw(alice, big.NewInt(0))
	require.NoError(t, err)
	require.Zero(t, s.Withdrawn.Sign())
	require.Equal(t, int64(10), f.balance(t, collateral, alice).Int64())
	held, err := f.sp.CollateralBalance(collateral)
	require.NoError(t, err)
	require.Equal(t, int64(30), held.Int64())

	s, err = f.sp.Withdraw(bob, big.NewInt(1_000))
	require.NoError(t, err)
	within(t, s.Withdrawn, 150, 1)
	require.Zero(t, s.Stake.Sign())
	require.Equal(t, int64(30), f.balance(t, collateral, bob).Int64())
	require.Equal(t, 0, f.balance(t, stable, bob).Cmp(new(big.Int).Add(big.NewInt(700), s.Withdrawn)))

	_, err = f.sp.Withdraw(bob, big.NewInt(1))
	require.True(t, errors.Is(err, ErrNoDeposit))
}

func TestWithdrawWithoutDeposit(t *testing.T) {
	f := newFixture(t)
	_, err := f.sp.Withdraw(alice, big.NewInt(0))
	require.True(t, errors.Is(err, ErrNoDeposit))
}

func TestOffsetPreconditions(t *testing.T) {
	f := newFixture(t)
	f.openTrove(t, 40, 200)

	err := f.sp.Offset(collateral, big.NewInt(10), big.NewInt(1))
	require.True(t, errors.Is(err, distributor.ErrZeroTotalStake), "unexpected error: %v", err)

	_, err = f.sp.Provide(alice, big.NewInt(100))
	require.NoError(t, err)
	err = f.sp.Offset(collateral, big.NewInt(101), big.NewInt(1))
	require.True(t, errors.Is(err, distributor.ErrLossExceedsStake), "unexpected error: %v", err)

	acct, err := f.active.Account(collateral)
	require.NoError(t, err)
	require.Equal(t, int64(200), acct.Debt.Int64())
}

func TestPullCollateralOnlyFromActivePool(t *testing.T) {
	f := newFixture(t)
	err := f.sp.PullCollateral(collateral, borrower, big.NewInt(1))
	require.True(t, errors.Is(err, ErrUnauthorized))
}

func TestDistributeYield(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bank.Approve(collateral, borrower, spAddr, big.NewInt(100)))

	ok, err := f.sp.DistributeYield(collateral, borrower, big.NewInt(40))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(1_000), f.balance(t, collateral, borrower).Int64())

	_, err = f.sp.Provide(alice, big.NewInt(100))
	require.NoError(t, err)
	_, err = f.sp.Provide(bob, big.NewInt(300))
	require.NoError(t, err)
	ok, err = f.sp.DistributeYield(collateral, borrower, big.NewInt(40))
	require.NoError(t, err)
	require.True(t, ok)

	gain, err := f.sp.CollateralGain(bob, collateral)
	require.NoError(t, err)
	require.Equal(t, int64(30), gain.Int64())
	// Yield never touches the deposits themselves.
	deposit, err := f.sp.CompoundedDeposit(bob)
	require.NoError(t, err)
	require.Equal(t, int64(300), deposit.Int64())
}

func TestIssuanceAccruesToDepositors(t *testing.T) {
	f := newFixture(t)
	unit := fixedpoint.Unit
	funding := new(big.Int).Mul(big.NewInt(604_800), unit)
	require.NoError(t, f.bank.Mint(rewardToken, funder, funding))
	require.NoError(t, f.bank.Approve(rewardToken, funder, schedAddr, funding))
	_, err := f.scheduler.Fund(funder, funding)
	require.NoError(t, err)

	deposit := new(big.Int).Mul(big.NewInt(100), unit)
	require.NoError(t, f.bank.Mint(stable, alice, deposit))
	require.NoError(t, f.bank.Approve(stable, alice, spAddr, deposit))
	_, err = f.sp.Provide(alice, deposit)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	s, err := f.sp.Withdraw(alice, big.NewInt(0))
	require.NoError(t, err)

	want := new(big.Int).Mul(big.NewInt(86_400), unit)
	require.Equal(t, 0, s.Reward(IssuanceKey).Cmp(want), "issuance gain %s", s.Reward(IssuanceKey))
	require.Equal(t, 0, f.balance(t, rewardToken, alice).Cmp(want))

	pending, err := f.sp.IssuanceGain(alice)
	require.NoError(t, err)
	require.Zero(t, pending.Sign())
}

func TestSnapshotTracksEpoch(t *testing.T) {
	f := newFixture(t)
	f.openTrove(t, 40, 100)
	_, err := f.sp.Provide(alice, big.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, f.sp.Offset(collateral, big.NewInt(100), big.NewInt(40)))

	g, err := f.sp.Snapshot()
	require.NoError(t, err)
	require.Equal(t, uint64(1), g.Epoch)
	require.Zero(t, g.TotalStake.Sign())

	gain, err := f.sp.CollateralGain(alice, collateral)
	require.NoError(t, err)
	require.Equal(t, int64(40), gain.Int64())
	depositors, err := f.sp.Depositors()
	require.NoError(t, err)
	require.Equal(t, []common.Address{alice}, depositors)
}
