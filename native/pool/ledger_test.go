package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"reserveledger/core/events"
	"reserveledger/core/state"
	"reserveledger/native/assets"
	"reserveledger/native/bank"
	nativecommon "reserveledger/native/common"
	"reserveledger/native/vault"
	"reserveledger/storage"
)

var (
	collateral    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	unknownAsset  = common.HexToAddress("0x00000000000000000000000000000000000000c9")
	borrower      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	activeAddr    = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	defaultAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	vaultAddr     = common.HexToAddress("0x0000000000000000000000000000000000000a03")
	treasuryAddr  = common.HexToAddress("0x0000000000000000000000000000000000000a04")
	stabilityAddr = common.HexToAddress("0x0000000000000000000000000000000000000a05")
	stakingAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a06")
)

type fixture struct {
	bank   *bank.Ledger
	vault  *vault.Vault
	active *Ledger
	buffer *events.Buffer
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
		MCR:      new(big.Int).Set(assets.MinAllowedMCR),
		CCR:      new(big.Int).Set(assets.MinAllowedCCR),
	})
	require.NoError(t, err)

	ledger := bank.NewLedger(tx)
	require.NoError(t, ledger.Mint(collateral, borrower, big.NewInt(10_000)))
	require.NoError(t, ledger.Approve(collateral, borrower, activeAddr, big.NewInt(10_000)))

	v := vault.New(tx, ledger, vaultAddr)
	active := NewLedger(RoleActive, activeAddr, tx, registry, ledger)
	active.SetVault(v)
	buffer := &events.Buffer{}
	active.SetEmitter(buffer)
	require.NoError(t, active.SetTreasury(treasuryAddr))
	require.NoError(t, active.SetYieldConfig(collateral, YieldConfig{TargetBps: 5_000, ClaimThreshold: big.NewInt(0)}))
	return &fixture{bank: ledger, vault: v, active: active, buffer: buffer}
}

func (f *fixture) balance(t *testing.T, holder common.Address) int64 {
	t.Helper()
	bal, err := f.bank.BalanceOf(collateral, holder)
	require.NoError(t, err)
	return bal.Int64()
}

func (f *fixture) account(t *testing.T) Account {
	t.Helper()
	acct, err := f.active.Account(collateral)
	require.NoError(t, err)
	sum := new(big.Int).Add(acct.Raw, acct.Deployed)
	require.Equal(t, 0, sum.Cmp(acct.Total), "raw + deployed must equal total")
	return acct
}

type receiver struct {
	addr   common.Address
	bank   *bank.Ledger
	accept bool
	got    *big.Int
}

func (r *receiver) Address() common.Address { return r.addr }

func (r *receiver) DistributeYield(asset, from common.Address, amount *big.Int) (bool, error) {
	if !r.accept {
		return false, nil
	}
	got, err := r.bank.TransferIn(asset, from, r.addr, amount)
	if err != nil {
		return false, err
	}
	r.got = got
	return true, nil
}

func (r *receiver) PullCollateral(asset, from common.Address, amount *big.Int) error {
	_, err := r.DistributeYield(asset, from, amount)
	return err
}

func TestDebtCannotUnderflow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.IncreaseDebt(collateral, big.NewInt(100)))

	err := f.active.DecreaseDebt(collateral, big.NewInt(101))
	require.True(t, errors.Is(err, ErrDebtUnderflow), "unexpected error: %v", err)

	require.NoError(t, f.active.DecreaseDebt(collateral, big.NewInt(100)))
	require.Zero(t, f.account(t).Debt.Sign())
}

func TestUnknownAssetRejected(t *testing.T) {
	f := newFixture(t)
	err := f.active.IncreaseDebt(unknownAsset, big.NewInt(1))
	require.True(t, errors.Is(err, ErrUnknownAsset), "unexpected error: %v", err)
}

func TestPausedLedgerRejectsMutations(t *testing.T) {
	f := newFixture(t)
	f.active.SetPauses(nativecommon.NewPauses(nativecommon.ModulePool))
	err := f.active.IncreaseDebt(collateral, big.NewInt(1))
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused))
}

func TestPullCollateralDeploysToTarget(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(1_000)))

	acct := f.account(t)
	require.Equal(t, int64(1_000), acct.Total.Int64())
	require.Equal(t, int64(500), acct.Deployed.Int64())
	require.Equal(t, int64(500), acct.Raw.Int64())
	require.Equal(t, int64(500), f.balance(t, activeAddr))
	require.Equal(t, int64(500), f.balance(t, vaultAddr))

	var rebalanced bool
	for _, ev := range f.buffer.Events() {
		if ev.EventType() == events.TypePoolRebalanced {
			rebalanced = true
		}
	}
	require.True(t, rebalanced)
}

func TestPullCollateralRejectsFeeOnTransfer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bank.SetTransferFeeBps(collateral, 100))

	err := f.active.PullCollateral(collateral, borrower, big.NewInt(1_000))
	require.True(t, errors.Is(err, ErrTransferMismatch), "unexpected error: %v", err)
}

func TestSendCollateralToSinkWithdrawsFromVault(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(1_000)))
	sink := &receiver{addr: defaultAddr, bank: f.bank, accept: true}
	f.active.SetSinks(sink)

	require.NoError(t, f.active.SendCollateral(collateral, defaultAddr, big.NewInt(600)))

	acct := f.account(t)
	require.Equal(t, int64(400), acct.Total.Int64())
	require.Equal(t, int64(200), acct.Deployed.Int64())
	require.Equal(t, int64(200), acct.Raw.Int64())
	require.Equal(t, int64(600), f.balance(t, defaultAddr))
	require.Equal(t, int64(600), sink.got.Int64())
}

func TestTopUpBelowOneShareStaysRaw(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.SetDriftBps(0))
	require.NoError(t, f.active.SetYieldConfig(collateral, YieldConfig{TargetBps: 5_000, ClaimThreshold: big.NewInt(10_000)}))
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(1_000)))
	// Deferred yield doubles the share price.
	require.NoError(t, f.vault.SimulateYield(collateral, big.NewInt(500)))

	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(2)))

	acct := f.account(t)
	require.Equal(t, int64(1_002), acct.Total.Int64())
	require.Equal(t, int64(500), acct.Deployed.Int64())
	require.Equal(t, int64(502), acct.Raw.Int64())
	require.Equal(t, int64(500), acct.Shares.Int64())

	// A larger pull closes the gap with whole shares.
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(98)))
	acct = f.account(t)
	require.Equal(t, int64(550), acct.Deployed.Int64())
	require.Equal(t, int64(525), acct.Shares.Int64())
}

func TestSendCollateralRejectsMoreThanTotal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(100)))
	err := f.active.SendCollateral(collateral, borrower, big.NewInt(101))
	require.True(t, errors.Is(err, ErrInsufficientCollateral))
}

func TestSendEverythingDrainsVault(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(1_000)))
	require.NoError(t, f.active.SendCollateral(collateral, borrower, big.NewInt(1_000)))

	acct := f.account(t)
	require.Zero(t, acct.Total.Sign())
	require.Zero(t, acct.Shares.Sign())
	require.Equal(t, int64(10_000), f.balance(t, borrower))
}

func TestProfitSplitRoutesEmptyReceiverToTreasury(t *testing.T) {
	f := newFixture(t)
	stability := &receiver{addr: stabilityAddr, bank: f.bank, accept: true}
	staking := &receiver{addr: stakingAddr, bank: f.bank, accept: false}
	f.active.SetYieldReceivers(stability, staking)
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(1_000)))
	require.NoError(t, f.vault.SimulateYield(collateral, big.NewInt(500)))

	res, err := f.active.ManualRebalance(collateral, big.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, int64(500), res.Profit.Int64())
	require.Equal(t, int64(300), res.Treasury.Int64())
	require.Equal(t, int64(200), res.Stability.Int64())
	require.Zero(t, res.Staking.Sign())

	require.Equal(t, int64(300), f.balance(t, treasuryAddr))
	require.Equal(t, int64(200), f.balance(t, stabilityAddr))
	require.Zero(t, f.balance(t, stakingAddr))
	allowance, err := f.bank.Allowance(collateral, activeAddr, stakingAddr)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())

	acct := f.account(t)
	require.Equal(t, int64(500), acct.Deployed.Int64())
	value, err := f.vault.ValueOfShares(collateral, acct.Shares)
	require.NoError(t, err)
	require.Equal(t, int64(500), value.Int64())

	var routed bool
	for _, ev := range f.buffer.Events() {
		if r, ok := ev.(events.YieldRouted); ok && r.Pool == "staking" {
			routed = true
			require.Equal(t, int64(200), r.Amount.Int64())
		}
	}
	require.True(t, routed)
}

func TestClaimThresholdDefersProfit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.SetYieldConfig(collateral, YieldConfig{TargetBps: 5_000, ClaimThreshold: big.NewInt(1_000)}))
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(1_000)))
	require.NoError(t, f.vault.SimulateYield(collateral, big.NewInt(500)))

	res, err := f.active.ManualRebalance(collateral, big.NewInt(0))
	require.NoError(t, err)
	require.Zero(t, res.Profit.Sign())
	require.Zero(t, f.balance(t, treasuryAddr))
}

func TestVaultLossReverts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(1_000)))
	require.NoError(t, f.vault.SimulateYield(collateral, big.NewInt(-100)))

	_, err := f.active.ManualRebalance(collateral, big.NewInt(0))
	require.True(t, errors.Is(err, ErrYieldLoss), "unexpected error: %v", err)

	err = f.active.SendCollateral(collateral, borrower, big.NewInt(10))
	require.True(t, errors.Is(err, ErrYieldLoss), "unexpected error: %v", err)
}

func TestHaltedVaultPropagatesError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(1_000)))
	require.NoError(t, f.vault.SetHalted(collateral, true))

	_, err := f.active.ManualRebalance(collateral, big.NewInt(0))
	require.True(t, errors.Is(err, vault.ErrUnavailable), "unexpected error: %v", err)
}

func TestDriftBandSkipsSmallMoves(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.SetDriftBps(500))
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(1_000)))
	// 500 of 1040 deployed is 4807 bps, inside a 500 bps band.
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(40)))

	acct := f.account(t)
	require.Equal(t, int64(500), acct.Deployed.Int64())
	require.Equal(t, int64(540), acct.Raw.Int64())
}

func TestLoweringTargetWithdraws(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.active.PullCollateral(collateral, borrower, big.NewInt(1_000)))
	require.NoError(t, f.active.SetYieldConfig(collateral, YieldConfig{TargetBps: 1_000, ClaimThreshold: big.NewInt(0)}))

	res, err := f.active.ManualRebalance(collateral, big.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, int64(400), res.Withdrawn.Int64())
	acct := f.account(t)
	require.Equal(t, int64(100), acct.Deployed.Int64())
	require.Equal(t, int64(900), acct.Raw.Int64())
}

func TestInvalidSplitKeepsPrevious(t *testing.T) {
	f := newFixture(t)
	err := f.active.SetSplits(Splits{TreasuryBps: 1_000, StabilityBps: 1_000, StakingBps: 1_000})
	require.True(t, errors.Is(err, ErrInvalidConfig))

	cfg, err := f.active.RebalancerConfig()
	require.NoError(t, err)
	require.Equal(t, DefaultSplits, cfg.Splits)
	require.Equal(t, treasuryAddr, cfg.Treasury)

	require.NoError(t, f.active.SetSplits(Splits{TreasuryBps: 10_000}))
	cfg, err = f.active.RebalancerConfig()
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), cfg.Splits.TreasuryBps)
}

func TestConfigBounds(t *testing.T) {
	f := newFixture(t)
	require.True(t, errors.Is(f.active.SetDriftBps(MaxDriftBps+1), ErrInvalidConfig))
	err := f.active.SetYieldConfig(collateral, YieldConfig{TargetBps: MaxTargetBps + 1})
	require.True(t, errors.Is(err, ErrInvalidConfig))
	require.True(t, errors.Is(f.active.SetTreasury(common.Address{}), ErrInvalidConfig))
}

func TestVaultTargetRequiresTreasury(t *testing.T) {
	tx, err := state.NewManager(storage.NewMemDB()).Begin()
	require.NoError(t, err)
	t.Cleanup(tx.Discard)
	registry := assets.NewRegistry(tx)
	_, err = registry.Register(assets.Asset{
		Address:  collateral,
		Symbol:   "wcoll",
		Decimals: 18,
		MCR:      new(big.Int).Set(assets.MinAllowedMCR),
		CCR:      new(big.Int).Set(assets.MinAllowedCCR),
	})
	require.NoError(t, err)
	active := NewLedger(RoleActive, activeAddr, tx, registry, bank.NewLedger(tx))

	err = active.SetYieldConfig(collateral, YieldConfig{TargetBps: 5_000})
	require.True(t, errors.Is(err, ErrInvalidConfig), "unexpected error: %v", err)
	require.NoError(t, active.SetYieldConfig(collateral, YieldConfig{TargetBps: 0}))

	require.NoError(t, active.SetTreasury(treasuryAddr))
	require.NoError(t, active.SetYieldConfig(collateral, YieldConfig{TargetBps: 5_000}))
}

func TestDefaultPoolNeverRebalances(t *testing.T) {
	f := newFixture(t)
	tx, err := state.NewManager(storage.NewMemDB()).Begin()
	require.NoError(t, err)
	t.Cleanup(tx.Discard)
	registry := assets.NewRegistry(tx)
	_, err = registry.Register(assets.Asset{Address: collateral, Symbol: "wcoll", Decimals: 18, MCR: assets.MinAllowedMCR, CCR: assets.MinAllowedCCR})
	require.NoError(t, err)
	ledger := bank.NewLedger(tx)
	require.NoError(t, ledger.Mint(collateral, borrower, big.NewInt(100)))
	require.NoError(t, ledger.Approve(collateral, borrower, defaultAddr, big.NewInt(100)))

	def := NewLedger(RoleDefault, defaultAddr, tx, registry, ledger)
	def.SetVault(f.vault)
	require.NoError(t, def.PullCollateral(collateral, borrower, big.NewInt(100)))
	acct, err := def.Account(collateral)
	require.NoError(t, err)
	require.Equal(t, int64(100), acct.Raw.Int64())
	require.Zero(t, acct.Deployed.Sign())

	_, err = def.ManualRebalance(collateral, big.NewInt(0))
	require.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Active ")
	require.NoError(t, err)
	require.Equal(t, RoleActive, role)
	_, err = ParseRole("stability")
	require.Error(t, err)
}

func TestSixDecimalAssetNormalizes(t *testing.T) {
	usdc := common.HexToAddress("0x00000000000000000000000000000000000000c6")
	tx, err := state.NewManager(storage.NewMemDB()).Begin()
	require.NoError(t, err)
	t.Cleanup(tx.Discard)
	registry := assets.NewRegistry(tx)
	_, err = registry.Register(assets.Asset{
		Address:  usdc,
		Symbol:   "usdc",
		Decimals: 6,
		MCR:      new(big.Int).Set(assets.MinAllowedMCR),
		CCR:      new(big.Int).Set(assets.MinAllowedCCR),
	})
	require.NoError(t, err)
	ledger := bank.NewLedger(tx)
	require.NoError(t, ledger.Mint(usdc, borrower, big.NewInt(1_000_000)))
	require.NoError(t, ledger.Approve(usdc, borrower, activeAddr, big.NewInt(1_000_000)))

	active := NewLedger(RoleActive, activeAddr, tx, registry, ledger)
	active.SetVault(vault.New(tx, ledger, vaultAddr))
	buffer := &events.Buffer{}
	active.SetEmitter(buffer)
	require.NoError(t, active.SetTreasury(treasuryAddr))
	require.NoError(t, active.SetYieldConfig(usdc, YieldConfig{TargetBps: 5_000, ClaimThreshold: big.NewInt(0)}))

	require.NoError(t, active.PullCollateral(usdc, borrower, big.NewInt(1_000_000)))
	acct, err := active.Account(usdc)
	require.NoError(t, err)
	norm, err := active.Normalize(acct)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", norm.Total.String())
	require.Equal(t, "500000000000000000", norm.Deployed.String())
	require.Equal(t, "500000000000000000", norm.Raw.String())

	var last *events.PoolCollateralUpdated
	for _, ev := range buffer.Events() {
		if updated, ok := ev.(events.PoolCollateralUpdated); ok {
			last = &updated
		}
	}
	require.NotNil(t, last)
	require.Equal(t, int64(1_000_000), last.Total.Int64())
	require.Equal(t, 0, last.NormalizedTotal.Cmp(norm.Total))
	require.Equal(t, 0, last.NormalizedDeployed.Cmp(norm.Deployed))

	// Unregistered assets cannot be normalized.
	_, err = active.Normalize(Account{Asset: collateral, Raw: big.NewInt(1)})
	require.Error(t, err)
}
