package core

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	ledgererrors "reserveledger/core/errors"
	"reserveledger/core/events"
	"reserveledger/core/types"
	"reserveledger/native/assets"
	"reserveledger/native/distributor"
	"reserveledger/native/fixedpoint"
	"reserveledger/native/pool"
)

// RegisterAsset adds a collateral asset.
func (e *Engine) RegisterAsset(ctx context.Context, asset assets.Asset) (types.Receipt, error) {
	return e.execute(ctx, "assets.register", func(m *modules) error {
		registered, err := m.registry.Register(asset)
		if err != nil {
			return err
		}
		m.emitter.Emit(events.AssetRegistered{
			Asset:    registered.Address,
			Symbol:   registered.Symbol,
			Decimals: registered.Decimals,
			MCR:      registered.MCR,
			CCR:      registered.CCR,
		})
		return nil
	})
}

// UpdateAssetRatios lowers the risk ratios of a registered asset.
func (e *Engine) UpdateAssetRatios(ctx context.Context, asset common.Address, mcr, ccr *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "assets.updateRatios", func(m *modules) error {
		_, err := m.registry.UpdateRatios(asset, mcr, ccr)
		return err
	})
}

// IncreaseDebt records new debt in the pool of role.
func (e *Engine) IncreaseDebt(ctx context.Context, role pool.Role, asset common.Address, amount *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "pool.increaseDebt", func(m *modules) error {
		l, err := m.pool(role)
		if err != nil {
			return err
		}
		return l.IncreaseDebt(asset, amount)
	})
}

// DecreaseDebt removes debt from the pool of role.
func (e *Engine) DecreaseDebt(ctx context.Context, role pool.Role, asset common.Address, amount *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "pool.decreaseDebt", func(m *modules) error {
		l, err := m.pool(role)
		if err != nil {
			return err
		}
		return l.DecreaseDebt(asset, amount)
	})
}

// PullCollateral moves approved collateral from from into the pool of role.
func (e *Engine) PullCollateral(ctx context.Context, role pool.Role, asset, from common.Address, amount *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "pool.pullCollateral", func(m *modules) error {
		l, err := m.pool(role)
		if err != nil {
			return err
		}
		return l.PullCollateral(asset, from, amount)
	})
}

// SendCollateral moves collateral out of the pool of role.
func (e *Engine) SendCollateral(ctx context.Context, role pool.Role, asset, to common.Address, amount *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "pool.sendCollateral", func(m *modules) error {
		l, err := m.pool(role)
		if err != nil {
			return err
		}
		return l.SendCollateral(asset, to, amount)
	})
}

// Redistribute moves debt and collateral of a liquidated position from the
// active pool to the default pool.
func (e *Engine) Redistribute(ctx context.Context, asset common.Address, debt, coll *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "pool.redistribute", func(m *modules) error {
		return move(m.active, m.def, asset, debt, coll)
	})
}

// ReturnFromDefault moves pending redistributed debt and collateral back
// into the active pool.
func (e *Engine) ReturnFromDefault(ctx context.Context, asset common.Address, debt, coll *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "pool.return", func(m *modules) error {
		return move(m.def, m.active, asset, debt, coll)
	})
}

func move(from, to *pool.Ledger, asset common.Address, debt, coll *big.Int) error {
	if fixedpoint.IsZero(debt) && fixedpoint.IsZero(coll) {
		return fmt.Errorf("%w: nothing to move", ledgererrors.ErrBadRequest)
	}
	if !fixedpoint.IsZero(debt) {
		if err := from.DecreaseDebt(asset, debt); err != nil {
			return err
		}
		if err := to.IncreaseDebt(asset, debt); err != nil {
			return err
		}
	}
	if !fixedpoint.IsZero(coll) {
		if err := from.SendCollateral(asset, to.Address(), coll); err != nil {
			return err
		}
	}
	return nil
}

// ManualRebalance realizes profit and restores the target allocation of the
// active pool.
func (e *Engine) ManualRebalance(ctx context.Context, asset common.Address, simulatedLeaving *big.Int) (pool.RebalanceResult, types.Receipt, error) {
	var res pool.RebalanceResult
	receipt, err := e.execute(ctx, "pool.rebalance", func(m *modules) error {
		var err error
		res, err = m.active.ManualRebalance(asset, simulatedLeaving)
		return err
	})
	return res, receipt, err
}

// ConfigureYield sets the vault target and claim threshold of asset.
func (e *Engine) ConfigureYield(ctx context.Context, asset common.Address, cfg pool.YieldConfig) (types.Receipt, error) {
	return e.execute(ctx, "admin.yield", func(m *modules) error {
		return m.active.SetYieldConfig(asset, cfg)
	})
}

// ConfigureRebalancer updates the drift band and, when set, the treasury.
func (e *Engine) ConfigureRebalancer(ctx context.Context, driftBps uint64, treasury common.Address) (types.Receipt, error) {
	return e.execute(ctx, "admin.rebalancer", func(m *modules) error {
		if err := m.active.SetDriftBps(driftBps); err != nil {
			return err
		}
		if treasury == (common.Address{}) {
			return nil
		}
		return m.active.SetTreasury(treasury)
	})
}

// SetSplits replaces the profit split. An invalid split leaves the previous
// one in force.
func (e *Engine) SetSplits(ctx context.Context, splits pool.Splits) (types.Receipt, error) {
	return e.execute(ctx, "admin.splits", func(m *modules) error {
		return m.active.SetSplits(splits)
	})
}

// ProvideToStabilityPool deposits stable tokens.
func (e *Engine) ProvideToStabilityPool(ctx context.Context, depositor common.Address, amount *big.Int) (distributor.Settlement, types.Receipt, error) {
	var s distributor.Settlement
	receipt, err := e.execute(ctx, "stability.provide", func(m *modules) error {
		var err error
		s, err = m.stability.Provide(depositor, amount)
		return err
	})
	return s, receipt, err
}

// WithdrawFromStabilityPool withdraws up to amount and pays gains.
func (e *Engine) WithdrawFromStabilityPool(ctx context.Context, depositor common.Address, amount *big.Int) (distributor.Settlement, types.Receipt, error) {
	var s distributor.Settlement
	receipt, err := e.execute(ctx, "stability.withdraw", func(m *modules) error {
		var err error
		s, err = m.stability.Withdraw(depositor, amount)
		return err
	})
	return s, receipt, err
}

// Offset cancels liquidated debt against the stability pool.
func (e *Engine) Offset(ctx context.Context, asset common.Address, debt, coll *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "stability.offset", func(m *modules) error {
		return m.stability.Offset(asset, debt, coll)
	})
}

// Stake adds governance tokens to staking.
func (e *Engine) Stake(ctx context.Context, staker common.Address, amount *big.Int) (distributor.Settlement, types.Receipt, error) {
	var s distributor.Settlement
	receipt, err := e.execute(ctx, "staking.stake", func(m *modules) error {
		var err error
		s, err = m.staking.Stake(staker, amount)
		return err
	})
	return s, receipt, err
}

// Unstake removes up to amount of stake and pays gains.
func (e *Engine) Unstake(ctx context.Context, staker common.Address, amount *big.Int) (distributor.Settlement, types.Receipt, error) {
	var s distributor.Settlement
	receipt, err := e.execute(ctx, "staking.unstake", func(m *modules) error {
		var err error
		s, err = m.staking.Unstake(staker, amount)
		return err
	})
	return s, receipt, err
}

// AddCollateralFee hands a collateral fee paid by from to stakers.
func (e *Engine) AddCollateralFee(ctx context.Context, asset, from common.Address, amount *big.Int) (bool, types.Receipt, error) {
	var distributed bool
	receipt, err := e.execute(ctx, "staking.feeCollateral", func(m *modules) error {
		var err error
		distributed, err = m.staking.IncreaseFeeCollateral(asset, from, amount)
		return err
	})
	return distributed, receipt, err
}

// AddDebtFee hands a stable-token fee paid by from to stakers.
func (e *Engine) AddDebtFee(ctx context.Context, from common.Address, amount *big.Int) (bool, types.Receipt, error) {
	var distributed bool
	receipt, err := e.execute(ctx, "staking.feeDebt", func(m *modules) error {
		var err error
		distributed, err = m.staking.IncreaseFeeDebt(from, amount)
		return err
	})
	return distributed, receipt, err
}

// FundIssuance pulls reward tokens from funder and restarts the period.
func (e *Engine) FundIssuance(ctx context.Context, funder common.Address, amount *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "issuance.fund", func(m *modules) error {
		_, err := m.issuance.Fund(funder, amount)
		return err
	})
}

// UpdateIssuancePeriod changes the period used by later funding.
func (e *Engine) UpdateIssuancePeriod(ctx context.Context, period time.Duration) (types.Receipt, error) {
	return e.execute(ctx, "admin.issuancePeriod", func(m *modules) error {
		return m.issuance.UpdateDistributionPeriod(period)
	})
}

// Mint credits amount of token to to. Used by operators and dev tooling to
// seed balances.
func (e *Engine) Mint(ctx context.Context, token, to common.Address, amount *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "bank.mint", func(m *modules) error {
		return m.bank.Mint(token, to, amount)
	})
}

// Approve lets spender pull up to amount of owner's token.
func (e *Engine) Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "bank.approve", func(m *modules) error {
		return m.bank.Approve(token, owner, spender, amount)
	})
}

// SetTransferFee configures a fee burned on every transfer of token.
func (e *Engine) SetTransferFee(ctx context.Context, token common.Address, bps uint64) (types.Receipt, error) {
	return e.execute(ctx, "bank.transferFee", func(m *modules) error {
		return m.bank.SetTransferFeeBps(token, bps)
	})
}

// SimulateVaultYield changes the vault's underlying for asset by delta.
func (e *Engine) SimulateVaultYield(ctx context.Context, asset common.Address, delta *big.Int) (types.Receipt, error) {
	return e.execute(ctx, "vault.yield", func(m *modules) error {
		if err := m.registry.Require(asset); err != nil {
			return err
		}
		return m.vault.SimulateYield(asset, delta)
	})
}

// SetVaultHalted makes every vault call for asset fail until cleared.
func (e *Engine) SetVaultHalted(ctx context.Context, asset common.Address, halted bool) (types.Receipt, error) {
	return e.execute(ctx, "vault.halt", func(m *modules) error {
		return m.vault.SetHalted(asset, halted)
	})
}

// SetPaused toggles a module pause switch. Pauses are node-local.
func (e *Engine) SetPaused(module string, paused bool) {
	e.pauses.Set(module, paused)
	e.logger.Info("module pause updated", "module", module, "paused", paused)
}
