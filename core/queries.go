package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/native/assets"
	"reserveledger/native/distributor"
	"reserveledger/native/issuance"
	"reserveledger/native/pool"
)

// StabilityPosition is a depositor's view of the stability pool.
type StabilityPosition struct {
	Owner           common.Address
	Deposit         *big.Int
	CollateralGains map[common.Address]*big.Int
	IssuanceGain    *big.Int
}

// StakingPosition is a staker's view of staking.
type StakingPosition struct {
	Owner           common.Address
	Stake           *big.Int
	CollateralGains map[common.Address]*big.Int
	DebtGain        *big.Int
}

// PoolView is the state of one pool book together with its configuration.
type PoolView struct {
	Role    pool.Role
	Account pool.Account
	// Normalized holds the collateral balances in accounting units.
	Normalized pool.Normalized
	Yield      pool.YieldConfig
}

// Assets lists the registered collateral assets.
func (e *Engine) Assets(ctx context.Context) ([]assets.Asset, error) {
	var out []assets.Asset
	err := e.view(ctx, "query.assets", func(m *modules) error {
		var err error
		out, err = m.registry.List()
		return err
	})
	return out, err
}

// Pool returns the book of asset in the pool of role.
func (e *Engine) Pool(ctx context.Context, role pool.Role, asset common.Address) (PoolView, error) {
	var out PoolView
	err := e.view(ctx, "query.pool", func(m *modules) error {
		l, err := m.pool(role)
		if err != nil {
			return err
		}
		acct, err := l.Account(asset)
		if err != nil {
			return err
		}
		yield, err := l.YieldConfig(asset)
		if err != nil {
			return err
		}
		norm, err := l.Normalize(acct)
		if err != nil {
			return err
		}
		out = PoolView{Role: role, Account: acct, Normalized: norm, Yield: yield}
		return nil
	})
	return out, err
}

// RebalancerConfig returns the drift band, split and treasury.
func (e *Engine) RebalancerConfig(ctx context.Context) (pool.RebalancerConfig, error) {
	var out pool.RebalancerConfig
	err := e.view(ctx, "query.rebalancer", func(m *modules) error {
		var err error
		out, err = m.active.RebalancerConfig()
		return err
	})
	return out, err
}

// StabilityDeposit returns owner's compounded deposit and unclaimed gains.
func (e *Engine) StabilityDeposit(ctx context.Context, owner common.Address) (StabilityPosition, error) {
	out := StabilityPosition{Owner: owner}
	err := e.view(ctx, "query.stabilityDeposit", func(m *modules) error {
		var err error
		if out.Deposit, err = m.stability.CompoundedDeposit(owner); err != nil {
			return err
		}
		if out.CollateralGains, err = m.stability.CollateralGains(owner); err != nil {
			return err
		}
		out.IssuanceGain, err = m.stability.IssuanceGain(owner)
		return err
	})
	return out, err
}

// StabilitySnapshot returns P, scale, epoch and total deposits.
func (e *Engine) StabilitySnapshot(ctx context.Context) (distributor.Globals, error) {
	var out distributor.Globals
	err := e.view(ctx, "query.stabilitySnapshot", func(m *modules) error {
		var err error
		out, err = m.stability.Snapshot()
		return err
	})
	return out, err
}

// StakingPosition returns staker's stake and unclaimed gains.
func (e *Engine) StakingPosition(ctx context.Context, staker common.Address) (StakingPosition, error) {
	out := StakingPosition{Owner: staker, CollateralGains: make(map[common.Address]*big.Int)}
	err := e.view(ctx, "query.stakingPosition", func(m *modules) error {
		var err error
		if out.Stake, err = m.staking.StakeOf(staker); err != nil {
			return err
		}
		list, err := m.registry.List()
		if err != nil {
			return err
		}
		for _, asset := range list {
			gain, err := m.staking.PendingCollateralGain(staker, asset.Address)
			if err != nil {
				return err
			}
			if gain.Sign() > 0 {
				out.CollateralGains[asset.Address] = gain
			}
		}
		out.DebtGain, err = m.staking.PendingDebtGain(staker)
		return err
	})
	return out, err
}

// IssuanceState returns the emission clock.
func (e *Engine) IssuanceState(ctx context.Context) (issuance.State, error) {
	var out issuance.State
	err := e.view(ctx, "query.issuance", func(m *modules) error {
		var err error
		out, err = m.issuance.State()
		return err
	})
	return out, err
}

// Balance returns holder's balance of token.
func (e *Engine) Balance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	var out *big.Int
	err := e.view(ctx, "query.balance", func(m *modules) error {
		var err error
		out, err = m.bank.BalanceOf(token, holder)
		return err
	})
	return out, err
}
