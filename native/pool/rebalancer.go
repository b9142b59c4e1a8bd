package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/events"
	"reserveledger/native/fixedpoint"
)

const (
	// MaxTargetBps bounds the per-asset yielding percentage.
	MaxTargetBps = fixedpoint.BasisPoints
	// MaxDriftBps bounds the global drift tolerance.
	MaxDriftBps = 500
	// DefaultDriftBps applies until an operator configures another value.
	DefaultDriftBps = 100
)

// Splits is the profit split between treasury, stability pool and staking.
type Splits struct {
	TreasuryBps  uint64
	StabilityBps uint64
	StakingBps   uint64
}

// DefaultSplits applies until an operator configures another split.
var DefaultSplits = Splits{TreasuryBps: 2_000, StabilityBps: 4_000, StakingBps: 4_000}

// Validate requires the three parts to sum to exactly 10000.
func (s Splits) Validate() error {
	if s.TreasuryBps > MaxTargetBps || s.StabilityBps > MaxTargetBps || s.StakingBps > MaxTargetBps {
		return fmt.Errorf("%w: split above %d bps", ErrInvalidConfig, MaxTargetBps)
	}
	if s.TreasuryBps+s.StabilityBps+s.StakingBps != MaxTargetBps {
		return fmt.Errorf("%w: splits sum to %d, want %d", ErrInvalidConfig, s.TreasuryBps+s.StabilityBps+s.StakingBps, MaxTargetBps)
	}
	return nil
}

// YieldConfig is the per-asset vault allocation.
type YieldConfig struct {
	TargetBps      uint64
	ClaimThreshold *big.Int
}

// RebalancerConfig is the global rebalancing configuration.
type RebalancerConfig struct {
	DriftBps uint64
	Splits   Splits
	Treasury common.Address
}

// RebalanceResult reports what one rebalance moved.
type RebalanceResult struct {
	Profit    *big.Int
	Treasury  *big.Int
	Stability *big.Int
	Staking   *big.Int
	Deposited *big.Int
	Withdrawn *big.Int
}

func newResult() RebalanceResult {
	return RebalanceResult{
		Profit:    big.NewInt(0),
		Treasury:  big.NewInt(0),
		Stability: big.NewInt(0),
		Staking:   big.NewInt(0),
		Deposited: big.NewInt(0),
		Withdrawn: big.NewInt(0),
	}
}

type storedYieldConfig struct {
	TargetBps      uint64
	ClaimThreshold string
}

type storedRebalancerConfig struct {
	DriftBps     uint64
	TreasuryBps  uint64
	StabilityBps uint64
	StakingBps   uint64
	Treasury     common.Address
}

func (l *Ledger) yieldKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf("pool/%s/yield/%s", l.role, asset.Hex()))
}

func (l *Ledger) rebalancerKey() []byte {
	return []byte(fmt.Sprintf("pool/%s/rebalancer", l.role))
}

// YieldConfig returns the allocation of asset. Unconfigured assets keep
// everything liquid.
func (l *Ledger) YieldConfig(asset common.Address) (YieldConfig, error) {
	if err := l.ready(); err != nil {
		return YieldConfig{}, err
	}
	if err := l.registry.Require(asset); err != nil {
		return YieldConfig{}, err
	}
	var stored storedYieldConfig
	if _, err := l.store.KVGet(l.yieldKey(asset), &stored); err != nil {
		return YieldConfig{}, err
	}
	threshold, err := fixedpoint.ParseOrZero(stored.ClaimThreshold)
	if err != nil {
		return YieldConfig{}, err
	}
	return YieldConfig{TargetBps: stored.TargetBps, ClaimThreshold: threshold}, nil
}

// SetYieldConfig stores the target allocation and claim threshold of asset.
func (l *Ledger) SetYieldConfig(asset common.Address, cfg YieldConfig) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.registry.Require(asset); err != nil {
		return err
	}
	if cfg.TargetBps > MaxTargetBps {
		return fmt.Errorf("%w: target %d bps above %d", ErrInvalidConfig, cfg.TargetBps, MaxTargetBps)
	}
	if err := fixedpoint.Check(cfg.ClaimThreshold); err != nil {
		return fmt.Errorf("%w: claim threshold: %v", ErrInvalidConfig, err)
	}
	rc, err := l.RebalancerConfig()
	if err != nil {
		return err
	}
	// Realized profit is always split with the treasury.
	if cfg.TargetBps > 0 && rc.Treasury == (common.Address{}) {
		return fmt.Errorf("%w: treasury must be set before deploying %s to the vault", ErrInvalidConfig, asset.Hex())
	}
	if err := l.store.KVPut(l.yieldKey(asset), storedYieldConfig{
		TargetBps:      cfg.TargetBps,
		ClaimThreshold: fixedpoint.String(cfg.ClaimThreshold),
	}); err != nil {
		return err
	}
	l.emitter.Emit(events.RebalancerConfigured{
		Asset:          asset,
		TargetBps:      cfg.TargetBps,
		DriftBps:       rc.DriftBps,
		ClaimThreshold: fixedpoint.Clone(cfg.ClaimThreshold),
	})
	return nil
}

// RebalancerConfig returns the global configuration.
func (l *Ledger) RebalancerConfig() (RebalancerConfig, error) {
	if err := l.ready(); err != nil {
		return RebalancerConfig{}, err
	}
	var stored storedRebalancerConfig
	ok, err := l.store.KVGet(l.rebalancerKey(), &stored)
	if err != nil {
		return RebalancerConfig{}, err
	}
	if !ok {
		return RebalancerConfig{DriftBps: DefaultDriftBps, Splits: DefaultSplits}, nil
	}
	return RebalancerConfig{
		DriftBps: stored.DriftBps,
		Splits: Splits{
			TreasuryBps:  stored.TreasuryBps,
			StabilityBps: stored.StabilityBps,
			StakingBps:   stored.StakingBps,
		},
		Treasury: stored.Treasury,
	}, nil
}

func (l *Ledger) putRebalancerConfig(cfg RebalancerConfig) error {
	return l.store.KVPut(l.rebalancerKey(), storedRebalancerConfig{
		DriftBps:     cfg.DriftBps,
		TreasuryBps:  cfg.Splits.TreasuryBps,
		StabilityBps: cfg.Splits.StabilityBps,
		StakingBps:   cfg.Splits.StakingBps,
		Treasury:     cfg.Treasury,
	})
}

// SetDriftBps configures the global drift tolerance.
func (l *Ledger) SetDriftBps(bps uint64) error {
	if bps > MaxDriftBps {
		return fmt.Errorf("%w: drift %d bps above %d", ErrInvalidConfig, bps, MaxDriftBps)
	}
	cfg, err := l.RebalancerConfig()
	if err != nil {
		return err
	}
	cfg.DriftBps = bps
	return l.putRebalancerConfig(cfg)
}

// SetSplits configures the profit split. A split that does not sum to 10000
// is rejected and the previous split stays in force.
func (l *Ledger) SetSplits(splits Splits) error {
	if err := splits.Validate(); err != nil {
		return err
	}
	cfg, err := l.RebalancerConfig()
	if err != nil {
		return err
	}
	cfg.Splits = splits
	if err := l.putRebalancerConfig(cfg); err != nil {
		return err
	}
	l.emitter.Emit(events.RebalancerSplitsUpdated{
		Treasury:     cfg.Treasury,
		TreasuryBps:  splits.TreasuryBps,
		StabilityBps: splits.StabilityBps,
		StakingBps:   splits.StakingBps,
	})
	return nil
}

// SetTreasury configures the treasury account.
func (l *Ledger) SetTreasury(treasury common.Address) error {
	if treasury == (common.Address{}) {
		return fmt.Errorf("%w: treasury address required", ErrInvalidConfig)
	}
	cfg, err := l.RebalancerConfig()
	if err != nil {
		return err
	}
	cfg.Treasury = treasury
	return l.putRebalancerConfig(cfg)
}

// ManualRebalance realizes profit and restores the target allocation as if
// simulatedLeaving were about to be sent out.
func (l *Ledger) ManualRebalance(asset common.Address, simulatedLeaving *big.Int) (RebalanceResult, error) {
	if err := l.ready(); err != nil {
		return RebalanceResult{}, err
	}
	if err := l.guard(); err != nil {
		return RebalanceResult{}, err
	}
	if !l.rebalances() {
		return RebalanceResult{}, fmt.Errorf("%w: %s pool has no yield vault", ErrInvalidConfig, l.role)
	}
	leaving := fixedpoint.Clone(simulatedLeaving)
	acct, err := l.load(asset)
	if err != nil {
		return RebalanceResult{}, err
	}
	if leaving.Cmp(acct.Total) > 0 {
		return RebalanceResult{}, fmt.Errorf("%w: simulated %s exceeds total %s", ErrInsufficientCollateral, leaving, acct.Total)
	}
	res, err := l.rebalance(&acct, leaving)
	if err != nil {
		return RebalanceResult{}, err
	}
	if err := l.reconcile(acct); err != nil {
		return RebalanceResult{}, err
	}
	if err := l.save(acct); err != nil {
		return RebalanceResult{}, err
	}
	if err := l.emitCollateral(acct); err != nil {
		return RebalanceResult{}, err
	}
	return res, nil
}

// rebalance harvests profit above the claim threshold, then moves the
// deployed amount back to the target when it has drifted outside the band.
// acct is updated in place.
func (l *Ledger) rebalance(acct *Account, leaving *big.Int) (RebalanceResult, error) {
	res := newResult()
	cfg, err := l.RebalancerConfig()
	if err != nil {
		return res, err
	}
	ycfg, err := l.YieldConfig(acct.Asset)
	if err != nil {
		return res, err
	}

	value := big.NewInt(0)
	if acct.Shares.Sign() > 0 {
		if value, err = l.vault.ValueOfShares(acct.Asset, acct.Shares); err != nil {
			return res, fmt.Errorf("pool: value shares: %w", err)
		}
	}
	if value.Cmp(acct.Deployed) < 0 {
		return res, fmt.Errorf("%w: %s value %s below deployed %s", ErrYieldLoss, acct.Asset.Hex(), value, acct.Deployed)
	}

	profit := new(big.Int).Sub(value, acct.Deployed)
	if profit.Sign() > 0 && profit.Cmp(ycfg.ClaimThreshold) >= 0 {
		shares, err := l.vault.SharesForValue(acct.Asset, profit, false)
		if err != nil {
			return res, fmt.Errorf("pool: convert profit: %w", err)
		}
		shares = fixedpoint.Min(shares, acct.Shares)
		if shares.Sign() > 0 {
			got, err := l.vault.Withdraw(acct.Asset, l.address, shares)
			if err != nil {
				return res, fmt.Errorf("pool: harvest profit: %w", err)
			}
			acct.Shares = new(big.Int).Sub(acct.Shares, shares)
			if err := l.distributeProfit(acct.Asset, got, cfg, &res); err != nil {
				return res, err
			}
		}
	}

	final := new(big.Int).Sub(acct.Total, leaving)
	target, err := fixedpoint.BpsOf(final, ycfg.TargetBps)
	if err != nil {
		return res, err
	}
	move := false
	if final.Sign() == 0 || acct.Deployed.Cmp(final) > 0 {
		move = acct.Deployed.Cmp(target) != 0
	} else {
		percent, err := fixedpoint.MulDiv(acct.Deployed, big.NewInt(fixedpoint.BasisPoints), final)
		if err != nil {
			return res, err
		}
		gap := new(big.Int).Sub(percent, new(big.Int).SetUint64(ycfg.TargetBps))
		move = gap.Abs(gap).Cmp(new(big.Int).SetUint64(cfg.DriftBps)) > 0
	}
	if !move {
		return res, nil
	}

	switch acct.Deployed.Cmp(target) {
	case -1:
		amount := new(big.Int).Sub(target, acct.Deployed)
		if acct.Raw.Cmp(amount) < 0 {
			return res, fmt.Errorf("%w: raw %s cannot fund deposit of %s", ErrReconciliation, acct.Raw, amount)
		}
		// A top-up worth less than one share stays raw until the gap grows.
		minted, err := l.vault.SharesForValue(acct.Asset, amount, false)
		if err != nil {
			return res, fmt.Errorf("pool: convert deposit: %w", err)
		}
		if minted.Sign() == 0 {
			return res, nil
		}
		shares, err := l.vault.Deposit(acct.Asset, l.address, amount)
		if err != nil {
			return res, fmt.Errorf("pool: vault deposit: %w", err)
		}
		acct.Shares = new(big.Int).Add(acct.Shares, shares)
		acct.Deployed = new(big.Int).Add(acct.Deployed, amount)
		acct.Raw = new(big.Int).Sub(acct.Raw, amount)
		res.Deposited = amount
	case 1:
		excess := new(big.Int).Sub(acct.Deployed, target)
		shares := new(big.Int).Set(acct.Shares)
		if target.Sign() > 0 {
			// Round up so the withdrawal covers the excess in full.
			up, err := l.vault.SharesForValue(acct.Asset, excess, true)
			if err != nil {
				return res, fmt.Errorf("pool: convert excess: %w", err)
			}
			shares = fixedpoint.Min(up, acct.Shares)
		}
		if shares.Sign() == 0 {
			return res, nil
		}
		got, err := l.vault.Withdraw(acct.Asset, l.address, shares)
		if err != nil {
			return res, fmt.Errorf("pool: vault withdraw: %w", err)
		}
		acct.Shares = new(big.Int).Sub(acct.Shares, shares)
		reduce := fixedpoint.Min(got, acct.Deployed)
		acct.Deployed = new(big.Int).Sub(acct.Deployed, reduce)
		acct.Raw = new(big.Int).Add(acct.Raw, reduce)
		res.Withdrawn = reduce
		// Anything above the deployed amount is unrealized profit that
		// came out with the shares.
		if surplus := new(big.Int).Sub(got, reduce); surplus.Sign() > 0 {
			if err := l.distributeProfit(acct.Asset, surplus, cfg, &res); err != nil {
				return res, err
			}
		}
	}
	l.emitter.Emit(events.PoolRebalanced{
		Asset:     acct.Asset,
		Deposited: res.Deposited,
		Withdrawn: res.Withdrawn,
		Deployed:  fixedpoint.Clone(acct.Deployed),
		TargetBps: ycfg.TargetBps,
	})
	return res, nil
}

// distributeProfit splits realized profit held by the ledger. The stability
// pool takes the remainder after the treasury and staking shares; a share
// whose receiver has nobody to pay goes to the treasury.
func (l *Ledger) distributeProfit(asset common.Address, amount *big.Int, cfg RebalancerConfig, res *RebalanceResult) error {
	if amount.Sign() == 0 {
		return nil
	}
	if cfg.Treasury == (common.Address{}) {
		return fmt.Errorf("%w: treasury not configured", ErrInvalidConfig)
	}
	treasury, err := fixedpoint.BpsOf(amount, cfg.Splits.TreasuryBps)
	if err != nil {
		return err
	}
	staking, err := fixedpoint.BpsOf(amount, cfg.Splits.StakingBps)
	if err != nil {
		return err
	}
	stability := new(big.Int).Sub(amount, new(big.Int).Add(treasury, staking))

	route := func(receiver YieldReceiver, share *big.Int, name string) (*big.Int, error) {
		if share.Sign() == 0 {
			return share, nil
		}
		if receiver != nil {
			if err := l.bank.Approve(asset, l.address, receiver.Address(), share); err != nil {
				return nil, err
			}
			ok, err := receiver.DistributeYield(asset, l.address, share)
			if err != nil {
				return nil, fmt.Errorf("pool: distribute %s yield: %w", name, err)
			}
			if ok {
				return share, nil
			}
			if err := l.bank.Approve(asset, l.address, receiver.Address(), big.NewInt(0)); err != nil {
				return nil, err
			}
		}
		l.emitter.Emit(events.YieldRouted{Pool: name, Asset: asset, To: cfg.Treasury, Amount: new(big.Int).Set(share)})
		treasury.Add(treasury, share)
		return big.NewInt(0), nil
	}
	if staking, err = route(l.staking, staking, "staking"); err != nil {
		return err
	}
	if stability, err = route(l.stability, stability, "stability"); err != nil {
		return err
	}
	if treasury.Sign() > 0 {
		if err := l.bank.TransferOut(asset, l.address, cfg.Treasury, treasury); err != nil {
			return fmt.Errorf("pool: pay treasury: %w", err)
		}
	}
	res.Profit.Add(res.Profit, amount)
	res.Treasury.Add(res.Treasury, treasury)
	res.Stability.Add(res.Stability, stability)
	res.Staking.Add(res.Staking, staking)
	l.emitter.Emit(events.PoolYieldRealized{
		Asset:     asset,
		Profit:    new(big.Int).Set(amount),
		Treasury:  new(big.Int).Set(treasury),
		Stability: new(big.Int).Set(stability),
		Staking:   new(big.Int).Set(staking),
	})
	return nil
}
