package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/types"
)

const (
	// TypePoolDebtUpdated is emitted whenever a pool's recorded debt changes.
	TypePoolDebtUpdated = "pool.debtUpdated"
	// TypePoolCollateralUpdated is emitted whenever a pool's recorded collateral changes.
	TypePoolCollateralUpdated = "pool.collateralUpdated"
	// TypePoolCollateralSent records collateral leaving a pool.
	TypePoolCollateralSent = "pool.collateralSent"
	// TypePoolYieldRealized records vault profit harvested and split.
	TypePoolYieldRealized = "pool.yieldRealized"
	// TypePoolRebalanced records a deposit into or withdrawal from the vault.
	TypePoolRebalanced = "pool.rebalanced"
)

// PoolDebtUpdated captures a debt change.
type PoolDebtUpdated struct {
	Role  string
	Asset common.Address
	Debt  *big.Int
}

func (PoolDebtUpdated) EventType() string { return TypePoolDebtUpdated }

func (e PoolDebtUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePoolDebtUpdated,
		Attributes: map[string]string{
			"role":  e.Role,
			"asset": addressString(e.Asset),
			"debt":  amountString(e.Debt),
		},
	}
}

// PoolCollateralUpdated captures the recorded collateral after a pull or send.
// Normalized* carry the same balances in 18 decimal accounting units.
type PoolCollateralUpdated struct {
	Role     string
	Asset    common.Address
	Total    *big.Int
	Raw      *big.Int
	Deployed *big.Int

	NormalizedTotal    *big.Int
	NormalizedRaw      *big.Int
	NormalizedDeployed *big.Int
}

func (PoolCollateralUpdated) EventType() string { return TypePoolCollateralUpdated }

func (e PoolCollateralUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePoolCollateralUpdated,
		Attributes: map[string]string{
			"role":     e.Role,
			"asset":    addressString(e.Asset),
			"total":    amountString(e.Total),
			"raw":      amountString(e.Raw),
			"deployed": amountString(e.Deployed),

			"normalizedTotal":    amountString(e.NormalizedTotal),
			"normalizedRaw":      amountString(e.NormalizedRaw),
			"normalizedDeployed": amountString(e.NormalizedDeployed),
		},
	}
}

// PoolCollateralSent records an outbound transfer.
type PoolCollateralSent struct {
	Role   string
	Asset  common.Address
	To     common.Address
	Amount *big.Int
}

func (PoolCollateralSent) EventType() string { return TypePoolCollateralSent }

func (e PoolCollateralSent) Event() *types.Event {
	return &types.Event{
		Type: TypePoolCollateralSent,
		Attributes: map[string]string{
			"role":   e.Role,
			"asset":  addressString(e.Asset),
			"to":     addressString(e.To),
			"amount": amountString(e.Amount),
		},
	}
}

// PoolYieldRealized records a profit harvest and its three-way split.
type PoolYieldRealized struct {
	Asset     common.Address
	Profit    *big.Int
	Treasury  *big.Int
	Stability *big.Int
	Staking   *big.Int
}

func (PoolYieldRealized) EventType() string { return TypePoolYieldRealized }

func (e PoolYieldRealized) Event() *types.Event {
	return &types.Event{
		Type: TypePoolYieldRealized,
		Attributes: map[string]string{
			"asset":     addressString(e.Asset),
			"profit":    amountString(e.Profit),
			"treasury":  amountString(e.Treasury),
			"stability": amountString(e.Stability),
			"staking":   amountString(e.Staking),
		},
	}
}

// PoolRebalanced records vault movement towards the target allocation.
type PoolRebalanced struct {
	Asset     common.Address
	Deposited *big.Int
	Withdrawn *big.Int
	Deployed  *big.Int
	TargetBps uint64
}

func (PoolRebalanced) EventType() string { return TypePoolRebalanced }

func (e PoolRebalanced) Event() *types.Event {
	return &types.Event{
		Type: TypePoolRebalanced,
		Attributes: map[string]string{
			"asset":     addressString(e.Asset),
			"deposited": amountString(e.Deposited),
			"withdrawn": amountString(e.Withdrawn),
			"deployed":  amountString(e.Deployed),
			"targetBps": strconv.FormatUint(e.TargetBps, 10),
		},
	}
}
