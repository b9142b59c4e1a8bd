package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/types"
)

const (
	// TypeAssetRegistered is emitted when a collateral asset is added.
	TypeAssetRegistered = "asset.registered"
	// TypeRebalancerConfigured records a per-asset yield configuration change.
	TypeRebalancerConfigured = "rebalancer.configured"
	// TypeRebalancerSplitsUpdated records new profit split percentages.
	TypeRebalancerSplitsUpdated = "rebalancer.splitsUpdated"
)

// AssetRegistered captures a new collateral registration.
type AssetRegistered struct {
	Asset    common.Address
	Symbol   string
	Decimals uint8
	MCR      *big.Int
	CCR      *big.Int
}

func (AssetRegistered) EventType() string { return TypeAssetRegistered }

func (e AssetRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetRegistered,
		Attributes: map[string]string{
			"asset":    addressString(e.Asset),
			"symbol":   e.Symbol,
			"decimals": strconv.FormatUint(uint64(e.Decimals), 10),
			"mcr":      amountString(e.MCR),
			"ccr":      amountString(e.CCR),
		},
	}
}

// RebalancerConfigured captures per-asset yield parameters.
type RebalancerConfigured struct {
	Asset          common.Address
	TargetBps      uint64
	DriftBps       uint64
	ClaimThreshold *big.Int
}

func (RebalancerConfigured) EventType() string { return TypeRebalancerConfigured }

func (e RebalancerConfigured) Event() *types.Event {
	return &types.Event{
		Type: TypeRebalancerConfigured,
		Attributes: map[string]string{
			"asset":          addressString(e.Asset),
			"targetBps":      strconv.FormatUint(e.TargetBps, 10),
			"driftBps":       strconv.FormatUint(e.DriftBps, 10),
			"claimThreshold": amountString(e.ClaimThreshold),
		},
	}
}

// RebalancerSplitsUpdated captures the profit split.
type RebalancerSplitsUpdated struct {
	Treasury     common.Address
	TreasuryBps  uint64
	StabilityBps uint64
	StakingBps   uint64
}

func (RebalancerSplitsUpdated) EventType() string { return TypeRebalancerSplitsUpdated }

func (e RebalancerSplitsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRebalancerSplitsUpdated,
		Attributes: map[string]string{
			"treasury":     addressString(e.Treasury),
			"treasuryBps":  strconv.FormatUint(e.TreasuryBps, 10),
			"stabilityBps": strconv.FormatUint(e.StabilityBps, 10),
			"stakingBps":   strconv.FormatUint(e.StakingBps, 10),
		},
	}
}
