package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/types"
)

const (
	// TypeStakingStakeChanged is emitted when a staker's stake changes.
	TypeStakingStakeChanged = "staking.stakeChanged"
	// TypeStakingGainPaid is emitted for each fee gain paid to a staker.
	TypeStakingGainPaid = "staking.gainPaid"
	// TypeStakingFeeAdded records a fee distributed to stakers.
	TypeStakingFeeAdded = "staking.feeAdded"
)

// StakingStakeChanged captures a staker's new stake.
type StakingStakeChanged struct {
	Staker common.Address
	Stake  *big.Int
}

func (StakingStakeChanged) EventType() string { return TypeStakingStakeChanged }

func (e StakingStakeChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeStakingStakeChanged,
		Attributes: map[string]string{
			"staker": addressString(e.Staker),
			"stake":  amountString(e.Stake),
		},
	}
}

// StakingGainPaid records a payout of one fee asset.
type StakingGainPaid struct {
	Staker common.Address
	Asset  common.Address
	Amount *big.Int
}

func (StakingGainPaid) EventType() string { return TypeStakingGainPaid }

func (e StakingGainPaid) Event() *types.Event {
	return &types.Event{
		Type: TypeStakingGainPaid,
		Attributes: map[string]string{
			"staker": addressString(e.Staker),
			"asset":  addressString(e.Asset),
			"amount": amountString(e.Amount),
		},
	}
}

// StakingFeeAdded records a fee handed to stakers.
type StakingFeeAdded struct {
	Asset       common.Address
	Amount      *big.Int
	Distributed bool
}

func (StakingFeeAdded) EventType() string { return TypeStakingFeeAdded }

func (e StakingFeeAdded) Event() *types.Event {
	distributed := "false"
	if e.Distributed {
		distributed = "true"
	}
	return &types.Event{
		Type: TypeStakingFeeAdded,
		Attributes: map[string]string{
			"asset":       addressString(e.Asset),
			"amount":      amountString(e.Amount),
			"distributed": distributed,
		},
	}
}
