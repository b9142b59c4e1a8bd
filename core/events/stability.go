package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/types"
)

const (
	// TypeStabilityDepositUpdated is emitted when a depositor's stake changes.
	TypeStabilityDepositUpdated = "stability.depositUpdated"
	// TypeStabilityGainPaid is emitted for each gain paid to a depositor.
	TypeStabilityGainPaid = "stability.gainPaid"
	// TypeStabilityOffset records a liquidation absorbed by the pool.
	TypeStabilityOffset = "stability.offset"
	// TypeStabilityProductUpdated carries P, scale and epoch after a loss.
	TypeStabilityProductUpdated = "stability.productUpdated"
	// TypeStabilityYieldRouted records vault profit that could not be
	// distributed because the receiving pool was empty.
	TypeStabilityYieldRouted = "stability.yieldRouted"
)

// StabilityDepositUpdated captures a depositor's new recorded stake.
type StabilityDepositUpdated struct {
	Depositor common.Address
	Deposit   *big.Int
}

func (StabilityDepositUpdated) EventType() string { return TypeStabilityDepositUpdated }

func (e StabilityDepositUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityDepositUpdated,
		Attributes: map[string]string{
			"depositor": addressString(e.Depositor),
			"deposit":   amountString(e.Deposit),
		},
	}
}

// StabilityGainPaid records a collateral or issuance gain payout.
type StabilityGainPaid struct {
	Depositor common.Address
	Asset     common.Address
	Amount    *big.Int
}

func (StabilityGainPaid) EventType() string { return TypeStabilityGainPaid }

func (e StabilityGainPaid) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityGainPaid,
		Attributes: map[string]string{
			"depositor": addressString(e.Depositor),
			"asset":     addressString(e.Asset),
			"amount":    amountString(e.Amount),
		},
	}
}

// StabilityOffset records debt cancelled against the pool.
type StabilityOffset struct {
	Asset      common.Address
	Debt       *big.Int
	Collateral *big.Int
}

func (StabilityOffset) EventType() string { return TypeStabilityOffset }

func (e StabilityOffset) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityOffset,
		Attributes: map[string]string{
			"asset":      addressString(e.Asset),
			"debt":       amountString(e.Debt),
			"collateral": amountString(e.Collateral),
		},
	}
}

// StabilityProductUpdated carries the running product state.
type StabilityProductUpdated struct {
	P     *big.Int
	Scale uint64
	Epoch uint64
}

func (StabilityProductUpdated) EventType() string { return TypeStabilityProductUpdated }

func (e StabilityProductUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityProductUpdated,
		Attributes: map[string]string{
			"p":     amountString(e.P),
			"scale": strconv.FormatUint(e.Scale, 10),
			"epoch": strconv.FormatUint(e.Epoch, 10),
		},
	}
}

// YieldRouted records undistributable yield sent to the treasury instead.
type YieldRouted struct {
	Pool   string
	Asset  common.Address
	To     common.Address
	Amount *big.Int
}

func (YieldRouted) EventType() string { return TypeStabilityYieldRouted }

func (e YieldRouted) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityYieldRouted,
		Attributes: map[string]string{
			"pool":   e.Pool,
			"asset":  addressString(e.Asset),
			"to":     addressString(e.To),
			"amount": amountString(e.Amount),
		},
	}
}
