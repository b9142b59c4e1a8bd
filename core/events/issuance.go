package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/types"
)

const (
	// TypeIssuanceFunded is emitted when the reward stream is funded.
	TypeIssuanceFunded = "issuance.funded"
	// TypeIssuanceIssued is emitted when newly issued rewards are pulled.
	TypeIssuanceIssued = "issuance.issued"
	// TypeIssuancePeriodUpdated records a distribution period change.
	TypeIssuancePeriodUpdated = "issuance.periodUpdated"
)

// IssuanceFunded records a funding round.
type IssuanceFunded struct {
	Funder           common.Address
	Amount           *big.Int
	RatePerSecond    *big.Int
	LastDistribution uint64
}

func (IssuanceFunded) EventType() string { return TypeIssuanceFunded }

func (e IssuanceFunded) Event() *types.Event {
	return &types.Event{
		Type: TypeIssuanceFunded,
		Attributes: map[string]string{
			"funder":           addressString(e.Funder),
			"amount":           amountString(e.Amount),
			"ratePerSecond":    amountString(e.RatePerSecond),
			"lastDistribution": strconv.FormatUint(e.LastDistribution, 10),
		},
	}
}

// IssuanceIssued records a pull of newly issued rewards.
type IssuanceIssued struct {
	Amount      *big.Int
	TotalIssued *big.Int
}

func (IssuanceIssued) EventType() string { return TypeIssuanceIssued }

func (e IssuanceIssued) Event() *types.Event {
	return &types.Event{
		Type: TypeIssuanceIssued,
		Attributes: map[string]string{
			"amount":      amountString(e.Amount),
			"totalIssued": amountString(e.TotalIssued),
		},
	}
}

// IssuancePeriodUpdated records a new distribution period.
type IssuancePeriodUpdated struct {
	PeriodSeconds uint64
}

func (IssuancePeriodUpdated) EventType() string { return TypeIssuancePeriodUpdated }

func (e IssuancePeriodUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeIssuancePeriodUpdated,
		Attributes: map[string]string{
			"periodSeconds": strconv.FormatUint(e.PeriodSeconds, 10),
		},
	}
}
