package observability

import (
	"strconv"

	"reserveledger/core/events"
)

// RecordEvent folds a committed ledger event into the gauges and counters.
func (m *LedgerMetrics) RecordEvent(e events.Event) {
	if m == nil || e == nil {
		return
	}
	switch ev := e.(type) {
	case events.PoolCollateralUpdated:
		asset := labelAsset(ev.Asset.Hex())
		m.collateral.WithLabelValues(ev.Role, asset, "raw").Set(bigToFloat(ev.Raw))
		m.collateral.WithLabelValues(ev.Role, asset, "deployed").Set(bigToFloat(ev.Deployed))
		m.collateral.WithLabelValues(ev.Role, asset, "total").Set(bigToFloat(ev.Total))
	case events.PoolDebtUpdated:
		m.debt.WithLabelValues(ev.Role, labelAsset(ev.Asset.Hex())).Set(bigToFloat(ev.Debt))
	case events.PoolYieldRealized:
		asset := labelAsset(ev.Asset.Hex())
		m.yield.WithLabelValues(asset, "treasury").Add(bigToFloat(ev.Treasury))
		m.yield.WithLabelValues(asset, "stability").Add(bigToFloat(ev.Stability))
		m.yield.WithLabelValues(asset, "staking").Add(bigToFloat(ev.Staking))
	case events.StabilityProductUpdated:
		m.product.WithLabelValues("p").Set(bigToFloat(ev.P))
		m.product.WithLabelValues("scale").Set(float64(ev.Scale))
		m.product.WithLabelValues("epoch").Set(float64(ev.Epoch))
	case events.IssuanceIssued:
		m.issuance.WithLabelValues("total_issued").Set(bigToFloat(ev.TotalIssued))
	case events.IssuanceFunded:
		m.issuance.WithLabelValues("rate_per_second").Set(bigToFloat(ev.RatePerSecond) / 1e18)
		m.issuance.WithLabelValues("last_distribution").Set(float64(ev.LastDistribution))
	case events.StakingFeeAdded:
		m.stakingFees.WithLabelValues(labelAsset(ev.Asset.Hex()), strconv.FormatBool(ev.Distributed)).Add(bigToFloat(ev.Amount))
	}
}

// Emitter adapts the registry to the event emitter interface.
func (m *LedgerMetrics) Emitter() events.Emitter {
	return events.EmitterFunc(m.RecordEvent)
}
