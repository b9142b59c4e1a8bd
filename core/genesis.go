package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	ledgererrors "reserveledger/core/errors"
	"reserveledger/core/events"
	"reserveledger/core/genesis"
	"reserveledger/core/types"
)

// ApplyGenesis seeds an empty ledger from plan in one transaction. It fails
// with ErrGenesisApplied once any asset is registered.
func (e *Engine) ApplyGenesis(ctx context.Context, plan *genesis.Plan) (types.Receipt, error) {
	if plan == nil {
		return types.Receipt{}, fmt.Errorf("%w: genesis plan required", ledgererrors.ErrBadRequest)
	}
	return e.execute(ctx, "genesis.apply", func(m *modules) error {
		existing, err := m.registry.List()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ledgererrors.ErrGenesisApplied
		}
		for _, entry := range plan.Assets {
			registered, err := m.registry.Register(entry.Asset)
			if err != nil {
				return fmt.Errorf("genesis: register %s: %w", entry.Asset.Address.Hex(), err)
			}
			m.emitter.Emit(events.AssetRegistered{
				Asset:    registered.Address,
				Symbol:   registered.Symbol,
				Decimals: registered.Decimals,
				MCR:      registered.MCR,
				CCR:      registered.CCR,
			})
		}
		if plan.DriftBps != nil {
			if err := m.active.SetDriftBps(*plan.DriftBps); err != nil {
				return err
			}
		}
		if plan.Treasury != (common.Address{}) {
			if err := m.active.SetTreasury(plan.Treasury); err != nil {
				return err
			}
		}
		if plan.Splits != nil {
			if err := m.active.SetSplits(*plan.Splits); err != nil {
				return err
			}
		}
		for _, entry := range plan.Assets {
			if err := m.active.SetYieldConfig(entry.Asset.Address, entry.Yield); err != nil {
				return fmt.Errorf("genesis: yield %s: %w", entry.Asset.Address.Hex(), err)
			}
		}
		if plan.IssuancePeriod > 0 {
			if err := m.issuance.UpdateDistributionPeriod(plan.IssuancePeriod); err != nil {
				return err
			}
		}
		for _, alloc := range plan.Alloc {
			token := e.resolveToken(alloc.Token)
			if err := m.bank.Mint(token, alloc.Holder, alloc.Amount); err != nil {
				return fmt.Errorf("genesis: alloc %s: %w", alloc.Holder.Hex(), err)
			}
		}
		return nil
	})
}

// resolveToken maps a token alias to the configured address.
func (e *Engine) resolveToken(name string) common.Address {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case genesis.TokenStable:
		return e.tokens.Stable
	case genesis.TokenGovernance:
		return e.tokens.Governance
	default:
		return common.HexToAddress(name)
	}
}
