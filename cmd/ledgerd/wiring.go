package main

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/config"
	"reserveledger/core"
	nativecommon "reserveledger/native/common"
)

// engineOptions applies the configured account and token overrides on top
// of the derived defaults.
func engineOptions(cfg *config.Config, logger *slog.Logger) core.Options {
	accounts := core.DefaultAccounts()
	override(&accounts.ActivePool, cfg.Accounts.ActivePool)
	override(&accounts.DefaultPool, cfg.Accounts.DefaultPool)
	override(&accounts.StabilityPool, cfg.Accounts.StabilityPool)
	override(&accounts.Staking, cfg.Accounts.Staking)
	override(&accounts.Vault, cfg.Accounts.Vault)
	override(&accounts.Issuance, cfg.Accounts.Issuance)

	tokens := core.DefaultTokens()
	override(&tokens.Stable, cfg.Tokens.Stable)
	override(&tokens.Governance, cfg.Tokens.Governance)

	return core.Options{
		Accounts:       accounts,
		Tokens:         tokens,
		IssuancePeriod: cfg.Issuance.IssuancePeriod(),
		Logger:         logger,
		Pauses:         nativecommon.NewPauses(cfg.Pauses.Modules()...),
	}
}

func override(dst *common.Address, value string) {
	if addr := config.Address(value); addr != (common.Address{}) {
		*dst = addr
	}
}
