// Package errors classifies ledger failures so callers can tell a bad
// request from a misconfiguration, a failing collaborator or a broken
// invariant.
package errors

import (
	stderrors "errors"

	"reserveledger/native/assets"
	"reserveledger/native/bank"
	nativecommon "reserveledger/native/common"
	"reserveledger/native/distributor"
	"reserveledger/native/fixedpoint"
	"reserveledger/native/issuance"
	"reserveledger/native/pool"
	"reserveledger/native/stability"
	"reserveledger/native/staking"
	"reserveledger/native/vault"
)

// Kind is the class of a ledger error.
type Kind int

const (
	// KindInvariant marks an internal inconsistency. The operation is
	// aborted and the state is left untouched.
	KindInvariant Kind = iota
	KindConfig
	KindExternal
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindExternal:
		return "external"
	case KindUser:
		return "user"
	default:
		return "invariant"
	}
}

var (
	// ErrGenesisApplied is returned when genesis runs over a populated store.
	ErrGenesisApplied = stderrors.New("ledger: genesis already applied")
	// ErrBadRequest wraps malformed caller input.
	ErrBadRequest = stderrors.New("ledger: bad request")
)

var userErrors = []error{
	ErrBadRequest,
	ErrGenesisApplied,
	nativecommon.ErrModulePaused,
	assets.ErrUnknownAsset,
	assets.ErrAlreadyRegistered,
	bank.ErrInsufficientBalance,
	bank.ErrInsufficientAllowance,
	bank.ErrInvalidAmount,
	pool.ErrInvalidAmount,
	pool.ErrInsufficientCollateral,
	stability.ErrNoDeposit,
	stability.ErrInvalidAmount,
	stability.ErrUnauthorized,
	staking.ErrNoStake,
	staking.ErrInvalidAmount,
	distributor.ErrZeroTotalStake,
	distributor.ErrLossExceedsStake,
	distributor.ErrInvalidAmount,
	issuance.ErrZeroFunding,
	vault.ErrInvalidAmount,
	fixedpoint.ErrInvalidAmount,
	fixedpoint.ErrNegative,
}

var configErrors = []error{
	pool.ErrInvalidConfig,
	assets.ErrInvalidRiskBounds,
	assets.ErrInvalidAsset,
	fixedpoint.ErrUnsupportedDecimals,
	issuance.ErrInvalidPeriod,
	bank.ErrInvalidFee,
	vault.ErrNotConfigured,
}

var externalErrors = []error{
	vault.ErrUnavailable,
	vault.ErrInsufficientShares,
	pool.ErrYieldLoss,
	pool.ErrTransferMismatch,
	stability.ErrTransferMismatch,
	staking.ErrTransferMismatch,
}

func matches(err error, targets []error) bool {
	for _, target := range targets {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}

// Classify maps err to its kind. Unknown errors are treated as invariant
// violations. Invariant markers are checked first so an overflow inside a
// user-facing call is never reported as the caller's fault.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInvariant
	case stderrors.Is(err, distributor.ErrInvariant),
		stderrors.Is(err, pool.ErrDebtUnderflow),
		stderrors.Is(err, pool.ErrReconciliation),
		stderrors.Is(err, fixedpoint.ErrOverflow),
		stderrors.Is(err, fixedpoint.ErrUnderflow),
		stderrors.Is(err, fixedpoint.ErrDivisionByZero):
		return KindInvariant
	case matches(err, externalErrors):
		return KindExternal
	case matches(err, configErrors):
		return KindConfig
	case matches(err, userErrors):
		return KindUser
	default:
		return KindInvariant
	}
}
