// Package pool keeps per-asset collateral and debt books for the active and
// default pools. The active pool also deploys part of its collateral into a
// yield vault and rebalances on every balance change.
package pool

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/events"
	"reserveledger/native/assets"
	nativecommon "reserveledger/native/common"
	"reserveledger/native/fixedpoint"
)

// Role names the two ledger instances.
type Role string

const (
	RoleActive  Role = "active"
	RoleDefault Role = "default"
)

// ParseRole validates a role name.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RoleActive, RoleDefault:
		return role, nil
	default:
		return "", fmt.Errorf("pool: unknown role %q", value)
	}
}

var (
	ErrUnknownAsset           = assets.ErrUnknownAsset
	ErrDebtUnderflow          = errors.New("pool: debt underflow")
	ErrTransferMismatch       = errors.New("pool: transferred amount mismatch")
	ErrReconciliation         = errors.New("pool: reconciliation failed")
	ErrYieldLoss              = errors.New("pool: yield vault reports a loss")
	ErrInvalidConfig          = errors.New("pool: invalid configuration")
	ErrInvalidAmount          = errors.New("pool: amount must be positive")
	ErrInsufficientCollateral = errors.New("pool: insufficient collateral")
)

// Storage is the persistence surface of a ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Registry resolves registered assets.
type Registry interface {
	Require(asset common.Address) error
	Converter(asset common.Address) (fixedpoint.Converter, error)
}

// Transfers is the asset transfer capability.
type Transfers interface {
	BalanceOf(token, holder common.Address) (*big.Int, error)
	Approve(token, owner, spender common.Address, amount *big.Int) error
	TransferIn(asset, from, to common.Address, amount *big.Int) (*big.Int, error)
	TransferOut(asset, from, to common.Address, amount *big.Int) error
}

// YieldVault is the yield wrapper capability.
type YieldVault interface {
	Deposit(asset, owner common.Address, amount *big.Int) (*big.Int, error)
	Withdraw(asset, owner common.Address, shares *big.Int) (*big.Int, error)
	ValueOfShares(asset common.Address, shares *big.Int) (*big.Int, error)
	SharesForValue(asset common.Address, value *big.Int, roundUp bool) (*big.Int, error)
}

// Sink is a protocol account that pulls collateral sent to it from an
// allowance instead of receiving a plain transfer.
type Sink interface {
	Address() common.Address
	PullCollateral(asset, from common.Address, amount *big.Int) error
}

// YieldReceiver takes a share of realized vault profit. It reports false,
// without pulling, when it has nobody to distribute to.
type YieldReceiver interface {
	Address() common.Address
	DistributeYield(asset, from common.Address, amount *big.Int) (bool, error)
}

// Account is one asset's book.
type Account struct {
	Asset    common.Address
	Raw      *big.Int
	Debt     *big.Int
	Deployed *big.Int
	Shares   *big.Int
	Total    *big.Int
}

func (a Account) clone() Account {
	return Account{
		Asset:    a.Asset,
		Raw:      fixedpoint.Clone(a.Raw),
		Debt:     fixedpoint.Clone(a.Debt),
		Deployed: fixedpoint.Clone(a.Deployed),
		Shares:   fixedpoint.Clone(a.Shares),
		Total:    fixedpoint.Clone(a.Total),
	}
}

type storedAccount struct {
	Raw      string
	Debt     string
	Deployed string
	Shares   string
	Total    string
}

// Ledger is a collateral ledger for one role.
type Ledger struct {
	role     Role
	address  common.Address
	store    Storage
	registry Registry
	bank     Transfers
	vault    YieldVault
	sinks    map[common.Address]Sink

	stability YieldReceiver
	staking   YieldReceiver

	pauses  nativecommon.PauseView
	emitter events.Emitter
}

// NewLedger returns a ledger for role whose tokens are held at address.
func NewLedger(role Role, address common.Address, store Storage, registry Registry, bank Transfers) *Ledger {
	return &Ledger{
		role:     role,
		address:  address,
		store:    store,
		registry: registry,
		bank:     bank,
		sinks:    make(map[common.Address]Sink),
		emitter:  events.NoopEmitter{},
	}
}

// SetVault enables yield deployment. Only the active role rebalances.
func (l *Ledger) SetVault(v YieldVault) {
	if l == nil {
		return
	}
	l.vault = v
}

// SetSinks registers protocol accounts that pull collateral.
func (l *Ledger) SetSinks(sinks ...Sink) {
	if l == nil {
		return
	}
	for _, s := range sinks {
		if s != nil {
			l.sinks[s.Address()] = s
		}
	}
}

// SetYieldReceivers wires the stability pool and staking shares of profit.
func (l *Ledger) SetYieldReceivers(stability, staking YieldReceiver) {
	if l == nil {
		return
	}
	l.stability = stability
	l.staking = staking
}

// SetPauses configures the pause view consulted before mutations.
func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// SetEmitter configures the event sink.
func (l *Ledger) SetEmitter(e events.Emitter) {
	if l == nil {
		return
	}
	if e == nil {
		e = events.NoopEmitter{}
	}
	l.emitter = e
}

// Role returns the ledger role.
func (l *Ledger) Role() Role { return l.role }

// Address returns the account holding the ledger's tokens.
func (l *Ledger) Address() common.Address { return l.address }

func (l *Ledger) accountKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf("pool/%s/account/%s", l.role, asset.Hex()))
}

func (l *Ledger) ready() error {
	if l == nil || l.store == nil || l.registry == nil || l.bank == nil {
		return fmt.Errorf("pool: ledger not configured")
	}
	return nil
}

func (l *Ledger) guard() error {
	return nativecommon.Guard(l.pauses, nativecommon.ModulePool)
}

func (l *Ledger) rebalances() bool {
	return l.role == RoleActive && l.vault != nil
}

func (l *Ledger) load(asset common.Address) (Account, error) {
	if err := l.registry.Require(asset); err != nil {
		return Account{}, err
	}
	var stored storedAccount
	if _, err := l.store.KVGet(l.accountKey(asset), &stored); err != nil {
		return Account{}, err
	}
	acct := Account{Asset: asset}
	fields := []struct {
		src string
		dst **big.Int
	}{
		{stored.Raw, &acct.Raw},
		{stored.Debt, &acct.Debt},
		{stored.Deployed, &acct.Deployed},
		{stored.Shares, &acct.Shares},
		{stored.Total, &acct.Total},
	}
	for _, f := range fields {
		v, err := fixedpoint.ParseOrZero(f.src)
		if err != nil {
			return Account{}, err
		}
		*f.dst = v
	}
	return acct, nil
}

func (l *Ledger) save(acct Account) error {
	return l.store.KVPut(l.accountKey(acct.Asset), storedAccount{
		Raw:      acct.Raw.String(),
		Debt:     acct.Debt.String(),
		Deployed: acct.Deployed.String(),
		Shares:   acct.Shares.String(),
		Total:    acct.Total.String(),
	})
}

// Account returns the book for asset.
func (l *Ledger) Account(asset common.Address) (Account, error) {
	if err := l.ready(); err != nil {
		return Account{}, err
	}
	return l.load(asset)
}

// IncreaseDebt records new debt for asset.
func (l *Ledger) IncreaseDebt(asset common.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.guard(); err != nil {
		return err
	}
	if err := fixedpoint.Check(amount); err != nil {
		return err
	}
	acct, err := l.load(asset)
	if err != nil {
		return err
	}
	if acct.Debt, err = fixedpoint.Add(acct.Debt, amount); err != nil {
		return err
	}
	if err := l.save(acct); err != nil {
		return err
	}
	l.emitter.Emit(events.PoolDebtUpdated{Role: string(l.role), Asset: asset, Debt: acct.Debt})
	return nil
}

// DecreaseDebt removes debt for asset. Reaching exactly zero is allowed.
func (l *Ledger) DecreaseDebt(asset common.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.guard(); err != nil {
		return err
	}
	if err := fixedpoint.Check(amount); err != nil {
		return err
	}
	acct, err := l.load(asset)
	if err != nil {
		return err
	}
	next, err := fixedpoint.Sub(acct.Debt, amount)
	if err != nil {
		return fmt.Errorf("%w: %s debt %s, decrease %s", ErrDebtUnderflow, asset.Hex(), acct.Debt, fixedpoint.String(amount))
	}
	acct.Debt = next
	if err := l.save(acct); err != nil {
		return err
	}
	l.emitter.Emit(events.PoolDebtUpdated{Role: string(l.role), Asset: asset, Debt: acct.Debt})
	return nil
}

// PullCollateral moves amount of asset in from an account that approved the
// ledger. Fee-on-transfer tokens are rejected.
func (l *Ledger) PullCollateral(asset, from common.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acct, err := l.load(asset)
	if err != nil {
		return err
	}
	received, err := l.bank.TransferIn(asset, from, l.address, amount)
	if err != nil {
		return fmt.Errorf("pool: pull collateral: %w", err)
	}
	if received.Cmp(amount) != 0 {
		return fmt.Errorf("%w: requested %s, received %s", ErrTransferMismatch, amount, received)
	}
	if acct.Raw, err = fixedpoint.Add(acct.Raw, amount); err != nil {
		return err
	}
	if acct.Total, err = fixedpoint.Add(acct.Total, amount); err != nil {
		return err
	}
	if l.rebalances() {
		if _, err := l.rebalance(&acct, big.NewInt(0)); err != nil {
			return err
		}
	}
	if err := l.reconcile(acct); err != nil {
		return err
	}
	if err := l.save(acct); err != nil {
		return err
	}
	return l.emitCollateral(acct)
}

// SendCollateral moves amount of asset to to. The vault is rebalanced first
// with amount treated as leaving so the raw balance covers the transfer.
func (l *Ledger) SendCollateral(asset, to common.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acct, err := l.load(asset)
	if err != nil {
		return err
	}
	if acct.Total.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, sending %s", ErrInsufficientCollateral, asset.Hex(), acct.Total, amount)
	}
	if l.rebalances() {
		if _, err := l.rebalance(&acct, amount); err != nil {
			return err
		}
	}
	if acct.Raw.Cmp(amount) < 0 {
		return fmt.Errorf("%w: raw %s, sending %s", ErrInsufficientCollateral, acct.Raw, amount)
	}
	acct.Raw = new(big.Int).Sub(acct.Raw, amount)
	acct.Total = new(big.Int).Sub(acct.Total, amount)
	if err := l.save(acct); err != nil {
		return err
	}
	if sink, ok := l.sinks[to]; ok {
		if err := l.bank.Approve(asset, l.address, to, amount); err != nil {
			return err
		}
		if err := sink.PullCollateral(asset, l.address, amount); err != nil {
			return fmt.Errorf("pool: send collateral to %s: %w", to.Hex(), err)
		}
	} else if err := l.bank.TransferOut(asset, l.address, to, amount); err != nil {
		return fmt.Errorf("pool: send collateral: %w", err)
	}
	if err := l.reconcile(acct); err != nil {
		return err
	}
	l.emitter.Emit(events.PoolCollateralSent{Role: string(l.role), Asset: asset, To: to, Amount: new(big.Int).Set(amount)})
	return l.emitCollateral(acct)
}

// reconcile checks raw + deployed == total, that the token balance covers the
// recorded raw balance and that the vault still covers the deployed amount.
func (l *Ledger) reconcile(acct Account) error {
	sum := new(big.Int).Add(acct.Raw, acct.Deployed)
	if sum.Cmp(acct.Total) != 0 {
		return fmt.Errorf("%w: raw %s + deployed %s != total %s", ErrReconciliation, acct.Raw, acct.Deployed, acct.Total)
	}
	held, err := l.bank.BalanceOf(acct.Asset, l.address)
	if err != nil {
		return err
	}
	if held.Cmp(acct.Raw) < 0 {
		return fmt.Errorf("%w: holds %s, recorded raw %s", ErrReconciliation, held, acct.Raw)
	}
	if l.vault != nil && acct.Shares.Sign() > 0 {
		value, err := l.vault.ValueOfShares(acct.Asset, acct.Shares)
		if err != nil {
			return fmt.Errorf("pool: value shares: %w", err)
		}
		if value.Cmp(acct.Deployed) < 0 {
			return fmt.Errorf("%w: vault value %s below deployed %s", ErrReconciliation, value, acct.Deployed)
		}
	}
	return nil
}

// Normalized is an account's collateral in 18 decimal accounting units.
type Normalized struct {
	Raw      *big.Int
	Deployed *big.Int
	Total    *big.Int
}

// Normalize converts acct's collateral balances to accounting units.
func (l *Ledger) Normalize(acct Account) (Normalized, error) {
	conv, err := l.registry.Converter(acct.Asset)
	if err != nil {
		return Normalized{}, err
	}
	var out Normalized
	if out.Raw, err = conv.Normalize(acct.Raw); err != nil {
		return Normalized{}, fmt.Errorf("%w: normalize raw: %v", ErrReconciliation, err)
	}
	if out.Deployed, err = conv.Normalize(acct.Deployed); err != nil {
		return Normalized{}, fmt.Errorf("%w: normalize deployed: %v", ErrReconciliation, err)
	}
	if out.Total, err = conv.Normalize(acct.Total); err != nil {
		return Normalized{}, fmt.Errorf("%w: normalize total: %v", ErrReconciliation, err)
	}
	return out, nil
}

func (l *Ledger) emitCollateral(acct Account) error {
	norm, err := l.Normalize(acct)
	if err != nil {
		return err
	}
	l.emitter.Emit(events.PoolCollateralUpdated{
		Role:               string(l.role),
		Asset:              acct.Asset,
		Total:              fixedpoint.Clone(acct.Total),
		Raw:                fixedpoint.Clone(acct.Raw),
		Deployed:           fixedpoint.Clone(acct.Deployed),
		NormalizedTotal:    norm.Total,
		NormalizedRaw:      norm.Raw,
		NormalizedDeployed: norm.Deployed,
	})
	return nil
}
