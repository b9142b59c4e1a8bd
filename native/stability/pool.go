// Package stability is the liquidation-absorbing pool. Depositors provide
// stable tokens that are burned against liquidated debt; in return they earn
// the liquidated collateral, issuance rewards and a share of vault yield.
package stability

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/events"
	nativecommon "reserveledger/native/common"
	"reserveledger/native/distributor"
	"reserveledger/native/fixedpoint"
)

// IssuanceKey is the reward key of issuance gains.
const IssuanceKey = "issuance"

const namespace = "stability"

var (
	ErrNoDeposit        = errors.New("stability: depositor has no deposit")
	ErrInvalidAmount    = errors.New("stability: amount must be positive")
	ErrTransferMismatch = errors.New("stability: transferred amount mismatch")
	ErrUnauthorized     = errors.New("stability: caller not authorised")
)

// Storage is the persistence surface of the pool.
type Storage interface {
	distributor.Storage
}

// Bank moves the stable token and collateral.
type Bank interface {
	BalanceOf(token, holder common.Address) (*big.Int, error)
	TransferIn(asset, from, to common.Address, amount *big.Int) (*big.Int, error)
	TransferOut(asset, from, to common.Address, amount *big.Int) error
	Burn(token, from common.Address, amount *big.Int) error
}

// Registry resolves registered assets.
type Registry interface {
	Require(asset common.Address) error
}

// ActivePool is the collateral ledger debt is cancelled against.
type ActivePool interface {
	Address() common.Address
	DecreaseDebt(asset common.Address, amount *big.Int) error
	SendCollateral(asset, to common.Address, amount *big.Int) error
}

// Issuer feeds issuance rewards into the pool.
type Issuer interface {
	Issue() (*big.Int, error)
	SendReward(to common.Address, amount *big.Int) (*big.Int, error)
	Token() common.Address
}

type storedAmount struct {
	Amount string
}

// Pool is the stability pool.
type Pool struct {
	address  common.Address
	stable   common.Address
	store    Storage
	dist     *distributor.Distributor
	bank     Bank
	registry Registry
	active   ActivePool
	issuer   Issuer

	pauses  nativecommon.PauseView
	emitter events.Emitter
}

// New returns a pool holding its tokens at address.
func New(address, stable common.Address, store Storage, bank Bank, registry Registry) *Pool {
	return &Pool{
		address:  address,
		stable:   stable,
		store:    store,
		dist:     distributor.New(store, namespace),
		bank:     bank,
		registry: registry,
		emitter:  events.NoopEmitter{},
	}
}

// SetActivePool wires the ledger liquidations offset against.
func (p *Pool) SetActivePool(active ActivePool) {
	if p != nil {
		p.active = active
	}
}

// SetIssuer wires the issuance scheduler.
func (p *Pool) SetIssuer(issuer Issuer) {
	if p != nil {
		p.issuer = issuer
	}
}

// SetPauses configures the pause view consulted before mutations.
func (p *Pool) SetPauses(view nativecommon.PauseView) {
	if p != nil {
		p.pauses = view
	}
}

// SetEmitter configures the event sink.
func (p *Pool) SetEmitter(e events.Emitter) {
	if p == nil {
		return
	}
	if e == nil {
		e = events.NoopEmitter{}
	}
	p.emitter = e
}

// Address is the account holding the pool's tokens.
func (p *Pool) Address() common.Address { return p.address }

func (p *Pool) ready() error {
	if p == nil || p.store == nil || p.bank == nil || p.registry == nil {
		return fmt.Errorf("stability: pool not configured")
	}
	return nil
}

func (p *Pool) guard() error {
	if err := p.ready(); err != nil {
		return err
	}
	return nativecommon.Guard(p.pauses, nativecommon.ModuleStability)
}

func collateralKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s/collateral/%s", namespace, asset.Hex()))
}

// CollateralBalance is the collateral of asset the pool holds for depositors.
func (p *Pool) CollateralBalance(asset common.Address) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	var stored storedAmount
	ok, err := p.store.KVGet(collateralKey(asset), &stored)
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	return fixedpoint.ParseOrZero(stored.Amount)
}

func (p *Pool) adjustCollateral(asset common.Address, delta *big.Int, add bool) error {
	balance, err := p.CollateralBalance(asset)
	if err != nil {
		return err
	}
	if add {
		balance, err = fixedpoint.Add(balance, delta)
	} else {
		balance, err = fixedpoint.Sub(balance, delta)
	}
	if err != nil {
		return fmt.Errorf("stability: collateral balance: %w", err)
	}
	return p.store.KVPut(collateralKey(asset), storedAmount{Amount: balance.String()})
}

// triggerIssuance folds newly issued rewards into the issuance sum.
func (p *Pool) triggerIssuance() error {
	if p.issuer == nil {
		return nil
	}
	issued, err := p.issuer.Issue()
	if err != nil {
		return fmt.Errorf("stability: issue rewards: %w", err)
	}
	if issued.Sign() == 0 {
		return nil
	}
	if _, err := p.dist.Inject(IssuanceKey, issued); err != nil {
		return err
	}
	return nil
}

func (p *Pool) payGains(depositor common.Address, s distributor.Settlement) error {
	for _, key := range s.Keys {
		amount := s.Reward(key)
		if amount.Sign() == 0 {
			continue
		}
		if key == IssuanceKey {
			if p.issuer == nil {
				continue
			}
			paid, err := p.issuer.SendReward(depositor, amount)
			if err != nil {
				return err
			}
			p.emitter.Emit(events.StabilityGainPaid{Depositor: depositor, Asset: p.issuer.Token(), Amount: paid})
			continue
		}
		asset := common.HexToAddress(key)
		if err := p.adjustCollateral(asset, amount, false); err != nil {
			return err
		}
		if err := p.bank.TransferOut(asset, p.address, depositor, amount); err != nil {
			return fmt.Errorf("stability: pay collateral gain: %w", err)
		}
		p.emitter.Emit(events.StabilityGainPaid{Depositor: depositor, Asset: asset, Amount: amount})
	}
	return nil
}

// Provide deposits amount of stable tokens, paying out pending gains first.
func (p *Pool) Provide(depositor common.Address, amount *big.Int) (distributor.Settlement, error) {
	if err := p.guard(); err != nil {
		return distributor.Settlement{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return distributor.Settlement{}, ErrInvalidAmount
	}
	if err := p.triggerIssuance(); err != nil {
		return distributor.Settlement{}, err
	}
	s, err := p.dist.Settle(depositor, amount)
	if err != nil {
		return distributor.Settlement{}, err
	}
	received, err := p.bank.TransferIn(p.stable, depositor, p.address, amount)
	if err != nil {
		return distributor.Settlement{}, fmt.Errorf("stability: pull deposit: %w", err)
	}
	if received.Cmp(amount) != 0 {
		return distributor.Settlement{}, fmt.Errorf("%w: requested %s, received %s", ErrTransferMismatch, amount, received)
	}
	if err := p.payGains(depositor, s); err != nil {
		return distributor.Settlement{}, err
	}
	p.emitter.Emit(events.StabilityDepositUpdated{Depositor: depositor, Deposit: s.Stake})
	return s, nil
}

// Withdraw removes up to amount of the compounded deposit and pays gains.
// A zero amount only claims gains.
func (p *Pool) Withdraw(depositor common.Address, amount *big.Int) (distributor.Settlement, error) {
	if err := p.guard(); err != nil {
		return distributor.Settlement{}, err
	}
	if amount == nil || amount.Sign() < 0 {
		return distributor.Settlement{}, ErrInvalidAmount
	}
	if _, ok, err := p.dist.Deposit(depositor); err != nil {
		return distributor.Settlement{}, err
	} else if !ok {
		return distributor.Settlement{}, ErrNoDeposit
	}
	if err := p.triggerIssuance(); err != nil {
		return distributor.Settlement{}, err
	}
	s, err := p.dist.Settle(depositor, new(big.Int).Neg(amount))
	if err != nil {
		return distributor.Settlement{}, err
	}
	if s.Withdrawn.Sign() > 0 {
		if err := p.bank.TransferOut(p.stable, p.address, depositor, s.Withdrawn); err != nil {
			return distributor.Settlement{}, fmt.Errorf("stability: pay withdrawal: %w", err)
		}
	}
	if err := p.payGains(depositor, s); err != nil {
		return distributor.Settlement{}, err
	}
	p.emitter.Emit(events.StabilityDepositUpdated{Depositor: depositor, Deposit: s.Stake})
	return s, nil
}

// Offset cancels debt of asset against the pool's deposits and moves coll
// of liquidated collateral from the active pool into this pool.
func (p *Pool) Offset(asset common.Address, debt, coll *big.Int) error {
	if err := p.guard(); err != nil {
		return err
	}
	if p.active == nil {
		return fmt.Errorf("stability: active pool not configured")
	}
	if err := p.registry.Require(asset); err != nil {
		return err
	}
	if err := fixedpoint.Check(debt); err != nil {
		return err
	}
	if err := fixedpoint.Check(coll); err != nil {
		return err
	}
	if err := p.triggerIssuance(); err != nil {
		return err
	}
	if err := p.dist.Offset(asset.Hex(), debt, coll); err != nil {
		return err
	}
	if !fixedpoint.IsZero(debt) {
		if err := p.active.DecreaseDebt(asset, debt); err != nil {
			return err
		}
		if err := p.bank.Burn(p.stable, p.address, debt); err != nil {
			return fmt.Errorf("stability: burn offset debt: %w", err)
		}
	}
	if !fixedpoint.IsZero(coll) {
		if err := p.active.SendCollateral(asset, p.address, coll); err != nil {
			return err
		}
	}
	g, err := p.dist.Globals()
	if err != nil {
		return err
	}
	p.emitter.Emit(events.StabilityOffset{Asset: asset, Debt: fixedpoint.Clone(debt), Collateral: fixedpoint.Clone(coll)})
	p.emitter.Emit(events.StabilityProductUpdated{P: g.P, Scale: g.Scale, Epoch: g.Epoch})
	return nil
}

// PullCollateral accepts collateral sent by the active pool.
func (p *Pool) PullCollateral(asset, from common.Address, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if p.active == nil || from != p.active.Address() {
		return fmt.Errorf("%w: %s cannot send collateral", ErrUnauthorized, from.Hex())
	}
	if err := p.receive(asset, from, amount); err != nil {
		return err
	}
	return p.adjustCollateral(asset, amount, true)
}

func (p *Pool) receive(asset, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	received, err := p.bank.TransferIn(asset, from, p.address, amount)
	if err != nil {
		return fmt.Errorf("stability: receive collateral: %w", err)
	}
	if received.Cmp(amount) != 0 {
		return fmt.Errorf("%w: requested %s, received %s", ErrTransferMismatch, amount, received)
	}
	return nil
}

// DistributeYield takes the pool's share of vault profit and hands it to
// depositors as a collateral gain. It reports false when the pool is empty.
func (p *Pool) DistributeYield(asset, from common.Address, amount *big.Int) (bool, error) {
	if err := p.ready(); err != nil {
		return false, err
	}
	g, err := p.dist.Globals()
	if err != nil {
		return false, err
	}
	if g.TotalStake.Sign() == 0 {
		return false, nil
	}
	if err := p.receive(asset, from, amount); err != nil {
		return false, err
	}
	if err := p.adjustCollateral(asset, amount, true); err != nil {
		return false, err
	}
	return p.dist.Inject(asset.Hex(), amount)
}

// CompoundedDeposit is the depositor's deposit after losses.
func (p *Pool) CompoundedDeposit(depositor common.Address) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.dist.CompoundedStake(depositor)
}

// CollateralGain is the unclaimed gain of asset.
func (p *Pool) CollateralGain(depositor, asset common.Address) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.dist.PendingReward(depositor, asset.Hex())
}

// CollateralGains lists every unclaimed collateral gain of depositor.
func (p *Pool) CollateralGains(depositor common.Address) (map[common.Address]*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	keys, err := p.dist.RewardKeys()
	if err != nil {
		return nil, err
	}
	out := make(map[common.Address]*big.Int)
	for _, key := range keys {
		if key == IssuanceKey {
			continue
		}
		gain, err := p.dist.PendingReward(depositor, key)
		if err != nil {
			return nil, err
		}
		out[common.HexToAddress(key)] = gain
	}
	return out, nil
}

// IssuanceGain is the unclaimed issuance reward of depositor.
func (p *Pool) IssuanceGain(depositor common.Address) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.dist.PendingReward(depositor, IssuanceKey)
}

// TotalDeposits is the recorded stable total.
func (p *Pool) TotalDeposits() (*big.Int, error) {
	g, err := p.Snapshot()
	if err != nil {
		return nil, err
	}
	return g.TotalStake, nil
}

// Snapshot returns P, scale, epoch and the total deposits.
func (p *Pool) Snapshot() (distributor.Globals, error) {
	if err := p.ready(); err != nil {
		return distributor.Globals{}, err
	}
	return p.dist.Globals()
}

// Depositors lists the addresses with an open deposit record.
func (p *Pool) Depositors() ([]common.Address, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.dist.Owners()
}
