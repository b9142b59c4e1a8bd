// Package staking pays protocol fees and a share of vault yield to holders
// of the staking token. Stakes never absorb losses.
package staking

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

// DebtKey is the reward key of stable-token fees.
const DebtKey = "debt"

const namespace = "staking"

var (
	ErrNoStake          = errors.New("staking: staker has no stake")
	ErrInvalidAmount    = errors.New("staking: amount must be positive")
	ErrTransferMismatch = errors.New("staking: transferred amount mismatch")
)

// Storage is the persistence surface of the module.
type Storage interface {
	distributor.Storage
}

// Bank moves the staking token, fees and yield.
type Bank interface {
	TransferIn(asset, from, to common.Address, amount *big.Int) (*big.Int, error)
	TransferOut(asset, from, to common.Address, amount *big.Int) error
}

// Registry resolves registered assets.
type Registry interface {
	Require(asset common.Address) error
}

type storedAmount struct {
	Amount string
}

// Staking is the fee-sharing module.
type Staking struct {
	address  common.Address
	token    common.Address
	stable   common.Address
	store    Storage
	dist     *distributor.Distributor
	bank     Bank
	registry Registry

	pauses  nativecommon.PauseView
	emitter events.Emitter
}

// New returns a module that holds stakes of token and fees at address.
func New(address, token, stable common.Address, store Storage, bank Bank, registry Registry) *Staking {
	return &Staking{
		address:  address,
		token:    token,
		stable:   stable,
		store:    store,
		dist:     distributor.New(store, namespace),
		bank:     bank,
		registry: registry,
		emitter:  events.NoopEmitter{},
	}
}

// SetPauses configures the pause view consulted before mutations.
func (s *Staking) SetPauses(view nativecommon.PauseView) {
	if s != nil {
		s.pauses = view
	}
}

// SetEmitter configures the event sink.
func (s *Staking) SetEmitter(e events.Emitter) {
	if s == nil {
		return
	}
	if e == nil {
		e = events.NoopEmitter{}
	}
	s.emitter = e
}

// Address is the account holding staked tokens and undistributed fees.
func (s *Staking) Address() common.Address { return s.address }

func (s *Staking) ready() error {
	if s == nil || s.store == nil || s.bank == nil || s.registry == nil {
		return fmt.Errorf("staking: module not configured")
	}
	return nil
}

func (s *Staking) guard() error {
	if err := s.ready(); err != nil {
		return err
	}
	return nativecommon.Guard(s.pauses, nativecommon.ModuleStaking)
}

func balanceKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s/balance/%s", namespace, asset.Hex()))
}

// Balance is the amount of asset held for stakers, including fees that
// arrived while nothing was staked.
func (s *Staking) Balance(asset common.Address) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var stored storedAmount
	ok, err := s.store.KVGet(balanceKey(asset), &stored)
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	return fixedpoint.ParseOrZero(stored.Amount)
}

func (s *Staking) adjust(asset common.Address, delta *big.Int, add bool) error {
	balance, err := s.Balance(asset)
	if err != nil {
		return err
	}
	if add {
		balance, err = fixedpoint.Add(balance, delta)
	} else {
		balance, err = fixedpoint.Sub(balance, delta)
	}
	if err != nil {
		return fmt.Errorf("staking: balance of %s: %w", asset.Hex(), err)
	}
	return s.store.KVPut(balanceKey(asset), storedAmount{Amount: balance.String()})
}

func (s *Staking) keyAsset(key string) common.Address {
	if key == DebtKey {
		return s.stable
	}
	return common.HexToAddress(key)
}

func (s *Staking) payGains(staker common.Address, st distributor.Settlement) error {
	for _, key := range st.Keys {
		amount := st.Reward(key)
		if amount.Sign() == 0 {
			continue
		}
		asset := s.keyAsset(key)
		if err := s.adjust(asset, amount, false); err != nil {
			return err
		}
		if err := s.bank.TransferOut(asset, s.address, staker, amount); err != nil {
			return fmt.Errorf("staking: pay gain: %w", err)
		}
		s.emitter.Emit(events.StakingGainPaid{Staker: staker, Asset: asset, Amount: amount})
	}
	return nil
}

func (s *Staking) pull(asset, from common.Address, amount *big.Int) error {
	received, err := s.bank.TransferIn(asset, from, s.address, amount)
	if err != nil {
		return fmt.Errorf("staking: pull %s: %w", asset.Hex(), err)
	}
	if received.Cmp(amount) != 0 {
		return fmt.Errorf("%w: requested %s, received %s", ErrTransferMismatch, amount, received)
	}
	return nil
}

// Stake adds amount of the staking token and pays pending gains.
func (s *Staking) Stake(staker common.Address, amount *big.Int) (distributor.Settlement, error) {
	if err := s.guard(); err != nil {
		return distributor.Settlement{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return distributor.Settlement{}, ErrInvalidAmount
	}
	st, err := s.dist.Settle(staker, amount)
	if err != nil {
		return distributor.Settlement{}, err
	}
	if err := s.pull(s.token, staker, amount); err != nil {
		return distributor.Settlement{}, err
	}
	if err := s.payGains(staker, st); err != nil {
		return distributor.Settlement{}, err
	}
	s.emitter.Emit(events.StakingStakeChanged{Staker: staker, Stake: st.Stake})
	return st, nil
}

// Unstake removes up to amount of stake and pays pending gains. A zero
// amount only claims gains.
func (s *Staking) Unstake(staker common.Address, amount *big.Int) (distributor.Settlement, error) {
	if err := s.guard(); err != nil {
		return distributor.Settlement{}, err
	}
	if amount == nil || amount.Sign() < 0 {
		return distributor.Settlement{}, ErrInvalidAmount
	}
	if _, ok, err := s.dist.Deposit(staker); err != nil {
		return distributor.Settlement{}, err
	} else if !ok {
		return distributor.Settlement{}, ErrNoStake
	}
	st, err := s.dist.Settle(staker, new(big.Int).Neg(amount))
	if err != nil {
		return distributor.Settlement{}, err
	}
	if st.Withdrawn.Sign() > 0 {
		if err := s.bank.TransferOut(s.token, s.address, staker, st.Withdrawn); err != nil {
			return distributor.Settlement{}, fmt.Errorf("staking: return stake: %w", err)
		}
	}
	if err := s.payGains(staker, st); err != nil {
		return distributor.Settlement{}, err
	}
	s.emitter.Emit(events.StakingStakeChanged{Staker: staker, Stake: st.Stake})
	return st, nil
}

func (s *Staking) addFee(key string, asset, from common.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, ErrInvalidAmount
	}
	if err := s.pull(asset, from, amount); err != nil {
		return false, err
	}
	if err := s.adjust(asset, amount, true); err != nil {
		return false, err
	}
	ok, err := s.dist.Inject(key, amount)
	if err != nil {
		return false, err
	}
	s.emitter.Emit(events.StakingFeeAdded{Asset: asset, Amount: new(big.Int).Set(amount), Distributed: ok})
	return ok, nil
}

// IncreaseFeeCollateral pulls a collateral fee from from. With nothing
// staked the fee stays in the module undistributed and false is returned.
func (s *Staking) IncreaseFeeCollateral(asset, from common.Address, amount *big.Int) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	if err := s.registry.Require(asset); err != nil {
		return false, err
	}
	return s.addFee(asset.Hex(), asset, from, amount)
}

// IncreaseFeeDebt pulls a stable-token fee from from.
func (s *Staking) IncreaseFeeDebt(from common.Address, amount *big.Int) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	return s.addFee(DebtKey, s.stable, from, amount)
}

// DistributeYield takes staking's share of vault profit. It reports false
// without pulling when nothing is staked.
func (s *Staking) DistributeYield(asset, from common.Address, amount *big.Int) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	total, err := s.TotalStaked()
	if err != nil {
		return false, err
	}
	if total.Sign() == 0 {
		return false, nil
	}
	return s.addFee(asset.Hex(), asset, from, amount)
}

// StakeOf returns staker's stake.
func (s *Staking) StakeOf(staker common.Address) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.dist.CompoundedStake(staker)
}

// TotalStaked is the sum of all stakes.
func (s *Staking) TotalStaked() (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	g, err := s.dist.Globals()
	if err != nil {
		return nil, err
	}
	return g.TotalStake, nil
}

// PendingCollateralGain is staker's unclaimed gain of asset.
func (s *Staking) PendingCollateralGain(staker, asset common.Address) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.dist.PendingReward(staker, asset.Hex())
}

// PendingDebtGain is staker's unclaimed stable-token gain.
func (s *Staking) PendingDebtGain(staker common.Address) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.dist.PendingReward(staker, DebtKey)
}

// Stakers lists the addresses with an open stake record.
func (s *Staking) Stakers() ([]common.Address, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.dist.Owners()
}
