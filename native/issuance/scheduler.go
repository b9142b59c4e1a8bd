// Package issuance emits the reward token at a constant rate over a funded
// distribution period. Issuance is pulled by callers; nothing runs in the
// background.
package issuance

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/events"
	"reserveledger/native/fixedpoint"
)

// DefaultPeriod is the distribution period used until governance changes it.
const DefaultPeriod = 14 * 24 * time.Hour

var (
	ErrZeroFunding   = errors.New("issuance: funding amount must be positive")
	ErrInvalidPeriod = errors.New("issuance: distribution period must be positive")
)

// Storage is the persistence surface of the scheduler.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Bank moves the reward token.
type Bank interface {
	BalanceOf(token, holder common.Address) (*big.Int, error)
	TransferIn(asset, from, to common.Address, amount *big.Int) (*big.Int, error)
	TransferOut(asset, from, to common.Address, amount *big.Int) error
}

// State is the emission clock.
type State struct {
	TotalIssued *big.Int
	TotalFunded *big.Int
	// RatePerSecond is scaled by 1e18.
	RatePerSecond    *big.Int
	LastDistribution uint64
	LastIssuance     uint64
	PeriodSeconds    uint64
}

// Rate returns the unscaled reward per second, rounded down.
func (s State) Rate() *big.Int {
	return new(big.Int).Div(fixedpoint.Clone(s.RatePerSecond), fixedpoint.Unit)
}

type storedState struct {
	TotalIssued      string
	TotalFunded      string
	RatePerSecond    string
	LastDistribution uint64
	LastIssuance     uint64
	PeriodSeconds    uint64
}

var stateKey = []byte("issuance/state")

// Scheduler is the issuance clock for one reward token.
type Scheduler struct {
	store   Storage
	bank    Bank
	token   common.Address
	account common.Address
	period  time.Duration
	clock   func() time.Time
	emitter events.Emitter
}

// NewScheduler returns a scheduler that holds token under account.
// defaultPeriod applies until UpdateDistributionPeriod stores another value.
func NewScheduler(store Storage, bank Bank, token, account common.Address, defaultPeriod time.Duration) *Scheduler {
	if defaultPeriod <= 0 {
		defaultPeriod = DefaultPeriod
	}
	return &Scheduler{store: store, bank: bank, token: token, account: account, period: defaultPeriod, clock: time.Now, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event sink.
func (s *Scheduler) SetEmitter(e events.Emitter) {
	if s == nil {
		return
	}
	if e == nil {
		e = events.NoopEmitter{}
	}
	s.emitter = e
}

// SetClock overrides the time source for deterministic testing.
func (s *Scheduler) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

// Token is the reward token address.
func (s *Scheduler) Token() common.Address { return s.token }

// Account holds the funded rewards.
func (s *Scheduler) Account() common.Address { return s.account }

func (s *Scheduler) now() uint64 {
	ts := s.clock().UTC().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// State returns the stored emission state.
func (s *Scheduler) State() (State, error) {
	if s == nil || s.store == nil {
		return State{}, fmt.Errorf("issuance: storage not configured")
	}
	var stored storedState
	ok, err := s.store.KVGet(stateKey, &stored)
	if err != nil {
		return State{}, err
	}
	if !ok {
		return State{
			TotalIssued:   big.NewInt(0),
			TotalFunded:   big.NewInt(0),
			RatePerSecond: big.NewInt(0),
			PeriodSeconds: uint64(s.period / time.Second),
		}, nil
	}
	issued, err := fixedpoint.ParseOrZero(stored.TotalIssued)
	if err != nil {
		return State{}, err
	}
	funded, err := fixedpoint.ParseOrZero(stored.TotalFunded)
	if err != nil {
		return State{}, err
	}
	rate, err := fixedpoint.ParseOrZero(stored.RatePerSecond)
	if err != nil {
		return State{}, err
	}
	return State{
		TotalIssued:      issued,
		TotalFunded:      funded,
		RatePerSecond:    rate,
		LastDistribution: stored.LastDistribution,
		LastIssuance:     stored.LastIssuance,
		PeriodSeconds:    stored.PeriodSeconds,
	}, nil
}

func (s *Scheduler) put(st State) error {
	return s.store.KVPut(stateKey, storedState{
		TotalIssued:      st.TotalIssued.String(),
		TotalFunded:      st.TotalFunded.String(),
		RatePerSecond:    st.RatePerSecond.String(),
		LastDistribution: st.LastDistribution,
		LastIssuance:     st.LastIssuance,
		PeriodSeconds:    st.PeriodSeconds,
	})
}

// Fund pulls amount from funder and restarts the period, blending in the
// part of the previous funding that was never issued.
func (s *Scheduler) Fund(funder common.Address, amount *big.Int) (State, error) {
	if amount == nil || amount.Sign() <= 0 {
		return State{}, ErrZeroFunding
	}
	st, err := s.State()
	if err != nil {
		return State{}, err
	}
	if st.PeriodSeconds == 0 {
		return State{}, ErrInvalidPeriod
	}
	now := s.now()
	poolable := new(big.Int).Set(amount)
	if st.LastIssuance < st.LastDistribution {
		left := new(big.Int).SetUint64(st.LastDistribution - st.LastIssuance)
		remainder, err := fixedpoint.MulDiv(left, st.RatePerSecond, fixedpoint.Unit)
		if err != nil {
			return State{}, err
		}
		if poolable, err = fixedpoint.Add(poolable, remainder); err != nil {
			return State{}, err
		}
	}
	rate, err := fixedpoint.MulDiv(poolable, fixedpoint.Unit, new(big.Int).SetUint64(st.PeriodSeconds))
	if err != nil {
		return State{}, err
	}
	received, err := s.bank.TransferIn(s.token, funder, s.account, amount)
	if err != nil {
		return State{}, fmt.Errorf("issuance: pull funding: %w", err)
	}
	if received.Cmp(amount) != 0 {
		return State{}, fmt.Errorf("issuance: funding received %s, expected %s", received, amount)
	}
	if st.TotalFunded, err = fixedpoint.Add(st.TotalFunded, amount); err != nil {
		return State{}, err
	}
	st.RatePerSecond = rate
	st.LastDistribution = now + st.PeriodSeconds
	st.LastIssuance = now
	if err := s.put(st); err != nil {
		return State{}, err
	}
	s.emitter.Emit(events.IssuanceFunded{
		Funder:           funder,
		Amount:           new(big.Int).Set(amount),
		RatePerSecond:    new(big.Int).Set(rate),
		LastDistribution: st.LastDistribution,
	})
	return st, nil
}

// Issue advances the checkpoint and returns the newly issued amount.
// Issuance stalls at the end of the funded period.
func (s *Scheduler) Issue() (*big.Int, error) {
	st, err := s.State()
	if err != nil {
		return nil, err
	}
	now := s.now()
	issued := big.NewInt(0)
	if st.LastIssuance < st.LastDistribution {
		end := now
		if end > st.LastDistribution {
			end = st.LastDistribution
		}
		if end > st.LastIssuance {
			elapsed := new(big.Int).SetUint64(end - st.LastIssuance)
			if issued, err = fixedpoint.MulDiv(elapsed, st.RatePerSecond, fixedpoint.Unit); err != nil {
				return nil, err
			}
		}
	}
	if now <= st.LastIssuance && issued.Sign() == 0 {
		return issued, nil
	}
	if st.TotalIssued, err = fixedpoint.Add(st.TotalIssued, issued); err != nil {
		return nil, err
	}
	if now > st.LastIssuance {
		st.LastIssuance = now
	}
	if err := s.put(st); err != nil {
		return nil, err
	}
	if issued.Sign() > 0 {
		s.emitter.Emit(events.IssuanceIssued{Amount: new(big.Int).Set(issued), TotalIssued: new(big.Int).Set(st.TotalIssued)})
	}
	return issued, nil
}

// UpdateDistributionPeriod changes the period used by later Fund calls.
func (s *Scheduler) UpdateDistributionPeriod(period time.Duration) error {
	seconds := uint64(period / time.Second)
	if seconds == 0 {
		return ErrInvalidPeriod
	}
	st, err := s.State()
	if err != nil {
		return err
	}
	st.PeriodSeconds = seconds
	if err := s.put(st); err != nil {
		return err
	}
	s.emitter.Emit(events.IssuancePeriodUpdated{PeriodSeconds: seconds})
	return nil
}

// SendReward pays issued rewards to to, capped at the scheduler balance.
func (s *Scheduler) SendReward(to common.Address, amount *big.Int) (*big.Int, error) {
	if fixedpoint.IsZero(amount) {
		return big.NewInt(0), nil
	}
	balance, err := s.bank.BalanceOf(s.token, s.account)
	if err != nil {
		return nil, err
	}
	paid := fixedpoint.Min(amount, balance)
	if paid.Sign() == 0 {
		return paid, nil
	}
	if err := s.bank.TransferOut(s.token, s.account, to, paid); err != nil {
		return nil, fmt.Errorf("issuance: send reward: %w", err)
	}
	return paid, nil
}
