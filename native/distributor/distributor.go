// Package distributor implements the lazy compounding reward distribution
// shared by the stability pool and staking. Depositors earn a proportional
// share of rewards injected at any time and absorb a proportional share of
// losses while every operation touches O(1) state.
//
// A running product P tracks cumulative loss and a running sum S per reward
// key tracks cumulative rewards. When P would fall below ScaleFactor it is
// multiplied back up and the scale advances; when a loss empties the pool
// the epoch advances and P resets.
package distributor

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/native/fixedpoint"
)

var (
	// DecimalPrecision is the base unit of P.
	DecimalPrecision = new(big.Int).Set(fixedpoint.Unit)
	// ScaleFactor is the precision floor of P and its rescale constant.
	ScaleFactor = fixedpoint.Pow10(9)
)

var (
	ErrZeroTotalStake   = errors.New("distributor: total stake is zero")
	ErrLossExceedsStake = errors.New("distributor: loss exceeds total stake")
	ErrInvalidAmount    = errors.New("distributor: invalid amount")
	ErrInvariant        = errors.New("distributor: invariant violated")
)

// Storage is the persistence surface of a distributor.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Distributor runs the algorithm over one namespace of storage.
type Distributor struct {
	store     Storage
	namespace string
}

// New returns a distributor whose keys live under namespace.
func New(store Storage, namespace string) *Distributor {
	return &Distributor{store: store, namespace: namespace}
}

func (d *Distributor) globalsKey() []byte {
	return []byte(d.namespace + "/globals")
}

func (d *Distributor) depositKey(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s/deposit/%s", d.namespace, owner.Hex()))
}

func (d *Distributor) ownersKey() []byte {
	return []byte(d.namespace + "/owners")
}

func (d *Distributor) rewardKeysKey() []byte {
	return []byte(d.namespace + "/rewardKeys")
}

func (d *Distributor) rewardErrorKey(key string) []byte {
	return []byte(fmt.Sprintf("%s/rewardError/%s", d.namespace, key))
}

func (d *Distributor) sumKey(epoch, scale uint64, key string) []byte {
	return []byte(fmt.Sprintf("%s/sum/%d/%d/%s", d.namespace, epoch, scale, key))
}

func (d *Distributor) ready() error {
	if d == nil || d.store == nil {
		return fmt.Errorf("distributor: storage not configured")
	}
	return nil
}

func invariant(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvariant, op, err)
}

// Globals returns the current running terms.
func (d *Distributor) Globals() (Globals, error) {
	if err := d.ready(); err != nil {
		return Globals{}, err
	}
	var stored storedGlobals
	ok, err := d.store.KVGet(d.globalsKey(), &stored)
	if err != nil {
		return Globals{}, err
	}
	if !ok {
		return Globals{
			P:             new(big.Int).Set(DecimalPrecision),
			TotalStake:    big.NewInt(0),
			LastLossError: big.NewInt(0),
		}, nil
	}
	p, err := fixedpoint.ParseOrZero(stored.P)
	if err != nil {
		return Globals{}, err
	}
	total, err := fixedpoint.ParseOrZero(stored.TotalStake)
	if err != nil {
		return Globals{}, err
	}
	lastErr, err := fixedpoint.ParseOrZero(stored.LastLossError)
	if err != nil {
		return Globals{}, err
	}
	return Globals{P: p, Scale: stored.Scale, Epoch: stored.Epoch, TotalStake: total, LastLossError: lastErr}, nil
}

func (d *Distributor) putGlobals(g Globals) error {
	return d.store.KVPut(d.globalsKey(), storedGlobals{
		P:             g.P.String(),
		Scale:         g.Scale,
		Epoch:         g.Epoch,
		TotalStake:    g.TotalStake.String(),
		LastLossError: fixedpoint.String(g.LastLossError),
	})
}

func (d *Distributor) loadAmount(key []byte) (*big.Int, error) {
	var stored storedAmount
	ok, err := d.store.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return fixedpoint.ParseOrZero(stored.Amount)
}

func (d *Distributor) putAmount(key []byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return d.store.KVDelete(key)
	}
	return d.store.KVPut(key, storedAmount{Amount: amount.String()})
}

// Sum returns S for the given epoch, scale and reward key.
func (d *Distributor) Sum(epoch, scale uint64, key string) (*big.Int, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	return d.loadAmount(d.sumKey(epoch, scale, key))
}

// RewardKeys lists every reward key ever injected, in first-injection order.
func (d *Distributor) RewardKeys() ([]string, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := d.store.KVGetList(d.rewardKeysKey(), &raw); err != nil {
		return nil, err
	}
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = string(k)
	}
	return keys, nil
}

// Owners lists the addresses holding a deposit record, in first-deposit
// order. Records wiped by an epoch change stay listed until settled.
func (d *Distributor) Owners() ([]common.Address, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := d.store.KVGetList(d.ownersKey(), &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i, b := range raw {
		out[i] = common.BytesToAddress(b)
	}
	return out, nil
}

// Deposit returns the depositor record, reporting whether it exists.
func (d *Distributor) Deposit(owner common.Address) (Deposit, bool, error) {
	if err := d.ready(); err != nil {
		return Deposit{}, false, err
	}
	var stored storedDeposit
	ok, err := d.store.KVGet(d.depositKey(owner), &stored)
	if err != nil || !ok {
		return Deposit{}, false, err
	}
	initial, err := fixedpoint.ParseOrZero(stored.Initial)
	if err != nil {
		return Deposit{}, false, err
	}
	p, err := fixedpoint.ParseOrZero(stored.P)
	if err != nil {
		return Deposit{}, false, err
	}
	if len(stored.Keys) != len(stored.Sums) {
		return Deposit{}, false, invariant("decode deposit", fmt.Errorf("%d keys, %d sums", len(stored.Keys), len(stored.Sums)))
	}
	sums := make(map[string]*big.Int, len(stored.Keys))
	for i, key := range stored.Keys {
		v, err := fixedpoint.ParseOrZero(stored.Sums[i])
		if err != nil {
			return Deposit{}, false, err
		}
		sums[key] = v
	}
	return Deposit{
		Owner:    stored.Owner,
		Initial:  initial,
		Snapshot: Snapshot{P: p, Scale: stored.Scale, Epoch: stored.Epoch, Sums: sums},
	}, true, nil
}

func (d *Distributor) putDeposit(dep Deposit, keys []string) error {
	stored := storedDeposit{
		Owner:   dep.Owner,
		Initial: dep.Initial.String(),
		P:       dep.Snapshot.P.String(),
		Scale:   dep.Snapshot.Scale,
		Epoch:   dep.Snapshot.Epoch,
		Keys:    make([]string, 0, len(keys)),
		Sums:    make([]string, 0, len(keys)),
	}
	for _, key := range keys {
		stored.Keys = append(stored.Keys, key)
		stored.Sums = append(stored.Sums, fixedpoint.String(dep.Snapshot.Sums[key]))
	}
	if err := d.store.KVPut(d.depositKey(dep.Owner), stored); err != nil {
		return err
	}
	return d.store.KVAppend(d.ownersKey(), dep.Owner.Bytes())
}

func (d *Distributor) dropOwner(owner common.Address) error {
	var raw [][]byte
	if err := d.store.KVGetList(d.ownersKey(), &raw); err != nil {
		return err
	}
	kept := make([][]byte, 0, len(raw))
	for _, b := range raw {
		if common.BytesToAddress(b) != owner {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(raw) {
		return nil
	}
	if len(kept) == 0 {
		return d.store.KVDelete(d.ownersKey())
	}
	return d.store.KVPut(d.ownersKey(), kept)
}

// compounded applies the loss history since the snapshot to the initial
// stake.
func (d *Distributor) compounded(dep Deposit, g Globals) (*big.Int, error) {
	if dep.Initial.Sign() == 0 || dep.Snapshot.Epoch < g.Epoch {
		return big.NewInt(0), nil
	}
	if dep.Snapshot.P.Sign() == 0 {
		return nil, invariant("compound", errors.New("snapshot P is zero"))
	}
	if g.Scale < dep.Snapshot.Scale {
		return nil, invariant("compound", errors.New("scale moved backwards"))
	}
	var stake *big.Int
	var err error
	switch g.Scale - dep.Snapshot.Scale {
	case 0:
		stake, err = fixedpoint.MulDiv(dep.Initial, g.P, dep.Snapshot.P)
	case 1:
		stake, err = fixedpoint.MulDiv(dep.Initial, g.P, dep.Snapshot.P)
		if err == nil {
			stake, err = fixedpoint.Div(stake, ScaleFactor)
		}
	default:
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, invariant("compound", err)
	}
	// Below the precision floor the remainder is rounding noise.
	floor := new(big.Int).Div(dep.Initial, ScaleFactor)
	if stake.Cmp(floor) < 0 {
		return big.NewInt(0), nil
	}
	return stake, nil
}

// pending is initial * (S[e][s] - S_snap + S[e][s+1] / ScaleFactor) / P_snap / 1e18.
func (d *Distributor) pending(dep Deposit, key string) (*big.Int, error) {
	if dep.Initial.Sign() == 0 {
		return big.NewInt(0), nil
	}
	snap := dep.Snapshot
	current, err := d.loadAmount(d.sumKey(snap.Epoch, snap.Scale, key))
	if err != nil {
		return nil, err
	}
	next, err := d.loadAmount(d.sumKey(snap.Epoch, snap.Scale+1, key))
	if err != nil {
		return nil, err
	}
	base := snap.Sums[key]
	if base == nil {
		base = big.NewInt(0)
	}
	first, err := fixedpoint.Sub(current, base)
	if err != nil {
		return nil, invariant("pending reward", err)
	}
	second := new(big.Int).Div(next, ScaleFactor)
	portion, err := fixedpoint.Add(first, second)
	if err != nil {
		return nil, invariant("pending reward", err)
	}
	gain, err := fixedpoint.MulDiv(dep.Initial, portion, snap.P)
	if err != nil {
		return nil, invariant("pending reward", err)
	}
	return gain.Div(gain, DecimalPrecision), nil
}

// CompoundedStake returns owner's effective stake after losses.
func (d *Distributor) CompoundedStake(owner common.Address) (*big.Int, error) {
	dep, ok, err := d.Deposit(owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	g, err := d.Globals()
	if err != nil {
		return nil, err
	}
	return d.compounded(dep, g)
}

// PendingReward returns owner's unclaimed gain for key.
func (d *Distributor) PendingReward(owner common.Address, key string) (*big.Int, error) {
	dep, ok, err := d.Deposit(owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return d.pending(dep, key)
}

func (d *Distributor) currentSums(g Globals, keys []string) (map[string]*big.Int, error) {
	sums := make(map[string]*big.Int, len(keys))
	for _, key := range keys {
		s, err := d.loadAmount(d.sumKey(g.Epoch, g.Scale, key))
		if err != nil {
			return nil, err
		}
		sums[key] = s
	}
	return sums, nil
}

// Settle pays out owner's pending rewards, applies the signed stake delta
// and refreshes the snapshot. Withdrawals above the compounded stake are
// clamped; a resulting zero stake removes the record.
func (d *Distributor) Settle(owner common.Address, delta *big.Int) (Settlement, error) {
	if err := d.ready(); err != nil {
		return Settlement{}, err
	}
	if delta == nil {
		delta = big.NewInt(0)
	}
	g, err := d.Globals()
	if err != nil {
		return Settlement{}, err
	}
	keys, err := d.RewardKeys()
	if err != nil {
		return Settlement{}, err
	}
	dep, exists, err := d.Deposit(owner)
	if err != nil {
		return Settlement{}, err
	}
	settlement := Settlement{
		Compounded: big.NewInt(0),
		Withdrawn:  big.NewInt(0),
		Rewards:    make(map[string]*big.Int, len(keys)),
		Keys:       make([]string, 0, len(keys)),
	}
	if exists {
		for _, key := range keys {
			gain, err := d.pending(dep, key)
			if err != nil {
				return Settlement{}, err
			}
			if gain.Sign() > 0 {
				settlement.Rewards[key] = gain
				settlement.Keys = append(settlement.Keys, key)
			}
		}
		if settlement.Compounded, err = d.compounded(dep, g); err != nil {
			return Settlement{}, err
		}
	}

	stake := new(big.Int).Set(settlement.Compounded)
	switch delta.Sign() {
	case 1:
		if stake, err = fixedpoint.Add(stake, delta); err != nil {
			return Settlement{}, invariant("deposit", err)
		}
		if g.TotalStake, err = fixedpoint.Add(g.TotalStake, delta); err != nil {
			return Settlement{}, invariant("deposit", err)
		}
	case -1:
		settlement.Withdrawn = fixedpoint.Min(fixedpoint.Min(new(big.Int).Neg(delta), stake), g.TotalStake)
		stake.Sub(stake, settlement.Withdrawn)
		if g.TotalStake, err = fixedpoint.Sub(g.TotalStake, settlement.Withdrawn); err != nil {
			return Settlement{}, invariant("withdraw", err)
		}
	}
	settlement.Stake = stake

	if stake.Sign() == 0 {
		if exists {
			if err := d.store.KVDelete(d.depositKey(owner)); err != nil {
				return Settlement{}, err
			}
			if err := d.dropOwner(owner); err != nil {
				return Settlement{}, err
			}
		}
	} else {
		sums, err := d.currentSums(g, keys)
		if err != nil {
			return Settlement{}, err
		}
		next := Deposit{
			Owner:    owner,
			Initial:  stake,
			Snapshot: Snapshot{P: new(big.Int).Set(g.P), Scale: g.Scale, Epoch: g.Epoch, Sums: sums},
		}
		if err := d.putDeposit(next, keys); err != nil {
			return Settlement{}, err
		}
	}
	if delta.Sign() != 0 {
		if err := d.putGlobals(g); err != nil {
			return Settlement{}, err
		}
	}
	return settlement, nil
}

func (d *Distributor) rewardPerUnit(key string, amount, total *big.Int) (*big.Int, error) {
	errKey := d.rewardErrorKey(key)
	lastErr, err := d.loadAmount(errKey)
	if err != nil {
		return nil, err
	}
	numerator, err := fixedpoint.Mul(amount, DecimalPrecision)
	if err != nil {
		return nil, invariant("reward per unit", err)
	}
	if numerator, err = fixedpoint.Add(numerator, lastErr); err != nil {
		return nil, invariant("reward per unit", err)
	}
	perUnit := new(big.Int).Div(numerator, total)
	remainder := new(big.Int).Sub(numerator, new(big.Int).Mul(perUnit, total))
	if err := d.putAmount(errKey, remainder); err != nil {
		return nil, err
	}
	return perUnit, nil
}

func (d *Distributor) addToSum(g Globals, key string, amount *big.Int) error {
	perUnit, err := d.rewardPerUnit(key, amount, g.TotalStake)
	if err != nil {
		return err
	}
	marginal, err := fixedpoint.Mul(perUnit, g.P)
	if err != nil {
		return invariant("reward sum", err)
	}
	sumKey := d.sumKey(g.Epoch, g.Scale, key)
	current, err := d.loadAmount(sumKey)
	if err != nil {
		return err
	}
	next, err := fixedpoint.Add(current, marginal)
	if err != nil {
		return invariant("reward sum", err)
	}
	if err := d.putAmount(sumKey, next); err != nil {
		return err
	}
	return d.store.KVAppend(d.rewardKeysKey(), []byte(key))
}

// Inject distributes amount of reward key pro rata. With no stake the call
// is a no-op reporting false so the caller can route the reward elsewhere.
func (d *Distributor) Inject(key string, amount *big.Int) (bool, error) {
	if err := d.ready(); err != nil {
		return false, err
	}
	if key == "" {
		return false, fmt.Errorf("%w: reward key required", ErrInvalidAmount)
	}
	if err := fixedpoint.Check(amount); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if fixedpoint.IsZero(amount) {
		return true, nil
	}
	g, err := d.Globals()
	if err != nil {
		return false, err
	}
	if g.TotalStake.Sign() == 0 {
		return false, nil
	}
	if err := d.addToSum(g, key, amount); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Distributor) absorb(g Globals, loss *big.Int) (Globals, error) {
	lossPerUnit := new(big.Int)
	if loss.Cmp(g.TotalStake) == 0 {
		lossPerUnit.Set(DecimalPrecision)
		g.LastLossError = big.NewInt(0)
	} else {
		numerator, err := fixedpoint.Mul(loss, DecimalPrecision)
		if err != nil {
			return g, invariant("loss per unit", err)
		}
		// Rounded up on every loss: P keeps at most (X-L)/X of its value,
		// so effective stakes stay within the recorded total.
		// LastLossError keeps the overcharge of the latest loss.
		lossPerUnit.Div(numerator, g.TotalStake)
		charged := new(big.Int).Mul(lossPerUnit, g.TotalStake)
		if charged.Cmp(numerator) < 0 {
			lossPerUnit.Add(lossPerUnit, big.NewInt(1))
			charged.Add(charged, g.TotalStake)
		}
		g.LastLossError = charged.Sub(charged, numerator)
	}
	if lossPerUnit.Cmp(DecimalPrecision) > 0 {
		return g, invariant("loss per unit", fmt.Errorf("%s exceeds unit", lossPerUnit))
	}

	productFactor := new(big.Int).Sub(DecimalPrecision, lossPerUnit)
	switch {
	case productFactor.Sign() == 0:
		g.Epoch++
		g.Scale = 0
		g.P = new(big.Int).Set(DecimalPrecision)
	default:
		next, err := fixedpoint.MulDiv(g.P, productFactor, DecimalPrecision)
		if err != nil {
			return g, invariant("update P", err)
		}
		if next.Cmp(ScaleFactor) < 0 {
			scaled, err := fixedpoint.Mul(g.P, productFactor)
			if err != nil {
				return g, invariant("update P", err)
			}
			// A near-total loss can need a second rescale; deposits two
			// scales behind compound to zero.
			for next.Cmp(ScaleFactor) < 0 {
				if scaled, err = fixedpoint.Mul(scaled, ScaleFactor); err != nil {
					return g, invariant("update P", err)
				}
				if next, err = fixedpoint.Div(scaled, DecimalPrecision); err != nil {
					return g, invariant("update P", err)
				}
				g.Scale++
			}
		}
		g.P = next
	}
	if g.P.Sign() == 0 {
		return g, invariant("update P", errors.New("P reached zero"))
	}
	var err error
	if g.TotalStake, err = fixedpoint.Sub(g.TotalStake, loss); err != nil {
		return g, invariant("absorb", err)
	}
	return g, nil
}

// Absorb spreads loss over all stake.
func (d *Distributor) Absorb(loss *big.Int) error {
	return d.Offset("", loss, nil)
}

// Offset injects reward under key using the pre-loss P, then absorbs loss.
// This is the liquidation path of the stability pool.
func (d *Distributor) Offset(key string, loss, reward *big.Int) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := fixedpoint.Check(loss); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if err := fixedpoint.Check(reward); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	g, err := d.Globals()
	if err != nil {
		return err
	}
	if g.TotalStake.Sign() == 0 {
		return ErrZeroTotalStake
	}
	if loss != nil && loss.Cmp(g.TotalStake) > 0 {
		return fmt.Errorf("%w: loss %s, stake %s", ErrLossExceedsStake, loss, g.TotalStake)
	}
	if !fixedpoint.IsZero(reward) {
		if key == "" {
			return fmt.Errorf("%w: reward key required", ErrInvalidAmount)
		}
		if err := d.addToSum(g, key, reward); err != nil {
			return err
		}
	}
	if fixedpoint.IsZero(loss) {
		return nil
	}
	if g, err = d.absorb(g, loss); err != nil {
		return err
	}
	return d.putGlobals(g)
}
