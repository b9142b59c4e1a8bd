package distributor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Globals is the distributor-wide state.
type Globals struct {
	P             *big.Int
	Scale         uint64
	Epoch         uint64
	TotalStake    *big.Int
	LastLossError *big.Int
}

// Snapshot records the running terms at a depositor's last interaction.
type Snapshot struct {
	P     *big.Int
	Scale uint64
	Epoch uint64
	Sums  map[string]*big.Int
}

// Deposit is one stake holder.
type Deposit struct {
	Owner    common.Address
	Initial  *big.Int
	Snapshot Snapshot
}

// Settlement is the outcome of a stake-changing call.
type Settlement struct {
	// Compounded is the effective stake before the delta was applied.
	Compounded *big.Int
	// Stake is the recorded stake after the delta.
	Stake *big.Int
	// Withdrawn is the amount actually removed after clamping.
	Withdrawn *big.Int
	// Rewards holds the gains paid out, keyed by reward key, listed in Keys
	// order.
	Rewards map[string]*big.Int
	Keys    []string
}

// Reward returns the settled gain for key, zero when absent.
func (s Settlement) Reward(key string) *big.Int {
	if v, ok := s.Rewards[key]; ok && v != nil {
		return v
	}
	return big.NewInt(0)
}

type storedGlobals struct {
	P             string
	Scale         uint64
	Epoch         uint64
	TotalStake    string
	LastLossError string
}

type storedDeposit struct {
	Owner   common.Address
	Initial string
	P       string
	Scale   uint64
	Epoch   uint64
	Keys    []string
	Sums    []string
}

type storedAmount struct {
	Amount string
}
