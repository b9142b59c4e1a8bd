// Package genesis loads the YAML file that seeds an empty ledger: the
// collateral assets, the rebalancer configuration, the issuance period and
// initial token allocations.
package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"reserveledger/native/assets"
	"reserveledger/native/fixedpoint"
	"reserveledger/native/pool"
)

// Token aliases accepted in alloc entries in place of an address.
const (
	TokenStable     = "stable"
	TokenGovernance = "governance"
)

type GenesisSpec struct {
	Assets     []AssetSpec                  `yaml:"assets"`
	Rebalancer RebalancerSpec               `yaml:"rebalancer"`
	Issuance   IssuanceSpec                 `yaml:"issuance"`
	Alloc      map[string]map[string]string `yaml:"alloc"` // holder -> token -> amount
}

type AssetSpec struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
	// MCR and CCR are decimal ratios such as "1.1".
	MCR            string `yaml:"mcr"`
	CCR            string `yaml:"ccr"`
	TargetBps      uint64 `yaml:"targetBps"`
	ClaimThreshold string `yaml:"claimThreshold"`
}

type RebalancerSpec struct {
	DriftBps *uint64    `yaml:"driftBps"`
	Treasury string     `yaml:"treasury"`
	Splits   *SplitSpec `yaml:"splits"`
}

type SplitSpec struct {
	TreasuryBps  uint64 `yaml:"treasuryBps"`
	StabilityBps uint64 `yaml:"stabilityBps"`
	StakingBps   uint64 `yaml:"stakingBps"`
}

type IssuanceSpec struct {
	Period string `yaml:"period"`
}

// Asset is a validated asset entry.
type Asset struct {
	Asset assets.Asset
	Yield pool.YieldConfig
}

// Allocation is a validated initial balance. Token is an address or one of
// the token aliases.
type Allocation struct {
	Holder common.Address
	Token  string
	Amount *big.Int
}

// Plan is the validated content of a genesis file.
type Plan struct {
	Assets         []Asset
	DriftBps       *uint64
	Treasury       common.Address
	Splits         *pool.Splits
	IssuancePeriod time.Duration
	Alloc          []Allocation
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

// Plan validates the genesis file and converts it into typed values.
func (s *GenesisSpec) Plan() (*Plan, error) {
	if s == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	plan := &Plan{}
	seen := make(map[common.Address]struct{}, len(s.Assets))
	for i, spec := range s.Assets {
		asset, err := spec.resolve()
		if err != nil {
			return nil, fmt.Errorf("asset[%d]: %w", i, err)
		}
		if _, dup := seen[asset.Asset.Address]; dup {
			return nil, fmt.Errorf("asset[%d]: duplicate address %s", i, asset.Asset.Address.Hex())
		}
		seen[asset.Asset.Address] = struct{}{}
		plan.Assets = append(plan.Assets, asset)
	}

	if r := s.Rebalancer; r.DriftBps != nil || r.Treasury != "" || r.Splits != nil {
		if r.DriftBps != nil && *r.DriftBps > pool.MaxDriftBps {
			return nil, fmt.Errorf("rebalancer: driftBps must be <= %d", pool.MaxDriftBps)
		}
		plan.DriftBps = r.DriftBps
		if strings.TrimSpace(r.Treasury) != "" {
			treasury, err := parseAddress("rebalancer.treasury", r.Treasury)
			if err != nil {
				return nil, err
			}
			plan.Treasury = treasury
		}
		if r.Splits != nil {
			splits := pool.Splits{
				TreasuryBps:  r.Splits.TreasuryBps,
				StabilityBps: r.Splits.StabilityBps,
				StakingBps:   r.Splits.StakingBps,
			}
			if err := splits.Validate(); err != nil {
				return nil, fmt.Errorf("rebalancer.splits: %w", err)
			}
			plan.Splits = &splits
		}
	}

	if plan.Treasury == (common.Address{}) {
		for _, asset := range plan.Assets {
			if asset.Yield.TargetBps > 0 {
				return nil, fmt.Errorf("asset %s: targetBps requires rebalancer.treasury", asset.Asset.Address.Hex())
			}
		}
	}

	if period := strings.TrimSpace(s.Issuance.Period); period != "" {
		d, err := time.ParseDuration(period)
		if err != nil {
			return nil, fmt.Errorf("issuance.period: %w", err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("issuance.period must be at least one second")
		}
		plan.IssuancePeriod = d
	}

	holders := make([]string, 0, len(s.Alloc))
	for holder := range s.Alloc {
		holders = append(holders, holder)
	}
	sort.Strings(holders)
	for _, holder := range holders {
		addr, err := parseAddress("alloc", holder)
		if err != nil {
			return nil, err
		}
		tokens := make([]string, 0, len(s.Alloc[holder]))
		for token := range s.Alloc[holder] {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		for _, token := range tokens {
			amount, err := fixedpoint.Parse(s.Alloc[holder][token])
			if err != nil {
				return nil, fmt.Errorf("alloc[%s][%s]: %w", holder, token, err)
			}
			if amount.Sign() == 0 {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(token))
			if name != TokenStable && name != TokenGovernance {
				if _, err := parseAddress("alloc token", token); err != nil {
					return nil, err
				}
			}
			plan.Alloc = append(plan.Alloc, Allocation{Holder: addr, Token: name, Amount: amount})
		}
	}
	return plan, nil
}

func (a AssetSpec) resolve() (Asset, error) {
	addr, err := parseAddress("address", a.Address)
	if err != nil {
		return Asset{}, err
	}
	if err := fixedpoint.ValidateDecimals(a.Decimals); err != nil {
		return Asset{}, err
	}
	mcr, err := fixedpoint.ParseDecimal(a.MCR)
	if err != nil {
		return Asset{}, fmt.Errorf("mcr: %w", err)
	}
	ccr, err := fixedpoint.ParseDecimal(a.CCR)
	if err != nil {
		return Asset{}, fmt.Errorf("ccr: %w", err)
	}
	if a.TargetBps > pool.MaxTargetBps {
		return Asset{}, fmt.Errorf("targetBps must be <= %d", pool.MaxTargetBps)
	}
	threshold, err := fixedpoint.ParseOrZero(a.ClaimThreshold)
	if err != nil {
		return Asset{}, fmt.Errorf("claimThreshold: %w", err)
	}
	return Asset{
		Asset: assets.Asset{
			Address:  addr,
			Symbol:   a.Symbol,
			Decimals: a.Decimals,
			MCR:      mcr,
			CCR:      ccr,
		},
		Yield: pool.YieldConfig{TargetBps: a.TargetBps, ClaimThreshold: threshold},
	}, nil
}
