// Package assets is the collateral registry. Assets are registered once,
// never removed, and their decimals never change.
package assets

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/native/fixedpoint"
)

var (
	ErrUnknownAsset      = errors.New("assets: unknown asset")
	ErrAlreadyRegistered = errors.New("assets: asset already registered")
	ErrInvalidRiskBounds = errors.New("assets: invalid risk parameters")
	ErrInvalidAsset      = errors.New("assets: invalid asset")
)

var (
	// MinAllowedMCR is the lowest minimum collateral ratio an asset may use.
	MinAllowedMCR = new(big.Int).Div(new(big.Int).Mul(big.NewInt(101), fixedpoint.Unit), big.NewInt(100))
	// MinAllowedCCR is the lowest critical collateral ratio an asset may use.
	MinAllowedCCR = new(big.Int).Div(new(big.Int).Mul(big.NewInt(150), fixedpoint.Unit), big.NewInt(100))
)

// Storage is the persistence surface of the registry.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Asset is a registered collateral token.
type Asset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	// MCR and CCR are 18 decimal ratios bounding the asset's risk.
	MCR *big.Int
	CCR *big.Int

	converter fixedpoint.Converter
}

// Converter returns the precision converter validated at registration.
func (a Asset) Converter() fixedpoint.Converter { return a.converter }

type storedAsset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	MCR      string
	CCR      string
}

var assetIndexKey = []byte("assets/index")

func assetKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("assets/record/%s", addr.Hex()))
}

// Registry owns the per-asset parameter map.
type Registry struct {
	store Storage
}

// NewRegistry binds the registry to storage.
func NewRegistry(store Storage) *Registry {
	return &Registry{store: store}
}

func validateRisk(mcr, ccr *big.Int) error {
	if mcr == nil || ccr == nil {
		return fmt.Errorf("%w: ratios required", ErrInvalidRiskBounds)
	}
	if mcr.Cmp(MinAllowedMCR) < 0 {
		return fmt.Errorf("%w: mcr %s below %s", ErrInvalidRiskBounds, mcr, MinAllowedMCR)
	}
	if ccr.Cmp(MinAllowedCCR) < 0 {
		return fmt.Errorf("%w: ccr %s below %s", ErrInvalidRiskBounds, ccr, MinAllowedCCR)
	}
	if ccr.Cmp(mcr) <= 0 {
		return fmt.Errorf("%w: ccr must exceed mcr", ErrInvalidRiskBounds)
	}
	return nil
}

// Register adds a new asset. Decimals above 18 are rejected here so later
// conversions cannot fail on precision.
func (r *Registry) Register(asset Asset) (Asset, error) {
	if r == nil || r.store == nil {
		return Asset{}, fmt.Errorf("assets: registry not initialised")
	}
	if asset.Address == (common.Address{}) {
		return Asset{}, fmt.Errorf("%w: address required", ErrInvalidAsset)
	}
	symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
	if symbol == "" {
		return Asset{}, fmt.Errorf("%w: symbol required", ErrInvalidAsset)
	}
	conv, err := fixedpoint.NewConverter(asset.Decimals)
	if err != nil {
		return Asset{}, err
	}
	if err := validateRisk(asset.MCR, asset.CCR); err != nil {
		return Asset{}, err
	}
	ok, err := r.store.KVGet(assetKey(asset.Address), nil)
	if err != nil {
		return Asset{}, err
	}
	if ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, asset.Address.Hex())
	}
	stored := storedAsset{
		Address:  asset.Address,
		Symbol:   symbol,
		Decimals: asset.Decimals,
		MCR:      asset.MCR.String(),
		CCR:      asset.CCR.String(),
	}
	if err := r.store.KVPut(assetKey(asset.Address), stored); err != nil {
		return Asset{}, err
	}
	if err := r.store.KVAppend(assetIndexKey, asset.Address.Bytes()); err != nil {
		return Asset{}, err
	}
	return fromStored(stored, conv)
}

func fromStored(stored storedAsset, conv fixedpoint.Converter) (Asset, error) {
	mcr, err := fixedpoint.ParseOrZero(stored.MCR)
	if err != nil {
		return Asset{}, err
	}
	ccr, err := fixedpoint.ParseOrZero(stored.CCR)
	if err != nil {
		return Asset{}, err
	}
	return Asset{
		Address:   stored.Address,
		Symbol:    stored.Symbol,
		Decimals:  stored.Decimals,
		MCR:       mcr,
		CCR:       ccr,
		converter: conv,
	}, nil
}

// Get returns the registered asset or ErrUnknownAsset.
func (r *Registry) Get(addr common.Address) (Asset, error) {
	if r == nil || r.store == nil {
		return Asset{}, fmt.Errorf("assets: registry not initialised")
	}
	var stored storedAsset
	ok, err := r.store.KVGet(assetKey(addr), &stored)
	if err != nil {
		return Asset{}, err
	}
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, addr.Hex())
	}
	conv, err := fixedpoint.NewConverter(stored.Decimals)
	if err != nil {
		return Asset{}, err
	}
	return fromStored(stored, conv)
}

// Require fails with ErrUnknownAsset for unregistered addresses.
func (r *Registry) Require(addr common.Address) error {
	_, err := r.Get(addr)
	return err
}

// Converter returns the precision converter of a registered asset.
func (r *Registry) Converter(addr common.Address) (fixedpoint.Converter, error) {
	asset, err := r.Get(addr)
	if err != nil {
		return fixedpoint.Converter{}, err
	}
	return asset.Converter(), nil
}

// List returns every registered asset in registration order.
func (r *Registry) List() ([]Asset, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("assets: registry not initialised")
	}
	var index [][]byte
	if err := r.store.KVGetList(assetIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]Asset, 0, len(index))
	for _, raw := range index {
		asset, err := r.Get(common.BytesToAddress(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	return out, nil
}

// UpdateRatios lowers an asset's risk ratios. Raising them would put
// existing positions under water, so only decreases are accepted.
func (r *Registry) UpdateRatios(addr common.Address, mcr, ccr *big.Int) (Asset, error) {
	current, err := r.Get(addr)
	if err != nil {
		return Asset{}, err
	}
	if err := validateRisk(mcr, ccr); err != nil {
		return Asset{}, err
	}
	if mcr.Cmp(current.MCR) > 0 || ccr.Cmp(current.CCR) > 0 {
		return Asset{}, fmt.Errorf("%w: ratios may only decrease", ErrInvalidRiskBounds)
	}
	stored := storedAsset{
		Address:  current.Address,
		Symbol:   current.Symbol,
		Decimals: current.Decimals,
		MCR:      mcr.String(),
		CCR:      ccr.String(),
	}
	if err := r.store.KVPut(assetKey(addr), stored); err != nil {
		return Asset{}, err
	}
	return fromStored(stored, current.converter)
}
