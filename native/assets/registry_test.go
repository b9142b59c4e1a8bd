package assets

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/state"
	"reserveledger/native/fixedpoint"
	"reserveledger/storage"
)

func ratio(percent int64) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(big.NewInt(percent), fixedpoint.Unit), big.NewInt(100))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	tx, err := state.NewManager(storage.NewMemDB()).Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(tx.Discard)
	return NewRegistry(tx)
}

func TestRegisterAndList(t *testing.T) {
	reg := newTestRegistry(t)
	weth := common.HexToAddress("0x01")
	wbtc := common.HexToAddress("0x02")
	if _, err := reg.Register(Asset{Address: weth, Symbol: "weth", Decimals: 18, MCR: ratio(110), CCR: ratio(150)}); err != nil {
		t.Fatalf("register weth: %v", err)
	}
	if _, err := reg.Register(Asset{Address: wbtc, Symbol: "WBTC", Decimals: 8, MCR: ratio(120), CCR: ratio(165)}); err != nil {
		t.Fatalf("register wbtc: %v", err)
	}
	list, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Symbol != "WETH" || list[1].Address != wbtc {
		t.Fatalf("unexpected list %+v", list)
	}
	got, err := reg.Get(wbtc)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	norm, err := got.Converter().Normalize(big.NewInt(1))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if norm.Cmp(fixedpoint.Pow10(10)) != 0 {
		t.Fatalf("unexpected normalization %s", norm)
	}
}

func TestRegisterRejections(t *testing.T) {
	reg := newTestRegistry(t)
	addr := common.HexToAddress("0x01")
	if _, err := reg.Register(Asset{Address: addr, Symbol: "X", Decimals: 19, MCR: ratio(110), CCR: ratio(150)}); !errors.Is(err, fixedpoint.ErrUnsupportedDecimals) {
		t.Fatalf("expected ErrUnsupportedDecimals, got %v", err)
	}
	if _, err := reg.Register(Asset{Address: addr, Symbol: "X", Decimals: 18, MCR: ratio(100), CCR: ratio(150)}); !errors.Is(err, ErrInvalidRiskBounds) {
		t.Fatalf("expected ErrInvalidRiskBounds, got %v", err)
	}
	if _, err := reg.Register(Asset{Address: addr, Symbol: "X", Decimals: 18, MCR: ratio(110), CCR: ratio(150)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.Register(Asset{Address: addr, Symbol: "X", Decimals: 6, MCR: ratio(110), CCR: ratio(150)}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if _, err := reg.Get(common.HexToAddress("0x09")); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestUpdateRatiosOnlyDecrease(t *testing.T) {
	reg := newTestRegistry(t)
	addr := common.HexToAddress("0x01")
	if _, err := reg.Register(Asset{Address: addr, Symbol: "X", Decimals: 18, MCR: ratio(120), CCR: ratio(170)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.UpdateRatios(addr, ratio(130), ratio(170)); !errors.Is(err, ErrInvalidRiskBounds) {
		t.Fatalf("expected increase rejection, got %v", err)
	}
	updated, err := reg.UpdateRatios(addr, ratio(110), ratio(160))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.MCR.Cmp(ratio(110)) != 0 {
		t.Fatalf("mcr not updated")
	}
}
