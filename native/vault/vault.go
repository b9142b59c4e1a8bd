// Package vault is an in-process yield wrapper. Each asset has its own share
// book; the underlying tokens sit in the bank under the vault address, so the
// redeemable value of a share moves whenever that balance changes.
//
// Conversions are plain pro-rata: an empty book mints one share per unit,
// and a sole holder always redeems exactly the vault balance.
package vault

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/native/fixedpoint"
)

var (
	ErrUnavailable        = errors.New("vault: wrapper unavailable")
	ErrInsufficientShares = errors.New("vault: insufficient shares")
	ErrInvalidAmount      = errors.New("vault: amount must be positive")
	ErrNotConfigured      = errors.New("vault: not configured")
)

// Storage is the persistence surface the vault needs.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Bank moves the underlying tokens.
type Bank interface {
	BalanceOf(token, holder common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) (*big.Int, error)
	Mint(token, to common.Address, amount *big.Int) error
	Burn(token, from common.Address, amount *big.Int) error
}

type storedShares struct {
	Shares string
}

type storedBook struct {
	TotalShares string
	Halted      bool
}

func bookKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf("vault/book/%s", asset.Hex()))
}

func sharesKey(asset, owner common.Address) []byte {
	return []byte(fmt.Sprintf("vault/shares/%s/%s", asset.Hex(), owner.Hex()))
}

// Vault implements the yield wrapper capability.
type Vault struct {
	store   Storage
	bank    Bank
	address common.Address
}

// New returns a vault holding its underlying at address.
func New(store Storage, bank Bank, address common.Address) *Vault {
	return &Vault{store: store, bank: bank, address: address}
}

// Address is the account that holds the vault's underlying tokens.
func (v *Vault) Address() common.Address {
	if v == nil {
		return common.Address{}
	}
	return v.address
}

func (v *Vault) ready() error {
	if v == nil || v.store == nil || v.bank == nil {
		return ErrNotConfigured
	}
	return nil
}

func (v *Vault) loadBook(asset common.Address) (storedBook, *big.Int, error) {
	var book storedBook
	if _, err := v.store.KVGet(bookKey(asset), &book); err != nil {
		return book, nil, err
	}
	total, err := fixedpoint.ParseOrZero(book.TotalShares)
	return book, total, err
}

func (v *Vault) live(asset common.Address) (storedBook, *big.Int, error) {
	book, total, err := v.loadBook(asset)
	if err != nil {
		return book, nil, err
	}
	if book.Halted {
		return book, nil, fmt.Errorf("%w: %s", ErrUnavailable, asset.Hex())
	}
	return book, total, nil
}

// TotalAssets is the underlying balance the vault holds for asset.
func (v *Vault) TotalAssets(asset common.Address) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	return v.bank.BalanceOf(asset, v.address)
}

// TotalShares is the outstanding share supply for asset.
func (v *Vault) TotalShares(asset common.Address) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	_, total, err := v.loadBook(asset)
	return total, err
}

// SharesOf returns owner's shares of asset.
func (v *Vault) SharesOf(asset, owner common.Address) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	var stored storedShares
	ok, err := v.store.KVGet(sharesKey(asset, owner), &stored)
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	return fixedpoint.ParseOrZero(stored.Shares)
}

func (v *Vault) putShares(asset, owner common.Address, shares *big.Int) error {
	if shares.Sign() == 0 {
		return v.store.KVDelete(sharesKey(asset, owner))
	}
	return v.store.KVPut(sharesKey(asset, owner), storedShares{Shares: shares.String()})
}

func (v *Vault) totals(asset common.Address) (*big.Int, error) {
	return v.bank.BalanceOf(asset, v.address)
}

func toShares(value, assets, shares *big.Int, roundUp bool) (*big.Int, error) {
	if shares.Sign() == 0 {
		return new(big.Int).Set(value), nil
	}
	if assets.Sign() == 0 {
		return nil, fmt.Errorf("%w: shares outstanding with no assets", ErrUnavailable)
	}
	if roundUp {
		return fixedpoint.MulDivUp(value, shares, assets)
	}
	return fixedpoint.MulDiv(value, shares, assets)
}

func toAssets(amount, assets, shares *big.Int) (*big.Int, error) {
	if shares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return fixedpoint.MulDiv(amount, assets, shares)
}

// ValueOfShares returns the redeemable underlying of shares, rounded down.
func (v *Vault) ValueOfShares(asset common.Address, shares *big.Int) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	_, total, err := v.live(asset)
	if err != nil {
		return nil, err
	}
	if fixedpoint.IsZero(shares) {
		return big.NewInt(0), nil
	}
	assets, err := v.totals(asset)
	if err != nil {
		return nil, err
	}
	return toAssets(shares, assets, total)
}

// SharesForValue converts an underlying amount into shares. Rounding down
// never redeems more than value; rounding up guarantees at least value.
func (v *Vault) SharesForValue(asset common.Address, value *big.Int, roundUp bool) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	_, total, err := v.live(asset)
	if err != nil {
		return nil, err
	}
	assets, err := v.totals(asset)
	if err != nil {
		return nil, err
	}
	return toShares(value, assets, total, roundUp)
}

// Deposit moves amount of asset from owner into the vault and mints shares.
func (v *Vault) Deposit(asset, owner common.Address, amount *big.Int) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	book, total, err := v.live(asset)
	if err != nil {
		return nil, err
	}
	assets, err := v.totals(asset)
	if err != nil {
		return nil, err
	}
	shares, err := toShares(amount, assets, total, false)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit of %s mints no shares", ErrInvalidAmount, amount)
	}
	if _, err := v.bank.Transfer(asset, owner, v.address, amount); err != nil {
		return nil, fmt.Errorf("vault: deposit: %w", err)
	}
	held, err := v.SharesOf(asset, owner)
	if err != nil {
		return nil, err
	}
	held, err = fixedpoint.Add(held, shares)
	if err != nil {
		return nil, err
	}
	if err := v.putShares(asset, owner, held); err != nil {
		return nil, err
	}
	total, err = fixedpoint.Add(total, shares)
	if err != nil {
		return nil, err
	}
	book.TotalShares = total.String()
	if err := v.store.KVPut(bookKey(asset), book); err != nil {
		return nil, err
	}
	return shares, nil
}

// Withdraw burns shares owned by owner and returns the underlying paid out.
func (v *Vault) Withdraw(asset, owner common.Address, shares *big.Int) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	book, total, err := v.live(asset)
	if err != nil {
		return nil, err
	}
	held, err := v.SharesOf(asset, owner)
	if err != nil {
		return nil, err
	}
	if held.Cmp(shares) < 0 {
		return nil, fmt.Errorf("%w: holds %s, redeeming %s", ErrInsufficientShares, held, shares)
	}
	assets, err := v.totals(asset)
	if err != nil {
		return nil, err
	}
	amount, err := toAssets(shares, assets, total)
	if err != nil {
		return nil, err
	}
	if err := v.putShares(asset, owner, new(big.Int).Sub(held, shares)); err != nil {
		return nil, err
	}
	book.TotalShares = new(big.Int).Sub(total, shares).String()
	if err := v.store.KVPut(bookKey(asset), book); err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		if _, err := v.bank.Transfer(asset, v.address, owner, amount); err != nil {
			return nil, fmt.Errorf("vault: withdraw: %w", err)
		}
	}
	return amount, nil
}

// SimulateYield changes the underlying held for asset without touching
// shares: a positive delta is strategy profit, a negative one a loss.
func (v *Vault) SimulateYield(asset common.Address, delta *big.Int) error {
	if err := v.ready(); err != nil {
		return err
	}
	switch {
	case delta == nil || delta.Sign() == 0:
		return nil
	case delta.Sign() > 0:
		return v.bank.Mint(asset, v.address, delta)
	default:
		return v.bank.Burn(asset, v.address, new(big.Int).Neg(delta))
	}
}

// SetHalted makes every wrapper call for asset fail until cleared.
func (v *Vault) SetHalted(asset common.Address, halted bool) error {
	if err := v.ready(); err != nil {
		return err
	}
	book, _, err := v.loadBook(asset)
	if err != nil {
		return err
	}
	book.Halted = halted
	return v.store.KVPut(bookKey(asset), book)
}
