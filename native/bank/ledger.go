// Package bank keeps fungible token balances and allowances for every asset
// the ledger moves. It backs the asset transfer capability consumed by the
// pools and can simulate fee-on-transfer tokens.
package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/native/fixedpoint"
)

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrInvalidFee            = errors.New("bank: transfer fee out of range")
)

// Storage is the persistence surface the bank needs.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

type storedAmount struct {
	Amount string
}

type storedToken struct {
	Supply string
	FeeBps uint64
}

func balanceKey(token, holder common.Address) []byte {
	return []byte(fmt.Sprintf("bank/balance/%s/%s", token.Hex(), holder.Hex()))
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("bank/allowance/%s/%s/%s", token.Hex(), owner.Hex(), spender.Hex()))
}

func tokenKey(token common.Address) []byte {
	return []byte(fmt.Sprintf("bank/token/%s", token.Hex()))
}

// Ledger is the token book.
type Ledger struct {
	store Storage
}

// NewLedger binds a ledger to storage.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) loadAmount(key []byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: storage not configured")
	}
	var stored storedAmount
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return fixedpoint.ParseOrZero(stored.Amount)
}

func (l *Ledger) storeAmount(key []byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return l.store.KVDelete(key)
	}
	return l.store.KVPut(key, storedAmount{Amount: amount.String()})
}

func (l *Ledger) loadToken(token common.Address) (storedToken, *big.Int, error) {
	var stored storedToken
	if _, err := l.store.KVGet(tokenKey(token), &stored); err != nil {
		return stored, nil, err
	}
	supply, err := fixedpoint.ParseOrZero(stored.Supply)
	return stored, supply, err
}

// BalanceOf returns holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) (*big.Int, error) {
	return l.loadAmount(balanceKey(token, holder))
}

// TotalSupply returns the minted minus burned amount of token.
func (l *Ledger) TotalSupply(token common.Address) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: storage not configured")
	}
	_, supply, err := l.loadToken(token)
	return supply, err
}

// Allowance returns how much spender may pull from owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	return l.loadAmount(allowanceKey(token, owner, spender))
}

// SetTransferFeeBps configures a fee burned on every transfer of token.
func (l *Ledger) SetTransferFeeBps(token common.Address, bps uint64) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("bank: storage not configured")
	}
	if bps > fixedpoint.BasisPoints {
		return ErrInvalidFee
	}
	stored, _, err := l.loadToken(token)
	if err != nil {
		return err
	}
	stored.FeeBps = bps
	return l.store.KVPut(tokenKey(token), stored)
}

// TransferFeeBps reports the configured transfer fee of token.
func (l *Ledger) TransferFeeBps(token common.Address) (uint64, error) {
	if l == nil || l.store == nil {
		return 0, fmt.Errorf("bank: storage not configured")
	}
	stored, _, err := l.loadToken(token)
	return stored.FeeBps, err
}

func (l *Ledger) adjustSupply(token common.Address, delta *big.Int, burn bool) error {
	stored, supply, err := l.loadToken(token)
	if err != nil {
		return err
	}
	var next *big.Int
	if burn {
		next, err = fixedpoint.Sub(supply, delta)
	} else {
		next, err = fixedpoint.Add(supply, delta)
	}
	if err != nil {
		return fmt.Errorf("bank: supply: %w", err)
	}
	stored.Supply = next.String()
	return l.store.KVPut(tokenKey(token), stored)
}

func (l *Ledger) credit(token, holder common.Address, amount *big.Int) error {
	key := balanceKey(token, holder)
	balance, err := l.loadAmount(key)
	if err != nil {
		return err
	}
	next, err := fixedpoint.Add(balance, amount)
	if err != nil {
		return fmt.Errorf("bank: credit: %w", err)
	}
	return l.storeAmount(key, next)
}

func (l *Ledger) debit(token, holder common.Address, amount *big.Int) error {
	key := balanceKey(token, holder)
	balance, err := l.loadAmount(key)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, holder.Hex(), balance, token.Hex(), amount)
	}
	return l.storeAmount(key, new(big.Int).Sub(balance, amount))
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Mint creates amount of token for to.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if err := l.credit(token, to, amount); err != nil {
		return err
	}
	return l.adjustSupply(token, amount, false)
}

// Burn destroys amount of token held by from.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if err := l.debit(token, from, amount); err != nil {
		return err
	}
	return l.adjustSupply(token, amount, true)
}

// Approve sets the amount spender may pull from owner.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("bank: storage not configured")
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.storeAmount(allowanceKey(token, owner, spender), amount)
}

// Transfer moves amount from one holder to another and returns what the
// recipient actually received after the token's transfer fee.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) (*big.Int, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	stored, _, err := l.loadToken(token)
	if err != nil {
		return nil, err
	}
	if err := l.debit(token, from, amount); err != nil {
		return nil, err
	}
	fee, err := fixedpoint.BpsOf(amount, stored.FeeBps)
	if err != nil {
		return nil, err
	}
	received := new(big.Int).Sub(amount, fee)
	if received.Sign() > 0 {
		if err := l.credit(token, to, received); err != nil {
			return nil, err
		}
	}
	if fee.Sign() > 0 {
		if err := l.adjustSupply(token, fee, true); err != nil {
			return nil, err
		}
	}
	return received, nil
}

// TransferFrom spends spender's allowance over from's balance.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) (*big.Int, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	key := allowanceKey(token, from, spender)
	allowance, err := l.loadAmount(key)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: %s may pull %s, needs %s", ErrInsufficientAllowance, spender.Hex(), allowance, amount)
	}
	if err := l.storeAmount(key, new(big.Int).Sub(allowance, amount)); err != nil {
		return nil, err
	}
	return l.Transfer(token, from, to, amount)
}
