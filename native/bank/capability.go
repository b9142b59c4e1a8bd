package bank

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferIn pulls amount of asset from an account that approved to and
// reports the amount received, measured as the recipient's balance delta.
func (l *Ledger) TransferIn(asset, from, to common.Address, amount *big.Int) (*big.Int, error) {
	before, err := l.BalanceOf(asset, to)
	if err != nil {
		return nil, err
	}
	if _, err := l.TransferFrom(asset, to, from, to, amount); err != nil {
		return nil, err
	}
	after, err := l.BalanceOf(asset, to)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(after, before), nil
}

// TransferOut pushes amount of asset from one holder to another.
func (l *Ledger) TransferOut(asset, from, to common.Address, amount *big.Int) error {
	_, err := l.Transfer(asset, from, to, amount)
	return err
}
