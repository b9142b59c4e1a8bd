package bank

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"reserveledger/core/state"
	"reserveledger/storage"
)

var (
	token = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	pool  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	tx, err := state.NewManager(storage.NewMemDB()).Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(tx.Discard)
	return NewLedger(tx)
}

func mustBalance(t *testing.T, l *Ledger, holder common.Address) int64 {
	t.Helper()
	bal, err := l.BalanceOf(token, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func TestMintTransferBurn(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Mint(token, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	received, err := l.Transfer(token, alice, pool, big.NewInt(40))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if received.Int64() != 40 {
		t.Fatalf("unexpected received %s", received)
	}
	if err := l.Burn(token, pool, big.NewInt(10)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := mustBalance(t, l, alice); got != 60 {
		t.Fatalf("alice balance %d", got)
	}
	if got := mustBalance(t, l, pool); got != 30 {
		t.Fatalf("pool balance %d", got)
	}
	supply, _ := l.TotalSupply(token)
	if supply.Int64() != 90 {
		t.Fatalf("supply %s", supply)
	}
	if _, err := l.Transfer(token, alice, pool, big.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTransferInRequiresAllowance(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Mint(token, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := l.TransferIn(token, alice, pool, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := l.Approve(token, alice, pool, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	received, err := l.TransferIn(token, alice, pool, big.NewInt(50))
	if err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if received.Int64() != 50 {
		t.Fatalf("received %s", received)
	}
	left, _ := l.Allowance(token, alice, pool)
	if left.Sign() != 0 {
		t.Fatalf("allowance not consumed: %s", left)
	}
}

func TestFeeOnTransferReducesReceived(t *testing.T) {
	l := newTestLedger(t)
	if err := l.SetTransferFeeBps(token, 100); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := l.Mint(token, alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Approve(token, alice, pool, big.NewInt(1_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	received, err := l.TransferIn(token, alice, pool, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if received.Int64() != 990 {
		t.Fatalf("expected 990 after fee, got %s", received)
	}
	if err := l.SetTransferFeeBps(token, 10_001); !errors.Is(err, ErrInvalidFee) {
		t.Fatalf("expected ErrInvalidFee, got %v", err)
	}
}
