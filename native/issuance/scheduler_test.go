package issuance

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"reserveledger/core/state"
	"reserveledger/native/bank"
	"reserveledger/native/fixedpoint"
	"reserveledger/storage"
)

var (
	rewardToken = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	schedAcct   = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	funder      = common.HexToAddress("0x00000000000000000000000000000000000000e3")
	receiver    = common.HexToAddress("0x00000000000000000000000000000000000000e4")
)

const week = 7 * 24 * time.Hour

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Unit)
}

func newTestScheduler(t *testing.T, period time.Duration) (*Scheduler, *bank.Ledger, *clockwork.FakeClock) {
	t.Helper()
	tx, err := state.NewManager(storage.NewMemDB()).Begin()
	require.NoError(t, err)
	t.Cleanup(tx.Discard)
	ledger := bank.NewLedger(tx)
	require.NoError(t, ledger.Mint(rewardToken, funder, units(1_000_000)))
	require.NoError(t, ledger.Approve(rewardToken, funder, schedAcct, units(1_000_000)))
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	s := NewScheduler(tx, ledger, rewardToken, schedAcct, period)
	s.SetClock(clock.Now)
	return s, ledger, clock
}

func TestIssueAfterOneDayOfSevenDayPeriod(t *testing.T) {
	s, _, clock := newTestScheduler(t, week)
	_, err := s.Fund(funder, units(1_000))
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	issued, err := s.Issue()
	require.NoError(t, err)

	// 1000/7 with one unit of least precision tolerance.
	want := new(big.Int).Div(units(1_000), big.NewInt(7))
	diff := new(big.Int).Sub(want, issued)
	if diff.Sign() < 0 || diff.Cmp(big.NewInt(1)) > 0 {
		t.Fatalf("issued %s, want %s", issued, want)
	}
}

func TestIssuanceStallsAfterPeriod(t *testing.T) {
	s, _, clock := newTestScheduler(t, week)
	_, err := s.Fund(funder, units(700))
	require.NoError(t, err)

	clock.Advance(30 * 24 * time.Hour)
	issued, err := s.Issue()
	require.NoError(t, err)
	require.True(t, issued.Cmp(units(700)) <= 0)
	within := new(big.Int).Sub(units(700), issued)
	require.True(t, within.Cmp(big.NewInt(1_000_000)) < 0, "issued %s", issued)

	clock.Advance(24 * time.Hour)
	more, err := s.Issue()
	require.NoError(t, err)
	require.Zero(t, more.Sign())
}

func TestMonotonicIssuanceNeverExceedsFunding(t *testing.T) {
	s, _, clock := newTestScheduler(t, week)
	_, err := s.Fund(funder, units(100))
	require.NoError(t, err)

	prev := big.NewInt(0)
	for i := 0; i < 20; i++ {
		clock.Advance(13 * time.Hour)
		if i == 5 {
			_, err := s.Fund(funder, units(50))
			require.NoError(t, err)
		}
		_, err := s.Issue()
		require.NoError(t, err)
		st, err := s.State()
		require.NoError(t, err)
		if st.TotalIssued.Cmp(prev) < 0 {
			t.Fatalf("total issued decreased: %s < %s", st.TotalIssued, prev)
		}
		if st.TotalIssued.Cmp(st.TotalFunded) > 0 {
			t.Fatalf("issued %s exceeds funded %s", st.TotalIssued, st.TotalFunded)
		}
		prev = st.TotalIssued
	}
}

func TestRefundBlendsUnissuedRemainder(t *testing.T) {
	s, _, clock := newTestScheduler(t, week)
	_, err := s.Fund(funder, units(700))
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)
	_, err = s.Issue()
	require.NoError(t, err)

	st, err := s.Fund(funder, units(100))
	require.NoError(t, err)
	// 600 left over plus 100 new, spread over a fresh week.
	rate := st.Rate()
	want := new(big.Int).Div(units(700), big.NewInt(int64(week/time.Second)))
	diff := new(big.Int).Sub(want, rate)
	require.True(t, diff.CmpAbs(big.NewInt(1)) <= 0, "rate %s want %s", rate, want)
}

func TestFundRejectsZero(t *testing.T) {
	s, _, _ := newTestScheduler(t, week)
	if _, err := s.Fund(funder, big.NewInt(0)); !errors.Is(err, ErrZeroFunding) {
		t.Fatalf("expected ErrZeroFunding, got %v", err)
	}
}

func TestUpdatePeriodAffectsOnlyNextFunding(t *testing.T) {
	s, _, clock := newTestScheduler(t, week)
	first, err := s.Fund(funder, units(700))
	require.NoError(t, err)
	require.NoError(t, s.UpdateDistributionPeriod(24*time.Hour))
	require.ErrorIs(t, s.UpdateDistributionPeriod(0), ErrInvalidPeriod)

	st, err := s.State()
	require.NoError(t, err)
	require.Equal(t, 0, st.RatePerSecond.Cmp(first.RatePerSecond))
	require.Equal(t, first.LastDistribution, st.LastDistribution)

	clock.Advance(time.Hour)
	_, err = s.Issue()
	require.NoError(t, err)
	next, err := s.Fund(funder, units(1))
	require.NoError(t, err)
	require.Equal(t, uint64(24*3600), next.PeriodSeconds)
	require.Equal(t, next.LastIssuance+24*3600, next.LastDistribution)
}

func TestSendRewardCapsAtBalance(t *testing.T) {
	s, ledger, _ := newTestScheduler(t, week)
	_, err := s.Fund(funder, units(10))
	require.NoError(t, err)
	paid, err := s.SendReward(receiver, units(25))
	require.NoError(t, err)
	require.Equal(t, 0, paid.Cmp(units(10)))
	bal, err := ledger.BalanceOf(rewardToken, receiver)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Cmp(units(10)))
}
