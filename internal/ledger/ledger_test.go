package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lkarbiter/core/internal/apperr"
	"github.com/lkarbiter/core/internal/money"
)

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.FromString(s)
	require.NoError(t, err)
	return a
}

func seedAccount(t *testing.T, e *Engine, id, balance string) {
	t.Helper()
	e.OpenAccount(id)
	amt := mustAmount(t, balance)
	_, err := e.Credit(context.Background(), id, amt, TxDeposit, "")
	require.NoError(t, err)
}

func TestHappyPathSettlement(t *testing.T) {
	e := NewEngine(nil, nil)
	e.OpenAccount(TreasuryAccountID)
	seedAccount(t, e, "A", "100.0000")
	seedAccount(t, e, "B", "100.0000")

	ctx := context.Background()
	bet := mustAmount(t, "25")
	require.NoError(t, e.LockEscrow(ctx, "A", bet, "m1"))
	require.NoError(t, e.LockEscrow(ctx, "B", bet, "m1"))

	entry, err := e.SettleMatch(ctx, "m1", "A", "B", bet, 2)
	require.NoError(t, err)
	require.Equal(t, EntryCommitted, entry.Status)

	a, _ := e.Account("A")
	b, _ := e.Account("B")
	require.Equal(t, "122.0000", a.Available.String())
	require.Equal(t, "75.0000", b.Available.String())
	require.Equal(t, "3.0000", e.TreasuryBalance().String())
}

func TestInsufficientFundsAtLockRefundsOpponent(t *testing.T) {
	e := NewEngine(nil, nil)
	seedAccount(t, e, "C", "5")
	seedAccount(t, e, "D", "100")

	ctx := context.Background()
	bet := mustAmount(t, "10")

	err := e.LockEscrow(ctx, "C", bet, "m2")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindInsufficientFunds))

	require.NoError(t, e.LockEscrow(ctx, "D", bet, "m2"))
	require.NoError(t, e.ReleaseEscrow(ctx, "D", bet, "m2"))

	c, _ := e.Account("C")
	d, _ := e.Account("D")
	require.Equal(t, "5.0000", c.Available.String())
	require.Equal(t, "100.0000", d.Available.String())
}

func TestLockReleaseRoundTrip(t *testing.T) {
	e := NewEngine(nil, nil)
	seedAccount(t, e, "E", "50")
	ctx := context.Background()
	amt := mustAmount(t, "20")

	require.NoError(t, e.LockEscrow(ctx, "E", amt, "m3"))
	require.NoError(t, e.ReleaseEscrow(ctx, "E", amt, "m3"))

	acc, _ := e.Account("E")
	require.Equal(t, "50.0000", acc.Available.String())
	require.True(t, acc.EscrowMatch.IsZero())

	txs := e.Transactions("E")
	// deposit + lock + release = 3
	require.Len(t, txs, 3)
	for i := 1; i < len(txs); i++ {
		require.Equal(t, txs[i-1].TransactionHash, txs[i].PreviousTxHash)
	}
}

func TestCommitEntryTwiceFailsSecondTime(t *testing.T) {
	e := NewEngine(nil, nil)
	e.OpenAccount(TreasuryAccountID)
	seedAccount(t, e, "F", "100")
	seedAccount(t, e, "G", "100")
	ctx := context.Background()
	bet := mustAmount(t, "10")
	require.NoError(t, e.LockEscrow(ctx, "F", bet, "m4"))
	require.NoError(t, e.LockEscrow(ctx, "G", bet, "m4"))

	_, err := e.SettleMatch(ctx, "m4", "F", "G", bet, 2)
	require.NoError(t, err)

	// Re-settling the same match with escrow already released must fail,
	// not silently double-pay.
	_, err = e.SettleMatch(ctx, "m4", "F", "G", bet, 2)
	require.Error(t, err)
}

func TestBoundaryCommissionTiers(t *testing.T) {
	require.Equal(t, "seed", TierFor(10).Name)
	require.Equal(t, "competitor", TierFor(11).Name)
	require.Equal(t, "competitor", TierFor(50).Name)
	require.Equal(t, "pro", TierFor(51).Name)
}

func TestVerifyLedgerOK(t *testing.T) {
	e := NewEngine(nil, nil)
	e.OpenAccount(TreasuryAccountID)
	seedAccount(t, e, "H", "100")
	seedAccount(t, e, "I", "100")
	ctx := context.Background()
	bet := mustAmount(t, "25")
	require.NoError(t, e.LockEscrow(ctx, "H", bet, "m5"))
	require.NoError(t, e.LockEscrow(ctx, "I", bet, "m5"))
	_, err := e.SettleMatch(ctx, "m5", "H", "I", bet, 2)
	require.NoError(t, err)

	report := e.VerifyLedger()
	require.Equal(t, "ok", report.Integrity)
	require.True(t, report.Drift.IsZero())
	require.Empty(t, report.InvalidEntries)
}
