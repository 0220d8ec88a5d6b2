package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lkarbiter/core/internal/jitter"
	"github.com/lkarbiter/core/internal/ledger"
	"github.com/lkarbiter/core/internal/lock"
	"github.com/lkarbiter/core/internal/money"
	"github.com/lkarbiter/core/internal/shield"
)

type noopSink struct{}

func (noopSink) RoomEvent(ctx context.Context, matchID string, eventType string, payload map[string]any) {
}
func (noopSink) PlayerEvent(ctx context.Context, accountID string, eventType string, payload map[string]any) {
}

func testConfig() Config {
	return Config{
		BotsEnabled:      false,
		BotMinDelay:      10 * time.Millisecond,
		BotMaxJitter:     5 * time.Millisecond,
		QueueTimeout:     time.Second,
		EscrowConfirmTTL: 200 * time.Millisecond,
		ReconnectGrace:   300 * time.Millisecond,
		RoomLockTTL:      5 * time.Second,
	}
}

func seed(t *testing.T, e *ledger.Engine, id, amount string) {
	t.Helper()
	e.OpenAccount(id)
	amt, err := money.FromString(amount)
	require.NoError(t, err)
	_, err = e.Credit(context.Background(), id, amt, ledger.TxDeposit, "")
	require.NoError(t, err)
}

func TestJoinMatchmakingPairsTwoHumans(t *testing.T) {
	ledgerEngine := ledger.NewEngine(nil, nil)
	ledgerEngine.OpenAccount(ledger.TreasuryAccountID)
	seed(t, ledgerEngine, "p1", "100")
	seed(t, ledgerEngine, "p2", "100")

	mgr := NewManager(testConfig(), ledgerEngine, shield.New(shield.DefaultConfig), lock.NewLocalManager(), noopSink{})
	ctx := context.Background()
	bet, _ := money.FromString("10")

	room, decision, err := mgr.JoinMatchmaking(ctx, "p1", "ludo", bet, shield.PlayerSecurityProfile{AccountID: "p1", TrustScore: 90})
	require.NoError(t, err)
	require.Nil(t, room)
	require.Equal(t, shield.VerdictApproved, decision.Verdict)

	room2, _, err := mgr.JoinMatchmaking(ctx, "p2", "ludo", bet, shield.PlayerSecurityProfile{AccountID: "p2", TrustScore: 90})
	require.NoError(t, err)
	require.NotNil(t, room2)
	require.Equal(t, StateMatchmaking, room2.State)
	require.Len(t, room2.Players, 2)
}

func TestFullLifecycleToSettlement(t *testing.T) {
	ledgerEngine := ledger.NewEngine(nil, nil)
	ledgerEngine.OpenAccount(ledger.TreasuryAccountID)
	seed(t, ledgerEngine, "p1", "100")
	seed(t, ledgerEngine, "p2", "100")

	mgr := NewManager(testConfig(), ledgerEngine, shield.New(shield.DefaultConfig), lock.NewLocalManager(), noopSink{})
	ctx := context.Background()
	bet, _ := money.FromString("10")

	_, _, err := mgr.JoinMatchmaking(ctx, "p1", "ludo", bet, shield.PlayerSecurityProfile{AccountID: "p1", TrustScore: 90})
	require.NoError(t, err)
	room, _, err := mgr.JoinMatchmaking(ctx, "p2", "ludo", bet, shield.PlayerSecurityProfile{AccountID: "p2", TrustScore: 90})
	require.NoError(t, err)
	require.NotNil(t, room)

	require.NoError(t, mgr.PlayerReady(ctx, room.MatchID, "p1", "seed1"))
	require.NoError(t, mgr.PlayerReady(ctx, room.MatchID, "p2", "seed2"))
	require.Equal(t, StateLocked, room.State)

	require.NoError(t, mgr.ConfirmEscrow(ctx, room.MatchID, "p1"))
	require.NoError(t, mgr.ConfirmEscrow(ctx, room.MatchID, "p2"))

	require.Eventually(t, func() bool {
		room.mu.Lock()
		defer room.mu.Unlock()
		return room.State == StateInProgress
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, mgr.SubmitGameResult(ctx, room.MatchID))
	require.NoError(t, mgr.ConfirmValidation(ctx, room.MatchID, true))
	require.Equal(t, StateSettlement, room.State)

	entry, err := mgr.Settle(ctx, room.MatchID, "p1", "p2")
	require.NoError(t, err)
	require.Equal(t, ledger.EntryCommitted, entry.Status)
	require.Equal(t, StateCompleted, room.State)
}

func TestEscrowLockFailureCancelsRoom(t *testing.T) {
	ledgerEngine := ledger.NewEngine(nil, nil)
	ledgerEngine.OpenAccount(ledger.TreasuryAccountID)
	seed(t, ledgerEngine, "p3", "5")
	seed(t, ledgerEngine, "p4", "100")

	mgr := NewManager(testConfig(), ledgerEngine, shield.New(shield.DefaultConfig), lock.NewLocalManager(), noopSink{})
	ctx := context.Background()
	bet, _ := money.FromString("10")

	_, _, err := mgr.JoinMatchmaking(ctx, "p3", "ludo", bet, shield.PlayerSecurityProfile{AccountID: "p3", TrustScore: 90})
	require.NoError(t, err)
	room, _, err := mgr.JoinMatchmaking(ctx, "p4", "ludo", bet, shield.PlayerSecurityProfile{AccountID: "p4", TrustScore: 90})
	require.NoError(t, err)

	require.NoError(t, mgr.PlayerReady(ctx, room.MatchID, "p3", ""))
	err = mgr.PlayerReady(ctx, room.MatchID, "p4", "")
	require.Error(t, err)
	require.Equal(t, StateCancelled, room.State)
}

func TestCancelMatchmakingIsIdempotent(t *testing.T) {
	ledgerEngine := ledger.NewEngine(nil, nil)
	mgr := NewManager(testConfig(), ledgerEngine, shield.New(shield.DefaultConfig), lock.NewLocalManager(), noopSink{})
	bet, _ := money.FromString("10")
	mgr.CancelMatchmaking("ludo", bet, "nobody")
	mgr.CancelMatchmaking("ludo", bet, "nobody")
}

func TestDisconnectForfeitSettlesAfterGrace(t *testing.T) {
	ledgerEngine := ledger.NewEngine(nil, nil)
	ledgerEngine.OpenAccount(ledger.TreasuryAccountID)
	seed(t, ledgerEngine, "p5", "100")
	seed(t, ledgerEngine, "p6", "100")

	cfg := testConfig()
	cfg.ReconnectGrace = 50 * time.Millisecond
	mgr := NewManager(cfg, ledgerEngine, shield.New(shield.DefaultConfig), lock.NewLocalManager(), noopSink{})
	ctx := context.Background()
	bet, _ := money.FromString("10")

	_, _, err := mgr.JoinMatchmaking(ctx, "p5", "ludo", bet, shield.PlayerSecurityProfile{AccountID: "p5", TrustScore: 90})
	require.NoError(t, err)
	room, _, err := mgr.JoinMatchmaking(ctx, "p6", "ludo", bet, shield.PlayerSecurityProfile{AccountID: "p6", TrustScore: 90})
	require.NoError(t, err)

	require.NoError(t, mgr.PlayerReady(ctx, room.MatchID, "p5", ""))
	require.NoError(t, mgr.PlayerReady(ctx, room.MatchID, "p6", ""))
	require.NoError(t, mgr.ConfirmEscrow(ctx, room.MatchID, "p5"))
	require.NoError(t, mgr.ConfirmEscrow(ctx, room.MatchID, "p6"))

	require.Eventually(t, func() bool {
		room.mu.Lock()
		defer room.mu.Unlock()
		return room.State == StateInProgress
	}, time.Second, 10*time.Millisecond)

	mgr.HandleDisconnect(ctx, room.MatchID, "p6", jitter.DisconnectGenuine)

	require.Eventually(t, func() bool {
		room.mu.Lock()
		defer room.mu.Unlock()
		return room.State == StateCompleted
	}, time.Second, 10*time.Millisecond)

	acct, _ := ledgerEngine.Account("p5")
	require.Equal(t, "108.4000", acct.Available.String())
}
