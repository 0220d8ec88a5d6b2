// Package match implements the match manager and room FSM (spec §4.7):
// matchmaking queues, room lifecycle, reconnection grace timers, and
// the house-bot fallback. Named after "GameEngineFactory"/"LKBot" in
// the original Python source.
package match

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lkarbiter/core/internal/apperr"
	"github.com/lkarbiter/core/internal/fairdice"
	"github.com/lkarbiter/core/internal/jitter"
	"github.com/lkarbiter/core/internal/ledger"
	"github.com/lkarbiter/core/internal/lock"
	"github.com/lkarbiter/core/internal/ludo"
	"github.com/lkarbiter/core/internal/money"
	"github.com/lkarbiter/core/internal/physics"
	"github.com/lkarbiter/core/internal/shield"
)

// RoomState is the room FSM state (spec §4.7).
type RoomState string

const (
	StateMatchmaking RoomState = "matchmaking"
	StateLocked      RoomState = "locked"
	StateInProgress  RoomState = "in_progress"
	StateValidation  RoomState = "validation"
	StateSettlement  RoomState = "settlement"
	StateDisputed    RoomState = "disputed"
	StateCompleted   RoomState = "completed"
	StateCancelled   RoomState = "cancelled"
)

var allowedTransitions = map[RoomState][]RoomState{
	StateMatchmaking: {StateLocked, StateCancelled},
	StateLocked:      {StateInProgress, StateCancelled},
	StateInProgress:  {StateValidation, StateDisputed},
	StateValidation:  {StateSettlement, StateDisputed},
	StateSettlement:  {StateCompleted, StateDisputed},
	StateDisputed:    {StateCompleted, StateCancelled},
}

func canTransition(from, to RoomState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// isBoardGame reports whether gameType is played on C6's board engine
// (ludo) rather than shadow-validated against C5's shot simulators.
func isBoardGame(gameType string) bool {
	switch gameType {
	case "", "ludo":
		return true
	default:
		return false
	}
}

// PlayerConnection is one seated player's connection state (spec §3).
type PlayerConnection struct {
	AccountID       string
	SessionHandle   string
	IsReady         bool
	IsConnected     bool
	IP              string
	DeviceFingerprint string
	EscrowConfirmed bool
	BalanceAtLock   money.Amount
	LastHeartbeat   time.Time
	IsBot           bool
	disconnectTimer *time.Timer
}

// QueueKey identifies one matchmaking queue (spec §4.7).
type QueueKey struct {
	GameType  string
	BetAmount string
}

// MatchRoom is one in-flight or completed match (spec §3).
type MatchRoom struct {
	mu sync.Mutex

	MatchID          string
	GameType         string
	BetAmount        money.Amount
	State            RoomState
	Players          []*PlayerConnection
	CreatedAt        time.Time
	LockedAt         time.Time
	StartedAt        time.Time
	SessionID        string
	InitialStateHash string
	Dice             *fairdice.Dice
	Game             *ludo.Game
	MoveSequence     uint64
	LedgerEntryID    string
	CancelReason     string

	// ShotOutcomes accumulates C5 shadow-validation results for
	// physics-based (non-board) games as shot claims arrive via
	// RecordMove; ConfirmValidation consults it instead of the board
	// engine's move log (spec §4.7 "shadow check (C5) or engine log (C6)").
	ShotOutcomes []physics.ValidationOutcome
}

func (r *MatchRoom) player(accountID string) *PlayerConnection {
	for _, p := range r.Players {
		if p.AccountID == accountID {
			return p
		}
	}
	return nil
}

// Config mirrors internal/config.MatchmakingConfig.
type Config struct {
	BotsEnabled      bool
	BotMinDelay      time.Duration
	BotMaxJitter     time.Duration
	QueueTimeout     time.Duration
	EscrowConfirmTTL time.Duration
	ReconnectGrace   time.Duration
	RoomLockTTL      time.Duration
}

// EventSink receives room lifecycle notifications destined for the
// realtime gateway (spec §6 server→client events); Manager never talks
// to sessions directly.
type EventSink interface {
	RoomEvent(ctx context.Context, matchID string, eventType string, payload map[string]any)
	PlayerEvent(ctx context.Context, accountID string, eventType string, payload map[string]any)
}

type queueEntry struct {
	accountID string
	profile   shield.PlayerSecurityProfile
	joinedAt  time.Time
}

// Manager owns matchmaking queues and the set of live rooms.
type Manager struct {
	cfg    Config
	ledger *ledger.Engine
	shield *shield.Shield
	locks  lock.Manager
	sink   EventSink

	queueMu sync.Mutex
	queues  map[QueueKey][]*queueEntry

	roomsMu      sync.Mutex
	rooms        map[string]*MatchRoom
	accountRooms map[string]string // accountID -> matchID, for gateway disconnect/reconnect callbacks
}

// NewManager builds a Manager wired to the ledger, shield, distributed
// lock manager, and gateway event sink.
func NewManager(cfg Config, ledgerEngine *ledger.Engine, shieldSvc *shield.Shield, locks lock.Manager, sink EventSink) *Manager {
	return &Manager{
		cfg:          cfg,
		ledger:       ledgerEngine,
		shield:       shieldSvc,
		locks:        locks,
		sink:         sink,
		queues:       make(map[QueueKey][]*queueEntry),
		rooms:        make(map[string]*MatchRoom),
		accountRooms: make(map[string]string),
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

// JoinMatchmaking enqueues an account for (gameType, betAmount), pairing
// it with a waiting distinct-account opponent if one exists, else
// falling back to a house bot or appending to the queue (spec §4.7).
func (m *Manager) JoinMatchmaking(ctx context.Context, accountID, gameType string, betAmount money.Amount, profile shield.PlayerSecurityProfile) (*MatchRoom, shield.Decision, error) {
	decision := shield.Decision{Verdict: shield.VerdictApproved}
	if m.shield != nil {
		decision = m.shield.CheckEligibility(profile, betAmount.Decimal().IntPart(), time.Now())
		if decision.Verdict != shield.VerdictApproved && decision.Verdict != shield.VerdictReviewRequired {
			return nil, decision, apperr.New(apperr.KindLowTrust, string(decision.Verdict))
		}
	}

	key := QueueKey{GameType: gameType, BetAmount: betAmount.String()}

	m.queueMu.Lock()
	queue := m.queues[key]
	for i, entry := range queue {
		if entry.accountID == accountID {
			continue
		}
		if m.shield != nil {
			if report := m.shield.CheckCollusion(entry.profile, profile); report.Refuse {
				// Paired players look colluding (spec §4.3, scenario 6):
				// leave the queued opponent in place and keep scanning
				// instead of locking a room that will only get disputed.
				continue
			}
		}
		opponent := entry
		m.queues[key] = append(queue[:i], queue[i+1:]...)
		m.queueMu.Unlock()

		room, err := m.createRoom(ctx, gameType, betAmount, []string{opponent.accountID, accountID})
		return room, decision, err
	}
	if m.cfg.BotsEnabled {
		m.queueMu.Unlock()
		room, err := m.createRoom(ctx, gameType, betAmount, []string{accountID, m.spawnBot()})
		return room, decision, err
	}
	m.queues[key] = append(queue, &queueEntry{accountID: accountID, profile: profile, joinedAt: time.Now()})
	m.queueMu.Unlock()
	return nil, decision, nil
}

// CancelMatchmaking idempotently removes an account from a queue
// (spec §5 cancellation).
func (m *Manager) CancelMatchmaking(gameType string, betAmount money.Amount, accountID string) {
	key := QueueKey{GameType: gameType, BetAmount: betAmount.String()}
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	queue := m.queues[key]
	for i, e := range queue {
		if e.accountID == accountID {
			m.queues[key] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

var botCounter int64

func (m *Manager) spawnBot() string {
	botCounter++
	return fmt.Sprintf("LKBOT-%d", botCounter)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (m *Manager) createRoom(ctx context.Context, gameType string, betAmount money.Amount, accountIDs []string) (*MatchRoom, error) {
	dice, err := fairdice.New()
	if err != nil {
		return nil, err
	}
	room := &MatchRoom{
		MatchID:   uuid.NewString(),
		GameType:  gameType,
		BetAmount: betAmount,
		State:     StateMatchmaking,
		CreatedAt: time.Now().UTC(),
		SessionID: randomHex(32),
		Dice:      dice,
	}
	for _, acc := range accountIDs {
		isBot := len(acc) > 6 && acc[:6] == "LKBOT-"
		room.Players = append(room.Players, &PlayerConnection{
			AccountID:   acc,
			IsConnected: true,
			IsReady:     isBot,
			IsBot:       isBot,
		})
	}

	m.roomsMu.Lock()
	m.rooms[room.MatchID] = room
	for _, p := range room.Players {
		if !p.IsBot {
			m.accountRooms[p.AccountID] = room.MatchID
		}
	}
	m.roomsMu.Unlock()

	if m.sink != nil {
		m.sink.RoomEvent(ctx, room.MatchID, "match_found", map[string]any{
			"session_id":       room.SessionID,
			"server_seed_hash": dice.ServerSeedHash(),
		})
	}

	for _, p := range room.Players {
		if p.IsBot {
			go m.botAutoReady(ctx, room, p)
		}
	}
	return room, nil
}

func (m *Manager) botAutoReady(ctx context.Context, room *MatchRoom, bot *PlayerConnection) {
	delay := m.cfg.BotMinDelay + randomJitter(m.cfg.BotMaxJitter)
	time.Sleep(delay)
	_ = m.PlayerReady(ctx, room.MatchID, bot.AccountID, "")
}

func (m *Manager) roomFor(matchID string) (*MatchRoom, error) {
	m.roomsMu.Lock()
	defer m.roomsMu.Unlock()
	r, ok := m.rooms[matchID]
	if !ok {
		return nil, apperr.New(apperr.KindInvalidTransition, "unknown match")
	}
	return r, nil
}

// PlayerReady marks a player ready and triggers matchmaking→locked once
// every human player is ready (spec §4.7).
func (m *Manager) PlayerReady(ctx context.Context, matchID, accountID, clientSeed string) error {
	room, err := m.roomFor(matchID)
	if err != nil {
		return err
	}
	return lock.WithLock(ctx, m.locks, "room:"+matchID, m.cfg.RoomLockTTL, func() error {
		room.mu.Lock()
		defer room.mu.Unlock()

		if room.State != StateMatchmaking {
			return apperr.New(apperr.KindInvalidTransition, "room not in matchmaking")
		}
		p := room.player(accountID)
		if p == nil {
			return apperr.New(apperr.KindInvalidTransition, "not a room member")
		}
		p.IsReady = true
		if clientSeed != "" {
			room.Dice.SetClientSeed(accountID, clientSeed)
		}

		for _, pl := range room.Players {
			if !pl.IsReady {
				return nil
			}
		}
		return m.transitionToLocked(ctx, room)
	})
}

// transitionToLocked locks each player's bet via the ledger; on any
// failure, refunds already-locked players and cancels the room
// (spec §4.7). Must be called with room.mu held.
func (m *Manager) transitionToLocked(ctx context.Context, room *MatchRoom) error {
	locked := make([]string, 0, len(room.Players))
	for _, p := range room.Players {
		if p.IsBot {
			locked = append(locked, p.AccountID)
			continue
		}
		if err := m.ledger.LockEscrow(ctx, p.AccountID, room.BetAmount, room.MatchID); err != nil {
			for _, id := range locked {
				_ = m.ledger.ReleaseEscrow(ctx, id, room.BetAmount, room.MatchID)
			}
			room.State = StateCancelled
			room.CancelReason = "escrow_lock_failed"
			if m.sink != nil {
				m.sink.RoomEvent(ctx, room.MatchID, "match_cancelled", map[string]any{"reason": room.CancelReason})
			}
			return err
		}
		locked = append(locked, p.AccountID)
		acc, _ := m.ledger.Account(p.AccountID)
		p.BalanceAtLock = acc.Total()
	}

	room.State = StateLocked
	room.LockedAt = time.Now().UTC()
	room.InitialStateHash = initialStateHash(room)
	if m.sink != nil {
		m.sink.RoomEvent(ctx, room.MatchID, "match_locked", map[string]any{
			"initial_state_hash": room.InitialStateHash,
			"escrow_required":    true,
		})
	}

	for _, p := range room.Players {
		if p.IsBot {
			p.EscrowConfirmed = true
		}
	}
	go m.awaitEscrowConfirmation(ctx, room)
	return nil
}

func initialStateHash(room *MatchRoom) string {
	parts := fmt.Sprintf("%s|%s|%s", room.MatchID, room.SessionID, room.BetAmount.String())
	for _, p := range room.Players {
		parts += fmt.Sprintf("|%s,%s,%s,%s", p.AccountID, p.BalanceAtLock.String(), p.IP, p.DeviceFingerprint)
	}
	return hex.EncodeToString([]byte(parts))
}

func (m *Manager) awaitEscrowConfirmation(ctx context.Context, room *MatchRoom) {
	deadline := time.After(m.cfg.EscrowConfirmTTL)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			_ = lock.WithLock(ctx, m.locks, "room:"+room.MatchID, m.cfg.RoomLockTTL, func() error {
				room.mu.Lock()
				defer room.mu.Unlock()
				if room.State != StateLocked {
					return nil
				}
				for _, p := range room.Players {
					if !p.EscrowConfirmed {
						for _, q := range room.Players {
							_ = m.ledger.ReleaseEscrow(ctx, q.AccountID, room.BetAmount, room.MatchID)
						}
						room.State = StateCancelled
						room.CancelReason = "escrow_confirm_timeout"
						if m.sink != nil {
							m.sink.RoomEvent(ctx, room.MatchID, "match_cancelled", map[string]any{"reason": room.CancelReason})
						}
						return nil
					}
				}
				return nil
			})
			return
		case <-ticker.C:
			room.mu.Lock()
			allConfirmed := room.State == StateLocked
			if allConfirmed {
				for _, p := range room.Players {
					if !p.EscrowConfirmed {
						allConfirmed = false
						break
					}
				}
			}
			room.mu.Unlock()
			if allConfirmed {
				_ = m.transitionToInProgress(ctx, room)
				return
			}
		}
	}
}

// ConfirmEscrow records a player's escrow acknowledgement (spec §6
// confirm_escrow).
func (m *Manager) ConfirmEscrow(ctx context.Context, matchID, accountID string) error {
	room, err := m.roomFor(matchID)
	if err != nil {
		return err
	}
	room.mu.Lock()
	if room.State != StateLocked {
		room.mu.Unlock()
		return apperr.New(apperr.KindInvalidTransition, "room not locked")
	}
	p := room.player(accountID)
	if p == nil {
		room.mu.Unlock()
		return apperr.New(apperr.KindInvalidTransition, "not a room member")
	}
	p.EscrowConfirmed = true
	room.mu.Unlock()
	return nil
}

func (m *Manager) transitionToInProgress(ctx context.Context, room *MatchRoom) error {
	return lock.WithLock(ctx, m.locks, "room:"+room.MatchID, m.cfg.RoomLockTTL, func() error {
		room.mu.Lock()
		defer room.mu.Unlock()
		if room.State != StateLocked || !canTransition(room.State, StateInProgress) {
			return apperr.New(apperr.KindInvalidTransition, "cannot start room")
		}
		if isBoardGame(room.GameType) {
			accountIDs := make([]string, 0, len(room.Players))
			for _, p := range room.Players {
				accountIDs = append(accountIDs, p.AccountID)
			}
			game, err := ludo.NewGame(room.MatchID, room.Dice, accountIDs)
			if err != nil {
				return err
			}
			room.Game = game
		}
		room.State = StateInProgress
		room.StartedAt = time.Now().UTC()
		if m.sink != nil {
			m.sink.RoomEvent(ctx, room.MatchID, "match_started", nil)
		}
		return nil
	})
}

// RecordMove appends a client move to the room's totally-ordered move
// log under the room lock (spec §5 ordering guarantees). For
// physics-validated (non-board) games, a move carrying a shot claim is
// also shadow-validated against the matching C5 simulator and its
// outcome recorded for ConfirmValidation (spec §4.5, §4.7).
func (m *Manager) RecordMove(ctx context.Context, matchID, accountID string, moveType string, payload map[string]any) (uint64, error) {
	room, err := m.roomFor(matchID)
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = lock.WithLock(ctx, m.locks, "room:"+matchID, m.cfg.RoomLockTTL, func() error {
		room.mu.Lock()
		defer room.mu.Unlock()
		if room.State != StateInProgress {
			return apperr.New(apperr.KindInvalidTransition, "room not in progress")
		}
		room.MoveSequence++
		seq = room.MoveSequence
		if !isBoardGame(room.GameType) {
			if outcome, ok := shadowValidateShot(room.GameType, room.MatchID, payload); ok {
				room.ShotOutcomes = append(room.ShotOutcomes, outcome)
			}
		}
		return nil
	})
	return seq, err
}

// shotClaimPayload is the subset of a non-board game_move payload
// carrying a C5 shot claim; payloads without a client_verdict are
// skipped.
type shotClaimPayload struct {
	ShotIndex     int               `json:"shot_index"`
	Shot          physics.ShotInput `json:"shot"`
	ClientVerdict physics.Verdict   `json:"client_verdict"`
	ClientFinal   physics.Vec3      `json:"client_final"`
}

// shadowValidateShot runs the matching C5 integrator for gameType and
// compares it against a client-reported shot claim decoded from
// payload, returning ok=false if payload carries no shot claim.
func shadowValidateShot(gameType, matchID string, payload map[string]any) (physics.ValidationOutcome, bool) {
	if payload == nil {
		return "", false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", false
	}
	var claim shotClaimPayload
	if err := json.Unmarshal(raw, &claim); err != nil || claim.ClientVerdict == "" {
		return "", false
	}

	var server physics.ShotResult
	switch gameType {
	case "basketball":
		server = physics.SimulateBasketball(matchID, claim.ShotIndex, claim.Shot)
	default:
		server = physics.SimulatePenalty(matchID, claim.ShotIndex, claim.Shot)
	}
	return physics.ValidateShot(server.Verdict, server.Final, claim.ClientVerdict, claim.ClientFinal), true
}

// SubmitGameResult transitions a room from in_progress to validation
// once a claimed result arrives (spec §4.7).
func (m *Manager) SubmitGameResult(ctx context.Context, matchID string) error {
	room, err := m.roomFor(matchID)
	if err != nil {
		return err
	}
	return lock.WithLock(ctx, m.locks, "room:"+matchID, m.cfg.RoomLockTTL, func() error {
		room.mu.Lock()
		defer room.mu.Unlock()
		if !canTransition(room.State, StateValidation) {
			return apperr.New(apperr.KindInvalidTransition, "result not accepted in this state")
		}
		room.State = StateValidation
		if m.sink != nil {
			m.sink.RoomEvent(ctx, room.MatchID, "match_validating", nil)
		}
		return nil
	})
}

// ConfirmValidation moves validation→settlement when the shadow check
// (C5, physics-validated games) or engine log (C6, board games) is
// consistent, else validation→disputed (spec §4.7). consistent carries
// the board engine's own log-replay verdict for board games; for
// physics games it is ignored in favour of the room's accumulated
// shot-by-shot shadow-validation outcomes.
func (m *Manager) ConfirmValidation(ctx context.Context, matchID string, consistent bool) error {
	room, err := m.roomFor(matchID)
	if err != nil {
		return err
	}
	return lock.WithLock(ctx, m.locks, "room:"+matchID, m.cfg.RoomLockTTL, func() error {
		room.mu.Lock()
		defer room.mu.Unlock()
		if room.State != StateValidation {
			return apperr.New(apperr.KindInvalidTransition, "room not in validation")
		}

		ok := consistent
		if !isBoardGame(room.GameType) {
			ok = true
			for _, outcome := range room.ShotOutcomes {
				if outcome.RequiresReview() {
					ok = false
					break
				}
			}
		}
		if !ok {
			room.State = StateDisputed
			return nil
		}
		room.State = StateSettlement
		return nil
	})
}

// Settle commits the ledger settlement for a two-party room and
// transitions settlement→completed; on ledger failure the room stays in
// settlement for retry (spec §4.7, §7).
//
// Only head-to-head (winner, single loser) settlement is wired; a room
// with more than two players ranks finishers via the board engine but
// its multi-party payout is not yet connected to C1.
func (m *Manager) Settle(ctx context.Context, matchID, winnerID, loserID string) (*ledger.SettlementEntry, error) {
	room, err := m.roomFor(matchID)
	if err != nil {
		return nil, err
	}
	room.mu.Lock()
	if room.State != StateSettlement {
		room.mu.Unlock()
		return nil, apperr.New(apperr.KindInvalidTransition, "room not ready for settlement")
	}
	numPlayers := len(room.Players)
	room.mu.Unlock()

	entry, err := m.ledger.SettleMatch(ctx, matchID, winnerID, loserID, room.BetAmount, numPlayers)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	room.State = StateCompleted
	room.LedgerEntryID = entry.ID
	room.mu.Unlock()

	if m.sink != nil {
		m.sink.RoomEvent(ctx, matchID, "game_over", map[string]any{
			"winner":           winnerID,
			"prize":            entry.CreditAmount.String(),
			"fee":              entry.RakeAmount.String(),
			"ledger_entry":     entry.ID,
			"treasury_summary": m.ledger.TreasuryBalance().String(),
		})
	}
	return entry, nil
}

// HandleDisconnect marks a player disconnected and starts the
// reconnection grace timer, extending it when C4 classifies the drop
// as a mass_outage rather than one player's own connection trouble
// (spec §4.7 "Reconnection").
func (m *Manager) HandleDisconnect(ctx context.Context, matchID, accountID string, class jitter.DisconnectClass) {
	room, err := m.roomFor(matchID)
	if err != nil {
		return
	}
	room.mu.Lock()
	if room.State != StateLocked && room.State != StateInProgress {
		room.mu.Unlock()
		return
	}
	p := room.player(accountID)
	if p == nil {
		room.mu.Unlock()
		return
	}
	p.IsConnected = false
	grace := m.cfg.ReconnectGrace
	if class == jitter.DisconnectMassOutage {
		grace *= 2
	}
	if p.disconnectTimer != nil {
		p.disconnectTimer.Stop()
	}
	p.disconnectTimer = time.AfterFunc(grace, func() {
		m.forfeitOnTimeout(ctx, matchID, accountID)
	})
	room.mu.Unlock()

	if m.sink != nil {
		m.sink.RoomEvent(ctx, matchID, "player_disconnected", map[string]any{
			"account_id":        accountID,
			"grace_period":      grace.String(),
			"disconnect_class":  string(class),
			"recommended_action": jitter.ActionFor(class),
		})
	}
}

// HandleAccountDisconnect implements gateway.DisconnectFunc: it
// resolves the account's tracked room, derives the fraction of that
// room's players currently disconnected, runs C4's disconnect
// classification, and delegates to HandleDisconnect.
func (m *Manager) HandleAccountDisconnect(accountID string, flagged bool, recentSpikes int) {
	m.roomsMu.Lock()
	matchID, ok := m.accountRooms[accountID]
	m.roomsMu.Unlock()
	if !ok {
		return
	}
	room, err := m.roomFor(matchID)
	if err != nil {
		return
	}

	room.mu.Lock()
	disconnected := 1 // this account is about to be marked disconnected
	for _, p := range room.Players {
		if p.AccountID != accountID && !p.IsConnected {
			disconnected++
		}
	}
	total := len(room.Players)
	room.mu.Unlock()

	fraction := 0.0
	if total > 0 {
		fraction = float64(disconnected) / float64(total)
	}
	class := jitter.ClassifyDisconnect(flagged, recentSpikes, fraction)
	m.HandleDisconnect(context.Background(), matchID, accountID, class)
}

// HandleAccountReconnect implements gateway.ReconnectFunc: it resolves
// the account's tracked room and clears its pending disconnect timer.
func (m *Manager) HandleAccountReconnect(accountID string) {
	m.roomsMu.Lock()
	matchID, ok := m.accountRooms[accountID]
	m.roomsMu.Unlock()
	if !ok {
		return
	}
	_ = m.HandleReconnect(matchID, accountID)
}

// HandleReconnect restores a disconnected player's session within the
// grace window (spec §4.7).
func (m *Manager) HandleReconnect(matchID, accountID string) error {
	room, err := m.roomFor(matchID)
	if err != nil {
		return err
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	p := room.player(accountID)
	if p == nil {
		return apperr.New(apperr.KindInvalidTransition, "not a room member")
	}
	if p.disconnectTimer != nil {
		p.disconnectTimer.Stop()
		p.disconnectTimer = nil
	}
	p.IsConnected = true
	return nil
}

func (m *Manager) forfeitOnTimeout(ctx context.Context, matchID, accountID string) {
	room, err := m.roomFor(matchID)
	if err != nil {
		return
	}
	room.mu.Lock()
	p := room.player(accountID)
	if p == nil || p.IsConnected {
		room.mu.Unlock()
		return
	}
	var winnerID string
	for _, other := range room.Players {
		if other.AccountID != accountID {
			winnerID = other.AccountID
			break
		}
	}
	room.State = StateSettlement
	room.mu.Unlock()

	if winnerID != "" {
		_, _ = m.Settle(ctx, matchID, winnerID, accountID)
	}
}

// Standings returns current rankings for a known match id, or nil if
// unknown.
func (m *Manager) Standings(matchID string) []string {
	room, err := m.roomFor(matchID)
	if err != nil || room.Game == nil {
		return nil
	}
	return room.Game.Standings()
}

// sortAccountIDs returns a sorted copy of ids, a deterministic ordering
// of account pairs (spec §4.1/§5 lock ordering). Nothing in this package
// calls it.
func sortAccountIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
