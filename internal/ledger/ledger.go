// Package ledger implements the triple-entry ledger and per-account
// balance engine (spec §3, §4.1, §7, §8 items 1-5). Accounts and
// transactions are held in an authoritative in-process map guarded by
// per-account locks (spec §9: "a per-key lock map is sufficient within
// one process"), with an optional Store for durable persistence.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lkarbiter/core/internal/apperr"
	"github.com/lkarbiter/core/internal/money"
)

// TxKind enumerates the transaction kinds carried on an account's hash
// chain (spec §3 Transaction).
type TxKind string

const (
	TxDeposit       TxKind = "deposit"
	TxWithdrawal    TxKind = "withdrawal"
	TxEscrowLock    TxKind = "escrow_lock"
	TxEscrowRelease TxKind = "escrow_release"
	TxPrizeCredit   TxKind = "prize_credit"
	TxSystemFee     TxKind = "system_fee"
	TxRollback      TxKind = "rollback"
	TxAdjustment    TxKind = "adjustment"
)

// TrustLevel is the categorical bucket derived from TrustScore.
type TrustLevel string

const (
	TrustGreen  TrustLevel = "green"
	TrustYellow TrustLevel = "yellow"
	TrustRed    TrustLevel = "red"
)

// Account is the per-user balance record (spec §3).
type Account struct {
	ID             string
	Available      money.Amount
	EscrowMatch    money.Amount
	EscrowOut      money.Amount
	BalanceSalt    string
	IntegrityHash  string
	BalanceVersion uint64
	TrustScore     int
	Frozen         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Total returns available + escrow_match + escrow_out.
func (a *Account) Total() money.Amount {
	return a.Available.Add(a.EscrowMatch).Add(a.EscrowOut)
}

// TrustLevel buckets TrustScore into {green,yellow,red}.
func (a *Account) TrustLevel() TrustLevel {
	switch {
	case a.TrustScore >= 70:
		return TrustGreen
	case a.TrustScore >= 30:
		return TrustYellow
	default:
		return TrustRed
	}
}

func computeIntegrityHash(accountID string, total money.Amount, salt string) string {
	h := sha256.New()
	h.Write([]byte(accountID))
	h.Write([]byte(total.String()))
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeIntegrityHash exposes the account integrity-hash formula for
// out-of-process writers (internal/store, cmd/lkarbiterctl) that build
// rows without going through an Engine.
func ComputeIntegrityHash(accountID string, total money.Amount, salt string) string {
	return computeIntegrityHash(accountID, total, salt)
}

// ComputeTransactionHash exposes the transaction hash-chain formula for
// out-of-process writers (internal/store, cmd/lkarbiterctl).
func ComputeTransactionHash(previous string, amount money.Amount, createdAt time.Time, accountID string) string {
	return computeTxHash(previous, amount, createdAt, accountID)
}

func (a *Account) recomputeIntegrityHash() string {
	return computeIntegrityHash(a.ID, a.Total(), a.BalanceSalt)
}

// VerifyIntegrity reports whether the stored hash matches the
// recomputed one (spec §8 invariant 1).
func (a *Account) VerifyIntegrity() bool {
	return a.IntegrityHash == a.recomputeIntegrityHash()
}

// Transaction is one append-only, hash-chained ledger record (spec §3).
type Transaction struct {
	ID              string
	AccountID       string
	Kind            TxKind
	Amount          money.Amount
	BalanceBefore   money.Amount
	BalanceAfter    money.Amount
	PreviousTxHash  string
	TransactionHash string
	MatchID         string
	CreatedAt       time.Time
}

func computeTxHash(previous string, amount money.Amount, createdAt time.Time, accountID string) string {
	h := sha256.New()
	h.Write([]byte(previous))
	h.Write([]byte(amount.String()))
	h.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(accountID))
	return hex.EncodeToString(h.Sum(nil))
}

// EntryStatus is the lifecycle of a settlement record (spec §3
// LedgerEntry).
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryCommitted  EntryStatus = "committed"
	EntryRolledBack EntryStatus = "rolled_back"
)

// SettlementEntry is the triple-entry record for one match liquidation
// (spec §3 LedgerEntry).
type SettlementEntry struct {
	ID           string
	MatchID      string
	LoserID      string
	WinnerID     string
	Treasury     string
	DebitAmount  money.Amount
	CreditAmount money.Amount
	RakeAmount   money.Amount
	Status       EntryStatus
	CreatedAt    time.Time
}

// Balanced reports debit = credit + rake (spec §3 invariant).
func (e *SettlementEntry) Balanced() bool {
	return e.DebitAmount.Equal(e.CreditAmount.Add(e.RakeAmount))
}

// CommissionTier describes one rake bracket (spec §6).
type CommissionTier struct {
	ID    int
	Name  string
	Min   int64
	Max   int64 // 0 means unbounded
	Rate  decimal.Decimal
}

// DefaultTiers is the commission schedule from spec §4.1/§6.
var DefaultTiers = []CommissionTier{
	{ID: 1, Name: "seed", Min: 1, Max: 10, Rate: decimal.NewFromFloat(0.08)},
	{ID: 2, Name: "competitor", Min: 11, Max: 50, Rate: decimal.NewFromFloat(0.06)},
	{ID: 3, Name: "pro", Min: 51, Max: 0, Rate: decimal.NewFromFloat(0.05)},
}

// TierFor returns the commission tier for a bet size (tokens).
func TierFor(bet int64) CommissionTier {
	for _, t := range DefaultTiers {
		if bet >= t.Min && (t.Max == 0 || bet <= t.Max) {
			return t
		}
	}
	return DefaultTiers[len(DefaultTiers)-1]
}

const TreasuryAccountID = "LK_TREASURY"

type accountLock struct {
	mu sync.Mutex
}

// Engine is the ledger's concurrency-safe mutation surface.
type Engine struct {
	mu           sync.RWMutex
	accounts     map[string]*Account
	chainTips    map[string]string // accountID -> last transaction hash
	txLog        map[string][]*Transaction
	locks        map[string]*accountLock
	entries      map[string]*SettlementEntry
	store        Store
	publisher    EventPublisher
}

// Store is the optional durable-persistence hook (spec §1 non-goal:
// "persistent store choice" is an external collaborator; this is the
// interface it must satisfy).
type Store interface {
	SaveAccount(ctx context.Context, a *Account) error
	AppendTransaction(ctx context.Context, tx *Transaction) error
	SaveSettlement(ctx context.Context, e *SettlementEntry) error
}

// EventPublisher is notified of committed settlements (wired to
// internal/events/broker in production).
type EventPublisher interface {
	PublishSettlement(ctx context.Context, e *SettlementEntry)
}

// NoopPublisher drops all events.
type NoopPublisher struct{}

func (NoopPublisher) PublishSettlement(context.Context, *SettlementEntry) {}

// NewEngine constructs an empty ledger. store/publisher may be nil to
// use in-memory-only behavior with no side effects.
func NewEngine(store Store, publisher EventPublisher) *Engine {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Engine{
		accounts:  make(map[string]*Account),
		chainTips: make(map[string]string),
		txLog:     make(map[string][]*Transaction),
		locks:     make(map[string]*accountLock),
		entries:   make(map[string]*SettlementEntry),
		store:     store,
		publisher: publisher,
	}
}

func (e *Engine) lockFor(accountID string) *accountLock {
	e.mu.Lock()
	l, ok := e.locks[accountID]
	if !ok {
		l = &accountLock{}
		e.locks[accountID] = l
	}
	e.mu.Unlock()
	return l
}

// OpenAccount registers a new account with zero balances.
func (e *Engine) OpenAccount(id string) *Account {
	salt := uuid.NewString()
	a := &Account{
		ID:          id,
		BalanceSalt: salt,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
		TrustScore:  70,
	}
	a.IntegrityHash = a.recomputeIntegrityHash()
	e.mu.Lock()
	e.accounts[id] = a
	e.mu.Unlock()
	return a
}

// RehydrateAccount reconstructs an Account snapshot from durable-store
// fields (internal/store), for engine warm-start after a restart. It
// does not register the account with any Engine; callers insert it via
// OpenAccount's underlying map separately or restore a whole Engine in
// bulk.
func RehydrateAccount(id, availableS, escrowMatchS, escrowOutS, salt, hash string, version uint64, trust int, frozen bool) (*Account, error) {
	available, err := money.FromString(availableS)
	if err != nil {
		return nil, fmt.Errorf("ledger: rehydrate %s available: %w", id, err)
	}
	escrowMatch, err := money.FromString(escrowMatchS)
	if err != nil {
		return nil, fmt.Errorf("ledger: rehydrate %s escrow_match: %w", id, err)
	}
	escrowOut, err := money.FromString(escrowOutS)
	if err != nil {
		return nil, fmt.Errorf("ledger: rehydrate %s escrow_out: %w", id, err)
	}
	return &Account{
		ID:             id,
		Available:      available,
		EscrowMatch:    escrowMatch,
		EscrowOut:      escrowOut,
		BalanceSalt:    salt,
		IntegrityHash:  hash,
		BalanceVersion: version,
		TrustScore:     trust,
		Frozen:         frozen,
	}, nil
}

// Account returns a snapshot copy of the account (never the live
// pointer, so callers cannot mutate state outside the lock).
func (e *Engine) Account(id string) (Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.accounts[id]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

func (e *Engine) mustAccount(id string) (*Account, error) {
	e.mu.RLock()
	a, ok := e.accounts[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ledger: unknown account %q", id)
	}
	return a, nil
}

// checkIntegrity verifies the hash, freezing the account and returning
// apperr.KindIntegrityViolation on mismatch (spec §7).
func (e *Engine) checkIntegrity(a *Account) error {
	if a.Frozen {
		return apperr.ErrAccountFrozen
	}
	if !a.VerifyIntegrity() {
		a.Frozen = true
		return apperr.New(apperr.KindIntegrityViolation, fmt.Sprintf("account %s balance hash mismatch", a.ID))
	}
	return nil
}

// appendTx records one hash-chained transaction. before/after are the
// account's Total() captured by the caller immediately around its
// mutation, since by the time appendTx runs the mutation has already
// happened on a.
func (e *Engine) appendTx(ctx context.Context, a *Account, kind TxKind, signedAmount money.Amount, before, after money.Amount, matchID string) (*Transaction, error) {
	// signedAmount may be negative for debits against a sub-balance;
	// Amount field on the record is always the absolute magnitude.
	abs := signedAmount
	if abs.IsNegative() {
		abs = abs.Neg()
	}
	previous := e.chainTips[a.ID]
	now := time.Now().UTC()
	tx := &Transaction{
		ID:             uuid.NewString(),
		AccountID:      a.ID,
		Kind:           kind,
		Amount:         abs,
		BalanceBefore:  before,
		BalanceAfter:   after,
		PreviousTxHash: previous,
		MatchID:        matchID,
		CreatedAt:      now,
	}
	tx.TransactionHash = computeTxHash(previous, abs, now, a.ID)
	e.chainTips[a.ID] = tx.TransactionHash
	e.txLog[a.ID] = append(e.txLog[a.ID], tx)
	if e.store != nil {
		if err := e.store.AppendTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("ledger: persist tx: %w", err)
		}
	}
	return tx, nil
}

func (e *Engine) persistAccount(ctx context.Context, a *Account) error {
	a.IntegrityHash = a.recomputeIntegrityHash()
	a.BalanceVersion++
	a.UpdatedAt = time.Now().UTC()
	if e.store != nil {
		return e.store.SaveAccount(ctx, a)
	}
	return nil
}

// Credit adds amount to an account's available balance, appending a
// hash-chained transaction (spec §4.1).
func (e *Engine) Credit(ctx context.Context, accountID string, amount money.Amount, kind TxKind, matchID string) (*Transaction, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("ledger: credit amount must be non-negative")
	}
	l := e.lockFor(accountID)
	l.mu.Lock()
	defer l.mu.Unlock()

	a, err := e.mustAccount(accountID)
	if err != nil {
		return nil, err
	}
	if err := e.checkIntegrity(a); err != nil {
		return nil, err
	}

	before := a.Total()
	a.Available = a.Available.Add(amount)
	tx, err := e.appendTx(ctx, a, kind, amount, before, a.Total(), matchID)
	if err != nil {
		return nil, err
	}
	if err := e.persistAccount(ctx, a); err != nil {
		return nil, err
	}
	return tx, nil
}

// Debit subtracts amount from an account's available balance, failing
// with apperr.KindInsufficientFunds if the balance would go negative.
func (e *Engine) Debit(ctx context.Context, accountID string, amount money.Amount, kind TxKind, matchID string) (*Transaction, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("ledger: debit amount must be non-negative")
	}
	l := e.lockFor(accountID)
	l.mu.Lock()
	defer l.mu.Unlock()

	a, err := e.mustAccount(accountID)
	if err != nil {
		return nil, err
	}
	if err := e.checkIntegrity(a); err != nil {
		return nil, err
	}
	if a.Available.Cmp(amount) < 0 {
		return nil, apperr.New(apperr.KindInsufficientFunds, fmt.Sprintf("account %s available balance too low", accountID))
	}

	before := a.Total()
	a.Available = a.Available.Sub(amount)
	tx, err := e.appendTx(ctx, a, kind, amount.Neg(), before, a.Total(), matchID)
	if err != nil {
		return nil, err
	}
	if err := e.persistAccount(ctx, a); err != nil {
		return nil, err
	}
	return tx, nil
}

// LockEscrow moves amount from available to escrow_match for matchID
// (spec §4.1). Fails with apperr.KindInsufficientFunds if unavailable.
func (e *Engine) LockEscrow(ctx context.Context, accountID string, amount money.Amount, matchID string) error {
	l := e.lockFor(accountID)
	l.mu.Lock()
	defer l.mu.Unlock()

	a, err := e.mustAccount(accountID)
	if err != nil {
		return err
	}
	if err := e.checkIntegrity(a); err != nil {
		return err
	}
	if a.Available.Cmp(amount) < 0 {
		return apperr.New(apperr.KindInsufficientFunds, fmt.Sprintf("account %s cannot lock escrow of %s", accountID, amount))
	}

	before := a.Total()
	a.Available = a.Available.Sub(amount)
	a.EscrowMatch = a.EscrowMatch.Add(amount)
	if _, err := e.appendTx(ctx, a, TxEscrowLock, amount.Neg(), before, a.Total(), matchID); err != nil {
		return err
	}
	return e.persistAccount(ctx, a)
}

// ReleaseEscrow moves amount from escrow_match back to available,
// usable either as a refund or to release ownership before a transfer
// (spec §4.1).
func (e *Engine) ReleaseEscrow(ctx context.Context, accountID string, amount money.Amount, matchID string) error {
	l := e.lockFor(accountID)
	l.mu.Lock()
	defer l.mu.Unlock()

	a, err := e.mustAccount(accountID)
	if err != nil {
		return err
	}
	if err := e.checkIntegrity(a); err != nil {
		return err
	}
	if a.EscrowMatch.Cmp(amount) < 0 {
		return apperr.New(apperr.KindInsufficientFunds, fmt.Sprintf("account %s escrow_match smaller than release amount", accountID))
	}

	before := a.Total()
	a.EscrowMatch = a.EscrowMatch.Sub(amount)
	a.Available = a.Available.Add(amount)
	if _, err := e.appendTx(ctx, a, TxEscrowRelease, amount, before, a.Total(), matchID); err != nil {
		return err
	}
	return e.persistAccount(ctx, a)
}

// debitEscrowLocked reduces escrow_match without crediting available,
// used internally by SettleMatch when escrow ownership moves to the
// winner/treasury rather than back to the original holder. The
// account's per-id lock must already be held by the caller.
func (e *Engine) debitEscrowLocked(ctx context.Context, a *Account, amount money.Amount, kind TxKind, matchID string) error {
	if a.EscrowMatch.Cmp(amount) < 0 {
		return apperr.New(apperr.KindInsufficientFunds, fmt.Sprintf("account %s escrow_match underflow", a.ID))
	}
	before := a.Total()
	a.EscrowMatch = a.EscrowMatch.Sub(amount)
	_, err := e.appendTx(ctx, a, kind, amount.Neg(), before, a.Total(), matchID)
	return err
}

// SettleMatch performs the triple-entry settlement described in spec
// §4.1 step 4-5 and §8 invariant 3-5. The winner's, loser's and
// treasury's locks are taken in ascending account-id order to avoid
// deadlock (spec §4.1, §5).
func (e *Engine) SettleMatch(ctx context.Context, matchID, winnerID, loserID string, bet money.Amount, numPlayers int) (*SettlementEntry, error) {
	betTokens := bet.Decimal().IntPart()
	tier := TierFor(betTokens)
	feePerPlayer := bet.Mul(tier.Rate).RoundFee()
	totalPot := bet.Mul(decimal.NewFromInt(int64(numPlayers)))
	totalFee := feePerPlayer.Mul(decimal.NewFromInt(int64(numPlayers)))
	prize := totalPot.Sub(totalFee)

	entry := &SettlementEntry{
		ID:           uuid.NewString(),
		MatchID:      matchID,
		LoserID:      loserID,
		WinnerID:     winnerID,
		Treasury:     TreasuryAccountID,
		DebitAmount:  totalPot,
		CreditAmount: prize,
		RakeAmount:   totalFee,
		Status:       EntryPending,
		CreatedAt:    time.Now().UTC(),
	}
	if !entry.Balanced() {
		return nil, fmt.Errorf("ledger: settlement %s fails balance equation", matchID)
	}

	ids := []string{winnerID, loserID, TreasuryAccountID}
	sort.Strings(ids)
	locksInOrder := make([]*accountLock, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		locksInOrder = append(locksInOrder, e.lockFor(id))
	}
	for _, l := range locksInOrder {
		l.mu.Lock()
	}
	defer func() {
		for i := len(locksInOrder) - 1; i >= 0; i-- {
			locksInOrder[i].mu.Unlock()
		}
	}()

	winner, err := e.mustAccount(winnerID)
	if err != nil {
		return nil, err
	}
	loser, err := e.mustAccount(loserID)
	if err != nil {
		return nil, err
	}
	treasury, err := e.mustAccount(TreasuryAccountID)
	if err != nil {
		return nil, err
	}
	if err := e.checkIntegrity(winner); err != nil {
		return e.rollback(ctx, entry, err)
	}
	if err := e.checkIntegrity(loser); err != nil {
		return e.rollback(ctx, entry, err)
	}
	if loser.EscrowMatch.Cmp(bet) < 0 || winner.EscrowMatch.Cmp(bet) < 0 {
		return e.rollback(ctx, entry, apperr.New(apperr.KindInsufficientFunds, fmt.Sprintf("settlement %s: escrow_match below bet", matchID)))
	}

	if err := e.debitEscrowLocked(ctx, loser, bet, TxEscrowRelease, matchID); err != nil {
		return e.rollback(ctx, entry, err)
	}
	if err := e.debitEscrowLocked(ctx, winner, bet, TxEscrowRelease, matchID); err != nil {
		return e.rollback(ctx, entry, err)
	}
	beforePrize := winner.Total()
	winner.Available = winner.Available.Add(prize)
	if _, err := e.appendTx(ctx, winner, TxPrizeCredit, prize, beforePrize, winner.Total(), matchID); err != nil {
		return e.rollback(ctx, entry, err)
	}

	beforeTreasury := treasury.Total()
	treasury.Available = treasury.Available.Add(totalFee)
	if _, err := e.appendTx(ctx, treasury, TxSystemFee, totalFee, beforeTreasury, treasury.Total(), matchID); err != nil {
		return e.rollback(ctx, entry, err)
	}

	if err := e.persistAccount(ctx, winner); err != nil {
		return e.rollback(ctx, entry, err)
	}
	if err := e.persistAccount(ctx, loser); err != nil {
		return e.rollback(ctx, entry, err)
	}
	if err := e.persistAccount(ctx, treasury); err != nil {
		return e.rollback(ctx, entry, err)
	}

	entry.Status = EntryCommitted
	e.mu.Lock()
	e.entries[entry.ID] = entry
	e.mu.Unlock()
	if e.store != nil {
		if err := e.store.SaveSettlement(ctx, entry); err != nil {
			return nil, err
		}
	}
	e.publisher.PublishSettlement(ctx, entry)
	return entry, nil
}

// rollback marks the entry rolled_back and leaves escrow untouched for
// retry or manual resolution (spec §4.1 step 5, §7).
func (e *Engine) rollback(ctx context.Context, entry *SettlementEntry, cause error) (*SettlementEntry, error) {
	entry.Status = EntryRolledBack
	e.mu.Lock()
	e.entries[entry.ID] = entry
	e.mu.Unlock()
	return nil, fmt.Errorf("ledger: settlement %s rolled back: %w", entry.MatchID, cause)
}

// TreasuryBalance returns the accumulated rake, read off the treasury's
// own account record (credited via a hash-chained TxSystemFee entry in
// SettleMatch, same as any other account).
func (e *Engine) TreasuryBalance() money.Amount {
	e.mu.RLock()
	a, ok := e.accounts[TreasuryAccountID]
	e.mu.RUnlock()
	if !ok {
		return money.Zero
	}
	return a.Total()
}

// VerificationReport is returned by VerifyLedger (spec §4.1).
type VerificationReport struct {
	Integrity     string // "ok" | "alert"
	Drift         money.Amount
	InvalidEntries []string
}

// VerifyLedger traverses all committed settlement entries, recomputes
// the treasury balance by summing rake, and checks each entry's balance
// equation (spec §4.1, §8 invariant 4).
func (e *Engine) VerifyLedger() VerificationReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sumRake := money.Zero
	var invalid []string
	for id, entry := range e.entries {
		if entry.Status != EntryCommitted {
			continue
		}
		if !entry.Balanced() {
			invalid = append(invalid, id)
			continue
		}
		sumRake = sumRake.Add(entry.RakeAmount)
	}
	treasuryTotal := money.Zero
	if a, ok := e.accounts[TreasuryAccountID]; ok {
		treasuryTotal = a.Total()
	}
	drift := sumRake.Sub(treasuryTotal)
	status := "ok"
	if !drift.IsZero() || len(invalid) > 0 {
		status = "alert"
	}
	return VerificationReport{Integrity: status, Drift: drift, InvalidEntries: invalid}
}

// Transactions returns the hash-chained history for one account,
// oldest first (spec §8 round-trip law verification).
func (e *Engine) Transactions(accountID string) []*Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Transaction, len(e.txLog[accountID]))
	copy(out, e.txLog[accountID])
	return out
}
