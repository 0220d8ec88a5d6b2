// Package store provides the durable-persistence hook for
// internal/ledger (spec §6 persisted-state layout), adapting the
// teacher's pgxpool connection idiom (internal/db) to the
// accounts/transactions/ledger_entries schema.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lkarbiter/core/internal/ledger"
)

// PostgresStore implements ledger.Store against a pgxpool connection.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New wraps an already-open pool. Schema management (accounts,
// transactions, ledger_entries tables) is the operator's
// responsibility; this package runs no migrations.
func New(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SaveAccount upserts the current balance snapshot and integrity hash
// for one account (spec §3 Account invariant).
func (s *PostgresStore) SaveAccount(ctx context.Context, a *ledger.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, available, escrow_match, escrow_out, balance_salt, integrity_hash, balance_version, trust_score, is_frozen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			available = EXCLUDED.available,
			escrow_match = EXCLUDED.escrow_match,
			escrow_out = EXCLUDED.escrow_out,
			integrity_hash = EXCLUDED.integrity_hash,
			balance_version = EXCLUDED.balance_version,
			trust_score = EXCLUDED.trust_score,
			is_frozen = EXCLUDED.is_frozen
	`, a.ID, a.Available.String(), a.EscrowMatch.String(), a.EscrowOut.String(),
		a.BalanceSalt, a.IntegrityHash, a.BalanceVersion, a.TrustScore, a.Frozen)
	if err != nil {
		return fmt.Errorf("store: save account %s: %w", a.ID, err)
	}
	return nil
}

// AppendTransaction inserts one link of an account's hash chain
// (spec §3 Transaction).
func (s *PostgresStore) AppendTransaction(ctx context.Context, tx *ledger.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, account_id, kind, amount, balance_before, balance_after, previous_tx_hash, transaction_hash, match_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tx.ID, tx.AccountID, string(tx.Kind), tx.Amount.String(), tx.BalanceBefore.String(), tx.BalanceAfter.String(),
		tx.PreviousTxHash, tx.TransactionHash, tx.MatchID, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append transaction %s: %w", tx.ID, err)
	}
	return nil
}

// SaveSettlement persists one triple-entry settlement record
// (spec §3 LedgerEntry).
func (s *PostgresStore) SaveSettlement(ctx context.Context, e *ledger.SettlementEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_entries (id, match_id, loser_id, winner_id, treasury, debit_amount, credit_amount, rake_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
	`, e.ID, e.MatchID, e.LoserID, e.WinnerID, e.Treasury,
		e.DebitAmount.String(), e.CreditAmount.String(), e.RakeAmount.String(), string(e.Status), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save settlement %s: %w", e.MatchID, err)
	}
	return nil
}

// LoadAccount reconstructs an Account snapshot for engine warm-start.
func (s *PostgresStore) LoadAccount(ctx context.Context, id string) (*ledger.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, available, escrow_match, escrow_out, balance_salt, integrity_hash, balance_version, trust_score, is_frozen
		FROM accounts WHERE id = $1
	`, id)

	var (
		accID                               string
		availableS, escrowMatchS, escrowOutS string
		salt, hash                          string
		version                              uint64
		trust                                int
		frozen                               bool
	)
	if err := row.Scan(&accID, &availableS, &escrowMatchS, &escrowOutS, &salt, &hash, &version, &trust, &frozen); err != nil {
		return nil, fmt.Errorf("store: load account %s: %w", id, err)
	}
	return ledger.RehydrateAccount(accID, availableS, escrowMatchS, escrowOutS, salt, hash, version, trust, frozen)
}
