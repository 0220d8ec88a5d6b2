package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/term"

	"github.com/lkarbiter/core/internal/auth"
	"github.com/lkarbiter/core/internal/config"
	"github.com/lkarbiter/core/internal/db"
	"github.com/lkarbiter/core/internal/ledger"
	"github.com/lkarbiter/core/internal/money"
)

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "account":
		accountCmd(os.Args[2:])
	case "gift":
		giftCmd(os.Args[2:])
	case "ledger":
		ledgerCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println(`lkarbiterctl - core arbitration engine operator CLI

Usage:
  lkarbiterctl account open <account_id>                        [-config config.yaml] [-db postgres://...]
  lkarbiterctl account credit <account_id> <amount> [-note "..."] [-config config.yaml] [-db postgres://...]
  lkarbiterctl account set-credential <account_id>               [-config config.yaml] [-db postgres://...]
  lkarbiterctl gift user <account_id> <amount>       [-note "..."] [-config config.yaml] [-db postgres://...]
  lkarbiterctl gift all <amount>                     [-note "..."] [-config config.yaml] [-db postgres://...]
  lkarbiterctl ledger verify                                      [-config config.yaml] [-db postgres://...]

Examples:
  lkarbiterctl account open acc_alice
  lkarbiterctl account credit acc_alice 50 -note "support adjustment"
  lkarbiterctl account set-credential acc_alice
  lkarbiterctl gift all 10 -note "launch promo"
  lkarbiterctl ledger verify`)
}

func accountCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "open":
		accountOpen(args[1:])
	case "credit":
		accountCredit(args[1:])
	case "set-credential":
		accountSetCredential(args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func accountOpen(args []string) {
	fs := flag.NewFlagSet("account open", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	dbOverride := fs.String("db", "", "override database connection URL")
	_ = fs.Parse(reorderArgs(args))

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Println("missing <account_id>")
		os.Exit(2)
	}
	accountID := strings.TrimSpace(rest[0])

	pool := mustPool(*cfgPath, *dbOverride)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	salt := uuid.NewString()
	zero := money.Zero
	hash := ledger.ComputeIntegrityHash(accountID, zero, salt)

	_, err := pool.Exec(ctx, `
		INSERT INTO accounts (id, available, escrow_match, escrow_out, balance_salt, integrity_hash, balance_version, trust_score, is_frozen)
		VALUES ($1, '0.0000', '0.0000', '0.0000', $2, $3, 0, 70, false)
	`, accountID, salt, hash)
	if err != nil {
		log.Fatalf("open account: %v", err)
	}
	fmt.Printf("ok: account opened\n  id: %s\n", accountID)
}

func accountCredit(args []string) {
	fs := flag.NewFlagSet("account credit", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	dbOverride := fs.String("db", "", "override database connection URL")
	note := fs.String("note", "", "optional note, carried as the transaction's match_id column")
	_ = fs.Parse(reorderArgs(args))

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Println("usage: lkarbiterctl account credit <account_id> <amount> [-note \"...\"]")
		os.Exit(2)
	}
	accountID := strings.TrimSpace(rest[0])
	amount, err := money.FromString(rest[1])
	if err != nil || amount.IsNegative() || amount.IsZero() {
		fmt.Println("amount must be a positive decimal")
		os.Exit(2)
	}

	pool := mustPool(*cfgPath, *dbOverride)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := creditAccount(ctx, pool, accountID, amount, *note); err != nil {
		log.Fatalf("credit account: %v", err)
	}
	fmt.Printf("ok: credited %s to %s\n", amount.String(), accountID)
}

// accountSetCredential sets or rotates the WebSocket-handshake password
// hash for an account, mirroring the teacher's interactive
// double-entry password prompt (cmd/bap). The bcrypt hash is stored
// alongside the account row, in the form internal/auth.CheckPassword
// compares against; nothing in this module reads it back.
func accountSetCredential(args []string) {
	fs := flag.NewFlagSet("account set-credential", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	dbOverride := fs.String("db", "", "override database connection URL")
	_ = fs.Parse(reorderArgs(args))

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Println("usage: lkarbiterctl account set-credential <account_id>")
		os.Exit(2)
	}
	accountID := strings.TrimSpace(rest[0])

	pw := promptPassword("Password: ")
	pw2 := promptPassword("Confirm password: ")
	if pw != pw2 {
		fmt.Println("passwords do not match")
		os.Exit(1)
	}
	if len(pw) < 8 {
		fmt.Println("password too short (min 8 chars)")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(pw)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	pool := mustPool(*cfgPath, *dbOverride)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tag, err := pool.Exec(ctx, `UPDATE accounts SET credential_hash = $1 WHERE id = $2`, hash, accountID)
	if err != nil {
		log.Fatalf("set credential: %v", err)
	}
	if tag.RowsAffected() == 0 {
		fmt.Printf("account %q not found; run 'account open' first\n", accountID)
		os.Exit(1)
	}
	fmt.Printf("ok: credential set for %s\n", accountID)
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("read password: %v", err)
	}
	return strings.TrimSpace(string(b))
}

func giftCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "user":
		giftUserCmd(args[1:])
	case "all":
		giftAllCmd(args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func giftUserCmd(args []string) {
	fs := flag.NewFlagSet("gift user", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	dbOverride := fs.String("db", "", "override database connection URL")
	note := fs.String("note", "", "optional note")
	_ = fs.Parse(reorderArgs(args))

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Println("usage: lkarbiterctl gift user <account_id> <amount> [-note \"...\"]")
		os.Exit(2)
	}
	accountID := strings.TrimSpace(rest[0])
	amount, err := money.FromString(rest[1])
	if err != nil || amount.IsNegative() || amount.IsZero() {
		fmt.Println("amount must be a positive decimal")
		os.Exit(2)
	}

	pool := mustPool(*cfgPath, *dbOverride)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := creditAccount(ctx, pool, accountID, amount, *note); err != nil {
		log.Fatalf("gift user: %v", err)
	}
	fmt.Printf("ok: gifted %s to %s\n", amount.String(), accountID)
}

func giftAllCmd(args []string) {
	fs := flag.NewFlagSet("gift all", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	dbOverride := fs.String("db", "", "override database connection URL")
	note := fs.String("note", "", "optional note")
	_ = fs.Parse(reorderArgs(args))

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Println("usage: lkarbiterctl gift all <amount> [-note \"...\"]")
		os.Exit(2)
	}
	amount, err := money.FromString(rest[0])
	if err != nil || amount.IsNegative() || amount.IsZero() {
		fmt.Println("amount must be a positive decimal")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	pool := mustPool(*cfgPath, *dbOverride)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, `SELECT id FROM accounts WHERE id <> $1 AND NOT is_frozen`, cfg.Ledger.TreasuryAccountID)
	if err != nil {
		log.Fatalf("list accounts: %v", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			log.Fatalf("scan account: %v", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := creditAccount(ctx, pool, id, amount, *note); err != nil {
			log.Fatalf("gift all (account %s): %v", id, err)
		}
	}
	fmt.Printf("ok: gifted %s to each of %d account(s)\n", amount.String(), len(ids))
}

func ledgerCmd(args []string) {
	if len(args) < 1 || args[0] != "verify" {
		usage()
		os.Exit(2)
	}
	fs := flag.NewFlagSet("ledger verify", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	dbOverride := fs.String("db", "", "override database connection URL")
	_ = fs.Parse(reorderArgs(args[1:]))

	pool := mustPool(*cfgPath, *dbOverride)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, `SELECT debit_amount, credit_amount, rake_amount, status FROM ledger_entries WHERE status = 'committed'`)
	if err != nil {
		log.Fatalf("query ledger_entries: %v", err)
	}
	defer rows.Close()

	var invalid int
	var total int
	var drift money.Amount
	for rows.Next() {
		var debitS, creditS, rakeS, status string
		if err := rows.Scan(&debitS, &creditS, &rakeS, &status); err != nil {
			log.Fatalf("scan ledger_entries: %v", err)
		}
		total++
		debit, _ := money.FromString(debitS)
		credit, _ := money.FromString(creditS)
		rake, _ := money.FromString(rakeS)
		if !debit.Equal(credit.Add(rake)) {
			invalid++
		}
	}

	if invalid == 0 {
		fmt.Printf("ok: integrity=ok, entries=%d, drift=%s\n", total, drift.String())
	} else {
		fmt.Printf("alert: integrity=alert, entries=%d, invalid=%d\n", total, invalid)
		os.Exit(1)
	}
}

func creditAccount(ctx context.Context, pool *pgxpool.Pool, accountID string, amount money.Amount, note string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var availableS, escrowMatchS, escrowOutS, salt, prevHash string
	var version uint64
	err = tx.QueryRow(ctx, `
		SELECT available, escrow_match, escrow_out, balance_salt, integrity_hash, balance_version
		FROM accounts WHERE id = $1 FOR UPDATE
	`, accountID).Scan(&availableS, &escrowMatchS, &escrowOutS, &salt, &prevHash, &version)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("account %q not found; run 'account open' first", accountID)
	}
	if err != nil {
		return err
	}

	available, err := money.FromString(availableS)
	if err != nil {
		return err
	}
	escrowMatch, _ := money.FromString(escrowMatchS)
	escrowOut, _ := money.FromString(escrowOutS)

	before := available.Add(escrowMatch).Add(escrowOut)
	newAvailable := available.Add(amount)
	after := newAvailable.Add(escrowMatch).Add(escrowOut)
	newHash := ledger.ComputeIntegrityHash(accountID, after, salt)

	var lastTxHash string
	err = tx.QueryRow(ctx, `
		SELECT transaction_hash FROM transactions WHERE account_id = $1 ORDER BY created_at DESC LIMIT 1
	`, accountID).Scan(&lastTxHash)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}

	now := time.Now().UTC()
	txHash := ledger.ComputeTransactionHash(lastTxHash, amount, now, accountID)

	if _, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, account_id, kind, amount, balance_before, balance_after, previous_tx_hash, transaction_hash, match_id, created_at)
		VALUES ($1, $2, 'adjustment', $3, $4, $5, $6, $7, $8, $9)
	`, uuid.NewString(), accountID, amount.String(), before.String(), after.String(), lastTxHash, txHash, note, now); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET available = $1, integrity_hash = $2, balance_version = balance_version + 1
		WHERE id = $3
	`, newAvailable.String(), newHash, accountID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func mustPool(cfgPath, dbOverride string) *pgxpool.Pool {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	url := dbOverride
	if strings.TrimSpace(url) == "" {
		url, err = cfg.Database.AppURL()
		if err != nil {
			log.Fatalf("db url: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return pool
}

// reorderArgs lets flags and positional arguments interleave on the
// command line, matching the way real operators type commands.
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) > 0 && arg != "-" && arg != "--" && arg[0] == '-' {
			flags = append(flags, arg)
			if !strings.Contains(arg, "=") && i+1 < len(args) && (len(args[i+1]) == 0 || args[i+1][0] != '-') {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}
