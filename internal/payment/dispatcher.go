package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrAccountMissing    = errors.New("account missing")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Dispatcher moves value between accounts. It does no authorization of
// its own; by the time it runs, the whitelist check has already passed.
type Dispatcher struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewDispatcher(pool *pgxpool.Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{pool: pool, logger: logger}
}

// Transfer debits `from` and credits `to` in one transaction, recording
// both sides in the ledger. There is no reservation: the payer balance
// is shared mutable state and is only checked at transfer time.
func (d *Dispatcher) Transfer(ctx context.Context, purchaseID uuid.UUID, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `
		SELECT balance
		FROM accounts
		WHERE account_id = $1
		FOR UPDATE`,
		from,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("payer %q: %w", from, ErrAccountMissing)
		}
		return fmt.Errorf("select balance: %w", err)
	}
	if balance < amount {
		return fmt.Errorf("payer %q has %d, needs %d: %w", from, balance, amount, ErrInsufficientFunds)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = balance - $2, updated_at = NOW()
		WHERE account_id = $1`,
		from, amount,
	); err != nil {
		return fmt.Errorf("debit payer: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE account_id = $1`,
		to, amount,
	)
	if err != nil {
		return fmt.Errorf("credit payee: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payee %q: %w", to, ErrAccountMissing)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO account_transactions (id, account_id, purchase_id, amount, kind)
		VALUES ($1, $2, $3, $4, 'debit'), ($5, $6, $3, $4, 'credit')`,
		uuid.New(), from, purchaseID, amount, uuid.New(), to,
	); err != nil {
		return fmt.Errorf("insert ledger entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	d.logger.Info("transfer completed", "purchase_id", purchaseID, "from", from, "to", to, "amount", amount)
	return nil
}
