package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo persists saga instances and their scheduled continuations. Every
// mutation that consumes a delivery dedups it through the inbox and, in
// the same transaction, appends any follow-up event to the outbox.
type Repo interface {
	Create(ctx context.Context, p *Purchase, evt Event) error
	Emit(ctx context.Context, inEventID, inEventType string, evt Event) (bool, error)
	Append(ctx context.Context, evt Event) error
	Transition(ctx context.Context, inEventID, inEventType, purchaseID string, from, to State, reason string, evt *Event) (bool, error)
	Seen(ctx context.Context, eventID string) (bool, error)
	Get(ctx context.Context, id string) (*Purchase, error)
}

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

func (r *PostgresRepo) Create(ctx context.Context, p *Purchase, evt Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO purchases (id, buyer, shipping, option, state, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '', $6, $6)`,
		p.ID, p.Buyer, p.Shipping, p.Option, p.State, p.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}

	if err := insertOutbox(ctx, tx, evt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Emit appends evt to the outbox, deduplicating on the consumed event
// id. Returns false when the delivery was already handled.
func (r *PostgresRepo) Emit(ctx context.Context, inEventID, inEventType string, evt Event) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	handled, err := insertInbox(ctx, tx, inEventID, inEventType)
	if err != nil || !handled {
		return false, err
	}

	if err := insertOutbox(ctx, tx, evt); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// Append schedules a continuation without consuming a delivery. Used
// after a side effect whose triggering event was already deduped.
func (r *PostgresRepo) Append(ctx context.Context, evt Event) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO purchase_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		evt.ID, evt.Type, evt.Payload,
	); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

// Transition moves a purchase from one state to another, optionally
// scheduling the next continuation, all in one transaction. Returns
// false when the delivery was already handled.
func (r *PostgresRepo) Transition(ctx context.Context, inEventID, inEventType, purchaseID string, from, to State, reason string, evt *Event) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	handled, err := insertInbox(ctx, tx, inEventID, inEventType)
	if err != nil || !handled {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE purchases
		SET state = $3, reason = $4, updated_at = NOW()
		WHERE id = $1 AND state = $2`,
		purchaseID, from, to, reason,
	)
	if err != nil {
		return false, fmt.Errorf("update purchase state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, fmt.Errorf("purchase %s not in state %s: %w", purchaseID, from, ErrNotFound)
	}

	if evt != nil {
		if err := insertOutbox(ctx, tx, *evt); err != nil {
			return false, err
		}
	}

	return true, tx.Commit(ctx)
}

func (r *PostgresRepo) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM purchase_inbox WHERE event_id = $1)`,
		eventID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check inbox: %w", err)
	}
	return seen, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Purchase, error) {
	var p Purchase
	err := r.pool.QueryRow(ctx, `
		SELECT id, buyer, shipping, option, state, reason, created_at, updated_at
		FROM purchases
		WHERE id = $1`, id,
	).Scan(&p.ID, &p.Buyer, &p.Shipping, &p.Option, &p.State, &p.Reason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return &p, nil
}

func insertInbox(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO purchase_inbox (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("insert inbox: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, evt Event) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO purchase_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		evt.ID, evt.Type, evt.Payload,
	); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
