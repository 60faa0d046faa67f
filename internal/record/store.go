package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("no record for account")

// Store keeps the delivery destination and order option per buyer.
// Both values live in one row, so a purchase can never record one
// without the other. A repeat purchase overwrites; no history is kept.
// Read policy is enforced by the orchestrator, not here.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Put(ctx context.Context, accountID, shipping, option string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO purchase_records (account_id, shipping, option, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account_id) DO UPDATE
		SET shipping = EXCLUDED.shipping, option = EXCLUDED.option, updated_at = NOW()`,
		accountID, shipping, option,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *Store) GetOption(ctx context.Context, accountID string) (string, error) {
	return s.getColumn(ctx, "option", accountID)
}

func (s *Store) GetShipping(ctx context.Context, accountID string) (string, error) {
	return s.getColumn(ctx, "shipping", accountID)
}

func (s *Store) getColumn(ctx context.Context, column, accountID string) (string, error) {
	var value string
	query := fmt.Sprintf(`SELECT %s FROM purchase_records WHERE account_id = $1`, column)
	err := s.pool.QueryRow(ctx, query, accountID).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("select %s: %w", column, err)
	}
	return value, nil
}
