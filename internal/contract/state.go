package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coldyjudgy/ggb-smart-contracts/internal/access"
)

var (
	ErrNotInitialized     = errors.New("contract not initialized")
	ErrAlreadyInitialized = errors.New("contract already initialized")
)

// State is the fixed purchase configuration: who gets paid and how much.
// Written exactly once at deployment, immutable afterwards.
type State struct {
	OrganizerID   string
	Price         int64
	InitializedAt time.Time
}

type Store struct {
	pool   *pgxpool.Pool
	policy access.Policy
}

func NewStore(pool *pgxpool.Pool, policy access.Policy) *Store {
	return &Store{pool: pool, policy: policy}
}

// Initialize writes the contract state. Only the deployment itself may
// invoke it, and a second invocation is rejected.
func (s *Store) Initialize(ctx context.Context, caller, organizerID string, price int64) error {
	if err := s.policy.RequireSelf(caller); err != nil {
		return err
	}
	if organizerID == "" {
		return fmt.Errorf("organizer id must not be empty")
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive")
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO contract_state (id, organizer_id, price, initialized_at)
		VALUES (TRUE, $1, $2, NOW())
		ON CONFLICT (id) DO NOTHING`,
		organizerID, price,
	)
	if err != nil {
		return fmt.Errorf("insert contract state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyInitialized
	}
	return nil
}

func (s *Store) Get(ctx context.Context) (*State, error) {
	var st State
	err := s.pool.QueryRow(ctx, `
		SELECT organizer_id, price, initialized_at
		FROM contract_state
		WHERE id = TRUE`,
	).Scan(&st.OrganizerID, &st.Price, &st.InitializedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("get contract state: %w", err)
	}
	return &st, nil
}
