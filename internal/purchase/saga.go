package purchase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coldyjudgy/ggb-smart-contracts/internal/access"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/contract"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/contracts"
)

// AuthzCaller issues the remote whitelist call and hands back the raw
// payload; decoding happens in the callback step.
type AuthzCaller interface {
	Call(ctx context.Context, accountID string) ([]byte, error)
}

// Ledger is the payment dispatcher: move amount from payer to payee,
// unconditionally.
type Ledger interface {
	Transfer(ctx context.Context, purchaseID uuid.UUID, from, to string, amount int64) error
}

// RecordStore is the durable buyer-info store written by the final step.
type RecordStore interface {
	Put(ctx context.Context, accountID, shipping, option string) error
	GetOption(ctx context.Context, accountID string) (string, error)
	GetShipping(ctx context.Context, accountID string) (string, error)
}

// ContractSource yields the fixed organizer/price configuration.
type ContractSource interface {
	Get(ctx context.Context) (*contract.State, error)
}

// Broadcaster pushes state changes to watching clients.
type Broadcaster interface {
	BroadcastPurchaseUpdate(purchaseID, state, reason string)
}

// Service drives the purchase saga: authorize, pay, record. Each step
// runs when the previous step's result arrives as a consumed event, and
// schedules the next step through the outbox. Steps other than Buy may
// only be invoked by the contract acting as its own caller.
type Service struct {
	repo    Repo
	records RecordStore
	ledger  Ledger
	authz   AuthzCaller
	state   ContractSource
	policy  access.Policy
	hub     Broadcaster
	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewService(repo Repo, records RecordStore, ledger Ledger, authzClient AuthzCaller, state ContractSource, policy access.Policy, hub Broadcaster, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		records: records,
		ledger:  ledger,
		authz:   authzClient,
		state:   state,
		policy:  policy,
		hub:     hub,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Buy schedules a purchase saga for the calling buyer. The caller only
// learns that the saga was scheduled; the outcome arrives later through
// the status endpoints. Shipping and option are arbitrary strings and
// pass through the chain unchanged.
func (s *Service) Buy(ctx context.Context, caller, shipping, option string) (*Purchase, error) {
	if caller == "" {
		return nil, fmt.Errorf("buyer identity required")
	}
	if _, err := s.state.Get(ctx); err != nil {
		return nil, err
	}

	now := s.nowFunc().UTC()
	p := &Purchase{
		ID:        uuid.NewString(),
		Buyer:     caller,
		Shipping:  shipping,
		Option:    option,
		State:     StateAuthorizing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	evt := contracts.AuthorizeRequested{
		EventID:     uuid.NewString(),
		PurchaseID:  p.ID,
		Buyer:       caller,
		Shipping:    shipping,
		Option:      option,
		RequestedAt: now,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal authorize event: %w", err)
	}

	if err := s.repo.Create(ctx, p, Event{ID: evt.EventID, Type: contracts.EventAuthorizeRequested, Payload: payload}); err != nil {
		return nil, err
	}

	s.logger.Info("purchase scheduled", "purchase_id", p.ID, "buyer", caller)
	s.broadcast(p.ID, StateAuthorizing, "")
	return p, nil
}

// RunAuthorization performs the remote whitelist hop and schedules the
// callback with exactly one result slot, whether the call succeeded or
// not. The remote read is idempotent, so a redelivered trigger only
// repeats the call, never the continuation.
func (s *Service) RunAuthorization(ctx context.Context, caller string, evt contracts.AuthorizeRequested) error {
	if err := s.policy.RequireSelf(caller); err != nil {
		return err
	}

	res := contracts.CallResult{Succeeded: true}
	payload, callErr := s.authz.Call(ctx, evt.Buyer)
	if callErr != nil {
		s.logger.Warn("whitelist call failed", "purchase_id", evt.PurchaseID, "buyer", evt.Buyer, "err", callErr)
		res = contracts.CallResult{Succeeded: false}
	} else {
		res.Payload = payload
	}

	out := contracts.AuthzResult{
		EventID:     uuid.NewString(),
		PurchaseID:  evt.PurchaseID,
		Buyer:       evt.Buyer,
		Shipping:    evt.Shipping,
		Option:      evt.Option,
		Results:     []contracts.CallResult{res},
		CompletedAt: s.nowFunc().UTC(),
	}
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal authz result: %w", err)
	}

	handled, err := s.repo.Emit(ctx, evt.EventID, contracts.EventAuthorizeRequested, Event{ID: out.EventID, Type: contracts.EventAuthzResult, Payload: body})
	if err != nil {
		return err
	}
	if !handled {
		s.logger.Debug("duplicate authorize delivery", "purchase_id", evt.PurchaseID, "event_id", evt.EventID)
	}
	return nil
}

// WhitelistCallback consumes the authorization result. A failed call or
// a payload that does not decode to true fails the saga closed, before
// any money moves. On true it schedules the transfer of the fixed price
// to the organizer. The returned boolean is the decoded payload; it is
// an artifact of the original call chain and nothing consumes it.
func (s *Service) WhitelistCallback(ctx context.Context, caller string, evt contracts.AuthzResult) (bool, error) {
	if err := s.policy.RequireSelf(caller); err != nil {
		return false, err
	}
	if len(evt.Results) != 1 {
		return false, fmt.Errorf("%w: got %d", ErrResultCount, len(evt.Results))
	}

	res := evt.Results[0]
	if !res.Succeeded {
		return false, s.fail(ctx, evt.EventID, contracts.EventAuthzResult, evt.PurchaseID, StateAuthorizing, ReasonCallFailed)
	}

	var allowed bool
	if err := json.Unmarshal(res.Payload, &allowed); err != nil || !allowed {
		return false, s.fail(ctx, evt.EventID, contracts.EventAuthzResult, evt.PurchaseID, StateAuthorizing, ReasonUnauthorized)
	}

	st, err := s.state.Get(ctx)
	if err != nil {
		return false, err
	}

	out := contracts.TransferRequested{
		EventID:     uuid.NewString(),
		PurchaseID:  evt.PurchaseID,
		Buyer:       evt.Buyer,
		Shipping:    evt.Shipping,
		Option:      evt.Option,
		Payee:       st.OrganizerID,
		Amount:      st.Price,
		RequestedAt: s.nowFunc().UTC(),
	}
	body, err := json.Marshal(out)
	if err != nil {
		return false, fmt.Errorf("marshal transfer event: %w", err)
	}

	handled, err := s.repo.Transition(ctx, evt.EventID, contracts.EventAuthzResult, evt.PurchaseID,
		StateAuthorizing, StateAuthorized, "",
		&Event{ID: out.EventID, Type: contracts.EventTransferRequested, Payload: body})
	if err != nil {
		return false, err
	}
	if handled {
		s.broadcast(evt.PurchaseID, StateAuthorized, "")
	}
	return true, nil
}

// ExecuteTransfer moves the price to the organizer and schedules the
// record step with the transfer's result. The paying transition happens
// before the transfer, so a redelivered trigger can never move money
// twice.
func (s *Service) ExecuteTransfer(ctx context.Context, caller string, evt contracts.TransferRequested) error {
	if err := s.policy.RequireSelf(caller); err != nil {
		return err
	}
	purchaseID, err := uuid.Parse(evt.PurchaseID)
	if err != nil {
		return fmt.Errorf("invalid purchase id: %w", err)
	}

	handled, err := s.repo.Transition(ctx, evt.EventID, contracts.EventTransferRequested, evt.PurchaseID,
		StateAuthorized, StatePaying, "", nil)
	if err != nil {
		return err
	}
	if !handled {
		s.logger.Debug("duplicate transfer delivery", "purchase_id", evt.PurchaseID, "event_id", evt.EventID)
		return nil
	}
	s.broadcast(evt.PurchaseID, StatePaying, "")

	res := contracts.CallResult{Succeeded: true}
	if err := s.ledger.Transfer(ctx, purchaseID, s.policy.Self, evt.Payee, evt.Amount); err != nil {
		s.logger.Warn("transfer failed", "purchase_id", evt.PurchaseID, "payee", evt.Payee, "amount", evt.Amount, "err", err)
		res.Succeeded = false
	}

	out := contracts.TransferResult{
		EventID:     uuid.NewString(),
		PurchaseID:  evt.PurchaseID,
		Buyer:       evt.Buyer,
		Shipping:    evt.Shipping,
		Option:      evt.Option,
		Results:     []contracts.CallResult{res},
		CompletedAt: s.nowFunc().UTC(),
	}
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal transfer result: %w", err)
	}
	return s.repo.Append(ctx, Event{ID: out.EventID, Type: contracts.EventTransferResult, Payload: body})
}

// AddInfo writes the buyer's shipping and option once the transfer is
// confirmed. A failed transfer leaves the store untouched. There is no
// compensation: a transfer that succeeded with a record write that does
// not land stays visible as a purchase stuck in paying.
func (s *Service) AddInfo(ctx context.Context, caller string, evt contracts.TransferResult) (bool, error) {
	if err := s.policy.RequireSelf(caller); err != nil {
		return false, err
	}
	if len(evt.Results) != 1 {
		return false, fmt.Errorf("%w: got %d", ErrResultCount, len(evt.Results))
	}

	seen, err := s.repo.Seen(ctx, evt.EventID)
	if err != nil {
		return false, err
	}
	if seen {
		s.logger.Debug("duplicate transfer result delivery", "purchase_id", evt.PurchaseID, "event_id", evt.EventID)
		return false, nil
	}

	if !evt.Results[0].Succeeded {
		return false, s.fail(ctx, evt.EventID, contracts.EventTransferResult, evt.PurchaseID, StatePaying, ReasonPaymentFailed)
	}

	if err := s.records.Put(ctx, evt.Buyer, evt.Shipping, evt.Option); err != nil {
		return false, err
	}

	handled, err := s.repo.Transition(ctx, evt.EventID, contracts.EventTransferResult, evt.PurchaseID,
		StatePaying, StateRecorded, "", nil)
	if err != nil {
		return false, err
	}
	if handled {
		s.logger.Info("purchase recorded", "purchase_id", evt.PurchaseID, "buyer", evt.Buyer)
		s.broadcast(evt.PurchaseID, StateRecorded, "")
	}
	return true, nil
}

// Get reports the persisted saga state for a purchase.
func (s *Service) Get(ctx context.Context, id string) (*Purchase, error) {
	return s.repo.Get(ctx, id)
}

// GetOption is world-readable: any caller may look up any buyer's
// recorded option.
func (s *Service) GetOption(ctx context.Context, accountID string) (string, error) {
	return s.records.GetOption(ctx, accountID)
}

// GetShipping is restricted to the contract acting as its own caller,
// which makes it unreachable for every external party, the organizer
// included. Deliberately kept as specified.
func (s *Service) GetShipping(ctx context.Context, caller, accountID string) (string, error) {
	if err := s.policy.RequireSelf(caller); err != nil {
		return "", err
	}
	return s.records.GetShipping(ctx, accountID)
}

func (s *Service) fail(ctx context.Context, inEventID, inEventType, purchaseID string, from State, reason string) error {
	handled, err := s.repo.Transition(ctx, inEventID, inEventType, purchaseID, from, StateFailed, reason, nil)
	if err != nil {
		return err
	}
	if handled {
		s.logger.Info("purchase failed", "purchase_id", purchaseID, "reason", reason)
		s.broadcast(purchaseID, StateFailed, reason)
	}
	return nil
}

func (s *Service) broadcast(purchaseID string, state State, reason string) {
	if s.hub != nil {
		s.hub.BroadcastPurchaseUpdate(purchaseID, string(state), reason)
	}
}
