package contracts

import (
	"encoding/json"
	"time"
)

// Routing keys on the saga exchange, one per continuation step.
const (
	EventAuthorizeRequested = "purchase.authorize"
	EventAuthzResult        = "purchase.authz_result"
	EventTransferRequested  = "purchase.transfer"
	EventTransferResult     = "purchase.transfer_result"
)

// CallResult is one asynchronous result slot: whether the prior remote
// call completed, and its raw payload when it did. Every continuation
// expects exactly one slot.
type CallResult struct {
	Succeeded bool            `json:"succeeded"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type AuthorizeRequested struct {
	EventID     string    `json:"event_id"`
	PurchaseID  string    `json:"purchase_id"`
	Buyer       string    `json:"buyer"`
	Shipping    string    `json:"shipping"`
	Option      string    `json:"option"`
	RequestedAt time.Time `json:"requested_at"`
}

type AuthzResult struct {
	EventID     string       `json:"event_id"`
	PurchaseID  string       `json:"purchase_id"`
	Buyer       string       `json:"buyer"`
	Shipping    string       `json:"shipping"`
	Option      string       `json:"option"`
	Results     []CallResult `json:"results"`
	CompletedAt time.Time    `json:"completed_at"`
}

type TransferRequested struct {
	EventID     string    `json:"event_id"`
	PurchaseID  string    `json:"purchase_id"`
	Buyer       string    `json:"buyer"`
	Shipping    string    `json:"shipping"`
	Option      string    `json:"option"`
	Payee       string    `json:"payee"`
	Amount      int64     `json:"amount"`
	RequestedAt time.Time `json:"requested_at"`
}

type TransferResult struct {
	EventID     string       `json:"event_id"`
	PurchaseID  string       `json:"purchase_id"`
	Buyer       string       `json:"buyer"`
	Shipping    string       `json:"shipping"`
	Option      string       `json:"option"`
	Results     []CallResult `json:"results"`
	CompletedAt time.Time    `json:"completed_at"`
}
