package purchase

import (
	"errors"
	"time"
)

type State string

const (
	StateAuthorizing State = "authorizing"
	StateAuthorized  State = "authorized"
	StatePaying      State = "paying"
	StateRecorded    State = "recorded"
	StateFailed      State = "failed"
)

// Failure reasons recorded on a failed purchase. Every failure is
// terminal; the buyer starts over from scratch.
const (
	ReasonCallFailed    = "call_failed"
	ReasonUnauthorized  = "unauthorized"
	ReasonPaymentFailed = "payment_failed"
)

var (
	ErrNotFound = errors.New("purchase not found")

	// ErrResultCount signals a wrong number of result slots on a
	// continuation. That is an integration bug, not a business
	// condition, and the message must not be retried.
	ErrResultCount = errors.New("expected exactly one call result")
)

// Purchase is one persisted saga instance. The state column makes a
// payment that never reached the record step detectable after the fact.
type Purchase struct {
	ID        string    `json:"id"`
	Buyer     string    `json:"buyer"`
	Shipping  string    `json:"shipping"`
	Option    string    `json:"option"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is an outbox envelope scheduled as the continuation of the
// current step.
type Event struct {
	ID      string
	Type    string
	Payload []byte
}
