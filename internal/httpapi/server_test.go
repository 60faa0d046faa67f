package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coldyjudgy/ggb-smart-contracts/internal/access"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/account"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/purchase"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/record"
)

const selfID = "groupbuy.local"

type fakePurchases struct {
	policy    access.Policy
	purchases map[string]*purchase.Purchase
	options   map[string]string
	shipping  map[string]string
	bought    []string
}

func newFakePurchases() *fakePurchases {
	return &fakePurchases{
		policy:    access.Policy{Self: selfID},
		purchases: map[string]*purchase.Purchase{},
		options:   map[string]string{},
		shipping:  map[string]string{},
	}
}

func (f *fakePurchases) Buy(_ context.Context, caller, shipping, option string) (*purchase.Purchase, error) {
	f.bought = append(f.bought, caller)
	p := &purchase.Purchase{ID: "p-1", Buyer: caller, Shipping: shipping, Option: option, State: purchase.StateAuthorizing}
	f.purchases[p.ID] = p
	return p, nil
}

func (f *fakePurchases) Get(_ context.Context, id string) (*purchase.Purchase, error) {
	p, ok := f.purchases[id]
	if !ok {
		return nil, purchase.ErrNotFound
	}
	return p, nil
}

func (f *fakePurchases) GetOption(_ context.Context, accountID string) (string, error) {
	v, ok := f.options[accountID]
	if !ok {
		return "", record.ErrNotFound
	}
	return v, nil
}

func (f *fakePurchases) GetShipping(_ context.Context, caller, accountID string) (string, error) {
	if err := f.policy.RequireSelf(caller); err != nil {
		return "", err
	}
	v, ok := f.shipping[accountID]
	if !ok {
		return "", record.ErrNotFound
	}
	return v, nil
}

type fakeAccounts struct {
	balances map[string]int64
}

func (f *fakeAccounts) Create(_ context.Context, accountID string) error {
	if _, ok := f.balances[accountID]; ok {
		return account.ErrAccountExists
	}
	f.balances[accountID] = 0
	return nil
}

func (f *fakeAccounts) Deposit(_ context.Context, accountID string, amount int64) (int64, error) {
	if _, ok := f.balances[accountID]; !ok {
		return 0, account.ErrAccountNotFound
	}
	f.balances[accountID] += amount
	return f.balances[accountID], nil
}

func (f *fakeAccounts) GetBalance(_ context.Context, accountID string) (int64, error) {
	b, ok := f.balances[accountID]
	if !ok {
		return 0, account.ErrAccountNotFound
	}
	return b, nil
}

func newTestServer() (*Server, *fakePurchases, *fakeAccounts) {
	purchases := newFakePurchases()
	accounts := &fakeAccounts{balances: map[string]int64{}}
	return NewServer(purchases, accounts, slog.Default()), purchases, accounts
}

func doRequest(srv *Server, method, path, caller, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if caller != "" {
		req.Header.Set("X-Caller-ID", caller)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestBuyReturnsAccepted(t *testing.T) {
	srv, purchases, _ := newTestServer()

	rec := doRequest(srv, http.MethodPost, "/purchases", "buyer1", `{"shipping":"123 Main St","option":"red"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}
	if len(purchases.bought) != 1 || purchases.bought[0] != "buyer1" {
		t.Fatalf("bought = %v, want [buyer1]", purchases.bought)
	}
	if !strings.Contains(rec.Body.String(), "purchase_id") {
		t.Fatalf("body %q missing purchase_id", rec.Body)
	}
}

func TestBuyRequiresCallerHeader(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := doRequest(srv, http.MethodPost, "/purchases", "", `{"shipping":"a","option":"b"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetPurchaseStatus(t *testing.T) {
	srv, purchases, _ := newTestServer()
	purchases.purchases["p-9"] = &purchase.Purchase{ID: "p-9", State: purchase.StateFailed, Reason: purchase.ReasonUnauthorized}

	rec := doRequest(srv, http.MethodGet, "/purchases/p-9", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), purchase.ReasonUnauthorized) {
		t.Fatalf("body %q missing failure reason", rec.Body)
	}

	rec = doRequest(srv, http.MethodGet, "/purchases/missing", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetOptionIsWorldReadable(t *testing.T) {
	srv, purchases, _ := newTestServer()
	purchases.options["buyer1"] = "red"

	// No caller header needed at all.
	rec := doRequest(srv, http.MethodGet, "/records/buyer1/option", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "red") {
		t.Fatalf("body %q missing option", rec.Body)
	}

	rec = doRequest(srv, http.MethodGet, "/records/nobody/option", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown buyer", rec.Code)
	}
}

func TestGetShippingDeniedForExternalCallers(t *testing.T) {
	srv, purchases, _ := newTestServer()
	purchases.shipping["buyer1"] = "123 Main St"

	for _, caller := range []string{"organizer.local", "buyer1", "stranger"} {
		rec := doRequest(srv, http.MethodGet, "/records/buyer1/shipping", caller, "")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("caller %q: status = %d, want 403", caller, rec.Code)
		}
	}

	rec := doRequest(srv, http.MethodGet, "/records/buyer1/shipping", selfID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("self caller: status = %d, want 200", rec.Code)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := doRequest(srv, http.MethodPost, "/accounts", "", `{"account_id":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty account id", rec.Code)
	}

	rec = doRequest(srv, http.MethodPost, "/accounts", "", `{"account_id":"buyer1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	rec = doRequest(srv, http.MethodPost, "/accounts", "", `{"account_id":"buyer1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 for duplicate", rec.Code)
	}
}

func TestDepositValidation(t *testing.T) {
	srv, _, accounts := newTestServer()
	accounts.balances["buyer1"] = 0

	rec := doRequest(srv, http.MethodPost, "/accounts/buyer1/deposit", "", `{"amount":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for non-positive amount", rec.Code)
	}

	rec = doRequest(srv, http.MethodPost, "/accounts/buyer1/deposit", "", `{"amount":700}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if accounts.balances["buyer1"] != 700 {
		t.Fatalf("balance = %d, want 700", accounts.balances["buyer1"])
	}

	rec = doRequest(srv, http.MethodGet, "/accounts/missing/balance", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
