package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/coldyjudgy/ggb-smart-contracts/internal/access"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/account"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/purchase"
	"github.com/coldyjudgy/ggb-smart-contracts/internal/record"
)

// PurchaseService is the orchestrator surface the API exposes.
type PurchaseService interface {
	Buy(ctx context.Context, caller, shipping, option string) (*purchase.Purchase, error)
	Get(ctx context.Context, id string) (*purchase.Purchase, error)
	GetOption(ctx context.Context, accountID string) (string, error)
	GetShipping(ctx context.Context, caller, accountID string) (string, error)
}

type AccountService interface {
	Create(ctx context.Context, accountID string) error
	Deposit(ctx context.Context, accountID string, amount int64) (int64, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
}

type Server struct {
	purchases PurchaseService
	accounts  AccountService
	validate  *validator.Validate
	logger    *slog.Logger
	mux       *http.ServeMux
}

func NewServer(purchases PurchaseService, accounts AccountService, logger *slog.Logger) *Server {
	s := &Server{
		purchases: purchases,
		accounts:  accounts,
		validate:  validator.New(),
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /purchases", s.buy)
	s.mux.HandleFunc("GET /purchases/{purchaseID}", s.getPurchase)
	s.mux.HandleFunc("GET /records/{accountID}/option", s.getOption)
	s.mux.HandleFunc("GET /records/{accountID}/shipping", s.getShipping)
	s.mux.HandleFunc("POST /accounts", s.createAccount)
	s.mux.HandleFunc("POST /accounts/{accountID}/deposit", s.deposit)
	s.mux.HandleFunc("GET /accounts/{accountID}/balance", s.balance)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(pattern, handler)
}

type buyRequest struct {
	// Arbitrary strings, passed through the saga unchanged.
	Shipping string `json:"shipping"`
	Option   string `json:"option"`
}

func (s *Server) buy(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := s.purchases.Buy(r.Context(), caller, req.Shipping, req.Option)
	if err != nil {
		s.logger.Error("schedule purchase", "buyer", caller, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"purchase_id": p.ID, "state": p.State})
}

func (s *Server) getPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := s.purchases.Get(r.Context(), r.PathValue("purchaseID"))
	if err != nil {
		if errors.Is(err, purchase.ErrNotFound) {
			writeError(w, http.StatusNotFound, "purchase not found")
			return
		}
		s.logger.Error("get purchase", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getOption(w http.ResponseWriter, r *http.Request) {
	value, err := s.purchases.GetOption(r.Context(), r.PathValue("accountID"))
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no record")
			return
		}
		s.logger.Error("get option", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"option": value})
}

func (s *Server) getShipping(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	value, err := s.purchases.GetShipping(r.Context(), caller, r.PathValue("accountID"))
	if err != nil {
		switch {
		case errors.Is(err, access.ErrForbidden):
			writeError(w, http.StatusForbidden, "forbidden")
		case errors.Is(err, record.ErrNotFound):
			writeError(w, http.StatusNotFound, "no record")
		default:
			s.logger.Error("get shipping", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shipping": value})
}

type createAccountRequest struct {
	AccountID string `json:"account_id" validate:"required"`
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.accounts.Create(r.Context(), req.AccountID); err != nil {
		if errors.Is(err, account.ErrAccountExists) {
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		s.logger.Error("create account", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

type depositRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := s.accounts.Deposit(r.Context(), r.PathValue("accountID"), req.Amount)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.accounts.GetBalance(r.Context(), r.PathValue("accountID"))
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("get balance", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func callerID(r *http.Request) (string, error) {
	value := r.Header.Get("X-Caller-ID")
	if value == "" {
		return "", errors.New("missing X-Caller-ID header")
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
