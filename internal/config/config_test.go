package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Price != 500 {
		t.Fatalf("price = %d, want 500", cfg.Price)
	}
	if cfg.CallbackBudget < cfg.CallBudget+BudgetHeadroom {
		t.Fatal("default budgets violate the headroom constraint")
	}
}

func TestLoadRejectsInvertedBudgets(t *testing.T) {
	t.Setenv("GROUPBUY_CALL_BUDGET", "10s")
	t.Setenv("GROUPBUY_CALLBACK_BUDGET", "5s")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when callback budget does not exceed call budget")
	}
}

func TestLoadRejectsInsufficientHeadroom(t *testing.T) {
	t.Setenv("GROUPBUY_CALL_BUDGET", "6s")
	t.Setenv("GROUPBUY_CALLBACK_BUDGET", "7s")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when headroom is under %s", BudgetHeadroom)
	}
}

func TestValidateRejectsEmptyIdentities(t *testing.T) {
	cfg := Config{
		ContractID:     "",
		OrganizerID:    "organizer.local",
		CallBudget:     time.Second,
		CallbackBudget: time.Minute,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty contract id")
	}

	cfg.ContractID = "groupbuy.local"
	cfg.OrganizerID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty organizer id")
	}
}
