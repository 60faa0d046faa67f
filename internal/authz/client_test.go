package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCallReturnsRawPayload(t *testing.T) {
	var gotAccount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/is_whitelisted" {
			t.Errorf("path = %s, want /is_whitelisted", r.URL.Path)
		}
		gotAccount = r.URL.Query().Get("account_id")
		w.Write([]byte("true"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	body, err := c.Call(context.Background(), "buyer1")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(body) != "true" {
		t.Fatalf("body = %q, want true", body)
	}
	if gotAccount != "buyer1" {
		t.Fatalf("account_id = %q, want buyer1", gotAccount)
	}
}

func TestCallErrorStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.Call(context.Background(), "buyer1"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestCallUnreachableTargetFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.Call(context.Background(), "buyer1"); err == nil {
		t.Fatal("expected error for unreachable target")
	}
}

func TestCallBudgetExhaustionFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("true"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond)
	if _, err := c.Call(context.Background(), "buyer1"); err == nil {
		t.Fatal("expected error when the call budget is exhausted")
	}
}
