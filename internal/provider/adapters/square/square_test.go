package square

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/localcard/localcard/internal/provider/domain"
)

func newClient(t *testing.T, baseURL string) domain.Client {
	t.Helper()
	client, err := NewFactory().NewClient(domain.ClientConfig{
		BaseURL:      baseURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNormalizePayment(t *testing.T) {
	client := newClient(t, "http://unused.invalid")

	raw := domain.RawTransaction(`{
		"id": "pay_1",
		"status": "COMPLETED",
		"created_at": "2026-08-01T10:30:00Z",
		"amount_money": {"amount": 2450, "currency": "USD"},
		"buyer_email_address": "jo@example.com",
		"source_type": "CARD",
		"card_details": {"card": {"card_brand": "VISA", "last_4": "4242"}}
	}`)

	tx, err := client.Normalize("merchant-1", raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if tx.ExternalID != "pay_1" || tx.AmountCents != 2450 || tx.Currency != "USD" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if tx.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if tx.OccurredAt != time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC) {
		t.Fatalf("unexpected timestamp: %v", tx.OccurredAt)
	}
	if tx.Metadata["card_last4"] != "4242" {
		t.Fatalf("expected card metadata, got %+v", tx.Metadata)
	}
}

func TestNormalizeStatusMapping(t *testing.T) {
	client := newClient(t, "http://unused.invalid")

	cases := map[string]domain.TransactionStatus{
		"COMPLETED": domain.TransactionStatusCompleted,
		"APPROVED":  domain.TransactionStatusCompleted,
		"REFUNDED":  domain.TransactionStatusRefunded,
		"CANCELED":  domain.TransactionStatusFailed,
	}
	for status, want := range cases {
		raw := domain.RawTransaction(fmt.Sprintf(
			`{"id":"p","status":%q,"created_at":"2026-08-01T10:00:00Z","amount_money":{"amount":100,"currency":"USD"}}`,
			status,
		))
		tx, err := client.Normalize("merchant-1", raw)
		if err != nil {
			t.Fatalf("normalize %s: %v", status, err)
		}
		if tx.Status != want {
			t.Fatalf("status %s: expected %s, got %s", status, want, tx.Status)
		}
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	client := newClient(t, "http://unused.invalid")

	for name, raw := range map[string]string{
		"missing id":    `{"status":"COMPLETED","created_at":"2026-08-01T10:00:00Z"}`,
		"bad timestamp": `{"id":"p","status":"COMPLETED","created_at":"yesterday"}`,
		"not json":      `<payment/>`,
	} {
		if _, err := client.Normalize("merchant-1", domain.RawTransaction(raw)); !errors.Is(err, domain.ErrInvalidTransaction) {
			t.Fatalf("%s: expected ErrInvalidTransaction, got %v", name, err)
		}
	}
}

func TestListTransactionsQuery(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"payments":[{"id":"pay_1"},{"id":"pay_2"}]}`)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	raws, err := client.ListTransactions(context.Background(), "tok", "loc_1", since)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(raws))
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	wantQuery := "begin_time=2026-08-01T00%3A00%3A00Z&location_id=loc_1"
	if gotPath != "/v2/payments?"+wantQuery {
		t.Fatalf("unexpected request path: %q", gotPath)
	}
}
