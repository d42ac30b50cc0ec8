package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
)

func TestFetchPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization %q", got)
		}
		_, _ = w.Write([]byte(`{"id":123,"status":"approved","external_reference":"charge_42",` +
			`"transaction_amount":150000.5,"date_approved":"2025-03-10T12:30:00.000-03:00"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", time.Second)
	got, err := client.FetchPayment(context.Background(), "123")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.ID != "123" || !got.Approved() || got.ExternalReference != "charge_42" {
		t.Fatalf("unexpected payment %+v", got)
	}
	if !got.TransactionAmount.Equal(decimal.RequireFromString("150000.5")) {
		t.Fatalf("unexpected amount %s", got.TransactionAmount)
	}
	if got.ApprovedAt == nil || !got.ApprovedAt.Equal(time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected approval time %v", got.ApprovedAt)
	}
	if len(got.Raw) == 0 {
		t.Fatalf("expected raw payload to be kept")
	}
}

func TestFetchPaymentErrors(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", time.Second)
	if _, err := client.FetchPayment(context.Background(), "1"); !errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	status = http.StatusInternalServerError
	if _, err := client.FetchPayment(context.Background(), "1"); !errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}

	if _, err := client.FetchPayment(context.Background(), " "); !errors.Is(err, paymentdomain.ErrInvalidPaymentID) {
		t.Fatalf("expected invalid id, got %v", err)
	}

	noToken := NewClient(srv.URL, "", time.Second)
	if _, err := noToken.FetchPayment(context.Background(), "1"); !errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable without token, got %v", err)
	}
}

func TestCreatePreference(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/preferences" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("unexpected authorization %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://mp.test/checkout/pref-1"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", time.Second).
		WithCallbacks("https://api.test/payments/webhook", "https://app.test/ok", "https://app.test/ko")
	pref, err := client.CreatePreference(context.Background(), paymentdomain.PreferenceRequest{
		Title:             "Alquiler Marzo 2025",
		Amount:            decimal.RequireFromString("150000.5"),
		PayerEmail:        "ana@example.com",
		ExternalReference: "charge_42",
	})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.ID != "pref-1" || pref.InitPoint != "https://mp.test/checkout/pref-1" || pref.ExternalReference != "charge_42" {
		t.Fatalf("unexpected preference %+v", pref)
	}

	items, _ := got["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one item, got %v", got["items"])
	}
	item := items[0].(map[string]any)
	if item["title"] != "Alquiler Marzo 2025" || item["quantity"] != float64(1) || item["unit_price"] != 150000.5 {
		t.Fatalf("unexpected item %v", item)
	}
	if got["external_reference"] != "charge_42" || got["notification_url"] != "https://api.test/payments/webhook" {
		t.Fatalf("unexpected references %v", got)
	}
	if got["auto_return"] != "approved" {
		t.Fatalf("expected auto_return approved, got %v", got["auto_return"])
	}
	if payer, _ := got["payer"].(map[string]any); payer["email"] != "ana@example.com" {
		t.Fatalf("unexpected payer %v", got["payer"])
	}
	if back, _ := got["back_urls"].(map[string]any); back["success"] != "https://app.test/ok" || back["failure"] != "https://app.test/ko" {
		t.Fatalf("unexpected back urls %v", got["back_urls"])
	}
}

func TestCreatePreferenceOmitsUnsetCallbacks(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"pref-2","init_point":"https://mp.test/checkout/pref-2"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", time.Second)
	if _, err := client.CreatePreference(context.Background(), paymentdomain.PreferenceRequest{
		Title:             "Upgrade a Plan Premium",
		Amount:            decimal.NewFromInt(15000),
		ExternalReference: "upgrade_7_premium",
	}); err != nil {
		t.Fatalf("create preference: %v", err)
	}
	for _, key := range []string{"payer", "back_urls", "auto_return", "notification_url"} {
		if _, ok := got[key]; ok {
			t.Fatalf("expected %s to be omitted, got %v", key, got[key])
		}
	}
}

func TestCreatePreferenceErrors(t *testing.T) {
	status := http.StatusBadRequest
	body := `{"message":"invalid"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	req := paymentdomain.PreferenceRequest{Title: "x", Amount: decimal.NewFromInt(10), ExternalReference: "charge_1"}
	client := NewClient(srv.URL, "tok", time.Second)
	if _, err := client.CreatePreference(context.Background(), req); !errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable on 400, got %v", err)
	}

	status, body = http.StatusCreated, `{"id":"pref-3"}`
	if _, err := client.CreatePreference(context.Background(), req); !errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable without init_point, got %v", err)
	}

	if _, err := client.CreatePreference(context.Background(), paymentdomain.PreferenceRequest{Amount: decimal.NewFromInt(10)}); !errors.Is(err, paymentdomain.ErrInvalidReference) {
		t.Fatalf("expected invalid reference, got %v", err)
	}
	if _, err := client.CreatePreference(context.Background(), paymentdomain.PreferenceRequest{ExternalReference: "charge_1"}); !errors.Is(err, paymentdomain.ErrAmountMismatch) {
		t.Fatalf("expected amount error, got %v", err)
	}
	if _, err := NewClient(srv.URL, "", time.Second).CreatePreference(context.Background(), req); !errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable without token, got %v", err)
	}
}
